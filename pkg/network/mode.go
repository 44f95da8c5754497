// Package network switches the device between serving its own access point
// and joining an existing network as a station.
package network

import (
	"strings"

	"github.com/charlie0129/tankmon/pkg/config"
)

type Mode int

const (
	AccessPoint Mode = iota
	Station
)

func (m Mode) String() string {
	if m == Station {
		return config.ModeSTA
	}
	return config.ModeAP
}

// Toggle returns the other mode.
func (m Mode) Toggle() Mode {
	if m == Station {
		return AccessPoint
	}
	return Station
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	*m = ParseMode(string(b))
	return nil
}

// ParseMode maps a persisted mode string to a Mode. Anything other than
// "STA" (in any case) is AccessPoint.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), config.ModeSTA) {
		return Station
	}
	return AccessPoint
}
