package network

import (
	"github.com/charlie0129/tankmon/pkg/radio"
)

type Phase int

const (
	Idle Phase = iota
	Connecting
	Connected
	Exhausted
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Exhausted:
		return "exhausted"
	default:
		return "idle"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts what MarshalText produces. Unknown names are idle.
func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "connecting":
		*p = Connecting
	case "connected":
		*p = Connected
	case "exhausted":
		*p = Exhausted
	default:
		*p = Idle
	}
	return nil
}

// Connector tracks one attempt at joining a network. Each Poll checks the
// radio once; after maxAttempts failed checks the connector gives up.
//
//	Idle -> Connecting -> Connected
//	                   -> Exhausted
type Connector struct {
	radio       radio.Radio
	maxAttempts int

	phase    Phase
	attempts int
}

func NewConnector(r radio.Radio, maxAttempts int) *Connector {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Connector{
		radio:       r,
		maxAttempts: maxAttempts,
	}
}

// Begin starts a new sequence. The radio must already be joining.
func (c *Connector) Begin() {
	c.phase = Connecting
	c.attempts = 0
}

// Reset returns the connector to Idle.
func (c *Connector) Reset() {
	c.phase = Idle
	c.attempts = 0
}

// Poll performs one check while connecting and returns the resulting
// phase. In any other phase it does nothing.
func (c *Connector) Poll() Phase {
	if c.phase != Connecting {
		return c.phase
	}

	c.attempts++
	switch {
	case c.radio.Connected():
		c.phase = Connected
	case c.attempts >= c.maxAttempts:
		c.phase = Exhausted
	}
	return c.phase
}

func (c *Connector) Phase() Phase {
	return c.phase
}

func (c *Connector) Attempts() int {
	return c.attempts
}
