// Package config stores the device's named configuration records.
//
// A Store loads and saves whole records by logical name. Records use
// pointer fields so that a field missing from the persisted document can be
// told apart from a zero value; each record resolves missing fields to a
// documented default. Stores replace records wholesale, so callers that only
// want to change some fields must load, merge and save.
package config

import (
	"errors"
)

// Logical record names.
const (
	NetworkRecord = "network"
	TankRecord    = "tank"
	PinsRecord    = "pins"
	SystemRecord  = "system"
)

// RecordNames lists every record the device knows about.
var RecordNames = []string{NetworkRecord, TankRecord, PinsRecord, SystemRecord}

var (
	// ErrNotFound is returned when a record has never been saved.
	ErrNotFound = errors.New("config record not found")
	// ErrParse is returned when a persisted record cannot be decoded.
	ErrParse = errors.New("config record malformed")
)

// Store loads and persists configuration records by name.
//
// Load decodes the record into v, which must be a pointer. Save encodes v
// and replaces the stored record in a single step: either the whole record
// is written or the previous one is kept.
type Store interface {
	Load(name string, v any) error
	Save(name string, v any) error
}

// IsMissing reports whether err means the record is absent or unreadable,
// which callers recover from by using defaults.
func IsMissing(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrParse)
}
