// Package sensor reads the distance from the sensor head to the liquid
// surface.
package sensor

import (
	"errors"
	"sync"
)

var (
	ErrTimeout  = errors.New("sensor did not answer in time")
	ErrChecksum = errors.New("sensor frame checksum mismatch")
)

// Sensor returns the latest distance in centimetres.
type Sensor interface {
	ReadDistance() (float64, error)
}

var _ Sensor = &Sim{}

// Sim is a sensor whose reading is set by hand.
type Sim struct {
	mu       sync.Mutex
	distance float64
	err      error
	reads    int
}

func NewSim(distance float64) *Sim {
	return &Sim{distance: distance}
}

func (s *Sim) Set(distance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distance = distance
	s.err = nil
}

// Fail makes every following read return err until the next Set.
func (s *Sim) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Sim) ReadDistance() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return 0, s.err
	}
	return s.distance, nil
}

// Reads returns how many times the sensor was read.
func (s *Sim) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
