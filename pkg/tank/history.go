package tank

import (
	"sync"
	"time"
)

// Sample is one recorded reading.
type Sample struct {
	At           time.Time `json:"at"`
	Depth        float64   `json:"depth"`
	VolumeLitres float64   `json:"volume_litres"`
	Percentage   float64   `json:"percentage"`
}

// History keeps the last N samples.
type History struct {
	mu      sync.Mutex
	max     int
	samples []Sample
}

func NewHistory(max int) *History {
	if max < 1 {
		max = 1
	}
	return &History{max: max}
}

// Add records s and returns the gap since the previous sample, or zero if
// this is the first one.
func (h *History) Add(s State, at time.Time) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Strip monotonic clock reading.
	at = at.Round(0)

	var gap time.Duration
	if n := len(h.samples); n > 0 {
		gap = at.Sub(h.samples[n-1].At)
	}

	if len(h.samples) >= h.max {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, Sample{
		At:           at,
		Depth:        s.Depth,
		VolumeLitres: s.VolumeLitres,
		Percentage:   s.Percentage,
	})
	return gap
}

// Since returns the samples recorded at or after t, oldest first.
func (h *History) Since(t time.Time) []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := len(h.samples)
	for i > 0 && !h.samples[i-1].At.Before(t) {
		i--
	}
	return append([]Sample(nil), h.samples[i:]...)
}

// Len returns the number of recorded samples.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.samples)
}
