package scheduler

import (
	"errors"
	"testing"
	"time"
)

func TestSchedulerFiresDriftFree(t *testing.T) {
	tests := []struct {
		name     string
		start    uint64
		interval time.Duration
		run      time.Duration
		step     time.Duration
	}{
		{name: "tick every ms", start: 0, interval: 100 * time.Millisecond, run: 10 * time.Second, step: time.Millisecond},
		{name: "odd step", start: 1234, interval: 250 * time.Millisecond, run: 7 * time.Second, step: 7 * time.Millisecond},
		{name: "step equals interval", start: 50, interval: 40 * time.Millisecond, run: 4 * time.Second, step: 40 * time.Millisecond},
		{name: "run shorter than interval", start: 0, interval: time.Second, run: 999 * time.Millisecond, step: time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewManualClock(tt.start)
			s := New(0, clock)
			count := 0
			if _, err := s.Register("count", TaskFunc(func() { count++ }), tt.interval); err != nil {
				t.Fatalf("Register returned error: %v", err)
			}

			for elapsed := time.Duration(0); elapsed < tt.run; elapsed += tt.step {
				clock.Advance(tt.step)
				s.Tick()
			}

			final := clock.Millis()
			intervalMs := uint64(tt.interval / time.Millisecond)
			want := int((final - tt.start) / intervalMs)
			if count != want {
				t.Fatalf("expected %d fires, got %d", want, count)
			}

			st := s.Stats()[0]
			if st.LastFire != tt.start+uint64(count)*intervalMs {
				t.Fatalf("expected lastFire %d, got %d", tt.start+uint64(count)*intervalMs, st.LastFire)
			}
			if st.Fired != uint64(count) {
				t.Fatalf("expected stats fired %d, got %d", count, st.Fired)
			}
		})
	}
}

func TestSchedulerNoCatchUpBurst(t *testing.T) {
	clock := NewManualClock(0)
	s := New(0, clock)
	count := 0
	if _, err := s.Register("slow", TaskFunc(func() { count++ }), 100*time.Millisecond); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	// A stalled loop: five intervals pass before the next tick.
	clock.Advance(500 * time.Millisecond)
	s.Tick()
	if count != 1 {
		t.Fatalf("expected a single fire after a stall, got %d", count)
	}
	if got := s.Stats()[0].LastFire; got != 100 {
		t.Fatalf("expected lastFire to advance by one interval to 100, got %d", got)
	}

	// Without moving the clock, the backlog is worked off one fire per tick.
	for i := 0; i < 10; i++ {
		s.Tick()
	}
	if count != 5 {
		t.Fatalf("expected backlog to settle at 5 fires, got %d", count)
	}
	if got := s.Stats()[0].LastFire; got != 500 {
		t.Fatalf("expected lastFire 500, got %d", got)
	}
}

func TestSchedulerCapacity(t *testing.T) {
	clock := NewManualClock(0)
	s := New(10, clock)
	counts := make([]int, 10)

	for i := 0; i < 10; i++ {
		i := i
		slot, err := s.Register("task", TaskFunc(func() { counts[i]++ }), 10*time.Millisecond)
		if err != nil {
			t.Fatalf("Register %d returned error: %v", i, err)
		}
		if slot != i {
			t.Fatalf("expected slot %d, got %d", i, slot)
		}
	}

	extra := 0
	_, err := s.Register("eleventh", TaskFunc(func() { extra++ }), 10*time.Millisecond)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if s.Len() != 10 {
		t.Fatalf("expected 10 tasks, got %d", s.Len())
	}

	for i := 0; i < 100; i++ {
		clock.Advance(time.Millisecond)
		s.Tick()
	}

	for i, c := range counts {
		if c != 10 {
			t.Fatalf("task %d: expected 10 fires, got %d", i, c)
		}
	}
	if extra != 0 {
		t.Fatalf("rejected task should never fire, fired %d times", extra)
	}
}

func TestSchedulerRegisterValidation(t *testing.T) {
	s := New(2, NewManualClock(0))

	if _, err := s.Register("zero", TaskFunc(func() {}), 0); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval for zero interval, got %v", err)
	}
	if _, err := s.Register("sub-ms", TaskFunc(func() {}), 500*time.Microsecond); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval for sub-millisecond interval, got %v", err)
	}
	if _, err := s.Register("nil", nil, time.Second); !errors.Is(err, ErrNilTask) {
		t.Fatalf("expected ErrNilTask, got %v", err)
	}
	if _, err := s.Register("ok", TaskFunc(func() {}), time.Second); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	s.Tick()

	if _, err := s.Register("late", TaskFunc(func() {}), time.Second); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

type boundTask struct {
	readings []int
	next     int
}

func (b *boundTask) Run() {
	b.readings = append(b.readings, b.next)
	b.next++
}

func TestSchedulerTaskCarriesOwnState(t *testing.T) {
	clock := NewManualClock(0)
	a, b := &boundTask{}, &boundTask{next: 100}

	s := New(0, clock)
	if _, err := s.Register("a", a, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Register("b", b, 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	// A second scheduler must not share anything with the first.
	other := New(0, NewManualClock(0))
	if other.Len() != 0 {
		t.Fatalf("expected independent scheduler to be empty, got %d tasks", other.Len())
	}

	for i := 0; i < 40; i++ {
		clock.Advance(time.Millisecond)
		s.Tick()
	}

	if len(a.readings) != 4 || a.readings[3] != 3 {
		t.Fatalf("unexpected readings for a: %v", a.readings)
	}
	if len(b.readings) != 2 || b.readings[1] != 101 {
		t.Fatalf("unexpected readings for b: %v", b.readings)
	}
}
