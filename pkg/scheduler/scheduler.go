// Package scheduler implements a cooperative, fixed-capacity interval
// scheduler. All tasks run on the goroutine that calls Tick; a task that
// blocks delays every other task until it returns.
package scheduler

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the number of task slots a scheduler gets when no
// capacity is given.
const DefaultCapacity = 10

var (
	ErrCapacityExceeded = errors.New("scheduler capacity exceeded")
	ErrInvalidInterval  = errors.New("task interval must be at least 1ms")
	ErrAlreadyStarted   = errors.New("scheduler already started, tasks can only be registered before the first tick")
	ErrNilTask          = errors.New("task cannot be nil")
)

// Task is a unit of periodic work. It takes no arguments and returns
// nothing; any state it needs is bound into the implementation.
type Task interface {
	Run()
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func()

func (f TaskFunc) Run() { f() }

type entry struct {
	name     string
	task     Task
	interval uint64 // ms
	lastFire uint64 // ms since clock start
	fired    uint64
}

// TaskStats is a read-only view of one registered task.
type TaskStats struct {
	Slot     int           `json:"slot"`
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	LastFire uint64        `json:"lastFireMillis"`
	Fired    uint64        `json:"fired"`
}

// Scheduler owns a fixed table of tasks. It is not safe for concurrent use;
// it is meant to be driven by a single loop.
type Scheduler struct {
	clock   Clock
	tasks   []entry
	started bool
}

// New creates a scheduler with the given capacity. A capacity <= 0 means
// DefaultCapacity. A nil clock means the system clock.
func New(capacity int, clock Clock) *Scheduler {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	return &Scheduler{
		clock: clock,
		tasks: make([]entry, 0, capacity),
	}
}

// Register adds a task that fires every interval. It returns the slot index
// of the task. Registration is rejected after the first Tick, when the
// interval is shorter than a millisecond, or when all slots are taken.
func (s *Scheduler) Register(name string, task Task, interval time.Duration) (int, error) {
	if task == nil {
		return -1, ErrNilTask
	}
	if s.started {
		return -1, ErrAlreadyStarted
	}
	ms := uint64(interval / time.Millisecond)
	if interval <= 0 || ms == 0 {
		return -1, ErrInvalidInterval
	}
	if len(s.tasks) == cap(s.tasks) {
		logrus.WithFields(logrus.Fields{
			"task":     name,
			"capacity": cap(s.tasks),
		}).Error("cannot register task, scheduler is full")
		return -1, ErrCapacityExceeded
	}

	s.tasks = append(s.tasks, entry{
		name:     name,
		task:     task,
		interval: ms,
		lastFire: s.clock.Millis(),
	})

	logrus.WithFields(logrus.Fields{
		"task":     name,
		"slot":     len(s.tasks) - 1,
		"interval": interval,
	}).Debug("task registered")

	return len(s.tasks) - 1, nil
}

// Tick runs every task that is due. Each due task fires at most once per
// call, and its last-fire time advances by exactly one interval so that
// late ticks do not accumulate phase drift.
func (s *Scheduler) Tick() {
	s.started = true
	now := s.clock.Millis()
	for i := range s.tasks {
		e := &s.tasks[i]
		if now-e.lastFire >= e.interval {
			e.lastFire += e.interval
			e.fired++
			e.task.Run()
		}
	}
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	return len(s.tasks)
}

// Capacity returns the number of task slots.
func (s *Scheduler) Capacity() int {
	return cap(s.tasks)
}

// Stats returns a snapshot of all registered tasks in slot order.
func (s *Scheduler) Stats() []TaskStats {
	stats := make([]TaskStats, 0, len(s.tasks))
	for i, e := range s.tasks {
		stats = append(stats, TaskStats{
			Slot:     i,
			Name:     e.name,
			Interval: time.Duration(e.interval) * time.Millisecond,
			LastFire: e.lastFire,
			Fired:    e.fired,
		})
	}
	return stats
}
