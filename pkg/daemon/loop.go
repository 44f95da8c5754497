package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/tankmon/pkg/scheduler"
)

const (
	commandQueueSize = 32
	// DefaultYield is how long the loop waits between ticks when there is
	// nothing else to do.
	DefaultYield = time.Millisecond
)

var (
	ErrLoopStopped = errors.New("controller loop is not running")
	ErrQueueFull   = errors.New("controller loop command queue is full")
)

// Loop is the single goroutine that owns the scheduler and everything its
// tasks touch. Other goroutines reach that state only through Do and Post,
// whose functions run between ticks.
type Loop struct {
	sched *scheduler.Scheduler
	yield time.Duration

	cmds    chan func()
	stopped chan struct{}
}

func NewLoop(sched *scheduler.Scheduler, yield time.Duration) *Loop {
	if yield <= 0 {
		yield = DefaultYield
	}
	return &Loop{
		sched:   sched,
		yield:   yield,
		cmds:    make(chan func(), commandQueueSize),
		stopped: make(chan struct{}),
	}
}

// Run ticks the scheduler until ctx is done. Queued commands run before
// each tick.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)

	logrus.Debug("controller loop starts")
	ticker := time.NewTicker(l.yield)
	defer ticker.Stop()

	for {
		l.drain()
		l.sched.Tick()

		select {
		case <-ctx.Done():
			logrus.Debug("controller loop stopped")
			return ctx.Err()
		case fn := <-l.cmds:
			l.exec(fn)
		case <-ticker.C:
		}
	}
}

// Command states, see Do.
const (
	cmdQueued int32 = iota
	cmdRunning
	cmdAbandoned
)

// Do runs fn on the loop and waits for it to return. If ctx ends while fn is
// still queued, fn is dropped and Do returns ctx.Err(). Once fn has started,
// Do waits for it regardless of ctx, so a nil error means fn ran and an
// error means it never will.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	var state atomic.Int32
	done := make(chan struct{})
	wrapped := func() {
		if !state.CompareAndSwap(cmdQueued, cmdRunning) {
			return
		}
		defer close(done)
		fn()
	}

	select {
	case l.cmds <- wrapped:
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-l.stopped:
		if state.CompareAndSwap(cmdQueued, cmdAbandoned) {
			return ErrLoopStopped
		}
	case <-ctx.Done():
		if state.CompareAndSwap(cmdQueued, cmdAbandoned) {
			return ctx.Err()
		}
	}
	// Already running; the loop finishes it before anything else.
	<-done
	return nil
}

// Post queues fn without waiting for it.
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.stopped:
		return ErrLoopStopped
	default:
	}

	select {
	case l.cmds <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.cmds:
			l.exec(fn)
		default:
			return
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("controller loop command panicked")
		}
	}()
	fn()
}
