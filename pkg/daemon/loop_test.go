package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charlie0129/tankmon/pkg/scheduler"
)

func startLoop(t *testing.T, sched *scheduler.Scheduler) (*Loop, func()) {
	t.Helper()
	l := NewLoop(sched, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	return l, func() {
		cancel()
		<-done
	}
}

func TestLoop_DoRunsOnLoop(t *testing.T) {
	clock := scheduler.NewManualClock(0)
	sched := scheduler.New(1, clock)

	// Touched only by the task and by Do, both on the loop goroutine.
	var fired int
	if _, err := sched.Register("count", scheduler.TaskFunc(func() { fired++ }), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	l, stop := startLoop(t, sched)
	defer stop()

	if err := l.Do(context.Background(), func() { clock.Advance(25 * time.Millisecond) }); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		var got int
		if err := l.Do(context.Background(), func() { got = fired }); err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		if got == 2 {
			break
		}
		if got > 2 || time.Now().After(deadline) {
			t.Fatalf("fired = %d, want 2", got)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLoop_PostRuns(t *testing.T) {
	l, stop := startLoop(t, scheduler.New(1, scheduler.NewManualClock(0)))
	defer stop()

	ran := make(chan struct{})
	if err := l.Post(func() { close(ran) }); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("posted function did not run")
	}
}

func TestLoop_PanicDoesNotStopLoop(t *testing.T) {
	l, stop := startLoop(t, scheduler.New(1, scheduler.NewManualClock(0)))
	defer stop()

	_ = l.Post(func() { panic("boom") })

	var ok atomic.Bool
	if err := l.Do(context.Background(), func() { ok.Store(true) }); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !ok.Load() {
		t.Fatal("loop did not run the command after a panic")
	}
}

func TestLoop_Stopped(t *testing.T) {
	l, stop := startLoop(t, scheduler.New(1, scheduler.NewManualClock(0)))
	stop()

	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrLoopStopped) {
		t.Errorf("Do() error = %v, want %v", err, ErrLoopStopped)
	}
	if err := l.Post(func() {}); !errors.Is(err, ErrLoopStopped) {
		t.Errorf("Post() error = %v, want %v", err, ErrLoopStopped)
	}
}

func TestLoop_QueueFull(t *testing.T) {
	// Never started, so nothing drains the queue.
	l := NewLoop(scheduler.New(1, scheduler.NewManualClock(0)), 0)

	for i := 0; i < commandQueueSize; i++ {
		if err := l.Post(func() {}); err != nil {
			t.Fatalf("Post() #%d error = %v", i, err)
		}
	}
	if err := l.Post(func() {}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Post() error = %v, want %v", err, ErrQueueFull)
	}
}

func TestLoop_DoContextCanceled(t *testing.T) {
	l := NewLoop(scheduler.New(1, scheduler.NewManualClock(0)), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	// Queued but never run.
	if err := l.Do(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

// block occupies the loop until the returned func is called.
func block(t *testing.T, l *Loop) func() {
	t.Helper()
	started := make(chan struct{})
	release := make(chan struct{})
	if err := l.Post(func() {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	<-started
	return func() { close(release) }
}

func TestLoop_DoDropsAbandonedCommand(t *testing.T) {
	l, stop := startLoop(t, scheduler.New(1, scheduler.NewManualClock(0)))
	defer stop()

	release := block(t, l)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var ran atomic.Bool
	if err := l.Do(ctx, func() { ran.Store(true) }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do() error = %v, want %v", err, context.DeadlineExceeded)
	}
	release()

	// Commands run in order, so the dropped one has been seen by now.
	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if ran.Load() {
		t.Fatal("command ran after Do reported failure")
	}
}

func TestLoop_DoWaitsForRunningCommand(t *testing.T) {
	l, stop := startLoop(t, scheduler.New(1, scheduler.NewManualClock(0)))
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	var result int
	errc := make(chan error, 1)
	go func() {
		errc <- l.Do(ctx, func() {
			close(started)
			<-release
			result = 42
		})
	}()

	<-started
	cancel()
	select {
	case err := <-errc:
		t.Fatalf("Do() returned %v while its command was running", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	if err := <-errc; err != nil {
		t.Fatalf("Do() error = %v, want nil once the command ran", err)
	}
	if result != 42 {
		t.Errorf("result = %d, want 42", result)
	}
}
