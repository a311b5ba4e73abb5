package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/logging"
)

// ErrLoopRunning is returned by Run when the loop is already running
var ErrLoopRunning = errors.New("event loop already running")

// Loop runs turns one at a time, in the order they were enqueued. Every
// write to the entity store happens inside a turn.
type Loop struct {
	log logging.Logger

	// turn is held while a turn executes
	turn sync.Mutex

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	running bool
	stopped bool
}

func NewLoop(log logging.Logger) *Loop {
	return &Loop{log: log, wake: make(chan struct{}, 1)}
}

// Go enqueues fn without waiting. Once the loop has stopped, fn runs
// immediately on the caller's goroutine, still one turn at a time.
func (l *Loop) Go(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		l.exec(fn)
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs fn as a turn and waits for it. When ctx ends before the turn
// starts, fn is skipped and Do returns ctx.Err(). A turn that has started
// always finishes and Do returns nil. Never call Do from inside a turn.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	var claimed atomic.Bool
	done := make(chan struct{})
	l.Go(func() {
		defer close(done)
		if !claimed.CompareAndSwap(false, true) {
			return
		}
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if claimed.CompareAndSwap(false, true) {
			return ctx.Err()
		}
		<-done
		return nil
	}
}

// Run drains the queue until ctx ends. Turns still queued at that point
// are run before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrLoopRunning
	}
	l.running = true
	l.stopped = false
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		rest := l.queue
		l.queue = nil
		l.running = false
		l.stopped = true
		l.mu.Unlock()
		for _, fn := range rest {
			l.exec(fn)
		}
	}()

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			l.exec(fn)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) exec(fn func()) {
	l.turn.Lock()
	defer l.turn.Unlock()
	defer func() {
		if r := recover(); r != nil {
			l.log.Errorf("❌ [LOOP] turn panicked: %v", r)
		}
	}()
	fn()
}
