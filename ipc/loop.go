package ipc

import (
	"context"
	"sync"
)

// Loop runs posted functions one at a time on the goroutine that calls Run.
type Loop struct {
	queue    chan func()
	stop     chan struct{}
	stopOnce sync.Once
}

// NewLoop creates a loop with the given queue depth.
func NewLoop(depth int) *Loop {
	if depth < 1 {
		depth = 1
	}
	return &Loop{
		queue: make(chan func(), depth),
		stop:  make(chan struct{}),
	}
}

// Post queues fn. It blocks while the queue is full and returns false if
// the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stop:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.stop:
		return false
	}
}

// Run executes queued functions until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case fn := <-l.queue:
			fn()
		}
	}
}

// RunPending executes whatever is queued right now and returns the number
// of functions run. Functions posted while draining are run too.
func (l *Loop) RunPending() int {
	n := 0
	for {
		select {
		case fn := <-l.queue:
			fn()
			n++
		default:
			return n
		}
	}
}

// Stop makes Run return. Pending functions are discarded.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Done is closed once Stop has been called.
func (l *Loop) Done() <-chan struct{} {
	return l.stop
}
