// Package debounce turns bursts of input into a single value emitted after a
// quiet interval.
package debounce

import (
	"context"
	"sync"
	"time"
)

// Debouncer emits the last pushed value once no further value was pushed for
// the configured interval. Every Push supersedes the pending value; a
// superseded value is never emitted.
type Debouncer[T any] struct {
	interval time.Duration
	fn       func(T)

	mu      sync.Mutex
	timer   *time.Timer
	token   uint64
	pending *T
	stopped bool

	// emitMu keeps emissions strictly ordered.
	emitMu sync.Mutex
}

// New creates a Debouncer calling fn with each stabilized value. fn runs on a
// timer goroutine.
func New[T any](interval time.Duration, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{interval: interval, fn: fn}
}

// Push records v as the latest input and restarts the quiet interval.
func (d *Debouncer[T]) Push(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.token++
	token := d.token
	d.pending = &v
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() { d.fire(token) })
}

// Cancel discards the pending value, if any, without emitting it.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

// Flush emits the pending value immediately. It reports whether a value was
// pending.
func (d *Debouncer[T]) Flush() bool {
	d.mu.Lock()
	if d.pending == nil || d.stopped {
		d.mu.Unlock()
		return false
	}
	token := d.token
	d.mu.Unlock()

	return d.fire(token)
}

// Pending reports whether a value is waiting for its quiet interval.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Stop cancels the pending value and ignores every later Push.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.stopped = true
}

func (d *Debouncer[T]) cancelLocked() {
	d.token++
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer[T]) fire(token uint64) bool {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	d.mu.Lock()
	if token != d.token || d.pending == nil || d.stopped {
		d.mu.Unlock()
		return false
	}
	v := *d.pending
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if d.fn != nil {
		d.fn(v)
	}
	return true
}

// Stream debounces values read from in and writes the stabilized ones to the
// returned channel. The output is closed once in is closed or ctx is done; a
// value still pending at that point is dropped.
func Stream[T any](ctx context.Context, interval time.Duration, in <-chan T) <-chan T {
	out := make(chan T)
	emits := make(chan T, 1)
	done := make(chan struct{})

	d := New(interval, func(v T) {
		select {
		case emits <- v:
		case <-done:
		}
	})

	go func() {
		defer close(out)
		defer close(done)
		defer d.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				d.Push(v)
			case v := <-emits:
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
