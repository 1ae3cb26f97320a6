// Package poller schedules the periodic message fetches that keep conversations current.
package poller

import (
	"context"
	"sync"
	"time"
)

// CancelToken stops a scheduled task. Cancel is safe to call more than once.
type CancelToken struct {
	cancel context.CancelFunc
	done   chan struct{}
	reset  chan time.Duration
	once   sync.Once
}

// Cancel stops the task. It does not wait for a running fn to return; use Done for that.
func (t *CancelToken) Cancel() {
	t.once.Do(t.cancel)
}

// Done is closed once the task goroutine has exited.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// Reset changes the interval for subsequent ticks. It is a no-op on a cancelled task.
func (t *CancelToken) Reset(interval time.Duration) {
	if interval <= 0 {
		return
	}
	for {
		select {
		case <-t.done:
			return
		case t.reset <- interval:
			return
		default:
			// Drop a pending reset nobody consumed yet; the newest interval wins.
			select {
			case <-t.reset:
			default:
			}
		}
	}
}

// Start runs fn after initialDelay and then every interval until ctx is done or the
// returned token is cancelled. Ticks never overlap: a slow fn delays the next one.
// A non-positive interval runs fn once.
func Start(ctx context.Context, interval, initialDelay time.Duration, fn func(ctx context.Context)) *CancelToken {
	ctx, cancel := context.WithCancel(ctx)
	t := &CancelToken{
		cancel: cancel,
		done:   make(chan struct{}),
		reset:  make(chan time.Duration, 1),
	}

	go func() {
		defer close(t.done)
		defer cancel()

		if initialDelay > 0 {
			timer := time.NewTimer(initialDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
		if interval <= 0 {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-t.reset:
				ticker.Reset(d)
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				fn(ctx)
			}
		}
	}()

	return t
}
