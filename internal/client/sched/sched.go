// Package sched unifies the engine's timer usage behind two cancellable
// primitives: a trailing-edge debouncer and a cron-driven schedule. Every
// component timer goes through here so teardown can guarantee cancellation.
package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Debouncer coalesces bursts of triggers into a single deferred call.
//
// The first Trigger of a burst arms a timer for the configured delay;
// triggers arriving while the timer is pending are absorbed, so one fire
// captures the whole burst. After the fire the next Trigger starts a new
// cycle.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	pending bool
	stopped bool
}

// NewDebouncer returns a debouncer calling fn on the timer goroutine.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger records one event. Returns true when this trigger armed the
// timer, false when it was absorbed into an already-pending cycle.
func (d *Debouncer) Trigger() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.pending {
		return false
	}
	d.pending = true
	d.timer = time.AfterFunc(d.delay, d.fire)
	return true
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending = false
	fn := d.fn
	d.mu.Unlock()
	fn()
}

// Stop cancels any pending fire. The debouncer is unusable afterwards.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = false
}

// RunCron calls fn at every tick of the cron expression until ctx is
// cancelled. The expression is validated up front; the loop itself never
// returns an error, it just waits for the next tick.
func RunCron(ctx context.Context, expr string, fn func()) error {
	if !gronx.IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}

	go func() {
		for {
			next, err := gronx.NextTickAfter(expr, time.Now(), false)
			if err != nil {
				// Validated above; treat a runtime failure as transient.
				select {
				case <-time.After(30 * time.Second):
					continue
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-time.After(time.Until(next)):
				fn()
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
