// Package debounce coalesces bursts of triggers into a single
// trailing-edge callback.
package debounce

import (
	"sync"
	"time"
)

// afterFunc is swapped out in tests.
var afterFunc = time.AfterFunc

type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	fn    func()
	timer *time.Timer

	// generation invalidates callbacks from superseded or stopped
	// timers that already fired.
	generation uint64
}

func New(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger (re)starts the delay; only the latest trigger's callback
// runs.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.generation++
	gen := d.generation
	d.timer = afterFunc(d.delay, func() {
		d.mu.Lock()
		stale := gen != d.generation
		d.mu.Unlock()
		if !stale {
			d.fn()
		}
	})
}

// Stop cancels any pending callback.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.generation++
}
