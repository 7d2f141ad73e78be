package actor

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is a single-shot timer whose callback runs on a Loop. All methods
// must be called from tasks on that loop.
type Timer struct {
	clock clock.Clock
	loop  *Loop
	d     time.Duration
	fn    func()

	t   *clock.Timer
	gen uint64
}

// NewTimer creates a stopped timer that runs fn on loop d after each Reset.
func NewTimer(c clock.Clock, loop *Loop, d time.Duration, fn func()) *Timer {
	return &Timer{clock: c, loop: loop, d: d, fn: fn}
}

// Reset (re)starts the timer, discarding any pending expiry.
func (t *Timer) Reset() {
	t.Stop()
	gen := t.gen
	t.t = t.clock.AfterFunc(t.d, func() {
		t.loop.Post(func() {
			if t.gen != gen {
				return
			}
			t.t = nil
			t.fn()
		})
	})
}

// Stop cancels a pending expiry. An expiry already queued on the loop is
// dropped too.
func (t *Timer) Stop() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.gen++
}

// Active reports whether an expiry is pending.
func (t *Timer) Active() bool {
	return t.t != nil
}
