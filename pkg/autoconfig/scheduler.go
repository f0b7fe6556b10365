package autoconfig

import (
	"time"
)

// debouncer coalesces bursts of significant graph changes into one commit.
// Every arm slides the deadline to now plus the window. It holds no timer of
// its own: the event loop asks how long it may wait and treats expiry as one
// more wake-up source.
type debouncer struct {
	window   time.Duration
	deadline time.Time
	armed    bool
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window}
}

func (d *debouncer) arm(now time.Time) {
	d.deadline = now.Add(d.window)
	d.armed = true
}

func (d *debouncer) disarm() {
	d.deadline = time.Time{}
	d.armed = false
}

func (d *debouncer) pending() bool {
	return d.armed
}

// remaining returns the time left until the commit is due. The second result
// is false when nothing is pending, in which case the caller waits forever.
func (d *debouncer) remaining(now time.Time) (time.Duration, bool) {
	if !d.armed {
		return 0, false
	}

	if left := d.deadline.Sub(now); left > 0 {
		return left, true
	}
	return 0, true
}

func (d *debouncer) expired(now time.Time) bool {
	return d.armed && !now.Before(d.deadline)
}
