package connectiontest

import (
	"sort"
	"sync"
	"time"

	"github.com/rickgao/library-chat/internal/connection"
)

// Clock is a connection.Clock that only moves when Advance is called.
// Timer callbacks run synchronously on the goroutine calling Advance.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*timer
	fired  []time.Duration
}

var _ connection.Clock = (*Clock)(nil)

type timer struct {
	c     *Clock
	at    time.Time
	delay time.Duration
	f     func()
	done  bool
}

// NewClock creates a clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now implements connection.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc implements connection.Clock.
func (c *Clock) AfterFunc(d time.Duration, f func()) connection.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{c: c, at: c.now.Add(d), delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *timer) Stop() bool {
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	c.removeLocked(t)
	return true
}

func (c *Clock) removeLocked(t *timer) {
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

// Advance moves the clock forward by d and runs every timer that falls due,
// in deadline order. Timers armed by a callback fire in the same call when
// they are due at the new time.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		if len(c.timers) == 0 || c.timers[0].at.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		t := c.timers[0]
		c.timers = c.timers[1:]
		t.done = true
		if t.at.After(c.now) {
			c.now = t.at
		}
		c.fired = append(c.fired, t.delay)
		c.mu.Unlock()

		t.f()
	}
}

// Pending returns the delays of armed timers, soonest first.
func (c *Clock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	timers := make([]*timer, len(c.timers))
	copy(timers, c.timers)
	sort.SliceStable(timers, func(i, j int) bool { return timers[i].at.Before(timers[j].at) })

	out := make([]time.Duration, len(timers))
	for i, t := range timers {
		out[i] = t.delay
	}
	return out
}

// Fired returns the delays of timers that have run, in firing order.
func (c *Clock) Fired() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.fired))
	copy(out, c.fired)
	return out
}

// AwaitTimer waits in real time for a timer to be armed and returns the
// delay of the soonest one.
func (c *Clock) AwaitTimer(timeout time.Duration) (time.Duration, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if p := c.Pending(); len(p) > 0 {
			return p[0], true
		}
		if time.Now().After(deadline) {
			return 0, false
		}
		time.Sleep(time.Millisecond)
	}
}
