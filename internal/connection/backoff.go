package connection

import "time"

// DefaultReconnectDelays returns the default backoff schedule.
func DefaultReconnectDelays() []time.Duration {
	return []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second}
}

// Backoff walks an ordered list of reconnection delays. Once the end of the
// list is reached the final delay repeats indefinitely. Not safe for
// concurrent use; the manager guards it with its own lock.
type Backoff struct {
	delays []time.Duration
	index  int
}

// NewBackoff creates a schedule. An empty list selects DefaultReconnectDelays.
func NewBackoff(delays []time.Duration) *Backoff {
	if len(delays) == 0 {
		delays = DefaultReconnectDelays()
	}
	d := make([]time.Duration, len(delays))
	copy(d, delays)
	return &Backoff{delays: d}
}

// Next returns the delay at the current index and advances the index.
func (b *Backoff) Next() time.Duration {
	d := b.delays[b.index]
	if b.index < len(b.delays)-1 {
		b.index++
	}
	return d
}

// Reset restarts the schedule from its first delay.
func (b *Backoff) Reset() {
	b.index = 0
}
