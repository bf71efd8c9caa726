package connectiontest

import (
	"context"
	"sync"

	"github.com/rickgao/library-chat/internal/connection"
)

type step struct {
	transport *Transport
	err       error
}

// Dialer is a scripted connection.Dialer. Queued steps are consumed in order;
// once the script is empty every dial succeeds with a fresh Transport.
type Dialer struct {
	mu         sync.Mutex
	script     []step
	calls      int
	transports []*Transport
}

var _ connection.Dialer = (*Dialer)(nil)

// NewDialer creates an empty scripted dialer.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Succeed queues a dial that returns t.
func (d *Dialer) Succeed(t *Transport) *Dialer {
	d.mu.Lock()
	d.script = append(d.script, step{transport: t})
	d.mu.Unlock()
	return d
}

// Fail queues a dial that returns err.
func (d *Dialer) Fail(err error) *Dialer {
	d.mu.Lock()
	d.script = append(d.script, step{err: err})
	d.mu.Unlock()
	return d
}

// Dial implements connection.Dialer.
func (d *Dialer) Dial(ctx context.Context) (connection.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	s := step{transport: NewTransport()}
	if len(d.script) > 0 {
		s = d.script[0]
		d.script = d.script[1:]
	}
	if s.err != nil {
		return nil, s.err
	}
	d.transports = append(d.transports, s.transport)
	return s.transport, nil
}

// Calls returns the number of dials attempted.
func (d *Dialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Last returns the most recently handed out transport, or nil.
func (d *Dialer) Last() *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// Transports returns every transport handed out so far.
func (d *Dialer) Transports() []*Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Transport, len(d.transports))
	copy(out, d.transports)
	return out
}
