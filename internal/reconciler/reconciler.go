// Package reconciler maintains the locally visible chat sequence: the latest
// history snapshot followed by the live messages received after it.
package reconciler

import (
	"sync"

	"github.com/rickgao/library-chat/internal/model"
)

// Reconciler merges history snapshots and live messages into one ordered view.
// The view only ever grows by appending or is replaced wholesale by a new
// snapshot. Safe for concurrent use.
type Reconciler struct {
	mu          sync.RWMutex
	messages    []model.ChatMessage
	awaiting    bool                // a snapshot is expected before live messages apply
	buffered    []model.ChatMessage // live messages held while awaiting
	onChange    func([]model.ChatMessage)
	snapshots   int
	liveApplied int
}

// New creates an empty Reconciler.
func New() *Reconciler {
	return &Reconciler{}
}

// OnChange registers fn to receive a copy of the view after every change.
// fn runs on the goroutine that caused the change.
func (r *Reconciler) OnChange(fn func([]model.ChatMessage)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// ApplyHistory replaces the view with snapshot, then appends any live
// messages buffered since Invalidate.
func (r *Reconciler) ApplyHistory(snapshot []model.ChatMessage) {
	r.mu.Lock()
	view := make([]model.ChatMessage, 0, len(snapshot)+len(r.buffered))
	view = append(view, snapshot...)
	view = append(view, r.buffered...)
	r.messages = view
	r.buffered = nil
	r.awaiting = false
	r.snapshots++
	fn, out := r.changedLocked()
	r.mu.Unlock()

	if fn != nil {
		fn(out)
	}
}

// ApplyLive appends msg to the view, or buffers it while a snapshot is pending.
func (r *Reconciler) ApplyLive(msg model.ChatMessage) {
	r.mu.Lock()
	if r.awaiting {
		r.buffered = append(r.buffered, msg)
		r.mu.Unlock()
		return
	}
	r.messages = append(r.messages, msg)
	r.liveApplied++
	fn, out := r.changedLocked()
	r.mu.Unlock()

	if fn != nil {
		fn(out)
	}
}

// Invalidate marks the view as stale. Live messages received from now on are
// held back until the next ApplyHistory. The current view stays readable.
func (r *Reconciler) Invalidate() {
	r.mu.Lock()
	r.awaiting = true
	r.mu.Unlock()
}

// Messages returns a copy of the visible sequence.
func (r *Reconciler) Messages() []model.ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ChatMessage, len(r.messages))
	copy(out, r.messages)
	return out
}

// Len returns the number of visible messages.
func (r *Reconciler) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages)
}

// Stats holds reconciler counters.
type Stats struct {
	Visible     int
	Buffered    int
	Awaiting    bool // a snapshot is pending
	Snapshots   int
	LiveApplied int
}

// Stats returns current counters.
func (r *Reconciler) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Visible:     len(r.messages),
		Buffered:    len(r.buffered),
		Awaiting:    r.awaiting,
		Snapshots:   r.snapshots,
		LiveApplied: r.liveApplied,
	}
}

func (r *Reconciler) changedLocked() (func([]model.ChatMessage), []model.ChatMessage) {
	if r.onChange == nil {
		return nil, nil
	}
	out := make([]model.ChatMessage, len(r.messages))
	copy(out, r.messages)
	return r.onChange, out
}
