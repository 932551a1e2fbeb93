package service

import (
	"sync"
	"sync/atomic"

	"github.com/IsSlashy/Protocol-01-sub006/core"
)

// Listener receives lifecycle events of one session
type Listener func(core.AuthEvent)

type listenerHandle struct {
	id     uint64
	fn     Listener
	active atomic.Bool
}

// listenerRegistry keeps an ordered list of handles per session id
type listenerRegistry struct {
	mu        sync.Mutex
	nextID    uint64
	bySession map[string][]*listenerHandle
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{bySession: make(map[string][]*listenerHandle)}
}

// add registers fn and returns a function removing it. The returned function
// is idempotent.
func (r *listenerRegistry) add(sessionID string, fn Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	h := &listenerHandle{id: r.nextID, fn: fn}
	h.active.Store(true)
	r.bySession[sessionID] = append(r.bySession[sessionID], h)

	return func() { r.remove(sessionID, h) }
}

func (r *listenerRegistry) remove(sessionID string, h *listenerHandle) {
	h.active.Store(false)

	r.mu.Lock()
	defer r.mu.Unlock()

	handles := r.bySession[sessionID]
	for i, candidate := range handles {
		if candidate.id != h.id {
			continue
		}
		next := make([]*listenerHandle, 0, len(handles)-1)
		next = append(next, handles[:i]...)
		next = append(next, handles[i+1:]...)
		if len(next) == 0 {
			delete(r.bySession, sessionID)
		} else {
			r.bySession[sessionID] = next
		}
		return
	}
}

// drop removes every listener of a session
func (r *listenerRegistry) drop(sessionID string) {
	r.mu.Lock()
	handles := r.bySession[sessionID]
	delete(r.bySession, sessionID)
	r.mu.Unlock()

	for _, h := range handles {
		h.active.Store(false)
	}
}

func (r *listenerRegistry) snapshot(sessionID string) []*listenerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := r.bySession[sessionID]
	out := make([]*listenerHandle, len(handles))
	copy(out, handles)
	return out
}

func (r *listenerRegistry) count(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySession[sessionID])
}

// dispatch invokes the listeners registered for the event's session in
// registration order, outside the registry lock. It returns the panics
// recovered from listeners.
func (r *listenerRegistry) dispatch(event core.AuthEvent) []any {
	var panics []any
	for _, h := range r.snapshot(event.SessionID()) {
		if !h.active.Load() {
			continue
		}
		if p := invoke(h.fn, event); p != nil {
			panics = append(panics, p)
		}
	}
	return panics
}

func invoke(fn Listener, event core.AuthEvent) (recovered any) {
	defer func() { recovered = recover() }()
	fn(event)
	return nil
}
