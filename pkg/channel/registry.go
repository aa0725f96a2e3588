package channel

import (
	"slices"
	"sync"
)

// Registry keeps event handlers for a Channel implementation.
type Registry struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[Event]map[int]Handler
}

func (r *Registry) Add(event Event, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handlers == nil {
		r.handlers = make(map[Event]map[int]Handler)
	}
	if r.handlers[event] == nil {
		r.handlers[event] = make(map[int]Handler)
	}
	id := r.nextID
	r.nextID++
	r.handlers[event][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.handlers[event], id)
			if len(r.handlers[event]) == 0 {
				delete(r.handlers, event)
			}
		})
	}
}

// Dispatch calls every handler for msg.Event, in registration order, and
// returns how many ran.
func (r *Registry) Dispatch(msg Message) int {
	r.mu.RLock()
	set := r.handlers[msg.Event]
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	hs := make(map[int]Handler, len(set))
	for id, h := range set {
		hs[id] = h
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	for _, id := range ids {
		hs[id](msg)
	}
	return len(ids)
}

// Len is the total number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.handlers {
		n += len(set)
	}
	return n
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = nil
}

// Events lists the events that have at least one handler.
func (r *Registry) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, 0, len(r.handlers))
	for e := range r.handlers {
		out = append(out, e)
	}
	slices.Sort(out)
	return out
}
