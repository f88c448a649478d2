package connection

import "sync"

type listener struct {
	id ListenerID
	fn Handler
}

// listenerRegistry maps connection id and event name to handlers in
// registration order. Entries are keyed by the logical id, not the
// transport, so they survive reconnects.
type listenerRegistry struct {
	mu     sync.RWMutex
	nextID ListenerID
	byConn map[ConnectionID]map[EventName][]listener
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{
		byConn: make(map[ConnectionID]map[EventName][]listener),
	}
}

func (r *listenerRegistry) add(id ConnectionID, name EventName, fn Handler) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	events, ok := r.byConn[id]
	if !ok {
		events = make(map[EventName][]listener)
		r.byConn[id] = events
	}
	events[name] = append(events[name], listener{id: r.nextID, fn: fn})
	return r.nextID
}

func (r *listenerRegistry) remove(id ConnectionID, name EventName, lid ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.byConn[id]
	list := events[name]
	for i, l := range list {
		if l.id != lid {
			continue
		}
		// Copy so snapshots held by in-flight emits stay intact.
		next := make([]listener, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(events, name)
		} else {
			events[name] = next
		}
		if len(events) == 0 {
			delete(r.byConn, id)
		}
		return true
	}
	return false
}

func (r *listenerRegistry) removeAll(id ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byConn, id)
}

// snapshot returns the handlers for an event. The slice must not be modified.
func (r *listenerRegistry) snapshot(id ConnectionID, name EventName) []listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[id][name]
}

func (r *listenerRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, events := range r.byConn {
		for _, list := range events {
			n += len(list)
		}
	}
	return n
}
