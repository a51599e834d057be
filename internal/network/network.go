// Package network reports device connectivity to the sync core.
package network

import "sync"

// Observer reports whether the remote side is reachable and streams
// connectivity changes to subscribers.
type Observer interface {
	Online() bool
	// Subscribe returns a channel receiving the new state on every change.
	// Only the latest state is kept for a slow reader.
	Subscribe() <-chan bool
	Unsubscribe(ch <-chan bool)
}

// hub tracks the current state and fans changes out to subscribers.
type hub struct {
	mu     sync.Mutex
	online bool
	subs   map[<-chan bool]chan bool
}

func newHub(online bool) *hub {
	return &hub{online: online, subs: make(map[<-chan bool]chan bool)}
}

func (h *hub) Online() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online
}

func (h *hub) Subscribe() <-chan bool {
	ch := make(chan bool, 1)
	h.mu.Lock()
	h.subs[ch] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) Unsubscribe(ch <-chan bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(c)
	}
}

// set stores the state and reports whether it changed.
func (h *hub) set(online bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.online == online {
		return false
	}
	h.online = online
	for _, c := range h.subs {
		select {
		case <-c:
		default:
		}
		c <- online
	}
	return true
}

// Manual is an Observer driven by the host application, for example from
// platform connectivity callbacks, and by tests.
type Manual struct {
	*hub
}

// NewManual creates a Manual observer in the given state.
func NewManual(online bool) *Manual {
	return &Manual{hub: newHub(online)}
}

// SetOnline updates the state, notifying subscribers on change.
func (m *Manual) SetOnline(online bool) {
	m.set(online)
}
