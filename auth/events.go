package auth

import (
	"sort"
	"sync"
	"time"

	"github.com/grantdesk/grantdesk"
)

// EventType is the kind of change an Event reports.
type EventType string

const (
	SignedUp         EventType = "SIGNED_UP"
	SignedIn         EventType = "SIGNED_IN"
	SignedOut        EventType = "SIGNED_OUT"
	PasswordRecovery EventType = "PASSWORD_RECOVERY"
	UserUpdated      EventType = "USER_UPDATED"
)

// Event is a change in the auth state of a user or client.
type Event struct {
	Type EventType
	Time time.Time
	User grantdesk.AuthUser

	// Session is set for SignedIn events.
	Session *Session

	// ResetToken and RedirectTo are set for PasswordRecovery events. Sending
	// the token to the user is up to the listener.
	ResetToken string
	RedirectTo string
}

// Hub delivers Events to subscribed listeners. The zero value is ready to use.
//
// Listeners are called synchronously, in the order they subscribed, on the
// goroutine that emitted the event. Listeners added or removed during an Emit
// take effect from the next one.
type Hub struct {
	mtx       sync.Mutex
	next      int
	listeners map[int]func(Event)
}

// Subscribe adds fn as a listener. The returned function removes it; calling
// it more than once has no further effect.
func (h *Hub) Subscribe(fn func(Event)) (unsubscribe func()) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	if h.listeners == nil {
		h.listeners = map[int]func(Event){}
	}
	id := h.next
	h.next++
	h.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mtx.Lock()
			defer h.mtx.Unlock()
			delete(h.listeners, id)
		})
	}
}

// Emit sends ev to every current listener.
func (h *Hub) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	for _, fn := range h.snapshot() {
		fn(ev)
	}
}

// Len returns the number of current listeners.
func (h *Hub) Len() int {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return len(h.listeners)
}

func (h *Hub) snapshot() []func(Event) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	ids := make([]int, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	fns := make([]func(Event), len(ids))
	for i, id := range ids {
		fns[i] = h.listeners[id]
	}
	return fns
}
