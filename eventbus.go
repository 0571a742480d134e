package postmsg

import (
	"reflect"
	"sync"
)

// funcEqual reports whether a and b point at the same underlying function.
// Go function values aren't comparable with ==, so Off (which, per spec
// §4.5, identifies a handler to remove by the same value passed to On)
// compares the underlying code pointers instead. This considers two
// closures created from the same function literal equal even if they
// captured different free variables — callers that need finer-grained
// removal should keep a single shared handler value and use a captured
// flag/condition inside it rather than constructing a fresh closure per
// registration.
func funcEqual(a, b Handler) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// EventName identifies one of the four events the transport core emits.
type EventName string

// Transport-owned events. Any other event name is forwarded to
// LowerTransport's native listener API unchanged (spec §4.5).
const (
	EventMessage      EventName = "message"
	EventConnected    EventName = "connected"
	EventDisconnected EventName = "disconnected"
	EventError        EventName = "error"
)

// Handler receives the payload of a dispatched event. For EventMessage it
// is the JSON-decoded value; for EventError it is an *ErrorEvent; for
// EventConnected/EventDisconnected it is nil.
type Handler func(payload any)

// handlerList is an ordered, insertion-order slice of handlers for one
// event name, with iteration-safe mutation (spec §4.4): a handler added
// mid-dispatch is not invoked until the next dispatch, and removing a
// handler adjusts the in-flight cursor so visited/unvisited bookkeeping
// stays correct without skipping or double-invoking survivors.
//
// Grounded on zkoranges-go-claw/internal/bus's subscription-registry
// ownership model (a slice/map guarded by a single mutex), adapted from
// that package's buffered-channel async delivery to the synchronous
// ordered-slice dispatch spec §4.4 requires.
type handlerList struct {
	handlers []Handler
	cursor   int
	dispatch bool
}

func (hl *handlerList) add(h Handler) {
	hl.handlers = append(hl.handlers, h)
}

// remove deletes h's first occurrence. If removal happens during an
// in-progress dispatch and the removed index has already been visited
// (index < cursor), cursor is decremented so the next advance doesn't skip
// an unvisited survivor.
func (hl *handlerList) remove(h Handler) {
	idx := -1
	for i, cur := range hl.handlers {
		if funcEqual(cur, h) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	hl.handlers = append(hl.handlers[:idx], hl.handlers[idx+1:]...)
	if hl.dispatch && idx < hl.cursor {
		hl.cursor--
		if hl.cursor < 0 {
			hl.cursor = 0
		}
	}
}

// dispatchTo invokes every handler present at the start of this call, in
// order, honoring in-flight removal. Handlers appended during this call are
// not visited (they join the slice after the snapshot length captured
// below, so the bound below excludes them).
func (hl *handlerList) dispatchTo(payload any) {
	wasDispatching, savedCursor := hl.dispatch, hl.cursor
	hl.dispatch = true
	hl.cursor = 0
	bound := len(hl.handlers)
	for hl.cursor < bound && hl.cursor < len(hl.handlers) {
		h := hl.handlers[hl.cursor]
		hl.cursor++
		h(payload)
	}
	hl.dispatch = wasDispatching
	hl.cursor = savedCursor
}

func (hl *handlerList) clear() {
	hl.handlers = nil
	hl.cursor = 0
}

// EventBus is the listener registry described in spec §4.4: per-event
// ordered handler lists supporting safe removal during dispatch, plus
// late-subscriber coherence for connected/disconnected.
type EventBus struct {
	mu    sync.Mutex
	lists map[EventName]*handlerList

	// sessionOpen mirrors Control's current membership in SessionOpen, so a
	// handler registered for "connected" while already open (or
	// "disconnected" while already closed) can be replayed immediately.
	sessionOpen bool
}

// NewEventBus creates an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{lists: make(map[EventName]*handlerList)}
}

func (b *EventBus) listFor(name EventName) *handlerList {
	hl, ok := b.lists[name]
	if !ok {
		hl = &handlerList{}
		b.lists[name] = hl
	}
	return hl
}

// On registers handler for name. Returns ErrInvalidHandler if handler is
// nil.
func (b *EventBus) On(name EventName, handler Handler) error {
	if handler == nil {
		return ErrInvalidHandler
	}
	b.mu.Lock()
	replay := (name == EventConnected && b.sessionOpen) ||
		(name == EventDisconnected && !b.sessionOpen)
	b.listFor(name).add(handler)
	b.mu.Unlock()

	if replay {
		handler(nil)
	}
	return nil
}

// Off removes handler's first registration for name. Returns
// ErrInvalidHandler if handler is nil.
func (b *EventBus) Off(name EventName, handler Handler) error {
	if handler == nil {
		return ErrInvalidHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listFor(name).remove(handler)
	return nil
}

// Emit dispatches payload to every handler registered for name, in
// insertion order, honoring in-dispatch mutation semantics.
func (b *EventBus) Emit(name EventName, payload any) {
	b.mu.Lock()
	hl := b.listFor(name)
	b.mu.Unlock()
	hl.dispatchTo(payload)
}

// setSessionOpen updates the late-subscriber replay state. Control calls
// this on every transition into/out of SessionOpen, before emitting
// connected/disconnected.
func (b *EventBus) setSessionOpen(open bool) {
	b.mu.Lock()
	b.sessionOpen = open
	b.mu.Unlock()
}

// Clear drops all handlers for every event and resets dispatch cursors.
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, hl := range b.lists {
		hl.clear()
	}
}

// ErrorEvent is the payload delivered on EventError when an object chunk
// exhausts its retry budget (spec §4.2/§7), carrying the original JSON
// string so the caller can decide whether to resend.
type ErrorEvent struct {
	JSON   string
	Reason error
}
