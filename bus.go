package herald

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/signalworks/herald/catalog"
	"github.com/signalworks/herald/event"
	"github.com/signalworks/herald/ledger"
)

// Listener is an in-process event handler.
type Listener func(ctx context.Context, evt *event.Event) error

// ListenerHandle identifies a registered listener for removal.
type ListenerHandle struct {
	id uint64
}

type listenerEntry struct {
	id      uint64
	pattern string
	fn      Listener
	async   bool
}

// ListenerOption configures a listener registration.
type ListenerOption func(*listenerEntry)

// Async makes the listener run in its own goroutine per event. Its error is
// surfaced through the emission handle instead of the Emit call.
func Async() ListenerOption {
	return func(l *listenerEntry) { l.async = true }
}

// On registers a listener for event types matching the pattern. Patterns use
// the same glob rules as subscriptions ("issue.created", "issue.*", "*").
// Listeners run in registration order.
func (h *Herald) On(pattern string, fn Listener, opts ...ListenerOption) ListenerHandle {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	entry := &listenerEntry{
		id:      h.nextID,
		pattern: pattern,
		fn:      fn,
	}
	for _, opt := range opts {
		opt(entry)
	}
	h.listeners = append(h.listeners, entry)
	return ListenerHandle{id: entry.id}
}

// Off removes a previously registered listener. Returns false when the
// handle is unknown (already removed, or zero).
func (h *Herald) Off(handle ListenerHandle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, l := range h.listeners {
		if l.id == handle.id {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// matching returns a snapshot of listeners whose pattern covers the event type.
func (h *Herald) matching(eventType string) []*listenerEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*listenerEntry
	for _, l := range h.listeners {
		if catalog.Match(l.pattern, eventType) {
			out = append(out, l)
		}
	}
	return out
}

// Emission is the handle for one emitted event. The webhook fan-out and any
// async listeners run in the background; Wait blocks until they finish and
// returns their combined errors.
type Emission struct {
	// Event is the emitted event with its assigned ID and timestamp.
	Event *event.Event

	wg      sync.WaitGroup
	mu      sync.Mutex
	errs    []error
	records []*ledger.Record
}

// Wait blocks until background work for this emission completes and returns
// the combined listener and fan-out errors, if any.
func (em *Emission) Wait() error {
	em.wg.Wait()
	em.mu.Lock()
	defer em.mu.Unlock()
	return errors.Join(em.errs...)
}

// Records returns the ledger records opened by the webhook fan-out. Valid
// after Wait returns.
func (em *Emission) Records() []*ledger.Record {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.records
}

func (em *Emission) addErr(err error) {
	em.mu.Lock()
	em.errs = append(em.errs, err)
	em.mu.Unlock()
}

// invoke runs one listener with panic containment.
func (em *Emission) invoke(ctx context.Context, l *listenerEntry, evt *event.Event) {
	defer func() {
		if r := recover(); r != nil {
			em.addErr(fmt.Errorf("herald: listener panic: %v", r))
		}
	}()
	if err := l.fn(ctx, evt); err != nil {
		em.addErr(err)
	}
}
