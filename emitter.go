package chatsync

import "sync"

// Event names published on the session's observation surface. The UI
// subscribes to these instead of reading component internals.
const (
	EventConversationsUpdated = "conversations.updated"
	EventTimelineUpdated      = "timeline.updated"
	EventTypingUpdated        = "typing.updated"
	EventRosterUpdated        = "roster.updated"
	EventMessageConfirmed     = "message.confirmed"
	EventMessageFailed        = "message.failed"
	EventConnectionState      = "connection.state"
)

// EventHandler receives a published event and its payload.
type EventHandler func(event string, payload any)

// emitter is the publish/subscribe surface shared by all components of a
// session. Handlers run synchronously on the publishing goroutine; panics in
// subscriber callbacks are swallowed so they cannot corrupt store state.
type emitter struct {
	mu        sync.RWMutex
	listeners map[string][]EventHandler
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[string][]EventHandler)}
}

// On registers a handler for the named event.
func (e *emitter) On(event string, handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], handler)
}

func (e *emitter) emit(event string, payload any) {
	e.mu.RLock()
	handlers := e.listeners[event]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }()
			h(event, payload)
		}()
	}
}

func (e *emitter) removeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string][]EventHandler)
}
