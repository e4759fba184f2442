package chatsync

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTypingIdle is how long after the last keystroke the local
	// "typing" state is withdrawn.
	DefaultTypingIdle = 2 * time.Second

	// DefaultTypingExpiry is how long a remote typing indicator survives
	// without a refreshing event.
	DefaultTypingExpiry = 3 * time.Second
)

// TypingTracker debounces outgoing typing notifications and expires incoming
// ones. All state is ephemeral; timers are the only scheduling this core does.
type TypingTracker struct {
	channel *Channel
	events  *emitter
	log     *zap.Logger

	idleAfter   time.Duration
	expireAfter time.Duration

	mu     sync.Mutex
	local  map[int64]*time.Timer      // conversation id -> idle timer while "typing" is announced
	remote map[int64]map[int64]*typer // conversation id -> user id -> state
}

type typer struct {
	name  string
	timer *time.Timer
}

func newTypingTracker(channel *Channel, idleAfter, expireAfter time.Duration, events *emitter, log *zap.Logger) *TypingTracker {
	if idleAfter <= 0 {
		idleAfter = DefaultTypingIdle
	}
	if expireAfter <= 0 {
		expireAfter = DefaultTypingExpiry
	}
	return &TypingTracker{
		channel:     channel,
		events:      events,
		log:         log,
		idleAfter:   idleAfter,
		expireAfter: expireAfter,
		local:       make(map[int64]*time.Timer),
		remote:      make(map[int64]map[int64]*typer),
	}
}

// DidType records a local keystroke. The first keystroke in a burst publishes
// typing=true; each keystroke restarts the idle timer that will publish
// typing=false.
func (tr *TypingTracker) DidType(ctx context.Context, conversationID int64) error {
	tr.mu.Lock()
	if timer, active := tr.local[conversationID]; active {
		timer.Reset(tr.idleAfter)
		tr.mu.Unlock()
		return nil
	}
	tr.local[conversationID] = time.AfterFunc(tr.idleAfter, func() {
		tr.idleExpired(conversationID)
	})
	tr.mu.Unlock()

	if err := tr.channel.SendTyping(ctx, conversationID, true); err != nil {
		tr.log.Warn("typing notification failed", zap.Int64("conversation", conversationID), zap.Error(err))
		return err
	}
	return nil
}

func (tr *TypingTracker) idleExpired(conversationID int64) {
	tr.mu.Lock()
	delete(tr.local, conversationID)
	tr.mu.Unlock()
	if err := tr.channel.SendTyping(context.Background(), conversationID, false); err != nil {
		tr.log.Warn("typing stop notification failed", zap.Int64("conversation", conversationID), zap.Error(err))
	}
}

// Cancel clears all typing state for a conversation, local and remote. Called
// when the conversation is deselected.
func (tr *TypingTracker) Cancel(conversationID int64) {
	tr.mu.Lock()
	wasTyping := false
	if timer, ok := tr.local[conversationID]; ok {
		timer.Stop()
		delete(tr.local, conversationID)
		wasTyping = true
	}
	if users, ok := tr.remote[conversationID]; ok {
		for _, ty := range users {
			ty.timer.Stop()
		}
		delete(tr.remote, conversationID)
	}
	tr.mu.Unlock()

	if wasTyping {
		if err := tr.channel.SendTyping(context.Background(), conversationID, false); err != nil {
			tr.log.Debug("typing stop on deselect failed", zap.Error(err))
		}
	}
}

// HandleRemote applies an incoming typing notification. typing=true records
// the name and starts (or restarts) the expiry timer; typing=false clears
// immediately.
func (tr *TypingTracker) HandleRemote(n TypingNotification) {
	tr.mu.Lock()
	users, ok := tr.remote[n.ConversationID]
	if !ok {
		users = make(map[int64]*typer)
		tr.remote[n.ConversationID] = users
	}
	if existing, ok := users[n.UserID]; ok {
		existing.timer.Stop()
		delete(users, n.UserID)
	}
	if n.IsTyping {
		convID, userID := n.ConversationID, n.UserID
		users[n.UserID] = &typer{
			name: n.UserName,
			timer: time.AfterFunc(tr.expireAfter, func() {
				tr.expireRemote(convID, userID)
			}),
		}
	}
	tr.mu.Unlock()

	tr.events.emit(EventTypingUpdated, n.ConversationID)
}

func (tr *TypingTracker) expireRemote(conversationID, userID int64) {
	tr.mu.Lock()
	changed := false
	if users, ok := tr.remote[conversationID]; ok {
		if _, present := users[userID]; present {
			delete(users, userID)
			changed = true
		}
	}
	tr.mu.Unlock()

	if changed {
		tr.events.emit(EventTypingUpdated, conversationID)
	}
}

// Typers returns the display names currently typing in the conversation,
// sorted for stable rendering.
func (tr *TypingTracker) Typers(conversationID int64) []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	users := tr.remote[conversationID]
	if len(users) == 0 {
		return nil
	}
	names := make([]string, 0, len(users))
	for _, ty := range users {
		names = append(names, ty.name)
	}
	sort.Strings(names)
	return names
}

// Summary renders the indicator line: empty for no typers, the name for one,
// and the first two names plus "and others" for more.
func (tr *TypingTracker) Summary(conversationID int64) string {
	names := tr.Typers(conversationID)
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing"
	case 2:
		return names[0] + " and " + names[1] + " are typing"
	default:
		return strings.Join(names[:2], ", ") + " and others are typing"
	}
}

// stopAll cancels every timer; used on session stop.
func (tr *TypingTracker) stopAll() {
	tr.mu.Lock()
	for id, timer := range tr.local {
		timer.Stop()
		delete(tr.local, id)
	}
	for id, users := range tr.remote {
		for _, ty := range users {
			ty.timer.Stop()
		}
		delete(tr.remote, id)
	}
	tr.mu.Unlock()
}
