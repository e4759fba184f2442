package chatsync

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ConversationStore owns the conversation list: its ordering (most recently
// active first), unread counts, and mute state. It is mutated by direct user
// actions and by the event reconciler; the UI only reads snapshots and
// subscribes to EventConversationsUpdated.
type ConversationStore struct {
	api    *Client
	log    *zap.Logger
	events *emitter

	mu    sync.RWMutex
	order []int64
	byID  map[int64]*Conversation

	// lastApplied guards against the channel's at-least-once delivery: a
	// repeat of the message id just applied must not touch unread or preview.
	lastApplied map[int64]int64
}

func newConversationStore(api *Client, events *emitter, log *zap.Logger) *ConversationStore {
	return &ConversationStore{
		api:         api,
		log:         log,
		events:      events,
		byID:        make(map[int64]*Conversation),
		lastApplied: make(map[int64]int64),
	}
}

// Load replaces the full list from the server. On failure the prior list is
// left untouched and the error is returned.
func (s *ConversationStore) Load(ctx context.Context) error {
	convos, err := s.api.ListConversations(ctx)
	if err != nil {
		s.log.Warn("conversation list load failed, keeping prior state", zap.Error(err))
		return err
	}

	s.mu.Lock()
	s.order = s.order[:0]
	s.byID = make(map[int64]*Conversation, len(convos))
	for i := range convos {
		c := convos[i]
		s.order = append(s.order, c.ID)
		s.byID[c.ID] = &c
	}
	s.mu.Unlock()

	s.events.emit(EventConversationsUpdated, nil)
	return nil
}

// Snapshot returns the ordered conversation list as copies.
func (s *ConversationStore) Snapshot() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.order))
	for _, id := range s.order {
		if c := s.byID[id]; c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// Get returns a copy of one conversation.
func (s *ConversationStore) Get(id int64) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// ApplyInbound records a message pushed for the conversation: preview fields
// update, unread increments unless the conversation is active or the message
// is the user's own echo, and the conversation moves to the front of the
// list. A message for an unknown conversation inserts a minimal entry; the
// next Load replaces it. A redelivery of the message id just applied is a
// no-op.
func (s *ConversationStore) ApplyInbound(conversationID int64, msg Message, isActive bool) {
	s.mu.Lock()
	if msg.ID != 0 && s.lastApplied[conversationID] == msg.ID {
		s.mu.Unlock()
		return
	}
	c, ok := s.byID[conversationID]
	if !ok {
		c = &Conversation{
			ID:          conversationID,
			Type:        ConversationDirect,
			DisplayName: msg.SenderName,
		}
		s.byID[conversationID] = c
		s.order = append(s.order, conversationID)
	}
	s.updatePreviewLocked(c, msg)
	if !isActive && !msg.IsOwn {
		c.UnreadCount++
	}
	if msg.ID != 0 {
		s.lastApplied[conversationID] = msg.ID
	}
	s.moveToFrontLocked(conversationID)
	s.mu.Unlock()

	s.events.emit(EventConversationsUpdated, nil)
}

// ApplySent records the user's own confirmed message: same reordering as
// inbound, but unread never increments.
func (s *ConversationStore) ApplySent(conversationID int64, msg Message) {
	s.mu.Lock()
	c, ok := s.byID[conversationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.updatePreviewLocked(c, msg)
	if msg.ID != 0 {
		s.lastApplied[conversationID] = msg.ID
	}
	s.moveToFrontLocked(conversationID)
	s.mu.Unlock()

	s.events.emit(EventConversationsUpdated, nil)
}

// MarkRead optimistically zeroes the unread count, then confirms with the
// server. The local zero is not rolled back on confirmation failure; the
// failure is logged and returned so callers may retry.
func (s *ConversationStore) MarkRead(ctx context.Context, conversationID int64) error {
	s.mu.Lock()
	c, ok := s.byID[conversationID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	changed := c.UnreadCount != 0
	c.UnreadCount = 0
	s.mu.Unlock()

	if changed {
		s.events.emit(EventConversationsUpdated, nil)
	}

	if err := s.api.MarkRead(ctx, conversationID); err != nil {
		s.log.Warn("read acknowledgement failed, keeping local read state",
			zap.Int64("conversation", conversationID), zap.Error(err))
		return err
	}
	return nil
}

// ToggleMute optimistically flips the mute flag, then confirms with the
// server. The flip is not rolled back on failure. Returns the new state.
func (s *ConversationStore) ToggleMute(ctx context.Context, conversationID int64) (bool, error) {
	s.mu.Lock()
	c, ok := s.byID[conversationID]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	c.IsMuted = !c.IsMuted
	muted := c.IsMuted
	s.mu.Unlock()

	s.events.emit(EventConversationsUpdated, nil)

	if err := s.api.MuteConversation(ctx, conversationID, muted); err != nil {
		s.log.Warn("mute confirmation failed, keeping local state",
			zap.Int64("conversation", conversationID), zap.Bool("muted", muted), zap.Error(err))
		return muted, err
	}
	return muted, nil
}

// SetType changes the conversation's type; used by the roster when a Direct
// conversation is promoted to a group.
func (s *ConversationStore) SetType(conversationID int64, t ConversationType) {
	s.mu.Lock()
	c, ok := s.byID[conversationID]
	if ok {
		c.Type = t
	}
	s.mu.Unlock()
	if ok {
		s.events.emit(EventConversationsUpdated, nil)
	}
}

func (s *ConversationStore) updatePreviewLocked(c *Conversation, msg Message) {
	if msg.IsDeleted {
		c.LastMessagePreview = ""
	} else {
		c.LastMessagePreview = msg.Content
	}
	c.LastMessageAt = msg.CreatedAt
	c.LastMessageSenderName = msg.SenderName
}

// moveToFrontLocked moves the id to the head, keeping the rest stable.
func (s *ConversationStore) moveToFrontLocked(id int64) {
	if len(s.order) > 0 && s.order[0] == id {
		return
	}
	for i, v := range s.order {
		if v == id {
			copy(s.order[1:i+1], s.order[:i])
			s.order[0] = id
			return
		}
	}
}
