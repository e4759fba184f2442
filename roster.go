package chatsync

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Roster tracks conversation membership. Additions refresh the full roster
// from the server rather than merging locally, so server-computed role and
// profile fields stay authoritative.
type Roster struct {
	api    *Client
	store  *ConversationStore
	events *emitter
	log    *zap.Logger

	mu     sync.RWMutex
	byConv map[int64][]Participant
	types  map[int64]ConversationType
}

func newRoster(api *Client, store *ConversationStore, events *emitter, log *zap.Logger) *Roster {
	return &Roster{
		api:    api,
		store:  store,
		events: events,
		log:    log,
		byConv: make(map[int64][]Participant),
		types:  make(map[int64]ConversationType),
	}
}

// Load fetches the conversation's roster. On failure the prior roster is kept.
func (r *Roster) Load(ctx context.Context, conversationID int64) error {
	detail, err := r.api.GetConversationDetail(ctx, conversationID)
	if err != nil {
		r.log.Warn("roster load failed, keeping prior state",
			zap.Int64("conversation", conversationID), zap.Error(err))
		return err
	}

	r.mu.Lock()
	r.byConv[conversationID] = append([]Participant(nil), detail.Participants...)
	if detail.Type != "" {
		r.types[conversationID] = detail.Type
	} else if c, ok := r.store.Get(conversationID); ok {
		r.types[conversationID] = c.Type
	}
	r.mu.Unlock()

	r.events.emit(EventRosterUpdated, conversationID)
	return nil
}

// Participants returns a copy of the conversation's roster.
func (r *Roster) Participants(conversationID int64) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Participant(nil), r.byConv[conversationID]...)
}

// Type returns the roster's view of the conversation type.
func (r *Roster) Type(conversationID int64) ConversationType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[conversationID]
}

// Add puts a user into the conversation. Adding an existing participant is an
// idempotent no-op, not an error. On success the roster is refreshed from the
// server, and a Direct conversation is promoted to a friend group in both the
// roster and the conversation store.
func (r *Roster) Add(ctx context.Context, conversationID, userID int64) error {
	r.mu.RLock()
	for _, p := range r.byConv[conversationID] {
		if p.UserID == userID {
			r.mu.RUnlock()
			return nil
		}
	}
	wasDirect := r.types[conversationID] == ConversationDirect
	r.mu.RUnlock()

	if !wasDirect {
		if c, ok := r.store.Get(conversationID); ok {
			wasDirect = c.Type == ConversationDirect
		}
	}

	if err := r.api.AddParticipants(ctx, conversationID, []int64{userID}); err != nil {
		r.log.Warn("participant add failed",
			zap.Int64("conversation", conversationID), zap.Int64("user", userID), zap.Error(err))
		return err
	}

	if err := r.Load(ctx, conversationID); err != nil {
		return err
	}

	if wasDirect {
		r.mu.Lock()
		r.types[conversationID] = ConversationFriendGroup
		r.mu.Unlock()
		r.store.SetType(conversationID, ConversationFriendGroup)
	}
	return nil
}

// ListAddable filters the candidate set down to users not already in the
// conversation. Pure function over the current roster snapshot.
func (r *Roster) ListAddable(conversationID int64, candidates []Participant) []Participant {
	r.mu.RLock()
	current := make(map[int64]struct{}, len(r.byConv[conversationID]))
	for _, p := range r.byConv[conversationID] {
		current[p.UserID] = struct{}{}
	}
	r.mu.RUnlock()

	out := make([]Participant, 0, len(candidates))
	for _, c := range candidates {
		if _, in := current[c.UserID]; !in {
			out = append(out, c)
		}
	}
	return out
}
