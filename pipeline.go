package chatsync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SendPipeline creates provisional messages, submits them, and reconciles the
// server-confirmed result into the timeline and conversation store. A failed
// send stays visible as a Failed entry; retry is an explicit new Send.
type SendPipeline struct {
	api      *Client
	store    *ConversationStore
	timeline *Timeline
	events   *emitter
	log      *zap.Logger
	metrics  *Metrics
	self     Identity

	mu       sync.Mutex
	inFlight map[string]struct{} // payload key -> guard against double submit
	replyTo  map[int64]int64     // conversation id -> active reply target
}

func newSendPipeline(api *Client, store *ConversationStore, timeline *Timeline, self Identity, events *emitter, log *zap.Logger, metrics *Metrics) *SendPipeline {
	return &SendPipeline{
		api:      api,
		store:    store,
		timeline: timeline,
		events:   events,
		log:      log,
		metrics:  metrics,
		self:     self,
		inFlight: make(map[string]struct{}),
		replyTo:  make(map[int64]int64),
	}
}

// SetReplyContext marks the message the next send in the conversation replies
// to. Cleared automatically on a successful send.
func (p *SendPipeline) SetReplyContext(conversationID, messageID int64) {
	p.mu.Lock()
	p.replyTo[conversationID] = messageID
	p.mu.Unlock()
}

// ClearReplyContext drops the reply target for the conversation.
func (p *SendPipeline) ClearReplyContext(conversationID int64) {
	p.mu.Lock()
	delete(p.replyTo, conversationID)
	p.mu.Unlock()
}

// ReplyContext returns the active reply target, or 0.
func (p *SendPipeline) ReplyContext(conversationID int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.replyTo[conversationID]
}

// Send submits content to the conversation. The provisional message appears
// on the timeline before the network call; on success it is replaced in place
// by the confirmed record and the conversation list reorders.
//
// Empty or whitespace-only content is rejected, as is a send whose exact
// payload is already in flight (rapid double-click protection).
func (p *SendPipeline) Send(ctx context.Context, conversationID int64, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	p.mu.Lock()
	replyToID := p.replyTo[conversationID]
	key := fmt.Sprintf("%d|%d|%s", conversationID, replyToID, content)
	if _, dup := p.inFlight[key]; dup {
		p.mu.Unlock()
		return nil, ErrSendInFlight
	}
	p.inFlight[key] = struct{}{}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.inFlight, key)
		p.mu.Unlock()
	}()

	var reply *ReplySnapshot
	if replyToID > 0 {
		if target, ok := p.timeline.Lookup(conversationID, replyToID); ok {
			reply = &ReplySnapshot{ID: target.ID, SenderName: target.SenderName, Content: target.Content}
		}
	}

	correlationID := uuid.NewString()
	provisional := &Message{
		ConversationID: conversationID,
		SenderID:       p.self.UserID,
		SenderName:     p.self.DisplayName,
		SenderAvatar:   p.self.Avatar,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
		ReplyTo:        reply,
		IsOwn:          true,
		CorrelationID:  correlationID,
		Status:         StatusInFlight,
	}
	p.timeline.AppendPending(provisional)

	confirmed, err := p.api.SendMessage(ctx, conversationID, content, "text", replyToID)
	if err != nil {
		p.timeline.MarkFailed(conversationID, correlationID)
		p.metrics.sendFailed()
		p.log.Warn("send failed, provisional message kept visible",
			zap.Int64("conversation", conversationID),
			zap.String("correlation", correlationID),
			zap.Error(err))
		p.events.emit(EventMessageFailed, correlationID)
		return nil, err
	}

	confirmed.IsOwn = true
	p.timeline.ResolvePending(conversationID, correlationID, *confirmed)
	p.store.ApplySent(conversationID, *confirmed)
	p.ClearReplyContext(conversationID)
	p.metrics.sendConfirmed()
	p.events.emit(EventMessageConfirmed, confirmed.ID)
	return confirmed, nil
}

// Edit updates a sent message's content and applies the edit locally once the
// server confirms it.
func (p *SendPipeline) Edit(ctx context.Context, conversationID, messageID int64, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	updated, err := p.api.EditMessage(ctx, conversationID, messageID, content)
	if err != nil {
		return err
	}
	editedAt := time.Now().UTC()
	if updated.EditedAt != nil {
		editedAt = *updated.EditedAt
	}
	p.timeline.ApplyEdit(MessageEdit{ID: messageID, Content: updated.Content, EditedAt: editedAt})
	return nil
}

// Delete tombstones a sent message locally once the server confirms.
func (p *SendPipeline) Delete(ctx context.Context, conversationID, messageID int64) error {
	if err := p.api.DeleteMessage(ctx, conversationID, messageID); err != nil {
		return err
	}
	p.timeline.ApplyDelete(MessageDeletion{MessageID: messageID, ConversationID: conversationID})
	return nil
}
