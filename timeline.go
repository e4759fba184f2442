package chatsync

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Timeline owns the per-conversation message buffers: ascending order by
// (createdAt, id), backward cursor pagination, dedupe of live events against
// optimistic entries, and in-place edit/delete tombstones.
//
// Push events that reference state not present yet (a page still loading, or
// an edit for a message outside the loaded window) are buffered and re-applied
// instead of dropped.
type Timeline struct {
	api    *Client
	log    *zap.Logger
	events *emitter

	mu      sync.Mutex
	buffers map[int64]*timelineBuffer
	convOf  map[int64]int64 // message id -> conversation id

	pendingEdits   map[int64]MessageEdit
	pendingDeletes map[int64]struct{}
}

type timelineBuffer struct {
	messages []*Message
	hasMore  bool
	loaded   bool
	loading  bool
	deferred []Message // live messages that arrived before the initial load
}

func newTimeline(api *Client, events *emitter, log *zap.Logger) *Timeline {
	return &Timeline{
		api:            api,
		log:            log,
		events:         events,
		buffers:        make(map[int64]*timelineBuffer),
		convOf:         make(map[int64]int64),
		pendingEdits:   make(map[int64]MessageEdit),
		pendingDeletes: make(map[int64]struct{}),
	}
}

func (t *Timeline) bufferLocked(conversationID int64) *timelineBuffer {
	buf, ok := t.buffers[conversationID]
	if !ok {
		buf = &timelineBuffer{}
		t.buffers[conversationID] = buf
	}
	return buf
}

// LoadInitial fetches the most recent page for the conversation, replacing
// any previously loaded history. Provisional (in-flight or failed) entries
// survive the reload. Deferred live events are re-applied afterwards.
func (t *Timeline) LoadInitial(ctx context.Context, conversationID int64) error {
	t.mu.Lock()
	buf := t.bufferLocked(conversationID)
	if buf.loading {
		t.mu.Unlock()
		return ErrLoadInProgress
	}
	buf.loading = true
	t.mu.Unlock()

	page, err := t.api.GetMessages(ctx, conversationID, 0)

	t.mu.Lock()
	buf.loading = false
	if err != nil {
		t.mu.Unlock()
		t.log.Warn("initial page load failed, keeping prior timeline",
			zap.Int64("conversation", conversationID), zap.Error(err))
		return err
	}

	var kept []*Message
	for _, m := range buf.messages {
		if m.Status != StatusConfirmed {
			kept = append(kept, m)
		}
	}
	buf.messages = buf.messages[:0]
	for i := range page.Messages {
		m := page.Messages[i]
		m.ConversationID = conversationID
		t.insertLocked(buf, conversationID, m)
	}
	for _, m := range kept {
		buf.messages = append(buf.messages, m)
	}
	for _, m := range buf.deferred {
		t.insertLocked(buf, conversationID, m)
	}
	buf.deferred = nil
	buf.hasMore = page.HasMore
	buf.loaded = true
	sortMessages(buf.messages)
	t.mu.Unlock()

	t.events.emit(EventTimelineUpdated, conversationID)
	return nil
}

// LoadOlder prepends the page before the oldest loaded message. It refuses to
// run while another load for the conversation is outstanding, before the
// initial load, or once the server reported no more history.
func (t *Timeline) LoadOlder(ctx context.Context, conversationID int64) error {
	t.mu.Lock()
	buf, ok := t.buffers[conversationID]
	if !ok || !buf.loaded {
		t.mu.Unlock()
		return ErrNotLoaded
	}
	if buf.loading {
		t.mu.Unlock()
		return ErrLoadInProgress
	}
	if !buf.hasMore {
		t.mu.Unlock()
		return ErrNoMoreMessages
	}
	cursor := oldestConfirmedID(buf.messages)
	if cursor == 0 {
		t.mu.Unlock()
		return ErrNoMoreMessages
	}
	buf.loading = true
	t.mu.Unlock()

	page, err := t.api.GetMessages(ctx, conversationID, cursor)

	t.mu.Lock()
	buf.loading = false
	if err != nil {
		t.mu.Unlock()
		t.log.Warn("older page load failed, keeping prior timeline",
			zap.Int64("conversation", conversationID), zap.Error(err))
		return err
	}
	for i := range page.Messages {
		m := page.Messages[i]
		m.ConversationID = conversationID
		t.insertLocked(buf, conversationID, m)
	}
	buf.hasMore = page.HasMore
	sortMessages(buf.messages)
	t.mu.Unlock()

	t.events.emit(EventTimelineUpdated, conversationID)
	return nil
}

// AppendLive inserts a pushed message unless an entry with the same id
// already exists, which happens when the push echoes a message this client
// just sent and reconciled. Before the initial load completes, the event is
// deferred instead of applied.
func (t *Timeline) AppendLive(msg Message) {
	t.mu.Lock()
	buf := t.bufferLocked(msg.ConversationID)
	if !buf.loaded {
		buf.deferred = append(buf.deferred, msg)
		t.mu.Unlock()
		return
	}
	inserted := t.insertLocked(buf, msg.ConversationID, msg)
	if inserted {
		sortMessages(buf.messages)
	}
	t.mu.Unlock()

	if inserted {
		t.events.emit(EventTimelineUpdated, msg.ConversationID)
	}
}

// AppendPending adds a provisional own message to the end of the buffer. It
// is visible immediately, before any network confirmation.
func (t *Timeline) AppendPending(msg *Message) {
	t.mu.Lock()
	buf := t.bufferLocked(msg.ConversationID)
	buf.messages = append(buf.messages, msg)
	t.mu.Unlock()

	t.events.emit(EventTimelineUpdated, msg.ConversationID)
}

// ResolvePending replaces the provisional entry identified by its correlation
// id with the server-confirmed message. If the push event for the confirmed
// message landed first, the provisional entry is dropped instead, so the id
// appears exactly once.
func (t *Timeline) ResolvePending(conversationID int64, correlationID string, confirmed Message) {
	t.mu.Lock()
	buf, ok := t.buffers[conversationID]
	if !ok {
		t.mu.Unlock()
		return
	}
	alreadyPresent := false
	for _, m := range buf.messages {
		if m.ID == confirmed.ID && m.ID != 0 && m.CorrelationID != correlationID {
			alreadyPresent = true
			break
		}
	}
	for i, m := range buf.messages {
		if m.CorrelationID != correlationID {
			continue
		}
		if alreadyPresent {
			buf.messages = append(buf.messages[:i], buf.messages[i+1:]...)
		} else {
			confirmed.ConversationID = conversationID
			confirmed.CorrelationID = correlationID
			confirmed.Status = StatusConfirmed
			confirmed.IsOwn = true
			*m = confirmed
			t.registerLocked(buf, conversationID, m)
		}
		break
	}
	sortMessages(buf.messages)
	t.mu.Unlock()

	t.events.emit(EventTimelineUpdated, conversationID)
}

// MarkFailed flags the provisional entry as failed. It stays visible so the
// typed content is not lost; retry is a fresh Send.
func (t *Timeline) MarkFailed(conversationID int64, correlationID string) {
	t.mu.Lock()
	if buf, ok := t.buffers[conversationID]; ok {
		for _, m := range buf.messages {
			if m.CorrelationID == correlationID {
				m.Status = StatusFailed
				break
			}
		}
	}
	t.mu.Unlock()

	t.events.emit(EventTimelineUpdated, conversationID)
}

// ApplyEdit updates a message in place without changing its position. Edits
// for ids not loaded yet are held and applied when the id appears.
func (t *Timeline) ApplyEdit(edit MessageEdit) {
	t.mu.Lock()
	convID, known := t.convOf[edit.ID]
	if !known {
		t.pendingEdits[edit.ID] = edit
		t.mu.Unlock()
		return
	}
	t.applyEditLocked(convID, edit)
	t.mu.Unlock()

	t.events.emit(EventTimelineUpdated, convID)
}

func (t *Timeline) applyEditLocked(conversationID int64, edit MessageEdit) {
	buf, ok := t.buffers[conversationID]
	if !ok {
		return
	}
	for _, m := range buf.messages {
		if m.ID == edit.ID {
			m.Content = edit.Content
			at := edit.EditedAt
			m.EditedAt = &at
			return
		}
	}
}

// ApplyDelete tombstones a message in place: the slot is kept so reply
// references stay resolvable, but the content is cleared.
func (t *Timeline) ApplyDelete(del MessageDeletion) {
	t.mu.Lock()
	convID := del.ConversationID
	if convID == 0 {
		convID = t.convOf[del.MessageID]
	}
	buf, ok := t.buffers[convID]
	if !ok || !buf.loaded || !tombstoneLocked(buf, del.MessageID) {
		t.pendingDeletes[del.MessageID] = struct{}{}
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.events.emit(EventTimelineUpdated, convID)
}

func tombstoneLocked(buf *timelineBuffer, messageID int64) bool {
	for _, m := range buf.messages {
		if m.ID == messageID {
			m.IsDeleted = true
			m.Content = ""
			return true
		}
	}
	return false
}

// Snapshot returns copies of the conversation's loaded messages in order.
func (t *Timeline) Snapshot(conversationID int64) []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf, ok := t.buffers[conversationID]
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(buf.messages))
	for _, m := range buf.messages {
		out = append(out, *m)
	}
	return out
}

// Lookup returns a copy of one loaded message by id.
func (t *Timeline) Lookup(conversationID, messageID int64) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf, ok := t.buffers[conversationID]
	if !ok {
		return Message{}, false
	}
	for _, m := range buf.messages {
		if m.ID == messageID {
			return *m, true
		}
	}
	return Message{}, false
}

// HasMore reports whether older history remains for the conversation.
func (t *Timeline) HasMore(conversationID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf, ok := t.buffers[conversationID]
	return ok && buf.hasMore
}

// insertLocked adds msg unless its id is already present, then applies any
// held edit/delete for that id. Caller re-sorts. Reports whether an entry was
// added.
func (t *Timeline) insertLocked(buf *timelineBuffer, conversationID int64, msg Message) bool {
	for _, existing := range buf.messages {
		if existing.ID == msg.ID && msg.ID != 0 {
			return false
		}
	}
	m := msg
	buf.messages = append(buf.messages, &m)
	t.registerLocked(buf, conversationID, &m)
	return true
}

// registerLocked indexes a confirmed id and replays held events against it.
func (t *Timeline) registerLocked(buf *timelineBuffer, conversationID int64, m *Message) {
	if m.ID == 0 {
		return
	}
	t.convOf[m.ID] = conversationID
	if edit, ok := t.pendingEdits[m.ID]; ok {
		m.Content = edit.Content
		at := edit.EditedAt
		m.EditedAt = &at
		delete(t.pendingEdits, m.ID)
	}
	if _, ok := t.pendingDeletes[m.ID]; ok {
		m.IsDeleted = true
		m.Content = ""
		delete(t.pendingDeletes, m.ID)
	}
}

func sortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

func oldestConfirmedID(msgs []*Message) int64 {
	for _, m := range msgs {
		if m.ID != 0 {
			return m.ID
		}
	}
	return 0
}
