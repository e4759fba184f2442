package chatsync

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pipelineFixture struct {
	store    *ConversationStore
	timeline *Timeline
	pipeline *SendPipeline
}

func newPipelineForTest(t *testing.T, handler http.Handler) *pipelineFixture {
	t.Helper()
	api := newTestClient(t, handler)
	events := newEmitter()
	log := zap.NewNop()
	store := newConversationStore(api, events, log)
	timeline := newTimeline(api, events, log)
	self := Identity{UserID: 12, DisplayName: "Sam"}
	return &pipelineFixture{
		store:    store,
		timeline: timeline,
		pipeline: newSendPipeline(api, store, timeline, self, events, log, nil),
	}
}

// chatHandler answers the list, page, and send endpoints with canned data.
func chatHandler(sendResponse func(w http.ResponseWriter, r *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/chat/conversations":
			writeOK(w, []Conversation{{ID: 42, DisplayName: "Riley", Type: ConversationDirect}})
		case r.Method == http.MethodGet:
			writeOK(w, MessagePage{Messages: []Message{serverMessage(1, 42, 2, "Riley", 10, "hey")}})
		default:
			sendResponse(w, r)
		}
	})
}

func TestSendRejectsEmptyContent(t *testing.T) {
	f := newPipelineForTest(t, chatHandler(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made for empty content")
	}))

	_, err := f.pipeline.Send(context.Background(), 42, "   \n\t ")
	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.Empty(t, f.timeline.Snapshot(42), "nothing provisional is created")
}

func TestSendOptimisticHappyPath(t *testing.T) {
	f := newPipelineForTest(t, chatHandler(func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, serverMessage(9, 42, 12, "Sam", 21, "on my way"))
	}))
	ctx := context.Background()
	require.NoError(t, f.store.Load(ctx))
	require.NoError(t, f.timeline.LoadInitial(ctx, 42))

	confirmed, err := f.pipeline.Send(ctx, 42, "on my way")
	require.NoError(t, err)
	assert.Equal(t, int64(9), confirmed.ID)

	snap := f.timeline.Snapshot(42)
	require.Len(t, snap, 2)
	assert.Equal(t, int64(9), snap[1].ID)
	assert.Equal(t, StatusConfirmed, snap[1].Status)
	assert.True(t, snap[1].IsOwn)

	conv, _ := f.store.Get(42)
	assert.Equal(t, "on my way", conv.LastMessagePreview)
	assert.Zero(t, conv.UnreadCount)
}

func TestSendFailureKeepsProvisionalVisible(t *testing.T) {
	f := newPipelineForTest(t, chatHandler(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, "internal", "database unavailable")
	}))
	ctx := context.Background()
	require.NoError(t, f.timeline.LoadInitial(ctx, 42))

	_, err := f.pipeline.Send(ctx, 42, "did this go through?")
	require.Error(t, err)

	snap := f.timeline.Snapshot(42)
	require.Len(t, snap, 2)
	assert.Equal(t, StatusFailed, snap[1].Status)
	assert.Equal(t, "did this go through?", snap[1].Content)
}

func TestSendDoubleSubmitRefused(t *testing.T) {
	release := make(chan struct{})
	arrived := make(chan struct{}, 1)
	f := newPipelineForTest(t, chatHandler(func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		<-release
		writeOK(w, serverMessage(9, 42, 12, "Sam", 21, "on my way"))
	}))
	ctx := context.Background()
	require.NoError(t, f.timeline.LoadInitial(ctx, 42))

	done := make(chan error, 1)
	go func() {
		_, err := f.pipeline.Send(ctx, 42, "on my way")
		done <- err
	}()
	<-arrived

	_, err := f.pipeline.Send(ctx, 42, "on my way")
	assert.ErrorIs(t, err, ErrSendInFlight, "identical payload while in flight is a double click")

	// A different payload is not blocked; let both complete.
	close(release)
	require.NoError(t, <-done)

	snap := f.timeline.Snapshot(42)
	require.Len(t, snap, 2, "the double click produced no second provisional")
}

func TestSendCapturesReplySnapshot(t *testing.T) {
	var sentBody map[string]any
	f := newPipelineForTest(t, chatHandler(func(w http.ResponseWriter, r *http.Request) {
		jsonDecode(r, &sentBody)
		confirmed := serverMessage(9, 42, 12, "Sam", 21, "agreed")
		confirmed.ReplyTo = &ReplySnapshot{ID: 1, SenderName: "Riley", Content: "hey"}
		writeOK(w, confirmed)
	}))
	ctx := context.Background()
	require.NoError(t, f.timeline.LoadInitial(ctx, 42))

	f.pipeline.SetReplyContext(42, 1)
	assert.Equal(t, int64(1), f.pipeline.ReplyContext(42))

	confirmed, err := f.pipeline.Send(ctx, 42, "agreed")
	require.NoError(t, err)
	assert.Equal(t, float64(1), sentBody["replyToId"])
	require.NotNil(t, confirmed.ReplyTo)
	assert.Equal(t, "Riley", confirmed.ReplyTo.SenderName)

	assert.Zero(t, f.pipeline.ReplyContext(42), "reply context clears after a successful send")
}

func TestEditAppliesServerResult(t *testing.T) {
	f := newPipelineForTest(t, chatHandler(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		edited := serverMessage(1, 42, 2, "Riley", 10, "game at 6")
		editedAt := at(30)
		edited.EditedAt = &editedAt
		writeOK(w, edited)
	}))
	ctx := context.Background()
	require.NoError(t, f.timeline.LoadInitial(ctx, 42))

	require.NoError(t, f.pipeline.Edit(ctx, 42, 1, "game at 6"))

	got, ok := f.timeline.Lookup(42, 1)
	require.True(t, ok)
	assert.Equal(t, "game at 6", got.Content)
	require.NotNil(t, got.EditedAt)

	assert.ErrorIs(t, f.pipeline.Edit(ctx, 42, 1, "  "), ErrEmptyContent)
}

func TestDeleteTombstonesLocally(t *testing.T) {
	f := newPipelineForTest(t, chatHandler(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		writeOK(w, struct{}{})
	}))
	ctx := context.Background()
	require.NoError(t, f.timeline.LoadInitial(ctx, 42))

	require.NoError(t, f.pipeline.Delete(ctx, 42, 1))

	got, ok := f.timeline.Lookup(42, 1)
	require.True(t, ok)
	assert.True(t, got.IsDeleted)
	assert.Empty(t, got.Content)
}
