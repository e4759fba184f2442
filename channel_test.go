package chatsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func TestChannelConnectLifecycle(t *testing.T) {
	ws := newWSServer(t)
	ch := NewChannel(ws.URL, "tok", ChannelConfig{}, zap.NewNop())

	connected := make(chan bool, 1)
	ch.OnConnected(func(reconnect bool) { connected <- reconnect })

	assert.Equal(t, StateDisconnected, ch.State())
	require.NoError(t, ch.Connect(context.Background()))
	assert.Equal(t, StateConnected, ch.State())

	select {
	case reconnect := <-connected:
		assert.False(t, reconnect, "first connect is not a reconnect")
	case <-time.After(2 * time.Second):
		t.Fatal("connected event never fired")
	}

	// Connect while connected is a no-op.
	require.NoError(t, ch.Connect(context.Background()))

	require.NoError(t, ch.Disconnect())
	assert.Equal(t, StateDisconnected, ch.State())
}

func TestChannelDispatchesEventsInArrivalOrder(t *testing.T) {
	ws := newWSServer(t)
	ch := NewChannel(ws.URL, "tok", ChannelConfig{}, zap.NewNop())

	got := make(chan int64, 8)
	ch.OnReceiveMessage(func(n MessageNotification) { got <- n.Message.ID })

	require.NoError(t, ch.Connect(context.Background()))
	t.Cleanup(func() { ch.Disconnect() })
	conn := ws.waitConn(t)

	for i := int64(1); i <= 4; i++ {
		ws.pushEvent(t, conn, eventReceiveMessage, MessageNotification{
			ConversationID: 42,
			Message:        serverMessage(i, 42, 2, "Riley", int(i), "msg"),
		})
	}

	for want := int64(1); want <= 4; want++ {
		select {
		case id := <-got:
			assert.Equal(t, want, id, "handlers run in arrival order")
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d never arrived", want)
		}
	}
}

func TestChannelRoutesAllEventKinds(t *testing.T) {
	ws := newWSServer(t)
	ch := NewChannel(ws.URL, "tok", ChannelConfig{}, zap.NewNop())

	edits := make(chan MessageEdit, 1)
	deletes := make(chan MessageDeletion, 1)
	typing := make(chan TypingNotification, 1)
	ch.OnMessageEdited(func(e MessageEdit) { edits <- e })
	ch.OnMessageDeleted(func(d MessageDeletion) { deletes <- d })
	ch.OnUserTyping(func(n TypingNotification) { typing <- n })

	require.NoError(t, ch.Connect(context.Background()))
	t.Cleanup(func() { ch.Disconnect() })
	conn := ws.waitConn(t)

	ws.pushEvent(t, conn, eventMessageEdited, MessageEdit{ID: 1, Content: "game at 6", EditedAt: at(30)})
	ws.pushEvent(t, conn, eventMessageDeleted, MessageDeletion{MessageID: 2, ConversationID: 42})
	ws.pushEvent(t, conn, eventUserTyping, TypingNotification{ConversationID: 42, UserID: 2, UserName: "Riley", IsTyping: true})

	select {
	case e := <-edits:
		assert.Equal(t, "game at 6", e.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("edit never arrived")
	}
	select {
	case d := <-deletes:
		assert.Equal(t, int64(2), d.MessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("delete never arrived")
	}
	select {
	case n := <-typing:
		assert.Equal(t, "Riley", n.UserName)
	case <-time.After(2 * time.Second):
		t.Fatal("typing never arrived")
	}
}

func TestChannelIgnoresUnknownEvents(t *testing.T) {
	ws := newWSServer(t)
	ch := NewChannel(ws.URL, "tok", ChannelConfig{}, zap.NewNop())

	got := make(chan int64, 2)
	ch.OnReceiveMessage(func(n MessageNotification) { got <- n.Message.ID })

	require.NoError(t, ch.Connect(context.Background()))
	t.Cleanup(func() { ch.Disconnect() })
	conn := ws.waitConn(t)

	ws.pushEvent(t, conn, "SomeFutureEvent", map[string]string{"surprise": "yes"})
	ws.pushEvent(t, conn, eventReceiveMessage, MessageNotification{
		ConversationID: 42,
		Message:        serverMessage(1, 42, 2, "Riley", 1, "still works"),
	})

	select {
	case id := <-got:
		assert.Equal(t, int64(1), id, "unknown event kinds are skipped, not fatal")
	case <-time.After(2 * time.Second):
		t.Fatal("message after unknown event never arrived")
	}
}

func TestChannelSendTypingWireFormat(t *testing.T) {
	ws := newWSServer(t)
	ch := NewChannel(ws.URL, "tok", ChannelConfig{}, zap.NewNop())
	require.NoError(t, ch.Connect(context.Background()))
	t.Cleanup(func() { ch.Disconnect() })
	ws.waitConn(t)

	require.NoError(t, ch.SendTyping(context.Background(), 42, true))
	n := decodeTyping(t, ws.recvFrame(t))
	assert.Equal(t, int64(42), n.ConversationID)
	assert.True(t, n.IsTyping)
}

func TestChannelServerDropCancelsConnectionContext(t *testing.T) {
	ws := newWSServer(t)
	ch := NewChannel(ws.URL, "tok", ChannelConfig{}, zap.NewNop())
	require.NoError(t, ch.Connect(context.Background()))
	conn := ws.waitConn(t)

	conn.Close(websocket.StatusInternalError, "server going down")

	require.Eventually(t, func() bool {
		return ch.State() == StateDisconnected
	}, 2*time.Second, 5*time.Millisecond)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Nil(t, ch.conn)
	assert.Nil(t, ch.cancelFn, "a dropped connection leaves no background loops behind")
}

func TestChannelSendWhileDisconnected(t *testing.T) {
	ch := NewChannel("ws://unused.invalid", "tok", ChannelConfig{}, zap.NewNop())
	err := ch.SendTyping(context.Background(), 42, true)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestReconnectorBackoffGrowsAndCaps(t *testing.T) {
	cfg := ChannelConfig{
		ReconnectBaseDelay:   10 * time.Millisecond,
		ReconnectMaxDelay:    80 * time.Millisecond,
		MaxReconnectAttempts: 5,
	}
	r := newReconnector(&cfg)

	var prev time.Duration
	for i := 0; i < 3; i++ {
		require.True(t, r.shouldReconnect())
		d := r.nextDelay()
		assert.GreaterOrEqual(t, d, prev/2, "delays trend upward despite jitter")
		assert.LessOrEqual(t, d, cfg.ReconnectMaxDelay)
		prev = d
	}
	for i := 3; i < 5; i++ {
		require.True(t, r.shouldReconnect())
		r.nextDelay()
	}
	assert.False(t, r.shouldReconnect(), "attempts are capped")
}
