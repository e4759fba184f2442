package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Channel event kinds carried in the wire envelope.
const (
	eventReceiveMessage = "ReceiveMessage"
	eventMessageEdited  = "MessageEdited"
	eventMessageDeleted = "MessageDeleted"
	eventUserTyping     = "UserTyping"
)

// ChannelState is the connection lifecycle state, for display only.
type ChannelState string

const (
	StateDisconnected ChannelState = "disconnected"
	StateConnecting   ChannelState = "connecting"
	StateConnected    ChannelState = "connected"
)

// ChannelConfig tunes the realtime channel.
type ChannelConfig struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *ChannelConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// ============================================================================
// Dispatcher
// ============================================================================

// channelDispatcher fans events out to typed handlers. Unlike a
// goroutine-per-callback design, handlers run synchronously on the read loop
// so inbound events apply in arrival order.
type channelDispatcher struct {
	mu             sync.RWMutex
	onMessage      []func(MessageNotification)
	onEdited       []func(MessageEdit)
	onDeleted      []func(MessageDeletion)
	onTyping       []func(TypingNotification)
	onConnected    []func(reconnect bool)
	onDisconnected []func(reason string)
}

func (d *channelDispatcher) dispatch(log *zap.Logger, env channelEnvelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Type {
	case eventReceiveMessage:
		var p MessageNotification
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn("malformed ReceiveMessage payload", zap.Error(err))
			return
		}
		for _, h := range d.onMessage {
			h(p)
		}
	case eventMessageEdited:
		var p MessageEdit
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn("malformed MessageEdited payload", zap.Error(err))
			return
		}
		for _, h := range d.onEdited {
			h(p)
		}
	case eventMessageDeleted:
		var p MessageDeletion
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn("malformed MessageDeleted payload", zap.Error(err))
			return
		}
		for _, h := range d.onDeleted {
			h(p)
		}
	case eventUserTyping:
		var p TypingNotification
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn("malformed UserTyping payload", zap.Error(err))
			return
		}
		for _, h := range d.onTyping {
			h(p)
		}
	default:
		log.Debug("ignoring unknown channel event", zap.String("type", env.Type))
	}
}

func (d *channelDispatcher) emitConnected(reconnect bool) {
	d.mu.RLock()
	handlers := append([]func(bool){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reconnect)
	}
}

func (d *channelDispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(cfg *ChannelConfig) *reconnector {
	return &reconnector{
		baseDelay:   cfg.ReconnectBaseDelay,
		maxDelay:    cfg.ReconnectMaxDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	// A connection that held for a minute resets the backoff.
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// Channel
// ============================================================================

// Channel is the bidirectional realtime transport: it delivers push events
// (new/edited/deleted messages, typing) and publishes typing notifications.
// One channel connection exists per signed-in session.
type Channel struct {
	url    string
	token  string
	config ChannelConfig
	log    *zap.Logger

	dispatcher channelDispatcher
	recon      *reconnector

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ChannelState
	intentionalClose bool
	cancelFn         context.CancelFunc
}

// NewChannel creates a realtime channel for the given endpoint and token.
func NewChannel(url, token string, cfg ChannelConfig, log *zap.Logger) *Channel {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{
		url:    url,
		token:  token,
		config: cfg,
		log:    log,
		recon:  newReconnector(&cfg),
		state:  StateDisconnected,
	}
}

// OnReceiveMessage registers a handler for inbound messages.
func (ch *Channel) OnReceiveMessage(h func(MessageNotification)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onMessage = append(ch.dispatcher.onMessage, h)
	ch.dispatcher.mu.Unlock()
}

// OnMessageEdited registers a handler for message edits.
func (ch *Channel) OnMessageEdited(h func(MessageEdit)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onEdited = append(ch.dispatcher.onEdited, h)
	ch.dispatcher.mu.Unlock()
}

// OnMessageDeleted registers a handler for message deletions.
func (ch *Channel) OnMessageDeleted(h func(MessageDeletion)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onDeleted = append(ch.dispatcher.onDeleted, h)
	ch.dispatcher.mu.Unlock()
}

// OnUserTyping registers a handler for remote typing notifications.
func (ch *Channel) OnUserTyping(h func(TypingNotification)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onTyping = append(ch.dispatcher.onTyping, h)
	ch.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event. reconnect is
// true when the connection was re-established after an unexpected drop.
func (ch *Channel) OnConnected(h func(reconnect bool)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onConnected = append(ch.dispatcher.onConnected, h)
	ch.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (ch *Channel) OnDisconnected(h func(reason string)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onDisconnected = append(ch.dispatcher.onDisconnected, h)
	ch.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (ch *Channel) State() ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Connect establishes the channel connection. It is a no-op while connected
// or connecting. Handler registrations survive reconnects.
func (ch *Channel) Connect(ctx context.Context) error {
	return ch.connect(ctx, false)
}

func (ch *Channel) connect(ctx context.Context, isReconnect bool) error {
	ch.mu.Lock()
	if ch.state == StateConnected || ch.state == StateConnecting {
		ch.mu.Unlock()
		return nil
	}
	ch.state = StateConnecting
	ch.intentionalClose = false
	ch.mu.Unlock()

	u := ch.url
	if ch.token != "" {
		u += "?token=" + ch.token
	}
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		ch.mu.Lock()
		ch.state = StateDisconnected
		ch.mu.Unlock()
		return fmt.Errorf("channel dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	ch.mu.Lock()
	// Stop the previous connection's loops before installing the new one.
	if ch.cancelFn != nil {
		ch.cancelFn()
	}
	ch.conn = conn
	ch.state = StateConnected
	ch.cancelFn = cancel
	ch.mu.Unlock()
	ch.recon.markConnected()

	ch.log.Info("channel connected", zap.Bool("reconnect", isReconnect))
	ch.dispatcher.emitConnected(isReconnect)

	go ch.readLoop(connCtx, conn)
	go ch.heartbeatLoop(connCtx, conn)
	return nil
}

// Disconnect tears the connection down and suppresses reconnection.
func (ch *Channel) Disconnect() error {
	ch.mu.Lock()
	ch.intentionalClose = true
	if ch.cancelFn != nil {
		ch.cancelFn()
		ch.cancelFn = nil
	}
	conn := ch.conn
	ch.conn = nil
	ch.state = StateDisconnected
	ch.mu.Unlock()

	ch.dispatcher.emitDisconnected("client disconnect")
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// SendTyping publishes a typing notification for the conversation.
func (ch *Channel) SendTyping(ctx context.Context, conversationID int64, isTyping bool) error {
	payload, err := json.Marshal(TypingNotification{
		ConversationID: conversationID,
		IsTyping:       isTyping,
	})
	if err != nil {
		return err
	}
	return ch.send(ctx, channelEnvelope{Type: eventUserTyping, Payload: payload})
}

func (ch *Channel) send(ctx context.Context, env channelEnvelope) error {
	ch.mu.Lock()
	conn := ch.conn
	ch.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (ch *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			ch.mu.Lock()
			intentional := ch.intentionalClose
			if ch.conn == conn {
				ch.conn = nil
				ch.state = StateDisconnected
				if ch.cancelFn != nil {
					ch.cancelFn()
					ch.cancelFn = nil
				}
			}
			ch.mu.Unlock()
			if intentional {
				return
			}

			ch.log.Warn("channel read failed", zap.Error(err))
			ch.dispatcher.emitDisconnected(err.Error())

			if ch.config.AutoReconnect && ch.recon.shouldReconnect() {
				go ch.scheduleReconnect()
			}
			return
		}

		var env channelEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			ch.log.Warn("discarding malformed channel frame", zap.Error(err))
			continue
		}
		ch.dispatcher.dispatch(ch.log, env)
	}
}

func (ch *Channel) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(ch.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				ch.log.Warn("channel heartbeat failed", zap.Error(err))
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (ch *Channel) scheduleReconnect() {
	for ch.recon.shouldReconnect() {
		ch.mu.Lock()
		if ch.intentionalClose {
			ch.mu.Unlock()
			return
		}
		ch.mu.Unlock()

		delay := ch.recon.nextDelay()
		ch.log.Info("channel reconnecting",
			zap.Int("attempt", ch.recon.attempt),
			zap.Duration("delay", delay))
		time.Sleep(delay)

		if err := ch.connect(context.Background(), true); err == nil {
			return
		}
	}
	ch.mu.Lock()
	ch.state = StateDisconnected
	ch.mu.Unlock()
	ch.log.Error("channel reconnect attempts exhausted")
}
