package chatsync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Session owns one realtime channel connection and the state components that
// hang off it: conversation store, timelines, send pipeline, typing tracker,
// and participant roster. One session exists per signed-in client; Start on
// mount, Stop on teardown.
type Session struct {
	api      *Client
	channel  *Channel
	store    *ConversationStore
	timeline *Timeline
	pipeline *SendPipeline
	typing   *TypingTracker
	roster   *Roster
	recon    *reconciler
	events   *emitter
	log      *zap.Logger

	active atomic.Int64

	mu      sync.Mutex
	started bool
}

type sessionConfig struct {
	log          *zap.Logger
	metrics      *Metrics
	channelURL   string
	channelCfg   ChannelConfig
	typingIdle   time.Duration
	typingExpiry time.Duration
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

// WithLogger attaches a structured logger to all components.
func WithLogger(log *zap.Logger) SessionOption {
	return func(c *sessionConfig) { c.log = log }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) SessionOption {
	return func(c *sessionConfig) { c.metrics = m }
}

// WithChannelURL overrides the realtime endpoint derived from the API base URL.
func WithChannelURL(url string) SessionOption {
	return func(c *sessionConfig) { c.channelURL = url }
}

// WithChannelConfig overrides reconnect and heartbeat tuning.
func WithChannelConfig(cfg ChannelConfig) SessionOption {
	return func(c *sessionConfig) { c.channelCfg = cfg }
}

// WithTypingWindows overrides the typing debounce and expiry durations.
func WithTypingWindows(idle, expiry time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.typingIdle = idle
		c.typingExpiry = expiry
	}
}

// NewSession wires a session for the signed-in user.
func NewSession(api *Client, self Identity, opts ...SessionOption) *Session {
	cfg := sessionConfig{
		log:        zap.NewNop(),
		channelCfg: ChannelConfig{AutoReconnect: true},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.channelURL == "" {
		cfg.channelURL = api.ChannelURL()
	}

	events := newEmitter()
	channel := NewChannel(cfg.channelURL, api.Token(), cfg.channelCfg, cfg.log.Named("channel"))
	store := newConversationStore(api, events, cfg.log.Named("store"))
	timeline := newTimeline(api, events, cfg.log.Named("timeline"))
	typing := newTypingTracker(channel, cfg.typingIdle, cfg.typingExpiry, events, cfg.log.Named("typing"))
	pipeline := newSendPipeline(api, store, timeline, self, events, cfg.log.Named("send"), cfg.metrics)
	roster := newRoster(api, store, events, cfg.log.Named("roster"))

	s := &Session{
		api:      api,
		channel:  channel,
		store:    store,
		timeline: timeline,
		pipeline: pipeline,
		typing:   typing,
		roster:   roster,
		events:   events,
		log:      cfg.log,
	}
	s.recon = newReconciler(channel, store, timeline, typing, self, s.ActiveConversation, events, cfg.log.Named("reconciler"), cfg.metrics)
	return s
}

// Start connects the realtime channel, registers event routing, and loads the
// conversation list. A list-load failure leaves the session connected with
// prior (empty) state and is returned for the caller to surface.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.recon.start()
	if err := s.channel.Connect(ctx); err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("start session: %w", err)
	}
	return s.store.Load(ctx)
}

// Stop cancels timers, disconnects the channel, and drops subscribers.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.typing.stopAll()
	if err := s.channel.Disconnect(); err != nil {
		s.log.Debug("channel disconnect", zap.Error(err))
	}
	s.events.removeAll()
}

// SelectConversation makes the conversation active: its timeline loads, it is
// marked read, and its roster refreshes. Failures are logged; the first one
// is returned after all steps have been attempted.
func (s *Session) SelectConversation(ctx context.Context, conversationID int64) error {
	prev := s.active.Swap(conversationID)
	if prev != 0 && prev != conversationID {
		s.typing.Cancel(prev)
	}
	if conversationID == 0 {
		return nil
	}

	var first error
	if err := s.timeline.LoadInitial(ctx, conversationID); err != nil && first == nil {
		first = err
	}
	if err := s.store.MarkRead(ctx, conversationID); err != nil && first == nil {
		first = err
	}
	if err := s.roster.Load(ctx, conversationID); err != nil && first == nil {
		first = err
	}
	return first
}

// DeselectConversation clears the active conversation and its typing state.
func (s *Session) DeselectConversation() {
	prev := s.active.Swap(0)
	if prev != 0 {
		s.typing.Cancel(prev)
	}
}

// ActiveConversation returns the selected conversation id, or 0.
func (s *Session) ActiveConversation() int64 {
	return s.active.Load()
}

// On subscribes to the session's observation events (EventConversationsUpdated
// and friends). Handlers run synchronously on the mutating goroutine and must
// not block.
func (s *Session) On(event string, handler EventHandler) {
	s.events.On(event, handler)
}

// Store returns the conversation store.
func (s *Session) Store() *ConversationStore { return s.store }

// Timeline returns the message timelines.
func (s *Session) Timeline() *Timeline { return s.timeline }

// Sends returns the optimistic send pipeline.
func (s *Session) Sends() *SendPipeline { return s.pipeline }

// Typing returns the typing indicator tracker.
func (s *Session) Typing() *TypingTracker { return s.typing }

// Roster returns the participant roster.
func (s *Session) Roster() *Roster { return s.roster }

// Channel returns the realtime channel, e.g. for state display.
func (s *Session) Channel() *Channel { return s.channel }
