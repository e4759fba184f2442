package chatsync

import (
	"go.uber.org/zap"
)

// reconciler merges channel push events into the conversation store, the
// timeline, and the typing tracker. Handlers run synchronously on the
// channel's read loop, so events within a conversation apply in arrival
// order; no event replay happens on reconnect (refreshing the active timeline
// after a gap is the caller's responsibility).
type reconciler struct {
	channel  *Channel
	store    *ConversationStore
	timeline *Timeline
	typing   *TypingTracker
	events   *emitter
	log      *zap.Logger
	metrics  *Metrics
	self     Identity

	// active reports the currently selected conversation (0 = none).
	active func() int64
}

func newReconciler(channel *Channel, store *ConversationStore, timeline *Timeline, typing *TypingTracker, self Identity, active func() int64, events *emitter, log *zap.Logger, metrics *Metrics) *reconciler {
	return &reconciler{
		channel:  channel,
		store:    store,
		timeline: timeline,
		typing:   typing,
		events:   events,
		log:      log,
		metrics:  metrics,
		self:     self,
		active:   active,
	}
}

// start registers the event routes. Registration is one-time; the channel's
// handler registry survives reconnects, so resubscription is implicit.
func (r *reconciler) start() {
	r.channel.OnReceiveMessage(func(n MessageNotification) {
		r.metrics.eventReceived(eventReceiveMessage)
		msg := n.Message
		msg.ConversationID = n.ConversationID
		// The push echo of this user's own send must never count as unread.
		if msg.SenderID != 0 && msg.SenderID == r.self.UserID {
			msg.IsOwn = true
		}
		isActive := r.active() == n.ConversationID
		if isActive {
			r.timeline.AppendLive(msg)
		}
		r.store.ApplyInbound(n.ConversationID, msg, isActive)
	})

	r.channel.OnMessageEdited(func(e MessageEdit) {
		r.metrics.eventReceived(eventMessageEdited)
		r.timeline.ApplyEdit(e)
	})

	r.channel.OnMessageDeleted(func(d MessageDeletion) {
		r.metrics.eventReceived(eventMessageDeleted)
		r.timeline.ApplyDelete(d)
	})

	r.channel.OnUserTyping(func(n TypingNotification) {
		r.metrics.eventReceived(eventUserTyping)
		r.typing.HandleRemote(n)
	})

	r.channel.OnConnected(func(reconnect bool) {
		if reconnect {
			r.metrics.reconnected()
			r.log.Info("channel re-established; missed events are not replayed")
		}
		r.events.emit(EventConnectionState, StateConnected)
	})

	r.channel.OnDisconnected(func(reason string) {
		r.events.emit(EventConnectionState, StateDisconnected)
	})
}
