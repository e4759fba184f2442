package chatsync

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Conversations
// ============================================================================

// ConversationType classifies a conversation.
type ConversationType string

const (
	ConversationDirect      ConversationType = "direct"
	ConversationFriendGroup ConversationType = "friend_group"
	ConversationEventGroup  ConversationType = "event_group"
)

// IsGroup reports whether the type is any group variant.
func (t ConversationType) IsGroup() bool {
	return t != ConversationDirect && t != ""
}

// Conversation is one entry in the conversation list. Owned by the
// ConversationStore; never mutated by callers directly.
type Conversation struct {
	ID                    int64            `json:"id"`
	Type                  ConversationType `json:"type"`
	DisplayName           string           `json:"displayName"`
	DisplayAvatar         string           `json:"displayAvatar,omitempty"`
	LastMessagePreview    string           `json:"lastMessagePreview,omitempty"`
	LastMessageAt         time.Time        `json:"lastMessageAt,omitempty"`
	LastMessageSenderName string           `json:"lastMessageSenderName,omitempty"`
	UnreadCount           int              `json:"unreadCount"`
	IsMuted               bool             `json:"isMuted"`
}

// ============================================================================
// Messages
// ============================================================================

// MessageStatus is the client-local delivery state of a timeline entry.
// The zero value means server-confirmed.
type MessageStatus string

const (
	StatusConfirmed MessageStatus = ""
	StatusInFlight  MessageStatus = "in_flight"
	StatusFailed    MessageStatus = "failed"
)

// Message is one timeline entry. Server-confirmed messages carry a non-zero
// ID; provisional messages carry ID 0 and a correlation id until the send is
// acknowledged.
type Message struct {
	ID             int64          `json:"id"`
	ConversationID int64          `json:"conversationId"`
	SenderID       int64          `json:"senderId"`
	SenderName     string         `json:"senderName"`
	SenderAvatar   string         `json:"senderAvatar,omitempty"`
	Content        string         `json:"content"`
	CreatedAt      time.Time      `json:"createdAt"`
	EditedAt       *time.Time     `json:"editedAt,omitempty"`
	IsDeleted      bool           `json:"isDeleted,omitempty"`
	ReplyTo        *ReplySnapshot `json:"replyToMessage,omitempty"`
	IsOwn          bool           `json:"isOwn,omitempty"`

	// Client-only fields, never on the wire.
	CorrelationID string        `json:"-"`
	Status        MessageStatus `json:"-"`
}

// ReplySnapshot is the denormalized view of a replied-to message, captured at
// send time so the reference survives later edits and deletions.
type ReplySnapshot struct {
	ID         int64  `json:"id"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
}

// MessagePage is one backward page of a conversation's history.
type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}

// ============================================================================
// Participants
// ============================================================================

// Participant is a conversation member with a profile snapshot.
type Participant struct {
	UserID      int64  `json:"userId"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
	Role        string `json:"role,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
}

// ConversationDetail is the server's full view of one conversation.
type ConversationDetail struct {
	Type         ConversationType `json:"type,omitempty"`
	Participants []Participant    `json:"participants"`
}

// ============================================================================
// Realtime channel payloads
// ============================================================================

// MessageNotification is the ReceiveMessage push payload.
type MessageNotification struct {
	ConversationID int64   `json:"conversationId"`
	Message        Message `json:"message"`
}

// MessageEdit is the MessageEdited push payload.
type MessageEdit struct {
	ID       int64     `json:"id"`
	Content  string    `json:"content"`
	EditedAt time.Time `json:"editedAt"`
}

// MessageDeletion is the MessageDeleted push payload.
type MessageDeletion struct {
	MessageID      int64 `json:"messageId"`
	ConversationID int64 `json:"conversationId"`
}

// TypingNotification is the UserTyping push payload, and also the body of the
// outgoing sendTyping command.
type TypingNotification struct {
	ConversationID int64  `json:"conversationId"`
	UserID         int64  `json:"userId,omitempty"`
	UserName       string `json:"userName,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

// channelEnvelope is the wire format for all channel traffic, both directions.
type channelEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Identity describes the signed-in user; provisional messages are stamped
// with it so the UI can render them before the server echoes sender fields.
type Identity struct {
	UserID      int64
	DisplayName string
	Avatar      string
}
