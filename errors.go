package chatsync

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyContent rejects sends whose content is empty or whitespace-only.
	ErrEmptyContent = errors.New("chatsync: message content is empty")

	// ErrSendInFlight rejects a send whose exact payload is already in flight.
	ErrSendInFlight = errors.New("chatsync: identical send already in flight")

	// ErrLoadInProgress rejects an overlapping page load for one conversation.
	ErrLoadInProgress = errors.New("chatsync: load already in progress for conversation")

	// ErrNoMoreMessages rejects loadOlder once the server reported hasMore=false.
	ErrNoMoreMessages = errors.New("chatsync: no older messages to load")

	// ErrNotLoaded rejects loadOlder before the initial page has been fetched.
	ErrNotLoaded = errors.New("chatsync: timeline not loaded yet")

	// ErrNotConnected is returned when publishing on a disconnected channel.
	ErrNotConnected = errors.New("chatsync: realtime channel not connected")
)

// APIError is an error reported by the server inside the response envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// ShapeError reports a response that did not match the normalized envelope or
// the expected data shape. Shape mismatches fail loudly instead of silently
// decaying to empty collections.
type ShapeError struct {
	Endpoint string
	Reason   string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("chatsync: unexpected response shape from %s: %s", e.Endpoint, e.Reason)
}
