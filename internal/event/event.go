package event

import (
	"encoding/json"
	"errors"
)

// Client to Server
const (
	// EventSendMessage - send a message to another user
	EventSendMessage = "chat:send"

	// EventSeen - acknowledge having viewed specific messages
	EventSeen = "chat:seen"

	// EventOpenConversation - the user actively opened a thread
	EventOpenConversation = "chat:open"
)

// Server to Client
const (
	// EventMessage - full message record (echo to sender, push to receiver)
	EventMessage = "chat:message"

	// EventDelivered - batch delivery confirmation to the sender
	EventDelivered = "chat:delivered"

	// EventSeenAck - local confirmation echoed to the acknowledging user
	EventSeenAck = "chat:seen:ack"

	// EventSeenNotice - read receipt pushed to the other participant
	EventSeenNotice = "chat:seen"

	// EventPresence - a conversation partner came online / went offline
	EventPresence = "presence"

	// EventConversationStatus - other participant's reachability on thread open
	EventConversationStatus = "conversation:status"

	// EventError - request-level error, connection stays open
	EventError = "chat:error"
)

// WsEvent is the wire envelope for every WebSocket frame. Payload shape is
// determined by Event, so dispatch stays exhaustive on the event name.
type WsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

var (
	ErrMissingRecipient    = errors.New("recipient is required")
	ErrSelfMessage         = errors.New("cannot send a message to yourself")
	ErrEmptyMessage        = errors.New("message needs text or media")
	ErrMissingConversation = errors.New("conversation id is required")
	ErrNoMessageIDs        = errors.New("message ids are required")
)

// SendMessageRequest is the chat:send payload.
type SendMessageRequest struct {
	To        string  `json:"to"`
	Text      string  `json:"text"`
	MediaURL  *string `json:"mediaUrl"`
	MediaType *string `json:"mediaType"`
}

func (r *SendMessageRequest) Validate(senderID string) error {
	if r.To == "" {
		return ErrMissingRecipient
	}
	if r.To == senderID {
		return ErrSelfMessage
	}
	if r.Text == "" && (r.MediaURL == nil || *r.MediaURL == "") {
		return ErrEmptyMessage
	}
	return nil
}

// SeenRequest is the chat:seen payload.
type SeenRequest struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

func (r *SeenRequest) Validate() error {
	if r.ConversationID == "" {
		return ErrMissingConversation
	}
	if len(r.MessageIDs) == 0 {
		return ErrNoMessageIDs
	}
	return nil
}

// OpenConversationRequest is the chat:open payload.
type OpenConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

func (r *OpenConversationRequest) Validate() error {
	if r.ConversationID == "" {
		return ErrMissingConversation
	}
	return nil
}
