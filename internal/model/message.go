package model

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DeliveryStatus is the delivery state of a message. Transitions are
// monotonic: a message never moves backward once it has advanced.
type DeliveryStatus int

const (
	StatusSent DeliveryStatus = iota + 1
	StatusDelivered
	StatusSeen
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusSeen:
		return "seen"
	default:
		return "unknown"
	}
}

// CanAdvance reports whether moving to next is a forward transition.
// Requests that would move a message backward are no-ops, not errors,
// because catch-up sweeps and live delivery can race on the same message.
func (s DeliveryStatus) CanAdvance(next DeliveryStatus) bool {
	return next > s
}

// Message represents a direct message in MongoDB
type Message struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConversationID primitive.ObjectID `json:"conversationId" bson:"conversation_id"`
	SenderID       string             `json:"senderId" bson:"sender_id"`
	ReceiverID     string             `json:"receiverId" bson:"receiver_id"`
	Body           string             `json:"body" bson:"body"`
	MediaURL       *string            `json:"mediaUrl" bson:"media_url"`
	MediaType      *string            `json:"mediaType" bson:"media_type"`
	Status         DeliveryStatus     `json:"status" bson:"status"`
	CreatedAt      time.Time          `json:"createdAt" bson:"created_at"`
	DeliveredAt    *time.Time         `json:"deliveredAt" bson:"delivered_at"`
	SeenAt         *time.Time         `json:"seenAt" bson:"seen_at"`
}

// HasContent reports whether the message carries text or media.
func (m *Message) HasContent() bool {
	return m.Body != "" || (m.MediaURL != nil && *m.MediaURL != "")
}

// PreviewLabel returns the short string stored on the conversation as its
// last-message preview: the text itself, or a label for media-only messages.
func (m *Message) PreviewLabel() string {
	if m.Body != "" {
		return m.Body
	}
	if m.MediaType != nil {
		switch {
		case strings.HasPrefix(*m.MediaType, "image/"):
			return "Photo"
		case strings.HasPrefix(*m.MediaType, "audio/"):
			return "Audio"
		}
	}
	if m.MediaURL != nil && *m.MediaURL != "" {
		return "Attachment"
	}
	return ""
}

// ErrorPayload represents an error response sent to client via WebSocket
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
