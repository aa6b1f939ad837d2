package model

import "time"

// DeliveredEvent - batch delivery confirmation sent to the message sender.
// One event per (sender, conversation) group, never one per message.
type DeliveredEvent struct {
	ConversationID string    `json:"conversationId"`
	MessageIDs     []string  `json:"messageIds"`
	DeliveredAt    time.Time `json:"deliveredAt"`
}

// SeenEvent - read receipt pushed to the other participant
type SeenEvent struct {
	ConversationID string    `json:"conversationId"`
	MessageIDs     []string  `json:"messageIds"`
	SeenBy         string    `json:"seenBy"`
	SeenAt         time.Time `json:"seenAt"`
}

// SeenAckEvent - local-state confirmation echoed to the acknowledging user
type SeenAckEvent struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// PresenceEvent - a user came online or went offline
type PresenceEvent struct {
	UserID string    `json:"userId"`
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// ConversationStatusEvent tells a user who just opened a thread whether the
// other participant is currently reachable.
type ConversationStatusEvent struct {
	ConversationID string `json:"conversationId"`
	OtherID        string `json:"otherId"`
	Online         bool   `json:"online"`
}
