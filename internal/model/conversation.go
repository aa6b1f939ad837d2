package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation represents a 1:1 direct-message thread in MongoDB.
// ParticipantIDs is always the canonical (sorted) pair, and ParticipantKey
// carries a unique index so at most one document exists per unordered pair.
type Conversation struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ParticipantIDs []string           `json:"participantIds" bson:"participant_ids"`
	ParticipantKey string             `json:"-" bson:"participant_key"`
	LastMessage    string             `json:"lastMessage" bson:"last_message"`
	LastMessageAt  time.Time          `json:"lastMessageAt" bson:"last_message_at"`
	UnreadCounts   map[string]int64   `json:"unreadCounts" bson:"unread_counts"`
	CreatedAt      time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt      time.Time          `json:"updatedAt" bson:"updated_at"`
}

// CanonicalPair orders two user ids deterministically so that (a,b) and
// (b,a) resolve to the same conversation key.
func CanonicalPair(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

// PairKey returns the unique lookup key for an unordered user pair.
func PairKey(a, b string) string {
	p := CanonicalPair(a, b)
	return p[0] + ":" + p[1]
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant that is not userID, or "" when
// userID is not part of the conversation.
func (c *Conversation) OtherParticipant(userID string) string {
	if !c.HasParticipant(userID) {
		return ""
	}
	for _, id := range c.ParticipantIDs {
		if id != userID {
			return id
		}
	}
	return ""
}

// UnreadFor returns the unread counter for a participant.
func (c *Conversation) UnreadFor(userID string) int64 {
	if c.UnreadCounts == nil {
		return 0
	}
	return c.UnreadCounts[userID]
}
