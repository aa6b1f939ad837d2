package queue

import (
	"context"
	"time"
)

// TaskOfflineMessage is enqueued when a chat message finds no live
// connections for its receiver. A separate worker fleet turns these into
// push notifications; the relay only produces them.
const TaskOfflineMessage = "push:offline_message"

// OfflineMessagePayload is the JSON payload for TaskOfflineMessage.
type OfflineMessagePayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Preview        string `json:"preview"`
}

// Task represents a background job message with a type and opaque payload
// bytes. Payload encoding is up to callers.
type Task struct {
	Type    string
	Payload []byte
}

// EnqueueOption controls enqueue behavior. Zero values mean "unspecified".
type EnqueueOption struct {
	Queue     string        // logical queue name
	ProcessIn time.Duration // delay before processing
	MaxRetry  int           // max retries for the task
	UniqueTTL time.Duration // enforce uniqueness within TTL window
}

// Client enqueues tasks for background processing.
type Client interface {
	Enqueue(ctx context.Context, t Task, opts ...EnqueueOption) (id string, err error)
	Close() error
}
