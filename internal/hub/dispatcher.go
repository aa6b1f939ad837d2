package hub

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"RoastMedia/internal/event"
	"RoastMedia/internal/model"
	"RoastMedia/internal/queue"
)

// Dispatcher fans one logical event out to every live connection of a user.
// It holds no state of its own: it reads the registry and, for chat messages
// that find nobody connected, hands an offline-push task to the queue. An
// offline user's event is otherwise dropped; the next catch-up sweep
// recovers the state change, not the event itself.
type Dispatcher struct {
	registry *Registry
	pushes   queue.Client // nil when offline push is not configured
}

func NewDispatcher(registry *Registry, pushes queue.Client) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		pushes:   pushes,
	}
}

// Notify delivers the event to every connection of the user and returns the
// number of handles it reached. Zero handles is not an error.
func (d *Dispatcher) Notify(userID string, ev event.WsEvent) int {
	conns := d.registry.ConnsFor(userID)
	for _, c := range conns {
		if !c.SafeSend(ev, sendTimeout) {
			log.Printf("dropped %s event for user %s on connection %s", ev.Event, userID, c.ID())
		}
	}
	return len(conns)
}

// NotifyMessage pushes a full message record to the user; when the user has
// no live connections, an offline-push task is enqueued instead.
func (d *Dispatcher) NotifyMessage(userID string, msg *model.Message) int {
	reached := d.Notify(userID, Envelope(event.EventMessage, msg))
	if reached == 0 {
		d.queueOfflinePush(userID, msg)
	}
	return reached
}

func (d *Dispatcher) queueOfflinePush(userID string, msg *model.Message) {
	if d.pushes == nil {
		return
	}

	payload, err := json.Marshal(queue.OfflineMessagePayload{
		UserID:         userID,
		ConversationID: msg.ConversationID.Hex(),
		SenderID:       msg.SenderID,
		Preview:        msg.PreviewLabel(),
	})
	if err != nil {
		log.Printf("failed to marshal offline push payload: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = d.pushes.Enqueue(ctx, queue.Task{
		Type:    queue.TaskOfflineMessage,
		Payload: payload,
	}, queue.EnqueueOption{
		Queue:    "push",
		MaxRetry: 3,
	})
	if err != nil {
		log.Printf("failed to enqueue offline push for user %s: %v", userID, err)
	}
}

// Envelope wraps a typed payload into the wire envelope. Marshal failures
// cannot happen for our own payload types, so they are logged, not returned.
func Envelope(eventName string, payload interface{}) event.WsEvent {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal %s payload: %v", eventName, err)
	}
	return event.WsEvent{
		Event:   eventName,
		Payload: raw,
	}
}
