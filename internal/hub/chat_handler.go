package hub

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"RoastMedia/internal/event"
	"RoastMedia/internal/model"
	"RoastMedia/internal/repo"
)

// ChatHandler owns the message delivery state machine: it applies
// Sent -> Delivered -> Seen transitions whenever a message is created, a
// recipient connects, opens a thread, or acknowledges having viewed
// messages, and fans the resulting events out through the dispatcher.
type ChatHandler struct {
	registry   *Registry
	dispatcher *Dispatcher
	messages   repo.MessageRepository
	convos     repo.ConversationRepository
}

func NewChatHandler(registry *Registry, dispatcher *Dispatcher, messages repo.MessageRepository, convos repo.ConversationRepository) *ChatHandler {
	return &ChatHandler{
		registry:   registry,
		dispatcher: dispatcher,
		messages:   messages,
		convos:     convos,
	}
}

// HandleEvent processes one inbound client event.
func (ch *ChatHandler) HandleEvent(ev event.WsEvent, c Conn) {
	switch ev.Event {
	case event.EventSendMessage:
		ch.handleSend(ev, c)
	case event.EventSeen:
		ch.handleSeen(ev, c)
	case event.EventOpenConversation:
		ch.handleOpen(ev, c)
	default:
		log.Printf("unknown event type: %s", ev.Event)
	}
}

// -----------------------------------------------------------------
// chat:send
// -----------------------------------------------------------------

func (ch *ChatHandler) handleSend(ev event.WsEvent, c Conn) {
	var req event.SendMessageRequest
	if err := json.Unmarshal(ev.Payload, &req); err != nil {
		log.Printf("failed to unmarshal send payload from %s: %v", c.UserID(), err)
		ch.sendError(c, "invalid_payload", "Failed to parse send request")
		return
	}
	if err := req.Validate(c.UserID()); err != nil {
		ch.sendError(c, "invalid_request", err.Error())
		return
	}

	ctx := context.Background()

	convo, err := ch.convos.FindOrCreate(ctx, c.UserID(), req.To)
	if err != nil {
		// No echo on persistence failure: absence of an event tells the
		// client no state change occurred, and the send is safe to retry.
		log.Printf("resolve conversation failed for %s -> %s: %v", c.UserID(), req.To, err)
		return
	}

	now := time.Now()
	msg := &model.Message{
		ConversationID: convo.ID,
		SenderID:       c.UserID(),
		ReceiverID:     req.To,
		Body:           req.Text,
		MediaURL:       req.MediaURL,
		MediaType:      req.MediaType,
		Status:         model.StatusSent,
		CreatedAt:      now,
	}

	msg, err = ch.messages.InsertMessage(ctx, msg)
	if err != nil {
		log.Printf("insert message failed for %s: %v", c.UserID(), err)
		return
	}

	// Preview and unread maintenance are best-effort once the message is
	// durably created.
	if err := ch.convos.Touch(ctx, convo.ID, msg.PreviewLabel(), now); err != nil {
		log.Printf("touch conversation %s failed: %v", convo.ID.Hex(), err)
	}
	if !ch.registry.HasActiveViewer(req.To, convo.ID.Hex()) {
		if err := ch.convos.IncrementUnread(ctx, convo.ID, req.To); err != nil {
			log.Printf("increment unread on %s failed: %v", convo.ID.Hex(), err)
		}
	}

	// Echo to every device of the sender with sent state (no deliveredAt).
	ch.dispatcher.Notify(c.UserID(), Envelope(event.EventMessage, msg))

	if !ch.registry.IsOnline(req.To) {
		// Offline receiver: state stays Sent until their next catch-up
		// sweep; the dispatcher queues a push instead.
		ch.dispatcher.NotifyMessage(req.To, msg)
		return
	}

	deliveredAt := time.Now()
	modified, err := ch.messages.MarkDelivered(ctx, []primitive.ObjectID{msg.ID}, deliveredAt)
	if err != nil {
		log.Printf("live delivery transition failed for %s: %v", msg.ID.Hex(), err)
		return
	}
	if modified > 0 {
		msg.Status = model.StatusDelivered
		msg.DeliveredAt = &deliveredAt
	}

	ch.dispatcher.NotifyMessage(req.To, msg)
	ch.dispatcher.Notify(c.UserID(), Envelope(event.EventDelivered, model.DeliveredEvent{
		ConversationID: convo.ID.Hex(),
		MessageIDs:     []string{msg.ID.Hex()},
		DeliveredAt:    deliveredAt,
	}))
}

// -----------------------------------------------------------------
// chat:seen
// -----------------------------------------------------------------

func (ch *ChatHandler) handleSeen(ev event.WsEvent, c Conn) {
	var req event.SeenRequest
	if err := json.Unmarshal(ev.Payload, &req); err != nil {
		log.Printf("failed to unmarshal seen payload from %s: %v", c.UserID(), err)
		ch.sendError(c, "invalid_payload", "Failed to parse seen request")
		return
	}
	if err := req.Validate(); err != nil {
		ch.sendError(c, "invalid_request", err.Error())
		return
	}

	convoID, err := primitive.ObjectIDFromHex(req.ConversationID)
	if err != nil {
		ch.sendError(c, "invalid_request", "Malformed conversation id")
		return
	}
	ids := parseObjectIDs(req.MessageIDs)
	if len(ids) == 0 {
		ch.sendError(c, "invalid_request", "No valid message ids")
		return
	}

	ctx := context.Background()
	seenAt := time.Now()

	// The receiver scope lives in the store filter, so acking ids outside
	// the caller's own messages silently matches nothing.
	modified, err := ch.messages.MarkSeen(ctx, convoID, c.UserID(), ids, seenAt)
	if err != nil {
		log.Printf("mark seen failed for %s: %v", c.UserID(), err)
		return
	}

	ch.dispatcher.Notify(c.UserID(), Envelope(event.EventSeenAck, model.SeenAckEvent{
		ConversationID: req.ConversationID,
		MessageIDs:     req.MessageIDs,
	}))

	if modified == 0 {
		// Everything was already seen; nothing changed, so nobody else
		// gets notified.
		return
	}

	// Reset the unread counter once the ack covers the full pending set.
	unseen, err := ch.messages.UnseenCount(ctx, convoID, c.UserID())
	if err != nil {
		log.Printf("unseen count failed on %s: %v", req.ConversationID, err)
	} else if unseen == 0 {
		if err := ch.convos.ResetUnread(ctx, convoID, c.UserID()); err != nil {
			log.Printf("reset unread on %s failed: %v", req.ConversationID, err)
		}
	}

	convo, err := ch.convos.GetByID(ctx, req.ConversationID)
	if err != nil {
		log.Printf("fetch conversation %s failed: %v", req.ConversationID, err)
		return
	}
	if other := convo.OtherParticipant(c.UserID()); other != "" {
		ch.dispatcher.Notify(other, Envelope(event.EventSeenNotice, model.SeenEvent{
			ConversationID: req.ConversationID,
			MessageIDs:     req.MessageIDs,
			SeenBy:         c.UserID(),
			SeenAt:         seenAt,
		}))
	}
}

// -----------------------------------------------------------------
// chat:open
// -----------------------------------------------------------------

// handleOpen runs when a user actively opens a thread: a stronger signal
// than merely being connected. It pins the thread on this device for unread
// accounting and runs a delivery sweep scoped to this one conversation.
func (ch *ChatHandler) handleOpen(ev event.WsEvent, c Conn) {
	var req event.OpenConversationRequest
	if err := json.Unmarshal(ev.Payload, &req); err != nil {
		log.Printf("failed to unmarshal open payload from %s: %v", c.UserID(), err)
		ch.sendError(c, "invalid_payload", "Failed to parse open request")
		return
	}
	if err := req.Validate(); err != nil {
		ch.sendError(c, "invalid_request", err.Error())
		return
	}

	ctx := context.Background()

	convo, err := ch.convos.GetByID(ctx, req.ConversationID)
	if err != nil {
		ch.sendError(c, "not_found", "Conversation not found")
		return
	}
	if !convo.HasParticipant(c.UserID()) {
		ch.sendError(c, "forbidden", "Not a participant of this conversation")
		return
	}

	c.SetActiveConversation(req.ConversationID)

	other := convo.OtherParticipant(c.UserID())
	ch.dispatcher.Notify(c.UserID(), Envelope(event.EventConversationStatus, model.ConversationStatusEvent{
		ConversationID: req.ConversationID,
		OtherID:        other,
		Online:         ch.registry.IsOnline(other),
	}))

	pending, err := ch.messages.FindPendingInConversation(ctx, convo.ID, c.UserID())
	if err != nil {
		log.Printf("open sweep query failed on %s: %v", req.ConversationID, err)
		return
	}
	if len(pending) == 0 {
		return
	}

	deliveredAt := time.Now()
	ids := messageIDs(pending)
	if _, err := ch.messages.MarkDelivered(ctx, ids, deliveredAt); err != nil {
		// Abort without notifying: a missed sweep is retried on the next
		// open or reconnect, a state/notification mismatch is not.
		log.Printf("open sweep transition failed on %s: %v", req.ConversationID, err)
		return
	}

	ch.dispatcher.Notify(other, Envelope(event.EventDelivered, model.DeliveredEvent{
		ConversationID: req.ConversationID,
		MessageIDs:     hexIDs(ids),
		DeliveredAt:    deliveredAt,
	}))
}

// -----------------------------------------------------------------
// Reconnection catch-up
// -----------------------------------------------------------------

// CatchUp reconciles messages that were sent while the user was offline.
// Runs exactly once per new connection, after registry admission and before
// any client command is processed.
func (ch *ChatHandler) CatchUp(c Conn) {
	ctx := context.Background()

	pending, err := ch.messages.FindPendingFor(ctx, c.UserID())
	if err != nil {
		log.Printf("catch-up query failed for %s: %v", c.UserID(), err)
		return
	}
	if len(pending) == 0 {
		// Common case: nothing accumulated while offline.
		return
	}

	deliveredAt := time.Now()
	if _, err := ch.messages.MarkDelivered(ctx, messageIDs(pending), deliveredAt); err != nil {
		// Abort before notifying anyone; the sweep reruns on next reconnect.
		log.Printf("catch-up transition failed for %s: %v", c.UserID(), err)
		return
	}

	// One notification per (sender, conversation) group, so a sender who
	// posted fifty messages overnight gets one event, not fifty.
	for group, ids := range groupPending(pending) {
		ch.dispatcher.Notify(group.senderID, Envelope(event.EventDelivered, model.DeliveredEvent{
			ConversationID: group.conversationID,
			MessageIDs:     ids,
			DeliveredAt:    deliveredAt,
		}))
	}
}

// -----------------------------------------------------------------
// Presence
// -----------------------------------------------------------------

// PresenceChanged tells every user who shares a conversation with userID
// that they came online or went offline.
func (ch *ChatHandler) PresenceChanged(userID string, online bool) {
	ctx := context.Background()

	convos, err := ch.convos.ConversationsFor(ctx, userID)
	if err != nil {
		log.Printf("presence audience query failed for %s: %v", userID, err)
		return
	}

	ev := Envelope(event.EventPresence, model.PresenceEvent{
		UserID: userID,
		Online: online,
		At:     time.Now(),
	})

	notified := make(map[string]struct{}, len(convos))
	for i := range convos {
		other := convos[i].OtherParticipant(userID)
		if other == "" {
			continue
		}
		if _, done := notified[other]; done {
			continue
		}
		notified[other] = struct{}{}
		ch.dispatcher.Notify(other, ev)
	}
}

// -----------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------

func (ch *ChatHandler) sendError(c Conn, code, message string) {
	c.SafeSend(Envelope(event.EventError, model.ErrorPayload{
		Code:    code,
		Message: message,
	}), sendTimeout)
}

type pendingGroup struct {
	senderID       string
	conversationID string
}

func groupPending(msgs []model.Message) map[pendingGroup][]string {
	groups := make(map[pendingGroup][]string)
	for i := range msgs {
		key := pendingGroup{
			senderID:       msgs[i].SenderID,
			conversationID: msgs[i].ConversationID.Hex(),
		}
		groups[key] = append(groups[key], msgs[i].ID.Hex())
	}
	return groups
}

func messageIDs(msgs []model.Message) []primitive.ObjectID {
	ids := make([]primitive.ObjectID, 0, len(msgs))
	for i := range msgs {
		ids = append(ids, msgs[i].ID)
	}
	return ids
}

func hexIDs(ids []primitive.ObjectID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	return out
}

func parseObjectIDs(hex []string) []primitive.ObjectID {
	ids := make([]primitive.ObjectID, 0, len(hex))
	for _, h := range hex {
		if id, err := primitive.ObjectIDFromHex(h); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
