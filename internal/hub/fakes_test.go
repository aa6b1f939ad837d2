package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"RoastMedia/internal/db"
	"RoastMedia/internal/event"
	"RoastMedia/internal/model"
	"RoastMedia/internal/queue"
)

// fakeConn records every event pushed to it. Satisfies Conn so handler and
// registry behavior can be exercised without sockets.
type fakeConn struct {
	id     string
	userID string

	mu     sync.Mutex
	active string
	events []event.WsEvent
	closed bool
	reject bool // when true, SafeSend refuses every event
}

func newFakeConn(id, userID string) *fakeConn {
	return &fakeConn{id: id, userID: userID}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) ActiveConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *fakeConn) SetActiveConversation(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = conversationID
}

func (c *fakeConn) SafeSend(ev event.WsEvent, _ time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reject || c.closed {
		return false
	}
	c.events = append(c.events, ev)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) received() []event.WsEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.WsEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *fakeConn) eventsNamed(name string) []event.WsEvent {
	var out []event.WsEvent
	for _, ev := range c.received() {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

func decodePayload[T any](tb interface{ Fatalf(string, ...interface{}) }, ev event.WsEvent) T {
	var v T
	if err := json.Unmarshal(ev.Payload, &v); err != nil {
		tb.Fatalf("failed to decode %s payload: %v", ev.Event, err)
	}
	return v
}

// -----------------------------------------------------------------
// In-memory stores
// -----------------------------------------------------------------

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[primitive.ObjectID]*model.Message

	failInsert        bool
	failMarkDelivered bool
	failMarkSeen      bool
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[primitive.ObjectID]*model.Message)}
}

func (f *fakeMessageRepo) InsertMessage(_ context.Context, msg *model.Message) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert {
		return nil, fmt.Errorf("store unavailable")
	}
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	stored := *msg
	f.messages[msg.ID] = &stored
	return msg, nil
}

func (f *fakeMessageRepo) MarkDelivered(_ context.Context, ids []primitive.ObjectID, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMarkDelivered {
		return 0, fmt.Errorf("store unavailable")
	}
	var modified int64
	for _, id := range ids {
		m, ok := f.messages[id]
		if !ok || m.Status != model.StatusSent {
			continue
		}
		m.Status = model.StatusDelivered
		ts := at
		m.DeliveredAt = &ts
		modified++
	}
	return modified, nil
}

func (f *fakeMessageRepo) MarkSeen(_ context.Context, conversationID primitive.ObjectID, receiverID string, ids []primitive.ObjectID, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMarkSeen {
		return 0, fmt.Errorf("store unavailable")
	}
	var modified int64
	for _, id := range ids {
		m, ok := f.messages[id]
		if !ok || m.ConversationID != conversationID || m.ReceiverID != receiverID {
			continue
		}
		if m.Status >= model.StatusSeen {
			continue
		}
		ts := at
		if m.DeliveredAt == nil {
			m.DeliveredAt = &ts
		}
		m.Status = model.StatusSeen
		m.SeenAt = &ts
		modified++
	}
	return modified, nil
}

func (f *fakeMessageRepo) FindPendingFor(_ context.Context, receiverID string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.messages {
		if m.ReceiverID == receiverID && m.Status == model.StatusSent {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeMessageRepo) FindPendingInConversation(_ context.Context, conversationID primitive.ObjectID, receiverID string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID && m.ReceiverID == receiverID && m.Status == model.StatusSent {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeMessageRepo) UnseenCount(_ context.Context, conversationID primitive.ObjectID, receiverID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, m := range f.messages {
		if m.ConversationID == conversationID && m.ReceiverID == receiverID && m.Status < model.StatusSeen {
			count++
		}
	}
	return count, nil
}

func (f *fakeMessageRepo) History(_ context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.messages {
		if m.ConversationID.Hex() == conversationID {
			out = append(out, *m)
		}
	}
	return &db.PaginatedResult[model.Message]{
		Data:  out,
		Total: int64(len(out)),
		Page:  page,
	}, nil
}

func (f *fakeMessageRepo) DeleteByConversation(_ context.Context, conversationID primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, m := range f.messages {
		if m.ConversationID == conversationID {
			delete(f.messages, id)
		}
	}
	return nil
}

func (f *fakeMessageRepo) get(id primitive.ObjectID) model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.messages[id]
}

type fakeConvoRepo struct {
	mu     sync.Mutex
	convos map[primitive.ObjectID]*model.Conversation
	byKey  map[string]primitive.ObjectID

	failFindOrCreate bool
}

func newFakeConvoRepo() *fakeConvoRepo {
	return &fakeConvoRepo{
		convos: make(map[primitive.ObjectID]*model.Conversation),
		byKey:  make(map[string]primitive.ObjectID),
	}
}

func (f *fakeConvoRepo) FindOrCreate(_ context.Context, userA, userB string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFindOrCreate {
		return nil, fmt.Errorf("store unavailable")
	}
	key := model.PairKey(userA, userB)
	if id, ok := f.byKey[key]; ok {
		c := *f.convos[id]
		return &c, nil
	}
	pair := model.CanonicalPair(userA, userB)
	c := &model.Conversation{
		ID:             primitive.NewObjectID(),
		ParticipantIDs: pair[:],
		ParticipantKey: key,
		UnreadCounts:   make(map[string]int64),
		CreatedAt:      time.Now(),
	}
	f.convos[c.ID] = c
	f.byKey[key] = c.ID
	out := *c
	return &out, nil
}

func (f *fakeConvoRepo) GetByID(_ context.Context, conversationID string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, err := primitive.ObjectIDFromHex(conversationID)
	if err != nil {
		return nil, err
	}
	c, ok := f.convos[id]
	if !ok {
		return nil, fmt.Errorf("conversation not found")
	}
	out := *c
	return &out, nil
}

func (f *fakeConvoRepo) ConversationsFor(_ context.Context, userID string) ([]model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Conversation
	for _, c := range f.convos {
		if c.HasParticipant(userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeConvoRepo) Touch(_ context.Context, id primitive.ObjectID, preview string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.convos[id]; ok {
		c.LastMessage = preview
		c.LastMessageAt = at
		c.UpdatedAt = at
	}
	return nil
}

func (f *fakeConvoRepo) IncrementUnread(_ context.Context, id primitive.ObjectID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.convos[id]; ok {
		if c.UnreadCounts == nil {
			c.UnreadCounts = make(map[string]int64)
		}
		c.UnreadCounts[userID]++
	}
	return nil
}

func (f *fakeConvoRepo) ResetUnread(_ context.Context, id primitive.ObjectID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.convos[id]; ok && c.UnreadCounts != nil {
		c.UnreadCounts[userID] = 0
	}
	return nil
}

func (f *fakeConvoRepo) ClearPreview(_ context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.convos[id]; ok {
		c.LastMessage = ""
	}
	return nil
}

func (f *fakeConvoRepo) Delete(_ context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.convos[id]; ok {
		delete(f.byKey, c.ParticipantKey)
		delete(f.convos, id)
	}
	return nil
}

func (f *fakeConvoRepo) unreadFor(id primitive.ObjectID, userID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convos[id]
	if !ok {
		return 0
	}
	return c.UnreadFor(userID)
}

// fakeQueue records enqueued tasks.
type fakeQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
}

func (q *fakeQueue) Enqueue(_ context.Context, t queue.Task, _ ...queue.EnqueueOption) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
	return fmt.Sprintf("task-%d", len(q.tasks)), nil
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) enqueued() []queue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]queue.Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}
