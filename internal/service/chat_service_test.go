package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"RoastMedia/internal/db"
	"RoastMedia/internal/event"
	"RoastMedia/internal/hub"
	"RoastMedia/internal/model"
	"RoastMedia/internal/repo"
)

// recordingConn satisfies hub.Conn so dispatcher fan-out is observable.
type recordingConn struct {
	id     string
	userID string

	mu     sync.Mutex
	active string
	events []event.WsEvent
}

func (c *recordingConn) ID() string                 { return c.id }
func (c *recordingConn) UserID() string             { return c.userID }
func (c *recordingConn) ActiveConversation() string { return c.active }
func (c *recordingConn) SetActiveConversation(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = id
}
func (c *recordingConn) SafeSend(ev event.WsEvent, _ time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return true
}
func (c *recordingConn) Close() {}

func (c *recordingConn) eventsNamed(name string) []event.WsEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []event.WsEvent
	for _, ev := range c.events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

type memMessages struct {
	mu   sync.Mutex
	data map[primitive.ObjectID]*model.Message
}

func newMemMessages() *memMessages {
	return &memMessages{data: make(map[primitive.ObjectID]*model.Message)}
}

func (m *memMessages) add(convoID primitive.ObjectID, sender, receiver, body string, status model.DeliveryStatus) primitive.ObjectID {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &model.Message{
		ID:             primitive.NewObjectID(),
		ConversationID: convoID,
		SenderID:       sender,
		ReceiverID:     receiver,
		Body:           body,
		Status:         status,
		CreatedAt:      time.Now(),
	}
	m.data[msg.ID] = msg
	return msg.ID
}

func (m *memMessages) InsertMessage(_ context.Context, msg *model.Message) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	stored := *msg
	m.data[msg.ID] = &stored
	return msg, nil
}

func (m *memMessages) MarkDelivered(_ context.Context, ids []primitive.ObjectID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if msg, ok := m.data[id]; ok && msg.Status == model.StatusSent {
			msg.Status = model.StatusDelivered
			ts := at
			msg.DeliveredAt = &ts
			n++
		}
	}
	return n, nil
}

func (m *memMessages) MarkSeen(_ context.Context, convoID primitive.ObjectID, receiverID string, ids []primitive.ObjectID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		msg, ok := m.data[id]
		if !ok || msg.ConversationID != convoID || msg.ReceiverID != receiverID || msg.Status >= model.StatusSeen {
			continue
		}
		ts := at
		if msg.DeliveredAt == nil {
			msg.DeliveredAt = &ts
		}
		msg.Status = model.StatusSeen
		msg.SeenAt = &ts
		n++
	}
	return n, nil
}

func (m *memMessages) FindPendingFor(_ context.Context, receiverID string) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, msg := range m.data {
		if msg.ReceiverID == receiverID && msg.Status == model.StatusSent {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *memMessages) FindPendingInConversation(_ context.Context, convoID primitive.ObjectID, receiverID string) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, msg := range m.data {
		if msg.ConversationID == convoID && msg.ReceiverID == receiverID && msg.Status == model.StatusSent {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *memMessages) UnseenCount(_ context.Context, convoID primitive.ObjectID, receiverID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.data {
		if msg.ConversationID == convoID && msg.ReceiverID == receiverID && msg.Status < model.StatusSeen {
			n++
		}
	}
	return n, nil
}

func (m *memMessages) History(_ context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, msg := range m.data {
		if msg.ConversationID.Hex() == conversationID {
			out = append(out, *msg)
		}
	}
	return &db.PaginatedResult[model.Message]{Data: out, Total: int64(len(out)), Page: page}, nil
}

func (m *memMessages) DeleteByConversation(_ context.Context, convoID primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, msg := range m.data {
		if msg.ConversationID == convoID {
			delete(m.data, id)
		}
	}
	return nil
}

func (m *memMessages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func (m *memMessages) get(id primitive.ObjectID) model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.data[id]
}

type memConvos struct {
	mu   sync.Mutex
	data map[primitive.ObjectID]*model.Conversation
}

func newMemConvos() *memConvos {
	return &memConvos{data: make(map[primitive.ObjectID]*model.Conversation)}
}

func (m *memConvos) seed(userA, userB string) *model.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair := model.CanonicalPair(userA, userB)
	c := &model.Conversation{
		ID:             primitive.NewObjectID(),
		ParticipantIDs: pair[:],
		ParticipantKey: model.PairKey(userA, userB),
		UnreadCounts:   make(map[string]int64),
	}
	m.data[c.ID] = c
	return c
}

func (m *memConvos) FindOrCreate(_ context.Context, userA, userB string) (*model.Conversation, error) {
	m.mu.Lock()
	key := model.PairKey(userA, userB)
	for _, c := range m.data {
		if c.ParticipantKey == key {
			out := *c
			m.mu.Unlock()
			return &out, nil
		}
	}
	m.mu.Unlock()
	return m.seed(userA, userB), nil
}

func (m *memConvos) GetByID(_ context.Context, conversationID string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := primitive.ObjectIDFromHex(conversationID)
	if err != nil {
		return nil, repo.ErrConversationGone
	}
	c, ok := m.data[id]
	if !ok {
		return nil, repo.ErrConversationGone
	}
	out := *c
	return &out, nil
}

func (m *memConvos) ConversationsFor(_ context.Context, userID string) ([]model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Conversation
	for _, c := range m.data {
		if c.HasParticipant(userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memConvos) Touch(_ context.Context, id primitive.ObjectID, preview string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.data[id]; ok {
		c.LastMessage = preview
		c.LastMessageAt = at
	}
	return nil
}

func (m *memConvos) IncrementUnread(_ context.Context, id primitive.ObjectID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.data[id]; ok {
		c.UnreadCounts[userID]++
	}
	return nil
}

func (m *memConvos) ResetUnread(_ context.Context, id primitive.ObjectID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.data[id]; ok {
		c.UnreadCounts[userID] = 0
	}
	return nil
}

func (m *memConvos) ClearPreview(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.data[id]; ok {
		c.LastMessage = ""
	}
	return nil
}

func (m *memConvos) Delete(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[id]; !ok {
		return fmt.Errorf("not found")
	}
	delete(m.data, id)
	return nil
}

func (m *memConvos) exists(id primitive.ObjectID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[id]
	return ok
}

func newTestService(t *testing.T) (ChatService, *hub.Registry, *memMessages, *memConvos) {
	t.Helper()
	registry := hub.NewRegistry()
	dispatcher := hub.NewDispatcher(registry, nil)
	messages := newMemMessages()
	convos := newMemConvos()
	svc := NewChatService(messages, convos, registry, dispatcher, zap.NewNop())
	return svc, registry, messages, convos
}

func TestListConversations(t *testing.T) {
	svc, registry, _, convos := newTestService(t)

	convo := convos.seed("alice", "bob")
	convos.Touch(context.Background(), convo.ID, "last one", time.Now())
	convos.IncrementUnread(context.Background(), convo.ID, "alice")
	registry.Add("bob", &recordingConn{id: "b1", userID: "bob"})

	summaries, err := svc.ListConversations(context.Background(), "alice")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}

	s := summaries[0]
	if s.OtherID != "bob" {
		t.Errorf("expected other bob, got %s", s.OtherID)
	}
	if !s.OtherOnline {
		t.Error("bob is connected and should show online")
	}
	if s.LastMessage != "last one" {
		t.Errorf("unexpected preview %q", s.LastMessage)
	}
	if s.UnreadCount != 1 {
		t.Errorf("expected unread 1, got %d", s.UnreadCount)
	}
}

func TestGetThreadSweepsDelivery(t *testing.T) {
	svc, registry, messages, convos := newTestService(t)

	bobConn := &recordingConn{id: "b1", userID: "bob"}
	registry.Add("bob", bobConn)

	convo := convos.seed("alice", "bob")
	pending := messages.add(convo.ID, "bob", "alice", "while you were away", model.StatusSent)

	page, err := svc.GetThread(context.Background(), "alice", "bob", 1)
	if err != nil {
		t.Fatalf("get thread failed: %v", err)
	}
	if page.ConversationID != convo.ID.Hex() {
		t.Errorf("unexpected conversation id %s", page.ConversationID)
	}
	if page.Messages.Total != 1 {
		t.Errorf("expected 1 message in history, got %d", page.Messages.Total)
	}

	// Fetching the thread counts as opening it.
	if got := messages.get(pending); got.Status != model.StatusDelivered {
		t.Errorf("pending message should be delivered, got %v", got.Status)
	}
	if got := len(bobConn.eventsNamed(event.EventDelivered)); got != 1 {
		t.Errorf("sender should get 1 delivered event, got %d", got)
	}
}

func TestGetThreadBadInput(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	if _, err := svc.GetThread(context.Background(), "alice", "", 1); !errors.Is(err, ErrBadInput) {
		t.Errorf("expected ErrBadInput for empty other, got %v", err)
	}
	if _, err := svc.GetThread(context.Background(), "alice", "alice", 1); !errors.Is(err, ErrBadInput) {
		t.Errorf("expected ErrBadInput for self thread, got %v", err)
	}
}

func TestMarkSeenNotifiesSender(t *testing.T) {
	svc, registry, messages, convos := newTestService(t)

	aliceConn := &recordingConn{id: "a1", userID: "alice"}
	registry.Add("alice", aliceConn)

	convo := convos.seed("alice", "bob")
	msgID := messages.add(convo.ID, "alice", "bob", "hello", model.StatusDelivered)

	err := svc.MarkSeen(context.Background(), "bob", convo.ID.Hex(), []string{msgID.Hex()})
	if err != nil {
		t.Fatalf("mark seen failed: %v", err)
	}

	if got := messages.get(msgID); got.Status != model.StatusSeen {
		t.Errorf("message should be seen, got %v", got.Status)
	}
	if got := len(aliceConn.eventsNamed(event.EventSeenNotice)); got != 1 {
		t.Errorf("expected 1 seen notice, got %d", got)
	}

	// Acking again changes nothing and stays quiet.
	if err := svc.MarkSeen(context.Background(), "bob", convo.ID.Hex(), []string{msgID.Hex()}); err != nil {
		t.Fatalf("repeat ack failed: %v", err)
	}
	if got := len(aliceConn.eventsNamed(event.EventSeenNotice)); got != 1 {
		t.Errorf("repeat ack should not re-notify, got %d notices", got)
	}
}

func TestMarkSeenBadInput(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	if err := svc.MarkSeen(context.Background(), "bob", "not-an-id", []string{primitive.NewObjectID().Hex()}); !errors.Is(err, ErrBadInput) {
		t.Errorf("expected ErrBadInput for malformed conversation id, got %v", err)
	}
	if err := svc.MarkSeen(context.Background(), "bob", primitive.NewObjectID().Hex(), []string{"junk"}); !errors.Is(err, ErrBadInput) {
		t.Errorf("expected ErrBadInput when no id parses, got %v", err)
	}
}

func TestDeleteConversation(t *testing.T) {
	svc, _, messages, convos := newTestService(t)

	convo := convos.seed("alice", "bob")
	messages.add(convo.ID, "alice", "bob", "one", model.StatusSeen)
	messages.add(convo.ID, "bob", "alice", "two", model.StatusSeen)

	if err := svc.DeleteConversation(context.Background(), "alice", convo.ID.Hex()); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if convos.exists(convo.ID) {
		t.Error("conversation should be gone")
	}
	if messages.count() != 0 {
		t.Errorf("messages should be gone, %d remain", messages.count())
	}
}

func TestDeleteConversationAuthorization(t *testing.T) {
	svc, _, _, convos := newTestService(t)
	convo := convos.seed("alice", "bob")

	err := svc.DeleteConversation(context.Background(), "mallory", convo.ID.Hex())
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	err = svc.DeleteConversation(context.Background(), "alice", primitive.NewObjectID().Hex())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClearConversationKeepsThread(t *testing.T) {
	svc, _, messages, convos := newTestService(t)

	convo := convos.seed("alice", "bob")
	messages.add(convo.ID, "alice", "bob", "one", model.StatusSeen)
	convos.Touch(context.Background(), convo.ID, "one", time.Now())
	convos.IncrementUnread(context.Background(), convo.ID, "bob")

	if err := svc.ClearConversation(context.Background(), "alice", convo.ID.Hex()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	if !convos.exists(convo.ID) {
		t.Error("conversation record should survive a clear")
	}
	if messages.count() != 0 {
		t.Errorf("messages should be gone, %d remain", messages.count())
	}

	cleared, err := convos.GetByID(context.Background(), convo.ID.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if cleared.LastMessage != "" {
		t.Errorf("preview should be blank, got %q", cleared.LastMessage)
	}
	if cleared.UnreadFor("bob") != 0 {
		t.Error("unread counters should reset")
	}
}
