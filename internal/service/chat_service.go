package service

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"RoastMedia/internal/db"
	"RoastMedia/internal/event"
	"RoastMedia/internal/hub"
	"RoastMedia/internal/model"
	"RoastMedia/internal/repo"
)

var (
	ErrNotFound  = errors.New("conversation not found")
	ErrForbidden = errors.New("not a participant of this conversation")
	ErrBadInput  = errors.New("invalid request")
)

// ConversationSummary is one row of a user's inbox listing.
type ConversationSummary struct {
	ConversationID string    `json:"conversationId"`
	OtherID        string    `json:"otherId"`
	OtherOnline    bool      `json:"otherOnline"`
	LastMessage    string    `json:"lastMessage"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
	UnreadCount    int64     `json:"unreadCount"`
}

// ThreadPage is a page of a thread's history, returned after the
// open-thread delivery sweep has run.
type ThreadPage struct {
	ConversationID string                            `json:"conversationId"`
	Messages       *db.PaginatedResult[model.Message] `json:"messages"`
}

// ChatService backs the REST surface of the relay. The same delivery-state
// rules apply here as on the socket path: fetching a thread counts as
// opening it, so pending messages to the caller flip to Delivered and their
// senders get notified.
type ChatService interface {
	ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error)
	GetThread(ctx context.Context, userID, otherID string, page int64) (*ThreadPage, error)
	MarkSeen(ctx context.Context, userID, conversationID string, messageIDs []string) error
	DeleteConversation(ctx context.Context, userID, conversationID string) error
	ClearConversation(ctx context.Context, userID, conversationID string) error
}

type chatService struct {
	messages   repo.MessageRepository
	convos     repo.ConversationRepository
	registry   *hub.Registry
	dispatcher *hub.Dispatcher
	logger     *zap.Logger
}

func NewChatService(messages repo.MessageRepository, convos repo.ConversationRepository, registry *hub.Registry, dispatcher *hub.Dispatcher, logger *zap.Logger) ChatService {
	return &chatService{
		messages:   messages,
		convos:     convos,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (s *chatService) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	convos, err := s.convos.ConversationsFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]ConversationSummary, 0, len(convos))
	for i := range convos {
		other := convos[i].OtherParticipant(userID)
		summaries = append(summaries, ConversationSummary{
			ConversationID: convos[i].ID.Hex(),
			OtherID:        other,
			OtherOnline:    s.registry.IsOnline(other),
			LastMessage:    convos[i].LastMessage,
			LastMessageAt:  convos[i].LastMessageAt,
			UnreadCount:    convos[i].UnreadFor(userID),
		})
	}
	return summaries, nil
}

func (s *chatService) GetThread(ctx context.Context, userID, otherID string, page int64) (*ThreadPage, error) {
	if otherID == "" || otherID == userID {
		return nil, ErrBadInput
	}

	convo, err := s.convos.FindOrCreate(ctx, userID, otherID)
	if err != nil {
		return nil, err
	}

	// Mark pending messages to the caller as delivered before returning
	// history, and tell their senders in one batch.
	s.sweepDelivered(ctx, convo, userID)

	history, err := s.messages.History(ctx, convo.ID.Hex(), page)
	if err != nil {
		return nil, err
	}

	return &ThreadPage{
		ConversationID: convo.ID.Hex(),
		Messages:       history,
	}, nil
}

func (s *chatService) MarkSeen(ctx context.Context, userID, conversationID string, messageIDs []string) error {
	convoID, err := primitive.ObjectIDFromHex(conversationID)
	if err != nil {
		return ErrBadInput
	}
	ids := make([]primitive.ObjectID, 0, len(messageIDs))
	for _, h := range messageIDs {
		if id, parseErr := primitive.ObjectIDFromHex(h); parseErr == nil {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return ErrBadInput
	}

	seenAt := time.Now()
	modified, err := s.messages.MarkSeen(ctx, convoID, userID, ids, seenAt)
	if err != nil {
		return err
	}
	if modified == 0 {
		return nil
	}

	unseen, err := s.messages.UnseenCount(ctx, convoID, userID)
	if err == nil && unseen == 0 {
		if err := s.convos.ResetUnread(ctx, convoID, userID); err != nil {
			s.logger.Warn("reset unread failed",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
	}

	convo, err := s.convos.GetByID(ctx, conversationID)
	if err != nil {
		return nil
	}
	if other := convo.OtherParticipant(userID); other != "" {
		s.dispatcher.Notify(other, hub.Envelope(event.EventSeenNotice, model.SeenEvent{
			ConversationID: conversationID,
			MessageIDs:     messageIDs,
			SeenBy:         userID,
			SeenAt:         seenAt,
		}))
	}
	return nil
}

func (s *chatService) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	convo, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return err
	}

	if err := s.messages.DeleteByConversation(ctx, convo.ID); err != nil {
		return err
	}
	return s.convos.Delete(ctx, convo.ID)
}

func (s *chatService) ClearConversation(ctx context.Context, userID, conversationID string) error {
	convo, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return err
	}

	if err := s.messages.DeleteByConversation(ctx, convo.ID); err != nil {
		return err
	}

	// Keep the conversation so the thread stays in place client-side.
	for _, participant := range convo.ParticipantIDs {
		if err := s.convos.ResetUnread(ctx, convo.ID, participant); err != nil {
			s.logger.Warn("reset unread failed during clear",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
	}
	return s.convos.ClearPreview(ctx, convo.ID)
}

func (s *chatService) authorize(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	convo, err := s.convos.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrConversationGone) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !convo.HasParticipant(userID) {
		return nil, ErrForbidden
	}
	return convo, nil
}

func (s *chatService) sweepDelivered(ctx context.Context, convo *model.Conversation, userID string) {
	pending, err := s.messages.FindPendingInConversation(ctx, convo.ID, userID)
	if err != nil {
		s.logger.Warn("thread sweep query failed",
			zap.String("conversation_id", convo.ID.Hex()),
			zap.Error(err),
		)
		return
	}
	if len(pending) == 0 {
		return
	}

	deliveredAt := time.Now()
	ids := make([]primitive.ObjectID, 0, len(pending))
	hex := make([]string, 0, len(pending))
	for i := range pending {
		ids = append(ids, pending[i].ID)
		hex = append(hex, pending[i].ID.Hex())
	}

	if _, err := s.messages.MarkDelivered(ctx, ids, deliveredAt); err != nil {
		s.logger.Warn("thread sweep transition failed",
			zap.String("conversation_id", convo.ID.Hex()),
			zap.Error(err),
		)
		return
	}

	if other := convo.OtherParticipant(userID); other != "" {
		s.dispatcher.Notify(other, hub.Envelope(event.EventDelivered, model.DeliveredEvent{
			ConversationID: convo.ID.Hex(),
			MessageIDs:     hex,
			DeliveredAt:    deliveredAt,
		}))
	}
}
