package repo

import (
	"RoastMedia/internal/db"
	"RoastMedia/internal/model"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var (
	ErrInvalidParticipants = errors.New("invalid participants: two distinct user ids required")
	ErrConversationGone    = errors.New("conversation not found")
)

type conversationRepository struct {
	con       *mongo.Database
	mongoRepo *db.Repository[model.Conversation]
	logger    *zap.Logger
}

// ConversationRepository resolves and maintains 1:1 conversation records.
type ConversationRepository interface {
	FindOrCreate(ctx context.Context, userA, userB string) (*model.Conversation, error)
	GetByID(ctx context.Context, conversationID string) (*model.Conversation, error)
	ConversationsFor(ctx context.Context, userID string) ([]model.Conversation, error)
	Touch(ctx context.Context, id primitive.ObjectID, preview string, at time.Time) error
	IncrementUnread(ctx context.Context, id primitive.ObjectID, userID string) error
	ResetUnread(ctx context.Context, id primitive.ObjectID, userID string) error
	ClearPreview(ctx context.Context, id primitive.ObjectID) error
	Delete(ctx context.Context, id primitive.ObjectID) error
}

func NewConversationRepository(mongo *mongo.Database, repo *db.Repository[model.Conversation], logger *zap.Logger) ConversationRepository {
	return &conversationRepository{
		con:       mongo,
		mongoRepo: repo,
		logger:    logger,
	}
}

// FindOrCreate returns the canonical conversation for an unordered user
// pair, creating it when absent. The upsert keys on the unique participant
// key, so when two first-contacts race, the loser decodes the winner's
// document instead of erroring.
func (r *conversationRepository) FindOrCreate(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, ErrInvalidParticipants
	}

	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	pair := model.CanonicalPair(userA, userB)
	key := model.PairKey(userA, userB)
	now := time.Now()

	filter := db.NewFilter().Eq("participant_key", key).Build()
	onInsert := bson.M{
		"participant_ids": pair[:],
		"participant_key": key,
		"last_message":    "",
		"last_message_at": now,
		"unread_counts":   bson.M{},
		"created_at":      now,
		"updated_at":      now,
	}

	convo, err := r.mongoRepo.FindOneAndUpsert(ctx, filter, onInsert)
	if err != nil {
		// A concurrent upsert can still lose on the unique index; the
		// winner's document is there to re-read.
		if mongo.IsDuplicateKeyError(err) {
			return r.mongoRepo.FindOne(ctx, filter)
		}
		r.logger.Error("conversation upsert failed",
			zap.String("participant_key", key),
			zap.Error(err),
		)
		return nil, fmt.Errorf("resolve conversation failed: %w", err)
	}

	return convo, nil
}

func (r *conversationRepository) GetByID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := r.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	convo, err := r.mongoRepo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationGone
		}
		r.logger.Error("failed to fetch conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("fetch conversation failed: %w", err)
	}
	return convo, nil
}

// ConversationsFor returns every conversation the user participates in,
// most recently active first.
func (r *conversationRepository) ConversationsFor(ctx context.Context, userID string) ([]model.Conversation, error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("participant_ids", userID).Build()
	opts := options.Find().SetSort(bson.M{"last_message_at": -1})
	return r.mongoRepo.FindAll(ctx, filter, opts)
}

// Touch records the latest message preview and activity timestamp.
func (r *conversationRepository) Touch(ctx context.Context, id primitive.ObjectID, preview string, at time.Time) error {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.mongoRepo.UpdateByID(ctx, id, bson.M{
		"last_message":    preview,
		"last_message_at": at,
		"updated_at":      at,
	})
	if err != nil {
		r.logger.Error("touch conversation failed",
			zap.String("conversation_id", id.Hex()),
			zap.Error(err),
		)
		return fmt.Errorf("touch conversation failed: %w", err)
	}
	return nil
}

func (r *conversationRepository) IncrementUnread(ctx context.Context, id primitive.ObjectID, userID string) error {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.mongoRepo.Collection().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"unread_counts." + userID: 1}},
	)
	if err != nil {
		r.logger.Error("increment unread failed",
			zap.String("conversation_id", id.Hex()),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return fmt.Errorf("increment unread failed: %w", err)
	}
	return nil
}

func (r *conversationRepository) ResetUnread(ctx context.Context, id primitive.ObjectID, userID string) error {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.mongoRepo.UpdateByID(ctx, id, bson.M{
		"unread_counts." + userID: int64(0),
	})
	if err != nil {
		r.logger.Error("reset unread failed",
			zap.String("conversation_id", id.Hex()),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return fmt.Errorf("reset unread failed: %w", err)
	}
	return nil
}

// ClearPreview blanks the last-message preview after a participant clears
// the thread; the conversation itself stays in place.
func (r *conversationRepository) ClearPreview(ctx context.Context, id primitive.ObjectID) error {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.mongoRepo.UpdateByID(ctx, id, bson.M{
		"last_message": "",
		"updated_at":   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("clear preview failed: %w", err)
	}
	return nil
}

func (r *conversationRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.mongoRepo.DeleteByID(ctx, id)
	if err != nil {
		r.logger.Error("delete conversation failed",
			zap.String("conversation_id", id.Hex()),
			zap.Error(err),
		)
		return fmt.Errorf("delete conversation failed: %w", err)
	}
	return nil
}

func (r *conversationRepository) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
