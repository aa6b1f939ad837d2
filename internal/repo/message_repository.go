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
	"go.uber.org/zap"
)

var (
	ErrInvalidMessage        = errors.New("invalid message: message cannot be nil or empty")
	ErrInvalidConversationID = errors.New("invalid conversation ID: cannot be empty")
	ErrNoMessageIDs          = errors.New("no message ids supplied")
	ErrOperationTimeout      = errors.New("operation timeout exceeded")
)

const (
	// Timeouts
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second

	// Retry configuration
	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second

	historyPageSize = 30
)

type messageRepository struct {
	con       *mongo.Database
	mongoRepo *db.Repository[model.Message]
	logger    *zap.Logger
}

// MessageRepository is the persistence boundary for messages. Delivery-state
// updates filter on the current status so transitions stay monotonic no
// matter how callers race.
type MessageRepository interface {
	InsertMessage(ctx context.Context, msg *model.Message) (*model.Message, error)
	MarkDelivered(ctx context.Context, ids []primitive.ObjectID, at time.Time) (int64, error)
	MarkSeen(ctx context.Context, conversationID primitive.ObjectID, receiverID string, ids []primitive.ObjectID, at time.Time) (int64, error)
	FindPendingFor(ctx context.Context, receiverID string) ([]model.Message, error)
	FindPendingInConversation(ctx context.Context, conversationID primitive.ObjectID, receiverID string) ([]model.Message, error)
	UnseenCount(ctx context.Context, conversationID primitive.ObjectID, receiverID string) (int64, error)
	History(ctx context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error)
	DeleteByConversation(ctx context.Context, conversationID primitive.ObjectID) error
}

func NewMessageRepository(mongo *mongo.Database, repo *db.Repository[model.Message], logger *zap.Logger) MessageRepository {
	return &messageRepository{
		con:       mongo,
		mongoRepo: repo,
		logger:    logger,
	}
}

// -----------------------------------------------------------------------------
// InsertMessage
// -----------------------------------------------------------------------------

func (m *messageRepository) InsertMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if msg == nil || !msg.HasContent() {
		return nil, ErrInvalidMessage
	}
	if msg.ConversationID.IsZero() {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := m.waitForRetry(ctx, attempt); err != nil {
				return nil, err
			}
		}

		result, err := m.mongoRepo.Create(ctx, *msg)
		if err == nil {
			if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
				msg.ID = oid
			}
			m.logger.Info("message inserted",
				zap.String("message_id", msg.ID.Hex()),
				zap.String("conversation_id", msg.ConversationID.Hex()),
				zap.Int("attempt", attempt+1),
			)
			return msg, nil
		}

		lastErr = err
		if !m.isRetryableError(err) {
			break
		}

		m.logger.Warn("insert attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
		)
	}

	m.logger.Error("failed to insert message after all retries",
		zap.Error(lastErr),
		zap.String("conversation_id", msg.ConversationID.Hex()),
	)
	return nil, fmt.Errorf("insert message failed: %w", lastErr)
}

// -----------------------------------------------------------------------------
// Delivery-state transitions
// -----------------------------------------------------------------------------

// MarkDelivered advances the given messages from Sent to Delivered. Messages
// already at Delivered or Seen are left untouched, which makes the catch-up
// sweep and live delivery safe to race on the same ids.
func (m *messageRepository) MarkDelivered(ctx context.Context, ids []primitive.ObjectID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, ErrNoMessageIDs
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		In("_id", ids).
		Eq("status", model.StatusSent).
		Build()

	result, err := m.mongoRepo.UpdateMany(ctx, filter, bson.M{
		"status":       model.StatusDelivered,
		"delivered_at": at,
	})
	if err != nil {
		m.logger.Error("mark delivered failed", zap.Error(err), zap.Int("ids", len(ids)))
		return 0, fmt.Errorf("mark delivered failed: %w", err)
	}

	m.logger.Debug("messages marked delivered",
		zap.Int64("modified", result.ModifiedCount),
		zap.Int("requested", len(ids)),
	)
	return result.ModifiedCount, nil
}

// MarkSeen advances the given messages to Seen, scoped to the acknowledging
// receiver and conversation so clients cannot ack messages outside their own
// receiver scope. A message acked while still Sent gets its delivered
// timestamp stamped in the same pass.
func (m *messageRepository) MarkSeen(ctx context.Context, conversationID primitive.ObjectID, receiverID string, ids []primitive.ObjectID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, ErrNoMessageIDs
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	scope := db.NewFilter().
		In("_id", ids).
		Eq("conversation_id", conversationID).
		Eq("receiver_id", receiverID)

	// Backfill delivered_at on any still-Sent message covered by the ack.
	backfill := db.NewFilter().
		In("_id", ids).
		Eq("conversation_id", conversationID).
		Eq("receiver_id", receiverID).
		Eq("delivered_at", nil).
		Build()
	if _, err := m.mongoRepo.UpdateMany(ctx, backfill, bson.M{"delivered_at": at}); err != nil {
		m.logger.Error("seen backfill failed", zap.Error(err))
		return 0, fmt.Errorf("mark seen failed: %w", err)
	}

	filter := scope.Lt("status", model.StatusSeen).Build()
	result, err := m.mongoRepo.UpdateMany(ctx, filter, bson.M{
		"status":  model.StatusSeen,
		"seen_at": at,
	})
	if err != nil {
		m.logger.Error("mark seen failed", zap.Error(err),
			zap.String("conversation_id", conversationID.Hex()),
			zap.String("receiver_id", receiverID),
		)
		return 0, fmt.Errorf("mark seen failed: %w", err)
	}

	return result.ModifiedCount, nil
}

// -----------------------------------------------------------------------------
// Pending queries
// -----------------------------------------------------------------------------

func (m *messageRepository) FindPendingFor(ctx context.Context, receiverID string) ([]model.Message, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("receiver_id", receiverID).
		Eq("status", model.StatusSent).
		Build()

	return m.mongoRepo.FindAll(ctx, filter)
}

func (m *messageRepository) FindPendingInConversation(ctx context.Context, conversationID primitive.ObjectID, receiverID string) ([]model.Message, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("receiver_id", receiverID).
		Eq("status", model.StatusSent).
		Build()

	return m.mongoRepo.FindAll(ctx, filter)
}

// UnseenCount counts messages in the conversation the receiver has not yet
// acknowledged. Used to decide when a seen ack covers the full pending set.
func (m *messageRepository) UnseenCount(ctx context.Context, conversationID primitive.ObjectID, receiverID string) (int64, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("receiver_id", receiverID).
		Lt("status", model.StatusSeen).
		Build()

	return m.mongoRepo.Count(ctx, filter)
}

// -----------------------------------------------------------------------------
// History
// -----------------------------------------------------------------------------

func (m *messageRepository) History(ctx context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().ObjectID("conversation_id", conversationID).Build()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := m.waitForRetry(ctx, attempt); err != nil {
				return nil, err
			}
			m.logger.Warn("retrying history query",
				zap.String("conversation_id", conversationID),
				zap.Int("attempt", attempt+1),
			)
		}

		result, err := m.mongoRepo.FindWithPagination(ctx, filter, db.PaginationParams{
			Page:     page,
			PageSize: historyPageSize,
			SortBy:   "created_at",
			SortDesc: false,
		})
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !m.isRetryableError(err) {
			break
		}
	}

	return nil, m.handleReadError(lastErr, conversationID)
}

func (m *messageRepository) DeleteByConversation(ctx context.Context, conversationID primitive.ObjectID) error {
	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("conversation_id", conversationID).Build()
	result, err := m.mongoRepo.DeleteMany(ctx, filter)
	if err != nil {
		m.logger.Error("delete messages failed", zap.Error(err),
			zap.String("conversation_id", conversationID.Hex()))
		return fmt.Errorf("delete messages failed: %w", err)
	}

	m.logger.Info("conversation messages deleted",
		zap.String("conversation_id", conversationID.Hex()),
		zap.Int64("deleted", result.DeletedCount),
	)
	return nil
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

func (m *messageRepository) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (m *messageRepository) waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (m *messageRepository) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return true
	}
	return false
}

func (m *messageRepository) handleReadError(err error, conversationID string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		m.logger.Error("read timeout", zap.String("conversation_id", conversationID))
		return ErrOperationTimeout
	}
	if errors.Is(err, context.Canceled) {
		m.logger.Debug("read cancelled", zap.String("conversation_id", conversationID))
		return err
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}

	m.logger.Error("read failed", zap.Error(err), zap.String("conversation_id", conversationID))
	return fmt.Errorf("history query failed: %w", err)
}
