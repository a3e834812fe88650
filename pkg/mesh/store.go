package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store provides workspace-scoped Redis persistence for every mesh record:
// messages, plans, negotiations, drift reports, insight routes, the policy
// and arbitrary key/value state. All keys and channels are automatically
// namespaced with the workspace ID. The store is safe for concurrent use.
type Store struct {
	rdb         *redis.Client
	workspaceID string
}

// NewStore creates a store for the given workspace.
// Returns an error if workspaceID is empty.
func NewStore(redisOpts *redis.Options, workspaceID string) (*Store, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspace ID cannot be empty")
	}

	return &Store{
		rdb:         redis.NewClient(redisOpts),
		workspaceID: workspaceID,
	}, nil
}

// WorkspaceID returns the workspace this store is scoped to.
func (s *Store) WorkspaceID() string {
	return s.workspaceID
}

// Close closes the Redis connection. Implements io.Closer.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// IsNotFound returns true if the error is a Redis "key not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}

// CreateMessage persists a message and publishes it on the message events
// channel. The message must be in pending status. Creation is idempotent on
// the message ID: re-sending an already-persisted ID is a no-op, which makes
// the client-generated UUID double as an idempotency key on retries.
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	if m.Status != MessageStatusPending {
		return fmt.Errorf("new message must be pending, got %q", m.Status)
	}

	key := MessageKey(s.workspaceID, m.ID)

	// Idempotency: a retried send with the same ID must not duplicate.
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check message existence: %w", err)
	}
	if exists > 0 {
		return nil
	}

	hash, err := MessageToHash(m)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	if err := s.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write message to Redis: %w", err)
	}

	// Index for FIFO cycle processing.
	z := redis.Z{Score: float64(m.CreatedAt.UnixMilli()), Member: m.ID}
	if err := s.rdb.ZAdd(ctx, PendingMessagesKey(s.workspaceID), z).Err(); err != nil {
		return fmt.Errorf("failed to index pending message: %w", err)
	}

	// Subsystem targets poll an inbox; engine targets are dispatched directly.
	if m.Target.IsSubsystem() {
		if err := s.rdb.RPush(ctx, SystemInboxKey(s.workspaceID, m.Target), m.ID).Err(); err != nil {
			return fmt.Errorf("failed to enqueue message for %s: %w", m.Target, err)
		}
	}

	msgJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message for event: %w", err)
	}
	if err := s.rdb.Publish(ctx, MessageEventsChannel(s.workspaceID), msgJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish message event: %w", err)
	}

	return nil
}

// GetMessage retrieves a message by ID.
// Returns (nil, redis.Nil) if the message doesn't exist.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	key := MessageKey(s.workspaceID, messageID)

	hashData, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read message from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	msg, err := HashToMessage(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %w", err)
	}

	return msg, nil
}

// MarkProcessed performs the single allowed terminal transition
// pending -> completed, recording the handler's result.
// Returns an error if the message is already terminal.
func (s *Store) MarkProcessed(ctx context.Context, messageID, result string) error {
	return s.finalizeMessage(ctx, messageID, MessageStatusCompleted, result, "")
}

// MarkFailed performs the single allowed terminal transition
// pending -> failed, recording the error.
// Returns an error if the message is already terminal.
func (s *Store) MarkFailed(ctx context.Context, messageID, errMsg string) error {
	return s.finalizeMessage(ctx, messageID, MessageStatusFailed, "", errMsg)
}

func (s *Store) finalizeMessage(ctx context.Context, messageID string, status MessageStatus, result, errMsg string) error {
	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to load message %s: %w", messageID, err)
	}
	if msg.Status.Terminal() {
		return fmt.Errorf("message %s is already %s, cannot transition to %s", messageID, msg.Status, status)
	}

	now := time.Now().UTC()
	key := MessageKey(s.workspaceID, messageID)
	fields := map[string]interface{}{
		"status":       string(status),
		"result":       result,
		"error":        errMsg,
		"processed_at": now.UnixMilli(),
	}
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to finalize message: %w", err)
	}

	if err := s.rdb.ZRem(ctx, PendingMessagesKey(s.workspaceID), messageID).Err(); err != nil {
		return fmt.Errorf("failed to remove message from pending index: %w", err)
	}

	return nil
}

// PendingMessages returns up to limit pending messages in creation order.
func (s *Store) PendingMessages(ctx context.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}

	ids, err := s.rdb.ZRange(ctx, PendingMessagesKey(s.workspaceID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pending index: %w", err)
	}

	messages := make([]*Message, 0, len(ids))
	for _, id := range ids {
		msg, err := s.GetMessage(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				// Stale index entry; drop it and move on.
				s.rdb.ZRem(ctx, PendingMessagesKey(s.workspaceID), id)
				continue
			}
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// MessagesForSystem pops up to limit queued messages for a subsystem inbox.
// Supports polling-style consumption by subsystems that cannot receive
// pushes. Popped messages remain pending until the consumer finalizes them.
func (s *Store) MessagesForSystem(ctx context.Context, system Participant, limit int) ([]*Message, error) {
	if !system.IsSubsystem() {
		return nil, fmt.Errorf("%q is not a subsystem", system)
	}
	if limit <= 0 {
		limit = 10
	}

	key := SystemInboxKey(s.workspaceID, system)
	ids, err := s.rdb.LPopCount(ctx, key, limit).Result()
	if err != nil {
		if IsNotFound(err) {
			return []*Message{}, nil
		}
		return nil, fmt.Errorf("failed to pop inbox for %s: %w", system, err)
	}

	messages := make([]*Message, 0, len(ids))
	for _, id := range ids {
		msg, err := s.GetMessage(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// SetState writes an arbitrary key/value state entry.
func (s *Store) SetState(ctx context.Context, name, value string) error {
	if err := s.rdb.Set(ctx, StateKey(s.workspaceID, name), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write state %q: %w", name, err)
	}
	return nil
}

// GetState reads an arbitrary key/value state entry.
// Returns ("", redis.Nil) if the entry doesn't exist.
func (s *Store) GetState(ctx context.Context, name string) (string, error) {
	val, err := s.rdb.Get(ctx, StateKey(s.workspaceID, name)).Result()
	if err != nil {
		if IsNotFound(err) {
			return "", redis.Nil
		}
		return "", fmt.Errorf("failed to read state %q: %w", name, err)
	}
	return val, nil
}

// IncrState atomically increments a numeric state entry and returns the new
// value. Used for usage counters (actions, contacts, tokens).
func (s *Store) IncrState(ctx context.Context, name string, by int64) (int64, error) {
	val, err := s.rdb.IncrBy(ctx, StateKey(s.workspaceID, name), by).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment state %q: %w", name, err)
	}
	return val, nil
}

// GetStateInt reads a numeric state entry, returning 0 if it doesn't exist.
func (s *Store) GetStateInt(ctx context.Context, name string) (int64, error) {
	val, err := s.GetState(ctx, name)
	if err != nil {
		if IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("state %q is not numeric: %w", name, err)
	}
	return n, nil
}
