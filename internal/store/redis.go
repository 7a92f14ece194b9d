package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xiaot623/paygate/internal/domain"
)

const redisIndexKey = "paygate:sessions"

// Per-session keys share a hash tag so scripts touching them stay on one slot.
func sessionKey(id string) string  { return "paygate:session:{" + id + "}" }
func messagesKey(id string) string { return "paygate:messages:{" + id + "}" }
func filesKey(id string) string    { return "paygate:files:{" + id + "}" }

var (
	appendMessageScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

	appendFileScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], 'NX', redis.call('ZCARD', KEYS[2]), ARGV[1])
return 1
`)

	// Returns 0 when the session is missing, 2 when it was already paid.
	markPaidScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if redis.call('HGET', KEYS[1], 'is_paid') == '1' then
	return 2
end
redis.call('HSET', KEYS[1], 'is_paid', '1', 'payment_ref', ARGV[1], 'job_id', ARGV[2])
return 1
`)

	deleteSessionScript = redis.NewScript(`
local n = redis.call('DEL', KEYS[1])
redis.call('DEL', KEYS[2], KEYS[3])
return n
`)
)

// RedisStore implements Store on top of Redis. Each session is a hash plus a
// message list and a file-ref sorted set; a global sorted set indexes sessions
// by creation time.
type RedisStore struct {
	client *redis.Client
	opts   options
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{client: client, opts: newOptions(opts)}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// CreateSession creates a new session.
func (s *RedisStore) CreateSession(ctx context.Context) (*domain.Session, error) {
	id := s.opts.newID()
	createdAt := s.opts.now().UnixMilli()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey(id), map[string]any{
			"id":         id,
			"is_paid":    "0",
			"created_at": createdAt,
		})
		pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(createdAt), Member: id})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &domain.Session{
		ID:        id,
		Messages:  []domain.ChatMessage{},
		FileRefs:  []string{},
		CreatedAt: time.UnixMilli(createdAt),
	}, nil
}

// GetSession retrieves a session by ID, or nil if it does not exist.
func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var (
		fields   *redis.MapStringStringCmd
		messages *redis.StringSliceCmd
		files    *redis.StringSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, sessionKey(sessionID))
		messages = pipe.LRange(ctx, messagesKey(sessionID), 0, -1)
		files = pipe.ZRange(ctx, filesKey(sessionID), 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(fields.Val()) == 0 {
		return nil, nil
	}
	return decodeSession(fields.Val(), messages.Val(), files.Val())
}

func decodeSession(fields map[string]string, rawMessages, files []string) (*domain.Session, error) {
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	session := &domain.Session{
		ID:         fields["id"],
		IsPaid:     fields["is_paid"] == "1",
		PaymentRef: fields["payment_ref"],
		JobID:      fields["job_id"],
		Messages:   make([]domain.ChatMessage, 0, len(rawMessages)),
		FileRefs:   append([]string{}, files...),
		CreatedAt:  time.UnixMilli(createdAt),
	}
	for _, raw := range rawMessages {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		session.Messages = append(session.Messages, msg)
	}
	return session, nil
}

// ListSessions lists all sessions ordered by creation time.
func (s *RedisStore) ListSessions(ctx context.Context) ([]domain.Session, error) {
	ids, err := s.client.ZRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]domain.Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		// Index entries can briefly outlive a concurrently deleted session.
		if session != nil {
			sessions = append(sessions, *session)
		}
	}
	return sessions, nil
}

// DeleteSession removes a session and its transcript.
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	n, err := deleteSessionScript.Run(ctx, s.client,
		[]string{sessionKey(sessionID), messagesKey(sessionID), filesKey(sessionID)}).Int()
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	if err := s.client.ZRem(ctx, redisIndexKey, sessionID).Err(); err != nil {
		return false, fmt.Errorf("remove session index: %w", err)
	}
	return n > 0, nil
}

// MarkPaid marks a session as paid unless it already is.
func (s *RedisStore) MarkPaid(ctx context.Context, sessionID, paymentRef, jobID string) (*domain.Session, error) {
	res, err := markPaidScript.Run(ctx, s.client, []string{sessionKey(sessionID)}, paymentRef, jobID).Int()
	if err != nil {
		return nil, fmt.Errorf("mark paid: %w", err)
	}
	if res == 0 {
		return nil, domain.SessionNotFound(sessionID)
	}
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.SessionNotFound(sessionID)
	}
	return session, nil
}

// AppendMessage appends a message to the session transcript.
func (s *RedisStore) AppendMessage(ctx context.Context, sessionID string, msg domain.ChatMessage) error {
	msg = s.opts.stamp(msg)
	msg.Timestamp = time.UnixMilli(msg.Timestamp.UnixMilli())
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	ok, err := appendMessageScript.Run(ctx, s.client,
		[]string{sessionKey(sessionID), messagesKey(sessionID)}, string(raw)).Int()
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if ok == 0 {
		return domain.SessionNotFound(sessionID)
	}
	return nil
}

// AppendFileRef attaches a file reference to the session.
func (s *RedisStore) AppendFileRef(ctx context.Context, sessionID, fileRef string) error {
	ok, err := appendFileScript.Run(ctx, s.client,
		[]string{sessionKey(sessionID), filesKey(sessionID)}, fileRef).Int()
	if err != nil {
		return fmt.Errorf("append file ref: %w", err)
	}
	if ok == 0 {
		return domain.SessionNotFound(sessionID)
	}
	return nil
}

// EvictOlderThan removes expired sessions. Each session is removed atomically;
// the sweep as a whole is not.
func (s *RedisStore) EvictOlderThan(ctx context.Context, maxAge time.Duration, keep ...string) (int, error) {
	cutoff := s.opts.now().Add(-maxAge).UnixMilli()
	ids, err := s.client.ZRangeByScore(ctx, redisIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan expired sessions: %w", err)
	}

	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}

	removed := 0
	for _, id := range ids {
		if kept[id] {
			continue
		}
		deleted, err := s.DeleteSession(ctx, id)
		if err != nil {
			return removed, err
		}
		if deleted {
			removed++
		}
	}
	return removed, nil
}
