package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements StorageBackend using Redis.
// It provides shared session storage for multi-instance deployments.
//
// Keys:
//
//	<prefix>meta:<id>      session metadata (JSON string)
//	<prefix>messages:<id>  message log (list of JSON)
//	<prefix>user:<uid>     sorted set of session IDs scored by updated_at
//	<prefix>activity       sorted set of all session IDs scored by updated_at
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`
	// Password is the Redis password (optional).
	Password string `yaml:"password"`
	// DB is the Redis database number.
	DB int `yaml:"db"`
	// Prefix is the key prefix for all session keys (default: "todo-assistant:").
	Prefix string `yaml:"prefix"`
	// SessionTTL is the session expiry duration (0 = never expire).
	SessionTTL time.Duration `yaml:"session_ttl"`
	// PoolSize is the connection pool size (default: 10).
	PoolSize int `yaml:"pool_size"`
}

const defaultRedisPrefix = "todo-assistant:"

// NewRedisBackend creates a new Redis storage backend.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisBackendFromClient(client, cfg.Prefix, cfg.SessionTTL), nil
}

// NewRedisBackendFromClient creates a Redis backend from an existing client.
func NewRedisBackendFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Key helpers
func (b *RedisBackend) sessionKey(sessionID string) string {
	return b.prefix + "meta:" + sessionID
}

func (b *RedisBackend) messagesKey(sessionID string) string {
	return b.prefix + "messages:" + sessionID
}

func (b *RedisBackend) userIndexKey(userID string) string {
	return b.prefix + "user:" + userID
}

func (b *RedisBackend) activityKey() string {
	return b.prefix + "activity"
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func (b *RedisBackend) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// queueSession adds the metadata write and index updates to pipe.
func (b *RedisBackend) queueSession(ctx context.Context, pipe redis.Pipeliner, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe.Set(ctx, b.sessionKey(sess.ID), data, b.ttl)
	pipe.ZAdd(ctx, b.userIndexKey(sess.UserID), redis.Z{Score: score(sess.UpdatedAt), Member: sess.ID})
	pipe.ZAdd(ctx, b.activityKey(), redis.Z{Score: score(sess.UpdatedAt), Member: sess.ID})
	return nil
}

// SaveSession creates or updates session metadata.
func (b *RedisBackend) SaveSession(ctx context.Context, sess *Session) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	pipe := b.client.TxPipeline()
	if err := b.queueSession(ctx, pipe, sess); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession retrieves session metadata by ID.
func (b *RedisBackend) LoadSession(ctx context.Context, sessionID string) (*Session, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	data, err := b.client.Get(ctx, b.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes a session and all its messages.
func (b *RedisBackend) DeleteSession(ctx context.Context, sessionID string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	// Load metadata to find the owner index entry
	sess, err := b.LoadSession(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.sessionKey(sessionID), b.messagesKey(sessionID))
	pipe.ZRem(ctx, b.activityKey(), sessionID)
	if sess != nil {
		pipe.ZRem(ctx, b.userIndexKey(sess.UserID), sessionID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListSessions returns a user's sessions ordered by UpdatedAt descending.
func (b *RedisBackend) ListSessions(ctx context.Context, opts ListOptions) ([]*Session, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	start := int64(max(opts.Offset, 0))
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}

	indexKey := b.userIndexKey(opts.UserID)
	ids, err := b.client.ZRevRange(ctx, indexKey, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := b.LoadSession(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				// Expired via TTL, clean up index
				b.client.ZRem(ctx, indexKey, id)
				b.client.ZRem(ctx, b.activityKey(), id)
				continue
			}
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// maxAppendRetries bounds optimistic retries when concurrent writers touch
// the same session between WATCH and EXEC.
const maxAppendRetries = 32

// AppendMessage pushes msg onto the log and rewrites metadata in one
// transaction guarded by WATCH on the metadata key. A session deleted
// concurrently fails with ErrSessionNotFound instead of being re-created.
func (b *RedisBackend) AppendMessage(ctx context.Context, sessionID string, msg *Message) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	metaKey := b.sessionKey(sessionID)
	proposed := msg.CreatedAt
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, metaKey).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("get session: %w", err)
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}

		msg.CreatedAt = proposed
		sess.Advance(msg)
		encoded, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, b.messagesKey(sessionID), encoded)
			if b.ttl > 0 {
				pipe.Expire(ctx, b.messagesKey(sessionID), b.ttl)
			}
			return b.queueSession(ctx, pipe, &sess)
		})
		return err
	}

	for range maxAppendRetries {
		err := b.client.Watch(ctx, txf, metaKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return fmt.Errorf("append message: %w", err)
		}
		return err
	}
	return fmt.Errorf("append message: %w", redis.TxFailedErr)
}

// LoadMessages returns the newest limit messages in append order.
func (b *RedisBackend) LoadMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	data, err := b.client.LRange(ctx, b.messagesKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	msgs := make([]*Message, 0, len(data))
	for _, d := range data {
		var msg Message
		if err := json.Unmarshal([]byte(d), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}

// DeleteIdleSessions removes sessions not updated since before.
func (b *RedisBackend) DeleteIdleSessions(ctx context.Context, before time.Time) (int, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}

	ids, err := b.client.ZRangeByScore(ctx, b.activityKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan idle sessions: %w", err)
	}

	for i, id := range ids {
		if err := b.DeleteSession(ctx, id); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}

// Close releases resources held by the backend.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.client.Close()
}

// Ping checks if the Redis connection is alive.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.client.Ping(ctx).Err()
}

var _ StorageBackend = (*RedisBackend)(nil)
