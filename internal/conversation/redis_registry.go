package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "conversation:"

// RedisRegistry stores sessions as JSON values that expire after the
// inactivity window, so sessions survive restarts and can be shared by
// several API processes.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry creates a registry whose keys expire after ttl
func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, ttl: ttl}
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (Session, bool, error) {
	raw, err := r.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("get session %s: %w", id, err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	return s, true, nil
}

func (r *RedisRegistry) Put(ctx context.Context, s Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ConversationID, err)
	}
	if err := r.client.Set(ctx, sessionKeyPrefix+s.ConversationID, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("put session %s: %w", s.ConversationID, err)
	}
	return nil
}

func (r *RedisRegistry) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, sessionKeyPrefix+id).Err()
}

// Sweep removes sessions idle since before cutoff. Key expiry normally gets
// there first; this catches sessions written with a longer TTL.
func (r *RedisRegistry) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		s, ok, err := r.Get(ctx, key[len(sessionKeyPrefix):])
		if err != nil || !ok {
			continue
		}
		if s.LastActivityAt.Before(cutoff) {
			if err := r.client.Del(ctx, key).Err(); err != nil {
				return n, fmt.Errorf("sweep session %s: %w", s.ConversationID, err)
			}
			n++
		}
	}
	return n, iter.Err()
}
