package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"finrag/internal/model"
)

// StatusCache keeps session processing state in redis so the 2-second poll
// loop never touches mysql on the happy path. Entries expire after the
// session TTL; the database row remains the source of truth until explicit
// deletion.
type StatusCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewStatusCache(client *redisv9.Client, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StatusCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *StatusCache) Get(ctx context.Context, sessionID string) (*model.SessionState, bool, error) {
	raw, err := c.client.Get(ctx, c.key(sessionID)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get session state failed: %w", err)
	}

	var state model.SessionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached session state failed: %w", err)
	}
	return &state, true, nil
}

func (c *StatusCache) Set(ctx context.Context, sessionID string, state model.SessionState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session state failed: %w", err)
	}
	if err := c.client.Set(ctx, c.key(sessionID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session state failed: %w", err)
	}
	return nil
}

func (c *StatusCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, c.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete session state failed: %w", err)
	}
	return nil
}

func (c *StatusCache) key(sessionID string) string {
	return "session:state:" + sessionID
}
