// Package cache holds short-lived derived state in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

const defaultPrefix = "ledger"

// ActivationCache stores activation states as JSON under
// <prefix>:activation:<user_id>. An entry for another month is a miss.
type ActivationCache struct {
	client redis.UniversalClient
	prefix string
}

// NewActivationCache creates a new ActivationCache instance.
func NewActivationCache(client redis.UniversalClient, prefix string) *ActivationCache {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &ActivationCache{client: client, prefix: prefix}
}

func (c *ActivationCache) key(userID uuid.UUID) string {
	return fmt.Sprintf("%s:activation:%s", c.prefix, userID)
}

// Get returns the cached state of userID for the month starting at period.
func (c *ActivationCache) Get(ctx context.Context, userID uuid.UUID, period time.Time) (*model.ActivationState, bool, error) {
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read activation cache: %w", err)
	}

	var state model.ActivationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false, fmt.Errorf("failed to decode activation cache entry: %w", err)
	}
	if !state.PeriodStart.Equal(period) {
		return nil, false, nil
	}
	return &state, true, nil
}

// Set stores state for ttl.
func (c *ActivationCache) Set(ctx context.Context, state *model.ActivationState, ttl time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode activation state: %w", err)
	}
	if err := c.client.Set(ctx, c.key(state.UserID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write activation cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached state of userID.
func (c *ActivationCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate activation cache: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (c *ActivationCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
