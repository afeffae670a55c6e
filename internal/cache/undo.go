package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/session-service/internal/domain"
)

// UndoCache keeps the message ids of a user's recent soft-delete batch so
// the delete can be reversed. One Redis set per (user, conversation); the
// TTL is reset on every write, so repeated deletes keep merging into the
// same pending batch. Expiry is Redis's job, not ours.
type UndoCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewUndoCache(rdb *redis.Client, ttl time.Duration) *UndoCache {
	return &UndoCache{rdb: rdb, ttl: ttl}
}

func undoKey(userID, conversationID string) string {
	return fmt.Sprintf("undo:%s:%s", userID, conversationID)
}

// Merge adds ids to the pending batch and restarts the TTL clock.
func (c *UndoCache) Merge(ctx context.Context, userID, conversationID string, ids []string) error {
	key := undoKey(userID, conversationID)
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	pipe := c.rdb.TxPipeline()
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}
	return nil
}

// Take consumes the pending batch in one shot. A missing or expired key is
// domain.ErrNotFound; the entry is gone either way after a successful call.
func (c *UndoCache) Take(ctx context.Context, userID, conversationID string) ([]string, error) {
	key := undoKey(userID, conversationID)
	ids, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}
	if len(ids) == 0 {
		return nil, domain.ErrNotFound
	}
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}
	return ids, nil
}
