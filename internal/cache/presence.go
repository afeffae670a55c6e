package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence is the simple online/offline flag exposed on session reads.
// Users are members of one Redis set; the set itself ages out so a crashed
// client cannot stay "online" forever.
type Presence struct {
	rdb *redis.Client
}

const onlineKey = "online_users"

func NewPresence(rdb *redis.Client) *Presence {
	return &Presence{rdb: rdb}
}

func (p *Presence) MarkOnline(ctx context.Context, userID string) error {
	if err := p.rdb.SAdd(ctx, onlineKey, userID).Err(); err != nil {
		return fmt.Errorf("MarkOnline failed: %w", err)
	}
	p.rdb.Expire(ctx, onlineKey, 24*time.Hour)
	return nil
}

func (p *Presence) MarkOffline(ctx context.Context, userID string) error {
	return p.rdb.SRem(ctx, onlineKey, userID).Err()
}

func (p *Presence) IsOnline(ctx context.Context, userID string) (bool, error) {
	return p.rdb.SIsMember(ctx, onlineKey, userID).Result()
}
