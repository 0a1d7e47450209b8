package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type LinkCacheInterface interface {
	Get(ctx context.Context, code string) (*CachedLink, error)
	Set(ctx context.Context, code string, link *CachedLink, ttl time.Duration) error
	Delete(ctx context.Context, code string) error
}

// CachedLink is the resolver's view of a link. A zero TargetURL marks a
// cached miss (negative entry).
type CachedLink struct {
	LinkID      uuid.UUID  `json:"link_id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	TargetURL   string     `json:"target_url"`
	HasPassword bool       `json:"has_password"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Miss reports whether this entry caches a lookup miss.
func (c *CachedLink) Miss() bool {
	return c.TargetURL == ""
}

type LinkCache struct {
	client *redis.Client
}

func NewLinkCache(client *redis.Client) *LinkCache {
	return &LinkCache{client: client}
}

func (c *LinkCache) Get(ctx context.Context, code string) (*CachedLink, error) {
	val, err := c.client.Get(ctx, "link:"+code).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cached CachedLink
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func (c *LinkCache) Set(ctx context.Context, code string, link *CachedLink, ttl time.Duration) error {
	data, err := json.Marshal(link)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "link:"+code, data, ttl).Err()
}

func (c *LinkCache) Delete(ctx context.Context, code string) error {
	return c.client.Del(ctx, "link:"+code).Err()
}
