package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// Deduper implements domain.Deduper with SET NX and a TTL.
type Deduper struct {
	c *Client
}

func NewDeduper(c *Client) *Deduper {
	return &Deduper{c: c}
}

// Seen records key and reports whether it was already present.
func (d *Deduper) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := d.c.rdb.SetNX(ctx, d.c.Key("dedup", key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: dedup %s: %w", key, err)
	}
	return !ok, nil
}

var _ domain.Deduper = (*Deduper)(nil)
