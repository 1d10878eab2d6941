// Package dailycounter tracks per-user daily message counts in Redis for the
// msgs_per_day soft cap.
package dailycounter

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

// Counter implements domain.DailyCounter on Redis. Keys expire shortly after
// UTC midnight so stale days clean themselves up.
type Counter struct {
	rdb *redis.Client
	now func() time.Time
}

// New constructs a Counter.
func New(rdb *redis.Client) *Counter {
	return &Counter{rdb: rdb, now: time.Now}
}

func (c *Counter) key(userID string, day time.Time) string {
	return fmt.Sprintf("afx:daily:%s:%s", userID, day.UTC().Format("2006-01-02"))
}

// Incr adds one to today's count and returns the new value.
func (c *Counter) Incr(ctx domain.Context, userID string) (int64, error) {
	now := c.now()
	key := c.key(userID, now)
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// Keep the key a bit past midnight so late readers still see the total.
	midnight := now.UTC().Truncate(24 * time.Hour).Add(25 * time.Hour)
	pipe.ExpireAt(ctx, key, midnight)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("op=dailycounter.Incr: %w", domain.ErrUnavailable)
	}
	return incr.Val(), nil
}

// Today returns today's count; zero when no sends happened yet.
func (c *Counter) Today(ctx domain.Context, userID string) (int64, error) {
	n, err := c.rdb.Get(ctx, c.key(userID, c.now())).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("op=dailycounter.Today: %w", domain.ErrUnavailable)
	}
	return n, nil
}
