package calendars

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/timeslot"
	"github.com/redis/go-redis/v9"
)

// BusySource is anything that reports external busy time for a business day.
type BusySource interface {
	Busy(ctx context.Context, businessID, resourceID string, from, to time.Time) ([]timeslot.Interval, error)
}

type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedSource keeps complete busy answers in Redis for a short TTL so slot
// listings do not hit calendar APIs on every request. Answers that carried an
// error are never cached, and Redis trouble falls through to the source.
// Connecting or removing a calendar must call Invalidate, since an answer
// cached before the change would hide the new calendar until the TTL ran out.
type CachedSource struct {
	next   BusySource
	rdb    redisKV
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewCachedSource(next BusySource, rdb redisKV, ttl time.Duration, logger *slog.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{next: next, rdb: rdb, ttl: ttl, prefix: "busy", logger: logger}
}

type cachedInterval struct {
	Start time.Time `json:"s"`
	End   time.Time `json:"e"`
}

func (c *CachedSource) Busy(ctx context.Context, businessID, resourceID string, from, to time.Time) ([]timeslot.Interval, error) {
	key := fmt.Sprintf("%s:%s:%s:%d:%d", c.prefix, businessID, resourceID, from.Unix(), to.Unix())

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []cachedInterval
		if jerr := json.Unmarshal(raw, &cached); jerr == nil {
			out := make([]timeslot.Interval, 0, len(cached))
			for _, ci := range cached {
				out = append(out, timeslot.Interval{Start: ci.Start, End: ci.End})
			}
			return out, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("busy cache read failed", "key", key, "err", err)
	}

	busy, err := c.next.Busy(ctx, businessID, resourceID, from, to)
	if err != nil {
		return busy, err
	}

	cached := make([]cachedInterval, 0, len(busy))
	for _, iv := range busy {
		cached = append(cached, cachedInterval{Start: iv.Start, End: iv.End})
	}
	payload, _ := json.Marshal(cached)
	if serr := c.rdb.Set(ctx, key, payload, c.ttl).Err(); serr != nil {
		c.logger.Warn("busy cache write failed", "key", key, "err", serr)
	}
	return busy, nil
}

// Invalidate drops every cached answer for the business.
func (c *CachedSource) Invalidate(ctx context.Context, businessID string) error {
	match := fmt.Sprintf("%s:%s:*", c.prefix, businessID)
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return fmt.Errorf("scan busy cache: %w", err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("drop busy cache: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
