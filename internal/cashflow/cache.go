package cashflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/uvr-coop/uvr/internal/shared"
)

const cachePrefix = "uvr:statement"

// CacheMetrics observes cache effectiveness.
type CacheMetrics interface {
	ObserveStatementCache(hit bool)
}

// RedisStatementCache stores statements under a per-account version. Every mutation of an
// account bumps its version, so stale payloads are never read again and simply expire.
type RedisStatementCache struct {
	client  *redis.Client
	ttl     time.Duration
	group   singleflight.Group
	metrics CacheMetrics
	logger  *slog.Logger
}

// NewRedisStatementCache instantiates the cache. metrics may be nil.
func NewRedisStatementCache(client *redis.Client, ttl time.Duration, metrics CacheMetrics, logger *slog.Logger) *RedisStatementCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStatementCache{client: client, ttl: ttl, metrics: metrics, logger: logger}
}

func versionKey(accountID int64) string {
	return cachePrefix + ":version:" + strconv.FormatInt(accountID, 10)
}

// Version returns the account's current version, zero when never bumped.
func (c *RedisStatementCache) Version(ctx context.Context, accountID int64) (int64, error) {
	ver, err := c.client.Get(ctx, versionKey(accountID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

func (c *RedisStatementCache) key(ctx context.Context, accountID int64, from, to shared.Date) (string, error) {
	ver, err := c.Version(ctx, accountID)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{
		cachePrefix,
		strconv.FormatInt(accountID, 10),
		"v" + strconv.FormatInt(ver, 10),
		from.String(),
		to.String(),
	}, ":"), nil
}

// Load returns the cached statement or builds it with load. Concurrent misses for the same
// key share one load.
func (c *RedisStatementCache) Load(ctx context.Context, accountID int64, from, to shared.Date, load func(context.Context) (Statement, error)) (Statement, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}
	key, err := c.key(ctx, accountID, from, to)
	if err != nil {
		return load(ctx)
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var st Statement
		if err := json.Unmarshal(payload, &st); err == nil {
			c.observe(true)
			return st, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return load(ctx)
	}
	c.observe(false)

	// The shared load outlives any single caller; waiters joining it must not inherit
	// the first caller's cancellation.
	loadCtx := context.WithoutCancel(ctx)
	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		st, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("encode statement: %w", err)
		}
		if err := c.client.Set(loadCtx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Debug("statement cache write failed",
				slog.String("key", key),
				slog.Any("error", err))
		}
		return st, nil
	})
	select {
	case <-ctx.Done():
		return Statement{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Statement{}, res.Err
		}
		return res.Val.(Statement), nil
	}
}

// Invalidate bumps the version of every account given.
func (c *RedisStatementCache) Invalidate(ctx context.Context, accountIDs ...int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	seen := make(map[int64]bool, len(accountIDs))
	for _, id := range accountIDs {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		if err := c.client.Incr(ctx, versionKey(id)).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (c *RedisStatementCache) observe(hit bool) {
	if c.metrics != nil {
		c.metrics.ObserveStatementCache(hit)
	}
}

var _ StatementCache = (*RedisStatementCache)(nil)
