package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/wrench/pkg/observability"
)

// EffectiveCache memoizes resolved permission sets. Keys embed the profile
// version and the custom role generation, so any committed change makes old
// entries unreachable instead of requiring invalidation.
//
// L1 is an in-process LRU with TTL; L2 is an optional shared Redis.
type EffectiveCache struct {
	l1      *lru.LRU[string, *EffectivePermissionSet]
	redis   *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewEffectiveCache creates a cache. client may be nil to run L1 only.
func NewEffectiveCache(size int, ttl time.Duration, client *redis.Client, metrics *observability.Metrics, logger *observability.Logger) *EffectiveCache {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &EffectiveCache{
		l1:      lru.NewLRU[string, *EffectivePermissionSet](size, nil, ttl),
		redis:   client,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger,
	}
}

// NewRedisClient connects to the L2 cache and verifies it answers
func NewRedisClient(ctx context.Context, url, password string, db int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	if db > 0 {
		opts.DB = db
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func effectiveKey(profileID string, version, generation int64) string {
	return fmt.Sprintf("wrench:effective:%s:v%d:g%d", profileID, version, generation)
}

// Get returns a private copy of the cached set
func (c *EffectiveCache) Get(ctx context.Context, profileID string, version, generation int64) (*EffectivePermissionSet, bool) {
	key := effectiveKey(profileID, version, generation)

	if set, ok := c.l1.Get(key); ok {
		c.metrics.RecordCacheHit("l1")
		return set.clone(), true
	}
	c.metrics.RecordCacheMiss("l1")

	if c.redis == nil {
		return nil, false
	}

	data, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.metrics.RecordCacheMiss("l2")
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).Warn("effective cache read failed")
		c.metrics.RecordCacheMiss("l2")
		return nil, false
	}

	var set EffectivePermissionSet
	if err := json.Unmarshal(data, &set); err != nil {
		c.redis.Del(ctx, key)
		c.metrics.RecordCacheMiss("l2")
		return nil, false
	}
	c.metrics.RecordCacheHit("l2")
	c.l1.Add(key, set.clone())
	return &set, true
}

// Put stores a copy of set under the version and generation it was
// resolved at. L2 failures are logged and ignored.
func (c *EffectiveCache) Put(ctx context.Context, set *EffectivePermissionSet, generation int64) {
	key := effectiveKey(set.ProfileID, set.ProfileVersion, generation)
	c.l1.Add(key, set.clone())

	if c.redis == nil {
		return
	}
	data, err := json.Marshal(set)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("effective cache write failed")
	}
}

// Len is the number of L1 entries
func (c *EffectiveCache) Len() int {
	return c.l1.Len()
}

func (s *EffectivePermissionSet) clone() *EffectivePermissionSet {
	c := *s
	c.SystemRoleIDs = make([]string, len(s.SystemRoleIDs))
	copy(c.SystemRoleIDs, s.SystemRoleIDs)
	if s.Dangling != nil {
		c.Dangling = make([]Reference, len(s.Dangling))
		copy(c.Dangling, s.Dangling)
	}
	c.ModuleAccess = make(map[Module]Tier, len(s.ModuleAccess))
	for k, v := range s.ModuleAccess {
		c.ModuleAccess[k] = v
	}
	c.SidebarAccess = make(map[ItemKey]PermissionFlags, len(s.SidebarAccess))
	for k, v := range s.SidebarAccess {
		c.SidebarAccess[k] = v
	}
	return &c
}
