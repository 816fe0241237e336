package access

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"AgenC-Operator/internal/errors"
	"AgenC-Operator/internal/protocol"
)

// DefaultCacheTTL 是层级缓存的默认有效期。
const DefaultCacheTTL = 5 * time.Minute

// DefaultCacheCapacity 是缓存的默认容量上限，防止无界增长。
const DefaultCacheCapacity = 1000

type cachedTier struct {
	tier     Tier
	balance  uint64
	cachedAt time.Time
}

// Cache 在余额预言机之上提供带 TTL 的层级缓存。
//
// 读路径只持读锁；未命中时在锁外查询预言机，再持写锁回填。
// 两个并发请求可能对同一钱包各查一次预言机，结果相同，属于
// 可接受的竞态，换来读路径不被网络调用阻塞。
type Cache struct {
	checker  *Checker
	mu       sync.RWMutex
	entries  map[string]cachedTier
	ttl      time.Duration
	capacity int
	logger   *slog.Logger

	now func() time.Time
}

// NewCache 构造层级缓存。
func NewCache(checker *Checker, ttl time.Duration, capacity int, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		checker:  checker,
		entries:  make(map[string]cachedTier),
		ttl:      ttl,
		capacity: capacity,
		logger:   logger,
		now:      time.Now,
	}
}

// CheckAccess 返回钱包的层级与余额，优先命中缓存。
func (c *Cache) CheckAccess(ctx context.Context, wallet protocol.Pubkey) (Tier, uint64, error) {
	key := wallet.String()
	now := c.now()

	c.mu.RLock()
	if entry, ok := c.entries[key]; ok && now.Sub(entry.cachedAt) < c.ttl {
		c.mu.RUnlock()
		c.logger.Debug("层级缓存命中", "wallet", key, "tier", entry.tier)
		return entry.tier, entry.balance, nil
	}
	c.mu.RUnlock()

	balance, err := c.checker.Balance(ctx, wallet)
	if err != nil {
		return TierNone, 0, err
	}
	tier := TierFromBalance(balance, c.checker.params.AccessMintDecimals)

	c.mu.Lock()
	if len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[key] = cachedTier{tier: tier, balance: balance, cachedAt: now}
	c.mu.Unlock()

	c.logger.Info("层级判定", "wallet", key, "tier", tier.String(),
		"balance", FormatBalance(protocol.RawToDisplay(balance, c.checker.params.AccessMintDecimals)))
	return tier, balance, nil
}

// evictOldestLocked 淘汰全局最旧的一条缓存。调用方持有写锁。
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.cachedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.cachedAt
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// TierInfo 返回钱包的层级详情，余额取自缓存路径。
func (c *Cache) TierInfo(ctx context.Context, wallet protocol.Pubkey) (TierInfo, error) {
	_, balance, err := c.CheckAccess(ctx, wallet)
	if err != nil {
		return TierInfo{}, err
	}
	return NewTierInfo(balance, c.checker.params.AccessMintDecimals), nil
}

// GateFeature 门控一个能力：层级满足时返回当前层级，
// 不足时返回 ACCESS_DENIED 错误并说明所需层级。
func (c *Cache) GateFeature(ctx context.Context, wallet protocol.Pubkey, feature Feature) (Tier, error) {
	tier, balance, err := c.CheckAccess(ctx, wallet)
	if err != nil {
		return TierNone, err
	}
	if !tier.CanUseFeature(feature) {
		required := feature.RequiredTier()
		current := protocol.RawToDisplay(balance, c.checker.params.AccessMintDecimals)
		c.logger.Warn("访问层级不足",
			"wallet", wallet.String(), "feature", string(feature),
			"tier", tier.String(), "required", required.String())
		return tier, errors.Newf(errors.CodeAccessDenied,
			"%s 需要 %s 层级（持仓 %s+），当前持仓 %.2f（%s 层级）",
			feature.DisplayName(), required.DisplayName(),
			FormatBalance(required.RequiredAmount()), current, tier.DisplayName())
	}
	return tier, nil
}

// Invalidate 删除指定钱包的缓存条目。
func (c *Cache) Invalidate(wallet protocol.Pubkey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, wallet.String())
}

// Clear 清空全部缓存。
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cachedTier)
}

// Stats 返回缓存条目数与容量。
func (c *Cache) Stats() (size, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), c.capacity
}
