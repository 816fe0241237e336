// Package access 实现基于代币持仓的访问层级判定与缓存。
// 层级由余额阈值纯函数决定，能力按层级门控。
package access

import "fmt"

// 层级阈值，单位为展示值。
const (
	TierBasicThreshold = 10_000.0
	TierProThreshold   = 100_000.0
	TierWhaleThreshold = 1_000_000.0
)

// Tier 是访问层级，值的大小即权限顺序。
type Tier int

const (
	TierNone Tier = iota
	TierBasic
	TierPro
	TierWhale
	// TierDiamond 仅由人工授予，余额判定永远不会产生该层级。
	TierDiamond
)

// TierFromBalance 按展示值余额判定层级。
func TierFromBalance(balance uint64, decimals uint8) Tier {
	amount := float64(balance)
	for i := uint8(0); i < decimals; i++ {
		amount /= 10
	}
	switch {
	case amount >= TierWhaleThreshold:
		return TierWhale
	case amount >= TierProThreshold:
		return TierPro
	case amount >= TierBasicThreshold:
		return TierBasic
	default:
		return TierNone
	}
}

// String 返回层级的英文标签。
func (t Tier) String() string {
	switch t {
	case TierBasic:
		return "basic"
	case TierPro:
		return "pro"
	case TierWhale:
		return "whale"
	case TierDiamond:
		return "diamond"
	default:
		return "none"
	}
}

// DisplayName 返回面向用户的层级名称。
func (t Tier) DisplayName() string {
	switch t {
	case TierBasic:
		return "Basic"
	case TierPro:
		return "Pro"
	case TierWhale:
		return "Whale"
	case TierDiamond:
		return "Diamond"
	default:
		return "No Access"
	}
}

// RequiredAmount 返回进入该层级所需的展示值余额。
func (t Tier) RequiredAmount() float64 {
	switch t {
	case TierBasic:
		return TierBasicThreshold
	case TierPro:
		return TierProThreshold
	case TierWhale, TierDiamond:
		return TierWhaleThreshold
	default:
		return 0
	}
}

// DailyMessageLimit 返回每日消息上限，nil 表示不限。
func (t Tier) DailyMessageLimit() *int {
	limit := func(n int) *int { return &n }
	switch t {
	case TierBasic:
		return limit(50)
	case TierPro:
		return limit(500)
	case TierWhale, TierDiamond:
		return nil
	default:
		return limit(0)
	}
}

// MaxSpawnAgents 返回可并行派生的执行体数量上限。
func (t Tier) MaxSpawnAgents() int {
	switch t {
	case TierPro:
		return 5
	case TierWhale:
		return 100
	case TierDiamond:
		return 1000
	default:
		return 0
	}
}

// MaxMemories 返回可持久化的上下文条数上限。
func (t Tier) MaxMemories() int {
	switch t {
	case TierBasic:
		return 100
	case TierPro:
		return 1000
	case TierWhale, TierDiamond:
		return 10000
	default:
		return 0
	}
}

// Feature 是受层级门控的能力。
type Feature string

const (
	FeatureVoice             Feature = "voice"
	FeatureTrading           Feature = "trading"
	FeatureSocial            Feature = "social"
	FeatureEmail             Feature = "email"
	FeatureCode              Feature = "code"
	FeatureImageGen          Feature = "image_gen"
	FeatureSpawn             Feature = "spawn"
	FeaturePriorityQueue     Feature = "priority_queue"
	FeatureCustomPersonality Feature = "custom_personality"
	FeatureAPIAccess         Feature = "api_access"
	FeatureMemory            Feature = "memory"
)

// RequiredTier 返回能力要求的最低层级。
func (f Feature) RequiredTier() Tier {
	switch f {
	case FeatureVoice, FeatureTrading, FeatureMemory:
		return TierBasic
	case FeatureSocial, FeatureEmail, FeatureCode, FeatureImageGen, FeatureAPIAccess:
		return TierPro
	case FeatureSpawn, FeaturePriorityQueue, FeatureCustomPersonality:
		return TierWhale
	default:
		return TierWhale
	}
}

// DisplayName 返回能力的展示名称。
func (f Feature) DisplayName() string {
	switch f {
	case FeatureVoice:
		return "Voice Interface"
	case FeatureTrading:
		return "Trading"
	case FeatureSocial:
		return "Social Media"
	case FeatureEmail:
		return "Email"
	case FeatureCode:
		return "Code Operations"
	case FeatureImageGen:
		return "Image Generation"
	case FeatureSpawn:
		return "Agent Spawning"
	case FeaturePriorityQueue:
		return "Priority Queue"
	case FeatureCustomPersonality:
		return "Custom Personality"
	case FeatureAPIAccess:
		return "API Access"
	case FeatureMemory:
		return "Memory"
	default:
		return string(f)
	}
}

// CanUseFeature 判断层级是否满足能力要求。
func (t Tier) CanUseFeature(f Feature) bool {
	return t >= f.RequiredTier()
}

// TierInfo 汇总一次层级判定的细节。
type TierInfo struct {
	Tier             Tier
	Balance          uint64
	BalanceFormatted string
	NextTier         *Tier
	TokensToNextTier *float64
}

// NewTierInfo 根据原始余额构造层级详情。
func NewTierInfo(balance uint64, decimals uint8) TierInfo {
	tier := TierFromBalance(balance, decimals)
	amount := float64(balance)
	for i := uint8(0); i < decimals; i++ {
		amount /= 10
	}

	info := TierInfo{
		Tier:             tier,
		Balance:          balance,
		BalanceFormatted: FormatBalance(amount),
	}
	next := func(t Tier, distance float64) {
		info.NextTier = &t
		info.TokensToNextTier = &distance
	}
	switch tier {
	case TierNone:
		next(TierBasic, TierBasicThreshold-amount)
	case TierBasic:
		next(TierPro, TierProThreshold-amount)
	case TierPro:
		next(TierWhale, TierWhaleThreshold-amount)
	}
	return info
}

// FormatBalance 按 K/M/B 缩写格式化展示值。
func FormatBalance(amount float64) string {
	switch {
	case amount >= 1_000_000_000:
		return fmt.Sprintf("%.2fB", amount/1_000_000_000)
	case amount >= 1_000_000:
		return fmt.Sprintf("%.2fM", amount/1_000_000)
	case amount >= 1_000:
		return fmt.Sprintf("%.2fK", amount/1_000)
	default:
		return fmt.Sprintf("%.2f", amount)
	}
}
