// Package policy 实现安全策略闸门：只读操作直接放行，固定风险操作
// 绑定固定的确认强度，消费类操作按金额与会话累计决定确认强度。
// 拒绝与确认要求都是数据结果，不走错误通道。
package policy

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"AgenC-Operator/internal/protocol"
)

// ConfirmationType 是动作放行前要求的确认强度。
type ConfirmationType string

const (
	ConfirmationNone     ConfirmationType = "none"
	ConfirmationVerbal   ConfirmationType = "verbal"
	ConfirmationTyped    ConfirmationType = "typed"
	ConfirmationHardware ConfirmationType = "hardware"
)

// Check 是一次策略评估的结果。
type Check struct {
	Allowed              bool
	RequiresConfirmation bool
	Confirmation         ConfirmationType
	Reason               string
}

// Config 是策略阈值配置，金额单位为展示值（SOL）。
type Config struct {
	AllowVoiceOnlySmall bool
	VoiceOnlyMaxSOL     float64
	AlwaysRequireTyped  bool
	HardwareForLarge    bool
	LargeThresholdSOL   float64
	SessionLimitSOL     float64
	BlockedActions      []string
}

// DefaultConfig 返回默认策略。
func DefaultConfig() Config {
	return Config{
		AllowVoiceOnlySmall: true,
		VoiceOnlyMaxSOL:     0.1,
		AlwaysRequireTyped:  false,
		HardwareForLarge:    true,
		LargeThresholdSOL:   1.0,
		SessionLimitSOL:     10.0,
		BlockedActions:      []string{"export_key"},
	}
}

// 动作分类。闸门不认识的动作一律按只读处理。
var (
	spendingActions = map[string]bool{
		"create_task": true,
		"swap_tokens": true,
	}
	verbalActions = map[string]bool{
		"claim_task":    true,
		"complete_task": true,
	}
	typedActions = map[string]bool{
		"cancel_task": true,
	}
)

// Gate 维护会话消费累计与硬件钱包状态，并发安全。
type Gate struct {
	mu                sync.Mutex
	sessionLamports   uint64
	hardwareConnected bool
	config            Config
	logger            *slog.Logger
}

// NewGate 构造策略闸门。
func NewGate(config Config, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SessionLimitSOL <= 0 {
		config = DefaultConfig()
	}
	return &Gate{config: config, logger: logger}
}

// SetHardwareWallet 更新硬件钱包连接状态。
func (g *Gate) SetHardwareWallet(connected bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hardwareConnected = connected
	g.logger.Info("硬件钱包状态更新", "connected", connected)
}

// HardwareConnected 返回当前硬件钱包连接状态。
func (g *Gate) HardwareConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hardwareConnected
}

// CheckPolicy 评估一个动作。params 携带动作参数，金额字段按
// reward_sol、amount_sol、lamports 的顺序提取，都缺失时按 0 处理。
func (g *Gate) CheckPolicy(action string, params map[string]any) Check {
	g.mu.Lock()
	defer g.mu.Unlock()

	action = strings.ToLower(action)

	// 屏蔽名单优先于一切分类，拒绝且不提供确认通道。
	for _, blocked := range g.config.BlockedActions {
		if action == blocked {
			return Check{
				Allowed:      false,
				Confirmation: ConfirmationNone,
				Reason:       fmt.Sprintf("动作 %q 被策略屏蔽", action),
			}
		}
	}

	switch {
	case spendingActions[action]:
		return g.checkSpending(action, params)
	case verbalActions[action]:
		return Check{
			Allowed:              true,
			RequiresConfirmation: true,
			Confirmation:         ConfirmationVerbal,
			Reason:               fmt.Sprintf("%s 需要口头确认", action),
		}
	case typedActions[action]:
		// 取消会退回托管资金，要求键入确认。
		return Check{
			Allowed:              true,
			RequiresConfirmation: true,
			Confirmation:         ConfirmationTyped,
			Reason:               fmt.Sprintf("%s 需要键入确认", action),
		}
	default:
		return Check{
			Allowed:      true,
			Confirmation: ConfirmationNone,
			Reason:       "只读操作",
		}
	}
}

// checkSpending 评估消费类动作。调用方已持有锁。
func (g *Gate) checkSpending(action string, params map[string]any) Check {
	amountSOL := ExtractSOLAmount(params)

	// 会话上限按"已记录 + 本次预计"的投影值判断。
	projected := g.sessionLamports + protocol.SOLToLamports(amountSOL)
	projectedSOL := protocol.LamportsToSOL(projected)

	if projectedSOL > g.config.SessionLimitSOL && !g.hardwareConnected {
		return Check{
			Allowed:              false,
			RequiresConfirmation: true,
			Confirmation:         ConfirmationHardware,
			Reason: fmt.Sprintf("会话消费上限 %.0f SOL 已超出，请连接硬件钱包",
				g.config.SessionLimitSOL),
		}
	}

	switch {
	case amountSOL <= g.config.VoiceOnlyMaxSOL && g.config.AllowVoiceOnlySmall:
		return Check{
			Allowed:              true,
			RequiresConfirmation: true,
			Confirmation:         ConfirmationVerbal,
			Reason:               fmt.Sprintf("%s（%g SOL）小额口头确认", action, amountSOL),
		}
	case amountSOL > g.config.LargeThresholdSOL && g.config.HardwareForLarge:
		if g.hardwareConnected {
			return Check{
				Allowed:              true,
				RequiresConfirmation: true,
				Confirmation:         ConfirmationHardware,
				Reason:               fmt.Sprintf("%s（%g SOL）需要硬件确认", action, amountSOL),
			}
		}
		return Check{
			Allowed:              true,
			RequiresConfirmation: true,
			Confirmation:         ConfirmationTyped,
			Reason:               fmt.Sprintf("%s（%g SOL）键入确认，大额建议连接硬件钱包", action, amountSOL),
		}
	default:
		confirmation := ConfirmationVerbal
		if g.config.AlwaysRequireTyped {
			confirmation = ConfirmationTyped
		}
		return Check{
			Allowed:              true,
			RequiresConfirmation: true,
			Confirmation:         confirmation,
			Reason:               fmt.Sprintf("%s（%g SOL）", action, amountSOL),
		}
	}
}

// ExtractSOLAmount 按字段优先级从参数中提取金额（展示值）。
func ExtractSOLAmount(params map[string]any) float64 {
	if v, ok := asFloat(params["reward_sol"]); ok {
		return v
	}
	if v, ok := asFloat(params["amount_sol"]); ok {
		return v
	}
	if v, ok := asFloat(params["lamports"]); ok {
		return v / float64(protocol.LamportsPerSOL)
	}
	return 0
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// RecordSpending 在交易确认之后记录实际消费。
// 确认超时不落账消费记录，因为交易状态未知。
func (g *Gate) RecordSpending(lamports uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionLamports += lamports
	g.logger.Info("会话消费更新", "session_sol", protocol.LamportsToSOL(g.sessionLamports))
}

// SessionSpendingSOL 返回会话累计消费的展示值。
func (g *Gate) SessionSpendingSOL() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return protocol.LamportsToSOL(g.sessionLamports)
}

// ResetSession 清零会话消费累计。
func (g *Gate) ResetSession() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionLamports = 0
	g.logger.Info("会话消费已重置")
}

// 口头确认与取消的短语表，匹配不区分大小写。
var (
	confirmPhrases = []string{"yes", "confirm", "do it", "proceed", "execute", "approved", "go ahead"}
	cancelPhrases  = []string{"no", "cancel", "stop", "abort", "nevermind", "don't"}
)

// IsVerbalConfirmation 判断应答是否构成口头确认。
func IsVerbalConfirmation(response string) bool {
	lower := strings.ToLower(response)
	for _, p := range confirmPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// IsVerbalCancellation 判断应答是否构成口头取消。
func IsVerbalCancellation(response string) bool {
	lower := strings.ToLower(response)
	for _, p := range cancelPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
