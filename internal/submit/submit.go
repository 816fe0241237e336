// Package submit 实现带重试与确认轮询的交易提交器。
// 发送失败按错误文本分类决定重试策略；确认超时不等于失败，
// 交易仍可能在稍后落账，调用方必须把超时当作"状态未知"处理。
package submit

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"AgenC-Operator/internal/ledger"
)

// RetryConfig 控制发送重试与确认轮询。
type RetryConfig struct {
	MaxSendRetries    int
	MaxConfirmRetries int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	PollInterval      time.Duration
	Jitter            bool
}

// DefaultRetryConfig 返回默认的重试参数。
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxSendRetries:    5,
		MaxConfirmRetries: 30,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		PollInterval:      time.Second,
		Jitter:            true,
	}
}

// Status 是一次提交的最终状态。
type Status string

const (
	// StatusConfirmed 表示交易已确认。
	StatusConfirmed Status = "confirmed"
	// StatusPermanentFailure 表示交易被永久拒绝，重试无意义。
	StatusPermanentFailure Status = "permanent_failure"
	// StatusRetryableFailure 表示重试耗尽或需要刷新 blockhash 后重发。
	StatusRetryableFailure Status = "retryable_failure"
	// StatusConfirmationTimeout 表示本地等待超时，交易状态未知。
	StatusConfirmationTimeout Status = "confirmation_timeout"
)

// SendResult 汇总一次提交的结果。Signature 在交易已发出时非空，
// 包括确认超时的情况。
type SendResult struct {
	Status    Status
	Signature string
	Message   string
}

// RequiresBlockhashRefresh 判断失败是否源于 blockhash 过期，
// 这类失败需要刷新 blockhash 重新编译消息后再发。
func (r SendResult) RequiresBlockhashRefresh() bool {
	return r.Status == StatusRetryableFailure && ClassifyError(r.Message) == KindBlockhashExpired
}

// ErrorKind 是发送错误的分类结果。
type ErrorKind int

const (
	KindRetryable ErrorKind = iota
	KindPermanent
	KindBlockhashExpired
	KindRateLimited
)

// String 返回分类的文本标签。
func (k ErrorKind) String() string {
	switch k {
	case KindPermanent:
		return "permanent"
	case KindBlockhashExpired:
		return "blockhash_expired"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "retryable"
	}
}

// ClassifyError 按错误文本的小写子串匹配分类，匹配顺序即优先级：
// blockhash 过期 > 限流 > 永久失败 > 瞬时失败；无法识别的错误
// 一律按瞬时失败处理。
func ClassifyError(message string) ErrorKind {
	lower := strings.ToLower(message)

	if strings.Contains(lower, "blockhash") ||
		strings.Contains(lower, "block height exceeded") ||
		strings.Contains(lower, "transaction has already been processed") {
		return KindBlockhashExpired
	}

	if strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "429") {
		return KindRateLimited
	}

	if strings.Contains(lower, "insufficient funds") ||
		strings.Contains(lower, "insufficient lamports") ||
		strings.Contains(lower, "invalid signature") ||
		strings.Contains(lower, "invalid account") ||
		strings.Contains(lower, "account not found") ||
		strings.Contains(lower, "program failed") ||
		strings.Contains(lower, "custom program error") ||
		strings.Contains(lower, "simulation failed") {
		return KindPermanent
	}

	if strings.Contains(lower, "connection") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "network") ||
		strings.Contains(lower, "temporary") ||
		strings.Contains(lower, "try again") {
		return KindRetryable
	}

	return KindRetryable
}

// calculateDelay 计算第 attempt 次重试前的退避时长：
// base * 2^attempt 封顶于 MaxDelay，可选叠加 [1.0, 1.5) 的抖动系数。
func calculateDelay(attempt int, cfg RetryConfig) time.Duration {
	if attempt > 62 {
		attempt = 62
	}
	delay := cfg.BaseDelay << uint(attempt)
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter {
		factor := 1.0 + rand.Float64()*0.5
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}

// Submitter 把已签名的交易送上账本并等待确认。
type Submitter struct {
	client ledger.Client
	config RetryConfig
	logger *slog.Logger
}

// NewSubmitter 构造提交器。
func NewSubmitter(client ledger.Client, config RetryConfig, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxSendRetries <= 0 {
		config = DefaultRetryConfig()
	}
	return &Submitter{client: client, config: config, logger: logger}
}

// sleep 等待指定时长，context 取消时立即返回其错误。
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SendWithRetry 发送交易并在瞬时失败时重试。
//
// 永久失败立即返回；blockhash 过期直接返回可重试失败，由调用方刷新
// 后重新编译消息；限流失败额外等待整个 MaxDelay 再重试。
func (s *Submitter) SendWithRetry(ctx context.Context, signedTx []byte) (SendResult, error) {
	var lastError string

	for attempt := 0; attempt < s.config.MaxSendRetries; attempt++ {
		if attempt > 0 {
			delay := calculateDelay(attempt-1, s.config)
			s.logger.Debug("发送重试等待", "attempt", attempt, "delay", delay)
			if err := sleep(ctx, delay); err != nil {
				return SendResult{}, err
			}
		}

		signature, err := s.client.SendTransaction(ctx, signedTx)
		if err == nil {
			s.logger.Info("交易已发送", "signature", signature, "attempt", attempt+1)
			return SendResult{Status: StatusConfirmed, Signature: signature}, nil
		}
		if ctx.Err() != nil {
			return SendResult{}, ctx.Err()
		}

		message := err.Error()
		kind := ClassifyError(message)
		s.logger.Warn("发送失败", "attempt", attempt+1, "kind", kind, "error", message)

		switch kind {
		case KindPermanent:
			return SendResult{Status: StatusPermanentFailure, Message: message}, nil
		case KindBlockhashExpired:
			return SendResult{
				Status:  StatusRetryableFailure,
				Message: "blockhash expired - refresh required",
			}, nil
		case KindRateLimited:
			s.logger.Warn("触发限流，延长等待", "delay", s.config.MaxDelay)
			if err := sleep(ctx, s.config.MaxDelay); err != nil {
				return SendResult{}, err
			}
		}

		lastError = message
	}

	return SendResult{
		Status:  StatusRetryableFailure,
		Message: fmt.Sprintf("重试 %d 次后仍失败，最后错误: %s", s.config.MaxSendRetries, lastError),
	}, nil
}

// PollConfirmation 轮询签名状态直到确认、失败或达到轮询上限。
// 轮询用尽返回确认超时，签名保留在结果中供调用方稍后复查。
func (s *Submitter) PollConfirmation(ctx context.Context, signature string) (SendResult, error) {
	s.logger.Info("开始确认轮询", "signature", signature)

	for attempt := 0; attempt < s.config.MaxConfirmRetries; attempt++ {
		if err := sleep(ctx, s.config.PollInterval); err != nil {
			return SendResult{}, err
		}

		status, err := s.client.GetSignatureStatus(ctx, signature)
		if err != nil {
			// 状态查询的 RPC 错误不终止轮询。
			s.logger.Warn("状态查询失败", "attempt", attempt+1, "error", err)
			continue
		}
		if status == nil {
			s.logger.Debug("交易尚未可见", "attempt", attempt+1)
			continue
		}
		if status.Err != "" {
			s.logger.Warn("交易在链上执行失败", "signature", signature, "error", status.Err)
			return SendResult{
				Status:    StatusPermanentFailure,
				Signature: signature,
				Message:   fmt.Sprintf("交易执行失败: %s", status.Err),
			}, nil
		}
		if status.Finalized() {
			s.logger.Info("交易已确认", "signature", signature, "attempt", attempt+1)
			return SendResult{Status: StatusConfirmed, Signature: signature}, nil
		}
	}

	s.logger.Warn("确认轮询超时", "signature", signature, "attempts", s.config.MaxConfirmRetries)
	return SendResult{
		Status:    StatusConfirmationTimeout,
		Signature: signature,
		Message:   "确认等待超时，交易可能仍会落账",
	}, nil
}

// SendAndConfirmWithRetry 是发送加确认的主入口。
func (s *Submitter) SendAndConfirmWithRetry(ctx context.Context, signedTx []byte) (SendResult, error) {
	result, err := s.SendWithRetry(ctx, signedTx)
	if err != nil {
		return SendResult{}, err
	}
	if result.Status != StatusConfirmed {
		return result, nil
	}
	return s.PollConfirmation(ctx, result.Signature)
}
