package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Config 描述了 operatord 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Log      LogConfig      `json:"log"`
	Ledger   LedgerConfig   `json:"ledger"`
	Protocol ProtocolConfig `json:"protocol"`
	Wallet   WalletConfig   `json:"wallet"`
	Retry    RetryConfig    `json:"retry"`
	Policy   PolicyConfig   `json:"policy"`
	Access   AccessConfig   `json:"access"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// LogConfig 控制结构化日志与审计日志的输出。
type LogConfig struct {
	Level        string   `json:"level"`
	Format       string   `json:"format"`
	OutputPaths  []string `json:"output_paths"`
	AuditEnabled bool     `json:"audit_enabled"`
	AuditPath    string   `json:"audit_path"`
}

// LedgerConfig 指定账本 RPC 节点的选择方式。
// Definitions 指向 YAML 端点清单，Chain 选择其中一个条目。
type LedgerConfig struct {
	Definitions string `json:"definitions"`
	Chain       string `json:"chain"`
	Commitment  string `json:"commitment"`
}

// ProtocolConfig 描述链上协议的静态标识。这些值在进程启动时
// 构造一次并向下传递，不依赖运行期检查的全局单例。
type ProtocolConfig struct {
	ProgramID    string `json:"program_id"`
	RewardMint   string `json:"reward_mint"`
	AccessMint   string `json:"access_mint"`
	MintDecimals uint8  `json:"mint_decimals"`
}

// WalletConfig 描述本地签名密钥的加载位置。密钥永不离开进程。
type WalletConfig struct {
	KeypairPath string `json:"keypair_path"`
}

// RetryConfig 控制交易发送与确认轮询的重试行为。
type RetryConfig struct {
	MaxSendRetries    int  `json:"max_send_retries"`
	MaxConfirmRetries int  `json:"max_confirm_retries"`
	BaseDelayMS       int  `json:"base_delay_ms"`
	MaxDelayMS        int  `json:"max_delay_ms"`
	PollIntervalMS    int  `json:"poll_interval_ms"`
	Jitter            bool `json:"jitter"`
}

// BaseDelay 返回基础退避时长。
func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// MaxDelay 返回退避时长上限。
func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

// PollInterval 返回确认轮询间隔。
func (c RetryConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// PolicyConfig 描述安全策略阈值，单位为展示值（SOL）。
type PolicyConfig struct {
	AllowVoiceOnlySmall bool     `json:"allow_voice_only_small"`
	VoiceOnlyMaxSOL     float64  `json:"voice_only_max_sol"`
	AlwaysRequireTyped  bool     `json:"always_require_typed"`
	HardwareForLarge    bool     `json:"hardware_for_large"`
	LargeThresholdSOL   float64  `json:"large_threshold_sol"`
	SessionLimitSOL     float64  `json:"session_limit_sol"`
	BlockedActions      []string `json:"blocked_actions"`
}

// AccessConfig 控制访问层级缓存的行为。
type AccessConfig struct {
	CacheTTLSeconds int `json:"cache_ttl_seconds"`
	CacheCapacity   int `json:"cache_capacity"`
}

// CacheTTL 返回缓存条目的有效期。
func (c AccessConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Default 返回一份带有安全默认值的配置。
func Default() *Config {
	return &Config{
		Server: ServerConfig{Address: ":8745"},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Ledger: LedgerConfig{
			Definitions: "configs/chains.yaml",
			Chain:       "mainnet",
			Commitment:  "confirmed",
		},
		Protocol: ProtocolConfig{
			ProgramID:    "EopUaCV2svxj9j4hd7KjbrWfdjkspmm2BCBe7jGpKzKZ",
			RewardMint:   "9fhQBbumKEFuXtMBDw8AaQyAjCorLGJQiS3skWZdQyQD",
			AccessMint:   "8i51XNNpGaKaj4G4nDdmQh95v4FKAxw8mhtaRoKd9tE8",
			MintDecimals: 6,
		},
		Retry: RetryConfig{
			MaxSendRetries:    5,
			MaxConfirmRetries: 30,
			BaseDelayMS:       500,
			MaxDelayMS:        10000,
			PollIntervalMS:    1000,
			Jitter:            true,
		},
		Policy: PolicyConfig{
			AllowVoiceOnlySmall: true,
			VoiceOnlyMaxSOL:     0.1,
			AlwaysRequireTyped:  false,
			HardwareForLarge:    true,
			LargeThresholdSOL:   1.0,
			SessionLimitSOL:     10.0,
			BlockedActions:      []string{"export_key"},
		},
		Access: AccessConfig{
			CacheTTLSeconds: 300,
			CacheCapacity:   1000,
		},
	}
}

// Load 从 JSON 文件加载配置，缺省字段回落到 Default 的取值。
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()
	return parse(file)
}

func parse(r io.Reader) (*Config, error) {
	cfg := Default()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置的关键字段。
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server.address 不能为空")
	}
	if c.Protocol.ProgramID == "" {
		return errors.New("protocol.program_id 不能为空")
	}
	if c.Protocol.AccessMint == "" {
		return errors.New("protocol.access_mint 不能为空")
	}
	if c.Retry.MaxSendRetries <= 0 {
		return errors.New("retry.max_send_retries 必须大于 0")
	}
	if c.Retry.MaxConfirmRetries <= 0 {
		return errors.New("retry.max_confirm_retries 必须大于 0")
	}
	if c.Retry.BaseDelayMS <= 0 || c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		return errors.New("retry 的退避区间配置非法")
	}
	if c.Policy.SessionLimitSOL <= 0 {
		return errors.New("policy.session_limit_sol 必须大于 0")
	}
	if c.Access.CacheCapacity <= 0 {
		return errors.New("access.cache_capacity 必须大于 0")
	}
	return nil
}
