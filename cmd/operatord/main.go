package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"AgenC-Operator/internal/access"
	"AgenC-Operator/internal/agent"
	"AgenC-Operator/internal/api"
	"AgenC-Operator/internal/config"
	"AgenC-Operator/internal/ledger"
	"AgenC-Operator/internal/ledger/jsonrpc"
	"AgenC-Operator/internal/observability/alerting"
	"AgenC-Operator/internal/policy"
	"AgenC-Operator/internal/protocol"
	"AgenC-Operator/internal/submit"
	"AgenC-Operator/internal/wallet"
	"AgenC-Operator/pkg/logger"
)

// main 是执行核心守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("operatord 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("OPERATOR_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "operator.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Log.AuditEnabled,
			Path:    cfg.Log.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	appLog := logger.L()

	// 解析链定义并连接节点。
	definitions, err := ledger.LoadChainDefinitions(cfg.Ledger.Definitions)
	if err != nil {
		return err
	}
	chainDef, err := definitions.Resolve(cfg.Ledger.Chain)
	if err != nil {
		return err
	}
	client, err := jsonrpc.NewClient(ctx, jsonrpc.Config{
		RPCURL:     chainDef.RPCURL,
		Commitment: cfg.Ledger.Commitment,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	params, err := protocol.NewParams(
		cfg.Protocol.ProgramID,
		cfg.Protocol.RewardMint,
		cfg.Protocol.AccessMint,
		cfg.Protocol.MintDecimals,
	)
	if err != nil {
		return err
	}

	signer, err := wallet.Load(cfg.Wallet.KeypairPath)
	if err != nil {
		return err
	}
	appLog.Info("钱包已加载", "address", signer.Address())

	submitter := submit.NewSubmitter(client, submit.RetryConfig{
		MaxSendRetries:    cfg.Retry.MaxSendRetries,
		MaxConfirmRetries: cfg.Retry.MaxConfirmRetries,
		BaseDelay:         cfg.Retry.BaseDelay(),
		MaxDelay:          cfg.Retry.MaxDelay(),
		PollInterval:      cfg.Retry.PollInterval(),
		Jitter:            cfg.Retry.Jitter,
	}, logger.Named("submit"))

	gate := policy.NewGate(policy.Config{
		AllowVoiceOnlySmall: cfg.Policy.AllowVoiceOnlySmall,
		VoiceOnlyMaxSOL:     cfg.Policy.VoiceOnlyMaxSOL,
		AlwaysRequireTyped:  cfg.Policy.AlwaysRequireTyped,
		HardwareForLarge:    cfg.Policy.HardwareForLarge,
		LargeThresholdSOL:   cfg.Policy.LargeThresholdSOL,
		SessionLimitSOL:     cfg.Policy.SessionLimitSOL,
		BlockedActions:      cfg.Policy.BlockedActions,
	}, logger.Named("policy"))

	tierCache := access.NewCache(
		access.NewChecker(params, client, logger.Named("access")),
		cfg.Access.CacheTTL(),
		cfg.Access.CacheCapacity,
		logger.Named("access"),
	)

	alerts := alerting.NewFanout()

	operator := agent.New(params, client, signer, submitter, gate, tierCache, alerts, logger.Named("agent"))

	server := api.NewServer(cfg.Server.Address, operator)
	appLog.Info("operatord 已启动",
		"address", cfg.Server.Address,
		"chain", cfg.Ledger.Chain,
		"program", cfg.Protocol.ProgramID)
	return server.Start(ctx)
}
