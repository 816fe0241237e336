package access

import (
	"context"
	"log/slog"

	"AgenC-Operator/internal/ledger"
	"AgenC-Operator/internal/protocol"
)

// Checker 是层级判定的余额预言机：按钱包地址查询访问代币的
// 关联账户余额。账户不存在一律视为零余额，而非错误。
type Checker struct {
	params protocol.Params
	client ledger.Client
	logger *slog.Logger
}

// NewChecker 构造余额预言机。
func NewChecker(params protocol.Params, client ledger.Client, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{params: params, client: client, logger: logger}
}

// Balance 查询钱包的访问代币原始余额。
func (c *Checker) Balance(ctx context.Context, wallet protocol.Pubkey) (uint64, error) {
	ata, err := c.params.AccessTokenAddress(wallet)
	if err != nil {
		return 0, err
	}
	balance, err := c.client.GetTokenAccountBalance(ctx, ata.String())
	if err != nil {
		// 关联账户尚未创建的钱包没有持仓。
		c.logger.Debug("代币账户不可读，按零余额处理", "wallet", wallet.String(), "error", err)
		return 0, nil
	}
	return balance, nil
}

// TierOf 查询钱包的访问层级。
func (c *Checker) TierOf(ctx context.Context, wallet protocol.Pubkey) (Tier, error) {
	balance, err := c.Balance(ctx, wallet)
	if err != nil {
		return TierNone, err
	}
	return TierFromBalance(balance, c.params.AccessMintDecimals), nil
}

// TierInfoOf 查询钱包的层级详情。
func (c *Checker) TierInfoOf(ctx context.Context, wallet protocol.Pubkey) (TierInfo, error) {
	balance, err := c.Balance(ctx, wallet)
	if err != nil {
		return TierInfo{}, err
	}
	return NewTierInfo(balance, c.params.AccessMintDecimals), nil
}
