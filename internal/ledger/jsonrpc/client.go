package jsonrpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"AgenC-Operator/internal/ledger"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct a ledger RPC client.
type Config struct {
	RPCURL     string
	Commitment string
}

// Client implements the ledger.Client capability over a generic JSON-RPC
// transport. The node speaks the Solana-style RPC dialect; go-ethereum's
// rpc package only supplies the request/response plumbing.
type Client struct {
	rpc        *gethrpc.Client
	commitment string
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	url := strings.TrimSpace(cfg.RPCURL)
	if url == "" {
		return nil, errors.New("未配置账本 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("连接账本节点失败: %w", err)
	}

	commitment := strings.TrimSpace(cfg.Commitment)
	if commitment == "" {
		commitment = "confirmed"
	}

	return &Client{rpc: rpcClient, commitment: commitment}, nil
}

// Close releases the underlying network connection.
func (c *Client) Close() {
	if c != nil && c.rpc != nil {
		c.rpc.Close()
	}
}

// rpcEnvelope 是节点返回值的通用包装：{"context": ..., "value": ...}。
type rpcEnvelope[T any] struct {
	Value T `json:"value"`
}

// GetBalance 查询地址的原生余额。
func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	var result rpcEnvelope[uint64]
	err := c.rpc.CallContext(ctx, &result, "getBalance", address, c.commitmentArg())
	if err != nil {
		return 0, fmt.Errorf("查询余额失败: %w", err)
	}
	return result.Value, nil
}

type tokenAmount struct {
	Amount   string `json:"amount"`
	Decimals uint8  `json:"decimals"`
}

// GetTokenAccountBalance 查询代币账户的原始余额。
func (c *Client) GetTokenAccountBalance(ctx context.Context, address string) (uint64, error) {
	var result rpcEnvelope[tokenAmount]
	err := c.rpc.CallContext(ctx, &result, "getTokenAccountBalance", address, c.commitmentArg())
	if err != nil {
		return 0, fmt.Errorf("查询代币余额失败: %w", err)
	}
	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("代币余额格式非法 %q: %w", result.Value.Amount, err)
	}
	return amount, nil
}

type accountInfoValue struct {
	Data []string `json:"data"`
}

// GetAccountInfo 返回账户的原始数据；账户不存在时返回 nil。
func (c *Client) GetAccountInfo(ctx context.Context, address string) ([]byte, error) {
	var result rpcEnvelope[*accountInfoValue]
	opts := map[string]any{
		"encoding":   "base64",
		"commitment": c.commitment,
	}
	err := c.rpc.CallContext(ctx, &result, "getAccountInfo", address, opts)
	if err != nil {
		return nil, fmt.Errorf("查询账户信息失败: %w", err)
	}
	if result.Value == nil || len(result.Value.Data) == 0 {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("账户 %s 数据解码失败: %w", address, err)
	}
	return data, nil
}

type blockhashValue struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// GetLatestBlockhash 获取新鲜的 blockhash。
func (c *Client) GetLatestBlockhash(ctx context.Context) (ledger.Blockhash, error) {
	var result rpcEnvelope[blockhashValue]
	err := c.rpc.CallContext(ctx, &result, "getLatestBlockhash", c.commitmentArg())
	if err != nil {
		return ledger.Blockhash{}, fmt.Errorf("获取 blockhash 失败: %w", err)
	}
	return ledger.Blockhash{
		Blockhash:            result.Value.Blockhash,
		LastValidBlockHeight: result.Value.LastValidBlockHeight,
	}, nil
}

// SendTransaction 以 base64 编码提交已签名交易。
// 节点侧重发次数固定为 0，重试完全由本进程的提交器控制。
func (c *Client) SendTransaction(ctx context.Context, signedTx []byte) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(signedTx)
	opts := map[string]any{
		"encoding":            "base64",
		"preflightCommitment": c.commitment,
		"maxRetries":          0,
	}
	var signature string
	if err := c.rpc.CallContext(ctx, &signature, "sendTransaction", encoded, opts); err != nil {
		return "", err
	}
	return signature, nil
}

type signatureStatusValue struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	ConfirmationStatus string          `json:"confirmationStatus"`
	Err                json.RawMessage `json:"err"`
}

// GetSignatureStatus 查询单个签名的链上状态。
func (c *Client) GetSignatureStatus(ctx context.Context, signature string) (*ledger.SignatureStatus, error) {
	var result rpcEnvelope[[]*signatureStatusValue]
	opts := map[string]any{"searchTransactionHistory": true}
	err := c.rpc.CallContext(ctx, &result, "getSignatureStatuses", []string{signature}, opts)
	if err != nil {
		return nil, fmt.Errorf("查询签名状态失败: %w", err)
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return nil, nil
	}
	raw := result.Value[0]
	status := &ledger.SignatureStatus{
		Slot:               raw.Slot,
		Confirmations:      raw.Confirmations,
		ConfirmationStatus: raw.ConfirmationStatus,
	}
	if len(raw.Err) > 0 && string(raw.Err) != "null" {
		status.Err = string(raw.Err)
	}
	return status, nil
}

type programAccountEntry struct {
	Pubkey  string `json:"pubkey"`
	Account struct {
		Data []string `json:"data"`
	} `json:"account"`
}

// GetProgramAccounts 按 memcmp 过滤条件扫描程序账户。
func (c *Client) GetProgramAccounts(ctx context.Context, programID string, filters []ledger.MemcmpFilter) ([]ledger.ProgramAccount, error) {
	rpcFilters := make([]map[string]any, 0, len(filters))
	for _, f := range filters {
		rpcFilters = append(rpcFilters, map[string]any{
			"memcmp": map[string]any{
				"offset": f.Offset,
				"bytes":  f.Bytes,
			},
		})
	}
	opts := map[string]any{
		"encoding":   "base64",
		"commitment": c.commitment,
	}
	if len(rpcFilters) > 0 {
		opts["filters"] = rpcFilters
	}

	var entries []programAccountEntry
	if err := c.rpc.CallContext(ctx, &entries, "getProgramAccounts", programID, opts); err != nil {
		return nil, fmt.Errorf("扫描程序账户失败: %w", err)
	}

	accounts := make([]ledger.ProgramAccount, 0, len(entries))
	for _, entry := range entries {
		if len(entry.Account.Data) == 0 {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(entry.Account.Data[0])
		if err != nil {
			return nil, fmt.Errorf("账户 %s 数据解码失败: %w", entry.Pubkey, err)
		}
		accounts = append(accounts, ledger.ProgramAccount{Address: entry.Pubkey, Data: data})
	}
	return accounts, nil
}

func (c *Client) commitmentArg() map[string]any {
	return map[string]any{"commitment": c.commitment}
}
