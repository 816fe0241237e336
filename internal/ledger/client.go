package ledger

import "context"

// Blockhash 表示一次 getLatestBlockhash 查询的结果。
// Blockhash 在有限的区块高度窗口内有效，过期后必须重新获取。
type Blockhash struct {
	Blockhash            string
	LastValidBlockHeight uint64
}

// SignatureStatus 描述一笔已提交交易在链上的可见状态。
// Err 非空表示交易已落账但执行失败。
type SignatureStatus struct {
	Slot               uint64
	Confirmations      *uint64
	ConfirmationStatus string
	Err                string
}

// Finalized 判断交易是否已经达到确认级别。
func (s *SignatureStatus) Finalized() bool {
	if s == nil {
		return false
	}
	return s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized"
}

// MemcmpFilter 描述 getProgramAccounts 的字节前缀过滤条件。
// Bytes 使用 base58 文本形式，与节点端约定一致。
type MemcmpFilter struct {
	Offset int
	Bytes  string
}

// ProgramAccount 是程序账户扫描返回的单个条目。
type ProgramAccount struct {
	Address string
	Data    []byte
}

// Client 是执行核心消费的账本 RPC 能力集。
// 所有方法都以 context 作为取消与超时边界。
type Client interface {
	// GetBalance 返回地址的原生代币余额（最小单位）。
	GetBalance(ctx context.Context, address string) (uint64, error)
	// GetTokenAccountBalance 返回代币账户的原始余额。
	// 账户不存在时返回错误，由调用方决定是否视为零余额。
	GetTokenAccountBalance(ctx context.Context, address string) (uint64, error)
	// GetAccountInfo 返回指定账户的原始数据；账户不存在时返回 nil 数据。
	GetAccountInfo(ctx context.Context, address string) ([]byte, error)
	// GetLatestBlockhash 获取一个新鲜的 blockhash。
	GetLatestBlockhash(ctx context.Context) (Blockhash, error)
	// SendTransaction 提交一笔已签名交易，返回签名。
	SendTransaction(ctx context.Context, signedTx []byte) (string, error)
	// GetSignatureStatus 查询签名状态；nil 表示节点尚未观察到该交易。
	GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error)
	// GetProgramAccounts 按过滤条件扫描某个程序名下的账户。
	GetProgramAccounts(ctx context.Context, programID string, filters []MemcmpFilter) ([]ProgramAccount, error)
}
