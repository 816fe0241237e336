package protocol

import (
	"encoding/binary"
	"fmt"
)

// 系统级程序地址，对所有部署保持一致。
var (
	// SystemProgram 是原生转账与账户创建程序（32 个零字节）。
	SystemProgram = Pubkey{}
	// TokenProgram 是 SPL 代币程序。
	TokenProgram = MustPubkey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	// ATAProgram 是关联代币账户程序。
	ATAProgram = MustPubkey("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

// TaskDiscriminator 是任务账户的 8 字节类型标识，
// 取 SHA256("global:Task") 的前 8 字节，固定不变。
var TaskDiscriminator = [8]byte{0x4f, 0x22, 0xe5, 0x37, 0x58, 0x5a, 0x37, 0x54}

const (
	// TaskStatusOffset 是状态字节在任务账户数据中的固定偏移。
	TaskStatusOffset = 154
	// MinTaskAccountLength 是可解码任务账户的最小长度。
	MinTaskAccountLength = 160

	// LamportsPerSOL 是原生代币的最小单位换算。
	LamportsPerSOL = 1_000_000_000

	// RewardMintDecimals 是奖励代币的精度。
	RewardMintDecimals = 9
)

// Params 汇集一次部署的协议标识。进程启动时构造一份并向下传递，
// 所有派生地址与指令构造都经由它完成。
type Params struct {
	ProgramID          Pubkey
	RewardMint         Pubkey
	AccessMint         Pubkey
	AccessMintDecimals uint8
}

// NewParams 解析配置中的 base58 标识并构造协议参数。
func NewParams(programID, rewardMint, accessMint string, accessDecimals uint8) (Params, error) {
	var p Params
	var err error
	if p.ProgramID, err = PubkeyFromBase58(programID); err != nil {
		return Params{}, fmt.Errorf("program_id 非法: %w", err)
	}
	if p.RewardMint, err = PubkeyFromBase58(rewardMint); err != nil {
		return Params{}, fmt.Errorf("reward_mint 非法: %w", err)
	}
	if p.AccessMint, err = PubkeyFromBase58(accessMint); err != nil {
		return Params{}, fmt.Errorf("access_mint 非法: %w", err)
	}
	if accessDecimals == 0 {
		accessDecimals = 6
	}
	p.AccessMintDecimals = accessDecimals
	return p, nil
}

// TaskAddress 派生任务账户地址，种子为 "task" + 小端任务号。
func (p Params) TaskAddress(taskID uint64) (Pubkey, uint8, error) {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], taskID)
	return FindProgramAddress([][]byte{[]byte("task"), id[:]}, p.ProgramID)
}

// ClaimAddress 派生认领账户地址，种子为 "claim" + 任务地址 + 执行者公钥。
func (p Params) ClaimAddress(task, agent Pubkey) (Pubkey, uint8, error) {
	return FindProgramAddress([][]byte{[]byte("claim"), task[:], agent[:]}, p.ProgramID)
}

// EscrowAddress 派生托管账户地址，种子为 "escrow" + 任务地址。
func (p Params) EscrowAddress(task Pubkey) (Pubkey, uint8, error) {
	return FindProgramAddress([][]byte{[]byte("escrow"), task[:]}, p.ProgramID)
}

// AgentAddress 派生执行者档案地址，种子为 "agent" + 执行者公钥。
func (p Params) AgentAddress(agent Pubkey) (Pubkey, uint8, error) {
	return FindProgramAddress([][]byte{[]byte("agent"), agent[:]}, p.ProgramID)
}

// ProtocolAddress 派生协议配置地址，种子为 "protocol"。
func (p Params) ProtocolAddress() (Pubkey, uint8, error) {
	return FindProgramAddress([][]byte{[]byte("protocol")}, p.ProgramID)
}

// AssociatedTokenAddress 计算钱包在某个代币下的关联账户地址。
func AssociatedTokenAddress(wallet, mint Pubkey) (Pubkey, error) {
	addr, _, err := FindProgramAddress(
		[][]byte{wallet[:], TokenProgram[:], mint[:]},
		ATAProgram,
	)
	return addr, err
}

// RewardTokenAddress 计算钱包的奖励代币关联账户。
func (p Params) RewardTokenAddress(wallet Pubkey) (Pubkey, error) {
	return AssociatedTokenAddress(wallet, p.RewardMint)
}

// AccessTokenAddress 计算钱包的访问代币关联账户。
func (p Params) AccessTokenAddress(wallet Pubkey) (Pubkey, error) {
	return AssociatedTokenAddress(wallet, p.AccessMint)
}

// LamportsToSOL 把最小单位换算为展示值。
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / float64(LamportsPerSOL)
}

// SOLToLamports 把展示值换算为最小单位。
func SOLToLamports(sol float64) uint64 {
	if sol <= 0 {
		return 0
	}
	return uint64(sol * float64(LamportsPerSOL))
}

// RawToDisplay 按精度把原始代币数量换算为展示值。
func RawToDisplay(raw uint64, decimals uint8) float64 {
	divisor := 1.0
	for i := uint8(0); i < decimals; i++ {
		divisor *= 10
	}
	return float64(raw) / divisor
}

// DisplayToRaw 按精度把展示值换算为原始代币数量。
func DisplayToRaw(display float64, decimals uint8) uint64 {
	if display <= 0 {
		return 0
	}
	factor := 1.0
	for i := uint8(0); i < decimals; i++ {
		factor *= 10
	}
	return uint64(display * factor)
}
