package protocol

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// AccountMeta 描述指令引用的一个账户及其访问属性。
type AccountMeta struct {
	Pubkey     Pubkey
	IsSigner   bool
	IsWritable bool
}

func meta(pk Pubkey, writable bool) AccountMeta {
	return AccountMeta{Pubkey: pk, IsWritable: writable}
}

func signerMeta(pk Pubkey, writable bool) AccountMeta {
	return AccountMeta{Pubkey: pk, IsSigner: true, IsWritable: writable}
}

// Instruction 是一条待编译进交易消息的程序指令。
type Instruction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// InstructionDiscriminator 计算指令的 8 字节标识：
// SHA256("global:<name>") 的前 8 字节。
func InstructionDiscriminator(name string) [8]byte {
	digest := sha256.Sum256([]byte("global:" + name))
	var disc [8]byte
	copy(disc[:], digest[:8])
	return disc
}

// BuildCreateTask 构造发布任务的指令。
//
// 数据：标识 (8) + 描述哈希 (32) + 奖励 (8) + 截止时间 (8) + 能力位集 (8)。
// 账户：任务地址(写)、托管地址(写)、创建者(签名+写)、协议配置(读)、系统程序(读)。
func (p Params) BuildCreateTask(creator Pubkey, taskID uint64, descriptionHash [32]byte, rewardLamports uint64, deadline int64, capabilities uint64) (Instruction, error) {
	task, _, err := p.TaskAddress(taskID)
	if err != nil {
		return Instruction{}, fmt.Errorf("派生任务地址失败: %w", err)
	}
	escrow, _, err := p.EscrowAddress(task)
	if err != nil {
		return Instruction{}, fmt.Errorf("派生托管地址失败: %w", err)
	}
	protocolAddr, _, err := p.ProtocolAddress()
	if err != nil {
		return Instruction{}, fmt.Errorf("派生协议地址失败: %w", err)
	}

	disc := InstructionDiscriminator("create_task")
	data := make([]byte, 0, 64)
	data = append(data, disc[:]...)
	data = append(data, descriptionHash[:]...)
	data = binary.LittleEndian.AppendUint64(data, rewardLamports)
	data = binary.LittleEndian.AppendUint64(data, uint64(deadline))
	data = binary.LittleEndian.AppendUint64(data, capabilities)

	return Instruction{
		ProgramID: p.ProgramID,
		Accounts: []AccountMeta{
			meta(task, true),
			meta(escrow, true),
			signerMeta(creator, true),
			meta(protocolAddr, false),
			meta(SystemProgram, false),
		},
		Data: data,
	}, nil
}

// BuildClaimTask 构造认领任务的指令。
//
// 数据：标识 (8) + 执行者标识 (32)。
// 账户：任务(写)、认领(写)、执行者档案(写)、执行者(签名+写)、系统程序(读)。
func (p Params) BuildClaimTask(agent Pubkey, taskID uint64, agentID [32]byte) (Instruction, error) {
	task, _, err := p.TaskAddress(taskID)
	if err != nil {
		return Instruction{}, fmt.Errorf("派生任务地址失败: %w", err)
	}
	claim, _, err := p.ClaimAddress(task, agent)
	if err != nil {
		return Instruction{}, fmt.Errorf("派生认领地址失败: %w", err)
	}
	profile, _, err := p.AgentAddress(agent)
	if err != nil {
		return Instruction{}, fmt.Errorf("派生执行者档案地址失败: %w", err)
	}

	disc := InstructionDiscriminator("claim_task")
	data := make([]byte, 0, 40)
	data = append(data, disc[:]...)
	data = append(data, agentID[:]...)

	return Instruction{
		ProgramID: p.ProgramID,
		Accounts: []AccountMeta{
			meta(task, true),
			meta(claim, true),
			meta(profile, true),
			signerMeta(agent, true),
			meta(SystemProgram, false),
		},
		Data: data,
	}, nil
}

// BuildCompleteTask 构造提交任务完成证明的指令。
//
// 数据：标识 (8) + 证明哈希 (32) + 结果数据 (64，不足补零)。
// 基础账户 7 个；任务带代币奖励时追加托管代币账户、执行者代币账户、
// 奖励代币、代币程序、关联账户程序共 5 个。
func (p Params) BuildCompleteTask(agent Pubkey, taskID uint64, proofHash [32]byte, resultData []byte, includeTokenReward bool) (Instruction, error) {
	if len(resultData) > 64 {
		return Instruction{}, fmt.Errorf("结果数据超过 64 字节: %d", len(resultData))
	}
	task, _, err := p.TaskAddress(taskID)
	if err != nil {
		return Instruction{}, fmt.Errorf("派生任务地址失败: %w", err)
	}
	claim, _, err := p.ClaimAddress(task, agent)
	if err != nil {
		return Instruction{}, fmt.Errorf("派生认领地址失败: %w", err)
	}
	escrow, _, err := p.EscrowAddress(task)
	if err != nil {
		return Instruction{}, fmt.Errorf("派生托管地址失败: %w", err)
	}
	protocolAddr, _, err := p.ProtocolAddress()
	if err != nil {
		return Instruction{}, fmt.Errorf("派生协议地址失败: %w", err)
	}

	disc := InstructionDiscriminator("complete_task")
	data := make([]byte, 0, 104)
	data = append(data, disc[:]...)
	data = append(data, proofHash[:]...)
	var result [64]byte
	copy(result[:], resultData)
	data = append(data, result[:]...)

	// 国库地址由协议配置指定，当前部署沿用协议配置地址本身。
	treasury := protocolAddr

	accounts := []AccountMeta{
		meta(task, true),
		meta(claim, true),
		meta(escrow, true),
		signerMeta(agent, true),
		meta(protocolAddr, false),
		meta(treasury, true),
		meta(SystemProgram, false),
	}

	if includeTokenReward {
		escrowATA, err := p.RewardTokenAddress(escrow)
		if err != nil {
			return Instruction{}, fmt.Errorf("派生托管代币账户失败: %w", err)
		}
		agentATA, err := p.RewardTokenAddress(agent)
		if err != nil {
			return Instruction{}, fmt.Errorf("派生执行者代币账户失败: %w", err)
		}
		accounts = append(accounts,
			meta(escrowATA, true),
			meta(agentATA, true),
			meta(p.RewardMint, false),
			meta(TokenProgram, false),
			meta(ATAProgram, false),
		)
	}

	return Instruction{
		ProgramID: p.ProgramID,
		Accounts:  accounts,
		Data:      data,
	}, nil
}

// BuildCancelTask 构造取消任务的指令，托管的奖励退回创建者。
//
// 数据：仅 8 字节标识。
// 账户：任务(写)、托管(写)、创建者(签名+写)、系统程序(读)。
func (p Params) BuildCancelTask(creator Pubkey, taskID uint64) (Instruction, error) {
	task, _, err := p.TaskAddress(taskID)
	if err != nil {
		return Instruction{}, fmt.Errorf("派生任务地址失败: %w", err)
	}
	escrow, _, err := p.EscrowAddress(task)
	if err != nil {
		return Instruction{}, fmt.Errorf("派生托管地址失败: %w", err)
	}

	disc := InstructionDiscriminator("cancel_task")

	return Instruction{
		ProgramID: p.ProgramID,
		Accounts: []AccountMeta{
			meta(task, true),
			meta(escrow, true),
			signerMeta(creator, true),
			meta(SystemProgram, false),
		},
		Data: disc[:],
	}, nil
}

// splTransferTag 是 SPL 代币转账指令的单字节标签。
const splTransferTag = 3

// ataCreateIdempotentTag 是幂等创建关联账户指令的单字节标签。
const ataCreateIdempotentTag = 1

// BuildTokenEscrowDeposit 构造把代币奖励转入托管的指令组：
// 先幂等创建托管方的关联账户，再从创建者账户转账。
// 这组指令与 create_task 放进同一笔交易。
func (p Params) BuildTokenEscrowDeposit(creator Pubkey, taskID uint64, amount uint64) ([]Instruction, error) {
	task, _, err := p.TaskAddress(taskID)
	if err != nil {
		return nil, fmt.Errorf("派生任务地址失败: %w", err)
	}
	escrow, _, err := p.EscrowAddress(task)
	if err != nil {
		return nil, fmt.Errorf("派生托管地址失败: %w", err)
	}
	creatorATA, err := p.RewardTokenAddress(creator)
	if err != nil {
		return nil, fmt.Errorf("派生创建者代币账户失败: %w", err)
	}
	escrowATA, err := p.RewardTokenAddress(escrow)
	if err != nil {
		return nil, fmt.Errorf("派生托管代币账户失败: %w", err)
	}

	createATA := Instruction{
		ProgramID: ATAProgram,
		Accounts: []AccountMeta{
			signerMeta(creator, true),
			meta(escrowATA, true),
			meta(escrow, false),
			meta(p.RewardMint, false),
			meta(SystemProgram, false),
			meta(TokenProgram, false),
		},
		Data: []byte{ataCreateIdempotentTag},
	}

	transferData := make([]byte, 0, 9)
	transferData = append(transferData, splTransferTag)
	transferData = binary.LittleEndian.AppendUint64(transferData, amount)
	transfer := Instruction{
		ProgramID: TokenProgram,
		Accounts: []AccountMeta{
			meta(creatorATA, true),
			meta(escrowATA, true),
			signerMeta(creator, false),
		},
		Data: transferData,
	}

	return []Instruction{createATA, transfer}, nil
}

// BuildTokenEscrowRelease 构造把托管代币释放给执行者的指令组：
// 先幂等创建执行者的关联账户，再由托管地址作为授权方转账。
// 托管地址的签名由链上程序通过 CPI 提供。
func (p Params) BuildTokenEscrowRelease(worker Pubkey, taskID uint64, amount uint64) ([]Instruction, error) {
	task, _, err := p.TaskAddress(taskID)
	if err != nil {
		return nil, fmt.Errorf("派生任务地址失败: %w", err)
	}
	escrow, _, err := p.EscrowAddress(task)
	if err != nil {
		return nil, fmt.Errorf("派生托管地址失败: %w", err)
	}
	escrowATA, err := p.RewardTokenAddress(escrow)
	if err != nil {
		return nil, fmt.Errorf("派生托管代币账户失败: %w", err)
	}
	workerATA, err := p.RewardTokenAddress(worker)
	if err != nil {
		return nil, fmt.Errorf("派生执行者代币账户失败: %w", err)
	}

	createATA := Instruction{
		ProgramID: ATAProgram,
		Accounts: []AccountMeta{
			signerMeta(worker, true),
			meta(workerATA, true),
			meta(worker, false),
			meta(p.RewardMint, false),
			meta(SystemProgram, false),
			meta(TokenProgram, false),
		},
		Data: []byte{ataCreateIdempotentTag},
	}

	transferData := make([]byte, 0, 9)
	transferData = append(transferData, splTransferTag)
	transferData = binary.LittleEndian.AppendUint64(transferData, amount)
	transfer := Instruction{
		ProgramID: TokenProgram,
		Accounts: []AccountMeta{
			meta(escrowATA, true),
			meta(workerATA, true),
			meta(escrow, false),
		},
		Data: transferData,
	}

	return []Instruction{createATA, transfer}, nil
}
