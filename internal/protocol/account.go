package protocol

import (
	"bytes"
	"encoding/binary"

	"AgenC-Operator/internal/errors"
)

// TaskAccount 是解码后的链上任务账户。
//
// 账户数据布局（偏移以字节计）：
//
//	[0..8]     类型标识
//	[8..16]    任务号 (u64 LE)
//	[16..48]   创建者公钥
//	[48..80]   托管账户公钥
//	[80..88]   能力要求位集 (u64 LE)
//	[88..120]  描述哈希
//	[120..152] 约束哈希
//	[154]      状态字节
//	[155..163] 原生奖励 (u64 LE)
//	[163..171] 截止时间 (i64 LE)
//	[171..204] 认领者（1 字节存在标记 + 公钥）
//	[204..212] 代币奖励 (u64 LE)
//
// 状态字节之后的字段允许缺失：数据不够长时取零值。
type TaskAccount struct {
	TaskID               uint64
	Address              Pubkey
	Creator              Pubkey
	Escrow               Pubkey
	RequiredCapabilities uint64
	DescriptionHash      [32]byte
	ConstraintHash       [32]byte
	State                TaskState
	RewardLamports       uint64
	RewardTokens         uint64
	Deadline             int64
	ClaimedBy            *Pubkey
}

// RewardSOL 返回原生奖励的展示值。
func (t *TaskAccount) RewardSOL() float64 {
	return LamportsToSOL(t.RewardLamports)
}

// DecodeTaskAccount 按固定偏移解码任务账户数据。
// 类型标识不匹配、数据过短或状态字节非法都会返回解码错误。
func DecodeTaskAccount(data []byte, address Pubkey) (*TaskAccount, error) {
	if len(data) < MinTaskAccountLength {
		return nil, errors.Newf(errors.CodeDecodeFailure, "账户数据过短: %d 字节", len(data))
	}
	if !bytes.Equal(data[0:8], TaskDiscriminator[:]) {
		return nil, errors.New(errors.CodeDecodeFailure, "账户类型标识不匹配")
	}

	task := &TaskAccount{Address: address}
	task.TaskID = binary.LittleEndian.Uint64(data[8:16])

	var err error
	if task.Creator, err = PubkeyFromBytes(data[16:48]); err != nil {
		return nil, errors.Wrap(errors.CodeDecodeFailure, err, "创建者公钥非法")
	}
	if task.Escrow, err = PubkeyFromBytes(data[48:80]); err != nil {
		return nil, errors.Wrap(errors.CodeDecodeFailure, err, "托管公钥非法")
	}
	task.RequiredCapabilities = binary.LittleEndian.Uint64(data[80:88])
	copy(task.DescriptionHash[:], data[88:120])
	copy(task.ConstraintHash[:], data[120:152])

	if task.State, err = TaskStateFromByte(data[TaskStatusOffset]); err != nil {
		return nil, err
	}

	if len(data) >= 163 {
		task.RewardLamports = binary.LittleEndian.Uint64(data[155:163])
	}
	if len(data) >= 171 {
		task.Deadline = int64(binary.LittleEndian.Uint64(data[163:171]))
	}
	if len(data) >= 204 && data[171] == 1 {
		claimer, err := PubkeyFromBytes(data[172:204])
		if err == nil {
			task.ClaimedBy = &claimer
		}
	}
	if len(data) >= 212 {
		task.RewardTokens = binary.LittleEndian.Uint64(data[204:212])
	}

	return task, nil
}
