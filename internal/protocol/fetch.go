package protocol

import (
	"context"
	"log/slog"
	"sort"

	"AgenC-Operator/internal/errors"
	"AgenC-Operator/internal/ledger"

	"github.com/mr-tron/base58"
)

// Fetcher 基于账本 RPC 提供任务账户的查询能力。
type Fetcher struct {
	params Params
	client ledger.Client
	logger *slog.Logger
}

// NewFetcher 构造任务查询器。
func NewFetcher(params Params, client ledger.Client, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{params: params, client: client, logger: logger}
}

// FetchTaskByID 按任务号读取单个任务账户，账户不存在时返回 nil。
func (f *Fetcher) FetchTaskByID(ctx context.Context, taskID uint64) (*TaskAccount, error) {
	addr, _, err := f.params.TaskAddress(taskID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeRPCFailure, err, "派生任务地址失败")
	}

	data, err := f.client.GetAccountInfo(ctx, addr.String())
	if err != nil {
		return nil, errors.Wrap(errors.CodeRPCFailure, err, "读取任务账户失败")
	}
	if data == nil {
		return nil, nil
	}
	return DecodeTaskAccount(data, addr)
}

// FetchTasksByState 扫描处于指定状态的任务账户，按奖励从高到低排序。
// 单个账户解码失败只记录告警并跳过，不影响整体结果。
func (f *Fetcher) FetchTasksByState(ctx context.Context, state TaskState, limit int) ([]*TaskAccount, error) {
	filters := []ledger.MemcmpFilter{
		{Offset: 0, Bytes: base58.Encode(TaskDiscriminator[:])},
		{Offset: TaskStatusOffset, Bytes: base58.Encode([]byte{state.Byte()})},
	}

	accounts, err := f.client.GetProgramAccounts(ctx, f.params.ProgramID.String(), filters)
	if err != nil {
		return nil, errors.Wrap(errors.CodeRPCFailure, err, "扫描任务账户失败")
	}

	tasks := make([]*TaskAccount, 0, len(accounts))
	for _, acct := range accounts {
		if limit > 0 && len(tasks) >= limit {
			break
		}
		addr, err := PubkeyFromBase58(acct.Address)
		if err != nil {
			f.logger.Warn("任务账户地址非法", "address", acct.Address, "error", err)
			continue
		}
		task, err := DecodeTaskAccount(acct.Data, addr)
		if err != nil {
			f.logger.Warn("任务账户解码失败", "address", acct.Address, "error", err)
			continue
		}
		tasks = append(tasks, task)
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].RewardLamports > tasks[j].RewardLamports
	})
	return tasks, nil
}
