package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"AgenC-Operator/internal/access"
	apperrors "AgenC-Operator/internal/errors"
	"AgenC-Operator/internal/ledger"
	"AgenC-Operator/internal/observability/alerting"
	"AgenC-Operator/internal/observability/metrics"
	"AgenC-Operator/internal/policy"
	"AgenC-Operator/internal/protocol"
	"AgenC-Operator/internal/submit"
	"AgenC-Operator/internal/wallet"
	"AgenC-Operator/pkg/logger"
)

// feeReserve 是发交易时在奖励之外预留的手续费 lamports。
const feeReserve = 10_000

// defaultTaskTTL 是未显式给出截止时间时任务的默认存活时长。
const defaultTaskTTL = 24 * time.Hour

// featureGates 列出需要访问档位把关的动作。任务操作是核心能力，
// 不做档位限制。
var featureGates = map[IntentAction]access.Feature{
	ActionSwapTokens: access.FeatureTrading,
}

// Agent 把访问档位缓存、策略闸门、协议编解码、钱包与提交器
// 组合成一条意图执行流水线。
type Agent struct {
	params    protocol.Params
	client    ledger.Client
	fetcher   *protocol.Fetcher
	signer    *wallet.Signer
	submitter *submit.Submitter
	gate      *policy.Gate
	access    *access.Cache
	alerts    alerting.Dispatcher
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// New 创建意图执行编排器。alerts 可以为 nil，表示不投递告警。
func New(
	params protocol.Params,
	client ledger.Client,
	signer *wallet.Signer,
	submitter *submit.Submitter,
	gate *policy.Gate,
	accessCache *access.Cache,
	alerts alerting.Dispatcher,
	log *slog.Logger,
) *Agent {
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		params:    params,
		client:    client,
		fetcher:   protocol.NewFetcher(params, client, log),
		signer:    signer,
		submitter: submitter,
		gate:      gate,
		access:    accessCache,
		alerts:    alerts,
		logger:    log,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Execute 执行一次意图并返回统一结果。所有拒绝、等待确认与失败
// 都体现在结果里，调用方不需要区分错误通道。
func (a *Agent) Execute(ctx context.Context, intent Intent) ExecutionResult {
	id := a.newID()
	action := intent.Action
	if !knownActions[action] {
		action = ActionUnknown
	}
	intent.Action = action

	audit := logger.AuditIntent(id, string(action))
	result := a.execute(ctx, id, intent)
	result.IntentID = id
	result.Action = action

	metrics.ObserveIntent(string(action), string(result.Status))
	audit.Info("意图执行完成",
		slog.String("status", string(result.Status)),
		slog.Bool("success", result.Success),
		slog.String("signature", result.Signature),
		slog.String("message", result.Message))
	return result
}

func (a *Agent) execute(ctx context.Context, id string, intent Intent) ExecutionResult {
	action := intent.Action

	if feature, gated := featureGates[action]; gated && a.access != nil {
		if _, err := a.access.GateFeature(ctx, a.signer.Pubkey(), feature); err != nil {
			if apperrors.CodeOf(err) == apperrors.CodeAccessDenied {
				return ExecutionResult{Status: StatusDenied, Message: err.Error()}
			}
			return a.failf(ctx, id, action, "", apperrors.Wrap(apperrors.CodeRPCFailure, err, "访问档位查询失败"))
		}
	}

	check := a.gate.CheckPolicy(string(action), intent.Params)
	if !check.Allowed {
		return ExecutionResult{Status: StatusDenied, Message: check.Reason}
	}
	if check.RequiresConfirmation {
		satisfied, cancelled := confirmationSatisfied(a.gate, check.Confirmation, intent)
		if cancelled {
			return ExecutionResult{Status: StatusDenied, Message: "用户已取消该操作"}
		}
		if !satisfied {
			return ExecutionResult{
				Status:       StatusAwaitingConfirmation,
				Confirmation: check.Confirmation,
				Message:      fmt.Sprintf("该操作需要 %s 级别确认", check.Confirmation),
			}
		}
	}

	switch action {
	case ActionGetBalance:
		return a.getBalance(ctx)
	case ActionGetAddress:
		return a.getAddress()
	case ActionGetTaskStatus:
		return a.getTaskStatus(ctx, id, intent.Params)
	case ActionListOpenTasks:
		return a.listOpenTasks(ctx, id, intent.Params)
	case ActionGetProtocolState:
		return a.getProtocolState(ctx, id)
	case ActionHelp:
		return helpResult()
	case ActionCreateTask:
		return a.createTask(ctx, id, intent.Params)
	case ActionClaimTask:
		return a.claimTask(ctx, id, intent.Params)
	case ActionCompleteTask:
		return a.completeTask(ctx, id, intent.Params)
	case ActionCancelTask:
		return a.cancelTask(ctx, id, intent.Params)
	case ActionSwapTokens:
		return ExecutionResult{Status: StatusFailed, Message: "代币兑换由外部交易执行器处理，本服务未接入兑换路由"}
	case ActionExportKey:
		// 即使策略配置被改动，私钥也永不离开进程。
		return ExecutionResult{Status: StatusDenied, Message: "私钥导出被永久禁止"}
	default:
		return ExecutionResult{Status: StatusFailed, Message: "未知指令，发送 help 查看可用命令"}
	}
}

// confirmationSatisfied 校验意图携带的确认凭据是否满足要求的强度。
// 口头取消返回 cancelled。
func confirmationSatisfied(gate *policy.Gate, kind policy.ConfirmationType, intent Intent) (satisfied, cancelled bool) {
	switch kind {
	case policy.ConfirmationVerbal:
		if policy.IsVerbalCancellation(intent.Confirmation) {
			return false, true
		}
		return policy.IsVerbalConfirmation(intent.Confirmation), false
	case policy.ConfirmationTyped:
		want := "confirm " + string(intent.Action)
		return strings.EqualFold(strings.TrimSpace(intent.Confirmation), want), false
	case policy.ConfirmationHardware:
		return gate.HardwareConnected() && intent.Confirmed, false
	default:
		return true, false
	}
}

// ---- 只读动作 ----

func (a *Agent) getBalance(ctx context.Context) ExecutionResult {
	lamports, err := a.client.GetBalance(ctx, a.signer.Address())
	if err != nil {
		return ExecutionResult{Status: StatusFailed, Message: fmt.Sprintf("余额查询失败: %v", err)}
	}
	sol := protocol.LamportsToSOL(lamports)
	return ExecutionResult{
		Status: StatusExecuted, Success: true,
		Message: fmt.Sprintf("当前余额 %.4f SOL", sol),
		Data:    map[string]any{"lamports": lamports, "sol": sol},
	}
}

func (a *Agent) getAddress() ExecutionResult {
	address := a.signer.Address()
	return ExecutionResult{
		Status: StatusExecuted, Success: true,
		Message: fmt.Sprintf("钱包地址 %s", address),
		Data:    map[string]any{"address": address},
	}
}

func (a *Agent) getTaskStatus(ctx context.Context, id string, params map[string]any) ExecutionResult {
	taskID, ok := paramUint64(params, "task_id")
	if !ok {
		return ExecutionResult{Status: StatusFailed, Message: "缺少 task_id 参数"}
	}
	task, err := a.fetcher.FetchTaskByID(ctx, taskID)
	if err != nil {
		return a.failf(ctx, id, ActionGetTaskStatus, "", apperrors.Wrap(apperrors.CodeRPCFailure, err, "任务账户查询失败"))
	}
	if task == nil {
		return ExecutionResult{Status: StatusFailed, Message: fmt.Sprintf("任务 %d 不存在", taskID)}
	}
	return ExecutionResult{
		Status: StatusExecuted, Success: true,
		Message: fmt.Sprintf("任务 %d 状态 %s，奖励 %.4f SOL", taskID, task.State, task.RewardSOL()),
		Data:    taskData(task),
	}
}

func (a *Agent) listOpenTasks(ctx context.Context, id string, params map[string]any) ExecutionResult {
	limit := 10
	if v, ok := paramUint64(params, "limit"); ok && v > 0 {
		limit = int(v)
	}
	tasks, err := a.fetcher.FetchTasksByState(ctx, protocol.TaskOpen, limit)
	if err != nil {
		return a.failf(ctx, id, ActionListOpenTasks, "", apperrors.Wrap(apperrors.CodeRPCFailure, err, "开放任务查询失败"))
	}
	list := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		list = append(list, taskData(task))
	}
	return ExecutionResult{
		Status: StatusExecuted, Success: true,
		Message: fmt.Sprintf("共 %d 个开放任务", len(list)),
		Data:    map[string]any{"tasks": list, "count": len(list)},
	}
}

func (a *Agent) getProtocolState(ctx context.Context, id string) ExecutionResult {
	counts := map[string]int{}
	total := 0
	for _, state := range []protocol.TaskState{protocol.TaskOpen, protocol.TaskInProgress, protocol.TaskCompleted} {
		tasks, err := a.fetcher.FetchTasksByState(ctx, state, 0)
		if err != nil {
			return a.failf(ctx, id, ActionGetProtocolState, "", apperrors.Wrap(apperrors.CodeRPCFailure, err, "协议状态查询失败"))
		}
		counts[state.String()] = len(tasks)
		total += len(tasks)
	}
	protocolPDA, _, err := a.params.ProtocolAddress()
	if err != nil {
		return ExecutionResult{Status: StatusFailed, Message: fmt.Sprintf("协议地址推导失败: %v", err)}
	}
	return ExecutionResult{
		Status: StatusExecuted, Success: true,
		Message: fmt.Sprintf("协议共 %d 个任务（开放 %d，进行中 %d，已完成 %d）",
			total, counts["open"], counts["in_progress"], counts["completed"]),
		Data: map[string]any{
			"program_id": a.params.ProgramID.String(),
			"protocol":   protocolPDA.String(),
			"counts":     counts,
		},
	}
}

func helpResult() ExecutionResult {
	commands := []string{
		"create_task — 创建带 SOL 奖励的任务（消费类，需确认）",
		"claim_task — 认领开放任务（口头确认）",
		"complete_task — 提交任务完成证明（口头确认）",
		"cancel_task — 取消自己创建的任务（键入确认）",
		"list_open_tasks / get_task_status — 查询任务",
		"get_balance / get_address / get_protocol_state — 查询账户与协议",
	}
	return ExecutionResult{
		Status: StatusExecuted, Success: true,
		Message: "可用命令:\n" + strings.Join(commands, "\n"),
		Data:    map[string]any{"commands": commands},
	}
}

// ---- 链上动作 ----

func (a *Agent) createTask(ctx context.Context, id string, params map[string]any) ExecutionResult {
	description, _ := params["description"].(string)
	if strings.TrimSpace(description) == "" {
		return ExecutionResult{Status: StatusFailed, Message: "缺少 description 参数"}
	}
	rewardSOL := policy.ExtractSOLAmount(params)
	lamports := protocol.SOLToLamports(rewardSOL)
	if lamports == 0 {
		return ExecutionResult{Status: StatusFailed, Message: "任务奖励必须大于零"}
	}

	balance, err := a.client.GetBalance(ctx, a.signer.Address())
	if err != nil {
		return a.failf(ctx, id, ActionCreateTask, "", apperrors.Wrap(apperrors.CodeRPCFailure, err, "余额查询失败"))
	}
	if balance < lamports+feeReserve {
		return ExecutionResult{Status: StatusFailed, Message: fmt.Sprintf(
			"余额不足：需要 %.4f SOL，当前 %.4f SOL",
			protocol.LamportsToSOL(lamports+feeReserve), protocol.LamportsToSOL(balance))}
	}

	taskID := uint64(a.now().UnixMilli())
	descriptionHash := sha256.Sum256([]byte(description))
	deadline := a.now().Add(defaultTaskTTL).Unix()
	if hours, ok := paramFloat(params, "deadline_hours"); ok && hours > 0 {
		deadline = a.now().Add(time.Duration(hours * float64(time.Hour))).Unix()
	} else if unix, ok := paramUint64(params, "deadline"); ok && unix > 0 {
		deadline = int64(unix)
	}
	capabilities, _ := paramUint64(params, "capabilities")

	ix, err := a.params.BuildCreateTask(a.signer.Pubkey(), taskID, descriptionHash, lamports, deadline, capabilities)
	if err != nil {
		return ExecutionResult{Status: StatusFailed, Message: fmt.Sprintf("指令构建失败: %v", err)}
	}
	instructions := []protocol.Instruction{ix}
	if tokens, ok := paramUint64(params, "reward_tokens"); ok && tokens > 0 {
		deposit, err := a.params.BuildTokenEscrowDeposit(a.signer.Pubkey(), taskID, tokens)
		if err != nil {
			return ExecutionResult{Status: StatusFailed, Message: fmt.Sprintf("代币托管指令构建失败: %v", err)}
		}
		instructions = append(instructions, deposit...)
	}

	return a.submitOnChain(ctx, id, ActionCreateTask, instructions, lamports,
		fmt.Sprintf("任务 %d 创建成功，奖励 %.4f SOL", taskID, rewardSOL),
		map[string]any{"task_id": taskID, "reward_sol": rewardSOL, "deadline": deadline})
}

func (a *Agent) claimTask(ctx context.Context, id string, params map[string]any) ExecutionResult {
	taskID, ok := paramUint64(params, "task_id")
	if !ok {
		return ExecutionResult{Status: StatusFailed, Message: "缺少 task_id 参数"}
	}
	task, res := a.requireTask(ctx, id, ActionClaimTask, taskID)
	if task == nil {
		return res
	}
	if task.State != protocol.TaskOpen {
		return ExecutionResult{Status: StatusFailed, Message: fmt.Sprintf("任务 %d 当前状态 %s，无法认领", taskID, task.State)}
	}

	agentID := sha256.Sum256(a.signer.Pubkey().Bytes())
	ix, err := a.params.BuildClaimTask(a.signer.Pubkey(), taskID, agentID)
	if err != nil {
		return ExecutionResult{Status: StatusFailed, Message: fmt.Sprintf("指令构建失败: %v", err)}
	}
	return a.submitOnChain(ctx, id, ActionClaimTask, []protocol.Instruction{ix}, 0,
		fmt.Sprintf("任务 %d 认领成功", taskID),
		map[string]any{"task_id": taskID})
}

func (a *Agent) completeTask(ctx context.Context, id string, params map[string]any) ExecutionResult {
	taskID, ok := paramUint64(params, "task_id")
	if !ok {
		return ExecutionResult{Status: StatusFailed, Message: "缺少 task_id 参数"}
	}
	task, res := a.requireTask(ctx, id, ActionCompleteTask, taskID)
	if task == nil {
		return res
	}
	if task.State != protocol.TaskInProgress {
		return ExecutionResult{Status: StatusFailed, Message: fmt.Sprintf("任务 %d 当前状态 %s，无法提交完成", taskID, task.State)}
	}

	result, _ := params["result"].(string)
	proofHash, err := resolveProofHash(params, result)
	if err != nil {
		return ExecutionResult{Status: StatusFailed, Message: err.Error()}
	}
	resultData := []byte(result)
	if len(resultData) > 64 {
		resultData = resultData[:64]
	}
	ix, err := a.params.BuildCompleteTask(a.signer.Pubkey(), taskID, proofHash, resultData, task.RewardTokens > 0)
	if err != nil {
		return ExecutionResult{Status: StatusFailed, Message: fmt.Sprintf("指令构建失败: %v", err)}
	}
	return a.submitOnChain(ctx, id, ActionCompleteTask, []protocol.Instruction{ix}, 0,
		fmt.Sprintf("任务 %d 完成证明已提交", taskID),
		map[string]any{"task_id": taskID, "reward_sol": task.RewardSOL()})
}

func (a *Agent) cancelTask(ctx context.Context, id string, params map[string]any) ExecutionResult {
	taskID, ok := paramUint64(params, "task_id")
	if !ok {
		return ExecutionResult{Status: StatusFailed, Message: "缺少 task_id 参数"}
	}
	task, res := a.requireTask(ctx, id, ActionCancelTask, taskID)
	if task == nil {
		return res
	}
	if task.Creator != a.signer.Pubkey() {
		return ExecutionResult{Status: StatusDenied, Message: "只有任务创建者可以取消任务"}
	}
	if task.State.Terminal() {
		return ExecutionResult{Status: StatusFailed, Message: fmt.Sprintf("任务 %d 已处于终态 %s", taskID, task.State)}
	}

	ix, err := a.params.BuildCancelTask(a.signer.Pubkey(), taskID)
	if err != nil {
		return ExecutionResult{Status: StatusFailed, Message: fmt.Sprintf("指令构建失败: %v", err)}
	}
	return a.submitOnChain(ctx, id, ActionCancelTask, []protocol.Instruction{ix}, 0,
		fmt.Sprintf("任务 %d 已取消，托管奖励退回", taskID),
		map[string]any{"task_id": taskID})
}

// requireTask 拉取任务账户，缺失或查询失败时返回终结结果。
func (a *Agent) requireTask(ctx context.Context, id string, action IntentAction, taskID uint64) (*protocol.TaskAccount, ExecutionResult) {
	task, err := a.fetcher.FetchTaskByID(ctx, taskID)
	if err != nil {
		return nil, a.failf(ctx, id, action, "", apperrors.Wrap(apperrors.CodeRPCFailure, err, "任务账户查询失败"))
	}
	if task == nil {
		return nil, ExecutionResult{Status: StatusFailed, Message: fmt.Sprintf("任务 %d 不存在", taskID)}
	}
	return task, ExecutionResult{}
}

// submitOnChain 完成取 blockhash、编译签名、带重试提交的整条链路，
// 并在确认后一次性记账消费额度。blockhash 过期只刷新重发一次。
func (a *Agent) submitOnChain(ctx context.Context, id string, action IntentAction,
	instructions []protocol.Instruction, spendLamports uint64,
	confirmedMessage string, data map[string]any) ExecutionResult {

	res, err := a.sendOnce(ctx, instructions)
	if err != nil {
		return a.failf(ctx, id, action, "", err)
	}
	if res.RequiresBlockhashRefresh() {
		a.logger.Warn("blockhash 已过期，刷新后重发一次", slog.String("intent_id", id))
		res, err = a.sendOnce(ctx, instructions)
		if err != nil {
			return a.failf(ctx, id, action, "", err)
		}
	}

	switch res.Status {
	case submit.StatusConfirmed:
		if spendLamports > 0 {
			a.gate.RecordSpending(spendLamports)
		}
		return ExecutionResult{
			Status: StatusExecuted, Success: true,
			Message: confirmedMessage, Signature: res.Signature, Data: data,
		}
	case submit.StatusConfirmationTimeout:
		a.dispatchAlert(ctx, apperrors.New(apperrors.CodeConfirmTimeout, res.Message), id, action, res.Signature)
		return ExecutionResult{
			Status:    StatusTimeout,
			Message:   fmt.Sprintf("确认超时，交易状态未知，签名 %s", res.Signature),
			Signature: res.Signature,
		}
	case submit.StatusPermanentFailure:
		return a.failf(ctx, id, action, res.Signature, apperrors.New(apperrors.CodeSendPermanent, res.Message))
	default:
		return a.failf(ctx, id, action, res.Signature, apperrors.New(apperrors.CodeSendRetryable, res.Message))
	}
}

func (a *Agent) sendOnce(ctx context.Context, instructions []protocol.Instruction) (submit.SendResult, error) {
	blockhash, err := a.client.GetLatestBlockhash(ctx)
	if err != nil {
		return submit.SendResult{}, apperrors.Wrap(apperrors.CodeRPCFailure, err, "获取最新 blockhash 失败")
	}
	message, err := protocol.CompileMessage(a.signer.Pubkey(), blockhash.Blockhash, instructions)
	if err != nil {
		return submit.SendResult{}, apperrors.Wrap(apperrors.CodeInvalidArgument, err, "交易消息编译失败")
	}
	signature, err := a.signer.Sign(message)
	if err != nil {
		return submit.SendResult{}, apperrors.Wrap(apperrors.CodeWalletUnavailable, err, "交易签名失败")
	}
	signedTx, err := protocol.Envelope(message, signature)
	if err != nil {
		return submit.SendResult{}, apperrors.Wrap(apperrors.CodeInvalidArgument, err, "交易封装失败")
	}
	return a.submitter.SendAndConfirmWithRetry(ctx, signedTx)
}

// failf 生成失败结果，并在错误等级需要时投递告警。
func (a *Agent) failf(ctx context.Context, id string, action IntentAction, signature string, err error) ExecutionResult {
	a.logger.Error("意图执行失败",
		slog.String("intent_id", id),
		slog.String("action", string(action)),
		slog.Any("error", err))
	a.dispatchAlert(ctx, err, id, action, signature)
	return ExecutionResult{Status: StatusFailed, Message: err.Error(), Signature: signature}
}

func (a *Agent) dispatchAlert(ctx context.Context, err error, id string, action IntentAction, signature string) {
	if a.alerts == nil || !apperrors.ShouldAlert(err) {
		return
	}
	event := alerting.FromError(err, id, string(action), signature, 0, 0)
	if notifyErr := a.alerts.Notify(ctx, event); notifyErr != nil {
		a.logger.Warn("告警投递失败", slog.Any("error", notifyErr))
	}
}

// ---- 参数与数据辅助 ----

func taskData(task *protocol.TaskAccount) map[string]any {
	data := map[string]any{
		"task_id":    task.TaskID,
		"address":    task.Address.String(),
		"creator":    task.Creator.String(),
		"state":      task.State.String(),
		"reward_sol": task.RewardSOL(),
		"deadline":   task.Deadline,
	}
	if task.RewardTokens > 0 {
		data["reward_tokens"] = task.RewardTokens
	}
	if task.ClaimedBy != nil {
		data["claimed_by"] = task.ClaimedBy.String()
	}
	return data
}

// resolveProofHash 优先使用显式的 proof_hash（64 位十六进制），
// 否则用结果文本的 SHA-256。
func resolveProofHash(params map[string]any, result string) ([32]byte, error) {
	var proof [32]byte
	raw, _ := params["proof_hash"].(string)
	if raw == "" {
		return sha256.Sum256([]byte(result)), nil
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return proof, fmt.Errorf("proof_hash 必须是 64 位十六进制字符串")
	}
	copy(proof[:], decoded)
	return proof, nil
}

func paramUint64(params map[string]any, key string) (uint64, bool) {
	switch v := params[key].(type) {
	case uint64:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func paramFloat(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
