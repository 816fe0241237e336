package agent

import (
	"strings"

	"AgenC-Operator/internal/policy"
)

// IntentAction 是一次意图的动作标识。
type IntentAction string

// 受支持的动作集合。未识别的输入归入 ActionUnknown。
const (
	ActionCreateTask       IntentAction = "create_task"
	ActionClaimTask        IntentAction = "claim_task"
	ActionCompleteTask     IntentAction = "complete_task"
	ActionCancelTask       IntentAction = "cancel_task"
	ActionListOpenTasks    IntentAction = "list_open_tasks"
	ActionGetTaskStatus    IntentAction = "get_task_status"
	ActionGetBalance       IntentAction = "get_balance"
	ActionGetAddress       IntentAction = "get_address"
	ActionGetProtocolState IntentAction = "get_protocol_state"
	ActionSwapTokens       IntentAction = "swap_tokens"
	ActionExportKey        IntentAction = "export_key"
	ActionHelp             IntentAction = "help"
	ActionUnknown          IntentAction = "unknown"
)

var knownActions = map[IntentAction]bool{
	ActionCreateTask: true, ActionClaimTask: true, ActionCompleteTask: true,
	ActionCancelTask: true, ActionListOpenTasks: true, ActionGetTaskStatus: true,
	ActionGetBalance: true, ActionGetAddress: true, ActionGetProtocolState: true,
	ActionSwapTokens: true, ActionExportKey: true, ActionHelp: true,
}

// ParseAction 把外部输入规整为已知动作，未知输入返回 ActionUnknown。
func ParseAction(raw string) IntentAction {
	action := IntentAction(strings.ToLower(strings.TrimSpace(raw)))
	if knownActions[action] {
		return action
	}
	return ActionUnknown
}

// Intent 是一次待执行的意图。Confirmation 携带用户的确认应答文本，
// Confirmed 是硬件钱包按键确认的回执标志。
type Intent struct {
	Action        IntentAction   `json:"action"`
	Params        map[string]any `json:"params,omitempty"`
	Confirmation  string         `json:"confirmation,omitempty"`
	Confirmed     bool           `json:"confirmed,omitempty"`
	RawTranscript string         `json:"raw_transcript,omitempty"`
}

// ResultStatus 是一次意图执行的终态。
type ResultStatus string

const (
	// StatusExecuted 表示动作已执行成功（链上动作含确认）。
	StatusExecuted ResultStatus = "executed"
	// StatusDenied 表示动作被策略或访问档位拒绝。
	StatusDenied ResultStatus = "denied"
	// StatusAwaitingConfirmation 表示需要更强的确认后重新提交。
	StatusAwaitingConfirmation ResultStatus = "awaiting_confirmation"
	// StatusFailed 表示动作执行失败。
	StatusFailed ResultStatus = "failed"
	// StatusTimeout 表示交易已提交但确认超时，链上状态未知。
	StatusTimeout ResultStatus = "confirmation_timeout"
)

// ExecutionResult 是一次意图执行的统一结果。确认超时保留签名，
// 既不算成功也不算失败。
type ExecutionResult struct {
	IntentID     string                  `json:"intent_id"`
	Action       IntentAction            `json:"action"`
	Status       ResultStatus            `json:"status"`
	Success      bool                    `json:"success"`
	Message      string                  `json:"message"`
	Signature    string                  `json:"signature,omitempty"`
	Confirmation policy.ConfirmationType `json:"required_confirmation,omitempty"`
	Data         map[string]any          `json:"data,omitempty"`
}
