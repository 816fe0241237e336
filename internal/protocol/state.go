package protocol

import "AgenC-Operator/internal/errors"

// TaskState 是任务在链上的生命周期状态，线格式为单个字节。
type TaskState uint8

const (
	TaskOpen TaskState = iota
	TaskInProgress
	TaskPendingValidation
	TaskCompleted
	TaskCancelled
	TaskDisputed
)

// TaskStateFromByte 解码状态字节，未知取值一律拒绝。
func TaskStateFromByte(b byte) (TaskState, error) {
	if b > byte(TaskDisputed) {
		return 0, errors.Newf(errors.CodeDecodeFailure, "未知的任务状态字节: %d", b)
	}
	return TaskState(b), nil
}

// Byte 返回状态的线格式字节。
func (s TaskState) Byte() byte {
	return byte(s)
}

// String 返回状态的英文标签，用于日志与 API 输出。
func (s TaskState) String() string {
	switch s {
	case TaskOpen:
		return "open"
	case TaskInProgress:
		return "in_progress"
	case TaskPendingValidation:
		return "pending_validation"
	case TaskCompleted:
		return "completed"
	case TaskCancelled:
		return "cancelled"
	case TaskDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

// Terminal 判断状态是否已经到达终态。
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}
