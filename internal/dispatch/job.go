package dispatch

import (
	"net/http"
	"slices"
	"time"

	"AgentHub/internal/chat"
	xerrors "AgentHub/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job 是一次排队执行的对话轮次。
type Job struct {
	ID          string            `json:"id"`
	AgentID     string            `json:"agent_id"`
	ChatID      string            `json:"chat_id"`
	UserID      string            `json:"user_id,omitempty"`
	Message     string            `json:"message"`
	Attachments []chat.Attachment `json:"attachments,omitempty"`
	Debug       bool              `json:"debug,omitempty"`
	Status      Status            `json:"status"`
	// MessageIDs 为本轮写入的聊天消息，按产生顺序排列。
	MessageIDs []string  `json:"message_ids,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const (
	CodeJobNotFound   xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict   xerrors.Code = "JOB_CONFLICT"
	CodeJobValidation xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish    xerrors.Code = "JOB_PUBLISH_FAILED"
)

var (
	// ErrJobNotFound 表示指定的任务不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示任务已被领取或已结束。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:  "job not found",
		Severity: xerrors.SeverityInfo,
		Status:   http.StatusNotFound,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:  "job conflict",
		Severity: xerrors.SeverityWarning,
		Status:   http.StatusConflict,
	})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{
		Message:  "job validation failed",
		Severity: xerrors.SeverityInfo,
		Status:   http.StatusBadRequest,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
		Status:    http.StatusServiceUnavailable,
	})
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal 判断任务是否已结束。
func (j *Job) Terminal() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

func cloneJob(j *Job) *Job {
	clone := *j
	clone.Attachments = slices.Clone(j.Attachments)
	clone.MessageIDs = slices.Clone(j.MessageIDs)
	return &clone
}
