package errors

import (
	"net/http"
	"sync"
)

// Code 表示平台内统一的错误码。
type Code string

// Severity 描述错误的严重程度，决定是否告警以及审计级别。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodePermissionDenied      Code = "PERMISSION_DENIED"
	CodeUnauthenticated       Code = "UNAUTHENTICATED"
	CodeConfigInvalid         Code = "CONFIG_INVALID"
	CodeUpstreamFailure       Code = "UPSTREAM_FAILURE"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeExecutorFailure       Code = "EXECUTOR_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
	// Status 为对外暴露时使用的 HTTP 状态码，零值表示 500。
	Status int
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Alert: true, Status: http.StatusInternalServerError},
		CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo, Status: http.StatusBadRequest},
		CodeNotFound:              {Message: "resource not found", Severity: SeverityInfo, Status: http.StatusNotFound},
		CodeConflict:              {Message: "resource conflict", Severity: SeverityWarning, Status: http.StatusConflict},
		CodePermissionDenied:      {Message: "permission denied", Severity: SeverityWarning, Status: http.StatusForbidden},
		CodeUnauthenticated:       {Message: "unauthenticated", Severity: SeverityInfo, Status: http.StatusUnauthorized},
		CodeConfigInvalid:         {Message: "invalid configuration", Severity: SeverityWarning, Status: http.StatusBadRequest},
		CodeUpstreamFailure:       {Message: "upstream service failure", Severity: SeverityWarning, Retryable: true, Status: http.StatusBadGateway},
		CodeRateLimited:           {Message: "rate limit exceeded", Severity: SeverityInfo, Retryable: true, Status: http.StatusTooManyRequests},
		CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning, Retryable: true, Alert: true, Status: http.StatusServiceUnavailable},
		CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical, Retryable: true, Alert: true, Status: http.StatusInternalServerError},
		CodeQueueFailure:          {Message: "queue failure", Severity: SeverityCritical, Retryable: true, Alert: true, Status: http.StatusServiceUnavailable},
		CodeExecutorFailure:       {Message: "executor failure", Severity: SeverityWarning, Alert: true, Status: http.StatusInternalServerError},
		CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Retryable: true, Status: http.StatusGatewayTimeout},
	}
)

// Register 允许业务模块在 init 阶段注册自己的错误码。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性，未注册时回落到 UNKNOWN。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// HTTPStatus 返回错误码映射的 HTTP 状态码。
func HTTPStatus(code Code) int {
	if status := AttributesOf(code).Status; status != 0 {
		return status
	}
	return http.StatusInternalServerError
}

// StatusOf 解析任意 error 对应的 HTTP 状态码。
func StatusOf(err error) int {
	return HTTPStatus(CodeOf(err))
}
