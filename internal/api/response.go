package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	xerrors "AgentHub/internal/errors"
	"AgentHub/pkg/logger"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L().Warn("写入响应失败", slog.Any("error", err))
	}
}

// writeError 按错误码映射 HTTP 状态。
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorStatus(w, r, xerrors.StatusOf(err), err)
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	body := errorBody{Code: string(xerrors.CodeOf(err)), Message: err.Error()}
	if e, ok := xerrors.From(err); ok {
		body.Message = e.Message()
		if cause := e.Unwrap(); cause != nil {
			body.Message += ": " + cause.Error()
		}
		body.Metadata = e.Metadata()
	}
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取请求体失败")
	}
	return data, nil
}
