package api

import (
	"net/http"
	"strconv"
	"strings"

	"AgentHub/internal/auth"
	"AgentHub/internal/chat"
	"AgentHub/internal/dispatch"
	xerrors "AgentHub/internal/errors"
)

// chatRequest 是对话接口的请求体。
type chatRequest struct {
	ChatID      string            `json:"chat_id"`
	UserID      string            `json:"user_id,omitempty"`
	Message     string            `json:"message"`
	Attachments []chat.Attachment `json:"attachments,omitempty"`
}

func (req *chatRequest) validate() error {
	if strings.TrimSpace(req.ChatID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "chat_id 不能为空")
	}
	if strings.TrimSpace(req.Message) == "" && len(req.Attachments) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "消息内容不能为空")
	}
	return nil
}

func debugFlag(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("debug"))
	return v
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = auth.OwnerFromContext(r.Context())
	}
	msg := &chat.Message{
		AgentID:     r.PathValue("id"),
		ChatID:      req.ChatID,
		AuthorID:    userID,
		AuthorType:  chat.AuthorWeb,
		Message:     req.Message,
		Attachments: req.Attachments,
	}
	results, err := s.deps.Turns.Run(r.Context(), msg, debugFlag(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleChatAsync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "异步对话未启用"))
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = auth.OwnerFromContext(r.Context())
	}
	job, err := s.deps.Jobs.Submit(r.Context(), dispatch.Request{
		ID:          r.Header.Get("Idempotency-Key"),
		AgentID:     r.PathValue("id"),
		ChatID:      req.ChatID,
		UserID:      userID,
		Message:     req.Message,
		Attachments: req.Attachments,
		Debug:       debugFlag(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "异步对话未启用"))
		return
	}
	job, err := s.deps.Jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	messages, err := s.deps.Messages.ListByChat(r.Context(), r.PathValue("id"), r.PathValue("chat"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// handleThreadMemory 返回检查点中的线程消息，任何失败都按 400 返回。
func (s *Server) handleThreadMemory(w http.ResponseWriter, r *http.Request) {
	messages, err := s.deps.Turns.ThreadMessages(r.Context(), r.PathValue("id"), r.PathValue("chat"))
	if err != nil {
		writeErrorStatus(w, r, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}
