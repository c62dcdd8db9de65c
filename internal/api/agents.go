package api

import (
	"net/http"
	"strconv"

	"AgentHub/internal/admin"
	"AgentHub/internal/agentstore"
	"AgentHub/internal/auth"
)

func (s *Server) handleUpsertAgent(w http.ResponseWriter, r *http.Request) {
	var input agentstore.Agent
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Admin.Upsert(r.Context(), &input, auth.OwnerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeAgent(w, http.StatusOK, res.Agent)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var input agentstore.Agent
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Admin.Create(r.Context(), &input, auth.OwnerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeAgent(w, status, res.Agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := agentstore.ListOptions{Owner: q.Get("owner")}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		opts.Offset = v
	}
	agents, err := s.deps.Admin.List(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.deps.Admin.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	etag := admin.ETag(agent)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeAgent(w, http.StatusOK, agent)
}

func (s *Server) handlePatchAgent(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Admin.Patch(r.Context(), r.PathValue("id"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeAgent(w, http.StatusOK, res.Agent)
}

func (s *Server) handleOverrideAgent(w http.ResponseWriter, r *http.Request) {
	var input agentstore.Agent
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Admin.Override(r.Context(), r.PathValue("id"), &input, auth.OwnerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeAgent(w, http.StatusOK, res.Agent)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var input agentstore.Agent
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	if id := r.PathValue("id"); id != "" {
		input.ID = id
	}
	if err := s.deps.Admin.Validate(r.Context(), &input); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCleanMemory(w http.ResponseWriter, r *http.Request) {
	var req admin.CleanMemoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Admin.CleanMemory(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	content, err := s.deps.Admin.ExportYAML(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.yaml"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Admin.ImportYAML(r.Context(), r.PathValue("id"), body, auth.OwnerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeAgent(w, http.StatusOK, res.Agent)
}

func (s *Server) handleUnlinkTwitter(w http.ResponseWriter, r *http.Request) {
	data, err := s.deps.Admin.UnlinkTwitter(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func writeAgent(w http.ResponseWriter, status int, agent *agentstore.Agent) {
	w.Header().Set("ETag", admin.ETag(agent))
	writeJSON(w, status, agent)
}
