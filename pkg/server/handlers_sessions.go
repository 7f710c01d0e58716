package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openviking/openviking/pkg/session"
	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/uri"
)

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	if err := s.svc.FS().Mkdir(r.Context(), s.svc.Sessions().URI(id), true); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]string{"session_id": id})
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	ids, err := s.svc.Sessions().List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]any{"sessions": ids, "count": len(ids)})
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msgs, err := s.svc.Sessions().Load(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]any{"session_id": id, "messages": msgs, "count": len(msgs)})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Sessions().Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]string{"session_id": id})
}

func (s *Server) handleSessionAddMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Role    string         `json:"role"`
		Content string         `json:"content,omitempty"`
		Parts   []session.Part `json:"parts,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	parts := req.Parts
	if len(parts) == 0 && req.Content != "" {
		parts = []session.Part{{Type: session.PartText, Text: req.Content}}
	}
	msg, err := s.svc.Sessions().AddMessage(r.Context(), id, req.Role, parts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, msg)
}

func (s *Server) handleSessionUpdateTool(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		MessageID string `json:"message_id"`
		ToolID    string `json:"tool_id"`
		Output    string `json:"output"`
		Status    string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	msg, err := s.svc.Sessions().UpdateToolPart(r.Context(), id, req.MessageID, req.ToolID, req.Output, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, msg)
}

func (s *Server) handleSessionUsed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		URIs  []string `json:"uris"`
		Skill string   `json:"skill,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.URIs) == 0 && req.Skill == "" {
		writeError(w, status.InvalidArgument("used requires uris or a skill"))
		return
	}
	contexts := make([]uri.URI, 0, len(req.URIs))
	for _, raw := range req.URIs {
		u, err := uri.Parse(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		contexts = append(contexts, u)
	}
	updated, err := s.svc.Sessions().Used(r.Context(), id, contexts, req.Skill)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]any{"session_id": id, "updated": updated})
}

func (s *Server) handleSessionCommit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.svc.Sessions().Commit(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, res)
}

func (s *Server) handleSessionExtract(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.svc.Sessions().Extract(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, res)
}
