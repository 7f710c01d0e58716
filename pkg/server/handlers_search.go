package server

import (
	"net/http"

	"github.com/openviking/openviking/pkg/retrieve"
	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/uri"
)

type findRequest struct {
	Query          string  `json:"query"`
	Target         string  `json:"target,omitempty"`
	Limit          int     `json:"limit,omitempty"`
	ScoreThreshold float32 `json:"score_threshold,omitempty"`
}

func (r findRequest) options() (retrieve.FindOptions, error) {
	target, err := parseOptionalURI(r.Target)
	if err != nil {
		return retrieve.FindOptions{}, err
	}
	return retrieve.FindOptions{
		Target:         target,
		Limit:          r.Limit,
		ScoreThreshold: r.ScoreThreshold,
	}, nil
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	var req findRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	opts, err := req.options()
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.svc.Retriever().Find(r.Context(), req.Query, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, res)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		findRequest
		SessionID string `json:"session_id,omitempty"`
		Summary   string `json:"summary,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	opts, err := req.options()
	if err != nil {
		writeError(w, err)
		return
	}
	sctx := retrieve.SearchContext{Summary: req.Summary, Current: req.Query}
	if req.SessionID != "" {
		msgs, err := s.svc.Sessions().Load(r.Context(), req.SessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		sctx.Recent = msgs
	}
	res, err := s.svc.Retriever().Search(r.Context(), sctx, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, res)
}

func (s *Server) handleGrep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URI             string `json:"uri"`
		Pattern         string `json:"pattern"`
		CaseInsensitive bool   `json:"case_insensitive,omitempty"`
		NodeLimit       int    `json:"node_limit,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	u, err := uri.Parse(req.URI)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.svc.FS().Grep(r.Context(), u, req.Pattern, req.CaseInsensitive, req.NodeLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, res)
}

func (s *Server) handleGlob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URI     string `json:"uri"`
		Pattern string `json:"pattern"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	u, err := uri.Parse(req.URI)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.svc.FS().Glob(r.Context(), u, req.Pattern)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, res)
}

func (s *Server) handleRelations(w http.ResponseWriter, r *http.Request) {
	u, err := queryURI(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rels, err := s.svc.FS().Relations(r.Context(), u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]any{"relations": rels, "count": len(rels)})
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromURI string   `json:"from_uri"`
		ToURIs  []string `json:"to_uris"`
		Reason  string   `json:"reason,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	from, err := uri.Parse(req.FromURI)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(req.ToURIs) == 0 {
		writeError(w, status.InvalidArgument("to_uris must not be empty"))
		return
	}
	targets := make([]uri.URI, 0, len(req.ToURIs))
	for _, raw := range req.ToURIs {
		u, err := uri.Parse(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		targets = append(targets, u)
	}
	if err := s.svc.FS().Link(r.Context(), from, targets, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]any{"from_uri": from.String(), "linked": len(targets)})
}

func (s *Server) handleUnlink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromURI string `json:"from_uri"`
		ToURI   string `json:"to_uri"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	from, err := uri.Parse(req.FromURI)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := uri.Parse(req.ToURI)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.FS().Unlink(r.Context(), from, to); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]string{"from_uri": from.String(), "to_uri": to.String()})
}
