package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vikingfs"
)

func listOptionsFromQuery(r *http.Request) vikingfs.ListOptions {
	q := r.URL.Query()
	opts := vikingfs.ListOptions{
		Recursive:  q.Get("recursive") == "true",
		Output:     q.Get("output"),
		ShowHidden: q.Get("show_all_hidden") == "true",
	}
	if n, err := strconv.Atoi(q.Get("abs_limit")); err == nil {
		opts.AbsLimit = n
	}
	if n, err := strconv.Atoi(q.Get("node_limit")); err == nil {
		opts.NodeLimit = n
	}
	if q.Get("simple") == "true" {
		opts.Output = vikingfs.OutputOriginal
	}
	return opts
}

func (s *Server) handleLs(w http.ResponseWriter, r *http.Request) {
	u, err := queryURI(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.svc.FS().Ls(r.Context(), u, listOptionsFromQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	u, err := queryURI(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.svc.FS().Tree(r.Context(), u, listOptionsFromQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	u, err := queryURI(r)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := s.svc.FS().Stat(r.Context(), u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, st)
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URI string `json:"uri"`
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
	if err := s.svc.FS().Mkdir(r.Context(), u, true); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]string{"uri": u.String()})
}

func (s *Server) handleMv(w http.ResponseWriter, r *http.Request) {
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
	if err := s.svc.FS().Mv(r.Context(), from, to); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]string{"from_uri": from.String(), "to_uri": to.String()})
}

func (s *Server) handleRm(w http.ResponseWriter, r *http.Request) {
	u, err := queryURI(r)
	if err != nil {
		writeError(w, err)
		return
	}
	recursive := r.URL.Query().Get("recursive") == "true"
	if err := s.svc.FS().Rm(r.Context(), u, recursive); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]string{"uri": u.String()})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	u, err := queryURI(r)
	if err != nil {
		writeError(w, err)
		return
	}
	content, err := s.svc.FS().Read(r.Context(), u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]string{"uri": u.String(), "content": string(content)})
}

func (s *Server) handleAbstract(w http.ResponseWriter, r *http.Request) {
	s.handleSidecar(w, r, s.svc.FS().Abstract, "abstract")
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	s.handleSidecar(w, r, s.svc.FS().Overview, "overview")
}

func (s *Server) handleSidecar(w http.ResponseWriter, r *http.Request,
	read func(ctx context.Context, u uri.URI) (string, error), field string) {
	u, err := queryURI(r)
	if err != nil {
		writeError(w, err)
		return
	}
	text, err := read(r.Context(), u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]string{"uri": u.String(), field: text})
}
