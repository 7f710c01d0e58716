package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/openviking/openviking/pkg/pack"
	"github.com/openviking/openviking/pkg/processor"
	"github.com/openviking/openviking/pkg/status"
)

// requestTimeout applies the caller's timeout in seconds, falling back
// to the wait default for blocking calls.
func requestTimeout(ctx context.Context, seconds int, wait bool) (context.Context, context.CancelFunc) {
	d := time.Duration(seconds) * time.Second
	if d <= 0 {
		if !wait {
			return ctx, func() {}
		}
		d = defaultWaitTimeout
	}
	return context.WithTimeout(ctx, d)
}

func (s *Server) handleAddResource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path    string `json:"path,omitempty"`
		Content string `json:"content,omitempty"`
		URL     string `json:"url,omitempty"`
		Name    string `json:"name,omitempty"`
		Target  string `json:"target,omitempty"`
		Reason  string `json:"reason,omitempty"`
		Wait    bool   `json:"wait,omitempty"`
		Timeout int    `json:"timeout,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	target, err := parseOptionalURI(req.Target)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := requestTimeout(r.Context(), req.Timeout, req.Wait)
	defer cancel()

	var content []byte
	if req.Content != "" {
		content = []byte(req.Content)
	}
	res, err := s.svc.Resources().Process(ctx, processor.ProcessInput{
		Path:    req.Path,
		Content: content,
		URL:     req.URL,
		Name:    req.Name,
		Target:  target,
		Reason:  req.Reason,
		Wait:    req.Wait,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, res)
}

func (s *Server) handleAddSkill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dir     string `json:"dir,omitempty"`
		Path    string `json:"path,omitempty"`
		Text    string `json:"text,omitempty"`
		Wait    bool   `json:"wait,omitempty"`
		Timeout int    `json:"timeout,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := requestTimeout(r.Context(), req.Timeout, req.Wait)
	defer cancel()

	res, err := s.svc.Skills().Add(ctx, processor.SkillInput{
		Dir:  req.Dir,
		Path: req.Path,
		Text: req.Text,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Wait {
		if _, err := s.svc.Queues().WaitComplete(ctx); err != nil {
			writeError(w, err)
			return
		}
	}
	writeResult(w, res)
}

func (s *Server) handlePackExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URI string `json:"uri"`
		To  string `json:"to"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.To == "" {
		writeError(w, status.InvalidArgument("export requires a destination path"))
		return
	}
	root, err := parseOptionalURI(req.URI)
	if err != nil {
		writeError(w, err)
		return
	}
	if root.IsZero() {
		writeError(w, status.InvalidArgument("export requires a uri"))
		return
	}
	f, err := os.Create(req.To)
	if err != nil {
		writeError(w, status.InvalidArgument("create %s: %v", req.To, err))
		return
	}
	defer f.Close()
	manifest, err := pack.Export(r.Context(), s.svc.FS(), root, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]any{"manifest": manifest, "path": req.To})
}

func (s *Server) handlePackImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FilePath  string `json:"file_path"`
		Target    string `json:"target,omitempty"`
		Parent    string `json:"parent,omitempty"`
		Force     bool   `json:"force,omitempty"`
		Vectorize bool   `json:"vectorize,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	data, err := os.ReadFile(req.FilePath)
	if err != nil {
		writeError(w, status.InvalidArgument("read %s: %v", req.FilePath, err))
		return
	}
	target, err := parseOptionalURI(req.Target)
	if err != nil {
		writeError(w, err)
		return
	}
	parent, err := parseOptionalURI(req.Parent)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := pack.Import(r.Context(), s.svc.FS(), s.svc.Queues(), data, pack.ImportOptions{
		Target:    target,
		Parent:    parent,
		Force:     req.Force,
		Vectorize: req.Vectorize,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, res)
}
