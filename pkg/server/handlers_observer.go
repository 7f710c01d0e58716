package server

import (
	"net/http"
)

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, st)
}

func (s *Server) handleSystemWait(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Timeout int `json:"timeout,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := requestTimeout(r.Context(), req.Timeout, true)
	defer cancel()

	snaps, err := s.svc.Queues().WaitComplete(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]any{"completed": true, "queues": snaps})
}

func (s *Server) handleObserverQueue(w http.ResponseWriter, _ *http.Request) {
	writeResult(w, s.svc.Queues().Snapshot())
}

func (s *Server) handleObserverVikingDB(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, st.VectorDB)
}

func (s *Server) handleObserverVLM(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]any{"vlm": st.VLM, "embedding": st.Embedding})
}

func (s *Server) handleObserverTransaction(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, st.Transactions)
}
