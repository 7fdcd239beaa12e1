package admin

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wagiedev/rbridge-go/internal/errors"
	"github.com/wagiedev/rbridge-go/internal/worker"
)

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	Ready         bool   `json:"ready"`
	Addr          string `json:"addr,omitempty"`
	Workers       int    `json:"workers"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// WorkerStatus describes one worker.
type WorkerStatus struct {
	ID       string `json:"id"`
	PID      int    `json:"pid,omitempty"`
	Alive    bool   `json:"alive"`
	Attached bool   `json:"attached"`
	Queued   int    `json:"queued"`
}

// EmitRequest is the body of POST /workers/{id}/events.
type EmitRequest struct {
	Event string            `json:"event"`
	Data  []json.RawMessage `json:"data"`
}

// ErrorResponse is returned for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		Ready:         s.bridge.Ready(),
		Workers:       len(s.bridge.Workers()),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}

	if addr := s.bridge.Addr(); addr != nil {
		resp.Addr = addr.String()
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, _ *http.Request) {
	workers := s.bridge.Workers()

	resp := make([]WorkerStatus, 0, len(workers))
	for _, wk := range workers {
		resp = append(resp, statusOf(wk))
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	wk, ok := s.bridge.Worker(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "worker not found")

		return
	}

	respondJSON(w, http.StatusOK, statusOf(wk))
}

func (s *Server) handleEmit(w http.ResponseWriter, r *http.Request) {
	wk, ok := s.bridge.Worker(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "worker not found")

		return
	}

	var req EmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")

		return
	}

	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")

		return
	}

	args := make([]any, len(req.Data))
	for i, raw := range req.Data {
		args[i] = raw
	}

	if !wk.Emit(req.Event, args...) {
		writeError(w, http.StatusConflict, "worker did not accept the event")

		return
	}

	respondJSON(w, http.StatusAccepted, statusOf(wk))
}

func (s *Server) handleKillWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.bridge.Kill(r.Context(), id)

	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case stderrors.Is(err, errors.ErrWorkerNotFound):
		writeError(w, http.StatusNotFound, "worker not found")
	case stderrors.Is(err, errors.ErrNotAlive):
		writeError(w, http.StatusConflict, "worker not alive")
	case stderrors.Is(err, errors.ErrKillTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.logger.Error("Kill failed", "worker_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func statusOf(wk *worker.Worker) WorkerStatus {
	st := WorkerStatus{
		ID:       wk.ID(),
		Alive:    wk.Alive(),
		Attached: wk.Socket() != nil,
		Queued:   wk.QueueLen(),
	}

	if p := wk.Process(); p != nil {
		st.PID = p.Pid()
	}

	return st
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
