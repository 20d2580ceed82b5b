// internal/handler/dispatch_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// DispatchRunner runs ticks and recovery passes. *service.Runner
// implements it.
type DispatchRunner interface {
	RunTick(ctx context.Context) (*service.TickSummary, bool, error)
	RunReconcile(ctx context.Context) (*service.ReconcileSummary, bool, error)
}

var _ DispatchRunner = (*service.Runner)(nil)

// DispatchHandler exposes the tick and recovery triggers for external
// timers and operators.
type DispatchHandler struct {
	Runner  DispatchRunner
	Timeout time.Duration
	Log     zerolog.Logger
}

type tickResponse struct {
	Summary *service.TickSummary `json:"summary"`
	Shared  bool                 `json:"shared"`
	Error   string               `json:"error,omitempty"`
}

type reconcileResponse struct {
	Summary *service.ReconcileSummary `json:"summary"`
	Shared  bool                      `json:"shared"`
	Error   string                    `json:"error,omitempty"`
}

// runContext detaches the work from the caller so a dropped request does
// not cut a batch short; Timeout still bounds it.
func (h *DispatchHandler) runContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(r.Context())
	if h.Timeout > 0 {
		return context.WithTimeout(ctx, h.Timeout)
	}
	return context.WithCancel(ctx)
}

// TickHandler handles POST /campaigns/tick. The body is ignored.
func (h *DispatchHandler) TickHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.runContext(r)
	defer cancel()

	summary, shared, err := h.Runner.RunTick(ctx)
	resp := tickResponse{Summary: summary, Shared: shared}
	status := http.StatusOK
	if err != nil {
		h.Log.Error().Err(err).Msg("tick request failed")
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

// ReconcileHandler handles POST /campaigns/reconcile.
func (h *DispatchHandler) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.runContext(r)
	defer cancel()

	summary, shared, err := h.Runner.RunReconcile(ctx)
	resp := reconcileResponse{Summary: summary, Shared: shared}
	status := http.StatusOK
	if err != nil {
		h.Log.Error().Err(err).Msg("reconcile request failed")
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
