package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/starford/raido/internal/convert"
	"github.com/starford/raido/internal/linkmap"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/state"
)

// Handler holds the status API route handlers.
type Handler struct {
	conv    *convert.Converter
	db      state.Store
	running atomic.Bool
}

// NewHandler creates a new Handler.
func NewHandler(conv *convert.Converter, db state.Store) *Handler {
	return &Handler{conv: conv, db: db}
}

// Status handles GET /api/status: current phase, indexed document
// count, the stats of the last pass, and the open diagnostic count.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st := h.conv.Status()
	n, err := h.db.CountDiagnostics()
	if err != nil {
		slog.Error("count diagnostics failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"phase":       st.Phase,
		"documents":   st.Documents,
		"last_run":    st.LastRun,
		"diagnostics": n,
	})
}

// Diagnostics handles GET /api/diagnostics?limit=N.
func (h *Handler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	diags, err := h.db.Diagnostics(limit)
	if err != nil {
		slog.Error("list diagnostics failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if diags == nil {
		diags = []models.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"diagnostics": diags,
		"count":       len(diags),
	})
}

// Resolve handles GET /api/resolve?target=X: probes the link map the
// same way the transformer does.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'target' is required"))
		return
	}
	o := h.conv.ResolveLink(target)
	resp := map[string]any{
		"target": target,
		"state":  o.State.String(),
	}
	if o.State == linkmap.Resolved {
		resp["location"] = o.Location
	}
	if len(o.Candidates) > 0 {
		resp["candidates"] = o.Candidates
	}
	writeJSON(w, http.StatusOK, resp)
}

// Rebuild handles POST /api/rebuild: triggers a full conversion pass.
// Only one pass runs at a time; concurrent requests get 409.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if !h.running.CompareAndSwap(false, true) {
		writeJSON(w, http.StatusConflict, errorBody("a pass is already running"))
		return
	}
	defer h.running.Store(false)

	stats, err := h.conv.Run(r.Context())
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		slog.Error("rebuild failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
