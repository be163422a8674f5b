// Package api exposes the daemon's HTTP surface: webhook intake, workflow
// queries and control, the natural-language preview flow, sidecar service
// management, and the WebSocket subscription endpoint.
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/zjrosen/adwd/internal/admission"
	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/dispatch"
	"github.com/zjrosen/adwd/internal/history"
	"github.com/zjrosen/adwd/internal/hub"
	"github.com/zjrosen/adwd/internal/log"
	"github.com/zjrosen/adwd/internal/webhook"
)

const (
	// defaultHistoryLimit is the page size when the query omits limit.
	defaultHistoryLimit = 50

	// maxHistoryLimit caps a requested page size.
	maxHistoryLimit = 100

	// maxBatchIDs caps one batch lookup.
	maxBatchIDs = 20
)

// Handler provides the HTTP endpoints for daemon operations.
type Handler struct {
	ingestor   *webhook.Ingestor
	stats      *webhook.Stats
	admission  *admission.Controller
	dispatcher *dispatch.Dispatcher
	services   *dispatch.ServiceSupervisor
	catalog    *adw.Catalog
	classifier adw.Classifier
	repo       adw.HistoryRepository
	syncer     *history.Syncer
	hub        *hub.Hub
	live       *hub.WorkflowsSource
	previews   *PreviewStore
	db         *sql.DB
	stateRoot  string
}

// Config wires a Handler. Classifier is optional; everything else is
// expected by at least one endpoint.
type Config struct {
	// Ingestor runs the webhook intake pipeline.
	Ingestor *webhook.Ingestor
	// Stats serves the webhook counters.
	Stats *webhook.Stats
	// Admission gates the preview confirm path.
	Admission *admission.Controller
	// Dispatcher spawns and stops workflow children.
	Dispatcher *dispatch.Dispatcher
	// Services supervises the sidecar processes.
	Services *dispatch.ServiceSupervisor
	// Catalog resolves workflow templates and cost estimates.
	Catalog *adw.Catalog
	// Classifier resolves preview text with no explicit command (optional).
	Classifier adw.Classifier
	// Repo serves the indexed workflow history.
	Repo adw.HistoryRepository
	// Syncer drives on-demand history passes for redelivery.
	Syncer *history.Syncer
	// Hub accepts WebSocket subscribers.
	Hub *hub.Hub
	// Live snapshots the live workflow view.
	Live *hub.WorkflowsSource
	// Previews holds pending cost estimates.
	Previews *PreviewStore
	// DB is pinged by the health endpoint.
	DB *sql.DB
	// StateRoot is checked by the health endpoint.
	StateRoot string
}

// NewHandler creates a Handler from cfg.
func NewHandler(cfg Config) *Handler {
	previews := cfg.Previews
	if previews == nil {
		previews = NewPreviewStore(0)
	}
	return &Handler{
		ingestor:   cfg.Ingestor,
		stats:      cfg.Stats,
		admission:  cfg.Admission,
		dispatcher: cfg.Dispatcher,
		services:   cfg.Services,
		catalog:    cfg.Catalog,
		classifier: cfg.Classifier,
		repo:       cfg.Repo,
		syncer:     cfg.Syncer,
		hub:        cfg.Hub,
		live:       cfg.Live,
		previews:   previews,
		db:         cfg.DB,
		stateRoot:  cfg.StateRoot,
	}
}

// Routes returns an http.Handler with all API routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Webhook intake
	mux.HandleFunc("POST /webhook", h.Webhook)
	mux.HandleFunc("GET /webhook-status", h.WebhookStatus)
	mux.HandleFunc("POST /github-webhook/redeliver", h.Redeliver)

	// Workflows
	mux.HandleFunc("GET /workflows", h.Workflows)
	mux.HandleFunc("GET /workflow-history", h.WorkflowHistory)
	mux.HandleFunc("POST /workflows/batch", h.WorkflowBatch)
	mux.HandleFunc("POST /workflows/{id}/stop", h.StopWorkflow)

	// Preview flow
	mux.HandleFunc("POST /request", h.PreviewRequest)
	mux.HandleFunc("GET /preview/{id}/cost", h.PreviewCost)
	mux.HandleFunc("POST /preview/{id}/confirm", h.PreviewConfirm)

	// Sidecar services
	mux.HandleFunc("POST /services/{name}/{action}", h.ServiceControl)

	// Subscriptions and health
	mux.HandleFunc("GET /ws/{topic...}", h.WebSocket)
	mux.HandleFunc("GET /health", h.Health)

	return mux
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Webhook ingests one GitHub delivery. The response is always 200 so the
// sender never retries; the outcome travels in the ack body.
// POST /webhook
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ingestor.HandleRequest(r))
}

// WebhookStatus reports the ingest counters.
// GET /webhook-status
func (h *Handler) WebhookStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.stats.Snapshot())
}

// Workflows returns the live workflow view: state files merged with this
// daemon's process registry.
// GET /workflows
func (h *Handler) Workflows(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.live.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "scan_failed", "Failed to scan workflows", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

// HistoryPage is the GET /workflow-history response body.
type HistoryPage struct {
	Workflows  []*adw.WorkflowRecord `json:"workflows"`
	TotalCount int                   `json:"total_count"`
	Limit      int                   `json:"limit"`
	Offset     int                   `json:"offset"`
}

// WorkflowHistory returns one page of the indexed history.
// GET /workflow-history?limit&offset&status&search
func (h *Handler) WorkflowHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultHistoryLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer", "")
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}

	offset := 0
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer", "")
			return
		}
		offset = n
	}

	filter := adw.Filter{Limit: limit, Offset: offset, Search: q.Get("search")}
	if raw := q.Get("status"); raw != "" {
		status := adw.Status(raw)
		if !status.IsValid() {
			h.writeError(w, http.StatusBadRequest, "invalid_status", fmt.Sprintf("unknown status %q", raw), "")
			return
		}
		filter.Status = status
	}

	records, total, err := h.repo.List(filter)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "list_failed", "Failed to list workflow history", err.Error())
		return
	}
	if records == nil {
		records = []*adw.WorkflowRecord{}
	}
	h.writeJSON(w, http.StatusOK, HistoryPage{
		Workflows:  records,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	})
}

// BatchRequest is the POST /workflows/batch request body.
type BatchRequest struct {
	IDs []string `json:"ids"`
}

// BatchResponse is the POST /workflows/batch response body. Records come
// back in request order; unknown ids are skipped.
type BatchResponse struct {
	Workflows []*adw.WorkflowRecord `json:"workflows"`
}

// WorkflowBatch returns indexed records for up to maxBatchIDs ids.
// POST /workflows/batch
func (h *Handler) WorkflowBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}
	if len(req.IDs) == 0 {
		h.writeError(w, http.StatusBadRequest, "no_ids", "ids must not be empty", "")
		return
	}
	if len(req.IDs) > maxBatchIDs {
		h.writeError(w, http.StatusBadRequest, "too_many_ids",
			fmt.Sprintf("at most %d ids per batch", maxBatchIDs), "")
		return
	}
	for _, id := range req.IDs {
		if !adw.ValidADWID(id) {
			h.writeError(w, http.StatusBadRequest, "invalid_adw_id", fmt.Sprintf("invalid adw_id %q", id), "")
			return
		}
	}

	records, err := h.repo.GetBatch(req.IDs)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "batch_failed", "Failed to load workflows", err.Error())
		return
	}
	if records == nil {
		records = []*adw.WorkflowRecord{}
	}
	h.writeJSON(w, http.StatusOK, BatchResponse{Workflows: records})
}

// StopRequest is the POST /workflows/{id}/stop request body.
type StopRequest struct {
	Reason string `json:"reason,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// StopWorkflow stops a running workflow, tracked child or orphan alike.
// POST /workflows/{id}/stop
func (h *Handler) StopWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !adw.ValidADWID(id) {
		h.writeError(w, http.StatusBadRequest, "invalid_adw_id", "Invalid adw_id", "")
		return
	}

	var req StopRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
			return
		}
	}

	err := h.dispatcher.Stop(r.Context(), id, dispatch.StopOptions{Reason: req.Reason, Force: req.Force})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			h.writeError(w, http.StatusNotFound, "not_found", "Workflow not found", "")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "stop_failed", "Failed to stop workflow", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ServiceControl starts, stops or restarts a sidecar service.
// POST /services/{name}/{action}
func (h *Handler) ServiceControl(w http.ResponseWriter, r *http.Request) {
	name := dispatch.ServiceName(r.PathValue("name"))

	var err error
	switch action := r.PathValue("action"); action {
	case "start":
		err = h.services.Start(name)
	case "stop":
		err = h.services.Stop(name)
	case "restart":
		err = h.services.Restart(name)
	default:
		h.writeError(w, http.StatusBadRequest, "invalid_action",
			fmt.Sprintf("unknown action %q: want start, stop or restart", action), "")
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrUnknownService):
		h.writeError(w, http.StatusNotFound, "unknown_service", "Unknown service", err.Error())
		return
	case errors.Is(err, dispatch.ErrAlreadyRunning), errors.Is(err, dispatch.ErrNotRunning):
		h.writeError(w, http.StatusConflict, "invalid_state", "Service cannot take that action now", err.Error())
		return
	default:
		h.writeError(w, http.StatusInternalServerError, "service_failed", "Service action failed", err.Error())
		return
	}

	status, err := h.services.Status(name)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "status_failed", "Failed to read service status", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// RedeliverRequest is the POST /github-webhook/redeliver request body.
type RedeliverRequest struct {
	// ADWID, when set, additionally refreshes cost data for completed
	// records after the sync pass.
	ADWID string `json:"adw_id,omitempty"`
}

// RedeliverResponse reports the sync passes a redelivery ran.
type RedeliverResponse struct {
	Status string               `json:"status"`
	Sync   history.SyncSummary  `json:"sync"`
	Resync *history.SyncSummary `json:"resync,omitempty"`
}

// Redeliver re-indexes the state root so a missed webhook delivery is
// recovered from the files the child processes wrote anyway.
// POST /github-webhook/redeliver
func (h *Handler) Redeliver(w http.ResponseWriter, r *http.Request) {
	var req RedeliverRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
			return
		}
	}
	if req.ADWID != "" && !adw.ValidADWID(req.ADWID) {
		h.writeError(w, http.StatusBadRequest, "invalid_adw_id", "Invalid adw_id", "")
		return
	}

	summary, err := h.syncer.Sync(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "sync_failed", "History sync failed", err.Error())
		return
	}
	resp := RedeliverResponse{Status: "ok", Sync: summary}

	if req.ADWID != "" {
		resync, err := h.syncer.Resync(r.Context())
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "resync_failed", "Cost resync failed", err.Error())
			return
		}
		resp.Resync = &resync
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatServer, "failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
