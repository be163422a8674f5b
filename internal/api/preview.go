package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/adwd/internal/admission"
	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/cachemanager"
	"github.com/zjrosen/adwd/internal/log"
)

// PreviewTTL is how long an unconfirmed estimate stays claimable.
const PreviewTTL = 10 * time.Minute

// Preview is one pending cost estimate awaiting confirmation.
type Preview struct {
	ID            string       `json:"preview_id"`
	Workflow      adw.Template `json:"workflow"`
	ADWID         string       `json:"adw_id,omitempty"`
	ModelSet      adw.ModelSet `json:"model_set"`
	EstimatedCost float64      `json:"estimated_cost"`
	CreatedAt     time.Time    `json:"created_at"`
	ExpiresAt     time.Time    `json:"expires_at"`
}

// PreviewStore holds previews between the estimate and confirm calls.
// Entries expire on their own; nothing leaks when a user walks away.
type PreviewStore struct {
	ttl   time.Duration
	cache *cachemanager.InMemoryCacheManager[string, Preview]
}

// NewPreviewStore creates a store with the given TTL. A non-positive ttl
// falls back to PreviewTTL.
func NewPreviewStore(ttl time.Duration) *PreviewStore {
	if ttl <= 0 {
		ttl = PreviewTTL
	}
	return &PreviewStore{
		ttl:   ttl,
		cache: cachemanager.NewInMemoryCacheManager[string, Preview]("preview", ttl, ttl),
	}
}

// TTL returns the store's expiry window.
func (s *PreviewStore) TTL() time.Duration {
	return s.ttl
}

// Put stores p under its ID.
func (s *PreviewStore) Put(ctx context.Context, p Preview) {
	s.cache.Set(ctx, p.ID, p, s.ttl)
}

// Get returns the preview for id, if still live.
func (s *PreviewStore) Get(ctx context.Context, id string) (Preview, bool) {
	return s.cache.Get(ctx, id)
}

// Take removes and returns the preview for id. A confirm consumes its
// estimate so a double-click cannot dispatch twice.
func (s *PreviewStore) Take(ctx context.Context, id string) (Preview, bool) {
	p, ok := s.cache.Get(ctx, id)
	if ok {
		_ = s.cache.Delete(ctx, id)
	}
	return p, ok
}

// PreviewRequestBody is the POST /request body.
type PreviewRequestBody struct {
	Text string `json:"text"`
}

// ConfirmResponse is the successful POST /preview/{id}/confirm body.
type ConfirmResponse struct {
	Status        string       `json:"status"`
	ADWID         string       `json:"adw_id"`
	Workflow      adw.Template `json:"workflow"`
	EstimatedCost float64      `json:"estimated_cost"`
}

// ConfirmRejection is the 409 body when admission turns a confirm away.
type ConfirmRejection struct {
	Error  string           `json:"error"`
	Code   string           `json:"code"`
	Reason string           `json:"reason"`
	Checks admission.Checks `json:"checks"`
}

// PreviewRequest resolves free text to a workflow command and holds its
// cost estimate for confirmation. Nothing is dispatched here.
// POST /request
func (h *Handler) PreviewRequest(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		h.writeError(w, http.StatusBadRequest, "empty_text", "text must not be empty", "")
		return
	}

	cmd, ok := adw.ExtractCommand(text, h.catalog)
	if !ok && h.classifier != nil {
		classified, err := h.classifier.Classify(r.Context(), text)
		if err != nil {
			log.Warn(log.CatServer, "classifier failed", "error", err)
		} else if classified != nil {
			cmd, ok = *classified, true
		}
	}
	if !ok {
		h.writeError(w, http.StatusUnprocessableEntity, "no_command",
			"No workflow command recognized in text", "")
		return
	}

	cost, err := h.catalog.EstimateCost(cmd.Template, cmd.ModelSet, "")
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "estimate_failed", "Failed to estimate cost", err.Error())
		return
	}

	now := time.Now().UTC()
	preview := Preview{
		ID:            uuid.NewString(),
		Workflow:      cmd.Template,
		ADWID:         cmd.ADWID,
		ModelSet:      cmd.ModelSet,
		EstimatedCost: cost,
		CreatedAt:     now,
		ExpiresAt:     now.Add(h.previews.TTL()),
	}
	h.previews.Put(r.Context(), preview)
	h.writeJSON(w, http.StatusOK, preview)
}

// PreviewCost returns a held estimate.
// GET /preview/{id}/cost
func (h *Handler) PreviewCost(w http.ResponseWriter, r *http.Request) {
	p, ok := h.previews.Get(r.Context(), r.PathValue("id"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown or expired preview", "")
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// PreviewConfirm consumes a held estimate, admits it, and dispatches the
// workflow.
// POST /preview/{id}/confirm
func (h *Handler) PreviewConfirm(w http.ResponseWriter, r *http.Request) {
	p, ok := h.previews.Take(r.Context(), r.PathValue("id"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown or expired preview", "")
		return
	}

	if err := h.admission.Admit(r.Context(), admission.Request{Template: p.Workflow, ADWID: p.ADWID}); err != nil {
		var rejection *admission.RejectionError
		if errors.As(err, &rejection) {
			h.writeJSON(w, http.StatusConflict, ConfirmRejection{
				Error:  "Workflow rejected by admission",
				Code:   "admission_rejected",
				Reason: rejection.Reason,
				Checks: rejection.Checks,
			})
			return
		}
		h.writeError(w, http.StatusInternalServerError, "admission_failed", "Admission check failed", err.Error())
		return
	}

	cmd := adw.Command{Template: p.Workflow, ADWID: p.ADWID, ModelSet: p.ModelSet}
	record, err := h.dispatcher.Dispatch(r.Context(), cmd, "")
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "dispatch_failed", "Failed to start workflow", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, ConfirmResponse{
		Status:        "dispatched",
		ADWID:         record.ADWID,
		Workflow:      record.WorkflowTemplate,
		EstimatedCost: p.EstimatedCost,
	})
}
