package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/zjrosen/adwd/internal/admission"
	"github.com/zjrosen/adwd/internal/log"
)

// healthCheckTimeout bounds each component probe so one stuck dependency
// cannot hang the whole endpoint.
const healthCheckTimeout = 5 * time.Second

// HealthCheck is one component probe result.
type HealthCheck struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]HealthCheck `json:"checks"`
}

// Health probes the daemon's dependencies and reports ok or degraded.
// A degraded daemon still serves; the 503 is for load balancers.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]HealthCheck)
	degraded := false

	run := func(name string, probe func(ctx context.Context) (string, error)) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		type result struct {
			detail string
			err    error
		}
		ch := make(chan result, 1)
		log.SafeGo("health-"+name, func() {
			detail, err := probe(ctx)
			ch <- result{detail, err}
		})

		select {
		case res := <-ch:
			if res.err != nil {
				degraded = true
				checks[name] = HealthCheck{OK: false, Error: res.err.Error()}
				return
			}
			checks[name] = HealthCheck{OK: true, Detail: res.detail}
		case <-ctx.Done():
			degraded = true
			checks[name] = HealthCheck{OK: false, Error: "check timed out"}
		}
	}

	run("db", func(ctx context.Context) (string, error) {
		if h.db == nil {
			return "", errors.New("database not attached")
		}
		if err := h.db.PingContext(ctx); err != nil {
			return "", err
		}
		return "reachable", nil
	})

	run("state_root", func(ctx context.Context) (string, error) {
		info, err := os.Stat(h.stateRoot)
		if err != nil {
			return "", err
		}
		if !info.IsDir() {
			return "", fmt.Errorf("%s is not a directory", h.stateRoot)
		}
		return h.stateRoot, nil
	})

	run("disk", func(ctx context.Context) (string, error) {
		used, err := admission.DiskUsedPercent(h.stateRoot)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%.1f%% used", used), nil
	})

	run("registry", func(ctx context.Context) (string, error) {
		return fmt.Sprintf("%d tracked", h.dispatcher.Registry().Len()), nil
	})

	status := "ok"
	code := http.StatusOK
	if degraded {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, HealthResponse{Status: status, Checks: checks})
}
