package hub

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/adwd/internal/admission"
	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/dispatch"
	"github.com/zjrosen/adwd/internal/history"
	"github.com/zjrosen/adwd/internal/paths"
	"github.com/zjrosen/adwd/internal/webhook"
)

// DefaultHistoryLimit caps the page of records streamed over the
// workflow-history topic.
const DefaultHistoryLimit = 50

// PlannedFeaturesFile is the operator-maintained roadmap file under the
// state root.
const PlannedFeaturesFile = "planned_features.yaml"

// WorkflowView is one workflow as served on the live topics. A trimmed view
// rather than the full record; the complete state file is one adw-state
// subscription away.
type WorkflowView struct {
	ADWID            string       `json:"adw_id"`
	IssueID          string       `json:"issue_id,omitempty"`
	WorkflowTemplate adw.Template `json:"workflow_template"`
	ModelSet         adw.ModelSet `json:"model_set,omitempty"`
	Status           adw.Status   `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
	StartTime        *time.Time   `json:"start_time,omitempty"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	ActualCostTotal  float64      `json:"actual_cost_total,omitempty"`
	StepsCompleted   int          `json:"steps_completed,omitempty"`
	ErrorCount       int          `json:"error_count,omitempty"`

	// Alive is a live probe of the child process, not a stored field.
	Alive bool `json:"alive"`

	// Tracked marks workflows spawned by this daemon process. Untracked
	// active records were inherited from a previous run.
	Tracked bool `json:"tracked"`
}

func newWorkflowView(r *adw.WorkflowRecord, entry *dispatch.Entry) WorkflowView {
	v := WorkflowView{
		ADWID:            r.ADWID,
		IssueID:          r.IssueID,
		WorkflowTemplate: r.WorkflowTemplate,
		ModelSet:         r.ModelSet,
		Status:           r.Status,
		CreatedAt:        r.CreatedAt,
		StartTime:        r.StartTime,
		CompletedAt:      r.CompletedAt,
		ActualCostTotal:  r.ActualCostTotal,
		StepsCompleted:   r.StepsCompleted,
		ErrorCount:       len(r.Errors),
	}
	switch {
	case entry != nil:
		v.Tracked = true
		v.Alive = entry.Alive()
	case r.Status == adw.StatusRunning && r.PID > 0:
		v.Alive = dispatch.ProcessAlive(r.PID)
	}
	return v
}

// WorkflowList is the workflows topic payload and the GET /workflows body.
type WorkflowList struct {
	Workflows []WorkflowView `json:"workflows"`
	Count     int            `json:"count"`
}

// QueueList is the queue topic payload.
type QueueList struct {
	Depth     int            `json:"depth"`
	Workflows []WorkflowView `json:"workflows"`
}

// MonitorList is the adw-monitor topic payload: workflows that have not
// reached a terminal status, with process liveness attached.
type MonitorList struct {
	Active  []WorkflowView `json:"active"`
	Count   int            `json:"count"`
	Tracked int            `json:"tracked"`
}

// loadLive reads every state file under the root and indexes this daemon's
// registry entries by adw_id. The state files are authoritative; the
// registry only adds tracking and liveness.
func loadLive(ctx context.Context, scanner *history.Scanner, registry dispatch.Registry) ([]*adw.WorkflowRecord, map[string]dispatch.Entry, error) {
	records, _, err := scanner.Scan(ctx)
	if err != nil {
		return nil, nil, err
	}
	entries := make(map[string]dispatch.Entry)
	if registry != nil {
		for _, e := range registry.List() {
			entries[e.ADWID] = e
		}
	}
	return records, entries, nil
}

func viewFor(r *adw.WorkflowRecord, entries map[string]dispatch.Entry) WorkflowView {
	if e, ok := entries[r.ADWID]; ok {
		return newWorkflowView(r, &e)
	}
	return newWorkflowView(r, nil)
}

func sortNewestFirst(views []WorkflowView) {
	sort.Slice(views, func(i, j int) bool {
		if !views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].CreatedAt.After(views[j].CreatedAt)
		}
		return views[i].ADWID < views[j].ADWID
	})
}

func sortOldestFirst(views []WorkflowView) {
	sort.Slice(views, func(i, j int) bool {
		if !views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].CreatedAt.Before(views[j].CreatedAt)
		}
		return views[i].ADWID < views[j].ADWID
	})
}

// WorkflowsSource snapshots every workflow known to the daemon, newest
// first.
type WorkflowsSource struct {
	scanner  *history.Scanner
	registry dispatch.Registry
}

// NewWorkflowsSource creates the source behind the workflows topic.
func NewWorkflowsSource(stateRoot string, registry dispatch.Registry) *WorkflowsSource {
	return &WorkflowsSource{scanner: history.NewScanner(stateRoot), registry: registry}
}

// Snapshot implements Source.
func (s *WorkflowsSource) Snapshot(ctx context.Context) (any, error) {
	records, entries, err := loadLive(ctx, s.scanner, s.registry)
	if err != nil {
		return nil, err
	}
	views := make([]WorkflowView, 0, len(records))
	for _, r := range records {
		views = append(views, viewFor(r, entries))
	}
	sortNewestFirst(views)
	return WorkflowList{Workflows: views, Count: len(views)}, nil
}

// QueueSource snapshots the queued workflows in dispatch order, oldest
// first.
type QueueSource struct {
	scanner  *history.Scanner
	registry dispatch.Registry
}

// NewQueueSource creates the source behind the queue topic.
func NewQueueSource(stateRoot string, registry dispatch.Registry) *QueueSource {
	return &QueueSource{scanner: history.NewScanner(stateRoot), registry: registry}
}

// Snapshot implements Source.
func (s *QueueSource) Snapshot(ctx context.Context) (any, error) {
	records, entries, err := loadLive(ctx, s.scanner, s.registry)
	if err != nil {
		return nil, err
	}
	views := make([]WorkflowView, 0)
	for _, r := range records {
		if r.Status != adw.StatusQueued {
			continue
		}
		views = append(views, viewFor(r, entries))
	}
	sortOldestFirst(views)
	return QueueList{Depth: len(views), Workflows: views}, nil
}

// MonitorSource snapshots the active workflows with their process liveness.
type MonitorSource struct {
	scanner  *history.Scanner
	registry dispatch.Registry
}

// NewMonitorSource creates the source behind the adw-monitor topic.
func NewMonitorSource(stateRoot string, registry dispatch.Registry) *MonitorSource {
	return &MonitorSource{scanner: history.NewScanner(stateRoot), registry: registry}
}

// Snapshot implements Source.
func (s *MonitorSource) Snapshot(ctx context.Context) (any, error) {
	records, entries, err := loadLive(ctx, s.scanner, s.registry)
	if err != nil {
		return nil, err
	}
	views := make([]WorkflowView, 0)
	for _, r := range records {
		if !r.Active() {
			continue
		}
		views = append(views, viewFor(r, entries))
	}
	sortNewestFirst(views)
	return MonitorList{Active: views, Count: len(views), Tracked: len(entries)}, nil
}

// NewADWStateSource returns the factory behind the adw-state/{id} topics.
// Each source serves the workflow's full state file, unknown fields
// included. A missing file is an error: the subscriber gets no initial
// frame and the first successful read becomes the baseline.
func NewADWStateSource(stateRoot string) func(adwID string) Source {
	return func(adwID string) Source {
		path := paths.StateFilePath(stateRoot, adwID)
		return SourceFunc(func(context.Context) (any, error) {
			record, err := adw.ReadStateFile(path)
			if err != nil {
				return nil, fmt.Errorf("workflow %s: %w", adwID, err)
			}
			return record, nil
		})
	}
}

// HistoryList is the workflow-history topic payload and the
// GET /workflow-history body.
type HistoryList struct {
	Workflows  []*adw.WorkflowRecord `json:"workflows"`
	TotalCount int                   `json:"total_count"`
}

// HistorySource snapshots the most recent page of the indexed history.
type HistorySource struct {
	repo  adw.HistoryRepository
	limit int
}

// NewHistorySource creates the source behind the workflow-history topic.
// Non-positive limit means the default page size.
func NewHistorySource(repo adw.HistoryRepository, limit int) *HistorySource {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HistorySource{repo: repo, limit: limit}
}

// Snapshot implements Source.
func (s *HistorySource) Snapshot(context.Context) (any, error) {
	records, total, err := s.repo.List(adw.Filter{Limit: s.limit})
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*adw.WorkflowRecord{}
	}
	return HistoryList{Workflows: records, TotalCount: total}, nil
}

// SystemStatus is the system-status topic payload. It carries no wall-clock
// fields; anything that moves on every poll would broadcast each tick.
type SystemStatus struct {
	Admission        admission.Checks         `json:"admission"`
	Services         []dispatch.ServiceStatus `json:"services"`
	TrackedWorkflows int                      `json:"tracked_workflows"`
}

// SystemStatusSource snapshots the admission checks, sidecar services and
// tracked workflow count.
type SystemStatusSource struct {
	controller *admission.Controller
	services   *dispatch.ServiceSupervisor
	registry   dispatch.Registry
}

// NewSystemStatusSource creates the source behind the system-status topic.
// Nil collaborators contribute zero values.
func NewSystemStatusSource(controller *admission.Controller, services *dispatch.ServiceSupervisor, registry dispatch.Registry) *SystemStatusSource {
	return &SystemStatusSource{controller: controller, services: services, registry: registry}
}

// Snapshot implements Source.
func (s *SystemStatusSource) Snapshot(ctx context.Context) (any, error) {
	status := SystemStatus{Services: []dispatch.ServiceStatus{}}
	if s.controller != nil {
		status.Admission = s.controller.Snapshot(ctx)
	}
	if s.services != nil {
		status.Services = s.services.StatusAll()
	}
	if s.registry != nil {
		status.TrackedWorkflows = s.registry.Len()
	}
	return status, nil
}

// WebhookStatus is the webhook-status topic payload: the HTTP stats
// snapshot minus its uptime counter, which moves on every poll.
type WebhookStatus struct {
	Received       int64                   `json:"received"`
	Succeeded      int64                   `json:"succeeded"`
	Failed         int64                   `json:"failed"`
	RecentFailures []webhook.FailureRecord `json:"recent_failures"`
	LastSuccess    *webhook.SuccessRecord  `json:"last_success,omitempty"`
}

// WebhookStatusSource snapshots the ingest counters.
type WebhookStatusSource struct {
	stats *webhook.Stats
}

// NewWebhookStatusSource creates the source behind the webhook-status topic.
func NewWebhookStatusSource(stats *webhook.Stats) *WebhookStatusSource {
	return &WebhookStatusSource{stats: stats}
}

// Snapshot implements Source.
func (s *WebhookStatusSource) Snapshot(context.Context) (any, error) {
	snap := s.stats.Snapshot()
	return WebhookStatus{
		Received:       snap.Received,
		Succeeded:      snap.Succeeded,
		Failed:         snap.Failed,
		RecentFailures: snap.RecentFailures,
		LastSuccess:    snap.LastSuccess,
	}, nil
}

// PlannedFeature is one entry in the roadmap file.
type PlannedFeature struct {
	Title    string `json:"title" yaml:"title"`
	Status   string `json:"status,omitempty" yaml:"status"`
	Priority string `json:"priority,omitempty" yaml:"priority"`
	Notes    string `json:"notes,omitempty" yaml:"notes"`
}

// PlannedFeatureList is the planned-features topic payload.
type PlannedFeatureList struct {
	Features []PlannedFeature `json:"features"`
	Count    int              `json:"count"`
}

// PlannedFeaturesSource snapshots the roadmap file. No file means an empty
// roadmap, not an error.
type PlannedFeaturesSource struct {
	path string
}

// NewPlannedFeaturesSource creates the source behind the planned-features
// topic.
func NewPlannedFeaturesSource(stateRoot string) *PlannedFeaturesSource {
	return &PlannedFeaturesSource{path: filepath.Join(stateRoot, PlannedFeaturesFile)}
}

// Snapshot implements Source.
func (s *PlannedFeaturesSource) Snapshot(context.Context) (any, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return PlannedFeatureList{Features: []PlannedFeature{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading planned features: %w", err)
	}

	var doc struct {
		Features []PlannedFeature `yaml:"features"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing planned features: %w", err)
	}
	if doc.Features == nil {
		doc.Features = []PlannedFeature{}
	}
	return PlannedFeatureList{Features: doc.Features, Count: len(doc.Features)}, nil
}
