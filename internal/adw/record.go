// Package adw provides the pure domain layer for agentic development
// workflows with no infrastructure dependencies.
//
// It defines the WorkflowRecord entity and its lifecycle state machine, the
// workflow template catalog, adw_id generation, the state-file codec, and
// command extraction from issue text. The package has no knowledge of
// databases, HTTP, or process management; those live in the infrastructure
// packages that consume this one.
package adw

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Error categories recorded by workflow child processes in their state
// files, plus the synthetic category the dispatcher writes when a child
// fails to start or crashes without reaching a terminal status.
const (
	ErrorCategoryTestFailure    = "test_failure"
	ErrorCategoryLintError      = "lint_error"
	ErrorCategoryMergeConflict  = "merge_conflict"
	ErrorCategoryTimeout        = "timeout"
	ErrorCategoryAPIError       = "api_error"
	ErrorCategoryProcessFailure = "process_failure"
)

// WorkflowError is one error a workflow run recorded during execution.
type WorkflowError struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// PhaseMetric captures the duration and cost of one workflow phase.
type PhaseMetric struct {
	PhaseName       string  `json:"phase_name"`
	DurationSeconds float64 `json:"duration_seconds"`
	Cost            float64 `json:"cost"`
}

// WorkflowRecord is the canonical description of one dispatched workflow.
// The child process is the authoritative writer of the on-disk state file;
// the history indexer mirrors records into the database and owns the derived
// analytics fields, which are recomputed on every sync and never
// authoritative.
type WorkflowRecord struct {
	ADWID     string    `json:"adw_id"`
	IssueID   string    `json:"issue_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	WorkflowTemplate   Template       `json:"workflow_template"`
	ModelSet           ModelSet       `json:"model_set,omitempty"`
	ComplexityLevel    Complexity     `json:"complexity_level,omitempty"`
	ClassificationType Classification `json:"classification_type,omitempty"`

	Status      Status     `json:"status"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// PID of the spawned child process. Only meaningful while the process
	// is alive; stale values are re-probed, never trusted.
	PID int `json:"pid,omitempty"`

	NLInput         string         `json:"nl_input,omitempty"`
	StructuredInput map[string]any `json:"structured_input,omitempty"`

	ActualCostTotal      float64         `json:"actual_cost_total,omitempty"`
	EstimatedCostTotal   float64         `json:"estimated_cost_total,omitempty"`
	InputTokens          int64           `json:"input_tokens,omitempty"`
	OutputTokens         int64           `json:"output_tokens,omitempty"`
	CacheReadTokens      int64           `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens  int64           `json:"cache_creation_tokens,omitempty"`
	RetryCount           int             `json:"retry_count,omitempty"`
	TotalDurationSeconds float64         `json:"total_duration_seconds,omitempty"`
	StepsCompleted       int             `json:"steps_completed,omitempty"`
	Errors               []WorkflowError `json:"errors,omitempty"`
	PhaseMetrics         []PhaseMetric   `json:"phase_metrics,omitempty"`

	NLInputClarityScore         float64  `json:"nl_input_clarity_score,omitempty"`
	CostEfficiencyScore         float64  `json:"cost_efficiency_score,omitempty"`
	PerformanceScore            float64  `json:"performance_score,omitempty"`
	QualityScore                float64  `json:"quality_score,omitempty"`
	AnomalyFlags                []string `json:"anomaly_flags,omitempty"`
	OptimizationRecommendations []string `json:"optimization_recommendations,omitempty"`
	SimilarWorkflowIDs          []string `json:"similar_workflow_ids,omitempty"`

	// Extra holds state-file fields this version does not model. They are
	// carried through reads and writes untouched so newer child processes
	// can persist fields an older daemon has never heard of.
	Extra map[string]json.RawMessage `json:"-"`
}

// NewWorkflowRecord creates a queued record for a freshly admitted workflow.
func NewWorkflowRecord(adwID, issueID string, template Template, modelSet ModelSet) (*WorkflowRecord, error) {
	if !ValidADWID(adwID) {
		return nil, fmt.Errorf("invalid adw_id %q", adwID)
	}
	if !template.IsValid() {
		return nil, fmt.Errorf("invalid workflow template %q", template)
	}
	if modelSet == "" {
		modelSet = ModelSetBase
	}
	if !modelSet.IsValid() {
		return nil, fmt.Errorf("invalid model set %q", modelSet)
	}
	return &WorkflowRecord{
		ADWID:            adwID,
		IssueID:          issueID,
		CreatedAt:        time.Now().UTC(),
		WorkflowTemplate: template,
		ModelSet:         modelSet,
		Status:           StatusQueued,
	}, nil
}

// TransitionTo moves the record to the next status, stamping StartTime or
// CompletedAt as appropriate. Writing the current status again is a no-op.
// Invalid moves return an *InvalidTransitionError and leave the record
// unchanged.
func (r *WorkflowRecord) TransitionTo(next Status) error {
	if !next.IsValid() {
		return fmt.Errorf("workflow %s: unknown status %q", r.ADWID, next)
	}
	if r.Status == next {
		return nil
	}
	if !r.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{ADWID: r.ADWID, From: r.Status, To: next}
	}

	now := time.Now().UTC()
	switch next {
	case StatusRunning:
		if r.StartTime == nil {
			r.StartTime = &now
		}
	case StatusCompleted, StatusFailed, StatusStopped:
		if r.CompletedAt == nil {
			r.CompletedAt = &now
		}
	}
	r.Status = next
	return nil
}

// Active returns true while the workflow has not reached a terminal status.
func (r *WorkflowRecord) Active() bool {
	return !r.Status.IsTerminal()
}

// knownStateKeys is the set of JSON keys owned by WorkflowRecord fields.
// Keys outside this set are routed into Extra on decode.
var knownStateKeys = buildKnownStateKeys()

func buildKnownStateKeys() map[string]struct{} {
	t := reflect.TypeOf(WorkflowRecord{})
	keys := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		keys[name] = struct{}{}
	}
	return keys
}

// UnmarshalJSON decodes known fields into the record and preserves every
// unknown key in Extra.
func (r *WorkflowRecord) UnmarshalJSON(data []byte) error {
	type plain WorkflowRecord
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if _, known := knownStateKeys[key]; known {
			delete(raw, key)
		}
	}
	if len(raw) > 0 {
		p.Extra = raw
	}

	*r = WorkflowRecord(p)
	return nil
}

// MarshalJSON encodes the record and re-merges Extra so unknown fields
// survive a read-modify-write cycle. Known fields always win a key clash.
func (r WorkflowRecord) MarshalJSON() ([]byte, error) {
	type plain WorkflowRecord
	base, err := json.Marshal(plain(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return base, nil
	}

	merged := make(map[string]json.RawMessage, len(r.Extra)+16)
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for key, value := range r.Extra {
		if _, taken := merged[key]; !taken {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}
