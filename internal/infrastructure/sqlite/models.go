package sqlite

import (
	"encoding/json"
	"time"

	"github.com/zjrosen/adwd/internal/adw"
)

// WorkflowModel represents the database row for the workflow_history table.
// Fields map directly to SQL columns with Unix timestamps for time values
// and JSON-encoded text for collections. The volatile PID is never
// persisted; liveness comes from the dispatcher registry, not the index.
type WorkflowModel struct {
	ADWID              string
	IssueID            *string // nullable
	CreatedAt          int64   // Unix timestamp
	WorkflowTemplate   string
	ModelSet           string
	ComplexityLevel    *string // nullable
	ClassificationType *string // nullable
	Status             string
	StartTime          *int64  // Unix timestamp, nullable
	CompletedAt        *int64  // Unix timestamp, nullable
	NLInput            *string // nullable
	StructuredInput    *string // nullable, JSON encoded

	// Outcome metrics
	ActualCostTotal      float64
	EstimatedCostTotal   float64
	InputTokens          int64
	OutputTokens         int64
	CacheReadTokens      int64
	CacheCreationTokens  int64
	RetryCount           int
	TotalDurationSeconds float64
	StepsCompleted       int
	Errors               *string // nullable, JSON encoded
	PhaseMetrics         *string // nullable, JSON encoded

	// Derived analytics
	NLInputClarityScore         float64
	CostEfficiencyScore         float64
	PerformanceScore            float64
	QualityScore                float64
	AnomalyFlags                *string // nullable, JSON encoded
	OptimizationRecommendations *string // nullable, JSON encoded
	SimilarWorkflowIDs          *string // nullable, JSON encoded

	// State-file fields this daemon version does not model, carried
	// through sync untouched.
	Extra *string // nullable, JSON encoded
}

// encodeJSON marshals v into a nullable column value. Encoding of the
// collection types used here cannot fail; a nil return means the column
// stays NULL.
func encodeJSON(v any) *string {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

// toWorkflowModel converts a domain record to a database row model.
func toWorkflowModel(r *adw.WorkflowRecord) *WorkflowModel {
	m := &WorkflowModel{
		ADWID:                r.ADWID,
		CreatedAt:            r.CreatedAt.Unix(),
		WorkflowTemplate:     string(r.WorkflowTemplate),
		ModelSet:             string(r.ModelSet),
		Status:               string(r.Status),
		ActualCostTotal:      r.ActualCostTotal,
		EstimatedCostTotal:   r.EstimatedCostTotal,
		InputTokens:          r.InputTokens,
		OutputTokens:         r.OutputTokens,
		CacheReadTokens:      r.CacheReadTokens,
		CacheCreationTokens:  r.CacheCreationTokens,
		RetryCount:           r.RetryCount,
		TotalDurationSeconds: r.TotalDurationSeconds,
		StepsCompleted:       r.StepsCompleted,

		NLInputClarityScore: r.NLInputClarityScore,
		CostEfficiencyScore: r.CostEfficiencyScore,
		PerformanceScore:    r.PerformanceScore,
		QualityScore:        r.QualityScore,
	}
	if m.ModelSet == "" {
		m.ModelSet = string(adw.ModelSetBase)
	}
	if r.IssueID != "" {
		issueID := r.IssueID
		m.IssueID = &issueID
	}
	if r.ComplexityLevel != "" {
		complexity := string(r.ComplexityLevel)
		m.ComplexityLevel = &complexity
	}
	if r.ClassificationType != "" {
		classification := string(r.ClassificationType)
		m.ClassificationType = &classification
	}
	if r.StartTime != nil {
		startTime := r.StartTime.Unix()
		m.StartTime = &startTime
	}
	if r.CompletedAt != nil {
		completedAt := r.CompletedAt.Unix()
		m.CompletedAt = &completedAt
	}
	if r.NLInput != "" {
		nlInput := r.NLInput
		m.NLInput = &nlInput
	}
	if len(r.StructuredInput) > 0 {
		m.StructuredInput = encodeJSON(r.StructuredInput)
	}
	if len(r.Errors) > 0 {
		m.Errors = encodeJSON(r.Errors)
	}
	if len(r.PhaseMetrics) > 0 {
		m.PhaseMetrics = encodeJSON(r.PhaseMetrics)
	}
	if len(r.AnomalyFlags) > 0 {
		m.AnomalyFlags = encodeJSON(r.AnomalyFlags)
	}
	if len(r.OptimizationRecommendations) > 0 {
		m.OptimizationRecommendations = encodeJSON(r.OptimizationRecommendations)
	}
	if len(r.SimilarWorkflowIDs) > 0 {
		m.SimilarWorkflowIDs = encodeJSON(r.SimilarWorkflowIDs)
	}
	if len(r.Extra) > 0 {
		m.Extra = encodeJSON(r.Extra)
	}
	return m
}

// toDomain converts a database row model back to a domain record.
func (m *WorkflowModel) toDomain() *adw.WorkflowRecord {
	r := &adw.WorkflowRecord{
		ADWID:                m.ADWID,
		CreatedAt:            time.Unix(m.CreatedAt, 0).UTC(),
		WorkflowTemplate:     adw.Template(m.WorkflowTemplate),
		ModelSet:             adw.ModelSet(m.ModelSet),
		Status:               adw.Status(m.Status),
		ActualCostTotal:      m.ActualCostTotal,
		EstimatedCostTotal:   m.EstimatedCostTotal,
		InputTokens:          m.InputTokens,
		OutputTokens:         m.OutputTokens,
		CacheReadTokens:      m.CacheReadTokens,
		CacheCreationTokens:  m.CacheCreationTokens,
		RetryCount:           m.RetryCount,
		TotalDurationSeconds: m.TotalDurationSeconds,
		StepsCompleted:       m.StepsCompleted,

		NLInputClarityScore: m.NLInputClarityScore,
		CostEfficiencyScore: m.CostEfficiencyScore,
		PerformanceScore:    m.PerformanceScore,
		QualityScore:        m.QualityScore,
	}
	if m.IssueID != nil {
		r.IssueID = *m.IssueID
	}
	if m.ComplexityLevel != nil {
		r.ComplexityLevel = adw.Complexity(*m.ComplexityLevel)
	}
	if m.ClassificationType != nil {
		r.ClassificationType = adw.Classification(*m.ClassificationType)
	}
	if m.StartTime != nil {
		t := time.Unix(*m.StartTime, 0).UTC()
		r.StartTime = &t
	}
	if m.CompletedAt != nil {
		t := time.Unix(*m.CompletedAt, 0).UTC()
		r.CompletedAt = &t
	}
	if m.NLInput != nil {
		r.NLInput = *m.NLInput
	}
	if m.StructuredInput != nil {
		_ = json.Unmarshal([]byte(*m.StructuredInput), &r.StructuredInput)
	}
	if m.Errors != nil {
		_ = json.Unmarshal([]byte(*m.Errors), &r.Errors)
	}
	if m.PhaseMetrics != nil {
		_ = json.Unmarshal([]byte(*m.PhaseMetrics), &r.PhaseMetrics)
	}
	if m.AnomalyFlags != nil {
		_ = json.Unmarshal([]byte(*m.AnomalyFlags), &r.AnomalyFlags)
	}
	if m.OptimizationRecommendations != nil {
		_ = json.Unmarshal([]byte(*m.OptimizationRecommendations), &r.OptimizationRecommendations)
	}
	if m.SimilarWorkflowIDs != nil {
		_ = json.Unmarshal([]byte(*m.SimilarWorkflowIDs), &r.SimilarWorkflowIDs)
	}
	if m.Extra != nil {
		_ = json.Unmarshal([]byte(*m.Extra), &r.Extra)
	}
	return r
}
