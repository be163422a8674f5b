package testutil

import (
	"time"

	"github.com/zjrosen/adwd/internal/adw"
)

// PhaseCost creates a first-attempt cost ledger entry.
func PhaseCost(phase string, cost float64) adw.CostEntry {
	return adw.CostEntry{Phase: phase, Cost: cost, Attempt: 1}
}

// RetryCost creates a cost ledger entry for a repeated phase attempt.
func RetryCost(phase string, attempt int, cost float64) adw.CostEntry {
	return adw.CostEntry{Phase: phase, Cost: cost, Attempt: attempt}
}

// defaultWorkflow returns a queued plan-iso record on the base model tier.
func defaultWorkflow(adwID string) *adw.WorkflowRecord {
	return &adw.WorkflowRecord{
		ADWID:            adwID,
		CreatedAt:        time.Now().UTC(),
		WorkflowTemplate: adw.TemplatePlanISO,
		ModelSet:         adw.ModelSetBase,
		Status:           adw.StatusQueued,
	}
}

// WorkflowOption configures a workflow record during builder setup.
type WorkflowOption func(*adw.WorkflowRecord)

// Issue sets the linked issue number.
func Issue(id string) WorkflowOption {
	return func(r *adw.WorkflowRecord) { r.IssueID = id }
}

// Template sets the workflow template.
func Template(tpl adw.Template) WorkflowOption {
	return func(r *adw.WorkflowRecord) { r.WorkflowTemplate = tpl }
}

// ModelSet sets the model tier.
func ModelSet(m adw.ModelSet) WorkflowOption {
	return func(r *adw.WorkflowRecord) { r.ModelSet = m }
}

// Complexity sets the complexity grade.
func Complexity(c adw.Complexity) WorkflowOption {
	return func(r *adw.WorkflowRecord) { r.ComplexityLevel = c }
}

// Classification sets the issue classification.
func Classification(c adw.Classification) WorkflowOption {
	return func(r *adw.WorkflowRecord) { r.ClassificationType = c }
}

// Status sets the workflow status. Anything past queued gets a start time,
// and terminal statuses a completion time, unless set explicitly.
func Status(s adw.Status) WorkflowOption {
	return func(r *adw.WorkflowRecord) {
		r.Status = s
		now := time.Now().UTC()
		if s != adw.StatusQueued && r.StartTime == nil {
			r.StartTime = &now
		}
		if s.IsTerminal() && r.CompletedAt == nil {
			r.CompletedAt = &now
		}
	}
}

// CreatedAt sets the creation timestamp.
func CreatedAt(t time.Time) WorkflowOption {
	return func(r *adw.WorkflowRecord) { r.CreatedAt = t }
}

// StartedAt sets the start timestamp explicitly.
func StartedAt(t time.Time) WorkflowOption {
	return func(r *adw.WorkflowRecord) { r.StartTime = &t }
}

// CompletedAt sets the completion timestamp explicitly.
func CompletedAt(t time.Time) WorkflowOption {
	return func(r *adw.WorkflowRecord) { r.CompletedAt = &t }
}

// PID sets the child process ID.
func PID(pid int) WorkflowOption {
	return func(r *adw.WorkflowRecord) { r.PID = pid }
}

// NLInput sets the natural language input.
func NLInput(s string) WorkflowOption {
	return func(r *adw.WorkflowRecord) { r.NLInput = s }
}

// StructuredInput sets the structured input payload.
func StructuredInput(in map[string]any) WorkflowOption {
	return func(r *adw.WorkflowRecord) { r.StructuredInput = in }
}

// Costs sets the actual and estimated cost totals.
func Costs(actual, estimated float64) WorkflowOption {
	return func(r *adw.WorkflowRecord) {
		r.ActualCostTotal = actual
		r.EstimatedCostTotal = estimated
	}
}

// Tokens sets the input and output token counts.
func Tokens(in, out int64) WorkflowOption {
	return func(r *adw.WorkflowRecord) {
		r.InputTokens = in
		r.OutputTokens = out
	}
}

// CacheTokens sets the cache read and creation token counts.
func CacheTokens(read, created int64) WorkflowOption {
	return func(r *adw.WorkflowRecord) {
		r.CacheReadTokens = read
		r.CacheCreationTokens = created
	}
}

// Retries sets the retry count.
func Retries(n int) WorkflowOption {
	return func(r *adw.WorkflowRecord) { r.RetryCount = n }
}

// Duration sets the total run duration in seconds.
func Duration(seconds float64) WorkflowOption {
	return func(r *adw.WorkflowRecord) { r.TotalDurationSeconds = seconds }
}

// Steps sets the completed step count.
func Steps(n int) WorkflowOption {
	return func(r *adw.WorkflowRecord) { r.StepsCompleted = n }
}

// Failure appends a workflow error (nested option).
func Failure(category, message string) WorkflowOption {
	return func(r *adw.WorkflowRecord) {
		r.Errors = append(r.Errors, adw.WorkflowError{Category: category, Message: message})
	}
}

// Phase appends a phase metric (nested option).
func Phase(name string, seconds, cost float64) WorkflowOption {
	return func(r *adw.WorkflowRecord) {
		r.PhaseMetrics = append(r.PhaseMetrics, adw.PhaseMetric{
			PhaseName:       name,
			DurationSeconds: seconds,
			Cost:            cost,
		})
	}
}

// Scores sets the derived analytics scores.
func Scores(clarity, efficiency, performance, quality float64) WorkflowOption {
	return func(r *adw.WorkflowRecord) {
		r.NLInputClarityScore = clarity
		r.CostEfficiencyScore = efficiency
		r.PerformanceScore = performance
		r.QualityScore = quality
	}
}

// Anomalies sets the anomaly flags.
func Anomalies(flags ...string) WorkflowOption {
	return func(r *adw.WorkflowRecord) { r.AnomalyFlags = flags }
}
