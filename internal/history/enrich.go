package history

import (
	"fmt"

	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/paths"
)

// CostSummary aggregates a workflow's cost-history entries.
type CostSummary struct {
	// TotalCost is the sum over every entry.
	TotalCost float64

	// RetryCost is the portion spent on attempts beyond the first.
	RetryCost float64

	// Retries counts the entries that were retry attempts.
	Retries int

	// Phases is the per-phase breakdown, in first-appearance order.
	Phases []adw.PhaseMetric
}

// SummarizeCost folds cost-history entries into totals and a per-phase
// breakdown. Phases keep first-appearance order so repeated summarization of
// the same file is deterministic.
func SummarizeCost(entries []adw.CostEntry) CostSummary {
	var summary CostSummary
	index := make(map[string]int, len(entries))
	for _, entry := range entries {
		summary.TotalCost += entry.Cost
		if entry.IsRetry() {
			summary.Retries++
			summary.RetryCost += entry.Cost
		}

		i, ok := index[entry.Phase]
		if !ok {
			i = len(summary.Phases)
			index[entry.Phase] = i
			summary.Phases = append(summary.Phases, adw.PhaseMetric{PhaseName: entry.Phase})
		}
		summary.Phases[i].DurationSeconds += entry.DurationSeconds
		summary.Phases[i].Cost += entry.Cost
	}
	return summary
}

// ApplyCost overwrites the record's cost fields with the summary. Overwriting
// rather than accumulating keeps enrichment idempotent. An empty summary
// leaves the record untouched: the state file's own values stand when no cost
// history exists.
func ApplyCost(record *adw.WorkflowRecord, summary CostSummary) {
	if len(summary.Phases) == 0 {
		return
	}
	record.ActualCostTotal = summary.TotalCost
	record.RetryCount = summary.Retries
	record.PhaseMetrics = summary.Phases
}

// Enrich merges the workflow's cost-history file into the record and returns
// the summary. A missing file is fine; an unreadable one is an error the
// caller can log without aborting its pass.
func Enrich(stateRoot string, record *adw.WorkflowRecord) (CostSummary, error) {
	entries, err := adw.ReadCostHistory(paths.CostHistoryPath(stateRoot, record.ADWID))
	if err != nil {
		return CostSummary{}, fmt.Errorf("reading cost history for %s: %w", record.ADWID, err)
	}
	summary := SummarizeCost(entries)
	ApplyCost(record, summary)
	return summary, nil
}
