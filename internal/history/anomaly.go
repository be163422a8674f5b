package history

import (
	"fmt"

	"github.com/zjrosen/adwd/internal/adw"
)

// Anomaly thresholds.
const (
	// MinAnomalyPeers is the smallest similar-peer set that supports
	// comparisons; below it the ratios are meaningless.
	MinAnomalyPeers = 3

	anomalyCostRatio      = 2.0
	anomalyDurationRatio  = 2.0
	anomalyRetryThreshold = 3
	anomalyCacheRate      = 0.2
	anomalyCacheMinInput  = 5000
)

// knownErrorCategories is the expected failure vocabulary; any other
// category on a record is flagged.
var knownErrorCategories = map[string]bool{
	adw.ErrorCategoryTestFailure:    true,
	adw.ErrorCategoryLintError:      true,
	adw.ErrorCategoryMergeConflict:  true,
	adw.ErrorCategoryTimeout:        true,
	adw.ErrorCategoryAPIError:       true,
	adw.ErrorCategoryProcessFailure: true,
}

// DetectAnomalies compares the record against its similar peers and returns
// human-readable flags, each carrying the record's own numbers. Fewer than
// MinAnomalyPeers peers yields nil.
func DetectAnomalies(r *adw.WorkflowRecord, peers []*adw.WorkflowRecord) []string {
	if len(peers) < MinAnomalyPeers {
		return nil
	}

	var flags []string

	if mean, ok := peerMeanCost(peers); ok && r.ActualCostTotal > anomalyCostRatio*mean {
		flags = append(flags, fmt.Sprintf("cost %.1fx above similar workflows ($%.2f vs $%.2f mean)",
			r.ActualCostTotal/mean, r.ActualCostTotal, mean))
	}
	if mean, ok := peerMeanDuration(peers); ok && r.TotalDurationSeconds > anomalyDurationRatio*mean {
		flags = append(flags, fmt.Sprintf("duration %.1fx above similar workflows (%.0fs vs %.0fs mean)",
			r.TotalDurationSeconds/mean, r.TotalDurationSeconds, mean))
	}
	if r.RetryCount >= anomalyRetryThreshold {
		flags = append(flags, fmt.Sprintf("high retry count: %d", r.RetryCount))
	}
	for _, category := range unknownCategories(r.Errors) {
		flags = append(flags, fmt.Sprintf("unexpected error category: %s", category))
	}
	if r.InputTokens > anomalyCacheMinInput {
		if rate, ok := cacheReadRate(r); ok && rate < anomalyCacheRate {
			flags = append(flags, fmt.Sprintf("cache read rate %.0f%% on %d input tokens",
				rate*100, r.InputTokens))
		}
	}

	return flags
}

// peerMeanCost averages the costs of peers that have one recorded.
func peerMeanCost(peers []*adw.WorkflowRecord) (float64, bool) {
	var sum float64
	var n int
	for _, p := range peers {
		if p.ActualCostTotal > 0 {
			sum += p.ActualCostTotal
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// unknownCategories returns the distinct unexpected categories in order of
// first appearance.
func unknownCategories(errs []adw.WorkflowError) []string {
	var out []string
	seen := make(map[string]bool, len(errs))
	for _, e := range errs {
		if e.Category == "" || knownErrorCategories[e.Category] || seen[e.Category] {
			continue
		}
		seen[e.Category] = true
		out = append(out, e.Category)
	}
	return out
}
