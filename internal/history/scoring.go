package history

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zjrosen/adwd/internal/adw"
)

// Score bounds. Every scorer starts from a base, applies the penalties and
// bonuses below, and clamps the result into this range.
const (
	ScoreMin = 0.0
	ScoreMax = 100.0
)

// Clarity scoring weights.
const (
	clarityBase               = 60.0
	clarityVeryShortWords     = 5
	clarityVeryShortPenalty   = 40.0
	clarityShortWords         = 10
	clarityShortPenalty       = 20.0
	clarityIdealMinWords      = 20
	clarityIdealMaxWords      = 150
	clarityIdealBonus         = 15.0
	clarityCapitalizedBonus   = 5.0
	clarityMultiSentenceBonus = 10.0
	clarityRambleWords        = 300
	clarityRamblePenalty      = 10.0
)

// Cost-efficiency scoring weights. Overrun tiers are fractions of the
// estimate: 0.20 means 20% over.
const (
	costBase                 = 70.0
	costOverrunSevere        = 1.00
	costOverrunSeverePenalty = 40.0
	costOverrunHigh          = 0.50
	costOverrunHighPenalty   = 25.0
	costOverrunMild          = 0.20
	costOverrunMildPenalty   = 10.0
	costUnderBudgetMargin    = 0.20
	costUnderBudgetBonus     = 15.0
	costMismatchPenalty      = 20.0
	costMatchBonus           = 10.0
	costRetryFractionLimit   = 0.30
	costRetryFractionPenalty = 15.0
	costCacheLowRate         = 0.30
	costCacheLowPenalty      = 10.0
	costCacheHighRate        = 0.60
	costCacheHighBonus       = 15.0
)

// Performance scoring weights. Ratios compare the record's duration to the
// mean of its similar peers.
const (
	perfBase                = 70.0
	perfSlowRatio           = 2.0
	perfSlowPenalty         = 30.0
	perfLaggingRatio        = 1.5
	perfLaggingPenalty      = 15.0
	perfFastRatio           = 0.5
	perfFastBonus           = 15.0
	perfBottleneckShare     = 0.50
	perfBottleneckPenalty   = 15.0
	perfBriskStepsPerMinute = 1.0
	perfBriskBonus          = 10.0
)

// Quality scoring weights.
const (
	qualityBase           = 100.0
	qualityErrorPenalty   = 15.0
	qualityFatalWeight    = 2.0
	qualityRetryPenalty   = 10.0
	qualityFailedPenalty  = 40.0
	qualityStoppedPenalty = 20.0
)

// fatalErrorCategories are the failure kinds that end a run outright rather
// than being repaired inside the loop; they weigh double in quality scoring.
var fatalErrorCategories = map[string]bool{
	adw.ErrorCategoryMergeConflict: true,
	adw.ErrorCategoryTimeout:       true,
}

// ScoreClarity grades how well-formed a natural-language request is. Empty
// input scores zero outright.
func ScoreClarity(input string) float64 {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0
	}

	score := clarityBase
	words := len(strings.Fields(trimmed))
	switch {
	case words < clarityVeryShortWords:
		score -= clarityVeryShortPenalty
	case words < clarityShortWords:
		score -= clarityShortPenalty
	}
	if words >= clarityIdealMinWords && words <= clarityIdealMaxWords {
		score += clarityIdealBonus
	}
	if words > clarityRambleWords {
		score -= clarityRamblePenalty
	}

	if first, _ := utf8.DecodeRuneInString(trimmed); unicode.IsUpper(first) {
		score += clarityCapitalizedBonus
	}
	if sentenceEnders(trimmed) >= 2 {
		score += clarityMultiSentenceBonus
	}

	return clamp(score)
}

// sentenceEnders counts terminal punctuation as a proxy for sentence
// structure.
func sentenceEnders(s string) int {
	n := 0
	for _, r := range s {
		switch r {
		case '.', '!', '?':
			n++
		}
	}
	return n
}

// ScoreCostEfficiency grades spend against the estimate, model fit, retry
// burn, and cache utilization. retryCost is the portion of actual cost spent
// on attempts beyond the first, taken from the cost history when available.
// Missing inputs leave their clause neutral.
func ScoreCostEfficiency(r *adw.WorkflowRecord, retryCost float64) float64 {
	score := costBase

	if r.EstimatedCostTotal > 0 && r.ActualCostTotal > 0 {
		overrun := (r.ActualCostTotal - r.EstimatedCostTotal) / r.EstimatedCostTotal
		switch {
		case overrun > costOverrunSevere:
			score -= costOverrunSeverePenalty
		case overrun > costOverrunHigh:
			score -= costOverrunHighPenalty
		case overrun > costOverrunMild:
			score -= costOverrunMildPenalty
		case overrun <= -costUnderBudgetMargin:
			score += costUnderBudgetBonus
		}
	}

	if r.ModelSet.IsValid() && r.ComplexityLevel.IsValid() {
		advanced := r.ModelSet == adw.ModelSetAdvanced
		switch {
		case advanced && r.ComplexityLevel == adw.ComplexitySimple,
			!advanced && r.ComplexityLevel == adw.ComplexityComplex:
			score -= costMismatchPenalty
		case advanced && r.ComplexityLevel == adw.ComplexityComplex,
			!advanced && r.ComplexityLevel == adw.ComplexitySimple:
			score += costMatchBonus
		}
	}

	if r.ActualCostTotal > 0 && retryCost/r.ActualCostTotal > costRetryFractionLimit {
		score -= costRetryFractionPenalty
	}

	if rate, ok := cacheReadRate(r); ok {
		switch {
		case rate < costCacheLowRate:
			score -= costCacheLowPenalty
		case rate >= costCacheHighRate:
			score += costCacheHighBonus
		}
	}

	return clamp(score)
}

// ScorePerformance grades wall time against similar peers plus the record's
// own pacing signals. With no usable peers the duration clause stays neutral.
func ScorePerformance(r *adw.WorkflowRecord, peers []*adw.WorkflowRecord) float64 {
	score := perfBase

	if mean, ok := peerMeanDuration(peers); ok && r.TotalDurationSeconds > 0 {
		ratio := r.TotalDurationSeconds / mean
		switch {
		case ratio > perfSlowRatio:
			score -= perfSlowPenalty
		case ratio > perfLaggingRatio:
			score -= perfLaggingPenalty
		case ratio < perfFastRatio:
			score += perfFastBonus
		}
	}

	if _, share, ok := bottleneckPhase(r.PhaseMetrics); ok && share > perfBottleneckShare {
		score -= perfBottleneckPenalty
	}

	if r.TotalDurationSeconds > 0 && r.StepsCompleted > 0 {
		stepsPerMinute := float64(r.StepsCompleted) / (r.TotalDurationSeconds / 60)
		if stepsPerMinute >= perfBriskStepsPerMinute {
			score += perfBriskBonus
		}
	}

	return clamp(score)
}

// ScoreQuality grades a run by how cleanly it finished. Completed runs with
// no errors and no retries stay at the top of the range.
func ScoreQuality(r *adw.WorkflowRecord) float64 {
	score := qualityBase

	for _, e := range r.Errors {
		penalty := qualityErrorPenalty
		if fatalErrorCategories[e.Category] {
			penalty *= qualityFatalWeight
		}
		score -= penalty
	}
	score -= float64(r.RetryCount) * qualityRetryPenalty

	switch r.Status {
	case adw.StatusFailed:
		score -= qualityFailedPenalty
	case adw.StatusStopped:
		score -= qualityStoppedPenalty
	}

	return clamp(score)
}

// cacheReadRate reports what fraction of input tokens were served from
// cache. The second return is false when the record has no input tokens to
// judge.
func cacheReadRate(r *adw.WorkflowRecord) (float64, bool) {
	if r.InputTokens <= 0 {
		return 0, false
	}
	return float64(r.CacheReadTokens) / float64(r.InputTokens), true
}

// peerMeanDuration averages the durations of peers that have one recorded.
func peerMeanDuration(peers []*adw.WorkflowRecord) (float64, bool) {
	var sum float64
	var n int
	for _, p := range peers {
		if p.TotalDurationSeconds > 0 {
			sum += p.TotalDurationSeconds
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// bottleneckPhase finds the phase holding the largest share of total phase
// time. A workflow needs at least two phases to have a bottleneck; a single
// phase has nothing to rebalance against.
func bottleneckPhase(phases []adw.PhaseMetric) (string, float64, bool) {
	if len(phases) < 2 {
		return "", 0, false
	}
	var total float64
	for _, p := range phases {
		total += p.DurationSeconds
	}
	if total <= 0 {
		return "", 0, false
	}
	longest := phases[0]
	for _, p := range phases[1:] {
		if p.DurationSeconds > longest.DurationSeconds {
			longest = p
		}
	}
	return longest.PhaseName, longest.DurationSeconds / total, true
}

func clamp(score float64) float64 {
	return math.Min(ScoreMax, math.Max(ScoreMin, score))
}
