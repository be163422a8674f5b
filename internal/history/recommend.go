package history

import (
	"fmt"

	"github.com/zjrosen/adwd/internal/adw"
)

// Recommendation thresholds.
const (
	// MaxRecommendations caps the advice list per record.
	MaxRecommendations = 5

	recommendCacheRate    = 0.30
	recommendClarityFloor = 50.0
)

// Recommend derives at most MaxRecommendations improvement hints for a
// scored record, highest leverage first. Each hint carries a stable leading
// tag ("model:", "cache:", ...) keyed for dedup, so a category can appear
// once no matter how the record evolves.
func Recommend(r *adw.WorkflowRecord) []string {
	var recs []string
	seen := make(map[string]bool)
	add := func(tag, rec string) {
		if len(recs) >= MaxRecommendations || seen[tag] {
			return
		}
		seen[tag] = true
		recs = append(recs, rec)
	}

	if r.ModelSet.IsValid() && r.ComplexityLevel.IsValid() {
		switch {
		case r.ModelSet == adw.ModelSetAdvanced && r.ComplexityLevel == adw.ComplexitySimple:
			add("model:", "model: switch to the base model set; this simple workflow does not need advanced models")
		case r.ModelSet == adw.ModelSetBase && r.ComplexityLevel == adw.ComplexityComplex:
			add("model:", "model: switch to the advanced model set; complex workflows burn retries on base models")
		}
	}

	if rate, ok := cacheReadRate(r); ok && rate < recommendCacheRate {
		add("cache:", fmt.Sprintf("cache: restructure the prompt so stable context leads; cache read rate is %.0f%%", rate*100))
	}

	if r.NLInputClarityScore < recommendClarityFloor {
		add("clarity:", fmt.Sprintf("clarity: expand the request with concrete acceptance criteria; clarity score is %.0f", r.NLInputClarityScore))
	}

	if phase, share, ok := bottleneckPhase(r.PhaseMetrics); ok && share > perfBottleneckShare {
		add("bottleneck:", fmt.Sprintf("bottleneck: split the %s phase; it takes %.0f%% of total runtime", phase, share*100))
	}

	if r.RetryCount > 0 && len(r.Errors) > 0 {
		add("retries:", fmt.Sprintf("retries: %d retries with %d recorded errors; address the recurring failures before resubmitting", r.RetryCount, len(r.Errors)))
	}

	return recs
}
