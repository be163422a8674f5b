package history

import "github.com/zjrosen/adwd/internal/adw"

// Thresholds for deriving a complexity level from observable run signals.
const (
	complexitySimpleMaxWords     = 50
	complexitySimpleMaxDuration  = 300.0
	complexitySimpleMaxErrors    = 3
	complexityComplexMinWords    = 200
	complexityComplexMinDuration = 1800.0
	complexityComplexMinErrors   = 5
)

// DetectComplexity derives a complexity level from the request's word count,
// the run duration in seconds, and the error count. Any single strong signal
// promotes to complex; simple requires all three signals to stay low.
func DetectComplexity(wordCount int, durationSeconds float64, errorCount int) adw.Complexity {
	if wordCount > complexityComplexMinWords ||
		durationSeconds > complexityComplexMinDuration ||
		errorCount > complexityComplexMinErrors {
		return adw.ComplexityComplex
	}
	if wordCount < complexitySimpleMaxWords &&
		durationSeconds < complexitySimpleMaxDuration &&
		errorCount < complexitySimpleMaxErrors {
		return adw.ComplexitySimple
	}
	return adw.ComplexityMedium
}
