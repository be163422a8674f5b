package adw

// ModelSet selects the model tier a workflow runs with.
type ModelSet string

const (
	// ModelSetBase is the default model tier.
	ModelSetBase ModelSet = "base"

	// ModelSetAdvanced selects the heavier model tier for complex work.
	ModelSetAdvanced ModelSet = "advanced"
)

// String returns the string representation of the model set.
func (m ModelSet) String() string {
	return string(m)
}

// IsValid returns true if the model set is recognized.
func (m ModelSet) IsValid() bool {
	switch m {
	case ModelSetBase, ModelSetAdvanced:
		return true
	default:
		return false
	}
}

// CostMultiplier returns the factor applied to a template's base cost
// estimate when previewing a run with this model set.
func (m ModelSet) CostMultiplier() float64 {
	if m == ModelSetAdvanced {
		return 2.5
	}
	return 1.0
}

// Complexity grades how demanding a workflow run turned out to be.
type Complexity string

const (
	// ComplexitySimple marks short runs with small inputs and few errors.
	ComplexitySimple Complexity = "simple"

	// ComplexityMedium is the default grade.
	ComplexityMedium Complexity = "medium"

	// ComplexityComplex marks long runs, large inputs, or error-heavy runs.
	ComplexityComplex Complexity = "complex"
)

// String returns the string representation of the complexity level.
func (c Complexity) String() string {
	return string(c)
}

// IsValid returns true if the complexity level is recognized.
func (c Complexity) IsValid() bool {
	switch c {
	case ComplexitySimple, ComplexityMedium, ComplexityComplex:
		return true
	default:
		return false
	}
}

// CostMultiplier returns the factor applied to a template's base cost
// estimate when previewing a run at this complexity.
func (c Complexity) CostMultiplier() float64 {
	switch c {
	case ComplexitySimple:
		return 0.6
	case ComplexityComplex:
		return 1.8
	default:
		return 1.0
	}
}

// Classification categorizes the issue that drives a workflow.
type Classification string

const (
	// ClassificationFeature is new functionality. It is also the fallback
	// when no stronger signal is available.
	ClassificationFeature Classification = "feature"

	// ClassificationBug is a defect fix.
	ClassificationBug Classification = "bug"

	// ClassificationChore is maintenance work with no user-facing change.
	ClassificationChore Classification = "chore"
)

// String returns the string representation of the classification.
func (c Classification) String() string {
	return string(c)
}

// IsValid returns true if the classification is recognized.
func (c Classification) IsValid() bool {
	switch c {
	case ClassificationFeature, ClassificationBug, ClassificationChore:
		return true
	default:
		return false
	}
}
