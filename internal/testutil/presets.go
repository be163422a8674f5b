package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/zjrosen/adwd/internal/adw"
)

// NewTestStateRoot creates a state root pre-populated with the standard
// workflow fixtures.
func NewTestStateRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	NewBuilder(t, root).WithStandardWorkflows().Build()
	return root
}

// WithStandardWorkflows adds one workflow in every lifecycle state, spread
// across templates and model tiers.
func (b *Builder) WithStandardWorkflows() *Builder {
	now := time.Now().UTC()
	yesterday := now.Add(-24 * time.Hour)
	lastWeek := now.Add(-7 * 24 * time.Hour)

	return b.
		WithWorkflow("aaaa0001",
			Issue("101"), Template(adw.TemplatePlanISO),
			Status(adw.StatusCompleted), CreatedAt(lastWeek),
			Costs(1.42, 2.10), Tokens(52000, 9100), Duration(418), Steps(6)).
		WithWorkflow("aaaa0002",
			Issue("102"), Template(adw.TemplateSDLCISO), ModelSet(adw.ModelSetAdvanced),
			Status(adw.StatusRunning), CreatedAt(yesterday), PID(4242)).
		WithWorkflow("aaaa0003",
			Issue("103"), Template(adw.TemplateBuildISO),
			Status(adw.StatusFailed), CreatedAt(yesterday),
			Failure("test", "pytest exited 1"), Retries(2)).
		WithWorkflow("aaaa0004",
			Issue("104"), Template(adw.TemplatePatchISO),
			Status(adw.StatusQueued), CreatedAt(now)).
		WithWorkflow("aaaa0005",
			Issue("105"), Template(adw.TemplateReviewISO),
			Status(adw.StatusStopped), CreatedAt(lastWeek)).
		WithWorkflow("aaaa0006",
			Template(adw.TemplateLightweightISO), NLInput("tighten the retry backoff"),
			Status(adw.StatusCompleted), CreatedAt(yesterday), Costs(0.18, 0.25))
}

// WithCompletedRun adds a fully populated completed workflow together with
// its per-phase cost ledger, including one build retry.
func (b *Builder) WithCompletedRun(adwID string) *Builder {
	started := time.Now().UTC().Add(-30 * time.Minute)

	return b.
		WithWorkflow(adwID,
			Issue("207"), Template(adw.TemplateSDLCISO), ModelSet(adw.ModelSetAdvanced),
			Classification(adw.ClassificationFeature), Complexity(adw.ComplexityComplex),
			Status(adw.StatusCompleted), StartedAt(started),
			Costs(3.84, 4.20), Tokens(212000, 48000), CacheTokens(1500000, 90000),
			Duration(1680), Steps(9), Retries(1),
			Phase("plan", 420, 0.92), Phase("build", 760, 1.85),
			Phase("test", 310, 0.64), Phase("review", 190, 0.43)).
		WithCostHistory(adwID,
			PhaseCost("plan", 0.92),
			PhaseCost("build", 1.61),
			RetryCost("build", 2, 0.24),
			PhaseCost("test", 0.64),
			PhaseCost("review", 0.43))
}

// WithQueueBacklog adds n queued workflows with creation times spaced a
// minute apart, oldest first.
func (b *Builder) WithQueueBacklog(n int) *Builder {
	base := time.Now().UTC().Add(-time.Duration(n) * time.Minute)
	for i := 0; i < n; i++ {
		b.WithWorkflow(fmt.Sprintf("feed%04x", i+1),
			Status(adw.StatusQueued),
			CreatedAt(base.Add(time.Duration(i)*time.Minute)))
	}
	return b
}
