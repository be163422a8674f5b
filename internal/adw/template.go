package adw

import "strings"

// Template identifies one of the runnable workflow templates. Template names
// use dashes; the matching slash-command form uses an adw_ prefix and
// underscores (plan-iso <-> adw_plan_iso).
type Template string

const (
	// TemplatePlanISO produces an implementation plan in an isolated worktree.
	TemplatePlanISO Template = "plan-iso"

	// TemplateBuildISO implements a previously produced plan.
	TemplateBuildISO Template = "build-iso"

	// TemplateTestISO runs and repairs the test suite.
	TemplateTestISO Template = "test-iso"

	// TemplateReviewISO reviews a change set and files findings.
	TemplateReviewISO Template = "review-iso"

	// TemplatePatchISO applies a small targeted fix without a full plan.
	TemplatePatchISO Template = "patch-iso"

	// TemplateSDLCISO chains plan, build, test, and review end to end.
	TemplateSDLCISO Template = "sdlc-iso"

	// TemplateLightweightISO is the minimal single-phase workflow.
	TemplateLightweightISO Template = "lightweight-iso"
)

// commandPrefix prefixes every slash-command alias of a template.
const commandPrefix = "adw_"

// AllTemplates returns every known workflow template in display order.
func AllTemplates() []Template {
	return []Template{
		TemplatePlanISO,
		TemplateBuildISO,
		TemplateTestISO,
		TemplateReviewISO,
		TemplatePatchISO,
		TemplateSDLCISO,
		TemplateLightweightISO,
	}
}

// String returns the string representation of the template.
func (t Template) String() string {
	return string(t)
}

// IsValid returns true if the template is recognized.
func (t Template) IsValid() bool {
	switch t {
	case TemplatePlanISO, TemplateBuildISO, TemplateTestISO, TemplateReviewISO,
		TemplatePatchISO, TemplateSDLCISO, TemplateLightweightISO:
		return true
	default:
		return false
	}
}

// CommandName returns the slash-command alias for the template,
// e.g. "adw_plan_iso" for plan-iso.
func (t Template) CommandName() string {
	return commandPrefix + strings.ReplaceAll(string(t), "-", "_")
}

// TemplateFromCommand resolves a slash-command alias such as "adw_plan_iso"
// back to its template. Matching is case-insensitive. Returns false when the
// alias does not name a known template.
func TemplateFromCommand(command string) (Template, bool) {
	name := strings.ToLower(strings.TrimSpace(command))
	if !strings.HasPrefix(name, commandPrefix) {
		return "", false
	}
	t := Template(strings.ReplaceAll(strings.TrimPrefix(name, commandPrefix), "_", "-"))
	if !t.IsValid() {
		return "", false
	}
	return t, true
}
