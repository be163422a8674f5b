package adw

import (
	"context"
	"regexp"
	"strings"
)

// commandPattern is the fast-path extraction pattern for workflow commands
// embedded in issue or comment text: a slash-command word, an optional
// workflow id (bare or wrapped as "(adw-xxxxxxxx)"), and an optional model
// set suffix.
var commandPattern = regexp.MustCompile(`(?i)(adw_[a-z0-9_]+)(?:\s+\(?(adw-)?([0-9a-f]{8})\)?)?(?:\s+with\s+(base|advanced)\s+model)?`)

// Command is an extracted or classified request to run a workflow.
type Command struct {
	Template Template

	// ADWID resumes an existing workflow when set; empty means mint a new id
	// at admission.
	ADWID string

	ModelSet ModelSet
}

// String renders the command in its canonical comment form. Re-extracting
// the rendered form yields an equal command.
func (c Command) String() string {
	var b strings.Builder
	b.WriteString(c.Template.CommandName())
	if c.ADWID != "" {
		b.WriteString(" " + c.ADWID)
	}
	if c.ModelSet == ModelSetAdvanced {
		b.WriteString(" with advanced model")
	}
	return b.String()
}

// ExtractCommand scans text for a workflow command and validates the match
// against the catalog. Words that look like commands but do not name a
// known template are skipped, so noise like "adw_bot" never shadows a real
// command later in the text. Returns false when no valid command is found;
// callers then decide whether to consult a Classifier.
func ExtractCommand(text string, catalog *Catalog) (Command, bool) {
	for _, m := range commandPattern.FindAllStringSubmatch(text, -1) {
		template, ok := TemplateFromCommand(m[1])
		if !ok {
			continue
		}
		if _, ok := catalog.Get(template); !ok {
			continue
		}

		cmd := Command{Template: template, ModelSet: ModelSetBase}
		if m[3] != "" {
			cmd.ADWID = strings.ToLower(m[3])
		}
		if strings.EqualFold(m[4], string(ModelSetAdvanced)) {
			cmd.ModelSet = ModelSetAdvanced
		}
		return cmd, true
	}
	return Command{}, false
}

// Classifier resolves event text that carries no explicit workflow command.
// Implementations are expected to be slow and fallible; a classification
// failure means the event is ignored, never retried.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Command, error)
}
