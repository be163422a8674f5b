package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/zjrosen/adwd/internal/adw"
)

// DefaultClassifyTimeout bounds one classifier invocation when the config
// leaves it unset.
const DefaultClassifyTimeout = 60 * time.Second

// Compile-time check that ExecClassifier implements adw.Classifier.
var _ adw.Classifier = (*ExecClassifier)(nil)

// ExecClassifier is the slow extraction path: it pipes the event text to a
// configured command (an LLM-backed CLI) and reads the classification back
// as JSON: {"workflow_template": "...", "model_set": "...", "adw_id": "..."}.
type ExecClassifier struct {
	command string
	args    []string
	timeout time.Duration
}

// NewExecClassifier creates a classifier from a command line. The line is
// split on whitespace; the first field is the executable.
func NewExecClassifier(commandLine string, timeout time.Duration) *ExecClassifier {
	fields := strings.Fields(commandLine)
	c := &ExecClassifier{timeout: timeout}
	if c.timeout <= 0 {
		c.timeout = DefaultClassifyTimeout
	}
	if len(fields) > 0 {
		c.command = fields[0]
		c.args = fields[1:]
	}
	return c
}

// Classify runs the configured command over text.
func (c *ExecClassifier) Classify(ctx context.Context, text string) (*adw.Command, error) {
	if c.command == "" {
		return nil, fmt.Errorf("classifier command not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.command, c.args...) // #nosec G204 -- command comes from the daemon config, not request input
	cmd.Stdin = strings.NewReader(text)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("classifier failed: %s", strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("classifier failed: %w", err)
	}

	var result struct {
		WorkflowTemplate string `json:"workflow_template"`
		ModelSet         string `json:"model_set"`
		ADWID            string `json:"adw_id"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("parsing classifier output: %w", err)
	}

	template := adw.Template(result.WorkflowTemplate)
	if !template.IsValid() {
		return nil, fmt.Errorf("classifier returned unknown template %q", result.WorkflowTemplate)
	}

	modelSet := adw.ModelSet(result.ModelSet)
	if modelSet == "" {
		modelSet = adw.ModelSetBase
	}
	if !modelSet.IsValid() {
		return nil, fmt.Errorf("classifier returned unknown model set %q", result.ModelSet)
	}

	if result.ADWID != "" && !adw.ValidADWID(result.ADWID) {
		return nil, fmt.Errorf("classifier returned invalid adw_id %q", result.ADWID)
	}

	return &adw.Command{Template: template, ADWID: result.ADWID, ModelSet: modelSet}, nil
}
