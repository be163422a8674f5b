// Package admission gates workflow dispatch behind resource pre-flight
// checks: template validity, API quota, disk headroom, and the worktree
// budget. Checks are advisory, not atomic with dispatch; a workflow admitted
// here can still fail to spawn when resources are consumed in between.
package admission

import (
	"context"
	"fmt"
	"os"

	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/log"
)

// Default limits applied when the config leaves them unset.
const (
	DefaultMaxWorktrees  = 15
	DefaultDiskThreshold = 95.0
)

// Unknown marks a check whose source of truth could not be consulted.
// Unknown values never reject on their own.
const Unknown = -1

// Request is a proposed workflow dispatch.
type Request struct {
	Template adw.Template

	// ADWID is the caller-proposed workflow id, if any. Admission does not
	// consume it; it travels along for logging.
	ADWID string
}

// Checks carries the observed value of every admission check. Numeric fields
// hold Unknown when the check's source could not be consulted.
type Checks struct {
	Template        adw.Template `json:"template,omitempty"`
	TemplateKnown   bool         `json:"template_known"`
	QuotaRemaining  int          `json:"quota_remaining"`
	DiskUsedPercent float64      `json:"disk_used_percent"`
	ActiveWorktrees int          `json:"active_worktrees"`
	MaxWorktrees    int          `json:"max_worktrees"`
}

// QuotaDisplay renders the quota value for diagnostics.
func (c Checks) QuotaDisplay() string {
	if c.QuotaRemaining == Unknown {
		return "unavailable"
	}
	if c.QuotaRemaining == 0 {
		return "exhausted"
	}
	return fmt.Sprintf("%d remaining", c.QuotaRemaining)
}

// DiskDisplay renders the disk usage for diagnostics.
func (c Checks) DiskDisplay() string {
	if c.DiskUsedPercent == Unknown {
		return "unavailable"
	}
	return fmt.Sprintf("%.1f%% used", c.DiskUsedPercent)
}

// WorktreeDisplay renders the worktree occupancy for diagnostics.
func (c Checks) WorktreeDisplay() string {
	if c.ActiveWorktrees == Unknown {
		return fmt.Sprintf("unavailable (max %d)", c.MaxWorktrees)
	}
	return fmt.Sprintf("%d of %d in use", c.ActiveWorktrees, c.MaxWorktrees)
}

// RejectionError reports a failed admission check. Checks carries the
// observed value of all four checks so diagnostics can show the full
// picture, not just the one that failed.
type RejectionError struct {
	Reason string
	Checks Checks
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	return "admission rejected: " + e.Reason
}

// Config wires a Controller.
type Config struct {
	Catalog *adw.Catalog

	// Oracle reports the remaining external API budget. Nil disables the
	// quota check.
	Oracle QuotaOracle

	// StateRoot is the filesystem whose usage gates new workflows.
	StateRoot string

	// WorktreeRoot is scanned to count active isolated workflows.
	WorktreeRoot string

	// MaxWorktrees caps concurrent workflows. Zero means the default (15).
	MaxWorktrees int

	// DiskThresholdPercent rejects when usage reaches it. Zero means the
	// default (95).
	DiskThresholdPercent float64
}

// Controller runs the admission checks.
type Controller struct {
	catalog       *adw.Catalog
	oracle        QuotaOracle
	stateRoot     string
	worktreeRoot  string
	maxWorktrees  int
	diskThreshold float64

	// disk probes filesystem usage; tests stub it.
	disk func(path string) (float64, error)
}

// NewController creates a Controller, applying defaults for unset limits.
func NewController(cfg Config) *Controller {
	maxWorktrees := cfg.MaxWorktrees
	if maxWorktrees <= 0 {
		maxWorktrees = DefaultMaxWorktrees
	}
	threshold := cfg.DiskThresholdPercent
	if threshold <= 0 {
		threshold = DefaultDiskThreshold
	}
	return &Controller{
		catalog:       cfg.Catalog,
		oracle:        cfg.Oracle,
		stateRoot:     cfg.StateRoot,
		worktreeRoot:  cfg.WorktreeRoot,
		maxWorktrees:  maxWorktrees,
		diskThreshold: threshold,
		disk:          diskUsedPercent,
	}
}

// Admit runs the four checks in order and returns a *RejectionError on the
// first failure. All four values are gathered up front regardless of which
// check fails, so the rejection always carries the full snapshot. An
// unavailable quota oracle or disk probe admits with a warning; resource
// checks gate on facts, not on the ability to gather them.
func (c *Controller) Admit(ctx context.Context, req Request) error {
	checks := c.Snapshot(ctx)
	checks.Template = req.Template
	if c.catalog != nil {
		_, checks.TemplateKnown = c.catalog.Get(req.Template)
	} else {
		checks.TemplateKnown = req.Template.IsValid()
	}

	reject := func(reason string) error {
		log.Warn(log.CatAdmission, "workflow rejected",
			"reason", reason, "template", req.Template, "adw_id", req.ADWID)
		return &RejectionError{Reason: reason, Checks: checks}
	}

	if !checks.TemplateKnown {
		return reject(fmt.Sprintf("unknown workflow template %q", req.Template))
	}
	if checks.QuotaRemaining == 0 {
		return reject("api quota exhausted")
	}
	if checks.DiskUsedPercent != Unknown && checks.DiskUsedPercent >= c.diskThreshold {
		return reject(fmt.Sprintf("disk usage %.1f%% exceeds the %.1f%% limit",
			checks.DiskUsedPercent, c.diskThreshold))
	}
	if checks.ActiveWorktrees != Unknown && checks.ActiveWorktrees >= c.maxWorktrees {
		return reject(fmt.Sprintf("worktree limit reached: %d of %d in use",
			checks.ActiveWorktrees, c.maxWorktrees))
	}

	log.Debug(log.CatAdmission, "workflow admitted",
		"template", req.Template, "adw_id", req.ADWID,
		"quota", checks.QuotaDisplay(), "disk", checks.DiskDisplay(),
		"worktrees", checks.WorktreeDisplay())
	return nil
}

// Snapshot gathers the current value of the resource checks for diagnostics,
// health reporting, and the system-status topic. Template fields are zero; a
// snapshot is not tied to a proposed workflow.
func (c *Controller) Snapshot(ctx context.Context) Checks {
	checks := Checks{
		QuotaRemaining:  Unknown,
		DiskUsedPercent: Unknown,
		ActiveWorktrees: Unknown,
		MaxWorktrees:    c.maxWorktrees,
	}

	if c.oracle != nil {
		remaining, err := c.oracle.Remaining(ctx)
		if err != nil {
			log.Warn(log.CatAdmission, "quota oracle unavailable", "error", err)
		} else {
			checks.QuotaRemaining = remaining
		}
	}

	used, err := c.disk(c.stateRoot)
	if err != nil {
		log.Warn(log.CatAdmission, "disk usage probe failed", "path", c.stateRoot, "error", err)
	} else {
		checks.DiskUsedPercent = used
	}

	count, err := countWorktrees(c.worktreeRoot)
	if err != nil {
		log.Warn(log.CatAdmission, "worktree scan failed", "path", c.worktreeRoot, "error", err)
	} else {
		checks.ActiveWorktrees = count
	}

	return checks
}

// countWorktrees counts directories under the worktree root. A missing root
// means no workflow has created one yet, not an error.
func countWorktrees(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			count++
		}
	}
	return count, nil
}
