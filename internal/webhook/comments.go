package webhook

import (
	"fmt"
	"strings"

	"github.com/zjrosen/adwd/internal/admission"
	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/github"
)

// MaxExcerptLen bounds the error text carried into comments and the
// failure ring.
const MaxExcerptLen = 200

// Excerpt flattens s to one line and truncates it to MaxExcerptLen runes.
func Excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= MaxExcerptLen {
		return s
	}
	return string(runes[:MaxExcerptLen-1]) + "…"
}

// statusBlock renders the system-status footer every diagnostic comment
// carries, showing the same gauges the admission controller sees.
func statusBlock(checks admission.Checks) string {
	var b strings.Builder
	b.WriteString("Current system status:\n")
	fmt.Fprintf(&b, "- disk: %s\n", checks.DiskDisplay())
	fmt.Fprintf(&b, "- worktrees: %s\n", checks.WorktreeDisplay())
	fmt.Fprintf(&b, "- api quota: %s", checks.QuotaDisplay())
	return b.String()
}

// ackComment confirms a dispatched workflow.
func ackComment(record *adw.WorkflowRecord) string {
	var b strings.Builder
	b.WriteString(github.BotIdentifier + " Workflow dispatched.\n\n")
	fmt.Fprintf(&b, "- workflow: %s\n", record.WorkflowTemplate)
	fmt.Fprintf(&b, "- adw_id: %s\n", record.ADWID)
	fmt.Fprintf(&b, "- model set: %s\n\n", record.ModelSet)
	b.WriteString("Progress is written to the workflow's state directory and streamed to the live dashboard.")
	return b.String()
}

// noTextComment covers deliveries whose envelope parsed but carried nothing
// to extract from.
func noTextComment(checks admission.Checks) string {
	var b strings.Builder
	b.WriteString(github.BotIdentifier + " Could not read this event: it carried no usable text.\n\n")
	b.WriteString("Comment a workflow command directly, e.g. `adw_plan_iso with base model`.\n\n")
	b.WriteString(statusBlock(checks))
	return b.String()
}

// extractionMissComment covers text where neither the fast path nor the
// classifier found a workflow command.
func extractionMissComment(catalog *adw.Catalog, checks admission.Checks) string {
	var b strings.Builder
	b.WriteString(github.BotIdentifier + " No workflow command found in this event.\n\n")
	b.WriteString("Use `adw_<template> [adw-<8 hex chars>] [with base|advanced model]`.\n")

	if catalog != nil {
		names := make([]string, 0, len(catalog.All()))
		for _, info := range catalog.All() {
			names = append(names, "`"+info.Template.CommandName()+"`")
		}
		b.WriteString("Available templates: " + strings.Join(names, ", ") + ".\n")
	}

	b.WriteString("\n")
	b.WriteString(statusBlock(checks))
	return b.String()
}

// admissionComment reports a pre-flight rejection with all four check
// values, so the reader sees the whole picture rather than one gauge.
func admissionComment(rej *admission.RejectionError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Cannot start workflow: %s.\n\n", github.BotIdentifier, rej.Reason)
	b.WriteString(statusBlock(rej.Checks))
	b.WriteString("\n\n")
	b.WriteString("Retry once resources free up: finish or stop a running workflow, or wait for the quota window to reset.")
	return b.String()
}

// dispatchFailureComment reports a spawn that never got off the ground.
func dispatchFailureComment(excerpt string, checks admission.Checks) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Workflow failed to start: %s\n\n", github.BotIdentifier, excerpt)
	b.WriteString("The daemon kept the full trace in its logs and the workflow's execution log. Comment the command again to retry.\n\n")
	b.WriteString(statusBlock(checks))
	return b.String()
}
