// Package webhook ingests issue-tracker events: it decodes deliveries,
// extracts workflow commands, runs admission, hands accepted commands to
// the dispatcher, and posts the outcome back to the originating issue.
// Every delivery is acknowledged synchronously; spawning and commenting
// happen off the request path.
package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/adwd/internal/admission"
	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/dispatch"
	"github.com/zjrosen/adwd/internal/github"
	"github.com/zjrosen/adwd/internal/log"
	"github.com/zjrosen/adwd/internal/tracing"
)

// Ack statuses returned to the webhook caller.
const (
	StatusOK      = "ok"
	StatusIgnored = "ignored"
	StatusError   = "error"
)

// Ack is the synchronous response to a delivery. Work continues after it is
// sent; a later spawn failure surfaces as an issue comment, not here.
type Ack struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	ADWID   string `json:"adw_id,omitempty"`
}

// Config wires an Ingestor.
type Config struct {
	Admission  *admission.Controller
	Dispatcher *dispatch.Dispatcher
	Commenter  github.IssueCommenter
	Classifier adw.Classifier
	Catalog    *adw.Catalog
	Stats      *Stats

	// Tracer records a span per relevant delivery when set.
	Tracer trace.Tracer
}

// Ingestor runs the intake pipeline.
type Ingestor struct {
	admission  *admission.Controller
	dispatcher *dispatch.Dispatcher
	commenter  github.IssueCommenter
	classifier adw.Classifier
	catalog    *adw.Catalog
	stats      *Stats
	tracer     trace.Tracer
}

// NewIngestor creates an Ingestor. A nil Stats gets a fresh counter set; a
// nil Classifier disables the slow path.
func NewIngestor(cfg Config) *Ingestor {
	stats := cfg.Stats
	if stats == nil {
		stats = NewStats(0)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("webhook")
	}
	return &Ingestor{
		admission:  cfg.Admission,
		dispatcher: cfg.Dispatcher,
		commenter:  cfg.Commenter,
		classifier: cfg.Classifier,
		catalog:    cfg.Catalog,
		stats:      stats,
		tracer:     tracer,
	}
}

// Stats exposes the ingest counters for the status endpoint and topic.
func (i *Ingestor) Stats() *Stats {
	return i.stats
}

// HandleRequest decodes an HTTP delivery and runs the pipeline. It always
// returns an Ack; the HTTP layer maps every outcome to 200 so the sender
// never retries.
func (i *Ingestor) HandleRequest(r *http.Request) Ack {
	i.stats.Received()

	event, err := DecodePayload(r)
	if err != nil {
		// Without a decoded envelope there is no issue to comment on; the
		// log entry is the record of this delivery.
		i.stats.Failed(Excerpt(err.Error()))
		log.Warn(log.CatWebhook, "webhook payload rejected", "error", err)
		return Ack{Status: StatusError, Message: "payload parse failed"}
	}

	return i.HandleEvent(r.Context(), event)
}

// HandleEvent runs the pipeline over a decoded delivery.
func (i *Ingestor) HandleEvent(ctx context.Context, event *Event) Ack {
	issueID := event.IssueNumber()

	if !event.Relevant() {
		log.Debug(log.CatWebhook, "event ignored", "action", event.Action, "issue_id", issueID)
		return Ack{Status: StatusIgnored, Message: "event does not carry a workflow command"}
	}

	kind := "issues"
	if event.Comment != nil {
		kind = "issue_comment"
	}
	ctx, span := i.tracer.Start(ctx, tracing.SpanIngest, trace.WithAttributes(
		attribute.String(tracing.AttrWebhookEvent, kind),
		attribute.String(tracing.AttrWebhookAction, event.Action),
		attribute.String(tracing.AttrIssueID, issueID),
	))
	defer span.End()

	text := event.Text()
	if strings.HasPrefix(strings.TrimSpace(text), github.BotIdentifier) {
		// Our own acknowledgement comments come back through the webhook.
		log.Debug(log.CatWebhook, "own comment ignored", "issue_id", issueID)
		return Ack{Status: StatusIgnored, Message: "bot comment"}
	}

	if i.catalog == nil {
		i.stats.Failed("template catalog unavailable")
		log.Error(log.CatWebhook, "template catalog unavailable", "issue_id", issueID)
		return Ack{Status: StatusError, Message: "catalog unavailable"}
	}

	if strings.TrimSpace(text) == "" {
		i.stats.Failed("event carried no usable text")
		log.Warn(log.CatWebhook, "event carried no usable text", "issue_id", issueID, "action", event.Action)
		i.postAsync(issueID, noTextComment(i.snapshot(ctx)))
		return Ack{Status: StatusError, Message: "event carried no usable text"}
	}

	extractionPath := "command"
	cmd, found := adw.ExtractCommand(text, i.catalog)
	if !found && i.classifier != nil {
		span.AddEvent(tracing.EventClassifierInvoked)
		extractionPath = "classifier"
		result, err := i.classifier.Classify(ctx, text)
		switch {
		case err != nil:
			// Classifier trouble is the daemon's problem, not the user's;
			// the miss comment below carries the guidance.
			log.Warn(log.CatWebhook, "classifier failed", "issue_id", issueID, "error", err)
		case result != nil:
			cmd, found = *result, true
		}
	}
	if !found {
		log.Info(log.CatWebhook, "no workflow command found", "issue_id", issueID)
		i.postAsync(issueID, extractionMissComment(i.catalog, i.snapshot(ctx)))
		return Ack{Status: StatusIgnored, Message: "no workflow command found"}
	}

	if cmd.ADWID == "" {
		id, err := adw.NewADWID()
		if err != nil {
			i.stats.Failed(Excerpt(err.Error()))
			log.ErrorErr(log.CatWebhook, "failed to mint adw_id", err, "issue_id", issueID)
			return Ack{Status: StatusError, Message: "internal error"}
		}
		cmd.ADWID = id
	}

	span.AddEvent(tracing.EventCommandExtracted, trace.WithAttributes(
		attribute.String(tracing.AttrADWID, cmd.ADWID),
		attribute.String(tracing.AttrTemplate, string(cmd.Template)),
		attribute.String(tracing.AttrModelSet, string(cmd.ModelSet)),
		attribute.String(tracing.AttrExtractionPath, extractionPath),
	))
	log.Info(log.CatWebhook, "workflow command extracted",
		"issue_id", issueID, "command", cmd.String(), "adw_id", cmd.ADWID)

	if i.admission != nil {
		if err := i.admission.Admit(ctx, admission.Request{Template: cmd.Template, ADWID: cmd.ADWID}); err != nil {
			var rej *admission.RejectionError
			if errors.As(err, &rej) {
				span.AddEvent(tracing.EventAdmissionChecked, trace.WithAttributes(
					attribute.String(tracing.AttrAdmissionVerdict, "rejected"),
					attribute.String(tracing.AttrAdmissionReason, rej.Reason),
				))
				i.stats.Failed(Excerpt(rej.Reason))
				i.postAsync(issueID, admissionComment(rej))
				return Ack{Status: StatusError, Message: rej.Reason}
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "admission failed")
			i.stats.Failed(Excerpt(err.Error()))
			log.ErrorErr(log.CatWebhook, "admission check failed", err, "issue_id", issueID)
			return Ack{Status: StatusError, Message: "admission failed"}
		}
		span.AddEvent(tracing.EventAdmissionChecked, trace.WithAttributes(
			attribute.String(tracing.AttrAdmissionVerdict, "admitted"),
		))
	}

	if i.dispatcher == nil {
		i.stats.Failed("dispatcher unavailable")
		log.Error(log.CatWebhook, "dispatcher unavailable", "issue_id", issueID)
		return Ack{Status: StatusError, Message: "dispatcher unavailable"}
	}

	// The delivery is acknowledged now; the spawn and its acknowledgement
	// comment run on their own clock.
	i.dispatchAsync(ctx, cmd, issueID)
	return Ack{Status: StatusOK, ADWID: cmd.ADWID}
}

// dispatchAsync spawns the workflow off the request path. The goroutine
// detaches from the request's cancellation but keeps its trace, so the
// spawn shows up as a child span of the ingest.
func (i *Ingestor) dispatchAsync(parent context.Context, cmd adw.Command, issueID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), time.Minute)
	log.SafeGoWithContext(ctx, "webhook-dispatch-"+cmd.ADWID, func(ctx context.Context) {
		defer cancel()

		ctx, span := i.tracer.Start(ctx, tracing.SpanDispatch, trace.WithAttributes(
			attribute.String(tracing.AttrADWID, cmd.ADWID),
			attribute.String(tracing.AttrTemplate, string(cmd.Template)),
		))
		defer span.End()

		record, err := i.dispatcher.Dispatch(ctx, cmd, issueID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "dispatch failed")
			excerpt := Excerpt(err.Error())
			i.stats.Failed(excerpt)
			i.post(ctx, issueID, dispatchFailureComment(excerpt, i.snapshot(ctx)))
			return
		}

		span.AddEvent(tracing.EventProcessSpawned, trace.WithAttributes(
			attribute.Int(tracing.AttrProcessPID, record.PID),
		))
		i.stats.Succeeded(record.ADWID, record.WorkflowTemplate)
		i.post(ctx, issueID, ackComment(record))
	})
}

// snapshot gathers the system-status gauges for a diagnostic comment.
func (i *Ingestor) snapshot(ctx context.Context) admission.Checks {
	if i.admission == nil {
		return admission.Checks{
			QuotaRemaining:  admission.Unknown,
			DiskUsedPercent: admission.Unknown,
			ActiveWorktrees: admission.Unknown,
		}
	}
	return i.admission.Snapshot(ctx)
}

// post delivers a comment, tolerating a missing commenter or issue id.
func (i *Ingestor) post(ctx context.Context, issueID, body string) {
	if i.commenter == nil || issueID == "" {
		return
	}
	if err := i.commenter.PostComment(ctx, issueID, body); err != nil {
		log.ErrorErr(log.CatWebhook, "failed to post comment", err, "issue_id", issueID)
	}
}

// postAsync posts a comment without holding up the webhook response.
func (i *Ingestor) postAsync(issueID, body string) {
	if i.commenter == nil || issueID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), github.DefaultCommentTimeout)
	log.SafeGoWithContext(ctx, "webhook-comment", func(ctx context.Context) {
		defer cancel()
		i.post(ctx, issueID, body)
	})
}
