package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/adwd/internal/admission"
	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/tracing"
)

// recordingTracer returns a tracer whose finished spans land in the exporter.
func recordingTracer(t *testing.T) (trace.Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider.Tracer("webhook-test"), exporter
}

// waitForSpan polls until a span with the name is exported. The dispatch
// span ends on a SafeGo goroutine, after the acknowledgement comment posts.
func waitForSpan(t *testing.T, exporter *tracetest.InMemoryExporter, name string) tracetest.SpanStub {
	t.Helper()
	var found tracetest.SpanStub
	require.Eventually(t, func() bool {
		for _, span := range exporter.GetSpans() {
			if span.Name == name {
				found = span
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "no span named %q was recorded", name)
	return found
}

func spanAttr(span tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes {
		if kv.Key == attribute.Key(key) {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func eventAttr(span tracetest.SpanStub, event, key string) (attribute.Value, bool) {
	for _, ev := range span.Events {
		if ev.Name != event {
			continue
		}
		for _, kv := range ev.Attributes {
			if kv.Key == attribute.Key(key) {
				return kv.Value, true
			}
		}
	}
	return attribute.Value{}, false
}

func hasEvent(span tracetest.SpanStub, name string) bool {
	for _, ev := range span.Events {
		if ev.Name == name {
			return true
		}
	}
	return false
}

func requireStringAttr(t *testing.T, span tracetest.SpanStub, key, want string) {
	t.Helper()
	value, ok := spanAttr(span, key)
	require.True(t, ok, "missing attribute %s", key)
	assert.Equal(t, want, value.AsString(), key)
}

func TestIngestor_Tracing_IngestAndDispatchSpans(t *testing.T) {
	tracer, exporter := recordingTracer(t)
	h := newTestIngestor(t, func(cfg *Config) { cfg.Tracer = tracer })
	h.installWorkflow(t, adw.TemplatePlanISO, "exit 0")

	ack := h.ingestor.HandleRequest(jsonRequest(commentEvent(t, 42, "adw_plan_iso with base model")))
	require.Equal(t, StatusOK, ack.Status)

	dispatched := waitForSpan(t, exporter, tracing.SpanDispatch)
	ingest := waitForSpan(t, exporter, tracing.SpanIngest)

	requireStringAttr(t, ingest, tracing.AttrWebhookEvent, "issue_comment")
	requireStringAttr(t, ingest, tracing.AttrWebhookAction, "created")
	requireStringAttr(t, ingest, tracing.AttrIssueID, "42")

	adwID, ok := eventAttr(ingest, tracing.EventCommandExtracted, tracing.AttrADWID)
	require.True(t, ok, "extraction event should carry the minted id")
	assert.Equal(t, ack.ADWID, adwID.AsString())
	template, ok := eventAttr(ingest, tracing.EventCommandExtracted, tracing.AttrTemplate)
	require.True(t, ok)
	assert.Equal(t, "plan-iso", template.AsString())
	modelSet, ok := eventAttr(ingest, tracing.EventCommandExtracted, tracing.AttrModelSet)
	require.True(t, ok)
	assert.Equal(t, "base", modelSet.AsString())
	path, ok := eventAttr(ingest, tracing.EventCommandExtracted, tracing.AttrExtractionPath)
	require.True(t, ok)
	assert.Equal(t, "command", path.AsString())
	assert.False(t, hasEvent(ingest, tracing.EventClassifierInvoked), "explicit commands skip the classifier")

	verdict, ok := eventAttr(ingest, tracing.EventAdmissionChecked, tracing.AttrAdmissionVerdict)
	require.True(t, ok)
	assert.Equal(t, "admitted", verdict.AsString())

	// The spawn runs off the request path but stays inside the delivery's
	// trace.
	assert.Equal(t, ingest.SpanContext.TraceID(), dispatched.SpanContext.TraceID())
	assert.Equal(t, ingest.SpanContext.SpanID(), dispatched.Parent.SpanID())
	requireStringAttr(t, dispatched, tracing.AttrADWID, ack.ADWID)
	pid, ok := eventAttr(dispatched, tracing.EventProcessSpawned, tracing.AttrProcessPID)
	require.True(t, ok, "spawn event should carry the pid")
	assert.Positive(t, pid.AsInt64())
}

func TestIngestor_Tracing_ClassifierPath(t *testing.T) {
	tracer, exporter := recordingTracer(t)
	stub := &stubClassifier{cmd: &adw.Command{Template: adw.TemplatePatchISO, ModelSet: adw.ModelSetBase}}
	h := newTestIngestor(t, func(cfg *Config) {
		cfg.Tracer = tracer
		cfg.Classifier = stub
	})
	h.installWorkflow(t, adw.TemplatePatchISO, "exit 0")

	ack := h.ingestor.HandleRequest(jsonRequest(commentEvent(t, 11, "the login button is broken on mobile")))
	require.Equal(t, StatusOK, ack.Status)

	waitForSpan(t, exporter, tracing.SpanDispatch)
	ingest := waitForSpan(t, exporter, tracing.SpanIngest)

	assert.True(t, hasEvent(ingest, tracing.EventClassifierInvoked))
	path, ok := eventAttr(ingest, tracing.EventCommandExtracted, tracing.AttrExtractionPath)
	require.True(t, ok)
	assert.Equal(t, "classifier", path.AsString())
}

func TestIngestor_Tracing_RejectionVerdict(t *testing.T) {
	tracer, exporter := recordingTracer(t)
	h := newTestIngestor(t, func(cfg *Config) {
		cfg.Tracer = tracer
		cfg.Admission = admission.NewController(admission.Config{
			Catalog:   cfg.Catalog,
			Oracle:    stubOracle{remaining: 0},
			StateRoot: t.TempDir(),
		})
	})
	h.installWorkflow(t, adw.TemplatePlanISO, "exit 0")

	ack := h.ingestor.HandleRequest(jsonRequest(commentEvent(t, 15, "adw_plan_iso")))
	require.Equal(t, StatusError, ack.Status)

	ingest := waitForSpan(t, exporter, tracing.SpanIngest)
	verdict, ok := eventAttr(ingest, tracing.EventAdmissionChecked, tracing.AttrAdmissionVerdict)
	require.True(t, ok)
	assert.Equal(t, "rejected", verdict.AsString())
	reason, ok := eventAttr(ingest, tracing.EventAdmissionChecked, tracing.AttrAdmissionReason)
	require.True(t, ok)
	assert.Contains(t, reason.AsString(), "quota")

	// A rejected delivery never reaches the dispatcher.
	for _, span := range exporter.GetSpans() {
		assert.NotEqual(t, tracing.SpanDispatch, span.Name)
	}
}

func TestIngestor_Tracing_IrrelevantEventMakesNoSpan(t *testing.T) {
	tracer, exporter := recordingTracer(t)
	h := newTestIngestor(t, func(cfg *Config) { cfg.Tracer = tracer })

	req := jsonRequest(eventPayload(t, "closed", 5, "adw_plan_iso", ""))
	ack := h.ingestor.HandleRequest(req)
	require.Equal(t, StatusIgnored, ack.Status)

	assert.Empty(t, exporter.GetSpans())
}
