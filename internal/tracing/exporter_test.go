package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// exportOneSpan runs fn inside a span wired straight to a FileExporter at
// path and returns the decoded records.
func exportOneSpan(t *testing.T, path, name string, fn func(span trace.Span)) []SpanRecord {
	t.Helper()

	exporter, err := NewFileExporter(path)
	require.NoError(t, err)
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	_, span := provider.Tracer("test").Start(context.Background(), name)
	if fn != nil {
		fn(span)
	}
	span.End()

	require.NoError(t, provider.Shutdown(context.Background()))
	return readSpanRecords(t, path)
}

func readSpanRecords(t *testing.T, path string) []SpanRecord {
	t.Helper()

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var records []SpanRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record SpanRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record), "every line must be valid JSON")
		records = append(records, record)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestNewFileExporter_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "deep", "traces.jsonl")

	exporter, err := NewFileExporter(path)
	require.NoError(t, err)
	defer exporter.Shutdown(context.Background())

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestFileExporter_WritesOneLinePerSpan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")

	records := exportOneSpan(t, path, "webhook.ingest", func(span trace.Span) {
		span.SetAttributes(
			attribute.String(AttrADWID, "0a1b2c3d"),
			attribute.Int("attempt", 2),
		)
		span.AddEvent(EventCommandExtracted, trace.WithAttributes(
			attribute.String(AttrTemplate, "plan-iso"),
		))
		span.SetStatus(codes.Ok, "")
	})

	require.Len(t, records, 1)
	record := records[0]
	assert.Equal(t, "webhook.ingest", record.Name)
	assert.Equal(t, "INTERNAL", record.Kind)
	assert.Equal(t, "OK", record.Status)
	assert.NotEmpty(t, record.TraceID)
	assert.NotEmpty(t, record.SpanID)
	assert.Empty(t, record.ParentSpanID, "root span has no parent")
	assert.GreaterOrEqual(t, record.DurationMs, 0.0)

	assert.Equal(t, "0a1b2c3d", record.Attributes[AttrADWID])
	assert.Equal(t, float64(2), record.Attributes["attempt"], "JSON numbers decode as float64")

	require.Len(t, record.Events, 1)
	assert.Equal(t, EventCommandExtracted, record.Events[0].Name)
	assert.Equal(t, "plan-iso", record.Events[0].Attributes[AttrTemplate])
}

func TestFileExporter_RecordsErrorStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")

	records := exportOneSpan(t, path, "history.sync", func(span trace.Span) {
		span.SetStatus(codes.Error, "scan failed")
	})

	require.Len(t, records, 1)
	assert.Equal(t, "ERROR", records[0].Status)
	assert.Equal(t, "scan failed", records[0].StatusMsg)
}

func TestFileExporter_RecordsParentage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")

	exporter, err := NewFileExporter(path)
	require.NoError(t, err)
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	tracer := provider.Tracer("test")

	ctx, parent := tracer.Start(context.Background(), "webhook.ingest")
	_, child := tracer.Start(ctx, "webhook.dispatch")
	child.End()
	parent.End()
	require.NoError(t, provider.Shutdown(context.Background()))

	records := readSpanRecords(t, path)
	require.Len(t, records, 2)

	// The child ends first, so it is written first.
	byName := map[string]SpanRecord{}
	for _, r := range records {
		byName[r.Name] = r
	}
	assert.Equal(t, byName["webhook.ingest"].SpanID, byName["webhook.dispatch"].ParentSpanID)
	assert.Equal(t, byName["webhook.ingest"].TraceID, byName["webhook.dispatch"].TraceID)
}

func TestFileExporter_AppendsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")

	exportOneSpan(t, path, "first", nil)
	records := exportOneSpan(t, path, "second", nil)

	require.Len(t, records, 2, "a restart must not truncate the trace file")
	assert.Equal(t, "first", records[0].Name)
	assert.Equal(t, "second", records[1].Name)
}

func TestFileExporter_ShutdownIsFinal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")

	exporter, err := NewFileExporter(path)
	require.NoError(t, err)

	require.NoError(t, exporter.Shutdown(context.Background()))
	require.NoError(t, exporter.Shutdown(context.Background()), "second shutdown is a no-op")

	err = exporter.ExportSpans(context.Background(), make([]sdktrace.ReadOnlySpan, 1))
	require.Error(t, err, "exports after shutdown must fail")
}
