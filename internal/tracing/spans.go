package tracing

// Span names shared across packages. HTTP server spans are named by the
// middleware from the request itself.
const (
	SpanIngest   = "webhook.ingest"
	SpanDispatch = "webhook.dispatch"
	SpanSync     = "history.sync"
	SpanResync   = "history.resync"
)

// Attribute keys for the ingest and sync spans. One name per fact, reused
// wherever that fact appears.
const (
	AttrADWID          = "adw.id"
	AttrTemplate       = "workflow.template"
	AttrModelSet       = "workflow.model_set"
	AttrIssueID        = "webhook.issue_id"
	AttrWebhookEvent   = "webhook.event"
	AttrWebhookAction  = "webhook.action"
	AttrExtractionPath = "webhook.extraction_path"

	AttrAdmissionVerdict = "admission.verdict"
	AttrAdmissionReason  = "admission.reason"

	AttrProcessPID = "dispatch.pid"

	AttrSyncScanned  = "history.scanned"
	AttrSyncUpserted = "history.upserted"
	AttrSyncSkipped  = "history.skipped"
	AttrSyncFailed   = "history.failed"
)

// Span event names. Events mark pipeline phases inside one span.
const (
	EventCommandExtracted  = "command_extracted"
	EventClassifierInvoked = "classifier_invoked"
	EventAdmissionChecked  = "admission_checked"
	EventProcessSpawned    = "process_spawned"

	EventScanCompleted    = "scan_completed"
	EventScoringCompleted = "scoring_completed"
	EventPersistCompleted = "persist_completed"
)
