package adw

import "fmt"

// Filter provides filtering options for listing workflow history.
type Filter struct {
	// Status filters records by workflow status. Empty includes all.
	Status Status

	// Template filters records by workflow template. Empty includes all.
	Template Template

	// Search matches a substring of nl_input, case-insensitive.
	Search string

	// Limit caps the page size. 0 means the repository default.
	Limit int

	// Offset skips that many records for pagination.
	Offset int
}

// HistoryAnalytics summarizes the indexed workflow history.
type HistoryAnalytics struct {
	TotalWorkflows int            `json:"total_workflows"`
	StatusCounts   map[Status]int `json:"status_counts"`

	// SuccessRate is completed over all terminal runs, in [0,1]. Zero when
	// nothing has finished yet.
	SuccessRate float64 `json:"success_rate"`

	TotalCost              float64 `json:"total_cost"`
	AverageCost            float64 `json:"average_cost"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`
	AverageQualityScore    float64 `json:"average_quality_score"`

	TemplateCounts map[Template]int `json:"template_counts"`
}

// WorkflowNotFoundError indicates a lookup for an adw_id with no indexed row.
type WorkflowNotFoundError struct {
	ADWID string
}

// Error implements the error interface.
func (e *WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("workflow %s not found in history", e.ADWID)
}

// HistoryRepository defines the persistence interface for workflow history.
// Implementations may use SQLite or in-memory storage.
type HistoryRepository interface {
	// Upsert inserts or replaces the record keyed by adw_id. The indexer is
	// the authoritative writer; repeated upserts of the same record are
	// idempotent.
	Upsert(record *WorkflowRecord) error

	// UpdateCosts refreshes only the cost and token columns of an existing
	// record. Returns WorkflowNotFoundError when the row does not exist;
	// there is no insert path here.
	UpdateCosts(record *WorkflowRecord) error

	// Get retrieves one record by adw_id.
	// Returns WorkflowNotFoundError if no matching record exists.
	Get(adwID string) (*WorkflowRecord, error)

	// GetBatch retrieves records for the given ids, preserving the request
	// order. Unknown ids are skipped, not errors.
	GetBatch(adwIDs []string) ([]*WorkflowRecord, error)

	// List retrieves a page of records matching the filter plus the total
	// count before paging. Results are ordered by created_at descending.
	List(filter Filter) ([]*WorkflowRecord, int, error)

	// Analytics computes summary aggregates over the whole history.
	Analytics() (*HistoryAnalytics, error)

	// Close releases any resources held by the repository.
	Close() error
}
