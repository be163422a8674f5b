package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/zjrosen/adwd/internal/adw"
)

// historyColumns is the list of columns to select for workflow queries.
const historyColumns = `adw_id, issue_id, created_at, workflow_template, model_set, complexity_level,
	classification_type, status, start_time, completed_at, nl_input, structured_input,
	actual_cost_total, estimated_cost_total, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens,
	retry_count, total_duration_seconds, steps_completed, errors, phase_metrics,
	nl_input_clarity_score, cost_efficiency_score, performance_score, quality_score,
	anomaly_flags, optimization_recommendations, similar_workflow_ids, extra`

// defaultListLimit bounds List pages when the caller does not say.
const defaultListLimit = 50

// historyRepository implements adw.HistoryRepository using SQLite.
type historyRepository struct {
	db *DB
}

// newHistoryRepository creates a new historyRepository instance.
func newHistoryRepository(db *DB) *historyRepository {
	return &historyRepository{db: db}
}

// Ensure historyRepository implements adw.HistoryRepository.
var _ adw.HistoryRepository = (*historyRepository)(nil)

// scanWorkflow scans a row into a WorkflowModel.
func scanWorkflow(scanner interface{ Scan(...any) error }) (*WorkflowModel, error) {
	var model WorkflowModel
	err := scanner.Scan(
		&model.ADWID, &model.IssueID, &model.CreatedAt, &model.WorkflowTemplate,
		&model.ModelSet, &model.ComplexityLevel, &model.ClassificationType, &model.Status,
		&model.StartTime, &model.CompletedAt, &model.NLInput, &model.StructuredInput,
		&model.ActualCostTotal, &model.EstimatedCostTotal,
		&model.InputTokens, &model.OutputTokens, &model.CacheReadTokens, &model.CacheCreationTokens,
		&model.RetryCount, &model.TotalDurationSeconds, &model.StepsCompleted,
		&model.Errors, &model.PhaseMetrics,
		&model.NLInputClarityScore, &model.CostEfficiencyScore, &model.PerformanceScore, &model.QualityScore,
		&model.AnomalyFlags, &model.OptimizationRecommendations, &model.SimilarWorkflowIDs,
		&model.Extra,
	)
	return &model, err
}

// Upsert inserts or replaces the record keyed by adw_id. Every column is a
// pure function of the record, so re-upserting the same record is a no-op
// at the byte level.
func (r *historyRepository) Upsert(record *adw.WorkflowRecord) error {
	model := toWorkflowModel(record)
	return r.db.write(func() error {
		_, err := r.db.conn.Exec(
			`INSERT INTO workflow_history (
				adw_id, issue_id, created_at, workflow_template, model_set, complexity_level,
				classification_type, status, start_time, completed_at, nl_input, structured_input,
				actual_cost_total, estimated_cost_total, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens,
				retry_count, total_duration_seconds, steps_completed, errors, phase_metrics,
				nl_input_clarity_score, cost_efficiency_score, performance_score, quality_score,
				anomaly_flags, optimization_recommendations, similar_workflow_ids, extra
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(adw_id) DO UPDATE SET
				issue_id = excluded.issue_id,
				created_at = excluded.created_at,
				workflow_template = excluded.workflow_template,
				model_set = excluded.model_set,
				complexity_level = excluded.complexity_level,
				classification_type = excluded.classification_type,
				status = excluded.status,
				start_time = excluded.start_time,
				completed_at = excluded.completed_at,
				nl_input = excluded.nl_input,
				structured_input = excluded.structured_input,
				actual_cost_total = excluded.actual_cost_total,
				estimated_cost_total = excluded.estimated_cost_total,
				input_tokens = excluded.input_tokens,
				output_tokens = excluded.output_tokens,
				cache_read_tokens = excluded.cache_read_tokens,
				cache_creation_tokens = excluded.cache_creation_tokens,
				retry_count = excluded.retry_count,
				total_duration_seconds = excluded.total_duration_seconds,
				steps_completed = excluded.steps_completed,
				errors = excluded.errors,
				phase_metrics = excluded.phase_metrics,
				nl_input_clarity_score = excluded.nl_input_clarity_score,
				cost_efficiency_score = excluded.cost_efficiency_score,
				performance_score = excluded.performance_score,
				quality_score = excluded.quality_score,
				anomaly_flags = excluded.anomaly_flags,
				optimization_recommendations = excluded.optimization_recommendations,
				similar_workflow_ids = excluded.similar_workflow_ids,
				extra = excluded.extra`,
			model.ADWID, model.IssueID, model.CreatedAt, model.WorkflowTemplate, model.ModelSet, model.ComplexityLevel,
			model.ClassificationType, model.Status, model.StartTime, model.CompletedAt, model.NLInput, model.StructuredInput,
			model.ActualCostTotal, model.EstimatedCostTotal, model.InputTokens, model.OutputTokens, model.CacheReadTokens, model.CacheCreationTokens,
			model.RetryCount, model.TotalDurationSeconds, model.StepsCompleted, model.Errors, model.PhaseMetrics,
			model.NLInputClarityScore, model.CostEfficiencyScore, model.PerformanceScore, model.QualityScore,
			model.AnomalyFlags, model.OptimizationRecommendations, model.SimilarWorkflowIDs, model.Extra,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert workflow %s: %w", record.ADWID, err)
		}
		return nil
	})
}

// UpdateCosts refreshes only the cost and token columns of an existing row.
// Returns WorkflowNotFoundError if the row does not exist.
func (r *historyRepository) UpdateCosts(record *adw.WorkflowRecord) error {
	model := toWorkflowModel(record)
	return r.db.write(func() error {
		result, err := r.db.conn.Exec(
			`UPDATE workflow_history SET
				actual_cost_total = ?, estimated_cost_total = ?,
				input_tokens = ?, output_tokens = ?, cache_read_tokens = ?, cache_creation_tokens = ?,
				retry_count = ?, phase_metrics = ?
			WHERE adw_id = ?`,
			model.ActualCostTotal, model.EstimatedCostTotal,
			model.InputTokens, model.OutputTokens, model.CacheReadTokens, model.CacheCreationTokens,
			model.RetryCount, model.PhaseMetrics,
			model.ADWID,
		)
		if err != nil {
			return fmt.Errorf("failed to update costs for %s: %w", record.ADWID, err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return &adw.WorkflowNotFoundError{ADWID: record.ADWID}
		}
		return nil
	})
}

// Get retrieves one record by adw_id.
// Returns WorkflowNotFoundError if no matching row exists.
func (r *historyRepository) Get(adwID string) (*adw.WorkflowRecord, error) {
	row := r.db.conn.QueryRow(
		`SELECT `+historyColumns+` FROM workflow_history WHERE adw_id = ?`,
		adwID,
	)
	model, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &adw.WorkflowNotFoundError{ADWID: adwID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow %s: %w", adwID, err)
	}
	return model.toDomain(), nil
}

// GetBatch retrieves records for the given ids in request order. Ids with
// no row are skipped.
func (r *historyRepository) GetBatch(adwIDs []string) ([]*adw.WorkflowRecord, error) {
	if len(adwIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(adwIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(adwIDs))
	for i, id := range adwIDs {
		args[i] = id
	}

	rows, err := r.db.conn.Query(
		`SELECT `+historyColumns+` FROM workflow_history WHERE adw_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to batch get workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*adw.WorkflowRecord, len(adwIDs))
	for rows.Next() {
		model, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow row: %w", err)
		}
		record := model.toDomain()
		byID[record.ADWID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow rows: %w", err)
	}

	// Request order carries meaning for callers (similarity ranking).
	records := make([]*adw.WorkflowRecord, 0, len(byID))
	for _, id := range adwIDs {
		if record, ok := byID[id]; ok {
			records = append(records, record)
		}
	}
	return records, nil
}

// List retrieves a page of records matching the filter plus the total count
// before paging. Results are ordered by created_at descending with adw_id
// as a deterministic tiebreak.
func (r *historyRepository) List(filter adw.Filter) ([]*adw.WorkflowRecord, int, error) {
	where := ` WHERE 1=1`
	var args []any

	if filter.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Template != "" {
		where += ` AND workflow_template = ?`
		args = append(args, string(filter.Template))
	}
	if filter.Search != "" {
		where += ` AND nl_input LIKE ?`
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.conn.QueryRow(
		`SELECT COUNT(*) FROM workflow_history`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count workflows: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + historyColumns + ` FROM workflow_history` + where +
		` ORDER BY created_at DESC, adw_id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := r.db.conn.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*adw.WorkflowRecord
	for rows.Next() {
		model, err := scanWorkflow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan workflow row: %w", err)
		}
		records = append(records, model.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating workflow rows: %w", err)
	}

	return records, total, nil
}

// Analytics computes summary aggregates over the whole history table.
func (r *historyRepository) Analytics() (*adw.HistoryAnalytics, error) {
	analytics := &adw.HistoryAnalytics{
		StatusCounts:   make(map[adw.Status]int),
		TemplateCounts: make(map[adw.Template]int),
	}

	err := r.db.conn.QueryRow(
		`SELECT COUNT(*),
			COALESCE(SUM(actual_cost_total), 0),
			COALESCE(AVG(actual_cost_total), 0),
			COALESCE(AVG(total_duration_seconds), 0),
			COALESCE(AVG(quality_score), 0)
		FROM workflow_history`,
	).Scan(
		&analytics.TotalWorkflows,
		&analytics.TotalCost,
		&analytics.AverageCost,
		&analytics.AverageDurationSeconds,
		&analytics.AverageQualityScore,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute totals: %w", err)
	}

	rows, err := r.db.conn.Query(
		`SELECT status, COUNT(*) FROM workflow_history GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		analytics.StatusCounts[adw.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	templateRows, err := r.db.conn.Query(
		`SELECT workflow_template, COUNT(*) FROM workflow_history GROUP BY workflow_template`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count by template: %w", err)
	}
	defer func() { _ = templateRows.Close() }()
	for templateRows.Next() {
		var template string
		var count int
		if err := templateRows.Scan(&template, &count); err != nil {
			return nil, fmt.Errorf("failed to scan template count: %w", err)
		}
		analytics.TemplateCounts[adw.Template(template)] = count
	}
	if err := templateRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating template counts: %w", err)
	}

	completed := analytics.StatusCounts[adw.StatusCompleted]
	terminal := completed +
		analytics.StatusCounts[adw.StatusFailed] +
		analytics.StatusCounts[adw.StatusStopped]
	if terminal > 0 {
		analytics.SuccessRate = float64(completed) / float64(terminal)
	}

	return analytics, nil
}

// Close releases any resources held by the repository.
// This is a no-op because the connection is owned by the DB struct.
func (r *historyRepository) Close() error {
	return nil
}
