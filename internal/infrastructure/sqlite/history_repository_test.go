package sqlite

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/adwd/internal/adw"
)

// setupTestRepo creates a new DB and returns the repository for testing.
// The DB is closed when the test completes.
func setupTestRepo(t *testing.T) adw.HistoryRepository {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := NewDB(dbPath)
	require.NoError(t, err, "Failed to create test database")
	t.Cleanup(func() { db.Close() })
	return db.HistoryRepository()
}

// testRecord builds a record with whole-second UTC timestamps so values
// survive the Unix-seconds round-trip through the database.
func testRecord(adwID string, status adw.Status, createdAt time.Time) *adw.WorkflowRecord {
	return &adw.WorkflowRecord{
		ADWID:            adwID,
		IssueID:          "42",
		CreatedAt:        createdAt.Truncate(time.Second).UTC(),
		WorkflowTemplate: adw.TemplatePlanISO,
		ModelSet:         adw.ModelSetBase,
		Status:           status,
	}
}

func TestHistoryRepository_UpsertAndGet(t *testing.T) {
	repo := setupTestRepo(t)

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := time.Date(2026, 3, 1, 10, 6, 52, 0, time.UTC)
	record := &adw.WorkflowRecord{
		ADWID:                "a1b2c3d4",
		IssueID:              "42",
		CreatedAt:            time.Date(2026, 3, 1, 9, 59, 0, 0, time.UTC),
		WorkflowTemplate:     adw.TemplateBuildISO,
		ModelSet:             adw.ModelSetAdvanced,
		ComplexityLevel:      adw.ComplexityComplex,
		ClassificationType:   adw.ClassificationFeature,
		Status:               adw.StatusCompleted,
		StartTime:            &started,
		CompletedAt:          &completed,
		NLInput:              "implement the cache layer",
		StructuredInput:      map[string]any{"priority": "high"},
		ActualCostTotal:      3.25,
		EstimatedCostTotal:   4.0,
		InputTokens:          120000,
		OutputTokens:         8000,
		CacheReadTokens:      60000,
		CacheCreationTokens:  9000,
		RetryCount:           1,
		TotalDurationSeconds: 412.5,
		StepsCompleted:       3,
		Errors:               []adw.WorkflowError{{Category: adw.ErrorCategoryTestFailure, Message: "2 tests failed"}},
		PhaseMetrics:         []adw.PhaseMetric{{PhaseName: "implement", DurationSeconds: 300, Cost: 2.5}},
		NLInputClarityScore:  75,
		CostEfficiencyScore:  60,
		PerformanceScore:     70,
		QualityScore:         55,
		AnomalyFlags:         []string{"cost 2.1x above similar workflows"},
		OptimizationRecommendations: []string{
			"model: switch to base model for simple workflows",
		},
		SimilarWorkflowIDs: []string{"b2c3d4e5", "c3d4e5f6"},
		Extra: map[string]json.RawMessage{
			"branch_name": json.RawMessage(`"feat/cache-layer"`),
		},
	}

	require.NoError(t, repo.Upsert(record))

	found, err := repo.Get("a1b2c3d4")
	require.NoError(t, err, "Get should succeed")
	require.Equal(t, record, found, "round-trip should preserve every field")
}

func TestHistoryRepository_Upsert_Update(t *testing.T) {
	repo := setupTestRepo(t)

	record := testRecord("a1b2c3d4", adw.StatusRunning, time.Now())
	require.NoError(t, repo.Upsert(record))

	record.Status = adw.StatusCompleted
	record.ActualCostTotal = 2.5
	require.NoError(t, repo.Upsert(record))

	found, err := repo.Get("a1b2c3d4")
	require.NoError(t, err)
	require.Equal(t, adw.StatusCompleted, found.Status, "status should be updated")
	require.Equal(t, 2.5, found.ActualCostTotal)

	_, total, err := repo.List(adw.Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, total, "upsert must not create a second row")
}

func TestHistoryRepository_Upsert_Idempotent(t *testing.T) {
	repo := setupTestRepo(t)

	record := testRecord("a1b2c3d4", adw.StatusCompleted, time.Now())
	require.NoError(t, repo.Upsert(record))

	first, err := repo.Get("a1b2c3d4")
	require.NoError(t, err)

	require.NoError(t, repo.Upsert(record))
	second, err := repo.Get("a1b2c3d4")
	require.NoError(t, err)
	require.Equal(t, first, second, "re-upserting the same record must change nothing")
}

func TestHistoryRepository_Get_NotFound(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.Get("deadbeef")
	require.Error(t, err)

	var notFound *adw.WorkflowNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "deadbeef", notFound.ADWID)
}

func TestHistoryRepository_GetBatch(t *testing.T) {
	repo := setupTestRepo(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"aaaa0001", "aaaa0002", "aaaa0003"} {
		require.NoError(t, repo.Upsert(testRecord(id, adw.StatusCompleted, base.Add(time.Duration(i)*time.Minute))))
	}

	records, err := repo.GetBatch([]string{"aaaa0003", "deadbeef", "aaaa0001"})
	require.NoError(t, err)
	require.Len(t, records, 2, "unknown ids are skipped")
	assert.Equal(t, "aaaa0003", records[0].ADWID, "request order must be preserved")
	assert.Equal(t, "aaaa0001", records[1].ADWID)
}

func TestHistoryRepository_GetBatch_Empty(t *testing.T) {
	repo := setupTestRepo(t)

	records, err := repo.GetBatch(nil)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestHistoryRepository_List_OrderedNewestFirst(t *testing.T) {
	repo := setupTestRepo(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"aaaa0001", "aaaa0002", "aaaa0003"} {
		require.NoError(t, repo.Upsert(testRecord(id, adw.StatusCompleted, base.Add(time.Duration(i)*time.Minute))))
	}

	records, total, err := repo.List(adw.Filter{})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, records, 3)
	assert.Equal(t, "aaaa0003", records[0].ADWID, "newest first")
	assert.Equal(t, "aaaa0001", records[2].ADWID)
}

func TestHistoryRepository_List_FilterByStatus(t *testing.T) {
	repo := setupTestRepo(t)

	now := time.Now()
	require.NoError(t, repo.Upsert(testRecord("aaaa0001", adw.StatusCompleted, now)))
	require.NoError(t, repo.Upsert(testRecord("aaaa0002", adw.StatusFailed, now)))
	require.NoError(t, repo.Upsert(testRecord("aaaa0003", adw.StatusCompleted, now)))

	records, total, err := repo.List(adw.Filter{Status: adw.StatusCompleted})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	for _, record := range records {
		assert.Equal(t, adw.StatusCompleted, record.Status)
	}
}

func TestHistoryRepository_List_FilterByTemplate(t *testing.T) {
	repo := setupTestRepo(t)

	now := time.Now()
	plan := testRecord("aaaa0001", adw.StatusCompleted, now)
	build := testRecord("aaaa0002", adw.StatusCompleted, now)
	build.WorkflowTemplate = adw.TemplateBuildISO
	require.NoError(t, repo.Upsert(plan))
	require.NoError(t, repo.Upsert(build))

	records, total, err := repo.List(adw.Filter{Template: adw.TemplateBuildISO})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, "aaaa0002", records[0].ADWID)
}

func TestHistoryRepository_List_Search(t *testing.T) {
	repo := setupTestRepo(t)

	now := time.Now()
	login := testRecord("aaaa0001", adw.StatusCompleted, now)
	login.NLInput = "Fix the login button styling"
	cache := testRecord("aaaa0002", adw.StatusCompleted, now)
	cache.NLInput = "Add a cache layer"
	require.NoError(t, repo.Upsert(login))
	require.NoError(t, repo.Upsert(cache))

	records, total, err := repo.List(adw.Filter{Search: "login"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, "aaaa0001", records[0].ADWID)
}

func TestHistoryRepository_List_Pagination(t *testing.T) {
	repo := setupTestRepo(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("aaaa000%d", i+1)
		require.NoError(t, repo.Upsert(testRecord(id, adw.StatusCompleted, base.Add(time.Duration(i)*time.Minute))))
	}

	page1, total, err := repo.List(adw.Filter{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 5, total, "total counts every match, not the page")
	require.Len(t, page1, 2)
	assert.Equal(t, "aaaa0005", page1[0].ADWID)

	page2, _, err := repo.List(adw.Filter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "aaaa0003", page2[0].ADWID)

	page3, _, err := repo.List(adw.Filter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "aaaa0001", page3[0].ADWID)
}

func TestHistoryRepository_UpdateCosts(t *testing.T) {
	repo := setupTestRepo(t)

	record := testRecord("a1b2c3d4", adw.StatusCompleted, time.Now())
	record.ActualCostTotal = 1.0
	require.NoError(t, repo.Upsert(record))

	record.ActualCostTotal = 2.75
	record.InputTokens = 90000
	record.RetryCount = 2
	record.Status = adw.StatusFailed // must NOT be written by UpdateCosts
	require.NoError(t, repo.UpdateCosts(record))

	found, err := repo.Get("a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, 2.75, found.ActualCostTotal)
	assert.Equal(t, int64(90000), found.InputTokens)
	assert.Equal(t, 2, found.RetryCount)
	assert.Equal(t, adw.StatusCompleted, found.Status, "UpdateCosts must leave status untouched")
}

func TestHistoryRepository_UpdateCosts_NotFound(t *testing.T) {
	repo := setupTestRepo(t)

	record := testRecord("deadbeef", adw.StatusCompleted, time.Now())
	err := repo.UpdateCosts(record)

	var notFound *adw.WorkflowNotFoundError
	require.ErrorAs(t, err, &notFound, "UpdateCosts has no insert path")
}

func TestHistoryRepository_Analytics(t *testing.T) {
	repo := setupTestRepo(t)

	now := time.Now()
	completed1 := testRecord("aaaa0001", adw.StatusCompleted, now)
	completed1.ActualCostTotal = 2.0
	completed1.TotalDurationSeconds = 100
	completed1.QualityScore = 90
	completed2 := testRecord("aaaa0002", adw.StatusCompleted, now)
	completed2.ActualCostTotal = 4.0
	completed2.TotalDurationSeconds = 300
	completed2.QualityScore = 70
	completed2.WorkflowTemplate = adw.TemplateBuildISO
	failed := testRecord("aaaa0003", adw.StatusFailed, now)
	failed.ActualCostTotal = 1.0
	failed.TotalDurationSeconds = 50
	failed.QualityScore = 20
	running := testRecord("aaaa0004", adw.StatusRunning, now)

	for _, record := range []*adw.WorkflowRecord{completed1, completed2, failed, running} {
		require.NoError(t, repo.Upsert(record))
	}

	analytics, err := repo.Analytics()
	require.NoError(t, err)

	assert.Equal(t, 4, analytics.TotalWorkflows)
	assert.Equal(t, 2, analytics.StatusCounts[adw.StatusCompleted])
	assert.Equal(t, 1, analytics.StatusCounts[adw.StatusFailed])
	assert.Equal(t, 1, analytics.StatusCounts[adw.StatusRunning])
	assert.InDelta(t, 2.0/3.0, analytics.SuccessRate, 1e-9, "success rate counts terminal runs only")
	assert.InDelta(t, 7.0, analytics.TotalCost, 1e-9)
	assert.InDelta(t, 7.0/4.0, analytics.AverageCost, 1e-9)
	assert.Equal(t, 3, analytics.TemplateCounts[adw.TemplatePlanISO])
	assert.Equal(t, 1, analytics.TemplateCounts[adw.TemplateBuildISO])
}

func TestHistoryRepository_Analytics_Empty(t *testing.T) {
	repo := setupTestRepo(t)

	analytics, err := repo.Analytics()
	require.NoError(t, err)
	assert.Equal(t, 0, analytics.TotalWorkflows)
	assert.Zero(t, analytics.SuccessRate)
	assert.Empty(t, analytics.StatusCounts)
}

// TestHistoryRepository_UpsertGetProperty drives random records through the
// upsert/get cycle and verifies lossless persistence.
func TestHistoryRepository_UpsertGetProperty(t *testing.T) {
	rapid.Check(t, func(r *rapid.T) {
		repo := setupTestRepo(t)

		numRecords := rapid.IntRange(1, 8).Draw(r, "numRecords")
		ids := make(map[string]*adw.WorkflowRecord, numRecords)
		for i := 0; i < numRecords; i++ {
			id := rapid.StringMatching(`[0-9a-f]{8}`).Draw(r, "adwID")
			record := testRecord(id, adw.StatusCompleted, time.Unix(rapid.Int64Range(1_600_000_000, 1_900_000_000).Draw(r, "createdAt"), 0))
			record.ActualCostTotal = rapid.Float64Range(0, 50).Draw(r, "cost")
			record.RetryCount = rapid.IntRange(0, 5).Draw(r, "retries")
			if record.RetryCount > 0 {
				record.Errors = []adw.WorkflowError{{Category: adw.ErrorCategoryAPIError, Message: "rate limited"}}
			}
			require.NoError(t, repo.Upsert(record))
			ids[id] = record
		}

		_, total, err := repo.List(adw.Filter{})
		require.NoError(t, err)
		require.Equal(t, len(ids), total, "one row per distinct adw_id")

		for id, want := range ids {
			got, err := repo.Get(id)
			require.NoError(t, err)
			require.Equal(t, want, got)
		}
	})
}
