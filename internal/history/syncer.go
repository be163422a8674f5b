// Package history indexes workflow state files into the relational store and
// derives scores, peers, anomaly flags, and recommendations for each record.
package history

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/log"
	"github.com/zjrosen/adwd/internal/paths"
	"github.com/zjrosen/adwd/internal/pubsub"
	"github.com/zjrosen/adwd/internal/tracing"
)

// DefaultSyncInterval is how often the background loop runs when idle.
const DefaultSyncInterval = 30 * time.Second

// resyncPageSize bounds how many completed records a resync loads per query.
const resyncPageSize = 100

// SyncSummary reports one sync or resync pass.
type SyncSummary struct {
	Scanned int           `json:"scanned"`
	Skipped int           `json:"skipped"`
	Synced  int           `json:"synced"`
	Failed  int           `json:"failed"`
	Elapsed time.Duration `json:"elapsed"`
}

// Config wires a Syncer.
type Config struct {
	StateRoot string

	// Interval between background passes. Zero means DefaultSyncInterval.
	Interval time.Duration

	Repo adw.HistoryRepository

	// Events, when set, receives a summary after every pass that wrote rows.
	// The broadcast hub subscribes to push history updates to live clients.
	Events *pubsub.Broker[SyncSummary]

	// Nudge, when set, triggers an extra pass; the state-root file watcher
	// feeds it.
	Nudge <-chan struct{}

	// Tracer records one span per pass when set.
	Tracer trace.Tracer
}

// Syncer drives the scan, enrich, score, persist pipeline.
type Syncer struct {
	scanner   *Scanner
	repo      adw.HistoryRepository
	events    *pubsub.Broker[SyncSummary]
	nudge     <-chan struct{}
	interval  time.Duration
	stateRoot string
	tracer    trace.Tracer

	mu       sync.Mutex // one pass at a time
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSyncer creates a syncer. Call Start for the background loop, or drive
// passes directly with Sync.
func NewSyncer(cfg Config) *Syncer {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("history")
	}
	return &Syncer{
		scanner:   NewScanner(cfg.StateRoot),
		repo:      cfg.Repo,
		events:    cfg.Events,
		nudge:     cfg.Nudge,
		interval:  interval,
		stateRoot: cfg.StateRoot,
		tracer:    tracer,
		done:      make(chan struct{}),
	}
}

// Start launches the background loop: one pass immediately, then on every
// interval tick and watcher nudge.
func (s *Syncer) Start() {
	s.wg.Add(1)
	log.SafeGo("history-syncer", func() {
		defer s.wg.Done()
		s.run()
	})
}

// Stop ends the background loop, letting any pass in flight finish. Safe to
// call more than once.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Syncer) run() {
	s.syncQuietly()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.syncQuietly()
		case <-s.nudge:
			s.syncQuietly()
		}
	}
}

// syncQuietly runs a pass for the background loop. Passes use a background
// context so a tick always completes; cancellation mid-pass is not a thing,
// the next tick simply proceeds from fresh state.
func (s *Syncer) syncQuietly() {
	if _, err := s.Sync(context.Background()); err != nil {
		log.ErrorErr(log.CatHistory, "sync pass failed", err)
	}
}

// Sync runs one full pass: scan state files, merge cost histories, score,
// find peers, and upsert every record. A failure on one record is counted
// and logged, never fatal to the pass. Repeated passes over unchanged inputs
// write byte-identical rows.
func (s *Syncer) Sync(ctx context.Context) (SyncSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, tracing.SpanSync)
	defer span.End()

	start := time.Now()
	records, skipped, err := s.scanner.Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return SyncSummary{Skipped: skipped}, err
	}
	summary := SyncSummary{Scanned: len(records), Skipped: skipped}
	span.AddEvent(tracing.EventScanCompleted, trace.WithAttributes(
		attribute.Int(tracing.AttrSyncScanned, summary.Scanned),
		attribute.Int(tracing.AttrSyncSkipped, summary.Skipped),
	))

	// First pass: per-record enrichment and the peer-independent scores.
	retryCosts := make(map[string]float64, len(records))
	for _, record := range records {
		costs, err := Enrich(s.stateRoot, record)
		if err != nil {
			log.Warn(log.CatHistory, "cost enrichment failed", "adw_id", record.ADWID, "error", err)
		}
		retryCosts[record.ADWID] = costs.RetryCost

		if !record.ComplexityLevel.IsValid() {
			record.ComplexityLevel = DetectComplexity(
				len(strings.Fields(record.NLInput)),
				record.TotalDurationSeconds,
				len(record.Errors),
			)
		}
		record.NLInputClarityScore = ScoreClarity(record.NLInput)
		record.CostEfficiencyScore = ScoreCostEfficiency(record, retryCosts[record.ADWID])
		record.QualityScore = ScoreQuality(record)
	}

	// Second pass: everything that needs the full peer pool in place.
	for _, record := range records {
		var peers []*adw.WorkflowRecord
		var ids []string
		for _, match := range FindSimilar(record, records) {
			peers = append(peers, match.Record)
			ids = append(ids, match.Record.ADWID)
		}
		record.SimilarWorkflowIDs = ids
		record.PerformanceScore = ScorePerformance(record, peers)
		record.AnomalyFlags = DetectAnomalies(record, peers)
		record.OptimizationRecommendations = Recommend(record)
	}
	span.AddEvent(tracing.EventScoringCompleted)

	for _, record := range records {
		if err := s.repo.Upsert(record); err != nil {
			summary.Failed++
			log.ErrorErr(log.CatHistory, "failed to index workflow", err, "adw_id", record.ADWID)
			continue
		}
		summary.Synced++
	}
	span.AddEvent(tracing.EventPersistCompleted)
	span.SetAttributes(
		attribute.Int(tracing.AttrSyncUpserted, summary.Synced),
		attribute.Int(tracing.AttrSyncFailed, summary.Failed),
	)

	summary.Elapsed = time.Since(start)
	if s.events != nil && summary.Synced > 0 {
		s.events.Publish(pubsub.UpdatedEvent, summary)
	}
	log.Info(log.CatHistory, "sync pass complete",
		"scanned", summary.Scanned, "skipped", summary.Skipped,
		"synced", summary.Synced, "failed", summary.Failed,
		"elapsed", summary.Elapsed.Round(time.Millisecond))
	return summary, nil
}

// Resync re-merges cost histories from disk into already-indexed completed
// records, backfilling runs that finished before cost tracking existed. Only
// cost columns are touched; nothing is inserted or rescored.
func (s *Syncer) Resync(ctx context.Context) (SyncSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, tracing.SpanResync)
	defer span.End()

	start := time.Now()
	var summary SyncSummary
	for offset := 0; ; offset += resyncPageSize {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		page, total, err := s.repo.List(adw.Filter{
			Status: adw.StatusCompleted,
			Limit:  resyncPageSize,
			Offset: offset,
		})
		if err != nil {
			return summary, fmt.Errorf("listing completed workflows: %w", err)
		}

		for _, record := range page {
			summary.Scanned++
			entries, err := adw.ReadCostHistory(paths.CostHistoryPath(s.stateRoot, record.ADWID))
			if err != nil {
				summary.Failed++
				log.Warn(log.CatHistory, "cost history unreadable", "adw_id", record.ADWID, "error", err)
				continue
			}
			costs := SummarizeCost(entries)
			if len(costs.Phases) == 0 {
				summary.Skipped++
				continue
			}
			ApplyCost(record, costs)
			if err := s.repo.UpdateCosts(record); err != nil {
				summary.Failed++
				log.ErrorErr(log.CatHistory, "failed to update costs", err, "adw_id", record.ADWID)
				continue
			}
			summary.Synced++
		}

		if len(page) == 0 || offset+len(page) >= total {
			break
		}
	}

	summary.Elapsed = time.Since(start)
	span.SetAttributes(
		attribute.Int(tracing.AttrSyncScanned, summary.Scanned),
		attribute.Int(tracing.AttrSyncUpserted, summary.Synced),
		attribute.Int(tracing.AttrSyncSkipped, summary.Skipped),
		attribute.Int(tracing.AttrSyncFailed, summary.Failed),
	)
	log.Info(log.CatHistory, "resync complete",
		"scanned", summary.Scanned, "updated", summary.Synced,
		"skipped", summary.Skipped, "failed", summary.Failed)
	return summary, nil
}

// Analytics returns aggregate stats over the indexed history.
func (s *Syncer) Analytics() (*adw.HistoryAnalytics, error) {
	return s.repo.Analytics()
}
