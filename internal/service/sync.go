package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"notion_mirror/internal/config"
	"notion_mirror/internal/domain"
)

const maxRetryDelay = 10 * time.Second

// SyncService mirrors one Notion database into local storage. Runs for the
// same database are serialized: a sync requested while one is in flight
// returns a no-op result instead of racing on meta writes.
type SyncService struct {
	source    Source
	records   RecordStore
	syncMeta  SyncMetaStore
	txManager TransactionManager
	publisher Publisher
	logger    *slog.Logger
	config    config.SyncConfig

	inFlight  sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func NewSyncService(
	source Source,
	records RecordStore,
	syncMeta SyncMetaStore,
	txManager TransactionManager,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *SyncService {
	return &SyncService{
		source:    source,
		records:   records,
		syncMeta:  syncMeta,
		txManager: txManager,
		publisher: publisher,
		logger:    logger.With("database_id", source.DatabaseID()),
		config:    cfg,
		done:      make(chan struct{}),
	}
}

// Close cancels any pending retry backoff. Safe to call more than once.
func (s *SyncService) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Sync runs one sync of the mirrored database. forceFull refetches everything
// and overwrites unconditionally. Transient fetch failures are retried in the
// background with exponential backoff; the returned result then has Retrying
// set and the final outcome lands in the sync metadata.
func (s *SyncService) Sync(ctx context.Context, forceFull bool) (*domain.SyncResult, error) {
	return s.sync(ctx, forceFull, 0)
}

func (s *SyncService) sync(ctx context.Context, forceFull bool, attempt int) (*domain.SyncResult, error) {
	if !s.inFlight.TryLock() {
		s.logger.Info("sync already in flight, skipping")
		return &domain.SyncResult{DatabaseID: s.source.DatabaseID(), InFlight: true}, nil
	}
	defer s.inFlight.Unlock()

	startTime := time.Now()
	logger := s.logger.With("run_id", uuid.NewString(), "attempt", attempt+1)

	prior, err := s.syncMeta.Get(ctx, s.source.DatabaseID())
	if err != nil {
		return nil, fmt.Errorf("read sync meta: %w", err)
	}

	mode, since := computeSyncMode(prior, forceFull, startTime, s.config.FullSyncAfter)

	logger.Info("starting sync",
		"mode", mode,
		"force_full", forceFull,
		"since", since,
	)

	if err := s.markRunning(ctx, prior); err != nil {
		return nil, fmt.Errorf("mark sync running: %w", err)
	}

	records, err := s.source.FetchChanges(ctx, since)
	if err != nil {
		return s.handleFailure(ctx, logger, prior, forceFull, attempt, fmt.Errorf("fetch changes: %w", err))
	}

	logger.Info("fetched records", "count", len(records))

	result := &domain.SyncResult{
		DatabaseID: s.source.DatabaseID(),
		Mode:       mode,
		Fetched:    len(records),
	}

	if err := s.reconcile(ctx, logger, records, forceFull, result); err != nil {
		return s.handleFailure(ctx, logger, prior, forceFull, attempt, err)
	}

	if mode == domain.ModeFull {
		keep := make([]string, len(records))
		for i := range records {
			keep[i] = records[i].NotionID
		}
		archived, err := s.records.ArchiveMissing(ctx, s.source.DatabaseID(), keep)
		if err != nil {
			return s.handleFailure(ctx, logger, prior, forceFull, attempt, fmt.Errorf("archive missing: %w", err))
		}
		result.Archived = archived
	}

	if err := s.markSuccess(ctx, prior, result); err != nil {
		return result, fmt.Errorf("update sync meta: %w", err)
	}

	result.Duration = time.Since(startTime)

	logger.Info("sync completed",
		"mode", mode,
		"fetched", result.Fetched,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"archived", result.Archived,
		"published", result.Published,
		"duration", result.Duration,
	)

	return result, nil
}

// reconcile upserts fetched records: new or strictly newer records are
// written (everything, on a force sync), the rest are skipped. One bad record
// fails alone; the batch continues.
func (s *SyncService) reconcile(ctx context.Context, logger *slog.Logger, records []domain.Record, force bool, result *domain.SyncResult) error {
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, len(records))
	for i := range records {
		ids[i] = records[i].NotionID
	}

	existing, err := s.records.GetExistingByNotionIDs(ctx, s.source.DatabaseID(), ids)
	if err != nil {
		return fmt.Errorf("read existing records: %w", err)
	}

	for i := range records {
		record := &records[i]
		storedLastMod, exists := existing[record.NotionID]

		if exists && !force && !record.LastModified.After(storedLastMod) {
			result.Skipped++
			continue
		}

		if err := s.saveRecord(ctx, record, force); err != nil {
			logger.Warn("failed to save record",
				"notion_id", record.NotionID,
				"title", record.Title,
				"error", err,
			)
			result.Failed++
			continue
		}

		if exists {
			result.Updated++
		} else {
			result.Inserted++
		}

		if s.publisher != nil {
			if err := s.publisher.Publish(ctx, record, !exists); err != nil {
				logger.Warn("failed to publish record event",
					"notion_id", record.NotionID,
					"error", err,
				)
			} else {
				result.Published++
			}
		}
	}

	return nil
}

func (s *SyncService) saveRecord(ctx context.Context, record *domain.Record, force bool) error {
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.records.Upsert(txCtx, record, force); err != nil {
			return fmt.Errorf("upsert record: %w", err)
		}
		return nil
	})
}

// markRunning flips status to running without touching the watermark, so a
// failed run never advances it past the last successful sync.
func (s *SyncService) markRunning(ctx context.Context, prior *domain.SyncMeta) error {
	meta := domain.SyncMeta{DatabaseID: s.source.DatabaseID()}
	if prior != nil {
		meta = *prior
	}
	meta.Status = domain.StatusRunning
	meta.RecordCount = 0
	meta.ErrorMessage = nil
	return s.syncMeta.Update(ctx, &meta)
}

// markSuccess advances the watermark to sync completion time, not to any
// record's timestamp: changes landing while the sync ran stay inside the next
// incremental window.
func (s *SyncService) markSuccess(ctx context.Context, prior *domain.SyncMeta, result *domain.SyncResult) error {
	meta := domain.SyncMeta{DatabaseID: s.source.DatabaseID()}
	if prior != nil {
		meta = *prior
	}
	meta.Status = domain.StatusSuccess
	meta.LastSyncTime = time.Now()
	meta.RecordCount = result.Fetched
	meta.ErrorMessage = nil
	meta.TotalSynced += int64(result.Inserted + result.Updated)
	return s.syncMeta.Update(ctx, &meta)
}

func (s *SyncService) handleFailure(ctx context.Context, logger *slog.Logger, prior *domain.SyncMeta, forceFull bool, attempt int, syncErr error) (*domain.SyncResult, error) {
	logger.Error("sync failed", "error", syncErr)

	if attempt < s.config.MaxRetries && domain.IsTransient(syncErr) {
		next := attempt + 1
		delay := retryDelay(next)
		logger.Info("scheduling sync retry", "delay", delay, "next_attempt", next+1)

		go s.retryAfter(delay, forceFull, next)

		return &domain.SyncResult{
			DatabaseID:  s.source.DatabaseID(),
			Retrying:    true,
			NextAttempt: next,
		}, nil
	}

	msg := fmt.Sprintf("%v (after %d attempts)", syncErr, attempt+1)
	meta := domain.SyncMeta{DatabaseID: s.source.DatabaseID()}
	if prior != nil {
		meta = *prior
	}
	meta.Status = domain.StatusError
	meta.RecordCount = 0
	meta.ErrorMessage = &msg
	if err := s.syncMeta.Update(ctx, &meta); err != nil {
		logger.Error("failed to record sync error", "error", err)
	}

	return nil, syncErr
}

// retryAfter waits out the backoff and reruns the sync. The wait is detached
// from the triggering caller's context (which may already be done by then)
// and is cancelled only by Close; a dropped retry is covered by the next
// scheduled sync.
func (s *SyncService) retryAfter(delay time.Duration, forceFull bool, attempt int) {
	select {
	case <-s.done:
		s.logger.Warn("sync retry cancelled, service closing")
		return
	case <-time.After(delay):
	}

	if _, err := s.sync(context.Background(), forceFull, attempt); err != nil {
		s.logger.Error("sync retry failed", "attempt", attempt+1, "error", err)
	}
}

// computeSyncMode picks full or incremental. Full when forced, never synced,
// the previous run failed, or the watermark is older than fullSyncAfter.
// Incremental otherwise, with since set to the watermark.
func computeSyncMode(prior *domain.SyncMeta, forceFull bool, now time.Time, fullSyncAfter time.Duration) (domain.SyncMode, time.Time) {
	switch {
	case forceFull,
		prior == nil,
		prior.Status == domain.StatusError,
		prior.LastSyncTime.Before(now.Add(-fullSyncAfter)):
		return domain.ModeFull, time.Time{}
	default:
		return domain.ModeIncremental, prior.LastSyncTime
	}
}

// retryDelay is the backoff before the given attempt: 1s doubled per attempt,
// capped at 10s.
func retryDelay(attempt int) time.Duration {
	delay := time.Second << attempt
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}
