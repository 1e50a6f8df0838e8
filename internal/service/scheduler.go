package service

import (
	"context"
	"sync"
	"time"

	"supportchat/internal/constants"

	"github.com/sirupsen/logrus"
)

// RecordCleaner deletes closed sessions and finished jobs past retention
type RecordCleaner interface {
	CleanupOldRecords(ctx context.Context, retentionDays int) error
}

// FileCleaner deletes stored attachments older than maxAge
type FileCleaner interface {
	CleanupOldFiles(maxAge time.Duration) (int, error)
}

// Scheduler runs retention cleanup on a fixed interval
type Scheduler struct {
	records       RecordCleaner
	files         FileCleaner
	retentionDays int
	intervalHours int
	logger        *logrus.Logger
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewScheduler creates a retention scheduler. files may be nil.
func NewScheduler(records RecordCleaner, files FileCleaner, retentionDays, intervalHours int, logger *logrus.Logger) *Scheduler {
	if intervalHours <= 0 {
		intervalHours = constants.CleanupSchedulerIntervalH
	}
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	return &Scheduler{
		records:       records,
		files:         files,
		retentionDays: retentionDays,
		intervalHours: intervalHours,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start blocks, cleaning once immediately and then every interval
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.intervalHours) * time.Hour)
	defer ticker.Stop()

	s.logger.Info("Starting cleanup scheduler")

	s.RunCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.RunCleanup(ctx)
		}
	}
}

// Stop ends Start. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RunCleanup performs one cleanup pass
func (s *Scheduler) RunCleanup(ctx context.Context) {
	s.logger.WithField("retention_days", s.retentionDays).Info("Running scheduled cleanup")

	if err := s.records.CleanupOldRecords(ctx, s.retentionDays); err != nil {
		s.logger.WithError(err).Error("Failed to cleanup old records")
	} else {
		s.logger.Info("Successfully completed cleanup")
	}

	if s.files == nil {
		return
	}
	removed, err := s.files.CleanupOldFiles(time.Duration(s.retentionDays) * 24 * time.Hour)
	if err != nil {
		s.logger.WithError(err).Error("Failed to cleanup old attachments")
		return
	}
	if removed > 0 {
		s.logger.WithField(LogFieldCount, removed).Info("Removed expired attachments")
	}
}
