package service

import (
	"context"
	"sync"
	"time"

	"supportchat/internal/constants"
	"supportchat/internal/metrics"

	"github.com/sirupsen/logrus"
)

// StaleJobCounter counts unfinished notification jobs not touched since before
type StaleJobCounter interface {
	CountStaleJobs(ctx context.Context, before time.Time) (int, error)
}

// StaleJobsGauge is the metric set by JobMonitor
const StaleJobsGauge = "notification_jobs_stale"

// JobMonitor reports alert jobs that have stopped making progress
type JobMonitor struct {
	db             StaleJobCounter
	checkInterval  time.Duration
	staleThreshold time.Duration
	logger         *logrus.Logger
	now            func() time.Time
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// NewJobMonitor creates a monitor. A job is stale after staleThreshold
// without an update.
func NewJobMonitor(db StaleJobCounter, checkInterval, staleThreshold time.Duration, logger *logrus.Logger) *JobMonitor {
	if checkInterval <= 0 {
		checkInterval = time.Duration(constants.DefaultJobMonitorIntervalSec) * time.Second
	}
	return &JobMonitor{
		db:             db,
		checkInterval:  checkInterval,
		staleThreshold: staleThreshold,
		logger:         logger,
		now:            time.Now,
		stopCh:         make(chan struct{}),
	}
}

// Start blocks until ctx is done or Stop is called
func (m *JobMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.logger.WithFields(logrus.Fields{
		"check_interval":  m.checkInterval,
		"stale_threshold": m.staleThreshold,
	}).Info("Starting notification job monitor")

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.CheckStaleJobs(ctx)
		}
	}
}

// Stop ends Start. It is safe to call more than once.
func (m *JobMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// CheckStaleJobs updates the stale job gauge and returns the count
func (m *JobMonitor) CheckStaleJobs(ctx context.Context) int {
	count, err := m.db.CountStaleJobs(ctx, m.now().Add(-m.staleThreshold))
	if err != nil {
		m.logger.WithError(err).Error("Failed to check for stale notification jobs")
		return 0
	}
	metrics.SetGauge(StaleJobsGauge, float64(count), nil, "Notification jobs without progress")
	if count > 0 {
		m.logger.WithFields(logrus.Fields{
			"stale_count": count,
			"threshold":   m.staleThreshold,
		}).Warn("Notification jobs stuck without delivery progress")
	}
	return count
}
