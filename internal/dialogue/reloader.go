package dialogue

import (
	"context"
	"sync"
	"time"

	"supportchat/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Reloader refreshes a Holder from a Source on an interval
type Reloader struct {
	holder   *Holder
	source   Source
	interval time.Duration
	apology  string
	logger   *logrus.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewReloader creates a reloader. apology is the reply used while the
// source cannot be loaded.
func NewReloader(holder *Holder, source Source, interval time.Duration, apology string, logger *logrus.Logger) *Reloader {
	return &Reloader{
		holder:   holder,
		source:   source,
		interval: interval,
		apology:  apology,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Reload loads the source once. On failure the degraded table is
// installed and the error returned.
func (r *Reloader) Reload(ctx context.Context) error {
	rules, err := r.source.LoadRules(ctx)
	if err != nil {
		r.holder.Swap(DegradedTable(r.apology))
		metrics.IncrementCounter(metrics.DialogueReloadFailed, map[string]string{"source": r.source.Name()}, "Failed rule table loads")
		metrics.SetGauge(metrics.DialogueRulesLoaded, 0, nil, "Matchable keyword rules in the active table")
		r.logger.WithError(err).WithField("source", r.source.Name()).Error("Failed to load response rules, answering with apology")
		return err
	}

	table := NewTable(rules).WithSource(r.source.Name())
	prev := r.holder.Swap(table)
	metrics.SetGauge(metrics.DialogueRulesLoaded, float64(table.Len()), nil, "Matchable keyword rules in the active table")

	fields := logrus.Fields{"source": table.Source(), "rules": table.Len()}
	if prev != nil && prev.Degraded() {
		r.logger.WithFields(fields).Info("Response rules recovered")
	} else {
		r.logger.WithFields(fields).Debug("Response rules loaded")
	}
	return nil
}

// Start loads immediately unless a usable table is already installed, then
// reloads on every tick until ctx is done or Stop is called
func (r *Reloader) Start(ctx context.Context) {
	if current := r.holder.Load(); current == nil || current.Degraded() {
		_ = r.Reload(ctx)
	}
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			_ = r.Reload(ctx)
		}
	}
}

// Stop ends the reload loop
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}
