package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"supportchat/internal/constants"
	apperrors "supportchat/internal/errors"
	"supportchat/internal/metrics"
	"supportchat/internal/models"
	"supportchat/internal/privacy"
	"supportchat/internal/retry"
	"supportchat/internal/tracing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

// Sender delivers one attempt of a job to the staff alert channel
type Sender interface {
	Send(ctx context.Context, job *models.NotificationJob) error
}

// JobRecorder persists every status transition of a job
type JobRecorder interface {
	SaveNotificationJob(ctx context.Context, job *models.NotificationJob) error
}

// JobLoader returns jobs left unfinished by a previous process
type JobLoader interface {
	ListUnfinishedJobs(ctx context.Context) ([]*models.NotificationJob, error)
}

// DeferredError is returned by a Sender that refused an attempt without
// trying it, such as a webhook behind an open circuit breaker. The job is
// rescheduled after RetryAfter and keeps its attempt budget.
type DeferredError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *DeferredError) Error() string {
	return "delivery deferred: " + e.Cause.Error()
}

func (e *DeferredError) Unwrap() error {
	return e.Cause
}

// ExhaustionHandler is called once for every job that ends FAILED
type ExhaustionHandler func(ctx context.Context, job *models.NotificationJob)

// Options configures a Dispatcher. Zero values fall back to the defaults in
// internal/constants.
type Options struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	TickInterval time.Duration
	Recorder     JobRecorder
	OnExhausted  ExhaustionHandler
}

// Stats is a snapshot of the dispatcher's queue
type Stats struct {
	Pending   int    `json:"pending"`
	Sending   int    `json:"sending"`
	Retrying  int    `json:"retrying"`
	Submitted uint64 `json:"submitted"`
	Sent      uint64 `json:"sent"`
	Failed    uint64 `json:"failed"`
}

// Dispatcher delivers staff notifications at least once. A single loop
// launches due jobs; each attempt runs in its own goroutine and a job is
// never attempted twice concurrently.
type Dispatcher struct {
	sender      Sender
	recorder    JobRecorder
	onExhausted ExhaustionHandler
	backoff     *retry.Backoff
	tick        time.Duration
	logger      *logrus.Logger
	now         func() time.Time

	mu        sync.Mutex
	jobs      map[string]*models.NotificationJob
	submitted uint64
	sent      uint64
	failed    uint64

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	inflight sync.WaitGroup
}

// New creates a dispatcher. Call Start to begin delivering.
func New(sender Sender, opts Options, logger *logrus.Logger) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = constants.DefaultNotifyMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Duration(constants.DefaultNotifyBaseDelayMs) * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = time.Duration(constants.DefaultNotifyMaxDelayMs) * time.Millisecond
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Duration(constants.DefaultNotifyTickIntervalMs) * time.Millisecond
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Dispatcher{
		sender:      sender,
		recorder:    opts.Recorder,
		onExhausted: opts.OnExhausted,
		backoff:     retry.NewBackoff(retry.DeliveryBackoffConfig(opts.BaseDelay, opts.MaxDelay, opts.MaxAttempts)),
		tick:        opts.TickInterval,
		logger:      logger,
		now:         time.Now,
		jobs:        make(map[string]*models.NotificationJob),
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
}

// SetExhaustionHandler replaces the handler called when a job ends FAILED.
// It must be called before Start.
func (d *Dispatcher) SetExhaustionHandler(h ExhaustionHandler) {
	d.mu.Lock()
	d.onExhausted = h
	d.mu.Unlock()
}

// Submit queues a notification and returns its job ID without waiting for
// delivery. The payload must marshal to a JSON object; nil means {}.
func (d *Dispatcher) Submit(ctx context.Context, notificationType models.NotificationType, payload interface{}, sessionID string) (string, error) {
	if !notificationType.Valid() {
		return "", apperrors.NewValidationError("type", "unknown notification type")
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return "", err
	}

	now := d.now()
	job := &models.NotificationJob{
		ID:            uuid.NewString(),
		Type:          notificationType,
		SessionID:     sessionID,
		Payload:       raw,
		MaxAttempts:   d.backoff.MaxAttempts(),
		NextAttemptAt: now,
		Status:        models.JobPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		Revision:      1,
	}
	if notificationType == models.NotificationEmergency {
		job.Priority = "high"
	}

	// The PENDING row must exist before the loop can claim the job
	d.record(ctx, job.Clone())

	d.mu.Lock()
	d.jobs[job.ID] = job
	d.submitted++
	d.updateQueueGaugeLocked()
	d.mu.Unlock()

	metrics.IncrementCounter(metrics.NotificationsQueued, map[string]string{"type": string(notificationType)}, "Staff notifications queued")
	d.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"type":     notificationType,
		"session":  privacy.MaskSessionID(sessionID),
		"priority": job.Priority,
	}).Debug("Notification queued")

	d.signal()
	return job.ID, nil
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}

	var raw []byte
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "notification payload is not serializable")
		}
		raw = b
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, apperrors.NewValidationError("payload", "must be a JSON object")
	}
	return append(json.RawMessage(nil), raw...), nil
}

// Recover re-queues jobs that a previous process left unfinished. An attempt
// that was in flight when the process stopped is treated as not sent.
func (d *Dispatcher) Recover(ctx context.Context, loader JobLoader) (int, error) {
	jobs, err := loader.ListUnfinishedJobs(ctx)
	if err != nil {
		return 0, err
	}

	now := d.now()
	d.mu.Lock()
	recovered := 0
	for _, job := range jobs {
		if _, exists := d.jobs[job.ID]; exists || job.Status.Terminal() {
			continue
		}
		j := job.Clone()
		j.Status = models.JobPending
		j.MaxAttempts = d.backoff.MaxAttempts()
		if j.NextAttemptAt.IsZero() || j.NextAttemptAt.Before(now) {
			j.NextAttemptAt = now
		}
		d.jobs[j.ID] = j
		recovered++
	}
	d.updateQueueGaugeLocked()
	d.mu.Unlock()

	if recovered > 0 {
		d.logger.WithField("count", recovered).Info("Recovered unfinished notification jobs")
		d.signal()
	}
	return recovered, nil
}

// Start runs the scheduling loop until ctx is cancelled or Stop is called
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	d.logger.WithFields(logrus.Fields{
		"tick_interval": d.tick,
		"max_attempts":  d.backoff.MaxAttempts(),
		"base_delay":    d.backoff.Config().InitialDelay,
	}).Info("Starting notification dispatcher")

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-d.wake:
		case <-ticker.C:
		}
		d.launchDue(ctx)
	}
}

// Stop ends the scheduling loop. Attempts already in flight keep running;
// use Drain to wait for them.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// Drain waits for in-flight attempts to finish or for ctx to end
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) launchDue(ctx context.Context) {
	// Attempts outlive a cancelled loop so shutdown can drain them
	attemptCtx := context.WithoutCancel(ctx)
	for _, job := range d.claimDue() {
		d.inflight.Add(1)
		go func(job *models.NotificationJob) {
			defer d.inflight.Done()
			d.attempt(attemptCtx, job)
		}(job)
	}
}

// claimDue marks every due PENDING job SENDING and returns copies of them
func (d *Dispatcher) claimDue() []*models.NotificationJob {
	now := d.now()

	d.mu.Lock()
	var due []*models.NotificationJob
	for _, job := range d.jobs {
		if job.Status != models.JobPending || job.NextAttemptAt.After(now) {
			continue
		}
		job.Status = models.JobSending
		job.UpdatedAt = now
		job.Revision++
		due = append(due, job.Clone())
	}
	d.mu.Unlock()

	return due
}

func (d *Dispatcher) attempt(ctx context.Context, job *models.NotificationJob) {
	attemptNo := job.AttemptCount + 1
	ctx, span := tracing.StartSpan(ctx, "dispatcher.attempt",
		tracing.AttrJobID.String(job.ID),
		tracing.AttrJobType.String(string(job.Type)),
		tracing.AttrSessionID.String(job.SessionID),
		tracing.AttrAttempt.Int(attemptNo),
	)
	defer span.End()

	d.record(ctx, job)

	labels := map[string]string{"type": string(job.Type)}
	metrics.IncrementCounter(metrics.NotificationAttempts, labels, "Staff notification delivery attempts")

	start := time.Now()
	err := d.sender.Send(ctx, job)
	metrics.RecordTimer(metrics.NotificationLatency, time.Since(start), labels, "Staff notification attempt duration")

	if err == nil {
		d.succeed(ctx, job.ID)
		tracing.SetSpanStatus(ctx, codes.Ok, "delivered")
		return
	}

	var deferred *DeferredError
	if errors.As(err, &deferred) {
		d.postpone(ctx, job.ID, deferred)
		return
	}

	tracing.RecordError(ctx, err)
	d.fail(ctx, job.ID, err)
}

// postpone returns a refused attempt to PENDING without spending an attempt
func (d *Dispatcher) postpone(ctx context.Context, jobID string, deferred *DeferredError) {
	wait := deferred.RetryAfter
	if wait < d.tick {
		wait = d.tick
	}
	now := d.now()

	d.mu.Lock()
	job, ok := d.jobs[jobID]
	if !ok {
		d.mu.Unlock()
		return
	}
	job.Status = models.JobPending
	job.LastError = deferred.Error()
	job.NextAttemptAt = now.Add(wait)
	job.UpdatedAt = now
	job.Revision++
	snapshot := job.Clone()
	d.mu.Unlock()

	metrics.IncrementCounter(metrics.NotificationsDeferred, map[string]string{"type": string(snapshot.Type)}, "Staff notification attempts refused by the alert channel")
	d.logger.WithError(deferred.Cause).WithFields(logrus.Fields{
		"job_id":          snapshot.ID,
		"type":            snapshot.Type,
		"attempt_count":   snapshot.AttemptCount,
		"next_attempt_at": snapshot.NextAttemptAt,
	}).Warn("Alert channel unavailable, notification deferred")

	d.record(ctx, snapshot)
}

func (d *Dispatcher) succeed(ctx context.Context, jobID string) {
	d.mu.Lock()
	job, ok := d.jobs[jobID]
	if !ok {
		d.mu.Unlock()
		return
	}
	job.AttemptCount++
	job.Status = models.JobSent
	job.LastError = ""
	job.UpdatedAt = d.now()
	job.Revision++
	delete(d.jobs, jobID)
	d.sent++
	snapshot := job.Clone()
	d.updateQueueGaugeLocked()
	d.mu.Unlock()

	metrics.IncrementCounter(metrics.NotificationsSent, map[string]string{"type": string(snapshot.Type)}, "Staff notifications delivered")
	d.logger.WithFields(logrus.Fields{
		"job_id":  snapshot.ID,
		"type":    snapshot.Type,
		"attempt": snapshot.AttemptCount,
	}).Info("Notification delivered")

	d.record(ctx, snapshot)
}

func (d *Dispatcher) fail(ctx context.Context, jobID string, cause error) {
	now := d.now()

	d.mu.Lock()
	job, ok := d.jobs[jobID]
	if !ok {
		d.mu.Unlock()
		return
	}
	job.AttemptCount++
	job.LastError = cause.Error()
	job.UpdatedAt = now

	if d.backoff.Exhausted(job.AttemptCount) {
		job.Status = models.JobFailed
		job.Revision++
		delete(d.jobs, jobID)
		d.failed++
		snapshot := job.Clone()
		handler := d.onExhausted
		d.updateQueueGaugeLocked()
		d.mu.Unlock()

		metrics.IncrementCounter(metrics.NotificationsFailed, map[string]string{"type": string(snapshot.Type)}, "Staff notifications that exhausted retries")
		d.logger.WithError(cause).WithFields(logrus.Fields{
			"job_id":   snapshot.ID,
			"type":     snapshot.Type,
			"attempts": snapshot.AttemptCount,
			"session":  privacy.MaskSessionID(snapshot.SessionID),
		}).Error("Notification delivery failed permanently")

		d.record(ctx, snapshot)
		if handler != nil {
			handler(ctx, snapshot)
		}
		return
	}

	job.Status = models.JobRetrying
	job.Revision++
	retrying := job.Clone()

	job.NextAttemptAt = now.Add(d.backoff.GetNextDelay(job.AttemptCount))
	job.Status = models.JobPending
	job.Revision++
	pending := job.Clone()
	d.mu.Unlock()

	d.logger.WithError(cause).WithFields(logrus.Fields{
		"job_id":          pending.ID,
		"type":            pending.Type,
		"attempt":         pending.AttemptCount,
		"next_attempt_at": pending.NextAttemptAt,
	}).Warn("Notification delivery failed, will retry")

	d.record(ctx, retrying)
	d.record(ctx, pending)
}

func (d *Dispatcher) record(ctx context.Context, job *models.NotificationJob) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.SaveNotificationJob(ctx, job); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"job_id": job.ID,
			"status": job.Status,
		}).Warn("Failed to record notification job")
	}
}

// updateQueueGaugeLocked must be called with d.mu held
func (d *Dispatcher) updateQueueGaugeLocked() {
	metrics.SetGauge(metrics.NotificationQueueSize, float64(len(d.jobs)), nil, "Unfinished staff notification jobs")
}

// Job returns a copy of an unfinished job
func (d *Dispatcher) Job(jobID string) (*models.NotificationJob, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	job, ok := d.jobs[jobID]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// Stats returns queue counts per status and lifetime totals
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Stats{Submitted: d.submitted, Sent: d.sent, Failed: d.failed}
	for _, job := range d.jobs {
		switch job.Status {
		case models.JobPending:
			s.Pending++
		case models.JobSending:
			s.Sending++
		case models.JobRetrying:
			s.Retrying++
		}
	}
	return s
}
