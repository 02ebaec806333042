package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskfleet/notifier/internal/model"
	"github.com/taskfleet/notifier/internal/repository"
	"github.com/taskfleet/notifier/internal/sender"
	"github.com/taskfleet/notifier/internal/service/preference"
	apperrors "github.com/taskfleet/notifier/pkg/errors"
	"github.com/taskfleet/notifier/pkg/logger"
	"github.com/taskfleet/notifier/pkg/metrics"
)

type DispatcherConfig struct {
	BatchSize    int
	PollInterval time.Duration
}

// Dispatcher finds due work and executes it without re-processing. One
// record's failure never aborts the batch, and a slow tick cannot starve
// the next because every tick is bounded by BatchSize.
type Dispatcher struct {
	repo    repository.NotificationRepository
	prefs   *preference.Service
	tasks   repository.TaskDirectory
	senders sender.Registry
	config  DispatcherConfig
	logger  *logger.Logger
	metrics *metrics.Metrics

	now func() time.Time
}

func NewDispatcher(
	repo repository.NotificationRepository,
	prefs *preference.Service,
	tasks repository.TaskDirectory,
	senders sender.Registry,
	config DispatcherConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	return &Dispatcher{
		repo:    repo,
		prefs:   prefs,
		tasks:   tasks,
		senders: senders,
		config:  config,
		logger:  log,
		metrics: m,
		now:     time.Now,
	}
}

// Start runs the poll loop until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", "poll_interval", d.config.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher shutting down")
			return
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				d.logger.Error(err, "dispatcher tick failed")
			}
		}
	}
}

// Tick is one poll-and-send cycle: due pending records, oldest first,
// bounded by the batch size.
func (d *Dispatcher) Tick(ctx context.Context) error {
	timer := prometheus.NewTimer(d.metrics.DispatchLatency)
	defer timer.ObserveDuration()

	now := d.now()
	due, err := d.repo.ListDue(ctx, now, d.config.BatchSize)
	if err != nil {
		d.metrics.DatabaseOperations.WithLabelValues("list_due", "error").Inc()
		return fmt.Errorf("failed to scan due work: %w", err)
	}
	d.metrics.DatabaseOperations.WithLabelValues("list_due", "success").Inc()
	d.metrics.DueQueueDepth.Set(float64(len(due)))

	for _, record := range due {
		if err := d.process(ctx, record, now); err != nil {
			d.logger.Error(err, "record processing failed",
				"id", record.ID.String(),
				"type", string(record.Type),
				"channel", string(record.Channel),
				"retry_count", record.RetryCount)
		}
	}
	return nil
}

func (d *Dispatcher) process(ctx context.Context, record *model.Notification, now time.Time) error {
	// A cancel racing this batch may have already advanced the record.
	if record.Status != model.NotificationStatusPending {
		d.logger.Info("skipping record no longer pending",
			"id", record.ID.String(), "status", string(record.Status))
		return nil
	}

	pref, err := d.prefs.Get(ctx, record.UserID)
	if err != nil {
		// Store trouble: leave the record untouched for the next tick.
		return apperrors.Store("failed to load recipient preferences", err)
	}

	if deferred, err := d.deferForQuietHours(ctx, record, pref, now); err != nil {
		return err
	} else if deferred {
		return nil
	}

	recipient, err := d.tasks.GetUser(ctx, record.UserID)
	if err != nil {
		return d.recordFailure(ctx, record, now, apperrors.Permanent("recipient not found", err))
	}

	snd, ok := d.senders[record.Channel]
	if !ok {
		return d.recordFailure(ctx, record, now, apperrors.Permanent(
			fmt.Sprintf("no sender for channel %s", record.Channel), nil))
	}

	result, sendErr := snd.Send(ctx, record, recipient)

	// An attempt was made, successful or not.
	if record.SentAt == nil {
		record.SentAt = &now
	}

	if sendErr != nil {
		return d.recordFailure(ctx, record, now, sendErr)
	}
	return d.recordSuccess(ctx, record, now, result)
}

// deferForQuietHours pushes a first-attempt record forward to the end of
// the recipient's quiet window. Retries are not deferred (the recipient
// already consented to the attempt window) and overdue alerts are urgent
// enough to break through.
func (d *Dispatcher) deferForQuietHours(ctx context.Context, record *model.Notification, pref *model.Preference, now time.Time) (bool, error) {
	if !pref.QuietHoursEnabled || record.RetryCount > 0 || record.Type == model.TypeOverdueAlert {
		return false, nil
	}

	quiet, err := pref.InQuietHours(now)
	if err != nil {
		d.logger.Warn("unusable quiet-hours config, sending anyway",
			"id", record.ID.String(), "user_id", record.UserID.String(), "error", err.Error())
		return false, nil
	}
	if !quiet {
		return false, nil
	}

	resumeAt, err := pref.NextQuietEnd(now)
	if err != nil {
		return false, nil
	}

	record.ScheduledFor = resumeAt
	if err := d.repo.Update(ctx, record); err != nil {
		return false, apperrors.Store("failed to defer record", err)
	}

	d.metrics.NotificationsDeferred.Inc()
	d.logger.Info("record deferred by quiet hours",
		"id", record.ID.String(), "resume_at", resumeAt)
	return true, nil
}

func (d *Dispatcher) recordSuccess(ctx context.Context, record *model.Notification, now time.Time, result *sender.Result) error {
	target := model.NotificationStatusSent
	if result != nil && result.Delivered {
		target = model.NotificationStatusDelivered
		record.DeliveredAt = &now
	}
	if err := record.Transition(target); err != nil {
		d.logger.Warn("transition refused", "id", record.ID.String(), "error", err.Error())
		return nil
	}
	record.NextRetryAt = nil
	record.ErrorMessage = nil

	if err := d.repo.Update(ctx, record); err != nil {
		return apperrors.Store("failed to record success", err)
	}

	d.metrics.NotificationsDispatched.WithLabelValues(string(record.Channel), string(target)).Inc()
	d.logger.Info("notification dispatched",
		"id", record.ID.String(), "channel", string(record.Channel), "status", string(target))
	return nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, record *model.Notification, now time.Time, sendErr error) error {
	record.RetryCount++
	msg := sendErr.Error()
	record.ErrorMessage = &msg

	exhausted := record.RetryCount >= record.MaxRetries
	// A permanently-failing destination gets at most one retry; more cannot
	// succeed.
	if apperrors.IsPermanent(sendErr) && record.RetryCount >= 2 {
		exhausted = true
	}

	if exhausted {
		if err := record.Transition(model.NotificationStatusFailed); err != nil {
			d.logger.Warn("transition refused", "id", record.ID.String(), "error", err.Error())
			return nil
		}
		record.NextRetryAt = nil
		d.metrics.NotificationsFailed.WithLabelValues(string(record.Channel)).Inc()
	} else {
		retryAt := now.Add(retryDelay(record.RetryCount))
		record.NextRetryAt = &retryAt
		d.metrics.RetryAttempts.WithLabelValues(string(record.Channel)).Inc()
	}

	if err := d.repo.Update(ctx, record); err != nil {
		return apperrors.Store("failed to record failure", err)
	}

	d.logger.Error(sendErr, "delivery attempt failed",
		"id", record.ID.String(),
		"type", string(record.Type),
		"channel", string(record.Channel),
		"retry_count", record.RetryCount,
		"status", string(record.Status))
	return nil
}

// retryDelay is the backoff before the nth retry: 30s, 1m, 2m, ... capped
// at 15m, no jitter so tests are deterministic.
func retryDelay(attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 30 * time.Second
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = 15 * time.Minute
	bo.MaxElapsedTime = 0
	// The constructor latches its default interval; Reset re-latches ours.
	bo.Reset()

	delay := bo.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}

// WithClock overrides the dispatcher's time source for tests.
func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.now = clock
	return d
}
