// Package scheduler translates task/user events and preference data into
// pending notification records. It decides when a notification should fire;
// the dispatcher decides how it gets delivered.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskfleet/notifier/internal/model"
	"github.com/taskfleet/notifier/internal/repository"
	"github.com/taskfleet/notifier/internal/service/preference"
	"github.com/taskfleet/notifier/internal/template"
	"github.com/taskfleet/notifier/pkg/logger"
	"github.com/taskfleet/notifier/pkg/metrics"
)

type Service struct {
	notifications repository.NotificationRepository
	prefs         *preference.Service
	tasks         repository.TaskDirectory
	renderer      *template.Renderer
	logger        *logger.Logger
	metrics       *metrics.Metrics

	now func() time.Time
}

func NewService(
	notifications repository.NotificationRepository,
	prefs *preference.Service,
	tasks repository.TaskDirectory,
	renderer *template.Renderer,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		notifications: notifications,
		prefs:         prefs,
		tasks:         tasks,
		renderer:      renderer,
		logger:        log,
		metrics:       m,
		now:           time.Now,
	}
}

// ScheduleDueReminders writes one pending reminder per configured interval
// per preferred channel. Intervals whose trigger time has already passed are
// skipped: no retroactive reminders. On a due-date edit the caller cancels
// the task's pending reminders first, then calls this again.
func (s *Service) ScheduleDueReminders(ctx context.Context, taskID, userID uuid.UUID) error {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to resolve task: %w", err)
	}
	if task.DueDate == nil || task.Status.Terminal() {
		return nil
	}

	pref, err := s.prefs.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !pref.DueDateReminders {
		return nil
	}

	user, err := s.tasks.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient: %w", err)
	}

	now := s.now()
	due := *task.DueDate
	var batch []*model.Notification
	for _, interval := range pref.Intervals() {
		offset, err := interval.Duration()
		if err != nil {
			continue
		}
		fireAt := due.Add(-offset)
		if !fireAt.After(now) {
			continue
		}

		vars := map[string]interface{}{
			"task_title": task.Title,
			"due_date":   due.Format(time.RFC1123),
			"due_in":     interval.Label(),
			"urgency":    string(model.ClassifyUrgency(fireAt, due)),
		}
		for _, channel := range pref.Channels() {
			n, err := s.compose(ctx, user, &task.ID, model.TypeDueReminder, channel, vars, fireAt)
			if err != nil {
				return err
			}
			batch = append(batch, n)
		}
	}
	return s.persist(ctx, batch)
}

// ScheduleAssignmentNotification fires immediately, gated by the assignee's
// task_assignments preference.
func (s *Service) ScheduleAssignmentNotification(ctx context.Context, taskID, assigneeID, assignerID uuid.UUID) error {
	pref, err := s.prefs.Get(ctx, assigneeID)
	if err != nil {
		return err
	}
	if !pref.TaskAssignments {
		return nil
	}

	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to resolve task: %w", err)
	}
	assignee, err := s.tasks.GetUser(ctx, assigneeID)
	if err != nil {
		return fmt.Errorf("failed to resolve assignee: %w", err)
	}
	assigner, err := s.tasks.GetUser(ctx, assignerID)
	if err != nil {
		return fmt.Errorf("failed to resolve assigner: %w", err)
	}

	vars := map[string]interface{}{
		"task_title":    task.Title,
		"assigner_name": assigner.Name,
	}
	now := s.now()
	var batch []*model.Notification
	for _, channel := range pref.Channels() {
		n, err := s.compose(ctx, assignee, &task.ID, model.TypeAssignment, channel, vars, now)
		if err != nil {
			return err
		}
		batch = append(batch, n)
	}
	return s.persist(ctx, batch)
}

// ScheduleCompletionNotification notifies the task creator when someone else
// completes their task.
func (s *Service) ScheduleCompletionNotification(ctx context.Context, taskID, completedBy uuid.UUID) error {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to resolve task: %w", err)
	}
	if task.CreatedBy == completedBy {
		return nil
	}

	pref, err := s.prefs.Get(ctx, task.CreatedBy)
	if err != nil {
		return err
	}
	if !pref.TaskCompletions {
		return nil
	}

	creator, err := s.tasks.GetUser(ctx, task.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to resolve creator: %w", err)
	}
	completer, err := s.tasks.GetUser(ctx, completedBy)
	if err != nil {
		return fmt.Errorf("failed to resolve completer: %w", err)
	}

	vars := map[string]interface{}{
		"task_title":     task.Title,
		"completer_name": completer.Name,
	}
	now := s.now()
	var batch []*model.Notification
	for _, channel := range pref.Channels() {
		n, err := s.compose(ctx, creator, &task.ID, model.TypeCompletion, channel, vars, now)
		if err != nil {
			return err
		}
		batch = append(batch, n)
	}
	return s.persist(ctx, batch)
}

// SweepOverdueAlerts scans for overdue non-terminal tasks and enqueues at
// most one overdue alert per task per calendar day, no matter how often the
// sweep runs. One bad task never aborts the sweep.
func (s *Service) SweepOverdueAlerts(ctx context.Context) error {
	now := s.now()
	overdue, err := s.tasks.ListOverdueTasks(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list overdue tasks: %w", err)
	}

	for _, task := range overdue {
		if err := s.sweepOne(ctx, task, now); err != nil {
			s.logger.Error(err, "overdue sweep: task skipped", "task_id", task.ID.String())
		}
	}
	return nil
}

func (s *Service) sweepOne(ctx context.Context, task *model.Task, now time.Time) error {
	ownerID := task.Owner()
	pref, err := s.prefs.Get(ctx, ownerID)
	if err != nil {
		return err
	}
	if !pref.DueDateReminders {
		return nil
	}

	dayStart := startOfDay(now, pref.Timezone)
	exists, err := s.notifications.ExistsForTaskSince(ctx, task.ID, model.TypeOverdueAlert, dayStart)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	owner, err := s.tasks.GetUser(ctx, ownerID)
	if err != nil {
		return err
	}

	vars := map[string]interface{}{
		"task_title": task.Title,
		"due_date":   task.DueDate.Format(time.RFC1123),
	}
	return s.enqueue(ctx, owner, &task.ID, model.TypeOverdueAlert, pref.PrimaryChannel(), vars, now)
}

// GenerateDailySummary enqueues one digest for the user, or nothing at all
// when there is nothing to report.
func (s *Service) GenerateDailySummary(ctx context.Context, userID uuid.UUID) error {
	return s.generateSummary(ctx, userID, model.TypeDailySummary)
}

// GenerateWeeklySummary is the trailing-seven-days variant.
func (s *Service) GenerateWeeklySummary(ctx context.Context, userID uuid.UUID) error {
	return s.generateSummary(ctx, userID, model.TypeWeeklySummary)
}

func (s *Service) generateSummary(ctx context.Context, userID uuid.UUID, typ model.NotificationType) error {
	pref, err := s.prefs.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !pref.AllowsType(typ) {
		return nil
	}

	now := s.now()
	from := startOfDay(now, pref.Timezone)
	to := from.Add(24 * time.Hour)
	if typ == model.TypeWeeklySummary {
		from = from.AddDate(0, 0, -6)
	}

	counts, err := s.tasks.CountsForUser(ctx, userID, from, to)
	if err != nil {
		return fmt.Errorf("failed to aggregate task counts: %w", err)
	}
	if counts.Empty() {
		s.metrics.DigestsSuppressed.Inc()
		s.logger.Debug("digest suppressed: nothing to report", "user_id", userID.String(), "type", string(typ))
		return nil
	}

	user, err := s.tasks.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient: %w", err)
	}

	vars := map[string]interface{}{
		"due_today": counts.DueToday,
		"overdue":   counts.Overdue,
		"completed": counts.Completed,
	}
	return s.enqueue(ctx, user, nil, typ, pref.PrimaryChannel(), vars, now)
}

// RunDailySummaries fans out over every user opted in to daily digests.
func (s *Service) RunDailySummaries(ctx context.Context) error {
	return s.runSummaries(ctx, model.DigestDaily, s.GenerateDailySummary)
}

// RunWeeklySummaries fans out over every user opted in to weekly digests.
func (s *Service) RunWeeklySummaries(ctx context.Context) error {
	return s.runSummaries(ctx, model.DigestWeekly, s.GenerateWeeklySummary)
}

func (s *Service) runSummaries(ctx context.Context, freq model.DigestFrequency, generate func(context.Context, uuid.UUID) error) error {
	users, err := s.prefs.ListUsersWithDigest(ctx, freq)
	if err != nil {
		return fmt.Errorf("failed to list digest users: %w", err)
	}
	for _, userID := range users {
		if err := generate(ctx, userID); err != nil {
			s.logger.Error(err, "digest generation failed", "user_id", userID.String(), "frequency", string(freq))
		}
	}
	return nil
}

// enqueue composes and writes one pending record.
func (s *Service) enqueue(ctx context.Context, user *model.User, taskID *uuid.UUID, typ model.NotificationType, channel model.Channel, vars map[string]interface{}, at time.Time) error {
	n, err := s.compose(ctx, user, taskID, typ, channel, vars, at)
	if err != nil {
		return err
	}
	return s.persist(ctx, []*model.Notification{n})
}

// compose renders content now (a snapshot; retries resend it verbatim) and
// builds the pending record without writing it.
func (s *Service) compose(ctx context.Context, user *model.User, taskID *uuid.UUID, typ model.NotificationType, channel model.Channel, vars map[string]interface{}, at time.Time) (*model.Notification, error) {
	content, err := s.renderer.Render(ctx, typ, channel, user.Language, vars)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("failed to encode variable bag: %w", err)
	}

	now := s.now()
	return &model.Notification{
		ID:           uuid.New(),
		UserID:       user.ID,
		TaskID:       taskID,
		Type:         typ,
		Channel:      channel,
		Status:       model.NotificationStatusPending,
		Title:        content.Title,
		Message:      content.Message,
		HTMLContent:  content.HTML,
		Data:         data,
		ScheduledFor: at,
		MaxRetries:   model.DefaultMaxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// persist writes a fully-composed batch. Fan-out callers compose every
// record before persisting any, so a render failure on a later channel or
// interval leaves no partial fan-out behind.
func (s *Service) persist(ctx context.Context, batch []*model.Notification) error {
	for _, n := range batch {
		if err := s.notifications.Create(ctx, n); err != nil {
			return fmt.Errorf("failed to persist notification: %w", err)
		}
		s.metrics.NotificationsScheduled.WithLabelValues(string(n.Type)).Inc()
		s.logger.Debug("notification scheduled",
			"id", n.ID.String(), "type", string(n.Type), "channel", string(n.Channel), "scheduled_for", n.ScheduledFor)
	}
	return nil
}

// startOfDay is midnight of the current calendar day in the given timezone,
// falling back to UTC when the zone is unknown.
func startOfDay(now time.Time, timezone string) time.Time {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// WithClock overrides the scheduler's time source. Tests use it to pin now.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.now = clock
	return s
}
