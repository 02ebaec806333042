// Package notification is the engine's public surface: the task-lifecycle
// layer schedules and cancels through it, user-facing read endpoints list
// and acknowledge through it. It is constructed once at process start and
// passed explicitly; there is no global accessor.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/taskfleet/notifier/internal/model"
	"github.com/taskfleet/notifier/internal/repository"
	"github.com/taskfleet/notifier/internal/service/preference"
	"github.com/taskfleet/notifier/internal/template"
	apperrors "github.com/taskfleet/notifier/pkg/errors"
	"github.com/taskfleet/notifier/pkg/logger"
)

// ScheduleInput is the direct scheduling request. Content is rendered from
// Variables immediately; callers get back the id of a pending record whose
// delivery happens later, on the dispatcher's clock.
type ScheduleInput struct {
	UserID       uuid.UUID              `validate:"required"`
	TaskID       *uuid.UUID
	Type         model.NotificationType `validate:"required"`
	Channel      model.Channel          `validate:"required"`
	Variables    map[string]interface{}
	ScheduledFor time.Time
}

type Service struct {
	repo     repository.NotificationRepository
	prefs    *preference.Service
	tasks    repository.TaskDirectory
	renderer *template.Renderer
	validate *validator.Validate
	logger   *logger.Logger

	now func() time.Time
}

func NewService(
	repo repository.NotificationRepository,
	prefs *preference.Service,
	tasks repository.TaskDirectory,
	renderer *template.Renderer,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:     repo,
		prefs:    prefs,
		tasks:    tasks,
		renderer: renderer,
		validate: validator.New(),
		logger:   log,
		now:      time.Now,
	}
}

// ScheduleNotification validates the recipient and channel, renders content
// immediately, and persists a pending record. Validation failures are
// synchronous and leave no record behind.
func (s *Service) ScheduleNotification(ctx context.Context, input *ScheduleInput) (uuid.UUID, error) {
	if input == nil {
		return uuid.Nil, apperrors.Validation("input cannot be nil", nil)
	}
	if err := s.validate.Struct(input); err != nil {
		return uuid.Nil, apperrors.Validation("invalid scheduling input", err)
	}
	if !input.Type.Valid() {
		return uuid.Nil, apperrors.Validation(fmt.Sprintf("unknown notification type: %s", input.Type), nil)
	}
	if !input.Channel.Valid() {
		return uuid.Nil, apperrors.Validation(fmt.Sprintf("unknown channel: %s", input.Channel), nil)
	}

	user, err := s.tasks.GetUser(ctx, input.UserID)
	if err != nil {
		return uuid.Nil, apperrors.Validation("unknown recipient", err)
	}

	content, err := s.renderer.Render(ctx, input.Type, input.Channel, user.Language, input.Variables)
	if err != nil {
		return uuid.Nil, err
	}

	data, err := json.Marshal(input.Variables)
	if err != nil {
		return uuid.Nil, apperrors.Validation("failed to encode variable bag", err)
	}

	scheduledFor := input.ScheduledFor
	now := s.now()
	if scheduledFor.IsZero() {
		scheduledFor = now
	}

	n := &model.Notification{
		ID:           uuid.New(),
		UserID:       input.UserID,
		TaskID:       input.TaskID,
		Type:         input.Type,
		Channel:      input.Channel,
		Status:       model.NotificationStatusPending,
		Title:        content.Title,
		Message:      content.Message,
		HTMLContent:  content.HTML,
		Data:         data,
		ScheduledFor: scheduledFor,
		MaxRetries:   model.DefaultMaxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return uuid.Nil, apperrors.Store("failed to persist notification", err)
	}

	s.logger.Debug("notification scheduled",
		"id", n.ID.String(), "type", string(n.Type), "channel", string(n.Channel))
	return n.ID, nil
}

// CancelPendingForTask transitions the task's still-pending records to
// cancelled before returning, so a concurrently-running dispatcher tick can
// observe the cancellation. A tick that already holds the record in its
// batch may still send it; that race is accepted.
func (s *Service) CancelPendingForTask(ctx context.Context, taskID uuid.UUID, typ *model.NotificationType) (int64, error) {
	count, err := s.repo.CancelPendingForTask(ctx, taskID, typ)
	if err != nil {
		return 0, apperrors.Store("failed to cancel pending notifications", err)
	}
	if count > 0 {
		s.logger.Info("pending notifications cancelled", "task_id", taskID.String(), "count", count)
	}
	return count, nil
}

// ListNotifications returns the user's records, newest first.
func (s *Service) ListNotifications(ctx context.Context, userID uuid.UUID, opts model.ListOptions) ([]*model.Notification, error) {
	out, err := s.repo.ListForUser(ctx, userID, opts)
	if err != nil {
		return nil, apperrors.Store("failed to list notifications", err)
	}
	return out, nil
}

// MarkAsRead sets read_at once. Re-reading is a no-op; reading someone
// else's notification is an error.
func (s *Service) MarkAsRead(ctx context.Context, id, userID uuid.UUID) error {
	return s.stamp(ctx, id, userID, func(n *model.Notification) bool {
		if n.ReadAt != nil {
			return false
		}
		now := s.now()
		n.ReadAt = &now
		return true
	})
}

// MarkAsClicked records click-through, set at most once.
func (s *Service) MarkAsClicked(ctx context.Context, id, userID uuid.UUID) error {
	return s.stamp(ctx, id, userID, func(n *model.Notification) bool {
		if n.ClickedAt != nil {
			return false
		}
		now := s.now()
		n.ClickedAt = &now
		return true
	})
}

func (s *Service) stamp(ctx context.Context, id, userID uuid.UUID, apply func(*model.Notification) bool) error {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return apperrors.Store("failed to load notification", err)
	}
	if n == nil {
		return apperrors.Validation("notification not found", nil)
	}
	if n.UserID != userID {
		return apperrors.Validation("notification does not belong to user", nil)
	}
	if !apply(n) {
		return nil
	}
	if err := s.repo.Update(ctx, n); err != nil {
		return apperrors.Store("failed to update notification", err)
	}
	return nil
}

// GetStats returns total/unread/per-type counts for the user.
func (s *Service) GetStats(ctx context.Context, userID uuid.UUID) (*model.NotificationStats, error) {
	stats, err := s.repo.Stats(ctx, userID)
	if err != nil {
		return nil, apperrors.Store("failed to aggregate stats", err)
	}
	return stats, nil
}

// UpdatePreferences upserts a partial preference change.
func (s *Service) UpdatePreferences(ctx context.Context, userID uuid.UUID, patch *model.PreferencePatch) error {
	return s.prefs.Update(ctx, userID, patch)
}

// CleanupOld hard-deletes terminal records older than the retention window
// and returns how many were removed.
func (s *Service) CleanupOld(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, apperrors.Validation("retention days must be positive", nil)
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	count, err := s.repo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, apperrors.Store("failed to delete old notifications", err)
	}
	if count > 0 {
		s.logger.Info("old notifications removed", "count", count, "cutoff", cutoff)
	}
	return count, nil
}

// WithClock overrides the service's time source for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.now = clock
	return s
}
