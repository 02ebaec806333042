package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/taskfleet/notifier/internal/model"
)

// All repository interfaces in one file
type (
	// NotificationRepository is the single source of truth for notification
	// lifecycle state. The scheduler creates records, the dispatcher mutates
	// them; nothing else writes.
	NotificationRepository interface {
		Create(ctx context.Context, n *model.Notification) error
		Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
		Update(ctx context.Context, n *model.Notification) error
		// ListDue returns pending records whose scheduled_for (and retry
		// backoff, if any) has elapsed, oldest first, bounded by limit.
		ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error)
		ListForUser(ctx context.Context, userID uuid.UUID, opts model.ListOptions) ([]*model.Notification, error)
		// CancelPendingForTask transitions matching pending records to
		// cancelled and returns how many were affected. A nil type matches
		// every type.
		CancelPendingForTask(ctx context.Context, taskID uuid.UUID, typ *model.NotificationType) (int64, error)
		// ExistsForTaskSince reports whether any record of the given type was
		// created for the task at or after the given instant. Backs the
		// one-overdue-alert-per-task-per-day invariant.
		ExistsForTaskSince(ctx context.Context, taskID uuid.UUID, typ model.NotificationType, since time.Time) (bool, error)
		Stats(ctx context.Context, userID uuid.UUID) (*model.NotificationStats, error)
		// DeleteTerminalBefore hard-deletes terminal records created before
		// the cutoff and returns the count removed.
		DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}

	PreferenceRepository interface {
		// Get returns nil, nil when the user has never saved preferences.
		Get(ctx context.Context, userID uuid.UUID) (*model.Preference, error)
		Upsert(ctx context.Context, pref *model.Preference) error
		// ListUsersWithDigest returns users opted in to the given digest
		// cadence (the matching summary toggle on and frequency set).
		ListUsersWithDigest(ctx context.Context, freq model.DigestFrequency) ([]uuid.UUID, error)
	}

	TemplateRepository interface {
		Get(ctx context.Context, typ model.NotificationType, channel model.Channel, language string) (*model.Template, error)
		Upsert(ctx context.Context, tpl *model.Template) error
	}

	// TaskDirectory is the read-only view of the surrounding task system.
	TaskDirectory interface {
		GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error)
		GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
		// ListOverdueTasks returns tasks whose due date has passed and whose
		// status is not terminal.
		ListOverdueTasks(ctx context.Context, now time.Time) ([]*model.Task, error)
		// CountsForUser aggregates due/overdue/completed counts for the
		// digest window [from, to).
		CountsForUser(ctx context.Context, userID uuid.UUID, from, to time.Time) (*model.TaskCounts, error)
	}
)
