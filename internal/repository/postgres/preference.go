package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/taskfleet/notifier/internal/model"
	"github.com/taskfleet/notifier/internal/repository"
)

type preferenceRepository struct {
	BaseRepository
}

func NewPreferenceRepository(base BaseRepository) repository.PreferenceRepository {
	return &preferenceRepository{base}
}

func (r *preferenceRepository) Get(ctx context.Context, userID uuid.UUID) (*model.Preference, error) {
	query := `
		SELECT id, user_id, due_date_reminders, task_assignments, task_completions,
			status_changes, priority_changes, daily_summaries, weekly_summaries,
			comment_notifications, reminder_intervals, preferred_channels,
			quiet_hours_enabled, quiet_hours_start, quiet_hours_end, timezone,
			digest_frequency, created_at, updated_at
		FROM notification_preferences
		WHERE user_id = $1
	`
	var pref model.Preference
	if err := r.db.GetContext(ctx, &pref, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	return &pref, nil
}

func (r *preferenceRepository) Upsert(ctx context.Context, pref *model.Preference) error {
	if pref == nil {
		return fmt.Errorf("preference cannot be nil")
	}

	query := `
		INSERT INTO notification_preferences (
			id, user_id, due_date_reminders, task_assignments, task_completions,
			status_changes, priority_changes, daily_summaries, weekly_summaries,
			comment_notifications, reminder_intervals, preferred_channels,
			quiet_hours_enabled, quiet_hours_start, quiet_hours_end, timezone,
			digest_frequency, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19
		)
		ON CONFLICT (user_id) DO UPDATE SET
			due_date_reminders = EXCLUDED.due_date_reminders,
			task_assignments = EXCLUDED.task_assignments,
			task_completions = EXCLUDED.task_completions,
			status_changes = EXCLUDED.status_changes,
			priority_changes = EXCLUDED.priority_changes,
			daily_summaries = EXCLUDED.daily_summaries,
			weekly_summaries = EXCLUDED.weekly_summaries,
			comment_notifications = EXCLUDED.comment_notifications,
			reminder_intervals = EXCLUDED.reminder_intervals,
			preferred_channels = EXCLUDED.preferred_channels,
			quiet_hours_enabled = EXCLUDED.quiet_hours_enabled,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			timezone = EXCLUDED.timezone,
			digest_frequency = EXCLUDED.digest_frequency,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		pref.ID,
		pref.UserID,
		pref.DueDateReminders,
		pref.TaskAssignments,
		pref.TaskCompletions,
		pref.StatusChanges,
		pref.PriorityChanges,
		pref.DailySummaries,
		pref.WeeklySummaries,
		pref.CommentNotifications,
		pref.ReminderIntervals,
		pref.PreferredChannels,
		pref.QuietHoursEnabled,
		pref.QuietHoursStart,
		pref.QuietHoursEnd,
		pref.Timezone,
		pref.DigestFrequency,
		pref.CreatedAt,
		pref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert preferences: %w", err)
	}
	return nil
}

func (r *preferenceRepository) ListUsersWithDigest(ctx context.Context, freq model.DigestFrequency) ([]uuid.UUID, error) {
	var query string
	switch freq {
	case model.DigestDaily:
		query = `SELECT user_id FROM notification_preferences WHERE daily_summaries = TRUE`
	case model.DigestWeekly:
		query = `SELECT user_id FROM notification_preferences WHERE weekly_summaries = TRUE`
	default:
		query = `SELECT user_id FROM notification_preferences WHERE digest_frequency = $1`
		var users []uuid.UUID
		if err := r.db.SelectContext(ctx, &users, query, freq); err != nil {
			return nil, fmt.Errorf("failed to list digest users: %w", err)
		}
		return users, nil
	}

	var users []uuid.UUID
	if err := r.db.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("failed to list digest users: %w", err)
	}
	return users, nil
}
