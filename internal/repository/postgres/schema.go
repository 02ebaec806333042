package postgres

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS notifications (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL,
    task_id UUID,
    type TEXT NOT NULL,
    channel TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    title TEXT NOT NULL,
    message TEXT NOT NULL,
    html_content TEXT,
    data JSONB,
    scheduled_for TIMESTAMPTZ NOT NULL,
    next_retry_at TIMESTAMPTZ,
    sent_at TIMESTAMPTZ,
    delivered_at TIMESTAMPTZ,
    read_at TIMESTAMPTZ,
    clicked_at TIMESTAMPTZ,
    retry_count INT NOT NULL DEFAULT 0,
    max_retries INT NOT NULL DEFAULT 3,
    error_message TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_notifications_user_id
    ON notifications (user_id);

-- Backs the dispatcher's due-work scan.
CREATE INDEX IF NOT EXISTS idx_notifications_due
    ON notifications (scheduled_for, status);

-- Backs per-task cancellation and the overdue-alert dedup check.
CREATE INDEX IF NOT EXISTS idx_notifications_task_id
    ON notifications (task_id);

CREATE TABLE IF NOT EXISTS notification_preferences (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL UNIQUE,
    due_date_reminders BOOLEAN NOT NULL DEFAULT TRUE,
    task_assignments BOOLEAN NOT NULL DEFAULT TRUE,
    task_completions BOOLEAN NOT NULL DEFAULT TRUE,
    status_changes BOOLEAN NOT NULL DEFAULT TRUE,
    priority_changes BOOLEAN NOT NULL DEFAULT TRUE,
    daily_summaries BOOLEAN NOT NULL DEFAULT TRUE,
    weekly_summaries BOOLEAN NOT NULL DEFAULT TRUE,
    comment_notifications BOOLEAN NOT NULL DEFAULT TRUE,
    reminder_intervals TEXT[] NOT NULL DEFAULT '{1day,1hour}',
    preferred_channels TEXT[] NOT NULL DEFAULT '{in_app,email}',
    quiet_hours_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    quiet_hours_start TEXT NOT NULL DEFAULT '22:00',
    quiet_hours_end TEXT NOT NULL DEFAULT '08:00',
    timezone TEXT NOT NULL DEFAULT 'UTC',
    digest_frequency TEXT NOT NULL DEFAULT 'daily',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS notification_templates (
    id UUID PRIMARY KEY,
    type TEXT NOT NULL,
    channel TEXT NOT NULL,
    language TEXT NOT NULL DEFAULT 'en',
    subject TEXT NOT NULL,
    message TEXT NOT NULL,
    html_body TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (type, channel, language)
);
`

// Migrate applies the engine's schema. The tasks/users tables belong to the
// surrounding system and are read-only from here, so they are not created.
func Migrate(db *sqlx.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
