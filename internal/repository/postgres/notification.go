package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/taskfleet/notifier/internal/model"
	"github.com/taskfleet/notifier/internal/repository"
)

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

const notificationColumns = `
	id, user_id, task_id, type, channel, status, title, message, html_content,
	data, scheduled_for, next_retry_at, sent_at, delivered_at, read_at,
	clicked_at, retry_count, max_retries, error_message, created_at, updated_at
`

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	if n == nil {
		return fmt.Errorf("notification cannot be nil")
	}

	query := `
		INSERT INTO notifications (
			id, user_id, task_id, type, channel, status, title, message,
			html_content, data, scheduled_for, retry_count, max_retries,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`
	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.TaskID,
		n.Type,
		n.Channel,
		n.Status,
		n.Title,
		n.Message,
		n.HTMLContent,
		n.Data,
		n.ScheduledFor,
		n.RetryCount,
		n.MaxRetries,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	var n model.Notification
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &n, nil
}

func (r *notificationRepository) Update(ctx context.Context, n *model.Notification) error {
	n.UpdatedAt = time.Now()

	query := `
		UPDATE notifications
		SET status = $1,
			scheduled_for = $2,
			next_retry_at = $3,
			sent_at = $4,
			delivered_at = $5,
			read_at = $6,
			clicked_at = $7,
			retry_count = $8,
			error_message = $9,
			updated_at = $10
		WHERE id = $11
	`
	_, err := r.db.ExecContext(ctx, query,
		n.Status,
		n.ScheduledFor,
		n.NextRetryAt,
		n.SentAt,
		n.DeliveredAt,
		n.ReadAt,
		n.ClickedAt,
		n.RetryCount,
		n.ErrorMessage,
		n.UpdatedAt,
		n.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	return nil
}

// ListDue backs the dispatcher's poll. The scan runs in its own short
// transaction; SKIP LOCKED keeps it from stalling behind concurrent row
// locks (a cancel racing the batch), but the locks end at commit, so this
// is not a claim. A second dispatcher process would need a claim column.
func (r *notificationRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = $1
		AND scheduled_for <= $2
		AND (next_retry_at IS NULL OR next_retry_at <= $2)
		AND retry_count < max_retries
		ORDER BY scheduled_for ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`
	var out []*model.Notification
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &out, query, model.NotificationStatusPending, now, limit)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list due notifications: %w", err)
	}
	return out, nil
}

func (r *notificationRepository) ListForUser(ctx context.Context, userID uuid.UUID, opts model.ListOptions) ([]*model.Notification, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
	`
	args := []interface{}{userID}
	if opts.UnreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, opts.Offset)

	var out []*model.Notification
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

func (r *notificationRepository) CancelPendingForTask(ctx context.Context, taskID uuid.UUID, typ *model.NotificationType) (int64, error) {
	query := `
		UPDATE notifications
		SET status = $1, updated_at = NOW()
		WHERE task_id = $2 AND status = $3
	`
	args := []interface{}{model.NotificationStatusCancelled, taskID, model.NotificationStatusPending}
	if typ != nil {
		query += ` AND type = $4`
		args = append(args, *typ)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending notifications: %w", err)
	}
	return result.RowsAffected()
}

func (r *notificationRepository) ExistsForTaskSince(ctx context.Context, taskID uuid.UUID, typ model.NotificationType, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE task_id = $1 AND type = $2 AND created_at >= $3
		)
	`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, taskID, typ, since); err != nil {
		return false, fmt.Errorf("failed to check for existing notification: %w", err)
	}
	return exists, nil
}

func (r *notificationRepository) Stats(ctx context.Context, userID uuid.UUID) (*model.NotificationStats, error) {
	stats := &model.NotificationStats{ByType: make(map[model.NotificationType]int64)}

	query := `
		SELECT COUNT(*) AS total,
			COUNT(*) FILTER (WHERE read_at IS NULL) AS unread
		FROM notifications
		WHERE user_id = $1
	`
	row := r.db.QueryRowxContext(ctx, query, userID)
	if err := row.Scan(&stats.Total, &stats.Unread); err != nil {
		return nil, fmt.Errorf("failed to get notification stats: %w", err)
	}

	byType := `
		SELECT type, COUNT(*) AS count
		FROM notifications
		WHERE user_id = $1
		GROUP BY type
	`
	rows, err := r.db.QueryxContext(ctx, byType, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get per-type stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ model.NotificationType
		var count int64
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, fmt.Errorf("failed to scan per-type stats: %w", err)
		}
		stats.ByType[typ] = count
	}
	return stats, rows.Err()
}

func (r *notificationRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	// "sent" is terminal-success for channels that never confirm delivery,
	// so it ages out too.
	query := `
		DELETE FROM notifications
		WHERE status IN ($1, $2, $3, $4)
		AND created_at < $5
	`
	result, err := r.db.ExecContext(ctx, query,
		model.NotificationStatusSent,
		model.NotificationStatusDelivered,
		model.NotificationStatusFailed,
		model.NotificationStatusCancelled,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}
	return result.RowsAffected()
}
