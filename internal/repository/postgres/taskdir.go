package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskfleet/notifier/internal/model"
	"github.com/taskfleet/notifier/internal/repository"
)

// taskDirectory reads the surrounding system's tasks/users tables. It never
// writes them; task lifecycle changes reach the engine as scheduler calls.
type taskDirectory struct {
	BaseRepository
}

func NewTaskDirectory(base BaseRepository) repository.TaskDirectory {
	return &taskDirectory{base}
}

func (r *taskDirectory) GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	query := `
		SELECT id, title, status, priority, due_date, assignee_id, created_by
		FROM tasks
		WHERE id = $1
	`
	var task model.Task
	if err := r.db.GetContext(ctx, &task, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("task %s not found", id)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

func (r *taskDirectory) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `
		SELECT id, email, name, language
		FROM users
		WHERE id = $1
	`
	var user model.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user %s not found", id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (r *taskDirectory) ListOverdueTasks(ctx context.Context, now time.Time) ([]*model.Task, error) {
	query := `
		SELECT id, title, status, priority, due_date, assignee_id, created_by
		FROM tasks
		WHERE due_date IS NOT NULL
		AND due_date < $1
		AND status NOT IN ($2, $3)
	`
	var tasks []*model.Task
	err := r.db.SelectContext(ctx, &tasks, query, now, model.TaskStatusCompleted, model.TaskStatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue tasks: %w", err)
	}
	return tasks, nil
}

func (r *taskDirectory) CountsForUser(ctx context.Context, userID uuid.UUID, from, to time.Time) (*model.TaskCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (
				WHERE due_date >= $2 AND due_date < $3
				AND status NOT IN ('completed', 'cancelled')
			) AS due_today,
			COUNT(*) FILTER (
				WHERE due_date < $2
				AND status NOT IN ('completed', 'cancelled')
			) AS overdue,
			COUNT(*) FILTER (
				WHERE status = 'completed'
				AND updated_at >= $2 AND updated_at < $3
			) AS completed
		FROM tasks
		WHERE assignee_id = $1 OR created_by = $1
	`
	var counts model.TaskCounts
	if err := r.db.GetContext(ctx, &counts, query, userID, from, to); err != nil {
		return nil, fmt.Errorf("failed to aggregate task counts: %w", err)
	}
	return &counts, nil
}
