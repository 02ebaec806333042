package model

import (
	"time"

	"github.com/google/uuid"
)

// The task/user directory is a read-only collaborator: the engine resolves
// notification content from it but never writes to it. Task lifecycle
// changes arrive as calls into the scheduler, not as rows written here.

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

type Task struct {
	ID         uuid.UUID  `db:"id"`
	Title      string     `db:"title"`
	Status     TaskStatus `db:"status"`
	Priority   string     `db:"priority"`
	DueDate    *time.Time `db:"due_date"`
	AssigneeID *uuid.UUID `db:"assignee_id"`
	CreatedBy  uuid.UUID  `db:"created_by"`
}

// Owner is the user notifications about this task go to: the assignee when
// there is one, otherwise the creator.
func (t *Task) Owner() uuid.UUID {
	if t.AssigneeID != nil {
		return *t.AssigneeID
	}
	return t.CreatedBy
}

type User struct {
	ID       uuid.UUID `db:"id"`
	Email    string    `db:"email"`
	Name     string    `db:"name"`
	Language string    `db:"language"`
}

// TaskCounts is the digest aggregate for one user over one window.
type TaskCounts struct {
	DueToday  int `db:"due_today"`
	Overdue   int `db:"overdue"`
	Completed int `db:"completed"`
}

// Empty reports whether there is nothing to report; empty digests are
// suppressed, never sent.
func (c *TaskCounts) Empty() bool {
	return c.DueToday == 0 && c.Overdue == 0 && c.Completed == 0
}
