// Package memory provides in-memory implementations of the repository
// interfaces. They back unit tests and local development; the production
// wiring uses the postgres package.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskfleet/notifier/internal/model"
)

type NotificationStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*model.Notification
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{items: make(map[uuid.UUID]*model.Notification)}
}

func (s *NotificationStore) Create(ctx context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[n.ID]; exists {
		return fmt.Errorf("notification %s already exists", n.ID)
	}
	cp := *n
	s.items[n.ID] = &cp
	return nil
}

func (s *NotificationStore) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, exists := s.items[id]
	if !exists {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (s *NotificationStore) Update(ctx context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[n.ID]; !exists {
		return fmt.Errorf("notification %s not found", n.ID)
	}
	n.UpdatedAt = time.Now()
	cp := *n
	s.items[n.ID] = &cp
	return nil
}

func (s *NotificationStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*model.Notification
	for _, n := range s.items {
		if n.Status != model.NotificationStatusPending {
			continue
		}
		if n.ScheduledFor.After(now) {
			continue
		}
		if n.NextRetryAt != nil && n.NextRetryAt.After(now) {
			continue
		}
		if n.RetryCount >= n.MaxRetries {
			continue
		}
		cp := *n
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *NotificationStore) ListForUser(ctx context.Context, userID uuid.UUID, opts model.ListOptions) ([]*model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Notification
	for _, n := range s.items {
		if n.UserID != userID {
			continue
		}
		if opts.UnreadOnly && n.ReadAt != nil {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *NotificationStore) CancelPendingForTask(ctx context.Context, taskID uuid.UUID, typ *model.NotificationType) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, n := range s.items {
		if n.TaskID == nil || *n.TaskID != taskID {
			continue
		}
		if n.Status != model.NotificationStatusPending {
			continue
		}
		if typ != nil && n.Type != *typ {
			continue
		}
		n.Status = model.NotificationStatusCancelled
		n.UpdatedAt = time.Now()
		count++
	}
	return count, nil
}

func (s *NotificationStore) ExistsForTaskSince(ctx context.Context, taskID uuid.UUID, typ model.NotificationType, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.items {
		if n.TaskID == nil || *n.TaskID != taskID {
			continue
		}
		if n.Type != typ {
			continue
		}
		if n.CreatedAt.Before(since) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (s *NotificationStore) Stats(ctx context.Context, userID uuid.UUID) (*model.NotificationStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &model.NotificationStats{ByType: make(map[model.NotificationType]int64)}
	for _, n := range s.items {
		if n.UserID != userID {
			continue
		}
		stats.Total++
		if n.ReadAt == nil {
			stats.Unread++
		}
		stats.ByType[n.Type]++
	}
	return stats, nil
}

func (s *NotificationStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, n := range s.items {
		terminal := n.Status == model.NotificationStatusSent || n.Status.Terminal()
		if terminal && n.CreatedAt.Before(cutoff) {
			delete(s.items, id)
			count++
		}
	}
	return count, nil
}

type PreferenceStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*model.Preference
}

func NewPreferenceStore() *PreferenceStore {
	return &PreferenceStore{items: make(map[uuid.UUID]*model.Preference)}
}

func (s *PreferenceStore) Get(ctx context.Context, userID uuid.UUID) (*model.Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pref, exists := s.items[userID]
	if !exists {
		return nil, nil
	}
	cp := *pref
	return &cp, nil
}

func (s *PreferenceStore) Upsert(ctx context.Context, pref *model.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *pref
	s.items[pref.UserID] = &cp
	return nil
}

func (s *PreferenceStore) ListUsersWithDigest(ctx context.Context, freq model.DigestFrequency) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []uuid.UUID
	for id, pref := range s.items {
		switch freq {
		case model.DigestDaily:
			if pref.DailySummaries {
				users = append(users, id)
			}
		case model.DigestWeekly:
			if pref.WeeklySummaries {
				users = append(users, id)
			}
		default:
			if pref.DigestFrequency == freq {
				users = append(users, id)
			}
		}
	}
	return users, nil
}

type TemplateStore struct {
	mu    sync.RWMutex
	items map[string]*model.Template
}

func NewTemplateStore() *TemplateStore {
	return &TemplateStore{items: make(map[string]*model.Template)}
}

func templateKey(typ model.NotificationType, channel model.Channel, language string) string {
	return strings.Join([]string{string(typ), string(channel), language}, "|")
}

func (s *TemplateStore) Get(ctx context.Context, typ model.NotificationType, channel model.Channel, language string) (*model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, exists := s.items[templateKey(typ, channel, language)]
	if !exists {
		return nil, nil
	}
	cp := *tpl
	return &cp, nil
}

func (s *TemplateStore) Upsert(ctx context.Context, tpl *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *tpl
	s.items[templateKey(tpl.Type, tpl.Channel, tpl.Language)] = &cp
	return nil
}

// TaskDirectory is a seedable read-only task/user view for tests.
type TaskDirectory struct {
	mu     sync.RWMutex
	tasks  map[uuid.UUID]*model.Task
	users  map[uuid.UUID]*model.User
	counts map[uuid.UUID]*model.TaskCounts
}

func NewTaskDirectory() *TaskDirectory {
	return &TaskDirectory{
		tasks:  make(map[uuid.UUID]*model.Task),
		users:  make(map[uuid.UUID]*model.User),
		counts: make(map[uuid.UUID]*model.TaskCounts),
	}
}

func (d *TaskDirectory) AddTask(task *model.Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks[task.ID] = task
}

func (d *TaskDirectory) AddUser(user *model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
}

func (d *TaskDirectory) SetCounts(userID uuid.UUID, counts *model.TaskCounts) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts[userID] = counts
}

func (d *TaskDirectory) GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	task, exists := d.tasks[id]
	if !exists {
		return nil, fmt.Errorf("task %s not found", id)
	}
	return task, nil
}

func (d *TaskDirectory) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, exists := d.users[id]
	if !exists {
		return nil, fmt.Errorf("user %s not found", id)
	}
	return user, nil
}

func (d *TaskDirectory) ListOverdueTasks(ctx context.Context, now time.Time) ([]*model.Task, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*model.Task
	for _, task := range d.tasks {
		if task.DueDate == nil || !task.DueDate.Before(now) {
			continue
		}
		if task.Status.Terminal() {
			continue
		}
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DueDate.Before(*out[j].DueDate)
	})
	return out, nil
}

func (d *TaskDirectory) CountsForUser(ctx context.Context, userID uuid.UUID, from, to time.Time) (*model.TaskCounts, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if counts, exists := d.counts[userID]; exists {
		return counts, nil
	}
	return &model.TaskCounts{}, nil
}
