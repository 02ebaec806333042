package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "pending"
	NotificationStatusSent      NotificationStatus = "sent"
	NotificationStatusDelivered NotificationStatus = "delivered"
	NotificationStatusFailed    NotificationStatus = "failed"
	NotificationStatusCancelled NotificationStatus = "cancelled"
)

// Terminal reports whether no further status transition is legal.
// "sent" is not terminal: a channel may confirm delivery later.
func (s NotificationStatus) Terminal() bool {
	switch s {
	case NotificationStatusDelivered, NotificationStatusFailed, NotificationStatusCancelled:
		return true
	}
	return false
}

type NotificationType string

const (
	TypeDueReminder    NotificationType = "due_reminder"
	TypeOverdueAlert   NotificationType = "overdue_alert"
	TypeAssignment     NotificationType = "assignment"
	TypeCompletion     NotificationType = "completion"
	TypeStatusChange   NotificationType = "status_change"
	TypePriorityChange NotificationType = "priority_change"
	TypeDailySummary   NotificationType = "daily_summary"
	TypeWeeklySummary  NotificationType = "weekly_summary"
	TypeComment        NotificationType = "comment"
)

func (t NotificationType) Valid() bool {
	switch t {
	case TypeDueReminder, TypeOverdueAlert, TypeAssignment, TypeCompletion,
		TypeStatusChange, TypePriorityChange, TypeDailySummary, TypeWeeklySummary, TypeComment:
		return true
	}
	return false
}

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
	ChannelSMS   Channel = "sms"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelPush, ChannelInApp, ChannelSMS:
		return true
	}
	return false
}

const DefaultMaxRetries = 3

// Notification is the durable unit of scheduled and delivered work. Content
// is rendered once at creation time; retries resend exactly what was
// originally composed.
type Notification struct {
	ID           uuid.UUID          `db:"id" json:"id"`
	UserID       uuid.UUID          `db:"user_id" json:"user_id"`
	TaskID       *uuid.UUID         `db:"task_id" json:"task_id,omitempty"`
	Type         NotificationType   `db:"type" json:"type"`
	Channel      Channel            `db:"channel" json:"channel"`
	Status       NotificationStatus `db:"status" json:"status"`
	Title        string             `db:"title" json:"title"`
	Message      string             `db:"message" json:"message"`
	HTMLContent  *string            `db:"html_content" json:"html_content,omitempty"`
	Data         types.JSONText     `db:"data" json:"data,omitempty"`
	ScheduledFor time.Time          `db:"scheduled_for" json:"scheduled_for"`
	NextRetryAt  *time.Time         `db:"next_retry_at" json:"next_retry_at,omitempty"`
	SentAt       *time.Time         `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt  *time.Time         `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt       *time.Time         `db:"read_at" json:"read_at,omitempty"`
	ClickedAt    *time.Time         `db:"clicked_at" json:"clicked_at,omitempty"`
	RetryCount   int                `db:"retry_count" json:"retry_count"`
	MaxRetries   int                `db:"max_retries" json:"max_retries"`
	ErrorMessage *string            `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `db:"updated_at" json:"updated_at"`
}

// Transition moves the record to the given status, enforcing the lifecycle:
//
//	pending -> sent -> delivered
//	pending -> delivered (channel confirmed synchronously)
//	pending -> failed (retries exhausted)
//	pending -> cancelled
//
// Any other move, including anything out of a terminal state, returns an
// error so callers can log the no-op instead of silently ignoring it.
func (n *Notification) Transition(to NotificationStatus) error {
	if n.Status.Terminal() {
		return fmt.Errorf("notification %s: illegal transition %s -> %s (terminal)", n.ID, n.Status, to)
	}
	legal := false
	switch n.Status {
	case NotificationStatusPending:
		legal = to == NotificationStatusSent ||
			to == NotificationStatusDelivered ||
			to == NotificationStatusFailed ||
			to == NotificationStatusCancelled
	case NotificationStatusSent:
		legal = to == NotificationStatusDelivered
	}
	if !legal {
		return fmt.Errorf("notification %s: illegal transition %s -> %s", n.ID, n.Status, to)
	}
	n.Status = to
	return nil
}

// Unread reports whether the record has not been marked read.
func (n *Notification) Unread() bool {
	return n.ReadAt == nil
}

// NotificationStats is the per-user aggregate returned by GetStats.
type NotificationStats struct {
	Total  int64                      `json:"total"`
	Unread int64                      `json:"unread"`
	ByType map[NotificationType]int64 `json:"by_type"`
}

// ListOptions bounds the per-user read path.
type ListOptions struct {
	Limit      int
	Offset     int
	UnreadOnly bool
}

type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// ClassifyUrgency is a pure function of (now, due): critical once the due
// time has passed, high within an hour of it, medium within a day, low
// otherwise.
func ClassifyUrgency(now, due time.Time) Urgency {
	remaining := due.Sub(now)
	switch {
	case remaining <= 0:
		return UrgencyCritical
	case remaining <= time.Hour:
		return UrgencyHigh
	case remaining <= 24*time.Hour:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}
