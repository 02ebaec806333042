package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type ReminderInterval string

const (
	Interval15Min ReminderInterval = "15min"
	Interval1Hour ReminderInterval = "1hour"
	Interval1Day  ReminderInterval = "1day"
	Interval3Days ReminderInterval = "3days"
	Interval1Week ReminderInterval = "1week"
)

// Duration returns the offset measured before a due date.
func (i ReminderInterval) Duration() (time.Duration, error) {
	switch i {
	case Interval15Min:
		return 15 * time.Minute, nil
	case Interval1Hour:
		return time.Hour, nil
	case Interval1Day:
		return 24 * time.Hour, nil
	case Interval3Days:
		return 72 * time.Hour, nil
	case Interval1Week:
		return 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown reminder interval: %s", i)
}

// Label is the human phrase used in rendered reminder content.
func (i ReminderInterval) Label() string {
	switch i {
	case Interval15Min:
		return "in 15 minutes"
	case Interval1Hour:
		return "in 1 hour"
	case Interval1Day:
		return "in 1 day"
	case Interval3Days:
		return "in 3 days"
	case Interval1Week:
		return "in 1 week"
	}
	return string(i)
}

type DigestFrequency string

const (
	DigestImmediate DigestFrequency = "immediate"
	DigestHourly    DigestFrequency = "hourly"
	DigestDaily     DigestFrequency = "daily"
	DigestWeekly    DigestFrequency = "weekly"
)

// Preference holds one user's delivery configuration. Rows are created
// lazily with defaults on first access and upserted thereafter.
type Preference struct {
	ID                   uuid.UUID       `db:"id"`
	UserID               uuid.UUID       `db:"user_id"`
	DueDateReminders     bool            `db:"due_date_reminders"`
	TaskAssignments      bool            `db:"task_assignments"`
	TaskCompletions      bool            `db:"task_completions"`
	StatusChanges        bool            `db:"status_changes"`
	PriorityChanges      bool            `db:"priority_changes"`
	DailySummaries       bool            `db:"daily_summaries"`
	WeeklySummaries      bool            `db:"weekly_summaries"`
	CommentNotifications bool            `db:"comment_notifications"`
	ReminderIntervals    pq.StringArray  `db:"reminder_intervals"`
	PreferredChannels    pq.StringArray  `db:"preferred_channels"`
	QuietHoursEnabled    bool            `db:"quiet_hours_enabled"`
	QuietHoursStart      string          `db:"quiet_hours_start"`
	QuietHoursEnd        string          `db:"quiet_hours_end"`
	Timezone             string          `db:"timezone"`
	DigestFrequency      DigestFrequency `db:"digest_frequency"`
	CreatedAt            time.Time       `db:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at"`
}

// DefaultPreference is what a user gets before they have ever saved
// anything: everything on, in-app plus email, no quiet hours.
func DefaultPreference(userID uuid.UUID) *Preference {
	now := time.Now()
	return &Preference{
		ID:                   uuid.New(),
		UserID:               userID,
		DueDateReminders:     true,
		TaskAssignments:      true,
		TaskCompletions:      true,
		StatusChanges:        true,
		PriorityChanges:      true,
		DailySummaries:       true,
		WeeklySummaries:      true,
		CommentNotifications: true,
		ReminderIntervals:    pq.StringArray{string(Interval1Day), string(Interval1Hour)},
		PreferredChannels:    pq.StringArray{string(ChannelInApp), string(ChannelEmail)},
		QuietHoursEnabled:    false,
		QuietHoursStart:      "22:00",
		QuietHoursEnd:        "08:00",
		Timezone:             "UTC",
		DigestFrequency:      DigestDaily,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// Channels returns the preferred channels in order; the first one is
// primary. Unknown values are skipped rather than propagated.
func (p *Preference) Channels() []Channel {
	out := make([]Channel, 0, len(p.PreferredChannels))
	for _, c := range p.PreferredChannels {
		if ch := Channel(c); ch.Valid() {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		out = append(out, ChannelInApp)
	}
	return out
}

// PrimaryChannel is the first preferred channel.
func (p *Preference) PrimaryChannel() Channel {
	return p.Channels()[0]
}

// Intervals returns the configured reminder offsets, dropping unknown values.
func (p *Preference) Intervals() []ReminderInterval {
	out := make([]ReminderInterval, 0, len(p.ReminderIntervals))
	for _, raw := range p.ReminderIntervals {
		iv := ReminderInterval(raw)
		if _, err := iv.Duration(); err == nil {
			out = append(out, iv)
		}
	}
	return out
}

// AllowsType reports whether the user opted in to the given category.
func (p *Preference) AllowsType(t NotificationType) bool {
	switch t {
	case TypeDueReminder, TypeOverdueAlert:
		return p.DueDateReminders
	case TypeAssignment:
		return p.TaskAssignments
	case TypeCompletion:
		return p.TaskCompletions
	case TypeStatusChange:
		return p.StatusChanges
	case TypePriorityChange:
		return p.PriorityChanges
	case TypeDailySummary:
		return p.DailySummaries
	case TypeWeeklySummary:
		return p.WeeklySummaries
	case TypeComment:
		return p.CommentNotifications
	}
	return false
}

// InQuietHours reports whether the instant falls inside the user's quiet
// window, evaluated as local wall clock in the user's timezone. Overnight
// windows (22:00 -> 08:00) are supported.
func (p *Preference) InQuietHours(now time.Time) (bool, error) {
	if !p.QuietHoursEnabled {
		return false, nil
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return false, fmt.Errorf("invalid timezone %q: %w", p.Timezone, err)
	}
	start, err := minutesOfDay(p.QuietHoursStart)
	if err != nil {
		return false, err
	}
	end, err := minutesOfDay(p.QuietHoursEnd)
	if err != nil {
		return false, err
	}
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()
	if start <= end {
		return cur >= start && cur < end, nil
	}
	// Window spans midnight.
	return cur >= start || cur < end, nil
}

// NextQuietEnd returns the next instant at which the quiet window ends,
// strictly after now. Callers use it to defer delivery.
func (p *Preference) NextQuietEnd(now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone %q: %w", p.Timezone, err)
	}
	end, err := minutesOfDay(p.QuietHoursEnd)
	if err != nil {
		return time.Time{}, err
	}
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), end/60, end%60, 0, 0, loc)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, nil
}

func minutesOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("invalid wall-clock time %q: %w", hhmm, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// PreferencePatch carries a partial update; nil fields are left untouched.
type PreferencePatch struct {
	DueDateReminders     *bool
	TaskAssignments      *bool
	TaskCompletions      *bool
	StatusChanges        *bool
	PriorityChanges      *bool
	DailySummaries       *bool
	WeeklySummaries      *bool
	CommentNotifications *bool
	ReminderIntervals    []string
	PreferredChannels    []string
	QuietHoursEnabled    *bool
	QuietHoursStart      *string
	QuietHoursEnd        *string
	Timezone             *string
	DigestFrequency      *DigestFrequency
}

// Apply copies the non-nil fields of the patch onto the preference.
func (p *Preference) Apply(patch *PreferencePatch) {
	if patch.DueDateReminders != nil {
		p.DueDateReminders = *patch.DueDateReminders
	}
	if patch.TaskAssignments != nil {
		p.TaskAssignments = *patch.TaskAssignments
	}
	if patch.TaskCompletions != nil {
		p.TaskCompletions = *patch.TaskCompletions
	}
	if patch.StatusChanges != nil {
		p.StatusChanges = *patch.StatusChanges
	}
	if patch.PriorityChanges != nil {
		p.PriorityChanges = *patch.PriorityChanges
	}
	if patch.DailySummaries != nil {
		p.DailySummaries = *patch.DailySummaries
	}
	if patch.WeeklySummaries != nil {
		p.WeeklySummaries = *patch.WeeklySummaries
	}
	if patch.CommentNotifications != nil {
		p.CommentNotifications = *patch.CommentNotifications
	}
	if patch.ReminderIntervals != nil {
		p.ReminderIntervals = pq.StringArray(patch.ReminderIntervals)
	}
	if patch.PreferredChannels != nil {
		p.PreferredChannels = pq.StringArray(patch.PreferredChannels)
	}
	if patch.QuietHoursEnabled != nil {
		p.QuietHoursEnabled = *patch.QuietHoursEnabled
	}
	if patch.QuietHoursStart != nil {
		p.QuietHoursStart = *patch.QuietHoursStart
	}
	if patch.QuietHoursEnd != nil {
		p.QuietHoursEnd = *patch.QuietHoursEnd
	}
	if patch.Timezone != nil {
		p.Timezone = *patch.Timezone
	}
	if patch.DigestFrequency != nil {
		p.DigestFrequency = *patch.DigestFrequency
	}
	p.UpdatedAt = time.Now()
}
