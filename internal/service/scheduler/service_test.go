package scheduler

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskfleet/notifier/internal/model"
	"github.com/taskfleet/notifier/internal/repository/memory"
	"github.com/taskfleet/notifier/internal/service/preference"
	"github.com/taskfleet/notifier/internal/template"
	"github.com/taskfleet/notifier/pkg/logger"
	"github.com/taskfleet/notifier/pkg/metrics"
)

type fixture struct {
	svc           *Service
	notifications *memory.NotificationStore
	prefs         *memory.PreferenceStore
	templates     *memory.TemplateStore
	tasks         *memory.TaskDirectory
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()

	notifications := memory.NewNotificationStore()
	prefs := memory.NewPreferenceStore()
	templates := memory.NewTemplateStore()
	tasks := memory.NewTaskDirectory()
	require.NoError(t, template.SeedDefaults(context.Background(), templates))

	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	svc := NewService(
		notifications,
		preference.NewService(prefs),
		tasks,
		template.NewRenderer(templates),
		log,
		metrics.New("test"),
	).WithClock(func() time.Time { return now })

	return &fixture{svc: svc, notifications: notifications, prefs: prefs, templates: templates, tasks: tasks}
}

func (f *fixture) addUser(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.tasks.AddUser(&model.User{ID: id, Email: "dev@taskfleet.dev", Name: "Dev", Language: "en"})
	return id
}

func (f *fixture) addTask(userID uuid.UUID, due *time.Time) *model.Task {
	task := &model.Task{
		ID:        uuid.New(),
		Title:     "Ship the release",
		Status:    model.TaskStatusPending,
		DueDate:   due,
		CreatedBy: userID,
	}
	f.tasks.AddTask(task)
	return task
}

func (f *fixture) listAll(t *testing.T, userID uuid.UUID) []*model.Notification {
	t.Helper()
	out, err := f.notifications.ListForUser(context.Background(), userID, model.ListOptions{Limit: 100})
	require.NoError(t, err)
	return out
}

func TestScheduleDueReminders_OneRecordPerIntervalPerChannel(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	userID := f.addUser(t)

	pref := model.DefaultPreference(userID)
	pref.ReminderIntervals = pq.StringArray{"1day", "1hour"}
	pref.PreferredChannels = pq.StringArray{"in_app"}
	require.NoError(t, f.prefs.Upsert(context.Background(), pref))

	due := now.Add(25 * time.Hour)
	task := f.addTask(userID, &due)

	require.NoError(t, f.svc.ScheduleDueReminders(context.Background(), task.ID, userID))

	records := f.listAll(t, userID)
	require.Len(t, records, 2)

	fireTimes := map[time.Time]bool{}
	for _, n := range records {
		assert.Equal(t, model.TypeDueReminder, n.Type)
		assert.Equal(t, model.ChannelInApp, n.Channel)
		assert.Equal(t, model.NotificationStatusPending, n.Status)
		assert.Equal(t, task.ID, *n.TaskID)
		assert.NotEmpty(t, n.Title)
		fireTimes[n.ScheduledFor] = true
	}
	assert.True(t, fireTimes[now.Add(time.Hour)], "1day interval fires 24h before the due date")
	assert.True(t, fireTimes[now.Add(24*time.Hour)], "1hour interval fires 1h before the due date")
}

func TestScheduleDueReminders_PastIntervalsSkipped(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	userID := f.addUser(t)

	pref := model.DefaultPreference(userID)
	pref.ReminderIntervals = pq.StringArray{"1day", "15min"}
	pref.PreferredChannels = pq.StringArray{"in_app"}
	require.NoError(t, f.prefs.Upsert(context.Background(), pref))

	// Due in 30 minutes: the 1day trigger is long gone, only 15min survives.
	due := now.Add(30 * time.Minute)
	task := f.addTask(userID, &due)

	require.NoError(t, f.svc.ScheduleDueReminders(context.Background(), task.ID, userID))

	records := f.listAll(t, userID)
	require.Len(t, records, 1)
	assert.Equal(t, now.Add(15*time.Minute), records[0].ScheduledFor)
}

func TestScheduleDueReminders_RespectsOptOutAndMissingDueDate(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	userID := f.addUser(t)

	pref := model.DefaultPreference(userID)
	pref.DueDateReminders = false
	require.NoError(t, f.prefs.Upsert(context.Background(), pref))

	due := now.Add(48 * time.Hour)
	task := f.addTask(userID, &due)
	require.NoError(t, f.svc.ScheduleDueReminders(context.Background(), task.ID, userID))
	assert.Empty(t, f.listAll(t, userID))

	f2 := newFixture(t, now)
	userID2 := f2.addUser(t)
	noDue := f2.addTask(userID2, nil)
	require.NoError(t, f2.svc.ScheduleDueReminders(context.Background(), noDue.ID, userID2))
	assert.Empty(t, f2.listAll(t, userID2))
}

func TestScheduleAssignmentNotification(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	assigneeID := f.addUser(t)
	assignerID := uuid.New()
	f.tasks.AddUser(&model.User{ID: assignerID, Email: "lead@taskfleet.dev", Name: "Dana", Language: "en"})

	due := now.Add(48 * time.Hour)
	task := f.addTask(assignerID, &due)

	require.NoError(t, f.svc.ScheduleAssignmentNotification(context.Background(), task.ID, assigneeID, assignerID))

	// Default preferences carry two channels, so two immediate records.
	records := f.listAll(t, assigneeID)
	require.Len(t, records, 2)
	for _, n := range records {
		assert.Equal(t, model.TypeAssignment, n.Type)
		assert.Equal(t, now, n.ScheduledFor)
		assert.Contains(t, n.Title, "Dana")
	}
}

func TestScheduleAssignmentNotification_GatedByPreference(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	assigneeID := f.addUser(t)
	assignerID := f.addUser(t)

	pref := model.DefaultPreference(assigneeID)
	pref.TaskAssignments = false
	require.NoError(t, f.prefs.Upsert(context.Background(), pref))

	due := now.Add(48 * time.Hour)
	task := f.addTask(assignerID, &due)

	require.NoError(t, f.svc.ScheduleAssignmentNotification(context.Background(), task.ID, assigneeID, assignerID))
	assert.Empty(t, f.listAll(t, assigneeID))
}

func TestScheduleCompletionNotification_SkipsSelfCompletion(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	creatorID := f.addUser(t)
	completerID := f.addUser(t)

	task := f.addTask(creatorID, nil)

	// Creator completing their own task notifies nobody.
	require.NoError(t, f.svc.ScheduleCompletionNotification(context.Background(), task.ID, creatorID))
	assert.Empty(t, f.listAll(t, creatorID))

	require.NoError(t, f.svc.ScheduleCompletionNotification(context.Background(), task.ID, completerID))
	records := f.listAll(t, creatorID)
	require.NotEmpty(t, records)
	assert.Equal(t, model.TypeCompletion, records[0].Type)
}

func TestSweepOverdueAlerts_OncePerTaskPerDay(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	userID := f.addUser(t)

	overdue := now.Add(-2 * time.Hour)
	task := f.addTask(userID, &overdue)

	require.NoError(t, f.svc.SweepOverdueAlerts(context.Background()))
	require.NoError(t, f.svc.SweepOverdueAlerts(context.Background()))

	records := f.listAll(t, userID)
	require.Len(t, records, 1, "repeat sweeps within a day never duplicate the alert")
	n := records[0]
	assert.Equal(t, model.TypeOverdueAlert, n.Type)
	assert.Equal(t, model.ChannelInApp, n.Channel, "overdue alert goes to the primary channel only")
	assert.Equal(t, now, n.ScheduledFor)
	assert.Equal(t, task.ID, *n.TaskID)
}

func TestSweepOverdueAlerts_SkipsTerminalTasksAndOptOuts(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	userID := f.addUser(t)

	overdue := now.Add(-2 * time.Hour)
	done := f.addTask(userID, &overdue)
	done.Status = model.TaskStatusCompleted

	optOutID := f.addUser(t)
	pref := model.DefaultPreference(optOutID)
	pref.DueDateReminders = false
	require.NoError(t, f.prefs.Upsert(context.Background(), pref))
	f.addTask(optOutID, &overdue)

	require.NoError(t, f.svc.SweepOverdueAlerts(context.Background()))
	assert.Empty(t, f.listAll(t, userID))
	assert.Empty(t, f.listAll(t, optOutID))
}

func TestGenerateDailySummary_EmptyDigestSuppressed(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	userID := f.addUser(t)

	// Counts default to zero: nothing to report, nothing sent.
	require.NoError(t, f.svc.GenerateDailySummary(context.Background(), userID))
	assert.Empty(t, f.listAll(t, userID))

	f.tasks.SetCounts(userID, &model.TaskCounts{DueToday: 2, Overdue: 1, Completed: 3})
	require.NoError(t, f.svc.GenerateDailySummary(context.Background(), userID))

	records := f.listAll(t, userID)
	require.Len(t, records, 1)
	assert.Equal(t, model.TypeDailySummary, records[0].Type)
	assert.Equal(t, "Today: 2 due, 1 overdue, 3 completed.", records[0].Message)
}

func TestRunDailySummaries_FansOutWithIsolation(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	activeID := f.addUser(t)
	require.NoError(t, f.prefs.Upsert(context.Background(), model.DefaultPreference(activeID)))
	f.tasks.SetCounts(activeID, &model.TaskCounts{Completed: 1})

	// Opted in but unknown to the directory: generation fails for this user
	// without aborting the run.
	ghostID := uuid.New()
	require.NoError(t, f.prefs.Upsert(context.Background(), model.DefaultPreference(ghostID)))
	f.tasks.SetCounts(ghostID, &model.TaskCounts{Overdue: 5})

	require.NoError(t, f.svc.RunDailySummaries(context.Background()))

	assert.Len(t, f.listAll(t, activeID), 1)
	assert.Empty(t, f.listAll(t, ghostID))
}

func TestGenerateWeeklySummary_HonorsToggle(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	userID := f.addUser(t)

	pref := model.DefaultPreference(userID)
	pref.WeeklySummaries = false
	require.NoError(t, f.prefs.Upsert(context.Background(), pref))
	f.tasks.SetCounts(userID, &model.TaskCounts{Completed: 7})

	require.NoError(t, f.svc.GenerateWeeklySummary(context.Background(), userID))
	assert.Empty(t, f.listAll(t, userID))
}

func TestScheduleDueReminders_LateRenderFailurePersistsNothing(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	userID := f.addUser(t)
	ctx := context.Background()

	// in_app renders fine; the administratively edited email template
	// references a variable reminders never provide.
	require.NoError(t, f.templates.Upsert(ctx, &model.Template{
		ID:        uuid.New(),
		Type:      model.TypeDueReminder,
		Channel:   model.ChannelEmail,
		Language:  "en",
		Subject:   "Reminder for {{.account_number}}",
		Message:   "Your task \"{{.task_title}}\" is due {{.due_in}}.",
		CreatedAt: now,
		UpdatedAt: now,
	}))

	pref := model.DefaultPreference(userID)
	pref.PreferredChannels = pq.StringArray{"in_app", "email"}
	require.NoError(t, f.prefs.Upsert(ctx, pref))

	due := now.Add(48 * time.Hour)
	task := f.addTask(userID, &due)

	err := f.svc.ScheduleDueReminders(ctx, task.ID, userID)
	require.Error(t, err)
	assert.Empty(t, f.listAll(t, userID), "a failed fan-out leaves no partial records")
}

func TestEnqueue_RenderFailureLeavesNoRecord(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	// Empty template store: every render fails.
	notifications := memory.NewNotificationStore()
	prefs := memory.NewPreferenceStore()
	tasks := memory.NewTaskDirectory()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	svc := NewService(
		notifications,
		preference.NewService(prefs),
		tasks,
		template.NewRenderer(memory.NewTemplateStore()),
		log,
		metrics.New("test"),
	).WithClock(func() time.Time { return now })

	userID := uuid.New()
	tasks.AddUser(&model.User{ID: userID, Email: "dev@taskfleet.dev", Name: "Dev", Language: "en"})
	due := now.Add(48 * time.Hour)
	task := &model.Task{ID: uuid.New(), Title: "Ship it", Status: model.TaskStatusPending, DueDate: &due, CreatedBy: userID}
	tasks.AddTask(task)

	err := svc.ScheduleDueReminders(context.Background(), task.ID, userID)
	require.Error(t, err)

	out, listErr := notifications.ListForUser(context.Background(), userID, model.ListOptions{Limit: 10})
	require.NoError(t, listErr)
	assert.Empty(t, out)
}
