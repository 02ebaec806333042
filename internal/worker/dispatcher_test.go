package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskfleet/notifier/internal/model"
	"github.com/taskfleet/notifier/internal/repository/memory"
	"github.com/taskfleet/notifier/internal/sender"
	"github.com/taskfleet/notifier/internal/service/preference"
	apperrors "github.com/taskfleet/notifier/pkg/errors"
	"github.com/taskfleet/notifier/pkg/logger"
	"github.com/taskfleet/notifier/pkg/metrics"
)

// stubSender scripts per-call outcomes: each call consumes the next error
// from the queue, or succeeds once the queue is drained (failAlways keeps
// failing with the last error).
type stubSender struct {
	channel    model.Channel
	delivered  bool
	queue      []error
	failAlways error
	calls      int
}

func (s *stubSender) Channel() model.Channel { return s.channel }

func (s *stubSender) Send(ctx context.Context, n *model.Notification, recipient *model.User) (*sender.Result, error) {
	s.calls++
	if len(s.queue) > 0 {
		err := s.queue[0]
		s.queue = s.queue[1:]
		if err != nil {
			return nil, err
		}
		return &sender.Result{Delivered: s.delivered}, nil
	}
	if s.failAlways != nil {
		return nil, s.failAlways
	}
	return &sender.Result{Delivered: s.delivered}, nil
}

type dispatcherFixture struct {
	d     *Dispatcher
	repo  *memory.NotificationStore
	prefs *memory.PreferenceStore
	tasks *memory.TaskDirectory
	now   time.Time
}

func newDispatcherFixture(t *testing.T, senders ...sender.Sender) *dispatcherFixture {
	t.Helper()

	f := &dispatcherFixture{
		repo:  memory.NewNotificationStore(),
		prefs: memory.NewPreferenceStore(),
		tasks: memory.NewTaskDirectory(),
		now:   time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
	}
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	f.d = NewDispatcher(
		f.repo,
		preference.NewService(f.prefs),
		f.tasks,
		sender.NewRegistry(senders...),
		DispatcherConfig{BatchSize: 100, PollInterval: time.Second},
		log,
		metrics.New("test"),
	).WithClock(func() time.Time { return f.now })
	return f
}

func (f *dispatcherFixture) addUser(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.tasks.AddUser(&model.User{ID: id, Email: "dev@taskfleet.dev", Name: "Dev", Language: "en"})
	return id
}

func (f *dispatcherFixture) addPending(t *testing.T, userID uuid.UUID, channel model.Channel, typ model.NotificationType, at time.Time) uuid.UUID {
	t.Helper()
	n := &model.Notification{
		ID:           uuid.New(),
		UserID:       userID,
		Type:         typ,
		Channel:      channel,
		Status:       model.NotificationStatusPending,
		Title:        "Reminder",
		Message:      "Your task is due soon.",
		ScheduledFor: at,
		MaxRetries:   model.DefaultMaxRetries,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	require.NoError(t, f.repo.Create(context.Background(), n))
	return n.ID
}

func (f *dispatcherFixture) get(t *testing.T, id uuid.UUID) *model.Notification {
	t.Helper()
	n, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, n)
	return n
}

func TestTick_SuccessfulSendMarksSent(t *testing.T) {
	snd := &stubSender{channel: model.ChannelEmail}
	f := newDispatcherFixture(t, snd)
	userID := f.addUser(t)
	id := f.addPending(t, userID, model.ChannelEmail, model.TypeDueReminder, f.now.Add(-time.Minute))

	require.NoError(t, f.d.Tick(context.Background()))

	n := f.get(t, id)
	assert.Equal(t, model.NotificationStatusSent, n.Status, "email cannot confirm delivery, record stops at sent")
	require.NotNil(t, n.SentAt)
	assert.Equal(t, f.now, *n.SentAt)
	assert.Nil(t, n.DeliveredAt)
	assert.Nil(t, n.ErrorMessage)
	assert.Equal(t, 0, n.RetryCount)
	assert.Equal(t, 1, snd.calls)
}

func TestTick_ConfirmingChannelMarksDelivered(t *testing.T) {
	snd := &stubSender{channel: model.ChannelInApp, delivered: true}
	f := newDispatcherFixture(t, snd)
	userID := f.addUser(t)
	id := f.addPending(t, userID, model.ChannelInApp, model.TypeComment, f.now.Add(-time.Minute))

	require.NoError(t, f.d.Tick(context.Background()))

	n := f.get(t, id)
	assert.Equal(t, model.NotificationStatusDelivered, n.Status)
	require.NotNil(t, n.SentAt)
	require.NotNil(t, n.DeliveredAt)
	assert.Equal(t, f.now, *n.DeliveredAt)
}

func TestTick_FutureRecordsAreNotTouched(t *testing.T) {
	snd := &stubSender{channel: model.ChannelInApp}
	f := newDispatcherFixture(t, snd)
	userID := f.addUser(t)
	id := f.addPending(t, userID, model.ChannelInApp, model.TypeDueReminder, f.now.Add(time.Hour))

	require.NoError(t, f.d.Tick(context.Background()))

	n := f.get(t, id)
	assert.Equal(t, model.NotificationStatusPending, n.Status)
	assert.Nil(t, n.SentAt)
	assert.Equal(t, 0, snd.calls)
}

func TestTick_RetriesThenFailsAfterMaxAttempts(t *testing.T) {
	provider := errors.New("smtp: connection refused")
	snd := &stubSender{channel: model.ChannelEmail, failAlways: provider}
	f := newDispatcherFixture(t, snd)
	userID := f.addUser(t)
	id := f.addPending(t, userID, model.ChannelEmail, model.TypeDueReminder, f.now.Add(-time.Minute))

	// Attempt 1: still pending, backed off 30s.
	require.NoError(t, f.d.Tick(context.Background()))
	n := f.get(t, id)
	assert.Equal(t, model.NotificationStatusPending, n.Status)
	assert.Equal(t, 1, n.RetryCount)
	require.NotNil(t, n.NextRetryAt)
	assert.Equal(t, f.now.Add(30*time.Second), *n.NextRetryAt)
	require.NotNil(t, n.ErrorMessage)
	require.NotNil(t, n.SentAt, "an attempt was made")

	// Attempt 2 after the backoff elapses: backed off 1m this time.
	f.now = f.now.Add(time.Hour)
	require.NoError(t, f.d.Tick(context.Background()))
	n = f.get(t, id)
	assert.Equal(t, model.NotificationStatusPending, n.Status)
	assert.Equal(t, 2, n.RetryCount)
	require.NotNil(t, n.NextRetryAt)
	assert.Equal(t, f.now.Add(time.Minute), *n.NextRetryAt)

	// Attempt 3 exhausts max_retries.
	f.now = f.now.Add(time.Hour)
	require.NoError(t, f.d.Tick(context.Background()))
	n = f.get(t, id)
	assert.Equal(t, model.NotificationStatusFailed, n.Status)
	assert.Equal(t, 3, n.RetryCount)
	assert.Nil(t, n.NextRetryAt)
	require.NotNil(t, n.ErrorMessage)
	assert.Contains(t, *n.ErrorMessage, "connection refused")

	// Failed is terminal: further ticks never pick it up again.
	f.now = f.now.Add(time.Hour)
	require.NoError(t, f.d.Tick(context.Background()))
	assert.Equal(t, 3, snd.calls)
}

func TestTick_BackoffDefersNextAttempt(t *testing.T) {
	snd := &stubSender{channel: model.ChannelEmail, queue: []error{errors.New("transient"), nil}}
	f := newDispatcherFixture(t, snd)
	userID := f.addUser(t)
	id := f.addPending(t, userID, model.ChannelEmail, model.TypeDueReminder, f.now.Add(-time.Minute))

	require.NoError(t, f.d.Tick(context.Background()))
	assert.Equal(t, 1, snd.calls)

	// Next tick before the backoff elapses: not retried yet.
	f.now = f.now.Add(10 * time.Second)
	require.NoError(t, f.d.Tick(context.Background()))
	assert.Equal(t, 1, snd.calls)

	f.now = f.now.Add(time.Minute)
	require.NoError(t, f.d.Tick(context.Background()))
	assert.Equal(t, 2, snd.calls)
	assert.Equal(t, model.NotificationStatusSent, f.get(t, id).Status)
}

func TestTick_PermanentErrorGetsAtMostOneRetry(t *testing.T) {
	snd := &stubSender{channel: model.ChannelEmail, failAlways: apperrors.Permanent("recipient has no email address", nil)}
	f := newDispatcherFixture(t, snd)
	userID := f.addUser(t)
	id := f.addPending(t, userID, model.ChannelEmail, model.TypeDueReminder, f.now.Add(-time.Minute))

	require.NoError(t, f.d.Tick(context.Background()))
	n := f.get(t, id)
	assert.Equal(t, model.NotificationStatusPending, n.Status)
	assert.Equal(t, 1, n.RetryCount)

	// Second attempt gives up even though max_retries would allow a third.
	f.now = f.now.Add(time.Hour)
	require.NoError(t, f.d.Tick(context.Background()))
	n = f.get(t, id)
	assert.Equal(t, model.NotificationStatusFailed, n.Status)
	assert.Equal(t, 2, n.RetryCount)
}

func TestTick_QuietHoursDeferFirstAttempt(t *testing.T) {
	snd := &stubSender{channel: model.ChannelInApp}
	f := newDispatcherFixture(t, snd)
	userID := f.addUser(t)

	pref := model.DefaultPreference(userID)
	pref.QuietHoursEnabled = true
	pref.QuietHoursStart = "08:00"
	pref.QuietHoursEnd = "18:00"
	pref.Timezone = "UTC"
	require.NoError(t, f.prefs.Upsert(context.Background(), pref))

	// Noon UTC is inside the window.
	id := f.addPending(t, userID, model.ChannelInApp, model.TypeDueReminder, f.now.Add(-time.Minute))
	require.NoError(t, f.d.Tick(context.Background()))

	n := f.get(t, id)
	assert.Equal(t, model.NotificationStatusPending, n.Status)
	assert.Equal(t, 0, n.RetryCount)
	assert.Nil(t, n.SentAt)
	assert.Equal(t, 0, snd.calls, "no attempt during quiet hours")

	wantResume := time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)
	assert.True(t, n.ScheduledFor.Equal(wantResume), "deferred to the end of the window, got %v", n.ScheduledFor)

	// Once the window ends the record goes out normally.
	f.now = wantResume.Add(time.Minute)
	require.NoError(t, f.d.Tick(context.Background()))
	assert.Equal(t, model.NotificationStatusSent, f.get(t, id).Status)
}

func TestTick_QuietHoursDoNotHoldOverdueAlerts(t *testing.T) {
	snd := &stubSender{channel: model.ChannelInApp}
	f := newDispatcherFixture(t, snd)
	userID := f.addUser(t)

	pref := model.DefaultPreference(userID)
	pref.QuietHoursEnabled = true
	pref.QuietHoursStart = "08:00"
	pref.QuietHoursEnd = "18:00"
	require.NoError(t, f.prefs.Upsert(context.Background(), pref))

	id := f.addPending(t, userID, model.ChannelInApp, model.TypeOverdueAlert, f.now.Add(-time.Minute))
	require.NoError(t, f.d.Tick(context.Background()))

	assert.Equal(t, model.NotificationStatusSent, f.get(t, id).Status)
	assert.Equal(t, 1, snd.calls)
}

func TestTick_QuietHoursDoNotHoldRetries(t *testing.T) {
	snd := &stubSender{channel: model.ChannelInApp}
	f := newDispatcherFixture(t, snd)
	userID := f.addUser(t)

	pref := model.DefaultPreference(userID)
	pref.QuietHoursEnabled = true
	pref.QuietHoursStart = "08:00"
	pref.QuietHoursEnd = "18:00"
	require.NoError(t, f.prefs.Upsert(context.Background(), pref))

	id := f.addPending(t, userID, model.ChannelInApp, model.TypeDueReminder, f.now.Add(-time.Hour))
	n := f.get(t, id)
	n.RetryCount = 1
	require.NoError(t, f.repo.Update(context.Background(), n))

	require.NoError(t, f.d.Tick(context.Background()))
	assert.Equal(t, model.NotificationStatusSent, f.get(t, id).Status)
}

func TestTick_BadQuietHoursConfigSendsAnyway(t *testing.T) {
	snd := &stubSender{channel: model.ChannelInApp}
	f := newDispatcherFixture(t, snd)
	userID := f.addUser(t)

	pref := model.DefaultPreference(userID)
	pref.QuietHoursEnabled = true
	pref.Timezone = "Mars/Olympus_Mons"
	require.NoError(t, f.prefs.Upsert(context.Background(), pref))

	id := f.addPending(t, userID, model.ChannelInApp, model.TypeDueReminder, f.now.Add(-time.Minute))
	require.NoError(t, f.d.Tick(context.Background()))

	assert.Equal(t, model.NotificationStatusSent, f.get(t, id).Status)
}

func TestTick_OneFailureDoesNotAbortTheBatch(t *testing.T) {
	snd := &stubSender{channel: model.ChannelInApp, queue: []error{errors.New("boom"), nil}}
	f := newDispatcherFixture(t, snd)
	userID := f.addUser(t)

	// Older record fails, newer one still goes out in the same tick.
	failingID := f.addPending(t, userID, model.ChannelInApp, model.TypeDueReminder, f.now.Add(-2*time.Minute))
	okID := f.addPending(t, userID, model.ChannelInApp, model.TypeComment, f.now.Add(-time.Minute))

	require.NoError(t, f.d.Tick(context.Background()))

	assert.Equal(t, model.NotificationStatusPending, f.get(t, failingID).Status)
	assert.Equal(t, 1, f.get(t, failingID).RetryCount)
	assert.Equal(t, model.NotificationStatusSent, f.get(t, okID).Status)
}

func TestTick_MissingRecipientFails(t *testing.T) {
	snd := &stubSender{channel: model.ChannelInApp}
	f := newDispatcherFixture(t, snd)

	// User exists in preferences but not in the directory.
	ghostID := uuid.New()
	id := f.addPending(t, ghostID, model.ChannelInApp, model.TypeDueReminder, f.now.Add(-time.Minute))

	require.NoError(t, f.d.Tick(context.Background()))
	n := f.get(t, id)
	assert.Equal(t, 1, n.RetryCount)
	assert.Equal(t, 0, snd.calls)

	// Permanent: gives up on the second attempt.
	f.now = f.now.Add(time.Hour)
	require.NoError(t, f.d.Tick(context.Background()))
	assert.Equal(t, model.NotificationStatusFailed, f.get(t, id).Status)
}

func TestTick_MissingSenderFails(t *testing.T) {
	f := newDispatcherFixture(t) // empty registry
	userID := f.addUser(t)
	id := f.addPending(t, userID, model.ChannelSMS, model.TypeDueReminder, f.now.Add(-time.Minute))

	require.NoError(t, f.d.Tick(context.Background()))
	n := f.get(t, id)
	assert.Equal(t, 1, n.RetryCount)
	require.NotNil(t, n.ErrorMessage)
	assert.Contains(t, *n.ErrorMessage, "no sender for channel sms")
}

func TestRetryDelay_Curve(t *testing.T) {
	assert.Equal(t, 30*time.Second, retryDelay(1))
	assert.Equal(t, time.Minute, retryDelay(2))
	assert.Equal(t, 2*time.Minute, retryDelay(3))
	assert.Equal(t, 4*time.Minute, retryDelay(4))
	assert.Equal(t, 8*time.Minute, retryDelay(5))
	assert.Equal(t, 15*time.Minute, retryDelay(6), "capped")
	assert.Equal(t, 15*time.Minute, retryDelay(10), "stays capped")
}
