package mockmail_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mockmailer/modules/mockmail"
	"github.com/dmitrymomot/mockmailer/pkg/email"
	"github.com/dmitrymomot/mockmailer/pkg/logger"
	"github.com/dmitrymomot/mockmailer/pkg/queue"
	"github.com/dmitrymomot/mockmailer/pkg/telemetry"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendEmail(ctx context.Context, params email.SendEmailParams) error {
	return m.Called(ctx, params).Error(0)
}

type failingEnqueuer struct{ err error }

func (f failingEnqueuer) Enqueue(context.Context, any, ...queue.EnqueueOption) (uuid.UUID, error) {
	return uuid.Nil, f.err
}

func newMemoryMailer(t *testing.T, sender email.EmailSender) (*mockmail.Mailer, *queue.MemoryStorage) {
	t.Helper()
	storage := queue.NewMemoryStorage()
	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)
	return mockmail.NewMailer(enq, sender, logger.Noop()), storage
}

func TestMailer_DeliverLater(t *testing.T) {
	t.Parallel()

	t.Run("enqueues on the mailers queue", func(t *testing.T) {
		t.Parallel()
		mailer, storage := newMemoryMailer(t, &MockSender{})

		require.NoError(t, mailer.DeliverLater(context.Background(), mockmail.BuildMessage()))

		tasks := storage.Tasks(mockmail.MailerQueue)
		require.Len(t, tasks, 1)
		assert.Equal(t, queue.TaskStatusPending, tasks[0].Status)
		assert.Equal(t, "mockmail.DeliverEmailTask", tasks[0].TaskName)

		var payload mockmail.DeliverEmailTask
		require.NoError(t, json.Unmarshal(tasks[0].Payload, &payload))
		assert.Equal(t, mockmail.NewDeliverEmailTask(context.Background(), mockmail.BuildMessage()), payload)
	})

	t.Run("identical requests produce separate tasks", func(t *testing.T) {
		t.Parallel()
		mailer, storage := newMemoryMailer(t, &MockSender{})

		require.NoError(t, mailer.DeliverLater(context.Background(), mockmail.BuildMessage()))
		require.NoError(t, mailer.DeliverLater(context.Background(), mockmail.BuildMessage()))

		tasks := storage.Tasks(mockmail.MailerQueue)
		require.Len(t, tasks, 2)
		assert.NotEqual(t, tasks[0].ID, tasks[1].ID)
		assert.JSONEq(t, string(tasks[0].Payload), string(tasks[1].Payload))
	})

	t.Run("enqueue failure is returned", func(t *testing.T) {
		t.Parallel()
		mailer := mockmail.NewMailer(failingEnqueuer{err: errors.New("store down")}, &MockSender{}, logger.Noop())

		err := mailer.DeliverLater(context.Background(), mockmail.BuildMessage())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store down")
	})
}

func TestMailer_Deliver(t *testing.T) {
	t.Parallel()

	matchParams := mock.MatchedBy(func(p email.SendEmailParams) bool {
		return p.SendTo == "you@yourwebsite.com" && p.Subject == "keep your head up" && p.Tag == "mock_email"
	})

	t.Run("sends rendered message", func(t *testing.T) {
		t.Parallel()
		sender := &MockSender{}
		sender.On("SendEmail", mock.Anything, matchParams).Return(nil).Once()
		mailer := mockmail.NewMailer(failingEnqueuer{}, sender, logger.Noop())

		require.NoError(t, mailer.Deliver(context.Background(), mockmail.NewDeliverEmailTask(context.Background(), mockmail.BuildMessage())))
		sender.AssertExpectations(t)
	})

	t.Run("sender error is returned", func(t *testing.T) {
		t.Parallel()
		sender := &MockSender{}
		sender.On("SendEmail", mock.Anything, matchParams).Return(errors.New("smtp down")).Once()
		mailer := mockmail.NewMailer(failingEnqueuer{}, sender, logger.Noop())

		err := mailer.Deliver(context.Background(), mockmail.NewDeliverEmailTask(context.Background(), mockmail.BuildMessage()))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "smtp down")
	})
}

func TestMailer_WorkerDelivers(t *testing.T) {
	t.Parallel()

	delivered := make(chan email.SendEmailParams, 1)
	sender := &MockSender{}
	sender.On("SendEmail", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { delivered <- args.Get(1).(email.SendEmailParams) }).
		Return(nil).Once()

	mailer, storage := newMemoryMailer(t, sender)

	worker, err := queue.NewWorker(storage,
		queue.WithQueues(mockmail.MailerQueue),
		queue.WithPullInterval(10*time.Millisecond),
		queue.WithWorkerLogger(logger.Noop()),
	)
	require.NoError(t, err)
	worker.RegisterHandlers(mailer.TaskHandler())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, worker.Start(ctx))
	t.Cleanup(func() { _ = worker.Stop() })

	require.NoError(t, mailer.DeliverLater(context.Background(), mockmail.BuildMessage()))

	select {
	case params := <-delivered:
		assert.Equal(t, "you@yourwebsite.com", params.SendTo)
	case <-time.After(2 * time.Second):
		t.Fatal("email was not delivered")
	}

	// Completed tasks may already be dropped; nothing may be left to run.
	assert.Eventually(t, func() bool {
		for _, task := range storage.Tasks(mockmail.MailerQueue) {
			if task.Status != queue.TaskStatusCompleted {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, storage.DeadLetters())
}

func TestNewDeliverEmailTask_CarriesTraceContext(t *testing.T) {
	t.Parallel()

	_, err := telemetry.Setup(context.Background(), telemetry.Config{})
	require.NoError(t, err)

	const parent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	ctx := telemetry.Extract(context.Background(), telemetry.TraceContext{TraceParent: parent})

	task := mockmail.NewDeliverEmailTask(ctx, mockmail.BuildMessage())
	assert.Equal(t, parent, task.TraceParent)
	assert.Equal(t, mockmail.BuildMessage(), task.Message())

	raw, err := json.Marshal(task)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"traceparent":"`+parent+`"`)
}
