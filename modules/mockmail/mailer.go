package mockmail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrymomot/mockmailer/pkg/email"
	"github.com/dmitrymomot/mockmailer/pkg/logger"
	"github.com/dmitrymomot/mockmailer/pkg/queue"
	"github.com/dmitrymomot/mockmailer/pkg/telemetry"
)

// MailerQueue is the queue deliveries are enqueued on.
const MailerQueue = "mailers"

var tracer = otel.Tracer("github.com/dmitrymomot/mockmailer/modules/mockmail")

// DeliverEmailTask is the queued payload for one delivery. The trace context
// links the worker span to the request that scheduled it.
type DeliverEmailTask struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`

	telemetry.TraceContext
}

// NewDeliverEmailTask builds the payload for msg, capturing the span in ctx.
func NewDeliverEmailTask(ctx context.Context, msg Message) DeliverEmailTask {
	return DeliverEmailTask{
		To:           msg.To,
		Subject:      msg.Subject,
		Body:         msg.Body,
		TraceContext: telemetry.Inject(ctx),
	}
}

// Message returns the email carried by the task.
func (t DeliverEmailTask) Message() Message {
	return Message{To: t.To, Subject: t.Subject, Body: t.Body}
}

type enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) (uuid.UUID, error)
}

// Mailer schedules messages on the queue and delivers them from the worker.
type Mailer struct {
	enq    enqueuer
	sender email.EmailSender
	log    *slog.Logger
}

func NewMailer(enq enqueuer, sender email.EmailSender, log *slog.Logger) *Mailer {
	if log == nil {
		log = slog.Default()
	}
	return &Mailer{enq: enq, sender: sender, log: log.With(logger.Component("mockmail.mailer"))}
}

// DeliverLater enqueues msg and returns once it is stored. It reports only
// enqueue failures; delivery errors stay with the queue.
func (m *Mailer) DeliverLater(ctx context.Context, msg Message) error {
	id, err := m.enq.Enqueue(ctx, NewDeliverEmailTask(ctx, msg), queue.WithQueue(MailerQueue))
	if err != nil {
		return fmt.Errorf("enqueue mock email: %w", err)
	}
	m.log.DebugContext(ctx, "mock email enqueued", logger.TaskID(id.String()), logger.Recipient(msg.To))
	return nil
}

// Deliver sends one queued message. Errors are returned to the worker, which
// retries and eventually dead-letters the task.
func (m *Mailer) Deliver(ctx context.Context, task DeliverEmailTask) (err error) {
	ctx, span := tracer.Start(telemetry.Extract(ctx, task.TraceContext), "mockmail.deliver",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("email.tag", "mock_email")),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	params, err := task.Message().SendEmailParams(ctx)
	if err != nil {
		return err
	}
	if err := m.sender.SendEmail(ctx, params); err != nil {
		return fmt.Errorf("send mock email to %s: %w", task.To, err)
	}
	m.log.InfoContext(ctx, "mock email delivered", logger.Recipient(task.To))
	return nil
}

// TaskHandler exposes Deliver to a queue.Worker.
func (m *Mailer) TaskHandler() queue.Handler {
	return queue.NewTaskHandler(m.Deliver)
}
