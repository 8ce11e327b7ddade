package mockmail

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/mockmailer/handler"
	"github.com/dmitrymomot/mockmailer/pkg/logger"
	"github.com/dmitrymomot/mockmailer/pkg/requestid"
)

// Notice is the flash message set after every create request.
const Notice = "Mock email sent!"

const noticeKey = "notice"

// CreateRequest carries no input: the message is fixed.
type CreateRequest struct{}

// HomeRequest is the request value for the landing page.
type HomeRequest struct{}

// Deliverer schedules a message for background delivery.
type Deliverer interface {
	DeliverLater(ctx context.Context, msg Message) error
}

// FlashStore writes a one-time value for the next request and reads it back.
type FlashStore interface {
	handler.Flasher
	GetFlash(w http.ResponseWriter, r *http.Request, key string, dest any) error
}

// Service serves the mock email endpoints.
type Service struct {
	mailer       Deliverer
	flash        FlashStore
	log          *slog.Logger
	errorHandler handler.ErrorHandler[handler.Context]
}

func NewService(mailer Deliverer, flash FlashStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("mockmail"))
	return &Service{
		mailer:       mailer,
		flash:        flash,
		log:          log,
		errorHandler: handler.NewErrorHandler(log),
	}
}

func (s *Service) Handle() http.Handler {
	r := chi.NewRouter()

	create := handler.Wrap(s.Create,
		handler.WithDecorators(logRequest[CreateRequest](s.log, "mock email requested")),
		handler.WithErrorHandler[handler.Context, CreateRequest](s.errorHandler),
	)
	r.Post("/", create)
	r.Post("/emails", create)

	r.Get("/", handler.Wrap(s.Home,
		handler.WithErrorHandler[handler.Context, HomeRequest](s.errorHandler),
	))

	return r
}

// Create schedules the mock email and redirects home with Notice. The
// response does not depend on whether scheduling succeeded.
func (s *Service) Create(ctx handler.Context, _ CreateRequest) handler.Response {
	s.deliverLater(ctx)
	return handler.RedirectWithFlash("/", tolerantFlash{store: s.flash, log: s.log}, noticeKey, Notice)
}

// Home renders the landing page and the pending notice, if any.
func (s *Service) Home(ctx handler.Context, _ HomeRequest) handler.Response {
	var notice string
	if s.flash != nil {
		if err := s.flash.GetFlash(ctx.ResponseWriter(), ctx.Request(), noticeKey, &notice); err != nil {
			notice = ""
		}
	}
	return handler.Templ(homePage(notice))
}

func (s *Service) deliverLater(ctx context.Context) {
	// The enqueue outlives a client that disconnects mid-request.
	ctx = context.WithoutCancel(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			s.log.ErrorContext(ctx, "mock email scheduling panicked",
				logger.RequestID(requestid.FromContext(ctx)),
				logger.Error(fmt.Errorf("panic: %v", rec)),
			)
		}
	}()

	if s.mailer == nil {
		s.log.ErrorContext(ctx, "mock email not scheduled: no mailer configured",
			logger.RequestID(requestid.FromContext(ctx)))
		return
	}
	if err := s.mailer.DeliverLater(ctx, BuildMessage()); err != nil {
		s.log.ErrorContext(ctx, "mock email not scheduled",
			logger.RequestID(requestid.FromContext(ctx)),
			logger.Error(err),
		)
	}
}

// tolerantFlash logs flash write failures instead of failing the redirect.
type tolerantFlash struct {
	store handler.Flasher
	log   *slog.Logger
}

func (f tolerantFlash) SetFlash(w http.ResponseWriter, r *http.Request, key string, value any) error {
	if f.store == nil {
		return nil
	}
	if err := f.store.SetFlash(w, r, key, value); err != nil {
		f.log.WarnContext(r.Context(), "flash not stored",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
		)
	}
	return nil
}

func logRequest[R any](log *slog.Logger, msg string) handler.Decorator[handler.Context, R] {
	return func(next handler.HandlerFunc[handler.Context, R]) handler.HandlerFunc[handler.Context, R] {
		return func(ctx handler.Context, req R) handler.Response {
			start := time.Now()
			resp := next(ctx, req)
			r := ctx.Request()
			log.InfoContext(r.Context(), msg,
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				logger.Duration(time.Since(start)),
			)
			return resp
		}
	}
}
