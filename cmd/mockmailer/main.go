package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/mockmailer/modules/mockmail"
	"github.com/dmitrymomot/mockmailer/pkg/clientip"
	"github.com/dmitrymomot/mockmailer/pkg/config"
	"github.com/dmitrymomot/mockmailer/pkg/cookie"
	"github.com/dmitrymomot/mockmailer/pkg/email"
	"github.com/dmitrymomot/mockmailer/pkg/environment"
	"github.com/dmitrymomot/mockmailer/pkg/httpserver"
	"github.com/dmitrymomot/mockmailer/pkg/logger"
	"github.com/dmitrymomot/mockmailer/pkg/pg"
	"github.com/dmitrymomot/mockmailer/pkg/queue"
	"github.com/dmitrymomot/mockmailer/pkg/redis"
	"github.com/dmitrymomot/mockmailer/pkg/requestid"
	"github.com/dmitrymomot/mockmailer/pkg/telemetry"
)

type appConfig struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Name string `env:"APP_NAME" envDefault:"mockmailer"`

	Logger    logger.Config
	HTTP      httpserver.Config
	Cookie    cookie.Config
	Queue     queue.Config
	Postgres  pg.Config
	Redis     redis.Config
	Email     email.Config
	Telemetry telemetry.Config
}

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	env := environment.Parse(cfg.Env)
	log := logger.New(
		logger.WithEnvironment(env, cfg.Name),
		logger.WithConfig(cfg.Logger),
		logger.WithContextExtractors(
			requestid.LoggerExtractor(),
			environment.LoggerExtractor(),
			clientip.LoggerExtractor(),
		),
	)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(environment.WithContext(ctx, env), cfg, env, log); err != nil {
		log.Error("mockmailer stopped with error", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, env environment.Environment, log *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error("tracer shutdown failed", logger.Error(err))
		}
	}()

	storage, closeStorage, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStorage()

	sender, err := email.NewFromConfig(ctx, cfg.Email, log)
	if err != nil {
		return fmt.Errorf("create email sender: %w", err)
	}

	cookies, err := cookie.NewFromConfig(cfg.Cookie)
	if err != nil {
		return fmt.Errorf("create cookie manager: %w", err)
	}

	enq, err := queue.NewEnqueuer(storage,
		queue.WithDefaultQueue(mockmail.MailerQueue),
		queue.WithDefaultMaxRetries(cfg.Queue.MaxRetries),
	)
	if err != nil {
		return fmt.Errorf("create enqueuer: %w", err)
	}

	worker, err := queue.NewWorker(storage, append(cfg.Queue.WorkerOptions(),
		queue.WithQueues(mockmail.MailerQueue),
		queue.WithWorkerLogger(log),
	)...)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	mailer := mockmail.NewMailer(enq, sender, log)
	worker.RegisterHandlers(mailer.TaskHandler())

	r := chi.NewRouter()
	r.Use(requestid.Middleware, clientip.Middleware, environment.Middleware(env))
	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(log, storage.Healthcheck))
	r.Mount("/", mockmail.Router(mockmail.RouterOptions{
		Emails: mockmail.NewService(mailer, cookies, log),
	}))

	server := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, otelhttp.NewHandler(r, cfg.Name))
	})
	g.Go(worker.Run(ctx))

	log.InfoContext(ctx, "mockmailer started",
		slog.String("queue_driver", string(cfg.Queue.Driver)),
		slog.String("mail_driver", string(cfg.Email.Driver)),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStorage connects the queue backend selected by QUEUE_DRIVER. The
// returned func releases its connections.
func openStorage(ctx context.Context, cfg appConfig, log *slog.Logger) (queue.Storage, func(), error) {
	if err := cfg.Queue.Driver.Validate(); err != nil {
		return nil, nil, err
	}

	switch cfg.Queue.Driver {
	case queue.DriverPostgres:
		pool, err := pg.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx, pool, cfg.Postgres, log); err != nil {
			pool.Close()
			return nil, nil, err
		}
		storage, err := queue.NewPostgresStorage(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return storage, pool.Close, nil

	case queue.DriverRedis:
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		storage, err := queue.NewRedisStorage(client, queue.WithRedisPrefix(cfg.Queue.RedisPrefix))
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return storage, func() {
			if err := client.Close(); err != nil {
				log.Error("failed to close redis client", logger.Error(err))
			}
		}, nil

	default:
		return queue.NewMemoryStorage(queue.WithMemoryCompletedTTL(cfg.Queue.MemoryCompletedTTL)), func() {}, nil
	}
}
