package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yasushisakai/ornot-server/internal/config"
	"github.com/yasushisakai/ornot-server/internal/domain"
	"github.com/yasushisakai/ornot-server/internal/infra/database"
	"github.com/yasushisakai/ornot-server/internal/infra/gateway"
	"github.com/yasushisakai/ornot-server/internal/infra/store"
	"github.com/yasushisakai/ornot-server/internal/present/rest"
	authmw "github.com/yasushisakai/ornot-server/internal/present/rest/middleware"
	"github.com/yasushisakai/ornot-server/internal/service"
	"github.com/yasushisakai/ornot-server/internal/usecase"
)

const serviceName = "ornot"

func main() {
	configPath := flag.String("config", "", "path to the yaml config file")
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()), slog.String("module", "main"))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTrace := func(context.Context) error { return nil }
	if conf.Server.EnableTrace {
		shutdownTrace, err = setupTraceProvider(ctx, conf.Server.TraceEndpoint)
		if err != nil {
			slog.Error("failed to set up tracing", slog.String("error", err.Error()), slog.String("module", "main"))
			os.Exit(1)
		}
	}

	backend, err := openBackend(ctx, conf.Store)
	if err != nil {
		slog.Error("failed to open store", slog.String("driver", conf.Store.Driver), slog.String("error", err.Error()), slog.String("module", "main"))
		os.Exit(1)
	}

	s := store.New(backend, store.Options{
		Timeout:     conf.Store.Timeout,
		AtomicIndex: conf.Store.AtomicIndex,
	})

	users := store.NewRepository[domain.User](s)
	topics := store.NewRepository[domain.Topic](s, store.WithItemID(domain.TopicIDFromListItem))
	plans := store.NewRepository[domain.Plan](s)
	snapshots := store.NewRepository[domain.SettingSnapshot](s)
	codes := store.NewRepository[domain.TempCode](s)
	tokens := store.NewRepository[domain.AccessToken](s)

	var mail usecase.MailSender = gateway.LogGateway{}
	if conf.Mail.Host != "" {
		mail = gateway.NewSMTPGateway(gateway.SMTPConfig{
			Host:     conf.Mail.Host,
			Port:     conf.Mail.Port,
			Address:  conf.Mail.Address,
			Password: conf.Mail.Password,
			FromName: conf.Mail.FromName,
		})
	}

	var publisher usecase.Publisher
	var subscriber rest.Subscriber
	if rb, ok := backend.(*store.RedisBackend); ok {
		signalService := service.NewSignalService(rb.Client())
		publisher = signalService
		subscriber = signalService
	}

	if pb, ok := backend.(*store.PostgresBackend); ok {
		go purgeExpired(ctx, pb)
	}

	engine := service.NewTallyService()
	identity := usecase.NewIdentityUsecase(users, codes, tokens, mail, usecase.IdentityConfig{
		TempCodeSalt:    conf.Identity.TempCodeSalt,
		AccessTokenSalt: conf.Identity.AccessTokenSalt,
		VerifyURL:       conf.Identity.VerifyURL,
		MailTimeout:     conf.Identity.MailTimeout,
	})

	handler := rest.NewHandler(
		identity,
		usecase.NewTopicUsecase(topics, plans, snapshots, engine, publisher),
		usecase.NewPlanUsecase(plans),
		usecase.NewSettingUsecase(snapshots, engine),
		usecase.NewReconcileUsecase(users, topics, plans),
		authmw.NewAuthMiddleware(identity, service.NewAuthService(conf.Server.AdminToken)),
		subscriber,
	)

	e := echo.New()
	e.HideBanner = true
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware(serviceName))
	}
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"status":        "ok",
			"indexFailures": s.IndexFailures(),
		})
	})
	handler.RegisterRoutes(e)

	go func() {
		slog.Info("listening", slog.String("addr", conf.Server.Listen), slog.String("driver", conf.Store.Driver), slog.String("module", "main"))
		if err := e.Start(conf.Server.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", slog.String("error", err.Error()), slog.String("module", "main"))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down server", slog.String("error", err.Error()), slog.String("module", "main"))
	}
	identity.WaitMail()
	if err := s.Close(); err != nil {
		slog.Error("failed to close store", slog.String("error", err.Error()), slog.String("module", "main"))
	}
	if err := shutdownTrace(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", slog.String("error", err.Error()), slog.String("module", "main"))
	}
}

func openBackend(ctx context.Context, conf config.Store) (store.Backend, error) {
	switch conf.Driver {
	case "redis":
		rdb := database.NewRedis(conf.RedisAddr, conf.RedisPassword, conf.RedisDB)
		if err := database.PingRedis(rdb); err != nil {
			return nil, err
		}
		return store.NewRedisBackend(rdb), nil
	case "memcached":
		return store.NewMemcachedBackend(database.NewMemcached(conf.MemcachedAddr, conf.Timeout)), nil
	case "postgres":
		db, err := database.NewPostgres(conf.PostgresDsn)
		if err != nil {
			return nil, err
		}
		if err := database.MigratePostgres(db); err != nil {
			return nil, err
		}
		return store.NewPostgresBackend(db), nil
	case "memory":
		return store.NewMemoryBackend(), nil
	default:
		return nil, errors.New("unknown store driver " + conf.Driver)
	}
}

func purgeExpired(ctx context.Context, pb *store.PostgresBackend) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pb.PurgeExpired(ctx)
			if err != nil {
				slog.Warn("failed to purge expired entries", slog.String("error", err.Error()), slog.String("module", "store"))
				continue
			}
			if n > 0 {
				slog.Debug("purged expired entries", slog.Int64("count", n), slog.String("module", "store"))
			}
		}
	}
}

func setupTraceProvider(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
	if endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}
