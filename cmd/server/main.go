// Package main initializes and starts the Storink evidence server,
// setting up configuration, logging, database connections, repositories,
// services, handlers, and optional TLS.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	nethttp "net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zainulabideen041/storink/internal/blob"
	"github.com/zainulabideen041/storink/internal/config"
	"github.com/zainulabideen041/storink/internal/db"
	"github.com/zainulabideen041/storink/internal/logger"
	"github.com/zainulabideen041/storink/internal/metrics"
	"github.com/zainulabideen041/storink/internal/notify"
	"github.com/zainulabideen041/storink/internal/ratelimit"
	"github.com/zainulabideen041/storink/internal/repository"
	"github.com/zainulabideen041/storink/internal/server/handler/http"
	"github.com/zainulabideen041/storink/internal/service"
	"github.com/zainulabideen041/storink/internal/token"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	options, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	log := logger.New()
	if err := log.InitEnv(options.Log.Level, options.Log.Env); err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, options, log.Log); err != nil {
		log.Log.Fatal("server stopped", zap.Error(err))
	}
}

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, options *config.Options, log *zap.Logger) error {
	sqlDB, err := db.InitPostgres(ctx, options.Database.DSN, db.PoolOptions{
		MaxOpenConns:    options.Database.MaxOpenConns,
		MaxIdleConns:    options.Database.MaxIdleConns,
		ConnMaxLifetime: options.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer sqlDB.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewDBStatsCollector(sqlDB, "storink"))
	m := metrics.New(reg)

	limiter, closeLimiter, err := newLimiter(ctx, options, log)
	if err != nil {
		return err
	}
	defer closeLimiter()

	notifier, closeNotifier, err := newNotifier(options, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	dispatcher := notify.NewDispatcher(context.WithoutCancel(ctx), notifier, log, options.Notify.Timeout,
		notify.WithFailureHook(func(msg notify.Message, _ error) {
			m.IncNotificationFailure(string(msg.Purpose))
		}),
	)
	defer dispatcher.Wait()

	blobs, err := blob.NewFSStore(options.Blob.Root, options.Blob.BaseURL, options.Blob.MaxSize)
	if err != nil {
		return err
	}

	identities := repository.NewPostgresIdentityRepository(sqlDB)
	evidence := repository.NewPostgresEvidenceRepository(sqlDB)
	cases := repository.NewPostgresCaseRepository(sqlDB)

	tokens := token.NewService(options.Auth.JWTSecret, options.Auth.JWTIssuer)
	hasher := service.NewBcryptHasher(options.Auth.BcryptCost)
	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithCodeTTL(options.Onboarding.CodeTTL),
	}

	onboarding := service.NewOnboardingService(identities, tokens, dispatcher, limiter, hasher, opts...)
	reset := service.NewPasswordResetService(identities, dispatcher, limiter, hasher, opts...)
	evidenceSvc := service.NewEvidenceService(evidence, blobs, opts...)
	linking := service.NewLinkingService(cases, evidence, blobs, opts...)

	router := http.NewRouter(http.Handlers{
		Auth:        &http.AuthHandler{Onboarding: onboarding, Log: log, AllowAdminBootstrap: options.Auth.AllowAdminBootstrap},
		Reset:       &http.ResetHandler{Reset: reset, Log: log},
		Users:       &http.UserHandler{Onboarding: onboarding, Log: log},
		Screenshots: &http.ScreenshotHandler{Evidence: evidenceSvc, Linking: linking, Log: log, MaxCandidateBytes: options.Blob.MaxSize},
		Cases:       &http.CaseHandler{Linking: linking, Log: log},
		Blobs:       &http.BlobHandler{Store: blobs, Log: log},
		Health:      &http.HealthHandler{DB: sqlDB, Log: log},

		MaxBodyBytes: options.Server.MaxBodyBytes,
	}, tokens, log, m)

	server := &nethttp.Server{
		Addr:         options.Server.Addr,
		Handler:      router,
		ReadTimeout:  options.Server.ReadTimeout,
		WriteTimeout: options.Server.WriteTimeout,
	}
	if options.Server.TLSCert != "" {
		server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	g, gctx := errgroup.WithContext(ctx)

	cleanerDone := db.StartExpiredPendingCleaner(gctx, sqlDB,
		options.Onboarding.CleanerInterval,
		options.Onboarding.CleanerRetention,
		log,
	)

	g.Go(func() error {
		var err error
		if options.Server.TLSCert != "" {
			log.Info("starting HTTPS server", zap.String("addr", server.Addr))
			err = server.ListenAndServeTLS(options.Server.TLSCert, options.Server.TLSKey)
		} else {
			log.Info("starting HTTP server", zap.String("addr", server.Addr))
			err = server.ListenAndServe()
		}
		if errors.Is(err, nethttp.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), options.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		<-cleanerDone
		return nil
	})

	return g.Wait()
}

// newLimiter returns the redis limiter when redis.url is set, otherwise the
// in-memory one.
func newLimiter(ctx context.Context, options *config.Options, log *zap.Logger) (ratelimit.Limiter, func(), error) {
	maxAttempts := options.Onboarding.MaxCodeAttempts
	window := options.Onboarding.CodeTTL
	if options.Redis.URL == "" {
		log.Info("using in-memory attempt limiter")
		return ratelimit.NewMemoryLimiter(maxAttempts, window), func() {}, nil
	}

	redisOpts, err := redis.ParseURL(options.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info("using redis attempt limiter", zap.String("addr", redisOpts.Addr))
	return ratelimit.NewRedisLimiter(client, "storink:attempts:", maxAttempts, window),
		func() { _ = client.Close() }, nil
}

func newNotifier(options *config.Options, log *zap.Logger) (notify.Notifier, func(), error) {
	switch options.Notify.Driver {
	case "kafka":
		k, err := notify.NewKafkaNotifier(options.Notify.Brokers, options.Notify.Topic)
		if err != nil {
			return nil, nil, err
		}
		log.Info("publishing notifications to kafka", zap.String("topic", options.Notify.Topic))
		return k, k.Close, nil
	default:
		return notify.NewLogNotifier(log), func() {}, nil
	}
}
