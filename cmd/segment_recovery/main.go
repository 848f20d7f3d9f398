package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/segment_recovery/internal/blobstore"
	"github.com/italolelis/segment_recovery/internal/config"
	"github.com/italolelis/segment_recovery/internal/downloader"
	"github.com/italolelis/segment_recovery/internal/http/rest"
	"github.com/italolelis/segment_recovery/internal/logctx"
	"github.com/italolelis/segment_recovery/internal/notifier"
	"github.com/italolelis/segment_recovery/internal/recovery"
	"github.com/italolelis/segment_recovery/internal/storage/sqlite"
	"github.com/italolelis/segment_recovery/internal/telemetry"
	"github.com/italolelis/segment_recovery/internal/workerpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := logctx.New(os.Stdout, cfg.SlogLevel())
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("segment recovery starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInterval:   cfg.Telemetry.OTLPInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	ledger := sqlite.NewInstrumentedRecoveryRepository(database, tel)

	// =========================================================================
	// Start Stores
	source, err := blobstore.OpenBucket(ctx, cfg.SourceBucketURL)
	if err != nil {
		return fmt.Errorf("failed to open source bucket: %w", err)
	}
	defer source.Close()

	target, err := blobstore.NewLocal(cfg.TargetDir)
	if err != nil {
		return fmt.Errorf("failed to open target directory: %w", err)
	}

	var mirror blobstore.Directory

	if cfg.MirrorBucketURL != "" {
		bucket, err := blobstore.OpenBucket(ctx, cfg.MirrorBucketURL)
		if err != nil {
			return fmt.Errorf("failed to open mirror bucket: %w", err)
		}
		defer bucket.Close()

		mirror = blobstore.Instrument(bucket, tel)
	}

	// =========================================================================
	// Start Worker Pools
	recoveryPool := workerpool.New(ctx, "remote_recovery", cfg.RemoteRecoveryPoolSize, workerpool.WithTelemetry(tel))
	defer recoveryPool.Close()

	partPool := workerpool.New(ctx, "remote_part_download", cfg.MaxConcurrentParts, workerpool.WithTelemetry(tel))
	defer partPool.Close()

	// =========================================================================
	// Start Downloader
	d := downloader.New(recoveryPool, cfg.MaxConcurrentRemoteStoreStreams,
		downloader.WithTelemetry(tel),
		downloader.WithMultipart(partPool, int64(cfg.MultipartThreshold), int64(cfg.PartSize), cfg.MaxConcurrentParts),
	)

	opts := []recovery.Option{
		recovery.WithLedger(ledger),
		recovery.WithCleanupOnFailure(cfg.CleanupOnFailure),
	}

	if mirror != nil {
		opts = append(opts, recovery.WithMirror(mirror))
	}

	if cfg.DiscordWebhookURL != "" {
		opts = append(opts, recovery.WithNotifier(&notifier.DiscordNotifier{
			WebhookURL: cfg.DiscordWebhookURL,
			Client:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		}))
	}

	// The target stays unwrapped so multipart downloads can write to its paths directly.
	service := recovery.NewService(d, blobstore.Instrument(source, tel), target, opts...)
	defer service.Wait()

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, tel, service, ledger)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for recoveries...",
		"source", source.URL(),
		"target_dir", target.Root(),
		"mirror", mirror != nil,
		"max_streams", cfg.MaxConcurrentRemoteStoreStreams,
		"pool_size", cfg.RemoteRecoveryPoolSize,
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, batches rest.BatchStarter, ledger *sqlite.InstrumentedRecoveryRepository) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(tel.Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", rest.NewRecoveryHandler(cfg.API.Username, cfg.API.Password, batches, ledger).Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "segment_recovery"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
