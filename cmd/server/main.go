// Command server starts the ingestion core's submission/status HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	httpserver "github.com/resumecore/ingestion-core/internal/adapter/httpserver"
	"github.com/resumecore/ingestion-core/internal/adapter/observability"
	asynqadp "github.com/resumecore/ingestion-core/internal/adapter/queue/asynq"
	"github.com/resumecore/ingestion-core/internal/adapter/queue/redpanda"
	"github.com/resumecore/ingestion-core/internal/adapter/repo/postgres"
	qdrantcli "github.com/resumecore/ingestion-core/internal/adapter/vector/qdrant"
	"github.com/resumecore/ingestion-core/internal/app"
	"github.com/resumecore/ingestion-core/internal/config"
	"github.com/resumecore/ingestion-core/internal/domain"
	"github.com/resumecore/ingestion-core/internal/usecase/ledger"
	"github.com/resumecore/ingestion-core/internal/usecase/orchestrator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Dev-only per-request metrics are gated on the running environment.
	observability.SetAppEnv(cfg.AppEnv)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.MetadataStoreURL)
	if err != nil {
		slog.Error("metadata store connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	jobRepo := postgres.NewJobRepo(pool)
	candidateRepo := postgres.NewCandidateRepo(pool)
	ledgerRepo := postgres.NewLedgerRepo(pool)
	tenantRepo := postgres.NewTenantRepo(pool)

	var queue domain.Queue
	if cfg.IsProd() {
		brokers := strings.Split(cfg.QueueURL, ",")
		q, err := redpanda.NewQueue(brokers, "ingestion-workers")
		if err != nil {
			slog.Error("redpanda queue connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := q.Close(); err != nil {
				slog.Error("failed to close queue", slog.Any("error", err))
			}
		}()
		queue = q
		slog.Info("queue backend selected", slog.String("backend", "redpanda"), slog.Any("brokers", brokers))
	} else {
		q, err := asynqadp.New(cfg.RedisURL)
		if err != nil {
			slog.Error("dev queue connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		queue = q
		slog.Info("queue backend selected", slog.String("backend", "asynq"))
	}

	blobs, err := app.BuildBlobStore(ctx, cfg)
	if err != nil {
		slog.Error("blob store connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	var qcli *qdrantcli.Client
	if cfg.QdrantURL != "" {
		qcli = qdrantcli.New(cfg.QdrantURL, cfg.QdrantAPIKey)
	}
	app.EnsureCandidatesCollection(ctx, qcli)

	ledgerSvc := ledger.NewService(tenantRepo, ledgerRepo)
	orch := orchestrator.NewService(jobRepo, candidateRepo, queue, ledgerSvc)

	dbCheck, qdrantCheck, tikaCheck := app.BuildReadinessChecks(cfg, pool)

	srv := httpserver.NewServer(cfg, orch, blobs, dbCheck, qdrantCheck, tikaCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
