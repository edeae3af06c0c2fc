// Command worker polls the queue and drives each ProcessingJob through the
// Worker Pipeline: parse, cross-check extraction, privacy, embedding, and
// persistence.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/resumecore/ingestion-core/internal/adapter/ai"
	"github.com/resumecore/ingestion-core/internal/adapter/crypto"
	"github.com/resumecore/ingestion-core/internal/adapter/observability"
	asynqadp "github.com/resumecore/ingestion-core/internal/adapter/queue/asynq"
	"github.com/resumecore/ingestion-core/internal/adapter/queue/redpanda"
	"github.com/resumecore/ingestion-core/internal/adapter/repo/postgres"
	"github.com/resumecore/ingestion-core/internal/adapter/textextractor/tika"
	qdrantcli "github.com/resumecore/ingestion-core/internal/adapter/vector/qdrant"
	"github.com/resumecore/ingestion-core/internal/adapter/webhook"
	"github.com/resumecore/ingestion-core/internal/app"
	"github.com/resumecore/ingestion-core/internal/config"
	"github.com/resumecore/ingestion-core/internal/domain"
	"github.com/resumecore/ingestion-core/internal/pipeline"
	"github.com/resumecore/ingestion-core/internal/usecase/ledger"
)

// visibilityTimeout sets the lease heartbeat interval (a third of it); the
// worker does not pass it to the queue, so it does not itself bound how long
// a job stays claimed.
const visibilityTimeout = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.MetadataStoreURL)
	if err != nil {
		slog.Error("metadata store connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	jobRepo := postgres.NewJobRepo(pool)
	candidateRepo := postgres.NewCandidateRepo(pool)
	ledgerRepo := postgres.NewLedgerRepo(pool)
	tenantRepo := postgres.NewTenantRepo(pool)
	skillRepo := postgres.NewSkillSynonymRepo(pool)
	webhookFailureRepo := postgres.NewWebhookFailureRepo(pool)

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
	} else {
		q, err := asynqadp.New(cfg.RedisURL)
		if err != nil {
			slog.Error("dev queue connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		queue = q
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

	privacyAgent, err := crypto.NewPrivacyAgent(cfg.EncryptionKey, cfg.HashSalt)
	if err != nil {
		slog.Error("privacy agent init failed", slog.Any("error", err))
		os.Exit(1)
	}

	maxElapsed, initInterval, maxInterval, multiplier := cfg.GetAIBackoffConfig()
	newProvider := func(name, baseURL, apiKey, model string, timeout time.Duration) domain.LLMClient {
		return ai.New(ai.Config{
			Name:                   name,
			BaseURL:                baseURL,
			APIKey:                 apiKey,
			Model:                  model,
			Timeout:                timeout,
			CBFailureThreshold:     cfg.CBFailureThreshold,
			CBCooldown:             cfg.CBCooldown,
			BackoffMaxElapsedTime:  maxElapsed,
			BackoffInitialInterval: initInterval,
			BackoffMaxInterval:     maxInterval,
			BackoffMultiplier:      multiplier,
		})
	}
	llms := ai.Manager{
		Primary:   newProvider("primary", cfg.PrimaryLLMBaseURL, cfg.PrimaryLLMKey, cfg.PrimaryLLMModel, cfg.LLMTimeout),
		Secondary: newProvider("secondary", cfg.SecondaryLLMBaseURL, cfg.SecondaryLLMKey, cfg.SecondaryLLMModel, cfg.LLMTimeout),
		Tertiary:  newProvider("tertiary", cfg.TertiaryLLMBaseURL, cfg.TertiaryLLMKey, cfg.TertiaryLLMModel, cfg.LLMTimeout),
		Embedding: newProvider("embedding", cfg.EmbeddingBaseURL, cfg.EmbeddingKey, cfg.EmbeddingsModel, cfg.EmbedTimeout),
	}

	p := &pipeline.Pipeline{
		Jobs:       jobRepo,
		Candidates: candidateRepo,
		Blobs:      blobs,
		Extractor:  tika.New(cfg.TikaURL),
		Skills:     skillRepo,
		Ledger:     ledger.NewService(tenantRepo, ledgerRepo),
		Privacy:    privacyAgent,
		Vector:     qcli,
		Webhooks:   webhook.NewEmitter(webhookFailureRepo, cfg.WebhookTimeout),
		LLMs:       llms,
		Cfg:        cfg,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	slog.Info("worker starting", slog.Int("concurrency", cfg.ConsumerMaxConcurrency))
	runLoop(ctx, queue, p, cfg.ConsumerMaxConcurrency)
	slog.Info("worker stopped")
}

// runLoop fans job receipt out across concurrency workers, each pulling
// independently from the queue; Heartbeat is sent on an interval well under
// visibilityTimeout so a slow job doesn't get redelivered to another worker
// mid-processing.
func runLoop(ctx context.Context, queue domain.Queue, p *pipeline.Pipeline, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	done := make(chan struct{}, concurrency)
	for i := 0; i < concurrency; i++ {
		go func(worker int) {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				processOne(ctx, queue, p, worker)
			}
		}(i)
	}
	<-ctx.Done()
	for i := 0; i < concurrency; i++ {
		<-done
	}
}

func processOne(ctx context.Context, queue domain.Queue, p *pipeline.Pipeline, worker int) {
	msg, receipt, deliveryCount, err := queue.Receive(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("queue receive failed", slog.Int("worker", worker), slog.Any("error", err))
		time.Sleep(time.Second)
		return
	}
	if msg.JobID == "" {
		time.Sleep(200 * time.Millisecond)
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go heartbeatLoop(hbCtx, queue, receipt)

	jobCtx, cancel := context.WithTimeout(ctx, p.Cfg.JobWallClock)
	defer cancel()

	if err := p.Run(jobCtx, msg.JobID); err != nil {
		slog.Error("job processing failed",
			slog.String("job_id", msg.JobID), slog.Int("delivery_count", deliveryCount), slog.Any("error", err))
		if nackErr := queue.Nack(ctx, receipt, err.Error()); nackErr != nil {
			slog.Error("nack failed", slog.String("job_id", msg.JobID), slog.Any("error", nackErr))
		}
		return
	}
	if err := queue.Ack(ctx, receipt); err != nil {
		slog.Error("ack failed", slog.String("job_id", msg.JobID), slog.Any("error", err))
	}
}

func heartbeatLoop(ctx context.Context, queue domain.Queue, receipt string) {
	ticker := time.NewTicker(visibilityTimeout / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := queue.Heartbeat(ctx, receipt); err != nil {
				slog.Warn("heartbeat failed", slog.Any("error", err))
			}
		}
	}
}
