package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"server/internal/adapter/repo"
	"server/internal/db"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/processor"
	"server/internal/service"
	"server/internal/storage"
)

// The worker is the safety net for lost callbacks: it periodically scans for
// jobs that have a processor ref but have not moved in a while and asks the
// processor directly. Backends without a status API are simply skipped.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer dbpool.Close()

	if err := db.EnsureSchema(ctx, dbpool); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to apply schema")
	}

	store, err := storage.NewGateway(ctx, storage.Options{
		Endpoint:    cfg.MinioEndpoint,
		AccessKey:   cfg.MinioAccessKey,
		SecretKey:   cfg.MinioSecretKey,
		Bucket:      cfg.MinioBucket,
		UseSSL:      cfg.MinioUseSSL,
		UploadTTL:   cfg.UploadURLTTL,
		DownloadTTL: cfg.DownloadURLTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: object storage connection failed")
	}

	registry := processor.Registry{
		domain.KindPhotoToVideo: processor.NewFAL(processor.FALOptions{
			BaseURL: cfg.FALBaseURL,
			App:     cfg.FALPhotoToVideoApp,
			Key:     cfg.FALKey,
		}),
		domain.KindVideoTranslation: processor.NewFAL(processor.FALOptions{
			BaseURL: cfg.FALBaseURL,
			App:     cfg.FALVideoTranslationApp,
			Key:     cfg.FALKey,
		}),
		domain.KindEmotionControl: processor.NewModal(processor.ModalOptions{
			Endpoint:  cfg.ModalEmotionEndpoint,
			KeyID:     cfg.ModalKeyID,
			KeySecret: cfg.ModalKeySecret,
		}),
		domain.KindAudioReplacement: processor.NewModal(processor.ModalOptions{
			Endpoint:  cfg.ModalAudioEndpoint,
			KeyID:     cfg.ModalKeyID,
			KeySecret: cfg.ModalKeySecret,
		}),
	}

	jobs := service.NewJobs(repo.NewJobRepository(dbpool), store, registry, cfg.CallbackBaseURL, cfg.CallbackToken, logger)

	logger.Info().
		Dur("interval", cfg.WorkerPollInterval).
		Dur("stale_after", cfg.WorkerStaleAfter).
		Msg("worker started")

	ticker := time.NewTicker(cfg.WorkerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker stopped")
			return
		case <-ticker.C:
			reconcile(ctx, jobs, cfg, logger)
		}
	}
}

func reconcile(ctx context.Context, jobs *service.Jobs, cfg *infra.Config, logger zerolog.Logger) {
	stale, err := jobs.ListPollable(ctx, int(cfg.WorkerStaleAfter.Seconds()), cfg.WorkerBatchSize)
	if err != nil {
		logger.Error().Err(err).Msg("worker: stale job scan failed")
		return
	}
	for i := range stale {
		job := &stale[i]
		applied, err := jobs.Poll(ctx, job)
		if err != nil {
			logger.Error().Err(err).Str("job_id", job.ID).Str("kind", string(job.Kind)).Msg("worker: poll failed")
			continue
		}
		if applied {
			logger.Info().Str("job_id", job.ID).Msg("worker: reconciled job from processor status")
		}
	}
}
