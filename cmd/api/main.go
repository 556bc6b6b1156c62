package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/db"
	"server/internal/domain"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/infra/geoip"
	"server/internal/middleware"
	"server/internal/processor"
	"server/internal/service"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	if err := db.EnsureSchema(ctx, dbpool); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply schema")
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
		logger.Fatal().Err(err).Msg("failed to connect object storage")
	}

	jobRepo := repo.NewJobRepository(dbpool)
	jobs := service.NewJobs(jobRepo, store, buildRegistry(cfg), cfg.CallbackBaseURL, cfg.CallbackToken, logger)
	app := handlers.NewApp(jobs, store, jobRepo, logger, cfg.CallbackToken)

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		defer resolver.Close()
		lookup = resolver.CountryCode
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		AllowedOrigins:  cfg.AllowedOrigins,
		DefaultLocale:   cfg.DefaultLocale,
		CountryLookup:   lookup,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

// buildRegistry maps each job kind to its processing backend.
func buildRegistry(cfg *infra.Config) processor.Registry {
	return processor.Registry{
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
}
