package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moodreel/moodreel/internal/api"
	"github.com/moodreel/moodreel/internal/assembly"
	"github.com/moodreel/moodreel/internal/config"
	"github.com/moodreel/moodreel/internal/db"
	"github.com/moodreel/moodreel/internal/fulfill"
	"github.com/moodreel/moodreel/internal/planner"
	"github.com/moodreel/moodreel/internal/queue"
	"github.com/moodreel/moodreel/internal/services"
	"github.com/moodreel/moodreel/internal/storage"
	"github.com/moodreel/moodreel/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet
		panic(err)
	}

	log := config.NewLogger(cfg.AppEnv)
	log.Info().Str("env", cfg.AppEnv).Msg("starting moodreel API")

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()
	log.Info().Msg("connected to database")

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to queue")
	}
	defer q.Close()
	log.Info().Msg("connected to redis queue")

	stor := storage.New(cfg.StorageURL, cfg.StorageServiceKey, cfg.StorageBucket, log)

	handler := api.NewHandler(database, q, stor, cfg.OutputsPrefix, cfg.AssemblyEnabled, log)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
		Logger:             log,
	})

	if cfg.BackendAPIKey == "" {
		log.Warn().Msg("no BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		llm := services.NewStoryboardService(cfg.OpenAIKey, cfg.StoryboardModel, log)
		lipsync := services.NewLipSyncService(cfg.LipSyncURL, cfg.LipSyncKey, log)

		var saKey []byte
		if cfg.VideoSAKeyPath != "" {
			saKey, err = os.ReadFile(cfg.VideoSAKeyPath)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to read video service account key")
			}
		}
		video, err := services.NewTextToVideoService(context.Background(), cfg.VideoEndpoint, saKey, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize text-to-video service")
		}

		log.Info().
			Bool("storyboard", cfg.OpenAIKey != "").
			Bool("text_to_video", video.Available()).
			Bool("lip_sync", cfg.LipSyncKey != "").
			Msg("provider availability")

		// Server-side assembly is optional; without it clients render from
		// the manifest themselves.
		var assembler *assembly.Assembler
		if cfg.AssemblyEnabled {
			assembler = assembly.NewAssembler(
				assembly.NewHTTPFetcher(),
				assembly.NewFFmpegEncoder(log),
				cfg.TempDir,
				log,
			)
			log.Info().Str("temp_dir", cfg.TempDir).Msg("server-side assembly enabled")
		}

		w := worker.New(
			database, q,
			planner.New(llm, log),
			fulfill.New(video, lipsync, log),
			assembler, stor,
			cfg.StorageBucket, cfg.OutputsPrefix,
			int64(cfg.MaxConcurrentJobs),
			log,
		)

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, cfg.MaxConcurrentJobs)
	}

	go func() {
		log.Info().Str("port", cfg.APIPort).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	if workerCancel != nil {
		workerCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
}
