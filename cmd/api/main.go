package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/versevid/versevid/internal/api"
	"github.com/versevid/versevid/internal/comfy"
	"github.com/versevid/versevid/internal/config"
	"github.com/versevid/versevid/internal/pipeline"
	"github.com/versevid/versevid/internal/progress"
	"github.com/versevid/versevid/internal/queue"
	"github.com/versevid/versevid/internal/services"
	"github.com/versevid/versevid/internal/video"
	"github.com/versevid/versevid/internal/worker"
)

func main() {
	log.Println("Starting VerseVid API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Pick the progress store: Postgres when configured, JSON files otherwise
	var store progress.Store
	if cfg.DatabaseURL != "" {
		pg, err := progress.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pg.Close()
		store = pg
		log.Println("Job progress persisted to Postgres")
	} else {
		fs, err := progress.NewFileStore(cfg.ProgressDir)
		if err != nil {
			log.Fatalf("Failed to create progress store: %v", err)
		}
		store = fs
		log.Printf("Job progress persisted to %s", cfg.ProgressDir)
	}
	tracker := progress.NewTracker(store)

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Create API handler
	handler := api.NewHandler(tracker, q)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCtx context.Context
	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")

		// Render backend
		client := comfy.NewClient(cfg.ComfyUIURL)
		renderer, err := comfy.NewRenderer(client, cfg.WorkflowPath, comfy.RendererConfig{
			Timeout:      time.Duration(cfg.RenderTimeoutSec) * time.Second,
			PollInterval: time.Duration(cfg.PollIntervalSec) * time.Second,
			Width:        cfg.RenderWidth,
			Height:       cfg.RenderHeight,
		})
		if err != nil {
			log.Fatalf("Failed to load render workflow: %v", err)
		}

		// Media tooling
		runner := video.NewRunner()
		prober := video.NewFFprobe(cfg.FFprobePath, runner)
		synth := video.NewSynthesizer(cfg.FFmpegPath, runner, prober, cfg.RenderWidth, cfg.RenderHeight)
		compositor := video.NewCompositor(cfg.FFmpegPath, os.TempDir(), runner, prober)
		muxer := video.NewMuxer(cfg.FFmpegPath, runner)

		deps := pipeline.Deps{
			Audio:             services.NewAudioService(),
			Renderer:          renderer,
			Synthesizer:       synth,
			Compositor:        compositor,
			Muxer:             muxer,
			Prober:            prober,
			Tracker:           tracker,
			OutputDir:         cfg.OutputDir,
			RenderConcurrency: cfg.SceneConcurrency,
		}

		// Lyric transcription — optional, planning degrades without it
		if lyricsSvc := services.NewLyricsService(cfg.OpenAIKey); lyricsSvc != nil {
			deps.Lyrics = lyricsSvc
			log.Println("Lyric transcription enabled (Whisper)")
		} else {
			log.Println("Lyric transcription disabled — scenes planned from audio length")
		}

		// Gemini image fallback — optional, rescues individual failed scenes
		if geminiSvc := services.NewGeminiService(cfg.GeminiKey, cfg.GeminiModel); geminiSvc != nil {
			deps.Fallback = geminiSvc
			log.Printf("Gemini fallback renderer enabled (model: %s)", cfg.GeminiModel)
		}

		generator := pipeline.NewGenerator(deps)
		w := worker.New(q, generator)

		// Start worker in background
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, cfg.MaxConcurrentJobs)
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Shutdown worker
	if workerCancel != nil {
		workerCancel()
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
