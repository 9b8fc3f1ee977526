// Package main wires together the warehouse service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/addisanalytics/medtel-warehouse/internal/api"
	"github.com/addisanalytics/medtel-warehouse/internal/classifier"
	"github.com/addisanalytics/medtel-warehouse/internal/clock/system"
	"github.com/addisanalytics/medtel-warehouse/internal/config"
	"github.com/addisanalytics/medtel-warehouse/internal/detector"
	"github.com/addisanalytics/medtel-warehouse/internal/enrich"
	"github.com/addisanalytics/medtel-warehouse/internal/id/uuid"
	"github.com/addisanalytics/medtel-warehouse/internal/ingest"
	"github.com/addisanalytics/medtel-warehouse/internal/logging"
	"github.com/addisanalytics/medtel-warehouse/internal/metrics"
	"github.com/addisanalytics/medtel-warehouse/internal/pipeline"
	"github.com/addisanalytics/medtel-warehouse/internal/publisher"
	pubsubpublisher "github.com/addisanalytics/medtel-warehouse/internal/publisher/pubsub"
	"github.com/addisanalytics/medtel-warehouse/internal/storage"
	gcsstorage "github.com/addisanalytics/medtel-warehouse/internal/storage/gcs"
	localstorage "github.com/addisanalytics/medtel-warehouse/internal/storage/local"
	memorystorage "github.com/addisanalytics/medtel-warehouse/internal/storage/memory"
	"github.com/addisanalytics/medtel-warehouse/internal/store"
	"github.com/addisanalytics/medtel-warehouse/internal/telegram"
	"github.com/addisanalytics/medtel-warehouse/internal/warehouse"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	runOnce := flag.Bool("run-once", false, "Execute one pipeline run and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *runOnce); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, runOnce bool) error {
	st, err := store.New(ctx, store.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	}, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	det, err := newDetector(cfg)
	if err != nil {
		return fmt.Errorf("init detector: %w", err)
	}

	pub, cleanup, err := newPublisher(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	defer cleanup()

	clock := system.New()
	scraper := newScraper(cfg, blobs, clock, logger)

	loader := ingest.NewLoader(cfg.Paths.MessagesDir, st, logger)

	transform, err := pipeline.NewExecStage("transform", cfg.Transform.Command, cfg.Transform.Dir, logger)
	if err != nil {
		return fmt.Errorf("init transform stage: %w", err)
	}

	cls := classifier.New(cfg.Classifier.ProductKeywords)
	detectStep := enrich.NewRunner(cfg.Paths.ImagesDir, cfg.Paths.ProcessedDir, det, cls, logger)
	loadStep := enrich.NewLoader(detectStep.ArtifactPath(), st, logger)

	stages := []pipeline.Stage{
		pipeline.StageFunc{StageName: "scrape", Fn: scraper.Run},
		pipeline.StageFunc{StageName: "load", Fn: loader.Run},
		transform,
		pipeline.NewEnrichStage(
			pipeline.StageFunc{StageName: "detect", Fn: detectStep.Run},
			pipeline.StageFunc{StageName: "load-detections", Fn: loadStep.Run},
		),
	}
	runner := pipeline.NewRunner(stages, logger, clock, uuid.New(), pub, cfg.PubSub.TopicName)

	if runOnce {
		return runner.Run(ctx)
	}

	engine := warehouse.NewEngine(st)
	server := api.NewServer(
		api.NewAnalytics(st.Querier()),
		engine,
		runner,
		api.AuthConfig{Enabled: cfg.Auth.Enabled, APIKey: cfg.Auth.APIKey},
		logger,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func newBlobStore(ctx context.Context, cfg config.Config) (storage.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "local":
		return localstorage.New(localstorage.Config{BaseDir: cfg.Paths.ImagesDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		remote, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: cfg.Storage.GCSBucket,
			Prefix: cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return mirrorToImagesDir(remote, cfg.Paths.ImagesDir)
	case "memory":
		return mirrorToImagesDir(memorystorage.NewBlobStore(), cfg.Paths.ImagesDir)
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}
}

// Non-local providers keep a copy of every photo under images_dir, where the
// enrich stage walks for archived media.
func mirrorToImagesDir(primary storage.BlobStore, imagesDir string) (storage.BlobStore, error) {
	local, err := localstorage.New(localstorage.Config{BaseDir: imagesDir})
	if err != nil {
		return nil, fmt.Errorf("local mirror: %w", err)
	}
	return storage.NewMirror(primary, local), nil
}

func newDetector(cfg config.Config) (detector.Detector, error) {
	switch cfg.Detector.Provider {
	case "http":
		return detector.NewHTTP(detector.HTTPConfig{
			Endpoint:      cfg.Detector.Endpoint,
			Model:         cfg.Detector.Model,
			Timeout:       time.Duration(cfg.Detector.TimeoutSeconds) * time.Second,
			MinConfidence: cfg.Detector.MinConfidence,
		})
	case "openai":
		client := openai.NewClient(option.WithAPIKey(cfg.Detector.OpenAIKey))
		return detector.NewOpenAI(&client, detector.OpenAIConfig{
			Model:         cfg.Detector.OpenAIModel,
			MinConfidence: cfg.Detector.MinConfidence,
		})
	case "noop":
		return detector.NoOp{}, nil
	default:
		return nil, fmt.Errorf("unknown detector provider: %s", cfg.Detector.Provider)
	}
}

func newPublisher(ctx context.Context, cfg config.Config) (publisher.Publisher, func(), error) {
	if !cfg.PubSub.Enabled {
		return publisher.NoOp{}, func() {}, nil
	}
	client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	cleanup := func() {
		topic.Stop()
		_ = client.Close()
	}
	return pubsubpublisher.New(topic), cleanup, nil
}

func newScraper(cfg config.Config, blobs storage.BlobStore, clock telegram.Clock, logger *zap.Logger) *telegram.Scraper {
	fetchCfg := telegram.FetchConfig{
		UserAgent: cfg.Telegram.UserAgent,
		Timeout:   time.Duration(cfg.Telegram.TimeoutSeconds) * time.Second,
	}
	fast := telegram.NewCollyFetcher(fetchCfg)

	var headless telegram.PageFetcher
	if cfg.Telegram.HeadlessFallback {
		headless = telegram.NewChromedpFetcher(fetchCfg, time.Duration(cfg.Telegram.NavTimeoutSec)*time.Second)
	}

	return telegram.NewScraper(telegram.Config{
		Channels:    cfg.Telegram.Channels,
		FetchLimit:  cfg.Telegram.FetchLimit,
		BaseURL:     cfg.Telegram.BaseURL,
		MessagesDir: cfg.Paths.MessagesDir,
	}, fast, headless, blobs, clock, logger)
}
