package container

import (
	"context"
	"fmt"
	"net/http"

	"go-repub/internal/assembler"
	"go-repub/internal/config"
	"go-repub/internal/dewarp"
	"go-repub/internal/geometry"
	"go-repub/internal/logger"
	"go-repub/internal/observer"
	"go-repub/internal/ocr"
	"go-repub/internal/ocr/tesseract"
	"go-repub/internal/orchestrator"
	"go-repub/internal/repository"
	"go-repub/internal/review"
	"go-repub/internal/service"
	"go-repub/internal/storage"
	"go-repub/internal/transport"
	"go-repub/internal/vision"
	"go-repub/pkg/validation"
)

// Version is reported by the health endpoint
var Version = "dev"

// Container holds all application dependencies
type Container struct {
	config       *config.Config
	store        storage.ArtifactStore
	repository   repository.JobRepository
	events       *observer.EventPublisher
	metrics      *observer.MetricsObserver
	orchestrator *orchestrator.Orchestrator
	jobService   service.JobService
	handler      http.Handler
	closers      []func() error
}

// Option adjusts the graph before it is built
type Option func(*options)

type options struct {
	store      storage.ArtifactStore
	recognizer ocr.Recognizer
}

// WithStore replaces the configured artifact store
func WithStore(s storage.ArtifactStore) Option {
	return func(o *options) { o.store = s }
}

// WithRecognizer replaces the tesseract recognizer
func WithRecognizer(r ocr.Recognizer) Option {
	return func(o *options) { o.recognizer = r }
}

// NewContainer creates a new dependency injection container. Jobs left
// mid-stage by a previous process are failed so they can be retried.
func NewContainer(ctx context.Context, cfg *config.Config, opts ...Option) (*Container, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger.SetLevel(cfg.Log.Level)

	c := &Container{config: cfg}

	store := o.store
	if store == nil {
		var err error
		if store, err = newStore(cfg.Storage); err != nil {
			return nil, fmt.Errorf("failed to create artifact store: %w", err)
		}
	}
	c.store = store

	repo, err := c.newRepository(ctx, cfg.Repository)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open job repository: %w", err)
	}
	c.repository = repo

	c.events = observer.NewEventPublisher()
	c.metrics = observer.NewMetricsObserver()
	c.events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	c.events.Subscribe(c.metrics)

	recognizer := o.recognizer
	if recognizer == nil && cfg.OCR.Enabled {
		recognizer = tesseract.New(tesseract.Config{
			TessdataPrefix: cfg.OCR.TessdataPrefix,
			PageSegMode:    cfg.OCR.PageSegMode,
			DPI:            cfg.Defaults.DPI,
		})
	}

	locks := repository.NewLocks()
	estimatorCfg := geometry.DefaultConfig()
	estimatorCfg.AnalysisMaxDim = cfg.Pipeline.AnalysisMaxDim

	c.orchestrator = orchestrator.New(orchestrator.Dependencies{
		Repository: repo,
		Store:      store,
		Locks:      locks,
		Estimator:  geometry.NewEstimator(vision.NewDetector(), estimatorCfg),
		Dewarper:   dewarp.New(dewarp.DefaultConfig()),
		Assembler:  assembler.New(store, recognizer, assembler.Config{JPEGQuality: cfg.Pipeline.JPEGQuality}),
		Validator:  validation.NewOptionsValidator(),
		Events:     c.events,
	}, orchestrator.Config{
		JobWorkers:     cfg.Pipeline.JobWorkers,
		PageFanout:     cfg.Pipeline.PageFanout,
		QueueSize:      cfg.Pipeline.QueueSize,
		ThumbnailWidth: cfg.Pipeline.ThumbnailWidth,
		JPEGQuality:    cfg.Pipeline.JPEGQuality,
	})

	recovered, err := c.orchestrator.Recover(ctx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to recover interrupted jobs: %w", err)
	}
	if recovered > 0 {
		logger.WithField("jobs", recovered).Warn("Marked interrupted jobs as failed")
	}
	c.orchestrator.Start()
	c.closers = append([]func() error{func() error { c.orchestrator.Close(); return nil }}, c.closers...)

	fetcher := storage.NewHTTPPageFetcher(storage.FetcherConfig{
		Attempts: cfg.Fetch.Attempts,
		Delay:    cfg.Fetch.Delay,
		Timeout:  cfg.Fetch.Timeout,
		MaxBytes: cfg.Fetch.MaxBytes,
	})
	urlValidator := validation.NewURLValidatorWithOptions([]string{"http", "https"}, cfg.Fetch.AllowedHosts).
		WithMaxPages(cfg.Pipeline.MaxPages)

	c.jobService = service.NewJobService(
		c.orchestrator,
		review.NewGate(repo, locks, c.events),
		fetcher,
		urlValidator,
		c.metrics,
		service.Config{Defaults: cfg.Defaults, FetchConcurrency: cfg.Fetch.Concurrency},
	)
	c.handler = transport.NewHandler(c.jobService, transport.Config{
		MaxRequestBodySize: cfg.Server.MaxRequestBodySize,
		RequestTimeout:     cfg.Server.RequestTimeout,
		Version:            Version,
	})

	logger.WithField("storage", cfg.Storage.Backend).
		WithField("repository", cfg.Repository.Backend).
		WithField("ocr", recognizer != nil).
		WithField("job_workers", cfg.Pipeline.JobWorkers).
		Info("Container initialized")
	return c, nil
}

func newStore(cfg config.StorageConfig) (storage.ArtifactStore, error) {
	switch cfg.Backend {
	case "azure":
		az := cfg.Azure
		return storage.NewAzureStore(az.ConnectionString, az.AccountName, az.AccountKey, az.Container)
	default:
		return storage.NewLocalStore(cfg.LocalDir)
	}
}

func (c *Container) newRepository(ctx context.Context, cfg config.RepositoryConfig) (repository.JobRepository, error) {
	switch cfg.Backend {
	case "sqlite":
		repo, err := repository.NewSQLiteJobRepository(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, repo.Close)
		return repo, nil
	default:
		return repository.NewMemoryJobRepository(), nil
	}
}

// Close stops the job workers, then releases the repository
func (c *Container) Close() error {
	var first error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// JobService returns the job service shared by the transports
func (c *Container) JobService() service.JobService {
	return c.jobService
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}
