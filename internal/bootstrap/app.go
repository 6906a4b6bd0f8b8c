package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"docpipe-backend/internal/credits"
	"docpipe-backend/internal/documents"
	"docpipe-backend/internal/intake"
	"docpipe-backend/internal/jobs"
	"docpipe-backend/internal/ocr"
	"docpipe-backend/internal/ocr/ocrmypdf"
	"docpipe-backend/internal/ocr/tesseract"
	"docpipe-backend/internal/pipeline"
	"docpipe-backend/internal/queue"
	"docpipe-backend/internal/services/health"
	"docpipe-backend/internal/shared/config"
	"docpipe-backend/internal/shared/metrics"
	"docpipe-backend/internal/shared/storage/db"
	"docpipe-backend/internal/shared/storage/object"
	localstore "docpipe-backend/internal/shared/storage/object/local"
	s3store "docpipe-backend/internal/shared/storage/object/s3"
	"docpipe-backend/internal/shared/telemetry"
)

const healthProbeKey = "_health/probe"

// App holds the wired pipeline. Queue and Consumer are nil when no
// backend could be built.
type App struct {
	Config     config.Config
	DB         *sql.DB
	Store      object.Store
	Queue      queue.Client
	Consumer   queue.Consumer
	Documents  documents.Repo
	Jobs       jobs.Repo
	Ledger     *credits.Ledger
	Dispatcher *ocr.Dispatcher
	Runner     *pipeline.Runner
	Sweeper    *jobs.Sweeper
	Intake     *intake.Service
	Registry   *prometheus.Registry
	Metrics    *metrics.Worker
	Health     *health.Service

	closers []func() error
	ownsDB  bool
}

// Build prepares every dependency from cfg.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}

	sqlDB, ownsDB, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*App, error) {
		if ownsDB && sqlDB != nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}

	reg := prometheus.NewRegistry()
	app := &App{
		Config:   cfg,
		DB:       sqlDB,
		Store:    store,
		Registry: reg,
		Metrics:  metrics.NewWorker(reg),
		ownsDB:   ownsDB,
	}

	if err := app.buildQueue(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	app.buildServices()
	app.buildHealth()
	return app, nil
}

// Close releases queue connections and the database pool. The Lambda
// singleton pool outlives the App and is left open.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	if a.ownsDB && a.DB != nil {
		if err := a.DB.Close(); err != nil && first == nil {
			first = err
		}
		a.ownsDB = false
	}
	return first
}

// openDatabase is swapped in tests.
var openDatabase = buildDB

// buildDB reports whether the returned pool belongs to the App.
func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, bool, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_repos", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB  *sql.DB
		err    error
		shared = db.IsLambdaRuntime()
	)
	if shared {
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultLambdaOptions()))
	} else {
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultWorkerOptions(cfg.WorkerConcurrency)))
	}
	if err != nil {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_repos", map[string]any{"reason": "database connect failed", "error": err})
			return nil, false, nil
		}
		return nil, false, err
	}
	return sqlDB, !shared, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.Store, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, s3store.Options{
			Region:         cfg.AWSRegion,
			Bucket:         cfg.S3Bucket,
			Prefix:         cfg.S3Prefix,
			KMSKeyID:       cfg.SSEKMSKeyID,
			EndpointURL:    cfg.S3EndpointURL,
			MaxObjectBytes: cfg.MaxObjectBytes,
		})
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func (a *App) buildQueue(ctx context.Context) error {
	cfg := a.Config
	visibility := time.Duration(cfg.SQSVisibilityTimeoutSecs) * time.Second
	switch cfg.QueueBackend {
	case "sqs":
		if cfg.SQSQueueURL == "" {
			if cfg.IsDevLike() {
				telemetry.Warn("bootstrap.queue_disabled", map[string]any{"backend": "sqs", "reason": "SQS_QUEUE_URL empty"})
				return nil
			}
			return fmt.Errorf("QUEUE_BACKEND=sqs requires SQS_QUEUE_URL")
		}
		client, err := queue.NewSQSClient(ctx, queue.SQSOptions{
			QueueURL:          cfg.SQSQueueURL,
			Region:            cfg.AWSRegion,
			VisibilitySeconds: cfg.SQSVisibilityTimeoutSecs,
		})
		if err != nil {
			return err
		}
		a.Queue, a.Consumer = client, client
	case "redis":
		client, err := queue.NewRedisClient(ctx, queue.RedisOptions{
			URL:       cfg.RedisURL,
			Stream:    cfg.QueueName,
			ClaimIdle: visibility,
		})
		if err != nil {
			return err
		}
		a.Queue, a.Consumer = client, client
		a.closers = append(a.closers, client.Close)
	default:
		mq := queue.NewMemoryQueue(0)
		a.Queue, a.Consumer = mq, mq
	}
	return nil
}

func (a *App) buildServices() {
	cfg := a.Config
	if a.DB != nil {
		a.Documents = &documents.PGRepo{DB: a.DB}
		a.Jobs = &jobs.PGRepo{DB: a.DB}
		a.Ledger = credits.NewLedger(credits.NewPGStore(a.DB))
	} else {
		a.Documents = documents.NewMemoryRepo()
		a.Jobs = jobs.NewMemoryRepo()
		a.Ledger = credits.NewMemoryLedger()
	}

	a.Dispatcher = &ocr.Dispatcher{
		Settings: ocr.Settings{
			Provider:            cfg.OCRProvider,
			Mode:                cfg.QualityMode,
			Languages:           cfg.OCRLanguages,
			EngineMode:          cfg.OCREngineMode,
			PageSegMode:         cfg.OCRPageSegMode,
			TesseractExtra:      cfg.OCRTesseractExtra,
			OCRMyPDFExtra:       cfg.OCRMyPDFExtra,
			OCRMyPDFRecommended: cfg.OCRMyPDFRecommended,
		},
		Image:   tesseract.Factory,
		PDF:     ocrmypdf.Factory(cfg.OCRMyPDFBinary, cfg.OCRMyPDFTimeout),
		Metrics: a.Metrics,
	}

	a.Runner = &pipeline.Runner{
		Jobs:      a.Jobs,
		Documents: a.Documents,
		Store:     a.Store,
		Ledger:    a.Ledger,
		OCR:       a.Dispatcher,
		Metrics:   a.Metrics,
	}

	a.Sweeper = &jobs.Sweeper{
		Jobs:       a.Jobs,
		Refunder:   a.Runner,
		StaleAfter: cfg.JobStaleAfter,
		Metrics:    a.Metrics,
	}

	a.Intake = &intake.Service{
		Documents: a.Documents,
		Jobs:      a.Jobs,
		Ledger:    a.Ledger,
		Store:     a.Store,
		Queue:     a.Queue,
		MaxBytes:  cfg.MaxObjectBytes,
	}
}

type storePinger interface {
	Ping(ctx context.Context) error
}

func (a *App) buildHealth() {
	h := health.NewService()
	if a.DB != nil {
		h.Register("db", func(ctx context.Context) error { return db.Ping(ctx, a.DB) })
	}
	if p, ok := a.Queue.(queue.Pinger); ok {
		h.Register("queue", p.Ping)
	}
	if p, ok := a.Store.(storePinger); ok {
		h.Register("storage", p.Ping)
	} else if a.Store != nil {
		h.Register("storage", func(ctx context.Context) error {
			_, err := a.Store.ObjectExists(ctx, healthProbeKey)
			return err
		})
	}
	a.Health = h
}
