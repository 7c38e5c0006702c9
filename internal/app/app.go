// Package app assembles the ingestion service from configuration: the
// database, the object store, the classifier, the event publisher and the
// pipeline services built on them. The HTTP server, the CLI and the Lambda
// entrypoint all start from New.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/classify"
	"github.com/tbourn/pet-mail-ingest/internal/config"
	"github.com/tbourn/pet-mail-ingest/internal/monitor"
	"github.com/tbourn/pet-mail-ingest/internal/notify"
	"github.com/tbourn/pet-mail-ingest/internal/repo"
	"github.com/tbourn/pet-mail-ingest/internal/services"
	"github.com/tbourn/pet-mail-ingest/internal/storage"
)

// loadAWSConfig is replaced in tests.
var loadAWSConfig = func(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}

// App holds the wired service graph.
type App struct {
	Config       config.Config
	DB           *gorm.DB
	Store        storage.Store
	Classifier   classify.Classifier
	Events       notify.Publisher
	Ingester     *services.Ingester
	FailedEmails *services.FailedEmailService

	awsOnce sync.Once
	awsCfg  aws.Config
	awsErr  error
}

// Option customizes New.
type Option func(*App)

// WithDB uses an already opened database instead of cfg.DB.
func WithDB(db *gorm.DB) Option { return func(a *App) { a.DB = db } }

// WithClassifier overrides the configured classifier backend.
func WithClassifier(c classify.Classifier) Option { return func(a *App) { a.Classifier = c } }

// New opens the database, migrates it, and wires every collaborator named
// in cfg. AWS configuration is only loaded when a backend needs it.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	a := &App{Config: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.DB == nil {
		db, err := repo.Open(cfg.DB.Driver, cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.DB = db
	}
	if err := repo.AutoMigrate(a.DB); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = store

	if a.Classifier == nil {
		clf, err := a.buildClassifier(ctx)
		if err != nil {
			return nil, err
		}
		a.Classifier = clf
	}

	events, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}
	a.Events = events

	a.Ingester = services.NewIngester(a.DB, a.Store, a.Classifier, a.Events, services.Options{
		InboundDomain:         cfg.Pipeline.InboundDomain,
		AttachmentsBucket:     cfg.Storage.AttachmentsBucket,
		PendingBucket:         cfg.Storage.PendingBucket,
		MinConfidence:         cfg.Classifier.MinConfidence,
		AttachmentParallelism: cfg.Pipeline.AttachmentParallelism,
		ClassifyTimeout:       cfg.Classifier.Timeout,
		StaleClaim:            cfg.Pipeline.StaleThreshold,
	})
	a.FailedEmails = &services.FailedEmailService{DB: a.DB}

	log.Info().
		Str("db", cfg.DB.Driver).
		Str("storage", cfg.Storage.Backend).
		Str("classifier", cfg.Classifier.Backend).
		Bool("events", cfg.Pipeline.SQSQueueURL != "").
		Msg("service wired")
	return a, nil
}

// StaleSweeper returns a sweeper over the ledger using the pipeline settings.
func (a *App) StaleSweeper() *monitor.StaleSweeper {
	return monitor.NewStaleSweeper(a.DB, a.Config.Pipeline.StaleThreshold, a.Config.Pipeline.StaleSweepSchedule)
}

// Close releases the database connection pool.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (a *App) awsConfig(ctx context.Context) (aws.Config, error) {
	a.awsOnce.Do(func() {
		a.awsCfg, a.awsErr = loadAWSConfig(ctx)
		if a.awsErr != nil {
			a.awsErr = fmt.Errorf("load aws config: %w", a.awsErr)
		}
	})
	return a.awsCfg, a.awsErr
}

func (a *App) buildStore(ctx context.Context) (storage.Store, error) {
	switch a.Config.Storage.Backend {
	case "", "db":
		return storage.NewGormStore(a.DB), nil
	case "s3":
		cfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(s3.NewFromConfig(cfg)), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", a.Config.Storage.Backend)
	}
}

func (a *App) buildClassifier(ctx context.Context) (classify.Classifier, error) {
	c := a.Config.Classifier
	var inner classify.Classifier
	switch c.Backend {
	case "", "none":
		log.Warn().Msg("no classifier configured; attachments will be uploaded but not classified")
		return classify.Disabled{}, nil
	case "bedrock":
		cfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		inner = classify.NewBedrockClassifier(bedrockruntime.NewFromConfig(cfg), classify.BedrockConfig{ModelID: c.BedrockModelID})
	case "openai":
		if c.OpenAIAPIKey == "" {
			return nil, errors.New("openai classifier needs an API key")
		}
		inner = classify.NewOpenAIClassifier(classify.NewOpenAIClient(c.OpenAIAPIKey), c.OpenAIModel)
	default:
		return nil, fmt.Errorf("unsupported classifier backend %q", c.Backend)
	}
	return classify.NewBreaker(inner, classify.BreakerConfig{
		Name:                "classifier-" + c.Backend,
		Timeout:             c.BreakerTimeout,
		ConsecutiveFailures: c.BreakerFailures,
	}), nil
}

func (a *App) buildPublisher(ctx context.Context) (notify.Publisher, error) {
	url := a.Config.Pipeline.SQSQueueURL
	if url == "" {
		return notify.Noop{}, nil
	}
	cfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return notify.NewSQSPublisher(sqs.NewFromConfig(cfg), url), nil
}
