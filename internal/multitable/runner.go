package multitable

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"sparkify/internal/config"
	"sparkify/internal/storage"
)

// Runner wires configuration, storage and the Engine for one CLI invocation.
type Runner struct {
	// storage-agnostic factory seam
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

	Logger *zap.Logger

	// NewRunID tags every log line of a run; nil uses a random UUID.
	NewRunID func() string
}

// NewDefaultRunner returns a Runner backed by the storage registry and the
// global zap logger.
func NewDefaultRunner() *Runner {
	return &Runner{
		NewRepository: storage.New,
		Logger:        zap.L(),
		NewRunID:      func() string { return uuid.NewString() },
	}
}

// Run loads the catalog root and then the log root described by cfg.
//
// The catalog root goes first so that lookups for the activity log can match
// songs loaded in the same run. The repository is closed on every exit path.
func (r *Runner) Run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := r.logger().With(zap.String("run_id", r.runID()))

	repo, err := r.open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer repo.Close()

	if cfg.Storage.EnsureSchema {
		start := time.Now()
		if err := repo.EnsureSchema(ctx); err != nil {
			return eris.Wrap(err, "ensure schema")
		}
		log.Info("stage=ddl ok", zap.Duration("duration", durMS(start)))
	}

	engine := &Engine{
		Repo:    repo,
		Logger:  log,
		Pattern: cfg.Data.Pattern,
	}
	return engine.Run(ctx, []Root{
		{Kind: CatalogFile, Dir: cfg.Data.SongDir},
		{Kind: LogFile, Dir: cfg.Data.LogDir},
	})
}

// EnsureSchema opens the configured backend and creates the star schema
// without loading anything.
func (r *Runner) EnsureSchema(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := r.logger().With(zap.String("run_id", r.runID()))

	repo, err := r.open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer repo.Close()

	start := time.Now()
	if err := repo.EnsureSchema(ctx); err != nil {
		return eris.Wrap(err, "ensure schema")
	}
	log.Info("stage=ddl ok", zap.Duration("duration", durMS(start)))
	return nil
}

func (r *Runner) open(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Repository, error) {
	newRepo := r.NewRepository
	if newRepo == nil {
		newRepo = storage.New
	}
	repo, err := newRepo(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
	if err != nil {
		return nil, eris.Wrapf(err, "open storage kind=%s", cfg.Storage.Kind)
	}
	log.Info("storage opened", zap.String("kind", cfg.Storage.Kind))
	return repo, nil
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Runner) runID() string {
	if r.NewRunID == nil {
		return uuid.NewString()
	}
	return r.NewRunID()
}
