package app

import (
	"context"

	"github.com/datallboy/gocdse/internal/domain"
	"github.com/datallboy/gocdse/internal/infra/config"
	"github.com/datallboy/gocdse/internal/infra/logger"
)

// Store persists catalog results and batch history. Nothing in it is used to resume a
// download; the .part file is the only resume state.
type Store interface {
	UpsertProducts(ctx context.Context, products []domain.Product) error
	ListProducts(ctx context.Context) ([]domain.Product, error)

	SaveQueueItem(ctx context.Context, item *domain.QueueItem) error
	GetQueueItem(ctx context.Context, id string) (*domain.QueueItem, error)
	ListQueueItems(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.QueueItem, error)

	Close() error
}

type Extractor interface {
	// This allows the engine to unpack finished archives without importing extraction
	CanExtract(filePath string) (bool, error)
	Extract(ctx context.Context, archivePath string, destDir string) ([]string, error)
	Name() string
}

// Context hold the core environment and shared resources for gocdse.
// It acts as the "Single Source of Truth" for the application state.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	Store     Store
	Extractor Extractor

	ExtractionEnabled bool
}

// NewContext initializes the base environment.
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config:            cfg,
		Logger:            log,
		ExtractionEnabled: cfg.Download.Extract,
	}
}
