package store

import (
	"context"

	"github.com/datallboy/gocdse/internal/domain"
)

// NopStore is used when persistence is disabled.
type NopStore struct{}

func (NopStore) UpsertProducts(context.Context, []domain.Product) error { return nil }
func (NopStore) ListProducts(context.Context) ([]domain.Product, error) { return nil, nil }
func (NopStore) SaveQueueItem(context.Context, *domain.QueueItem) error { return nil }
func (NopStore) Close() error                                           { return nil }

func (NopStore) GetQueueItem(context.Context, string) (*domain.QueueItem, error) {
	return nil, domain.ErrNotFound
}

func (NopStore) ListQueueItems(context.Context, ...domain.JobStatus) ([]*domain.QueueItem, error) {
	return nil, nil
}
