package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/datallboy/gocdse/internal/domain"
)

const queueColumns = `id, product_id, product_name, status, final_path, total_bytes, bytes_written, error, started_at, finished_at`

func (s *PersistentStore) SaveQueueItem(ctx context.Context, item *domain.QueueItem) error {
	var dbo queueItemDBO
	dbo.FromDomain(item)

	query := s.rebind(`
		INSERT INTO queue_items (` + queueColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			final_path = excluded.final_path,
			total_bytes = excluded.total_bytes,
			bytes_written = excluded.bytes_written,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`)

	_, err := s.db.ExecContext(ctx, query,
		dbo.ID,
		dbo.ProductID,
		dbo.ProductName,
		dbo.Status,
		dbo.FinalPath,
		dbo.TotalBytes,
		dbo.BytesWritten,
		dbo.Error,
		dbo.StartedAt,
		dbo.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save queue item %s: %w", item.ID, err)
	}
	return nil
}

func (s *PersistentStore) GetQueueItem(ctx context.Context, id string) (*domain.QueueItem, error) {
	query := s.rebind(`SELECT ` + queueColumns + ` FROM queue_items WHERE id = ? LIMIT 1`)

	dbo, err := scanQueueItem(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch queue item: %w", err)
	}

	return dbo.ToDomain(), nil
}

// ListQueueItems returns items in creation order (KSUIDs sort chronologically),
// restricted to statuses when any are given.
func (s *PersistentStore) ListQueueItems(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_items`

	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch queue: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.QueueItem, 0)
	for rows.Next() {
		dbo, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, dbo.ToDomain())
	}

	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row scanner) (*queueItemDBO, error) {
	var dbo queueItemDBO
	err := row.Scan(
		&dbo.ID, &dbo.ProductID, &dbo.ProductName, &dbo.Status, &dbo.FinalPath,
		&dbo.TotalBytes, &dbo.BytesWritten, &dbo.Error, &dbo.StartedAt, &dbo.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &dbo, nil
}
