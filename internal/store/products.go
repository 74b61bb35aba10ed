package store

import (
	"context"
	"fmt"
	"time"

	"github.com/datallboy/gocdse/internal/domain"
)

// UpsertProducts records catalog search results. Re-seen products keep their first_seen_at.
func (s *PersistentStore) UpsertProducts(ctx context.Context, products []domain.Product) error {
	if len(products) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO products (id, name, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			last_seen_at = excluded.last_seen_at`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	// Reuse a single DBO instance for efficiency
	var dbo productDBO
	now := time.Now()

	for _, p := range products {
		dbo.FromDomain(p, now)
		if _, err := stmt.ExecContext(ctx, dbo.ID, dbo.Name, dbo.FirstSeenAt, dbo.LastSeenAt); err != nil {
			return fmt.Errorf("failed to upsert product %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// ListProducts returns every recorded product, most recently seen first.
func (s *PersistentStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, first_seen_at, last_seen_at
		FROM products
		ORDER BY last_seen_at DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		var dbo productDBO
		if err := rows.Scan(&dbo.ID, &dbo.Name, &dbo.FirstSeenAt, &dbo.LastSeenAt); err != nil {
			return nil, err
		}
		products = append(products, dbo.ToDomain())
	}

	return products, rows.Err()
}
