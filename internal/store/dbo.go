package store

import (
	"database/sql"
	"time"

	"github.com/datallboy/gocdse/internal/domain"
)

// productDBO maps to the products table
type productDBO struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	FirstSeenAt int64  `db:"first_seen_at"`
	LastSeenAt  int64  `db:"last_seen_at"`
}

func (p *productDBO) ToDomain() domain.Product {
	return domain.Product{ID: p.ID, Name: p.Name}
}

func (p *productDBO) FromDomain(prod domain.Product, seen time.Time) {
	p.ID = prod.ID
	p.Name = prod.Name
	p.FirstSeenAt = seen.Unix()
	p.LastSeenAt = seen.Unix()
}

// queueItemDBO maps to the queue_items table
type queueItemDBO struct {
	ID           string         `db:"id"`
	ProductID    string         `db:"product_id"`
	ProductName  string         `db:"product_name"`
	Status       string         `db:"status"`
	FinalPath    string         `db:"final_path"`
	TotalBytes   int64          `db:"total_bytes"`
	BytesWritten int64          `db:"bytes_written"`
	Error        sql.NullString `db:"error"`
	StartedAt    sql.NullInt64  `db:"started_at"`
	FinishedAt   sql.NullInt64  `db:"finished_at"`
}

// Mapper: DBO to Domain QueueItem
func (q *queueItemDBO) ToDomain() *domain.QueueItem {
	item := &domain.QueueItem{
		ID:      q.ID,
		Product: domain.Product{ID: q.ProductID, Name: q.ProductName},
		Status:  domain.JobStatus(q.Status),
		Error:   q.Error.String,
	}
	item.TotalBytes.Store(q.TotalBytes)
	item.BytesWritten.Store(q.BytesWritten)

	if q.FinalPath != "" {
		item.Task = &domain.DownloadTask{
			Product:   item.Product,
			FinalPath: q.FinalPath,
			PartPath:  q.FinalPath + domain.PartSuffix,
		}
	}
	if q.StartedAt.Valid {
		item.StartedAt = time.UnixMilli(q.StartedAt.Int64)
	}
	if q.FinishedAt.Valid {
		item.FinishedAt = time.UnixMilli(q.FinishedAt.Int64)
	}
	return item
}

// Mapper: Domain QueueItem to DBO
func (q *queueItemDBO) FromDomain(item *domain.QueueItem) {
	q.ID = item.ID
	q.ProductID = item.Product.ID
	q.ProductName = item.Product.Name
	q.Status = string(item.Status)
	q.FinalPath = ""
	if item.Task != nil {
		q.FinalPath = item.Task.FinalPath
	}
	q.TotalBytes = item.TotalBytes.Load()
	q.BytesWritten = item.BytesWritten.Load()
	q.Error = sql.NullString{String: item.Error, Valid: item.Error != ""}
	q.StartedAt = nullMillis(item.StartedAt)
	q.FinishedAt = nullMillis(item.FinishedAt)
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
