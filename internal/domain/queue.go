package domain

import (
	"context"
	"sync/atomic"
	"time"
)

type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusDownloading JobStatus = "downloading"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusSkipped     JobStatus = "skipped"
)

// ParseJobStatus returns the status named by s, or false if s is not one.
func ParseJobStatus(s string) (JobStatus, bool) {
	switch st := JobStatus(s); st {
	case StatusPending, StatusDownloading, StatusCompleted, StatusFailed, StatusSkipped:
		return st, true
	}
	return "", false
}

// QueueItem tracks one product through a batch run.
// It is history only: the .part file on disk is the resume state.
type QueueItem struct {
	ID      string
	Product Product
	Status  JobStatus
	Task    *DownloadTask

	BytesWritten atomic.Int64
	TotalBytes   atomic.Int64

	StartedAt  time.Time
	FinishedAt time.Time
	Error      string

	CancelFunc context.CancelFunc
}

// Finished reports whether the item reached a terminal status.
func (q *QueueItem) Finished() bool {
	switch q.Status {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// QueueItemView is a point-in-time copy of a QueueItem, safe to hand to encoders.
type QueueItemView struct {
	ID           string     `json:"id"`
	ProductID    string     `json:"product_id"`
	Name         string     `json:"name"`
	Status       JobStatus  `json:"status"`
	Path         string     `json:"path,omitempty"`
	BytesWritten int64      `json:"bytes_written"`
	TotalBytes   int64      `json:"total_bytes"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// View copies the item. Callers that share the item with a running batch must hold its lock.
func (q *QueueItem) View() QueueItemView {
	v := QueueItemView{
		ID:           q.ID,
		ProductID:    q.Product.ID,
		Name:         q.Product.Name,
		Status:       q.Status,
		BytesWritten: q.BytesWritten.Load(),
		TotalBytes:   q.TotalBytes.Load(),
		Error:        q.Error,
	}
	if q.Task != nil {
		v.Path = q.Task.FinalPath
	}
	if !q.StartedAt.IsZero() {
		t := q.StartedAt
		v.StartedAt = &t
	}
	if !q.FinishedAt.IsZero() {
		t := q.FinishedAt
		v.FinishedAt = &t
	}
	return v
}
