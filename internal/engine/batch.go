package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/datallboy/gocdse/internal/app"
	"github.com/datallboy/gocdse/internal/domain"
	"github.com/datallboy/gocdse/internal/infra/logger"
)

// ExtractDir is the subdirectory of the output folder archives are unpacked into.
const ExtractDir = "Extracted"

// Fetcher downloads a single task. *Downloader is the production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, task *domain.DownloadTask, progress Progress) error
}

// Summary counts batch outcomes.
type Summary struct {
	Total     int  `json:"total"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
	Running   bool `json:"running"`
}

// Done returns how many items have reached a terminal status.
func (s Summary) Done() int {
	return s.Completed + s.Failed + s.Skipped
}

// Batch downloads products one after another. A failed item never stops the loop.
type Batch struct {
	mu         sync.RWMutex
	fetcher    Fetcher
	store      app.Store
	extractor  app.Extractor
	log        *logger.Logger
	items      []*domain.QueueItem
	activeItem *domain.QueueItem
	summary    Summary

	skipExisting bool
	extract      bool

	// NewProgress returns the renderer for one item. Nil means no rendering.
	NewProgress func() Progress
}

func NewBatch(appCtx *app.Context, fetcher Fetcher) *Batch {
	return &Batch{
		fetcher:      fetcher,
		store:        appCtx.Store,
		extractor:    appCtx.Extractor,
		log:          appCtx.Logger,
		skipExisting: appCtx.Config.Download.SkipExisting,
		extract:      appCtx.ExtractionEnabled && appCtx.Extractor != nil,
	}
}

// RunBatch downloads every product into <destDir>/Finish. Only ctx cancellation ends the
// run early; per-item failures are counted in the Summary.
func (b *Batch) RunBatch(ctx context.Context, products []domain.Product, destDir string) (Summary, error) {
	finishDir := filepath.Join(destDir, domain.FinishDir)
	if err := os.MkdirAll(finishDir, 0755); err != nil {
		return Summary{}, fmt.Errorf("failed to create output directory %s: %w", finishDir, err)
	}

	b.mu.Lock()
	b.summary = Summary{Total: len(products), Running: true}
	b.mu.Unlock()

	total := len(products)
	b.log.Info("Starting batch of %d products into %s", total, finishDir)

	for i, p := range products {
		if err := ctx.Err(); err != nil {
			b.log.Warn("Batch interrupted after %d/%d products", i, total)
			return b.stop(), err
		}

		item := b.enqueue(p, destDir)
		prefix := fmt.Sprintf("[%d/%d]", i+1, total)

		b.log.Info("%s %s", prefix, p.Name)
		b.runItem(ctx, item, prefix)
	}

	s := b.stop()
	b.log.Info("Batch finished: %d completed, %d failed, %d skipped", s.Completed, s.Failed, s.Skipped)

	return s, ctx.Err()
}

func (b *Batch) stop() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summary.Running = false
	return b.summary
}

func (b *Batch) enqueue(p domain.Product, destDir string) *domain.QueueItem {
	item := &domain.QueueItem{
		ID:      ksuid.New().String(),
		Product: p,
		Status:  domain.StatusPending,
		Task:    domain.NewDownloadTask(p, destDir),
	}

	b.mu.Lock()
	b.items = append(b.items, item)
	b.mu.Unlock()

	b.save(item)
	return item
}

func (b *Batch) runItem(ctx context.Context, item *domain.QueueItem, prefix string) {
	task := item.Task

	if b.skipExisting && fileExists(task.FinalPath) {
		b.log.Info("%s %s already exists, skipping", prefix, task.FileName)
		b.finalize(item, domain.StatusSkipped, nil)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	b.activeItem = item
	item.CancelFunc = cancel
	item.Status = domain.StatusDownloading
	item.StartedAt = time.Now()
	b.mu.Unlock()
	b.save(item)

	err := b.fetcher.Fetch(jobCtx, task, &itemProgress{item: item, next: b.progress()})
	if err != nil {
		b.reportFailure(ctx, item, err, prefix)
		b.finalize(item, domain.StatusFailed, err)
		return
	}

	b.finalize(item, domain.StatusCompleted, nil)

	if b.extract {
		b.extractArchive(ctx, task, prefix)
	}
}

func (b *Batch) reportFailure(ctx context.Context, item *domain.QueueItem, err error, prefix string) {
	switch {
	case ctx.Err() != nil:
		b.log.Warn("%s %s interrupted, partial file kept", prefix, item.Task.FileName)
	case errors.Is(err, context.Canceled):
		b.log.Warn("%s %s cancelled, partial file kept", prefix, item.Task.FileName)
	case IsStatusFailure(err):
		b.log.Error("%s %s failed (%s): %v. Partial file kept for resume", prefix, item.Task.FileName, domain.PolicySkipItem, err)
	case IsTransportFailure(err):
		b.log.Error("%s %s failed (%s): %v. Partial file discarded", prefix, item.Task.FileName, domain.PolicySkipItem, err)
	default:
		b.log.Error("%s %s failed (%s): %v", prefix, item.Task.FileName, domain.PolicySkipItem, err)
	}
}

func (b *Batch) finalize(item *domain.QueueItem, status domain.JobStatus, err error) {
	b.mu.Lock()
	item.Status = status
	item.FinishedAt = time.Now()
	item.CancelFunc = nil

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		item.Error = "Cancelled by user"
	default:
		item.Error = err.Error()
	}

	switch status {
	case domain.StatusCompleted:
		b.summary.Completed++
		if total := item.TotalBytes.Load(); total > 0 {
			item.BytesWritten.Store(total)
		}
	case domain.StatusFailed:
		b.summary.Failed++
	case domain.StatusSkipped:
		b.summary.Skipped++
	}

	if b.activeItem == item {
		b.activeItem = nil
	}
	b.mu.Unlock()

	b.save(item)
}

func (b *Batch) extractArchive(ctx context.Context, task *domain.DownloadTask, prefix string) {
	ok, err := b.extractor.CanExtract(task.FinalPath)
	if err != nil {
		b.log.Warn("%s could not inspect %s: %v", prefix, task.FileName, err)
		return
	}
	if !ok {
		b.log.Debug("%s %s is not a %s archive, not extracting", prefix, task.FileName, b.extractor.Name())
		return
	}

	dest := filepath.Join(filepath.Dir(filepath.Dir(task.FinalPath)), ExtractDir, strings.TrimSuffix(task.FileName, ".zip"))
	if err := os.MkdirAll(dest, 0755); err != nil {
		b.log.Error("%s failed to create %s: %v", prefix, dest, err)
		return
	}

	if _, err := b.extractor.Extract(ctx, task.FinalPath, dest); err != nil {
		b.log.Error("%s extraction of %s failed: %v", prefix, task.FileName, err)
		return
	}
	b.log.Info("%s extracted %s to %s", prefix, task.FileName, dest)
}

// save persists the item. A store failure is logged and never fails the download.
func (b *Batch) save(item *domain.QueueItem) {
	if b.store == nil {
		return
	}

	b.mu.RLock()
	err := b.store.SaveQueueItem(context.Background(), item)
	b.mu.RUnlock()

	if err != nil {
		b.log.Warn("Failed to record queue item %s: %v", item.ID, err)
	}
}

func (b *Batch) progress() Progress {
	if b.NewProgress == nil {
		return NopProgress{}
	}
	return b.NewProgress()
}

// Summary returns the counters of the current (or last) run.
func (b *Batch) Summary() Summary {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.summary
}

// ActiveItem allows the UI to see what's currently running
func (b *Batch) ActiveItem() (domain.QueueItemView, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.activeItem == nil {
		return domain.QueueItemView{}, false
	}
	return b.activeItem.View(), true
}

// Items returns a snapshot of every item recorded by this process, optionally filtered.
func (b *Batch) Items(statuses ...domain.JobStatus) []domain.QueueItemView {
	b.mu.RLock()
	defer b.mu.RUnlock()

	views := make([]domain.QueueItemView, 0, len(b.items))
	for _, item := range b.items {
		if len(statuses) > 0 && !slices.Contains(statuses, item.Status) {
			continue
		}
		views = append(views, item.View())
	}
	return views
}

// GetItem searches the live batch for id.
func (b *Batch) GetItem(id string) (domain.QueueItemView, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, item := range b.items {
		if item.ID == id {
			return item.View(), true
		}
	}
	return domain.QueueItemView{}, false
}

// Cancel aborts the item's download. The batch continues with the next product and the
// partial file is kept.
func (b *Batch) Cancel(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, item := range b.items {
		if item.ID != id {
			continue
		}
		if item.Finished() || item.CancelFunc == nil {
			return false
		}
		item.CancelFunc()
		return true
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// itemProgress mirrors transfer counters onto the queue item before forwarding.
type itemProgress struct {
	item *domain.QueueItem
	next Progress
}

func (p *itemProgress) Start(name string, total, initial int64) {
	p.item.TotalBytes.Store(total)
	p.item.BytesWritten.Store(initial)
	p.next.Start(name, total, initial)
}

func (p *itemProgress) Add(n int64) {
	p.item.BytesWritten.Add(n)
	p.next.Add(n)
}

func (p *itemProgress) Done(ok bool) {
	p.next.Done(ok)
}
