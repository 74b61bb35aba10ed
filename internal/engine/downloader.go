package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/datallboy/gocdse/internal/domain"
	"github.com/datallboy/gocdse/internal/infra/logger"
)

// Tokens supplies the bearer credential and replaces it when the server rejects it.
type Tokens interface {
	Token() string
	Refresh(ctx context.Context, stale string) (string, error)
}

// Options configures the downloader.
type Options struct {
	// BaseURL is the OData root products are fetched from, e.g.
	// https://zipper.dataspace.copernicus.eu/odata/v1
	BaseURL string

	// ChunkSize is the read buffer size; progress advances once per chunk.
	// Default: 1 MiB
	ChunkSize int

	// ReadTimeout aborts a body that delivers no bytes for this long.
	// Default: 30s
	ReadTimeout time.Duration
}

// Downloader fetches one product at a time into <final>.part and renames it on success.
type Downloader struct {
	client *http.Client
	tokens Tokens
	opts   Options
	log    *logger.Logger
}

func NewDownloader(client *http.Client, tokens Tokens, opts Options, log *logger.Logger) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1024 * 1024
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	return &Downloader{client: client, tokens: tokens, opts: opts, log: log}
}

// ProductURL returns the byte-stream endpoint for a product.
func (d *Downloader) ProductURL(id string) string {
	return fmt.Sprintf("%s/Products(%s)/$value", d.opts.BaseURL, id)
}

// Fetch downloads task, resuming from an existing .part file. A 206 with a closed range
// shorter than the file is followed by a request for the next range.
//
// A *StatusError leaves the .part file for a later resume; a *TransportError means it
// was deleted. Cancelling ctx keeps the .part file and returns ctx.Err().
func (d *Downloader) Fetch(ctx context.Context, task *domain.DownloadTask, progress Progress) error {
	if progress == nil {
		progress = NopProgress{}
	}

	offset, err := partialSize(task.PartPath)
	if err != nil {
		return err
	}

	tr := &transfer{task: task, progress: progress}
	for {
		next, total, err := d.fetchSegment(ctx, tr, offset)
		if err != nil {
			return tr.fail(err)
		}
		if total < 0 || next >= total {
			break
		}
		d.log.Debug("Server sent bytes %d-%d of %s, requesting the rest", offset, next-1, task.FileName)
		offset = next
	}

	if err := promote(task.PartPath, task.FinalPath); err != nil {
		return tr.fail(err)
	}

	if tr.started {
		progress.Done(true)
		d.log.Info("%s download complete", task.FileName)
	}
	return nil
}

// transfer carries one Fetch call's progress state across range requests.
type transfer struct {
	task     *domain.DownloadTask
	progress Progress
	started  bool
}

func (t *transfer) fail(err error) error {
	if t.started {
		t.progress.Done(false)
	}
	return err
}

// fetchSegment issues one ranged request starting at offset and appends what it returns.
// It reports the offset after the segment and the full file size (-1 when unknown).
func (d *Downloader) fetchSegment(ctx context.Context, tr *transfer, offset int64) (next, total int64, err error) {
	task := tr.task

	// The request context is also cancelled by the stall watchdog
	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	resp, err := d.request(reqCtx, task.Product.ID, offset)
	if err != nil {
		if ctx.Err() != nil {
			return 0, 0, ctx.Err()
		}
		if IsStatusFailure(err) {
			return 0, 0, err
		}
		return 0, 0, d.transportFailure(task, err)
	}
	defer resp.Body.Close()

	// want is the offset the body must reach, -1 when the server did not say
	var want int64
	truncate := false

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, end, size, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return 0, 0, &StatusError{StatusCode: resp.StatusCode, Reason: err.Error()}
		}
		if start != offset {
			return 0, 0, &StatusError{StatusCode: resp.StatusCode, Reason: fmt.Sprintf("range starts at %d, expected %d", start, offset)}
		}
		if size >= 0 && end >= size {
			return 0, 0, &StatusError{StatusCode: resp.StatusCode, Reason: fmt.Sprintf("range ends at %d past size %d", end, size)}
		}
		total = size
		want = end + 1

	case http.StatusOK:
		// Range ignored: the body is the whole file, so existing bytes must go
		total = resp.ContentLength
		want = total
		if offset > 0 {
			d.log.Warn("Server ignored range request for %s, restarting from 0", task.FileName)
		}
		offset = 0
		truncate = true

	case http.StatusRequestedRangeNotSatisfiable:
		_, _, size, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err == nil && offset > 0 && size == offset {
			// All bytes were written before an earlier run stopped short of the rename
			d.log.Info("%s already fully downloaded, finalizing", task.FileName)
			return offset, size, nil
		}
		return 0, 0, &StatusError{StatusCode: resp.StatusCode, Reason: "range not satisfiable"}

	default:
		return 0, 0, &StatusError{StatusCode: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	}

	if !tr.started {
		if total >= 0 {
			d.log.Info("Downloading %s, size: %s", task.FileName, humanize.IBytes(uint64(total)))
		} else {
			d.log.Info("Downloading %s, size unknown", task.FileName)
		}
	}

	f, err := openPartial(task.PartPath, truncate)
	if err != nil {
		return 0, 0, err
	}

	if !tr.started {
		tr.progress.Start(task.FileName, total, offset)
		tr.started = true
	}

	watchdog := time.AfterFunc(d.opts.ReadTimeout, func() { cancel(ErrStalled) })
	body := &idleReader{r: resp.Body, timer: watchdog, timeout: d.opts.ReadTimeout}

	written, copyErr := d.copyChunks(f, body, tr.progress)
	watchdog.Stop()

	closeErr := closePartial(f)

	if copyErr != nil {
		if ctx.Err() != nil {
			return 0, 0, ctx.Err()
		}

		var we *writeError
		if errors.As(copyErr, &we) {
			// Local disk trouble, not the network: what is on disk is still valid
			return 0, 0, fmt.Errorf("write %s: %w", task.PartPath, we.err)
		}

		if cause := context.Cause(reqCtx); errors.Is(cause, ErrStalled) {
			copyErr = fmt.Errorf("%w: no data for %s", ErrStalled, d.opts.ReadTimeout)
		}
		return 0, 0, d.transportFailure(task, copyErr)
	}

	if closeErr != nil {
		return 0, 0, fmt.Errorf("close %s: %w", task.PartPath, closeErr)
	}

	next = offset + written
	if want >= 0 && next != want {
		return 0, 0, d.transportFailure(task, fmt.Errorf("%w: got %d of %d bytes", ErrShortBody, next, want))
	}
	return next, total, nil
}

// request issues the ranged GET. A 401 triggers one credential refresh and one retry.
func (d *Downloader) request(ctx context.Context, productID string, offset int64) (*http.Response, error) {
	token := d.tokens.Token()

	resp, err := d.do(ctx, productID, offset, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	fresh, err := d.tokens.Refresh(ctx, token)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &StatusError{StatusCode: http.StatusUnauthorized, Reason: fmt.Sprintf("re-authentication failed: %v", err)}
	}

	return d.do(ctx, productID, offset, fresh)
}

func (d *Downloader) do(ctx context.Context, productID string, offset int64, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.ProductURL(productID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))

	return d.client.Do(req)
}

// copyChunks streams body into f, reading at most one chunk per call.
func (d *Downloader) copyChunks(f io.Writer, body io.Reader, progress Progress) (int64, error) {
	buf := make([]byte, d.opts.ChunkSize)
	var written int64

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			nw, err := f.Write(buf[:n])
			written += int64(nw)
			if err != nil {
				return written, &writeError{err: err}
			}
			progress.Add(int64(nw))
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

func (d *Downloader) transportFailure(task *domain.DownloadTask, err error) error {
	d.log.Error("Download failed: %v. File: %s", err, task.FinalPath)
	if rmErr := discardPartial(task.PartPath); rmErr != nil {
		d.log.Error("Could not remove %s: %v", task.PartPath, rmErr)
	}
	return &TransportError{Path: task.FinalPath, Err: err}
}

type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }

// idleReader pushes the stall watchdog back every time a read returns.
type idleReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (i *idleReader) Read(p []byte) (int, error) {
	n, err := i.r.Read(p)
	i.timer.Reset(i.timeout)
	return n, err
}
