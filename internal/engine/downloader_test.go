package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/gocdse/internal/domain"
	"github.com/datallboy/gocdse/internal/infra/logger"
)

type staticTokens struct {
	mu        sync.Mutex
	token     string
	fresh     string
	refreshed []string
}

func (s *staticTokens) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *staticTokens) Refresh(ctx context.Context, stale string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshed = append(s.refreshed, stale)
	if s.fresh == "" {
		return "", errors.New("identity server unavailable")
	}
	s.token = s.fresh
	return s.token, nil
}

type recordingProgress struct {
	mu      sync.Mutex
	name    string
	total   int64
	initial int64
	added   int64
	adds    int
	done    *bool
	onAdd   func()
}

func (p *recordingProgress) Start(name string, total, initial int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name, p.total, p.initial = name, total, initial
}

func (p *recordingProgress) Add(n int64) {
	p.mu.Lock()
	p.added += n
	p.adds++
	hook := p.onAdd
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (p *recordingProgress) Done(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = &ok
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

// productServer serves content at /Products(<id>)/$value, honouring Range unless told not to.
type productServer struct {
	t            *testing.T
	content      []byte
	ignoreRange  bool
	status       int // forced status, 0 for normal behaviour
	token        string
	mu           sync.Mutex
	rangeHeaders []string
	paths        []string
}

func (s *productServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.rangeHeaders = append(s.rangeHeaders, r.Header.Get("Range"))
	s.paths = append(s.paths, r.URL.Path)
	s.mu.Unlock()

	if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}

	total := int64(len(s.content))
	start := int64(0)
	if rng := r.Header.Get("Range"); rng != "" && !s.ignoreRange {
		v, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-"), 10, 64)
		assert.NoError(s.t, err)
		start = v
	}

	if s.ignoreRange || r.Header.Get("Range") == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(total, 10))
		w.WriteHeader(http.StatusOK)
		w.Write(s.content)
		return
	}

	if start >= total {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", total))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, total-1, total))
	w.Header().Set("Content-Length", strconv.FormatInt(total-start, 10))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(s.content[start:])
}

func newTestDownloader(t *testing.T, h http.Handler, tokens Tokens, chunk int) (*Downloader, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	if tokens == nil {
		tokens = &staticTokens{token: "tok"}
	}
	d := NewDownloader(server.Client(), tokens, Options{
		BaseURL:     server.URL + "/odata/v1",
		ChunkSize:   chunk,
		ReadTimeout: 2 * time.Second,
	}, logger.Discard())
	return d, server
}

func newTask(t *testing.T) *domain.DownloadTask {
	t.Helper()
	task := domain.NewDownloadTask(domain.Product{ID: "a1b2-c3d4", Name: "S1A_IW_GRDH_1SDV_20240101"}, t.TempDir())
	require.NoError(t, os.MkdirAll(filepath.Dir(task.FinalPath), 0755))
	return task
}

func TestProductURL(t *testing.T) {
	d := NewDownloader(nil, &staticTokens{}, Options{BaseURL: "https://zipper.dataspace.copernicus.eu/odata/v1"}, logger.Discard())
	assert.Equal(t, "https://zipper.dataspace.copernicus.eu/odata/v1/Products(a1b2)/$value", d.ProductURL("a1b2"))
}

func TestFetchFreshDownload(t *testing.T) {
	content := payload(5000)
	srv := &productServer{t: t, content: content, token: "tok"}
	d, _ := newTestDownloader(t, srv, nil, 1024)
	task := newTask(t)
	prog := &recordingProgress{}

	require.NoError(t, d.Fetch(context.Background(), task, prog))

	got, err := os.ReadFile(task.FinalPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.NoFileExists(t, task.PartPath)

	assert.Equal(t, []string{"bytes=0-"}, srv.rangeHeaders)
	assert.Equal(t, []string{"/odata/v1/Products(a1b2-c3d4)/$value"}, srv.paths)
	assert.Equal(t, int64(5000), prog.total)
	assert.Equal(t, int64(0), prog.initial)
	assert.Equal(t, int64(5000), prog.added)
	assert.Greater(t, prog.adds, 0)
	require.NotNil(t, prog.done)
	assert.True(t, *prog.done)
}

func TestFetchResumesFromPartial(t *testing.T) {
	const total, have = 10_000_000, 4_000_000
	content := payload(total)
	srv := &productServer{t: t, content: content}
	d, _ := newTestDownloader(t, srv, nil, 1024*1024)
	task := newTask(t)
	require.NoError(t, os.WriteFile(task.PartPath, content[:have], 0644))

	prog := &recordingProgress{}
	require.NoError(t, d.Fetch(context.Background(), task, prog))

	assert.Equal(t, []string{"bytes=4000000-"}, srv.rangeHeaders)
	assert.Equal(t, int64(total), prog.total)
	assert.Equal(t, int64(have), prog.initial)
	assert.Equal(t, int64(total-have), prog.added)

	got, err := os.ReadFile(task.FinalPath)
	require.NoError(t, err)
	require.Len(t, got, total)
	assert.Equal(t, content, got)
	assert.NoFileExists(t, task.PartPath)
}

func TestFetchRangeIgnoredTruncates(t *testing.T) {
	content := payload(3000)
	srv := &productServer{t: t, content: content, ignoreRange: true}
	d, _ := newTestDownloader(t, srv, nil, 512)
	task := newTask(t)
	require.NoError(t, os.WriteFile(task.PartPath, []byte(strings.Repeat("x", 700)), 0644))

	prog := &recordingProgress{}
	require.NoError(t, d.Fetch(context.Background(), task, prog))

	assert.Equal(t, []string{"bytes=700-"}, srv.rangeHeaders)
	assert.Equal(t, int64(0), prog.initial)

	got, err := os.ReadFile(task.FinalPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestFetchStatusFailurePreservesPartial(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusServiceUnavailable, http.StatusForbidden} {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			srv := &productServer{t: t, content: payload(100), status: code}
			d, _ := newTestDownloader(t, srv, nil, 64)
			task := newTask(t)
			require.NoError(t, os.WriteFile(task.PartPath, []byte("partial"), 0644))

			err := d.Fetch(context.Background(), task, nil)
			require.Error(t, err)
			assert.True(t, IsStatusFailure(err))
			assert.False(t, IsTransportFailure(err))
			assert.ErrorIs(t, err, ErrUnexpectedStatus)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, code, se.StatusCode)

			got, err := os.ReadFile(task.PartPath)
			require.NoError(t, err)
			assert.Equal(t, "partial", string(got))
			assert.NoFileExists(t, task.FinalPath)
		})
	}
}

func TestFetchTransportFailureDeletesPartial(t *testing.T) {
	content := payload(4096)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Promise more than is sent; the server drops the connection when the handler returns
		w.Header().Set("Content-Range", "bytes 1000-4095/4096")
		w.Header().Set("Content-Length", "3096")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[1000:2000])
	})
	d, _ := newTestDownloader(t, handler, nil, 256)
	task := newTask(t)
	require.NoError(t, os.WriteFile(task.PartPath, content[:1000], 0644))

	prog := &recordingProgress{}
	err := d.Fetch(context.Background(), task, prog)
	require.Error(t, err)
	assert.True(t, IsTransportFailure(err))
	assert.False(t, IsStatusFailure(err))

	assert.NoFileExists(t, task.PartPath)
	assert.NoFileExists(t, task.FinalPath)
	require.NotNil(t, prog.done)
	assert.False(t, *prog.done)
}

func TestFetchConnectionRefusedDeletesPartial(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	d := NewDownloader(nil, &staticTokens{token: "tok"}, Options{BaseURL: baseURL}, logger.Discard())
	task := newTask(t)
	require.NoError(t, os.WriteFile(task.PartPath, []byte("stale"), 0644))

	err := d.Fetch(context.Background(), task, nil)
	require.Error(t, err)
	assert.True(t, IsTransportFailure(err))
	assert.NoFileExists(t, task.PartPath)
}

func TestFetchShortBody(t *testing.T) {
	content := payload(500)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-999/1000")
		w.Header().Set("Content-Length", "500")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content)
	})
	d, _ := newTestDownloader(t, handler, nil, 128)
	task := newTask(t)

	err := d.Fetch(context.Background(), task, nil)
	assert.True(t, IsTransportFailure(err))
	assert.ErrorIs(t, err, ErrShortBody)
	assert.NoFileExists(t, task.PartPath)
	assert.NoFileExists(t, task.FinalPath)
}

func TestFetchMisalignedRangeIsStatusFailure(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-9/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload(10))
	})
	d, _ := newTestDownloader(t, handler, nil, 128)
	task := newTask(t)
	require.NoError(t, os.WriteFile(task.PartPath, payload(4), 0644))

	err := d.Fetch(context.Background(), task, nil)
	assert.True(t, IsStatusFailure(err))
	assert.FileExists(t, task.PartPath)
}

func TestFetchRefreshesTokenOnUnauthorized(t *testing.T) {
	content := payload(300)
	srv := &productServer{t: t, content: content, token: "fresh"}
	tokens := &staticTokens{token: "stale", fresh: "fresh"}
	d, _ := newTestDownloader(t, srv, tokens, 128)
	task := newTask(t)

	require.NoError(t, d.Fetch(context.Background(), task, nil))

	assert.Equal(t, []string{"stale"}, tokens.refreshed)
	assert.Len(t, srv.rangeHeaders, 2)
	assert.FileExists(t, task.FinalPath)
}

func TestFetchUnauthorizedTwiceIsStatusFailure(t *testing.T) {
	srv := &productServer{t: t, content: payload(10), token: "never-issued"}
	tokens := &staticTokens{token: "stale", fresh: "also-rejected"}
	d, _ := newTestDownloader(t, srv, tokens, 128)
	task := newTask(t)
	require.NoError(t, os.WriteFile(task.PartPath, []byte("keep"), 0644))

	err := d.Fetch(context.Background(), task, nil)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Len(t, tokens.refreshed, 1)
	assert.FileExists(t, task.PartPath)
}

func TestFetchCompletePartialIsPromoted(t *testing.T) {
	content := payload(2048)
	srv := &productServer{t: t, content: content}
	d, _ := newTestDownloader(t, srv, nil, 512)
	task := newTask(t)
	require.NoError(t, os.WriteFile(task.PartPath, content, 0644))

	require.NoError(t, d.Fetch(context.Background(), task, nil))

	assert.Equal(t, []string{"bytes=2048-"}, srv.rangeHeaders)
	got, err := os.ReadFile(task.FinalPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.NoFileExists(t, task.PartPath)
}

func TestFetchStallIsTransportFailure(t *testing.T) {
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-999/1000")
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload(100))
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	server := httptest.NewServer(handler)
	defer server.Close()
	defer close(release)

	d := NewDownloader(server.Client(), &staticTokens{token: "tok"}, Options{
		BaseURL:     server.URL,
		ChunkSize:   64,
		ReadTimeout: 100 * time.Millisecond,
	}, logger.Discard())
	task := newTask(t)

	err := d.Fetch(context.Background(), task, nil)
	require.Error(t, err)
	assert.True(t, IsTransportFailure(err))
	assert.ErrorIs(t, err, ErrStalled)
	assert.NoFileExists(t, task.PartPath)
}

func TestFetchCancelledKeepsPartial(t *testing.T) {
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-999/1000")
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload(100))
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	server := httptest.NewServer(handler)
	defer server.Close()
	defer close(release)

	d := NewDownloader(server.Client(), &staticTokens{token: "tok"}, Options{
		BaseURL:     server.URL,
		ChunkSize:   50,
		ReadTimeout: 5 * time.Second,
	}, logger.Discard())
	task := newTask(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prog := &recordingProgress{onAdd: cancel}

	err := d.Fetch(ctx, task, prog)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransportFailure(err))

	info, statErr := os.Stat(task.PartPath)
	require.NoError(t, statErr)
	assert.Greater(t, info.Size(), int64(0))
	assert.NoFileExists(t, task.FinalPath)
}

// chunkedRangeServer answers every range with at most limit bytes and a closed Content-Range.
func chunkedRangeServer(t *testing.T, content []byte, limit int64, failFrom int64) (http.Handler, *[]string) {
	var mu sync.Mutex
	var ranges []string
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		mu.Unlock()

		start, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(r.Header.Get("Range"), "bytes="), "-"), 10, 64)
		assert.NoError(t, err)
		if failFrom >= 0 && start >= failFrom {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		total := int64(len(content))
		end := min(start+limit, total) - 1
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[start : end+1])
	}), &ranges
}

func TestFetchFollowsClosedRanges(t *testing.T) {
	content := payload(10_000)
	handler, ranges := chunkedRangeServer(t, content, 1000, -1)
	d, _ := newTestDownloader(t, handler, nil, 256)
	task := newTask(t)
	require.NoError(t, os.WriteFile(task.PartPath, content[:4000], 0644))

	prog := &recordingProgress{}
	require.NoError(t, d.Fetch(context.Background(), task, prog))

	assert.Equal(t, []string{
		"bytes=4000-", "bytes=5000-", "bytes=6000-", "bytes=7000-", "bytes=8000-", "bytes=9000-",
	}, *ranges)
	assert.Equal(t, int64(10_000), prog.total)
	assert.Equal(t, int64(4000), prog.initial)
	assert.Equal(t, int64(6000), prog.added)
	require.NotNil(t, prog.done)
	assert.True(t, *prog.done)

	got, err := os.ReadFile(task.FinalPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.NoFileExists(t, task.PartPath)
}

func TestFetchClosedRangeKeepsAlignedBytes(t *testing.T) {
	content := payload(10_000)
	handler, ranges := chunkedRangeServer(t, content, 1000, 5000)
	d, _ := newTestDownloader(t, handler, nil, 256)
	task := newTask(t)
	require.NoError(t, os.WriteFile(task.PartPath, content[:4000], 0644))

	prog := &recordingProgress{}
	err := d.Fetch(context.Background(), task, prog)
	require.Error(t, err)
	assert.True(t, IsStatusFailure(err))
	assert.Equal(t, []string{"bytes=4000-", "bytes=5000-"}, *ranges)

	got, err := os.ReadFile(task.PartPath)
	require.NoError(t, err)
	assert.Equal(t, content[:5000], got)
	assert.NoFileExists(t, task.FinalPath)
	require.NotNil(t, prog.done)
	assert.False(t, *prog.done)
}

func TestFetchRangePastSizeIsStatusFailure(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-1999/1000")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload(2000))
	})
	d, _ := newTestDownloader(t, handler, nil, 128)
	task := newTask(t)

	err := d.Fetch(context.Background(), task, nil)
	assert.True(t, IsStatusFailure(err))
	assert.NoFileExists(t, task.FinalPath)
}
