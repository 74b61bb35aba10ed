package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/gocdse/internal/app"
	"github.com/datallboy/gocdse/internal/domain"
	"github.com/datallboy/gocdse/internal/engine"
	"github.com/datallboy/gocdse/internal/infra/config"
	"github.com/datallboy/gocdse/internal/infra/logger"
	"github.com/datallboy/gocdse/internal/store"
)

type fakeFetcher struct {
	fail map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, task *domain.DownloadTask, progress engine.Progress) error {
	if err := f.fail[task.Product.ID]; err != nil {
		return err
	}
	return os.WriteFile(task.FinalPath, []byte("PK\x03\x04"), 0644)
}

func setup(t *testing.T) (http.Handler, *engine.Batch, *app.Context) {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := &config.Config{Download: config.DownloadConfig{SkipExisting: true}}
	appCtx := app.NewContext(cfg, logger.Discard())
	appCtx.Store = s

	products := []domain.Product{{ID: "a", Name: "S2A_ok"}, {ID: "b", Name: "S2A_bad"}}
	require.NoError(t, s.UpsertProducts(context.Background(), products))

	batch := engine.NewBatch(appCtx, &fakeFetcher{fail: map[string]error{
		"b": &engine.TransportError{Path: "x", Err: errors.New("connection reset")},
	}})
	_, err = batch.RunBatch(context.Background(), products, t.TempDir())
	require.NoError(t, err)

	return NewServer(appCtx, batch), batch, appCtx
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	h, _, _ := setup(t)

	rec := get(t, h, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Summary engine.Summary        `json:"summary"`
		Active  *domain.QueueItemView `json:"active"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, engine.Summary{Total: 2, Completed: 1, Failed: 1}, body.Summary)
	assert.Nil(t, body.Active)
}

func TestQueueEndpoints(t *testing.T) {
	h, batch, appCtx := setup(t)

	rec := get(t, h, "/api/queue")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []domain.QueueItemView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	assert.Equal(t, "S2A_ok", items[0].Name)
	assert.Equal(t, domain.StatusCompleted, items[0].Status)

	rec = get(t, h, "/api/queue?status=failed")
	require.Equal(t, http.StatusOK, rec.Code)
	items = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].ProductID)
	assert.Contains(t, items[0].Error, "connection reset")

	rec = get(t, h, "/api/queue?status=exploded")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	id := batch.Items()[0].ID
	rec = get(t, h, "/api/queue/"+id)
	require.Equal(t, http.StatusOK, rec.Code)
	var one domain.QueueItemView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, id, one.ID)

	rec = get(t, h, "/api/queue/does-not-exist")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// History from an earlier process is served from the store
	old := &domain.QueueItem{ID: "0000old", Product: domain.Product{ID: "z", Name: "S1A_old"}, Status: domain.StatusSkipped}
	require.NoError(t, appCtx.Store.SaveQueueItem(context.Background(), old))

	rec = get(t, h, "/api/queue/0000old")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, h, "/api/queue")
	items = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 3)
	assert.Equal(t, "0000old", items[0].ID)
}

func TestCancelFinishedItemConflicts(t *testing.T) {
	h, batch, _ := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/api/queue/"+batch.Items()[0].ID+"/cancel", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProductsEndpoint(t *testing.T) {
	h, _, _ := setup(t)

	rec := get(t, h, "/api/products")
	require.Equal(t, http.StatusOK, rec.Code)

	var products []domain.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	assert.ElementsMatch(t, []domain.Product{{ID: "a", Name: "S2A_ok"}, {ID: "b", Name: "S2A_bad"}}, products)
}
