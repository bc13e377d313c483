package search

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amankumarsingh77/crawlindex/config"
	"github.com/amankumarsingh77/crawlindex/internal/cache"
	"github.com/amankumarsingh77/crawlindex/internal/common"
	"github.com/amankumarsingh77/crawlindex/internal/indexer"
	"github.com/amankumarsingh77/crawlindex/internal/query"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	lastQuery string
	lastTopK  int
	err       error
}

func (f *fakeService) Search(_ context.Context, rawQuery string, topK int) (*query.Response, error) {
	f.lastQuery, f.lastTopK = rawQuery, topK
	if f.err != nil {
		return nil, f.err
	}
	if rawQuery == "" {
		return nil, indexer.ErrEmptyQuery
	}
	return &query.Response{
		Query:   rawQuery,
		Results: []indexer.SearchResult{{DocID: 1, URL: "https://example.com/", Score: 1.5}},
		Total:   1,
	}, nil
}

type fakeMeta map[string]string

func (m fakeMeta) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func newTestApp(t *testing.T, svc Searcher, opts ...Option) *fiber.App {
	t.Helper()
	cfg := config.Default()
	api := NewSearchAPI(svc, &cfg.Query, nil, opts...)
	return NewApp(&cfg.Search, api)
}

func do(t *testing.T, app *fiber.App, target string) (int, []byte) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestSearchHandler(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(t, svc)

	code, body := do(t, app, "/search?q=red+apple&topk=3")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "red apple", svc.lastQuery)
	assert.Equal(t, 3, svc.lastTopK)

	var resp query.Response
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, uint64(1), resp.Results[0].DocID)
}

func TestSearchHandlerDefaultTopK(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(t, svc)

	code, _ := do(t, app, "/search?q=apple")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, config.Default().Query.DefaultTopK, svc.lastTopK)
}

func TestSearchHandlerBadRequests(t *testing.T) {
	app := newTestApp(t, &fakeService{})

	code, _ := do(t, app, "/search?q=")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, app, "/search?q=apple&topk=many")
	assert.Equal(t, http.StatusBadRequest, code)

	app = newTestApp(t, &fakeService{err: indexer.ErrInvalidTopK})
	code, _ = do(t, app, "/search?q=apple&topk=0")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSearchHandlerInternalError(t *testing.T) {
	app := newTestApp(t, &fakeService{err: errors.New("disk on fire")})

	code, body := do(t, app, "/search?q=apple")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.NotContains(t, string(body), "disk on fire")
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t, &fakeService{},
		WithMetrics("index", func() any { return indexer.Stats{Documents: 7} }),
	)

	code, _ := do(t, app, "/health")
	assert.Equal(t, http.StatusOK, code)

	code, body := do(t, app, "/metrics")
	require.Equal(t, http.StatusOK, code)
	var out map[string]map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	assert.EqualValues(t, 7, out["index"]["documents"])
}

func TestMetaHandler(t *testing.T) {
	canonical, err := common.Canonicalize("https://Example.com/page")
	require.NoError(t, err)
	meta := fakeMeta{cache.MetaKey(common.HashURL(canonical)): `{"url":"https://example.com/page","doc_id":4}`}
	app := newTestApp(t, &fakeService{}, WithMeta(meta))

	code, body := do(t, app, "/crawl/meta?url=https://example.com/page")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"url":"https://example.com/page","doc_id":4}`, string(body))

	code, _ = do(t, app, "/crawl/meta?url=https://example.com/other")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, app, "/crawl/meta")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMetaHandlerWithoutCache(t *testing.T) {
	app := newTestApp(t, &fakeService{})

	code, _ := do(t, app, "/crawl/meta?url=https://example.com/")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
