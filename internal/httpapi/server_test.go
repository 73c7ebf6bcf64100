package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/roomscan-mcp/internal/ingest"
	"github.com/dshills/roomscan-mcp/internal/metrics"
	"github.com/dshills/roomscan-mcp/internal/searcher"
	"github.com/dshills/roomscan-mcp/internal/storage"
	"github.com/dshills/roomscan-mcp/pkg/types"
)

type fakeIngester struct {
	result *ingest.Result
	err    error
	got    []ingest.Record
}

func (f *fakeIngester) Ingest(ctx context.Context, rec ingest.Record) (*ingest.Result, error) {
	f.got = append(f.got, rec)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeSearcher struct {
	resp *searcher.SearchResponse
	err  error
	got  []searcher.SearchRequest
}

func (f *fakeSearcher) Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error) {
	f.got = append(f.got, req)
	return f.resp, f.err
}

type recordingTrigger struct {
	mu      sync.Mutex
	records []ingest.Record
	err     error
}

func (r *recordingTrigger) Trigger(ctx context.Context, rec ingest.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

type fixture struct {
	server   *Server
	store    *storage.SQLiteStorage
	ingester *fakeIngester
	searcher *fakeSearcher
	trigger  *recordingTrigger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store:    store,
		ingester: &fakeIngester{},
		searcher: &fakeSearcher{},
		trigger:  &recordingTrigger{},
	}
	n := 0
	f.server = New(Deps{
		Ingester: f.ingester,
		Trigger:  f.trigger,
		Searcher: f.searcher,
		Store:    store,
		Metrics:  metrics.New(metrics.DefaultConfig()),
		NewID: func() string {
			n++
			return fmt.Sprintf("scan-%d", n)
		},
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAnalyzeScan(t *testing.T) {
	f := newFixture(t)
	f.ingester.result = &ingest.Result{
		ScanID:         "s1",
		RoomLabel:      types.RoomKitchen,
		RoomSource:     ingest.RoomInherited,
		Labels:         []string{"keys", "mug"},
		DetectionState: "succeeded",
	}

	body := `{"type":"INSERT","table":"scans","record":{"id":"s1","image_url":"https://img/1.jpg"}}`
	rec := f.do(t, http.MethodPost, "/v1/scans/analyze", body)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode(t, rec)
	assert.Equal(t, "Hybrid Analysis Complete", got["message"])
	assert.Equal(t, "Kitchen", got["room_label"])
	assert.Equal(t, []interface{}{"keys", "mug"}, got["objects"])

	require.Len(t, f.ingester.got, 1)
	assert.Equal(t, ingest.Record{ID: "s1", ImageURL: "https://img/1.jpg"}, f.ingester.got[0])
}

func TestAnalyzeScanErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"missing image url", `{"record":{"id":"s1"}}`, nil, http.StatusBadRequest, "No image URL"},
		{"blank image url", `{"record":{"id":"s1","image_url":"  "}}`, nil, http.StatusBadRequest, "No image URL"},
		{"malformed body", `{"record":`, nil, http.StatusBadRequest, "invalid request body"},
		{"missing id", `{"record":{"image_url":"u"}}`, fmt.Errorf("%w: missing id", types.ErrInput), http.StatusBadRequest, "invalid input: missing id"},
		{"in progress", `{"record":{"id":"s1","image_url":"u"}}`, fmt.Errorf("%w: s1", ingest.ErrInProgress), http.StatusConflict, "ingestion already in progress for scan: s1"},
		{
			"parse failure surfaces message",
			`{"record":{"id":"s1","image_url":"u"}}`,
			fmt.Errorf("describe scene: %w: scene reply is not JSON", types.ErrUpstreamParse),
			http.StatusInternalServerError,
			"describe scene: upstream response could not be parsed: scene reply is not JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ingester.err = tt.err

			rec := f.do(t, http.MethodPost, "/v1/scans/analyze", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decode(t, rec)["error"])
		})
	}
}

func TestCreateScan(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/scans", `{"image_url":" https://img/new.jpg "}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, "scan-1", got["id"])
	assert.Equal(t, false, got["analyzed"])

	stored, err := f.store.GetScan(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, "https://img/new.jpg", stored.ImageURL)

	require.Len(t, f.trigger.records, 1)
	assert.Equal(t, "scan-1", f.trigger.records[0].ID)
	assert.Equal(t, "https://img/new.jpg", f.trigger.records[0].ImageURL)
	require.NotNil(t, f.trigger.records[0].CreatedAt)
}

func TestCreateScanValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/scans", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.trigger.records)
}

func TestCreateScanTriggerFailure(t *testing.T) {
	f := newFixture(t)
	f.trigger.err = errors.New("nats: connection closed")

	rec := f.do(t, http.MethodPost, "/v1/scans", `{"image_url":"u"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "connection closed")
}

func TestGetScan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateScan(ctx, &types.Scan{ID: "s1", ImageURL: "u1"}))
	require.NoError(t, f.store.SaveAnalysis(ctx, "s1", &types.Analysis{
		Description:     "desk",
		RoomLabel:       types.RoomOffice,
		DetectedObjects: []types.DetectedObject{{Label: "lamp", Embedding: []float32{1, 0}}},
		Embedding:       []float32{0, 1},
	}))

	rec := f.do(t, http.MethodGet, "/v1/scans/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, "Office", got["room_label"])
	assert.Equal(t, []interface{}{"lamp"}, got["detected_objects"])
	assert.Equal(t, true, got["analyzed"])
	assert.NotContains(t, rec.Body.String(), "embedding")

	rec = f.do(t, http.MethodGet, "/v1/scans/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	img := "https://img/office.jpg"
	f.searcher.resp = &searcher.SearchResponse{Result: types.SearchResult{Answer: "On the desk.", Image: &img}}

	rec := f.do(t, http.MethodPost, "/v1/search", `{"query":"where are my keys","room":"Office"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"answer":"On the desk.","image":"https://img/office.jpg"}`, rec.Body.String())
	assert.Equal(t, []searcher.SearchRequest{{Query: "where are my keys", Room: "Office"}}, f.searcher.got)
}

func TestSearchNoMatch(t *testing.T) {
	f := newFixture(t)
	f.searcher.resp = &searcher.SearchResponse{Result: types.SearchResult{Answer: types.NoMatchAnswer}}

	rec := f.do(t, http.MethodPost, "/v1/search", `{"query":"where is my wallet"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"answer":"No matching items found.","image":null}`, rec.Body.String())
}

func TestSearchErrors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/search", `{"query":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.searcher.got)

	f.searcher.err = fmt.Errorf("%w: scene search: database is locked", types.ErrStorage)
	rec = f.do(t, http.MethodPost, "/v1/search", `{"query":"keys"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"search failed"}`, rec.Body.String())
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateScan(context.Background(), &types.Scan{ID: "s1", ImageURL: "u"}))

	rec := f.do(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, float64(1), got["total_scans"])
	assert.Equal(t, float64(0), got["analyzed_scans"])
	assert.NotEmpty(t, got["build_mode"])
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
