package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/wager-engine/internal/artifacts"
	"github.com/rawblock/wager-engine/internal/config"
	"github.com/rawblock/wager-engine/internal/db"
	"github.com/rawblock/wager-engine/internal/logging"
	"github.com/rawblock/wager-engine/internal/pipeline"
	"github.com/rawblock/wager-engine/internal/telemetry"
	"github.com/rawblock/wager-engine/pkg/models"
)

const window = "2013-01-07_to_2013-04-06"

type fakePipeline struct {
	manifest *artifacts.Manifest
	running  bool
	ran      chan pipeline.Stage
}

func (f *fakePipeline) Run(_ context.Context, upTo pipeline.Stage) (*pipeline.Report, error) {
	f.ran <- upTo
	return &pipeline.Report{RunID: f.manifest.RunID()}, nil
}

func (f *fakePipeline) Progress() pipeline.Progress {
	return pipeline.Progress{IsRunning: f.running, Stage: "raw"}
}

func (f *fakePipeline) Manifest() *artifacts.Manifest { return f.manifest }

type fakeStore struct {
	page, limit int
}

func (f *fakeStore) FlaggedResults(_ context.Context, page, limit int) ([]db.FlaggedResult, int, error) {
	f.page, f.limit = page, limit
	return []db.FlaggedResult{{Window: window, Result: models.StrategyResult{Counterparty: "bot", NTx: 30}}}, 1, nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, token string, results FlaggedStore) (*gin.Engine, *fakePipeline) {
	t.Helper()
	p := &fakePipeline{manifest: artifacts.New(t.TempDir()), ran: make(chan pipeline.Stage, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	httpCfg := config.Default().HTTP
	httpCfg.AuthToken = token
	r := SetupRouter(Options{
		Service:     "svc",
		HTTP:        httpCfg,
		Pipeline:    p,
		Results:     results,
		Hub:         NewHub(logging.Discard()),
		Telemetry:   telemetry.New(),
		Log:         logging.Discard(),
		BaseContext: ctx,
	})
	return r, p
}

func do(r http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, "", nil)
	w := do(r, http.MethodGet, "/api/v1/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200. Got: %d", w.Code)
	}
	var body struct {
		Service     string `json:"service"`
		DBConnected bool   `json:"dbConnected"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Service != "svc" || body.DBConnected {
		t.Errorf("Unexpected health payload: %s", w.Body.String())
	}
}

func TestArtifactRoutes(t *testing.T) {
	r, p := newTestRouter(t, "", nil)

	results := []models.StrategyResult{{Counterparty: "bot", NTx: 30, Martingale: models.StrategySignature{Ratio: 0.69, Flag: true}}}
	if err := p.manifest.WriteJSON(artifacts.ResultFile(window), artifacts.StageStrategy, artifacts.Params{}, results); err != nil {
		t.Fatal(err)
	}
	inv := map[string]any{"interval": 3, "chunks": []models.ChunkCount{{Chunk: window, Count: 90}}}
	if err := p.manifest.WriteJSON(artifacts.InventoryFile(3), artifacts.StageChunk, artifacts.Params{}, inv); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"results", "/api/v1/results/" + window, http.StatusOK},
		{"inventory", "/api/v1/chunks/3", http.StatusOK},
		{"missing metrics", "/api/v1/metrics/" + window, http.StatusNotFound},
		{"missing log", "/api/v1/logs/" + window, http.StatusNotFound},
		{"missing inventory", "/api/v1/chunks/6", http.StatusNotFound},
		{"bad interval", "/api/v1/chunks/zero", http.StatusBadRequest},
		{"bad label", "/api/v1/results/manifest", http.StatusBadRequest},
		{"flagged without db", "/api/v1/flagged", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, tt.path, "", nil)
			if w.Code != tt.want {
				t.Errorf("Expected %d. Got: %d (%s)", tt.want, w.Code, w.Body.String())
			}
		})
	}

	w := do(r, http.MethodGet, "/api/v1/results/"+window, "", nil)
	var got []models.StrategyResult
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].Martingale.Flag {
		t.Errorf("Unexpected results payload: %s", w.Body.String())
	}
}

func TestFlagged(t *testing.T) {
	store := &fakeStore{}
	r, _ := newTestRouter(t, "", store)

	tests := []struct {
		name                string
		query               string
		wantPage, wantLimit int
	}{
		{"explicit", "?page=2&limit=10", 2, 10},
		{"defaults", "", 1, 50},
		{"clamped", "?page=0&limit=10000", 1, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, "/api/v1/flagged"+tt.query, "", nil)
			if w.Code != http.StatusOK {
				t.Fatalf("Expected 200. Got: %d", w.Code)
			}
			var body struct {
				TotalCount int `json:"totalCount"`
				Page       int `json:"page"`
				Limit      int `json:"limit"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.TotalCount != 1 || body.Page != tt.wantPage || body.Limit != tt.wantLimit {
				t.Errorf("Expected page %d limit %d. Got: %s", tt.wantPage, tt.wantLimit, w.Body.String())
			}
			if store.page != tt.wantPage || store.limit != tt.wantLimit {
				t.Errorf("Expected the store to be queried with %d/%d. Got: %d/%d", tt.wantPage, tt.wantLimit, store.page, store.limit)
			}
		})
	}
}

func TestStartRunAuth(t *testing.T) {
	r, p := newTestRouter(t, "s3cret", nil)

	tests := []struct {
		name   string
		header map[string]string
		body   string
		want   int
	}{
		{"missing header", nil, "", http.StatusUnauthorized},
		{"wrong scheme", map[string]string{"Authorization": "Basic s3cret"}, "", http.StatusForbidden},
		{"wrong token", map[string]string{"Authorization": "Bearer nope"}, "", http.StatusForbidden},
		{"unknown stage", map[string]string{"Authorization": "Bearer s3cret"}, `{"upTo":"deploy"}`, http.StatusBadRequest},
		{"accepted", map[string]string{"Authorization": "Bearer s3cret"}, `{"upTo":"rolling"}`, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/api/v1/pipeline/run", tt.body, tt.header)
			if w.Code != tt.want {
				t.Errorf("Expected %d. Got: %d (%s)", tt.want, w.Code, w.Body.String())
			}
		})
	}

	select {
	case got := <-p.ran:
		if got != pipeline.StageRollingAnalysisLogged {
			t.Errorf("Expected run up to rolling. Got: %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the accepted request to start a run")
	}
}

func TestStartRunConflict(t *testing.T) {
	r, p := newTestRouter(t, "", nil)
	p.running = true
	w := do(r, http.MethodPost, "/api/v1/pipeline/run", "", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 while running. Got: %d", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(t.Context(), 1, 2)
	for i := range 2 {
		if ok, _ := rl.allow("10.0.0.1"); !ok {
			t.Fatalf("Expected request %d within burst to pass", i)
		}
	}
	ok, retry := rl.allow("10.0.0.1")
	if ok || retry <= 0 {
		t.Errorf("Expected third request to be limited with a retry delay. Got: %v/%v", ok, retry)
	}
	if ok, _ := rl.allow("10.0.0.2"); !ok {
		t.Errorf("Expected a different IP to have its own bucket")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, "", nil)
	w := do(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Errorf("Expected Prometheus exposition. Got: %d", w.Code)
	}
}

func TestHubPublishNeverBlocks(t *testing.T) {
	h := NewHub(logging.Discard())
	for range 300 {
		h.Publish(pipeline.Event{Type: pipeline.EventWarning, Message: "window skipped"})
	}
	if len(h.broadcast) != cap(h.broadcast) {
		t.Errorf("Expected a full queue with the overflow dropped. Got: %d queued", len(h.broadcast))
	}
	msg := <-h.broadcast
	if !strings.Contains(string(msg), `"type":"warning"`) {
		t.Errorf("Expected the encoded event. Got: %s", msg)
	}
}
