package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/use-agent/pagesignal/api/handler"
	"github.com/use-agent/pagesignal/config"
	"github.com/use-agent/pagesignal/dataset"
	"github.com/use-agent/pagesignal/models"
	"github.com/use-agent/pagesignal/scanner"
)

type stubRunner struct{}

func (stubRunner) Run(ctx context.Context, targets []models.ScanTarget) (*scanner.Batch, error) {
	b := &scanner.Batch{ID: "b", Results: map[string]*models.ScanResult{}}
	for _, t := range targets {
		b.Results[t.URL] = &models.ScanResult{Success: true, Label: t.Label,
			Features: &models.FeatureRecord{}, Metadata: &models.MetadataRecord{IsHTTPS: 1}}
	}
	return b, nil
}

func testRouter(t *testing.T, keys ...string) (http.Handler, *handler.Queue) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.Mode = "test"
	cfg.Auth.Enabled = len(keys) > 0
	cfg.Auth.APIKeys = keys
	cfg.RateLimit.RequestsPerSecond = 100
	cfg.RateLimit.Burst = 100

	q := handler.NewQueue(stubRunner{}, "", 4)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go q.Start(ctx)
	return NewRouter(q, nil, cfg, time.Now()), q
}

func do(h http.Handler, method, path string, body any, key string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthWithoutAuth(t *testing.T) {
	h, _ := testRouter(t, "k")
	w := do(h, http.MethodGet, "/api/v1/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp models.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" || resp.Version == "" {
		t.Errorf("health = %+v", resp)
	}
}

func TestScansRequireAuth(t *testing.T) {
	h, _ := testRouter(t, "k")
	w := do(h, http.MethodPost, "/api/v1/scans", models.ScanRequest{Targets: []models.ScanTarget{{URL: "https://a.com"}}}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing key status = %d", w.Code)
	}
	w = do(h, http.MethodPost, "/api/v1/scans", models.ScanRequest{Targets: []models.ScanTarget{{URL: "https://a.com"}}}, "wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d", w.Code)
	}
}

func TestScanLifecycle(t *testing.T) {
	h, _ := testRouter(t, "k")

	req := models.ScanRequest{Targets: []models.ScanTarget{
		{URL: "https://a.com", Label: "benign"},
		{URL: "https://b.com", Label: "phish"},
	}}
	w := do(h, http.MethodPost, "/api/v1/scans", req, "k")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	var created models.ScanResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.Total != 2 || created.Status != models.JobQueued {
		t.Fatalf("created = %+v", created)
	}

	deadline := time.Now().Add(5 * time.Second)
	var status models.JobStatusResponse
	for time.Now().Before(deadline) {
		w = do(h, http.MethodGet, "/api/v1/scans/"+created.ID, nil, "k")
		if w.Code != http.StatusOK {
			t.Fatalf("get status = %d", w.Code)
		}
		if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
			t.Fatal(err)
		}
		if status.Status == models.JobCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status.Status != models.JobCompleted || status.Succeeded != 2 || len(status.Results) != 2 {
		t.Errorf("final status = %+v", status)
	}
}

func TestScanValidation(t *testing.T) {
	h, _ := testRouter(t)
	tests := []struct {
		name string
		body any
	}{
		{"no targets", models.ScanRequest{}},
		{"empty url", models.ScanRequest{Targets: []models.ScanTarget{{Label: "x"}}}},
		{"bad webhook", models.ScanRequest{Targets: []models.ScanTarget{{URL: "https://a.com"}}, WebhookURL: "not a url"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, http.MethodPost, "/api/v1/scans", tt.body, "")
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestScanNotFound(t *testing.T) {
	h, _ := testRouter(t)
	w := do(h, http.MethodGet, "/api/v1/scans/scan-missing", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestBatchHistory(t *testing.T) {
	store, err := dataset.OpenStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	b := &scanner.Batch{
		ID: "batch-1",
		Results: map[string]*models.ScanResult{
			"https://a.com": {Success: true, Label: "benign",
				Features: &models.FeatureRecord{JSLen: 12}, Metadata: &models.MetadataRecord{IsHTTPS: 1}},
			"https://b.com": {Label: "phish", Error: "- direct: boom", FinalURLTried: "https://b.com"},
		},
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
	}
	if err := store.Write(context.Background(), b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	cfg := config.Defaults()
	cfg.Server.Mode = "test"
	cfg.Auth.Enabled = false
	h := NewRouter(handler.NewQueue(stubRunner{}, "", 1), store, cfg, time.Now())

	w := do(h, http.MethodGet, "/api/v1/batches?limit=5", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", w.Code, w.Body.String())
	}
	var list handler.BatchesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Batches) != 1 || list.Batches[0].ID != "batch-1" || list.Batches[0].Succeeded != 1 || list.Batches[0].Failed != 1 {
		t.Errorf("batches = %+v", list.Batches)
	}

	w = do(h, http.MethodGet, "/api/v1/batches/batch-1/results", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("results status = %d", w.Code)
	}
	var res handler.BatchResultsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if r := res.Results["https://a.com"]; r == nil || !r.Success || r.Features.JSLen != 12 {
		t.Errorf("a.com = %+v", r)
	}
	if r := res.Results["https://b.com"]; r == nil || r.Success || r.Error != "- direct: boom" {
		t.Errorf("b.com = %+v", r)
	}

	if w := do(h, http.MethodGet, "/api/v1/batches/missing/results", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("missing batch status = %d, want 404", w.Code)
	}
	if w := do(h, http.MethodGet, "/api/v1/batches?limit=zero", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
}

func TestBatchHistoryDisabledWithoutStore(t *testing.T) {
	h, _ := testRouter(t)
	if w := do(h, http.MethodGet, "/api/v1/batches", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 without a store", w.Code)
	}
}
