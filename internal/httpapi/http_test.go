package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"coaching_framework/internal/analysis"
	"coaching_framework/internal/batch"
	"coaching_framework/internal/coach"
	"coaching_framework/internal/config"
	"coaching_framework/internal/events"
	"coaching_framework/internal/store"
)

type stubClient struct{}

func (stubClient) Analyze(ctx context.Context, req analysis.Request) (analysis.Result, error) {
	return analysis.Result{Content: "looks fine"}, nil
}

func setupTest(t *testing.T) (*http.ServeMux, *store.Store, string) {
	t.Helper()
	cfg := config.Config{
		Processing: config.ProcessingConfig{
			WindowSeconds:         30,
			LookbackWindows:       3,
			MaxConcurrentSessions: 2,
			BackoffBaseMs:         1,
		},
		Analysis: config.AnalysisConfig{Model: "test-model"},
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	invoker := analysis.NewInvoker(stubClient{}, 0, time.Millisecond)
	agg := coach.NewAggregator(st, cfg.Processing.LookbackWindows)
	orch := batch.New(st, invoker, agg, events.NewBus(), cfg)

	mux := http.NewServeMux()
	NewRouter(cfg, st, orch).Register(mux)

	input := filepath.Join(t.TempDir(), "rec.json")
	doc := `{"frames":[{"timestamp":1.0,"description":"User clicks run","application":"IDE"}]}`
	if err := os.WriteFile(input, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return mux, st, input
}

func TestHealthEndpoint(t *testing.T) {
	mux, _, _ := setupTest(t)
	req := httptest.NewRequest(http.MethodGet, "/ops/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestStartAndTrackBatch(t *testing.T) {
	mux, _, input := setupTest(t)

	body := bytes.NewBufferString(fmt.Sprintf(`{"name":"api","inputs":[{"path":%q}]}`, input))
	req := httptest.NewRequest(http.MethodPost, "/ops/batches", body)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}
	var snap batch.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.JobID == "" || snap.TotalSessions != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		req := httptest.NewRequest(http.MethodGet, "/ops/batches/"+snap.JobID, nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("progress status %d", rr.Code)
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
			t.Fatalf("decode progress: %v", err)
		}
		if snap.CompletedAt != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("batch did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if snap.Status != batch.JobCompleted {
		t.Fatalf("job status = %q", snap.Status)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	listRR := httptest.NewRecorder()
	mux.ServeHTTP(listRR, listReq)
	var sessions []store.Session
	if err := json.Unmarshal(listRR.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Status != store.SessionCompleted {
		t.Fatalf("sessions = %+v", sessions)
	}

	winReq := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sessions[0].ID+"/windows", nil)
	winRR := httptest.NewRecorder()
	mux.ServeHTTP(winRR, winReq)
	var wins []store.WindowRecord
	if err := json.Unmarshal(winRR.Body.Bytes(), &wins); err != nil {
		t.Fatalf("decode windows: %v", err)
	}
	if len(wins) != 1 || wins[0].Status != store.WindowCompleted {
		t.Fatalf("windows = %+v", wins)
	}
}

func TestChunkPreviewEndpoint(t *testing.T) {
	mux, _, _ := setupTest(t)

	input := filepath.Join(t.TempDir(), "long.json")
	doc := `{"frames":[
		{"timestamp":100.0,"description":"User opens the report","application":"Sheets"},
		{"timestamp":110.0,"description":"User edits a cell","application":"Sheets"},
		{"timestamp":145.0,"description":"User exports a PDF","application":"Sheets"}
	]}`
	if err := os.WriteFile(input, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	body := bytes.NewBufferString(fmt.Sprintf(`{"path":%q,"window_seconds":30}`, input))
	req := httptest.NewRequest(http.MethodPost, "/ops/chunks", body)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}
	var chunks []chunkSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &chunks); err != nil {
		t.Fatalf("decode chunks: %v", err)
	}
	// anchored at the first observation, not at zero
	if len(chunks) != 2 || chunks[0].Start != 100 || chunks[0].FrameCount != 2 {
		t.Fatalf("chunks = %+v", chunks)
	}
	// the final interval clips to the data span
	if chunks[1].End != 145 || chunks[1].FrameCount != 1 {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestChunkPreviewRejectsMissingFile(t *testing.T) {
	mux, _, _ := setupTest(t)
	body := bytes.NewBufferString(`{"path":"/does/not/exist.json"}`)
	req := httptest.NewRequest(http.MethodPost, "/ops/chunks", body)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestBatchListEndpoint(t *testing.T) {
	mux, _, _ := setupTest(t)
	req := httptest.NewRequest(http.MethodGet, "/ops/batches", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	var jobs []batch.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty job list, got %d", len(jobs))
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	mux, _, _ := setupTest(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestCancelUnknownBatchIs404(t *testing.T) {
	mux, _, _ := setupTest(t)
	req := httptest.NewRequest(http.MethodPost, "/ops/batches/nope/cancel", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux, _, _ := setupTest(t)
	req := httptest.NewRequest(http.MethodGet, "/ops/metrics", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	var snap map[string]int64
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if _, ok := snap["windows_completed"]; !ok {
		t.Fatal("metrics snapshot missing windows_completed")
	}
}
