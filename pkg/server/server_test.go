package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/memini-ai/memini/pkg/cache/memory"
	"github.com/memini-ai/memini/pkg/config"
	"github.com/memini-ai/memini/pkg/history"
	"github.com/memini-ai/memini/pkg/models"
	"github.com/memini-ai/memini/pkg/ratelimit"
)

type fakeEngine struct {
	answer models.Answer
	err    error
	tokens []string
}

func (f *fakeEngine) Answer(_ context.Context, query string, _ int) (models.Answer, error) {
	if f.err != nil {
		return models.Answer{}, f.err
	}
	a := f.answer
	a.Query = query
	return a, nil
}

func (f *fakeEngine) AnswerStream(_ context.Context, query string, _ int, fn func(string)) (models.Answer, error) {
	if f.err != nil {
		return models.Answer{}, f.err
	}
	a := f.answer
	a.Query = query
	if !a.CacheHit {
		for _, tok := range f.tokens {
			fn(tok)
		}
	}
	return a, nil
}

type fakeCounter struct {
	n   int64
	err error
}

func (f *fakeCounter) Count(context.Context) (int64, error) { return f.n, f.err }

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error { return f.err }

func testCaches(t *testing.T) (*memory.QueryCache[models.Answer], *memory.ChunkCache) {
	t.Helper()
	qc, err := memory.NewQueryCache[models.Answer](memory.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	cc, err := memory.NewChunkCache(memory.DefaultChunkOptions())
	if err != nil {
		t.Fatal(err)
	}
	return qc, cc
}

func setupServer(t *testing.T, engine Querier) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.AllowedOrigins = []string{"http://localhost:3000"}
	qc, cc := testCaches(t)
	return New(cfg, engine, qc, cc, &fakeCounter{n: 42}, nil, nil, &fakePinger{})
}

func postQuery(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func parseEvents(t *testing.T, body string) []streamEvent {
	t.Helper()
	var events []streamEvent
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		events = append(events, evt)
	}
	return events
}

func TestQueryAnswer(t *testing.T) {
	engine := &fakeEngine{answer: models.Answer{Response: "42", Model: "mistral", Sources: []string{"doc.md:0"}}}
	srv := setupServer(t, engine)

	w := postQuery(t, srv, `{"query":"what is the answer?","k":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Memini-Cache"); got != "miss" {
		t.Errorf("expected miss header, got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}

	var a models.Answer
	if err := json.Unmarshal(w.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if a.Response != "42" || a.Query != "what is the answer?" {
		t.Errorf("unexpected answer %+v", a)
	}
}

func TestQueryCacheHitHeader(t *testing.T) {
	engine := &fakeEngine{answer: models.Answer{Response: "42", CacheHit: true, CacheType: "exact"}}
	srv := setupServer(t, engine)

	w := postQuery(t, srv, `{"query":"q"}`)
	if got := w.Header().Get("X-Memini-Cache"); got != "exact" {
		t.Errorf("expected exact header, got %q", got)
	}
}

func TestQueryValidation(t *testing.T) {
	srv := setupServer(t, &fakeEngine{})

	if w := postQuery(t, srv, `{"query":"  "}`); w.Code != http.StatusBadRequest {
		t.Errorf("blank query: expected 400, got %d", w.Code)
	}
	if w := postQuery(t, srv, `{not json`); w.Code != http.StatusBadRequest {
		t.Errorf("bad body: expected 400, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/query", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: expected 405, got %d", w.Code)
	}
}

func TestQueryGenerationError(t *testing.T) {
	srv := setupServer(t, &fakeEngine{err: errors.New("ollama down")})
	if w := postQuery(t, srv, `{"query":"q"}`); w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}

	srv = setupServer(t, &fakeEngine{err: fmt.Errorf("cache lookup: %w", memory.ErrInvalidEmbedding)})
	if w := postQuery(t, srv, `{"query":"q"}`); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestQueryStream(t *testing.T) {
	engine := &fakeEngine{
		answer: models.Answer{Response: "Go rocks", Model: "mistral"},
		tokens: []string{"Go ", "rocks"},
	}
	srv := setupServer(t, engine)

	w := postQuery(t, srv, `{"query":"q","stream":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event stream, got %q", ct)
	}
	if got := w.Header().Get("X-Memini-Cache"); got != "miss" {
		t.Errorf("expected miss header, got %q", got)
	}

	events := parseEvents(t, w.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].Token != "Go " || events[1].Token != "rocks" {
		t.Errorf("unexpected token events %+v", events[:2])
	}
	last := events[2]
	if !last.Done || last.Answer == nil || last.Answer.Response != "Go rocks" {
		t.Errorf("unexpected done event %+v", last)
	}
}

func TestQueryStreamCacheHit(t *testing.T) {
	engine := &fakeEngine{
		answer: models.Answer{Response: "42", CacheHit: true, CacheType: "semantic", CacheSimilarity: 0.97},
	}
	srv := setupServer(t, engine)

	w := postQuery(t, srv, `{"query":"q","stream":true}`)
	if got := w.Header().Get("X-Memini-Cache"); got != "semantic" {
		t.Errorf("expected semantic header, got %q", got)
	}

	events := parseEvents(t, w.Body.String())
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Token != "42" {
		t.Errorf("cached answer must arrive as one token event, got %+v", events[0])
	}
	if !events[1].Done || events[1].Answer == nil || !events[1].Answer.CacheHit {
		t.Errorf("unexpected done event %+v", events[1])
	}
}

func TestStats(t *testing.T) {
	srv := setupServer(t, &fakeEngine{answer: models.Answer{Response: "42"}})
	srv.qcache.Set("q", 5, models.Answer{Response: "42"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp statsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if resp.QueryCache == nil || resp.QueryCache.TotalSize != 1 {
		t.Errorf("unexpected query cache stats %+v", resp.QueryCache)
	}
	if resp.IndexChunks != 42 {
		t.Errorf("expected 42 index chunks, got %d", resp.IndexChunks)
	}
}

func TestCacheClear(t *testing.T) {
	srv := setupServer(t, &fakeEngine{})
	srv.qcache.Set("q", 5, models.Answer{Response: "42"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/cache/clear", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if srv.qcache.Stats().TotalSize != 0 {
		t.Error("expected cache cleared")
	}

	// Clear is a mutation; reject reads.
	req = httptest.NewRequest(http.MethodGet, "/api/cache/clear", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestCacheCleanup(t *testing.T) {
	cfg := config.Default()
	qc, err := memory.NewQueryCache[models.Answer](memory.Options{MaxSize: 10, TTL: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	srv := New(cfg, &fakeEngine{}, qc, nil, nil, nil, nil, nil)

	qc.Set("q1", 5, models.Answer{Response: "one"}, nil)
	qc.Set("q2", 5, models.Answer{Response: "two"}, nil)
	time.Sleep(10 * time.Millisecond)

	req := httptest.NewRequest(http.MethodPost, "/api/cache/cleanup", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["removed"] != 2 {
		t.Errorf("expected 2 removed, got %d", resp["removed"])
	}
}

func TestCacheResetStats(t *testing.T) {
	srv := setupServer(t, &fakeEngine{})
	srv.qcache.Set("q", 5, models.Answer{Response: "42"}, nil)
	if _, _, err := srv.qcache.Get("q", 5, nil); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/cache/reset-stats", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	stats := srv.qcache.Stats()
	if stats.TotalQueries != 0 {
		t.Error("expected counters reset")
	}
	if stats.TotalSize != 1 {
		t.Error("reset must not drop entries")
	}
}

func TestHistoryEndpoint(t *testing.T) {
	cfg := config.Default()
	hcfg := cfg.History
	hcfg.DBPath = filepath.Join(t.TempDir(), "history.db")
	hist, err := history.New(hcfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hist.Close() })

	entry := models.QueryLogEntry{Query: "what is go?", K: 5, Model: "mistral", LatencyMs: 12}
	if err := hist.Log(context.Background(), entry); err != nil {
		t.Fatal(err)
	}

	srv := New(cfg, &fakeEngine{}, nil, nil, nil, nil, hist, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/history?limit=10", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var entries []models.QueryLogEntry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Query != "what is go?" {
		t.Errorf("unexpected entries %+v", entries)
	}
}

func TestHistoryDisabled(t *testing.T) {
	srv := setupServer(t, &fakeEngine{})
	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 when history is disabled, got %d", w.Code)
	}
}

func TestHistoryInvalidLimit(t *testing.T) {
	cfg := config.Default()
	hcfg := cfg.History
	hcfg.DBPath = filepath.Join(t.TempDir(), "history.db")
	hist, err := history.New(hcfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hist.Close() })

	srv := New(cfg, &fakeEngine{}, nil, nil, nil, nil, hist, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/history?limit=zero", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	srv := setupServer(t, &fakeEngine{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.Status != "ok" || resp.Ollama != "ok" || resp.IndexChunks != 42 {
		t.Errorf("unexpected health %+v", resp)
	}
}

func TestHealthDegraded(t *testing.T) {
	cfg := config.Default()
	srv := New(cfg, &fakeEngine{}, nil, nil, &fakeCounter{n: 42}, nil, nil, &fakePinger{err: errors.New("refused")})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.Status != "degraded" || resp.Ollama != "unreachable" {
		t.Errorf("unexpected health %+v", resp)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := config.Default()
	engine := &fakeEngine{answer: models.Answer{Response: "42"}}
	srv := New(cfg, engine, nil, nil, nil, ratelimit.New(2, time.Minute), nil, nil)

	for i, want := range []string{"1", "0"} {
		w := postQuery(t, srv, `{"query":"q"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
		if got := w.Header().Get("X-RateLimit-Remaining"); got != want {
			t.Errorf("request %d: expected remaining %s, got %q", i+1, want, got)
		}
	}

	w := postQuery(t, srv, `{"query":"q"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}

	// Health is never limited.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health must bypass the limiter, got %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	srv := setupServer(t, &fakeEngine{answer: models.Answer{Response: "42"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/query", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204 preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("expected origin allowed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/query", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin must not be allowed")
	}
}

func TestRequestIDHonored(t *testing.T) {
	srv := setupServer(t, &fakeEngine{answer: models.Answer{Response: "42"}})

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":"q"}`))
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("expected inbound request id echoed, got %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := setupServer(t, &fakeEngine{answer: models.Answer{Response: "42"}})
	postQuery(t, srv, `{"query":"q"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "memini_queries_total") {
		t.Error("expected query counter in metrics exposition")
	}
}
