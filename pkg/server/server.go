package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memini-ai/memini/pkg/cache/memory"
	"github.com/memini-ai/memini/pkg/config"
	"github.com/memini-ai/memini/pkg/history"
	"github.com/memini-ai/memini/pkg/models"
	"github.com/memini-ai/memini/pkg/ratelimit"
)

// Querier answers questions; satisfied by *rag.Engine.
type Querier interface {
	Answer(ctx context.Context, query string, k int) (models.Answer, error)
	AnswerStream(ctx context.Context, query string, k int, fn func(token string)) (models.Answer, error)
}

// Counter reports index occupancy; satisfied by *index.SQLiteIndex.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// Pinger reports model backend reachability; satisfied by *ollama.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the memini HTTP API.
type Server struct {
	cfg     *config.Config
	engine  Querier
	qcache  *memory.QueryCache[models.Answer]
	ccache  *memory.ChunkCache
	index   Counter
	limiter *ratelimit.Limiter
	history *history.Logger
	llm     Pinger
	mux     *http.ServeMux
	handler http.Handler
}

// New creates a Server. Every dependency except cfg and engine may be nil;
// the matching endpoints then degrade or report the feature as disabled.
func New(cfg *config.Config, engine Querier, qcache *memory.QueryCache[models.Answer], ccache *memory.ChunkCache, index Counter, limiter *ratelimit.Limiter, hist *history.Logger, llm Pinger) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		qcache:  qcache,
		ccache:  ccache,
		index:   index,
		limiter: limiter,
		history: hist,
		llm:     llm,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("/api/query", s.handleQuery)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/cache/clear", s.handleCacheClear)
	s.mux.HandleFunc("/api/cache/cleanup", s.handleCacheCleanup)
	s.mux.HandleFunc("/api/cache/reset-stats", s.handleCacheResetStats)
	s.mux.HandleFunc("/api/history", s.handleHistory)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	if cfg.ImagesDir != "" {
		s.mux.Handle("/images/", http.StripPrefix("/images/", http.FileServer(http.Dir(cfg.ImagesDir))))
	}
	s.handler = requestID(s.cors(s.rateLimited(s.mux)))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe starts the API server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("memini api listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

type queryRequest struct {
	Query  string `json:"query"`
	K      int    `json:"k"`
	Stream bool   `json:"stream"`
}

// streamEvent is one SSE data payload. Token events carry generated text;
// the final event has Done set and the assembled answer.
type streamEvent struct {
	Token  string         `json:"token,omitempty"`
	Done   bool           `json:"done,omitempty"`
	Error  string         `json:"error,omitempty"`
	Answer *models.Answer `json:"answer,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	r.Body.Close()

	var req queryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSONError(w, http.StatusBadRequest, "query is required")
		return
	}

	if req.Stream {
		s.streamQuery(w, r, req)
		return
	}

	a, err := s.engine.Answer(r.Context(), req.Query, req.K)
	if err != nil {
		answerError(w, err)
		return
	}

	observeQuery(a)
	s.logQuery(r, req.K, a)

	w.Header().Set("X-Memini-Cache", cacheLabel(a))
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) streamQuery(w http.ResponseWriter, r *http.Request, req queryRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "response writer does not support flushing")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	streamed := false
	a, err := s.engine.AnswerStream(r.Context(), req.Query, req.K, func(tok string) {
		if !streamed {
			// Headers stay settable until the first event is written.
			w.Header().Set("X-Memini-Cache", "miss")
			streamed = true
		}
		writeEvent(w, streamEvent{Token: tok})
		flusher.Flush()
	})
	if err != nil {
		if !streamed {
			answerError(w, err)
			return
		}
		log.Printf("query error: %v", err)
		writeEvent(w, streamEvent{Error: "generation failed", Done: true})
		flusher.Flush()
		return
	}

	if !streamed {
		// Cache hits and refusals arrive whole; emit them as one token event.
		w.Header().Set("X-Memini-Cache", cacheLabel(a))
		writeEvent(w, streamEvent{Token: a.Response})
	}
	writeEvent(w, streamEvent{Done: true, Answer: &a})
	flusher.Flush()

	observeQuery(a)
	s.logQuery(r, req.K, a)
}

type statsResponse struct {
	QueryCache  *models.CacheStats      `json:"query_cache,omitempty"`
	ChunkCache  *models.ChunkCacheStats `json:"chunk_cache,omitempty"`
	IndexChunks int64                   `json:"index_chunks"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var resp statsResponse
	if s.qcache != nil {
		stats := s.qcache.Stats()
		resp.QueryCache = &stats
	}
	if s.ccache != nil {
		stats := s.ccache.Stats()
		resp.ChunkCache = &stats
	}
	if s.index != nil {
		n, err := s.index.Count(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to read index")
			return
		}
		resp.IndexChunks = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.qcache != nil {
		s.qcache.Clear()
	}
	if s.ccache != nil {
		s.ccache.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleCacheCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	removed := 0
	if s.qcache != nil {
		removed = s.qcache.RemoveExpired()
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleCacheResetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.qcache != nil {
		s.qcache.ResetStats()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		writeJSONError(w, http.StatusNotFound, "history is disabled")
		return
	}

	opts := models.HistoryQueryOpts{
		CacheType: r.URL.Query().Get("type"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}

	entries, err := s.history.Recent(r.Context(), opts)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type healthResponse struct {
	Status      string `json:"status"`
	Ollama      string `json:"ollama"`
	IndexChunks int64  `json:"index_chunks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := healthResponse{Status: "ok", Ollama: "ok"}
	if s.llm != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.llm.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Ollama = "unreachable"
		}
	}
	if s.index != nil {
		n, err := s.index.Count(r.Context())
		if err != nil {
			resp.Status = "degraded"
		} else {
			resp.IndexChunks = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// logQuery records an answered query in the history log without blocking
// the response.
func (s *Server) logQuery(r *http.Request, k int, a models.Answer) {
	if s.history == nil {
		return
	}
	entry := models.QueryLogEntry{
		RequestID:  r.Header.Get("X-Request-ID"),
		Query:      a.Query,
		K:          k,
		CacheType:  a.CacheType,
		Similarity: a.CacheSimilarity,
		Model:      a.Model,
		Sources:    len(a.Sources),
		Response:   a.Response,
		LatencyMs:  a.TookMs,
		CreatedAt:  time.Now().UTC(),
	}
	go func() {
		if err := s.history.Log(context.Background(), entry); err != nil {
			log.Printf("history log error: %v", err)
		}
	}()
}

func answerError(w http.ResponseWriter, err error) {
	log.Printf("query error: %v", err)
	if errors.Is(err, memory.ErrInvalidEmbedding) {
		writeJSONError(w, http.StatusInternalServerError, "embedding dimension mismatch")
		return
	}
	writeJSONError(w, http.StatusBadGateway, "failed to generate answer")
}

func cacheLabel(a models.Answer) string {
	if a.CacheHit {
		return a.CacheType
	}
	return "miss"
}

func writeEvent(w io.Writer, evt streamEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("marshal event: %v", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"memini_error","code":%d}}`, message, code)
}
