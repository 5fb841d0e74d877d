package history

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/memini-ai/memini/pkg/config"
	"github.com/memini-ai/memini/pkg/models"
)

// Logger records answered queries in a dedicated SQLite database so usage
// can be inspected after the fact.
type Logger struct {
	db   *sql.DB
	cfg  config.HistoryConfig
	done chan struct{}
	wg   sync.WaitGroup
}

const createTable = `
CREATE TABLE IF NOT EXISTS query_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL DEFAULT '',
	query TEXT NOT NULL,
	k INTEGER NOT NULL DEFAULT 0,
	cache_type TEXT NOT NULL DEFAULT '',
	similarity REAL NOT NULL DEFAULT 0,
	model TEXT NOT NULL DEFAULT '',
	sources INTEGER NOT NULL DEFAULT 0,
	response TEXT NOT NULL DEFAULT '',
	latency_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_query_log_created ON query_log(created_at);
CREATE INDEX IF NOT EXISTS idx_query_log_cache_type ON query_log(cache_type);
`

// New opens the history database, runs auto-migration, and starts the
// retention loop.
func New(cfg config.HistoryConfig) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create query_log table: %w", err)
	}

	l := &Logger{db: db, cfg: cfg, done: make(chan struct{})}
	l.wg.Add(1)
	go l.retentionLoop()
	return l, nil
}

// Log inserts one history entry. Responses are dropped or truncated per
// configuration before touching the database.
func (l *Logger) Log(ctx context.Context, entry models.QueryLogEntry) error {
	if l == nil || l.db == nil {
		return nil
	}

	response := entry.Response
	if !l.cfg.StoreResponses {
		response = ""
	}
	if l.cfg.MaxResponseBytes > 0 && len(response) > l.cfg.MaxResponseBytes {
		response = response[:l.cfg.MaxResponseBytes]
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO query_log (request_id, query, k, cache_type, similarity, model, sources, response, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.Query, entry.K, entry.CacheType, entry.Similarity,
		entry.Model, entry.Sources, response, entry.LatencyMs, createdAt)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// Recent returns entries matching opts, newest first. Limit defaults to
// 100 when unset.
func (l *Logger) Recent(ctx context.Context, opts models.HistoryQueryOpts) ([]models.QueryLogEntry, error) {
	q := `SELECT id, request_id, query, k, cache_type, similarity, model, sources, response, latency_ms, created_at
		FROM query_log WHERE 1=1`
	var args []any

	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}
	if opts.CacheType != "" {
		q += " AND cache_type = ?"
		args = append(args, opts.CacheType)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []models.QueryLogEntry
	for rows.Next() {
		var e models.QueryLogEntry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Query, &e.K, &e.CacheType, &e.Similarity,
			&e.Model, &e.Sources, &e.Response, &e.LatencyMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns per-day query and cache-hit counts, newest day first.
func (l *Logger) Stats(ctx context.Context) ([]models.HistoryStat, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT date(created_at) as day, count(*) as queries,
		       sum(CASE WHEN cache_type != '' THEN 1 ELSE 0 END) as hits
		FROM query_log GROUP BY day ORDER BY day DESC`)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	defer rows.Close()

	var stats []models.HistoryStat
	for rows.Next() {
		var s models.HistoryStat
		if err := rows.Scan(&s.Day, &s.Queries, &s.Hits); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes entries older than the retention period and returns how
// many were removed.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx, `DELETE FROM query_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention loop and closes the database.
func (l *Logger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if _, err := l.Cleanup(context.Background()); err != nil {
				log.Printf("history retention: %v", err)
			}
		}
	}
}
