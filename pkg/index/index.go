package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/memini-ai/memini/pkg/cache/memory"
	"github.com/memini-ai/memini/pkg/models"
)

// Index stores document chunks with their embeddings and answers
// similarity searches over them.
type Index interface {
	// AddChunks stores chunks with their embeddings in one transaction,
	// replacing any rows that share an ID.
	AddChunks(ctx context.Context, chunks []models.Chunk, embeddings [][]float64) error
	// Search returns the k most similar chunks to embedding, best first.
	Search(ctx context.Context, embedding []float64, k int) ([]models.ScoredChunk, error)
	// Sources returns per-source chunk counts.
	Sources(ctx context.Context) ([]models.SourceInfo, error)
	// DeleteSource removes every chunk of one source document.
	DeleteSource(ctx context.Context, source string) error
	// Count returns the number of indexed chunks.
	Count(ctx context.Context) (int64, error)
	// Close closes the underlying database.
	Close() error
}

const createTable = `
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	seq INTEGER NOT NULL,
	content TEXT NOT NULL,
	chunk_type TEXT NOT NULL DEFAULT 'text',
	image_path TEXT NOT NULL DEFAULT '',
	embedding BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);
`

// SQLiteIndex implements Index with a local SQLite database. Embeddings
// are stored as little-endian float64 blobs; Search scans every row and
// ranks by cosine similarity, which stays fast at single-machine corpus
// sizes.
type SQLiteIndex struct {
	db *sql.DB
}

// New opens the index database and runs auto-migration.
func New(dbPath string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create chunks table: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

func (ix *SQLiteIndex) AddChunks(ctx context.Context, chunks []models.Chunk, embeddings [][]float64) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("add chunks: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add chunks: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (id, source, seq, content, chunk_type, image_path, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, ch := range chunks {
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.Source, ch.Seq, ch.Content, ch.Type, ch.ImagePath, encodeVector(embeddings[i]), now); err != nil {
			return fmt.Errorf("insert chunk %s: %w", ch.ID, err)
		}
	}
	return tx.Commit()
}

func (ix *SQLiteIndex) Search(ctx context.Context, embedding []float64, k int) ([]models.ScoredChunk, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT id, source, seq, content, chunk_type, image_path, embedding FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("scan chunks: %w", err)
	}
	defer rows.Close()

	var scored []models.ScoredChunk
	for rows.Next() {
		var ch models.Chunk
		var blob []byte
		if err := rows.Scan(&ch.ID, &ch.Source, &ch.Seq, &ch.Content, &ch.Type, &ch.ImagePath, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		stored, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", ch.ID, err)
		}
		sim, err := memory.CosineSimilarity(embedding, stored)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", ch.ID, err)
		}
		scored = append(scored, models.ScoredChunk{Chunk: ch, Score: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (ix *SQLiteIndex) Sources(ctx context.Context) ([]models.SourceInfo, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT source, count(*) AS chunks, date(MAX(created_at)) AS added_at
		FROM chunks GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []models.SourceInfo
	for rows.Next() {
		var s models.SourceInfo
		if err := rows.Scan(&s.Source, &s.Chunks, &s.AddedAt); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

func (ix *SQLiteIndex) DeleteSource(ctx context.Context, source string) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, source); err != nil {
		return fmt.Errorf("delete source %s: %w", source, err)
	}
	return nil
}

func (ix *SQLiteIndex) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (ix *SQLiteIndex) Close() error {
	return ix.db.Close()
}

// encodeVector packs a vector as little-endian float64 bytes.
func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("malformed embedding blob of %d bytes", len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v, nil
}
