package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/memini-ai/memini/pkg/models"
)

// Store receives ingested chunks. Implemented by the chunk index.
type Store interface {
	AddChunks(ctx context.Context, chunks []models.Chunk, embeddings [][]float64) error
	DeleteSource(ctx context.Context, source string) error
}

// Embedder computes embedding vectors for chunk content. Implemented by
// the Ollama client.
type Embedder interface {
	Embeddings(ctx context.Context, model, prompt string) ([]float64, error)
}

// imageLink matches markdown image references and captures the path.
var imageLink = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)\)`)

// Ingestor splits documents, embeds the chunks, and writes them to a
// store, replacing whatever the source held before.
type Ingestor struct {
	store    Store
	embedder Embedder
	model    string
	splitter Splitter
}

// New creates an Ingestor embedding with the given model.
func New(store Store, embedder Embedder, model string, splitter Splitter) *Ingestor {
	return &Ingestor{store: store, embedder: embedder, model: model, splitter: splitter}
}

// IngestDir ingests every .txt and .md file under dir and returns the
// number of chunks written.
func (in *Ingestor) IngestDir(ctx context.Context, dir string) (int, error) {
	total := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
		default:
			return nil
		}
		n, err := in.IngestFile(ctx, path)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		total += n
		return nil
	})
	return total, err
}

// IngestFile splits one document, embeds each chunk, and replaces the
// source's previous chunks in the store. Returns the number of chunks
// written.
func (in *Ingestor) IngestFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read document: %w", err)
	}

	pieces := in.splitter.Split(string(data))
	if len(pieces) == 0 {
		return 0, nil
	}

	source := filepath.ToSlash(path)
	chunks := make([]models.Chunk, 0, len(pieces))
	embeddings := make([][]float64, 0, len(pieces))
	for i, content := range pieces {
		ch := models.Chunk{
			ID:      fmt.Sprintf("%s:%d", source, i),
			Source:  source,
			Seq:     i,
			Content: content,
			Type:    models.ChunkTypeText,
		}
		if m := imageLink.FindStringSubmatch(content); m != nil {
			ch.Type = models.ChunkTypeWithImages
			ch.ImagePath = m[1]
		}

		emb, err := in.embedder.Embeddings(ctx, in.model, content)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %s: %w", ch.ID, err)
		}
		chunks = append(chunks, ch)
		embeddings = append(embeddings, emb)

		if (i+1)%25 == 0 {
			log.Printf("embedded %d/%d chunks of %s", i+1, len(pieces), source)
		}
	}

	// Replace, not append: re-ingesting a shrunk document must not leave
	// stale trailing chunks behind.
	if err := in.store.DeleteSource(ctx, source); err != nil {
		return 0, fmt.Errorf("replace source %s: %w", source, err)
	}
	if err := in.store.AddChunks(ctx, chunks, embeddings); err != nil {
		return 0, fmt.Errorf("store chunks of %s: %w", source, err)
	}
	return len(chunks), nil
}
