package rag

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/memini-ai/memini/pkg/cache/memory"
	"github.com/memini-ai/memini/pkg/config"
	"github.com/memini-ai/memini/pkg/models"
	"github.com/memini-ai/memini/pkg/ollama"
)

// NoMatchResponse is returned when nothing in the index clears the minimum
// relevance score. Such answers are never cached.
const NoMatchResponse = "Unable to find matching results."

// answerPrompt frames the retrieved context for the model.
const answerPrompt = `Answer the question based only on the following context:

%s

---

Answer the question based on the above context: %s`

// contextSeparator joins retrieved chunks inside the prompt.
const contextSeparator = "\n\n---\n\n"

// LLM is the model client the engine generates and embeds with.
type LLM interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (*ollama.GenerateResponse, error)
	GenerateStream(ctx context.Context, req ollama.GenerateRequest) (<-chan ollama.GenerateResponse, <-chan error)
	Embeddings(ctx context.Context, model, prompt string) ([]float64, error)
}

// Searcher answers similarity searches over the chunk index.
type Searcher interface {
	Search(ctx context.Context, embedding []float64, k int) ([]models.ScoredChunk, error)
}

// Engine answers questions: embed the query, consult the result cache,
// retrieve chunks, generate, and write the answer back to the cache.
type Engine struct {
	llm    LLM
	index  Searcher
	cache  *memory.QueryCache[models.Answer]
	chunks *memory.ChunkCache

	model      string
	fallbacks  []string
	embedModel string
	topK       int
	minScore   float64
}

// New creates an Engine. cache and chunks may be nil to disable the
// corresponding caching layer.
func New(cfg *config.Config, llm LLM, index Searcher, cache *memory.QueryCache[models.Answer], chunks *memory.ChunkCache) *Engine {
	return &Engine{
		llm:        llm,
		index:      index,
		cache:      cache,
		chunks:     chunks,
		model:      cfg.Ollama.Model,
		fallbacks:  cfg.Ollama.FallbackModels,
		embedModel: cfg.Ollama.EmbedModel,
		topK:       cfg.Retrieval.TopK,
		minScore:   cfg.Retrieval.MinScore,
	}
}

// Answer responds to query using up to k retrieved chunks. k falls back to
// the configured default when non-positive.
func (e *Engine) Answer(ctx context.Context, query string, k int) (models.Answer, error) {
	return e.answer(ctx, query, k, nil)
}

// AnswerStream responds to query, passing each generated token to fn as it
// arrives. fn is not called on cache hits or refusals; callers emit those
// complete answers themselves.
func (e *Engine) AnswerStream(ctx context.Context, query string, k int, fn func(token string)) (models.Answer, error) {
	return e.answer(ctx, query, k, fn)
}

func (e *Engine) answer(ctx context.Context, query string, k int, fn func(string)) (models.Answer, error) {
	if k <= 0 {
		k = e.topK
	}
	start := time.Now()

	embedding, err := e.llm.Embeddings(ctx, e.embedModel, query)
	if err != nil {
		return models.Answer{}, fmt.Errorf("embed query: %w", err)
	}

	if e.cache != nil {
		hit, ok, err := e.cache.Get(query, k, embedding)
		if err != nil {
			return models.Answer{}, fmt.Errorf("cache lookup: %w", err)
		}
		if ok {
			a := hit.Payload
			a.CacheHit = true
			a.CacheType = string(hit.Type)
			a.CacheSimilarity = hit.Similarity
			a.TookMs = time.Since(start).Milliseconds()
			return a, nil
		}
	}

	chunks, err := e.retrieve(ctx, embedding, k)
	if err != nil {
		return models.Answer{}, err
	}
	if len(chunks) == 0 || chunks[0].Score < e.minScore {
		return models.Answer{
			Query:    query,
			Response: NoMatchResponse,
			TookMs:   time.Since(start).Milliseconds(),
		}, nil
	}

	text, model, err := e.generate(ctx, buildPrompt(chunks, query), fn)
	if err != nil {
		return models.Answer{}, err
	}

	a := models.Answer{
		Query:    query,
		Response: text,
		Sources:  chunkIDs(chunks),
		Images:   imageRefs(chunks),
		Model:    model,
		TookMs:   time.Since(start).Milliseconds(),
	}
	if e.cache != nil {
		e.cache.Set(query, k, a, embedding)
	}
	return a, nil
}

// retrieve returns the top chunks for embedding, consulting the chunk
// cache before hitting the index and writing fresh results back to it.
func (e *Engine) retrieve(ctx context.Context, embedding []float64, k int) ([]models.ScoredChunk, error) {
	if e.chunks != nil {
		if cached, ok := e.chunks.Get(embedding, k); ok {
			return cached, nil
		}
	}
	results, err := e.index.Search(ctx, embedding, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	if e.chunks != nil {
		e.chunks.Set(embedding, k, results)
	}
	return results, nil
}

// generate runs the configured model and, on failure, each fallback in
// order. A streaming attempt that already emitted tokens is not retried;
// the client has seen partial output by then.
func (e *Engine) generate(ctx context.Context, prompt string, fn func(string)) (string, string, error) {
	candidates := append([]string{e.model}, e.fallbacks...)
	var lastErr error
	for _, model := range candidates {
		var text string
		var genErr error
		if fn == nil {
			resp, err := e.llm.Generate(ctx, ollama.GenerateRequest{Model: model, Prompt: prompt})
			if err != nil {
				genErr = err
			} else {
				text = resp.Response
			}
		} else {
			var emitted bool
			text, genErr = e.generateStream(ctx, model, prompt, func(tok string) {
				emitted = true
				fn(tok)
			})
			if genErr != nil && emitted {
				return "", "", fmt.Errorf("generate with %s: %w", model, genErr)
			}
		}
		if genErr != nil {
			log.Printf("model %s failed: %v, trying next", model, genErr)
			lastErr = genErr
			continue
		}
		return text, model, nil
	}
	return "", "", fmt.Errorf("all models failed: %w", lastErr)
}

func (e *Engine) generateStream(ctx context.Context, model, prompt string, fn func(string)) (string, error) {
	chunks, errc := e.llm.GenerateStream(ctx, ollama.GenerateRequest{Model: model, Prompt: prompt})
	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Response != "" {
			sb.WriteString(chunk.Response)
			fn(chunk.Response)
		}
	}
	if err := <-errc; err != nil {
		return "", err
	}
	return sb.String(), nil
}

// buildPrompt joins chunk contents, in retrieval order, into the context
// block of the answer prompt.
func buildPrompt(chunks []models.ScoredChunk, query string) string {
	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}
	return fmt.Sprintf(answerPrompt, strings.Join(contents, contextSeparator), query)
}

func chunkIDs(chunks []models.ScoredChunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}

// imageRefs collects images referenced by the retrieved chunks,
// deduplicated by path.
func imageRefs(chunks []models.ScoredChunk) []models.ImageRef {
	var refs []models.ImageRef
	seen := make(map[string]bool)
	for _, c := range chunks {
		if c.ImagePath == "" || seen[c.ImagePath] {
			continue
		}
		seen[c.ImagePath] = true
		refs = append(refs, models.ImageRef{Path: c.ImagePath, Source: c.Source})
	}
	return refs
}
