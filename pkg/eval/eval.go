package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/memini-ai/memini/pkg/models"
)

// Case is one labeled retrieval test: a query and the chunk IDs a correct
// retrieval should surface.
type Case struct {
	Query       string   `json:"query"`
	RelevantIDs []string `json:"relevant_ids"`
}

// QueryMetrics holds retrieval quality numbers for one case at depth k.
type QueryMetrics struct {
	Query     string   `json:"query"`
	Retrieved []string `json:"retrieved_ids"`
	HitRate   float64  `json:"hit_rate_at_k"`
	Precision float64  `json:"precision_at_k"`
	Recall    float64  `json:"recall_at_k"`
	F1        float64  `json:"f1_at_k"`
}

// Report aggregates metrics across all cases.
type Report struct {
	K             int            `json:"k"`
	Cases         []QueryMetrics `json:"cases"`
	MeanHitRate   float64        `json:"mean_hit_rate_at_k"`
	MeanPrecision float64        `json:"mean_precision_at_k"`
	MeanRecall    float64        `json:"mean_recall_at_k"`
	MeanF1        float64        `json:"mean_f1_at_k"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Embedder turns queries into vectors.
type Embedder interface {
	Embeddings(ctx context.Context, model, prompt string) ([]float64, error)
}

// Searcher answers similarity searches over the chunk index.
type Searcher interface {
	Search(ctx context.Context, embedding []float64, k int) ([]models.ScoredChunk, error)
}

// Evaluator measures retrieval quality against labeled cases.
type Evaluator struct {
	embedder Embedder
	model    string
	index    Searcher
}

// New creates an Evaluator embedding queries with the given model.
func New(embedder Embedder, model string, index Searcher) *Evaluator {
	return &Evaluator{embedder: embedder, model: model, index: index}
}

// Run evaluates every case at depth k and aggregates the means.
func (e *Evaluator) Run(ctx context.Context, cases []Case, k int) (*Report, error) {
	report := &Report{K: k, CreatedAt: time.Now().UTC()}
	for _, c := range cases {
		m, err := e.evaluate(ctx, c, k)
		if err != nil {
			return nil, fmt.Errorf("evaluate %q: %w", c.Query, err)
		}
		report.Cases = append(report.Cases, m)
		report.MeanHitRate += m.HitRate
		report.MeanPrecision += m.Precision
		report.MeanRecall += m.Recall
		report.MeanF1 += m.F1
	}
	if n := float64(len(report.Cases)); n > 0 {
		report.MeanHitRate /= n
		report.MeanPrecision /= n
		report.MeanRecall /= n
		report.MeanF1 /= n
	}
	return report, nil
}

func (e *Evaluator) evaluate(ctx context.Context, c Case, k int) (QueryMetrics, error) {
	emb, err := e.embedder.Embeddings(ctx, e.model, c.Query)
	if err != nil {
		return QueryMetrics{}, fmt.Errorf("embed query: %w", err)
	}
	results, err := e.index.Search(ctx, emb, k)
	if err != nil {
		return QueryMetrics{}, fmt.Errorf("search: %w", err)
	}

	retrieved := make([]string, len(results))
	for i, r := range results {
		retrieved[i] = r.ID
	}

	relevant := make(map[string]bool, len(c.RelevantIDs))
	for _, id := range c.RelevantIDs {
		relevant[id] = true
	}
	common := 0
	for _, id := range retrieved {
		if relevant[id] {
			common++
		}
	}

	m := QueryMetrics{Query: c.Query, Retrieved: retrieved}
	if common > 0 {
		m.HitRate = 1
	}
	if len(retrieved) > 0 {
		m.Precision = float64(common) / float64(len(retrieved))
	}
	if len(c.RelevantIDs) > 0 {
		m.Recall = float64(common) / float64(len(c.RelevantIDs))
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m, nil
}

// LoadCases reads labeled cases from a JSON file.
func LoadCases(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cases: %w", err)
	}
	var cases []Case
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("parse cases: %w", err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("no cases in %s", path)
	}
	return cases, nil
}

// Save writes the report as indented JSON.
func (r *Report) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// WriteSummary prints a per-case table followed by the aggregate means.
func (r *Report) WriteSummary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "QUERY\tHIT\tPRECISION\tRECALL\tF1")
	for _, c := range r.Cases {
		fmt.Fprintf(tw, "%s\t%.0f\t%.3f\t%.3f\t%.3f\n", truncate(c.Query, 48), c.HitRate, c.Precision, c.Recall, c.F1)
	}
	fmt.Fprintf(tw, "MEAN (k=%d)\t%.3f\t%.3f\t%.3f\t%.3f\n", r.K, r.MeanHitRate, r.MeanPrecision, r.MeanRecall, r.MeanF1)
	return tw.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
