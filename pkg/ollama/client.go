package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a local Ollama server.
type Client struct {
	baseURL string
	hc      *http.Client
}

// New creates a Client for the given base URL. timeout bounds every
// request including streaming ones; zero means no limit.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
	}
}

// GenerateRequest asks a model to complete a prompt.
type GenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// GenerateResponse is one completion message. Streaming responses arrive
// as a sequence of these with Done set on the last.
type GenerateResponse struct {
	Model         string `json:"model"`
	Response      string `json:"response"`
	Done          bool   `json:"done"`
	TotalDuration int64  `json:"total_duration,omitempty"`
}

// Generate runs a completion and returns the full response.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	req.Stream = false
	var resp GenerateResponse
	if err := c.post(ctx, "/api/generate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateStream runs a completion, relaying each chunk on the returned
// channel as the model produces it. The error channel receives at most one
// error; both channels are closed when the stream ends.
func (c *Client) GenerateStream(ctx context.Context, req GenerateRequest) (<-chan GenerateResponse, <-chan error) {
	out := make(chan GenerateResponse)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		req.Stream = true
		body, err := json.Marshal(req)
		if err != nil {
			errc <- fmt.Errorf("encode generate request: %w", err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
		if err != nil {
			errc <- fmt.Errorf("create generate request: %w", err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.hc.Do(httpReq)
		if err != nil {
			errc <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errc <- apiError("/api/generate", resp)
			return
		}

		// Ollama streams newline-delimited JSON objects.
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var chunk GenerateResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				errc <- fmt.Errorf("decode stream chunk: %w", err)
				return
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errc <- fmt.Errorf("read stream: %w", err)
		}
	}()

	return out, errc
}

type embeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingsResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embeddings returns the embedding vector for prompt under the given
// model.
func (c *Client) Embeddings(ctx context.Context, model, prompt string) ([]float64, error) {
	var resp embeddingsResponse
	if err := c.post(ctx, "/api/embeddings", embeddingsRequest{Model: model, Prompt: prompt}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("model %s returned an empty embedding", model)
	}
	return resp.Embedding, nil
}

// Ping reports whether the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError("/api/tags", resp)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(path string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := string(bytes.TrimSpace(data))
	if msg == "" {
		return fmt.Errorf("ollama %s returned %d", path, resp.StatusCode)
	}
	return fmt.Errorf("ollama %s returned %d: %s", path, resp.StatusCode, msg)
}
