package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, 5*time.Second)
}

func TestGenerate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("Generate must not request streaming")
		}
		if req.Model != "mistral" {
			t.Errorf("unexpected model %s", req.Model)
		}
		json.NewEncoder(w).Encode(GenerateResponse{Model: req.Model, Response: "hello", Done: true})
	})

	resp, err := c.Generate(context.Background(), GenerateRequest{Model: "mistral", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Response != "hello" {
		t.Errorf("unexpected response %q", resp.Response)
	}
}

func TestGenerateServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	})

	_, err := c.Generate(context.Background(), GenerateRequest{Model: "missing", Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error should carry the status code, got %v", err)
	}
}

func TestGenerateStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("GenerateStream must request streaming")
		}
		for _, tok := range []string{"Go", " is", " fun"} {
			fmt.Fprintf(w, `{"model":%q,"response":%q,"done":false}`+"\n", req.Model, tok)
		}
		fmt.Fprintln(w, `{"model":"mistral","response":"","done":true}`)
	})

	chunks, errc := c.GenerateStream(context.Background(), GenerateRequest{Model: "mistral", Prompt: "hi"})

	var sb strings.Builder
	for chunk := range chunks {
		sb.WriteString(chunk.Response)
	}
	if err := <-errc; err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if sb.String() != "Go is fun" {
		t.Errorf("unexpected streamed text %q", sb.String())
	}
}

func TestGenerateStreamServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	chunks, errc := c.GenerateStream(context.Background(), GenerateRequest{Model: "mistral", Prompt: "hi"})
	for range chunks {
		t.Error("expected no chunks")
	}
	if err := <-errc; err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestEmbeddings(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3}})
	})

	emb, err := c.Embeddings(context.Background(), "nomic-embed-text", "some text")
	if err != nil {
		t.Fatalf("Embeddings: %v", err)
	}
	if len(emb) != 3 || emb[0] != 0.1 {
		t.Errorf("unexpected embedding %v", emb)
	}
}

func TestEmbeddingsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{}})
	})

	if _, err := c.Embeddings(context.Background(), "nomic-embed-text", "text"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}

func TestPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		fmt.Fprintln(w, `{"models":[]}`)
	})

	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestPingUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", 100*time.Millisecond)
	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected error for unreachable server")
	}
}
