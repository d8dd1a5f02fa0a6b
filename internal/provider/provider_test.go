package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newEmbedServer returns a test server answering /embeddings with vectors of
// the given dimension, invoking onCall before each response.
func newEmbedServer(t *testing.T, dim int, onCall func(n int) int) *httptest.Server {
	t.Helper()
	calls := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if onCall != nil {
			if code := onCall(calls); code != 0 {
				w.WriteHeader(code)
				return
			}
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding embed request: %v", err)
		}
		resp := embedResponse{}
		for i := range req.Input {
			vec := make([]float32, dim)
			vec[0] = float32(i) + 1
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: vec})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func testConfig(url string, dim int) Config {
	return Config{
		BaseURL:           url,
		APIKey:            "test-key",
		EmbedModel:        "test-embed",
		ChatModel:         "test-chat",
		Dimension:         dim,
		MaxBatchSize:      4,
		Timeout:           2 * time.Second,
		RequestsPerSecond: 1000,
	}
}

func TestClientEmbed_OrderAndBatching(t *testing.T) {
	srv := newEmbedServer(t, 8, nil)
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, 8))
	texts := []string{"a", "b", "c", "d", "e", "f"} // spans two batches of 4

	got, err := c.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("got %d embeddings, want %d", len(got), len(texts))
	}
	for i, e := range got {
		if len(e.Vector) != 8 {
			t.Errorf("embedding %d has dimension %d, want 8", i, len(e.Vector))
		}
		if e.Fallback {
			t.Errorf("embedding %d flagged as fallback", i)
		}
	}
	// Per-batch index ordering: positions restart at each batch boundary.
	if got[0].Vector[0] != 1 || got[4].Vector[0] != 1 {
		t.Error("batch results not assembled in input order")
	}
}

func TestClientEmbed_DimensionMismatchIsMalformed(t *testing.T) {
	srv := newEmbedServer(t, 8, nil)
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, 16))
	_, err := c.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("got %v, want ErrMalformed", err)
	}
}

func TestClientEmbed_ServerErrorIsUnavailable(t *testing.T) {
	srv := newEmbedServer(t, 8, func(int) int { return http.StatusInternalServerError })
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, 8))
	_, err := c.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
}

func TestClientEmbed_TimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, 8)
	cfg.Timeout = 20 * time.Millisecond
	c := NewClient(cfg)

	_, err := c.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
}

func TestClientGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding chat request: %v", err)
		}
		if len(req.Messages) == 0 || req.Messages[0].Role != "system" {
			t.Error("expected system message first")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "  The total is $500.  "}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, 8))
	got, err := c.Generate(context.Background(), GenerationRequest{
		System:   "answer from context only",
		Messages: []Message{{Role: "user", Content: "what is the total?"}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "The total is $500." {
		t.Errorf("answer = %q", got)
	}
}

func TestClientGenerate_EmptyChoicesIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, 8))
	_, err := c.Generate(context.Background(), GenerationRequest{Messages: []Message{{Role: "user", Content: "q"}}})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("got %v, want ErrMalformed", err)
	}
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), []string{"Invoice Total: $500", "shipping terms"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, _ := e.Embed(context.Background(), []string{"Invoice Total: $500", "shipping terms"})

	for i := range a {
		if len(a[i].Vector) != 64 {
			t.Fatalf("dimension %d, want 64", len(a[i].Vector))
		}
		if !a[i].Fallback {
			t.Error("fallback flag not set")
		}
		for j := range a[i].Vector {
			if a[i].Vector[j] != b[i].Vector[j] {
				t.Fatalf("embedding %d not deterministic at component %d", i, j)
			}
		}
	}
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	e := NewHashEmbedder(32)
	got, err := e.Embed(context.Background(), []string{""})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 1 || len(got[0].Vector) != 32 {
		t.Fatal("expected one zero vector of dimension 32")
	}
}

func TestResilientEmbedder_NoRemote(t *testing.T) {
	e := NewResilientEmbedder(nil, 32, 0)
	got, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i, emb := range got {
		if !emb.Fallback {
			t.Errorf("embedding %d should be flagged fallback with no remote", i)
		}
	}
}

func TestResilientEmbedder_PartialBatchFallback(t *testing.T) {
	// First batch fails twice (initial + retry), second batch succeeds.
	srv := newEmbedServer(t, 16, func(n int) int {
		if n <= 2 {
			return http.StatusServiceUnavailable
		}
		return 0
	})
	defer srv.Close()

	client := NewClient(testConfig(srv.URL, 16))
	e := NewResilientEmbedder(client, 16, 4)

	texts := []string{"a", "b", "c", "d", "e", "f"}
	got, err := e.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("got %d embeddings, want %d", len(got), len(texts))
	}

	for i := 0; i < 4; i++ {
		if !got[i].Fallback {
			t.Errorf("embedding %d should be fallback (failed batch)", i)
		}
		if len(got[i].Vector) != 16 {
			t.Errorf("fallback embedding %d has dimension %d, want 16", i, len(got[i].Vector))
		}
	}
	for i := 4; i < 6; i++ {
		if got[i].Fallback {
			t.Errorf("embedding %d should not be fallback (healthy batch)", i)
		}
	}
}
