package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBatchSize = 64
	defaultRPS          = 4
)

// Config is the explicit configuration for a remote OpenAI-compatible
// backend. It is passed into constructors; nothing here is read from
// ambient process state, so fallback behavior stays testable.
type Config struct {
	BaseURL    string
	APIKey     string
	EmbedModel string
	ChatModel  string
	// Dimension is the embedding dimension the pipeline is fixed to.
	// Responses with a different dimension are rejected as malformed.
	Dimension int
	// MaxBatchSize bounds how many texts go into one embeddings request.
	MaxBatchSize int
	Timeout      time.Duration
	// RequestsPerSecond throttles outbound calls. Zero uses the default.
	RequestsPerSecond float64
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = defaultMaxBatchSize
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = defaultRPS
	}
	return c
}

// Client talks to an OpenAI-compatible API (/v1/embeddings and
// /v1/chat/completions). It implements both Embedder and Generator.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Client for the given backend configuration.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)*2),
	}
}

// Dimension returns the configured embedding dimension.
func (c *Client) Dimension() int { return c.cfg.Dimension }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed embeds texts in request batches bounded by MaxBatchSize, preserving
// input order. A batch-level failure fails the whole call; use
// ResilientEmbedder for per-batch degradation.
func (c *Client) Embed(ctx context.Context, texts []string) ([]Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([]Embedding, 0, len(texts))
	for start := 0; start < len(texts); start += c.cfg.MaxBatchSize {
		end := start + c.cfg.MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch at %d: %w", start, err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

// EmbedBatch embeds a single batch without internal splitting. The batch
// must not exceed MaxBatchSize.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	if len(texts) > c.cfg.MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds max batch size %d", len(texts), c.cfg.MaxBatchSize)
	}
	return c.embedBatch(ctx, texts)
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	var resp embedResponse
	err := c.post(ctx, "/embeddings", embedRequest{Model: c.cfg.EmbedModel, Input: texts}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrMalformed, len(resp.Data), len(texts))
	}

	out := make([]Embedding, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrMalformed, d.Index)
		}
		if c.cfg.Dimension > 0 && len(d.Embedding) != c.cfg.Dimension {
			return nil, fmt.Errorf("%w: embedding dimension %d, expected %d", ErrMalformed, len(d.Embedding), c.cfg.Dimension)
		}
		out[d.Index] = Embedding{Vector: d.Embedding}
	}
	return out, nil
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Generate sends the grounded prompt to the chat completions endpoint and
// returns the assistant's text.
func (c *Client) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	msgs := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, req.Messages...)

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", chatRequest{Model: c.cfg.ChatModel, Messages: msgs}, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in chat response", ErrMalformed)
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", fmt.Errorf("%w: empty answer content", ErrMalformed)
	}
	return answer, nil
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return classify(err)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout {
		return fmt.Errorf("%w: status %d", ErrTimeout, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrMalformed, err)
	}
	return nil
}

// classify maps transport errors onto the provider error taxonomy so
// timeouts stay distinguishable from outages.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
