// Package embedding provides the text embedding collaborator and the asynchronous
// indexer that attaches vectors to whispers after they are created.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rcliao/aangan/internal/store"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Config selects and configures a provider. Dims is the system-wide
// dimension; a provider that cannot produce it is rejected.
type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Dims     int
	Timeout  time.Duration
}

// modelDims lists the native output size of common embedding models.
var modelDims = map[string]int{
	"all-minilm":             384,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// New creates an embedder for cfg.Provider: "ollama", "openai", or ""/"none"
// for no embedder (nil, nil).
func New(cfg Config) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "none":
		return nil, nil
	case "ollama":
		return NewOllamaEmbedder(cfg)
	case "openai":
		return NewOpenAIEmbedder(cfg)
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

// client posts JSON to a provider and checks the vector length it returns.
type client struct {
	name    string
	baseURL string
	model   string
	dims    int
	header  http.Header
	http    *http.Client
}

func newClient(name string, cfg Config, defaultURL string) client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return client{
		name:    name,
		baseURL: baseURL,
		model:   cfg.Model,
		dims:    cfg.Dims,
		header:  http.Header{"Content-Type": []string{"application/json"}},
		http:    &http.Client{Timeout: timeout},
	}
}

func (c client) Dims() int { return c.dims }

func (c client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header = c.header.Clone()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s error %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s response: %w", c.name, err)
	}
	return nil
}

// check rejects empty vectors and vectors of the wrong size.
func (c client) check(v Vector) (Vector, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%s returned no embedding", c.name)
	}
	if len(v) != c.dims {
		return nil, fmt.Errorf("%s model %s returned %d dimensions, want %d: %w",
			c.name, c.model, len(v), c.dims, store.ErrDimensionMismatch)
	}
	return v, nil
}

// OllamaEmbedder uses a local Ollama instance.
type OllamaEmbedder struct {
	client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaEmbedder picks a model matching cfg.Dims when none is named.
// Ollama cannot resize output, so a known model of another size is an error.
func NewOllamaEmbedder(cfg Config) (*OllamaEmbedder, error) {
	if cfg.Dims <= 0 {
		return nil, fmt.Errorf("embedding dims must be positive, got %d", cfg.Dims)
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
		for name, d := range modelDims {
			if d == cfg.Dims && !strings.HasPrefix(name, "text-embedding") {
				cfg.Model = name
				break
			}
		}
	}
	if d, ok := modelDims[cfg.Model]; ok && d != cfg.Dims {
		return nil, fmt.Errorf("ollama model %s produces %d dimensions, configured %d: %w",
			cfg.Model, d, cfg.Dims, store.ErrDimensionMismatch)
	}
	return &OllamaEmbedder{client: newClient("ollama", cfg, "http://localhost:11434")}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var out ollamaResponse
	if err := e.post(ctx, "/api/embeddings", ollamaRequest{Model: e.model, Prompt: text}, &out); err != nil {
		return nil, err
	}
	return e.check(out.Embedding)
}

// OpenAIEmbedder uses any OpenAI-compatible embedding API. The configured
// size is requested through the dimensions parameter.
type OpenAIEmbedder struct {
	client
}

type openaiEmbedRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func NewOpenAIEmbedder(cfg Config) (*OpenAIEmbedder, error) {
	if cfg.Dims <= 0 {
		return nil, fmt.Errorf("embedding dims must be positive, got %d", cfg.Dims)
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	e := &OpenAIEmbedder{client: newClient("openai", cfg, "https://api.openai.com/v1")}
	if cfg.APIKey != "" {
		e.header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return e, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var out openaiEmbedResponse
	req := openaiEmbedRequest{Input: text, Model: e.model, Dimensions: e.dims}
	if err := e.post(ctx, "/embeddings", req, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return e.check(nil)
	}
	return e.check(out.Data[0].Embedding)
}
