package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rcliao/aangan/internal/logger"
	"github.com/rcliao/aangan/internal/store"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0, 0.001},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"scaled", Vector{3, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"empty", Vector{}, Vector{}, 0.0, 0.001},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("CosineSimilarity(%v, %v) = %f, want %f (±%f)", tt.a, tt.b, got, tt.expected, tt.delta)
			}
		})
	}
}

func TestNew_Disabled(t *testing.T) {
	for _, provider := range []string{"", "none"} {
		e, err := New(Config{Provider: provider, Dims: 3})
		if err != nil {
			t.Fatal(err)
		}
		if e != nil {
			t.Errorf("expected nil embedder for provider %q", provider)
		}
	}
	if _, err := New(Config{Provider: "word2vec", Dims: 3}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req openaiEmbedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Dimensions != 3 || req.Model != "text-embedding-3-small" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(Config{BaseURL: srv.URL, APIKey: "sk-test", Dims: 3})
	if err != nil {
		t.Fatal(err)
	}
	v, err := e.Embed(context.Background(), "the courtyard at dusk")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(v) != 3 || e.Dims() != 3 {
		t.Errorf("unexpected vector %v dims %d", v, e.Dims())
	}

	bad, _ := NewOpenAIEmbedder(Config{BaseURL: srv.URL, APIKey: "wrong", Dims: 3})
	if _, err := bad.Embed(context.Background(), "x"); err == nil {
		t.Error("expected error on 401")
	}
}

func TestOllamaEmbedder(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		w.Write([]byte(`{"embedding":[1,0,0]}`))
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(Config{BaseURL: srv.URL, Model: "tiny", Dims: 3})
	if err != nil {
		t.Fatal(err)
	}
	v, err := e.Embed(context.Background(), "x")
	if err != nil || len(v) != 3 {
		t.Fatalf("embed: %v %v", v, err)
	}
	if gotModel != "tiny" {
		t.Errorf("model = %q, want tiny", gotModel)
	}
}

func TestOllamaDefaultModelMatchesDims(t *testing.T) {
	e, err := NewOllamaEmbedder(Config{Dims: 384})
	if err != nil {
		t.Fatal(err)
	}
	if e.model != "all-minilm" {
		t.Errorf("default model for 384 dims = %q, want all-minilm", e.model)
	}

	_, err = NewOllamaEmbedder(Config{Model: "nomic-embed-text", Dims: 384})
	if !errors.Is(err, store.ErrDimensionMismatch) {
		t.Errorf("expected dimension mismatch for nomic-embed-text at 384, got %v", err)
	}
}

func TestEmbedRejectsWrongDimensions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embeddings":
			w.Write([]byte(`{"embedding":[1,0,0,0,0]}`))
		case "/embeddings":
			w.Write([]byte(`{"data":[{"embedding":[1,0]}]}`))
		default:
			w.Write([]byte(`{"data":[]}`))
		}
	}))
	defer srv.Close()

	ollama, err := NewOllamaEmbedder(Config{BaseURL: srv.URL, Model: "tiny", Dims: 3})
	if err != nil {
		t.Fatal(err)
	}
	openai, err := NewOpenAIEmbedder(Config{BaseURL: srv.URL, Dims: 3})
	if err != nil {
		t.Fatal(err)
	}
	for name, e := range map[string]Embedder{"ollama": ollama, "openai": openai} {
		t.Run(name, func(t *testing.T) {
			_, err := e.Embed(context.Background(), "x")
			if !errors.Is(err, store.ErrDimensionMismatch) {
				t.Errorf("expected dimension mismatch, got %v", err)
			}
		})
	}
}

type fakeEmbedder struct {
	fail map[string]bool
}

func (f fakeEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	if f.fail[text] {
		return nil, errors.New("model unavailable")
	}
	return Vector{float32(len(text)), 0, 0}, nil
}

func (fakeEmbedder) Dims() int { return 3 }

type memorySink struct {
	mu   sync.Mutex
	vecs map[string][]float32
}

func (m *memorySink) UpsertEmbedding(_ context.Context, id string, v []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vecs[id] = v
	return nil
}

func TestIndexer(t *testing.T) {
	sink := &memorySink{vecs: map[string][]float32{}}
	results := make(chan error, 4)
	ix := NewIndexer(fakeEmbedder{fail: map[string]bool{"boom": true}}, sink, logger.Nop(), IndexerOptions{
		Workers:  2,
		OnResult: func(_ string, err error) { results <- err },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ix.Run(ctx) }()

	ix.Enqueue("a", "hello")
	ix.Enqueue("b", "boom")
	ix.Enqueue("c", "hi")

	var failures int
	for i := 0; i < 3; i++ {
		select {
		case err := <-results:
			if err != nil {
				failures++
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for indexer")
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("run: %v", err)
	}

	if failures != 1 {
		t.Errorf("expected 1 failure, got %d", failures)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.vecs) != 2 {
		t.Errorf("expected 2 stored vectors, got %d", len(sink.vecs))
	}
	if _, ok := sink.vecs["b"]; ok {
		t.Error("failed job must not store a vector")
	}
}

func TestIndexerQueueFull(t *testing.T) {
	ix := NewIndexer(fakeEmbedder{}, &memorySink{vecs: map[string][]float32{}}, logger.Nop(), IndexerOptions{QueueSize: 1})
	if !ix.Enqueue("a", "x") {
		t.Fatal("first enqueue should succeed")
	}
	if ix.Enqueue("b", "y") {
		t.Error("expected enqueue to report a full queue")
	}
}
