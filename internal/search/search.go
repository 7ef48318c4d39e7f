// Package search ranks live whispers by cosine similarity to a query vector.
//
// The default engine is a brute-force scan over a single join of whispers and
// embeddings, which is exact and plenty fast for a few thousand vectors. An
// optional Index (Qdrant) narrows the candidate set first; its hits are always
// hydrated against the relational store and re-scored, so an index that lags
// behind deletes or expiry never leaks a vanished whisper.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rcliao/aangan/internal/embedding"
	"github.com/rcliao/aangan/internal/model"
	"github.com/rcliao/aangan/internal/store"
)

// maxIndexLimit bounds a single index request.
const maxIndexLimit = 10000

func indexLimit(topK, overfetch int) int {
	if topK > maxIndexLimit/overfetch {
		return maxIndexLimit
	}
	return topK * overfetch
}

// DefaultOverfetch multiplies topK when asking the index for candidates.
const DefaultOverfetch = 4

// ErrNoEmbedder is returned by QueryText when no embedding provider is configured.
var ErrNoEmbedder = errors.New("no embedding provider configured")

// Result is one ranked whisper.
type Result struct {
	Whisper model.Whisper `json:"whisper"`
	Score   float64       `json:"score"`
}

// Source provides candidates. Implemented by *store.SQLiteStore.
type Source interface {
	ScanCandidates(ctx context.Context, f store.Filter, fn func(store.Candidate) error) error
	CandidatesByID(ctx context.Context, ids []string, f store.Filter) ([]store.Candidate, error)
	GetEmbedding(ctx context.Context, whisperID string) (*model.Embedding, error)
	Dims() int
}

// Index is an approximate nearest-neighbour index mirroring the embedding store.
type Index interface {
	Upsert(ctx context.Context, w model.Whisper, vector []float32) error
	Search(ctx context.Context, vector []float32, limit int, f store.Filter) ([]string, error)
	Delete(ctx context.Context, ids ...string) error
	Close() error
}

// Engine answers similarity queries.
type Engine struct {
	src       Source
	index     Index
	overfetch int
	embedder  embedding.Embedder
}

// NewEngine creates a brute-force engine over src.
func NewEngine(src Source) *Engine {
	return &Engine{src: src, overfetch: DefaultOverfetch}
}

// WithIndex routes candidate selection through idx.
func (e *Engine) WithIndex(idx Index, overfetch int) *Engine {
	e.index = idx
	if overfetch > 0 {
		e.overfetch = overfetch
	}
	return e
}

// WithEmbedder enables QueryText.
func (e *Engine) WithEmbedder(em embedding.Embedder) *Engine {
	e.embedder = em
	return e
}

// Query returns at most topK live whispers matching f, ordered by descending
// score. Ties go to the more recent whisper, then the larger id.
func (e *Engine) Query(ctx context.Context, vector []float32, topK int, f store.Filter) ([]Result, error) {
	if len(vector) != e.src.Dims() {
		return nil, fmt.Errorf("query vector has %d dimensions, want %d: %w", len(vector), e.src.Dims(), store.ErrDimensionMismatch)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d: %w", topK, store.ErrValidation)
	}

	var results []Result
	if e.index != nil {
		ids, err := e.index.Search(ctx, vector, indexLimit(topK, e.overfetch), f)
		if err != nil {
			return nil, fmt.Errorf("index search: %w", err)
		}
		cands, err := e.src.CandidatesByID(ctx, ids, f)
		if err != nil {
			return nil, err
		}
		for _, c := range cands {
			results = append(results, score(vector, c))
		}
	} else {
		err := e.src.ScanCandidates(ctx, f, func(c store.Candidate) error {
			results = append(results, score(vector, c))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}
	if results == nil {
		results = []Result{}
	}
	return results, nil
}

// Similar ranks whispers against the stored vector of id, excluding id itself.
func (e *Engine) Similar(ctx context.Context, id string, topK int, f store.Filter) ([]Result, error) {
	emb, err := e.src.GetEmbedding(ctx, id)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d: %w", topK, store.ErrValidation)
	}
	results, err := e.Query(ctx, emb.Vector, topK+1, f)
	if err != nil {
		return nil, err
	}
	out := results[:0]
	for _, r := range results {
		if r.Whisper.ID != id {
			out = append(out, r)
		}
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// QueryText embeds text with the configured provider and runs Query.
func (e *Engine) QueryText(ctx context.Context, text string, topK int, f store.Filter) ([]Result, error) {
	if e.embedder == nil {
		return nil, ErrNoEmbedder
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return e.Query(ctx, vec, topK, f)
}

func score(q []float32, c store.Candidate) Result {
	return Result{Whisper: c.Whisper, Score: embedding.CosineSimilarity(q, c.Vector)}
}

func sortResults(rs []Result) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Whisper.CreatedAt.Equal(b.Whisper.CreatedAt) {
			return a.Whisper.CreatedAt.After(b.Whisper.CreatedAt)
		}
		return a.Whisper.ID > b.Whisper.ID
	})
}
