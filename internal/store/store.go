// Package store provides the whisper repository and embedding store on SQLite.
package store

import (
	"context"
	"time"

	"github.com/rcliao/aangan/internal/model"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	MaxContentRunes  = 2000
	MaxTagLen        = 32
	MaxGuestIDLen    = 128
)

// CreateParams holds parameters for creating a whisper.
type CreateParams struct {
	Content       string
	Emotion       string
	Zone          string
	IsAIGenerated bool
	TTL           time.Duration // 0 means never expires; negative is already expired
}

// Filter narrows listings and similarity candidates.
type Filter struct {
	Zone    string
	Emotion string
}

// ListParams holds parameters for listing active whispers.
// Pagination is keyset based: Cursor is the NextCursor of the previous page.
type ListParams struct {
	Filter
	Limit  int
	Cursor string
}

// Page is one page of active whispers, newest first.
type Page struct {
	Whispers   []model.Whisper `json:"whispers"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// ReactParams holds parameters for reacting to a whisper.
type ReactParams struct {
	WhisperID string
	GuestID   string
	Emoji     string
}

// WhisperRepository owns whisper and reaction records.
type WhisperRepository interface {
	CreateWhisper(ctx context.Context, p CreateParams) (*model.Whisper, error)

	// GetWhisper returns ErrNotFound for absent or logically expired whispers.
	GetWhisper(ctx context.Context, id string) (*model.Whisper, error)

	ListActiveWhispers(ctx context.Context, p ListParams) (*Page, error)

	// DeleteWhisper removes the whisper with its reactions and embedding. Idempotent.
	DeleteWhisper(ctx context.Context, id string) error

	AddReaction(ctx context.Context, p ReactParams) (*model.Reaction, error)
}

// EmbeddingStore persists one fixed-dimension vector per whisper.
type EmbeddingStore interface {
	UpsertEmbedding(ctx context.Context, whisperID string, vector []float32) error
	GetEmbedding(ctx context.Context, whisperID string) (*model.Embedding, error)
	DeleteEmbedding(ctx context.Context, whisperID string) error
	Dims() int
}

var (
	_ WhisperRepository = (*SQLiteStore)(nil)
	_ EmbeddingStore    = (*SQLiteStore)(nil)
)
