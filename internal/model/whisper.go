// Package model defines the core whisper data types.
package model

import "time"

// Whisper is an anonymous short text post, optionally tagged and time-limited.
type Whisper struct {
	ID            string     `json:"id"`
	Content       string     `json:"content"`
	Emotion       string     `json:"emotion,omitempty"`
	Zone          string     `json:"zone,omitempty"`
	IsAIGenerated bool       `json:"is_ai_generated"`
	ExpiresAt     *time.Time `json:"expires_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ExpiredAt reports whether the whisper is logically deleted at t.
func (w Whisper) ExpiredAt(t time.Time) bool {
	return w.ExpiresAt != nil && !w.ExpiresAt.After(t)
}

// Reaction is a single emoji reaction left by an anonymous guest.
type Reaction struct {
	ID        string    `json:"id"`
	WhisperID string    `json:"whisper_id"`
	GuestID   string    `json:"guest_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionCount is the additive tally of one emoji on a whisper.
type ReactionCount struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// Embedding is the semantic vector owned by exactly one whisper.
type Embedding struct {
	WhisperID string    `json:"whisper_id"`
	Vector    []float32 `json:"vector"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PushToken is a client registration token for push delivery.
type PushToken struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidEmojis are the allowed reaction codes.
var ValidEmojis = map[string]bool{
	"heart": true,
	"hug":   true,
	"tear":  true,
	"spark": true,
	"calm":  true,
	"laugh": true,
}
