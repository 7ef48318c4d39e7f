package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAddReactionAdditive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	w, _ := s.CreateWhisper(ctx, CreateParams{Content: "react to me"})

	for i := 0; i < 3; i++ {
		if _, err := s.AddReaction(ctx, ReactParams{WhisperID: w.ID, GuestID: "guest-1", Emoji: "heart"}); err != nil {
			t.Fatalf("react %d: %v", i, err)
		}
	}
	s.AddReaction(ctx, ReactParams{WhisperID: w.ID, GuestID: "guest-2", Emoji: "hug"})

	reactions, err := s.ListReactions(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(reactions) != 4 {
		t.Errorf("expected 4 reactions, got %d", len(reactions))
	}

	counts, err := s.ReactionCounts(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 2 || counts[0].Emoji != "heart" || counts[0].Count != 3 || counts[1].Count != 1 {
		t.Errorf("unexpected counts %+v", counts)
	}
}

func TestAddReactionValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	w, _ := s.CreateWhisper(ctx, CreateParams{Content: "x"})

	tests := []struct {
		name string
		p    ReactParams
	}{
		{"bad emoji", ReactParams{WhisperID: w.ID, GuestID: "g", Emoji: "thumbsdown"}},
		{"no guest", ReactParams{WhisperID: w.ID, GuestID: " ", Emoji: "heart"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.AddReaction(ctx, tt.p); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestAddReactionToVanishedWhisper(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.AddReaction(ctx, ReactParams{WhisperID: "ghost", GuestID: "g", Emoji: "heart"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: expected ErrNotFound, got %v", err)
	}

	expired, _ := s.CreateWhisper(ctx, CreateParams{Content: "old", TTL: -time.Second})
	if _, err := s.AddReaction(ctx, ReactParams{WhisperID: expired.ID, GuestID: "g", Emoji: "heart"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired: expected ErrNotFound, got %v", err)
	}
}
