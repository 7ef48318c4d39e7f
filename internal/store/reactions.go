package store

import (
	"context"
	"strings"

	"github.com/rcliao/aangan/internal/model"
)

// AddReaction records a reaction. Guests may react any number of times; counts are additive.
func (s *SQLiteStore) AddReaction(ctx context.Context, p ReactParams) (*model.Reaction, error) {
	emoji := strings.TrimSpace(p.Emoji)
	if !model.ValidEmojis[emoji] {
		return nil, validationf("invalid emoji %q", p.Emoji)
	}
	guest := strings.TrimSpace(p.GuestID)
	if guest == "" {
		return nil, validationf("guest_id is required")
	}
	if len(guest) > MaxGuestIDLen {
		return nil, validationf("guest_id is longer than %d characters", MaxGuestIDLen)
	}

	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin reaction", err)
	}
	defer tx.Rollback()

	if err := requireActive(ctx, tx, p.WhisperID, formatTime(now)); err != nil {
		return nil, err
	}

	r := &model.Reaction{
		ID:        s.newID(now),
		WhisperID: p.WhisperID,
		GuestID:   guest,
		Emoji:     emoji,
		CreatedAt: now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO whisper_reactions (id, whisper_id, guest_id, emoji, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.WhisperID, r.GuestID, r.Emoji, formatTime(now))
	if err != nil {
		return nil, storageErr("insert reaction", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit reaction", err)
	}
	return r, nil
}

// ListReactions returns the reactions on an active whisper, oldest first.
func (s *SQLiteStore) ListReactions(ctx context.Context, whisperID string) ([]model.Reaction, error) {
	if err := requireActive(ctx, s.db, whisperID, s.nowString()); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, whisper_id, guest_id, emoji, created_at FROM whisper_reactions
		 WHERE whisper_id = ? ORDER BY created_at, id`, whisperID)
	if err != nil {
		return nil, storageErr("list reactions", err)
	}
	defer rows.Close()

	reactions := []model.Reaction{}
	for rows.Next() {
		var r model.Reaction
		var createdAt string
		if err := rows.Scan(&r.ID, &r.WhisperID, &r.GuestID, &r.Emoji, &createdAt); err != nil {
			return nil, storageErr("scan reaction", err)
		}
		r.CreatedAt = parseTime(createdAt)
		reactions = append(reactions, r)
	}
	return reactions, storageErr("list reactions", rows.Err())
}

// ReactionCounts tallies reactions per emoji, most frequent first.
func (s *SQLiteStore) ReactionCounts(ctx context.Context, whisperID string) ([]model.ReactionCount, error) {
	if err := requireActive(ctx, s.db, whisperID, s.nowString()); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT emoji, COUNT(*) AS cnt FROM whisper_reactions
		 WHERE whisper_id = ? GROUP BY emoji ORDER BY cnt DESC, emoji`, whisperID)
	if err != nil {
		return nil, storageErr("count reactions", err)
	}
	defer rows.Close()

	counts := []model.ReactionCount{}
	for rows.Next() {
		var c model.ReactionCount
		if err := rows.Scan(&c.Emoji, &c.Count); err != nil {
			return nil, storageErr("scan reaction count", err)
		}
		counts = append(counts, c)
	}
	return counts, storageErr("count reactions", rows.Err())
}
