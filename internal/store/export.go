package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcliao/aangan/internal/model"
)

// ExportAll returns all active whispers matching f, oldest first.
func (s *SQLiteStore) ExportAll(ctx context.Context, f Filter) ([]model.Whisper, error) {
	where, args := filterClause(f, s.nowString())
	query := `SELECT ` + whisperColumns + ` FROM whispers w WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY w.created_at, w.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("export", err)
	}
	defer rows.Close()

	whispers := []model.Whisper{}
	for rows.Next() {
		w, err := scanWhisper(rows)
		if err != nil {
			return nil, storageErr("export", err)
		}
		whispers = append(whispers, w)
	}
	return whispers, storageErr("export", rows.Err())
}

// Import stores whispers from an export, keeping their ids and timestamps.
// Skips duplicates (same id). Embeddings are not part of an export.
func (s *SQLiteStore) Import(ctx context.Context, whispers []model.Whisper) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin import", err)
	}
	defer tx.Rollback()

	imported := 0
	for _, w := range whispers {
		if w.ID == "" {
			return 0, validationf("import: whisper has no id")
		}
		content, emotion, zone, err := normalizeWhisper(w.Content, w.Emotion, w.Zone)
		if err != nil {
			return 0, fmt.Errorf("import whisper %s: %w", w.ID, err)
		}
		var expiresAt *string
		if w.ExpiresAt != nil {
			v := formatTime(*w.ExpiresAt)
			expiresAt = &v
		}
		created := w.CreatedAt
		if created.IsZero() {
			created = s.now()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO whispers (id, content, emotion, zone, is_ai_generated, expires_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			w.ID, content, nullString(emotion), nullString(zone), w.IsAIGenerated, expiresAt, formatTime(created))
		if err != nil {
			return 0, storageErr("import whisper", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			imported++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit import", err)
	}
	return imported, nil
}
