package store

import (
	"context"
	"strings"

	"github.com/rcliao/aangan/internal/model"
)

// RegisterPushToken stores a client registration token. Re-registering is a no-op.
func (s *SQLiteStore) RegisterPushToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return validationf("token is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO push_tokens (token, created_at) VALUES (?, ?)`, token, s.nowString())
	return storageErr("register push token", err)
}

// RemovePushToken deletes a registration token. Idempotent.
func (s *SQLiteStore) RemovePushToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_tokens WHERE token = ?`, strings.TrimSpace(token))
	return storageErr("remove push token", err)
}

// ListPushTokens returns every registered token, oldest first.
func (s *SQLiteStore) ListPushTokens(ctx context.Context) ([]model.PushToken, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token, created_at FROM push_tokens ORDER BY created_at, token`)
	if err != nil {
		return nil, storageErr("list push tokens", err)
	}
	defer rows.Close()

	var tokens []model.PushToken
	for rows.Next() {
		var t model.PushToken
		var createdAt string
		if err := rows.Scan(&t.Token, &createdAt); err != nil {
			return nil, storageErr("scan push token", err)
		}
		t.CreatedAt = parseTime(createdAt)
		tokens = append(tokens, t)
	}
	return tokens, storageErr("list push tokens", rows.Err())
}
