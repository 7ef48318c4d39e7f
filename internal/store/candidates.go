package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rcliao/aangan/internal/model"
)

// Candidate is a live whisper together with its embedding.
type Candidate struct {
	Whisper model.Whisper
	Vector  []float32
}

// ScanCandidates streams every active whisper matching f that has an embedding of
// the store dimension. Whisper and vector come from one joined row, so a vector is
// never returned without its owning whisper.
func (s *SQLiteStore) ScanCandidates(ctx context.Context, f Filter, fn func(Candidate) error) error {
	where, args := filterClause(f, s.nowString())
	where = append(where, "e.dims = ?")
	args = append(args, s.dims)
	return s.queryCandidates(ctx, where, args, fn)
}

// CandidatesByID hydrates the given ids into candidates, dropping ids that are
// missing, expired, filtered out or without an embedding.
func (s *SQLiteStore) CandidatesByID(ctx context.Context, ids []string, f Filter) ([]Candidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	where, args := filterClause(f, s.nowString())
	where = append(where, "e.dims = ?", "w.id IN ("+strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")+")")
	args = append(args, s.dims)
	for _, id := range ids {
		args = append(args, id)
	}

	var out []Candidate
	err := s.queryCandidates(ctx, where, args, func(c Candidate) error {
		out = append(out, c)
		return nil
	})
	return out, err
}

func (s *SQLiteStore) queryCandidates(ctx context.Context, where []string, args []any, fn func(Candidate) error) error {
	query := fmt.Sprintf(`SELECT %s, e.dims, e.vector FROM whispers w
		JOIN whisper_embeddings e ON e.whisper_id = w.id
		WHERE %s`, whisperColumns, strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return storageErr("scan candidates", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Candidate
		var dims int
		var blob []byte
		var emotion, zone, expiresAt sql.NullString
		var createdAt string
		err := rows.Scan(&c.Whisper.ID, &c.Whisper.Content, &emotion, &zone, &c.Whisper.IsAIGenerated,
			&expiresAt, &createdAt, &dims, &blob)
		if err != nil {
			return storageErr("scan candidate", err)
		}
		c.Whisper.Emotion = emotion.String
		c.Whisper.Zone = zone.String
		c.Whisper.CreatedAt = parseTime(createdAt)
		if expiresAt.Valid {
			t := parseTime(expiresAt.String)
			c.Whisper.ExpiresAt = &t
		}
		if c.Vector, err = decodeVector(blob, dims); err != nil {
			return storageErr("decode candidate", err)
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return storageErr("scan candidates", rows.Err())
}
