package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/rcliao/aangan/internal/model"
)

// UpsertEmbedding replaces any prior vector for the whisper.
func (s *SQLiteStore) UpsertEmbedding(ctx context.Context, whisperID string, vector []float32) error {
	if err := s.CheckVector(vector); err != nil {
		return err
	}

	now := s.nowString()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin upsert embedding", err)
	}
	defer tx.Rollback()

	if err := requireActive(ctx, tx, whisperID, now); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO whisper_embeddings (whisper_id, dims, vector, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(whisper_id) DO UPDATE SET dims = excluded.dims, vector = excluded.vector, updated_at = excluded.updated_at`,
		whisperID, len(vector), encodeVector(vector), now)
	if err != nil {
		return storageErr("upsert embedding", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit embedding", err)
	}
	return nil
}

// GetEmbedding returns the vector of an active whisper.
func (s *SQLiteStore) GetEmbedding(ctx context.Context, whisperID string) (*model.Embedding, error) {
	var dims int
	var blob []byte
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT e.dims, e.vector, e.updated_at FROM whisper_embeddings e
		 JOIN whispers w ON w.id = e.whisper_id
		 WHERE e.whisper_id = ? AND `+activeClause, whisperID, s.nowString()).Scan(&dims, &blob, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("embedding %s: %w", whisperID, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get embedding", err)
	}
	vec, err := decodeVector(blob, dims)
	if err != nil {
		return nil, storageErr("decode embedding", err)
	}
	return &model.Embedding{WhisperID: whisperID, Vector: vec, UpdatedAt: parseTime(updatedAt)}, nil
}

// DeleteEmbedding removes the vector for a whisper. Idempotent.
func (s *SQLiteStore) DeleteEmbedding(ctx context.Context, whisperID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM whisper_embeddings WHERE whisper_id = ?`, whisperID)
	return storageErr("delete embedding", err)
}

// CheckVector validates a vector against the store dimension.
func (s *SQLiteStore) CheckVector(v []float32) error {
	if len(v) != s.dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), s.dims)
	}
	for i, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return validationf("vector component %d is not finite", i)
		}
	}
	return nil
}

// encodeVector packs float32 values little-endian.
func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte, dims int) ([]float32, error) {
	if len(b) != 4*dims {
		return nil, fmt.Errorf("vector blob is %d bytes, want %d", len(b), 4*dims)
	}
	v := make([]float32, dims)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// MissingEmbeddings returns up to limit active whispers that have no embedding
// of the store dimension, oldest first.
func (s *SQLiteStore) MissingEmbeddings(ctx context.Context, limit int) ([]model.Whisper, error) {
	if limit <= 0 {
		limit = MaxListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+whisperColumns+` FROM whispers w
		 LEFT JOIN whisper_embeddings e ON e.whisper_id = w.id AND e.dims = ?
		 WHERE e.whisper_id IS NULL AND `+activeClause+`
		 ORDER BY w.created_at ASC, w.id ASC
		 LIMIT ?`, s.dims, s.nowString(), limit)
	if err != nil {
		return nil, storageErr("missing embeddings", err)
	}
	defer rows.Close()

	var out []model.Whisper
	for rows.Next() {
		w, err := scanWhisper(rows)
		if err != nil {
			return nil, storageErr("scan whisper", err)
		}
		out = append(out, w)
	}
	return out, storageErr("missing embeddings", rows.Err())
}
