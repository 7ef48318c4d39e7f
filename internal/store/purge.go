package store

import "context"

// PurgeExpired physically removes logically expired whispers together with their
// reactions and embeddings in one transaction. It returns the purged ids.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) ([]string, error) {
	now := s.nowString()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin purge", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM whispers WHERE expires_at IS NOT NULL AND expires_at <= ?`, now)
	if err != nil {
		return nil, storageErr("select expired", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, storageErr("scan expired", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr("select expired", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	expired := `SELECT id FROM whispers WHERE expires_at IS NOT NULL AND expires_at <= ?`
	for _, q := range []string{
		`DELETE FROM whisper_reactions WHERE whisper_id IN (` + expired + `)`,
		`DELETE FROM whisper_embeddings WHERE whisper_id IN (` + expired + `)`,
		`DELETE FROM whispers WHERE id IN (` + expired + `)`,
	} {
		if _, err := tx.ExecContext(ctx, q, now); err != nil {
			return nil, storageErr("purge expired", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit purge", err)
	}
	return ids, nil
}
