package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath            string     `json:"db_path"`
	DBSizeBytes       int64      `json:"db_size_bytes"`
	TotalWhispers     int        `json:"total_whispers"`
	ActiveWhispers    int        `json:"active_whispers"`
	ExpiredWhispers   int        `json:"expired_whispers"`
	Reactions         int        `json:"reactions"`
	Embeddings        int        `json:"embeddings"`
	EmbeddingCoverage float64    `json:"embedding_coverage"`
	Zones             []TagStats `json:"zones"`
}

// TagStats holds per-zone counts of active whispers.
type TagStats struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath, Zones: []TagStats{}}

	// DB file size
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	now := s.nowString()
	var embeddedActive int
	counts := []struct {
		dest  *int
		query string
		args  []any
	}{
		{&st.TotalWhispers, `SELECT COUNT(*) FROM whispers`, nil},
		{&st.ActiveWhispers, `SELECT COUNT(*) FROM whispers w WHERE ` + activeClause, []any{now}},
		{&st.Reactions, `SELECT COUNT(*) FROM whisper_reactions`, nil},
		{&st.Embeddings, `SELECT COUNT(*) FROM whisper_embeddings`, nil},
		{&embeddedActive, `SELECT COUNT(*) FROM whisper_embeddings e JOIN whispers w ON w.id = e.whisper_id WHERE ` + activeClause, []any{now}},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dest); err != nil {
			return st, storageErr("stats", err)
		}
	}
	st.ExpiredWhispers = st.TotalWhispers - st.ActiveWhispers
	if st.ActiveWhispers > 0 {
		st.EmbeddingCoverage = float64(embeddedActive) / float64(st.ActiveWhispers)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(w.zone, ''), COUNT(*) AS cnt
		FROM whispers w WHERE `+activeClause+`
		GROUP BY w.zone ORDER BY cnt DESC`, now)
	if err != nil {
		return st, storageErr("stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var z TagStats
		if err := rows.Scan(&z.Tag, &z.Count); err != nil {
			return st, storageErr("stats", err)
		}
		st.Zones = append(st.Zones, z)
	}

	return st, nil
}
