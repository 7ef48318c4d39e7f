package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/rcliao/aangan/internal/model"
	"github.com/rcliao/aangan/internal/store/migrations"
)

// timeLayout is fixed width so stored timestamps compare lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const whisperColumns = `w.id, w.content, w.emotion, w.zone, w.is_ai_generated, w.expires_at, w.created_at`

const activeClause = `(w.expires_at IS NULL OR w.expires_at > ?)`

// SQLiteStore implements WhisperRepository and EmbeddingStore using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	dims int
	now  func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
// dims is the system-wide embedding dimension.
func NewSQLiteStore(dbPath string, dims int) (*SQLiteStore, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("embedding dims must be positive, got %d", dims)
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	// read-then-write transactions take the write lock at BEGIN; a deferred
	// upgrade under WAL fails with SQLITE_BUSY without waiting on busy_timeout
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		dims:    dims,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// newID returns a ULID; ids from one store are strictly increasing.
func (s *SQLiteStore) newID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, ".")
}

// SetClock replaces the time source used for expiry checks and timestamps.
func (s *SQLiteStore) SetClock(now func() time.Time) { s.now = now }

// Dims returns the fixed embedding dimension.
func (s *SQLiteStore) Dims() int { return s.dims }

func (s *SQLiteStore) CreateWhisper(ctx context.Context, p CreateParams) (*model.Whisper, error) {
	content, emotion, zone, err := normalizeWhisper(p.Content, p.Emotion, p.Zone)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	w := &model.Whisper{
		ID:            s.newID(now),
		Content:       content,
		Emotion:       emotion,
		Zone:          zone,
		IsAIGenerated: p.IsAIGenerated,
		CreatedAt:     now,
	}
	var expiresAt *string
	if p.TTL != 0 {
		exp := now.Add(p.TTL)
		w.ExpiresAt = &exp
		v := formatTime(exp)
		expiresAt = &v
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO whispers (id, content, emotion, zone, is_ai_generated, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Content, nullString(emotion), nullString(zone), p.IsAIGenerated, expiresAt, formatTime(now))
	if err != nil {
		return nil, storageErr("insert whisper", err)
	}
	return w, nil
}

func (s *SQLiteStore) GetWhisper(ctx context.Context, id string) (*model.Whisper, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+whisperColumns+` FROM whispers w WHERE w.id = ? AND `+activeClause,
		id, s.nowString())
	w, err := scanWhisper(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("whisper %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get whisper", err)
	}
	return &w, nil
}

func (s *SQLiteStore) ListActiveWhispers(ctx context.Context, p ListParams) (*Page, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	where, args := filterClause(p.Filter, s.nowString())
	if p.Cursor != "" {
		createdAt, id, err := decodeCursor(p.Cursor)
		if err != nil {
			return nil, err
		}
		where = append(where, "(w.created_at < ? OR (w.created_at = ? AND w.id < ?))")
		args = append(args, createdAt, createdAt, id)
	}

	query := fmt.Sprintf(`SELECT %s FROM whispers w WHERE %s
		ORDER BY w.created_at DESC, w.id DESC
		LIMIT ?`, whisperColumns, strings.Join(where, " AND "))
	// one extra row tells us whether another page exists
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list whispers", err)
	}
	defer rows.Close()

	page := &Page{Whispers: []model.Whisper{}}
	for rows.Next() {
		w, err := scanWhisper(rows)
		if err != nil {
			return nil, storageErr("scan whisper", err)
		}
		page.Whispers = append(page.Whispers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list whispers", err)
	}

	if len(page.Whispers) > limit {
		page.Whispers = page.Whispers[:limit]
		last := page.Whispers[limit-1]
		page.NextCursor = encodeCursor(last)
	}
	return page, nil
}

func (s *SQLiteStore) DeleteWhisper(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin delete", err)
	}
	defer tx.Rollback()

	// children are removed explicitly too, so the cascade does not depend on the pragma
	for _, q := range []string{
		`DELETE FROM whisper_reactions WHERE whisper_id = ?`,
		`DELETE FROM whisper_embeddings WHERE whisper_id = ?`,
		`DELETE FROM whispers WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return storageErr("delete whisper", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit delete", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// requireActive returns ErrNotFound unless the whisper exists and is not expired.
func requireActive(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id, now string) error {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM whispers w WHERE w.id = ? AND `+activeClause, id, now).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("whisper %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return storageErr("lookup whisper", err)
	}
	return nil
}

func filterClause(f Filter, now string) ([]string, []any) {
	where := []string{activeClause}
	args := []any{now}
	if zone := strings.ToLower(strings.TrimSpace(f.Zone)); zone != "" {
		where = append(where, "w.zone = ?")
		args = append(args, zone)
	}
	if emotion := strings.ToLower(strings.TrimSpace(f.Emotion)); emotion != "" {
		where = append(where, "w.emotion = ?")
		args = append(args, emotion)
	}
	return where, args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWhisper(row scanner) (model.Whisper, error) {
	var w model.Whisper
	var emotion, zone, expiresAt sql.NullString
	var createdAt string

	err := row.Scan(&w.ID, &w.Content, &emotion, &zone, &w.IsAIGenerated, &expiresAt, &createdAt)
	if err != nil {
		return w, err
	}

	w.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	w.Emotion = emotion.String
	w.Zone = zone.String
	if expiresAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, expiresAt.String)
		w.ExpiresAt = &t
	}
	return w, nil
}

func (s *SQLiteStore) nowString() string {
	return formatTime(s.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// normalizeWhisper applies the write-time rules shared by create and import.
func normalizeWhisper(content, emotion, zone string) (string, string, string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", "", "", validationf("content is required")
	}
	if n := utf8.RuneCountInString(content); n > MaxContentRunes {
		return "", "", "", validationf("content is %d characters, max %d", n, MaxContentRunes)
	}
	emotion, err := normalizeTag("emotion", emotion)
	if err != nil {
		return "", "", "", err
	}
	zone, err = normalizeTag("zone", zone)
	if err != nil {
		return "", "", "", err
	}
	return content, emotion, zone, nil
}

func normalizeTag(field, v string) (string, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if len(v) > MaxTagLen {
		return "", validationf("%s is longer than %d characters", field, MaxTagLen)
	}
	return v, nil
}

func encodeCursor(w model.Whisper) string {
	return base64.RawURLEncoding.EncodeToString([]byte(formatTime(w.CreatedAt) + "|" + w.ID))
}

func decodeCursor(c string) (createdAt, id string, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return "", "", validationf("malformed cursor")
	}
	createdAt, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return "", "", validationf("malformed cursor")
	}
	if _, err := time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return "", "", validationf("malformed cursor")
	}
	return createdAt, id, nil
}

var ttlRegex = regexp.MustCompile(`^(-?\d+)([dhms])$`)

// ParseTTL parses a TTL string like "7d", "24h", "30m" or "-1s" into a time.Duration.
func ParseTTL(s string) (time.Duration, error) {
	m := ttlRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid format %q (use e.g. 7d, 24h, 30m, 60s)", s)
	}
	n, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "s":
		return time.Duration(n) * time.Second, nil
	}
	return 0, fmt.Errorf("unknown unit %q", m[2])
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
