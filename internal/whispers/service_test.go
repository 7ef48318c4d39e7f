package whispers

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rcliao/aangan/internal/embedding"
	"github.com/rcliao/aangan/internal/logger"
	"github.com/rcliao/aangan/internal/metrics"
	"github.com/rcliao/aangan/internal/model"
	"github.com/rcliao/aangan/internal/push"
	"github.com/rcliao/aangan/internal/search"
	"github.com/rcliao/aangan/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), 3)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// keywordEmbedder maps a few words onto axes.
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, text string) (embedding.Vector, error) {
	switch text {
	case "rain on the roof":
		return embedding.Vector{1, 0, 0}, nil
	case "monsoon evening":
		return embedding.Vector{0.9, 0.1, 0}, nil
	case "fail":
		return nil, errors.New("provider down")
	}
	return embedding.Vector{0, 0, 1}, nil
}

func (keywordEmbedder) Dims() int { return 3 }

type memIndex struct {
	mu      sync.Mutex
	vecs    map[string][]float32
	deleted []string
}

func newMemIndex() *memIndex { return &memIndex{vecs: map[string][]float32{}} }

func (m *memIndex) Upsert(_ context.Context, w model.Whisper, v []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vecs[w.ID] = v
	return nil
}

func (m *memIndex) Search(_ context.Context, v []float32, limit int, _ store.Filter) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.vecs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memIndex) Delete(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.vecs, id)
		m.deleted = append(m.deleted, id)
	}
	return nil
}

func (m *memIndex) Close() error { return nil }

func (m *memIndex) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.vecs[id]
	return ok
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []push.Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg push.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordingSender) Close() error { return nil }

func runService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestCreateEmbedsInBackground(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	idx := newMemIndex()
	results := make(chan error, 8)
	svc := NewService(st, logger.Nop(), Options{
		Embedder: keywordEmbedder{},
		Index:    idx,
		Metrics:  metrics.New(),
		Indexer:  embedding.IndexerOptions{OnResult: func(_ string, err error) { results <- err }},
	})
	runService(t, svc)

	rain, err := svc.Create(ctx, store.CreateParams{Content: "rain on the roof"})
	if err != nil {
		t.Fatal(err)
	}
	monsoon, _ := svc.Create(ctx, store.CreateParams{Content: "monsoon evening"})
	broken, _ := svc.Create(ctx, store.CreateParams{Content: "fail"})

	var failures int
	for i := 0; i < 3; i++ {
		select {
		case err := <-results:
			if err != nil {
				failures++
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for embeddings")
		}
	}
	if failures != 1 {
		t.Errorf("expected 1 failed embedding, got %d", failures)
	}

	if _, err := svc.GetEmbedding(ctx, broken.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("failed embedding should leave whisper without vector, got %v", err)
	}
	if _, err := svc.Get(ctx, broken.ID); err != nil {
		t.Errorf("whisper itself must survive a failed embedding: %v", err)
	}
	if !idx.has(rain.ID) || !idx.has(monsoon.ID) {
		t.Error("expected generated vectors to be mirrored into the index")
	}

	res, err := svc.Similar(ctx, rain.ID, 1, store.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Whisper.ID != monsoon.ID {
		t.Errorf("expected monsoon as most similar, got %+v", res)
	}

	res, err = svc.SearchText(ctx, "rain on the roof", 1, store.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Whisper.ID != rain.ID {
		t.Errorf("expected rain for text search, got %+v", res)
	}
}

func TestDeleteAndPurgeCleanIndex(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	idx := newMemIndex()
	svc := NewService(st, logger.Nop(), Options{Index: idx})

	w, _ := svc.Create(ctx, store.CreateParams{Content: "short lived", TTL: time.Minute})
	keep, _ := svc.Create(ctx, store.CreateParams{Content: "kept"})
	if err := svc.UpsertEmbedding(ctx, w.ID, []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := svc.UpsertEmbedding(ctx, keep.ID, []float32{0, 1, 0}); err != nil {
		t.Fatal(err)
	}

	st.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	n, err := svc.Purge(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || idx.has(w.ID) {
		t.Errorf("purge removed %d, index still has expired whisper: %v", n, idx.has(w.ID))
	}

	if err := svc.Delete(ctx, keep.ID); err != nil {
		t.Fatal(err)
	}
	if idx.has(keep.ID) {
		t.Error("delete should remove the index entry")
	}
	if _, err := svc.GetEmbedding(ctx, keep.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	// whispers written before any embedder was configured
	plain := NewService(st, logger.Nop(), Options{})
	if _, err := plain.Backfill(ctx, 10); !errors.Is(err, search.ErrNoEmbedder) {
		t.Errorf("expected ErrNoEmbedder, got %v", err)
	}
	a, _ := plain.Create(ctx, store.CreateParams{Content: "rain on the roof"})
	b, _ := plain.Create(ctx, store.CreateParams{Content: "monsoon evening"})

	results := make(chan string, 4)
	svc := NewService(st, logger.Nop(), Options{
		Embedder: keywordEmbedder{},
		Indexer:  embedding.IndexerOptions{OnResult: func(id string, _ error) { results <- id }},
	})
	n, err := svc.Backfill(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("queued %d, want 2", n)
	}
	runService(t, svc)
	for i := 0; i < 2; i++ {
		select {
		case <-results:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for backfill")
		}
	}
	for _, id := range []string{a.ID, b.ID} {
		if _, err := svc.GetEmbedding(ctx, id); err != nil {
			t.Errorf("expected embedding for %s: %v", id, err)
		}
	}
}

func TestBroadcast(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sender := &recordingSender{err: errors.New("gateway down")}
	svc := NewService(st, logger.Nop(), Options{Sender: sender})

	svc.RegisterPushToken(ctx, "tok-1")
	svc.RegisterPushToken(ctx, "tok-2")

	done, err := svc.Broadcast(ctx, push.Notification{Title: "New whisper", Body: "in the courtyard"})
	if err != nil {
		t.Fatalf("delivery failures must not surface: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast did not finish")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.msgs) != 1 || len(sender.msgs[0].Tokens) != 2 {
		t.Errorf("unexpected messages %+v", sender.msgs)
	}

	if _, err := svc.Broadcast(ctx, push.Notification{}); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation for empty notification, got %v", err)
	}
}

func TestEmbedSync(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := NewService(st, logger.Nop(), Options{})

	w, _ := svc.Create(ctx, store.CreateParams{Content: "rain on the roof"})
	if err := svc.Embed(ctx, keywordEmbedder{}, w.ID); err != nil {
		t.Fatal(err)
	}
	emb, err := svc.GetEmbedding(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if emb.Vector[0] != 1 {
		t.Errorf("vector = %v", emb.Vector)
	}
	if err := svc.Embed(ctx, keywordEmbedder{}, "01ARZ3NDEKTSV4RRFFQ69G5FAV"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
