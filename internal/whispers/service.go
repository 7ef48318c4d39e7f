// Package whispers composes the repository, the embedding store, similarity
// search and the background collaborators (embedding indexer, vector index,
// push) into the operations served over HTTP and the CLI.
//
// Whisper creation and embedding are decoupled: Create returns as soon as the
// row is stored and the embedding arrives later, or never if the provider fails.
package whispers

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/aangan/internal/embedding"
	"github.com/rcliao/aangan/internal/logger"
	"github.com/rcliao/aangan/internal/metrics"
	"github.com/rcliao/aangan/internal/model"
	"github.com/rcliao/aangan/internal/push"
	"github.com/rcliao/aangan/internal/search"
	"github.com/rcliao/aangan/internal/store"
)

// Options wires the optional collaborators.
type Options struct {
	Embedder  embedding.Embedder
	Indexer   embedding.IndexerOptions
	Index     search.Index
	Overfetch int
	Sender    push.Sender
	Metrics   *metrics.Metrics
}

// Service is safe for concurrent use.
type Service struct {
	store   *store.SQLiteStore
	engine  *search.Engine
	index   search.Index
	indexer *embedding.Indexer
	sender  push.Sender
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewService creates the service. Call Run to start background embedding.
func NewService(st *store.SQLiteStore, log *logger.Logger, opts Options) *Service {
	s := &Service{
		store:   st,
		engine:  search.NewEngine(st),
		index:   opts.Index,
		sender:  opts.Sender,
		metrics: opts.Metrics,
		log:     log.With("service", "WhisperService"),
	}
	if s.sender == nil {
		s.sender = push.LogSender{Log: log}
	}
	if opts.Index != nil {
		s.engine.WithIndex(opts.Index, opts.Overfetch)
	}
	if opts.Embedder != nil {
		s.engine.WithEmbedder(opts.Embedder)
		ixOpts := opts.Indexer
		onResult := ixOpts.OnResult
		ixOpts.OnResult = func(id string, err error) {
			s.metrics.Embedding(err)
			if onResult != nil {
				onResult(id, err)
			}
		}
		// the service is the sink so generated vectors are mirrored into the index
		s.indexer = embedding.NewIndexer(opts.Embedder, s, log, ixOpts)
	}
	return s
}

// Store exposes the underlying store for read-only helpers such as stats.
func (s *Service) Store() *store.SQLiteStore { return s.store }

// Run processes background embedding jobs until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.indexer == nil {
		<-ctx.Done()
		return nil
	}
	return s.indexer.Run(ctx)
}

func (s *Service) Create(ctx context.Context, p store.CreateParams) (*model.Whisper, error) {
	w, err := s.store.CreateWhisper(ctx, p)
	if err != nil {
		return nil, err
	}
	s.metrics.Whisper("created")
	s.log.Info("whisper_created", "whisper_id", w.ID, "zone", w.Zone, "emotion", w.Emotion, "expires", w.ExpiresAt != nil)
	if s.indexer != nil && !w.ExpiredAt(time.Now()) {
		s.indexer.Enqueue(w.ID, w.Content)
	}
	return w, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Whisper, error) {
	return s.store.GetWhisper(ctx, id)
}

func (s *Service) List(ctx context.Context, p store.ListParams) (*store.Page, error) {
	return s.store.ListActiveWhispers(ctx, p)
}

// Delete removes the whisper and its dependents. The index mirror is cleaned
// best effort; search hydration hides any entry it misses.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteWhisper(ctx, id); err != nil {
		return err
	}
	s.metrics.Whisper("deleted")
	s.log.Info("whisper_deleted", "whisper_id", id)
	s.unindex(ctx, id)
	return nil
}

func (s *Service) React(ctx context.Context, p store.ReactParams) (*model.Reaction, error) {
	r, err := s.store.AddReaction(ctx, p)
	if err != nil {
		return nil, err
	}
	s.log.Debug("reaction_added", "whisper_id", r.WhisperID, "guest_id", r.GuestID, "emoji", r.Emoji)
	return r, nil
}

func (s *Service) Reactions(ctx context.Context, id string) ([]model.Reaction, error) {
	return s.store.ListReactions(ctx, id)
}

func (s *Service) ReactionCounts(ctx context.Context, id string) ([]model.ReactionCount, error) {
	return s.store.ReactionCounts(ctx, id)
}

// UpsertEmbedding stores the vector and mirrors it into the index.
func (s *Service) UpsertEmbedding(ctx context.Context, whisperID string, vector []float32) error {
	if err := s.store.UpsertEmbedding(ctx, whisperID, vector); err != nil {
		return err
	}
	if s.index == nil {
		return nil
	}
	w, err := s.store.GetWhisper(ctx, whisperID)
	if err != nil {
		// expired between the two reads; nothing to mirror
		return nil
	}
	if err := s.index.Upsert(ctx, *w, vector); err != nil {
		s.log.Warn("index_upsert_failed", "whisper_id", whisperID, "error", err)
	}
	return nil
}

func (s *Service) GetEmbedding(ctx context.Context, whisperID string) (*model.Embedding, error) {
	return s.store.GetEmbedding(ctx, whisperID)
}

func (s *Service) DeleteEmbedding(ctx context.Context, whisperID string) error {
	if err := s.store.DeleteEmbedding(ctx, whisperID); err != nil {
		return err
	}
	s.unindex(ctx, whisperID)
	return nil
}

func (s *Service) Search(ctx context.Context, vector []float32, topK int, f store.Filter) ([]search.Result, error) {
	defer s.metrics.ObserveSearch(time.Now())
	return s.engine.Query(ctx, vector, topK, f)
}

func (s *Service) SearchText(ctx context.Context, text string, topK int, f store.Filter) ([]search.Result, error) {
	defer s.metrics.ObserveSearch(time.Now())
	return s.engine.QueryText(ctx, text, topK, f)
}

func (s *Service) Similar(ctx context.Context, id string, topK int, f store.Filter) ([]search.Result, error) {
	defer s.metrics.ObserveSearch(time.Now())
	return s.engine.Similar(ctx, id, topK, f)
}

// Purge physically deletes expired whispers and returns how many were removed.
func (s *Service) Purge(ctx context.Context) (int, error) {
	ids, err := s.store.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	s.metrics.AddPurged(len(ids))
	s.log.Info("whispers_purged", "count", len(ids))
	s.unindex(ctx, ids...)
	return len(ids), nil
}

// Backfill queues active whispers without an embedding. It returns how many were queued.
func (s *Service) Backfill(ctx context.Context, limit int) (int, error) {
	if s.indexer == nil {
		return 0, search.ErrNoEmbedder
	}
	missing, err := s.store.MissingEmbeddings(ctx, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, w := range missing {
		if !s.indexer.Enqueue(w.ID, w.Content) {
			break
		}
		n++
	}
	s.log.Info("embedding_backfill", "queued", n, "missing", len(missing))
	return n, nil
}

// Embed generates and stores the embedding for one whisper synchronously.
func (s *Service) Embed(ctx context.Context, e embedding.Embedder, whisperID string) error {
	w, err := s.store.GetWhisper(ctx, whisperID)
	if err != nil {
		return err
	}
	vec, err := e.Embed(ctx, w.Content)
	if err != nil {
		return fmt.Errorf("embed %s: %w", whisperID, err)
	}
	return s.UpsertEmbedding(ctx, whisperID, vec)
}

func (s *Service) RegisterPushToken(ctx context.Context, token string) error {
	return s.store.RegisterPushToken(ctx, token)
}

func (s *Service) RemovePushToken(ctx context.Context, token string) error {
	return s.store.RemovePushToken(ctx, token)
}

// Broadcast sends n to every registered token in the background. Delivery
// errors are logged and never reach the caller. The returned channel is
// closed once the attempt finishes.
func (s *Service) Broadcast(ctx context.Context, n push.Notification) (<-chan struct{}, error) {
	if err := n.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, store.ErrValidation)
	}
	tokens, err := s.store.ListPushTokens(ctx)
	if err != nil {
		return nil, err
	}
	msg := push.Message{Notification: n, SentAt: time.Now().UTC()}
	for _, t := range tokens {
		msg.Tokens = append(msg.Tokens, t.Token)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		err := s.sender.Send(sendCtx, msg)
		s.metrics.Push(err)
		if err != nil {
			s.log.Warn("push_failed", "title", n.Title, "tokens", len(msg.Tokens), "error", err)
		}
	}()
	return done, nil
}

func (s *Service) unindex(ctx context.Context, ids ...string) {
	if s.index == nil || len(ids) == 0 {
		return
	}
	if err := s.index.Delete(ctx, ids...); err != nil {
		s.log.Warn("index_delete_failed", "count", len(ids), "error", err)
	}
}

// Close releases the index connection and the push sender.
func (s *Service) Close() error {
	if s.index != nil {
		s.index.Close()
	}
	return s.sender.Close()
}
