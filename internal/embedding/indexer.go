package embedding

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rcliao/aangan/internal/logger"
)

// Sink receives generated vectors.
type Sink interface {
	UpsertEmbedding(ctx context.Context, whisperID string, vector []float32) error
}

// Job asks for the embedding of one whisper's text.
type Job struct {
	WhisperID string
	Text      string
}

// IndexerOptions configures the worker pool.
type IndexerOptions struct {
	Workers       int
	QueueSize     int
	RatePerSecond float64 // 0 means unlimited
	Timeout       time.Duration

	// OnResult is called after every job with the upsert outcome.
	OnResult func(whisperID string, err error)
}

// Indexer embeds whispers in the background. A failed job leaves the whisper
// without an embedding; it is logged and never retried here.
type Indexer struct {
	embedder Embedder
	sink     Sink
	log      *logger.Logger
	limiter  *rate.Limiter
	jobs     chan Job
	workers  int
	timeout  time.Duration
	onResult func(string, error)
}

// NewIndexer creates an indexer. Call Run to start the workers.
func NewIndexer(e Embedder, sink Sink, log *logger.Logger, opts IndexerOptions) *Indexer {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	burst := opts.Workers
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &Indexer{
		embedder: e,
		sink:     sink,
		log:      log.With("service", "EmbeddingIndexer"),
		limiter:  rate.NewLimiter(limit, burst),
		jobs:     make(chan Job, opts.QueueSize),
		workers:  opts.Workers,
		timeout:  opts.Timeout,
		onResult: opts.OnResult,
	}
}

// Enqueue schedules a job without blocking. It reports false when the queue is full.
func (ix *Indexer) Enqueue(whisperID, text string) bool {
	select {
	case ix.jobs <- Job{WhisperID: whisperID, Text: text}:
		return true
	default:
		ix.log.Warn("embedding_queue_full", "whisper_id", whisperID)
		return false
	}
}

// Run processes jobs until ctx is cancelled.
func (ix *Indexer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < ix.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case j := <-ix.jobs:
					ix.process(ctx, j)
				}
			}
		})
	}
	return g.Wait()
}

func (ix *Indexer) process(ctx context.Context, j Job) {
	if err := ix.limiter.Wait(ctx); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	vec, err := ix.embedder.Embed(ctx, j.Text)
	if err == nil {
		err = ix.sink.UpsertEmbedding(ctx, j.WhisperID, vec)
	}
	if err != nil {
		ix.log.Warn("embedding_failed", "whisper_id", j.WhisperID, "error", err)
	} else {
		ix.log.Debug("embedding_stored", "whisper_id", j.WhisperID, "dims", len(vec))
	}
	if ix.onResult != nil {
		ix.onResult(j.WhisperID, err)
	}
}
