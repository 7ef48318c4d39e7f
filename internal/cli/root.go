// Package cli implements the aangan CLI commands.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/aangan/internal/config"
	"github.com/rcliao/aangan/internal/embedding"
	"github.com/rcliao/aangan/internal/logger"
	"github.com/rcliao/aangan/internal/metrics"
	"github.com/rcliao/aangan/internal/push"
	"github.com/rcliao/aangan/internal/search"
	"github.com/rcliao/aangan/internal/store"
	"github.com/rcliao/aangan/internal/whispers"
)

var (
	dbPath     string
	configPath string

	cfg *config.Config
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "aangan",
	Short: "Anonymous whispers with semantic search",
	Long:  "Aangan stores short anonymous whispers, finds similar ones by embedding, and keeps an offline cache of the app shell.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $AANGAN_DB_PATH or ~/.aangan/aangan.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (YAML)")
}

func loadConfig() *config.Config {
	if cfg != nil {
		return cfg
	}
	c, err := config.Load(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		c.DB.Path = dbPath
	}
	cfg = c
	return cfg
}

func newLogger(c *config.Config) *logger.Logger {
	log, err := logger.New(c.Log.Level, c.Log.Format)
	if err != nil {
		exitErr("init logger", err)
	}
	return log
}

func openStore() (*store.SQLiteStore, error) {
	c := loadConfig()
	return store.NewSQLiteStore(c.DB.Path, c.Embedding.Dims)
}

func newEmbedder(c *config.Config) (embedding.Embedder, error) {
	e := c.Embedding
	return embedding.New(embedding.Config{
		Provider: e.Provider,
		Model:    e.Model,
		BaseURL:  e.BaseURL,
		APIKey:   e.APIKey,
		Dims:     e.Dims,
		Timeout:  e.Timeout,
	})
}

// serviceDeps are the optional collaborators beyond the store.
type serviceDeps struct {
	metrics  *metrics.Metrics
	onResult func(string, error)
}

// openService wires the store with the configured embedder, vector index and
// push sender. The returned func closes everything.
func openService(ctx context.Context, c *config.Config, log *logger.Logger, deps serviceDeps) (*whispers.Service, func(), error) {
	st, err := openStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	em, err := newEmbedder(c)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	if em != nil && em.Dims() != c.Embedding.Dims {
		st.Close()
		return nil, nil, fmt.Errorf("embedder produces %d dimensions, store expects %d", em.Dims(), c.Embedding.Dims)
	}

	opts := whispers.Options{
		Embedder:  em,
		Overfetch: c.Vector.Overfetch,
		Metrics:   deps.metrics,
		Indexer: embedding.IndexerOptions{
			Workers:       c.Embedding.Workers,
			QueueSize:     c.Embedding.QueueSize,
			RatePerSecond: c.Embedding.RatePerSecond,
			Timeout:       c.Embedding.Timeout,
			OnResult:      deps.onResult,
		},
	}

	if c.Vector.Backend == "qdrant" {
		idx, err := search.NewQdrant(ctx, c.Vector.Host, c.Vector.Port, c.Vector.Collection, c.Embedding.Dims)
		if err != nil {
			st.Close()
			return nil, nil, err
		}
		opts.Index = idx
	}

	if c.Push.RedisAddr != "" {
		pub, err := push.NewPublisher(ctx, c.Push.RedisAddr, c.Push.Channel, log)
		if err != nil {
			log.Warn("push_disabled", "error", err)
		} else {
			opts.Sender = pub
		}
	}

	svc := whispers.NewService(st, log, opts)
	return svc, func() {
		svc.Close()
		st.Close()
	}, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
