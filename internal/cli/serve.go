package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/aangan/internal/httpapi"
	"github.com/rcliao/aangan/internal/metrics"
	"github.com/rcliao/aangan/internal/retention"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, embedding workers and retention scheduler",
		Run:   runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (overrides http.addr)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	// a missing .env is normal outside development
	_ = godotenv.Load(".env")

	c := loadConfig()
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		c.HTTP.Addr = addr
	}
	log := newLogger(c)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	svc, closeFn, err := openService(ctx, c, log, serviceDeps{metrics: m})
	if err != nil {
		exitErr("open service", err)
	}
	defer closeFn()

	api, err := httpapi.New(svc, log, m, httpapi.Options{
		ReactionRPS:      c.Reactions.RatePerSecond,
		ReactionBurst:    c.Reactions.Burst,
		GenerationPrefix: c.Offline.GenerationPrefix,
		ManifestKeys:     c.Offline.Manifest,
	})
	if err != nil {
		exitErr("http api", err)
	}
	srv := api.HTTPServer(c.HTTP.Addr, c.HTTP.ReadTimeout, c.HTTP.WriteTimeout)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http_listening", "addr", c.HTTP.Addr, "generation", api.Manifest().Generation)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("http_shutdown")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return svc.Run(ctx) })
	if c.Retention.Enabled {
		sched, err := retention.NewScheduler(c.Retention.Cron, svc, log)
		if err != nil {
			exitErr("retention", err)
		}
		g.Go(func() error { return sched.Run(ctx) })
	}

	if err := g.Wait(); err != nil {
		exitErr("serve", err)
	}
}
