package cli

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Embed active whispers that have no embedding yet",
		Run:   runReindex,
	}

	cmd.Flags().IntP("limit", "l", 1000, "Max whispers to embed")

	RootCmd.AddCommand(cmd)
}

func runReindex(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = 1000
	}

	c := loadConfig()
	if c.Embedding.QueueSize < limit {
		c.Embedding.QueueSize = limit
	}
	log := newLogger(c)
	defer log.Sync()

	var done, failed atomic.Int64
	finished := make(chan struct{}, limit)
	svc, closeFn, err := openService(cmd.Context(), c, log, serviceDeps{
		onResult: func(_ string, err error) {
			done.Add(1)
			if err != nil {
				failed.Add(1)
			}
			finished <- struct{}{}
		},
	})
	if err != nil {
		exitErr("open service", err)
	}
	defer closeFn()

	queued, err := svc.Backfill(cmd.Context(), limit)
	if err != nil {
		exitErr("reindex", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	errc := make(chan error, 1)
	go func() { errc <- svc.Run(ctx) }()
wait:
	for i := 0; i < queued; i++ {
		select {
		case <-finished:
		case <-cmd.Context().Done():
			break wait
		}
	}
	cancel()
	<-errc

	fmt.Printf(`{"ok":true,"queued":%d,"embedded":%d,"failed":%d}`+"\n", queued, done.Load()-failed.Load(), failed.Load())
}
