package cli

import (
	"fmt"

	"github.com/rcliao/aangan/internal/retention"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Physically delete expired whispers",
		Run:   runPurge,
	}

	RootCmd.AddCommand(cmd)
}

func runPurge(cmd *cobra.Command, args []string) {
	c := loadConfig()
	log := newLogger(c)
	defer log.Sync()
	svc, closeFn, err := openService(cmd.Context(), c, log, serviceDeps{})
	if err != nil {
		exitErr("open service", err)
	}
	defer closeFn()

	sched, err := retention.NewScheduler(c.Retention.Cron, svc, log)
	if err != nil {
		exitErr("retention", err)
	}
	n, err := sched.RunOnce(cmd.Context())
	if err != nil {
		exitErr("purge", err)
	}

	fmt.Printf(`{"ok":true,"purged":%d}`+"\n", n)
}
