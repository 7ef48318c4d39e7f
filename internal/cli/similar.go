package cli

import (
	"github.com/rcliao/aangan/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "similar <id>",
		Short: "Find whispers similar to an existing one",
		Args:  cobra.ExactArgs(1),
		Run:   runSimilar,
	}

	cmd.Flags().IntP("top-k", "k", 10, "Max results")
	cmd.Flags().StringP("zone", "z", "", "Filter by zone")
	cmd.Flags().StringP("emotion", "e", "", "Filter by emotion")

	RootCmd.AddCommand(cmd)
}

func runSimilar(cmd *cobra.Command, args []string) {
	topK, _ := cmd.Flags().GetInt("top-k")
	zone, _ := cmd.Flags().GetString("zone")
	emotion, _ := cmd.Flags().GetString("emotion")

	c := loadConfig()
	log := newLogger(c)
	defer log.Sync()
	svc, closeFn, err := openService(cmd.Context(), c, log, serviceDeps{})
	if err != nil {
		exitErr("open service", err)
	}
	defer closeFn()

	results, err := svc.Similar(cmd.Context(), args[0], topK, store.Filter{Zone: zone, Emotion: emotion})
	if err != nil {
		exitErr("similar", err)
	}
	printResults(results)
}
