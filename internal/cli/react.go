package cli

import (
	"encoding/json"
	"fmt"

	"github.com/rcliao/aangan/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "react <id> <emoji>",
		Short: "React to a whisper (heart, hug, tear, spark, calm, laugh)",
		Args:  cobra.ExactArgs(2),
		Run:   runReact,
	}

	cmd.Flags().StringP("guest", "g", "cli", "Guest id")

	RootCmd.AddCommand(cmd)
}

func runReact(cmd *cobra.Command, args []string) {
	guest, _ := cmd.Flags().GetString("guest")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	r, err := s.AddReaction(cmd.Context(), store.ReactParams{
		WhisperID: args[0],
		GuestID:   guest,
		Emoji:     args[1],
	})
	if err != nil {
		exitErr("react", err)
	}

	b, _ := json.Marshal(r)
	fmt.Println(string(b))
}
