package cli

import (
	"encoding/json"
	"fmt"

	"github.com/rcliao/aangan/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a whisper",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().Bool("reactions", false, "Include reaction counts")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	withReactions, _ := cmd.Flags().GetBool("reactions")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	w, err := s.GetWhisper(cmd.Context(), args[0])
	if err != nil {
		exitErr("get", err)
	}

	if !withReactions {
		b, _ := json.MarshalIndent(w, "", "  ")
		fmt.Println(string(b))
		return
	}

	counts, err := s.ReactionCounts(cmd.Context(), w.ID)
	if err != nil {
		exitErr("reactions", err)
	}
	b, _ := json.MarshalIndent(struct {
		*model.Whisper
		Reactions []model.ReactionCount `json:"reactions"`
	}{w, counts}, "", "  ")
	fmt.Println(string(b))
}
