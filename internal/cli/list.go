package cli

import (
	"encoding/json"
	"fmt"

	"github.com/rcliao/aangan/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active whispers, newest first",
		Run:   runList,
	}

	cmd.Flags().StringP("zone", "z", "", "Filter by zone")
	cmd.Flags().StringP("emotion", "e", "", "Filter by emotion")
	cmd.Flags().IntP("limit", "l", store.DefaultListLimit, "Max results")
	cmd.Flags().String("cursor", "", "Continue from a previous page's next_cursor")
	cmd.Flags().Bool("ids-only", false, "Only output whisper ids")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	zone, _ := cmd.Flags().GetString("zone")
	emotion, _ := cmd.Flags().GetString("emotion")
	limit, _ := cmd.Flags().GetInt("limit")
	cursor, _ := cmd.Flags().GetString("cursor")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	page, err := s.ListActiveWhispers(cmd.Context(), store.ListParams{
		Filter: store.Filter{Zone: zone, Emotion: emotion},
		Limit:  limit,
		Cursor: cursor,
	})
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, w := range page.Whispers {
			fmt.Println(w.ID)
		}
		return
	}

	b, _ := json.MarshalIndent(page, "", "  ")
	fmt.Println(string(b))
}
