package cli

import (
	"encoding/json"
	"fmt"

	"github.com/rcliao/aangan/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export active whispers as JSON",
		Long:  "Export active whispers as a JSON array. Embeddings are not exported; they are regenerated after import.",
		Run:   runExport,
	}

	cmd.Flags().StringP("zone", "z", "", "Filter by zone")
	cmd.Flags().StringP("emotion", "e", "", "Filter by emotion")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	zone, _ := cmd.Flags().GetString("zone")
	emotion, _ := cmd.Flags().GetString("emotion")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	whispers, err := s.ExportAll(cmd.Context(), store.Filter{Zone: zone, Emotion: emotion})
	if err != nil {
		exitErr("export", err)
	}

	b, _ := json.MarshalIndent(whispers, "", "  ")
	fmt.Println(string(b))
}
