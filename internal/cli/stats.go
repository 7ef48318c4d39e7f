package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rcliao/aangan/internal/store"
)

var statsJSON bool

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show whisper, reaction and embedding counts",
		Run:   runStats,
	}
	cmd.Flags().BoolVar(&statsJSON, "json", false, "Print raw JSON")

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	stats, err := s.Stats(cmd.Context(), loadConfig().DB.Path)
	if err != nil {
		exitErr("stats", err)
	}

	if statsJSON {
		b, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(b))
		return
	}
	printStats(stats)
}

func printStats(st *store.Stats) {
	fmt.Printf("db          %s (%s)\n", st.DBPath, humanBytes(st.DBSizeBytes))
	fmt.Printf("whispers    %d active, %d expired awaiting purge\n", st.ActiveWhispers, st.ExpiredWhispers)
	fmt.Printf("reactions   %d\n", st.Reactions)
	fmt.Printf("embeddings  %d (%.0f%% of active whispers)\n", st.Embeddings, st.EmbeddingCoverage*100)
	if missing := st.ActiveWhispers - int(float64(st.ActiveWhispers)*st.EmbeddingCoverage+0.5); missing > 0 {
		fmt.Printf("            %d without a vector; run `aangan reindex`\n", missing)
	}
	if len(st.Zones) == 0 {
		return
	}
	fmt.Println()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ZONE\tACTIVE")
	for _, z := range st.Zones {
		name := z.Tag
		if name == "" {
			name = "(none)"
		}
		fmt.Fprintf(tw, "%s\t%d\n", name, z.Count)
	}
	tw.Flush()
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
