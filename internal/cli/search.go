package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rcliao/aangan/internal/search"
	"github.com/rcliao/aangan/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Find whispers by semantic similarity",
		Long:  "Rank live whispers by cosine similarity to a text query (needs an embedding provider) or an explicit --vector.",
		Run:   runSearch,
	}

	cmd.Flags().String("vector", "", "Comma-separated query vector")
	cmd.Flags().IntP("top-k", "k", 10, "Max results")
	cmd.Flags().StringP("zone", "z", "", "Filter by zone")
	cmd.Flags().StringP("emotion", "e", "", "Filter by emotion")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	vecStr, _ := cmd.Flags().GetString("vector")
	topK, _ := cmd.Flags().GetInt("top-k")
	zone, _ := cmd.Flags().GetString("zone")
	emotion, _ := cmd.Flags().GetString("emotion")
	query := strings.Join(args, " ")
	f := store.Filter{Zone: zone, Emotion: emotion}

	if vecStr == "" && strings.TrimSpace(query) == "" {
		exitErr("search", fmt.Errorf("text or --vector is required"))
	}

	c := loadConfig()
	log := newLogger(c)
	defer log.Sync()
	svc, closeFn, err := openService(cmd.Context(), c, log, serviceDeps{})
	if err != nil {
		exitErr("open service", err)
	}
	defer closeFn()

	var results []search.Result
	if vecStr != "" {
		vec, perr := parseVector(vecStr)
		if perr != nil {
			exitErr("parse vector", perr)
		}
		results, err = svc.Search(cmd.Context(), vec, topK, f)
	} else {
		results, err = svc.SearchText(cmd.Context(), query, topK, f)
	}
	if err != nil {
		exitErr("search", err)
	}

	printResults(results)
}

func printResults(results []search.Result) {
	if len(results) == 0 {
		fmt.Println("[]")
		return
	}
	b, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(b))
}
