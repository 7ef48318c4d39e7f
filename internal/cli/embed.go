package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "embed <id>",
		Short: "Store the embedding for a whisper",
		Long:  "Store an explicit vector (--vector 0.1,0.2,...) or generate one with the configured provider.",
		Args:  cobra.ExactArgs(1),
		Run:   runEmbed,
	}

	cmd.Flags().String("vector", "", "Comma-separated vector components")

	RootCmd.AddCommand(cmd)
}

func runEmbed(cmd *cobra.Command, args []string) {
	vecStr, _ := cmd.Flags().GetString("vector")

	c := loadConfig()
	log := newLogger(c)
	defer log.Sync()
	svc, closeFn, err := openService(cmd.Context(), c, log, serviceDeps{})
	if err != nil {
		exitErr("open service", err)
	}
	defer closeFn()

	if vecStr != "" {
		vec, err := parseVector(vecStr)
		if err != nil {
			exitErr("parse vector", err)
		}
		if err := svc.UpsertEmbedding(cmd.Context(), args[0], vec); err != nil {
			exitErr("embed", err)
		}
	} else {
		em, err := newEmbedder(c)
		if err != nil {
			exitErr("embedder", err)
		}
		if em == nil {
			exitErr("embed", fmt.Errorf("no embedding provider configured; pass --vector"))
		}
		if err := svc.Embed(cmd.Context(), em, args[0]); err != nil {
			exitErr("embed", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", args[0])
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("component %q: %w", p, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}
