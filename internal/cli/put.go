package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rcliao/aangan/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Leave a whisper",
		Long:  "Store a whisper. Content can be a positional arg or piped via stdin.",
		Run:   runPut,
	}

	cmd.Flags().StringP("emotion", "e", "", "Emotion tag")
	cmd.Flags().StringP("zone", "z", "", "Zone tag")
	cmd.Flags().String("ttl", "", "Time to live (e.g. 7d, 24h, 30m, -1s)")
	cmd.Flags().Bool("ai", false, "Mark the whisper as AI generated")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	emotion, _ := cmd.Flags().GetString("emotion")
	zone, _ := cmd.Flags().GetString("zone")
	ttlStr, _ := cmd.Flags().GetString("ttl")
	ai, _ := cmd.Flags().GetBool("ai")

	// Get content: positional arg first, then check stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}

	if strings.TrimSpace(content) == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	var ttl time.Duration
	if ttlStr != "" {
		d, err := store.ParseTTL(ttlStr)
		if err != nil {
			exitErr("parse ttl", err)
		}
		ttl = d
	}

	c := loadConfig()
	log := newLogger(c)
	defer log.Sync()
	svc, closeFn, err := openService(cmd.Context(), c, log, serviceDeps{})
	if err != nil {
		exitErr("open service", err)
	}
	defer closeFn()

	w, err := svc.Create(cmd.Context(), store.CreateParams{
		Content:       content,
		Emotion:       emotion,
		Zone:          zone,
		IsAIGenerated: ai,
		TTL:           ttl,
	})
	if err != nil {
		exitErr("put", err)
	}

	// no background workers run here, so embed inline; failure leaves the whisper unembedded
	if em, _ := newEmbedder(c); em != nil {
		if err := svc.Embed(cmd.Context(), em, w.ID); err != nil {
			log.Warn("embedding_failed", "whisper_id", w.ID, "error", err)
		}
	}

	b, _ := json.Marshal(w)
	fmt.Println(string(b))
}
