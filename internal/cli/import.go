package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/aangan/internal/model"
)

var importEmbed bool

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import whispers from an export",
		Long: "Import whispers from JSON produced by export, read from file or stdin.\n" +
			"Ids and timestamps are kept, existing ids are skipped, and whispers that\n" +
			"expired in transit are still imported so the next purge removes them.",
		Args: cobra.MaximumNArgs(1),
		Run:  runImport,
	}
	cmd.Flags().BoolVar(&importEmbed, "embed", false, "Embed imported whispers with the configured provider")

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	var in io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			exitErr("open export", err)
		}
		defer f.Close()
		in = f
	}

	var whispers []model.Whisper
	if err := json.NewDecoder(in).Decode(&whispers); err != nil {
		exitErr("parse json", err)
	}

	c := loadConfig()
	log := newLogger(c)
	defer log.Sync()
	svc, closeFn, err := openService(cmd.Context(), c, log, serviceDeps{})
	if err != nil {
		exitErr("open service", err)
	}
	defer closeFn()

	imported, err := svc.Store().Import(cmd.Context(), whispers)
	if err != nil {
		exitErr("import", err)
	}

	embedded := 0
	if importEmbed {
		em, err := newEmbedder(c)
		if err != nil {
			exitErr("embedder", err)
		}
		if em == nil {
			exitErr("embed", fmt.Errorf("no embedding provider configured"))
		}
		for _, w := range whispers {
			if err := svc.Embed(cmd.Context(), em, w.ID); err != nil {
				log.Warn("import_embed_failed", "whisper_id", w.ID, "error", err)
				continue
			}
			embedded++
		}
	}

	fmt.Printf(`{"ok":true,"imported":%d,"skipped":%d,"embedded":%d}`+"\n", imported, len(whispers)-imported, embedded)
}
