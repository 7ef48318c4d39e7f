package cli

import (
	"fmt"

	"github.com/rcliao/aangan/internal/push"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Broadcast a push notification to registered clients",
		Run:   runNotify,
	}

	cmd.Flags().String("title", "", "Notification title")
	cmd.Flags().String("body", "", "Notification body")
	cmd.Flags().String("url", "", "URL opened on click (default: /)")

	RootCmd.AddCommand(cmd)
}

func runNotify(cmd *cobra.Command, args []string) {
	title, _ := cmd.Flags().GetString("title")
	body, _ := cmd.Flags().GetString("body")
	url, _ := cmd.Flags().GetString("url")

	c := loadConfig()
	log := newLogger(c)
	defer log.Sync()
	svc, closeFn, err := openService(cmd.Context(), c, log, serviceDeps{})
	if err != nil {
		exitErr("open service", err)
	}
	defer closeFn()

	done, err := svc.Broadcast(cmd.Context(), push.Notification{Title: title, Body: body, URL: url})
	if err != nil {
		exitErr("notify", err)
	}
	<-done

	fmt.Println(`{"ok":true}`)
}
