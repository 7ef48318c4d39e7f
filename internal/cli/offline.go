package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/aangan/internal/config"
	"github.com/rcliao/aangan/internal/logger"
	"github.com/rcliao/aangan/internal/offline"
	"github.com/rcliao/aangan/internal/push"
)

var offlineServer string

func init() {
	cmd := &cobra.Command{
		Use:   "offline",
		Short: "Client-side offline cache of the app shell",
	}
	cmd.PersistentFlags().StringVar(&offlineServer, "server", "", "Server URL (overrides offline.server_url)")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Install and activate the server's current generation",
		Run:   runOfflineSync,
	}
	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Serve a resource from the cache, falling back to the network",
		Args:  cobra.ExactArgs(1),
		Run:   runOfflineGet,
	}
	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Show push notifications as they arrive",
		Run:   runOfflineListen,
	}
	listenCmd.Flags().Bool("open", false, "Simulate a click on every notification")

	cmd.AddCommand(syncCmd, getCmd, listenCmd)
	RootCmd.AddCommand(cmd)
}

func openCoordinator(c *config.Config, log *logger.Logger) (*offline.Coordinator, *offline.HTTPFetcher, func()) {
	server := c.Offline.ServerURL
	if offlineServer != "" {
		server = offlineServer
	}
	if err := os.MkdirAll(c.Offline.CacheDir, 0o755); err != nil {
		exitErr("create cache dir", err)
	}
	st, err := offline.OpenStorage(c.Offline.CacheDir)
	if err != nil {
		exitErr("open cache", err)
	}
	f := offline.NewHTTPFetcher(server)
	coord, err := offline.NewCoordinator(st, f, offline.NewWriterNotifier(os.Stdout), log, offline.Options{RuntimeCaching: true})
	if err != nil {
		st.Close()
		exitErr("open coordinator", err)
	}
	return coord, f, func() { st.Close() }
}

func runOfflineSync(cmd *cobra.Command, args []string) {
	c := loadConfig()
	log := newLogger(c)
	defer log.Sync()
	coord, f, closeFn := openCoordinator(c, log)
	defer closeFn()

	doc, err := f.Manifest(cmd.Context(), "/offline/manifest.json")
	if err != nil {
		exitErr("fetch manifest", err)
	}
	if err := coord.Update(cmd.Context(), doc.Generation, offline.Manifest{Keys: doc.Keys}); err != nil {
		exitErr("sync", err)
	}

	b, _ := json.Marshal(map[string]any{
		"generation": coord.Active(),
		"state":      coord.State(coord.Active()).String(),
		"keys":       len(doc.Keys),
	})
	fmt.Println(string(b))
}

func runOfflineGet(cmd *cobra.Command, args []string) {
	c := loadConfig()
	log := newLogger(c)
	defer log.Sync()
	coord, _, closeFn := openCoordinator(c, log)
	defer closeFn()

	e, err := coord.Fetch(cmd.Context(), args[0])
	if err != nil {
		exitErr("get", err)
	}
	os.Stdout.Write(e.Body)
}

func runOfflineListen(cmd *cobra.Command, args []string) {
	open, _ := cmd.Flags().GetBool("open")

	c := loadConfig()
	log := newLogger(c)
	defer log.Sync()
	coord, _, closeFn := openCoordinator(c, log)
	defer closeFn()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub, err := push.NewSubscriber(ctx, c.Push.RedisAddr, c.Push.Channel, log)
	if err != nil {
		exitErr("subscribe", err)
	}
	defer sub.Close()

	err = sub.Listen(ctx, func(msg push.Message) {
		payload, _ := json.Marshal(msg.Notification)
		if err := coord.Push(ctx, payload); err != nil {
			log.Warn("push_rejected", "error", err)
			return
		}
		if open {
			coord.NotificationClick(ctx, msg.Notification)
		}
	})
	if err != nil {
		exitErr("listen", err)
	}
}
