package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/irrigation-dashboard/internal/feed"
	"procodus.dev/irrigation-dashboard/internal/poll"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
	"procodus.dev/irrigation-dashboard/pkg/logger"
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Print the live sensor feed",
	Long: `Connect to the backend sensor WebSocket the same way the dashboard does
and print every merged snapshot as one JSON line until interrupted.`,
	PreRunE: bindFlags(feedFlags),
	RunE:    runFeed,
}

// feedFlags maps viper keys to feed flags.
var feedFlags = map[string]string{
	"feed.url":             "feed-url",
	"feed.interval":        "feed-interval",
	"feed.handshake_delay": "handshake-delay",
}

func init() {
	rootCmd.AddCommand(feedCmd)

	feedCmd.Flags().String("feed-url", "ws://localhost:8080/ws", "Backend sensor WebSocket URL")
	feedCmd.Flags().Duration("feed-interval", poll.FeedInterval, "Reconnect interval")
	feedCmd.Flags().Duration("handshake-delay", feed.DefaultHandshakeDelay, "Delay before repeating the data request")
}

func runFeed(_ *cobra.Command, _ []string) error {
	log := GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(os.Stdout)
	f, err := feed.New(&feed.Config{
		Logger:         logger.Component(log, "feed"),
		URL:            viper.GetString("feed.url"),
		Policy:         policy("feed"),
		HandshakeDelay: viper.GetDuration("feed.handshake_delay"),
		OnUpdate: func(snap irrigation.Snapshot) {
			if err := enc.Encode(snap); err != nil {
				log.Warn("failed to print snapshot", "error", err)
			}
		},
	})
	if err != nil {
		log.Error("failed to create live feed", "error", err)
		return err
	}

	if err := f.Run(ctx); err != nil {
		return fmt.Errorf("live feed: %w", err)
	}
	return nil
}
