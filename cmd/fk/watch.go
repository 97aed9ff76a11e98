package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowkeeper-org/fk-engine/internal/cache"
	"github.com/flowkeeper-org/fk-engine/internal/events"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the log live and print every event",
	Long: `Replay the log, then keep following it: file changes made by other
processes replay incrementally. When a remote URL is configured the
command connects to the sync server instead, optionally backed by the
local cache directory for offline durability.

Example usage:
  fk watch
  fk watch --remote-url wss://sync.example.com/ws --cache-dir ~/.flowkeeper/cache`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var src cache.Source
		var err error
		if settings.RemoteURL != "" {
			src, err = newSyncedSource()
		} else {
			src, err = newFileSource(true)
		}
		if err != nil {
			return err
		}
		defer src.Close()

		src.Engine().Emitter().On("*", printEvent, false)
		if err := src.Start(false); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()
		fmt.Println("\nStopped watching")
		return nil
	},
}

func init() {
	watchCmd.PersistentFlags().String("remote-url", "", "Sync server websocket URL")
	watchCmd.PersistentFlags().String("remote-token", "", "Sync server credential")
	watchCmd.PersistentFlags().String("cache-dir", "", "Directory for the offline snapshot and redo log")
	rootCmd.AddCommand(watchCmd)
}

func printEvent(event string, payload events.Payload) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, payload[k]))
	}
	fmt.Printf("%-24s %s\n", event, strings.Join(parts, " "))
}
