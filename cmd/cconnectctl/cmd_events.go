package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/cosmic-connect/cconnectd/internal/cliutil"
	"github.com/cosmic-connect/cconnectd/internal/ipc"
)

var eventsAutoAccept bool

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream live daemon events until interrupted",
		Long: `Stream live daemon events until interrupted.

An incoming pairing request is accepted at once when --auto-accept is set.
Otherwise it prompts for y/n on stdin when stdout is a terminal; when stdout
isn't a terminal the request is only logged — use 'cconnectctl
accept'/'reject' to decide from elsewhere.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
				Level:      slog.LevelInfo,
				TimeFormat: time.Kitchen,
				NoColor:    !cliutil.IsTerminal(),
			}))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := client()
			return c.Events(ctx, func(e ipc.Event) {
				logger.Info(string(e.Kind), "device_id", e.DeviceID, "plugin", e.Plugin)
				if e.Kind == ipc.EventPairingRequest {
					handlePairingRequest(ctx, c, logger, e.DeviceID)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&eventsAutoAccept, "auto-accept", false, "accept every incoming pair request without prompting")
	return cmd
}

func handlePairingRequest(ctx context.Context, c *ipc.Client, logger *slog.Logger, deviceID string) {
	if eventsAutoAccept {
		if err := c.AcceptPair(ctx, deviceID); err != nil {
			logger.Error("auto-accept failed", "device_id", deviceID, "error", err)
		}
		return
	}
	if !cliutil.IsTerminal() {
		return
	}

	fmt.Printf("accept pairing request from %s? [y/N] ", deviceID)

	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		if err := c.AcceptPair(ctx, deviceID); err != nil {
			logger.Error("accept failed", "device_id", deviceID, "error", err)
		}
	default:
		if err := c.RejectPair(ctx, deviceID); err != nil {
			logger.Error("reject failed", "device_id", deviceID, "error", err)
		}
	}
}
