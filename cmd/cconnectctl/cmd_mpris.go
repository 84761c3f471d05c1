package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newMPRISCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mpris",
		Short: "Control a device's media players",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "players <device-id>",
			Short: "List a device's active media players",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				players, err := client().MPRISPlayers(context.Background(), args[0])
				if err != nil {
					return err
				}
				for _, p := range players {
					fmt.Println(p)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "control <device-id> <player> <Play|Pause|PlayPause|Next|Previous|Stop>",
			Short: "Send a transport control action",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return client().MPRISControl(context.Background(), args[0], args[1], args[2])
			},
		},
		&cobra.Command{
			Use:   "volume <device-id> <player> <0.0-1.0>",
			Short: "Set a player's volume",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				var volume float64
				if _, err := fmt.Sscanf(args[2], "%f", &volume); err != nil {
					return fmt.Errorf("invalid volume %q: %w", args[2], err)
				}
				return client().MPRISSetVolume(context.Background(), args[0], args[1], volume)
			},
		},
		&cobra.Command{
			Use:   "seek <device-id> <player> <offset-microseconds>",
			Short: "Seek within the current track",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				var offset int64
				if _, err := fmt.Sscanf(args[2], "%d", &offset); err != nil {
					return fmt.Errorf("invalid offset %q: %w", args[2], err)
				}
				return client().MPRISSeek(context.Background(), args[0], args[1], offset)
			},
		},
	)
	return cmd
}
