package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping <device-id> [message]",
		Short: "Send a ping to a device",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := ""
			if len(args) == 2 {
				message = args[1]
			}
			if err := client().Ping(context.Background(), args[0], message); err != nil {
				return err
			}
			fmt.Println("ping sent")
			return nil
		},
	}
}
