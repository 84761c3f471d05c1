package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var notifyApp string

func newNotifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify <device-id> <title> <body>",
		Short: "Push a notification to a device",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().Notify(context.Background(), args[0], notifyApp, args[1], args[2]); err != nil {
				return err
			}
			fmt.Println("notification sent")
			return nil
		},
	}
	cmd.Flags().StringVar(&notifyApp, "app", "cconnectctl", "app name reported to the peer")
	return cmd
}
