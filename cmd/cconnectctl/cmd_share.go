package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newShareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share",
		Short: "Share a file or text with a device",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "file <device-id> <path>",
			Short: "Offer a file for transfer",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := client().ShareFile(context.Background(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Println("file offer sent")
				return nil
			},
		},
		&cobra.Command{
			Use:   "text <device-id> <text>",
			Short: "Share a text snippet",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := client().ShareText(context.Background(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Println("text shared")
				return nil
			},
		},
	)
	return cmd
}
