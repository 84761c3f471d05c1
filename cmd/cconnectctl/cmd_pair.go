package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newPairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair <device-id>",
		Short: "Request pairing with a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().Pair(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Println("pair request sent")
			return nil
		},
	}
}

func newAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <device-id>",
		Short: "Accept a pending incoming pair request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().AcceptPair(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Println("paired")
			return nil
		},
	}
}

func newRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <device-id>",
		Short: "Reject a pending incoming pair request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().RejectPair(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Println("rejected")
			return nil
		},
	}
}

func newUnpairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpair <device-id>",
		Short: "Unpair a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().Unpair(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Println("unpaired")
			return nil
		},
	}
}
