package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Trigger an out-of-cycle discovery broadcast",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().RefreshDiscovery(context.Background()); err != nil {
				return err
			}
			fmt.Println("discovery refresh requested; run 'cconnectctl list' shortly to see results")
			return nil
		},
	}
}
