package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newBatteryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "battery <device-id>",
		Short: "Show a device's last reported battery status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := client().Battery(context.Background(), args[0])
			if err != nil {
				return err
			}
			charging := ""
			if status.IsCharging {
				charging = " (charging)"
			}
			low := ""
			if status.Low {
				low = " [low]"
			}
			fmt.Printf("%d%%%s%s\n", status.ChargePercent, charging, low)
			return nil
		},
	}
}
