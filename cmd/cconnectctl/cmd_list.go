package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cosmic-connect/cconnectd/internal/cliutil"
	"github.com/cosmic-connect/cconnectd/internal/registry"
)

var listOutput string

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := client().ListDevices(context.Background())
			if err != nil {
				return err
			}
			switch listOutput {
			case "json":
				return json.NewEncoder(os.Stdout).Encode(devices)
			case "yaml":
				return yaml.NewEncoder(os.Stdout).Encode(devices)
			case "", "table":
				t := cliutil.NewTable("DEVICE", "ID", "STATE", "PAIRING", "HOST")
				for _, d := range devices {
					t.Row(d.Info.DeviceName, d.Info.DeviceID, colorState(d.ConnectionState), string(d.PairingStatus), d.Host)
				}
				t.Flush()
				return nil
			default:
				return fmt.Errorf("unknown --output %q: want table, json, or yaml", listOutput)
			}
		},
	}
	cmd.Flags().StringVar(&listOutput, "output", "table", "output format: table, json, or yaml")
	return cmd
}

func colorState(s registry.ConnectionState) string {
	switch s {
	case registry.Connected:
		return cliutil.Green(string(s))
	case registry.Connecting:
		return cliutil.Yellow(string(s))
	case registry.Failed:
		return cliutil.Red(string(s))
	default:
		return string(s)
	}
}
