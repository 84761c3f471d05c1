// Command cconnectctl is the local control client for cconnectd: it talks
// to the daemon's unix-socket command surface to list and pair devices,
// send pings and notifications, share files and text, and stream events.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cosmic-connect/cconnectd/internal/ipc"
)

var sockFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "cconnectctl",
	Short:         "Control client for cconnectd",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `cconnectctl talks to a running cconnectd over its unix domain socket.

  cconnectctl list                          # show known devices
  cconnectctl pair <device-id>               # request pairing
  cconnectctl ping <device-id> "hello"        # send a ping
  cconnectctl share file <device-id> <path>   # offer a file
  cconnectctl notify <device-id> <title> <body>
  cconnectctl events                          # stream live events`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&sockFile, "sock-file", "s", defaultSockFile(), "path to the daemon's command socket")

	rootCmd.AddCommand(
		newListCmd(),
		newPairCmd(),
		newAcceptCmd(),
		newRejectCmd(),
		newUnpairCmd(),
		newPingCmd(),
		newShareCmd(),
		newNotifyCmd(),
		newBatteryCmd(),
		newMPRISCmd(),
		newDiscoverCmd(),
		newEventsCmd(),
	)
}

func client() *ipc.Client {
	return ipc.NewClient(sockFile)
}

func defaultSockFile() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return runtimeDir + "/cconnectd.sock"
	}
	return "/var/run/cconnectd/cconnectd.sock"
}
