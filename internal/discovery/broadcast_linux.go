//go:build linux

package discovery

import (
	"log/slog"
	"net"

	"golang.org/x/sys/unix"
)

// enableBroadcast sets SO_BROADCAST and SO_REUSEADDR on the discovery
// socket so multiple daemons can coexist across the bind/fallback range
// and the broadcaster is permitted to send to 255.255.255.255.
func enableBroadcast(conn *net.UDPConn) {
	raw, err := conn.SyscallConn()
	if err != nil {
		slog.Warn("discovery: could not access raw socket to set broadcast options", "error", err)
		return
	}
	ctrlErr := raw.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
			slog.Warn("discovery: SO_BROADCAST failed", "error", err)
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			slog.Warn("discovery: SO_REUSEADDR failed", "error", err)
		}
	})
	if ctrlErr != nil {
		slog.Warn("discovery: raw socket control failed", "error", ctrlErr)
	}
}
