//go:build !linux

package discovery

import "net"

// enableBroadcast is a no-op placeholder on non-Linux build targets; the
// socket options this sets are Linux syscalls and the daemon's supported
// deployment target is Linux desktops, matching the reference daemon's own
// //go:build linux scoping.
func enableBroadcast(conn *net.UDPConn) {}
