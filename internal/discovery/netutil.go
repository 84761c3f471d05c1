package discovery

import (
	"net"

	"golang.org/x/net/ipv4"
)

// ipv4PacketConn wraps conn with golang.org/x/net/ipv4's control-message
// API, mirroring the reference liveness transport's packet-conn wrapper.
// It's used here only to reach SetControlMessage; nothing in discovery
// currently needs inbound interface metadata, but wrapping at bind time
// keeps the socket ready for it without restructuring callers later.
func ipv4PacketConn(conn *net.UDPConn) *ipv4.PacketConn {
	return ipv4.NewPacketConn(conn)
}
