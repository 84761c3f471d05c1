package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosmic-connect/cconnectd/internal/identity"
	"github.com/cosmic-connect/cconnectd/internal/packet"
)

func selfInfo(id string) identity.Info {
	return identity.New(id, "Test", identity.DeviceDesktop, 1716, nil, nil)
}

func sendIdentity(t *testing.T, to *net.UDPAddr, info identity.Info) {
	t.Helper()
	body, err := info.MarshalBody()
	require.NoError(t, err)
	pkt := &packet.Packet{Type: identity.PacketType, Body: body}
	encoded, err := packet.Encode(pkt)
	require.NoError(t, err)

	conn, err := net.DialUDP("udp4", nil, to)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(encoded)
	require.NoError(t, err)
}

func TestEchoSuppression(t *testing.T) {
	t.Parallel()
	svc, err := New(0, func() identity.Info { return selfInfo("device_a") })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: svc.BoundPort()}
	sendIdentity(t, addr, selfInfo("device_a"))

	select {
	case ev := <-svc.Events():
		t.Fatalf("expected no event for our own identity, got %+v", ev)
	case <-time.After(300 * time.Millisecond):
		// no event arrived, as expected
	}
}

func TestPeerDiscoveredEmitsEvent(t *testing.T) {
	t.Parallel()
	svc, err := New(0, func() identity.Info { return selfInfo("device_a") })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: svc.BoundPort()}
	sendIdentity(t, addr, selfInfo("device_b"))

	select {
	case ev := <-svc.Events():
		require.Equal(t, EventDiscovered, ev.Kind)
		require.Equal(t, "device_b", ev.Info.DeviceID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a Discovered event for device_b")
	}
}
