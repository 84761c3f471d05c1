package conn

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosmic-connect/cconnectd/internal/certstore"
	"github.com/cosmic-connect/cconnectd/internal/identity"
	"github.com/cosmic-connect/cconnectd/internal/packet"
)

func mustPort(t *testing.T, addr string) uint16 {
	t.Helper()
	_, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	p, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)
	return uint16(p)
}

func TestManagerDialAcceptHandshake(t *testing.T) {
	t.Parallel()

	storeA := t.TempDir()
	storeB := t.TempDir()
	csA := certstore.New(storeA)
	csB := certstore.New(storeB)
	certA, err := csA.LoadOrGenerate("device_a")
	require.NoError(t, err)
	certB, err := csB.LoadOrGenerate("device_b")
	require.NoError(t, err)

	eventsA := make(chan Event, 8)
	eventsB := make(chan Event, 8)
	packetsB := make(chan *packet.Packet, 8)

	mgrA := New(certA, func() identity.Info {
		return identity.New("device_a", "A", identity.DeviceDesktop, 1716, []string{"cconnect.ping"}, []string{"cconnect.ping"})
	}, func(e Event) { eventsA <- e }, func(string, *packet.Packet) {})

	mgrB := New(certB, func() identity.Info {
		return identity.New("device_b", "B", identity.DevicePhone, 1716, []string{"cconnect.ping"}, []string{"cconnect.ping"})
	}, func(e Event) { eventsB <- e }, func(_ string, p *packet.Packet) { packetsB <- p })

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		raw, err := lis.Accept()
		if err != nil {
			return
		}
		_ = mgrB.Accept(ctx, raw)
	}()

	host, _, err := net.SplitHostPort(lis.Addr().String())
	require.NoError(t, err)
	port := mustPort(t, lis.Addr().String())

	require.NoError(t, mgrA.Dial(ctx, host, port))

	select {
	case e := <-eventsA:
		require.Equal(t, EventConnected, e.Kind)
		require.Equal(t, "device_b", e.DeviceID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected EventConnected on dialer")
	}
	select {
	case e := <-eventsB:
		require.Equal(t, EventConnected, e.Kind)
		require.Equal(t, "device_a", e.DeviceID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected EventConnected on acceptor")
	}

	require.NoError(t, mgrA.Send("device_b", &packet.Packet{Type: "cconnect.ping", Body: []byte(`{}`)}))
	select {
	case p := <-packetsB:
		require.Equal(t, "cconnect.ping", p.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected acceptor to receive the ping packet")
	}

	mgrA.Close("device_b")
	select {
	case e := <-eventsA:
		require.Equal(t, EventDisconnected, e.Kind)
		require.False(t, e.Reconnect)
	case <-time.After(2 * time.Second):
		t.Fatal("expected EventDisconnected after local close")
	}
}

func TestManagerSendUnknownDevice(t *testing.T) {
	t.Parallel()
	storeA := t.TempDir()
	csA := certstore.New(storeA)
	certA, err := csA.LoadOrGenerate("device_a")
	require.NoError(t, err)

	mgr := New(certA, func() identity.Info { return identity.New("device_a", "A", identity.DeviceDesktop, 1716, nil, nil) },
		func(Event) {}, func(string, *packet.Packet) {})

	err = mgr.Send("nope", &packet.Packet{Type: "cconnect.ping", Body: []byte(`{}`)})
	require.Error(t, err)
}

func TestManagerSendQueueFullIsResourceExhausted(t *testing.T) {
	t.Parallel()
	storeA := t.TempDir()
	storeB := t.TempDir()
	csA := certstore.New(storeA)
	csB := certstore.New(storeB)
	certA, err := csA.LoadOrGenerate("device_a")
	require.NoError(t, err)
	certB, err := csB.LoadOrGenerate("device_b")
	require.NoError(t, err)

	mgrA := New(certA, func() identity.Info { return identity.New("device_a", "A", identity.DeviceDesktop, 1716, nil, nil) },
		func(Event) {}, func(string, *packet.Packet) {}, WithQueueDepth(1))
	mgrB := New(certB, func() identity.Info { return identity.New("device_b", "B", identity.DevicePhone, 1716, nil, nil) },
		func(Event) {}, func(string, *packet.Packet) {})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accepted := make(chan struct{})
	go func() {
		raw, err := lis.Accept()
		if err != nil {
			return
		}
		_ = mgrB.Accept(ctx, raw)
		close(accepted)
	}()

	host, _, err := net.SplitHostPort(lis.Addr().String())
	require.NoError(t, err)
	port := mustPort(t, lis.Addr().String())
	require.NoError(t, mgrA.Dial(ctx, host, port))
	<-accepted

	// Fill the depth-1 queue, then overflow it. The writer task may drain
	// the first entry before the second Send races in, so retry briefly
	// until backpressure is observed.
	require.Eventually(t, func() bool {
		_ = mgrA.Send("device_b", &packet.Packet{Type: "cconnect.ping", Body: []byte(`{}`)})
		return mgrA.Send("device_b", &packet.Packet{Type: "cconnect.ping", Body: []byte(`{}`)}) != nil
	}, 2*time.Second, time.Millisecond)
}
