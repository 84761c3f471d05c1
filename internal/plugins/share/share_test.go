package share

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosmic-connect/cconnectd/internal/certstore"
	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type fakeDevice struct{ id string }

func (f fakeDevice) ID() string { return f.id }

type fakeDialer struct {
	host string
	fp   string
}

func (d fakeDialer) PeerHost(string) (string, bool)        { return d.host, true }
func (d fakeDialer) PeerFingerprint(string) (string, bool) { return d.fp, true }

func TestHandlePacketTextShareInvokesCallback(t *testing.T) {
	var got Received
	h := &Handler{destDir: t.TempDir(), onReceive: func(r Received) { got = r }}
	require.NoError(t, h.Init(fakeDevice{"dev1"}, make(chan plugin.Outbound, 1)))

	err := h.HandlePacket(fakeDevice{"dev1"}, &packet.Packet{
		Type: PacketType,
		Body: []byte(`{"text":"hello there"}`),
	})
	require.NoError(t, err)
	require.Equal(t, "hello there", got.Text)
	require.Equal(t, "dev1", got.DeviceID)
}

func TestHandlePacketFileShareReceivesOverSideChannel(t *testing.T) {
	store := certstore.New(t.TempDir())
	cert, err := store.LoadOrGenerate("sender")
	require.NoError(t, err)

	outbound := make(chan plugin.Outbound, 1)
	offer, err := OfferFile(outbound, "receiver", writeTempFile(t, "payload-bytes"), cert)
	require.NoError(t, err)

	go offer.Serve(testContext(t))

	announce := <-outbound

	received := make(chan Received, 1)
	h := &Handler{
		destDir:   t.TempDir(),
		dialer:    fakeDialer{host: "127.0.0.1"},
		onReceive: func(r Received) { received <- r },
	}
	require.NoError(t, h.Init(fakeDevice{"sender"}, make(chan plugin.Outbound, 1)))

	require.NoError(t, h.HandlePacket(fakeDevice{"sender"}, announce.Packet))

	select {
	case r := <-received:
		require.Equal(t, "sender", r.DeviceID)
		require.NotEmpty(t, r.FilePath)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for share receive callback")
	}
}

func TestSendTextEnqueuesPacket(t *testing.T) {
	outbound := make(chan plugin.Outbound, 1)
	require.NoError(t, SendText(outbound, "dev1", "hi"))
	ob := <-outbound
	require.Equal(t, PacketType, ob.Packet.Type)
}
