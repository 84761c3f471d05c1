package clipboard

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

type fakeDevice struct{ id string }

func (f fakeDevice) ID() string { return f.id }

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "clipboard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHandlePacketUpdatesHostAndHistory(t *testing.T) {
	store := openTestStore(t)
	var applied string
	factory := NewFactory(store, func(content string) { applied = content })
	h := factory()
	require.NoError(t, h.Init(fakeDevice{"dev1"}, make(chan plugin.Outbound, 1)))

	err := h.HandlePacket(fakeDevice{"dev1"}, &packet.Packet{
		Type: PacketType,
		Body: []byte(`{"content":"copied text"}`),
	})
	require.NoError(t, err)
	require.Equal(t, "copied text", applied)

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "copied text", entries[0].Content)
	require.Equal(t, "dev1", entries[0].DeviceID)
}

func TestSendAndSendOnConnectUsesDistinctTypes(t *testing.T) {
	outbound := make(chan plugin.Outbound, 2)
	require.NoError(t, Send(outbound, "dev1", "a"))
	require.NoError(t, SendOnConnect(outbound, "dev1", "b"))

	first := <-outbound
	second := <-outbound
	require.Equal(t, PacketType, first.Packet.Type)
	require.Equal(t, ConnectType, second.Packet.Type)
}
