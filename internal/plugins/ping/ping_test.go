package ping

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

type fakeDevice struct{ id string }

func (f fakeDevice) ID() string { return f.id }

func TestHandlePacketDecodesMessage(t *testing.T) {
	t.Parallel()
	h := New()
	outbound := make(chan plugin.Outbound, 1)
	require.NoError(t, h.Init(fakeDevice{"dev1"}, outbound))
	require.NoError(t, h.Start())

	err := h.HandlePacket(fakeDevice{"dev1"}, &packet.Packet{Type: PacketType, Body: []byte(`{"message":"hi"}`)})
	require.NoError(t, err)
	require.NoError(t, h.Stop())
}

func TestSendEnqueuesOutboundPacket(t *testing.T) {
	t.Parallel()
	outbound := make(chan plugin.Outbound, 1)
	require.NoError(t, Send(outbound, "dev1", "hello"))

	ob := <-outbound
	require.Equal(t, "dev1", ob.DeviceID)
	require.Equal(t, PacketType, ob.Packet.Type)
}
