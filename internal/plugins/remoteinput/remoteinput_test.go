package remoteinput

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

type fakeDevice struct{ id string }

func (f fakeDevice) ID() string { return f.id }

func TestHandlePacketInvokesInjectWithDecodedEvent(t *testing.T) {
	var got Event
	var gotID string
	factory := NewFactory(func(deviceID string, e Event) { gotID = deviceID; got = e })
	h := factory()
	require.NoError(t, h.Init(fakeDevice{"dev1"}, make(chan plugin.Outbound, 1)))

	err := h.HandlePacket(fakeDevice{"dev1"}, &packet.Packet{
		Type: PacketType,
		Body: []byte(`{"dx":1.5,"dy":-2,"singleclick":true}`),
	})
	require.NoError(t, err)
	require.Equal(t, "dev1", gotID)
	require.Equal(t, 1.5, got.DeltaX)
	require.Equal(t, -2.0, got.DeltaY)
	require.True(t, got.IsSingleClick)
}

func TestOutgoingCapabilitiesEmpty(t *testing.T) {
	h := &Handler{}
	require.Empty(t, h.OutgoingCapabilities())
}
