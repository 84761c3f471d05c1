package battery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

type fakeDevice struct{ id string }

func (f fakeDevice) ID() string { return f.id }

func TestHandlePacketCachesLatestStatus(t *testing.T) {
	h := New()
	outbound := make(chan plugin.Outbound, 1)
	require.NoError(t, h.Init(fakeDevice{"dev-battery"}, outbound))

	err := h.HandlePacket(fakeDevice{"dev-battery"}, &packet.Packet{
		Type: PacketType,
		Body: []byte(`{"currentCharge":42,"isCharging":true,"thresholdEvent":false}`),
	})
	require.NoError(t, err)

	status, ok := LastStatus("dev-battery")
	require.True(t, ok)
	require.Equal(t, 42, status.ChargePercent)
	require.True(t, status.IsCharging)
	require.False(t, status.Low)
}

func TestHandlePacketRequestIsNoOp(t *testing.T) {
	h := New()
	outbound := make(chan plugin.Outbound, 1)
	require.NoError(t, h.Init(fakeDevice{"dev-req"}, outbound))

	err := h.HandlePacket(fakeDevice{"dev-req"}, &packet.Packet{Type: RequestType})
	require.NoError(t, err)
	require.Empty(t, outbound)
}

func TestLastStatusUnknownDevice(t *testing.T) {
	_, ok := LastStatus("never-seen")
	require.False(t, ok)
}
