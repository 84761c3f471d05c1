package remotedesktop

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

type fakeDevice struct{ id string }

func (f fakeDevice) ID() string { return f.id }

func TestHandlePacketStartSpawnsSessionAndAnnounces(t *testing.T) {
	spawned := make(chan string, 1)
	factory := NewFactory(
		func(deviceID, password string) (int, error) { spawned <- password; return 5901, nil },
		func(deviceID string) {},
	)
	h := factory()
	outbound := make(chan plugin.Outbound, 1)
	require.NoError(t, h.Init(fakeDevice{"dev1"}, outbound))

	err := h.HandlePacket(fakeDevice{"dev1"}, &packet.Packet{Type: RequestType, Body: []byte(`{"start":true}`)})
	require.NoError(t, err)

	password := <-spawned
	require.NotEmpty(t, password)

	ob := <-outbound
	require.Equal(t, PacketType, ob.Packet.Type)
}

func TestHandlePacketStopTearsDownSession(t *testing.T) {
	stopped := make(chan string, 1)
	factory := NewFactory(
		func(deviceID, password string) (int, error) { return 5901, nil },
		func(deviceID string) { stopped <- deviceID },
	)
	h := factory()
	require.NoError(t, h.Init(fakeDevice{"dev1"}, make(chan plugin.Outbound, 1)))
	require.NoError(t, h.HandlePacket(fakeDevice{"dev1"}, &packet.Packet{Type: RequestType, Body: []byte(`{"start":true}`)}))

	err := h.HandlePacket(fakeDevice{"dev1"}, &packet.Packet{Type: RequestType, Body: []byte(`{"stop":true}`)})
	require.NoError(t, err)
	require.Equal(t, "dev1", <-stopped)
}

func TestGenerateOTPIsUnique(t *testing.T) {
	a, err := generateOTP()
	require.NoError(t, err)
	b, err := generateOTP()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
