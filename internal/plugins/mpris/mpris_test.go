package mpris

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

type fakeDevice struct{ id string }

func (f fakeDevice) ID() string { return f.id }

type fakeSource struct {
	players   []string
	states    map[string]PlayerState
	controls  []string
	volumes   map[string]float64
}

func (f *fakeSource) Players() []string { return f.players }
func (f *fakeSource) State(player string) (PlayerState, bool) {
	s, ok := f.states[player]
	return s, ok
}
func (f *fakeSource) Control(player, action string) error {
	f.controls = append(f.controls, player+":"+action)
	return nil
}
func (f *fakeSource) SetVolume(player string, volume float64) error {
	if f.volumes == nil {
		f.volumes = map[string]float64{}
	}
	f.volumes[player] = volume
	return nil
}
func (f *fakeSource) Seek(player string, offsetMicros int64) error { return nil }

func TestHandlePacketPlayerListRequest(t *testing.T) {
	source := &fakeSource{players: []string{"vlc", "spotify"}}
	factory := NewFactory(source)
	h := factory()
	outbound := make(chan plugin.Outbound, 1)
	require.NoError(t, h.Init(fakeDevice{"dev1"}, outbound))

	err := h.HandlePacket(fakeDevice{"dev1"}, &packet.Packet{
		Type: RequestPacketType,
		Body: []byte(`{"requestPlayerList":true}`),
	})
	require.NoError(t, err)

	ob := <-outbound
	require.Equal(t, PacketType, ob.Packet.Type)
}

func TestHandlePacketControlAction(t *testing.T) {
	source := &fakeSource{}
	factory := NewFactory(source)
	h := factory()
	require.NoError(t, h.Init(fakeDevice{"dev1"}, make(chan plugin.Outbound, 1)))

	err := h.HandlePacket(fakeDevice{"dev1"}, &packet.Packet{
		Type: RequestPacketType,
		Body: []byte(`{"player":"vlc","action":"Pause"}`),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"vlc:Pause"}, source.controls)
}

func TestHandlePacketSetVolume(t *testing.T) {
	source := &fakeSource{}
	factory := NewFactory(source)
	h := factory()
	require.NoError(t, h.Init(fakeDevice{"dev1"}, make(chan plugin.Outbound, 1)))

	err := h.HandlePacket(fakeDevice{"dev1"}, &packet.Packet{
		Type: RequestPacketType,
		Body: []byte(`{"player":"vlc","setVolume":50}`),
	})
	require.NoError(t, err)
	require.Equal(t, 50.0, source.volumes["vlc"])
}
