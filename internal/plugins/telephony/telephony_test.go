package telephony

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

type fakeDevice struct{ id string }

func (f fakeDevice) ID() string { return f.id }

func TestHandlePacketNotifiesIncomingSMS(t *testing.T) {
	var got Event
	factory := NewFactory(func(deviceID string, e Event) { got = e })
	h := factory()
	require.NoError(t, h.Init(fakeDevice{"dev1"}, make(chan plugin.Outbound, 1)))

	err := h.HandlePacket(fakeDevice{"dev1"}, &packet.Packet{
		Type: PacketType,
		Body: []byte(`{"event":"sms","phoneNumber":"+1555","messageBody":"hi"}`),
	})
	require.NoError(t, err)
	require.Equal(t, "sms", got.Event)
	require.Equal(t, "hi", got.MessageBody)
}

func TestSendSMSEnqueuesRequest(t *testing.T) {
	outbound := make(chan plugin.Outbound, 1)
	require.NoError(t, SendSMS(outbound, "dev1", "+1555", "hello"))
	ob := <-outbound
	require.Equal(t, RequestType, ob.Packet.Type)
}
