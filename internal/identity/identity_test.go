package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	t.Parallel()

	info := New("device_a", "Alice's Desk", DeviceDesktop, 1716,
		[]string{"cconnect.ping"}, []string{"cconnect.ping", "cconnect.battery"})

	body, err := info.MarshalBody()
	require.NoError(t, err)

	got, err := UnmarshalBody(body)
	require.NoError(t, err)
	require.Equal(t, info.DeviceID, got.DeviceID)
	require.Equal(t, info.DeviceName, got.DeviceName)
	require.ElementsMatch(t, info.OutgoingCapabilities, got.OutgoingCapabilities)
}

func TestMissingOutgoingCapabilitiesDefaultsEmpty(t *testing.T) {
	t.Parallel()

	body := []byte(`{"deviceId":"d1","deviceName":"Phone","protocolVersion":7,"deviceType":"phone","tcpPort":1716,"incomingCapabilities":["cconnect.ping"]}`)
	got, err := UnmarshalBody(body)
	require.NoError(t, err)
	require.Empty(t, got.OutgoingCapabilities)
}

func TestNameOutOfRangeBoundaries(t *testing.T) {
	t.Parallel()

	require.False(t, New("d", "a", DeviceDesktop, 0, nil, nil).NameOutOfRange())
	require.False(t, New("d", string(make([]rune, 32)), DeviceDesktop, 0, nil, nil).NameOutOfRange())
	require.True(t, New("d", "", DeviceDesktop, 0, nil, nil).NameOutOfRange())
	require.True(t, New("d", string(make([]rune, 33)), DeviceDesktop, 0, nil, nil).NameOutOfRange())
}

func TestNewDeviceIDUsesUnderscores(t *testing.T) {
	t.Parallel()
	id := NewDeviceID()
	require.NotContains(t, id, "-")
	require.Len(t, id, 36)
}
