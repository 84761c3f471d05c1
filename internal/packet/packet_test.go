package packet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	p, err := New(1234, "cconnect.ping", map[string]any{"ok": true})
	require.NoError(t, err)

	encoded, err := Encode(p)
	require.NoError(t, err)
	require.NotContains(t, string(encoded), "\n")

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, p.ID, decoded.ID)
	require.Equal(t, p.Type, decoded.Type)
	require.JSONEq(t, string(p.Body), string(decoded.Body))
}

func TestDecodeRejectsMissingTypeOrBody(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte(`{"id":1,"body":{}}`))
	require.Error(t, err)

	_, err = Decode([]byte(`{"id":1,"type":"cconnect.ping"}`))
	require.Error(t, err)

	_, err = Decode([]byte(`"not an object"`))
	require.Error(t, err)

	_, err = Decode([]byte(`{"id":1,"type":"cconnect.ping","body":"not an object"}`))
	require.Error(t, err)
}

func TestDecodeDefaultsMissingID(t *testing.T) {
	t.Parallel()

	p, err := Decode([]byte(`{"type":"cconnect.ping","body":{}}`))
	require.NoError(t, err)
	require.Equal(t, uint64(0), p.ID)
}

func TestDecodeToleratesUnknownKeys(t *testing.T) {
	t.Parallel()

	p, err := Decode([]byte(`{"id":1,"type":"cconnect.ping","body":{"future":"field"},"somethingNew":42}`))
	require.NoError(t, err)
	require.Equal(t, "cconnect.ping", p.Type)
}

func TestReaderReadsMultiplePackets(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	p1, err := New(1, "cconnect.ping", map[string]any{})
	require.NoError(t, err)
	p2, err := New(2, "cconnect.battery", map[string]any{"currentCharge": 80})
	require.NoError(t, err)
	require.NoError(t, WriteTo(buf, p1))
	require.NoError(t, WriteTo(buf, p2))

	r := NewReader(buf)
	got1, err := r.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, "cconnect.ping", got1.Type)

	got2, err := r.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, "cconnect.battery", got2.Type)
}
