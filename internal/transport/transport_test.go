package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubLink struct {
	kind Kind
	err  error
}

func (s stubLink) Kind() Kind { return s.kind }
func (s stubLink) Dial(ctx context.Context, host string, port uint16) (any, error) {
	if s.err != nil {
		return nil, s.err
	}
	return "connected-via-" + string(s.kind), nil
}

func TestDialPrefersPrimaryWhenItSucceeds(t *testing.T) {
	t.Parallel()
	sel := New(PreferTCP, true, map[Kind]Link{
		TCP:       stubLink{kind: TCP},
		Bluetooth: stubLink{kind: Bluetooth},
	})
	conn, err := sel.Dial(context.Background(), "host", 1716)
	require.NoError(t, err)
	require.Equal(t, "connected-via-tcp", conn)
}

func TestDialFallsBackWhenEnabled(t *testing.T) {
	t.Parallel()
	sel := New(TCPFirst, true, map[Kind]Link{
		TCP:       stubLink{kind: TCP, err: errors.New("refused")},
		Bluetooth: stubLink{kind: Bluetooth},
	})
	conn, err := sel.Dial(context.Background(), "host", 1716)
	require.NoError(t, err)
	require.Equal(t, "connected-via-bluetooth", conn)
}

func TestOnlyPreferenceDisablesFallback(t *testing.T) {
	t.Parallel()
	sel := New(OnlyTCP, true, map[Kind]Link{
		TCP:       stubLink{kind: TCP, err: errors.New("refused")},
		Bluetooth: stubLink{kind: Bluetooth},
	})
	_, err := sel.Dial(context.Background(), "host", 1716)
	require.Error(t, err)
}

func TestBluetoothLinkReportsUnsupported(t *testing.T) {
	t.Parallel()
	_, err := BluetoothLink{}.Dial(context.Background(), "host", 1716)
	require.Error(t, err)
}
