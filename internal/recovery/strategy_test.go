package recovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReconnectionStrategyDefaultSequence(t *testing.T) {
	t.Parallel()
	s := NewReconnectionStrategy()

	var got []uint32
	for {
		d, ok := s.NextDelay()
		if !ok {
			break
		}
		got = append(got, d)
	}
	require.Equal(t, []uint32{2, 4, 8, 16, 32}, got)
	require.False(t, s.HasAttemptsRemaining())
}

func TestReconnectionStrategyResetRestoresFirstDelay(t *testing.T) {
	t.Parallel()
	s := NewReconnectionStrategy()
	s.NextDelay()
	s.NextDelay()
	s.Reset()

	d, ok := s.NextDelay()
	require.True(t, ok)
	require.Equal(t, uint32(2), d)
	require.Equal(t, uint32(1), s.Attempt)
}
