package recovery

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestTransferIsCompleteAndProgress(t *testing.T) {
	t.Parallel()

	tr := &TransferState{TotalSize: 1000, BytesReceived: 400}
	require.False(t, tr.IsComplete())
	require.InDelta(t, 40.0, tr.ProgressPercentage(), 0.001)

	tr.BytesReceived = 1000
	require.True(t, tr.IsComplete())

	zeroSize := &TransferState{TotalSize: 0, BytesReceived: 0}
	require.Equal(t, float64(0), zeroSize.ProgressPercentage())
}

func TestTransferStorePersistsAndRestores(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "recovery_state.json")
	clock := clockwork.NewFakeClock()

	store := NewTransferStore(path, clock)
	require.NoError(t, store.RegisterTransfer(&TransferState{
		TransferID: "t1", DeviceID: "d1", Filename: "photo.jpg", TotalSize: 1_000_000,
	}))
	require.NoError(t, store.UpdateProgress("t1", 400_000))

	restored := NewTransferStore(path, clock)
	require.NoError(t, restored.Init())

	got, ok := restored.Get("t1")
	require.True(t, ok)
	require.Equal(t, uint64(400_000), got.BytesReceived)
}

func TestCleanupOldTransfers(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	store := NewTransferStore("", clock)
	require.NoError(t, store.RegisterTransfer(&TransferState{TransferID: "old", TotalSize: 10}))

	clock.Advance(25 * time.Hour)
	require.NoError(t, store.CleanupOldTransfers())

	_, ok := store.Get("old")
	require.False(t, ok)
}
