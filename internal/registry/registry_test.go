package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosmic-connect/cconnectd/internal/identity"
)

func newTestInfo(id string) identity.Info {
	return identity.New(id, "Test Device", identity.DeviceDesktop, 1716, nil, nil)
}

func TestAddOrUpdateAndGet(t *testing.T) {
	t.Parallel()
	r := New("")
	d := r.AddOrUpdate(newTestInfo("dev1"))
	require.Equal(t, Unpaired, d.PairingStatus)
	require.Equal(t, Disconnected, d.ConnectionState)

	got, ok := r.Get("dev1")
	require.True(t, ok)
	require.Equal(t, "dev1", got.Info.DeviceID)
}

func TestIsTrustedInvariant(t *testing.T) {
	t.Parallel()
	r := New("")
	r.AddOrUpdate(newTestInfo("dev1"))

	d, _ := r.Get("dev1")
	require.False(t, d.IsTrusted())

	require.NoError(t, r.UpdatePairingStatus("dev1", Paired))
	require.False(t, d.IsTrusted(), "paired without fingerprint must not be trusted")

	require.NoError(t, r.SetCertificateFingerprint("dev1", "abc123"))
	require.True(t, d.IsTrusted())
}

func TestCleanupStalePreservesPairedDevices(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_000_000, 0)
	r := New("", WithClock(func() time.Time { return now }))

	r.AddOrUpdate(newTestInfo("stale-unpaired"))
	r.AddOrUpdate(newTestInfo("stale-paired"))
	require.NoError(t, r.UpdatePairingStatus("stale-paired", Paired))
	r.AddOrUpdate(newTestInfo("fresh"))

	// age every device an hour, past the 30-minute cutoff.
	now = now.Add(time.Hour)
	r.CleanupStale(30 * time.Minute)

	_, ok := r.Get("stale-unpaired")
	require.False(t, ok, "unpaired stale device must be evicted")

	_, ok = r.Get("stale-paired")
	require.True(t, ok, "paired device must survive regardless of staleness")
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.json")

	r := New(path)
	r.AddOrUpdate(newTestInfo("dev1"))
	require.NoError(t, r.Save())

	loaded, err := Load(path)
	require.NoError(t, err)
	d, ok := loaded.Get("dev1")
	require.True(t, ok)
	require.Equal(t, "dev1", d.Info.DeviceID)
}

func TestLoadToleratesMissingFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r, err := Load(filepath.Join(dir, "nope.json"))
	require.NoError(t, err)
	require.Empty(t, r.All())
}

func TestMutateUnknownDeviceErrors(t *testing.T) {
	t.Parallel()
	r := New("")
	require.Error(t, r.MarkConnected("missing", "1.2.3.4", 1716))
}
