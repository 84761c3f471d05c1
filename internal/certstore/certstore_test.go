package certstore

import (
	"crypto/x509"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrGenerateCreatesAndPersists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := New(dir)

	cert, err := store.LoadOrGenerate("device_a")
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)

	info, err := filepath.Glob(filepath.Join(dir, "device.key"))
	require.NoError(t, err)
	require.Len(t, info, 1)

	reloaded, err := store.LoadOrGenerate("device_a")
	require.NoError(t, err)
	require.Equal(t, cert.Certificate[0], reloaded.Certificate[0], "second call must reuse the persisted cert, not regenerate")
}

func TestFingerprintIsStableForSameCert(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := New(dir)
	cert, err := store.LoadOrGenerate("device_a")
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)

	fp1 := Fingerprint(leaf)
	fp2 := Fingerprint(leaf)
	require.Equal(t, fp1, fp2)
	require.Len(t, fp1, 64)
}
