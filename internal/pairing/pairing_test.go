package pairing

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/cosmic-connect/cconnectd/internal/identity"
	"github.com/cosmic-connect/cconnectd/internal/registry"
)

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(deviceID, packetType string, body any) error {
	f.sent = append(f.sent, packetType)
	return nil
}

func setup(t *testing.T) (*Service, *registry.Registry, *fakeSender, clockwork.FakeClock) {
	t.Helper()
	reg := registry.New("")
	reg.AddOrUpdate(identity.New("dev1", "Peer", identity.DevicePhone, 1716, nil, nil))
	sender := &fakeSender{}
	clock := clockwork.NewFakeClock()
	svc := New(reg, sender, clock)
	return svc, reg, sender, clock
}

func TestRequestPairToPairedHappyPath(t *testing.T) {
	t.Parallel()
	svc, reg, _, _ := setup(t)

	require.NoError(t, svc.RequestPair("dev1"))
	d, _ := reg.Get("dev1")
	require.Equal(t, registry.RequestedByUs, d.PairingStatus)

	require.NoError(t, svc.HandlePairPacket("dev1", []byte(`{"pair":true}`), "peerfp123"))
	d, _ = reg.Get("dev1")
	require.Equal(t, registry.Paired, d.PairingStatus)
	require.Equal(t, "peerfp123", d.CertificateFingerprint)
	require.True(t, d.IsTrusted())
}

func TestPeerRequestThenAccept(t *testing.T) {
	t.Parallel()
	svc, reg, _, _ := setup(t)

	require.NoError(t, svc.HandlePairPacket("dev1", []byte(`{"pair":true}`), ""))
	d, _ := reg.Get("dev1")
	require.Equal(t, registry.RequestedByPeer, d.PairingStatus)

	require.NoError(t, svc.Accept("dev1", "peerfp"))
	d, _ = reg.Get("dev1")
	require.Equal(t, registry.Paired, d.PairingStatus)
}

func TestRequestedByUsTimesOut(t *testing.T) {
	t.Parallel()
	svc, reg, _, clock := setup(t)

	require.NoError(t, svc.RequestPair("dev1"))
	clock.Advance(RequestTimeout + time.Second)

	require.Eventually(t, func() bool {
		d, _ := reg.Get("dev1")
		return d.PairingStatus == registry.Unpaired
	}, time.Second, time.Millisecond)
}

func TestPairedPeerUnpairsUs(t *testing.T) {
	t.Parallel()
	svc, reg, _, _ := setup(t)
	require.NoError(t, svc.HandlePairPacket("dev1", []byte(`{"pair":true}`), ""))
	require.NoError(t, svc.Accept("dev1", "fp1"))

	require.NoError(t, svc.HandlePairPacket("dev1", []byte(`{"pair":false}`), ""))
	d, _ := reg.Get("dev1")
	require.Equal(t, registry.Unpaired, d.PairingStatus)
	require.Empty(t, d.CertificateFingerprint)
}

func TestVerifyPinnedFingerprintMismatchRejects(t *testing.T) {
	t.Parallel()
	svc, reg, _, _ := setup(t)
	require.NoError(t, svc.HandlePairPacket("dev1", []byte(`{"pair":true}`), ""))
	require.NoError(t, svc.Accept("dev1", "fp-original"))

	err := svc.VerifyPinnedFingerprint("dev1", "fp-different")
	require.Error(t, err)

	d, _ := reg.Get("dev1")
	require.Equal(t, registry.Rejected, d.PairingStatus)
}
