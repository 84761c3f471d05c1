package bulk

import (
	"bytes"
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosmic-connect/cconnectd/internal/certstore"
)

func testCert(t *testing.T) tls.Certificate {
	t.Helper()
	store := certstore.New(t.TempDir())
	cert, err := store.LoadOrGenerate("device_a")
	require.NoError(t, err)
	return cert
}

func TestOfferAcceptRoundTrip(t *testing.T) {
	t.Parallel()
	cert := testCert(t)
	payload := bytes.Repeat([]byte("x"), 4096)

	offer, err := NewOffer(cert, bytes.NewReader(payload), uint64(len(payload)))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serveDone := make(chan error, 1)
	go func() { serveDone <- offer.Serve(ctx) }()

	var dst bytes.Buffer
	n, err := Accept(ctx, "device_b", "127.0.0.1", offer.Port, "", uint64(len(payload)), &dst, "xfer-1", nil,
		func(c *tls.Conn) string { return "" })
	require.NoError(t, err)
	require.Equal(t, uint64(len(payload)), n)
	require.Equal(t, payload, dst.Bytes())

	require.NoError(t, <-serveDone)
}

func TestAcceptRejectsFingerprintMismatch(t *testing.T) {
	t.Parallel()
	cert := testCert(t)
	payload := []byte("hello")

	offer, err := NewOffer(cert, bytes.NewReader(payload), uint64(len(payload)))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go offer.Serve(ctx)

	var dst bytes.Buffer
	_, err = Accept(ctx, "device_b", "127.0.0.1", offer.Port, "expected-fp", uint64(len(payload)), &dst, "xfer-2", nil,
		func(c *tls.Conn) string { return "actual-fp" })
	require.Error(t, err)
}
