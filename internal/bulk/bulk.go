// Package bulk implements the out-of-band TLS side-channel used for file
// share payloads and notification images. The side-channel is a
// second TCP+TLS connection per transfer, announced inline in the
// originating packet's payloadSize/payloadTransferInfo fields and never
// interleaved with the main session's framed JSON.
package bulk

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/cosmic-connect/cconnectd/internal/cerrors"
	"github.com/cosmic-connect/cconnectd/internal/metrics"
	"github.com/cosmic-connect/cconnectd/internal/recovery"
)

// PortRangeStart and PortRangeEnd bound the ephemeral listener range a
// sender picks from when offering a transfer.
const (
	PortRangeStart = 1739
	PortRangeEnd   = 1764
)

// AcceptTimeout bounds how long a sender's listener waits for the single
// peer connection it expects before giving up and reporting failure.
const AcceptTimeout = 30 * time.Second

// TransferInfo mirrors the payloadTransferInfo wire object: the port the
// sender's side-channel listener bound.
type TransferInfo struct {
	Port uint16 `json:"port"`
}

// Offer is a one-shot TLS listener in the transfer port range that streams
// src's bytes to whichever peer connects first, then closes. Port is the
// bound port to embed in the main-channel packet's payloadTransferInfo;
// the caller runs Serve in its own goroutine after sending that packet.
type Offer struct {
	Port   uint16
	cert   tls.Certificate
	lis    net.Listener
	src    io.Reader
	size   uint64
}

// NewOffer binds an ephemeral TLS listener in PortRangeStart..PortRangeEnd
// and returns an Offer ready to Serve. size is advertised to the peer as
// payloadSize; the caller is responsible for sending the main-channel
// packet with Offer.Port before (or concurrently with) calling Serve.
func NewOffer(cert tls.Certificate, src io.Reader, size uint64) (*Offer, error) {
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	for port := PortRangeStart; port <= PortRangeEnd; port++ {
		lis, err := tls.Listen("tcp", fmt.Sprintf(":%d", port), cfg)
		if err != nil {
			continue
		}
		return &Offer{Port: uint16(port), cert: cert, lis: lis, src: src, size: size}, nil
	}
	return nil, cerrors.ResourceExhausted("no bulk transfer port available", cerrors.ErrResourceExhausted)
}

// Serve accepts exactly one peer connection, streams every byte of src to
// it, then closes both the connection and the listener. It blocks until
// that single transfer completes, fails, or ctx is cancelled.
func (o *Offer) Serve(ctx context.Context) error {
	defer o.lis.Close()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := o.lis.Accept()
		acceptCh <- acceptResult{conn, err}
	}()

	var conn net.Conn
	select {
	case r := <-acceptCh:
		if r.err != nil {
			return fmt.Errorf("bulk offer accept: %w", r.err)
		}
		conn = r.conn
	case <-time.After(AcceptTimeout):
		return cerrors.Recoverable("bulk offer timed out waiting for peer", nil)
	case <-ctx.Done():
		return ctx.Err()
	}
	defer conn.Close()

	n, err := io.Copy(conn, io.LimitReader(o.src, int64(o.size)))
	if err != nil {
		metrics.ResourceRejections.WithLabelValues("bulk_offer_io_error").Inc()
		return fmt.Errorf("bulk offer stream: %w", err)
	}
	if uint64(n) != o.size {
		return cerrors.Protocol(fmt.Sprintf("bulk offer streamed %d of %d advertised bytes", n, o.size), nil)
	}
	return nil
}

// Accept dials a peer's advertised side-channel, verifying its certificate
// fingerprint against the pinned value from the paired session, then reads
// exactly size bytes into dst; a stream that ends early is an error. No
// resume offset is taken: dst receives the stream from its first byte.
// transfers, when non-nil, gets one UpdateProgress call with the byte
// count once the copy ends or fails; Accept does not register the
// transfer there, so that call fails unless the caller registered it.
func Accept(ctx context.Context, deviceID, host string, port uint16, expectedFingerprint string, size uint64, dst io.Writer, transferID string, transfers *recovery.TransferStore, fingerprintOf func(*tls.Conn) string) (uint64, error) {
	dialer := &tls.Dialer{Config: &tls.Config{InsecureSkipVerify: true}}
	rawConn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return 0, cerrors.Recoverable("dial bulk side-channel", err)
	}
	tlsConn, ok := rawConn.(*tls.Conn)
	if !ok {
		rawConn.Close()
		return 0, cerrors.Internal("bulk dialer returned non-TLS connection", nil)
	}
	defer tlsConn.Close()

	if fp := fingerprintOf(tlsConn); expectedFingerprint != "" && fp != expectedFingerprint {
		return 0, cerrors.New(cerrors.KindUserAction, "bulk side-channel certificate fingerprint mismatch", cerrors.ErrCertificateValidation)
	}

	written, err := io.CopyN(dst, tlsConn, int64(size))
	if err != nil {
		if transfers != nil {
			if uerr := transfers.UpdateProgress(transferID, uint64(written)); uerr != nil {
				slog.Warn("bulk: failed to persist partial transfer progress", "transfer", transferID, "error", uerr)
			}
		}
		metrics.ResourceRejections.WithLabelValues("bulk_accept_io_error").Inc()
		return uint64(written), fmt.Errorf("bulk accept read: %w", err)
	}
	if transfers != nil {
		if uerr := transfers.UpdateProgress(transferID, uint64(written)); uerr != nil {
			slog.Warn("bulk: failed to persist completed transfer progress", "transfer", transferID, "error", uerr)
		}
	}
	metrics.TransferBytesReceived.WithLabelValues(deviceID).Add(float64(written))
	return uint64(written), nil
}
