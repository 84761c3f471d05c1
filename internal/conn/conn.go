// Package conn implements the TLS connection manager: dialing and
// accepting mutually-authenticated sessions, per-peer reader/writer tasks
// with a bounded send queue, and the identity exchange that establishes
// (or updates) a device's registry entry in-band.
package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cosmic-connect/cconnectd/internal/cerrors"
	"github.com/cosmic-connect/cconnectd/internal/certstore"
	"github.com/cosmic-connect/cconnectd/internal/identity"
	"github.com/cosmic-connect/cconnectd/internal/metrics"
	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/transport"
)

const (
	// DefaultSendQueueDepth is the bounded queue between a session's
	// writer task and the rest of the system.
	DefaultSendQueueDepth = 1024

	DefaultWriteTimeout       = 10 * time.Second
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultIdentityTimeout    = 5 * time.Second
)

// EventKind enumerates connection lifecycle events.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
)

// Event is published whenever a session's lifecycle changes.
type Event struct {
	Kind          EventKind
	DeviceID      string
	PeerIdentity  identity.Info
	CertFingerprint string
	Reason        string
	Reconnect     bool
}

// PacketHandler is invoked by a session's reader task for every inbound
// packet after the identity exchange, handing off to the plugin fabric.
type PacketHandler func(deviceID string, p *packet.Packet)

// PinChecker verifies a peer's certificate fingerprint against the pinned
// value for a paired device (internal/pairing.Service implements this).
type PinChecker interface {
	VerifyPinnedFingerprint(deviceID, sessionFingerprint string) error
}

// session is one established TLS connection to a peer.
type session struct {
	deviceID string
	tlsConn  *tls.Conn
	sendCh   chan *packet.Packet
	cancel   context.CancelFunc
	done     chan struct{}
}

// Manager owns every live session and the listener accepting inbound
// connections.
type Manager struct {
	cert       tls.Certificate
	self       func() identity.Info
	onEvent    func(Event)
	onPacket   PacketHandler
	pins       PinChecker
	transport  *transport.Selector
	queueDepth int
	writeTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*session
}

// Option configures a Manager at construction.
type Option func(*Manager)

func WithQueueDepth(n int) Option           { return func(m *Manager) { m.queueDepth = n } }
func WithWriteTimeout(d time.Duration) Option { return func(m *Manager) { m.writeTimeout = d } }
func WithPinChecker(p PinChecker) Option    { return func(m *Manager) { m.pins = p } }

// WithTransportSelector overrides the transport used to dial outbound
// sessions. Without this option, Dial falls back to a TCP-only selector,
// matching this daemon's pre-transport-package behavior.
func WithTransportSelector(s *transport.Selector) Option {
	return func(m *Manager) { m.transport = s }
}

// New builds a connection Manager. self returns the local identity to
// exchange on every new session; onEvent/onPacket are the manager's only
// outward calls, keeping it blind to the registry and plugin fabric.
func New(cert tls.Certificate, self func() identity.Info, onEvent func(Event), onPacket PacketHandler, opts ...Option) *Manager {
	m := &Manager{
		cert:         cert,
		self:         self,
		onEvent:      onEvent,
		onPacket:     onPacket,
		queueDepth:   DefaultSendQueueDepth,
		writeTimeout: DefaultWriteTimeout,
		sessions:     make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.transport == nil {
		m.transport = transport.New(transport.OnlyTCP, false, map[transport.Kind]transport.Link{
			transport.TCP: transport.TCPLink{Timeout: DefaultHandshakeTimeout},
		})
	}
	return m
}

func (m *Manager) tlsConfig() *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{m.cert},
		InsecureSkipVerify: true, // pinning replaces PKI chain validation, checked post-handshake in establish()
		ClientAuth:         tls.RequireAnyClientCert,
	}
}

// Dial establishes an outbound TLS session to host:port, retrying the
// single dial attempt with a bounded exponential backoff (distinct from
// the cross-attempt ReconnectionStrategy in internal/recovery).
func (m *Manager) Dial(ctx context.Context, host string, port uint16) error {
	dialCtx, cancel := context.WithTimeout(ctx, DefaultHandshakeTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = DefaultHandshakeTimeout

	var tlsConn *tls.Conn
	op := func() error {
		raw, err := m.transport.Dial(dialCtx, host, port)
		if err != nil {
			return err
		}
		rawConn, ok := raw.(net.Conn)
		if !ok {
			return fmt.Errorf("transport link returned %T, want net.Conn", raw)
		}
		tlsConn = tls.Client(rawConn, m.tlsConfig())
		return tlsConn.HandshakeContext(dialCtx)
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, dialCtx)); err != nil {
		metrics.ConnectionAttempts.WithLabelValues("tcp", "failure").Inc()
		return cerrors.Recoverable("failed to connect to peer", err)
	}
	metrics.ConnectionAttempts.WithLabelValues("tcp", "success").Inc()
	return m.establish(ctx, tlsConn)
}

// Accept wraps an already-accepted raw TCP connection with TLS and
// performs the identity exchange. Callers (the listener loop) hand off a
// fresh net.Conn per inbound connection.
func (m *Manager) Accept(ctx context.Context, raw net.Conn) error {
	tlsConn := tls.Server(raw, m.tlsConfig())
	hsCtx, cancel := context.WithTimeout(ctx, DefaultHandshakeTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		raw.Close()
		return cerrors.Recoverable("inbound TLS handshake failed", err)
	}
	return m.establish(ctx, tlsConn)
}

func (m *Manager) establish(ctx context.Context, tlsConn *tls.Conn) error {
	idCtx, cancel := context.WithTimeout(ctx, DefaultIdentityTimeout)
	defer cancel()

	ourIdentity := m.self()
	ourPacket, err := identityPacket(ourIdentity)
	if err != nil {
		tlsConn.Close()
		return err
	}

	var theirInfo identity.Info
	errCh := make(chan error, 2)
	go func() {
		errCh <- packet.WriteTo(tlsConn, ourPacket)
	}()
	go func() {
		reader := packet.NewReader(tlsConn)
		p, err := reader.ReadPacket()
		if err != nil {
			errCh <- err
			return
		}
		if p.Type != identity.PacketType {
			errCh <- cerrors.Protocol("expected identity packet first", nil)
			return
		}
		theirInfo, err = identity.UnmarshalBody(p.Body)
		errCh <- err
	}()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				tlsConn.Close()
				return fmt.Errorf("identity exchange: %w", err)
			}
		case <-idCtx.Done():
			tlsConn.Close()
			return cerrors.Recoverable("identity exchange timed out", idCtx.Err())
		}
	}

	if theirInfo.ProtocolVersion != identity.ProtocolVersion {
		slog.Warn("conn: peer protocol version differs", "device_id", theirInfo.DeviceID,
			"peer_version", theirInfo.ProtocolVersion, "local_version", identity.ProtocolVersion)
	}

	fp := peerFingerprint(tlsConn)
	if m.pins != nil {
		if err := m.pins.VerifyPinnedFingerprint(theirInfo.DeviceID, fp); err != nil {
			tlsConn.Close()
			return err
		}
	}

	sess := &session{
		deviceID: theirInfo.DeviceID,
		tlsConn:  tlsConn,
		sendCh:   make(chan *packet.Packet, m.queueDepth),
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	sess.done = make(chan struct{})

	m.mu.Lock()
	m.sessions[theirInfo.DeviceID] = sess
	m.mu.Unlock()
	metrics.ConnectionsActive.Inc()

	m.onEvent(Event{Kind: EventConnected, DeviceID: theirInfo.DeviceID, PeerIdentity: theirInfo, CertFingerprint: fp})

	go m.readerTask(sessCtx, sess)
	go m.writerTask(sessCtx, sess)
	return nil
}

func (m *Manager) readerTask(ctx context.Context, sess *session) {
	defer m.teardown(sess, true, "peer closed or read error")

	reader := packet.NewReader(sess.tlsConn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p, err := reader.ReadPacket()
		if err != nil {
			return
		}
		metrics.PacketsDispatched.WithLabelValues(p.Type).Inc()
		m.onPacket(sess.deviceID, p)
	}
}

func (m *Manager) writerTask(ctx context.Context, sess *session) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-sess.sendCh:
			if err := sess.tlsConn.SetWriteDeadline(time.Now().Add(m.writeTimeout)); err != nil {
				m.teardown(sess, false, "set write deadline failed")
				return
			}
			if err := packet.WriteTo(sess.tlsConn, p); err != nil {
				m.teardown(sess, true, "write failed")
				return
			}
		}
	}
}

// Send enqueues a packet for the given device's writer task. Queue
// overflow returns ResourceExhausted rather than blocking indefinitely, so
// a stuck peer never stalls the caller.
func (m *Manager) Send(deviceID string, p *packet.Packet) error {
	m.mu.RLock()
	sess, ok := m.sessions[deviceID]
	m.mu.RUnlock()
	if !ok {
		return cerrors.New(cerrors.KindUserAction, "no active session for device", cerrors.ErrUnknownDevice)
	}
	select {
	case sess.sendCh <- p:
		return nil
	default:
		return cerrors.ResourceExhausted("send queue full", cerrors.ErrResourceExhausted)
	}
}

// PeerHost returns the remote address (host only, no port) of a
// currently connected device, for plugins that need to dial a
// side-channel against the same peer (bulk transfers, notification
// icons). Reports false if the device has no live session.
func (m *Manager) PeerHost(deviceID string) (string, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[deviceID]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}
	host, _, err := net.SplitHostPort(sess.tlsConn.RemoteAddr().String())
	if err != nil {
		return "", false
	}
	return host, true
}

// PeerFingerprint returns the certificate fingerprint presented by a
// currently connected device's live TLS session.
func (m *Manager) PeerFingerprint(deviceID string) (string, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[deviceID]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}
	return peerFingerprint(sess.tlsConn), true
}

// Close tears down a session by device id, without scheduling a
// reconnect.
func (m *Manager) Close(deviceID string) {
	m.mu.RLock()
	sess, ok := m.sessions[deviceID]
	m.mu.RUnlock()
	if ok {
		m.teardown(sess, false, "local close")
	}
}

func (m *Manager) teardown(sess *session, reconnect bool, reason string) {
	m.mu.Lock()
	if current, ok := m.sessions[sess.deviceID]; !ok || current != sess {
		m.mu.Unlock()
		return // already torn down by a concurrent path
	}
	delete(m.sessions, sess.deviceID)
	m.mu.Unlock()

	sess.cancel()
	sess.tlsConn.Close()
	metrics.ConnectionsActive.Dec()
	m.onEvent(Event{Kind: EventDisconnected, DeviceID: sess.deviceID, Reason: reason, Reconnect: reconnect})
}

func identityPacket(info identity.Info) (*packet.Packet, error) {
	body, err := info.MarshalBody()
	if err != nil {
		return nil, err
	}
	return &packet.Packet{Type: identity.PacketType, Body: body}, nil
}

func peerFingerprint(tlsConn *tls.Conn) string {
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return ""
	}
	return certstore.Fingerprint(state.PeerCertificates[0])
}

// ListenAndServe accepts inbound TCP connections on addr and hands each one
// to Accept, logging (not crashing) on a per-connection failure so one bad
// peer doesn't bring down the listener.
func (m *Manager) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		raw, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept connection: %w", err)
		}
		go func() {
			if err := m.Accept(ctx, raw); err != nil {
				slog.Warn("inbound session establishment failed", "error", err)
			}
		}()
	}
}
