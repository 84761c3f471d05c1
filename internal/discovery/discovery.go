// Package discovery implements the UDP identity broadcast/listen plane:
// a broadcaster that announces this device every interval, a listener that
// answers peers directly and reports sightings, and a freshness map whose
// expiry drives Timeout events.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/cosmic-connect/cconnectd/internal/identity"
	"github.com/cosmic-connect/cconnectd/internal/metrics"
	"github.com/cosmic-connect/cconnectd/internal/packet"
)

// DefaultPort is the preferred discovery port; PortRangeStart/End bound the
// fallback range tried if the preferred port is already bound.
const (
	DefaultPort   = 1716
	PortRangeStart = 1714
	PortRangeEnd   = 1764
)

// DefaultBroadcastInterval and DefaultDeviceTimeout match the reference
// implementation's discovery service defaults.
const (
	DefaultBroadcastInterval = 5 * time.Second
	DefaultDeviceTimeout     = 30 * time.Second
)

// EventKind enumerates the events the listener/reaper emit.
type EventKind string

const (
	EventDiscovered EventKind = "discovered"
	EventUpdated    EventKind = "updated"
	EventTimeout    EventKind = "timeout"
)

// Event carries a discovery sighting or expiry to the registry layer.
type Event struct {
	Kind EventKind
	Info identity.Info
	Addr *net.UDPAddr
}

// Service owns the discovery UDP socket and its three cooperative tasks:
// broadcaster, listener, reaper.
type Service struct {
	conn     *net.UDPConn
	boundPort int

	self             func() identity.Info
	broadcastInterval time.Duration
	deviceTimeout     time.Duration

	freshness *ttlcache.Cache[string, identity.Info]
	events    chan Event
}

// Option configures a Service at construction.
type Option func(*Service)

func WithBroadcastInterval(d time.Duration) Option {
	return func(s *Service) { s.broadcastInterval = d }
}

func WithDeviceTimeout(d time.Duration) Option {
	return func(s *Service) { s.deviceTimeout = d }
}

// New binds the discovery socket, trying preferredPort first and falling
// through the fallback range if it's already in use. It does not start any
// of the three tasks; call Run for that.
func New(preferredPort uint16, self func() identity.Info, opts ...Option) (*Service, error) {
	conn, port, err := bindWithFallback(preferredPort)
	if err != nil {
		return nil, fmt.Errorf("bind discovery socket: %w", err)
	}

	s := &Service{
		conn:              conn,
		boundPort:         port,
		self:              self,
		broadcastInterval: DefaultBroadcastInterval,
		deviceTimeout:     DefaultDeviceTimeout,
		events:            make(chan Event, 256),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.freshness = ttlcache.New[string, identity.Info](
		ttlcache.WithTTL[string, identity.Info](s.deviceTimeout),
	)
	s.freshness.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, identity.Info]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		metrics.DiscoveryTimeouts.WithLabelValues(item.Key()).Inc()
		s.emit(Event{Kind: EventTimeout, Info: item.Value()})
	})

	if port != int(preferredPort) {
		slog.Warn("discovery: preferred port unavailable, fell through to fallback range", "preferred", preferredPort, "bound", port)
	} else {
		slog.Info("discovery: bound", "port", port)
	}
	return s, nil
}

func bindWithFallback(preferredPort uint16) (*net.UDPConn, int, error) {
	tryPort := func(port uint16) (*net.UDPConn, error) {
		addr := &net.UDPAddr{IP: net.IPv4zero, Port: int(port)}
		conn, err := net.ListenUDP("udp4", addr)
		if err != nil {
			return nil, err
		}
		if pc := ipv4PacketConn(conn); pc != nil {
			_ = pc.SetControlMessage(0, true)
		}
		return conn, nil
	}

	if conn, err := tryPort(preferredPort); err == nil {
		enableBroadcast(conn)
		return conn, conn.LocalAddr().(*net.UDPAddr).Port, nil
	}

	for port := PortRangeStart; port <= PortRangeEnd; port++ {
		conn, err := tryPort(uint16(port))
		if err == nil {
			enableBroadcast(conn)
			return conn, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no discovery port available in range %d-%d", PortRangeStart, PortRangeEnd)
}

// BoundPort reports the UDP port actually bound, which may differ from the
// preferred port if a fallback was used.
func (s *Service) BoundPort() int { return s.boundPort }

// Events returns the channel of Discovered/Updated/Timeout events.
func (s *Service) Events() <-chan Event { return s.events }

// Run starts the broadcaster, listener, and reaper tasks, blocking until
// ctx is cancelled. It owns the socket for its whole lifetime; callers
// must not read or write the socket directly.
func (s *Service) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go s.runBroadcaster(ctx)
	go func() { errCh <- s.runListener(ctx) }()
	go s.runReaper(ctx)

	select {
	case <-ctx.Done():
		s.conn.Close()
		s.freshness.Stop()
		return nil
	case err := <-errCh:
		s.conn.Close()
		s.freshness.Stop()
		return err
	}
}

func (s *Service) runBroadcaster(ctx context.Context) {
	ticker := time.NewTicker(s.broadcastInterval)
	defer ticker.Stop()

	s.Refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh()
		}
	}
}

// Refresh sends an out-of-cycle broadcast immediately, for a host command
// that wants discovery results sooner than the next scheduled interval.
// Safe to call concurrently with the broadcaster loop: net.UDPConn writes
// are safe for concurrent use.
func (s *Service) Refresh() {
	pkt, err := identityPacket(s.self())
	if err != nil {
		slog.Warn("discovery: failed to build identity packet", "error", err)
		return
	}
	encoded, err := packet.Encode(pkt)
	if err != nil {
		slog.Warn("discovery: failed to encode identity packet", "error", err)
		return
	}
	dest := &net.UDPAddr{IP: net.IPv4bcast, Port: DefaultPort}
	if _, err := s.conn.WriteToUDP(encoded, dest); err != nil {
		slog.Debug("discovery: broadcast send failed", "error", err)
	}
}

func (s *Service) runListener(ctx context.Context) error {
	buf := make([]byte, 64*1024)
	ownID := s.self().DeviceID

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("discovery: transient read error", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		pkt, err := packet.Decode(buf[:n])
		if err != nil || pkt.Type != identity.PacketType {
			continue // not an identity packet; drop silently per the wire contract
		}
		info, err := identity.UnmarshalBody(pkt.Body)
		if err != nil {
			continue
		}
		if info.DeviceID == ownID {
			continue // echo suppression
		}

		existed := s.freshness.Has(info.DeviceID)
		s.freshness.Set(info.DeviceID, info, s.deviceTimeout)

		s.replyDirected(info.DeviceID, addr)

		kind := EventDiscovered
		if existed {
			kind = EventUpdated
		}
		metrics.DevicesDiscovered.WithLabelValues(info.DeviceID).Inc()
		s.emit(Event{Kind: kind, Info: info, Addr: addr})
	}
}

func (s *Service) replyDirected(peerID string, addr *net.UDPAddr) {
	pkt, err := identityPacket(s.self())
	if err != nil {
		return
	}
	encoded, err := packet.Encode(pkt)
	if err != nil {
		return
	}
	if _, err := s.conn.WriteToUDP(encoded, addr); err != nil {
		slog.Debug("discovery: directed reply failed", "peer", peerID, "error", err)
	}
}

// runReaper drives the freshness cache's eviction sweep. ttlcache/v3 does
// not expire entries on its own; Start blocks, running the periodic sweep
// that fires OnEviction (and so EventTimeout) until Stop is called from
// Run's shutdown path.
func (s *Service) runReaper(ctx context.Context) {
	s.freshness.Start()
}

func (s *Service) emit(e Event) {
	select {
	case s.events <- e:
	default:
		slog.Warn("discovery: event channel full, dropping event", "kind", e.Kind)
	}
}

func identityPacket(info identity.Info) (*packet.Packet, error) {
	body, err := info.MarshalBody()
	if err != nil {
		return nil, err
	}
	return &packet.Packet{ID: 0, Type: identity.PacketType, Body: body}, nil
}
