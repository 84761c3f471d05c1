// Package transport selects which concrete link (TCP/TLS or Bluetooth
// RFCOMM) owns a device's session, and applies the configured fallback
// policy when the preferred transport fails.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cosmic-connect/cconnectd/internal/cerrors"
)

// Kind names a concrete transport.
type Kind string

const (
	TCP       Kind = "tcp"
	Bluetooth Kind = "bluetooth"
)

// Preference enumerates the selector policies from the original protocol's
// transport manager: which transport wins when a device could be reached
// over either, and whether the non-preferred one is used as a fallback.
type Preference int

const (
	PreferTCP Preference = iota
	PreferBluetooth
	TCPFirst
	BluetoothFirst
	OnlyTCP
	OnlyBluetooth
)

// AllowsFallback reports whether the preference permits trying the
// secondary transport after the primary fails. Only(...) preferences never
// fall back.
func (p Preference) AllowsFallback() bool {
	switch p {
	case OnlyTCP, OnlyBluetooth:
		return false
	default:
		return true
	}
}

// primary returns the transport this preference tries first.
func (p Preference) primary() Kind {
	switch p {
	case PreferBluetooth, BluetoothFirst, OnlyBluetooth:
		return Bluetooth
	default:
		return TCP
	}
}

func (p Preference) secondary() Kind {
	if p.primary() == TCP {
		return Bluetooth
	}
	return TCP
}

// Link is a concrete transport's connection-establishment contract. TCP
// and Bluetooth both implement it; the selector is blind to the
// difference once it has a Link in hand.
type Link interface {
	Kind() Kind
	Dial(ctx context.Context, host string, port uint16) (any, error)
}

// Selector picks a Link according to Preference and, when AutoFallback is
// enabled, retries on the secondary transport whenever the primary returns
// an error; errors are not classified before falling back.
type Selector struct {
	Preference   Preference
	AutoFallback bool
	links        map[Kind]Link
}

// New builds a Selector over the given links (by Kind), for example
// {TCP: tcpLink} when Bluetooth is disabled in config.
func New(pref Preference, autoFallback bool, links map[Kind]Link) *Selector {
	return &Selector{Preference: pref, AutoFallback: autoFallback, links: links}
}

// Dial establishes a connection using the preferred transport, falling
// back to the secondary one if AutoFallback and the preference both allow
// it and the primary attempt fails.
func (s *Selector) Dial(ctx context.Context, host string, port uint16) (any, error) {
	primary := s.Preference.primary()
	link, ok := s.links[primary]
	if !ok {
		return nil, fmt.Errorf("transport %s not enabled", primary)
	}
	conn, err := link.Dial(ctx, host, port)
	if err == nil {
		return conn, nil
	}
	if !s.AutoFallback || !s.Preference.AllowsFallback() {
		return nil, err
	}

	secondary := s.Preference.secondary()
	fallbackLink, ok := s.links[secondary]
	if !ok {
		return nil, err
	}
	conn, fallbackErr := fallbackLink.Dial(ctx, host, port)
	if fallbackErr != nil {
		return nil, fmt.Errorf("primary transport %s failed (%w), fallback transport %s also failed: %v", primary, err, secondary, fallbackErr)
	}
	return conn, nil
}

// TCPLink dials a raw TCP connection; the conn.Manager wraps the result
// in TLS itself, since the TLS config and handshake are the connection
// manager's concern, not the transport's.
type TCPLink struct {
	Timeout time.Duration
}

func (TCPLink) Kind() Kind { return TCP }

func (l TCPLink) Dial(ctx context.Context, host string, port uint16) (any, error) {
	d := &net.Dialer{Timeout: l.Timeout}
	return d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
}

// BluetoothLink is a policy-conformant stub: RFCOMM channel negotiation
// and L2CAP specifics are out of scope, so every dial attempt reports
// ErrBluetoothUnsupported rather than silently succeeding or panicking.
type BluetoothLink struct{}

func (BluetoothLink) Kind() Kind { return Bluetooth }

func (BluetoothLink) Dial(ctx context.Context, host string, port uint16) (any, error) {
	return nil, cerrors.UserAction("bluetooth transport is not available on this build", cerrors.ErrBluetoothUnsupported)
}
