// Package registry holds the in-memory, disk-backed map of known peer
// devices: the single place connection state, pairing state, and
// certificate pins live for each device id.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cosmic-connect/cconnectd/internal/identity"
)

// ConnectionState mirrors the per-device session lifecycle.
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	Failed       ConnectionState = "failed"
)

// PairingStatus mirrors the pairing FSM's externally visible state.
type PairingStatus string

const (
	Unpaired        PairingStatus = "unpaired"
	RequestedByUs   PairingStatus = "requested_by_us"
	RequestedByPeer PairingStatus = "requested_by_peer"
	Paired          PairingStatus = "paired"
	Rejected        PairingStatus = "rejected"
)

// Device is the mutable peer record: DeviceInfo plus everything the
// connection and pairing layers need to track about it.
type Device struct {
	Info identity.Info `json:"info"`

	ConnectionState        ConnectionState `json:"connectionState"`
	PairingStatus          PairingStatus   `json:"pairingStatus"`
	CertificateFingerprint string          `json:"certificateFingerprint,omitempty"`

	LastSeen      int64  `json:"lastSeen"`
	LastConnected *int64 `json:"lastConnected,omitempty"`
	Host          string `json:"host,omitempty"`
	Port          uint16 `json:"port,omitempty"`
}

// IsTrusted holds exactly when the device is paired and has a pinned
// certificate fingerprint from a prior successful session.
func (d *Device) IsTrusted() bool {
	return d.PairingStatus == Paired && d.CertificateFingerprint != ""
}

// clock lets tests control "now" without sleeping. Daemon wiring sets this
// to a real clock; it defaults to time.Now.
type clock func() time.Time

// Registry is the persistent map of known peers, guarded by a read/write
// lock: reads (status queries, listing) dominate over writes (a field
// update or map insert on a discovery/connection/pairing event).
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	path    string
	now     clock
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New builds an empty registry persisting to path (path may be empty to
// disable persistence, useful in tests).
func New(path string, opts ...Option) *Registry {
	r := &Registry{
		devices: make(map[string]*Device),
		path:    path,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load reads the registry's backing file, tolerating a missing file by
// returning an empty registry rather than an error.
func Load(path string, opts ...Option) (*Registry, error) {
	r := New(path, opts...)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read device registry: %w", err)
	}
	var devices map[string]*Device
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("parse device registry: %w", err)
	}
	r.devices = devices
	return r, nil
}

// Save writes the full map as pretty JSON, atomically (write-temp then
// rename), so a crash mid-write never corrupts the on-disk registry.
func (r *Registry) Save() error {
	if r.path == "" {
		return nil
	}
	r.mu.RLock()
	data, err := json.MarshalIndent(r.devices, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal device registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".devices-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp registry file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp registry file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("rename registry file into place: %w", err)
	}
	return nil
}

// AddOrUpdate inserts a new device or merges discovery/identity data into
// an existing one, bumping LastSeen to now either way.
func (r *Registry) AddOrUpdate(info identity.Info) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[info.DeviceID]
	if !ok {
		d = &Device{
			Info:            info,
			ConnectionState: Disconnected,
			PairingStatus:   Unpaired,
		}
		r.devices[info.DeviceID] = d
	} else {
		d.Info = info
	}
	d.LastSeen = r.now().Unix()
	return d
}

// Get returns the device with the given id, if known.
func (r *Registry) Get(id string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// Remove deletes a device from the registry outright.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, id)
}

// MarkConnecting transitions a device into Connecting with the given
// target address.
func (r *Registry) MarkConnecting(id, host string, port uint16) error {
	return r.mutate(id, func(d *Device) {
		d.ConnectionState = Connecting
		d.Host = host
		d.Port = port
	})
}

// MarkConnected transitions a device into Connected, recording when.
func (r *Registry) MarkConnected(id, host string, port uint16) error {
	return r.mutate(id, func(d *Device) {
		d.ConnectionState = Connected
		d.Host = host
		d.Port = port
		now := r.now().Unix()
		d.LastConnected = &now
	})
}

// MarkDisconnected transitions a device into Disconnected.
func (r *Registry) MarkDisconnected(id string) error {
	return r.mutate(id, func(d *Device) {
		d.ConnectionState = Disconnected
	})
}

// UpdatePairingStatus sets a device's pairing status.
func (r *Registry) UpdatePairingStatus(id string, status PairingStatus) error {
	return r.mutate(id, func(d *Device) {
		d.PairingStatus = status
	})
}

// SetCertificateFingerprint pins (or clears, if fp is empty) a device's
// leaf-certificate fingerprint.
func (r *Registry) SetCertificateFingerprint(id, fp string) error {
	return r.mutate(id, func(d *Device) {
		d.CertificateFingerprint = fp
	})
}

func (r *Registry) mutate(id string, fn func(*Device)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("mutate device %s: %w", id, errUnknownDevice)
	}
	fn(d)
	d.LastSeen = r.now().Unix()
	return nil
}

var errUnknownDevice = fmt.Errorf("unknown device")

// Connected returns every device currently in the Connected state.
func (r *Registry) Connected() []*Device { return r.filter(func(d *Device) bool { return d.ConnectionState == Connected }) }

// Paired returns every paired device.
func (r *Registry) Paired() []*Device { return r.filter(func(d *Device) bool { return d.PairingStatus == Paired }) }

// Trusted returns every device that IsTrusted().
func (r *Registry) Trusted() []*Device { return r.filter(func(d *Device) bool { return d.IsTrusted() }) }

// All returns every known device.
func (r *Registry) All() []*Device { return r.filter(func(*Device) bool { return true }) }

func (r *Registry) filter(pred func(*Device) bool) []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		if pred(d) {
			out = append(out, d)
		}
	}
	return out
}

// CleanupStale removes every device that is not paired and whose last-seen
// timestamp is older than maxAge. Paired devices are never evicted
// regardless of staleness.
func (r *Registry) CleanupStale(maxAge time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxAge).Unix()
	for id, d := range r.devices {
		if d.PairingStatus == Paired {
			continue
		}
		if d.LastSeen < cutoff {
			delete(r.devices, id)
		}
	}
}
