// Package plugin implements the capability dispatch fabric: a static
// registry of plugin kinds, a per-device instance table created at
// connection time, and packet routing by type.
package plugin

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/cosmic-connect/cconnectd/internal/packet"
)

// Outbound is the (device_id, packet) pair a plugin pushes onto the
// fabric's outbound channel, which the connection manager drains into the
// per-device send queue.
type Outbound struct {
	DeviceID string
	Packet   *packet.Packet
}

// Device is the narrow view of a peer a plugin is allowed to touch:
// nothing about connections or sockets, just the id and a way to send.
type Device interface {
	ID() string
}

// Handler is the contract every plugin kind must satisfy. Handlers are
// instantiated once per (device, kind) pair at connection time and torn
// down at disconnection; init precedes start, stop follows both, and no
// handler call follows stop.
type Handler interface {
	Name() string
	IncomingCapabilities() []string
	OutgoingCapabilities() []string
	Init(device Device, outbound chan<- Outbound) error
	Start() error
	Stop() error
	HandlePacket(device Device, p *packet.Packet) error
}

// Factory constructs a fresh Handler instance for one device. Kinds are
// registered as factories, not shared instances, since each device gets
// its own.
type Factory func() Handler

// Fabric holds the static kind registry and the live per-device instance
// table.
type Fabric struct {
	mu        sync.RWMutex
	factories map[string]Factory
	enabled   map[string]bool

	instMu    sync.RWMutex
	instances map[string][]Handler // device id -> handlers, in the order Connect built them

	outbound chan Outbound
}

// New builds an empty Fabric. outboundBuffer sizes the shared outbound
// channel every plugin instance writes into.
func New(outboundBuffer int) *Fabric {
	return &Fabric{
		factories: make(map[string]Factory),
		enabled:   make(map[string]bool),
		instances: make(map[string][]Handler),
		outbound:  make(chan Outbound, outboundBuffer),
	}
}

// Register adds a plugin kind to the process-wide registry. enabled gates
// whether the kind is ever instantiated and whether its capabilities are
// advertised in the identity packet.
func (f *Fabric) Register(kind string, enabled bool, factory Factory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.factories[kind] = factory
	f.enabled[kind] = enabled
}

// SetEnabled toggles a previously-registered kind at runtime; later
// AdvertisedCapabilities and Connect calls see the change, but instances
// already running on existing connections are not torn down, and an
// identity already built from AdvertisedCapabilities is not updated.
func (f *Fabric) SetEnabled(kind string, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled[kind] = enabled
}

// Outbound returns the channel the connection manager should drain into
// each device's send queue.
func (f *Fabric) Outbound() <-chan Outbound { return f.outbound }

// AdvertisedCapabilities computes the union of incoming/outgoing
// capability strings across every enabled plugin kind, for embedding in
// the local identity packet.
func (f *Fabric) AdvertisedCapabilities() (incoming, outgoing []string) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	seenIn := map[string]struct{}{}
	seenOut := map[string]struct{}{}
	for kind, factory := range f.factories {
		if !f.enabled[kind] {
			continue
		}
		h := factory()
		for _, c := range h.IncomingCapabilities() {
			seenIn[c] = struct{}{}
		}
		for _, c := range h.OutgoingCapabilities() {
			seenOut[c] = struct{}{}
		}
	}
	for c := range seenIn {
		incoming = append(incoming, c)
	}
	for c := range seenOut {
		outgoing = append(outgoing, c)
	}
	return incoming, outgoing
}

// Connect instantiates one handler per enabled plugin kind whose
// capability set intersects the peer's advertised capabilities, and calls
// Init then Start on each. Kinds are visited in map iteration order, so
// the order of the resulting handlers is not defined and is not
// registration order.
func (f *Fabric) Connect(device Device, peerCapabilities []string) {
	peerSet := make(map[string]struct{}, len(peerCapabilities))
	for _, c := range peerCapabilities {
		peerSet[c] = struct{}{}
	}

	f.mu.RLock()
	kinds := make([]string, 0, len(f.factories))
	for kind := range f.factories {
		if f.enabled[kind] {
			kinds = append(kinds, kind)
		}
	}
	factories := f.factories
	f.mu.RUnlock()

	var handlers []Handler
	for _, kind := range kinds {
		h := factories[kind]()
		intersects := false
		for _, c := range h.IncomingCapabilities() {
			if _, ok := peerSet[c]; ok {
				intersects = true
				break
			}
		}
		if !intersects {
			for _, c := range h.OutgoingCapabilities() {
				if _, ok := peerSet[c]; ok {
					intersects = true
					break
				}
			}
		}
		if !intersects {
			continue
		}
		if err := h.Init(device, f.outbound); err != nil {
			slog.Warn("plugin init failed", "plugin", h.Name(), "device_id", device.ID(), "error", err)
			continue
		}
		if err := h.Start(); err != nil {
			slog.Warn("plugin start failed", "plugin", h.Name(), "device_id", device.ID(), "error", err)
			continue
		}
		handlers = append(handlers, h)
	}

	f.instMu.Lock()
	f.instances[device.ID()] = handlers
	f.instMu.Unlock()
}

// Disconnect stops and drops every plugin instance for a device.
func (f *Fabric) Disconnect(deviceID string) {
	f.instMu.Lock()
	handlers := f.instances[deviceID]
	delete(f.instances, deviceID)
	f.instMu.Unlock()

	for _, h := range handlers {
		if err := h.Stop(); err != nil {
			slog.Warn("plugin stop failed", "plugin", h.Name(), "device_id", deviceID, "error", err)
		}
	}
}

// Dispatch routes an inbound packet to every plugin instance on the
// receiving device whose incoming capabilities include the packet's type,
// in the order Connect built them (see Connect). A handler returning an error is logged; dispatch
// to the remaining plugins continues — one misbehaving plugin must not
// starve its peers.
func (f *Fabric) Dispatch(device Device, p *packet.Packet) {
	f.instMu.RLock()
	handlers := f.instances[device.ID()]
	f.instMu.RUnlock()

	for _, h := range handlers {
		if !hasCapability(h.IncomingCapabilities(), p.Type) {
			continue
		}
		if err := h.HandlePacket(device, p); err != nil {
			slog.Warn("plugin dispatch error", "plugin", h.Name(), "device_id", device.ID(), "packet_type", p.Type, "error", err)
		}
	}
}

func hasCapability(caps []string, typ string) bool {
	for _, c := range caps {
		if c == typ {
			return true
		}
	}
	return false
}

// DecodeBody is a small convenience for handlers decoding their own
// sub-schema out of a packet body.
func DecodeBody[T any](p *packet.Packet) (T, error) {
	var v T
	err := json.Unmarshal(p.Body, &v)
	return v, err
}
