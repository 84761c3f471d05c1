// Package battery implements the battery-status capability: peers push
// unsolicited charge/charging updates, and either side can pull a fresh
// reading with a request packet. Domain logic (reading the actual host
// battery) is out of scope here; only the wire contract and the
// last-known-reading cache that backs the host IPC GetBatteryStatus
// command are implemented.
package battery

import (
	"sync"

	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

// Kind is the registry key this plugin is registered under.
const Kind = "battery"

// PacketType is the unsolicited push; RequestType pulls a fresh reading.
const (
	PacketType  = "cconnect.battery"
	RequestType = "cconnect.battery.request"
)

// Status is the wire body of a battery push.
type Status struct {
	ChargePercent int  `json:"currentCharge"`
	IsCharging    bool `json:"isCharging"`
	Low           bool `json:"thresholdEvent"`
}

// cache holds the last-known reading per peer device, shared by every
// Handler instance (one per connected device) so the IPC surface can
// answer GetBatteryStatus even when the battery plugin instance for a
// momentarily-disconnected device has already been torn down.
var (
	cacheMu sync.RWMutex
	cache   = make(map[string]Status)
)

// LastStatus returns the most recently received battery status for a
// device, if any has ever arrived.
func LastStatus(deviceID string) (Status, bool) {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	s, ok := cache[deviceID]
	return s, ok
}

// Handler implements plugin.Handler for the battery capability.
type Handler struct {
	device   plugin.Device
	outbound chan<- plugin.Outbound
}

// New is the plugin.Factory for battery.
func New() plugin.Handler { return &Handler{} }

func (h *Handler) Name() string { return Kind }
func (h *Handler) IncomingCapabilities() []string {
	return []string{PacketType, RequestType}
}
func (h *Handler) OutgoingCapabilities() []string {
	return []string{PacketType, RequestType}
}

func (h *Handler) Init(device plugin.Device, outbound chan<- plugin.Outbound) error {
	h.device = device
	h.outbound = outbound
	return nil
}

func (h *Handler) Start() error { return nil }
func (h *Handler) Stop() error  { return nil }

func (h *Handler) HandlePacket(device plugin.Device, p *packet.Packet) error {
	switch p.Type {
	case PacketType:
		status, err := plugin.DecodeBody[Status](p)
		if err != nil {
			return err
		}
		cacheMu.Lock()
		cache[device.ID()] = status
		cacheMu.Unlock()
		return nil
	case RequestType:
		// A pull request from the peer; this daemon has no local battery
		// reading to answer with, so it is acknowledged by silently
		// dropping — there is nothing to push back.
		return nil
	}
	return nil
}
