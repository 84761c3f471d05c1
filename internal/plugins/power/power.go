// Package power implements the lock capability: a peer requests the host
// lock or unlock its session, or asks for its current lock state; suspend
// is not handled. Invoking the host session
// manager (org.freedesktop.login1 over the system bus, in the daemon's
// github.com/godbus/dbus/v5 wiring) is abstracted behind SessionManager;
// this package only speaks the wire contract.
package power

import (
	"encoding/json"

	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

const Kind = "power"
const PacketType = "cconnect.lock"

type body struct {
	IsLocked  *bool `json:"isLocked,omitempty"`
	RequestSet bool `json:"request,omitempty"`
}

// SessionManager abstracts the host session/power manager; the daemon
// wiring implements this over org.freedesktop.login1.
type SessionManager interface {
	IsLocked() (bool, error)
	Lock() error
	Unlock() error
}

type Handler struct {
	device   plugin.Device
	outbound chan<- plugin.Outbound
	manager  SessionManager
}

// NewFactory returns a plugin.Factory bound to a SessionManager.
func NewFactory(manager SessionManager) plugin.Factory {
	return func() plugin.Handler { return &Handler{manager: manager} }
}

func (h *Handler) Name() string                    { return Kind }
func (h *Handler) IncomingCapabilities() []string { return []string{PacketType} }
func (h *Handler) OutgoingCapabilities() []string { return []string{PacketType} }

func (h *Handler) Init(device plugin.Device, outbound chan<- plugin.Outbound) error {
	h.device = device
	h.outbound = outbound
	return nil
}

func (h *Handler) Start() error { return nil }
func (h *Handler) Stop() error  { return nil }

func (h *Handler) HandlePacket(device plugin.Device, p *packet.Packet) error {
	b, err := plugin.DecodeBody[body](p)
	if err != nil {
		return err
	}
	if h.manager == nil {
		return nil
	}

	if b.RequestSet {
		locked, err := h.manager.IsLocked()
		if err != nil {
			return err
		}
		return h.replyLockState(device.ID(), locked)
	}

	if b.IsLocked == nil {
		return nil
	}
	if *b.IsLocked {
		return h.manager.Lock()
	}
	return h.manager.Unlock()
}

func (h *Handler) replyLockState(deviceID string, locked bool) error {
	raw, err := json.Marshal(body{IsLocked: &locked})
	if err != nil {
		return err
	}
	h.outbound <- plugin.Outbound{DeviceID: deviceID, Packet: &packet.Packet{Type: PacketType, Body: raw}}
	return nil
}
