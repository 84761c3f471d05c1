// Package ping implements the simplest plugin kind: a one-way liveness
// probe with no response contract, used by users (pairing UIs send a
// ping to confirm a pair "worked").
package ping

import (
	"encoding/json"
	"log/slog"

	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

// PacketType is the single packet type ping speaks.
const PacketType = "cconnect.ping"

// Kind is the registry key this plugin is registered under.
const Kind = "ping"

type body struct {
	Message string `json:"message,omitempty"`
}

// Handler implements plugin.Handler for the ping capability.
type Handler struct {
	device   plugin.Device
	outbound chan<- plugin.Outbound
}

// New is the plugin.Factory for ping.
func New() plugin.Handler { return &Handler{} }

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
	slog.Info("ping: received", "device_id", device.ID(), "message", b.Message)
	return nil
}

// Send pushes a ping packet (with an optional message) to the given device
// through the outbound channel, for the daemon's IPC SendPing command.
func Send(outbound chan<- plugin.Outbound, deviceID, message string) error {
	raw, err := json.Marshal(body{Message: message})
	if err != nil {
		return err
	}
	outbound <- plugin.Outbound{DeviceID: deviceID, Packet: &packet.Packet{Type: PacketType, Body: raw}}
	return nil
}
