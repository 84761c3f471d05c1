// Package remoteinput implements the pointer/keyboard capability: a peer
// sends relative pointer motion, clicks, scroll deltas, or key events,
// which are handed to the host via InjectFunc. Actually driving the
// host's input stack (uinput, X11, Wayland portals, …) is out of scope.
package remoteinput

import (
	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

const Kind = "remoteinput"
const PacketType = "cconnect.mousepad.request"

// Event is the decoded wire body of a single input packet. Exactly one
// of the pointer/key groups is populated per packet, matching how
// peers send them in practice.
type Event struct {
	DeltaX    float64 `json:"dx,omitempty"`
	DeltaY    float64 `json:"dy,omitempty"`
	ScrollX   float64 `json:"scrollX,omitempty"`
	ScrollY   float64 `json:"scrollY,omitempty"`
	IsSingleClick  bool   `json:"singleclick,omitempty"`
	IsDoubleClick  bool   `json:"doubleclick,omitempty"`
	IsRightClick   bool   `json:"rightclick,omitempty"`
	IsMiddleClick  bool   `json:"middleclick,omitempty"`
	IsScroll       bool   `json:"scroll,omitempty"`
	Key            string `json:"key,omitempty"`
	SpecialKey     int    `json:"specialKey,omitempty"`
	Alt            bool   `json:"alt,omitempty"`
	Ctrl           bool   `json:"ctrl,omitempty"`
	Shift          bool   `json:"shift,omitempty"`
}

// InjectFunc hands a decoded input event to the host input backend;
// supplied by the daemon.
type InjectFunc func(deviceID string, e Event)

type Handler struct {
	device   plugin.Device
	outbound chan<- plugin.Outbound
	inject   InjectFunc
}

// NewFactory returns a plugin.Factory for the remote-input capability.
func NewFactory(inject InjectFunc) plugin.Factory {
	return func() plugin.Handler { return &Handler{inject: inject} }
}

func (h *Handler) Name() string                    { return Kind }
func (h *Handler) IncomingCapabilities() []string { return []string{PacketType} }
func (h *Handler) OutgoingCapabilities() []string { return nil }

func (h *Handler) Init(device plugin.Device, outbound chan<- plugin.Outbound) error {
	h.device = device
	h.outbound = outbound
	return nil
}

func (h *Handler) Start() error { return nil }
func (h *Handler) Stop() error  { return nil }

func (h *Handler) HandlePacket(device plugin.Device, p *packet.Packet) error {
	e, err := plugin.DecodeBody[Event](p)
	if err != nil {
		return err
	}
	if h.inject != nil {
		h.inject(device.ID(), e)
	}
	return nil
}
