// Package telephony implements the telephony/SMS capability: a peer
// pushes incoming-call and SMS notifications, and the daemon can ask
// the peer to send an SMS. Rendering a call banner or an SMS thread is
// out of scope; only the wire contract and an outbound SendSMS helper
// are implemented.
package telephony

import (
	"encoding/json"

	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

const Kind = "telephony"

const (
	PacketType    = "cconnect.telephony"
	RequestType   = "cconnect.telephony.request"
	RequestMuteType = "cconnect.telephony.request_mute"
)

// Event is the decoded wire body of a telephony push.
type Event struct {
	Event           string `json:"event"`
	PhoneNumber     string `json:"phoneNumber,omitempty"`
	ContactName     string `json:"contactName,omitempty"`
	MessageBody     string `json:"messageBody,omitempty"`
	IsCancel        bool   `json:"isCancel,omitempty"`
}

type sendSMSBody struct {
	SendSMS     bool   `json:"sendSms"`
	PhoneNumber string `json:"phoneNumber"`
	MessageBody string `json:"messageBody"`
}

// NotifyFunc hands a decoded telephony event to the host; supplied by
// the daemon.
type NotifyFunc func(deviceID string, e Event)

type Handler struct {
	device   plugin.Device
	outbound chan<- plugin.Outbound
	notify   NotifyFunc
}

// NewFactory returns a plugin.Factory for the telephony capability.
func NewFactory(notify NotifyFunc) plugin.Factory {
	return func() plugin.Handler { return &Handler{notify: notify} }
}

func (h *Handler) Name() string                    { return Kind }
func (h *Handler) IncomingCapabilities() []string { return []string{PacketType} }
func (h *Handler) OutgoingCapabilities() []string {
	return []string{RequestType, RequestMuteType}
}

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
	if h.notify != nil {
		h.notify(device.ID(), e)
	}
	return nil
}

// SendSMS asks the peer to send an SMS on our behalf.
func SendSMS(outbound chan<- plugin.Outbound, deviceID, phoneNumber, message string) error {
	raw, err := json.Marshal(sendSMSBody{SendSMS: true, PhoneNumber: phoneNumber, MessageBody: message})
	if err != nil {
		return err
	}
	outbound <- plugin.Outbound{DeviceID: deviceID, Packet: &packet.Packet{Type: RequestType, Body: raw}}
	return nil
}

// RequestMute asks the peer to mute the ringer for the active call.
func RequestMute(outbound chan<- plugin.Outbound, deviceID string) error {
	outbound <- plugin.Outbound{DeviceID: deviceID, Packet: &packet.Packet{Type: RequestMuteType, Body: []byte(`{}`)}}
	return nil
}
