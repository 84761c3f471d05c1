// Package remotedesktop implements the remote-desktop capability: a
// request packet spawns a VNC-style sub-session gated by a generated
// one-time password, announced back to the peer over the main session.
// Actually speaking the VNC protocol and encoding frames is out of
// scope; this package only manages the sub-session's lifecycle and OTP.
package remotedesktop

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

const Kind = "remotedesktop"

const (
	RequestType = "cconnect.remotedesktop.request"
	PacketType  = "cconnect.remotedesktop"
)

type requestBody struct {
	Start bool `json:"start"`
	Stop  bool `json:"stop"`
}

type announceBody struct {
	Port     int    `json:"port"`
	Password string `json:"password"`
}

// Session describes a running VNC-style sub-session.
type Session struct {
	DeviceID string
	Port     int
	Password string
}

// SpawnFunc starts the actual VNC-style server process/goroutine and
// returns the port it bound; supplied by the daemon, since speaking the
// display protocol is out of scope here.
type SpawnFunc func(deviceID, password string) (port int, err error)

// StopFunc tears down a previously spawned session.
type StopFunc func(deviceID string)

// otpLength is the number of random bytes used to derive the one-time
// password; base32-encoded, this yields a 16-character password.
const otpLength = 10

func generateOTP() (string, error) {
	buf := make([]byte, otpLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("remotedesktop: generate otp: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

type Handler struct {
	device   plugin.Device
	outbound chan<- plugin.Outbound
	spawn    SpawnFunc
	stop     StopFunc

	mu      sync.Mutex
	session *Session
}

// NewFactory returns a plugin.Factory for the remote-desktop capability.
func NewFactory(spawn SpawnFunc, stop StopFunc) plugin.Factory {
	return func() plugin.Handler { return &Handler{spawn: spawn, stop: stop} }
}

func (h *Handler) Name() string                    { return Kind }
func (h *Handler) IncomingCapabilities() []string { return []string{RequestType} }
func (h *Handler) OutgoingCapabilities() []string { return []string{PacketType} }

func (h *Handler) Init(device plugin.Device, outbound chan<- plugin.Outbound) error {
	h.device = device
	h.outbound = outbound
	return nil
}

func (h *Handler) Start() error { return nil }

func (h *Handler) Stop() error {
	h.mu.Lock()
	active := h.session
	h.session = nil
	h.mu.Unlock()

	if active != nil && h.stop != nil {
		h.stop(active.DeviceID)
	}
	return nil
}

func (h *Handler) HandlePacket(device plugin.Device, p *packet.Packet) error {
	req, err := plugin.DecodeBody[requestBody](p)
	if err != nil {
		return err
	}

	if req.Stop {
		h.mu.Lock()
		h.session = nil
		h.mu.Unlock()
		if h.stop != nil {
			h.stop(device.ID())
		}
		return nil
	}

	if !req.Start {
		return nil
	}
	if h.spawn == nil {
		return fmt.Errorf("remotedesktop: no spawn backend configured")
	}

	password, err := generateOTP()
	if err != nil {
		return err
	}
	port, err := h.spawn(device.ID(), password)
	if err != nil {
		return fmt.Errorf("remotedesktop: spawn session: %w", err)
	}

	h.mu.Lock()
	h.session = &Session{DeviceID: device.ID(), Port: port, Password: password}
	h.mu.Unlock()

	raw, err := json.Marshal(announceBody{Port: port, Password: password})
	if err != nil {
		return err
	}
	h.outbound <- plugin.Outbound{DeviceID: device.ID(), Packet: &packet.Packet{Type: PacketType, Body: raw}}
	return nil
}
