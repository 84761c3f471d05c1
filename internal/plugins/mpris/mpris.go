// Package mpris implements the media-player bridge capability: a peer
// requests the list of host media players, their current track and
// playback state, or issues a transport control. Talking to an actual
// MPRIS-compliant player over the session bus is modeled as a narrow
// PlayerSource interface (satisfied by a github.com/godbus/dbus/v5
// session-bus client in the daemon wiring); the player-to-D-Bus protocol
// itself is out of scope here.
package mpris

import (
	"encoding/json"

	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

const Kind = "mpris"

const (
	PacketType        = "cconnect.mpris"
	RequestPacketType = "cconnect.mpris.request"
)

// PlayerState mirrors one org.mpris.MediaPlayer2.Player snapshot.
type PlayerState struct {
	Player       string  `json:"player"`
	IsPlaying    bool    `json:"isPlaying"`
	Title        string  `json:"title,omitempty"`
	Artist       string  `json:"artist,omitempty"`
	Album        string  `json:"album,omitempty"`
	Volume       float64 `json:"volume"`
	Length       int64   `json:"length,omitempty"`
	Position     int64   `json:"pos,omitempty"`
}

// PlayerSource abstracts the host's session-bus media players; the
// daemon wiring implements this over github.com/godbus/dbus/v5 by
// enumerating org.mpris.MediaPlayer2.* bus names.
type PlayerSource interface {
	Players() []string
	State(player string) (PlayerState, bool)
	Control(player, action string) error
	SetVolume(player string, volume float64) error
	Seek(player string, offsetMicros int64) error
}

type requestBody struct {
	RequestPlayerList bool   `json:"requestPlayerList,omitempty"`
	Player            string `json:"player,omitempty"`
	RequestNowPlaying bool   `json:"requestNowPlaying,omitempty"`
	Action            string `json:"action,omitempty"`
	SetVolume         *int   `json:"setVolume,omitempty"`
	Seek              *int64 `json:"Seek,omitempty"`
}

type responseBody struct {
	PlayerList []string      `json:"playerList,omitempty"`
	Player     string        `json:"player,omitempty"`
	State      *PlayerState  `json:"nowPlaying,omitempty"`
}

type Handler struct {
	device   plugin.Device
	outbound chan<- plugin.Outbound
	source   PlayerSource
}

// NewFactory returns a plugin.Factory bound to a PlayerSource.
func NewFactory(source PlayerSource) plugin.Factory {
	return func() plugin.Handler { return &Handler{source: source} }
}

func (h *Handler) Name() string { return Kind }
func (h *Handler) IncomingCapabilities() []string {
	return []string{RequestPacketType}
}
func (h *Handler) OutgoingCapabilities() []string {
	return []string{PacketType}
}

func (h *Handler) Init(device plugin.Device, outbound chan<- plugin.Outbound) error {
	h.device = device
	h.outbound = outbound
	return nil
}

func (h *Handler) Start() error { return nil }
func (h *Handler) Stop() error  { return nil }

func (h *Handler) HandlePacket(device plugin.Device, p *packet.Packet) error {
	req, err := plugin.DecodeBody[requestBody](p)
	if err != nil {
		return err
	}
	if h.source == nil {
		return nil
	}

	switch {
	case req.RequestPlayerList:
		return h.reply(device.ID(), responseBody{PlayerList: h.source.Players()})

	case req.Player != "" && req.RequestNowPlaying:
		state, ok := h.source.State(req.Player)
		if !ok {
			return nil
		}
		return h.reply(device.ID(), responseBody{Player: req.Player, State: &state})

	case req.Player != "" && req.Action != "":
		return h.source.Control(req.Player, req.Action)

	case req.Player != "" && req.SetVolume != nil:
		return h.source.SetVolume(req.Player, float64(*req.SetVolume))

	case req.Player != "" && req.Seek != nil:
		return h.source.Seek(req.Player, *req.Seek)
	}
	return nil
}

func (h *Handler) reply(deviceID string, b responseBody) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	h.outbound <- plugin.Outbound{DeviceID: deviceID, Packet: &packet.Packet{Type: PacketType, Body: raw}}
	return nil
}
