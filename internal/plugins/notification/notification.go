// Package notification implements the notification-forwarding capability:
// a peer pushes an application notification, optionally with a PNG icon
// carried over the bulk side-channel, which is resized to fit within
// MaxIconDimension preserving aspect ratio and handed to the host via
// ShowFunc. Dismiss requests from either side are also modeled.
package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log/slog"

	"golang.org/x/image/draw"

	"github.com/cosmic-connect/cconnectd/internal/bulk"
	"github.com/cosmic-connect/cconnectd/internal/certstore"
	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

const Kind = "notification"

const (
	PacketType  = "cconnect.notification"
	RequestType = "cconnect.notification.request"
)

// MaxIconDimension bounds the resized icon's longest side.
const MaxIconDimension = 256

type body struct {
	ID          string `json:"id"`
	AppName     string `json:"appName"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	IsClearable bool   `json:"isClearable,omitempty"`
	IsCancel    bool   `json:"isCancel,omitempty"`
}

// Notification is the host-facing representation of a received
// notification, with its icon decoded and resized if one was attached.
type Notification struct {
	DeviceID string
	ID       string
	AppName  string
	Title    string
	Text     string
	Icon     image.Image
}

// ShowFunc hands a decoded notification to the host shell; supplied by
// the daemon since rendering a notification popup is outside this
// package's scope.
type ShowFunc func(Notification)

// DismissFunc is invoked when the peer cancels a previously shown
// notification.
type DismissFunc func(deviceID, id string)

// Dialer resolves the peer address and pinned fingerprint needed to pull
// an icon over the bulk side-channel; satisfied by conn.Manager.
type Dialer interface {
	PeerHost(deviceID string) (string, bool)
	PeerFingerprint(deviceID string) (string, bool)
}

type Handler struct {
	device   plugin.Device
	outbound chan<- plugin.Outbound
	dialer   Dialer
	show     ShowFunc
	dismiss  DismissFunc
}

// NewFactory returns a plugin.Factory for the notification capability.
func NewFactory(dialer Dialer, show ShowFunc, dismiss DismissFunc) plugin.Factory {
	return func() plugin.Handler {
		return &Handler{dialer: dialer, show: show, dismiss: dismiss}
	}
}

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
	b, err := plugin.DecodeBody[body](p)
	if err != nil {
		return err
	}

	if b.IsCancel {
		if h.dismiss != nil {
			h.dismiss(device.ID(), b.ID)
		}
		return nil
	}

	n := Notification{DeviceID: device.ID(), ID: b.ID, AppName: b.AppName, Title: b.Title, Text: b.Text}

	if !p.HasBulkPayload() {
		if h.show != nil {
			h.show(n)
		}
		return nil
	}

	// The icon arrives over the bulk side-channel; fetching it is
	// best-effort and must not drop the notification text on failure.
	go func() {
		icon, err := h.fetchIcon(device.ID(), p)
		if err != nil {
			slog.Warn("notification: icon fetch failed", "device_id", device.ID(), "error", err)
		} else {
			n.Icon = icon
		}
		if h.show != nil {
			h.show(n)
		}
	}()
	return nil
}

func (h *Handler) fetchIcon(deviceID string, p *packet.Packet) (image.Image, error) {
	if h.dialer == nil {
		return nil, fmt.Errorf("no dialer configured for bulk icon fetch")
	}
	host, ok := h.dialer.PeerHost(deviceID)
	if !ok {
		return nil, fmt.Errorf("no known address for peer %s", deviceID)
	}
	expectedFP, _ := h.dialer.PeerFingerprint(deviceID)

	var buf bytes.Buffer
	_, err := bulk.Accept(context.Background(), deviceID, host, p.PayloadTransferInfo.Port,
		expectedFP, *p.PayloadSize, &buf, fmt.Sprintf("%s:notification-icon", deviceID), nil, fingerprintOf)
	if err != nil {
		return nil, err
	}
	return ResizeIcon(buf.Bytes())
}

func fingerprintOf(conn *tls.Conn) string {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return ""
	}
	return certstore.Fingerprint(state.PeerCertificates[0])
}

// ResizeIcon decodes a PNG icon and scales it to fit within
// MaxIconDimension on its longest side, preserving aspect ratio. Images
// already within bounds are returned as decoded.
func ResizeIcon(raw []byte) (image.Image, error) {
	src, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("notification: decode icon: %w", err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= MaxIconDimension && h <= MaxIconDimension {
		return src, nil
	}

	scale := float64(MaxIconDimension) / float64(w)
	if float64(h) > float64(w) {
		scale = float64(MaxIconDimension) / float64(h)
	}
	newW := maxInt(1, int(float64(w)*scale))
	newH := maxInt(1, int(float64(h)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Send forwards a locally raised notification to a peer, for the host
// command surface's SendNotification call.
func Send(outbound chan<- plugin.Outbound, deviceID, id, appName, title, text string) error {
	raw, err := json.Marshal(body{ID: id, AppName: appName, Title: title, Text: text})
	if err != nil {
		return err
	}
	outbound <- plugin.Outbound{DeviceID: deviceID, Packet: &packet.Packet{Type: PacketType, Body: raw}}
	return nil
}

// SendDismiss pushes a cancel for a previously shown notification.
func SendDismiss(outbound chan<- plugin.Outbound, deviceID, id string) error {
	raw, err := json.Marshal(body{ID: id, IsCancel: true})
	if err != nil {
		return err
	}
	outbound <- plugin.Outbound{DeviceID: deviceID, Packet: &packet.Packet{Type: PacketType, Body: raw}}
	return nil
}

// SendRequest asks the peer to resend its currently active notifications.
func SendRequest(outbound chan<- plugin.Outbound, deviceID string) error {
	outbound <- plugin.Outbound{DeviceID: deviceID, Packet: &packet.Packet{Type: RequestType, Body: []byte(`{}`)}}
	return nil
}
