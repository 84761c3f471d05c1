// Package share implements the file/text share capability: a packet
// announces a text payload inline or a file payload out-of-band via the
// bulk side-channel (internal/bulk). The destination directory and what
// happens to a received file afterward are host concerns and out of
// scope here — this package only speaks the wire contract and exposes
// received transfers to the daemon through a callback.
package share

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cosmic-connect/cconnectd/internal/bulk"
	"github.com/cosmic-connect/cconnectd/internal/certstore"
	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
	"github.com/cosmic-connect/cconnectd/internal/recovery"
)

const Kind = "share"
const PacketType = "cconnect.share"

type body struct {
	FileName      string `json:"filename,omitempty"`
	Text          string `json:"text,omitempty"`
	NumberOfFiles int    `json:"numberOfFiles,omitempty"`
}

// Received is delivered to the host once a share transfer (text or
// file) has been fully applied.
type Received struct {
	DeviceID string
	Text     string
	FilePath string
}

// Dialer abstracts the host address a bulk side-channel dial targets;
// satisfied by conn.Manager in the daemon wiring.
type Dialer interface {
	PeerHost(deviceID string) (string, bool)
	PeerFingerprint(deviceID string) (string, bool)
}

type Handler struct {
	device    plugin.Device
	outbound  chan<- plugin.Outbound
	dialer    Dialer
	destDir   string
	transfers *recovery.TransferStore
	onReceive func(Received)
}

type Option func(*Handler)

func WithDestDir(dir string) Option { return func(h *Handler) { h.destDir = dir } }
func WithTransferStore(s *recovery.TransferStore) Option {
	return func(h *Handler) { h.transfers = s }
}
func WithReceiveCallback(fn func(Received)) Option { return func(h *Handler) { h.onReceive = fn } }

// NewFactory returns a plugin.Factory bound to a dialer and options,
// for registration with the plugin fabric.
func NewFactory(dialer Dialer, opts ...Option) plugin.Factory {
	return func() plugin.Handler {
		h := &Handler{dialer: dialer, destDir: os.TempDir()}
		for _, opt := range opts {
			opt(h)
		}
		return h
	}
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

	if !p.HasBulkPayload() {
		if b.Text != "" && h.onReceive != nil {
			h.onReceive(Received{DeviceID: device.ID(), Text: b.Text})
		}
		return nil
	}

	host, ok := h.dialer.PeerHost(device.ID())
	if !ok {
		return fmt.Errorf("share: no known address for peer %s", device.ID())
	}
	expectedFP, _ := h.dialer.PeerFingerprint(device.ID())

	name := b.FileName
	if name == "" {
		name = uuid.NewString()
	}
	dest := filepath.Join(h.destDir, filepath.Base(name))
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("share: create destination file: %w", err)
	}

	transferID := fmt.Sprintf("%s:%s", device.ID(), name)
	size := *p.PayloadSize
	port := p.PayloadTransferInfo.Port
	go func() {
		defer f.Close()
		n, err := bulk.Accept(context.Background(), device.ID(), host, port,
			expectedFP, size, f, transferID, h.transfers, fingerprintOf)
		if err != nil {
			slog.Warn("share: bulk accept failed", "device_id", device.ID(), "error", err)
			return
		}
		slog.Info("share: received file", "device_id", device.ID(), "file", dest, "bytes", n)
		if h.onReceive != nil {
			h.onReceive(Received{DeviceID: device.ID(), FilePath: dest})
		}
	}()
	return nil
}

func fingerprintOf(conn *tls.Conn) string {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return ""
	}
	return certstore.Fingerprint(state.PeerCertificates[0])
}

// SendText pushes an inline text share to a device.
func SendText(outbound chan<- plugin.Outbound, deviceID, text string) error {
	raw, err := json.Marshal(body{Text: text})
	if err != nil {
		return err
	}
	outbound <- plugin.Outbound{DeviceID: deviceID, Packet: &packet.Packet{Type: PacketType, Body: raw}}
	return nil
}

// OfferFile opens a bulk side-channel for path and announces it on the
// main session; the caller is responsible for running offer.Serve.
func OfferFile(outbound chan<- plugin.Outbound, deviceID, path string, cert tls.Certificate) (*bulk.Offer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("share: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("share: stat %s: %w", path, err)
	}

	offer, err := bulk.NewOffer(cert, f, uint64(info.Size()))
	if err != nil {
		f.Close()
		return nil, err
	}

	raw, err := json.Marshal(body{FileName: filepath.Base(path), NumberOfFiles: 1})
	if err != nil {
		return nil, err
	}
	size := uint64(info.Size())
	outbound <- plugin.Outbound{DeviceID: deviceID, Packet: &packet.Packet{
		Type:                PacketType,
		Body:                raw,
		PayloadSize:         &size,
		PayloadTransferInfo: &packet.PayloadTransferInfo{Port: offer.Port},
	}}
	return offer, nil
}
