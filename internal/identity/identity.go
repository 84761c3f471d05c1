// Package identity defines the immutable device descriptor exchanged both
// over UDP discovery and as the first two frames of every TLS session.
package identity

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PacketType is the one distinguished packet type legal over UDP and
// required as the first frame of every in-band session.
const PacketType = "cconnect.identity"

// ProtocolVersion is the wire protocol version this implementation speaks.
// It is never used for feature gating beyond the equality check performed
// at connection time; future capabilities are gated on capability strings.
const ProtocolVersion = 7

// DeviceType enumerates the kinds of endpoint a peer can present itself as.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceLaptop  DeviceType = "laptop"
	DevicePhone   DeviceType = "phone"
	DeviceTablet  DeviceType = "tablet"
	DeviceTV      DeviceType = "tv"
)

// MinNameLength and MaxNameLength bound device_name. Values outside this
// range are accepted but logged as warnings, never rejected.
const (
	MinNameLength = 1
	MaxNameLength = 32
)

// Info is the immutable identity descriptor for a device: who it is, what
// it speaks, and where to reach it. It round-trips exactly to and from an
// identity packet body.
type Info struct {
	DeviceID              string     `json:"deviceId"`
	DeviceName            string     `json:"deviceName"`
	ProtocolVersion       uint32     `json:"protocolVersion"`
	DeviceType            DeviceType `json:"deviceType"`
	TCPPort               uint16     `json:"tcpPort"`
	IncomingCapabilities  []string   `json:"incomingCapabilities"`
	OutgoingCapabilities  []string   `json:"outgoingCapabilities"`
}

// NewDeviceID generates a fresh device id: a UUIDv4 with dashes replaced by
// underscores, matching the wire convention used throughout the protocol
// family.
func NewDeviceID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "_")
}

// New builds an Info, warning-worthy name lengths included (callers should
// log, not reject, out-of-range names — see NameOutOfRange).
func New(deviceID, deviceName string, deviceType DeviceType, tcpPort uint16, incoming, outgoing []string) Info {
	return Info{
		DeviceID:             deviceID,
		DeviceName:           deviceName,
		ProtocolVersion:      ProtocolVersion,
		DeviceType:           deviceType,
		TCPPort:              tcpPort,
		IncomingCapabilities: dedup(incoming),
		OutgoingCapabilities: dedup(outgoing),
	}
}

// NameOutOfRange reports whether DeviceName falls outside [1,32] graphemes
// (approximated here by rune count, which is sufficient for the common
// case of non-combining names). Out-of-range names are a warning, not a
// rejection.
func (i Info) NameOutOfRange() bool {
	n := len([]rune(i.DeviceName))
	return n < MinNameLength || n > MaxNameLength
}

// HasIncomingCapability reports whether the device advertises it can
// consume packets of the given type.
func (i Info) HasIncomingCapability(packetType string) bool {
	for _, c := range i.IncomingCapabilities {
		if c == packetType {
			return true
		}
	}
	return false
}

// wireForm mirrors the bit-exact normative body schema of the identity
// packet. A missing outgoingCapabilities key decodes to a nil slice,
// which reads as an empty list.
type wireForm struct {
	DeviceID             string     `json:"deviceId"`
	DeviceName           string     `json:"deviceName"`
	ProtocolVersion      uint32     `json:"protocolVersion"`
	DeviceType           DeviceType `json:"deviceType"`
	TCPPort              uint16     `json:"tcpPort"`
	IncomingCapabilities []string   `json:"incomingCapabilities"`
	OutgoingCapabilities []string   `json:"outgoingCapabilities"`
}

// MarshalBody renders the identity packet body, with keys in the
// recommended order for interop with strict parsers.
func (i Info) MarshalBody() (json.RawMessage, error) {
	w := wireForm{
		DeviceID:             i.DeviceID,
		DeviceName:           i.DeviceName,
		ProtocolVersion:      i.ProtocolVersion,
		DeviceType:           i.DeviceType,
		TCPPort:              i.TCPPort,
		IncomingCapabilities: i.IncomingCapabilities,
		OutgoingCapabilities: i.OutgoingCapabilities,
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal identity body: %w", err)
	}
	return raw, nil
}

// UnmarshalBody parses an identity packet body into an Info. A missing
// outgoingCapabilities key defaults to an empty set rather than erroring.
func UnmarshalBody(body json.RawMessage) (Info, error) {
	var w wireForm
	if err := json.Unmarshal(body, &w); err != nil {
		return Info{}, fmt.Errorf("unmarshal identity body: %w", err)
	}
	return Info{
		DeviceID:             w.DeviceID,
		DeviceName:           w.DeviceName,
		ProtocolVersion:      w.ProtocolVersion,
		DeviceType:           w.DeviceType,
		TCPPort:              w.TCPPort,
		IncomingCapabilities: w.IncomingCapabilities,
		OutgoingCapabilities: w.OutgoingCapabilities,
	}, nil
}

// dedup drops repeated entries, keeping first-seen order; capability
// lists are unordered so no sort is needed.
func dedup(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
