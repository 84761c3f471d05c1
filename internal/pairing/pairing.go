// Package pairing implements the per-device pair request/accept/reject
// finite state machine and the certificate-pinning rule it enforces on
// every subsequent session.
package pairing

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cosmic-connect/cconnectd/internal/cerrors"
	"github.com/cosmic-connect/cconnectd/internal/registry"
)

// PacketType is the single packet type that drives the pairing FSM.
const PacketType = "cconnect.pair"

// RequestTimeout is how long a RequestedByUs state waits before reverting
// to Unpaired with a timeout event; RequestedByPeer has no timer.
const RequestTimeout = 30 * time.Second

// Body is the wire body of a pair packet: {"pair": true} to request or
// accept, {"pair": false} to cancel, reject, or unpair.
type Body struct {
	Pair bool `json:"pair"`
}

// EventKind enumerates the pairing events surfaced to host IPC.
type EventKind string

const (
	EventPairingRequest        EventKind = "pairing_request"
	EventPairingStatusChanged  EventKind = "pairing_status_changed"
	EventPairingTimeout        EventKind = "pairing_timeout"
)

// Event is emitted to the host IPC event bus whenever the FSM transitions.
type Event struct {
	Kind     EventKind
	DeviceID string
	Status   registry.PairingStatus
}

// Sender abstracts "write this packet to this device's session", so the
// FSM doesn't need to know about connections directly.
type Sender interface {
	Send(deviceID string, packetType string, body any) error
}

// Service drives the pairing FSM for every device against the shared
// registry, emitting Events for the host IPC surface to relay.
type Service struct {
	registry *registry.Registry
	sender   Sender
	clock    clockwork.Clock
	events   chan Event

	mu      sync.Mutex
	timers  map[string]clockwork.Timer
}

// New builds a pairing Service.
func New(reg *registry.Registry, sender Sender, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		registry: reg,
		sender:   sender,
		clock:    clock,
		events:   make(chan Event, 64),
		timers:   make(map[string]clockwork.Timer),
	}
}

// Events returns the channel of pairing FSM transitions.
func (s *Service) Events() <-chan Event { return s.events }

// RequestPair initiates pairing from the local side: Unpaired -> RequestedByUs.
func (s *Service) RequestPair(deviceID string) error {
	d, ok := s.registry.Get(deviceID)
	if !ok {
		return cerrors.New(cerrors.KindUserAction, "unknown device", cerrors.ErrUnknownDevice)
	}
	if d.PairingStatus != registry.Unpaired {
		return cerrors.UserAction("pairing already in progress or device already paired", nil)
	}
	if err := s.sender.Send(deviceID, PacketType, Body{Pair: true}); err != nil {
		return fmt.Errorf("send pair request: %w", err)
	}
	if err := s.registry.UpdatePairingStatus(deviceID, registry.RequestedByUs); err != nil {
		return err
	}
	s.armTimer(deviceID)
	s.emit(Event{Kind: EventPairingStatusChanged, DeviceID: deviceID, Status: registry.RequestedByUs})
	return nil
}

// Accept accepts an incoming pair request: RequestedByPeer -> Paired.
func (s *Service) Accept(deviceID, peerCertFingerprint string) error {
	d, ok := s.registry.Get(deviceID)
	if !ok {
		return cerrors.New(cerrors.KindUserAction, "unknown device", cerrors.ErrUnknownDevice)
	}
	if d.PairingStatus != registry.RequestedByPeer {
		return cerrors.UserAction("no pending pair request from this device", nil)
	}
	if err := s.sender.Send(deviceID, PacketType, Body{Pair: true}); err != nil {
		return fmt.Errorf("send pair accept: %w", err)
	}
	return s.finalizePaired(deviceID, peerCertFingerprint)
}

// Reject declines an incoming pair request: RequestedByPeer -> Unpaired.
func (s *Service) Reject(deviceID string) error {
	if err := s.sender.Send(deviceID, PacketType, Body{Pair: false}); err != nil {
		return fmt.Errorf("send pair reject: %w", err)
	}
	return s.toUnpaired(deviceID)
}

// Unpair drops an existing pairing: Paired -> Unpaired.
func (s *Service) Unpair(deviceID string) error {
	if err := s.sender.Send(deviceID, PacketType, Body{Pair: false}); err != nil {
		return fmt.Errorf("send unpair: %w", err)
	}
	if err := s.registry.SetCertificateFingerprint(deviceID, ""); err != nil {
		return err
	}
	return s.toUnpaired(deviceID)
}

// HandlePairPacket processes an inbound pair packet from a peer, applying
// the transition table in full.
func (s *Service) HandlePairPacket(deviceID string, body json.RawMessage, peerCertFingerprint string) error {
	var b Body
	if err := json.Unmarshal(body, &b); err != nil {
		return cerrors.Protocol("malformed pair packet", err)
	}

	d, ok := s.registry.Get(deviceID)
	if !ok {
		return cerrors.New(cerrors.KindUserAction, "unknown device", cerrors.ErrUnknownDevice)
	}

	switch d.PairingStatus {
	case registry.Unpaired:
		if b.Pair {
			s.cancelTimer(deviceID)
			if err := s.registry.UpdatePairingStatus(deviceID, registry.RequestedByPeer); err != nil {
				return err
			}
			s.emit(Event{Kind: EventPairingRequest, DeviceID: deviceID, Status: registry.RequestedByPeer})
		}
		// pair:false while Unpaired is a no-op.
		return nil

	case registry.RequestedByUs:
		s.cancelTimer(deviceID)
		if b.Pair {
			return s.finalizePaired(deviceID, peerCertFingerprint)
		}
		return s.toUnpaired(deviceID)

	case registry.Paired:
		if !b.Pair {
			if err := s.registry.SetCertificateFingerprint(deviceID, ""); err != nil {
				return err
			}
			return s.toUnpaired(deviceID)
		}
		return nil

	case registry.RequestedByPeer, registry.Rejected:
		// Peer re-sending while we haven't decided yet, or after a
		// rejection: no transition, just noted.
		return nil
	}
	return nil
}

func (s *Service) finalizePaired(deviceID, peerCertFingerprint string) error {
	s.cancelTimer(deviceID)
	if err := s.registry.SetCertificateFingerprint(deviceID, peerCertFingerprint); err != nil {
		return err
	}
	if err := s.registry.UpdatePairingStatus(deviceID, registry.Paired); err != nil {
		return err
	}
	s.emit(Event{Kind: EventPairingStatusChanged, DeviceID: deviceID, Status: registry.Paired})
	return nil
}

func (s *Service) toUnpaired(deviceID string) error {
	s.cancelTimer(deviceID)
	if err := s.registry.UpdatePairingStatus(deviceID, registry.Unpaired); err != nil {
		return err
	}
	s.emit(Event{Kind: EventPairingStatusChanged, DeviceID: deviceID, Status: registry.Unpaired})
	return nil
}

func (s *Service) armTimer(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[deviceID]; ok {
		t.Stop()
	}
	timer := s.clock.AfterFunc(RequestTimeout, func() {
		s.emit(Event{Kind: EventPairingTimeout, DeviceID: deviceID, Status: registry.Unpaired})
		_ = s.toUnpaired(deviceID)
	})
	s.timers[deviceID] = timer
}

func (s *Service) cancelTimer(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[deviceID]; ok {
		t.Stop()
		delete(s.timers, deviceID)
	}
}

func (s *Service) emit(e Event) {
	select {
	case s.events <- e:
	default:
		// Event bus is a best-effort relay to host IPC; a full channel
		// means no one is listening and the event is dropped.
	}
}

// VerifyPinnedFingerprint checks a peer's certificate fingerprint against
// the pinned value for a paired device, as required before trusting any
// new session. A mismatch rejects the session and moves the device to
// Rejected.
func (s *Service) VerifyPinnedFingerprint(deviceID, sessionFingerprint string) error {
	d, ok := s.registry.Get(deviceID)
	if !ok {
		return cerrors.New(cerrors.KindUserAction, "unknown device", cerrors.ErrUnknownDevice)
	}
	if d.PairingStatus != registry.Paired {
		return nil
	}
	if d.CertificateFingerprint != sessionFingerprint {
		_ = s.registry.UpdatePairingStatus(deviceID, registry.Rejected)
		s.emit(Event{Kind: EventPairingStatusChanged, DeviceID: deviceID, Status: registry.Rejected})
		return cerrors.UserAction("peer certificate does not match the pinned fingerprint", cerrors.ErrCertificateValidation)
	}
	return nil
}
