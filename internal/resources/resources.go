// Package resources enforces the hard caps on connections, transfers,
// queues, and memory that keep a misbehaving peer (or a burst of peers)
// from exhausting the daemon.
package resources

import (
	"sync"
	"sync/atomic"

	"github.com/cosmic-connect/cconnectd/internal/cerrors"
)

// Limits holds the configurable caps, with the spec's defaults.
type Limits struct {
	MaxConnectionsPerDevice int
	MaxTotalConnections     int
	MaxConcurrentTransfers  int
	MaxTransferSize         uint64
	MaxTotalTransferSize    uint64
	MaxPacketQueueSize      int
	MemoryPressureThreshold uint64
	StaleConnectionTimeoutSeconds int
}

// DefaultLimits mirrors the defaults enumerated in the resource manager's
// option table.
func DefaultLimits() Limits {
	return Limits{
		MaxConnectionsPerDevice:       2,
		MaxTotalConnections:           50,
		MaxConcurrentTransfers:        10,
		MaxPacketQueueSize:            1024,
		StaleConnectionTimeoutSeconds: 300,
	}
}

// Manager enforces Limits against live counters. All rejections surface as
// a KindResourceExhausted *cerrors.Error, which callers (the connection
// manager, the plugin fabric) must treat as recoverable-by-backoff, not
// fatal.
type Manager struct {
	limits Limits

	mu                 sync.Mutex
	connectionsByDevice map[string]int
	totalConnections    int
	activeTransfers     int
	totalTransferBytes  uint64

	memoryPressure atomic.Bool
}

// New builds a resource Manager enforcing limits.
func New(limits Limits) *Manager {
	return &Manager{
		limits:              limits,
		connectionsByDevice: make(map[string]int),
	}
}

// AcquireConnection reserves a connection slot for deviceID, failing with
// ResourceExhausted if either the per-device or total connection cap would
// be exceeded.
func (m *Manager) AcquireConnection(deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limits.MaxTotalConnections > 0 && m.totalConnections >= m.limits.MaxTotalConnections {
		return cerrors.ResourceExhausted("too many active connections", cerrors.ErrResourceExhausted)
	}
	if m.limits.MaxConnectionsPerDevice > 0 && m.connectionsByDevice[deviceID] >= m.limits.MaxConnectionsPerDevice {
		return cerrors.ResourceExhausted("too many connections to this device", cerrors.ErrResourceExhausted)
	}
	m.connectionsByDevice[deviceID]++
	m.totalConnections++
	return nil
}

// ReleaseConnection frees a connection slot previously reserved for
// deviceID.
func (m *Manager) ReleaseConnection(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectionsByDevice[deviceID] > 0 {
		m.connectionsByDevice[deviceID]--
	}
	if m.connectionsByDevice[deviceID] == 0 {
		delete(m.connectionsByDevice, deviceID)
	}
	if m.totalConnections > 0 {
		m.totalConnections--
	}
}

// RegisterTransfer reserves a transfer slot, failing with
// ResourceExhausted if the concurrent-transfer cap or either size cap
// would be exceeded.
func (m *Manager) RegisterTransfer(size uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limits.MaxConcurrentTransfers > 0 && m.activeTransfers >= m.limits.MaxConcurrentTransfers {
		return cerrors.ResourceExhausted("too many concurrent transfers", cerrors.ErrResourceExhausted)
	}
	if m.limits.MaxTransferSize > 0 && size > m.limits.MaxTransferSize {
		return cerrors.ResourceExhausted("transfer exceeds maximum size", cerrors.ErrResourceExhausted)
	}
	if m.limits.MaxTotalTransferSize > 0 && m.totalTransferBytes+size > m.limits.MaxTotalTransferSize {
		return cerrors.ResourceExhausted("transfer would exceed total transfer size budget", cerrors.ErrResourceExhausted)
	}
	m.activeTransfers++
	m.totalTransferBytes += size
	return nil
}

// CompleteTransfer releases a transfer slot previously reserved with
// RegisterTransfer.
func (m *Manager) CompleteTransfer(size uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeTransfers > 0 {
		m.activeTransfers--
	}
	if m.totalTransferBytes >= size {
		m.totalTransferBytes -= size
	} else {
		m.totalTransferBytes = 0
	}
}

// CheckQueueDepth rejects an enqueue if depth has already reached the
// configured cap; the caller (the connection manager's send path) is
// responsible for applying this before pushing onto a send queue.
func (m *Manager) CheckQueueDepth(currentDepth int) error {
	if m.limits.MaxPacketQueueSize > 0 && currentDepth >= m.limits.MaxPacketQueueSize {
		return cerrors.ResourceExhausted("packet queue exhausted", cerrors.ErrResourceExhausted)
	}
	return nil
}

// SetMemoryPressure flags (or clears) the memory-pressure observable. The
// spec defines this as an informational flag with no implicit action;
// callers may choose to shed load when it is set.
func (m *Manager) SetMemoryPressure(underPressure bool) {
	m.memoryPressure.Store(underPressure)
}

// MemoryPressure reports the current memory-pressure flag.
func (m *Manager) MemoryPressure() bool {
	return m.memoryPressure.Load()
}

// ActiveConnections reports the current total connection count, for
// metrics/status reporting.
func (m *Manager) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalConnections
}

// ActiveTransfers reports the current active-transfer count.
func (m *Manager) ActiveTransfers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeTransfers
}
