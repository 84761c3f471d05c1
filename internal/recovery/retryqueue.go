package recovery

import (
	"log/slog"
	"sync"

	"github.com/cosmic-connect/cconnectd/internal/packet"
)

// MaxPacketRetries bounds how many times a transiently-failed packet is
// retried before it's dropped and logged.
const MaxPacketRetries = 3

type retryItem struct {
	deviceID string
	pkt      *packet.Packet
	attempt  uint32
}

// RetryQueue is a per-process, non-persistent, FIFO-per-device queue of
// packets that failed to send transiently. It is deliberately not
// persisted to disk: packet retries are a best-effort, in-session concern,
// unlike transfer state.
type RetryQueue struct {
	mu    sync.Mutex
	items []*retryItem
}

// NewRetryQueue builds an empty retry queue.
func NewRetryQueue() *RetryQueue {
	return &RetryQueue{}
}

// Enqueue adds a packet that failed to send, to be retried on the next
// Tick call.
func (q *RetryQueue) Enqueue(deviceID string, pkt *packet.Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, &retryItem{deviceID: deviceID, pkt: pkt})
}

// Tick increments every queued item's attempt counter and hands items that
// haven't exceeded MaxPacketRetries to send for a retry. Items exceeding
// the limit are dropped and logged; the remainder stays queued for the
// next tick if send itself fails again (the caller re-enqueues on failure).
func (q *RetryQueue) Tick(send func(deviceID string, pkt *packet.Packet) error) {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	for _, item := range pending {
		item.attempt++
		if item.attempt > MaxPacketRetries {
			slog.Warn("dropping packet after exhausting retries",
				"device_id", item.deviceID, "packet_type", item.pkt.Type, "attempts", item.attempt-1)
			continue
		}
		if err := send(item.deviceID, item.pkt); err != nil {
			slog.Debug("packet retry failed, will retry again", "device_id", item.deviceID, "attempt", item.attempt, "error", err)
			q.mu.Lock()
			q.items = append(q.items, item)
			q.mu.Unlock()
		}
	}
}

// Len reports how many packets are currently queued, across all devices.
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
