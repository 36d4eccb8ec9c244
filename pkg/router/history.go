package router

import (
	"sync"
	"time"

	"github.com/kabili207/mesh-relay-node/pkg/clock"
)

const (
	DefaultFloodTimeout    = 5 * time.Minute
	DefaultFillThreshold   = 0.9
	DefaultHistoryCapacity = 512
)

// HistoryOptions configures a PacketHistory. Zero values fall back to defaults.
type HistoryOptions struct {
	// Capacity is the number of records the history is sized for. It is a
	// sweep trigger, not a hard limit.
	Capacity int
	// FloodTimeout is how long a record suppresses re-relaying.
	FloodTimeout time.Duration
	// FillThreshold is the fraction of Capacity above which every insert
	// sweeps expired records.
	FillThreshold float64
	Clock         clock.Clock
}

func (o HistoryOptions) withDefaults() HistoryOptions {
	if o.Capacity <= 0 {
		o.Capacity = DefaultHistoryCapacity
	}
	if o.FloodTimeout <= 0 {
		o.FloodTimeout = DefaultFloodTimeout
	}
	if o.FillThreshold <= 0 || o.FillThreshold > 1 {
		o.FillThreshold = DefaultFillThreshold
	}
	if o.Clock == nil {
		o.Clock = clock.System{}
	}
	return o
}

// packetKey is the identity of a record: the receive time is not part of it.
type packetKey struct {
	sender uint32
	id     uint32
}

// PacketHistory remembers which (sender, id) pairs were processed recently.
//
// Expiry is sweep based. Records older than FloodTimeout stop counting as
// seen immediately but are only removed by ClearExpired, which runs either
// when called explicitly or when an insert pushes occupancy above
// FillThreshold*Capacity. Past that point every insert pays for a full sweep.
// Nothing caps the size: unique packets arriving faster than they expire
// keep growing the map.
type PacketHistory struct {
	mu            sync.Mutex
	opts          HistoryOptions
	recentPackets map[packetKey]time.Time
}

func NewPacketHistory(opts HistoryOptions) *PacketHistory {
	opts = opts.withDefaults()
	return &PacketHistory{
		opts:          opts,
		recentPackets: make(map[packetKey]time.Time, opts.Capacity),
	}
}

// WasSeenRecently reports whether (sender, id) was recorded within the flood
// timeout. It never removes anything.
func (h *PacketHistory) WasSeenRecently(sender, id uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	seenAt, ok := h.recentPackets[packetKey{sender: sender, id: id}]
	if !ok {
		return false
	}
	return !h.isExpired(h.opts.Clock.Now(), seenAt)
}

// RecordSeen inserts or refreshes the record for (sender, id).
func (h *PacketHistory) RecordSeen(sender, id uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.recentPackets[packetKey{sender: sender, id: id}] = h.opts.Clock.Now()

	if h.overFillThreshold() {
		h.clearExpiredLocked()
	}
}

func (h *PacketHistory) overFillThreshold() bool {
	return float64(len(h.recentPackets)) > h.opts.FillThreshold*float64(h.opts.Capacity)
}

// ClearExpired removes every record older than the flood timeout and returns
// how many were removed.
func (h *PacketHistory) ClearExpired() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clearExpiredLocked()
}

func (h *PacketHistory) clearExpiredLocked() int {
	now := h.opts.Clock.Now()
	removed := 0
	for key, seenAt := range h.recentPackets {
		if h.isExpired(now, seenAt) {
			delete(h.recentPackets, key)
			removed++
		}
	}
	return removed
}

func (h *PacketHistory) isExpired(now, seenAt time.Time) bool {
	return now.Sub(seenAt) > h.opts.FloodTimeout
}

// Clear forgets every record.
func (h *PacketHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.recentPackets)
}

func (h *PacketHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.recentPackets)
}

func (h *PacketHistory) Capacity() int {
	return h.opts.Capacity
}

func (h *PacketHistory) FloodTimeout() time.Duration {
	return h.opts.FloodTimeout
}
