// Package router decides which packets this node relays.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	pb "github.com/kabili207/meshtastic-go/core/proto"

	"github.com/kabili207/mesh-relay-node/pkg/meshtastic"
	"github.com/kabili207/mesh-relay-node/pkg/meshtastic/radio"
)

const defaultMergeWarnInterval = 10 * time.Minute

// History is the duplicate-suppression ledger the router consults.
type History interface {
	WasSeenRecently(sender, id uint32) bool
	RecordSeen(sender, id uint32)
}

// NodeDB receives the telemetry of every novel packet.
type NodeDB interface {
	MergeFromPacket(packet *pb.MeshPacket) error
}

// Options configures a FloodingRouter.
type Options struct {
	Radio   radio.Interface
	History History
	NodeDB  NodeDB
	Logger  *slog.Logger
	// MergeWarnInterval limits node db failures to one warning per sender per
	// interval; the rest are logged at debug.
	MergeWarnInterval time.Duration
}

// Stats counts what the router did with the packets it was handed.
type Stats struct {
	Relayed           uint64 `json:"relayed"`
	Duplicates        uint64 `json:"duplicates"`
	MergeFailures     uint64 `json:"merge_failures"`
	TransportFailures uint64 `json:"transport_failures"`
}

// FloodingRouter relays every packet it has not already relayed within the
// history's flood timeout. It owns the radio interface.
type FloodingRouter struct {
	// mu spans the whole of HandleInbound so two copies of the same packet
	// cannot both pass the history check.
	mu          sync.Mutex
	radio       radio.Interface
	history     History
	nodeDB      NodeDB
	log         *slog.Logger
	mergeWarned *ttlcache.Cache[uint32, struct{}]
	stats       Stats
}

func NewFloodingRouter(opts Options) (*FloodingRouter, error) {
	if opts.Radio == nil {
		return nil, errors.New("flooding router requires a radio interface")
	}
	if opts.History == nil {
		return nil, errors.New("flooding router requires a packet history")
	}
	if opts.NodeDB == nil {
		return nil, errors.New("flooding router requires a node db")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MergeWarnInterval <= 0 {
		opts.MergeWarnInterval = defaultMergeWarnInterval
	}

	return &FloodingRouter{
		radio:   opts.Radio,
		history: opts.History,
		nodeDB:  opts.NodeDB,
		log:     opts.Logger.With("component", "router"),
		mergeWarned: ttlcache.New[uint32, struct{}](
			ttlcache.WithTTL[uint32, struct{}](opts.MergeWarnInterval),
			ttlcache.WithCapacity[uint32, struct{}](256),
		),
	}, nil
}

// Start initializes the radio interface. Call it once before HandleInbound.
func (r *FloodingRouter) Start() error {
	if err := r.radio.Init(); err != nil {
		return fmt.Errorf("radio init: %w", err)
	}
	r.log.Info("flooding router started")
	return nil
}

// HandleInbound relays packet unless it was already relayed recently.
//
// A duplicate returns nil without touching the node db or the radio. Otherwise
// the node db is updated, the packet is sent and, only if the send succeeded,
// recorded as seen. A send failure is returned as *TransportError. A node db
// failure does not stop the relay; it is returned as *MergeError once the
// packet went out, and only logged if the send failed as well.
func (r *FloodingRouter) HandleInbound(packet *pb.MeshPacket) error {
	if packet == nil {
		return ErrNilPacket
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	from, id := packet.GetFrom(), packet.GetId()

	if r.history.WasSeenRecently(from, id) {
		r.stats.Duplicates++
		r.log.Debug("ignoring duplicate packet", "from", meshtastic.NodeID(from), "id", id)
		return nil
	}

	mergeErr := r.nodeDB.MergeFromPacket(packet)
	if mergeErr != nil {
		r.stats.MergeFailures++
		r.reportMergeFailure(from, id, mergeErr)
	}

	if err := r.radio.Send(packet); err != nil {
		r.stats.TransportFailures++
		r.log.Warn("failed to relay packet", "from", meshtastic.NodeID(from), "id", id, "error", err)
		return &TransportError{Err: err}
	}

	r.history.RecordSeen(from, id)
	r.stats.Relayed++
	r.log.Debug("relayed packet", "from", meshtastic.NodeID(from), "id", id)

	if mergeErr != nil {
		return &MergeError{Err: mergeErr}
	}
	return nil
}

func (r *FloodingRouter) reportMergeFailure(from, id uint32, err error) {
	if r.mergeWarned.Get(from, ttlcache.WithDisableTouchOnHit[uint32, struct{}]()) != nil {
		r.log.Debug("node db rejected packet", "from", meshtastic.NodeID(from), "id", id, "error", err)
		return
	}
	r.mergeWarned.Set(from, struct{}{}, ttlcache.DefaultTTL)
	r.log.Warn("node db rejected packet", "from", meshtastic.NodeID(from), "id", id, "error", err)
}

// Stats returns a snapshot of the router's counters.
func (r *FloodingRouter) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
