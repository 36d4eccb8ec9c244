// Package nodedb keeps a bounded, least-recently-used view of the mesh nodes
// this node has heard from.
package nodedb

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	pb "github.com/kabili207/meshtastic-go/core/proto"

	"github.com/kabili207/mesh-relay-node/pkg/meshtastic"
	"github.com/kabili207/mesh-relay-node/pkg/models"
)

const DefaultCapacity = 100

var (
	ErrInvalidSender      = errors.New("mesh packet has empty 'from' field")
	ErrMissingPayload     = errors.New("mesh packet has no payload variant")
	ErrUnsupportedPayload = errors.New("payload variant not supported")
)

// Options configures a NodeDB. Zero values fall back to defaults.
type Options struct {
	Capacity int
	// SelfNode overrides the randomly generated local node number.
	SelfNode  meshtastic.NodeID
	LongName  string
	ShortName string
	Logger    *slog.Logger
}

// NodeDB maps node numbers to NodeInfo. Reads through Lookup count as a use,
// so a node that is looked up often survives eviction.
type NodeDB struct {
	mu         sync.Mutex
	meshNodes  *lru.Cache[uint32, *models.NodeInfo]
	myNodeInfo models.MyNodeInfo
	evictions  uint64
	log        *slog.Logger
}

func New(opts Options) (*NodeDB, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SelfNode == 0 {
		opts.SelfNode = meshtastic.RandomNodeID()
	}

	db := &NodeDB{
		myNodeInfo: models.MyNodeInfo{
			MyNodeNum: opts.SelfNode,
			LongName:  opts.LongName,
			ShortName: opts.ShortName,
		},
		log: opts.Logger.With("component", "nodedb"),
	}

	// The eviction callback runs inside Add, which is only called with db.mu held.
	cache, err := lru.NewWithEvict(opts.Capacity, func(num uint32, _ *models.NodeInfo) {
		db.evictions++
		db.log.Debug("evicted node", "node", meshtastic.NodeID(num))
	})
	if err != nil {
		return nil, fmt.Errorf("could not create node cache: %w", err)
	}
	db.meshNodes = cache

	return db, nil
}

// SelfNode returns the local node's identity.
func (db *NodeDB) SelfNode() models.MyNodeInfo {
	return db.myNodeInfo
}

// Lookup returns a copy of the node's record and marks it as recently used.
func (db *NodeDB) Lookup(num uint32) (models.NodeInfo, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	n, ok := db.meshNodes.Get(num)
	if !ok {
		return models.NodeInfo{}, false
	}
	return *n, true
}

// Peek is Lookup without touching recency.
func (db *NodeDB) Peek(num uint32) (models.NodeInfo, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	n, ok := db.meshNodes.Peek(num)
	if !ok {
		return models.NodeInfo{}, false
	}
	return *n, true
}

// MergeFromPacket folds the routing fields of packet into the sender's record,
// creating it if needed. Zero rx_time and rx_snr mean "not present" and never
// overwrite; the channel is taken from NODEINFO packets even when it is 0.
func (db *NodeDB) MergeFromPacket(packet *pb.MeshPacket) error {
	from := packet.GetFrom()
	if from == 0 {
		return ErrInvalidSender
	}

	var data *pb.Data
	switch v := packet.GetPayloadVariant().(type) {
	case *pb.MeshPacket_Decoded:
		data = v.Decoded
	case *pb.MeshPacket_Encrypted:
		return fmt.Errorf("%w: encrypted (%d bytes)", ErrUnsupportedPayload, len(v.Encrypted))
	case nil:
		return ErrMissingPayload
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedPayload, v)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	node, ok := db.meshNodes.Get(from)
	if !ok {
		node = &models.NodeInfo{Num: from}
		db.meshNodes.Add(from, node)
		db.log.Debug("new node", "node", meshtastic.NodeID(from))
	}

	if packet.RxTime != 0 {
		node.LastHeard = packet.RxTime
	}

	if packet.RxSnr != 0 {
		node.SNR = packet.RxSnr
	}

	if data.GetPortnum() == pb.PortNum_NODEINFO_APP {
		node.Channel = packet.Channel
	}

	return nil
}

// Nodes returns a snapshot of every record, least recently used first.
func (db *NodeDB) Nodes() []models.NodeInfo {
	db.mu.Lock()
	defer db.mu.Unlock()

	keys := db.meshNodes.Keys()
	nodes := make([]models.NodeInfo, 0, len(keys))
	for _, k := range keys {
		if n, ok := db.meshNodes.Peek(k); ok {
			nodes = append(nodes, *n)
		}
	}
	return nodes
}

func (db *NodeDB) Len() int {
	return db.meshNodes.Len()
}

// Evictions reports how many records have been dropped for capacity.
func (db *NodeDB) Evictions() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.evictions
}
