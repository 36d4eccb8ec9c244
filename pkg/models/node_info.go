package models

import "github.com/kabili207/mesh-relay-node/pkg/meshtastic"

// NodeInfo is what this node knows about a remote node. LastHeard is in the
// time base of the packet that carried it, not the local clock.
type NodeInfo struct {
	Num       uint32  `json:"num"`
	LastHeard uint32  `json:"last_heard"`
	SNR       float32 `json:"snr"`
	Channel   uint32  `json:"channel"`
}

// NodeID returns the node number as a printable NodeID.
func (n *NodeInfo) NodeID() meshtastic.NodeID {
	return meshtastic.NodeID(n.Num)
}

// MyNodeInfo identifies the local node. It is regenerated on every start
// unless configured explicitly.
type MyNodeInfo struct {
	MyNodeNum meshtastic.NodeID `json:"my_node_num"`
	LongName  string            `json:"long_name,omitempty"`
	ShortName string            `json:"short_name,omitempty"`
}
