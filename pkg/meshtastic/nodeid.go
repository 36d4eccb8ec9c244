package meshtastic

import (
	"errors"
	"fmt"
	mathRand "math/rand/v2"
	"strconv"
	"strings"
)

const (
	// BroadcastID is the destination used by packets meant for every node.
	BroadcastID = 0xFFFFFFFF
)

var ErrInvalidNodeID = errors.New("invalid node id")

// NodeID is a network-assigned node number. It is not globally unique and
// may change when a node resets.
type NodeID uint32

// String formats the node number the way the firmware and MQTT topics do, e.g. "!0929a3f1".
func (n NodeID) String() string {
	return fmt.Sprintf("!%08x", uint32(n))
}

// ParseNodeID accepts "!0929a3f1", "0x0929a3f1" or a plain decimal number.
func ParseNodeID(s string) (NodeID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidNodeID)
	}

	var (
		v   uint64
		err error
	)
	switch {
	case strings.HasPrefix(s, "!"):
		v, err = strconv.ParseUint(s[1:], 16, 32)
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		v, err = strconv.ParseUint(s[2:], 16, 32)
	default:
		v, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
	}
	return NodeID(v), nil
}

// RandomNodeID returns a node number that is neither 0 (invalid sender) nor
// the broadcast address. It is not persisted anywhere.
func RandomNodeID() NodeID {
	for {
		id := mathRand.Uint32()
		if id != 0 && id != BroadcastID {
			return NodeID(id)
		}
	}
}
