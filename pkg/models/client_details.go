package models

import "github.com/kabili207/mesh-relay-node/pkg/meshtastic"

// ClientDetails describes an MQTT client connected to the ingress broker.
type ClientDetails struct {
	UserID    string            `json:"user_id,omitempty"`
	ClientID  string            `json:"client_id"`
	NodeID    meshtastic.NodeID `json:"node_id,omitempty"`
	ProxyType string            `json:"proxy_type,omitempty"`
	Address   string            `json:"address,omitempty"`
	Packets   uint64            `json:"packets"`
}

// IsMeshDevice reports whether the client is a radio gateway rather than a
// plain MQTT consumer.
func (c *ClientDetails) IsMeshDevice() bool {
	return c.NodeID != 0 || c.ProxyType != ""
}
