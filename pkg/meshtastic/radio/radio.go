// Package radio contains the transports a relayed packet can be put on.
package radio

import (
	"errors"
	"fmt"
	"strings"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	"google.golang.org/protobuf/proto"

	"github.com/kabili207/mesh-relay-node/pkg/meshtastic"
)

var (
	ErrNotInitialized = errors.New("radio interface not initialized")
	ErrTimeout        = errors.New("radio interface timed out")
	ErrNotEnvelope    = errors.New("payload is not a service envelope")
)

// Interface is the radio medium as seen by the router. Init is called once
// at startup, Send once per relayed packet.
type Interface interface {
	Init() error
	Send(packet *pb.MeshPacket) error
}

// Receiver is implemented by transports that can also hear the medium.
// Packets this node uplinked itself are never passed to handler.
type Receiver interface {
	Listen(handler func(packet *pb.MeshPacket)) error
}

// Uplink describes how a packet is wrapped when a transport emits it as a
// gateway would: a ServiceEnvelope on msh/{root}/2/e/{channel}/{gateway}.
type Uplink struct {
	Root     string
	Channels []string
	Gateway  meshtastic.NodeID
}

// ChannelName maps the packet's channel index to a configured channel name.
func (u Uplink) ChannelName(index uint32) string {
	if index < uint32(len(u.Channels)) && u.Channels[index] != "" {
		return u.Channels[index]
	}
	return meshtastic.DefaultChannelName
}

// Topic returns the topic the packet is published on.
func (u Uplink) Topic(packet *pb.MeshPacket) string {
	return meshtastic.ChannelTopic(u.Root, u.ChannelName(packet.GetChannel()), u.Gateway)
}

// Encode wraps packet in a ServiceEnvelope and marshals it.
func (u Uplink) Encode(packet *pb.MeshPacket) ([]byte, error) {
	env := &pb.ServiceEnvelope{
		Packet:    packet,
		ChannelId: u.ChannelName(packet.GetChannel()),
		GatewayId: u.Gateway.String(),
	}
	payload, err := proto.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal service envelope: %w", err)
	}
	return payload, nil
}

// Filter is the topic filter matching every channel topic under Root.
func (u Uplink) Filter() string {
	return strings.TrimSuffix(u.Root, "/") + "/2/e/+/+"
}

// Decode unwraps a service envelope heard on topic. ok is false for
// envelopes this gateway published and for topics outside Root.
func (u Uplink) Decode(topic string, payload []byte) (packet *pb.MeshPacket, ok bool, err error) {
	root, _, gateway, match := meshtastic.ParseChannelTopic(topic)
	if !match || root != strings.TrimSuffix(u.Root, "/") || gateway == u.Gateway {
		return nil, false, nil
	}

	var env pb.ServiceEnvelope
	if err := proto.Unmarshal(payload, &env); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrNotEnvelope, err)
	}
	if env.GetPacket() == nil {
		return nil, false, fmt.Errorf("%w: no packet", ErrNotEnvelope)
	}
	return env.GetPacket(), true, nil
}
