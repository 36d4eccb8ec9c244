package radio

import (
	"errors"
	"fmt"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	mqtt "github.com/mochi-mqtt/server/v2"
)

var _ Interface = (*BrokerInterface)(nil)

// BrokerInterface publishes relayed packets straight into an embedded broker
// through its inline client. The server must be created with InlineClient set.
type BrokerInterface struct {
	server *mqtt.Server
	uplink Uplink
	qos    byte
}

func NewBroker(server *mqtt.Server, uplink Uplink, qos byte) *BrokerInterface {
	return &BrokerInterface{server: server, uplink: uplink, qos: qos}
}

func (b *BrokerInterface) Init() error {
	if b.server == nil {
		return errors.New("broker interface requires an mqtt server")
	}
	if !b.server.Options.InlineClient {
		return errors.New("broker interface requires the inline client to be enabled")
	}
	return nil
}

func (b *BrokerInterface) Send(packet *pb.MeshPacket) error {
	if b.server == nil {
		return ErrNotInitialized
	}
	payload, err := b.uplink.Encode(packet)
	if err != nil {
		return err
	}
	topic := b.uplink.Topic(packet)
	if err := b.server.Publish(topic, payload, false, b.qos); err != nil {
		return fmt.Errorf("inline publish %s: %w", topic, err)
	}
	return nil
}
