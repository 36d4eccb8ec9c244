package radio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	pb "github.com/kabili207/meshtastic-go/core/proto"
)

const defaultMQTTTimeout = 10 * time.Second

// MQTTOptions configures an MQTT uplink.
type MQTTOptions struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
	Uplink         Uplink
	Logger         *slog.Logger
}

var _ Interface = (*MQTTInterface)(nil)

// MQTTInterface relays packets to an MQTT broker the same way a Meshtastic
// gateway uplinks them.
type MQTTInterface struct {
	opts   MQTTOptions
	client paho.Client
	log    *slog.Logger

	mu      sync.Mutex
	handler func(*pb.MeshPacket)
}

var _ Receiver = (*MQTTInterface)(nil)

func NewMQTT(opts MQTTOptions) *MQTTInterface {
	m := newMQTTInterface(opts)

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetConnectTimeout(m.opts.ConnectTimeout).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetOnConnectHandler(func(paho.Client) {
			m.log.Info("mqtt uplink connected", "broker", opts.Broker)
			// Subscriptions do not survive a clean-session reconnect.
			go m.resubscribe()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			m.log.Warn("mqtt uplink connection lost", "broker", opts.Broker, "error", err)
		})

	m.client = paho.NewClient(clientOpts)
	return m
}

func newMQTTInterface(opts MQTTOptions) *MQTTInterface {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultMQTTTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ClientID == "" {
		opts.ClientID = opts.Uplink.Gateway.String()
	}
	return &MQTTInterface{
		opts: opts,
		log:  opts.Logger.With("radio", "mqtt"),
	}
}

func (m *MQTTInterface) Init() error {
	tok := m.client.Connect()
	if !tok.WaitTimeout(m.opts.ConnectTimeout) {
		return fmt.Errorf("%w: connecting to %s", ErrTimeout, m.opts.Broker)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", m.opts.Broker, err)
	}
	return nil
}

func (m *MQTTInterface) Send(packet *pb.MeshPacket) error {
	if !m.client.IsConnectionOpen() {
		return ErrNotInitialized
	}

	payload, err := m.opts.Uplink.Encode(packet)
	if err != nil {
		return err
	}

	topic := m.opts.Uplink.Topic(packet)
	tok := m.client.Publish(topic, m.opts.QoS, false, payload)
	if !tok.WaitTimeout(m.opts.ConnectTimeout) {
		return fmt.Errorf("%w: publishing to %s", ErrTimeout, topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}

	m.log.Debug("packet uplinked", "topic", topic, "id", packet.GetId())
	return nil
}

// Listen subscribes to every channel topic under the uplink root and hands
// each envelope heard there to handler.
func (m *MQTTInterface) Listen(handler func(packet *pb.MeshPacket)) error {
	if !m.client.IsConnectionOpen() {
		return ErrNotInitialized
	}
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	return m.subscribe()
}

func (m *MQTTInterface) resubscribe() {
	m.mu.Lock()
	listening := m.handler != nil
	m.mu.Unlock()
	if !listening {
		return
	}
	if err := m.subscribe(); err != nil {
		m.log.Error("mqtt resubscribe failed", "error", err)
	}
}

func (m *MQTTInterface) subscribe() error {
	filter := m.opts.Uplink.Filter()
	tok := m.client.Subscribe(filter, m.opts.QoS, m.onMessage)
	if !tok.WaitTimeout(m.opts.ConnectTimeout) {
		return fmt.Errorf("%w: subscribing to %s", ErrTimeout, filter)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", filter, err)
	}
	m.log.Info("listening for mesh traffic", "filter", filter)
	return nil
}

func (m *MQTTInterface) onMessage(_ paho.Client, msg paho.Message) {
	packet, ok, err := m.opts.Uplink.Decode(msg.Topic(), msg.Payload())
	if err != nil {
		m.log.Warn("dropping message", "topic", msg.Topic(), "error", err)
		return
	}
	if !ok {
		return
	}

	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(packet)
	}
}

// Close disconnects from the broker, waiting briefly for in-flight publishes.
func (m *MQTTInterface) Close() {
	m.client.Disconnect(250)
}
