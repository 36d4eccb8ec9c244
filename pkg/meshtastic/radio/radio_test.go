package radio

import (
	"context"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	pb "github.com/kabili207/meshtastic-go/core/proto"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/kabili207/mesh-relay-node/pkg/meshtastic"
)

var testUplink = Uplink{
	Root:     "msh/US",
	Channels: []string{"LongFast", "Admin"},
	Gateway:  0xabcdef01,
}

func testPacket() *pb.MeshPacket {
	return &pb.MeshPacket{
		From:    0x0929,
		To:      meshtastic.BroadcastID,
		Id:      0x13b2d662,
		Channel: 1,
		PayloadVariant: &pb.MeshPacket_Decoded{
			Decoded: &pb.Data{Portnum: pb.PortNum_TEXT_MESSAGE_APP, Payload: []byte("hello")},
		},
	}
}

func TestUplinkChannelName(t *testing.T) {
	tests := []struct {
		index uint32
		want  string
	}{
		{0, "LongFast"},
		{1, "Admin"},
		{2, meshtastic.DefaultChannelName},
		{0x8b, meshtastic.DefaultChannelName},
		{0xFFFFFFFF, meshtastic.DefaultChannelName},
	}

	for _, tt := range tests {
		if got := testUplink.ChannelName(tt.index); got != tt.want {
			t.Errorf("ChannelName(%d) = %q, want %q", tt.index, got, tt.want)
		}
	}
}

func TestUplinkEncode(t *testing.T) {
	packet := testPacket()

	require.Equal(t, "msh/US/2/e/Admin/!abcdef01", testUplink.Topic(packet))

	payload, err := testUplink.Encode(packet)
	require.NoError(t, err)

	var env pb.ServiceEnvelope
	require.NoError(t, proto.Unmarshal(payload, &env))
	require.Equal(t, "Admin", env.ChannelId)
	require.Equal(t, "!abcdef01", env.GatewayId)
	require.True(t, proto.Equal(packet, env.Packet))
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	paho.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type publishCall struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient implements only the paho.Client methods the uplink uses.
type fakeClient struct {
	paho.Client
	connected  bool
	connectErr error
	publishErr error
	published  []publishCall
	filter     string
	onMessage  paho.MessageHandler
}

func (c *fakeClient) Subscribe(topic string, _ byte, callback paho.MessageHandler) paho.Token {
	c.filter = topic
	c.onMessage = callback
	return newFakeToken(nil)
}

func (c *fakeClient) Connect() paho.Token {
	if c.connectErr == nil {
		c.connected = true
	}
	return newFakeToken(c.connectErr)
}

func (c *fakeClient) IsConnectionOpen() bool { return c.connected }

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	if c.publishErr == nil {
		c.published = append(c.published, publishCall{topic: topic, qos: qos, payload: payload.([]byte)})
	}
	return newFakeToken(c.publishErr)
}

func newTestMQTT(client *fakeClient) *MQTTInterface {
	m := newMQTTInterface(MQTTOptions{Broker: "tcp://localhost:1883", QoS: 1, Uplink: testUplink})
	m.client = client
	return m
}

func TestMQTTSendBeforeInit(t *testing.T) {
	m := newTestMQTT(&fakeClient{})
	require.ErrorIs(t, m.Send(testPacket()), ErrNotInitialized)
}

func TestMQTTInitAndSend(t *testing.T) {
	client := &fakeClient{}
	m := newTestMQTT(client)

	require.NoError(t, m.Init())
	require.NoError(t, m.Send(testPacket()))

	require.Len(t, client.published, 1)
	require.Equal(t, "msh/US/2/e/Admin/!abcdef01", client.published[0].topic)
	require.Equal(t, byte(1), client.published[0].qos)

	var env pb.ServiceEnvelope
	require.NoError(t, proto.Unmarshal(client.published[0].payload, &env))
	require.Equal(t, uint32(0x13b2d662), env.GetPacket().GetId())
}

func TestMQTTErrorsPropagate(t *testing.T) {
	connectErr := errors.New("connection refused")
	m := newTestMQTT(&fakeClient{connectErr: connectErr})
	require.ErrorIs(t, m.Init(), connectErr)

	publishErr := errors.New("not authorized")
	m = newTestMQTT(&fakeClient{publishErr: publishErr})
	require.NoError(t, m.Init())
	require.ErrorIs(t, m.Send(testPacket()), publishErr)
}

func TestMQTTListen(t *testing.T) {
	client := &fakeClient{}
	m := newTestMQTT(client)

	var heard []*pb.MeshPacket
	handler := func(p *pb.MeshPacket) { heard = append(heard, p) }

	require.ErrorIs(t, m.Listen(handler), ErrNotInitialized)
	require.NoError(t, m.Init())
	require.NoError(t, m.Listen(handler))
	require.Equal(t, "msh/US/2/e/+/+", client.filter)

	payload, err := testUplink.Encode(testPacket())
	require.NoError(t, err)

	client.onMessage(client, fakeMessage{topic: "msh/US/2/e/Admin/!00000002", payload: payload})
	// Our own uplink echoed back by the broker.
	client.onMessage(client, fakeMessage{topic: "msh/US/2/e/Admin/!abcdef01", payload: payload})
	client.onMessage(client, fakeMessage{topic: "msh/US/2/e/Admin/!00000002", payload: []byte{0xff}})

	require.Len(t, heard, 1)
	require.Equal(t, uint32(0x13b2d662), heard[0].GetId())
}

func TestUplinkTopicOutOfRangeChannel(t *testing.T) {
	packet := testPacket()
	packet.Channel = 0xFFFFFFFF

	require.NotPanics(t, func() {
		require.Equal(t, "msh/US/2/e/LongFast/!abcdef01", testUplink.Topic(packet))
	})
	payload, err := testUplink.Encode(packet)
	require.NoError(t, err)

	var env pb.ServiceEnvelope
	require.NoError(t, proto.Unmarshal(payload, &env))
	require.Equal(t, meshtastic.DefaultChannelName, env.ChannelId)
}

func TestUplinkDecode(t *testing.T) {
	payload, err := testUplink.Encode(testPacket())
	require.NoError(t, err)
	empty, err := proto.Marshal(&pb.ServiceEnvelope{ChannelId: "LongFast"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		wantOK  bool
		wantErr error
	}{
		{"other gateway", "msh/US/2/e/LongFast/!00000002", payload, true, nil},
		{"own gateway", "msh/US/2/e/LongFast/!abcdef01", payload, false, nil},
		{"other root", "msh/EU_868/2/e/LongFast/!00000002", payload, false, nil},
		{"not a channel topic", "msh/US/2/map/", payload, false, nil},
		{"garbage", "msh/US/2/e/LongFast/!00000002", []byte{0xff, 0xff}, false, ErrNotEnvelope},
		{"no packet", "msh/US/2/e/LongFast/!00000002", empty, false, ErrNotEnvelope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packet, ok, err := testUplink.Decode(tt.topic, tt.payload)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if ok {
				require.Equal(t, uint32(0x13b2d662), packet.GetId())
			}
		})
	}
}

func TestMQTTDefaultClientID(t *testing.T) {
	m := newMQTTInterface(MQTTOptions{Uplink: testUplink})
	require.Equal(t, "!abcdef01", m.opts.ClientID)
	require.Equal(t, defaultMQTTTimeout, m.opts.ConnectTimeout)
}

type fakeRedis struct {
	pingErr    error
	publishErr error
	channel    string
	messages   [][]byte
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.pingErr)
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	if f.publishErr != nil {
		return redis.NewIntResult(0, f.publishErr)
	}
	f.channel = channel
	f.messages = append(f.messages, message.([]byte))
	return redis.NewIntResult(2, nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisSend(t *testing.T) {
	fake := &fakeRedis{}
	r := newRedisInterface(RedisOptions{Uplink: testUplink})
	r.client = fake

	require.NoError(t, r.Init())
	require.NoError(t, r.Send(testPacket()))
	require.Equal(t, DefaultRedisChannel, fake.channel)
	require.Len(t, fake.messages, 1)
}

func TestRedisErrorsPropagate(t *testing.T) {
	down := errors.New("dial tcp: connection refused")
	r := newRedisInterface(RedisOptions{Uplink: testUplink})
	r.client = &fakeRedis{pingErr: down, publishErr: down}

	require.ErrorIs(t, r.Init(), down)
	require.ErrorIs(t, r.Send(testPacket()), down)
}

func TestBrokerInit(t *testing.T) {
	require.Error(t, NewBroker(nil, testUplink, 0).Init())

	noInline := mqtt.New(&mqtt.Options{})
	require.Error(t, NewBroker(noInline, testUplink, 0).Init())

	inline := mqtt.New(&mqtt.Options{InlineClient: true})
	require.NoError(t, NewBroker(inline, testUplink, 0).Init())
}

func TestLogInterface(t *testing.T) {
	l := NewLog(nil)
	require.NoError(t, l.Init())
	require.NoError(t, l.Send(testPacket()))
}
