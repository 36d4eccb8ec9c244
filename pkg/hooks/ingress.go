package hooks

import (
	"bytes"
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/packets"
	"google.golang.org/protobuf/proto"

	"github.com/kabili207/mesh-relay-node/pkg/config"
	"github.com/kabili207/mesh-relay-node/pkg/meshtastic"
	"github.com/kabili207/mesh-relay-node/pkg/models"
	"github.com/kabili207/mesh-relay-node/pkg/router"
)

const (
	meshDevicePattern   = `^(?:Meshtastic(Android|Apple)MqttProxy-)?(![0-9a-f]{8})$`
	unknownProxyPattern = `^Meshtastic(Android|Apple)MqttProxy-(.+)$`
)

var (
	meshDeviceRegex   = regexp.MustCompile(meshDevicePattern)
	unknownProxyRegex = regexp.MustCompile(unknownProxyPattern)
)

// PacketHandler is the part of the router the hook feeds.
type PacketHandler interface {
	HandleInbound(packet *pb.MeshPacket) error
}

// IngressHookOptions contains configuration settings for the hook.
type IngressHookOptions struct {
	Router   PacketHandler
	MqttRoot string
	// SelfNode is this node's gateway id. Envelopes it published itself are
	// never handed back to the router.
	SelfNode meshtastic.NodeID
	// Users restricts who may connect. Empty allows anonymous clients.
	Users []config.BrokerUser
	// OnPacket, if set, runs after every envelope handed to the router.
	OnPacket func()
}

// IngressHook feeds service envelopes published by gateways into the router.
type IngressHook struct {
	mqtt.HookBase
	config       *IngressHookOptions
	meshFilter   auth.RString
	users        map[string]config.BrokerUser
	knownClients map[string]*models.ClientDetails
	clientLock   sync.RWMutex
}

func (h *IngressHook) ID() string {
	return "ingress-hook"
}

func (h *IngressHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnConnect,
		mqtt.OnDisconnect,
		mqtt.OnPublish,
	}, []byte{b})
}

func (h *IngressHook) Init(cfg any) error {
	opts, ok := cfg.(*IngressHookOptions)
	if !ok || opts == nil {
		return mqtt.ErrInvalidConfigType
	}
	if opts.Router == nil || opts.MqttRoot == "" {
		return mqtt.ErrInvalidConfigType
	}

	h.config = opts
	h.meshFilter = auth.RString(strings.TrimSuffix(opts.MqttRoot, "/") + "/#")
	h.users = make(map[string]config.BrokerUser, len(opts.Users))
	for _, u := range opts.Users {
		h.users[u.Username] = u
	}
	h.knownClients = make(map[string]*models.ClientDetails)

	h.Log.Info("initialised", "root", opts.MqttRoot, "self", opts.SelfNode, "users", len(h.users))
	return nil
}

// OnConnectAuthenticate checks the client against the configured users and
// remembers who it is.
func (h *IngressHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	user := string(pk.Connect.Username)

	if !h.validateUser(user, string(pk.Connect.Password)) {
		h.Log.Info("client failed authentication check", "username", user, "client", cl.ID, "remote", cl.Net.Remote)
		return false
	}

	details := &models.ClientDetails{
		UserID:   user,
		ClientID: cl.ID,
		Address:  cl.Net.Remote,
	}
	if matches := meshDeviceRegex.FindStringSubmatch(cl.ID); matches != nil {
		details.ProxyType = matches[1]
		if id, err := meshtastic.ParseNodeID(matches[2]); err == nil {
			details.NodeID = id
		}
	} else if matches := unknownProxyRegex.FindStringSubmatch(cl.ID); matches != nil {
		details.ProxyType = matches[1]
	}

	h.clientLock.Lock()
	h.knownClients[cl.ID] = details
	h.clientLock.Unlock()

	h.Log.Info("client authenticated", "username", user, "client", cl.ID, "node", details.NodeID, "proxy", details.ProxyType)
	return true
}

// OnACLCheck confines clients to the mesh topic tree. Only mesh devices may
// publish into it.
func (h *IngressHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	if cl.Net.Inline {
		return true
	}
	if !h.meshFilter.FilterMatches(topic) {
		return false
	}
	if !write {
		return true
	}

	h.clientLock.RLock()
	cd, ok := h.knownClients[cl.ID]
	h.clientLock.RUnlock()
	if !ok {
		h.Log.Warn("unknown client in ACL check", "client", cl.ID, "topic", topic)
		return false
	}
	// Without configured users every client is trusted to publish.
	return len(h.users) == 0 || cd.IsMeshDevice()
}

func (h *IngressHook) OnConnect(cl *mqtt.Client, pk packets.Packet) error {
	h.Log.Info("client connected", "client", cl.ID)
	return nil
}

func (h *IngressHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.clientLock.Lock()
	delete(h.knownClients, cl.ID)
	h.clientLock.Unlock()
	if err != nil {
		h.Log.Info("client disconnected", "client", cl.ID, "expire", expire, "error", err)
	} else {
		h.Log.Info("client disconnected", "client", cl.ID, "expire", expire)
	}
}

// OnPublish hands every service envelope on a channel topic to the router.
// The publish itself is still delivered to subscribers.
func (h *IngressHook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	if cl.Net.Inline {
		return pk, nil
	}

	_, channel, gateway, ok := meshtastic.ParseChannelTopic(pk.TopicName)
	if !ok || !h.meshFilter.FilterMatches(pk.TopicName) {
		return pk, nil
	}
	if gateway == h.config.SelfNode {
		return pk, nil
	}

	var env pb.ServiceEnvelope
	if err := proto.Unmarshal(pk.Payload, &env); err != nil || env.GetPacket() == nil {
		// Do not allow non-meshtastic payloads in the msh tree
		h.Log.Warn("received non-mesh payload from client", "client", cl.ID, "topic", pk.TopicName)
		return pk, packets.ErrRejectPacket
	}

	h.clientLock.Lock()
	if cd, ok := h.knownClients[cl.ID]; ok {
		cd.Packets++
	}
	h.clientLock.Unlock()

	packet := env.GetPacket()
	err := h.config.Router.HandleInbound(packet)

	var mergeErr *router.MergeError
	switch {
	case err == nil:
	case errors.As(err, &mergeErr):
		// Relayed; the router already logged why the node db skipped it.
	case errors.Is(err, router.ErrTransportFailure):
		h.Log.Warn("packet not relayed", "client", cl.ID, "channel", channel, "gateway", gateway,
			"from", meshtastic.NodeID(packet.GetFrom()), "id", packet.GetId(), "error", err)
	default:
		h.Log.Error("router rejected packet", "client", cl.ID, "channel", channel, "error", err)
	}

	if h.config.OnPacket != nil {
		h.config.OnPacket()
	}

	return pk, nil
}

// Clients returns the connected clients ordered by client id.
func (h *IngressHook) Clients() []models.ClientDetails {
	h.clientLock.RLock()
	defer h.clientLock.RUnlock()

	out := make([]models.ClientDetails, 0, len(h.knownClients))
	for _, c := range h.knownClients {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}
