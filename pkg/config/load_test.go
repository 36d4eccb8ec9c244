package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kabili207/mesh-relay-node/pkg/meshtastic"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshnode.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9090"
mesh_settings:
  mqtt_root: msh/EU_868
  channels:
    - name: LongFast
    - name: Admin
  self_node:
    node_id: "!0000abcd"
    long_name: Relay One
router:
  flood_timeout: 90s
  node_db_capacity: 25
transport:
  kind: redis
  redis:
    addr: redis:6379
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.ListenAddr)
	require.Equal(t, "msh/EU_868", cfg.MeshSettings.MqttRoot)
	require.Equal(t, []string{"LongFast", "Admin"}, cfg.MeshSettings.ChannelNames())
	require.Equal(t, meshtastic.NodeID(0xabcd), cfg.MeshSettings.SelfNode.NodeID)
	require.Equal(t, "Relay One", cfg.MeshSettings.SelfNode.LongName)
	require.Equal(t, "RLY", cfg.MeshSettings.SelfNode.ShortName)
	require.Equal(t, 90*time.Second, cfg.Router.FloodTimeout)
	require.Equal(t, 25, cfg.Router.NodeDBCapacity)
	require.Equal(t, 0.9, cfg.Router.FillThreshold)
	require.Equal(t, TransportRedis, cfg.Transport.Kind)
	require.Equal(t, "redis:6379", cfg.Transport.Redis.Addr)
	require.Equal(t, "mesh:medium", cfg.Transport.Redis.Channel)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	def := Default()
	require.Equal(t, def.Router, cfg.Router)
	require.Equal(t, TransportLog, cfg.Transport.Kind)
	require.Equal(t, []string{meshtastic.DefaultChannelName}, cfg.MeshSettings.ChannelNames())
	require.Equal(t, []MeshChannelDef{{Name: meshtastic.DefaultChannelName}}, cfg.MeshSettings.Channels)
	require.Zero(t, cfg.MeshSettings.SelfNode.NodeID)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "router:\n  flood_timeout: 1m\n")
	t.Setenv("MESHNODE_ROUTER_FLOOD_TIMEOUT", "2m")
	t.Setenv("MESHNODE_MESH_SETTINGS_SELF_NODE_NODE_ID", "!deadbeef")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, cfg.Router.FloodTimeout)
	require.Equal(t, meshtastic.NodeID(0xdeadbeef), cfg.MeshSettings.SelfNode.NodeID)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsBadNodeID(t *testing.T) {
	path := writeConfig(t, "mesh_settings:\n  self_node:\n    node_id: \"!xyz\"\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Configuration)
		wantErr bool
	}{
		{"defaults", func(*Configuration) {}, false},
		{"empty root", func(c *Configuration) { c.MeshSettings.MqttRoot = "" }, true},
		{"broadcast self", func(c *Configuration) { c.MeshSettings.SelfNode.NodeID = meshtastic.BroadcastID }, true},
		{"zero timeout", func(c *Configuration) { c.Router.FloodTimeout = 0 }, true},
		{"threshold above one", func(c *Configuration) { c.Router.FillThreshold = 1.5 }, true},
		{"threshold of one", func(c *Configuration) { c.Router.FillThreshold = 1 }, false},
		{"unknown transport", func(c *Configuration) { c.Transport.Kind = "lora" }, true},
		{"broker transport without broker", func(c *Configuration) { c.Transport.Kind = TransportBroker }, true},
		{"broker transport with broker", func(c *Configuration) {
			c.Transport.Kind = TransportBroker
			c.Broker.Enabled = true
		}, false},
		{"bad qos", func(c *Configuration) {
			c.Transport.Kind = TransportMQTT
			c.Transport.MQTT.QoS = 3
		}, true},
		{"unknown log format", func(c *Configuration) { c.Log.Format = "xml" }, true},
		{"user without hash", func(c *Configuration) {
			c.Broker.Users = []BrokerUser{{Username: "gw"}}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
