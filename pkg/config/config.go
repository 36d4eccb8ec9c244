package config

import (
	"time"

	"github.com/kabili207/mesh-relay-node/pkg/meshtastic"
)

type Configuration struct {
	ListenAddr   string            `mapstructure:"listen_addr"`
	Log          LogSettings       `mapstructure:"log"`
	MeshSettings MeshSettings      `mapstructure:"mesh_settings"`
	Router       RouterSettings    `mapstructure:"router"`
	Transport    TransportSettings `mapstructure:"transport"`
	Broker       BrokerSettings    `mapstructure:"broker"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// Outputs are "stderr", "stdout" or file paths. Files are rotated.
	Outputs    []string `mapstructure:"outputs"`
	MaxSizeMB  int      `mapstructure:"max_size_mb"`
	MaxBackups int      `mapstructure:"max_backups"`
	MaxAgeDays int      `mapstructure:"max_age_days"`
	Compress   bool     `mapstructure:"compress"`
}

type MeshSettings struct {
	MqttRoot string           `mapstructure:"mqtt_root"`
	Channels []MeshChannelDef `mapstructure:"channels"`
	SelfNode struct {
		NodeID    meshtastic.NodeID `mapstructure:"node_id"`
		LongName  string            `mapstructure:"long_name"`
		ShortName string            `mapstructure:"short_name"`
	} `mapstructure:"self_node"`
}

// ChannelNames returns the channel names in index order.
func (m MeshSettings) ChannelNames() []string {
	names := make([]string, 0, len(m.Channels))
	for _, c := range m.Channels {
		names = append(names, c.Name)
	}
	return names
}

// MeshChannelDef names a channel by its index in the list. Payloads are
// relayed as received, so no channel key is configured.
type MeshChannelDef struct {
	Name string `mapstructure:"name"`
}

type RouterSettings struct {
	FloodTimeout    time.Duration `mapstructure:"flood_timeout"`
	HistoryCapacity int           `mapstructure:"history_capacity"`
	FillThreshold   float64       `mapstructure:"fill_threshold"`
	// SweepInterval of 0 leaves expiry to the fill threshold and the API.
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	NodeDBCapacity    int           `mapstructure:"node_db_capacity"`
	MergeWarnInterval time.Duration `mapstructure:"merge_warn_interval"`
}

const (
	TransportMQTT   = "mqtt"
	TransportBroker = "broker"
	TransportRedis  = "redis"
	TransportLog    = "log"
)

type TransportSettings struct {
	Kind  string        `mapstructure:"kind"`
	MQTT  MQTTSettings  `mapstructure:"mqtt"`
	Redis RedisSettings `mapstructure:"redis"`
}

type MQTTSettings struct {
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	QoS            byte          `mapstructure:"qos"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type BrokerSettings struct {
	Enabled    bool         `mapstructure:"enabled"`
	ListenAddr string       `mapstructure:"listen_addr"`
	Users      []BrokerUser `mapstructure:"users"`
}

// BrokerUser is an MQTT login. PasswordHash is the hex SHA-256 of password+salt.
type BrokerUser struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Salt         string `mapstructure:"salt"`
}
