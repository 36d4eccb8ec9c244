package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kabili207/mesh-relay-node/pkg/meshtastic"
)

const envPrefix = "MESHNODE"

// Default returns the configuration used when no file or environment
// override is present.
func Default() Configuration {
	cfg := Configuration{
		ListenAddr: ":8080",
		Log: LogSettings{
			Level:      "info",
			Format:     "color",
			Outputs:    []string{"stderr"},
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		MeshSettings: MeshSettings{
			MqttRoot: "msh/US",
		},
		Router: RouterSettings{
			FloodTimeout:      5 * time.Minute,
			HistoryCapacity:   512,
			FillThreshold:     0.9,
			NodeDBCapacity:    100,
			MergeWarnInterval: 10 * time.Minute,
		},
		Transport: TransportSettings{
			Kind: TransportLog,
			MQTT: MQTTSettings{
				Broker:         "tcp://localhost:1883",
				ConnectTimeout: 10 * time.Second,
			},
			Redis: RedisSettings{
				Addr:    "localhost:6379",
				Channel: "mesh:medium",
			},
		},
		Broker: BrokerSettings{
			ListenAddr: ":1883",
		},
	}
	cfg.MeshSettings.SelfNode.LongName = "Mesh Relay Node"
	cfg.MeshSettings.SelfNode.ShortName = "RLY"
	return cfg
}

// Load reads the configuration from path, or from meshnode.yaml in the usual
// locations when path is empty. A .env file in the working directory is loaded
// into the environment first, and MESHNODE_* variables override the file.
func Load(path string) (*Configuration, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("meshnode")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToNodeIDHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.MeshSettings.Channels) == 0 {
		cfg.MeshSettings.Channels = []MeshChannelDef{{Name: meshtastic.DefaultChannelName}}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Env-only configs only see keys viper already knows about.
func setDefaults(v *viper.Viper, cfg Configuration) {
	v.SetDefault("listen_addr", cfg.ListenAddr)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
	v.SetDefault("log.max_age_days", cfg.Log.MaxAgeDays)
	v.SetDefault("log.compress", cfg.Log.Compress)

	v.SetDefault("mesh_settings.mqtt_root", cfg.MeshSettings.MqttRoot)
	v.SetDefault("mesh_settings.self_node.node_id", "")
	v.SetDefault("mesh_settings.self_node.long_name", cfg.MeshSettings.SelfNode.LongName)
	v.SetDefault("mesh_settings.self_node.short_name", cfg.MeshSettings.SelfNode.ShortName)

	v.SetDefault("router.flood_timeout", cfg.Router.FloodTimeout)
	v.SetDefault("router.history_capacity", cfg.Router.HistoryCapacity)
	v.SetDefault("router.fill_threshold", cfg.Router.FillThreshold)
	v.SetDefault("router.sweep_interval", cfg.Router.SweepInterval)
	v.SetDefault("router.node_db_capacity", cfg.Router.NodeDBCapacity)
	v.SetDefault("router.merge_warn_interval", cfg.Router.MergeWarnInterval)

	v.SetDefault("transport.kind", cfg.Transport.Kind)
	v.SetDefault("transport.mqtt.broker", cfg.Transport.MQTT.Broker)
	v.SetDefault("transport.mqtt.client_id", cfg.Transport.MQTT.ClientID)
	v.SetDefault("transport.mqtt.username", cfg.Transport.MQTT.Username)
	v.SetDefault("transport.mqtt.password", cfg.Transport.MQTT.Password)
	v.SetDefault("transport.mqtt.qos", cfg.Transport.MQTT.QoS)
	v.SetDefault("transport.mqtt.connect_timeout", cfg.Transport.MQTT.ConnectTimeout)
	v.SetDefault("transport.redis.addr", cfg.Transport.Redis.Addr)
	v.SetDefault("transport.redis.password", cfg.Transport.Redis.Password)
	v.SetDefault("transport.redis.db", cfg.Transport.Redis.DB)
	v.SetDefault("transport.redis.channel", cfg.Transport.Redis.Channel)

	v.SetDefault("broker.enabled", cfg.Broker.Enabled)
	v.SetDefault("broker.listen_addr", cfg.Broker.ListenAddr)
}

// stringToNodeIDHook accepts node ids written as "!0000abcd", "0xabcd" or decimal.
func stringToNodeIDHook() mapstructure.DecodeHookFuncType {
	nodeIDType := reflect.TypeOf(meshtastic.NodeID(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != nodeIDType || from.Kind() != reflect.String {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if s == "" {
			return meshtastic.NodeID(0), nil
		}
		return meshtastic.ParseNodeID(s)
	}
}

// Validate checks the settings that have no sensible fallback.
func (c *Configuration) Validate() error {
	var errs []error

	if c.MeshSettings.MqttRoot == "" {
		errs = append(errs, errors.New("mesh_settings.mqtt_root must not be empty"))
	}
	if c.MeshSettings.SelfNode.NodeID == meshtastic.BroadcastID {
		errs = append(errs, errors.New("mesh_settings.self_node.node_id must not be the broadcast address"))
	}
	if c.Router.FloodTimeout <= 0 {
		errs = append(errs, errors.New("router.flood_timeout must be positive"))
	}
	if c.Router.FillThreshold <= 0 || c.Router.FillThreshold > 1 {
		errs = append(errs, fmt.Errorf("router.fill_threshold must be in (0, 1], got %v", c.Router.FillThreshold))
	}
	if c.Router.SweepInterval < 0 {
		errs = append(errs, errors.New("router.sweep_interval must not be negative"))
	}
	if c.Router.NodeDBCapacity <= 0 {
		errs = append(errs, errors.New("router.node_db_capacity must be positive"))
	}

	switch c.Transport.Kind {
	case TransportMQTT:
		if c.Transport.MQTT.Broker == "" {
			errs = append(errs, errors.New("transport.mqtt.broker is required for the mqtt transport"))
		}
		if c.Transport.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("transport.mqtt.qos must be 0, 1 or 2, got %d", c.Transport.MQTT.QoS))
		}
	case TransportBroker:
		if !c.Broker.Enabled {
			errs = append(errs, errors.New("the broker transport requires broker.enabled"))
		}
	case TransportRedis:
		if c.Transport.Redis.Addr == "" {
			errs = append(errs, errors.New("transport.redis.addr is required for the redis transport"))
		}
	case TransportLog:
	default:
		errs = append(errs, fmt.Errorf("unknown transport.kind %q", c.Transport.Kind))
	}

	switch c.Log.Format {
	case "color", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	for i, u := range c.Broker.Users {
		if u.Username == "" || u.PasswordHash == "" {
			errs = append(errs, fmt.Errorf("broker.users[%d] needs username and password_hash", i))
		}
	}

	return errors.Join(errs...)
}
