package radio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisChannel = "mesh:medium"

// redisPublisher is the subset of *redis.Client the medium needs.
type redisPublisher interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisOptions configures a simulated shared medium on a redis pub/sub channel.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Timeout  time.Duration
	Uplink   Uplink
	Logger   *slog.Logger
}

var _ Interface = (*RedisInterface)(nil)

// RedisInterface puts relayed packets on a redis channel that every
// simulated node subscribes to, standing in for the radio medium.
type RedisInterface struct {
	opts   RedisOptions
	client redisPublisher
	log    *slog.Logger
}

func NewRedis(opts RedisOptions) *RedisInterface {
	r := newRedisInterface(opts)
	r.client = redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return r
}

func newRedisInterface(opts RedisOptions) *RedisInterface {
	if opts.Channel == "" {
		opts.Channel = DefaultRedisChannel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &RedisInterface{opts: opts, log: opts.Logger.With("radio", "redis")}
}

func (r *RedisInterface) Init() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.Timeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", r.opts.Addr, err)
	}
	r.log.Info("redis medium ready", "addr", r.opts.Addr, "channel", r.opts.Channel)
	return nil
}

func (r *RedisInterface) Send(packet *pb.MeshPacket) error {
	payload, err := r.opts.Uplink.Encode(packet)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.Timeout)
	defer cancel()

	receivers, err := r.client.Publish(ctx, r.opts.Channel, payload).Result()
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", r.opts.Channel, err)
	}
	r.log.Debug("packet put on medium", "id", packet.GetId(), "receivers", receivers)
	return nil
}

func (r *RedisInterface) Close() error {
	return r.client.Close()
}
