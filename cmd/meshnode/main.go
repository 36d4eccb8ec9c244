// Command meshnode runs a flood-relaying mesh node: it hears packets from
// gateways, suppresses duplicates, tracks the nodes it hears and puts every
// novel packet back on the configured medium.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/kabili207/mesh-relay-node/pkg/config"
	"github.com/kabili207/mesh-relay-node/pkg/hooks"
	"github.com/kabili207/mesh-relay-node/pkg/logging"
	"github.com/kabili207/mesh-relay-node/pkg/meshtastic"
	"github.com/kabili207/mesh-relay-node/pkg/meshtastic/radio"
	"github.com/kabili207/mesh-relay-node/pkg/nodedb"
	"github.com/kabili207/mesh-relay-node/pkg/router"
	"github.com/kabili207/mesh-relay-node/pkg/routes"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file (default: ./meshnode.yaml if present)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "meshnode: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closeLogs, err := logging.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer closeLogs()

	db, err := nodedb.New(nodedb.Options{
		Capacity:  cfg.Router.NodeDBCapacity,
		SelfNode:  cfg.MeshSettings.SelfNode.NodeID,
		LongName:  cfg.MeshSettings.SelfNode.LongName,
		ShortName: cfg.MeshSettings.SelfNode.ShortName,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	self := db.SelfNode()
	logger.Info("node identity", "node", self.MyNodeNum, "long_name", self.LongName, "short_name", self.ShortName)

	history := router.NewPacketHistory(router.HistoryOptions{
		Capacity:      cfg.Router.HistoryCapacity,
		FloodTimeout:  cfg.Router.FloodTimeout,
		FillThreshold: cfg.Router.FillThreshold,
	})

	var server *mqtt.Server
	if cfg.Broker.Enabled {
		server = mqtt.New(&mqtt.Options{
			InlineClient: true,
			Logger:       logger.With("component", "broker"),
		})
	}

	uplink := radio.Uplink{
		Root:     cfg.MeshSettings.MqttRoot,
		Channels: cfg.MeshSettings.ChannelNames(),
		Gateway:  self.MyNodeNum,
	}
	transport, closeTransport, err := newTransport(cfg, uplink, server, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	flood, err := router.NewFloodingRouter(router.Options{
		Radio:             transport,
		History:           history,
		NodeDB:            db,
		Logger:            logger,
		MergeWarnInterval: cfg.Router.MergeWarnInterval,
	})
	if err != nil {
		return err
	}
	if err := flood.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := routes.NewClientNotifier()
	web := &routes.WebRouter{
		NodeDB:         db,
		History:        history,
		Router:         flood,
		ClientNotifier: notifier,
	}

	if rx, ok := transport.(radio.Receiver); ok {
		err := rx.Listen(func(packet *pb.MeshPacket) {
			handleInbound(flood, logger, packet)
			notifier.Notify()
		})
		if err != nil {
			return fmt.Errorf("listen on transport: %w", err)
		}
	}

	if server != nil {
		ingress := &hooks.IngressHook{}
		err := server.AddHook(ingress, &hooks.IngressHookOptions{
			Router:   flood,
			MqttRoot: cfg.MeshSettings.MqttRoot,
			SelfNode: self.MyNodeNum,
			Users:    cfg.Broker.Users,
			OnPacket: notifier.Notify,
		})
		if err != nil {
			return fmt.Errorf("add ingress hook: %w", err)
		}
		tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: cfg.Broker.ListenAddr})
		if err := server.AddListener(tcp); err != nil {
			return fmt.Errorf("add broker listener: %w", err)
		}
		web.Clients = ingress

		go func() {
			if err := server.Serve(); err != nil {
				logger.Error("broker stopped", "error", err)
			}
		}()
		defer server.Close()
	}

	if cfg.Router.SweepInterval > 0 {
		go sweepLoop(ctx, history, cfg.Router.SweepInterval, logger)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           web.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("status api listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status api stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("status api shutdown", "error", err)
	}
	return nil
}

func newTransport(cfg *config.Configuration, uplink radio.Uplink, server *mqtt.Server, logger *slog.Logger) (radio.Interface, func(), error) {
	noop := func() {}

	switch cfg.Transport.Kind {
	case config.TransportMQTT:
		m := radio.NewMQTT(radio.MQTTOptions{
			Broker:         cfg.Transport.MQTT.Broker,
			ClientID:       cfg.Transport.MQTT.ClientID,
			Username:       cfg.Transport.MQTT.Username,
			Password:       cfg.Transport.MQTT.Password,
			QoS:            cfg.Transport.MQTT.QoS,
			ConnectTimeout: cfg.Transport.MQTT.ConnectTimeout,
			Uplink:         uplink,
			Logger:         logger,
		})
		return m, m.Close, nil
	case config.TransportBroker:
		if server == nil {
			return nil, noop, errors.New("broker transport requires broker.enabled")
		}
		return radio.NewBroker(server, uplink, cfg.Transport.MQTT.QoS), noop, nil
	case config.TransportRedis:
		r := radio.NewRedis(radio.RedisOptions{
			Addr:     cfg.Transport.Redis.Addr,
			Password: cfg.Transport.Redis.Password,
			DB:       cfg.Transport.Redis.DB,
			Channel:  cfg.Transport.Redis.Channel,
			Uplink:   uplink,
			Logger:   logger,
		})
		return r, func() {
			if err := r.Close(); err != nil {
				logger.Warn("closing redis transport", "error", err)
			}
		}, nil
	case config.TransportLog:
		return radio.NewLog(logger), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

// handleInbound logs the router's verdict on a packet heard by the transport.
func handleInbound(flood *router.FloodingRouter, logger *slog.Logger, packet *pb.MeshPacket) {
	err := flood.HandleInbound(packet)

	var mergeErr *router.MergeError
	switch {
	case err == nil, errors.As(err, &mergeErr):
	case errors.Is(err, router.ErrTransportFailure):
		logger.Warn("packet not relayed", "from", meshtastic.NodeID(packet.GetFrom()), "id", packet.GetId(), "error", err)
	default:
		logger.Error("router rejected packet", "error", err)
	}
}

func sweepLoop(ctx context.Context, history *router.PacketHistory, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := history.ClearExpired(); removed > 0 {
				logger.Debug("expired packet records swept", "removed", removed, "remaining", history.Len())
			}
		}
	}
}
