package radio

import (
	"log/slog"

	pb "github.com/kabili207/meshtastic-go/core/proto"

	"github.com/kabili207/mesh-relay-node/pkg/meshtastic"
)

var _ Interface = (*LogInterface)(nil)

// LogInterface only logs what would have been transmitted.
type LogInterface struct {
	log *slog.Logger
}

func NewLog(logger *slog.Logger) *LogInterface {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogInterface{log: logger.With("radio", "log")}
}

func (l *LogInterface) Init() error {
	l.log.Info("log-only radio interface, packets will not leave this node")
	return nil
}

func (l *LogInterface) Send(packet *pb.MeshPacket) error {
	l.log.Info("transmit",
		"from", meshtastic.NodeID(packet.GetFrom()),
		"to", meshtastic.NodeID(packet.GetTo()),
		"id", packet.GetId(),
		"channel", packet.GetChannel())
	return nil
}
