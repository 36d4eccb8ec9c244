// Package radiotest provides a radio.Interface that records what it was asked to do.
package radiotest

import (
	"sync"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	"google.golang.org/protobuf/proto"
)

// Recorder counts Init and Send calls and keeps a copy of every packet it
// accepted. Set InitErr or SendErr to make the matching call fail.
type Recorder struct {
	mu        sync.Mutex
	InitErr   error
	SendErr   error
	initCalls int
	sendCalls int
	sent      []*pb.MeshPacket
}

func (r *Recorder) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initCalls++
	return r.InitErr
}

func (r *Recorder) Send(packet *pb.MeshPacket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendCalls++
	if r.SendErr != nil {
		return r.SendErr
	}
	r.sent = append(r.sent, proto.Clone(packet).(*pb.MeshPacket))
	return nil
}

// FailSends changes the error returned by subsequent Send calls.
func (r *Recorder) FailSends(err error) {
	r.mu.Lock()
	r.SendErr = err
	r.mu.Unlock()
}

func (r *Recorder) InitCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initCalls
}

// SendCalls counts every Send, including failed ones.
func (r *Recorder) SendCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sendCalls
}

// Sent returns the packets that were sent successfully.
func (r *Recorder) Sent() []*pb.MeshPacket {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*pb.MeshPacket, len(r.sent))
	copy(out, r.sent)
	return out
}
