package transport

import (
	"context"
	"sync/atomic"

	"quorumdb/internal/types"
	"quorumdb/internal/wire"
)

type fakeHandler struct {
	id       string
	raftMsgs atomic.Int64
	lastKind atomic.Value
	block    chan struct{}
	raftErr  error
	stored   map[string]types.Item
}

func newFakeHandler(id string) *fakeHandler {
	return &fakeHandler{id: id, stored: make(map[string]types.Item)}
}

func (f *fakeHandler) HandleRaftMessage(ctx context.Context, msg *wire.RaftMessage) (*wire.Ack, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.raftErr != nil {
		return nil, f.raftErr
	}
	f.raftMsgs.Add(1)
	f.lastKind.Store(msg.Kind)
	return &wire.Ack{OK: msg.To == f.id}, nil
}

func (f *fakeHandler) HandleJoin(_ context.Context, req *wire.JoinRequest) (*wire.JoinResponse, error) {
	self := wire.NodeInfo{ID: f.id, Address: f.id + ":addr"}
	return &wire.JoinResponse{Self: self, Members: []wire.NodeInfo{self, req.Node}}, nil
}

func (f *fakeHandler) HandleHeartbeat(_ context.Context, req *wire.Heartbeat) (*wire.HeartbeatAck, error) {
	return &wire.HeartbeatAck{From: wire.NodeInfo{ID: f.id}, Reachable: []string{req.From.ID}}, nil
}

func (f *fakeHandler) HandleLeave(context.Context, *wire.LeaveNotice) (*wire.Ack, error) {
	return &wire.Ack{OK: true}, nil
}

func (f *fakeHandler) HandleReplicaWrite(_ context.Context, req *wire.ReplicaWrite) (*wire.ReplicaWriteAck, error) {
	f.stored[req.Item.Key] = req.Item
	return &wire.ReplicaWriteAck{Applied: true}, nil
}

func (f *fakeHandler) HandleReplicaRead(_ context.Context, req *wire.ReplicaRead) (*wire.ReplicaReadResult, error) {
	it, ok := f.stored[req.Key]
	return &wire.ReplicaReadResult{Found: ok, Item: it}, nil
}
