package transport

import (
	"context"

	"quorumdb/internal/wire"
)

// Client sends messages to peers by address. Implementations must be safe
// for concurrent use.
type Client interface {
	SendRaft(ctx context.Context, addr string, msg *wire.RaftMessage) (*wire.Ack, error)
	Join(ctx context.Context, addr string, req *wire.JoinRequest) (*wire.JoinResponse, error)
	Heartbeat(ctx context.Context, addr string, req *wire.Heartbeat) (*wire.HeartbeatAck, error)
	Leave(ctx context.Context, addr string, req *wire.LeaveNotice) (*wire.Ack, error)
	ReplicaWrite(ctx context.Context, addr string, req *wire.ReplicaWrite) (*wire.ReplicaWriteAck, error)
	ReplicaRead(ctx context.Context, addr string, req *wire.ReplicaRead) (*wire.ReplicaReadResult, error)
	Close() error
}

// method binds a message kind to its gRPC method name and its Handler entry
// point. Both the gRPC service and the in-memory network dispatch through
// these.
type method[Req, Resp any] struct {
	name   string
	handle func(Handler, context.Context, *Req) (*Resp, error)
}

var (
	methodRaft = method[wire.RaftMessage, wire.Ack]{
		name: "Raft", handle: Handler.HandleRaftMessage,
	}
	methodJoin = method[wire.JoinRequest, wire.JoinResponse]{
		name: "Join", handle: Handler.HandleJoin,
	}
	methodHeartbeat = method[wire.Heartbeat, wire.HeartbeatAck]{
		name: "Heartbeat", handle: Handler.HandleHeartbeat,
	}
	methodLeave = method[wire.LeaveNotice, wire.Ack]{
		name: "Leave", handle: Handler.HandleLeave,
	}
	methodReplicaWrite = method[wire.ReplicaWrite, wire.ReplicaWriteAck]{
		name: "ReplicaWrite", handle: Handler.HandleReplicaWrite,
	}
	methodReplicaRead = method[wire.ReplicaRead, wire.ReplicaReadResult]{
		name: "ReplicaRead", handle: Handler.HandleReplicaRead,
	}
)

func (m method[Req, Resp]) fullName() string {
	return "/" + serviceName + "/" + m.name
}
