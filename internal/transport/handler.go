package transport

import (
	"context"

	"quorumdb/internal/wire"
)

// ConsensusHandler accepts consensus messages. Replies travel back as
// separate messages, so the Ack only confirms receipt.
type ConsensusHandler interface {
	HandleRaftMessage(ctx context.Context, msg *wire.RaftMessage) (*wire.Ack, error)
}

// ClusterHandler serves membership messages.
type ClusterHandler interface {
	HandleJoin(ctx context.Context, req *wire.JoinRequest) (*wire.JoinResponse, error)
	HandleHeartbeat(ctx context.Context, req *wire.Heartbeat) (*wire.HeartbeatAck, error)
	HandleLeave(ctx context.Context, req *wire.LeaveNotice) (*wire.Ack, error)
}

// ReplicaHandler serves replica reads and writes for the data manager.
type ReplicaHandler interface {
	HandleReplicaWrite(ctx context.Context, req *wire.ReplicaWrite) (*wire.ReplicaWriteAck, error)
	HandleReplicaRead(ctx context.Context, req *wire.ReplicaRead) (*wire.ReplicaReadResult, error)
}

// Handler is everything a node answers on its peer address.
type Handler interface {
	ConsensusHandler
	ClusterHandler
	ReplicaHandler
}

// Router dispatches to the component owning each message kind. A nil
// component answers with ErrNoHandler.
type Router struct {
	Consensus ConsensusHandler
	Cluster   ClusterHandler
	Replica   ReplicaHandler
}

var _ Handler = (*Router)(nil)

func (r *Router) HandleRaftMessage(ctx context.Context, msg *wire.RaftMessage) (*wire.Ack, error) {
	if r.Consensus == nil {
		return nil, ErrNoHandler
	}
	return r.Consensus.HandleRaftMessage(ctx, msg)
}

func (r *Router) HandleJoin(ctx context.Context, req *wire.JoinRequest) (*wire.JoinResponse, error) {
	if r.Cluster == nil {
		return nil, ErrNoHandler
	}
	return r.Cluster.HandleJoin(ctx, req)
}

func (r *Router) HandleHeartbeat(ctx context.Context, req *wire.Heartbeat) (*wire.HeartbeatAck, error) {
	if r.Cluster == nil {
		return nil, ErrNoHandler
	}
	return r.Cluster.HandleHeartbeat(ctx, req)
}

func (r *Router) HandleLeave(ctx context.Context, req *wire.LeaveNotice) (*wire.Ack, error) {
	if r.Cluster == nil {
		return nil, ErrNoHandler
	}
	return r.Cluster.HandleLeave(ctx, req)
}

func (r *Router) HandleReplicaWrite(ctx context.Context, req *wire.ReplicaWrite) (*wire.ReplicaWriteAck, error) {
	if r.Replica == nil {
		return nil, ErrNoHandler
	}
	return r.Replica.HandleReplicaWrite(ctx, req)
}

func (r *Router) HandleReplicaRead(ctx context.Context, req *wire.ReplicaRead) (*wire.ReplicaReadResult, error) {
	if r.Replica == nil {
		return nil, ErrNoHandler
	}
	return r.Replica.HandleReplicaRead(ctx, req)
}
