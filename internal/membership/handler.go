package membership

import (
	"context"

	"quorumdb/internal/transport"
	"quorumdb/internal/wire"
)

var _ transport.ClusterHandler = (*Membership)(nil)

// HandleJoin adds the joining node and answers with every non-failed member.
func (m *Membership) HandleJoin(_ context.Context, req *wire.JoinRequest) (*wire.JoinResponse, error) {
	if req.Node.ID == "" || req.Node.Address == "" {
		return nil, ErrInvalidNode
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.joined {
		return nil, ErrNotJoined
	}
	if m.left {
		return nil, ErrLeft
	}

	m.mergeLocked(req.Node, true)
	return &wire.JoinResponse{Self: m.selfInfo(), Members: m.membersLocked()}, nil
}

// HandleHeartbeat marks the sender alive and records whom it can reach.
func (m *Membership) HandleHeartbeat(_ context.Context, req *wire.Heartbeat) (*wire.HeartbeatAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.left {
		return nil, ErrLeft
	}

	m.aliveLocked(req.From, req.Reachable)
	return &wire.HeartbeatAck{From: m.selfInfo(), Reachable: m.reachableLocked()}, nil
}

func (m *Membership) HandleLeave(_ context.Context, req *wire.LeaveNotice) (*wire.Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(req.NodeID)
	return &wire.Ack{OK: true}, nil
}
