package raft

import (
	"context"
	"time"

	etcdraft "go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"
)

type stepRequest struct {
	ctx  context.Context
	msg  raftpb.Message
	resp chan error
}

func (n *Node) run() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			n.log.Debug("raft loop stopping")
			return

		case <-ticker.C:
			n.node.Tick()

		case req := <-n.stepInbox:
			err := n.step(req.ctx, req.msg)
			select {
			case req.resp <- err:
			default:
			}

		case rd := <-n.node.Ready():
			if err := n.processReady(rd); err != nil {
				n.log.Error("processing ready failed", "error", err)
				return
			}
		}
	}
}

func (n *Node) processReady(rd etcdraft.Ready) error {
	if !etcdraft.IsEmptyHardState(rd.HardState) {
		n.hs = rd.HardState
	}
	if rd.SoftState != nil {
		n.onSoftState(*rd.SoftState)
	}

	if err := n.storage.SaveReady(rd); err != nil {
		return err
	}
	n.publishStatus()

	n.sendMessages(rd.Messages)

	if !etcdraft.IsEmptySnap(rd.Snapshot) {
		n.log.Info("installed snapshot", "index", rd.Snapshot.Metadata.Index, "term", rd.Snapshot.Metadata.Term)
		n.applied.Store(rd.Snapshot.Metadata.Index)
	}

	n.applyEntries(rd.CommittedEntries)

	n.node.Advance()
	return nil
}

func (n *Node) onSoftState(ss etcdraft.SoftState) {
	role := roleOf(ss.RaftState)
	if role != n.role {
		n.log.Info("raft role changed",
			"from", n.role.String(),
			"to", role.String(),
			"term", n.hs.Term,
			"leader", n.peers.name(ss.Lead),
		)
		if role == Candidate {
			n.rec.RaftElections.Inc()
		}
	}
	n.role = role
	n.lead = ss.Lead
}

// step feeds one inbound message to etcd. A heartbeat whose commit index lies
// beyond the local log means this node lost its log while the leader still
// counts it as matched; etcd would refuse to go on, so the commit is clamped
// and the node forces a new term. The next leader resets its view of every
// follower and repairs the log.
func (n *Node) step(ctx context.Context, m raftpb.Message) error {
	if m.Term != 0 && m.Term < n.hs.Term {
		n.rec.RaftStaleTerm.Inc()
	}

	lost := false
	if m.Type == raftpb.MsgHeartbeat {
		last, err := n.storage.RaftStorage().LastIndex()
		if err != nil {
			return err
		}
		if m.Commit > last {
			m.Commit = last
			lost = true
		}
	}

	if err := n.node.Step(ctx, m); err != nil {
		return err
	}
	if lost {
		n.forceElection(ctx, m)
	}
	return nil
}

func (n *Node) forceElection(ctx context.Context, m raftpb.Message) {
	now := n.now()
	if now.Sub(n.lastForced) < n.cfg.ElectionTimeoutMin {
		return
	}
	n.lastForced = now

	n.log.Warn("leader commit is beyond the local log, forcing an election",
		"leader", n.peers.name(m.From),
		"term", m.Term,
		"last_index", n.status.Load().LastIndex,
	)
	if err := n.node.Campaign(ctx); err != nil {
		n.log.Warn("campaign failed", "error", err)
	}
}

func roleOf(s etcdraft.StateType) Role {
	switch s {
	case etcdraft.StateLeader:
		return Leader
	case etcdraft.StateCandidate, etcdraft.StatePreCandidate:
		return Candidate
	default:
		return Follower
	}
}
