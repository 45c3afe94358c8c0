package raft

import (
	"context"
	"errors"
	"fmt"

	"quorumdb/internal/transport"
	"quorumdb/internal/wire"

	etcdraft "go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"
)

var _ transport.ConsensusHandler = (*Node)(nil)

// messageKind names a raft message type on the wire.
func messageKind(t raftpb.MessageType) string {
	switch t {
	case raftpb.MsgVote, raftpb.MsgPreVote:
		return wire.KindVoteRequest
	case raftpb.MsgVoteResp, raftpb.MsgPreVoteResp:
		return wire.KindVoteResponse
	case raftpb.MsgApp:
		return wire.KindAppendEntries
	case raftpb.MsgAppResp:
		return wire.KindAppendResponse
	case raftpb.MsgHeartbeat:
		return wire.KindHeartbeat
	case raftpb.MsgHeartbeatResp:
		return wire.KindHeartbeatResponse
	case raftpb.MsgSnap:
		return wire.KindSnapshot
	case raftpb.MsgTimeoutNow:
		return wire.KindTimeoutNow
	default:
		return wire.KindOther
	}
}

// sendMessages queues each message on its peer's sender. It never blocks
// the loop: a full queue drops the message and reports the peer
// unreachable so etcd resends from its last known match.
func (n *Node) sendMessages(msgs []raftpb.Message) {
	for _, m := range msgs {
		kind := messageKind(m.Type)
		switch {
		case m.Type == raftpb.MsgVoteResp && !m.Reject:
			n.rec.RaftVotesGranted.Inc()
		case m.Type == raftpb.MsgAppResp && m.Reject:
			n.rec.RaftAppendRejects.Inc()
		}

		s, ok := n.senders[m.To]
		if !ok {
			n.log.Warn("no sender for raft peer", "to", m.To, "type", m.Type.String())
			continue
		}
		select {
		case s.queue <- m:
			n.rec.RaftMessagesTotal.WithLabelValues("sent", kind).Inc()
		default:
			n.rec.RaftMessagesTotal.WithLabelValues("dropped", kind).Inc()
			n.node.ReportUnreachable(m.To)
		}
	}
}

// peerSender delivers one peer's messages in order.
type peerSender struct {
	node  *Node
	id    uint64
	name  string
	addr  string
	queue chan raftpb.Message
}

func (s *peerSender) run() {
	defer s.node.wg.Done()
	for {
		select {
		case <-s.node.stopCh:
			return
		case m := <-s.queue:
			s.send(m)
		}
	}
}

func (s *peerSender) send(m raftpb.Message) {
	n := s.node
	data, err := m.Marshal()
	if err != nil {
		n.log.Error("failed to marshal raft message", "to", s.name, "type", m.Type.String(), "error", err)
		return
	}
	msg := &wire.RaftMessage{Kind: messageKind(m.Type), From: n.id, To: s.name, Data: data}

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
	_, err = n.client.SendRaft(ctx, s.addr, msg)
	cancel()
	if err == nil {
		return
	}

	n.log.Debug("failed to send raft message", "to", s.name, "type", m.Type.String(), "error", err)
	n.node.ReportUnreachable(s.id)
	if m.Type == raftpb.MsgSnap {
		n.node.ReportSnapshot(s.id, etcdraft.SnapshotFailure)
	}
}

// HandleRaftMessage steps a message from a peer. Messages from nodes outside
// the voter set, or addressed to another node, are dropped before they can
// touch the term.
func (n *Node) HandleRaftMessage(ctx context.Context, msg *wire.RaftMessage) (*wire.Ack, error) {
	var m raftpb.Message
	if err := m.Unmarshal(msg.Data); err != nil {
		return nil, fmt.Errorf("decode raft message from %s: %w", msg.From, err)
	}
	kind := messageKind(m.Type)

	if !n.peers.contains(m.From) || m.From == n.raftID || m.To != n.raftID {
		n.rec.RaftMessagesTotal.WithLabelValues("dropped", kind).Inc()
		n.log.Debug("dropping raft message from outside the voter set",
			"from", msg.From,
			"type", m.Type.String(),
			"term", m.Term,
		)
		return nil, fmt.Errorf("%w: %q", ErrUnknownPeer, msg.From)
	}
	n.rec.RaftMessagesTotal.WithLabelValues("received", kind).Inc()

	req := stepRequest{ctx: ctx, msg: m, resp: make(chan error, 1)}
	select {
	case n.stepInbox <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.stopCh:
		return nil, unavailable(ErrStopped)
	}

	select {
	case err := <-req.resp:
		if errors.Is(err, etcdraft.ErrStopped) {
			err = ErrStopped
		}
		if err != nil {
			return nil, unavailable(err)
		}
		return &wire.Ack{OK: true}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.stopCh:
		return nil, unavailable(ErrStopped)
	}
}
