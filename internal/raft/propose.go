package raft

import (
	"context"
	"errors"

	etcdraft "go.etcd.io/raft/v3"
	"google.golang.org/protobuf/encoding/protowire"
)

// proposal is the payload of every normal log entry this node proposes.
// Origin and ReqID let the proposer match the applied entry to its waiter.
type proposal struct {
	Origin    uint64
	ReqID     uint64
	Timestamp int64
	Command   []byte
}

// Propose hands command to the leader's log and returns once the engine has
// accepted it, not when it commits. On a follower it fails with
// *NotLeaderError.
func (n *Node) Propose(ctx context.Context, command []byte) error {
	err := n.propose(ctx, command, 0)
	n.countProposal(err)
	return err
}

// ProposeAndWait is Propose followed by waiting until the entry is applied.
// It returns the Applier's result for the entry.
func (n *Node) ProposeAndWait(ctx context.Context, command []byte) (any, error) {
	reqID := n.nextReqID.Add(1)
	ch := make(chan applyResult, 1)
	n.addWaiter(reqID, ch)
	defer n.removeWaiter(reqID)

	err := n.propose(ctx, command, reqID)
	n.countProposal(err)
	if err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.stopCh:
		return nil, ErrStopped
	}
}

func (n *Node) propose(ctx context.Context, command []byte, reqID uint64) error {
	select {
	case <-n.stopCh:
		return ErrStopped
	default:
	}
	if !n.started.Load() {
		return ErrStopped
	}

	st := n.status.Load()
	if st.Role != Leader {
		return n.notLeader(st)
	}

	data := encodeProposal(proposal{
		Origin:    n.raftID,
		ReqID:     reqID,
		Timestamp: n.now().UnixNano(),
		Command:   command,
	})
	err := n.node.Propose(ctx, data)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, etcdraft.ErrProposalDropped):
		if st := n.status.Load(); st.Role != Leader {
			return n.notLeader(st)
		}
		return ErrProposalDropped
	case errors.Is(err, etcdraft.ErrStopped):
		return ErrStopped
	default:
		return err
	}
}

func (n *Node) countProposal(err error) {
	status := "accepted"
	if err != nil {
		status = "rejected"
	}
	n.rec.RaftProposals.WithLabelValues(status).Inc()
}

func encodeProposal(p proposal) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, p.Origin)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, p.ReqID)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Timestamp))
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, p.Command)
	return b
}

func decodeProposal(b []byte) (proposal, error) {
	var p proposal
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return proposal{}, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && num >= 1 && num <= 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return proposal{}, protowire.ParseError(n)
			}
			switch num {
			case 1:
				p.Origin = v
			case 2:
				p.ReqID = v
			case 3:
				p.Timestamp = int64(v)
			}
			b = b[n:]
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return proposal{}, protowire.ParseError(n)
			}
			if len(v) > 0 {
				p.Command = append([]byte(nil), v...)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return proposal{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return p, nil
}
