package raft

import (
	"quorumdb/internal/wire"

	"go.etcd.io/raft/v3/raftpb"
)

type applyResult struct {
	value any
	err   error
}

func (n *Node) applyEntries(entries []raftpb.Entry) {
	for _, e := range entries {
		var (
			reqID uint64
			res   applyResult
		)
		switch e.Type {
		case raftpb.EntryNormal:
			reqID, res = n.applyNormal(e)
		case raftpb.EntryConfChange:
			n.applyConfChange(e)
		default:
			n.log.Warn("ignoring unsupported entry type", "index", e.Index, "term", e.Term, "type", e.Type.String())
		}
		n.applied.Store(e.Index)
		n.rec.RaftAppliedIndex.Set(float64(e.Index))
		if reqID != 0 {
			n.resolveWaiter(reqID, res)
		}
	}
}

// applyNormal hands a command to the Applier and returns the waiter to
// resolve, if this node proposed the entry. Entries without data are the
// empty entries a new leader appends.
func (n *Node) applyNormal(e raftpb.Entry) (uint64, applyResult) {
	var res applyResult
	if len(e.Data) == 0 {
		return 0, res
	}
	p, err := decodeProposal(e.Data)
	if err != nil {
		n.log.Error("undecodable log entry", "index", e.Index, "term", e.Term, "error", err)
		return 0, res
	}

	entry := wire.Entry{Term: e.Term, Index: e.Index, Command: p.Command, Timestamp: p.Timestamp}
	if !entry.IsNoop() && n.applier != nil {
		res.value, res.err = n.applier.Apply(entry)
		if res.err != nil {
			n.log.Warn("apply failed", "index", e.Index, "term", e.Term, "error", res.err)
		}
	}
	if p.Origin != n.raftID {
		return 0, res
	}
	return p.ReqID, res
}

func (n *Node) applyConfChange(e raftpb.Entry) {
	var cc raftpb.ConfChange
	if err := cc.Unmarshal(e.Data); err != nil {
		n.log.Error("failed to unmarshal conf change", "index", e.Index, "error", err)
		return
	}

	cs := n.node.ApplyConfChange(cc)
	if err := n.storage.SaveConfState(*cs); err != nil {
		n.log.Error("failed to persist conf state", "index", e.Index, "error", err)
	}
	n.log.Debug("applied conf change",
		"index", e.Index,
		"type", cc.Type.String(),
		"node", n.peers.name(cc.NodeID),
		"voters", len(cs.Voters),
	)
}

func (n *Node) addWaiter(reqID uint64, ch chan applyResult) {
	n.waitMu.Lock()
	defer n.waitMu.Unlock()
	n.waiters[reqID] = ch
}

func (n *Node) removeWaiter(reqID uint64) {
	n.waitMu.Lock()
	defer n.waitMu.Unlock()
	delete(n.waiters, reqID)
}

func (n *Node) resolveWaiter(reqID uint64, res applyResult) {
	n.waitMu.Lock()
	ch, ok := n.waiters[reqID]
	delete(n.waiters, reqID)
	n.waitMu.Unlock()

	if ok {
		ch <- res
	}
}

func (n *Node) failWaiters(err error) {
	n.waitMu.Lock()
	defer n.waitMu.Unlock()
	for id, ch := range n.waiters {
		ch <- applyResult{err: err}
		delete(n.waiters, id)
	}
}
