package raft

import (
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
	etcdraft "go.etcd.io/raft/v3"
)

// raftID is the uint64 etcd raft knows a node by. It depends only on the
// node id, so every node derives the same mapping.
func raftID(name string) uint64 {
	return xxhash.Sum64String(name)
}

type peer struct {
	name string
	addr string
}

// peerTable is the static voter set, indexed both ways.
type peerTable struct {
	byName map[string]uint64
	byID   map[uint64]peer
}

func newPeerTable(peers map[string]string) (peerTable, error) {
	t := peerTable{
		byName: make(map[string]uint64, len(peers)),
		byID:   make(map[uint64]peer, len(peers)),
	}
	for name, addr := range peers {
		id := raftID(name)
		if id == etcdraft.None {
			return peerTable{}, fmt.Errorf("%w: node id %q hashes to zero", ErrInvalidConfig, name)
		}
		if other, ok := t.byID[id]; ok {
			return peerTable{}, fmt.Errorf("%w: node ids %q and %q collide", ErrInvalidConfig, name, other.name)
		}
		t.byName[name] = id
		t.byID[id] = peer{name: name, addr: addr}
	}
	return t, nil
}

func (t peerTable) contains(id uint64) bool {
	_, ok := t.byID[id]
	return ok
}

// name returns "" for etcdraft.None and for unknown ids.
func (t peerTable) name(id uint64) string {
	return t.byID[id].name
}

// bootstrap lists the voters in id order so that every node writes the
// same initial configuration entries.
func (t peerTable) bootstrap() []etcdraft.Peer {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]etcdraft.Peer, 0, len(names))
	for _, name := range names {
		id := t.byName[name]
		out = append(out, etcdraft.Peer{ID: id, Context: []byte(t.byID[id].addr)})
	}
	return out
}
