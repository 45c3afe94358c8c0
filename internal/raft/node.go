// Package raft runs leader election and log replication on etcd's raft
// library. A Node owns one etcd raft.Node and drives it from a single loop
// that ticks the clock, steps inbound messages and processes each Ready:
// persist, send, apply, advance.
package raft

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"quorumdb/internal/metrics"
	"quorumdb/internal/transport"

	etcdraft "go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"
)

type Node struct {
	cfg     Config
	id      string
	raftID  uint64
	peers   peerTable
	client  transport.Client
	storage Storage
	applier Applier
	rec     *metrics.Recorder
	log     *slog.Logger
	now     func() time.Time

	node    etcdraft.Node
	senders map[uint64]*peerSender

	// Owned by the run goroutine.
	role       Role
	lead       uint64
	hs         raftpb.HardState
	lastForced time.Time

	stepInbox chan stepRequest
	stopCh    chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	status    atomic.Pointer[Status]
	applied   atomic.Uint64
	nextReqID atomic.Uint64

	waitMu  sync.Mutex
	waiters map[uint64]chan applyResult
}

// New prepares a node over storage. A nil storage selects MemoryStorage.
// The etcd node is created by Start.
func New(cfg Config, storage Storage, client transport.Client, applier Applier, rec *metrics.Recorder, log *slog.Logger) (*Node, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	peers, err := newPeerTable(cfg.Peers)
	if err != nil {
		return nil, err
	}
	if storage == nil {
		storage = NewMemoryStorage()
	}
	if rec == nil {
		rec = metrics.NewDiscard()
	}
	if log == nil {
		log = slog.Default()
	}

	hs, _, err := storage.RaftStorage().InitialState()
	if err != nil {
		return nil, fmt.Errorf("load hard state: %w", err)
	}

	n := &Node{
		cfg:       cfg,
		id:        cfg.ID,
		raftID:    raftID(cfg.ID),
		peers:     peers,
		client:    client,
		storage:   storage,
		applier:   applier,
		rec:       rec,
		log:       log,
		now:       time.Now,
		senders:   make(map[uint64]*peerSender),
		role:      Follower,
		hs:        hs,
		stepInbox: make(chan stepRequest, cfg.InboxSize),
		stopCh:    make(chan struct{}),
		waiters:   make(map[uint64]chan applyResult),
	}
	n.nextReqID.Store(rand.Uint64() >> 1)

	for id, p := range peers.byID {
		if id == n.raftID {
			continue
		}
		n.senders[id] = &peerSender{
			node:  n,
			id:    id,
			name:  p.name,
			addr:  p.addr,
			queue: make(chan raftpb.Message, cfg.InboxSize),
		}
	}

	n.publishStatus()
	return n, nil
}

func (n *Node) ID() string { return n.id }

// Start creates the etcd node, bootstrapping the voter set on empty storage
// and restarting from it otherwise, and launches the loop and one sender per
// peer. Committed entries found in storage are applied again.
func (n *Node) Start() {
	n.startOnce.Do(func() {
		ms := n.storage.RaftStorage()
		ecfg := n.cfg.etcdConfig(n.raftID, ms, n.log)

		empty, err := isEmpty(ms)
		if err != nil {
			n.log.Error("failed to inspect raft storage", "error", err)
			return
		}
		if empty {
			n.node = etcdraft.StartNode(ecfg, n.peers.bootstrap())
		} else {
			n.node = etcdraft.RestartNode(ecfg)
		}
		n.started.Store(true)

		n.wg.Add(1 + len(n.senders))
		go n.run()
		for _, s := range n.senders {
			go s.run()
		}

		election, heartbeat := n.cfg.ticks()
		n.log.Info("raft loop started",
			"raft_id", n.raftID,
			"peers", len(n.senders),
			"bootstrap", empty,
			"term", n.hs.Term,
			"commit", n.hs.Commit,
			"election_ticks", election,
			"heartbeat_ticks", heartbeat,
		)
	})
}

// Stop halts the loop, the senders and the etcd node and fails outstanding
// ProposeAndWait calls. Storage is left open for the owner to close.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
		n.wg.Wait()
		if n.started.Load() {
			n.node.Stop()
		}
		n.failWaiters(ErrStopped)
		n.log.Info("raft loop stopped")
	})
}

// Status is safe to call from any goroutine.
func (n *Node) Status() Status {
	s := *n.status.Load()
	s.Applied = n.applied.Load()
	return s
}

func (n *Node) IsLeader() bool {
	return n.status.Load().Role == Leader
}

// PeerAddress returns the configured address of a voter.
func (n *Node) PeerAddress(id string) (string, bool) {
	addr, ok := n.cfg.Peers[id]
	return addr, ok
}

func (n *Node) notLeader(st *Status) error {
	return &NotLeaderError{LeaderID: st.LeaderID, LeaderAddress: n.cfg.Peers[st.LeaderID]}
}

func (n *Node) publishStatus() {
	ms := n.storage.RaftStorage()
	last, err := ms.LastIndex()
	if err != nil {
		n.log.Error("failed to read last log index", "error", err)
	}
	lastTerm, err := ms.Term(last)
	if err != nil {
		n.log.Error("failed to read last log term", "index", last, "error", err)
	}

	n.status.Store(&Status{
		ID:          n.id,
		Role:        n.role,
		Term:        n.hs.Term,
		LeaderID:    n.peers.name(n.lead),
		VotedFor:    n.peers.name(n.hs.Vote),
		CommitIndex: n.hs.Commit,
		LastIndex:   last,
		LastTerm:    lastTerm,
	})

	if n.role == Leader {
		n.rec.RaftIsLeader.Set(1)
	} else {
		n.rec.RaftIsLeader.Set(0)
	}
	n.rec.RaftTerm.Set(float64(n.hs.Term))
	n.rec.RaftCommitIndex.Set(float64(n.hs.Commit))
	n.rec.RaftLastLogIndex.Set(float64(last))
}

func unavailable(err error) error {
	if errors.Is(err, ErrStopped) {
		return errors.Join(transport.ErrUnavailable, err)
	}
	return err
}
