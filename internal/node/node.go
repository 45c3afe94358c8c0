// Package node wires one cluster member together: membership, the
// consistent-hash ring, the consensus engine, the local replica store and
// the data manager, all answering on a single peer transport handler.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"quorumdb/internal/configuration/properties"
	"quorumdb/internal/logging"
	"quorumdb/internal/membership"
	"quorumdb/internal/metrics"
	"quorumdb/internal/raft"
	"quorumdb/internal/replication"
	"quorumdb/internal/ring"
	"quorumdb/internal/statemachine"
	"quorumdb/internal/storage"
	"quorumdb/internal/transport"
	"quorumdb/internal/types"
)

// RoleStorage marks nodes that hold replicas. A node configured without
// roles holds replicas too.
const RoleStorage = "storage"

type Options struct {
	Config properties.ConfigProvider
	// Client reaches other nodes. Nil selects a gRPC client built from the
	// transport configuration.
	Client transport.Client
	// LogStorage overrides the consensus log storage chosen by configuration.
	LogStorage raft.Storage
	Logger     *slog.Logger
}

type Node struct {
	id       string
	cfg      properties.ConfigProvider
	log      *slog.Logger
	registry *prometheus.Registry
	rec      *metrics.Recorder

	client     transport.Client
	ownsClient bool
	logStorage raft.Storage

	ring    *ring.Ring
	store   *storage.Service
	members *membership.Membership
	sm      *statemachine.StateMachine
	raft    *raft.Node
	data    *replication.Manager
	router  *transport.Router

	stopOnce sync.Once
	stopErr  error
}

type Status struct {
	ID          string           `json:"id"`
	Raft        raft.Status      `json:"raft"`
	View        *membership.View `json:"view"`
	RingMembers []string         `json:"ring_members"`
	LocalKeys   int              `json:"local_keys"`
	Mode        replication.Mode `json:"mode"`
}

func New(opts Options) (*Node, error) {
	cfg := opts.Config
	nc := cfg.GetNode()

	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	log := logging.ForNode(base, nc.ID)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.New(registry)

	n := &Node{
		id:       nc.ID,
		cfg:      cfg,
		log:      log,
		registry: registry,
		rec:      rec,
		client:   opts.Client,
	}
	if n.client == nil {
		n.client = transport.NewGRPCClient(cfg.GetTransport())
		n.ownsClient = true
	}

	n.ring = ring.New(cfg.GetReplication().VirtualNodes)
	n.store = storage.NewService(rec)

	members, err := membership.New(
		membership.ConfigFromProperties(nc, cfg.GetMembership()),
		n.client, rec, log.With("component", "membership"))
	if err != nil {
		return nil, err
	}
	n.members = members
	members.Subscribe(n.onMembershipEvent)

	repCfg, err := replication.ConfigFromProperties(nc.ID, cfg.GetReplication())
	if err != nil {
		return nil, err
	}

	n.sm = statemachine.New(nc.ID, repCfg.Factor, n.store, n.ring, log.With("component", "statemachine"))

	n.logStorage = opts.LogStorage
	if n.logStorage == nil {
		if n.logStorage, err = openLogStorage(cfg.GetRaft(), log); err != nil {
			return nil, err
		}
	}

	n.raft, err = raft.New(
		raft.ConfigFromProperties(nc.ID, nc.Address, cfg.GetRaft()),
		n.logStorage, n.client, n.sm, rec, log.With("component", "raft"))
	if err != nil {
		_ = n.logStorage.Close()
		return nil, err
	}

	n.data, err = replication.New(repCfg, n.store, n.ring, n.members, n.client, n.raft, rec, log.With("component", "replication"))
	if err != nil {
		_ = n.logStorage.Close()
		return nil, err
	}

	n.router = &transport.Router{Consensus: n.raft, Cluster: n.members, Replica: n.data}
	return n, nil
}

func openLogStorage(rc *properties.RaftConfigProperties, log *slog.Logger) (raft.Storage, error) {
	if !rc.Wal.Enabled {
		return raft.NewMemoryStorage(), nil
	}
	s, err := raft.OpenWALStorage(rc.Wal.Dir, rc.Wal.NoSync, log)
	if err != nil {
		return nil, fmt.Errorf("open raft wal %s: %w", rc.Wal.Dir, err)
	}
	return s, nil
}

func (n *Node) ID() string { return n.id }

// Handler answers every peer message addressed to this node.
func (n *Node) Handler() transport.Handler { return n.router }

func (n *Node) Recorder() *metrics.Recorder { return n.rec }

func (n *Node) Gatherer() prometheus.Gatherer { return n.registry }

// Start runs the consensus engine. The node joins the data plane with Join.
func (n *Node) Start() {
	n.raft.Start()
}

// Join contacts seeds, or the configured seeds when none are given, and
// keeps retrying until one accepts or ctx ends. Seeds started at the same
// time may not have joined yet themselves.
func (n *Node) Join(ctx context.Context, seeds []membership.NodeRef) error {
	if len(seeds) == 0 {
		for _, addr := range n.cfg.GetNode().Seeds {
			seeds = append(seeds, membership.NodeRef{Address: addr})
		}
	}
	return n.members.JoinWithRetry(ctx, seeds)
}

func (n *Node) Leave(ctx context.Context) error {
	return n.members.Leave(ctx)
}

func (n *Node) Write(ctx context.Context, key string, value []byte, level replication.Consistency) (replication.WriteResult, error) {
	return n.data.Write(ctx, key, value, level)
}

func (n *Node) Read(ctx context.Context, key string, level replication.Consistency) (types.Item, error) {
	return n.data.Read(ctx, key, level)
}

func (n *Node) Status() Status {
	return Status{
		ID:          n.id,
		Raft:        n.raft.Status(),
		View:        n.members.View(),
		RingMembers: n.ring.Nodes(),
		LocalKeys:   n.store.Len(),
		Mode:        replication.Mode(n.cfg.GetReplication().Mode),
	}
}

// Stop halts heartbeats and the consensus engine and releases storage and
// connections. Peers are not notified; use Leave first for that.
func (n *Node) Stop() error {
	n.stopOnce.Do(func() {
		n.members.Stop()
		n.raft.Stop()
		n.data.Close()

		var errs []error
		if err := n.logStorage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log storage: %w", err))
		}
		if n.ownsClient {
			if err := n.client.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close client: %w", err))
			}
		}
		n.stopErr = errors.Join(errs...)
		n.log.Info("node stopped")
	})
	return n.stopErr
}

// onMembershipEvent keeps the ring in step with the view. It runs under the
// membership lock, so the ring has changed by the time the mutation returns.
func (n *Node) onMembershipEvent(ev membership.Event) {
	if !holdsData(ev.Node) {
		return
	}
	switch ev.Type {
	case membership.EventJoined, membership.EventRecovered:
		n.ring.AddNode(ev.Node.ID)
	case membership.EventFailed, membership.EventLeft:
		n.ring.RemoveNode(ev.Node.ID)
	}
	n.log.Debug("ring updated", "event", ev.Type.String(), "peer_id", ev.Node.ID, "ring_size", n.ring.Len())
}

func holdsData(m membership.Node) bool {
	return len(m.Roles) == 0 || slices.Contains(m.Roles, RoleStorage)
}
