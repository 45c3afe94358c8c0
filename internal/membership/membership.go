// Package membership tracks which nodes are part of the cluster and whether
// they answer heartbeats. The view is local and best effort: two nodes may
// disagree, and a live node can be reported failed during a partition.
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"quorumdb/internal/configuration/properties"
	"quorumdb/internal/metrics"
	"quorumdb/internal/transport"
	"quorumdb/internal/wire"
)

type Config struct {
	ID                string
	Address           string
	Roles             []string
	HeartbeatInterval time.Duration
	// MissThreshold consecutive missed heartbeats mark a peer failed.
	MissThreshold int
	RPCTimeout    time.Duration
}

func ConfigFromProperties(nc *properties.NodeConfigProperties, mc *properties.MembershipConfigProperties) Config {
	return Config{
		ID:                nc.ID,
		Address:           nc.Address,
		Roles:             slices.Clone(nc.Roles),
		HeartbeatInterval: mc.HeartbeatInterval,
		MissThreshold:     mc.MissThreshold,
		RPCTimeout:        mc.RPCTimeout,
	}
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 200 * time.Millisecond
	}
	if c.MissThreshold <= 0 {
		c.MissThreshold = 3
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = c.HeartbeatInterval
	}
}

type member struct {
	Node
	misses int
}

type Membership struct {
	cfg    Config
	self   Node
	client transport.Client
	rec    *metrics.Recorder
	log    *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	joined    bool
	left      bool
	nodes     map[string]*member
	adjacency map[string][]string
	departed  map[string]string // id -> incarnation that left
	version   uint64
	onFailure []func(nodeID string)
	listeners []func(Event)

	view atomic.Pointer[View]

	stopCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates the membership component with a fresh incarnation id. The node
// is not part of any cluster until Join.
func New(cfg Config, client transport.Client, rec *metrics.Recorder, log *slog.Logger) (*Membership, error) {
	if cfg.ID == "" || cfg.Address == "" {
		return nil, ErrInvalidNode
	}
	cfg.applyDefaults()
	if rec == nil {
		rec = metrics.NewDiscard()
	}
	if log == nil {
		log = slog.Default()
	}

	m := &Membership{
		cfg:    cfg,
		client: client,
		rec:    rec,
		log:    log,
		now:    time.Now,
		self: Node{
			ID:          cfg.ID,
			Address:     cfg.Address,
			Roles:       cfg.Roles,
			Status:      Active,
			Incarnation: uuid.NewString(),
		},
		nodes:     make(map[string]*member),
		adjacency: make(map[string][]string),
		departed:  make(map[string]string),
		stopCh:    make(chan struct{}),
	}
	m.publishLocked()
	return m, nil
}

func (m *Membership) Self() Node { return m.self }

// View returns the current snapshot without locking.
func (m *Membership) View() *View { return m.view.Load() }

func (m *Membership) Lookup(id string) (Node, bool) {
	n, ok := m.view.Load().Nodes[id]
	return n, ok
}

// OnFailure registers fn to run once each time a peer transitions to failed.
func (m *Membership) OnFailure(fn func(nodeID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFailure = append(m.onFailure, fn)
}

// Subscribe registers fn for every membership event. Listeners run
// synchronously while the membership lock is held, so they must not call
// back into mutating methods. View and Lookup are safe.
func (m *Membership) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Join registers this node, asks every seed for its member list and starts
// heartbeating. With no seeds the node forms a cluster of one.
func (m *Membership) Join(ctx context.Context, seeds []NodeRef) error {
	m.mu.Lock()
	if m.left {
		m.mu.Unlock()
		return ErrLeft
	}
	if !m.joined {
		m.joined = true
		self := m.self
		self.LastSeen = m.now()
		m.nodes[self.ID] = &member{Node: self}
		m.publishLocked()
		m.emitLocked(Event{Type: EventJoined, Node: self})
	}
	m.mu.Unlock()

	contacted, accepted := 0, 0
	var lastErr error
	for _, seed := range seeds {
		if seed.Address == "" || seed.Address == m.self.Address || seed.ID == m.self.ID {
			continue
		}
		contacted++

		rctx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout)
		resp, err := m.client.Join(rctx, seed.Address, &wire.JoinRequest{Node: m.selfInfo()})
		cancel()
		if err != nil {
			m.log.Warn("seed did not accept join", "seed", seed.Address, "error", err)
			lastErr = err
			continue
		}
		accepted++

		m.mu.Lock()
		m.mergeLocked(resp.Self, true)
		for _, info := range resp.Members {
			m.mergeLocked(info, false)
		}
		m.mu.Unlock()
	}

	if contacted > 0 && accepted == 0 {
		return fmt.Errorf("%w: %w", ErrJoinFailed, lastErr)
	}

	m.log.Info("joined cluster", "seeds_contacted", contacted, "members", len(m.View().Nodes))
	m.start()
	return nil
}

const (
	joinBackoffInitial = 100 * time.Millisecond
	joinBackoffMax     = 2 * time.Second
)

// JoinWithRetry repeats Join until a seed accepts or ctx ends. A seed that
// is still starting answers ErrNotJoined, so the wait between attempts
// doubles up to joinBackoffMax.
func (m *Membership) JoinWithRetry(ctx context.Context, seeds []NodeRef) error {
	wait := joinBackoffInitial
	for attempt := 1; ; attempt++ {
		err := m.Join(ctx, seeds)
		if err == nil || errors.Is(err, ErrLeft) {
			return err
		}

		m.log.Info("join attempt failed", "attempt", attempt, "retry_in", wait, "error", err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		wait = min(2*wait, joinBackoffMax)
	}
}

func (m *Membership) start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.heartbeatLoop()
	})
}

func (m *Membership) heartbeatLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-m.stopCh
		cancel()
	}()

	for {
		select {
		case <-ticker.C:
			if err := m.Heartbeat(ctx); err != nil {
				return
			}
		case <-m.stopCh:
			return
		}
	}
}

// Heartbeat runs one round: every known peer, failed ones included, is sent
// a heartbeat and its miss counter is updated from the outcome.
func (m *Membership) Heartbeat(ctx context.Context) error {
	m.mu.Lock()
	if m.left {
		m.mu.Unlock()
		return ErrLeft
	}
	if !m.joined {
		m.mu.Unlock()
		return ErrNotJoined
	}
	peers := make([]Node, 0, len(m.nodes))
	for id, mem := range m.nodes {
		if id != m.self.ID {
			peers = append(peers, mem.Node)
		}
	}
	msg := &wire.Heartbeat{
		From:      m.selfInfo(),
		Reachable: m.reachableLocked(),
		SentAt:    m.now().UnixNano(),
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rctx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout)
			defer cancel()

			ack, err := m.client.Heartbeat(rctx, peer.Address, msg)
			if ctx.Err() != nil {
				return
			}

			m.mu.Lock()
			defer m.mu.Unlock()
			if err != nil {
				m.missLocked(peer.ID, err)
				return
			}
			m.aliveLocked(ack.From, ack.Reachable)
		}()
	}
	wg.Wait()

	m.mu.Lock()
	m.adjacency[m.self.ID] = m.reachableLocked()
	m.publishLocked()
	m.mu.Unlock()
	return nil
}

// Leave stops heartbeats and tells every peer, without waiting for delivery.
func (m *Membership) Leave(ctx context.Context) error {
	m.mu.Lock()
	if m.left {
		m.mu.Unlock()
		return nil
	}
	m.left = true
	var addrs []string
	for id, mem := range m.nodes {
		if id != m.self.ID {
			addrs = append(addrs, mem.Address)
		}
	}
	m.mu.Unlock()

	m.Stop()

	notice := &wire.LeaveNotice{NodeID: m.self.ID}
	bg := context.WithoutCancel(ctx)
	for _, addr := range addrs {
		go func() {
			rctx, cancel := context.WithTimeout(bg, m.cfg.RPCTimeout)
			defer cancel()
			if _, err := m.client.Leave(rctx, addr, notice); err != nil {
				m.log.Debug("leave notice not delivered", "peer", addr, "error", err)
			}
		}()
	}
	m.log.Info("left cluster", "notified", len(addrs))
	return nil
}

// Stop halts heartbeating without notifying peers.
func (m *Membership) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

func (m *Membership) missLocked(id string, err error) {
	mem, ok := m.nodes[id]
	if !ok {
		return
	}
	mem.misses++
	m.rec.HeartbeatMisses.WithLabelValues(id).Inc()

	prev := mem.Status
	switch {
	case mem.misses >= m.cfg.MissThreshold:
		mem.Status = Failed
	case mem.Status == Active:
		mem.Status = Suspected
	}
	if mem.Status == prev {
		return
	}

	m.publishLocked()
	if mem.Status != Failed {
		m.log.Debug("peer suspected", "peer_id", id, "misses", mem.misses, "error", err)
		return
	}

	m.log.Warn("peer failed", "peer_id", id, "misses", mem.misses, "error", err)
	m.rec.MembershipFailures.Inc()
	m.emitLocked(Event{Type: EventFailed, Node: mem.Node})
	for _, fn := range m.onFailure {
		fn(id)
	}
}

func (m *Membership) aliveLocked(info wire.NodeInfo, reachable []string) {
	m.mergeLocked(info, true)
	if _, ok := m.nodes[info.ID]; ok {
		m.adjacency[info.ID] = slices.Clone(reachable)
	}
}

// mergeLocked folds what a peer said about info into the local view. seen
// is true when info describes the peer that answered, which proves it is
// alive. Second-hand reports only introduce unknown nodes.
func (m *Membership) mergeLocked(info wire.NodeInfo, seen bool) {
	if info.ID == "" || info.ID == m.self.ID {
		return
	}
	if inc, ok := m.departed[info.ID]; ok {
		if inc == info.Incarnation {
			return
		}
		delete(m.departed, info.ID)
	}

	now := m.now()
	mem, ok := m.nodes[info.ID]
	if !ok {
		mem = &member{Node: Node{
			ID:          info.ID,
			Address:     info.Address,
			Roles:       slices.Clone(info.Roles),
			Status:      Active,
			Incarnation: info.Incarnation,
		}}
		if seen {
			mem.LastSeen = now
		}
		m.nodes[info.ID] = mem
		m.publishLocked()
		m.log.Info("node joined", "peer_id", info.ID, "address", info.Address)
		m.emitLocked(Event{Type: EventJoined, Node: mem.Node})
		return
	}

	restarted := info.Incarnation != "" && info.Incarnation != mem.Incarnation
	if !seen && !restarted {
		return
	}

	prev := mem.Status
	mem.Address = info.Address
	mem.Roles = slices.Clone(info.Roles)
	mem.Incarnation = info.Incarnation
	if seen {
		mem.LastSeen = now
		mem.misses = 0
	}
	if seen || restarted {
		mem.Status = Active
	}
	m.publishLocked()

	if prev == Failed && mem.Status == Active {
		m.log.Info("node recovered", "peer_id", info.ID, "restarted", restarted)
		m.emitLocked(Event{Type: EventRecovered, Node: mem.Node})
	}
}

func (m *Membership) removeLocked(id string) {
	mem, ok := m.nodes[id]
	if !ok || id == m.self.ID {
		return
	}
	delete(m.nodes, id)
	delete(m.adjacency, id)
	m.departed[id] = mem.Incarnation
	m.publishLocked()
	m.log.Info("node left", "peer_id", id)
	m.emitLocked(Event{Type: EventLeft, Node: mem.Node})
}

// reachableLocked lists the peers that answered the last heartbeat.
func (m *Membership) reachableLocked() []string {
	out := make([]string, 0, len(m.nodes))
	for id, mem := range m.nodes {
		if id != m.self.ID && mem.Status == Active {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (m *Membership) selfInfo() wire.NodeInfo {
	return wire.NodeInfo{
		ID:          m.self.ID,
		Address:     m.self.Address,
		Roles:       m.self.Roles,
		Incarnation: m.self.Incarnation,
	}
}

func (m *Membership) membersLocked() []wire.NodeInfo {
	out := make([]wire.NodeInfo, 0, len(m.nodes))
	for _, mem := range m.nodes {
		if mem.Status == Failed {
			continue
		}
		out = append(out, wire.NodeInfo{
			ID:          mem.ID,
			Address:     mem.Address,
			Roles:       mem.Roles,
			Incarnation: mem.Incarnation,
		})
	}
	return out
}

func (m *Membership) publishLocked() {
	m.version++
	v := &View{
		Version:   m.version,
		Nodes:     make(map[string]Node, len(m.nodes)),
		Adjacency: make(map[string][]string, len(m.adjacency)),
	}
	for id, mem := range m.nodes {
		v.Nodes[id] = mem.Node
	}
	for id, ids := range m.adjacency {
		v.Adjacency[id] = slices.Clone(ids)
	}
	m.view.Store(v)

	for _, s := range []Status{Active, Suspected, Failed} {
		m.rec.MembershipNodes.WithLabelValues(s.String()).Set(float64(v.Count(s)))
	}
}

func (m *Membership) emitLocked(ev Event) {
	for _, fn := range m.listeners {
		fn(ev)
	}
}
