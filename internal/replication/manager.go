// Package replication coordinates reads and writes across the replica set
// of a key. Any node can coordinate: it asks the ring for the key's
// replicas, fans the operation out and waits until the consistency level's
// threshold of replicas has answered.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"quorumdb/internal/membership"
	"quorumdb/internal/metrics"
	"quorumdb/internal/statemachine"
	"quorumdb/internal/storage"
	"quorumdb/internal/transport"
	"quorumdb/internal/types"
	"quorumdb/internal/wire"
)

type Placement interface {
	ReplicasFor(key string, n int) []string
}

// Directory resolves node ids to addresses and liveness.
type Directory interface {
	Lookup(id string) (membership.Node, bool)
}

// Proposer commits commands through the consensus log. The applied result
// of a write command is its types.Item.
type Proposer interface {
	ProposeAndWait(ctx context.Context, command []byte) (any, error)
}

type WriteResult struct {
	Key       string   `json:"key"`
	Version   uint64   `json:"version"`
	Timestamp int64    `json:"timestamp"`
	Replicas  []string `json:"replicas"`
	Required  int      `json:"required"`
	Acked     int      `json:"acked"`
}

type Manager struct {
	cfg       Config
	store     *storage.Service
	placement Placement
	directory Directory
	client    transport.Client
	consensus Proposer
	rec       *metrics.Recorder
	log       *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	issued  map[string]uint64
	lookups map[string]int

	repairs sync.WaitGroup
}

// New builds a Manager. consensus may be nil unless cfg.Mode is ModeLog.
func New(cfg Config, store *storage.Service, placement Placement, directory Directory, client transport.Client, consensus Proposer, rec *metrics.Recorder, log *slog.Logger) (*Manager, error) {
	cfg.applyDefaults()
	if cfg.Mode == ModeLog && consensus == nil {
		return nil, ErrNoConsensus
	}
	if rec == nil {
		rec = metrics.NewDiscard()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		store:     store,
		placement: placement,
		directory: directory,
		client:    client,
		consensus: consensus,
		rec:       rec,
		log:       log,
		now:       time.Now,
		issued:    make(map[string]uint64),
		lookups:   make(map[string]int),
	}, nil
}

func (m *Manager) DefaultConsistency() Consistency { return m.cfg.DefaultConsistency }

// Write stores value under key on the key's replicas. An empty level uses
// the configured default.
func (m *Manager) Write(ctx context.Context, key string, value []byte, level Consistency) (res WriteResult, err error) {
	start := m.now()
	level, err = m.level(level)
	if err != nil {
		return WriteResult{}, err
	}
	defer func() { m.observe("write", level, start, err) }()

	if key == "" {
		return WriteResult{}, ErrEmptyKey
	}
	replicas := m.placement.ReplicasFor(key, m.cfg.Factor)
	if len(replicas) == 0 {
		return WriteResult{}, ErrNoReplicas
	}
	required := RequiredAcks(level, len(replicas))

	// Nothing is sent when known-down replicas already rule the level out.
	if live := m.liveCount(replicas); live < required {
		return WriteResult{}, &ConsistencyError{
			Op: "write", Level: level, Replicas: len(replicas), Required: required, Acked: 0,
		}
	}

	var item types.Item
	if m.cfg.Mode == ModeLog {
		item, err = m.commit(ctx, key, value)
		if err != nil {
			return WriteResult{}, err
		}
	} else {
		item = types.Item{
			Key:       key,
			Value:     value,
			Version:   m.nextVersion(ctx, key, replicas),
			Writer:    m.cfg.Self,
			Timestamp: m.now().UnixNano(),
		}
	}

	ch := fanOut(ctx, replicas, m.cfg.WriteTimeout, func(ctx context.Context, id string) (bool, error) {
		return m.writeReplica(ctx, id, item)
	})
	acks, lastErr := gather(ctx, ch, len(replicas), required, m.cfg.WriteTimeout)
	if m.cfg.Mode != ModeLog {
		m.settleVersion(key, item.Version, len(acks) > 0)
	}

	res = WriteResult{
		Key:       key,
		Version:   item.Version,
		Timestamp: item.Timestamp,
		Replicas:  replicas,
		Required:  required,
		Acked:     len(acks),
	}
	if len(acks) < required {
		m.log.Warn("write did not reach consistency level",
			"key", key, "level", level, "required", required, "acked", len(acks), "error", lastErr)
		return res, &ConsistencyError{
			Op: "write", Level: level, Replicas: len(replicas), Required: required, Acked: len(acks), Last: lastErr,
		}
	}
	return res, nil
}

// Read returns the last-writer-wins item among the replicas that answered.
func (m *Manager) Read(ctx context.Context, key string, level Consistency) (item types.Item, err error) {
	start := m.now()
	level, err = m.level(level)
	if err != nil {
		return types.Item{}, err
	}
	defer func() { m.observe("read", level, start, err) }()

	if key == "" {
		return types.Item{}, ErrEmptyKey
	}
	replicas := m.placement.ReplicasFor(key, m.cfg.Factor)
	if len(replicas) == 0 {
		return types.Item{}, ErrNoReplicas
	}
	required := RequiredAcks(level, len(replicas))

	ch := fanOut(ctx, replicas, m.cfg.ReadTimeout, m.readReplica(key))
	answers, lastErr := gather(ctx, ch, len(replicas), required, m.cfg.ReadTimeout)
	if len(answers) < required {
		return types.Item{}, &ConsistencyError{
			Op: "read", Level: level, Replicas: len(replicas), Required: required, Acked: len(answers), Last: lastErr,
		}
	}

	found := make([]types.Item, 0, len(answers))
	for _, a := range answers {
		if a.val.Found {
			found = append(found, a.val.Item)
		}
	}
	best, ok := types.Latest(found)
	if !ok {
		return types.Item{}, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}

	if m.cfg.ReadRepair {
		for _, a := range answers {
			if !a.val.Found || types.Newer(best, a.val.Item) {
				m.repair(a.id, best)
			}
		}
	}
	return best, nil
}

// Close waits for outstanding read repairs.
func (m *Manager) Close() {
	m.repairs.Wait()
}

func (m *Manager) repair(id string, item types.Item) {
	m.rec.ReadRepairs.Inc()
	m.repairs.Add(1)
	go func() {
		defer m.repairs.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
		defer cancel()
		if _, err := m.writeReplica(ctx, id, item); err != nil {
			m.log.Debug("read repair failed", "replica", id, "key", item.Key, "error", err)
		}
	}()
}

// commit routes the write through the consensus log. The committed entry
// fixes the item's version and timestamp.
func (m *Manager) commit(ctx context.Context, key string, value []byte) (types.Item, error) {
	cmd := statemachine.Command{
		Key:       key,
		Value:     value,
		Writer:    m.cfg.Self,
		Timestamp: m.now().UnixNano(),
		OpID:      uuid.NewString(),
	}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	res, err := m.consensus.ProposeAndWait(cctx, cmd.Marshal())
	if err != nil {
		return types.Item{}, fmt.Errorf("commit %q: %w", key, err)
	}
	item, ok := res.(types.Item)
	if !ok {
		return types.Item{}, fmt.Errorf("commit %q: unexpected apply result %T", key, res)
	}
	return item, nil
}

// nextVersion is one past the highest version this node has issued, holds,
// or hears from a replica within the lookup window.
func (m *Manager) nextVersion(ctx context.Context, key string, replicas []string) uint64 {
	remote := make([]string, 0, len(replicas))
	for _, id := range replicas {
		if id != m.cfg.Self {
			remote = append(remote, id)
		}
	}

	m.mu.Lock()
	m.lookups[key]++
	m.mu.Unlock()

	var highest uint64
	if len(remote) > 0 {
		ch := fanOut(ctx, remote, m.cfg.VersionLookupTimeout, m.readReplica(key))
		timer := time.NewTimer(m.cfg.VersionLookupTimeout)
		defer timer.Stop()
	collect:
		for range remote {
			select {
			case r := <-ch:
				if r.err == nil && r.val.Found && r.val.Item.Version > highest {
					highest = r.val.Item.Version
				}
			case <-timer.C:
				break collect
			case <-ctx.Done():
				break collect
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookups[key]--; m.lookups[key] == 0 {
		delete(m.lookups, key)
	}
	held := max(highest, m.store.Version(key))
	if issued, ok := m.issued[key]; ok && held >= issued {
		delete(m.issued, key)
	}
	next := max(held, m.issued[key]) + 1
	m.issued[key] = next
	return next
}

// settleVersion forgets the version issued for key once a replica holds it.
// The local store is consulted under the lock on every issue, so holding it
// there is always enough. A remote ack only counts while no lookup for key
// is in flight: a lookup that started earlier may have missed it.
func (m *Manager) settleVersion(key string, version uint64, acked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issued, ok := m.issued[key]
	if !ok || issued > version {
		return
	}
	if m.store.Version(key) >= issued || (acked && m.lookups[key] == 0) {
		delete(m.issued, key)
	}
}

func (m *Manager) writeReplica(ctx context.Context, id string, item types.Item) (bool, error) {
	if id == m.cfg.Self {
		return m.store.Put(item), nil
	}
	addr, err := m.address(id)
	if err != nil {
		return false, err
	}
	ack, err := m.client.ReplicaWrite(ctx, addr, &wire.ReplicaWrite{Item: item})
	if err != nil {
		return false, fmt.Errorf("write replica %s: %w", id, err)
	}
	return ack.Applied, nil
}

func (m *Manager) readReplica(key string) func(context.Context, string) (wire.ReplicaReadResult, error) {
	return func(ctx context.Context, id string) (wire.ReplicaReadResult, error) {
		if id == m.cfg.Self {
			it, ok := m.store.Get(key)
			return wire.ReplicaReadResult{Found: ok, Item: it}, nil
		}
		addr, err := m.address(id)
		if err != nil {
			return wire.ReplicaReadResult{}, err
		}
		res, err := m.client.ReplicaRead(ctx, addr, &wire.ReplicaRead{Key: key})
		if err != nil {
			return wire.ReplicaReadResult{}, fmt.Errorf("read replica %s: %w", id, err)
		}
		return *res, nil
	}
}

func (m *Manager) address(id string) (string, error) {
	n, ok := m.directory.Lookup(id)
	if !ok {
		return "", fmt.Errorf("replica %s: %w", id, transport.ErrUnreachable)
	}
	return n.Address, nil
}

// liveCount counts replicas not currently suspected or failed.
func (m *Manager) liveCount(replicas []string) int {
	live := 0
	for _, id := range replicas {
		if id == m.cfg.Self {
			live++
			continue
		}
		if n, ok := m.directory.Lookup(id); ok && n.Status == membership.Active {
			live++
		}
	}
	return live
}

func (m *Manager) level(level Consistency) (Consistency, error) {
	if level == "" {
		return m.cfg.DefaultConsistency, nil
	}
	return ParseConsistency(string(level))
}

func (m *Manager) observe(op string, level Consistency, start time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrConsistencyNotMet):
		result = "consistency_not_met"
		m.rec.ConsistencyFailures.WithLabelValues(op, string(level)).Inc()
	case errors.Is(err, ErrKeyNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	m.rec.ReplicaOpsTotal.WithLabelValues(op, string(level), result).Inc()
	m.rec.ReplicaOpDuration.WithLabelValues(op).Observe(m.now().Sub(start).Seconds())
}
