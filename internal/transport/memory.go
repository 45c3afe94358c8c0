package transport

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"quorumdb/internal/wire"
)

// ChaosConfig makes the in-memory network unreliable on purpose.
type ChaosConfig struct {
	DropProb float64
	DelayMin time.Duration
	DelayMax time.Duration
}

// MemoryNetwork connects handlers registered by address inside one process.
// Messages go through the msgpack codec so handlers never share memory with
// the sender. Links can be cut to simulate crashes and partitions.
type MemoryNetwork struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	isolated map[string]bool
	cut      map[[2]string]bool
	chaos    ChaosConfig
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		handlers: make(map[string]Handler),
		isolated: make(map[string]bool),
		cut:      make(map[[2]string]bool),
	}
}

func (n *MemoryNetwork) Register(addr string, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[addr] = h
}

func (n *MemoryNetwork) Unregister(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, addr)
}

// Isolate drops every message to or from addr until Heal is called.
func (n *MemoryNetwork) Isolate(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isolated[addr] = true
}

func (n *MemoryNetwork) Heal(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.isolated, addr)
}

// Partition cuts every link between addresses of different groups. Links
// inside a group are untouched.
func (n *MemoryNetwork) Partition(groups ...[]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, a := range groups {
		for j, b := range groups {
			if i == j {
				continue
			}
			for _, x := range a {
				for _, y := range b {
					n.cut[[2]string{x, y}] = true
				}
			}
		}
	}
}

// HealAll removes every isolation and partition.
func (n *MemoryNetwork) HealAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	clear(n.isolated)
	clear(n.cut)
}

func (n *MemoryNetwork) SetChaos(cfg ChaosConfig) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chaos = cfg
}

// Client returns a Client whose messages originate from addr.
func (n *MemoryNetwork) Client(from string) Client {
	return &memoryClient{net: n, from: from}
}

func (n *MemoryNetwork) route(from, to string) (Handler, ChaosConfig, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.isolated[from] || n.isolated[to] || n.cut[[2]string{from, to}] {
		return nil, ChaosConfig{}, fmt.Errorf("%s -> %s: %w", from, to, ErrUnreachable)
	}
	h, ok := n.handlers[to]
	if !ok {
		return nil, ChaosConfig{}, fmt.Errorf("%s: no listener: %w", to, ErrUnreachable)
	}
	return h, n.chaos, nil
}

type memoryClient struct {
	net  *MemoryNetwork
	from string
}

var _ Client = (*memoryClient)(nil)

func deliver[Req, Resp any](ctx context.Context, c *memoryClient, m method[Req, Resp], addr string, req *Req) (*Resp, error) {
	h, chaos, err := c.net.route(c.from, addr)
	if err != nil {
		return nil, err
	}
	if err := applyChaos(ctx, chaos); err != nil {
		return nil, fmt.Errorf("%s %s: %w", m.name, addr, err)
	}

	in := new(Req)
	if err := copyVia(req, in); err != nil {
		return nil, err
	}

	type result struct {
		resp *Resp
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := m.handle(h, ctx, in)
		done <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s %s: %w", m.name, addr, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		// A partition that formed while the handler ran loses the reply.
		if _, _, err := c.net.route(addr, c.from); err != nil {
			return nil, err
		}
		out := new(Resp)
		if err := copyVia(r.resp, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func copyVia(src, dst any) error {
	codec := msgpackCodec{}
	b, err := codec.Marshal(src)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := codec.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func applyChaos(ctx context.Context, cfg ChaosConfig) error {
	if cfg.DropProb > 0 && rand.Float64() < cfg.DropProb {
		return ErrUnreachable
	}
	if cfg.DelayMax <= 0 {
		return nil
	}
	d := cfg.DelayMin
	if jitter := cfg.DelayMax - cfg.DelayMin; jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter)))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *memoryClient) SendRaft(ctx context.Context, addr string, msg *wire.RaftMessage) (*wire.Ack, error) {
	return deliver(ctx, c, methodRaft, addr, msg)
}

func (c *memoryClient) Join(ctx context.Context, addr string, req *wire.JoinRequest) (*wire.JoinResponse, error) {
	return deliver(ctx, c, methodJoin, addr, req)
}

func (c *memoryClient) Heartbeat(ctx context.Context, addr string, req *wire.Heartbeat) (*wire.HeartbeatAck, error) {
	return deliver(ctx, c, methodHeartbeat, addr, req)
}

func (c *memoryClient) Leave(ctx context.Context, addr string, req *wire.LeaveNotice) (*wire.Ack, error) {
	return deliver(ctx, c, methodLeave, addr, req)
}

func (c *memoryClient) ReplicaWrite(ctx context.Context, addr string, req *wire.ReplicaWrite) (*wire.ReplicaWriteAck, error) {
	return deliver(ctx, c, methodReplicaWrite, addr, req)
}

func (c *memoryClient) ReplicaRead(ctx context.Context, addr string, req *wire.ReplicaRead) (*wire.ReplicaReadResult, error) {
	return deliver(ctx, c, methodReplicaRead, addr, req)
}

func (c *memoryClient) Close() error { return nil }
