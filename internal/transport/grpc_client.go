package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"quorumdb/internal/configuration/properties"
	"quorumdb/internal/wire"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// GRPCClient keeps one lazily dialed connection per peer address.
type GRPCClient struct {
	mu     sync.Mutex
	conns  map[string]*grpc.ClientConn
	params keepalive.ClientParameters
	closed bool
}

var _ Client = (*GRPCClient)(nil)

func NewGRPCClient(cfg *properties.TransportConfigProperties) *GRPCClient {
	params := keepalive.ClientParameters{
		Time:                30 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
	if cfg != nil {
		if cfg.KeepaliveTime > 0 {
			params.Time = cfg.KeepaliveTime
		}
		if cfg.KeepaliveTimeout > 0 {
			params.Timeout = cfg.KeepaliveTimeout
		}
	}
	return &GRPCClient{
		conns:  make(map[string]*grpc.ClientConn),
		params: params,
	}
}

func (c *GRPCClient) conn(addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrUnavailable
	}
	if cc, ok := c.conns[addr]; ok {
		return cc, nil
	}

	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(c.params),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c.conns[addr] = cc
	return cc, nil
}

func invoke[Req, Resp any](ctx context.Context, c *GRPCClient, m method[Req, Resp], addr string, req *Req) (*Resp, error) {
	cc, err := c.conn(addr)
	if err != nil {
		return nil, errors.Join(ErrUnreachable, err)
	}
	out := new(Resp)
	if err := cc.Invoke(ctx, m.fullName(), req, out); err != nil {
		return nil, fmt.Errorf("%s %s: %w", m.name, addr, err)
	}
	return out, nil
}

func (c *GRPCClient) SendRaft(ctx context.Context, addr string, msg *wire.RaftMessage) (*wire.Ack, error) {
	return invoke(ctx, c, methodRaft, addr, msg)
}

func (c *GRPCClient) Join(ctx context.Context, addr string, req *wire.JoinRequest) (*wire.JoinResponse, error) {
	return invoke(ctx, c, methodJoin, addr, req)
}

func (c *GRPCClient) Heartbeat(ctx context.Context, addr string, req *wire.Heartbeat) (*wire.HeartbeatAck, error) {
	return invoke(ctx, c, methodHeartbeat, addr, req)
}

func (c *GRPCClient) Leave(ctx context.Context, addr string, req *wire.LeaveNotice) (*wire.Ack, error) {
	return invoke(ctx, c, methodLeave, addr, req)
}

func (c *GRPCClient) ReplicaWrite(ctx context.Context, addr string, req *wire.ReplicaWrite) (*wire.ReplicaWriteAck, error) {
	return invoke(ctx, c, methodReplicaWrite, addr, req)
}

func (c *GRPCClient) ReplicaRead(ctx context.Context, addr string, req *wire.ReplicaRead) (*wire.ReplicaReadResult, error) {
	return invoke(ctx, c, methodReplicaRead, addr, req)
}

func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	var errs []error
	for addr, cc := range c.conns {
		if err := cc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
		delete(c.conns, addr)
	}
	return errors.Join(errs...)
}
