package transport

import (
	"context"
	"log/slog"
	"net"
	"time"

	"quorumdb/internal/configuration/properties"
	"quorumdb/internal/metrics"

	"google.golang.org/grpc"
)

const serviceName = "quorumdb.Peer"

func unaryHandler[Req, Resp any](m method[Req, Resp]) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		h := srv.(Handler)
		call := func(ctx context.Context, req any) (any, error) {
			resp, err := m.handle(h, ctx, req.(*Req))
			if err != nil {
				return nil, statusError(err)
			}
			return resp, nil
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: m.fullName()}
		return interceptor(ctx, in, info, call)
	}
}

var peerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodRaft.name, Handler: unaryHandler(methodRaft)},
		{MethodName: methodJoin.name, Handler: unaryHandler(methodJoin)},
		{MethodName: methodHeartbeat.name, Handler: unaryHandler(methodHeartbeat)},
		{MethodName: methodLeave.name, Handler: unaryHandler(methodLeave)},
		{MethodName: methodReplicaWrite.name, Handler: unaryHandler(methodReplicaWrite)},
		{MethodName: methodReplicaRead.name, Handler: unaryHandler(methodReplicaRead)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quorumdb/peer",
}

// Server exposes a Handler on the node's peer address.
type Server struct {
	network              string
	address              string
	maxConcurrentStreams uint32
	cfg                  *properties.TransportConfigProperties
	handler              Handler
	rec                  *metrics.Recorder
	log                  *slog.Logger
	GRPCServer           *grpc.Server
}

func NewServer(cfg *properties.TransportConfigProperties, address string, h Handler, rec *metrics.Recorder, log *slog.Logger) *Server {
	return &Server{
		network:              cfg.Network,
		address:              address,
		maxConcurrentStreams: cfg.MaxConcurrentStreams,
		cfg:                  cfg,
		handler:              h,
		rec:                  rec,
		log:                  log,
	}
}

// Start listens and serves in the background. The returned listener carries
// the bound address, which differs from the configured one for port 0.
func (s *Server) Start() (net.Listener, error) {
	lis, err := net.Listen(s.network, s.address)
	if err != nil {
		return nil, err
	}

	var interceptors []grpc.UnaryServerInterceptor
	if s.rec != nil {
		interceptors = append(interceptors, s.rec.UnaryServerInterceptor())
	}
	if s.cfg.RequestTimeout > 0 {
		interceptors = append(interceptors, timeoutInterceptor(s.cfg.RequestTimeout))
	}

	s.GRPCServer = grpc.NewServer(
		grpc.MaxConcurrentStreams(s.maxConcurrentStreams),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	s.GRPCServer.RegisterService(&peerServiceDesc, s.handler)

	s.log.Info("transport listening for peers", "peer_addr", lis.Addr())

	go func() {
		if err := s.GRPCServer.Serve(lis); err != nil {
			s.log.Error("failed to serve peer listener", "error", err)
		}
	}()

	return lis, nil
}

func (s *Server) Stop() {
	if s.GRPCServer != nil {
		s.GRPCServer.GracefulStop()
	}
}

func timeoutInterceptor(d time.Duration) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {

		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		return handler(ctx, req)
	}
}
