// Package api is the HTTP face of a node: the key/value data API, cluster
// administration and metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quorumdb/internal/membership"
	"quorumdb/internal/node"
	"quorumdb/internal/replication"
	"quorumdb/internal/types"
)

const maxValueBytes = 1 << 20

// Service is what the API needs from a node.
type Service interface {
	Write(ctx context.Context, key string, value []byte, level replication.Consistency) (replication.WriteResult, error)
	Read(ctx context.Context, key string, level replication.Consistency) (types.Item, error)
	Join(ctx context.Context, seeds []membership.NodeRef) error
	Leave(ctx context.Context) error
	Status() node.Status
}

var _ Service = (*node.Node)(nil)

type Server struct {
	svc        Service
	gatherer   prometheus.Gatherer
	log        *slog.Logger
	router     *mux.Router
	httpServer *http.Server
}

func NewServer(addr string, svc Service, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		svc:      svc,
		gatherer: gatherer,
		log:      log,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.logRequests)

	kv := s.router.PathPrefix("/kv").Subrouter()
	// Keys may contain slashes.
	kv.HandleFunc("/{key:.+}", s.putHandler).Methods(http.MethodPut)
	kv.HandleFunc("/{key:.+}", s.getHandler).Methods(http.MethodGet)

	cluster := s.router.PathPrefix("/cluster").Subrouter()
	cluster.HandleFunc("/join", s.joinHandler).Methods(http.MethodPost)
	cluster.HandleFunc("/leave", s.leaveHandler).Methods(http.MethodPost)
	cluster.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)

	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
}

func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and serves in the background.
func (s *Server) Start() (net.Listener, error) {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, err
	}
	s.log.Info("http server starting", "addr", lis.Addr().String())
	go func() {
		if err := s.httpServer.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", "error", err)
		}
	}()
	return lis, nil
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Error("http server shutdown error", "error", err)
	}
	s.log.Info("http server stopped")
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.log.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "status", rw.status, "duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
