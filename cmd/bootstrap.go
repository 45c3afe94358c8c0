package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quorumdb/internal/api"
	"quorumdb/internal/configuration/properties"
	"quorumdb/internal/node"
	"quorumdb/internal/transport"
)

const (
	joinTimeout  = 10 * time.Second
	leaveTimeout = 5 * time.Second
)

// App is a node plus the two servers that expose it.
type App struct {
	cfg  *properties.Config
	log  *slog.Logger
	node *node.Node
	peer *transport.Server
	http *api.Server
}

func NewApp(cfg *properties.Config, log *slog.Logger) (*App, error) {
	n, err := node.New(node.Options{
		Config: properties.NewProvider(cfg),
		Logger: log,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:  cfg,
		log:  log,
		node: n,
		peer: transport.NewServer(&cfg.Transport, cfg.Node.Address, n.Handler(), n.Recorder(), log),
		http: api.NewServer(cfg.Node.HTTPAddress, n, n.Gatherer(), log),
	}, nil
}

// Start opens the peer listener before anything talks to other nodes, then
// starts consensus, joins the cluster and finally serves clients.
func (a *App) Start(ctx context.Context) error {
	if _, err := a.peer.Start(); err != nil {
		return fmt.Errorf("start peer server: %w", err)
	}

	a.node.Start()
	st := a.node.Status()
	a.log.Info("raft status on startup",
		"id", st.Raft.ID,
		"role", st.Raft.Role.String(),
		"term", st.Raft.Term,
		"last_index", st.Raft.LastIndex,
	)

	jctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()
	if err := a.node.Join(jctx, nil); err != nil {
		return fmt.Errorf("join cluster: %w", err)
	}

	if a.cfg.Node.HTTPAddress != "" {
		if _, err := a.http.Start(); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}
	return nil
}

// Shutdown announces departure, stops serving and releases the node.
func (a *App) Shutdown(ctx context.Context) {
	lctx, cancel := context.WithTimeout(ctx, leaveTimeout)
	defer cancel()
	if err := a.node.Leave(lctx); err != nil {
		a.log.Warn("leave failed", "Error", err)
	}

	if a.cfg.Node.HTTPAddress != "" {
		a.http.Stop()
	}
	a.peer.Stop()

	if err := a.node.Stop(); err != nil {
		a.log.Error("node stop failed", "Error", err)
	}
}
