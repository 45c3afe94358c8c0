package raft

import (
	"fmt"
	"log/slog"
	"time"

	"quorumdb/internal/configuration/properties"

	etcdraft "go.etcd.io/raft/v3"
)

type Config struct {
	ID string
	// Peers maps every voter id to its address. Self may be omitted.
	Peers              map[string]string
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
	RPCTimeout         time.Duration
	// InboxSize bounds the inbound step queue and each peer's outbound queue.
	InboxSize int
	// MaxSizePerMsg caps the entry bytes carried by one append message.
	MaxSizePerMsg   uint64
	MaxInflightMsgs int
}

func ConfigFromProperties(id, address string, rc *properties.RaftConfigProperties) Config {
	peers := make(map[string]string, len(rc.Peers)+1)
	for pid, addr := range rc.Peers {
		peers[pid] = addr
	}
	peers[id] = address

	return Config{
		ID:                 id,
		Peers:              peers,
		ElectionTimeoutMin: rc.ElectionTimeoutMin,
		ElectionTimeoutMax: rc.ElectionTimeoutMax,
		HeartbeatInterval:  rc.HeartbeatInterval,
		RPCTimeout:         rc.RPCTimeout,
		InboxSize:          rc.InboxSize,
	}
}

func (c *Config) applyDefaults() {
	if c.ElectionTimeoutMin <= 0 {
		c.ElectionTimeoutMin = 300 * time.Millisecond
	}
	if c.ElectionTimeoutMax < c.ElectionTimeoutMin {
		c.ElectionTimeoutMax = c.ElectionTimeoutMin + 200*time.Millisecond
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 100 * time.Millisecond
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = c.ElectionTimeoutMin
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 256
	}
	if c.MaxSizePerMsg == 0 {
		c.MaxSizePerMsg = 1024 * 1024
	}
	if c.MaxInflightMsgs <= 0 {
		c.MaxInflightMsgs = 256
	}
	if c.Peers == nil {
		c.Peers = make(map[string]string)
	}
	if _, ok := c.Peers[c.ID]; !ok {
		c.Peers[c.ID] = ""
	}
}

func (c *Config) validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: empty node id", ErrInvalidConfig)
	}
	if c.HeartbeatInterval >= c.ElectionTimeoutMin {
		return fmt.Errorf("%w: heartbeat interval %s not below election timeout %s",
			ErrInvalidConfig, c.HeartbeatInterval, c.ElectionTimeoutMin)
	}
	return nil
}

// ticks expresses the timeouts on etcd's logical clock, where one tick is
// one heartbeat interval. etcd draws each election timeout from
// [election, 2*election) ticks.
func (c *Config) ticks() (election, heartbeat int) {
	election = int((c.ElectionTimeoutMin + c.HeartbeatInterval - 1) / c.HeartbeatInterval)
	return election, 1
}

func (c *Config) etcdConfig(id uint64, storage etcdraft.Storage, log *slog.Logger) *etcdraft.Config {
	election, heartbeat := c.ticks()
	return &etcdraft.Config{
		ID:                        id,
		ElectionTick:              election,
		HeartbeatTick:             heartbeat,
		Storage:                   storage,
		MaxSizePerMsg:             c.MaxSizePerMsg,
		MaxInflightMsgs:           c.MaxInflightMsgs,
		MaxUncommittedEntriesSize: 1 << 30,
		// A leader cut off from the majority keeps its role; it just cannot
		// commit.
		CheckQuorum:               false,
		PreVote:                   false,
		DisableProposalForwarding: true,
		Logger:                    newRaftLogger(log),
	}
}
