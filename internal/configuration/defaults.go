package configuration

import (
	"time"

	"quorumdb/internal/configuration/properties"
)

const (
	DefaultReplicationFactor = 3
	DefaultVirtualNodes      = 150
	DefaultMissThreshold     = 3
)

func applyDefaults(cfg *properties.Config) {
	if cfg.Application.LogLevel == "" {
		cfg.Application.LogLevel = "info"
	}

	if len(cfg.Node.Roles) == 0 {
		cfg.Node.Roles = []string{"storage", "voter"}
	}

	m := &cfg.Membership
	setDuration(&m.HeartbeatInterval, time.Second)
	setDuration(&m.RPCTimeout, 500*time.Millisecond)
	if m.MissThreshold <= 0 {
		m.MissThreshold = DefaultMissThreshold
	}

	r := &cfg.Raft
	setDuration(&r.ElectionTimeoutMin, 300*time.Millisecond)
	setDuration(&r.ElectionTimeoutMax, 500*time.Millisecond)
	setDuration(&r.HeartbeatInterval, 100*time.Millisecond)
	setDuration(&r.RPCTimeout, 200*time.Millisecond)
	if r.InboxSize <= 0 {
		r.InboxSize = 256
	}
	if r.Wal.Enabled && r.Wal.Dir == "" {
		r.Wal.Dir = "data/" + cfg.Node.ID
	}

	rep := &cfg.Replication
	if rep.Factor <= 0 {
		rep.Factor = DefaultReplicationFactor
	}
	if rep.DefaultConsistency == "" {
		rep.DefaultConsistency = "quorum"
	}
	if rep.Mode == "" {
		rep.Mode = "quorum"
	}
	if rep.VirtualNodes <= 0 {
		rep.VirtualNodes = DefaultVirtualNodes
	}
	setDuration(&rep.WriteTimeout, 2*time.Second)
	setDuration(&rep.ReadTimeout, 2*time.Second)
	setDuration(&rep.VersionLookupTimeout, 100*time.Millisecond)

	t := &cfg.Transport
	if t.Network == "" {
		t.Network = "tcp"
	}
	if t.MaxConcurrentStreams == 0 {
		t.MaxConcurrentStreams = 256
	}
	setDuration(&t.RequestTimeout, 5*time.Second)
	setDuration(&t.KeepaliveTime, 30*time.Second)
	setDuration(&t.KeepaliveTimeout, 5*time.Second)
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}
