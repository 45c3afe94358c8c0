package configuration

import (
	"fmt"
	"slices"

	"quorumdb/internal/configuration/properties"
)

var (
	validConsistency = []string{"one", "quorum", "all"}
	validModes       = []string{"quorum", "log"}
)

// Validate checks cross-field constraints. It expects defaults to have been
// applied.
func Validate(cfg *properties.Config) error {
	if cfg.Node.ID == "" {
		return fmt.Errorf("%w: node.id is required", ErrInvalidConfig)
	}
	if cfg.Node.Address == "" {
		return fmt.Errorf("%w: node.address is required", ErrInvalidConfig)
	}

	r := cfg.Raft
	if r.ElectionTimeoutMin > r.ElectionTimeoutMax {
		return fmt.Errorf("%w: raft.election-timeout-min %s exceeds max %s",
			ErrInvalidConfig, r.ElectionTimeoutMin, r.ElectionTimeoutMax)
	}
	if r.HeartbeatInterval >= r.ElectionTimeoutMin {
		return fmt.Errorf("%w: raft.heartbeat-interval %s must be below election-timeout-min %s",
			ErrInvalidConfig, r.HeartbeatInterval, r.ElectionTimeoutMin)
	}
	if len(r.Peers) > 0 {
		if addr, ok := r.Peers[cfg.Node.ID]; !ok {
			return fmt.Errorf("%w: raft.peers does not contain node %q", ErrInvalidConfig, cfg.Node.ID)
		} else if addr != cfg.Node.Address {
			return fmt.Errorf("%w: raft.peers[%s]=%s differs from node.address %s",
				ErrInvalidConfig, cfg.Node.ID, addr, cfg.Node.Address)
		}
	}

	rep := cfg.Replication
	if !slices.Contains(validConsistency, rep.DefaultConsistency) {
		return fmt.Errorf("%w: replication.default-consistency %q", ErrInvalidConfig, rep.DefaultConsistency)
	}
	if !slices.Contains(validModes, rep.Mode) {
		return fmt.Errorf("%w: replication.mode %q", ErrInvalidConfig, rep.Mode)
	}
	if rep.Mode == "log" && len(r.Peers) == 0 {
		return fmt.Errorf("%w: replication.mode log requires raft.peers", ErrInvalidConfig)
	}

	return nil
}
