package raft

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLeader is matched by every *NotLeaderError.
	ErrNotLeader = errors.New("raft: not the leader")

	ErrStopped = errors.New("raft: node stopped")

	// ErrProposalDropped is returned when the leader refuses a proposal, for
	// instance while it hands over leadership.
	ErrProposalDropped = errors.New("raft: proposal dropped")

	// ErrUnknownPeer rejects consensus messages from nodes outside the voter
	// set.
	ErrUnknownPeer = errors.New("raft: message from unknown peer")

	ErrLogCorrupted  = errors.New("raft: log corrupted")
	ErrInvalidConfig = errors.New("raft: invalid configuration")
)

// NotLeaderError carries the leader this node currently believes in, empty
// when unknown.
type NotLeaderError struct {
	LeaderID      string
	LeaderAddress string
}

func (e *NotLeaderError) Error() string {
	if e.LeaderID == "" {
		return "raft: not the leader (leader unknown)"
	}
	return fmt.Sprintf("raft: not the leader (leader is %s)", e.LeaderID)
}

func (e *NotLeaderError) Is(target error) bool {
	return target == ErrNotLeader
}
