package replication

import (
	"fmt"
	"strings"
)

// Consistency is how many replicas must answer before an operation succeeds.
type Consistency string

const (
	One    Consistency = "one"
	Quorum Consistency = "quorum"
	All    Consistency = "all"
)

func ParseConsistency(s string) (Consistency, error) {
	switch c := Consistency(strings.ToLower(strings.TrimSpace(s))); c {
	case One, Quorum, All:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidConsistency, s)
	}
}

// RequiredAcks is the acknowledgement threshold of level over a replica set
// of size replicas.
func RequiredAcks(level Consistency, replicas int) int {
	if replicas <= 0 {
		return 0
	}
	switch level {
	case One:
		return 1
	case All:
		return replicas
	default:
		return replicas/2 + 1
	}
}

// Mode selects how writes reach replicas.
type Mode string

const (
	// ModeQuorum writes straight to the replica set.
	ModeQuorum Mode = "quorum"
	// ModeLog commits every write through the consensus log first.
	ModeLog Mode = "log"
)
