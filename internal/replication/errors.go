package replication

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConsistency = errors.New("replication: invalid consistency level")
	ErrConsistencyNotMet  = errors.New("replication: consistency level not met")
	ErrKeyNotFound        = errors.New("replication: key not found")
	ErrNoReplicas         = errors.New("replication: no replicas for key")
	ErrNoConsensus        = errors.New("replication: log mode requires a consensus engine")
	ErrEmptyKey           = errors.New("replication: empty key")
)

// ConsistencyError reports an operation that did not collect enough
// acknowledgements before its deadline. Replicas that did apply a write keep
// it.
type ConsistencyError struct {
	Op       string
	Level    Consistency
	Replicas int
	Required int
	Acked    int
	// Last is the last replica error seen, if any.
	Last error
}

func (e *ConsistencyError) Error() string {
	msg := fmt.Sprintf("replication: %s at %s needs %d of %d replicas, got %d",
		e.Op, e.Level, e.Required, e.Replicas, e.Acked)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *ConsistencyError) Is(target error) bool {
	return target == ErrConsistencyNotMet
}

func (e *ConsistencyError) Unwrap() error { return e.Last }
