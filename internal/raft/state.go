package raft

type Role uint8

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Status is a point-in-time copy of the engine's state.
type Status struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	Term        uint64 `json:"term"`
	LeaderID    string `json:"leader_id"`
	VotedFor    string `json:"voted_for"`
	CommitIndex uint64 `json:"commit_index"`
	Applied     uint64 `json:"applied_index"`
	LastIndex   uint64 `json:"last_index"`
	LastTerm    uint64 `json:"last_term"`
}

func (s Status) IsLeader() bool {
	return s.Role == Leader
}
