// Package wire defines the messages exchanged between nodes. The types carry
// msgpack tags and are encoded by the transport codec.
package wire

import "quorumdb/internal/types"

// Entry is a committed log entry as handed to the state machine.
type Entry struct {
	Term      uint64 `msgpack:"term"`
	Index     uint64 `msgpack:"index"`
	Command   []byte `msgpack:"cmd"`
	Timestamp int64  `msgpack:"ts"`
}

// IsNoop reports whether the entry carries no command. Leaders append one
// on election.
func (e Entry) IsNoop() bool {
	return len(e.Command) == 0
}

// Consensus message kinds. Each raft protocol message is sent as one of
// these; the kind also labels message metrics.
const (
	KindVoteRequest       = "vote_request"
	KindVoteResponse      = "vote_response"
	KindAppendEntries     = "append_entries"
	KindAppendResponse    = "append_response"
	KindHeartbeat         = "heartbeat"
	KindHeartbeatResponse = "heartbeat_response"
	KindSnapshot          = "snapshot"
	KindTimeoutNow        = "timeout_now"
	KindOther             = "other"
)

// RaftMessage carries one consensus message. Data is the protobuf encoding
// of the engine's message; From and To are node ids.
type RaftMessage struct {
	Kind string `msgpack:"kind"`
	From string `msgpack:"from"`
	To   string `msgpack:"to"`
	Data []byte `msgpack:"data"`
}

// NodeInfo identifies a cluster member on the wire.
type NodeInfo struct {
	ID          string   `msgpack:"id"`
	Address     string   `msgpack:"address"`
	Roles       []string `msgpack:"roles"`
	Incarnation string   `msgpack:"incarnation"`
}

type JoinRequest struct {
	Node NodeInfo `msgpack:"node"`
}

type JoinResponse struct {
	Self    NodeInfo   `msgpack:"self"`
	Members []NodeInfo `msgpack:"members"`
}

type Heartbeat struct {
	From      NodeInfo `msgpack:"from"`
	Reachable []string `msgpack:"reachable"`
	SentAt    int64    `msgpack:"sent_at"`
}

type HeartbeatAck struct {
	From      NodeInfo `msgpack:"from"`
	Reachable []string `msgpack:"reachable"`
}

type LeaveNotice struct {
	NodeID string `msgpack:"node_id"`
}

type Ack struct {
	OK bool `msgpack:"ok"`
}

type ReplicaWrite struct {
	Item types.Item `msgpack:"item"`
}

// ReplicaWriteAck acknowledges a replica write. Applied is false when the
// replica already held a newer item; the write still counts as acknowledged.
type ReplicaWriteAck struct {
	Applied bool `msgpack:"applied"`
}

type ReplicaRead struct {
	Key string `msgpack:"key"`
}

type ReplicaReadResult struct {
	Found bool       `msgpack:"found"`
	Item  types.Item `msgpack:"item"`
}
