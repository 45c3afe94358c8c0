package membership

import (
	"cmp"
	"slices"
	"time"
)

type Status int

const (
	Active Status = iota
	Suspected
	Failed
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Suspected:
		return "suspected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// NodeRef addresses a node before its id is known. ID may be empty for seeds.
type NodeRef struct {
	ID      string
	Address string
}

type Node struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	Roles       []string  `json:"roles,omitempty"`
	Status      Status    `json:"status"`
	LastSeen    time.Time `json:"last_seen"`
	Incarnation string    `json:"incarnation"`
}

// View is an immutable snapshot of the cluster as this node sees it. Every
// change publishes a new View with a higher Version.
type View struct {
	Version   uint64              `json:"version"`
	Nodes     map[string]Node     `json:"nodes"`
	Adjacency map[string][]string `json:"adjacency"`
}

// Members returns every known node ordered by id.
func (v *View) Members() []Node {
	out := make([]Node, 0, len(v.Nodes))
	for _, n := range v.Nodes {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b Node) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Live returns the ids of nodes that are not failed, ordered.
func (v *View) Live() []string {
	out := make([]string, 0, len(v.Nodes))
	for id, n := range v.Nodes {
		if n.Status != Failed {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (v *View) Count(s Status) int {
	c := 0
	for _, n := range v.Nodes {
		if n.Status == s {
			c++
		}
	}
	return c
}

type EventType int

const (
	EventJoined EventType = iota + 1
	EventRecovered
	EventFailed
	EventLeft
)

func (t EventType) String() string {
	switch t {
	case EventJoined:
		return "joined"
	case EventRecovered:
		return "recovered"
	case EventFailed:
		return "failed"
	case EventLeft:
		return "left"
	default:
		return "unknown"
	}
}

type Event struct {
	Type EventType
	Node Node
}
