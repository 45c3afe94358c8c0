// Package statemachine turns committed log entries into stored items. Every
// node applies the same log, so versions and timestamps derived here agree
// across the cluster.
package statemachine

import (
	"log/slog"

	"quorumdb/internal/storage"
	"quorumdb/internal/types"
	"quorumdb/internal/wire"
)

// Placement reports which nodes hold a key.
type Placement interface {
	ReplicasFor(key string, n int) []string
}

type ApplyCallback func(index uint64, item types.Item)

type StateMachine struct {
	self      string
	factor    int
	storage   *storage.Service
	placement Placement
	log       *slog.Logger

	// Only touched from the apply goroutine.
	versions   map[string]uint64
	timestamps map[string]int64
	callbacks  []ApplyCallback
}

func New(self string, factor int, store *storage.Service, placement Placement, log *slog.Logger) *StateMachine {
	if log == nil {
		log = slog.Default()
	}
	return &StateMachine{
		self:       self,
		factor:     factor,
		storage:    store,
		placement:  placement,
		log:        log,
		versions:   make(map[string]uint64),
		timestamps: make(map[string]int64),
	}
}

// OnApply registers cb for every applied command. Must be called before the
// consensus engine starts.
func (sm *StateMachine) OnApply(cb ApplyCallback) {
	sm.callbacks = append(sm.callbacks, cb)
}

// Apply assigns the next version of the key and, when this node is one of
// the key's replicas, stores the item. The item is returned in either case.
func (sm *StateMachine) Apply(entry wire.Entry) (any, error) {
	cmd, err := UnmarshalCommand(entry.Command)
	if err != nil {
		sm.log.Error("skipping undecodable entry", "index", entry.Index, "error", err)
		return nil, err
	}

	ts := cmd.Timestamp
	if entry.Timestamp > ts {
		ts = entry.Timestamp
	}
	if last, ok := sm.timestamps[cmd.Key]; ok && ts <= last {
		ts = last + 1
	}
	sm.timestamps[cmd.Key] = ts
	sm.versions[cmd.Key]++

	item := types.Item{
		Key:       cmd.Key,
		Value:     cmd.Value,
		Version:   sm.versions[cmd.Key],
		Writer:    cmd.Writer,
		Timestamp: ts,
	}

	if sm.isReplica(cmd.Key) {
		sm.storage.Put(item)
	}
	for _, cb := range sm.callbacks {
		cb(entry.Index, item)
	}
	return item, nil
}

func (sm *StateMachine) isReplica(key string) bool {
	if sm.placement == nil {
		return true
	}
	for _, id := range sm.placement.ReplicasFor(key, sm.factor) {
		if id == sm.self {
			return true
		}
	}
	return false
}
