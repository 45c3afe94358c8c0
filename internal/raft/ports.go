package raft

import (
	"errors"
	"fmt"

	"quorumdb/internal/wire"

	etcdraft "go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"
)

// Applier receives committed entries in log order on the engine's loop.
// The returned value is handed to the ProposeAndWait caller of that entry.
type Applier interface {
	Apply(entry wire.Entry) (any, error)
}

type ApplierFunc func(entry wire.Entry) (any, error)

func (f ApplierFunc) Apply(entry wire.Entry) (any, error) { return f(entry) }

// Storage persists what each Ready hands over and serves the log back to
// etcd raft through a MemoryStorage.
type Storage interface {
	RaftStorage() *etcdraft.MemoryStorage
	// SaveReady persists entries, hard state and snapshot of rd before its
	// messages are sent.
	SaveReady(rd etcdraft.Ready) error
	// SaveConfState records the voter set after a configuration entry has
	// been applied, so a restart knows the voters.
	SaveConfState(cs raftpb.ConfState) error
	Close() error
}

// MemoryStorage keeps everything in etcd's MemoryStorage. Nothing survives
// a restart.
type MemoryStorage struct {
	ms *etcdraft.MemoryStorage
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{ms: etcdraft.NewMemoryStorage()}
}

func (s *MemoryStorage) RaftStorage() *etcdraft.MemoryStorage { return s.ms }

func (s *MemoryStorage) SaveReady(rd etcdraft.Ready) error {
	return saveToMemory(s.ms, rd)
}

func (s *MemoryStorage) SaveConfState(raftpb.ConfState) error { return nil }

func (s *MemoryStorage) Close() error { return nil }

func saveToMemory(ms *etcdraft.MemoryStorage, rd etcdraft.Ready) error {
	if !etcdraft.IsEmptySnap(rd.Snapshot) {
		if err := ms.ApplySnapshot(rd.Snapshot); err != nil && !errors.Is(err, etcdraft.ErrSnapOutOfDate) {
			return fmt.Errorf("MemoryStorage.ApplySnapshot: %w", err)
		}
	}
	if len(rd.Entries) > 0 {
		if err := ms.Append(rd.Entries); err != nil {
			return fmt.Errorf("MemoryStorage.Append: %w", err)
		}
	}
	if !etcdraft.IsEmptyHardState(rd.HardState) {
		if err := ms.SetHardState(rd.HardState); err != nil {
			return fmt.Errorf("MemoryStorage.SetHardState: %w", err)
		}
	}
	return nil
}

// isEmpty reports whether ms has never been written, in which case the
// node bootstraps the voter set instead of restarting from it.
func isEmpty(ms *etcdraft.MemoryStorage) (bool, error) {
	hs, _, err := ms.InitialState()
	if err != nil {
		return false, err
	}
	last, err := ms.LastIndex()
	if err != nil {
		return false, err
	}
	return etcdraft.IsEmptyHardState(hs) && last == 0, nil
}
