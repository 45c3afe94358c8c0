package raft

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/wal"
	"go.etcd.io/etcd/pkg/v3/pbutil"
	etcdraft "go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"
)

const (
	RecordTypeEntry     byte = 1
	RecordTypeHardState byte = 2
	RecordTypeSnapshot  byte = 3
	RecordTypeConfState byte = 4
)

const walFolder = "wal"

// WALStorage appends every Ready to a write-ahead log before mirroring it
// into an etcd MemoryStorage. Opening it replays the log.
type WALStorage struct {
	mu sync.Mutex

	log    *wal.Log
	ms     *etcdraft.MemoryStorage
	noSync bool

	hs        raftpb.HardState
	confState raftpb.ConfState

	nextWALIdx uint64
}

var _ Storage = (*WALStorage)(nil)

func OpenWALStorage(dir string, noSync bool, log *slog.Logger) (*WALStorage, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	opts := *wal.DefaultOptions
	opts.NoSync = noSync
	wl, err := wal.Open(filepath.Join(dir, walFolder), &opts)
	if err != nil {
		return nil, fmt.Errorf("wal.Open: %w", err)
	}

	s := &WALStorage{
		log:        wl,
		ms:         etcdraft.NewMemoryStorage(),
		noSync:     noSync,
		nextWALIdx: 1,
	}
	if err := s.replay(log); err != nil {
		wl.Close()
		return nil, err
	}
	return s, nil
}

func (s *WALStorage) replay(log *slog.Logger) error {
	first, err := s.log.FirstIndex()
	if err != nil {
		return fmt.Errorf("wal.FirstIndex: %w", err)
	}
	last, err := s.log.LastIndex()
	if err != nil {
		return fmt.Errorf("wal.LastIndex: %w", err)
	}
	if last == 0 {
		return nil
	}

	for idx := first; idx <= last; idx++ {
		data, err := s.log.Read(idx)
		if err != nil {
			return fmt.Errorf("wal.Read(%d): %w", idx, err)
		}

		recType, payload, err := unmarshalRecord(data)
		if err != nil {
			return fmt.Errorf("%w: record %d: %v", ErrLogCorrupted, idx, err)
		}

		switch recType {
		case RecordTypeEntry:
			var e raftpb.Entry
			if err := e.Unmarshal(payload); err != nil {
				return fmt.Errorf("%w: record %d: %v", ErrLogCorrupted, idx, err)
			}
			// An entry at or below the last index replaces the suffix,
			// exactly as it did when it was first written.
			lastIdx, _ := s.ms.LastIndex()
			if e.Index > lastIdx+1 {
				return fmt.Errorf("%w: record %d: entry %d after last index %d", ErrLogCorrupted, idx, e.Index, lastIdx)
			}
			if err := s.ms.Append([]raftpb.Entry{e}); err != nil {
				return fmt.Errorf("replay record %d: %w", idx, err)
			}

		case RecordTypeHardState:
			s.hs = raftpb.HardState{}
			if err := s.hs.Unmarshal(payload); err != nil {
				return fmt.Errorf("%w: record %d: %v", ErrLogCorrupted, idx, err)
			}

		case RecordTypeConfState:
			s.confState = raftpb.ConfState{}
			if err := s.confState.Unmarshal(payload); err != nil {
				return fmt.Errorf("%w: record %d: %v", ErrLogCorrupted, idx, err)
			}

		case RecordTypeSnapshot:
			var meta raftpb.SnapshotMetadata
			if err := meta.Unmarshal(payload); err != nil {
				return fmt.Errorf("%w: record %d: %v", ErrLogCorrupted, idx, err)
			}
			if err := s.ms.ApplySnapshot(raftpb.Snapshot{Metadata: meta}); err != nil &&
				!errors.Is(err, etcdraft.ErrSnapOutOfDate) {
				return fmt.Errorf("replay snapshot record %d: %w", idx, err)
			}
			s.confState = meta.ConfState

		default:
			return fmt.Errorf("%w: record %d: unknown type %d", ErrLogCorrupted, idx, recType)
		}
	}
	s.nextWALIdx = last + 1

	if !etcdraft.IsEmptyHardState(s.hs) {
		if err := s.ms.SetHardState(s.hs); err != nil {
			return fmt.Errorf("set hardstate: %w", err)
		}
	}
	if err := s.installConfState(); err != nil {
		return err
	}

	lastIdx, _ := s.ms.LastIndex()
	log.Info("replayed WAL",
		"wal_first", first,
		"wal_last", last,
		"last_index", lastIdx,
		"term", s.hs.Term,
		"hs_commit", s.hs.Commit,
		"voters", len(s.confState.Voters),
	)
	return nil
}

// installConfState makes the recorded voter set visible to a restarting
// node. etcd reads it from the snapshot metadata, so a data-less snapshot
// is cut at the commit index; the entries stay in place and are applied
// again after the restart.
func (s *WALStorage) installConfState() error {
	if len(s.confState.Voters) == 0 {
		return nil
	}
	lastIdx, err := s.ms.LastIndex()
	if err != nil {
		return err
	}
	at := min(s.hs.Commit, lastIdx)
	if at == 0 {
		return nil
	}
	cs := s.confState
	if _, err := s.ms.CreateSnapshot(at, &cs, nil); err != nil && !errors.Is(err, etcdraft.ErrSnapOutOfDate) {
		return fmt.Errorf("install conf state: %w", err)
	}
	return nil
}

func (s *WALStorage) RaftStorage() *etcdraft.MemoryStorage { return s.ms }

func (s *WALStorage) SaveReady(rd etcdraft.Ready) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !etcdraft.IsEmptySnap(rd.Snapshot) {
		if err := s.appendRecordLocked(RecordTypeSnapshot, &rd.Snapshot.Metadata); err != nil {
			return err
		}
		s.confState = rd.Snapshot.Metadata.ConfState
	}
	for i := range rd.Entries {
		if err := s.appendRecordLocked(RecordTypeEntry, &rd.Entries[i]); err != nil {
			return err
		}
	}

	hsChanged := !etcdraft.IsEmptyHardState(rd.HardState) && !isHardStateEqual(s.hs, rd.HardState)
	if hsChanged {
		if err := s.appendRecordLocked(RecordTypeHardState, &rd.HardState); err != nil {
			return err
		}
		s.hs = rd.HardState
	}

	if rd.MustSync && !s.noSync {
		if err := s.log.Sync(); err != nil {
			return fmt.Errorf("wal.Sync: %w", err)
		}
	}

	return saveToMemory(s.ms, rd)
}

func (s *WALStorage) SaveConfState(cs raftpb.ConfState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.appendRecordLocked(RecordTypeConfState, &cs); err != nil {
		return err
	}
	s.confState = cs
	return nil
}

func (s *WALStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log != nil {
		return s.log.Close()
	}
	return nil
}

func (s *WALStorage) appendRecordLocked(recType byte, msg interface{ Marshal() ([]byte, error) }) error {
	data := marshalRecord(recType, pbutil.MustMarshal(msg))
	if err := s.log.Write(s.nextWALIdx, data); err != nil {
		return fmt.Errorf("wal.Write(%d): %w", s.nextWALIdx, err)
	}
	s.nextWALIdx++
	return nil
}

func marshalRecord(recType byte, payload []byte) []byte {
	buf := make([]byte, 1+binary.MaxVarintLen64+len(payload))
	buf[0] = recType
	n := binary.PutUvarint(buf[1:], uint64(len(payload)))
	copy(buf[1+n:], payload)
	return buf[:1+n+len(payload)]
}

func unmarshalRecord(data []byte) (byte, []byte, error) {
	if len(data) < 2 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	recType := data[0]
	length, n := binary.Uvarint(data[1:])
	if n <= 0 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	start := 1 + n
	end := start + int(length)
	if end > len(data) {
		return 0, nil, io.ErrUnexpectedEOF
	}
	return recType, data[start:end], nil
}

func isHardStateEqual(a, b raftpb.HardState) bool {
	return a.Term == b.Term && a.Vote == b.Vote && a.Commit == b.Commit
}
