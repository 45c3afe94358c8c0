package storage

import (
	"quorumdb/internal/metrics"
	"quorumdb/internal/types"
)

// Service is the instrumented face of a Store. Replica handlers, the state
// machine and the data manager all go through it.
type Service struct {
	store *Store
	rec   *metrics.Recorder
}

func NewService(rec *metrics.Recorder) *Service {
	if rec == nil {
		rec = metrics.NewDiscard()
	}
	return &Service{store: NewStore(), rec: rec}
}

func (s *Service) Get(key string) (types.Item, bool) {
	s.rec.StorageOperationsTotal.WithLabelValues("get").Inc()
	return s.store.Get(key)
}

// Put applies item under last-writer-wins and reports whether it replaced
// the stored item.
func (s *Service) Put(item types.Item) bool {
	applied := s.store.Put(item)
	if applied {
		s.rec.StorageOperationsTotal.WithLabelValues("put").Inc()
		s.rec.StorageKeysTotal.Set(float64(s.store.len()))
	} else {
		s.rec.StorageOperationsTotal.WithLabelValues("put_stale").Inc()
	}
	return applied
}

// Version is the version of the stored item for key, 0 when absent.
func (s *Service) Version(key string) uint64 {
	it, ok := s.store.Get(key)
	if !ok {
		return 0
	}
	return it.Version
}

func (s *Service) Len() int {
	return s.store.len()
}

func (s *Service) Keys() []string {
	return s.store.Keys()
}
