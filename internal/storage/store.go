package storage

import (
	"sync"

	"quorumdb/internal/types"
)

// Store is a node's local replica: one item per key, newest wins.
type Store struct {
	data map[string]types.Item
	mu   sync.RWMutex
}

func NewStore() *Store {
	return &Store{
		data: make(map[string]types.Item),
	}
}

func (s *Store) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Put keeps item only if it is newer than what the store holds for the key.
func (s *Store) Put(item types.Item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[item.Key]
	if ok && !types.Newer(item, cur) {
		return false
	}
	s.data[item.Key] = item
	return true
}

func (s *Store) Get(key string) (types.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.data[key]
	return it, ok
}

func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}
