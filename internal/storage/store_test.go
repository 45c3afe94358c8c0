package storage

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorumdb/internal/metrics"
	"quorumdb/internal/types"
)

func TestStore_PutKeepsNewest(t *testing.T) {
	s := NewStore()

	require.True(t, s.Put(types.Item{Key: "k", Value: []byte("a"), Version: 1, Timestamp: 10}))
	assert.False(t, s.Put(types.Item{Key: "k", Value: []byte("old"), Version: 5, Timestamp: 9}))
	assert.True(t, s.Put(types.Item{Key: "k", Value: []byte("b"), Version: 2, Timestamp: 11}))

	it, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("b"), it.Value)
	assert.Equal(t, uint64(2), it.Version)
}

func TestStore_SameItemIsNotReapplied(t *testing.T) {
	s := NewStore()
	it := types.Item{Key: "k", Value: []byte("v"), Version: 1, Writer: "n1", Timestamp: 1}

	require.True(t, s.Put(it))
	assert.False(t, s.Put(it))
}

func TestStore_GetMissing(t *testing.T) {
	_, ok := NewStore().Get("nope")
	assert.False(t, ok)
}

func TestStore_ConcurrentPuts(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(ts int64) {
			defer wg.Done()
			s.Put(types.Item{Key: "k", Version: uint64(ts), Timestamp: ts})
		}(int64(i))
	}
	wg.Wait()

	it, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, int64(50), it.Timestamp)
}

func TestService_VersionAndMetrics(t *testing.T) {
	rec := metrics.NewDiscard()
	svc := NewService(rec)

	assert.Equal(t, uint64(0), svc.Version("k"))

	svc.Put(types.Item{Key: "k", Version: 3, Timestamp: 5})
	svc.Put(types.Item{Key: "k", Version: 1, Timestamp: 1})
	svc.Put(types.Item{Key: "j", Version: 1, Timestamp: 1})

	assert.Equal(t, uint64(3), svc.Version("k"))
	assert.Equal(t, 2, svc.Len())
	assert.ElementsMatch(t, []string{"k", "j"}, svc.Keys())
	assert.Equal(t, float64(2), testutil.ToFloat64(rec.StorageKeysTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(rec.StorageOperationsTotal.WithLabelValues("put")))
	assert.Equal(t, float64(1), testutil.ToFloat64(rec.StorageOperationsTotal.WithLabelValues("put_stale")))
}
