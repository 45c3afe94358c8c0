package ring

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRing(ids ...string) *Ring {
	r := New(DefaultVirtualNodes)
	for _, id := range ids {
		r.AddNode(id)
	}
	return r
}

func TestReplicasFor_EmptyRing(t *testing.T) {
	r := New(0)
	assert.Empty(t, r.ReplicasFor("k", 3))
	assert.Empty(t, r.Nodes())
}

func TestReplicasFor_DistinctAndCapped(t *testing.T) {
	r := newRing("n1", "n2", "n3", "n4", "n5")

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%d", i)
		got := r.ReplicasFor(key, 3)
		require.Len(t, got, 3)
		assert.Len(t, uniq(got), 3, "duplicate replica for %s: %v", key, got)
	}

	assert.Len(t, r.ReplicasFor("k", 10), 5)
	assert.Empty(t, r.ReplicasFor("k", 0))
}

func TestReplicasFor_DeterministicAcrossInsertionOrder(t *testing.T) {
	a := newRing("n1", "n2", "n3", "n4", "n5")
	b := newRing("n5", "n3", "n1", "n4", "n2")

	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("user:%d", i)
		assert.Equal(t, a.ReplicasFor(key, 3), b.ReplicasFor(key, 3))
	}
}

func TestReplicasFor_MinimalMovementOnRemove(t *testing.T) {
	r := newRing("n1", "n2", "n3", "n4", "n5")

	const keys = 2000
	before := make([]string, keys)
	for i := range before {
		before[i] = r.ReplicasFor(fmt.Sprintf("k%d", i), 1)[0]
	}

	r.RemoveNode("n3")
	moved := 0
	for i := range before {
		after := r.ReplicasFor(fmt.Sprintf("k%d", i), 1)[0]
		assert.NotEqual(t, "n3", after)
		if before[i] != "n3" && after != before[i] {
			moved++
		}
	}
	assert.Zero(t, moved, "keys not owned by the removed node must keep their owner")
}

func TestReplicasFor_MinimalMovementOnAdd(t *testing.T) {
	r := newRing("n1", "n2", "n3")

	const keys = 2000
	before := make([][]string, keys)
	for i := range before {
		before[i] = r.ReplicasFor(fmt.Sprintf("k%d", i), 2)
	}

	r.AddNode("n4")
	changed := 0
	for i := range before {
		key := fmt.Sprintf("k%d", i)
		after := r.ReplicasFor(key, 2)
		require.Len(t, after, 2)

		old := uniq(before[i])
		var entered, left []string
		for _, id := range after {
			if _, ok := old[id]; !ok {
				entered = append(entered, id)
			}
		}
		now := uniq(after)
		for _, id := range before[i] {
			if _, ok := now[id]; !ok {
				left = append(left, id)
			}
		}

		if len(entered) == 0 {
			assert.Equal(t, before[i], after, "replica order changed for %s without n4 joining it", key)
			continue
		}
		changed++
		assert.Equal(t, []string{"n4"}, entered, "key %s: %v -> %v", key, before[i], after)
		assert.Len(t, left, 1, "key %s: %v -> %v", key, before[i], after)
	}
	assert.NotZero(t, changed, "the new node took over no replicas")
	assert.Less(t, changed, keys)
}

func TestReplicasFor_SpreadsLoad(t *testing.T) {
	r := newRing("n1", "n2", "n3", "n4")

	counts := map[string]int{}
	const keys = 8000
	for i := 0; i < keys; i++ {
		counts[r.ReplicasFor(fmt.Sprintf("key/%d", i), 1)[0]]++
	}
	for id, c := range counts {
		assert.InDelta(t, keys/4, c, keys/8, "node %s owns %d keys", id, c)
	}
}

func TestAddRemove_Idempotent(t *testing.T) {
	r := newRing("n1", "n2")
	r.AddNode("n1")
	assert.Equal(t, []string{"n1", "n2"}, r.Nodes())

	r.RemoveNode("n9")
	r.RemoveNode("n2")
	r.RemoveNode("n2")
	assert.Equal(t, []string{"n1"}, r.Nodes())
	assert.Equal(t, []string{"n1"}, r.ReplicasFor("anything", 3))
}

func TestRing_ConcurrentReadersDuringMutation(t *testing.T) {
	r := newRing("n1", "n2", "n3")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			id := fmt.Sprintf("x%d", i%5)
			r.AddNode(id)
			r.RemoveNode(id)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			got := r.ReplicasFor(fmt.Sprintf("k%d", i), 3)
			assert.Len(t, uniq(got), len(got))
		}
	}()
	wg.Wait()
}

func uniq(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
