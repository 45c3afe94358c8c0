// Package ring maps keys to replica sets by consistent hashing over virtual
// nodes.
package ring

import (
	"cmp"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const DefaultVirtualNodes = 150

type vnode struct {
	hash uint64
	id   string
}

// state is never modified after it is published.
type state struct {
	vnodes []vnode
	ids    []string
}

// Ring is safe for concurrent use. Readers see the state published by the
// last completed AddNode or RemoveNode.
type Ring struct {
	mu        sync.Mutex
	vnodesPer int
	members   map[string]struct{}
	current   atomic.Pointer[state]
}

func New(vnodesPerNode int) *Ring {
	if vnodesPerNode <= 0 {
		vnodesPerNode = DefaultVirtualNodes
	}
	r := &Ring{
		vnodesPer: vnodesPerNode,
		members:   make(map[string]struct{}),
	}
	r.current.Store(&state{})
	return r
}

// AddNode places id on the ring. Adding a present id is a no-op.
func (r *Ring) AddNode(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; ok {
		return
	}
	r.members[id] = struct{}{}
	r.publishLocked()
}

// RemoveNode takes id off the ring. Removing an absent id is a no-op.
func (r *Ring) RemoveNode(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; !ok {
		return
	}
	delete(r.members, id)
	r.publishLocked()
}

func (r *Ring) publishLocked() {
	next := &state{
		vnodes: make([]vnode, 0, len(r.members)*r.vnodesPer),
		ids:    make([]string, 0, len(r.members)),
	}
	for id := range r.members {
		next.ids = append(next.ids, id)
		for i := 0; i < r.vnodesPer; i++ {
			next.vnodes = append(next.vnodes, vnode{hash: positionHash(id, i), id: id})
		}
	}
	slices.Sort(next.ids)
	slices.SortFunc(next.vnodes, func(a, b vnode) int {
		if c := cmp.Compare(a.hash, b.hash); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	r.current.Store(next)
}

// ReplicasFor returns up to n distinct node ids responsible for key, walking
// clockwise from the key's position. The first id is the primary owner.
func (r *Ring) ReplicasFor(key string, n int) []string {
	s := r.current.Load()
	if n <= 0 || len(s.vnodes) == 0 {
		return nil
	}
	if n > len(s.ids) {
		n = len(s.ids)
	}

	h := xxhash.Sum64String(key)
	start, _ := slices.BinarySearchFunc(s.vnodes, h, func(v vnode, target uint64) int {
		return cmp.Compare(v.hash, target)
	})

	out := make([]string, 0, n)
	for i := 0; len(out) < n && i < len(s.vnodes); i++ {
		v := s.vnodes[(start+i)%len(s.vnodes)]
		if !slices.Contains(out, v.id) {
			out = append(out, v.id)
		}
	}
	return out
}

// Nodes returns the ids on the ring in ascending order.
func (r *Ring) Nodes() []string {
	return slices.Clone(r.current.Load().ids)
}

func (r *Ring) Len() int {
	return len(r.current.Load().ids)
}

func positionHash(id string, i int) uint64 {
	return xxhash.Sum64String(id + ":" + strconv.Itoa(i))
}
