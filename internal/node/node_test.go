package node

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorumdb/internal/configuration/properties"
	"quorumdb/internal/logging"
	"quorumdb/internal/membership"
	"quorumdb/internal/raft"
	"quorumdb/internal/replication"
	"quorumdb/internal/transport"
)

type clusterOpts struct {
	size          int
	mode          replication.Mode
	missThreshold int
}

type cluster struct {
	t     *testing.T
	net   *transport.MemoryNetwork
	ids   []string
	nodes map[string]*Node
}

func nodeConfig(id string, ids []string, o clusterOpts) *properties.Config {
	peers := make(map[string]string, len(ids))
	for _, p := range ids {
		peers[p] = p
	}
	var seeds []string
	if id != ids[0] {
		seeds = []string{ids[0]}
	}
	return &properties.Config{
		Application: properties.ApplicationConfigProperties{LogLevel: "error"},
		Node: properties.NodeConfigProperties{
			ID:      id,
			Address: id,
			Roles:   []string{RoleStorage, "voter"},
			Seeds:   seeds,
		},
		Membership: properties.MembershipConfigProperties{
			HeartbeatInterval: 20 * time.Millisecond,
			MissThreshold:     o.missThreshold,
			RPCTimeout:        50 * time.Millisecond,
		},
		Raft: properties.RaftConfigProperties{
			Peers:              peers,
			ElectionTimeoutMin: 150 * time.Millisecond,
			ElectionTimeoutMax: 300 * time.Millisecond,
			HeartbeatInterval:  30 * time.Millisecond,
			RPCTimeout:         100 * time.Millisecond,
		},
		Replication: properties.ReplicationConfigProperties{
			Factor:               3,
			DefaultConsistency:   "quorum",
			WriteTimeout:         500 * time.Millisecond,
			ReadTimeout:          300 * time.Millisecond,
			VersionLookupTimeout: 50 * time.Millisecond,
			ReadRepair:           true,
			Mode:                 string(o.mode),
			VirtualNodes:         64,
		},
	}
}

func newCluster(t *testing.T, o clusterOpts) *cluster {
	t.Helper()
	if o.size == 0 {
		o.size = 3
	}
	if o.mode == "" {
		o.mode = replication.ModeQuorum
	}
	if o.missThreshold == 0 {
		o.missThreshold = 3
	}

	c := &cluster{t: t, net: transport.NewMemoryNetwork(), nodes: make(map[string]*Node)}
	for i := 1; i <= o.size; i++ {
		c.ids = append(c.ids, fmt.Sprintf("n%d", i))
	}

	for _, id := range c.ids {
		n, err := New(Options{
			Config: properties.NewProvider(nodeConfig(id, c.ids, o)),
			Client: c.net.Client(id),
			Logger: logging.Discard(),
		})
		require.NoError(t, err)
		c.net.Register(id, n.Handler())
		c.nodes[id] = n
		t.Cleanup(func() { _ = n.Stop() })
	}

	ctx := context.Background()
	for _, id := range c.ids {
		c.nodes[id].Start()
		require.NoError(t, c.nodes[id].Join(ctx, nil))
	}
	c.waitForRing(c.ids...)
	return c
}

// waitForRing waits until every listed node places exactly the listed nodes
// on its ring.
func (c *cluster) waitForRing(ids ...string) {
	c.t.Helper()
	require.Eventually(c.t, func() bool {
		for _, id := range ids {
			if !assert.ObjectsAreEqual(ids, c.nodes[id].ring.Nodes()) {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond, "rings did not converge on %v", ids)
}

func (c *cluster) waitForLeader() *Node {
	c.t.Helper()
	var leader *Node
	require.Eventually(c.t, func() bool {
		for _, n := range c.nodes {
			if n.Status().Raft.IsLeader() {
				leader = n
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond, "no leader elected")
	return leader
}

func (c *cluster) holders(key string) []string {
	var out []string
	for _, id := range c.ids {
		if _, ok := c.nodes[id].store.Get(key); ok {
			out = append(out, id)
		}
	}
	return out
}

func TestCluster_FormsFromSeeds(t *testing.T) {
	c := newCluster(t, clusterOpts{})

	for _, id := range c.ids {
		st := c.nodes[id].Status()
		assert.Equal(t, c.ids, st.View.Live(), "view of %s", id)
		assert.Equal(t, c.ids, st.RingMembers, "ring of %s", id)
	}
}

func TestCluster_ReadYourWriteAtQuorum(t *testing.T) {
	c := newCluster(t, clusterOpts{})
	ctx := context.Background()

	res, err := c.nodes["n2"].Write(ctx, "x", []byte("1"), replication.Quorum)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Version)
	assert.Len(t, res.Replicas, 3)

	for _, id := range c.ids {
		it, err := c.nodes[id].Read(ctx, "x", replication.Quorum)
		require.NoError(t, err, id)
		assert.Equal(t, []byte("1"), it.Value, id)
	}
}

func TestCluster_QuorumWriteWithOneNodeDown(t *testing.T) {
	c := newCluster(t, clusterOpts{missThreshold: 1000})
	ctx := context.Background()
	c.net.Isolate("n3")

	_, err := c.nodes["n1"].Write(ctx, "k", []byte("v"), replication.Quorum)
	require.NoError(t, err)

	it, err := c.nodes["n2"].Read(ctx, "k", replication.Quorum)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), it.Value)
}

func TestCluster_AllFailsWhileReplicaUnreachable(t *testing.T) {
	c := newCluster(t, clusterOpts{missThreshold: 1000})
	ctx := context.Background()

	c.net.Isolate("n3")
	require.Eventually(t, func() bool {
		n, ok := c.nodes["n1"].members.Lookup("n3")
		return ok && n.Status == membership.Suspected
	}, time.Second, 10*time.Millisecond)

	_, err := c.nodes["n1"].Write(ctx, "u1", []byte("v"), replication.All)
	require.ErrorIs(t, err, replication.ErrConsistencyNotMet)
	assert.Empty(t, c.holders("u1"))

	_, err = c.nodes["n1"].Read(ctx, "u1", replication.All)
	assert.ErrorIs(t, err, replication.ErrConsistencyNotMet)
}

func TestCluster_FailedNodeLeavesReplicaSet(t *testing.T) {
	c := newCluster(t, clusterOpts{missThreshold: 2})
	ctx := context.Background()

	c.net.Isolate("n3")
	c.waitForRing("n1", "n2")

	res, err := c.nodes["n1"].Write(ctx, "k", []byte("v"), replication.All)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n1", "n2"}, res.Replicas)

	c.net.Heal("n3")
	c.waitForRing(c.ids...)
}

func TestCluster_LeaveShrinksRing(t *testing.T) {
	c := newCluster(t, clusterOpts{})

	require.NoError(t, c.nodes["n3"].Leave(context.Background()))
	c.waitForRing("n1", "n2")
}

func TestCluster_LogModeCommitsBeforeApplying(t *testing.T) {
	c := newCluster(t, clusterOpts{mode: replication.ModeLog})
	ctx := context.Background()
	leader := c.waitForLeader()

	res, err := leader.Write(ctx, "x", []byte("1"), replication.Quorum)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Version)

	index := leader.Status().Raft.CommitIndex
	require.Eventually(t, func() bool {
		for _, n := range c.nodes {
			if n.Status().Raft.CommitIndex < index {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	for _, id := range c.ids {
		it, err := c.nodes[id].Read(ctx, "x", replication.Quorum)
		require.NoError(t, err, id)
		assert.Equal(t, []byte("1"), it.Value)
	}

	res, err = leader.Write(ctx, "x", []byte("2"), replication.Quorum)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Version)
}

func TestCluster_LogModeFollowerRedirects(t *testing.T) {
	c := newCluster(t, clusterOpts{mode: replication.ModeLog})
	leader := c.waitForLeader()

	var follower *Node
	for _, n := range c.nodes {
		if n != leader {
			follower = n
			break
		}
	}
	require.Eventually(t, func() bool {
		return follower.Status().Raft.LeaderID == leader.ID()
	}, time.Second, 10*time.Millisecond)

	_, err := follower.Write(context.Background(), "k", []byte("v"), replication.One)
	require.ErrorIs(t, err, raft.ErrNotLeader)

	var nle *raft.NotLeaderError
	require.ErrorAs(t, err, &nle)
	assert.Equal(t, leader.ID(), nle.LeaderID)
}

func TestCluster_LeaderFailover(t *testing.T) {
	c := newCluster(t, clusterOpts{mode: replication.ModeLog})
	ctx := context.Background()
	old := c.waitForLeader()

	_, err := old.Write(ctx, "k", []byte("before"), replication.Quorum)
	require.NoError(t, err)

	require.NoError(t, old.Stop())
	c.net.Unregister(old.ID())
	delete(c.nodes, old.ID())

	leader := c.waitForLeader()
	require.NotEqual(t, old.ID(), leader.ID())

	_, err = leader.Write(ctx, "k", []byte("after"), replication.Quorum)
	require.NoError(t, err)

	it, err := leader.Read(ctx, "k", replication.Quorum)
	require.NoError(t, err)
	assert.Equal(t, []byte("after"), it.Value)
	assert.Equal(t, uint64(2), it.Version)
}

func TestNew_RejectsBadReplicationConfig(t *testing.T) {
	cfg := nodeConfig("n1", []string{"n1"}, clusterOpts{mode: replication.ModeQuorum})
	cfg.Replication.DefaultConsistency = "most"

	_, err := New(Options{Config: properties.NewProvider(cfg), Client: transport.NewMemoryNetwork().Client("n1")})
	assert.ErrorIs(t, err, replication.ErrInvalidConsistency)
}
