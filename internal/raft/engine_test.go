package raft

import (
	"errors"
	"testing"
	"time"

	"quorumdb/internal/configuration/properties"
	"quorumdb/internal/logging"
	"quorumdb/internal/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	etcdraft "go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"
)

func TestPeerTable_BootstrapIsOrderedAndCarriesAddresses(t *testing.T) {
	pt, err := newPeerTable(map[string]string{"n3": "h3:1", "n1": "h1:1", "n2": "h2:1"})
	require.NoError(t, err)

	peers := pt.bootstrap()
	require.Len(t, peers, 3)
	for i, name := range []string{"n1", "n2", "n3"} {
		assert.Equal(t, raftID(name), peers[i].ID)
		assert.Equal(t, pt.byID[peers[i].ID].addr, string(peers[i].Context))
	}

	assert.True(t, pt.contains(raftID("n2")))
	assert.False(t, pt.contains(raftID("n4")))
	assert.Equal(t, "n2", pt.name(raftID("n2")))
	assert.Equal(t, "", pt.name(etcdraft.None))
	assert.Equal(t, "", pt.name(raftID("n4")))
}

func TestMessageKind(t *testing.T) {
	cases := map[raftpb.MessageType]string{
		raftpb.MsgVote:           wire.KindVoteRequest,
		raftpb.MsgPreVote:        wire.KindVoteRequest,
		raftpb.MsgVoteResp:       wire.KindVoteResponse,
		raftpb.MsgApp:            wire.KindAppendEntries,
		raftpb.MsgAppResp:        wire.KindAppendResponse,
		raftpb.MsgHeartbeat:      wire.KindHeartbeat,
		raftpb.MsgHeartbeatResp:  wire.KindHeartbeatResponse,
		raftpb.MsgSnap:           wire.KindSnapshot,
		raftpb.MsgTimeoutNow:     wire.KindTimeoutNow,
		raftpb.MsgTransferLeader: wire.KindOther,
	}
	for typ, want := range cases {
		assert.Equal(t, want, messageKind(typ), typ.String())
	}
}

func TestProposalEncoding(t *testing.T) {
	p := proposal{Origin: raftID("n1"), ReqID: 42, Timestamp: time.Now().UnixNano(), Command: []byte("set k v")}
	got, err := decodeProposal(encodeProposal(p))
	require.NoError(t, err)
	assert.Equal(t, p, got)

	got, err = decodeProposal(encodeProposal(proposal{Origin: 1, Timestamp: 5}))
	require.NoError(t, err)
	assert.Nil(t, got.Command)
	assert.True(t, wire.Entry{Command: got.Command}.IsNoop())

	_, err = decodeProposal([]byte{0x0a})
	require.Error(t, err)
}

func TestConfig_Ticks(t *testing.T) {
	cfg := Config{ID: "n1", ElectionTimeoutMin: 150 * time.Millisecond, HeartbeatInterval: 40 * time.Millisecond}
	cfg.applyDefaults()
	require.NoError(t, cfg.validate())

	election, heartbeat := cfg.ticks()
	assert.Equal(t, 4, election, "rounded up")
	assert.Equal(t, 1, heartbeat)

	ecfg := cfg.etcdConfig(raftID("n1"), etcdraft.NewMemoryStorage(), logging.Discard())
	assert.False(t, ecfg.CheckQuorum)
	assert.True(t, ecfg.DisableProposalForwarding)
	assert.Contains(t, cfg.Peers, "n1")
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{ID: "n1", ElectionTimeoutMin: 100 * time.Millisecond, HeartbeatInterval: 100 * time.Millisecond}
	cfg.applyDefaults()
	require.ErrorIs(t, cfg.validate(), ErrInvalidConfig)

	cfg = Config{}
	cfg.applyDefaults()
	require.ErrorIs(t, cfg.validate(), ErrInvalidConfig)
}

func TestConfigFromProperties_AddsSelf(t *testing.T) {
	cfg := ConfigFromProperties("n1", "h1:7000", &properties.RaftConfigProperties{
		Peers: map[string]string{"n2": "h2:7000"},
	})
	assert.Equal(t, map[string]string{"n1": "h1:7000", "n2": "h2:7000"}, cfg.Peers)
}

func TestNotLeaderError(t *testing.T) {
	var err error = &NotLeaderError{LeaderID: "n2", LeaderAddress: "h2:7000"}
	assert.ErrorIs(t, err, ErrNotLeader)
	assert.Contains(t, err.Error(), "n2")

	var nle *NotLeaderError
	require.True(t, errors.As(err, &nle))
	assert.Equal(t, "h2:7000", nle.LeaderAddress)

	assert.Contains(t, (&NotLeaderError{}).Error(), "unknown")
}

func TestRoleOf(t *testing.T) {
	assert.Equal(t, Leader, roleOf(etcdraft.StateLeader))
	assert.Equal(t, Candidate, roleOf(etcdraft.StateCandidate))
	assert.Equal(t, Candidate, roleOf(etcdraft.StatePreCandidate))
	assert.Equal(t, Follower, roleOf(etcdraft.StateFollower))
}
