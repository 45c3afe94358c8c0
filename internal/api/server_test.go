package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorumdb/internal/logging"
	"quorumdb/internal/membership"
	"quorumdb/internal/metrics"
	"quorumdb/internal/node"
	"quorumdb/internal/raft"
	"quorumdb/internal/replication"
	"quorumdb/internal/types"
)

type fakeService struct {
	mu        sync.Mutex
	items     map[string]types.Item
	lastLevel replication.Consistency
	seeds     []membership.NodeRef
	left      bool
	writeErr  error
	readErr   error
	joinErr   error
}

func newFakeService() *fakeService {
	return &fakeService{items: make(map[string]types.Item)}
}

func (f *fakeService) Write(_ context.Context, key string, value []byte, level replication.Consistency) (replication.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLevel = level
	if f.writeErr != nil {
		return replication.WriteResult{}, f.writeErr
	}
	it := f.items[key]
	it = types.Item{Key: key, Value: value, Version: it.Version + 1, Writer: "n1", Timestamp: 42}
	f.items[key] = it
	return replication.WriteResult{Key: key, Version: it.Version, Timestamp: it.Timestamp, Replicas: []string{"n1"}, Required: 1, Acked: 1}, nil
}

func (f *fakeService) Read(_ context.Context, key string, level replication.Consistency) (types.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLevel = level
	if f.readErr != nil {
		return types.Item{}, f.readErr
	}
	it, ok := f.items[key]
	if !ok {
		return types.Item{}, fmt.Errorf("%w: %q", replication.ErrKeyNotFound, key)
	}
	return it, nil
}

func (f *fakeService) Join(_ context.Context, seeds []membership.NodeRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeds = seeds
	return f.joinErr
}

func (f *fakeService) Leave(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = true
	return nil
}

func (f *fakeService) Status() node.Status {
	return node.Status{ID: "n1", RingMembers: []string{"n1"}, Mode: replication.ModeQuorum}
}

func newTestServer(t *testing.T, svc Service) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	s := NewServer("127.0.0.1:0", svc, reg, logging.Discard())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestKV_PutThenGet(t *testing.T) {
	svc := newFakeService()
	ts := newTestServer(t, svc)

	resp := do(t, http.MethodPut, ts.URL+"/kv/color?consistency=all", strings.NewReader("blue"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[replication.WriteResult](t, resp)
	assert.Equal(t, uint64(1), res.Version)
	assert.Equal(t, replication.All, svc.lastLevel)

	resp = do(t, http.MethodGet, ts.URL+"/kv/color", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "blue", string(body))
	assert.Equal(t, "1", resp.Header.Get(headerVersion))
	assert.Equal(t, "n1", resp.Header.Get(headerWriter))
	assert.Equal(t, "42", resp.Header.Get(headerTimestamp))
	assert.Equal(t, replication.Consistency(""), svc.lastLevel, "no parameter leaves the default to the node")
}

func TestKV_KeyWithSlashes(t *testing.T) {
	svc := newFakeService()
	ts := newTestServer(t, svc)

	resp := do(t, http.MethodPut, ts.URL+"/kv/users/42/name", strings.NewReader("ada"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, svc.items, "users/42/name")

	resp = do(t, http.MethodGet, ts.URL+"/kv/users/42/name", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ada", string(body))

	resp = do(t, http.MethodGet, ts.URL+"/kv/users/42", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKV_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"consistency not met", &replication.ConsistencyError{Op: "write", Level: replication.All, Replicas: 3, Required: 3, Acked: 2}, http.StatusServiceUnavailable},
		{"not leader", fmt.Errorf("commit: %w", &raft.NotLeaderError{LeaderID: "n2", LeaderAddress: "10.0.0.2:7000"}), http.StatusMisdirectedRequest},
		{"empty key", replication.ErrEmptyKey, http.StatusBadRequest},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.writeErr = tt.err
			ts := newTestServer(t, svc)

			resp := do(t, http.MethodPut, ts.URL+"/kv/k", strings.NewReader("v"))
			assert.Equal(t, tt.wantCode, resp.StatusCode)
		})
	}
}

func TestKV_NotLeaderCarriesLeader(t *testing.T) {
	svc := newFakeService()
	svc.writeErr = &raft.NotLeaderError{LeaderID: "n2", LeaderAddress: "10.0.0.2:7000"}
	ts := newTestServer(t, svc)

	resp := do(t, http.MethodPut, ts.URL+"/kv/k", strings.NewReader("v"))
	require.Equal(t, http.StatusMisdirectedRequest, resp.StatusCode)
	er := decode[errorResponse](t, resp)
	assert.Equal(t, "n2", er.LeaderID)
	assert.Equal(t, "10.0.0.2:7000", er.LeaderAddress)
}

func TestKV_ConsistencyNotMetReportsAcks(t *testing.T) {
	svc := newFakeService()
	svc.readErr = &replication.ConsistencyError{Op: "read", Level: replication.Quorum, Replicas: 3, Required: 2, Acked: 1}
	ts := newTestServer(t, svc)

	resp := do(t, http.MethodGet, ts.URL+"/kv/k?consistency=quorum", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	er := decode[errorResponse](t, resp)
	assert.Equal(t, 2, er.Required)
	assert.Equal(t, 1, er.Acked)
}

func TestKV_GetMissingKey(t *testing.T) {
	ts := newTestServer(t, newFakeService())
	resp := do(t, http.MethodGet, ts.URL+"/kv/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKV_InvalidConsistency(t *testing.T) {
	svc := newFakeService()
	ts := newTestServer(t, svc)

	resp := do(t, http.MethodPut, ts.URL+"/kv/k?consistency=most", strings.NewReader("v"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, svc.items, "an invalid level must not reach the node")
}

func TestCluster_JoinPassesSeeds(t *testing.T) {
	svc := newFakeService()
	ts := newTestServer(t, svc)

	body, _ := json.Marshal(JoinRequest{Seeds: []seedRef{{ID: "n2", Address: "10.0.0.2:7000"}}})
	resp := do(t, http.MethodPost, ts.URL+"/cluster/join", bytes.NewReader(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []membership.NodeRef{{ID: "n2", Address: "10.0.0.2:7000"}}, svc.seeds)
}

func TestCluster_JoinWithoutBodyUsesConfiguredSeeds(t *testing.T) {
	svc := newFakeService()
	ts := newTestServer(t, svc)

	resp := do(t, http.MethodPost, ts.URL+"/cluster/join", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, svc.seeds)
}

func TestCluster_JoinFailure(t *testing.T) {
	svc := newFakeService()
	svc.joinErr = fmt.Errorf("%w: seed down", membership.ErrJoinFailed)
	ts := newTestServer(t, svc)

	resp := do(t, http.MethodPost, ts.URL+"/cluster/join", strings.NewReader(`{"seeds":[{"address":"x"}]}`))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestCluster_LeaveAndStatus(t *testing.T) {
	svc := newFakeService()
	ts := newTestServer(t, svc)

	resp := do(t, http.MethodPost, ts.URL+"/cluster/leave", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, svc.left)

	resp = do(t, http.MethodGet, ts.URL+"/cluster/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[map[string]any](t, resp)
	assert.Equal(t, "n1", st["id"])
	assert.Equal(t, []any{"n1"}, st["ring_members"])
	assert.Equal(t, "follower", st["raft"].(map[string]any)["role"])
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, newFakeService())

	resp := do(t, http.MethodGet, ts.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "quorumdb_")
}

func TestKV_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, newFakeService())
	resp := do(t, http.MethodDelete, ts.URL+"/kv/k", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
