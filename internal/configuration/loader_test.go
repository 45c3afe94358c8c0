package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorumdb/internal/configuration/util"
)

func writeYAMLDir(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name+".yml")
	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err, "failed to write yaml %s", path)
}

const minimalBase = `
app:
  profile: test
node:
  id: n1
  address: 127.0.0.1:7001
`

func TestLoadFrom_appliesProfileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	writeYAMLDir(t, dir, "application", minimalBase)
	writeYAMLDir(t, dir, "application-test", `
app:
  log-level: debug
replication:
  factor: 2
  write-timeout: 750ms
`)

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Application.Profile)
	assert.Equal(t, "debug", cfg.Application.LogLevel)
	assert.Equal(t, "n1", cfg.Node.ID)
	assert.Equal(t, 2, cfg.Replication.Factor)
	assert.Equal(t, 750*time.Millisecond, cfg.Replication.WriteTimeout)

	assert.Equal(t, "quorum", cfg.Replication.DefaultConsistency)
	assert.Equal(t, "quorum", cfg.Replication.Mode)
	assert.Equal(t, DefaultVirtualNodes, cfg.Replication.VirtualNodes)
	assert.Equal(t, 300*time.Millisecond, cfg.Raft.ElectionTimeoutMin)
	assert.Equal(t, 500*time.Millisecond, cfg.Raft.ElectionTimeoutMax)
	assert.Equal(t, DefaultMissThreshold, cfg.Membership.MissThreshold)
	assert.Equal(t, "tcp", cfg.Transport.Network)
	assert.Equal(t, []string{"storage", "voter"}, cfg.Node.Roles)
}

func TestLoadFrom_expandsEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QUORUMDB_TEST_NODE", "n7")
	writeYAMLDir(t, dir, "application", `
node:
  id: ${QUORUMDB_TEST_NODE}
  address: 127.0.0.1:7007
`)

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, "n7", cfg.Node.ID)
}

func TestLoadFrom_unsetEnvIsError(t *testing.T) {
	dir := t.TempDir()
	writeYAMLDir(t, dir, "application", `
node:
  id: ${QUORUMDB_TEST_DEFINITELY_UNSET}
`)

	cfg, err := LoadFrom(dir)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "QUORUMDB_TEST_DEFINITELY_UNSET")
}

func TestLoadFrom_missingBaseFile(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, util.ErrConfigNotFound)
	assert.Contains(t, err.Error(), "application.yml")
}

func TestLoadFrom_missingProfile(t *testing.T) {
	dir := t.TempDir()
	writeYAMLDir(t, dir, "application", minimalBase)

	cfg, err := LoadFrom(dir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, util.ErrConfigNotFound)
	assert.Contains(t, err.Error(), "application-test.yml")
}

func TestLoadFrom_invalidYaml(t *testing.T) {
	dir := t.TempDir()
	writeYAMLDir(t, dir, "application", "node: [unclosed")

	cfg, err := LoadFrom(dir)
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_usesConfigDirEnv(t *testing.T) {
	dir := t.TempDir()
	writeYAMLDir(t, dir, "application", `
node:
  id: env-node
  address: 127.0.0.1:7100
`)
	t.Setenv(configDirEnv, dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-node", cfg.Node.ID)
}
