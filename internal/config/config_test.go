package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/aether/internal/controlplane"
)

func TestParseDefaults(t *testing.T) {
	c, err := Parse(nil, "")
	require.NoError(t, err)

	assert.Equal(t, "dev", c.App.Env)
	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "n1", c.Cluster.NodeID)
	assert.Equal(t, map[string]string{"n1": ":7000"}, c.Cluster.Nodes)
	assert.Equal(t, 150*time.Millisecond, c.Cluster.ElectionTimeoutMin)
	assert.Equal(t, 300*time.Millisecond, c.Cluster.ElectionTimeoutMax)
	assert.Equal(t, 50*time.Millisecond, c.Cluster.HeartbeatInterval)
	assert.Equal(t, "memory", c.Storage.Driver)
	assert.Equal(t, "none", c.Cache.Kind)
	assert.Equal(t, "memory", c.Notify.Kind)
	assert.Equal(t, 15*time.Minute, c.AccessTTL())
	assert.Equal(t, 30*time.Second, c.CacheTTL())
	assert.Equal(t, devJWTSecret, c.Auth.JWTSecret)
	assert.Equal(t, 0, c.Auth.LoginRateLimit.Max)
	assert.Equal(t, time.Minute, c.Auth.LoginRateLimit.Window)
}

const sample = `
app:
  env: staging
server:
  addr: ":9090"
  leader_redirects:
    n2: http://10.0.0.2:8080
cluster:
  node_id: n2
  raft_addr: ":7002"
  nodes:
    n1: 10.0.0.1:7001
    n2: 10.0.0.2:7002
    n3: 10.0.0.3:7003
  data_dir: data
  election_timeout_min: 200ms
  heartbeat_interval: 40ms
storage:
  driver: postgres
  dsn: postgres://aether@localhost/aether
  postgres:
    max_conns: 20
    migrate: true
cache:
  kind: memory
  default_ttl: 1m
auth:
  jwt_secret: 0123456789abcdef0123
  users:
    - username: admin
      password_hash: "$2a$10$abcdefghijklmnopqrstuv"
      roles: [admin]
  login_rate_limit:
    max: 5
    window: 30s
schemas:
  - id: db-settings
    fields:
      port: {type: integer, required: true, min: 1, max: 65535}
      mode: {type: string, enum: [primary, replica]}
`

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aether.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.Server.Addr)
	assert.Equal(t, "http://10.0.0.2:8080", c.Server.LeaderRedirects["n2"])
	assert.Len(t, c.Cluster.Nodes, 3)
	assert.Equal(t, filepath.Join(dir, "data"), c.Cluster.DataDir)
	assert.Equal(t, 400*time.Millisecond, c.Cluster.ElectionTimeoutMax)
	assert.Equal(t, int32(20), c.Storage.Postgres.MaxConns)
	assert.True(t, c.Storage.Postgres.Migrate)
	assert.Equal(t, time.Minute, c.CacheTTL())
	require.Len(t, c.Auth.Users, 1)
	assert.Equal(t, []string{"admin"}, c.Auth.Users[0].Roles)
	assert.Equal(t, 5, c.Auth.LoginRateLimit.Max)
	assert.Equal(t, 30*time.Second, c.Auth.LoginRateLimit.Window)
	assert.Equal(t, "memory", c.Auth.LoginRateLimit.Kind)

	require.Len(t, c.Schemas, 1)
	_, err = controlplane.NewRegistry(c.Schemas...)
	require.NoError(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NODE_ID", "n3")
	t.Setenv("CLUSTER_NODES", "n1=h1:7001; n2=h2:7002 ;n3=h3:7003;bad")
	t.Setenv("STORAGE_DRIVER", "REDIS")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("CACHE_KIND", "redis")
	t.Setenv("NOTIFY_KIND", "redis")
	t.Setenv("JWT_SECRET", "env-secret-0123456789")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("SERVER_ADDR", ":1234")
	t.Setenv("LEADER_REDIRECTS", "n1=http://h1:8080")

	c, err := Parse(nil, "")
	require.NoError(t, err)
	assert.Equal(t, "n3", c.Cluster.NodeID)
	assert.Equal(t, map[string]string{"n1": "h1:7001", "n2": "h2:7002", "n3": "h3:7003"}, c.Cluster.Nodes)
	assert.Equal(t, "redis", c.Storage.Driver)
	assert.Equal(t, "redis:6379", c.Storage.Redis.Addr)
	assert.Equal(t, "redis:6379", c.Cache.Redis.Addr)
	assert.Equal(t, "redis:6379", c.Notify.Redis.Addr)
	assert.Equal(t, "env-secret-0123456789", c.Auth.JWTSecret)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, ":1234", c.Server.Addr)
	assert.Equal(t, "http://h1:8080", c.Server.LeaderRedirects["n1"])
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"node not in nodes":  "cluster: {node_id: x, nodes: {n1: a:1}}",
		"heartbeat too long": "cluster: {election_timeout_min: 50ms, heartbeat_interval: 60ms}",
		"unknown driver":     "storage: {driver: mongo}",
		"postgres no dsn":    "storage: {driver: postgres}",
		"unknown cache":      "cache: {kind: memcached}",
		"bad ttl":            "auth: {access_ttl: soon}",
		"short secret":       "auth: {jwt_secret: short}",
		"dup user":           "auth: {users: [{username: a, password_hash: h}, {username: a, password_hash: h}]}",
		"tls without cert":   "cluster: {raft_tls_enable: true}",
	}
	for name, y := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(y), "")
			assert.Error(t, err)
		})
	}

	_, err := Parse([]byte("app: {env: prod}"), "")
	assert.Error(t, err, "prod requires an explicit jwt secret")
}

func TestParseKVList(t *testing.T) {
	assert.Equal(t, map[string]string{"a": "1", "b": "x=y"}, parseKVList(" a=1 ;; b=x=y; =3; c= ", ";"))
	assert.Empty(t, parseKVList("", ";"))
}
