package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/aether/internal/controlplane"
)

// devJWTSecret solo se usa fuera de prod cuando no se configura otro.
const devJWTSecret = "aether-dev-secret-change-me"

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"` // debug | info | warn | error
	} `yaml:"log"`

	Server struct {
		Addr string `yaml:"addr"`
		// nodeID -> base URL del admin API; habilita 307 hacia el líder
		LeaderRedirects map[string]string `yaml:"leader_redirects"`
		ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Cluster struct {
		NodeID   string            `yaml:"node_id" json:"nodeId"`
		RaftAddr string            `yaml:"raft_addr" json:"raftAddr"`
		Nodes    map[string]string `yaml:"nodes" json:"nodes"` // nodeID -> host:port (raft)
		DataDir  string            `yaml:"data_dir" json:"dataDir"`

		ElectionTimeoutMin time.Duration `yaml:"election_timeout_min" json:"electionTimeoutMin"`
		ElectionTimeoutMax time.Duration `yaml:"election_timeout_max" json:"electionTimeoutMax"`
		HeartbeatInterval  time.Duration `yaml:"heartbeat_interval" json:"heartbeatInterval"`
		ProposalTimeout    time.Duration `yaml:"proposal_timeout" json:"proposalTimeout"`
		MaxAppendEntries   int           `yaml:"max_append_entries" json:"maxAppendEntries"`

		// TLS del transporte raft (opcional, mTLS cuando hay CA)
		RaftTLSEnable     bool   `yaml:"raft_tls_enable" json:"raftTlsEnable"`
		RaftTLSCertFile   string `yaml:"raft_tls_cert_file" json:"raftTlsCertFile"`
		RaftTLSKeyFile    string `yaml:"raft_tls_key_file" json:"raftTlsKeyFile"`
		RaftTLSCAFile     string `yaml:"raft_tls_ca_file" json:"raftTlsCaFile"`
		RaftTLSServerName string `yaml:"raft_tls_server_name" json:"raftTlsServerName"`
	} `yaml:"cluster" json:"cluster"`

	Storage struct {
		Driver    string `yaml:"driver"` // memory | redis | postgres
		DSN       string `yaml:"dsn"`
		KeyPrefix string `yaml:"key_prefix"`
		Postgres  struct {
			MaxConns int32 `yaml:"max_conns"`
			MinConns int32 `yaml:"min_conns"`
			Migrate  bool  `yaml:"migrate"`
		} `yaml:"postgres"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"storage"`

	Cache struct {
		Kind       string `yaml:"kind"` // none | memory | redis
		DefaultTTL string `yaml:"default_ttl"`
		Redis      struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Notify struct {
		Kind  string `yaml:"kind"` // memory | redis (redis también alimenta el hub local)
		Redis struct {
			Addr          string `yaml:"addr"`
			ChannelPrefix string `yaml:"channel_prefix"`
		} `yaml:"redis"`
		MaxAttempts int           `yaml:"max_attempts"`
		Backoff     time.Duration `yaml:"backoff"`
	} `yaml:"notify"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		Issuer    string `yaml:"issuer"`
		AccessTTL string `yaml:"access_ttl"`
		Users     []User `yaml:"users"`

		// LoginRateLimit acota intentos de login por IP. Max 0 = sin límite.
		LoginRateLimit struct {
			Kind   string        `yaml:"kind"` // memory | redis
			Max    int           `yaml:"max"`
			Window time.Duration `yaml:"window"`
		} `yaml:"login_rate_limit"`
	} `yaml:"auth"`

	Schemas []controlplane.Schema `yaml:"schemas"`
}

// User es un operador del admin API. PasswordHash es bcrypt.
type User struct {
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"password_hash"`
	Roles        []string `yaml:"roles"`
}

// Load lee path (vacío = solo defaults + env), aplica overrides y valida.
func Load(path string) (*Config, error) {
	var b []byte
	if path != "" {
		var err error
		if b, err = os.ReadFile(path); err != nil {
			return nil, err
		}
	}
	return Parse(b, filepath.Dir(path))
}

// Parse es Load sobre bytes YAML. baseDir resuelve rutas relativas.
func Parse(b []byte, baseDir string) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	c.applyEnvOverrides()
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}

	// Normalizar rutas relativas respecto al directorio del YAML
	if baseDir != "" && baseDir != "." {
		for _, p := range []*string{&c.Cluster.DataDir, &c.Cluster.RaftTLSCertFile, &c.Cluster.RaftTLSKeyFile, &c.Cluster.RaftTLSCAFile} {
			if *p != "" && !filepath.IsAbs(*p) {
				*p = filepath.Clean(filepath.Join(baseDir, *p))
			}
		}
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.LeaderRedirects == nil {
		c.Server.LeaderRedirects = map[string]string{}
	}

	// Cluster: sin nodes declarados es un cluster de un solo nodo
	if c.Cluster.NodeID == "" {
		c.Cluster.NodeID = "n1"
	}
	if c.Cluster.RaftAddr == "" {
		c.Cluster.RaftAddr = ":7000"
	}
	if c.Cluster.Nodes == nil {
		c.Cluster.Nodes = map[string]string{}
	}
	if len(c.Cluster.Nodes) == 0 {
		c.Cluster.Nodes[c.Cluster.NodeID] = c.Cluster.RaftAddr
	}
	if c.Cluster.DataDir == "" {
		c.Cluster.DataDir = "./data/aether"
	}
	if c.Cluster.ElectionTimeoutMin == 0 {
		c.Cluster.ElectionTimeoutMin = 150 * time.Millisecond
	}
	if c.Cluster.ElectionTimeoutMax == 0 {
		c.Cluster.ElectionTimeoutMax = 2 * c.Cluster.ElectionTimeoutMin
	}
	if c.Cluster.HeartbeatInterval == 0 {
		c.Cluster.HeartbeatInterval = c.Cluster.ElectionTimeoutMin / 3
	}
	if c.Cluster.ProposalTimeout == 0 {
		c.Cluster.ProposalTimeout = 5 * time.Second
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Driver == "redis" && c.Storage.Redis.Addr == "" {
		c.Storage.Redis.Addr = "localhost:6379"
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "aether:"
	}

	if c.Cache.Kind == "" {
		c.Cache.Kind = "none"
	}
	if c.Cache.DefaultTTL == "" {
		c.Cache.DefaultTTL = "30s"
	}
	if c.Cache.Kind == "redis" && c.Cache.Redis.Addr == "" {
		c.Cache.Redis.Addr = c.Storage.Redis.Addr
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "aether:cache:"
	}

	if c.Notify.Kind == "" {
		c.Notify.Kind = "memory"
	}
	if c.Notify.Kind == "redis" && c.Notify.Redis.Addr == "" {
		c.Notify.Redis.Addr = c.Storage.Redis.Addr
	}
	if c.Notify.MaxAttempts == 0 {
		c.Notify.MaxAttempts = 5
	}
	if c.Notify.Backoff == 0 {
		c.Notify.Backoff = 50 * time.Millisecond
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "aether"
	}
	if c.Auth.AccessTTL == "" {
		c.Auth.AccessTTL = "15m"
	}
	if c.Auth.JWTSecret == "" && !c.IsProd() {
		c.Auth.JWTSecret = devJWTSecret
	}
	if c.Auth.LoginRateLimit.Kind == "" {
		c.Auth.LoginRateLimit.Kind = "memory"
	}
	if c.Auth.LoginRateLimit.Window == 0 {
		c.Auth.LoginRateLimit.Window = time.Minute
	}
}

// IsProd reporta app.env == prod.
func (c *Config) IsProd() bool { return strings.EqualFold(c.App.Env, "prod") }

// AccessTTL retorna auth.access_ttl parseado (validado en Load).
func (c *Config) AccessTTL() time.Duration {
	d, _ := time.ParseDuration(c.Auth.AccessTTL)
	return d
}

// CacheTTL retorna cache.default_ttl parseado (validado en Load).
func (c *Config) CacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.Cache.DefaultTTL)
	return d
}

// Validate verifica los valores críticos. Retorna todos los problemas juntos.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf("config: "+format, args...)) }

	if _, ok := c.Cluster.Nodes[c.Cluster.NodeID]; !ok {
		bad("cluster.node_id %q not present in cluster.nodes", c.Cluster.NodeID)
	}
	if c.Cluster.HeartbeatInterval >= c.Cluster.ElectionTimeoutMin {
		bad("cluster.heartbeat_interval must be shorter than election_timeout_min")
	}
	if c.Cluster.ElectionTimeoutMax < c.Cluster.ElectionTimeoutMin {
		bad("cluster.election_timeout_max below election_timeout_min")
	}
	if c.Cluster.RaftTLSEnable && (c.Cluster.RaftTLSCertFile == "" || c.Cluster.RaftTLSKeyFile == "") {
		bad("cluster.raft_tls_enable requires cert and key files")
	}

	switch c.Storage.Driver {
	case "memory", "redis":
	case "postgres":
		if c.Storage.DSN == "" {
			bad("storage.dsn required for postgres")
		}
	default:
		bad("unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Cache.Kind {
	case "none", "memory", "redis":
	default:
		bad("unknown cache.kind %q", c.Cache.Kind)
	}
	switch c.Notify.Kind {
	case "memory", "redis":
	default:
		bad("unknown notify.kind %q", c.Notify.Kind)
	}
	switch c.Auth.LoginRateLimit.Kind {
	case "memory", "redis":
	default:
		bad("unknown auth.login_rate_limit.kind %q", c.Auth.LoginRateLimit.Kind)
	}

	for _, d := range []struct{ key, val string }{
		{"cache.default_ttl", c.Cache.DefaultTTL},
		{"auth.access_ttl", c.Auth.AccessTTL},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			bad("%s: %v", d.key, err)
		}
	}

	if len(c.Auth.JWTSecret) < 16 {
		bad("auth.jwt_secret must be at least 16 bytes")
	}
	seen := map[string]bool{}
	for _, u := range c.Auth.Users {
		if u.Username == "" || u.PasswordHash == "" {
			bad("auth.users: username and password_hash required")
			continue
		}
		if seen[u.Username] {
			bad("auth.users: duplicate user %q", u.Username)
		}
		seen[u.Username] = true
	}
	return errors.Join(errs...)
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

// applyEnvOverrides: pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP / LOG
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(strings.TrimSpace(v))
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	// LEADER_REDIRECTS="n1=http://127.0.0.1:8081;n2=http://127.0.0.1:8082"
	if m, ok := getEnvKVList("LEADER_REDIRECTS", ";"); ok {
		if c.Server.LeaderRedirects == nil {
			c.Server.LeaderRedirects = map[string]string{}
		}
		for k, v := range m {
			c.Server.LeaderRedirects[k] = v
		}
	}

	// ───── Cluster ─────
	if v, ok := getEnvStr("NODE_ID"); ok {
		c.Cluster.NodeID = strings.TrimSpace(v)
	}
	if v, ok := getEnvStr("RAFT_ADDR"); ok {
		c.Cluster.RaftAddr = strings.TrimSpace(v)
	}
	// CLUSTER_NODES="n1=127.0.0.1:7001;n2=127.0.0.1:7002"
	if m, ok := getEnvKVList("CLUSTER_NODES", ";"); ok {
		if c.Cluster.Nodes == nil {
			c.Cluster.Nodes = map[string]string{}
		}
		for k, v := range m {
			c.Cluster.Nodes[k] = v
		}
	}
	if v, ok := getEnvStr("DATA_DIR"); ok {
		c.Cluster.DataDir = v
	}
	if d, ok := getEnvDur("RAFT_ELECTION_TIMEOUT"); ok {
		c.Cluster.ElectionTimeoutMin = d
	}
	if d, ok := getEnvDur("RAFT_HEARTBEAT_INTERVAL"); ok {
		c.Cluster.HeartbeatInterval = d
	}
	if d, ok := getEnvDur("PROPOSAL_TIMEOUT"); ok {
		c.Cluster.ProposalTimeout = d
	}

	// Raft TLS (optional)
	if v, ok := getEnvBool("RAFT_TLS_ENABLE"); ok {
		c.Cluster.RaftTLSEnable = v
	}
	if v, ok := getEnvStr("RAFT_TLS_CERT_FILE"); ok {
		c.Cluster.RaftTLSCertFile = v
	}
	if v, ok := getEnvStr("RAFT_TLS_KEY_FILE"); ok {
		c.Cluster.RaftTLSKeyFile = v
	}
	if v, ok := getEnvStr("RAFT_TLS_CA_FILE"); ok {
		c.Cluster.RaftTLSCAFile = v
	}
	if v, ok := getEnvStr("RAFT_TLS_SERVER_NAME"); ok {
		c.Cluster.RaftTLSServerName = v
	}

	// ───── Storage / cache / notify ─────
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvBool("STORAGE_MIGRATE"); ok {
		c.Storage.Postgres.Migrate = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Storage.Redis.Addr = v
		c.Cache.Redis.Addr = v
		c.Notify.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Storage.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Storage.Redis.DB = v
	}
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := getEnvStr("CACHE_TTL"); ok {
		c.Cache.DefaultTTL = v
	}
	if v, ok := getEnvStr("NOTIFY_KIND"); ok {
		c.Notify.Kind = strings.ToLower(strings.TrimSpace(v))
	}

	// ───── Auth ─────
	if v, ok := getEnvStr("JWT_SECRET"); ok {
		c.Auth.JWTSecret = v
	}
	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.Auth.Issuer = v
	}
	if v, ok := getEnvStr("JWT_ACCESS_TTL"); ok {
		c.Auth.AccessTTL = v
	}
	if v, ok := getEnvInt("LOGIN_RATE_LIMIT"); ok {
		c.Auth.LoginRateLimit.Max = v
	}
}

// parse env of form "k1=v1<sep>k2=v2" into map
func parseKVList(s, sep string) map[string]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]string{}
	}
	items := strings.Split(s, sep)
	out := make(map[string]string, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		// split at first '='
		if i := strings.IndexRune(it, '='); i > 0 {
			k := strings.TrimSpace(it[:i])
			v := strings.TrimSpace(it[i+1:])
			if k != "" && v != "" {
				out[k] = v
			}
		}
	}
	return out
}

func getEnvKVList(key, sep string) (map[string]string, bool) {
	if s, ok := getEnvStr(key); ok {
		return parseKVList(s, sep), true
	}
	return nil, false
}
