package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/aman-churiwal/chain-gateway/internal/access"
)

type Config struct {
	Server    ServerConfig
	Access    AccessConfig
	RateLimit RateLimitConfig
	Backends  []BackendConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Admin     AdminConfig
	Tracing   bool
}

type ServerConfig struct {
	Port           string
	Environment    string
	MaxConnections int
}

type AccessConfig struct {
	Identifier string
	Secrets    []string
}

type RateLimitConfig struct {
	// RequestsPerMinute is the default-tier limit. Zero disables limiting.
	RequestsPerMinute int
	ProMultiplier     int
	MaxKeys           int
}

// ProRequestsPerMinute is the privileged-tier limit.
func (r RateLimitConfig) ProRequestsPerMinute() int {
	return r.RequestsPerMinute * r.ProMultiplier
}

// Enabled is false when the default-tier limit is zero.
func (r RateLimitConfig) Enabled() bool {
	return r.RequestsPerMinute > 0
}

// BackendConfig is one upstream service and the URL prefixes it owns.
type BackendConfig struct {
	Name         string   `koanf:"name"`
	Targets      []string `koanf:"targets"`
	Prefixes     []string `koanf:"prefixes"`
	HealthPath   string   `koanf:"health_path"`
	LoadBalancer string   `koanf:"load_balancer"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type DatabaseConfig struct {
	DSN string
}

type AdminConfig struct {
	JWTSecret        string
	PasswordHash     string
	TokenExpiryHours int
}

// Enabled is true when both a signing secret and a password hash are set.
func (a AdminConfig) Enabled() bool {
	return a.JWTSecret != "" && a.PasswordHash != ""
}

// envKeys maps the environment variables operators set to config keys.
var envKeys = map[string]string{
	"PORT":                      "server.port",
	"ENVIRONMENT":               "server.environment",
	"MAX_CONNECTIONS":           "server.max_connections",
	"PRO_USERNAME":              "access.identifier",
	"PRO_PASSES":                "access.secrets",
	"RATE_LIMIT_MAX_REQUESTS":   "ratelimit.max_requests",
	"RATE_LIMIT_PRO_MULTIPLIER": "ratelimit.pro_multiplier",
	"RATE_LIMIT_MAX_KEYS":       "ratelimit.max_keys",
	"NODE_URL":                  "urls.node",
	"EXPLORER_URL":              "urls.explorer",
	"INDEXER_URL":               "urls.indexer",
	"REDIS_ADDR":                "redis.addr",
	"REDIS_PASSWORD":            "redis.password",
	"REDIS_DB":                  "redis.db",
	"DATABASE_URL":              "database.dsn",
	"JWT_SECRET":                "admin.jwt_secret",
	"ADMIN_PASSWORD_HASH":       "admin.password_hash",
	"JWT_EXPIRY_HOURS":          "admin.jwt_expiry_hours",
	"TRACING_ENABLED":           "tracing.enabled",
}

var defaults = map[string]string{
	"server.port":              "3000",
	"server.environment":       "development",
	"server.max_connections":   "0",
	"access.identifier":        access.DefaultIdentifier,
	"ratelimit.max_requests":   "60",
	"ratelimit.pro_multiplier": "10",
	"ratelimit.max_keys":       "100000",
	"urls.node":                "http://localhost:8332",
	"urls.explorer":            "http://localhost:3001",
	"urls.indexer":             "http://localhost:3002",
	"redis.db":                 "0",
	"admin.jwt_expiry_hours":   "24",
	"tracing.enabled":          "false",
}

// Load reads the optional YAML file at path, then overlays the environment.
// Malformed values are reported as errors rather than replaced by defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		k.Set(key, value)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	// Unknown variables and empty values are skipped.
	if err := k.Load(env.ProviderWithValue("", ".", func(name, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		return envKeys[name], value
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	return parse(k)
}

func parse(k *koanf.Koanf) (*Config, error) {
	var errs []error
	intValue := func(key string, min int) int {
		raw := strings.TrimSpace(k.String(key))
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, raw))
			return 0
		}
		if n < min {
			errs = append(errs, fmt.Errorf("%s: %d is below the minimum of %d", key, n, min))
			return 0
		}
		return n
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           k.String("server.port"),
			Environment:    k.String("server.environment"),
			MaxConnections: intValue("server.max_connections", 0),
		},
		Access: AccessConfig{
			Identifier: k.String("access.identifier"),
			Secrets:    access.ParseAllowList(k.String("access.secrets")),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: intValue("ratelimit.max_requests", 0),
			ProMultiplier:     intValue("ratelimit.pro_multiplier", 1),
			MaxKeys:           intValue("ratelimit.max_keys", 1),
		},
		Redis: RedisConfig{
			Addr:     k.String("redis.addr"),
			Password: k.String("redis.password"),
			DB:       intValue("redis.db", 0),
		},
		Database: DatabaseConfig{
			DSN: k.String("database.dsn"),
		},
		Admin: AdminConfig{
			JWTSecret:        k.String("admin.jwt_secret"),
			PasswordHash:     k.String("admin.password_hash"),
			TokenExpiryHours: intValue("admin.jwt_expiry_hours", 1),
		},
	}

	if rl := cfg.RateLimit; rl.ProMultiplier > 0 && rl.RequestsPerMinute > math.MaxInt/rl.ProMultiplier {
		errs = append(errs, fmt.Errorf("ratelimit.pro_multiplier: %d x %d overflows the privileged limit",
			rl.RequestsPerMinute, rl.ProMultiplier))
	}

	tracing, err := strconv.ParseBool(strings.TrimSpace(k.String("tracing.enabled")))
	if err != nil {
		errs = append(errs, fmt.Errorf("tracing.enabled: %q is not a boolean", k.String("tracing.enabled")))
	}
	cfg.Tracing = tracing

	if k.Exists("backends") {
		if err := k.Unmarshal("backends", &cfg.Backends); err != nil {
			errs = append(errs, fmt.Errorf("backends: %w", err))
		}
	} else {
		cfg.Backends = defaultBackends(k)
	}

	for i, b := range cfg.Backends {
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("backends[%d]: name is required", i))
		}
		if len(b.Targets) == 0 {
			errs = append(errs, fmt.Errorf("backends[%d] %s: at least one target is required", i, b.Name))
		}
		if len(b.Prefixes) == 0 {
			errs = append(errs, fmt.Errorf("backends[%d] %s: at least one prefix is required", i, b.Name))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	return cfg, nil
}

// defaultBackends is the route table used when the config file does not
// declare one: the full node serves the RPC-backed groups, the explorer serves
// address/block/transaction lookups and the indexer serves token queries.
func defaultBackends(k *koanf.Koanf) []BackendConfig {
	return []BackendConfig{
		{
			Name:    "node",
			Targets: splitList(k.String("urls.node")),
			Prefixes: []string{
				"/v1/blockchain", "/v1/control", "/v1/generating", "/v1/mining",
				"/v1/network", "/v1/rawtransactions", "/v1/util",
			},
			HealthPath: "/",
		},
		{
			Name:       "explorer",
			Targets:    splitList(k.String("urls.explorer")),
			Prefixes:   []string{"/v1/address", "/v1/block", "/v1/transaction"},
			HealthPath: "/health",
		},
		{
			Name:       "indexer",
			Targets:    splitList(k.String("urls.indexer")),
			Prefixes:   []string{"/v1/slp"},
			HealthPath: "/health",
		},
	}
}

func splitList(raw string) []string {
	out := make([]string, 0)
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
