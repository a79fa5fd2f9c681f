// Package config loads server configuration from hard defaults, an optional
// TOML file, and environment variable overrides, in that order, following the
// layering used throughout the reference corpus for single-binary agent
// servers.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the full set of recognized options (spec.md §6).
type Config struct {
	Server  ServerConfig  `toml:"server"`
	TLS     TLSConfig     `toml:"tls"`
	Auth    AuthConfig    `toml:"auth"`
	Limits  LimitsConfig  `toml:"limits"`
	Model   ModelConfig   `toml:"model"`
	Mongo   MongoConfig   `toml:"mongo"`
	Feature FeatureConfig `toml:"feature"`
}

type ServerConfig struct {
	Version        string `toml:"version"`
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	WorkerPoolSize int    `toml:"worker_pool_size"`
	MaxRecvMsgMiB  int    `toml:"max_recv_msg_mib"`
	MaxSendMsgMiB  int    `toml:"max_send_msg_mib"`
}

type TLSConfig struct {
	CertPath string `toml:"cert_path"`
	KeyPath  string `toml:"key_path"`
}

type AuthConfig struct {
	// SecretEnv names the environment variable holding the HS256 signing
	// secret. The secret itself is never stored in the TOML file.
	SecretEnv    string   `toml:"secret_env"`
	TokenHeader  string   `toml:"token_header"`
	SkipMethods  []string `toml:"skip_methods"`
	CacheSize    int      `toml:"cache_size"`
	CacheTTLSec  int      `toml:"cache_ttl_sec"`
}

type LimitsConfig struct {
	GlobalRatePerSec  float64 `toml:"global_rate_per_sec"`
	GlobalBurst       int     `toml:"global_burst"`
	UserRatePerMinute float64 `toml:"user_rate_per_minute"`
	UserBurst         int     `toml:"user_burst"`
	Shards            int     `toml:"shards"`
	BucketTTLSec      int     `toml:"bucket_ttl_sec"`
	CleanupIntervalSec int    `toml:"cleanup_interval_sec"`
}

type ModelConfig struct {
	// Provider selects which LLM Oracle adapter cmd/server wires up:
	// "anthropic", "openai", or "bedrock".
	Provider         string         `toml:"provider"`
	DefaultModel     string         `toml:"default_model"`
	InputTokenBudget int            `toml:"input_token_budget"`
	Overrides        map[string]int `toml:"overrides"`
	RerankMinScore   float64        `toml:"rerank_min_score"`
	DenseDistanceMax float64        `toml:"dense_distance_max"`
	// RAGAlpha is the dense-source weight in the hybrid RRF score
	// (spec.md §4.6): score(d) = alpha/(K+rank_dense) + (1-alpha)/(K+rank_sparse).
	RAGAlpha float64 `toml:"rag_alpha"`
}

type MongoConfig struct {
	Database            string `toml:"database"`
	CheckpointColl      string `toml:"checkpoint_collection"`
	ProfileColl         string `toml:"profile_collection"`
	TimeoutSec          int    `toml:"timeout_sec"`
	// DSN is intentionally absent here: it is mandatory from the environment
	// only (spec.md §6), never from the TOML file.
}

type FeatureConfig struct {
	EnableAuth          bool `toml:"enable_auth"`
	EnableGlobalLimit   bool `toml:"enable_global_limit"`
	EnablePerUserLimit  bool `toml:"enable_per_user_limit"`
}

// Orchestration constants (spec.md §6/§8). These are compile-time constants:
// Config has no field for them, so the TOML file and environment cannot
// override them, and changing one needs a rebuild.
const (
	DefaultWRecent              = 16
	DefaultTopKTail             = 6
	DefaultMaxLoops             = 10
	DefaultMaxToolAttempts      = 2
	DefaultMaxStructuredRetries = 3
	DefaultRRFK                 = 60
)

// Default returns a Config with every field set to its spec-mandated default.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           50051,
			WorkerPoolSize: 32,
			MaxRecvMsgMiB:  50,
			MaxSendMsgMiB:  50,
		},
		TLS: TLSConfig{
			CertPath: "certs/server.crt",
			KeyPath:  "certs/server.key",
		},
		Auth: AuthConfig{
			SecretEnv:   "AGENT_JWT_SECRET",
			TokenHeader: "authorization",
			SkipMethods: []string{"GetServerInfo"},
			CacheSize:   1000,
			CacheTTLSec: 600,
		},
		Limits: LimitsConfig{
			GlobalRatePerSec:   100,
			GlobalBurst:        200,
			UserRatePerMinute:  60,
			UserBurst:          120,
			Shards:             64,
			BucketTTLSec:       1800,
			CleanupIntervalSec: 60,
		},
		Model: ModelConfig{
			Provider:         "anthropic",
			DefaultModel:     "claude-opus-4-1-20250805",
			InputTokenBudget: 8000,
			Overrides:        map[string]int{},
			RerankMinScore:   0.0,
			DenseDistanceMax: 0.6,
			RAGAlpha:         0.5,
		},
		Mongo: MongoConfig{
			Database:       "pgoagent",
			CheckpointColl: "conversation_checkpoints",
			ProfileColl:    "user_profiles",
			TimeoutSec:     5,
		},
		Feature: FeatureConfig{
			EnableAuth:         true,
			EnableGlobalLimit:  true,
			EnablePerUserLimit: true,
		},
	}
}

// DSNEnv names the environment variable holding the mandatory database DSN.
const DSNEnv = "AGENT_DB_DSN"

// Load builds a Config from defaults, an optional TOML file at path (a
// missing file is not an error), and environment overrides. It returns an
// error when the file exists but is not valid TOML, when AGENT_SERVER_PORT
// is not an integer, or when the mandatory DSN environment variable is
// unset; every other option has a usable default.
func Load(path string) (Config, string, error) {
	cfg := Default()

	if path == "" {
		path = "agentserver.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if _, decodeErr := toml.Decode(string(data), &cfg); decodeErr != nil {
			return cfg, "", fmt.Errorf("config: parsing %s: %w", path, decodeErr)
		}
	}

	if v := os.Getenv("AGENT_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("AGENT_SERVER_PORT"); v != "" {
		if n, err := fmt.Sscanf(v, "%d", &cfg.Server.Port); err != nil || n != 1 {
			return cfg, "", fmt.Errorf("config: invalid AGENT_SERVER_PORT %q", v)
		}
	}
	if v := os.Getenv("AGENT_TLS_CERT_PATH"); v != "" {
		cfg.TLS.CertPath = v
	}
	if v := os.Getenv("AGENT_TLS_KEY_PATH"); v != "" {
		cfg.TLS.KeyPath = v
	}

	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		return cfg, "", fmt.Errorf("config: %s is mandatory and was not set", DSNEnv)
	}

	return cfg, dsn, nil
}

// Secret resolves the JWT signing secret named by Auth.SecretEnv.
func (c Config) Secret() (string, error) {
	v := os.Getenv(c.Auth.SecretEnv)
	if v == "" {
		return "", fmt.Errorf("config: %s is not set", c.Auth.SecretEnv)
	}
	return v, nil
}
