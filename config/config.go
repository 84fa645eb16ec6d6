// Package config loads nim-graph settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	LogMode     string            `mapstructure:"log_mode"`
	Model       ModelConfig       `mapstructure:"model"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	VectorIndex VectorIndexConfig `mapstructure:"vector_index"`
	Checkpoint  CheckpointConfig  `mapstructure:"checkpoint"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Tools       ToolsConfig       `mapstructure:"tools"`
	Server      ServerConfig      `mapstructure:"server"`
}

type ModelConfig struct {
	Provider    string  `mapstructure:"provider"`
	Name        string  `mapstructure:"name"`
	APIKey      string  `mapstructure:"api_key"`
	MaxTokens   int64   `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	Dimensions int    `mapstructure:"dimensions"`
	CacheSize  int64  `mapstructure:"cache_size"`
	// The onnx provider reads a local model and tokenizer.
	ModelPath     string `mapstructure:"model_path"`
	TokenizerPath string `mapstructure:"tokenizer_path"`
	OnnxLibrary   string `mapstructure:"onnx_library"`
}

type VectorIndexConfig struct {
	Backend string `mapstructure:"backend"`
	// Path enables chromem persistence when set.
	Path         string `mapstructure:"path"`
	QdrantHost   string `mapstructure:"qdrant_host"`
	QdrantPort   int    `mapstructure:"qdrant_port"`
	QdrantAPIKey string `mapstructure:"qdrant_api_key"`
	QdrantTLS    bool   `mapstructure:"qdrant_tls"`
}

type CheckpointConfig struct {
	Backend       string `mapstructure:"backend"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

type EngineConfig struct {
	MaxHops       int `mapstructure:"max_hops"`
	SelectTools   int `mapstructure:"select_tools"`
	MaxSelect     int `mapstructure:"max_select"`
	MemoryResults int `mapstructure:"memory_results"`
	// RequestsPerMinute enables the per-user rate limit when positive.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	Burst             int     `mapstructure:"burst"`
	// DistributedLocks serializes threads through Redis instead of in-process.
	DistributedLocks bool `mapstructure:"distributed_locks"`
}

type ToolsConfig struct {
	Collections        []string `mapstructure:"collections"`
	RegistryCollection string   `mapstructure:"registry_collection"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// TurnTimeout bounds one turn. Zero means no limit.
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

var defaults = map[string]any{
	"log_mode":                    "dev",
	"model.provider":              "anthropic",
	"model.name":                  "claude-sonnet-4-20250514",
	"model.api_key":               "",
	"model.max_tokens":            4096,
	"model.temperature":           0.0,
	"embedding.provider":          "openai",
	"embedding.model":             "text-embedding-3-small",
	"embedding.api_key":           "",
	"embedding.dimensions":        1536,
	"embedding.cache_size":        10000,
	"embedding.model_path":        "",
	"embedding.tokenizer_path":    "",
	"embedding.onnx_library":      "",
	"vector_index.backend":        "chromem",
	"vector_index.path":           "",
	"vector_index.qdrant_host":    "localhost",
	"vector_index.qdrant_port":    6334,
	"vector_index.qdrant_api_key": "",
	"vector_index.qdrant_tls":     false,
	"checkpoint.backend":          "memory",
	"checkpoint.postgres_dsn":     "",
	"checkpoint.redis_addr":       "localhost:6379",
	"checkpoint.redis_password":   "",
	"checkpoint.redis_db":         0,
	"checkpoint.redis_prefix":     "nimgraph",
	"engine.max_hops":             25,
	"engine.select_tools":         5,
	"engine.max_select":           10,
	"engine.memory_results":       5,
	"engine.requests_per_minute":  0.0,
	"engine.burst":                5,
	"engine.distributed_locks":    false,
	"tools.collections":           []string{"faq", "agentic-rag-collection"},
	"tools.registry_collection":   "tool_registry",
	"server.addr":                 ":8080",
	"server.turn_timeout":         "5m",
	"server.allowed_origins":      []string{},
}

// Load reads nimgraph.yaml from the given directories (or the working
// directory and $XDG_CONFIG_HOME/nim-graph), then applies NIMGRAPH_*
// environment overrides. A missing file is not an error.
func Load(dirs ...string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetConfigName("nimgraph")
	v.SetConfigType("yaml")
	if len(dirs) == 0 {
		dirs = defaultDirs()
	}
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("NIMGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Provider keys fall back to the variables their SDKs use.
	_ = v.BindEnv("model.api_key", "NIMGRAPH_MODEL_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("embedding.api_key", "NIMGRAPH_EMBEDDING_API_KEY", "OPENAI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func defaultDirs() []string {
	dirs := []string{"."}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "nim-graph"))
	} else if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "nim-graph"))
	}
	return dirs
}

// Validate checks that every selected backend has what it needs.
func (c *Config) Validate() error {
	var errs []error
	switch c.Model.Provider {
	case "anthropic", "openai":
		if c.Model.APIKey == "" {
			errs = append(errs, fmt.Errorf("model.api_key is required for provider %q", c.Model.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown model.provider %q", c.Model.Provider))
	}
	switch c.Embedding.Provider {
	case "openai":
		if c.Embedding.APIKey == "" {
			errs = append(errs, errors.New("embedding.api_key is required for provider \"openai\""))
		}
	case "onnx":
		if c.Embedding.ModelPath == "" || c.Embedding.TokenizerPath == "" {
			errs = append(errs, errors.New("embedding.model_path and embedding.tokenizer_path are required for provider \"onnx\""))
		}
	case "mock":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, errors.New("embedding.dimensions must be positive"))
	}
	switch c.VectorIndex.Backend {
	case "chromem":
	case "qdrant":
		if c.VectorIndex.QdrantHost == "" {
			errs = append(errs, errors.New("vector_index.qdrant_host is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vector_index.backend %q", c.VectorIndex.Backend))
	}
	switch c.Checkpoint.Backend {
	case "memory":
	case "postgres":
		if c.Checkpoint.PostgresDSN == "" {
			errs = append(errs, errors.New("checkpoint.postgres_dsn is required"))
		}
	case "redis":
		if c.Checkpoint.RedisAddr == "" {
			errs = append(errs, errors.New("checkpoint.redis_addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint.backend %q", c.Checkpoint.Backend))
	}
	if c.Engine.DistributedLocks && c.Checkpoint.RedisAddr == "" {
		errs = append(errs, errors.New("engine.distributed_locks requires checkpoint.redis_addr"))
	}
	if c.Server.TurnTimeout < 0 {
		errs = append(errs, errors.New("server.turn_timeout must not be negative"))
	}
	if c.Engine.MaxHops <= 0 {
		errs = append(errs, errors.New("engine.max_hops must be positive"))
	}
	return errors.Join(errs...)
}
