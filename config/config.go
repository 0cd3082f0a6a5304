// Package config loads agentgraph settings from a YAML file and
// AGENTGRAPH_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/martinemde/agentgraph/budget"
	"github.com/martinemde/agentgraph/permission"
)

// EnvPrefix prefixes every environment override, e.g. AGENTGRAPH_MODEL_NAME.
const EnvPrefix = "AGENTGRAPH"

// Config is the full application configuration.
type Config struct {
	Model   ModelConfig   `mapstructure:"model"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
}

// ModelConfig selects and tunes the model provider.
type ModelConfig struct {
	Provider      string  `mapstructure:"provider"`
	Name          string  `mapstructure:"name"`
	APIKey        string  `mapstructure:"api_key"`
	ContextWindow int     `mapstructure:"context_window"` // 0 uses the model catalog
	MaxTokens     int     `mapstructure:"max_tokens"`
	Temperature   float64 `mapstructure:"temperature"`
	MaxRetries    int     `mapstructure:"max_retries"`
	Streaming     bool    `mapstructure:"streaming"`
}

// AgentConfig tunes the executor.
type AgentConfig struct {
	PermissionMode   string        `mapstructure:"permission_mode"`
	KeepRecent       int           `mapstructure:"keep_recent"`
	TrimRatio        float64       `mapstructure:"trim_ratio"`
	CompactRatio     float64       `mapstructure:"compact_ratio"`
	ToolConcurrency  int           `mapstructure:"tool_concurrency"`
	CommandTimeout   time.Duration `mapstructure:"command_timeout"`
	MaxSteps         int           `mapstructure:"max_steps"`
	LoopWindow       int           `mapstructure:"loop_detection_window"` // 0 disables
	UserInstructions string        `mapstructure:"user_instructions"`
}

// StorageConfig locates persisted data.
type StorageConfig struct {
	DataDir      string `mapstructure:"data_dir"`
	CheckpointDB string `mapstructure:"checkpoint_db"` // relative paths resolve under DataDir
}

// LogConfig controls process logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DefaultDataDir returns ~/.agentgraph, or ./.agentgraph when the home
// directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentgraph"
	}
	return filepath.Join(home, ".agentgraph")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model.provider", "ollama")
	v.SetDefault("model.name", "qwen3:8b")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.context_window", 0)
	v.SetDefault("model.max_tokens", 4096)
	v.SetDefault("model.temperature", 0.2)
	v.SetDefault("model.max_retries", 2)
	v.SetDefault("model.streaming", true)

	v.SetDefault("agent.permission_mode", string(permission.ModeDefault))
	v.SetDefault("agent.keep_recent", budget.DefaultKeepRecent)
	v.SetDefault("agent.trim_ratio", budget.DefaultTrimRatio)
	v.SetDefault("agent.compact_ratio", budget.DefaultCompactRatio)
	v.SetDefault("agent.tool_concurrency", 4)
	v.SetDefault("agent.command_timeout", 2*time.Minute)
	v.SetDefault("agent.max_steps", 200)
	v.SetDefault("agent.loop_detection_window", 10)
	v.SetDefault("agent.user_instructions", "")

	v.SetDefault("storage.data_dir", DefaultDataDir())
	v.SetDefault("storage.checkpoint_db", "checkpoints.db")

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.pretty", true)
}

// Load reads configuration. An explicit path must exist; otherwise
// agentgraph.yaml is looked up in the working directory and the default
// data directory, and its absence is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("agentgraph")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDataDir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := permission.ParseMode(c.Agent.PermissionMode); err != nil {
		return fmt.Errorf("agent.permission_mode: %w", err)
	}
	if c.Agent.TrimRatio <= 0 || c.Agent.TrimRatio > 1 {
		return fmt.Errorf("agent.trim_ratio must be in (0, 1], got %v", c.Agent.TrimRatio)
	}
	if c.Agent.CompactRatio <= 0 || c.Agent.CompactRatio > 1 {
		return fmt.Errorf("agent.compact_ratio must be in (0, 1], got %v", c.Agent.CompactRatio)
	}
	if c.Agent.TrimRatio >= c.Agent.CompactRatio {
		return fmt.Errorf("agent.trim_ratio (%v) must be below agent.compact_ratio (%v)", c.Agent.TrimRatio, c.Agent.CompactRatio)
	}
	if c.Agent.KeepRecent < 0 {
		return fmt.Errorf("agent.keep_recent must not be negative")
	}
	if c.Agent.LoopWindow < 0 {
		return fmt.Errorf("agent.loop_detection_window must not be negative")
	}
	if c.Model.ContextWindow < 0 {
		return fmt.Errorf("model.context_window must not be negative")
	}
	if c.Model.Name == "" {
		return errors.New("model.name is required")
	}
	return nil
}

// Mode returns the configured permission mode.
func (c *Config) Mode() permission.Mode {
	m, _ := permission.ParseMode(c.Agent.PermissionMode)
	return m
}

// CheckpointPath returns the checkpoint database path.
func (c *Config) CheckpointPath() string {
	if filepath.IsAbs(c.Storage.CheckpointDB) {
		return c.Storage.CheckpointDB
	}
	return filepath.Join(c.Storage.DataDir, c.Storage.CheckpointDB)
}

// Budget returns the trim and compaction policy. The context window is
// resolved per model by the executor.
func (c *Config) Budget() budget.Policy {
	return budget.Policy{
		ContextWindow: c.Model.ContextWindow,
		TrimRatio:     c.Agent.TrimRatio,
		CompactRatio:  c.Agent.CompactRatio,
		KeepRecent:    c.Agent.KeepRecent,
	}
}
