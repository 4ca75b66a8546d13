package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/opsdeck/opsrouter/opsr"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Router    RouterConfig    `mapstructure:"router"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Reports   ReportsConfig   `mapstructure:"reports"`
}

// StoreConfig controls the durable session log and the memory facade.
type StoreConfig struct {
	DataDir      string `mapstructure:"data_dir"`      // directory for the embedded database
	DatabaseTag  string `mapstructure:"database_tag"`  // file name of the database
	MaxMessages  int    `mapstructure:"max_messages"`  // per-session turn cap, 0 = unlimited
	ContextTurns int    `mapstructure:"context_turns"` // turns handed to prompt construction

	// Strategy selects how the memory facade shapes history:
	// "window" (plain FIFO view) or "summarize" (older turns collapsed
	// into a single synthesized summary turn).
	Strategy      string `mapstructure:"strategy"`
	SummarizeKeep int    `mapstructure:"summarize_keep"` // verbatim turns kept by the summarize strategy
}

// DatabasePath returns the full path of the session log database.
func (s StoreConfig) DatabasePath() string {
	return filepath.Join(s.DataDir, s.DatabaseTag)
}

// WorkflowConfig controls the diagnostic workflow engine.
type WorkflowConfig struct {
	// StaleThreshold is the age beyond which a last-event timestamp is
	// classified stale. The single most consequential rule in the engine;
	// never hard-coded anywhere else.
	StaleThreshold   time.Duration `mapstructure:"stale_threshold"`
	DefaultStreamID  string        `mapstructure:"default_stream_id"` // scope used when the caller supplies none
	BatchLimit       int           `mapstructure:"batch_limit"`       // max targets per batch run
	BatchConcurrency int           `mapstructure:"batch_concurrency"` // parallel state machines in batch mode
}

// RouterConfig controls the intent router.
type RouterConfig struct {
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`
	EnableTracing       bool          `mapstructure:"enable_tracing"`
}

// InventoryConfig points the inventory tool at the device directory API.
type InventoryConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Token           string        `mapstructure:"token"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CacheCapacity   int           `mapstructure:"cache_capacity"`
	CacheTTLSeconds int           `mapstructure:"cache_ttl_seconds"`
}

// LLMConfig points the chat tool at an OpenAI-compatible completion
// endpoint and stores sampling defaults.
type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxNewTokens int           `mapstructure:"max_new_tokens"`
	Temperature  float32       `mapstructure:"temperature"`
	TopP         float32       `mapstructure:"top_p"`
}

// ReportsConfig points the file-scan tool at the exported report directory.
type ReportsConfig struct {
	Dir string `mapstructure:"dir"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Store defaults
	viper.SetDefault("store.data_dir", internal.DefaultDataDir)
	viper.SetDefault("store.database_tag", internal.DefaultDatabaseFile)
	viper.SetDefault("store.max_messages", 100)
	viper.SetDefault("store.context_turns", 20)
	viper.SetDefault("store.strategy", "window")
	viper.SetDefault("store.summarize_keep", 10)

	// Workflow defaults
	viper.SetDefault("workflow.stale_threshold", "15m")
	viper.SetDefault("workflow.default_stream_id", "")
	viper.SetDefault("workflow.batch_limit", 50)
	viper.SetDefault("workflow.batch_concurrency", 5)

	// Router defaults
	viper.SetDefault("router.rate_limit_enabled", false)
	viper.SetDefault("router.rate_limit_capacity", 10)
	viper.SetDefault("router.rate_limit_refill_rate", "1s")
	viper.SetDefault("router.enable_tracing", true)

	// Inventory defaults
	viper.SetDefault("inventory.base_url", "")
	viper.SetDefault("inventory.token", "")
	viper.SetDefault("inventory.timeout", "30s")
	viper.SetDefault("inventory.cache_capacity", 256)
	viper.SetDefault("inventory.cache_ttl_seconds", 60)

	// LLM defaults
	viper.SetDefault("llm.base_url", "")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.model", "")
	viper.SetDefault("llm.timeout", "60s")
	viper.SetDefault("llm.max_new_tokens", 1024)
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.top_p", 0.9)

	// Reports defaults
	viper.SetDefault("reports.dir", "reports")

	viper.AutomaticEnv()
	// Replace dots with underscores in env var names, e.g. workflow.stale_threshold
	// becomes WORKFLOW_STALE_THRESHOLD.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults will be used.
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}
