package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Research  ResearchConfig  `mapstructure:"research"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Guard     GuardConfig     `mapstructure:"guard"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address     string        `mapstructure:"address"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	SweepCron   string        `mapstructure:"sweep_cron"`
	MaxUploadMB int64         `mapstructure:"max_upload_mb"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("server.address is required")
	}
	return nil
}

// LLMConfig contains LLM provider configuration
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Models     map[string]LLMModel `mapstructure:"models"`
	Routing    LLMRoutingConfig    `mapstructure:"routing"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	Fallback        string  `mapstructure:"fallback"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1KInput  float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model tier serves each pipeline task
type LLMRoutingConfig struct {
	Decomposition  string `mapstructure:"decomposition"`
	Analysis       string `mapstructure:"analysis"`
	Insights       string `mapstructure:"insights"`
	Synthesis      string `mapstructure:"synthesis"`
	Classification string `mapstructure:"classification"`
	Fallback       string `mapstructure:"fallback"`
}

func (l LLMConfig) Validate() error {
	if len(l.Models) == 0 {
		return fmt.Errorf("llm.models must declare at least one model")
	}
	for _, tier := range []string{l.Routing.Decomposition, l.Routing.Analysis, l.Routing.Insights, l.Routing.Synthesis, l.Routing.Classification} {
		if tier == "" {
			continue
		}
		if _, ok := l.Models[tier]; !ok {
			return fmt.Errorf("llm.routing references unknown model %q", tier)
		}
	}
	return nil
}

// SearchConfig contains web search provider settings
type SearchConfig struct {
	TavilyAPIKey     string        `mapstructure:"tavily_api_key"`
	BraveAPIKey      string        `mapstructure:"brave_api_key"`
	SerperAPIKey     string        `mapstructure:"serper_api_key"`
	ResultsPerQuery  int           `mapstructure:"results_per_query"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FetchFullContent bool          `mapstructure:"fetch_full_content"`
	FetchMaxChars    int           `mapstructure:"fetch_max_chars"`
}

// ResearchConfig bounds the Phase A pipeline
type ResearchConfig struct {
	MaxSubQueries         int           `mapstructure:"max_sub_queries"`
	MaxAnalyzedSources    int           `mapstructure:"max_analyzed_sources"`
	MaxContradictionPairs int           `mapstructure:"max_contradiction_pairs"`
	MaxConcurrentRuns     int           `mapstructure:"max_concurrent_runs"`
	FanOutWorkers         int           `mapstructure:"fan_out_workers"`
	StageTimeout          time.Duration `mapstructure:"stage_timeout"`
	ContentTruncation     int           `mapstructure:"content_truncation"`
}

func (r ResearchConfig) Validate() error {
	if r.MaxSubQueries < 1 || r.MaxSubQueries > 10 {
		return fmt.Errorf("research.max_sub_queries must be in [1,10]")
	}
	if r.MaxContradictionPairs < 0 {
		return fmt.Errorf("research.max_contradiction_pairs cannot be negative")
	}
	return nil
}

// ChatConfig bounds the Phase B chat loop
type ChatConfig struct {
	MaxHistoryTurns  int           `mapstructure:"max_history_turns"`
	ContextSnippets  int           `mapstructure:"context_snippets"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	SuggestionCount  int           `mapstructure:"suggestion_count"`
	ReportContextMax int           `mapstructure:"report_context_max"`
}

// GuardConfig contains safety and budget limits
type GuardConfig struct {
	MaxQueryLength int     `mapstructure:"max_query_length"`
	MaxSessionCost float64 `mapstructure:"max_session_cost_usd"`
	RedactPII      bool    `mapstructure:"redact_pii"`
}

// TelemetryConfig contains monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// StorageConfig contains session store and archive settings
type StorageConfig struct {
	SessionStore string         `mapstructure:"session_store"` // inmemory | redis
	Redis        RedisConfig    `mapstructure:"redis"`
	Postgres     PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN assembles a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	setDefaults()

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DEEPRESEARCHER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Server.Validate(); err != nil {
		panic(err)
	}
	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Research.Validate(); err != nil {
		panic(err)
	}
	if config.Storage.SessionStore == "redis" {
		if err := config.Storage.Redis.Validate(); err != nil {
			panic(err)
		}
	}
	return &config
}

func setDefaults() {
	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("server.address", ":10011")
	viper.SetDefault("server.token_ttl", "24h")
	viper.SetDefault("server.sweep_cron", "*/15 * * * *")
	viper.SetDefault("server.max_upload_mb", 16)
	viper.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	viper.SetDefault("llm.timeout", "60s")
	viper.SetDefault("llm.max_retries", 1)
	viper.SetDefault("search.results_per_query", 5)
	viper.SetDefault("search.timeout", "15s")
	viper.SetDefault("search.fetch_max_chars", 6000)
	viper.SetDefault("research.max_sub_queries", 5)
	viper.SetDefault("research.max_analyzed_sources", 15)
	viper.SetDefault("research.max_contradiction_pairs", 45)
	viper.SetDefault("research.max_concurrent_runs", 4)
	viper.SetDefault("research.fan_out_workers", 5)
	viper.SetDefault("research.stage_timeout", "3m")
	viper.SetDefault("research.content_truncation", 2000)
	viper.SetDefault("chat.max_history_turns", 20)
	viper.SetDefault("chat.context_snippets", 6)
	viper.SetDefault("chat.session_ttl", "48h")
	viper.SetDefault("chat.suggestion_count", 3)
	viper.SetDefault("chat.report_context_max", 10000)
	viper.SetDefault("guard.max_query_length", 500)
	viper.SetDefault("guard.max_session_cost_usd", 100.0)
	viper.SetDefault("guard.redact_pii", true)
	viper.SetDefault("storage.session_store", "inmemory")
}
