package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App      App      `mapstructure:"app"`
	AI       AI       `mapstructure:"ai"`
	Radar    Radar    `mapstructure:"radar"`
	Research Research `mapstructure:"research"`
	Search   Search   `mapstructure:"search"`
	Feeds    Feeds    `mapstructure:"feeds"`
	Store    Store    `mapstructure:"store"`
	Server   Server   `mapstructure:"server"`
}

// App holds general application configuration
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// AI holds LLM configuration
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	ResearchModel  string  `mapstructure:"research_model"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	Temperature    float32 `mapstructure:"temperature"`
	MaxTokens      int32   `mapstructure:"max_tokens"`
	Timeout        string  `mapstructure:"timeout"`
}

// Radar holds the hot-news detection parameters
type Radar struct {
	WindowHours         int     `mapstructure:"window_hours"`
	TopK                int     `mapstructure:"top_k"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	HotnessThreshold    float64 `mapstructure:"hotness_threshold"`
	ScoringConcurrency  int     `mapstructure:"scoring_concurrency"`
	EmbedConcurrency    int     `mapstructure:"embed_concurrency"`
	RetryAttempts       int     `mapstructure:"retry_attempts"`
	RetryBaseDelay      string  `mapstructure:"retry_base_delay"`
	RunTimeout          string  `mapstructure:"run_timeout"`
	PreferOracleOverall bool    `mapstructure:"prefer_oracle_overall"`
}

// Research holds deep research configuration
type Research struct {
	Enabled     bool   `mapstructure:"enabled"`
	MaxSources  int    `mapstructure:"max_sources"`
	Concurrency int    `mapstructure:"concurrency"`
	Timeout     string `mapstructure:"timeout"`
}

// Search holds search provider configuration
type Search struct {
	Provider   string       `mapstructure:"provider"`
	MaxResults int          `mapstructure:"max_results"`
	Timeout    string       `mapstructure:"timeout"`
	Tavily     TavilyConfig `mapstructure:"tavily"`
}

// TavilyConfig holds Tavily search API configuration
type TavilyConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// Feeds holds RSS/feed collection configuration
type Feeds struct {
	URLs        []string `mapstructure:"urls"`
	UserAgent   string   `mapstructure:"user_agent"`
	Timeout     string   `mapstructure:"timeout"`
	MaxPerFeed  int      `mapstructure:"max_per_feed"`
	Concurrency int      `mapstructure:"concurrency"`
}

// Store holds run-history persistence configuration
type Store struct {
	Directory string `mapstructure:"directory"`
	KeepRuns  int    `mapstructure:"keep_runs"`
}

// Server holds HTTP server configuration
type Server struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	CORS         CORS   `mapstructure:"cors"`
}

// CORS holds cross-origin settings for the HTTP API
type CORS struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DefaultFeedURLs is the default set of financial news feeds polled when the
// configuration does not name any.
var DefaultFeedURLs = []string{
	"https://feeds.reuters.com/reuters/businessNews",
	"https://feeds.reuters.com/news/wealth",
	"https://www.ft.com/rss/companies",
	"https://seekingalpha.com/feed.xml",
	"https://www.investing.com/rss/news.rss",
	"https://www.cnbc.com/id/100003114/device/rss/rss.html",
	"https://www.marketwatch.com/rss/topstories",
}

var globalConfig *Config

// Load loads the configuration from .env, a config file, and environment
// variables, in that order of increasing precedence.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".radar")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(config.Feeds.URLs) == 0 {
		config.Feeds.URLs = DefaultFeedURLs
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// Reset clears the cached global configuration. Intended for tests.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

func setDefaults() {
	// App defaults
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.data_dir", ".radar-cache")

	// AI defaults
	viper.SetDefault("ai.gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("ai.gemini.research_model", "gemini-flash-latest")
	viper.SetDefault("ai.gemini.embedding_model", "gemini-embedding-001")
	viper.SetDefault("ai.gemini.temperature", 0.3)
	viper.SetDefault("ai.gemini.max_tokens", 8192)
	viper.SetDefault("ai.gemini.timeout", "30s")

	// Radar defaults
	viper.SetDefault("radar.window_hours", 24)
	viper.SetDefault("radar.top_k", 10)
	viper.SetDefault("radar.similarity_threshold", 0.85)
	viper.SetDefault("radar.hotness_threshold", 0.6)
	viper.SetDefault("radar.scoring_concurrency", 3)
	viper.SetDefault("radar.embed_concurrency", 5)
	viper.SetDefault("radar.retry_attempts", 3)
	viper.SetDefault("radar.retry_base_delay", "500ms")
	viper.SetDefault("radar.run_timeout", "5m")
	viper.SetDefault("radar.prefer_oracle_overall", false)

	// Research defaults
	viper.SetDefault("research.enabled", true)
	viper.SetDefault("research.max_sources", 20)
	viper.SetDefault("research.concurrency", 2)
	viper.SetDefault("research.timeout", "90s")

	// Search defaults
	viper.SetDefault("search.provider", "tavily")
	viper.SetDefault("search.max_results", 5)
	viper.SetDefault("search.timeout", "15s")

	// Feeds defaults
	viper.SetDefault("feeds.user_agent", "Radar/1.0")
	viper.SetDefault("feeds.timeout", "30s")
	viper.SetDefault("feeds.max_per_feed", 50)
	viper.SetDefault("feeds.concurrency", 4)

	// Store defaults
	viper.SetDefault("store.directory", ".radar-cache")
	viper.SetDefault("store.keep_runs", 50)

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "120s")
	viper.SetDefault("server.cors.enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{"*"})
}

func bindEnvironmentVariables() {
	// Gemini API key - support multiple formats
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
		"GOOGLE_API_KEY",
	})

	// Tavily search API key
	bindEnvKeys("search.tavily.api_key", []string{
		"TAVILY_API_KEY",
	})
}

func bindEnvKeys(configKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(configKey, value)
			return
		}
	}
}

func validateConfig(config *Config) error {
	if config.Radar.TopK <= 0 {
		return fmt.Errorf("radar.top_k must be positive, got %d", config.Radar.TopK)
	}
	if config.Radar.SimilarityThreshold < 0 || config.Radar.SimilarityThreshold > 1 {
		return fmt.Errorf("radar.similarity_threshold must be in [0,1], got %f", config.Radar.SimilarityThreshold)
	}
	if config.Radar.HotnessThreshold < 0 || config.Radar.HotnessThreshold > 1 {
		return fmt.Errorf("radar.hotness_threshold must be in [0,1], got %f", config.Radar.HotnessThreshold)
	}
	if config.Research.MaxSources <= 0 {
		return fmt.Errorf("research.max_sources must be positive, got %d", config.Research.MaxSources)
	}
	for _, key := range []string{"ai.gemini.timeout", "research.timeout", "search.timeout", "feeds.timeout", "radar.run_timeout", "radar.retry_base_delay"} {
		if _, err := time.ParseDuration(viper.GetString(key)); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
	}
	return nil
}

// Duration parses a duration string from configuration, falling back to the
// given default when the string is empty or invalid.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
