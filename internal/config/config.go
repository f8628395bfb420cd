package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/labelmatch/internal/match"
	"github.com/sells-group/labelmatch/internal/resilience"
)

// LLM providers.
const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

// Address strategies.
const (
	StrategyLLM     = "llm"
	StrategyPattern = "pattern"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// Config holds the full application configuration.
type Config struct {
	Recipients RecipientsConfig `yaml:"recipients" mapstructure:"recipients"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Ollama     OllamaConfig     `yaml:"ollama" mapstructure:"ollama"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	NER        NERConfig        `yaml:"ner" mapstructure:"ner"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Match      match.Policy     `yaml:"match" mapstructure:"match"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// RecipientsConfig locates the recipient database.
type RecipientsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LLMConfig selects the text-generation backend for address extraction.
type LLMConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// OllamaConfig configures the local Ollama daemon.
type OllamaConfig struct {
	URL         string  `yaml:"url" mapstructure:"url"`
	Model       string  `yaml:"model" mapstructure:"model"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// NERConfig configures the optional entity-recognition service. An empty
// URL disables it.
type NERConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OCRConfig configures reading scanned label documents.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"` // pdftotext, mistral or none
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_key" mapstructure:"mistral_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ExtractConfig tunes candidate extraction.
type ExtractConfig struct {
	AddressStrategy string   `yaml:"address_strategy" mapstructure:"address_strategy"`
	Stopwords       []string `yaml:"stopwords" mapstructure:"stopwords"`
}

// ResilienceConfig bounds retries and circuit breaking around external calls.
type ResilienceConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Retry converts to a resilience.RetryConfig.
func (c ResilienceConfig) Retry() resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		rc.MaxAttempts = c.MaxAttempts
	}
	return rc
}

// Breaker converts to a resilience.CircuitBreakerConfig.
func (c ResilienceConfig) Breaker() resilience.CircuitBreakerConfig {
	bc := resilience.DefaultCircuitBreakerConfig()
	if c.FailureThreshold > 0 {
		bc.FailureThreshold = c.FailureThreshold
	}
	if c.ResetTimeoutSecs > 0 {
		bc.ResetTimeout = time.Duration(c.ResetTimeoutSecs) * time.Second
	}
	return bc
}

// CacheConfig configures the model output cache.
type CacheConfig struct {
	TTLHours int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// TTL returns the cache lifetime. Zero disables caching.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// StoreConfig configures persistence.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LABELMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key needs one so AutomaticEnv can see it.
	v.SetDefault("recipients.path", "recipients.json")
	v.SetDefault("llm.provider", ProviderOllama)
	v.SetDefault("ollama.url", "http://localhost:11434")
	v.SetDefault("ollama.model", "gemma:2b")
	v.SetDefault("ollama.timeout_secs", 120)
	v.SetDefault("ollama.rate_per_sec", 0)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 256)
	v.SetDefault("ner.url", "")
	v.SetDefault("ner.timeout_secs", 10)
	v.SetDefault("ocr.provider", "pdftotext")
	v.SetDefault("ocr.pdftotext_path", "")
	v.SetDefault("ocr.mistral_key", "")
	v.SetDefault("ocr.mistral_model", "")
	v.SetDefault("ocr.timeout_secs", 60)
	v.SetDefault("extract.address_strategy", StrategyLLM)
	v.SetDefault("extract.stopwords", []string{})
	v.SetDefault("match.name_weight", match.DefaultNameWeight)
	v.SetDefault("match.address_weight", match.DefaultAddressWeight)
	v.SetDefault("match.threshold", match.DefaultThreshold)
	v.SetDefault("match.use_preferred_name", false)
	v.SetDefault("resilience.max_attempts", 1)
	v.SetDefault("resilience.failure_threshold", 3)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("cache.ttl_hours", 168)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.database_url", "labelmatch.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOllama, ProviderAnthropic, ProviderNone:
	default:
		return eris.Errorf("config: unknown llm.provider %q", c.LLM.Provider)
	}
	switch c.Extract.AddressStrategy {
	case StrategyLLM, StrategyPattern:
	default:
		return eris.Errorf("config: unknown extract.address_strategy %q", c.Extract.AddressStrategy)
	}
	switch c.OCR.Provider {
	case "pdftotext", "mistral", "none", "":
	default:
		return eris.Errorf("config: unknown ocr.provider %q", c.OCR.Provider)
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres, DriverNone, "":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.LLM.Provider == ProviderAnthropic && c.Extract.AddressStrategy == StrategyLLM && c.Anthropic.Key == "" {
		return eris.New("config: anthropic.key is required when llm.provider is anthropic")
	}
	if c.Match.NameWeight < 0 || c.Match.AddressWeight < 0 {
		return eris.New("config: match weights must not be negative")
	}
	if c.Match.Threshold < 0 || c.Match.Threshold > 1 {
		return eris.Errorf("config: match.threshold %v outside [0, 1]", c.Match.Threshold)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
