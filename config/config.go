package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/upb/llm-gateway/services/gateway"
	"github.com/upb/llm-gateway/services/ratelimit"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Gateway       GatewayConfig
	Providers     ProvidersConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds the optional PostgreSQL usage ledger configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// GatewayConfig holds the LLM_* routing, cache and rate limit options
type GatewayConfig struct {
	DefaultProvider          string
	FailoverEnabled          bool
	Strategy                 string
	EnableCache              bool
	CacheTTL                 time.Duration
	CacheMaxSize             int
	CacheSimilarityThreshold float64
	SemanticCache            bool
	CacheCleanupInterval     time.Duration
	EnableRateLimiting       bool
	RateLimitStrategy        string
	RequestsPerMinute        int
	TokensPerMinute          int
	BurstSize                int
	Timeout                  time.Duration
	MaxRetries               int
	RetryDelay               time.Duration
	UsageBufferSize          int
	UsageBatchSize           int
	UsageFlushInterval       time.Duration
	UsageWriteTimeout        time.Duration
}

// ProvidersConfig locates the provider manifest, or describes providers
// from individual env vars when no manifest is given
type ProvidersConfig struct {
	File      string
	Embedding string // provider used as the cache embedder
	OpenAI    OpenAIConfig
	Ollama    EndpointConfig
	VLLM      EndpointConfig
}

// OpenAIConfig holds OpenAI-compatible provider configuration
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// EndpointConfig holds a self-hosted backend's location
type EndpointConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	Issuer    string
	Audience  string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Gateway:  loadGatewayConfig(),
		Providers: ProvidersConfig{
			File:      getEnv("LLM_PROVIDERS_FILE", ""),
			Embedding: getEnv("LLM_EMBEDDING_PROVIDER", ""),
			OpenAI: OpenAIConfig{
				APIKey:     getEnv("OPENAI_API_KEY", ""),
				BaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Model:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
				Timeout:    getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
				MaxRetries: getEnvAsInt("OPENAI_MAX_RETRIES", 3),
			},
			Ollama: EndpointConfig{
				BaseURL: getEnv("OLLAMA_BASE_URL", ""),
				Model:   getEnv("OLLAMA_MODEL", "llama3"),
				Timeout: getEnvAsDuration("OLLAMA_TIMEOUT", 120*time.Second),
			},
			VLLM: EndpointConfig{
				BaseURL: getEnv("VLLM_BASE_URL", ""),
				Model:   getEnv("VLLM_MODEL", ""),
				Timeout: getEnvAsDuration("VLLM_TIMEOUT", 60*time.Second),
			},
		},
		Auth: AuthConfig{
			Enabled:   getEnvAsBool("AUTH_ENABLED", false),
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
			Audience:  getEnv("JWT_AUDIENCE", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Database.Enabled() && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if _, err := c.Gateway.ToGatewayConfig(); err != nil {
		return fmt.Errorf("gateway configuration: %w", err)
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when auth is enabled")
	}

	if c.IsProduction() && !c.Providers.Configured() {
		return fmt.Errorf("at least one LLM provider must be configured in production")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Enabled reports whether a usage ledger database was configured
func (c *DatabaseConfig) Enabled() bool {
	return c.ConnectionString != "" || c.Host != ""
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// ToGatewayConfig converts the env options into a validated gateway.Config
func (c GatewayConfig) ToGatewayConfig() (gateway.Config, error) {
	rl := ratelimit.DefaultConfig()
	if c.RateLimitStrategy != "" {
		rl.Strategy = ratelimit.Strategy(c.RateLimitStrategy)
	}
	rl.RequestsPerMinute = c.RequestsPerMinute
	rl.TokensPerMinute = c.TokensPerMinute
	rl.BurstSize = c.BurstSize

	cfg := gateway.Config{
		DefaultProvider:          c.DefaultProvider,
		FailoverEnabled:          c.FailoverEnabled,
		Strategy:                 gateway.Strategy(c.Strategy),
		EnableCache:              c.EnableCache,
		CacheMaxSize:             c.CacheMaxSize,
		CacheTTL:                 c.CacheTTL,
		CacheSimilarityThreshold: c.CacheSimilarityThreshold,
		SemanticCache:            c.SemanticCache,
		CacheCleanupInterval:     c.CacheCleanupInterval,
		EnableRateLimiting:       c.EnableRateLimiting,
		RateLimit:                rl,
		Timeout:                  c.Timeout,
		MaxRetries:               c.MaxRetries,
		RetryDelay:               c.RetryDelay,
		UsageBufferSize:          c.UsageBufferSize,
		UsageBatchSize:           c.UsageBatchSize,
		UsageFlushInterval:       c.UsageFlushInterval,
		UsageWriteTimeout:        c.UsageWriteTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return gateway.Config{}, err
	}
	return cfg, nil
}

// Configured reports whether any provider source is present
func (c *ProvidersConfig) Configured() bool {
	return c.File != "" || c.OpenAI.APIKey != "" || c.Ollama.BaseURL != "" || c.VLLM.BaseURL != ""
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Neither set leaves the ledger disabled.
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", ""),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", ""),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "llm_gateway"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

func loadGatewayConfig() GatewayConfig {
	defaults := gateway.DefaultConfig()

	return GatewayConfig{
		DefaultProvider:          getEnv("LLM_DEFAULT_PROVIDER", ""),
		FailoverEnabled:          getEnvAsBool("LLM_FAILOVER_ENABLED", defaults.FailoverEnabled),
		Strategy:                 getEnv("LLM_LOAD_BALANCE_STRATEGY", string(defaults.Strategy)),
		EnableCache:              getEnvAsBool("LLM_ENABLE_CACHE", defaults.EnableCache),
		CacheTTL:                 getEnvAsSeconds("LLM_CACHE_TTL_SECONDS", defaults.CacheTTL),
		CacheMaxSize:             getEnvAsInt("LLM_CACHE_MAX_SIZE", defaults.CacheMaxSize),
		CacheSimilarityThreshold: getEnvAsFloat("LLM_CACHE_SIMILARITY_THRESHOLD", defaults.CacheSimilarityThreshold),
		SemanticCache:            getEnvAsBool("LLM_SEMANTIC_CACHE", defaults.SemanticCache),
		CacheCleanupInterval:     getEnvAsDuration("LLM_CACHE_CLEANUP_INTERVAL", defaults.CacheCleanupInterval),
		EnableRateLimiting:       getEnvAsBool("LLM_ENABLE_RATE_LIMITING", defaults.EnableRateLimiting),
		RateLimitStrategy:        getEnv("LLM_RATE_LIMIT_STRATEGY", string(defaults.RateLimit.Strategy)),
		RequestsPerMinute:        getEnvAsInt("LLM_REQUESTS_PER_MINUTE", defaults.RateLimit.RequestsPerMinute),
		TokensPerMinute:          getEnvAsInt("LLM_TOKENS_PER_MINUTE", defaults.RateLimit.TokensPerMinute),
		BurstSize:                getEnvAsInt("LLM_BURST_SIZE", defaults.RateLimit.BurstSize),
		Timeout:                  getEnvAsSeconds("LLM_TIMEOUT_SECONDS", defaults.Timeout),
		MaxRetries:               getEnvAsInt("LLM_MAX_RETRIES", defaults.MaxRetries),
		RetryDelay:               getEnvAsSeconds("LLM_RETRY_DELAY_SECONDS", defaults.RetryDelay),
		UsageBufferSize:          getEnvAsInt("LLM_USAGE_BUFFER_SIZE", defaults.UsageBufferSize),
		UsageBatchSize:           getEnvAsInt("LLM_USAGE_BATCH_SIZE", defaults.UsageBatchSize),
		UsageFlushInterval:       getEnvAsDuration("LLM_USAGE_FLUSH_INTERVAL", defaults.UsageFlushInterval),
		UsageWriteTimeout:        getEnvAsDuration("LLM_USAGE_WRITE_TIMEOUT", defaults.UsageWriteTimeout),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSeconds reads a fractional number of seconds
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil || value < 0 {
		return defaultValue
	}
	return time.Duration(value * float64(time.Second))
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
