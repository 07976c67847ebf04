package model

import "time"

// Config is the application configuration, loaded by the CLI and passed down
type Config struct {
	Providers []ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Store     StoreConfig      `mapstructure:"store" yaml:"store"`
	Analysis  AnalysisConfig   `mapstructure:"analysis" yaml:"analysis"`
	Capture   CaptureConfig    `mapstructure:"capture" yaml:"capture"`
	Logging   LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Export    ExportConfig     `mapstructure:"export" yaml:"export"`
}

// ProviderConfig describes one backend. Order in Config.Providers breaks priority ties.
type ProviderConfig struct {
	Name      string        `mapstructure:"name" yaml:"name"`
	Type      string        `mapstructure:"type" yaml:"type"` // openai, anthropic, ollama, gemini
	Model     string        `mapstructure:"model" yaml:"model"`
	APIKey    string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Priority  int           `mapstructure:"priority" yaml:"priority"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxTokens int           `mapstructure:"max_tokens" yaml:"max_tokens"`

	// Requests per second; zero disables client-side limiting
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`

	HTTPProxy  string `mapstructure:"http_proxy" yaml:"http_proxy,omitempty"`
	HTTPSProxy string `mapstructure:"https_proxy" yaml:"https_proxy,omitempty"`
}

// StoreConfig selects and configures the dedup store backend
type StoreConfig struct {
	Driver   string        `mapstructure:"driver" yaml:"driver"` // sqlite, postgres, file
	Path     string        `mapstructure:"path" yaml:"path"`     // sqlite file or file-store directory
	DSN      string        `mapstructure:"dsn" yaml:"dsn,omitempty"`
	HotCache time.Duration `mapstructure:"hot_cache" yaml:"hot_cache"` // zero disables
}

// AnalysisConfig holds orchestration defaults
type AnalysisConfig struct {
	DefaultAttitude string        `mapstructure:"default_attitude" yaml:"default_attitude"`
	Deadline        time.Duration `mapstructure:"deadline" yaml:"deadline"`
	Workers         int           `mapstructure:"workers" yaml:"workers"`
}

// CaptureConfig limits how input text is read
type CaptureConfig struct {
	MaxBytes      int64         `mapstructure:"max_bytes" yaml:"max_bytes"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	RespectRobots bool          `mapstructure:"respect_robots" yaml:"respect_robots"`
}

// LoggingConfig configures zap
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // console, json
}

// ExportConfig holds the optional S3-compatible export target
type ExportConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	Region    string `mapstructure:"region" yaml:"region,omitempty"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Providers: []ProviderConfig{
			{Name: "openai", Type: "openai", Model: "gpt-4o-mini", Priority: 1, Timeout: 30 * time.Second, Enabled: true, MaxTokens: 1000},
			{Name: "anthropic", Type: "anthropic", Model: "claude-3-5-haiku-20241022", Priority: 2, Timeout: 30 * time.Second, Enabled: true, MaxTokens: 1000},
			{Name: "gemini", Type: "gemini", Model: "gemini-2.0-flash", Priority: 3, Timeout: 30 * time.Second, Enabled: true, MaxTokens: 1000},
			{Name: "ollama", Type: "ollama", Model: "llama3.1:8b", BaseURL: "http://localhost:11434", Priority: 4, Timeout: 90 * time.Second, Enabled: true, MaxTokens: 1000},
		},
		Store: StoreConfig{
			Driver:   "sqlite",
			Path:     "~/.bsmeter/history.db",
			HotCache: 10 * time.Minute,
		},
		Analysis: AnalysisConfig{
			DefaultAttitude: string(AttitudeBalanced),
			Deadline:        2 * time.Minute,
			Workers:         4,
		},
		Capture: CaptureConfig{
			MaxBytes:      1 << 20,
			FetchTimeout:  15 * time.Second,
			RespectRobots: true,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}
