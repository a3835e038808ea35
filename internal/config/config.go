package config

import (
	"time"

	"github.com/pacr/pacr/internal/pac"
	"github.com/pacr/pacr/internal/source"
)

type Config struct {
	ConfigVersion int              `yaml:"configVersion"`
	Server        ServerConfig     `yaml:"server"`
	Script        ScriptConfig     `yaml:"script"`
	Evaluation    EvaluationConfig `yaml:"evaluation"`
	DNS           DNSConfig        `yaml:"dns"`
	RateLimit     RateLimitConfig  `yaml:"rateLimit"`
	Logging       LoggingConfig    `yaml:"logging"`
	Metrics       MetricsConfig    `yaml:"metrics"`

	baseDir string `yaml:"-"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// ScriptConfig names exactly one of File, Inline or URL.
type ScriptConfig struct {
	File     string        `yaml:"file"`
	Inline   string        `yaml:"inline"`
	URL      string        `yaml:"url"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"maxBytes"`
}

// EvaluationConfig.CacheSize bounds the parsed-script cache. Zero keeps every
// distinct script parsed so far.
type EvaluationConfig struct {
	Fallback  string `yaml:"fallback"`
	CacheSize int    `yaml:"cacheSize"`
}

// DNSConfig enables the resolver-backed PAC functions. An empty Server uses
// the system resolver.
type DNSConfig struct {
	Enabled bool          `yaml:"enabled"`
	Server  string        `yaml:"server"`
	Timeout time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	DecisionLog string `yaml:"decisionLog"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

const (
	DefaultListen     = ":8080"
	DefaultDNSTimeout = 2 * time.Second
)

func (c *Config) BaseDir() string {
	return c.baseDir
}

func (c *Config) ResolvePath(path string) string {
	return c.resolvePath(path)
}

// FallbackDirective parses evaluation.fallback, defaulting to DIRECT.
func (c *Config) FallbackDirective() (pac.Directive, error) {
	if c.Evaluation.Fallback == "" {
		return pac.DefaultFallback, nil
	}
	return pac.ParseDirective(c.Evaluation.Fallback)
}

func (c *Config) SourceConfig() source.Config {
	return source.Config{
		File:     c.resolvePath(c.Script.File),
		Inline:   c.Script.Inline,
		URL:      c.Script.URL,
		CacheTTL: c.Script.CacheTTL,
		Timeout:  c.Script.Timeout,
		MaxBytes: c.Script.MaxBytes,
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Script.CacheTTL == 0 {
		c.Script.CacheTTL = source.DefaultCacheTTL
	}
	if c.Script.Timeout == 0 {
		c.Script.Timeout = source.DefaultTimeout
	}
	if c.Script.MaxBytes == 0 {
		c.Script.MaxBytes = source.DefaultMaxBytes
	}
	if c.DNS.Timeout == 0 {
		c.DNS.Timeout = DefaultDNSTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}
