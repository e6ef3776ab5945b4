// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// SITEPROBE_NETWORK_TIMEOUT=5s.
const EnvPrefix = "SITEPROBE"

// DefaultUserAgent identifies the tool to the servers it talks to.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36 WebAnalysisTool/1.0"

// Interface defines the contract for accessing application configuration.
// Components depend on it rather than on the concrete struct so tests can
// hand them a tailored value.
type Interface interface {
	Logger() LoggerConfig
	Network() NetworkConfig
	Collector() CollectorConfig
	Analysis() AnalysisConfig
	Keyring() KeyringConfig

	SetNetworkTimeout(d time.Duration)
	SetCollectorOutputDir(dir string)
	SetCollectorTabularFormat(format string)
	SetKeyringHomeDir(dir string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	NetworkCfg   NetworkConfig   `mapstructure:"network" yaml:"network"`
	CollectorCfg CollectorConfig `mapstructure:"collector" yaml:"collector"`
	AnalysisCfg  AnalysisConfig  `mapstructure:"analysis" yaml:"analysis"`
	KeyringCfg   KeyringConfig   `mapstructure:"keyring" yaml:"keyring"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Network() NetworkConfig     { return c.NetworkCfg }
func (c *Config) Collector() CollectorConfig { return c.CollectorCfg }
func (c *Config) Analysis() AnalysisConfig   { return c.AnalysisCfg }
func (c *Config) Keyring() KeyringConfig     { return c.KeyringCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetNetworkTimeout(d time.Duration)       { c.NetworkCfg.Timeout = d }
func (c *Config) SetCollectorOutputDir(dir string)        { c.CollectorCfg.OutputDir = dir }
func (c *Config) SetCollectorTabularFormat(format string) { c.CollectorCfg.TabularFormat = format }
func (c *Config) SetKeyringHomeDir(dir string)            { c.KeyringCfg.HomeDir = dir }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// NetworkConfig tunes the outbound HTTP behavior.
type NetworkConfig struct {
	Timeout         time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	UserAgent       string            `mapstructure:"user_agent" yaml:"user_agent"`
	Headers         map[string]string `mapstructure:"headers" yaml:"headers"`
	MaxBodyBytes    int64             `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	RateLimit       float64           `mapstructure:"rate_limit" yaml:"rate_limit"`
	IgnoreTLSErrors bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// CollectorConfig controls what a collection run extracts and where it lands.
type CollectorConfig struct {
	OutputDir         string `mapstructure:"output_dir" yaml:"output_dir"`
	TextPreviewLength int    `mapstructure:"text_preview_length" yaml:"text_preview_length"`
	SampleLinks       int    `mapstructure:"sample_links" yaml:"sample_links"`
	CollectText       bool   `mapstructure:"collect_text" yaml:"collect_text"`
	CollectLinks      bool   `mapstructure:"collect_links" yaml:"collect_links"`
	StoreTabular      bool   `mapstructure:"store_tabular" yaml:"store_tabular"`
	StoreStructured   bool   `mapstructure:"store_structured" yaml:"store_structured"`
	TabularFormat     string `mapstructure:"tabular_format" yaml:"tabular_format"`
}

// AnalysisConfig toggles the individual backend heuristics.
type AnalysisConfig struct {
	Technology      bool `mapstructure:"technology" yaml:"technology"`
	Authentication  bool `mapstructure:"authentication" yaml:"authentication"`
	APIEndpoints    bool `mapstructure:"api_endpoints" yaml:"api_endpoints"`
	SiteStructure   bool `mapstructure:"site_structure" yaml:"site_structure"`
	SecurityHeaders bool `mapstructure:"security_headers" yaml:"security_headers"`
	// JSASTLiterals adds a syntax-tree pass over inline scripts to the
	// endpoint discovery.
	JSASTLiterals bool `mapstructure:"js_ast_literals" yaml:"js_ast_literals"`
}

// KeyringConfig locates the gpg toolchain and its private home directory.
type KeyringConfig struct {
	GPGBinary string `mapstructure:"gpg_binary" yaml:"gpg_binary"`
	HomeDir   string `mapstructure:"home_dir" yaml:"home_dir"`
	KeyType   string `mapstructure:"key_type" yaml:"key_type"`
	KeyLength int    `mapstructure:"key_length" yaml:"key_length"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "siteprobe")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Network --
	v.SetDefault("network.timeout", "15s")
	v.SetDefault("network.user_agent", DefaultUserAgent)
	v.SetDefault("network.max_body_bytes", 10<<20)
	v.SetDefault("network.rate_limit", 0.0)
	v.SetDefault("network.ignore_tls_errors", false)

	// -- Collector --
	v.SetDefault("collector.output_dir", "collected_data")
	v.SetDefault("collector.text_preview_length", 500)
	v.SetDefault("collector.sample_links", 5)
	v.SetDefault("collector.collect_text", true)
	v.SetDefault("collector.collect_links", true)
	v.SetDefault("collector.store_tabular", true)
	v.SetDefault("collector.store_structured", true)
	v.SetDefault("collector.tabular_format", "csv")

	// -- Analysis --
	v.SetDefault("analysis.technology", true)
	v.SetDefault("analysis.authentication", true)
	v.SetDefault("analysis.api_endpoints", true)
	v.SetDefault("analysis.site_structure", true)
	v.SetDefault("analysis.security_headers", true)
	v.SetDefault("analysis.js_ast_literals", false)

	// -- Keyring --
	v.SetDefault("keyring.gpg_binary", "gpg")
	v.SetDefault("keyring.home_dir", "~/.siteprobe/gnupg")
	v.SetDefault("keyring.key_type", "RSA")
	v.SetDefault("keyring.key_length", 2048)
}

// NewConfigFromViper creates a new configuration instance from a viper object,
// applying environment overrides and validating the result.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in the filesystem locations.
func (c *Config) expandPaths() error {
	var err error
	if c.KeyringCfg.HomeDir, err = homedir.Expand(c.KeyringCfg.HomeDir); err != nil {
		return fmt.Errorf("keyring.home_dir: %w", err)
	}
	if c.CollectorCfg.OutputDir, err = homedir.Expand(c.CollectorCfg.OutputDir); err != nil {
		return fmt.Errorf("collector.output_dir: %w", err)
	}
	if c.LoggerCfg.LogFile, err = homedir.Expand(c.LoggerCfg.LogFile); err != nil {
		return fmt.Errorf("logger.log_file: %w", err)
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.NetworkCfg.Timeout <= 0 {
		return fmt.Errorf("network.timeout must be a positive duration")
	}
	if c.NetworkCfg.MaxBodyBytes <= 0 {
		return fmt.Errorf("network.max_body_bytes must be a positive integer")
	}
	if c.NetworkCfg.RateLimit < 0 {
		return fmt.Errorf("network.rate_limit cannot be negative")
	}
	if err := c.CollectorCfg.Validate(); err != nil {
		return fmt.Errorf("collector configuration invalid: %w", err)
	}
	if err := c.KeyringCfg.Validate(); err != nil {
		return fmt.Errorf("keyring configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the collector settings.
func (cc *CollectorConfig) Validate() error {
	if cc.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if cc.TextPreviewLength < 0 {
		return fmt.Errorf("text_preview_length cannot be negative")
	}
	if cc.SampleLinks < 0 {
		return fmt.Errorf("sample_links cannot be negative")
	}
	switch cc.TabularFormat {
	case "csv", "xlsx":
	default:
		return fmt.Errorf("tabular_format must be one of csv, xlsx (got %q)", cc.TabularFormat)
	}
	return nil
}

// Validate checks the keyring settings.
func (k *KeyringConfig) Validate() error {
	if k.GPGBinary == "" {
		return fmt.Errorf("gpg_binary is required")
	}
	if k.HomeDir == "" {
		return fmt.Errorf("home_dir is required")
	}
	if k.KeyLength < 1024 {
		return fmt.Errorf("key_length must be at least 1024 bits")
	}
	return nil
}
