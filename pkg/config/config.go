package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultSourceDir     = "./target/export/source_unzipped_apis"
	defaultOutputDir     = "./target/export/unifier_output_dir"
	defaultBundleDir     = "./target/export/unifier_zipped_bundles"
	defaultDebugDir      = "./logs"
	defaultEndpointCount = 4
	defaultEndpointLimit = 20

	defaultRotateMaxSizeMB  = 100
	defaultRotateMaxBackups = 14
	defaultRotateMaxAgeDays = 14
)

type RotateConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`

	maxSizeMBSet  bool `yaml:"-"`
	maxBackupsSet bool `yaml:"-"`
	maxAgeDaysSet bool `yaml:"-"`
}

// UnmarshalYAML records which limits were written explicitly, so an explicit
// zero is validated instead of replaced by a default.
func (c *RotateConfig) UnmarshalYAML(value *yaml.Node) error {
	type rawRotate struct {
		Enabled    bool `yaml:"enabled"`
		MaxSizeMB  int  `yaml:"max_size_mb"`
		MaxBackups int  `yaml:"max_backups"`
		MaxAgeDays int  `yaml:"max_age_days"`
		Compress   bool `yaml:"compress"`
	}
	var raw rawRotate
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Enabled = raw.Enabled
	c.MaxSizeMB = raw.MaxSizeMB
	c.MaxBackups = raw.MaxBackups
	c.MaxAgeDays = raw.MaxAgeDays
	c.Compress = raw.Compress
	c.maxSizeMBSet = false
	c.maxBackupsSet = false
	c.maxAgeDaysSet = false

	if value.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		switch strings.TrimSpace(value.Content[i].Value) {
		case "max_size_mb":
			c.maxSizeMBSet = true
		case "max_backups":
			c.maxBackupsSet = true
		case "max_age_days":
			c.maxAgeDaysSet = true
		}
	}
	return nil
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is console or json.
	Format string       `yaml:"format"`
	File   string       `yaml:"file"`
	Rotate RotateConfig `yaml:"rotate"`
}

type UnifierConfig struct {
	SourceDir string `yaml:"source_dir"`
	OutputDir string `yaml:"output_dir"`
	BundleDir string `yaml:"bundle_dir"`
	// ProxyEndpointCount caps the number of path groups per output bundle.
	ProxyEndpointCount    int    `yaml:"proxy_endpoint_count"`
	MaxProxyEndpointLimit int    `yaml:"max_proxy_endpoint_limit"`
	Debug                 bool   `yaml:"debug"`
	DebugDir              string `yaml:"debug_dir"`
}

type Config struct {
	Unifier UnifierConfig `yaml:"unifier"`

	Runner struct {
		Workers      int `yaml:"workers"`
		MaxRetries   int `yaml:"max_retries"`
		RetryDelayMs int `yaml:"retry_delay_ms"`
	} `yaml:"runner"`

	Watch struct {
		DebounceMs int `yaml:"debounce_ms"`
	} `yaml:"watch"`

	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`

	Logging LoggingConfig `yaml:"logging"`

	// maxRetriesSet distinguishes an explicit max_retries: 0 from an omitted key.
	maxRetriesSet bool
}

func Load(path string) (*Config, error) {
	// #nosec G304 -- path is provided by trusted config/flag.
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(b)
}

// LoadIfExists loads path, or falls back to defaults and environment overrides
// when the file does not exist.
func LoadIfExists(path string) (*Config, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return parse(nil)
	}
	cfg, err := Load(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return parse(nil)
		}
		return nil, fmt.Errorf("load config %s: %w", p, err)
	}
	return cfg, nil
}

func parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	var probe struct {
		Runner map[string]any `yaml:"runner"`
	}
	if err := yaml.Unmarshal(b, &probe); err == nil {
		_, cfg.maxRetriesSet = probe.Runner["max_retries"]
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file and no environment is set.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Unifier.SourceDir) == "" {
		cfg.Unifier.SourceDir = defaultSourceDir
	}
	if strings.TrimSpace(cfg.Unifier.OutputDir) == "" {
		cfg.Unifier.OutputDir = defaultOutputDir
	}
	if strings.TrimSpace(cfg.Unifier.BundleDir) == "" {
		cfg.Unifier.BundleDir = defaultBundleDir
	}
	if strings.TrimSpace(cfg.Unifier.DebugDir) == "" {
		cfg.Unifier.DebugDir = defaultDebugDir
	}
	if cfg.Unifier.ProxyEndpointCount == 0 {
		cfg.Unifier.ProxyEndpointCount = defaultEndpointCount
	}
	if cfg.Unifier.MaxProxyEndpointLimit <= 0 {
		cfg.Unifier.MaxProxyEndpointLimit = defaultEndpointLimit
	}

	if cfg.Runner.Workers <= 0 {
		cfg.Runner.Workers = 4
	}
	if !cfg.maxRetriesSet {
		cfg.Runner.MaxRetries = 3
	}
	if cfg.Runner.RetryDelayMs <= 0 {
		cfg.Runner.RetryDelayMs = 1000
	}
	if cfg.Watch.DebounceMs <= 0 {
		cfg.Watch.DebounceMs = 500
	}
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = "127.0.0.1:3320"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if !cfg.Logging.Rotate.maxSizeMBSet {
		cfg.Logging.Rotate.MaxSizeMB = defaultRotateMaxSizeMB
	}
	if !cfg.Logging.Rotate.maxBackupsSet {
		cfg.Logging.Rotate.MaxBackups = defaultRotateMaxBackups
	}
	if !cfg.Logging.Rotate.maxAgeDaysSet {
		cfg.Logging.Rotate.MaxAgeDays = defaultRotateMaxAgeDays
	}
}

func applyEnvOverrides(cfg *Config) {
	applyEnvUnifierOverrides(cfg)
	applyEnvRunnerOverrides(cfg)
	applyEnvLoggingOverrides(cfg)
}

func applyEnvUnifierOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("UNIFIER_SOURCE_DIR")); v != "" {
		cfg.Unifier.SourceDir = v
	}
	if v := strings.TrimSpace(os.Getenv("UNIFIER_OUTPUT_DIR")); v != "" {
		cfg.Unifier.OutputDir = v
	}
	if v := strings.TrimSpace(os.Getenv("UNIFIER_BUNDLE_DIR")); v != "" {
		cfg.Unifier.BundleDir = v
	}
	if n, ok := envInt("UNIFIER_PROXY_ENDPOINT_COUNT"); ok {
		cfg.Unifier.ProxyEndpointCount = n
	}
	if n, ok := envInt("UNIFIER_MAX_PROXY_ENDPOINT_LIMIT"); ok && n > 0 {
		cfg.Unifier.MaxProxyEndpointLimit = n
	}
	cfg.Unifier.Debug = envBool("UNIFIER_DEBUG", cfg.Unifier.Debug)
	if v := strings.TrimSpace(os.Getenv("UNIFIER_DEBUG_DIR")); v != "" {
		cfg.Unifier.DebugDir = v
	}
}

func applyEnvRunnerOverrides(cfg *Config) {
	if n, ok := envInt("UNIFIER_WORKERS"); ok && n > 0 {
		cfg.Runner.Workers = n
	}
	if n, ok := envInt("UNIFIER_MAX_RETRIES"); ok {
		cfg.Runner.MaxRetries = n
	}
	if n, ok := envInt("UNIFIER_RETRY_DELAY_MS"); ok && n > 0 {
		cfg.Runner.RetryDelayMs = n
	}
	if n, ok := envInt("UNIFIER_WATCH_DEBOUNCE_MS"); ok && n > 0 {
		cfg.Watch.DebounceMs = n
	}
	if v := strings.TrimSpace(os.Getenv("UNIFIER_LISTEN")); v != "" {
		cfg.Server.Listen = v
	}
}

func applyEnvLoggingOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("UNIFIER_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("UNIFIER_LOG_FORMAT")); v != "" {
		cfg.Logging.Format = v
	}
	if v := strings.TrimSpace(os.Getenv("UNIFIER_LOG_FILE")); v != "" {
		cfg.Logging.File = v
	}
	cfg.Logging.Rotate.Enabled = envBool("UNIFIER_LOG_ROTATE_ENABLED", cfg.Logging.Rotate.Enabled)
	if n, ok := envInt("UNIFIER_LOG_ROTATE_MAX_SIZE_MB"); ok {
		cfg.Logging.Rotate.MaxSizeMB = n
	}
	if n, ok := envInt("UNIFIER_LOG_ROTATE_MAX_BACKUPS"); ok {
		cfg.Logging.Rotate.MaxBackups = n
	}
	if n, ok := envInt("UNIFIER_LOG_ROTATE_MAX_AGE_DAYS"); ok {
		cfg.Logging.Rotate.MaxAgeDays = n
	}
	cfg.Logging.Rotate.Compress = envBool("UNIFIER_LOG_ROTATE_COMPRESS", cfg.Logging.Rotate.Compress)
}

func envInt(name string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func validate(cfg *Config) error {
	u := cfg.Unifier
	if u.ProxyEndpointCount <= 0 {
		return errors.New("unifier.proxy_endpoint_count must be > 0")
	}
	if u.ProxyEndpointCount > u.MaxProxyEndpointLimit {
		return fmt.Errorf("unifier.proxy_endpoint_count must be <= unifier.max_proxy_endpoint_limit (%d)", u.MaxProxyEndpointLimit)
	}
	if cfg.Runner.MaxRetries < 0 {
		return errors.New("runner.max_retries must be >= 0")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug|info|warn|error, got %q", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Rotate.Enabled && strings.TrimSpace(cfg.Logging.File) == "" {
		return errors.New("logging.file is required when logging.rotate.enabled=true")
	}
	if cfg.Logging.Rotate.MaxSizeMB <= 0 {
		return errors.New("logging.rotate.max_size_mb must be > 0")
	}
	if cfg.Logging.Rotate.MaxBackups <= 0 {
		return errors.New("logging.rotate.max_backups must be > 0")
	}
	if cfg.Logging.Rotate.MaxAgeDays < 0 {
		return errors.New("logging.rotate.max_age_days must be >= 0")
	}
	return nil
}
