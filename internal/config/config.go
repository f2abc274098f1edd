// Package config loads pagefetch settings from defaults, an optional YAML
// file, PAGEFETCH_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/pagefetch/pkg/budget"
	"github.com/Sternrassler/pagefetch/pkg/client"
	"github.com/Sternrassler/pagefetch/pkg/fetch"
	"github.com/Sternrassler/pagefetch/pkg/logging"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. PAGEFETCH_BASE_URL
// or PAGEFETCH_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "PAGEFETCH"

// DefaultBaseURL is the public API fetched when nothing else is configured.
const DefaultBaseURL = "https://jsonplaceholder.typicode.com/"

// Output formats.
const (
	OutputText  = "text"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
	OutputTable = "table"
)

// OutputFormats lists the supported output formats.
func OutputFormats() []string {
	return []string{OutputText, OutputJSON, OutputYAML, OutputTable}
}

// RetryConfig mirrors client.RetryPolicy.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`

	// Retryable names the error classes to retry. Unset or empty retries
	// all of them; the single entry RetryNone disables retries by class.
	Retryable []string `mapstructure:"retryable" yaml:"retryable"`
}

// RetryNone in retry.retryable retries no error class.
const RetryNone = "none"

func (r RetryConfig) retriesNone() bool {
	return len(r.Retryable) == 1 && strings.EqualFold(strings.TrimSpace(r.Retryable[0]), RetryNone)
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// Config is the complete pagefetch configuration.
type Config struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	Resources      []string      `mapstructure:"resources" yaml:"resources"`
	MaxConcurrency int           `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	FailureBudget  int           `mapstructure:"failure_budget" yaml:"failure_budget"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	Retry          RetryConfig   `mapstructure:"retry" yaml:"retry"`
	Log            LogConfig     `mapstructure:"log" yaml:"log"`
	MetricsAddr    string        `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	Output         string        `mapstructure:"output" yaml:"output"`
}

// Default returns the built-in configuration.
func Default() Config {
	clientCfg := client.DefaultConfig()
	retry := clientCfg.Retry

	resources := make([]string, 0, len(client.DefaultResources()))
	for _, r := range client.DefaultResources() {
		resources = append(resources, string(r))
	}

	return Config{
		BaseURL:        DefaultBaseURL,
		Resources:      resources,
		MaxConcurrency: 0,
		FailureBudget:  budget.DefaultLimit,
		Timeout:        clientCfg.Timeout,
		UserAgent:      clientCfg.UserAgent,
		Retry: RetryConfig{
			MaxAttempts:       retry.MaxAttempts,
			InitialBackoff:    retry.InitialBackoff,
			MaxBackoff:        retry.MaxBackoff,
			BackoffMultiplier: retry.BackoffMultiplier,
		},
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
		Output: OutputText,
	}
}

// NewViper returns a viper instance with defaults registered and
// environment lookup enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return v
}

// SetDefaults registers every key with its default value. Keys unknown to
// viper are not looked up in the environment.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("resources", d.Resources)
	v.SetDefault("max_concurrency", d.MaxConcurrency)
	v.SetDefault("failure_budget", d.FailureBudget)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_backoff", d.Retry.InitialBackoff)
	v.SetDefault("retry.max_backoff", d.Retry.MaxBackoff)
	v.SetDefault("retry.backoff_multiplier", d.Retry.BackoffMultiplier)
	v.SetDefault("retry.retryable", []string{})
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("output", d.Output)
}

// Load reads the optional config file at path into v, then decodes and
// validates the merged configuration.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks all settings and reports every problem found.
func (c Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("base_url must be an absolute http(s) URL (got %q)", c.BaseURL))
	}
	if _, err := c.ParsedResources(); err != nil {
		errs = append(errs, fmt.Errorf("resources: %w", err))
	}
	if c.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("max_concurrency must not be negative (got %d)", c.MaxConcurrency))
	}
	if c.FailureBudget < 0 {
		errs = append(errs, fmt.Errorf("failure_budget must not be negative (got %d)", c.FailureBudget))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative (got %s)", c.Timeout))
	}
	if c.UserAgent == "" {
		errs = append(errs, errors.New("user_agent is required"))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must not be negative (got %d)", c.Retry.MaxAttempts))
	}
	if c.Retry.InitialBackoff < 0 || c.Retry.MaxBackoff < 0 {
		errs = append(errs, errors.New("retry backoff must not be negative"))
	}
	if c.Retry.BackoffMultiplier != 0 && c.Retry.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("retry.backoff_multiplier must be at least 1 (got %g)", c.Retry.BackoffMultiplier))
	}
	if !c.Retry.retriesNone() {
		for _, name := range c.Retry.Retryable {
			if strings.EqualFold(strings.TrimSpace(name), RetryNone) {
				errs = append(errs, fmt.Errorf("retry.retryable: %q cannot be combined with error classes", RetryNone))
				continue
			}
			if _, err := client.ParseErrorClass(name); err != nil {
				errs = append(errs, fmt.Errorf("retry.retryable: %w", err))
			}
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if !validOutput(c.Output) {
		errs = append(errs, fmt.Errorf("output must be one of %s (got %q)", strings.Join(OutputFormats(), ", "), c.Output))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func validOutput(output string) bool {
	for _, f := range OutputFormats() {
		if output == f {
			return true
		}
	}
	return false
}

// ParsedResources returns the configured resources as client.Resource values.
func (c Config) ParsedResources() ([]client.Resource, error) {
	return client.ParseResources(c.Resources)
}

// RetryPolicy builds the client retry policy.
func (c Config) RetryPolicy() client.RetryPolicy {
	policy := client.RetryPolicy{
		MaxAttempts:       c.Retry.MaxAttempts,
		InitialBackoff:    c.Retry.InitialBackoff,
		MaxBackoff:        c.Retry.MaxBackoff,
		BackoffMultiplier: c.Retry.BackoffMultiplier,
	}

	switch {
	case c.Retry.retriesNone():
		policy.Retryable = []client.ErrorClass{}
	case len(c.Retry.Retryable) > 0:
		policy.Retryable = make([]client.ErrorClass, 0, len(c.Retry.Retryable))
		for _, name := range c.Retry.Retryable {
			if class, err := client.ParseErrorClass(name); err == nil {
				policy.Retryable = append(policy.Retryable, class)
			}
		}
	}

	return policy
}

// ClientConfig builds the page client configuration.
func (c Config) ClientConfig() client.Config {
	return client.Config{
		UserAgent: c.UserAgent,
		Timeout:   c.Timeout,
		Retry:     c.RetryPolicy(),
	}
}

// FetchConfig builds the orchestrator configuration.
func (c Config) FetchConfig() (fetch.Config, error) {
	resources, err := c.ParsedResources()
	if err != nil {
		return fetch.Config{}, err
	}

	return fetch.Config{
		BaseURL:        c.BaseURL,
		Resources:      resources,
		FailureBudget:  c.FailureBudget,
		MaxConcurrency: c.MaxConcurrency,
	}, nil
}

// LoggingConfig builds the logger configuration writing to out.
func (c Config) LoggingConfig(out io.Writer) logging.Config {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		level = logging.LevelInfo
	}

	return logging.Config{
		Level:  level,
		Pretty: c.Log.Pretty,
		Output: out,
	}
}
