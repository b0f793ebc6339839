// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// providerEntry is the on-disk shape of one provider before conversion.
type providerEntry struct {
	Id       string        `mapstructure:"id"`
	Type     string        `mapstructure:"type"`
	Enabled  bool          `mapstructure:"enabled"`
	Priority int32         `mapstructure:"priority"`
	Weight   float64       `mapstructure:"weight"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Model    string        `mapstructure:"model"`
	Endpoint string        `mapstructure:"endpoint"`
	ApiKey   string        `mapstructure:"api_key"`
	ProxyUrl string        `mapstructure:"proxy_url"`
}

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with PARLEY_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Parameters:
//   - configPath: Path to the configuration file or directory
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with PARLEY_ prefix
	v.SetEnvPrefix("PARLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific environment variables for commonly overridden fields
	_ = v.BindEnv("server.http.addr", "PARLEY_SERVER_HTTP_ADDR")
	_ = v.BindEnv("log.level", "PARLEY_LOG_LEVEL")
	_ = v.BindEnv("log.format", "PARLEY_LOG_FORMAT")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse provider entries
	var entries []providerEntry
	if err := v.UnmarshalKey("providers", &entries); err != nil {
		return nil, fmt.Errorf("failed to parse providers: %w", err)
	}

	providers := make([]*Provider, 0, len(entries))
	for _, e := range entries {
		timeout := e.Timeout
		if timeout <= 0 {
			timeout = v.GetDuration("consult.provider_timeout")
		}
		weight := e.Weight
		if weight <= 0 {
			weight = 1.0
		}
		providers = append(providers, &Provider{
			Id:       e.Id,
			Type:     e.Type,
			Enabled:  e.Enabled,
			Priority: e.Priority,
			Weight:   weight,
			Timeout:  durationpb.New(timeout),
			Model:    e.Model,
			Endpoint: e.Endpoint,
			ApiKey:   e.ApiKey,
			ProxyUrl: e.ProxyUrl,
		})
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Consult: &Consult{
			MaxProviders: v.GetInt32("consult.max_providers"),
			MinProviders: v.GetInt32("consult.min_providers"),
			Strategy:     v.GetString("consult.strategy"),
			Timeout:      durationpb.New(v.GetDuration("consult.timeout")),
		},
		Breaker: &Breaker{
			FailureThreshold: v.GetInt32("breaker.failure_threshold"),
			RecoveryTimeout:  durationpb.New(v.GetDuration("breaker.recovery_timeout")),
			SuccessThreshold: v.GetInt32("breaker.success_threshold"),
			CallTimeout:      durationpb.New(v.GetDuration("breaker.call_timeout")),
		},
		Providers: providers,
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 10*time.Minute)

	// Consultation defaults
	v.SetDefault("consult.max_providers", 3)
	v.SetDefault("consult.min_providers", 1)
	v.SetDefault("consult.strategy", "majority_vote")
	v.SetDefault("consult.timeout", 60*time.Second)
	v.SetDefault("consult.provider_timeout", 30*time.Second)

	// Circuit breaker defaults
	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.recovery_timeout", 60*time.Second)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.call_timeout", 120*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all invalid fields.
func Validate(bc *Bootstrap) error {
	var problems []string

	if bc.Consult.MinProviders < 1 {
		problems = append(problems, "consult.min_providers must be >= 1")
	}
	if bc.Consult.MaxProviders < bc.Consult.MinProviders {
		problems = append(problems, "consult.max_providers must be >= consult.min_providers")
	}
	if bc.Breaker.FailureThreshold < 1 {
		problems = append(problems, "breaker.failure_threshold must be >= 1")
	}
	if bc.Breaker.SuccessThreshold < 1 {
		problems = append(problems, "breaker.success_threshold must be >= 1")
	}

	seen := make(map[string]bool, len(bc.Providers))
	for i, p := range bc.Providers {
		if p.Id == "" {
			problems = append(problems, fmt.Sprintf("providers[%d].id is required", i))
			continue
		}
		if seen[p.Id] {
			problems = append(problems, fmt.Sprintf("providers[%d].id %q is duplicated", i, p.Id))
		}
		seen[p.Id] = true
		if p.Endpoint == "" {
			problems = append(problems, fmt.Sprintf("providers[%d] (%s): endpoint is required", i, p.Id))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
	}

	return nil
}
