// Package config loads the YAML configuration of the trip planner.
//
// File layout (configs/default.yaml):
//
//	planner:   quick-ack / final deadlines, grace period, concurrency cap
//	workers:   producer registry (kind, priority, enabled)
//	upstream:  hotel and places API access
//	server:    HTTP and gRPC listen addresses, CORS origins
//	metrics:   Prometheus endpoint
//	log:       slog level and format
//
// TRIP_API_KEY and TRIP_API_BASE_URL override the upstream section.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ChuLiYu/trip-planner/pkg/types"
	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvAPIKey  = "TRIP_API_KEY"
	EnvBaseURL = "TRIP_API_BASE_URL"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Duration is a time.Duration written as "5s" / "500ms" in YAML.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	if parsed, err := time.ParseDuration(s); err == nil {
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := n.Decode(&secs); err != nil {
		return fmt.Errorf("line %d: invalid duration %q", n.Line, s)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// MarshalYAML writes the duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Config represents the complete configuration structure.
type Config struct {
	Planner  PlannerConfig  `yaml:"planner"`
	Workers  []WorkerConfig `yaml:"workers"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Server   ServerConfig   `yaml:"server"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

type PlannerConfig struct {
	QuickAck       Duration `yaml:"quick_ack"`
	Final          Duration `yaml:"final"`
	GracePeriod    Duration `yaml:"grace_period"`
	MaxConcurrency int      `yaml:"max_concurrency"`
	Retention      Duration `yaml:"retention"` // how long finished plans stay readable
}

// WorkerConfig registers one producer kind.
type WorkerConfig struct {
	Kind     types.WorkerKind `yaml:"kind"`
	Priority int              `yaml:"priority"`
	Enabled  bool             `yaml:"enabled"`
}

type UpstreamConfig struct {
	BaseURL      string   `yaml:"base_url"`
	APIKey       string   `yaml:"api_key"`
	Timeout      Duration `yaml:"timeout"`
	MaxRetries   int      `yaml:"max_retries"`
	RetryDelay   Duration `yaml:"retry_delay"`
	SearchRadius int      `yaml:"search_radius"` // meters
	Mock         bool     `yaml:"mock"`
}

// UseMock reports whether producers should read the offline catalog.
func (u UpstreamConfig) UseMock() bool {
	return u.Mock || u.APIKey == "" || u.BaseURL == ""
}

type ServerConfig struct {
	HTTPAddr    string   `yaml:"http_addr"`
	GRPCAddr    string   `yaml:"grpc_addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Planner: PlannerConfig{
			QuickAck:    Duration(5 * time.Second),
			Final:       Duration(30 * time.Second),
			GracePeriod: Duration(500 * time.Millisecond),
			Retention:   Duration(5 * time.Minute),
		},
		Workers: []WorkerConfig{
			{Kind: types.KindHotel, Priority: 0, Enabled: true},
			{Kind: types.KindItinerary, Priority: 1, Enabled: true},
			{Kind: types.KindTransport, Priority: 2, Enabled: true},
		},
		Upstream: UpstreamConfig{
			BaseURL:      "https://k6oayrgulgb5sasvwj3tsy7l7u0tikfd.lambda-url.ap-northeast-1.on.aws",
			Timeout:      Duration(10 * time.Second),
			MaxRetries:   3,
			RetryDelay:   Duration(time.Second),
			SearchRadius: 15000,
		},
		Server: ServerConfig{
			HTTPAddr:    ":8080",
			GRPCAddr:    ":50051",
			CORSOrigins: []string{"*"},
		},
		Metrics: MetricsConfig{Enabled: true, Port: 9090},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path on top of Defaults, applies the environment overrides and
// validates the result. An empty path loads only defaults and environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides the upstream settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		c.Upstream.APIKey = v
	}
	if v, ok := lookup(EnvBaseURL); ok && v != "" {
		c.Upstream.BaseURL = strings.TrimRight(v, "/")
	}
}

// Validate checks the deadlines, the worker registry and the ports.
func (c *Config) Validate() error {
	var problems []string

	if c.Planner.QuickAck <= 0 {
		problems = append(problems, "planner.quick_ack must be positive")
	}
	if c.Planner.Final <= c.Planner.QuickAck {
		problems = append(problems, "planner.final must be after planner.quick_ack")
	}
	if c.Planner.GracePeriod < 0 {
		problems = append(problems, "planner.grace_period must not be negative")
	}
	if c.Planner.MaxConcurrency < 0 {
		problems = append(problems, "planner.max_concurrency must not be negative")
	}

	seen := make(map[types.WorkerKind]bool)
	enabled := 0
	for i, w := range c.Workers {
		if w.Kind == "" {
			problems = append(problems, fmt.Sprintf("workers[%d].kind is required", i))
			continue
		}
		if seen[w.Kind] {
			problems = append(problems, fmt.Sprintf("workers[%d]: duplicate kind %q", i, w.Kind))
		}
		seen[w.Kind] = true
		if w.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		problems = append(problems, "at least one worker must be enabled")
	}

	if c.Upstream.MaxRetries < 1 {
		problems = append(problems, "upstream.max_retries must be at least 1")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		problems = append(problems, "metrics.port must be in 1-65535")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// EnabledWorkers returns the enabled entries of the registry.
func (c *Config) EnabledWorkers() []WorkerConfig {
	var out []WorkerConfig
	for _, w := range c.Workers {
		if w.Enabled {
			out = append(out, w)
		}
	}
	return out
}

// Marshal renders the configuration as YAML with the API key masked.
func (c Config) Marshal() ([]byte, error) {
	if c.Upstream.APIKey != "" {
		c.Upstream.APIKey = "****"
	}
	return yaml.Marshal(c)
}
