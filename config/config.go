// Package config loads settings for the mcpstdio binaries.
//
// Values are resolved in three layers: built-in defaults, then an optional
// JSON or YAML file, then environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MCPSTDIO_"

// Duration is a time.Duration written as "10s" in config files.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	return d.set(s)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.set(node.Value)
}

func (d *Duration) set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type ServerConfig struct {
	Name                 string `json:"name" yaml:"name"`
	Version              string `json:"version" yaml:"version"`
	ProtocolVersion      string `json:"protocol_version" yaml:"protocol_version"`
	ResourceRoot         string `json:"resource_root" yaml:"resource_root"`
	StrictInitialization bool   `json:"strict_initialization" yaml:"strict_initialization"`
}

type ClientConfig struct {
	Command        string   `json:"command" yaml:"command"`
	Args           []string `json:"args" yaml:"args"`
	Env            []string `json:"env" yaml:"env"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout"`
	StopTimeout    Duration `json:"stop_timeout" yaml:"stop_timeout"`
}

type AgentConfig struct {
	// Decider is "rule" or "llm".
	Decider           string  `json:"decider" yaml:"decider"`
	Provider          string  `json:"provider" yaml:"provider"`
	Model             string  `json:"model" yaml:"model"`
	MaxTokens         int64   `json:"max_tokens" yaml:"max_tokens"`
	Temperature       float64 `json:"temperature" yaml:"temperature"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	PromptName        string  `json:"prompt_name" yaml:"prompt_name"`

	// Credentials are read from the environment only.
	APIKey          string `json:"-" yaml:"-"`
	AWSRegion       string `json:"aws_region" yaml:"aws_region"`
	AWSAccessKeyID  string `json:"-" yaml:"-"`
	AWSSecretKey    string `json:"-" yaml:"-"`
	AWSSessionToken string `json:"-" yaml:"-"`
}

type HistoryConfig struct {
	// Driver is "memory", "sqlite3" or "postgres".
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

// Config holds all settings.
type Config struct {
	Log     LogConfig     `json:"log" yaml:"log"`
	Server  ServerConfig  `json:"server" yaml:"server"`
	Client  ClientConfig  `json:"client" yaml:"client"`
	Agent   AgentConfig   `json:"agent" yaml:"agent"`
	History HistoryConfig `json:"history" yaml:"history"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			Name:            "mcpstdio-server",
			Version:         "1.0.0",
			ProtocolVersion: "2025-11-25",
			ResourceRoot:    ".",
		},
		Client: ClientConfig{
			Command:        "mcpstdio-server",
			RequestTimeout: Duration{10 * time.Second},
			StopTimeout:    Duration{5 * time.Second},
		},
		Agent: AgentConfig{
			Decider:    "rule",
			Provider:   "anthropic",
			MaxTokens:  1000,
			PromptName: "math_tutor",
		},
		History: HistoryConfig{Driver: "memory"},
	}
}

// Load resolves the configuration. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	parse := func(key string, set func(string) error) {
		if v, ok := lookup(key); ok && v != "" {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}

	str(EnvPrefix+"LOG_LEVEL", &c.Log.Level)
	str(EnvPrefix+"LOG_FORMAT", &c.Log.Format)

	str(EnvPrefix+"SERVER_NAME", &c.Server.Name)
	str(EnvPrefix+"SERVER_VERSION", &c.Server.Version)
	str(EnvPrefix+"RESOURCE_ROOT", &c.Server.ResourceRoot)
	parse(EnvPrefix+"STRICT_INITIALIZATION", func(v string) (err error) {
		c.Server.StrictInitialization, err = strconv.ParseBool(v)
		return err
	})

	str(EnvPrefix+"SERVER_COMMAND", &c.Client.Command)
	parse(EnvPrefix+"SERVER_ARGS", func(v string) error {
		c.Client.Args = strings.Fields(v)
		return nil
	})
	parse(EnvPrefix+"REQUEST_TIMEOUT", c.Client.RequestTimeout.set)
	parse(EnvPrefix+"STOP_TIMEOUT", c.Client.StopTimeout.set)

	str(EnvPrefix+"DECIDER", &c.Agent.Decider)
	str(EnvPrefix+"LLM_PROVIDER", &c.Agent.Provider)
	str(EnvPrefix+"LLM_MODEL", &c.Agent.Model)
	parse(EnvPrefix+"LLM_MAX_TOKENS", func(v string) (err error) {
		c.Agent.MaxTokens, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	parse(EnvPrefix+"LLM_TEMPERATURE", func(v string) (err error) {
		c.Agent.Temperature, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse(EnvPrefix+"LLM_REQUESTS_PER_SECOND", func(v string) (err error) {
		c.Agent.RequestsPerSecond, err = strconv.ParseFloat(v, 64)
		return err
	})

	switch strings.ToLower(c.Agent.Provider) {
	case "anthropic":
		str("ANTHROPIC_API_KEY", &c.Agent.APIKey)
	case "openai":
		str("OPENAI_API_KEY", &c.Agent.APIKey)
	case "gemini":
		str("GEMINI_API_KEY", &c.Agent.APIKey)
	}
	str("AWS_REGION", &c.Agent.AWSRegion)
	str("AWS_ACCESS_KEY_ID", &c.Agent.AWSAccessKeyID)
	str("AWS_SECRET_ACCESS_KEY", &c.Agent.AWSSecretKey)
	str("AWS_SESSION_TOKEN", &c.Agent.AWSSessionToken)

	str(EnvPrefix+"HISTORY_DRIVER", &c.History.Driver)
	str(EnvPrefix+"HISTORY_DSN", &c.History.DSN)

	return errors.Join(errs...)
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(oneOf("log.level", c.Log.Level, "debug", "info", "warn", "warning", "error"))
	add(oneOf("log.format", c.Log.Format, "text", "json", "zap", "slog", "default", "none"))
	add(oneOf("agent.decider", c.Agent.Decider, "rule", "llm"))
	add(oneOf("agent.provider", c.Agent.Provider, "anthropic", "openai", "bedrock", "gemini"))
	add(oneOf("history.driver", c.History.Driver, "memory", "sqlite3", "postgres"))

	if c.Server.Name == "" {
		add(errors.New("server.name cannot be empty"))
	}
	if c.Client.RequestTimeout.Duration <= 0 {
		add(errors.New("client.request_timeout must be positive"))
	}
	if c.Client.StopTimeout.Duration <= 0 {
		add(errors.New("client.stop_timeout must be positive"))
	}
	if c.Agent.MaxTokens <= 0 {
		add(errors.New("agent.max_tokens must be positive"))
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		add(errors.New("agent.temperature must be between 0 and 2"))
	}
	if c.Agent.RequestsPerSecond < 0 {
		add(errors.New("agent.requests_per_second cannot be negative"))
	}
	if !strings.EqualFold(c.History.Driver, "memory") && c.History.DSN == "" {
		add(fmt.Errorf("history.dsn is required for driver %q", c.History.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
