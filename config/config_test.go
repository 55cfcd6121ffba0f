package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "mcpstdio-server", cfg.Server.Name)
	assert.Equal(t, 10*time.Second, cfg.Client.RequestTimeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Client.StopTimeout.Duration)
	assert.Equal(t, "rule", cfg.Agent.Decider)
	assert.Equal(t, "math_tutor", cfg.Agent.PromptName)
	assert.Equal(t, "memory", cfg.History.Driver)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
log:
  level: debug
  format: zap
server:
  name: calc
  resource_root: /srv/data
client:
  command: ./calc-server
  args: ["--log-level", "debug"]
  request_timeout: 3s
agent:
  decider: llm
  provider: openai
  model: gpt-4o
  temperature: 0.2
history:
  driver: sqlite3
  dsn: /tmp/history.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "zap", cfg.Log.Format)
	assert.Equal(t, "calc", cfg.Server.Name)
	assert.Equal(t, "1.0.0", cfg.Server.Version)
	assert.Equal(t, "/srv/data", cfg.Server.ResourceRoot)
	assert.Equal(t, []string{"--log-level", "debug"}, cfg.Client.Args)
	assert.Equal(t, 3*time.Second, cfg.Client.RequestTimeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Client.StopTimeout.Duration)
	assert.Equal(t, "llm", cfg.Agent.Decider)
	assert.Equal(t, "gpt-4o", cfg.Agent.Model)
	assert.Equal(t, 0.2, cfg.Agent.Temperature)
	assert.Equal(t, "sqlite3", cfg.History.Driver)
}

func TestLoad_JSONFile(t *testing.T) {
	path := writeFile(t, "config.json", `{"client":{"stop_timeout":"250ms"},"history":{"driver":"postgres","dsn":"postgres://localhost/chat"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.StopTimeout.Duration)
	assert.Equal(t, "postgres", cfg.History.Driver)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yml", "log:\n  level: debug\nagent:\n  provider: openai\n")
	t.Setenv("MCPSTDIO_LOG_LEVEL", "error")
	t.Setenv("MCPSTDIO_REQUEST_TIMEOUT", "42s")
	t.Setenv("MCPSTDIO_SERVER_ARGS", "--config /etc/calc.yaml")
	t.Setenv("MCPSTDIO_LLM_TEMPERATURE", "0.9")
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-anthropic")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 42*time.Second, cfg.Client.RequestTimeout.Duration)
	assert.Equal(t, []string{"--config", "/etc/calc.yaml"}, cfg.Client.Args)
	assert.Equal(t, 0.9, cfg.Agent.Temperature)
	assert.Equal(t, "sk-openai", cfg.Agent.APIKey)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.yaml") },
			wantErr: "failed to read config file",
		},
		{
			name:    "unsupported extension",
			path:    func(t *testing.T) string { return writeFile(t, "config.toml", "x = 1") },
			wantErr: "unsupported config file extension",
		},
		{
			name:    "bad yaml duration",
			path:    func(t *testing.T) string { return writeFile(t, "c.yaml", "client:\n  request_timeout: soon\n") },
			wantErr: "failed to parse YAML config file",
		},
		{
			name:    "bad json",
			path:    func(t *testing.T) string { return writeFile(t, "c.json", "{") },
			wantErr: "failed to parse JSON config file",
		},
		{
			name:    "bad env number",
			path:    func(t *testing.T) string { return "" },
			env:     map[string]string{"MCPSTDIO_LLM_MAX_TOKENS": "lots"},
			wantErr: "MCPSTDIO_LLM_MAX_TOKENS",
		},
		{
			name:    "invalid enum",
			path:    func(t *testing.T) string { return "" },
			env:     map[string]string{"MCPSTDIO_DECIDER": "magic"},
			wantErr: "agent.decider must be one of",
		},
		{
			name:    "sql history without dsn",
			path:    func(t *testing.T) string { return "" },
			env:     map[string]string{"MCPSTDIO_HISTORY_DRIVER": "sqlite3"},
			wantErr: "history.dsn is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(tt.path(t))
			assert.Nil(t, cfg)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Client.RequestTimeout = Duration{}
	cfg.Agent.MaxTokens = 0
	cfg.Agent.Temperature = 3

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client.request_timeout must be positive")
	assert.Contains(t, err.Error(), "agent.max_tokens must be positive")
	assert.Contains(t, err.Error(), "agent.temperature must be between 0 and 2")
}
