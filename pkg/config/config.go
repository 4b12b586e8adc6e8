// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the top-level configuration schema and the
// loader that turns a YAML file into it.
package config

import (
	"fmt"
	"time"

	"github.com/corestack/taskorch/pkg/observability"
)

// Config is the root configuration document for one taskorch instance.
type Config struct {
	Models       ModelsConfig       `yaml:"models,omitempty" mapstructure:"models"`
	Checkpoint   CheckpointConfig   `yaml:"checkpoint,omitempty" mapstructure:"checkpoint"`
	Control      ControlConfig      `yaml:"control,omitempty" mapstructure:"control"`
	Processor    ProcessorConfig    `yaml:"processor,omitempty" mapstructure:"processor"`
	Plugins      PluginsConfig      `yaml:"plugins,omitempty" mapstructure:"plugins"`
	Observability observability.Config `yaml:"observability,omitempty" mapstructure:"observability"`
}

// ModelConfig describes one callable backend alias.
type ModelConfig struct {
	// Alias is the name tasks reference (e.g. "gemini-flash").
	Alias string `yaml:"alias,omitempty" mapstructure:"alias"`

	// Provider selects the backend implementation. Only "gemini" has a
	// concrete implementation; Validate rejects any other value when the
	// config is loaded.
	Provider string `yaml:"provider,omitempty" mapstructure:"provider"`

	APIKey      string  `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Model       string  `yaml:"model,omitempty" mapstructure:"model"`
	MaxTokens   int     `yaml:"max_tokens,omitempty" mapstructure:"max_tokens"`
	Temperature float32 `yaml:"temperature,omitempty" mapstructure:"temperature"`
	TopP        float32 `yaml:"top_p,omitempty" mapstructure:"top_p"`
	TopK        int32   `yaml:"top_k,omitempty" mapstructure:"top_k"`
}

// ModelsConfig selects the primary backend and its fallback chain.
//
// Fallback entries are tried in order whenever the primary (or the
// previous fallback) reports its model not-found or sunset.
type ModelsConfig struct {
	Primary  ModelConfig   `yaml:"primary,omitempty" mapstructure:"primary"`
	Fallback []ModelConfig `yaml:"fallback,omitempty" mapstructure:"fallback"`
}

// SetDefaults applies default values to ModelConfig.
func (c *ModelConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "gemini"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 8192
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(c.Provider)
	}
}

// Validate checks ModelConfig for errors.
func (c *ModelConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model.model is required")
	}
	if c.Provider != "gemini" {
		return fmt.Errorf("unsupported model provider %q (only gemini is implemented)", c.Provider)
	}
	if c.APIKey == "" {
		return fmt.Errorf("model %q: api_key is required", c.Alias)
	}
	return nil
}

// SetDefaults applies default values to ModelsConfig.
func (c *ModelsConfig) SetDefaults() {
	c.Primary.SetDefaults()
	for i := range c.Fallback {
		c.Fallback[i].SetDefaults()
	}
}

// Validate checks ModelsConfig for errors.
func (c *ModelsConfig) Validate() error {
	if err := c.Primary.Validate(); err != nil {
		return fmt.Errorf("models.primary: %w", err)
	}
	for i, fb := range c.Fallback {
		if err := fb.Validate(); err != nil {
			return fmt.Errorf("models.fallback[%d]: %w", i, err)
		}
	}
	return nil
}

// CheckpointConfig selects the checkpoint storage backend.
type CheckpointConfig struct {
	// Backend is one of "memory" (default), "sqlite", "postgres", "etcd".
	Backend string `yaml:"backend,omitempty" mapstructure:"backend"`

	// Path is the SQLite file path (backend: sqlite).
	Path string `yaml:"path,omitempty" mapstructure:"path"`

	// DSN is the Postgres connection string (backend: postgres).
	DSN string `yaml:"dsn,omitempty" mapstructure:"dsn"`

	// Endpoints are the etcd cluster endpoints (backend: etcd).
	Endpoints []string `yaml:"endpoints,omitempty" mapstructure:"endpoints"`

	// Prefix namespaces etcd keys (backend: etcd).
	Prefix string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

// SetDefaults applies default values to CheckpointConfig.
func (c *CheckpointConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Backend == "etcd" && c.Prefix == "" {
		c.Prefix = "taskorch/checkpoints"
	}
}

// Validate checks CheckpointConfig for errors.
func (c *CheckpointConfig) Validate() error {
	switch c.Backend {
	case "memory":
		return nil
	case "sqlite":
		if c.Path == "" {
			return fmt.Errorf("checkpoint.path is required for sqlite backend")
		}
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("checkpoint.dsn is required for postgres backend")
		}
	case "etcd":
		if len(c.Endpoints) == 0 {
			return fmt.Errorf("checkpoint.endpoints is required for etcd backend")
		}
	default:
		return fmt.Errorf("unknown checkpoint.backend %q (valid: memory, sqlite, postgres, etcd)", c.Backend)
	}
	return nil
}

// ControlConfig configures the control-interface HTTP server.
type ControlConfig struct {
	Host string     `yaml:"host,omitempty" mapstructure:"host"`
	Port int        `yaml:"port,omitempty" mapstructure:"port"`
	Auth AuthConfig `yaml:"auth,omitempty" mapstructure:"auth"`

	// Instance configures multi-host ownership routing. Left zero-value,
	// routing is disabled and every task is assumed local.
	Instance InstanceConfig `yaml:"instance,omitempty" mapstructure:"instance"`
}

// InstanceConfig configures the Consul-backed ownership router.
type InstanceConfig struct {
	Enabled bool          `yaml:"enabled,omitempty" mapstructure:"enabled"`
	Address string        `yaml:"address,omitempty" mapstructure:"address"`
	SelfID  string        `yaml:"self_id,omitempty" mapstructure:"self_id"`
	Prefix  string        `yaml:"prefix,omitempty" mapstructure:"prefix"`
	TTL     time.Duration `yaml:"ttl,omitempty" mapstructure:"ttl"`
}

// SetDefaults applies default values to ControlConfig.
func (c *ControlConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	c.Auth.SetDefaults()
}

// Validate checks ControlConfig for errors.
func (c *ControlConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("control.port must be between 1 and 65535")
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("control.auth: %w", err)
	}
	if c.Instance.Enabled && c.Instance.Address == "" {
		return fmt.Errorf("control.instance.address is required when instance routing is enabled")
	}
	return nil
}

// ProcessorConfig parameterizes the task processing loop.
type ProcessorConfig struct {
	MaxIterations        int  `yaml:"max_iterations,omitempty" mapstructure:"max_iterations"`
	EmptyResponseRetries int  `yaml:"empty_response_retries,omitempty" mapstructure:"empty_response_retries"`
	AutoResumeCapPaid    int  `yaml:"auto_resume_cap_paid,omitempty" mapstructure:"auto_resume_cap_paid"`
	AutoResumeCapFree    int  `yaml:"auto_resume_cap_free,omitempty" mapstructure:"auto_resume_cap_free"`
	IsFreeTier           bool `yaml:"is_free_tier,omitempty" mapstructure:"is_free_tier"`

	// HeartbeatInterval throttles progress reports; see progress.Emitter.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval,omitempty" mapstructure:"heartbeat_interval"`

	// ContextBudget bounds the token count of the conversation sent to
	// the model on every iteration; the context compressor evicts lower
	// priority messages once the running conversation exceeds it.
	ContextBudget int `yaml:"context_budget,omitempty" mapstructure:"context_budget"`

	// FileReadRoot bounds the plan pre-fetch file reader to a single
	// local directory tree; paths referenced by a structured plan are
	// resolved relative to it. Empty disables plan-phase pre-fetch.
	FileReadRoot string `yaml:"file_read_root,omitempty" mapstructure:"file_read_root"`
}

// SetDefaults applies default values to ProcessorConfig.
func (c *ProcessorConfig) SetDefaults() {
	if c.ContextBudget == 0 {
		c.ContextBudget = 128_000
	}
}

// Validate checks ProcessorConfig for errors.
func (c *ProcessorConfig) Validate() error {
	if c.MaxIterations < 0 {
		return fmt.Errorf("processor.max_iterations must not be negative")
	}
	return nil
}

// PluginsConfig configures external tool-plugin discovery.
type PluginsConfig struct {
	// Dirs are directories scanned for plugin executables at startup.
	Dirs []string `yaml:"dirs,omitempty" mapstructure:"dirs"`
}

// SetDefaults applies default values to PluginsConfig.
func (c *PluginsConfig) SetDefaults() {}

// Validate checks PluginsConfig for errors.
func (c *PluginsConfig) Validate() error { return nil }

// SetDefaults applies defaults across the whole Config tree.
func (c *Config) SetDefaults() {
	c.Models.SetDefaults()
	c.Checkpoint.SetDefaults()
	c.Control.SetDefaults()
	c.Processor.SetDefaults()
	c.Plugins.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks the whole Config tree for errors.
func (c *Config) Validate() error {
	if err := c.Models.Validate(); err != nil {
		return err
	}
	if err := c.Checkpoint.Validate(); err != nil {
		return err
	}
	if err := c.Control.Validate(); err != nil {
		return err
	}
	if err := c.Processor.Validate(); err != nil {
		return err
	}
	if err := c.Plugins.Validate(); err != nil {
		return err
	}
	if err := c.Observability.Validate(); err != nil {
		return err
	}
	return nil
}
