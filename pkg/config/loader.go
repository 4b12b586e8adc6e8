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

package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/corestack/taskorch/pkg/config/provider"
)

// Loader reads a Config from a provider.Provider, expanding environment
// variables and applying defaults and validation on every load.
type Loader struct {
	src provider.Provider
}

// NewLoader builds a Loader over src.
func NewLoader(src provider.Provider) *Loader {
	return &Loader{src: src}
}

// NewFileLoader is a convenience constructor for the common case of
// loading from a single YAML file on disk.
func NewFileLoader(path string) (*Loader, error) {
	p, err := provider.New(provider.ProviderConfig{Type: provider.TypeFile, Path: path})
	if err != nil {
		return nil, err
	}
	return NewLoader(p), nil
}

// Load reads, expands, decodes, defaults, and validates a Config.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	raw, err := l.src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}

	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	expanded := ExpandEnvVarsInData(generic)

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("config: build decoder: %w", err)
	}
	if err := decoder.Decode(expanded); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// Watch returns a channel that fires whenever the underlying source
// reports a change. Callers typically re-Load on each signal and swap
// the result in atomically. Returns a nil channel if the source does
// not support watching.
func (l *Loader) Watch(ctx context.Context) (<-chan struct{}, error) {
	return l.src.Watch(ctx)
}

// Close releases the underlying source.
func (l *Loader) Close() error {
	return l.src.Close()
}
