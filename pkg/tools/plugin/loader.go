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

package plugin

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	hclog "github.com/hashicorp/go-hclog"
	hcplugin "github.com/hashicorp/go-plugin"

	"github.com/corestack/taskorch/pkg/tool"
)

// Loaded pairs a dispensed tool with the teardown that kills its plugin
// process. Callers must invoke Close once the tool is no longer needed
// (typically at process shutdown).
type Loaded struct {
	Tool  tool.Callable
	Close func()
}

// Loader launches tool-plugin executables and dispenses each as a
// tool.Callable. A crashed or non-handshaking plugin yields an error for
// that one executable; it never affects another plugin or the registry.
type Loader struct {
	logger hclog.Logger
}

// NewLoader builds a Loader with a quiet default logger, matching the
// teacher's plugin-loader logging level.
func NewLoader() *Loader {
	return &Loader{
		logger: hclog.New(&hclog.LoggerOptions{
			Name:   "taskorch-plugin",
			Level:  hclog.Warn,
			Output: os.Stderr,
		}),
	}
}

// Load launches the executable at path and dispenses its tool.
func (l *Loader) Load(path string) (*Loaded, error) {
	client := hcplugin.NewClient(&hcplugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          map[string]hcplugin.Plugin{"tool": &ToolPlugin{}},
		Cmd:              exec.Command(path),
		Logger:           l.logger,
		AllowedProtocols: []hcplugin.Protocol{hcplugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("plugin %s: handshake: %w", path, err)
	}

	raw, err := rpcClient.Dispense("tool")
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("plugin %s: dispense: %w", path, err)
	}

	callable, ok := raw.(tool.Callable)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("plugin %s: does not implement tool.Callable", path)
	}

	return &Loaded{Tool: callable, Close: client.Kill}, nil
}

// LoadDir launches every executable file directly under dir (non-
// recursive) and returns the tools it was able to dispense, plus one error
// per executable that failed its handshake. A directory that does not
// exist yields no tools and no error: plugin discovery is opportunistic.
func (l *Loader) LoadDir(dir string) ([]*Loaded, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil
	}

	var loaded []*Loaded
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Mode()&0111 == 0 {
			continue
		}
		one, loadErr := l.Load(filepath.Join(dir, entry.Name()))
		if loadErr != nil {
			errs = append(errs, loadErr)
			continue
		}
		loaded = append(loaded, one)
	}
	return loaded, errs
}
