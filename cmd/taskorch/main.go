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

// Command taskorch is the CLI for the durable task orchestrator.
//
// Usage:
//
//	taskorch serve --config taskorch.yaml
//	taskorch version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/corestack/taskorch/pkg/auth"
	"github.com/corestack/taskorch/pkg/checkpoint"
	"github.com/corestack/taskorch/pkg/config"
	contextpkg "github.com/corestack/taskorch/pkg/context"
	"github.com/corestack/taskorch/pkg/instance"
	"github.com/corestack/taskorch/pkg/logger"
	"github.com/corestack/taskorch/pkg/model"
	"github.com/corestack/taskorch/pkg/model/gemini"
	"github.com/corestack/taskorch/pkg/observability"
	"github.com/corestack/taskorch/pkg/planner"
	"github.com/corestack/taskorch/pkg/progress"
	"github.com/corestack/taskorch/pkg/server"
	"github.com/corestack/taskorch/pkg/task"
	"github.com/corestack/taskorch/pkg/tokenizer"
	"github.com/corestack/taskorch/pkg/tool"
	"github.com/corestack/taskorch/pkg/tools"
	"github.com/corestack/taskorch/pkg/tools/plugin"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the control-plane server."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// Run prints the build version.
func (c *VersionCmd) Run() error {
	v := "dev"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		v = info.Main.Version
	}
	fmt.Printf("taskorch %s\n", v)
	return nil
}

// ServeCmd starts the control-plane server.
type ServeCmd struct {
	Config string `short:"c" help:"Path to config file." type:"path" required:""`
}

// Run builds every collaborator from the loaded config and starts the
// control interface, blocking until a shutdown signal arrives.
func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	_ = config.LoadEnvFiles()

	loader, err := config.NewFileLoader(c.Config)
	if err != nil {
		return fmt.Errorf("build config loader: %w", err)
	}
	defer loader.Close()

	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.GetLogger()

	obs, err := observability.NewManager(ctx, &cfg.Observability)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer obs.Shutdown(context.Background())

	registry := tools.NewRegistry()
	cache := tools.NewCache(registry)
	dispatcher := tools.NewDispatcher(registry, cache, cfg.Processor.ContextBudget)
	runner := tools.NewRunner(dispatcher)

	pluginLoader := plugin.NewLoader()
	pluginSafety := tool.NewStaticClassifier()
	var pluginClients []func()
	for _, dir := range cfg.Plugins.Dirs {
		loaded, loadErrs := pluginLoader.LoadDir(dir)
		for _, loadErr := range loadErrs {
			log.Warn("tool plugin failed to load", "error", loadErr)
		}
		for _, one := range loaded {
			safety := tool.Mutating
			if pluginSafety.IsSafe(one.Tool.Name()) {
				safety = tool.Safe
			}
			if err := registry.RegisterPlugin(one.Tool, safety); err != nil {
				log.Warn("tool plugin registration failed", "error", err)
				one.Close()
				continue
			}
			pluginClients = append(pluginClients, one.Close)
		}
	}
	defer func() {
		for _, closeFn := range pluginClients {
			closeFn()
		}
	}()

	primary, err := buildModel(cfg.Models.Primary, registry)
	if err != nil {
		return fmt.Errorf("build primary model: %w", err)
	}
	fallbacks := make([]task.Model, 0, len(cfg.Models.Fallback))
	for _, mc := range cfg.Models.Fallback {
		fb, err := buildModel(mc, registry)
		if err != nil {
			return fmt.Errorf("build fallback model %q: %w", mc.Alias, err)
		}
		fallbacks = append(fallbacks, fb)
	}

	gateway, err := checkpoint.NewFromConfig(cfg.Checkpoint)
	if err != nil {
		return fmt.Errorf("build checkpoint gateway: %w", err)
	}
	saver := checkpoint.NewSaver(gateway)

	emitter := progress.NewEmitter(logSink{log: log}, cfg.Processor.HeartbeatInterval, false)

	counter := tokenizer.New(cfg.Models.Primary.Model)
	compressor := contextpkg.New(counter)

	procCfg := task.Config{
		MaxIterations:        cfg.Processor.MaxIterations,
		EmptyResponseRetries: cfg.Processor.EmptyResponseRetries,
		AutoResumeCapPaid:    cfg.Processor.AutoResumeCapPaid,
		AutoResumeCapFree:    cfg.Processor.AutoResumeCapFree,
		IsFreeTier:           cfg.Processor.IsFreeTier,
		FallbackModels:       fallbacks,
		Compressor:           compressor,
		ContextBudget:        cfg.Processor.ContextBudget,
		PlanParser:           planner.Parser{},
		PlanPrompt:           planner.Prompt,
		PlanInjector:         planner.NewInjector(localFileReader(cfg.Processor.FileReadRoot)),
	}
	processor := task.NewProcessor(procCfg, primary, runner, saver, emitter, log)

	var validator *auth.JWTValidator
	if cfg.Control.Auth.Enabled {
		validator, err = auth.NewValidatorFromConfig(&auth.AuthConfig{
			Enabled:  cfg.Control.Auth.Enabled,
			JWKSURL:  cfg.Control.Auth.JWKSURL,
			Issuer:   cfg.Control.Auth.Issuer,
			Audience: cfg.Control.Auth.Audience,
		})
		if err != nil {
			return fmt.Errorf("build auth validator: %w", err)
		}
	}

	if cfg.Control.Instance.Enabled {
		router, err := instance.New(instance.Config{
			Address: cfg.Control.Instance.Address,
			SelfID:  cfg.Control.Instance.SelfID,
			Prefix:  cfg.Control.Instance.Prefix,
			TTL:     cfg.Control.Instance.TTL,
		})
		if err != nil {
			return fmt.Errorf("build instance router: %w", err)
		}
		go router.RenewLoop(ctx)
		defer router.Close()
	}

	srv := server.New(server.Options{
		Host:      cfg.Control.Host,
		Port:      cfg.Control.Port,
		Validator: validator,
		Log:       log,
	}, processor)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	fmt.Printf("\ntaskorch control interface ready on %s:%d\n", cfg.Control.Host, cfg.Control.Port)

	srv.Wait()
	return nil
}

func buildModel(mc config.ModelConfig, registry *tools.Registry) (task.Model, error) {
	llm, err := gemini.New(gemini.Config{
		APIKey:      mc.APIKey,
		Model:       mc.Model,
		MaxTokens:   mc.MaxTokens,
		Temperature: float64(mc.Temperature),
		TopP:        float64(mc.TopP),
		TopK:        int(mc.TopK),
	})
	if err != nil {
		return nil, err
	}
	return model.NewAdapter(llm, nil).WithTools(registry.Definitions()), nil
}

// localFileReader returns a planner.FileReader that serves files from a
// single local directory tree, ignoring the repo argument — there is no
// git-host client in this build, so plan pre-fetch is scoped to one
// checked-out working copy. Returns a reader that always misses if root
// is empty, which disables plan-phase pre-fetch entirely.
func localFileReader(root string) planner.FileReader {
	if root == "" {
		return func(context.Context, string, string) (string, bool) { return "", false }
	}
	return func(_ context.Context, _ string, path string) (string, bool) {
		clean := filepath.Clean("/" + path)
		full := filepath.Join(root, clean)
		if !strings.HasPrefix(full, filepath.Clean(root)+string(os.PathSeparator)) {
			return "", false
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return "", false
		}
		return string(data), true
	}
}

type logSink struct {
	log *slog.Logger
}

func (s logSink) Send(ctx context.Context, taskID, text string) error {
	s.log.Info("task progress", "task_id", taskID, "status", text)
	return nil
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("taskorch"),
		kong.Description("Durable multi-turn AI task orchestrator"),
		kong.UsageOnError(),
	)

	level := slog.LevelInfo
	switch cli.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out *os.File = os.Stderr
	var cleanup func()
	if cli.LogFile != "" {
		f, c, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		out = f
		cleanup = c
	}
	logger.Init(level, out, cli.LogFormat)
	if cleanup != nil {
		defer cleanup()
	}

	err := kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}
