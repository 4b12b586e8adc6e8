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

// Package server exposes the control interface (process/status/cancel/steer)
// over HTTP, and owns the process lifecycle: startup and graceful shutdown
// on signal. It does not reload configuration while running.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/corestack/taskorch/pkg/auth"
	"github.com/corestack/taskorch/pkg/task"
)

// Options configures one control-interface Server.
type Options struct {
	Host string
	Port int

	// Validator, if non-nil, is required on every request except /healthz.
	Validator *auth.JWTValidator

	Log *slog.Logger
}

// Server is the control-plane HTTP surface over a task.Processor.
type Server struct {
	opts      Options
	processor *Processor
	log       *slog.Logger

	httpServer *http.Server
	stopChan   chan struct{}
	doneChan   chan struct{}
	mu         sync.Mutex
}

// Processor is the subset of task.Processor the control interface drives.
type Processor interface {
	Submit(ctx context.Context, s *task.State) error
	Cancel(userID string) error
	Steer(userID, text string) error
	Status(userID string) (*task.State, bool)
}

// New builds a control-interface Server over processor.
func New(opts Options, processor Processor) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		opts:      opts,
		processor: processor,
		log:       log,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.opts.Validator != nil {
			r.Use(s.opts.Validator.HTTPMiddleware)
		}
		r.Post("/v1/tasks", s.handleProcess)
		r.Get("/v1/tasks/{userID}", s.handleStatus)
		r.Post("/v1/tasks/{userID}/cancel", s.handleCancel)
		r.Post("/v1/tasks/{userID}/steer", s.handleSteer)
		r.Get("/v1/tasks/{userID}/events", s.handleEvents)
	})

	return r
}

// Start binds the HTTP listener and begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.router()}

	ln := make(chan error, 1)
	go func() {
		s.log.Info("control interface listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ln <- err
			return
		}
		ln <- nil
	}()

	go s.runLifecycle()

	select {
	case err := <-ln:
		return err
	case <-time.After(200 * time.Millisecond):
		return nil
	}
}

// Wait blocks until the server has fully shut down.
func (s *Server) Wait() {
	<-s.doneChan
}

// Stop requests graceful shutdown and waits for it to complete or ctx to
// expire, whichever comes first.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	s.mu.Unlock()

	select {
	case <-s.doneChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) runLifecycle() {
	defer close(s.doneChan)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		s.log.Info("shutdown signal received")
	case <-s.stopChan:
		s.log.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("control interface shutdown error", "err", err)
	}
}
