// Package instance tracks which host owns a given user's running task, so
// a control-interface request landing on the wrong host can be routed (or
// rejected) instead of silently operating on local-only state.
package instance

import (
	"context"
	"errors"
	"fmt"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

// ErrNotOwned is returned when the local instance does not own userID's
// task and no routing target could be found either.
var ErrNotOwned = errors.New("instance: user not owned by any known instance")

// Router answers "who owns this user's task" using Consul's KV store as
// the shared registry, with a session-backed TTL so a crashed instance's
// claims expire instead of sticking forever.
type Router struct {
	client   *consulapi.Client
	selfID   string
	prefix   string
	sessionID string
	ttl      time.Duration
}

// Config configures a Router.
type Config struct {
	// Address is the Consul HTTP API address, e.g. "127.0.0.1:8500".
	Address string
	// SelfID identifies this process instance (host:port or a generated id).
	SelfID string
	// Prefix scopes KV keys, e.g. "taskorch/instances".
	Prefix string
	// TTL is how long a claim survives without being renewed.
	TTL time.Duration
}

// New builds a Router and registers a Consul session used to back every
// claim this instance makes.
func New(cfg Config) (*Router, error) {
	if cfg.TTL == 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "taskorch/instances"
	}

	client, err := consulapi.NewClient(&consulapi.Config{Address: cfg.Address})
	if err != nil {
		return nil, fmt.Errorf("instance: consul client: %w", err)
	}

	session, _, err := client.Session().Create(&consulapi.SessionEntry{
		Name:      "taskorch-instance-" + cfg.SelfID,
		TTL:       cfg.TTL.String(),
		Behavior:  consulapi.SessionBehaviorDelete,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("instance: create session: %w", err)
	}

	return &Router{client: client, selfID: cfg.SelfID, prefix: cfg.Prefix, sessionID: session, ttl: cfg.TTL}, nil
}

func (r *Router) key(userID string) string {
	return fmt.Sprintf("%s/%s", r.prefix, userID)
}

// Claim registers this instance as the owner of userID's task. It returns
// false, with a nil error, if another live instance already holds the claim.
func (r *Router) Claim(userID string) (bool, error) {
	pair := &consulapi.KVPair{
		Key:     r.key(userID),
		Value:   []byte(r.selfID),
		Session: r.sessionID,
	}
	acquired, _, err := r.client.KV().Acquire(pair, nil)
	if err != nil {
		return false, fmt.Errorf("instance: acquire claim: %w", err)
	}
	return acquired, nil
}

// Release gives up this instance's claim on userID, if it holds one.
func (r *Router) Release(userID string) error {
	pair := &consulapi.KVPair{
		Key:     r.key(userID),
		Session: r.sessionID,
	}
	_, _, err := r.client.KV().Release(pair, nil)
	if err != nil {
		return fmt.Errorf("instance: release claim: %w", err)
	}
	return nil
}

// Owner returns the instance ID that currently owns userID's task.
func (r *Router) Owner(ctx context.Context, userID string) (string, bool, error) {
	pair, _, err := r.client.KV().Get(r.key(userID), (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return "", false, fmt.Errorf("instance: lookup owner: %w", err)
	}
	if pair == nil {
		return "", false, nil
	}
	return string(pair.Value), true, nil
}

// IsLocal reports whether this instance owns userID's task.
func (r *Router) IsLocal(ctx context.Context, userID string) (bool, error) {
	owner, ok, err := r.Owner(ctx, userID)
	if err != nil {
		return false, err
	}
	return ok && owner == r.selfID, nil
}

// RenewLoop keeps the backing session alive until ctx is cancelled; call it
// in a background goroutine once after New.
func (r *Router) RenewLoop(ctx context.Context) {
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _, _ = r.client.Session().Renew(r.sessionID, nil)
		}
	}
}

// Close destroys the backing session, releasing every claim it held.
func (r *Router) Close() error {
	_, err := r.client.Session().Destroy(r.sessionID, nil)
	return err
}
