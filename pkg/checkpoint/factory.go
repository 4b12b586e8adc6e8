// SPDX-License-Identifier: AGPL-3.0
package checkpoint

import (
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/corestack/taskorch/pkg/config"
)

// NewFromConfig builds the Gateway selected by cfg.Backend.
func NewFromConfig(cfg config.CheckpointConfig) (Gateway, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryGateway(), nil
	case "sqlite":
		return NewSQLiteGateway(cfg.Path)
	case "postgres":
		return NewPostgresGateway(cfg.DSN)
	case "etcd":
		client, err := clientv3.New(clientv3.Config{Endpoints: cfg.Endpoints})
		if err != nil {
			return nil, fmt.Errorf("checkpoint: etcd client: %w", err)
		}
		return NewEtcdGateway(client, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("checkpoint: unknown backend %q", cfg.Backend)
	}
}
