// SPDX-License-Identifier: AGPL-3.0
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/corestack/taskorch/pkg/task"
)

// EtcdGateway is a distributed-KV-backed Gateway, suitable when multiple
// processor instances must see the same checkpoint without routing every
// read through one host. Keys are laid out as
// "<prefix>/<userID>/<slot>" so List can range over one user's prefix.
type EtcdGateway struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdGateway wires a Gateway on top of an already-configured etcd
// client. prefix scopes all keys this gateway touches, allowing several
// deployments to share one etcd cluster.
func NewEtcdGateway(client *clientv3.Client, prefix string) *EtcdGateway {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = "/checkpoints"
	}
	return &EtcdGateway{client: client, prefix: prefix}
}

func (g *EtcdGateway) key(userID, slot string) string {
	return fmt.Sprintf("%s/%s/%s", g.prefix, userID, slot)
}

func (g *EtcdGateway) Get(ctx context.Context, userID, slot string) (*task.State, error) {
	resp, err := g.client.Get(ctx, g.key(userID, slot))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: etcd get: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}

	var state task.State
	if err := json.Unmarshal(resp.Kvs[0].Value, &state); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal: %w", err)
	}
	return &state, nil
}

func (g *EtcdGateway) Put(ctx context.Context, userID, slot string, state *task.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	if _, err := g.client.Put(ctx, g.key(userID, slot), string(raw)); err != nil {
		return fmt.Errorf("checkpoint: etcd put: %w", err)
	}
	return nil
}

func (g *EtcdGateway) List(ctx context.Context, userID string) ([]Summary, error) {
	userPrefix := fmt.Sprintf("%s/%s/", g.prefix, userID)
	resp, err := g.client.Get(ctx, userPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("checkpoint: etcd list: %w", err)
	}

	out := make([]Summary, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		slot := strings.TrimPrefix(string(kv.Key), userPrefix)
		var state task.State
		if err := json.Unmarshal(kv.Value, &state); err != nil {
			continue
		}
		out = append(out, summarize(slot, &state))
	}
	return out, nil
}
