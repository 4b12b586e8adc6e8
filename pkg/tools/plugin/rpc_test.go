package plugin

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestack/taskorch/pkg/tool"
)

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its input" }

func (echoTool) Schema() tool.Definition {
	return tool.Definition{
		Name:        "echo",
		Description: "echoes its input",
		Parameters:  map[string]any{"type": "object"},
	}
}

func (echoTool) Call(_ context.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"echoed": args["in"]}, nil
}

type failingTool struct{ echoTool }

func (failingTool) Call(context.Context, map[string]any) (map[string]any, error) {
	return nil, errors.New("tool exploded")
}

func dialRPC(t *testing.T, impl tool.Callable) *rpcClient {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close(); clientConn.Close() })

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("Plugin", &rpcServer{impl: impl}))
	go server.ServeConn(serverConn)

	return &rpcClient{client: rpc.NewClient(clientConn)}
}

func TestRPCClientRoundTripsSchemaAndCall(t *testing.T) {
	client := dialRPC(t, echoTool{})

	assert.Equal(t, "echo", client.Name())
	assert.Equal(t, "echoes its input", client.Description())
	assert.Equal(t, "object", client.Schema().Parameters["type"])

	result, err := client.Call(context.Background(), map[string]any{"in": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", result["echoed"])
}

func TestRPCClientSurfacesCallError(t *testing.T) {
	client := dialRPC(t, failingTool{})

	_, err := client.Call(context.Background(), map[string]any{"in": "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool exploded")
}

func TestRPCClientCachesSchemaAfterFirstFetch(t *testing.T) {
	client := dialRPC(t, echoTool{})

	first := client.Schema()
	client.client.Close()

	second := client.Schema()
	assert.Equal(t, first, second)
}
