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

// Package plugin implements the tool-plugin transport: a separately-built
// executable speaking a fixed handshake/RPC protocol, launched as a
// subprocess and dispensed as a tool.Callable. Grounded on the teacher's
// hashicorp/go-plugin-based loader (pkg/plugins/grpc), adapted from the
// teacher's gRPC transport to go-plugin's net/rpc transport: the teacher's
// plugin *types* (LLM/embedder/document-parser providers) carry generated
// protobuf stubs that have no analog here, and a tool call's shape (a name,
// a JSON-schema definition, a map[string]any in, a map[string]any out) is
// simple enough that gob-encoded net/rpc carries it without a .proto file.
package plugin

import (
	"context"
	"encoding/gob"
	"errors"
	"net/rpc"

	hcplugin "github.com/hashicorp/go-plugin"

	"github.com/corestack/taskorch/pkg/tool"
)

func init() {
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
}

// Handshake identifies a compatible tool plugin binary. The magic cookie
// prevents an unrelated executable from being mistaken for a plugin.
var Handshake = hcplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "TASKORCH_TOOL_PLUGIN",
	MagicCookieValue: "taskorch_tool_plugin_v1",
}

// pluginMap is the single dispensed type every tool-plugin binary serves.
func pluginMap(impl tool.Callable) map[string]hcplugin.Plugin {
	return map[string]hcplugin.Plugin{
		"tool": &ToolPlugin{Impl: impl},
	}
}

// ToolPlugin is the go-plugin.Plugin implementation shared by both sides
// of the handshake: the host dispenses a *rpcClient, a plugin process
// serves its Impl through *rpcServer.
type ToolPlugin struct {
	Impl tool.Callable
}

func (p *ToolPlugin) Server(*hcplugin.MuxBroker) (interface{}, error) {
	return &rpcServer{impl: p.Impl}, nil
}

func (p *ToolPlugin) Client(_ *hcplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &rpcClient{client: c}, nil
}

// callArgs/callReply/schemaReply are the gob-encoded RPC envelopes; a tool
// plugin author never sees these directly, only the tool.Callable they
// implement on the server side.
type callArgs struct {
	Args map[string]any
}

type callReply struct {
	Result map[string]any
	Err    string
}

type schemaReply struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// rpcServer adapts a tool.Callable to net/rpc's exported-method
// convention. Used only by a plugin binary, never by this host process.
type rpcServer struct {
	impl tool.Callable
}

func (s *rpcServer) Schema(_ any, reply *schemaReply) error {
	def := s.impl.Schema()
	*reply = schemaReply{Name: def.Name, Description: def.Description, Parameters: def.Parameters}
	return nil
}

func (s *rpcServer) Call(args callArgs, reply *callReply) error {
	result, err := s.impl.Call(context.Background(), args.Args)
	if err != nil {
		reply.Err = err.Error()
		return nil
	}
	reply.Result = result
	return nil
}

// rpcClient is the host-side tool.Callable backed by an RPC round trip per
// call. Schema is fetched on the first Name, Description or Schema call and
// cached; Call always crosses the process boundary.
type rpcClient struct {
	client *rpc.Client
	def    *tool.Definition
}

func (c *rpcClient) fetchSchema() (tool.Definition, error) {
	if c.def != nil {
		return *c.def, nil
	}
	var reply schemaReply
	if err := c.client.Call("Plugin.Schema", new(any), &reply); err != nil {
		return tool.Definition{}, err
	}
	def := tool.Definition{Name: reply.Name, Description: reply.Description, Parameters: reply.Parameters}
	c.def = &def
	return def, nil
}

func (c *rpcClient) Name() string {
	def, _ := c.fetchSchema()
	return def.Name
}

func (c *rpcClient) Description() string {
	def, _ := c.fetchSchema()
	return def.Description
}

func (c *rpcClient) Schema() tool.Definition {
	def, _ := c.fetchSchema()
	return def
}

func (c *rpcClient) Call(_ context.Context, args map[string]any) (map[string]any, error) {
	var reply callReply
	if err := c.client.Call("Plugin.Call", callArgs{Args: args}, &reply); err != nil {
		return nil, err
	}
	if reply.Err != "" {
		return nil, errors.New(reply.Err)
	}
	return reply.Result, nil
}

// Serve runs the current process as a tool-plugin binary wrapping impl,
// blocking until the host disconnects. A plugin author calls this from
// their executable's main function; the host process never calls it.
func Serve(impl tool.Callable) {
	hcplugin.Serve(&hcplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins:         pluginMap(impl),
	})
}
