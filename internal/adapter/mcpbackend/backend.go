// Package mcpbackend implements the Backend port (spec.md §4.2) over a real
// MCP connection, grounded on the teacher's own use of mark3labs/mcp-go for
// outbound MCP handshakes (internal/service/mcp_test_connection.go) and tool
// registration (internal/adapter/mcp/tools.go).
package mcpbackend

import (
	"context"
	"encoding/json"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/portero-gateway/portero/internal/apperr"
	"github.com/portero-gateway/portero/internal/config"
	"github.com/portero-gateway/portero/internal/domain/anonymize"
	"github.com/portero-gateway/portero/internal/domain/tool"
	"github.com/portero-gateway/portero/internal/port/backend"
)

// Backend is a live MCP client wrapped to satisfy backend.Backend. Pinning
// is a Registry/Aggregator-level concern (spec.md §4.2/§4.3): this type
// always reports its backend's full local tool catalog.
type Backend struct {
	name   string
	client mcpclient.MCPClient
}

// Dial connects to and initializes an MCP server described by def, returning
// a Backend ready for ListTools/Call/ReadResource.
func Dial(ctx context.Context, def config.BackendDef) (*Backend, error) {
	client, err := newClient(def)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBackend, "create mcp client for "+def.Name, err)
	}

	initReq := mcplib.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcplib.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcplib.Implementation{Name: "portero-gateway", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return nil, apperr.Wrap(apperr.KindBackend, "initialize mcp backend "+def.Name, err)
	}

	return &Backend{name: def.Name, client: client}, nil
}

// PinnedSet builds a backend.PinnedSet from def.Pinned for the caller to
// pass into registry.Registry.Register, keeping pinning bookkeeping out of
// the Backend itself.
func PinnedSet(def config.BackendDef) backend.PinnedSet {
	if len(def.Pinned) == 0 {
		return nil
	}
	out := make(backend.PinnedSet, len(def.Pinned))
	for _, name := range def.Pinned {
		out[name] = true
	}
	return out
}

func newClient(def config.BackendDef) (mcpclient.MCPClient, error) {
	switch def.Transport {
	case "stdio":
		return mcpclient.NewStdioMCPClient(def.Command, envSlice(def.Env), def.Args...)
	case "sse":
		var opts []transport.ClientOption
		if len(def.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(def.Headers))
		}
		return mcpclient.NewSSEMCPClient(def.URL, opts...)
	case "streamable-http":
		var opts []transport.StreamableHTTPCOption
		if len(def.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(def.Headers))
		}
		return mcpclient.NewStreamableHttpClient(def.URL, opts...)
	default:
		return nil, fmt.Errorf("unsupported transport %q", def.Transport)
	}
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return b.name }

// Close releases the underlying MCP client connection.
func (b *Backend) Close() error { return b.client.Close() }

// ListTools implements backend.Backend.
func (b *Backend) ListTools(ctx context.Context) ([]tool.Tool, error) {
	result, err := b.client.ListTools(ctx, mcplib.ListToolsRequest{})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBackend, "list tools on "+b.name, err)
	}
	out := make([]tool.Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		out = append(out, tool.Tool{
			Backend:     b.name,
			LocalName:   t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out, nil
}

// Call implements backend.Backend.
func (b *Backend) Call(ctx context.Context, localName string, args anonymize.Value) (anonymize.Value, error) {
	req := mcplib.CallToolRequest{}
	req.Params.Name = localName
	if m, ok := args.ToJSON().(map[string]interface{}); ok {
		req.Params.Arguments = m
	}

	result, err := b.client.CallTool(ctx, req)
	if err != nil {
		return anonymize.Value{}, apperr.Wrap(apperr.KindBackend, fmt.Sprintf("call %s/%s", b.name, localName), err)
	}
	return resultToValue(result), nil
}

// ReadResource implements backend.Backend.
func (b *Backend) ReadResource(ctx context.Context, uri string) (anonymize.Value, error) {
	req := mcplib.ReadResourceRequest{}
	req.Params.URI = uri
	result, err := b.client.ReadResource(ctx, req)
	if err != nil {
		return anonymize.Value{}, apperr.Wrap(apperr.KindBackend, "read resource "+uri+" on "+b.name, err)
	}

	items := make([]anonymize.Value, 0, len(result.Contents))
	for _, c := range result.Contents {
		data, err := json.Marshal(c)
		if err != nil {
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			continue
		}
		items = append(items, anonymize.FromJSON(decoded))
	}
	return anonymize.Value{Kind: anonymize.KindArray, Array: items}, nil
}

// resultToValue flattens an MCP CallToolResult's content blocks into a
// mapping the same way the JSON-RPC boundary would render one, tagging the
// tool's own reported error flag (spec.md §4.4: "a backend's own tool-level
// error is relayed to the caller as ordinary content, not a transport
// error").
func resultToValue(result *mcplib.CallToolResult) anonymize.Value {
	items := make([]anonymize.Value, 0, len(result.Content))
	for _, c := range result.Content {
		data, err := json.Marshal(c)
		if err != nil {
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			continue
		}
		items = append(items, anonymize.FromJSON(decoded))
	}
	return anonymize.Mapping(
		anonymize.MapEntry{Key: "content", Value: anonymize.Value{Kind: anonymize.KindArray, Array: items}},
		anonymize.MapEntry{Key: "isError", Value: anonymize.Bool(result.IsError)},
	)
}
