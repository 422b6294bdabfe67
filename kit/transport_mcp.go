package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/arancel/idgen"
)

var newCallID = idgen.Prefixed("mcp_", idgen.Default)

// MCPDecodeResult is what a tool decoder yields: the typed request for the
// endpoint and, optionally, extra context values for the call.
type MCPDecodeResult struct {
	Request   any
	EnrichCtx func(context.Context) context.Context
}

// RegisterMCPTool exposes endpoint as an MCP tool. Every call runs with
// transport "mcp" and its own request ID. Decode and endpoint failures are
// tool errors; the protocol error is reserved for the SDK.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode func(*mcp.CallToolRequest) (*MCPDecodeResult, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			return toolError(fmt.Errorf("%s: invalid arguments: %w", tool.Name, err)), nil
		}

		ctx = WithRequestID(WithTransport(ctx, "mcp"), newCallID())
		if decoded.EnrichCtx != nil {
			ctx = decoded.EnrichCtx(ctx)
		}
		resp, err := endpoint(ctx, decoded.Request)
		if err != nil {
			return toolError(err), nil
		}
		return toolResult(resp)
	})
}

func toolResult(resp any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return toolError(fmt.Errorf("encode result: %w", err)), nil
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil
}

func toolError(err error) *mcp.CallToolResult {
	res := &mcp.CallToolResult{}
	res.SetError(err)
	return res
}
