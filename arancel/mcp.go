// CLAUDE:SUMMARY Registers the arancel MCP tools: code lookup, description search, notes, versions.
package arancel

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/arancel/kit"
)

// RegisterMCP registers the read tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	e := s.Endpoints()
	s.registerLookupTool(srv, e.Lookup)
	s.registerSearchTool(srv, e.Search)
	s.registerNoteTool(srv, e.Note)
	s.registerVersionsTool(srv, e.Versions)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var versionProp = map[string]any{
	"type":        "string",
	"description": "Snapshot version (YYYYMM, YYYYMMDD, YYYY-MM-DD). Omit for the latest.",
}

// decodeInto returns an MCP decode function unmarshalling into a fresh T.
func decodeInto[T any]() func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r T
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}
}

// --- lookup ---

func (s *Service) registerLookupTool(srv *mcp.Server, endpoint kit.Endpoint) {
	tool := &mcp.Tool{
		Name: "arancel_lookup",
		Description: "Look up a tariff code. Accepts punctuated (8421.30.00) or bare (84213000) codes " +
			"and codes missing a leading zero; falls back to listing codes under the given prefix.",
		InputSchema: inputSchema(map[string]any{
			"code":    map[string]any{"type": "string", "description": "Tariff code or code prefix"},
			"version": versionProp,
			"limit":   map[string]any{"type": "integer", "description": "Max prefix results"},
		}, []string{"code"}),
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeInto[LookupRequest]())
}

// --- search ---

func (s *Service) registerSearchTool(srv *mcp.Server, endpoint kit.Endpoint) {
	tool := &mcp.Tool{
		Name:        "arancel_search",
		Description: "Search tariff descriptions. Every word must match; case and accents are ignored.",
		InputSchema: inputSchema(map[string]any{
			"query":   map[string]any{"type": "string", "description": "Words to find in descriptions"},
			"version": versionProp,
			"limit":   map[string]any{"type": "integer", "description": "Max results"},
		}, []string{"query"}),
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeInto[SearchRequest]())
}

// --- note ---

func (s *Service) registerNoteTool(srv *mcp.Server, endpoint kit.Endpoint) {
	tool := &mcp.Tool{
		Name: "arancel_note",
		Description: "Get a section or chapter note. Sections accept 07, 7, VII or 'VII - label'; " +
			"kind=code returns both notes of the code's record.",
		InputSchema: inputSchema(map[string]any{
			"kind":    map[string]any{"type": "string", "enum": []any{"section", "chapter", "code"}},
			"id":      map[string]any{"type": "string", "description": "Section, chapter or tariff code"},
			"version": versionProp,
		}, []string{"kind", "id"}),
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeInto[NoteRequest]())
}

// --- versions ---

func (s *Service) registerVersionsTool(srv *mcp.Server, endpoint kit.Endpoint) {
	tool := &mcp.Tool{
		Name:        "arancel_versions",
		Description: "List available tariff snapshot versions, most recent first, and the current one.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeInto[VersionsRequest]())
}
