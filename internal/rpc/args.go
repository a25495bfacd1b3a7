package rpc

import "github.com/mark3labs/mcp-go/mcp"

// argMap returns a tool call's arguments as a plain map, tolerating the
// zero-arguments case rather than panicking on a nil type assertion.
func argMap(req mcp.CallToolRequest) map[string]any {
	m, _ := req.Params.Arguments.(map[string]any)
	return m
}

func argBool(req mcp.CallToolRequest, key string, def bool) bool {
	if v, ok := argMap(req)[key].(bool); ok {
		return v
	}
	return def
}

// argStringSlice reads a JSON array argument. encoding/json decodes
// untyped arrays as []any, so each element is asserted individually
// rather than assuming []string.
func argStringSlice(req mcp.CallToolRequest, key string) []string {
	raw, ok := argMap(req)[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
