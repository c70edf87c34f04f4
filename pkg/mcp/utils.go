package mcp

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// stringArg returns the trimmed string argument, or "" when it is absent
// or not a string.
func stringArg(request mcp.CallToolRequest, name string) string {
	s, _ := request.Params.Arguments[name].(string)
	return strings.TrimSpace(s)
}

// idArg reads a positive integer argument. JSON numbers arrive as float64.
func idArg(request mcp.CallToolRequest, name string) (int64, bool, error) {
	raw, ok := request.Params.Arguments[name]
	if !ok || raw == nil {
		return 0, false, nil
	}
	f, ok := raw.(float64)
	if !ok || f <= 0 || f != math.Trunc(f) {
		return 0, false, fmt.Errorf("'%s' must be a positive integer", name)
	}
	return int64(f), true, nil
}

func limitArg(request mcp.CallToolRequest) (int, error) {
	n, ok, err := idArg(request, "limit")
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultListLimit, nil
	}
	return int(n), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to serialize result to JSON: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
