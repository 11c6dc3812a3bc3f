// Package discovery lists the functions a candidate tool server exposes.
// Discovery is advisory, interactive tooling: it never returns an error —
// every outcome, including subprocess failure, is a descriptive string.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/handley-lab/chainer/pkg/invoker"
)

// NoDescription is used when a server omits a function's description.
const NoDescription = "No description provided"

// DiscoverTools runs the fixed tools/list request against serverCommand
// and renders the result one "name: description" line per function.
func DiscoverTools(ctx context.Context, inv invoker.Invoker, serverCommand string, timeout time.Duration) string {
	res := inv.Invoke(ctx, serverCommand, invoker.NewToolsList(), timeout)

	if !res.Success {
		switch res.Kind {
		case invoker.KindTimeout:
			return res.Error
		case invoker.KindServerError:
			return fmt.Sprintf("Server error: %s", res.Error)
		default:
			return fmt.Sprintf("Discovery error: %s", res.Error)
		}
	}

	tools := extractTools(res.Result)
	if len(tools) == 0 {
		return "no functions found"
	}

	lines := make([]string, 0, len(tools))
	for _, t := range tools {
		name := stringField(t, "name")
		if name == "" {
			continue
		}
		desc := stringField(t, "description")
		if desc == "" {
			desc = NoDescription
		}
		lines = append(lines, fmt.Sprintf("%s: %s", name, desc))
	}
	if len(lines) == 0 {
		return "no functions found"
	}
	return strings.Join(lines, "\n")
}

// extractTools accepts both the MCP shape {"tools": [...]} and a bare
// list. Anything else (a permissive plain-text result included) counts
// as no functions.
func extractTools(result any) []any {
	switch v := result.(type) {
	case map[string]any:
		if list, ok := v["tools"].([]any); ok {
			return list
		}
		return nil
	case []any:
		return v
	default:
		return nil
	}
}

func stringField(entry any, key string) string {
	m, ok := entry.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
