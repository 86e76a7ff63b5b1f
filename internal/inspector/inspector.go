// Package inspector parses JSON-RPC request bodies to classify a request as
// a paid or free tool invocation.
package inspector

import (
	"context"
	"encoding/json"
	"mime"
	"regexp"
	"strings"

	"github.com/mcpay/gateway/internal/catalog"
)

var serverIDPattern = regexp.MustCompile(`^/mcp/([^/]+)`)

// ExtractServerID pulls the server-id path segment out of an incoming
// request path. Returns "" if the path doesn't match /mcp/<id>.
func ExtractServerID(path string) string {
	m := serverIDPattern.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	return m[1]
}

// ToolCall is the request-scoped fact derived from inspecting a POST body.
type ToolCall struct {
	Name     string
	Args     json.RawMessage
	ServerID string
	ToolID   string
	IsPaid   bool
	PayTo    string
	Pricing  *catalog.PricingEntry
}

// rpcEnvelope is the subset of a JSON-RPC 2.0 request body this inspector
// cares about; unrecognized fields are ignored.
type rpcEnvelope struct {
	Method string `json:"method"`
	Params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"params"`
}

// IsToolsCallRequest reports whether contentType is application/json and the
// method is a POST — the only shape this inspector peeks into.
func IsToolsCallRequest(method, contentType string) bool {
	if !strings.EqualFold(method, "POST") {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

// Parse decodes body as a JSON-RPC envelope and reports the tool name if the
// method is "tools/call". ok is false for any non-matching or malformed body
// — callers treat that as a free (unpriced) pass-through.
func Parse(body []byte) (name string, args json.RawMessage, ok bool) {
	var env rpcEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", nil, false
	}
	if env.Method != "tools/call" || env.Params.Name == "" {
		return "", nil, false
	}
	return env.Params.Name, env.Params.Arguments, true
}

// Resolve builds a ToolCall for a parsed tool invocation, consulting repo for
// pricing. Network preference: "base" wins over any other active row,
// otherwise the first active row in insertion order.
func Resolve(ctx context.Context, repo catalog.Repository, serverID, toolName string, args json.RawMessage) (ToolCall, error) {
	tool, pricing, err := repo.GetToolPricing(ctx, serverID, toolName)
	if err != nil {
		return ToolCall{}, err
	}

	call := ToolCall{
		Name:     toolName,
		Args:     args,
		ServerID: serverID,
		ToolID:   tool.ToolID,
	}

	picked := pickPricing(pricing)
	if picked != nil {
		call.IsPaid = true
		call.Pricing = picked
	}

	return call, nil
}

// pickPricing selects one active pricing row: network == "base" wins, else
// the first active row in insertion order.
func pickPricing(entries []catalog.PricingEntry) *catalog.PricingEntry {
	var fallback *catalog.PricingEntry
	for i := range entries {
		if !entries[i].Active {
			continue
		}
		if entries[i].Network == "base" {
			return &entries[i]
		}
		if fallback == nil {
			fallback = &entries[i]
		}
	}
	return fallback
}
