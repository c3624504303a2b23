package mcp

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/haasonsaas/tenantagent/internal/agent"
)

const maxToolNameLen = 64

// ToolCaller executes a tool on one MCP server. *Client implements it.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error)
}

// ToolBridge exposes one remote MCP tool as an agent tool.
type ToolBridge struct {
	caller   ToolCaller
	serverID string
	tool     *MCPTool
	name     string
}

// NewToolBridge creates a bridge tool with a precomputed safe name.
func NewToolBridge(caller ToolCaller, serverID string, tool *MCPTool, safeName string) *ToolBridge {
	return &ToolBridge{
		caller:   caller,
		serverID: serverID,
		tool:     tool,
		name:     safeName,
	}
}

// Name returns the safe tool name registered with the LLM provider.
func (b *ToolBridge) Name() string {
	return b.name
}

// Description returns the MCP tool description, prefixed with its origin.
func (b *ToolBridge) Description() string {
	desc := strings.TrimSpace(b.tool.Description)
	if desc == "" {
		return fmt.Sprintf("Remote tool %s.%s", b.serverID, b.tool.Name)
	}
	return fmt.Sprintf("Remote tool %s.%s: %s", b.serverID, b.tool.Name, desc)
}

// Schema returns the MCP tool input schema.
func (b *ToolBridge) Schema() json.RawMessage {
	if len(b.tool.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return b.tool.InputSchema
}

// Execute forwards the model's arguments to the remote tool. Arguments that
// contain the session's raw token are refused before anything is sent.
func (b *ToolBridge) Execute(ctx context.Context, inv agent.Invocation) (*agent.ToolResult, error) {
	var arguments map[string]any
	if err := inv.Decode(&arguments); err != nil {
		return nil, err
	}

	if inv.Session.HasAppAuthToken() && containsSecret(arguments, inv.Session.AppAuthToken()) {
		return nil, &agent.ToolError{
			Type:    agent.ToolErrorPermission,
			Message: "raw credentials must not be sent to remote tools; pass encryptedToken from get_encrypted_token instead",
		}
	}

	result, err := b.caller.CallTool(ctx, b.tool.Name, arguments)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", canonicalToolName(b.serverID, b.tool.Name), err)
	}

	content, isError := formatToolCallResult(result)
	return &agent.ToolResult{Content: content, IsError: isError}, nil
}

// containsSecret reports whether any string inside v contains secret.
func containsSecret(v any, secret string) bool {
	if secret == "" {
		return false
	}
	switch value := v.(type) {
	case string:
		return strings.Contains(value, secret)
	case map[string]any:
		for k, item := range value {
			if strings.Contains(k, secret) || containsSecret(item, secret) {
				return true
			}
		}
	case []any:
		for _, item := range value {
			if containsSecret(item, secret) {
				return true
			}
		}
	}
	return false
}

// BridgeTools wraps the tools of every connected client. Names are assigned
// in server then tool order so they are stable across runs.
func BridgeTools(clients []*Client) []agent.Tool {
	sorted := append([]*Client(nil), clients...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Config().ID < sorted[j].Config().ID
	})

	used := make(map[string]struct{})
	var tools []agent.Tool
	for _, client := range sorted {
		serverID := client.Config().ID
		remote := append([]*MCPTool(nil), client.Tools()...)
		sort.Slice(remote, func(i, j int) bool { return remote[i].Name < remote[j].Name })
		for _, tool := range remote {
			if tool == nil || tool.Name == "" {
				continue
			}
			name := safeToolName(serverID, tool.Name, used)
			tools = append(tools, NewToolBridge(client, serverID, tool, name))
		}
	}
	return tools
}

func safeToolName(serverID, toolName string, used map[string]struct{}) string {
	base := "mcp_" + sanitizeToolPart(serverID) + "_" + sanitizeToolPart(toolName)
	name := base
	if len(name) > maxToolNameLen {
		name = truncateWithHash(base, serverID, toolName)
	}

	if _, exists := used[name]; exists {
		name = dedupeWithHash(name, serverID, toolName)
	}

	used[name] = struct{}{}
	return name
}

func sanitizeToolPart(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	underscore := false
	for _, r := range value {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToLower(r))
			underscore = false
		default:
			if !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	clean := strings.Trim(b.String(), "_")
	if clean == "" {
		return "tool"
	}
	return clean
}

func toolNameHash(serverID, toolName string) string {
	sum := sha1.Sum([]byte(serverID + ":" + toolName))
	return hex.EncodeToString(sum[:])[:8]
}

func truncateWithHash(base, serverID, toolName string) string {
	suffix := "_" + toolNameHash(serverID, toolName)
	trimLen := maxToolNameLen - len(suffix)
	if trimLen > len(base) {
		trimLen = len(base)
	}
	return base[:trimLen] + suffix
}

func dedupeWithHash(base, serverID, toolName string) string {
	suffix := "_" + toolNameHash(serverID, toolName)
	name := base + suffix
	if len(name) <= maxToolNameLen {
		return name
	}
	return truncateWithHash(base, serverID, toolName)
}

// formatToolCallResult joins text content; anything else is returned as the
// raw result JSON.
func formatToolCallResult(result *ToolCallResult) (string, bool) {
	if result == nil {
		return "", false
	}
	if len(result.Content) == 0 {
		return "", result.IsError
	}

	allText := true
	var combined strings.Builder
	for _, item := range result.Content {
		if item.Type != "text" {
			allText = false
			break
		}
		if item.Text == "" {
			continue
		}
		if combined.Len() > 0 {
			combined.WriteString("\n")
		}
		combined.WriteString(item.Text)
	}

	if allText && combined.Len() > 0 {
		return combined.String(), result.IsError
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return "", result.IsError
	}
	return string(payload), result.IsError
}

func canonicalToolName(serverID, toolName string) string {
	return fmt.Sprintf("mcp:%s.%s", serverID, toolName)
}
