// Package mcp implements the slice of the JSON-RPC tool-protocol transport
// that kaizen actually serves: session handshake (initialize/ping) and tool
// dispatch (tools/list, tools/call). Adapted from the teacher's
// general-purpose MCP transport, trimmed to the surface kaizen's four tools
// (internal/toolprotocol) drive — resources, prompts, completions, and
// logging have no kaizen handler registered against them.
package mcp

import (
	"encoding/json"
)

// MCP is a minimal JSON-RPC tool-protocol server exposing only the tools
// capability.
type MCP struct {
	Tools Tools
}

// ToolHandler represents a function that handles tool calls.
type ToolHandler func(args map[string]any) (any, error)

func New() *MCP {
	return &MCP{
		Tools: Tools{
			handlers: make(map[string]ToolHandler),
		},
	}
}

func (s *MCP) handleInitialize(id any, params json.RawMessage) JSONRPCResponse {
	var initParams InitializeParams
	if err := decodeJSON(params, &initParams); err != nil {
		return s.createErrorResponse(id, -32602, "Invalid params")
	}

	result := InitializeResult{
		ProtocolVersion: "2025-06-18",
		Capabilities: Capabilities{
			Tools: &ToolsCapability{ListChanged: false},
		},
		ServerInfo: ServerInfo{
			Name:    "kaizen",
			Version: "1.0.0",
		},
	}

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

func (s *MCP) handleInitialized() {
	// Client has finished initialization; this is a notification, so no
	// response is sent.
}

func (s *MCP) handlePing(id any) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  map[string]any{"status": "pong"},
	}
}

// AddTool registers a tool and its handler.
func (s *MCP) AddTool(tool Tool, handler ToolHandler) {
	s.Tools.Add(tool, handler)
}

func (s *MCP) createErrorResponse(id any, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
	}
}
