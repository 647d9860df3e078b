package llm

import "github.com/dealerline/voiceagent/pkg/types"

// Message, ToolCall, ToolDefinition, and ModelCapabilities are aliases of the
// shared cross-package types so that every Provider implementation and its
// callers (the orchestrator, the resilience fallback group) agree on one
// underlying type without an import of pkg/types at every call site.
type Message = types.Message
type ToolCall = types.ToolCall
type ToolDefinition = types.ToolDefinition
type ModelCapabilities = types.ModelCapabilities
