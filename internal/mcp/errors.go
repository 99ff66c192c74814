package mcp

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"maestro/internal/planner"
)

// Error kinds of the tool surface. Hosts branch on kind, never on
// message text.
const (
	KindSafetyViolation     = "safety_violation"
	KindConstraintViolation = "constraint_violation"
	KindLowConfidence       = "low_confidence"
	KindInvalidInput        = "invalid_input"
	KindInternal            = "internal"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// envelope renders the error envelope as a tool error result. The
// JSON-RPC layer never sees these; a tool failure is still a valid
// tools/call response.
func envelope(kind, message, detail string) *mcp.CallToolResult {
	data, err := json.Marshal(errorEnvelope{Error: errorBody{Kind: kind, Message: message, Detail: detail}})
	if err != nil {
		return mcp.NewToolResultError(`{"error":{"kind":"internal","message":"error envelope marshal failed"}}`)
	}
	return mcp.NewToolResultError(string(data))
}

func invalidInput(message string) *mcp.CallToolResult {
	return envelope(KindInvalidInput, message, "")
}

// domainError maps planner sentinel errors onto envelope kinds;
// anything unrecognized is internal.
func domainError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, planner.ErrSafetyViolation):
		return envelope(KindSafetyViolation, err.Error(), "")
	case errors.Is(err, planner.ErrConstraintViolation):
		return envelope(KindConstraintViolation, err.Error(), "")
	case errors.Is(err, planner.ErrLowConfidence):
		return envelope(KindLowConfidence, err.Error(), "")
	default:
		return envelope(KindInternal, err.Error(), "")
	}
}
