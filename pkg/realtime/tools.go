package realtime

import (
	"encoding/json"
	"fmt"
)

// Registered tool names.
const (
	ToolEmote            = "emote"
	ToolChangeExpression = "changeExpression"
)

// ToolCall is a decoded invocation of one of the registered tools. The set
// of implementations is closed: EmoteCall and ExpressionCall.
type ToolCall interface {
	ToolName() string
	isToolCall()
}

// EmoteCall asks the avatar to perform a gesture.
type EmoteCall struct {
	Emote string `json:"emote"`
}

// ToolName implements ToolCall.
func (EmoteCall) ToolName() string { return ToolEmote }
func (EmoteCall) isToolCall()      {}

// ExpressionCall asks the avatar to change its expression.
type ExpressionCall struct {
	Expression string `json:"expression"`
}

// ToolName implements ToolCall.
func (ExpressionCall) ToolName() string { return ToolChangeExpression }
func (ExpressionCall) isToolCall()      {}

// Happy reports whether the requested expression is "happy".
func (c ExpressionCall) Happy() bool { return c.Expression == "happy" }

// ToolDeclaration is the function schema announced in session.update.
type ToolDeclaration struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

var (
	emoteValues      = []string{"nod", "shake"}
	expressionValues = []string{"happy", "angry"}
)

// ToolDeclarations returns the schemas for every registered tool.
func ToolDeclarations() []ToolDeclaration {
	return []ToolDeclaration{
		{
			Type:        "function",
			Name:        ToolEmote,
			Description: "Choose from a list of emotes to express yourself",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"emote": map[string]any{
						"type":        "string",
						"enum":        emoteValues,
						"description": "The emote to perform",
					},
				},
			},
		},
		{
			Type:        "function",
			Name:        ToolChangeExpression,
			Description: "Before each response, call this function to set an appropriate emotion for that response.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"expression": map[string]any{
						"type":        "string",
						"enum":        expressionValues,
						"description": "The expression to change to",
					},
				},
				"required": []string{"expression"},
			},
		},
	}
}

// SessionUpdate declares the registered tools with tool_choice auto.
func SessionUpdate() Event {
	return NewEvent(EventSessionUpdate, map[string]any{
		"session": map[string]any{
			"tools":       ToolDeclarations(),
			"tool_choice": "auto",
		},
	})
}

// DecodeTool turns a function call into a typed ToolCall. Names outside the
// registered set return ErrUnknownTool. Arguments outside the declared enums
// are rejected.
func DecodeTool(fc FunctionCall) (ToolCall, error) {
	args := []byte(fc.Arguments)
	if len(args) == 0 {
		args = []byte("{}")
	}
	switch fc.Name {
	case ToolEmote:
		var c EmoteCall
		if err := json.Unmarshal(args, &c); err != nil {
			return nil, fmt.Errorf("realtime: decode %s arguments: %w", fc.Name, err)
		}
		if !oneOf(c.Emote, emoteValues) {
			return nil, fmt.Errorf("realtime: %s: invalid emote %q", fc.Name, c.Emote)
		}
		return c, nil
	case ToolChangeExpression:
		var c ExpressionCall
		if err := json.Unmarshal(args, &c); err != nil {
			return nil, fmt.Errorf("realtime: decode %s arguments: %w", fc.Name, err)
		}
		if !oneOf(c.Expression, expressionValues) {
			return nil, fmt.Errorf("realtime: %s: invalid expression %q", fc.Name, c.Expression)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, fc.Name)
	}
}

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}
