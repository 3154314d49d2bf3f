package core

import "context"

// Message is one turn of the conversation as sent by the client. Parts the
// core does not understand (attachments, tool results rendered by the UI)
// are carried but ignored; only text parts feed moderation and the model.
type Message struct {
	ID    string `json:"id"`
	Role  string `json:"role"` // "user" or "assistant"
	Parts []Part `json:"parts"`
}

type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ImageBlob is a decoded upload handed to the vision model.
type ImageBlob struct {
	Format string // "jpeg", "png", ...
	Data   []byte
}

// ToolCall is the model asking for a named tool to be invoked.
type ToolCall struct {
	Name string
	Args map[string]any
}

// ToolResult is what gets fed back to the model for one call. Failures are
// reported through Output as plain text so the model can route around them.
type ToolResult struct {
	Name   string
	Output string
}

// Turn is one entry of the working conversation inside the completion loop.
// Role is "user", "model" or "function" (tool results going back to the model).
type Turn struct {
	Role    string
	Text    string
	Calls   []ToolCall
	Results []ToolResult
}

// RoundResult is the outcome of a single model round: accumulated text plus
// any tool invocations the model requested, in request order.
type RoundResult struct {
	Text  string
	Calls []ToolCall
}

type ParamDecl struct {
	Type        string
	Description string
}

// ToolDecl describes a tool capability to the inference service.
type ToolDecl struct {
	Name        string
	Description string
	Params      map[string]ParamDecl
	Required    []string
}

// Tool is an external collaborator the model may invoke during a turn.
type Tool interface {
	Name() string
	Description() string
	Params() (map[string]ParamDecl, []string)
	Call(ctx context.Context, args map[string]any) (string, error)
}

// ChatModel is the multi-turn, tool-calling surface of the inference service.
// Text deltas are delivered through onDelta as they arrive.
type ChatModel interface {
	StreamToolRound(ctx context.Context, turns []Turn, tools []ToolDecl, onDelta func(string)) (RoundResult, error)
}

// TurnStream is the ordered event protocol a chat turn is written to.
// Usage: Start, one TextStart, deltas, TextEnd, Finish.
type TurnStream interface {
	Start() error
	TextStart() (string, error)
	TextDelta(id, delta string) error
	TextEnd(id string) error
	Finish() error
}
