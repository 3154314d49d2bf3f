package core

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

const inferenceFailureMessage = "I'm sorry, I ran into a problem while answering. Please try again."

// ChatService drives the tool-augmented completion loop for one chat turn:
// up to maxRounds model rounds, each of which may request tool invocations
// that are executed and fed back before the next round.
type ChatService struct {
	model        ChatModel
	tools        []Tool
	maxRounds    int
	roundTimeout time.Duration
	toolTimeout  time.Duration
}

func NewChatService(model ChatModel, tools []Tool, maxRounds int, roundTimeout, toolTimeout time.Duration) *ChatService {
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &ChatService{
		model:        model,
		tools:        tools,
		maxRounds:    maxRounds,
		roundTimeout: roundTimeout,
		toolTimeout:  toolTimeout,
	}
}

// RunTurn streams one moderation-cleared turn. The event sequence is always
// closed cleanly: exactly one text segment per turn, TextEnd and Finish are
// written no matter how the rounds end.
func (s *ChatService) RunTurn(ctx context.Context, messages []Message, stream TurnStream) error {
	if err := stream.Start(); err != nil {
		return err
	}
	segID, err := stream.TextStart()
	if err != nil {
		return err
	}

	if runErr := s.runRounds(ctx, conversationTurns(messages), segID, stream); runErr != nil {
		log.Printf("completion loop failed, closing turn: %v", runErr)
		_ = stream.TextDelta(segID, inferenceFailureMessage)
	}

	if err := stream.TextEnd(segID); err != nil {
		return err
	}
	return stream.Finish()
}

func (s *ChatService) runRounds(ctx context.Context, turns []Turn, segID string, stream TurnStream) error {
	decls := s.declarations()

	for round := 0; round < s.maxRounds; round++ {
		rctx, cancel := context.WithTimeout(ctx, s.roundTimeout)
		result, err := s.model.StreamToolRound(rctx, turns, decls, func(delta string) {
			_ = stream.TextDelta(segID, delta)
		})
		cancel()
		if err != nil {
			return err
		}

		if len(result.Calls) == 0 {
			return nil // final answer, already streamed
		}

		turns = append(turns, Turn{Role: "model", Text: result.Text, Calls: result.Calls})
		turns = append(turns, Turn{Role: "function", Results: s.invokeTools(ctx, result.Calls)})
	}

	log.Printf("tool round limit (%d) reached, closing turn with partial text", s.maxRounds)
	return nil
}

// invokeTools runs one round's tool calls concurrently. Results come back
// indexed by request order so the merge is deterministic regardless of which
// call finishes first.
func (s *ChatService) invokeTools(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			results[i] = s.invokeTool(ctx, call)
		}(i, call)
	}
	wg.Wait()

	return results
}

// invokeTool never fails the turn: errors and timeouts are reported back to
// the model as the tool's output so the loop can continue without it.
func (s *ChatService) invokeTool(ctx context.Context, call ToolCall) ToolResult {
	tool := s.lookupTool(call.Name)
	if tool == nil {
		log.Printf("model requested unknown tool %q", call.Name)
		return ToolResult{Name: call.Name, Output: "unknown tool: " + call.Name}
	}

	ctx, cancel := context.WithTimeout(ctx, s.toolTimeout)
	defer cancel()

	output, err := tool.Call(ctx, call.Args)
	if err != nil {
		log.Printf("tool %q failed: %v", call.Name, err)
		return ToolResult{Name: call.Name, Output: "tool call failed: " + err.Error()}
	}
	return ToolResult{Name: call.Name, Output: output}
}

func (s *ChatService) lookupTool(name string) Tool {
	for _, tool := range s.tools {
		if tool.Name() == name {
			return tool
		}
	}
	return nil
}

func (s *ChatService) declarations() []ToolDecl {
	decls := make([]ToolDecl, 0, len(s.tools))
	for _, tool := range s.tools {
		params, required := tool.Params()
		decls = append(decls, ToolDecl{
			Name:        tool.Name(),
			Description: tool.Description(),
			Params:      params,
			Required:    required,
		})
	}
	return decls
}

// conversationTurns flattens inbound messages into loop turns, keeping only
// text content. Assistant messages map to the model role.
func conversationTurns(messages []Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, msg := range messages {
		var b strings.Builder
		for _, part := range msg.Parts {
			if part.Type == "text" {
				b.WriteString(part.Text)
			}
		}
		if b.Len() == 0 {
			continue
		}

		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		turns = append(turns, Turn{Role: role, Text: b.String()})
	}
	return turns
}
