package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStream is an in-memory TurnStream that checks the same protocol
// rules the real emitter enforces.
type recordingStream struct {
	mu       sync.Mutex
	starts   int
	finishes int
	nextSeg  int
	openID   string
	segments []string
	deltas   map[string][]string
	order    []string // event types in emission order
}

func newRecordingStream() *recordingStream {
	return &recordingStream{deltas: make(map[string][]string)}
}

func (s *recordingStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	s.order = append(s.order, "start")
	return nil
}

func (s *recordingStream) TextStart() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openID != "" {
		return "", fmt.Errorf("segment %s still open", s.openID)
	}
	s.nextSeg++
	id := fmt.Sprintf("seg-%d", s.nextSeg)
	s.openID = id
	s.segments = append(s.segments, id)
	s.order = append(s.order, "text-start")
	return id, nil
}

func (s *recordingStream) TextDelta(id, delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openID != id {
		return fmt.Errorf("segment %s is not open", id)
	}
	s.deltas[id] = append(s.deltas[id], delta)
	s.order = append(s.order, "text-delta")
	return nil
}

func (s *recordingStream) TextEnd(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openID != id {
		return fmt.Errorf("segment %s is not open", id)
	}
	s.openID = ""
	s.order = append(s.order, "text-end")
	return nil
}

func (s *recordingStream) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openID != "" {
		return fmt.Errorf("segment %s left open", s.openID)
	}
	s.finishes++
	s.order = append(s.order, "finish")
	return nil
}

func (s *recordingStream) allText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, id := range s.segments {
		for _, d := range s.deltas[id] {
			b.WriteString(d)
		}
	}
	return b.String()
}

func (s *recordingStream) assertWellFormed(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, 1, s.starts, "exactly one start")
	assert.Equal(t, 1, s.finishes, "exactly one finish")
	assert.Empty(t, s.openID, "no segment left open")
	require.NotEmpty(t, s.order)
	assert.Equal(t, "start", s.order[0])
	assert.Equal(t, "finish", s.order[len(s.order)-1])
}

// stubChatModel scripts the inference service round by round.
type stubChatModel struct {
	mu     sync.Mutex
	calls  int
	rounds []RoundResult
	err    error
	seen   [][]Turn
}

func (m *stubChatModel) StreamToolRound(_ context.Context, turns []Turn, _ []ToolDecl, onDelta func(string)) (RoundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.seen = append(m.seen, append([]Turn(nil), turns...))
	if m.err != nil {
		return RoundResult{}, m.err
	}

	var result RoundResult
	if len(m.rounds) > 0 {
		result = m.rounds[0]
		m.rounds = m.rounds[1:]
	}
	if result.Text != "" && onDelta != nil {
		// Deliver in two chunks to exercise incremental streaming.
		half := len(result.Text) / 2
		onDelta(result.Text[:half])
		onDelta(result.Text[half:])
	}
	return result, nil
}

type scriptedTool struct {
	name   string
	delay  time.Duration
	output string
	err    error
}

func (t *scriptedTool) Name() string        { return t.name }
func (t *scriptedTool) Description() string { return "test tool" }
func (t *scriptedTool) Params() (map[string]ParamDecl, []string) {
	return map[string]ParamDecl{"query": {Type: "string"}}, []string{"query"}
}
func (t *scriptedTool) Call(ctx context.Context, _ map[string]any) (string, error) {
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return t.output, t.err
}

func chatMessages(text string) []Message {
	return []Message{{ID: "m1", Role: "user", Parts: []Part{{Type: "text", Text: text}}}}
}

func TestRunTurnStreamsFinalAnswer(t *testing.T) {
	model := &stubChatModel{rounds: []RoundResult{{Text: "retinol is fine at night"}}}
	svc := NewChatService(model, nil, 5, time.Second, time.Second)
	stream := newRecordingStream()

	require.NoError(t, svc.RunTurn(context.Background(), chatMessages("retinol?"), stream))

	stream.assertWellFormed(t)
	assert.Equal(t, "retinol is fine at night", stream.allText())
	assert.Equal(t, 1, model.calls)
}

func TestRunTurnExecutesToolsThenAnswers(t *testing.T) {
	model := &stubChatModel{rounds: []RoundResult{
		{Calls: []ToolCall{{Name: "ingredient_lookup", Args: map[string]any{"query": "retinol"}}}},
		{Text: "answer after lookup"},
	}}
	tool := &scriptedTool{name: "ingredient_lookup", output: "retinol: vitamin A derivative"}
	svc := NewChatService(model, []Tool{tool}, 5, time.Second, time.Second)
	stream := newRecordingStream()

	require.NoError(t, svc.RunTurn(context.Background(), chatMessages("retinol?"), stream))

	stream.assertWellFormed(t)
	assert.Equal(t, "answer after lookup", stream.allText())
	require.Equal(t, 2, model.calls)

	// Second round must see the tool result appended as a function turn.
	secondConv := model.seen[1]
	require.Len(t, secondConv, 3)
	assert.Equal(t, "function", secondConv[2].Role)
	require.Len(t, secondConv[2].Results, 1)
	assert.Equal(t, "retinol: vitamin A derivative", secondConv[2].Results[0].Output)
}

func TestRunTurnMergesConcurrentToolsInRequestOrder(t *testing.T) {
	model := &stubChatModel{rounds: []RoundResult{
		{Calls: []ToolCall{
			{Name: "slow", Args: map[string]any{"query": "a"}},
			{Name: "fast", Args: map[string]any{"query": "b"}},
		}},
		{Text: "done"},
	}}
	slow := &scriptedTool{name: "slow", delay: 50 * time.Millisecond, output: "slow result"}
	fast := &scriptedTool{name: "fast", output: "fast result"}
	svc := NewChatService(model, []Tool{slow, fast}, 5, time.Second, time.Second)
	stream := newRecordingStream()

	require.NoError(t, svc.RunTurn(context.Background(), chatMessages("q"), stream))

	results := model.seen[1][2].Results
	require.Len(t, results, 2)
	assert.Equal(t, "slow result", results[0].Output, "request order, not completion order")
	assert.Equal(t, "fast result", results[1].Output)
}

func TestRunTurnAbsorbsToolFailure(t *testing.T) {
	model := &stubChatModel{rounds: []RoundResult{
		{Calls: []ToolCall{{Name: "web_search", Args: map[string]any{"query": "x"}}}},
		{Text: "answered without search"},
	}}
	tool := &scriptedTool{name: "web_search", err: fmt.Errorf("upstream 500")}
	svc := NewChatService(model, []Tool{tool}, 5, time.Second, time.Second)
	stream := newRecordingStream()

	require.NoError(t, svc.RunTurn(context.Background(), chatMessages("q"), stream))

	stream.assertWellFormed(t)
	assert.Equal(t, "answered without search", stream.allText())
	results := model.seen[1][2].Results
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Output, "tool call failed")
}

func TestRunTurnStopsAtRoundBound(t *testing.T) {
	// A model that always wants another tool call must not loop forever.
	const maxRounds = 3
	model := &stubChatModel{rounds: []RoundResult{
		{Calls: []ToolCall{{Name: "lookup"}}},
		{Calls: []ToolCall{{Name: "lookup"}}},
		{Calls: []ToolCall{{Name: "lookup"}}},
		{Calls: []ToolCall{{Name: "lookup"}}},
		{Calls: []ToolCall{{Name: "lookup"}}},
	}}
	tool := &scriptedTool{name: "lookup", output: "entry"}
	svc := NewChatService(model, []Tool{tool}, maxRounds, time.Second, time.Second)
	stream := newRecordingStream()

	require.NoError(t, svc.RunTurn(context.Background(), chatMessages("q"), stream))

	assert.Equal(t, maxRounds, model.calls, "no extra round past the bound")
	stream.assertWellFormed(t)
}

func TestRunTurnClosesCleanlyOnModelError(t *testing.T) {
	model := &stubChatModel{err: fmt.Errorf("%w: quota exceeded", ErrUpstreamInference)}
	svc := NewChatService(model, nil, 5, time.Second, time.Second)
	stream := newRecordingStream()

	require.NoError(t, svc.RunTurn(context.Background(), chatMessages("q"), stream))

	stream.assertWellFormed(t)
	assert.Equal(t, inferenceFailureMessage, stream.allText())
}

func TestRunTurnHandlesUnknownTool(t *testing.T) {
	model := &stubChatModel{rounds: []RoundResult{
		{Calls: []ToolCall{{Name: "nonexistent"}}},
		{Text: "carried on"},
	}}
	svc := NewChatService(model, nil, 5, time.Second, time.Second)
	stream := newRecordingStream()

	require.NoError(t, svc.RunTurn(context.Background(), chatMessages("q"), stream))

	results := model.seen[1][2].Results
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Output, "unknown tool")
}
