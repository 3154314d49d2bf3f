package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultDenialMessage is streamed when a turn is blocked and the moderation
// service supplied no message of its own.
const DefaultDenialMessage = "I can't help with that. Let's keep the conversation about skincare and ingredients."

// Verdict is the outcome of moderating one user turn.
type Verdict struct {
	Flagged bool
	Denial  string
}

// Moderator classifies user text before any generation work starts.
type Moderator interface {
	ModerateText(ctx context.Context, text string) (Verdict, error)
}

// ModerationGate wraps a Moderator with the turn-level policy: only the most
// recent user-authored text is checked, and a failing moderation call blocks
// the turn rather than letting it through.
type ModerationGate struct {
	moderator Moderator
	timeout   time.Duration
}

func NewModerationGate(m Moderator, timeout time.Duration) *ModerationGate {
	return &ModerationGate{moderator: m, timeout: timeout}
}

// Check moderates the latest message. Messages that are not user-authored
// text pass automatically; a moderation failure is ErrModerationUnavailable,
// never an implicit pass.
func (g *ModerationGate) Check(ctx context.Context, messages []Message) (Verdict, error) {
	text, ok := latestUserText(messages)
	if !ok {
		return Verdict{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	verdict, err := g.moderator.ModerateText(ctx, text)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrModerationUnavailable, err)
	}
	return verdict, nil
}

// latestUserText concatenates the text parts of the last message, in order,
// with nothing added between them. ok is false when the last message is not
// from the user or carries no text parts.
func latestUserText(messages []Message) (string, bool) {
	if len(messages) == 0 {
		return "", false
	}
	last := messages[len(messages)-1]
	if last.Role != "user" {
		return "", false
	}

	var b strings.Builder
	found := false
	for _, part := range last.Parts {
		if part.Type == "text" {
			b.WriteString(part.Text)
			found = true
		}
	}
	if !found {
		return "", false
	}
	return b.String(), true
}

// StreamDenial writes a blocked turn to the stream: the denial text is the
// entire visible response, wrapped in a well-formed event sequence.
func StreamDenial(stream TurnStream, verdict Verdict) error {
	denial := verdict.Denial
	if denial == "" {
		denial = DefaultDenialMessage
	}

	if err := stream.Start(); err != nil {
		return err
	}
	id, err := stream.TextStart()
	if err != nil {
		return err
	}
	if err := stream.TextDelta(id, denial); err != nil {
		return err
	}
	if err := stream.TextEnd(id); err != nil {
		return err
	}
	return stream.Finish()
}
