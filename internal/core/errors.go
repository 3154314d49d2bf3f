package core

import "errors"

var (
	// ErrModerationUnavailable means the moderation call failed or timed out.
	// The turn must not be allowed through; callers surface a retryable error.
	ErrModerationUnavailable = errors.New("moderation service unavailable")

	// ErrUpstreamInference means the inference service itself failed
	// (quota, outage, transport). Terminal for the current turn.
	ErrUpstreamInference = errors.New("inference service error")
)
