package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"
)

const (
	EventStart     = "start"
	EventTextStart = "text-start"
	EventTextDelta = "text-delta"
	EventTextEnd   = "text-end"
	EventFinish    = "finish"
)

// StreamEvent is one entry of the response stream protocol. ID is set for
// the text-* family and names the text segment the event belongs to.
type StreamEvent struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Delta string `json:"delta,omitempty"`
}

// Emitter is the single-writer event protocol behind a streamed response.
// The producing goroutine calls Start/TextStart/TextDelta/TextEnd/Finish;
// Serve drains the ordered queue onto the HTTP response as SSE. When the
// client disconnects the queue's consumer disappears and remaining events
// are silently discarded; that is not an error for the producer.
//
// State rules enforced here: Start first, at most one open text segment,
// every segment closed before Finish, nothing after Finish.
type Emitter struct {
	events chan StreamEvent
	gone   chan struct{}

	started  bool
	finished bool
	openID   string
}

func NewEmitter(buffer int) *Emitter {
	return &Emitter{
		events: make(chan StreamEvent, buffer),
		gone:   make(chan struct{}),
	}
}

func (e *Emitter) Start() error {
	if e.started {
		return fmt.Errorf("stream already started")
	}
	e.started = true
	e.send(StreamEvent{Type: EventStart})
	return nil
}

func (e *Emitter) TextStart() (string, error) {
	if !e.started {
		return "", fmt.Errorf("stream not started")
	}
	if e.finished {
		return "", fmt.Errorf("stream already finished")
	}
	if e.openID != "" {
		return "", fmt.Errorf("text segment %s is still open", e.openID)
	}

	id := uuid.NewString()
	e.openID = id
	e.send(StreamEvent{Type: EventTextStart, ID: id})
	return id, nil
}

func (e *Emitter) TextDelta(id, delta string) error {
	if e.openID != id {
		return fmt.Errorf("text segment %s is not open", id)
	}
	if delta == "" {
		return nil
	}
	e.send(StreamEvent{Type: EventTextDelta, ID: id, Delta: delta})
	return nil
}

func (e *Emitter) TextEnd(id string) error {
	if e.openID != id {
		return fmt.Errorf("text segment %s is not open", id)
	}
	e.openID = ""
	e.send(StreamEvent{Type: EventTextEnd, ID: id})
	return nil
}

func (e *Emitter) Finish() error {
	if !e.started {
		return fmt.Errorf("stream not started")
	}
	if e.finished {
		return fmt.Errorf("stream already finished")
	}
	if e.openID != "" {
		return fmt.Errorf("text segment %s left open at finish", e.openID)
	}
	e.finished = true
	e.send(StreamEvent{Type: EventFinish})
	close(e.events)
	return nil
}

func (e *Emitter) send(ev StreamEvent) {
	select {
	case e.events <- ev:
	case <-e.gone:
		// Consumer disconnected; the event is dropped.
	}
}

// Events exposes the ordered queue, mainly for tests.
func (e *Emitter) Events() <-chan StreamEvent {
	return e.events
}

// Serve drains the queue onto w as an SSE body until the producer finishes
// or the request context is cancelled.
func (e *Emitter) Serve(ctx context.Context, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)

	for {
		select {
		case ev, ok := <-e.events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Printf("failed to marshal stream event: %v", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			if flusher != nil {
				flusher.Flush()
			}
		case <-ctx.Done():
			close(e.gone)
			return
		}
	}
}
