package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"glowcheck.app/ingredient-assistant/internal/core"
)

// maxImageBytes bounds label uploads; phone photos compress well below this.
const maxImageBytes = 10 << 20

type ModerationChecker interface {
	Check(ctx context.Context, messages []core.Message) (core.Verdict, error)
}

type ChatRunner interface {
	RunTurn(ctx context.Context, messages []core.Message, stream core.TurnStream) error
}

type LabelAnalyzer interface {
	AnalyzeLabel(ctx context.Context, data []byte, format string) (string, error)
}

type APIHandler struct {
	gate     ModerationChecker
	chat     ChatRunner
	analyzer LabelAnalyzer
}

func NewAPIHandler(gate ModerationChecker, chat ChatRunner, analyzer LabelAnalyzer) *APIHandler {
	return &APIHandler{gate: gate, chat: chat, analyzer: analyzer}
}

// AssistantHandler is the single entry point. The declared content type
// decides the path once, before the body is touched; bodies are single-read
// so there is no probing and falling back.
func (h *APIHandler) AssistantHandler(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		h.handleImage(w, r)
		return
	}
	h.handleChat(w, r)
}

func (h *APIHandler) handleImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		http.Error(w, "Invalid multipart body: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"response": "No image uploaded."})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		http.Error(w, "Failed to read uploaded image", http.StatusBadRequest)
		return
	}
	if len(data) > maxImageBytes {
		http.Error(w, "Uploaded image is too large", http.StatusRequestEntityTooLarge)
		return
	}

	report, err := h.analyzer.AnalyzeLabel(r.Context(), data, imageFormat(header))
	if err != nil {
		log.Printf("Label analysis failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"response": "The analysis service is unavailable right now. Please try again.",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"response": report})
}

type assistantRequest struct {
	Messages []core.Message `json:"messages"`
}

func (h *APIHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req assistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, "Conversation cannot be empty", http.StatusBadRequest)
		return
	}

	// Moderation happens before the stream opens so a failed moderation
	// call can still return a real status code.
	verdict, err := h.gate.Check(r.Context(), req.Messages)
	if err != nil {
		log.Printf("Moderation check failed: %v", err)
		if errors.Is(err, core.ErrModerationUnavailable) {
			http.Error(w, "Moderation is unavailable, please retry", http.StatusServiceUnavailable)
		} else {
			http.Error(w, "Failed to process message", http.StatusInternalServerError)
		}
		return
	}

	em := NewEmitter(32)
	go func() {
		if verdict.Flagged {
			if err := core.StreamDenial(em, verdict); err != nil {
				log.Printf("Failed to stream denial: %v", err)
			}
			return
		}
		if err := h.chat.RunTurn(r.Context(), req.Messages, em); err != nil {
			log.Printf("Chat turn failed: %v", err)
		}
	}()
	em.Serve(r.Context(), w)
}

// imageFormat guesses the upload's format for the vision call, preferring
// the part's declared content type over the filename.
func imageFormat(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); strings.HasPrefix(ct, "image/") {
		return strings.TrimPrefix(ct, "image/")
	}
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".png":
		return "png"
	case ".webp":
		return "webp"
	case ".heic":
		return "heic"
	default:
		return "jpeg"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
