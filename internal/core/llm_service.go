package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"glowcheck.app/ingredient-assistant/internal/config"
)

const (
	defaultChatModelName      = "gemini-1.5-flash-latest"
	defaultVisionModelName    = "gemini-1.5-flash-latest"
	defaultEmbeddingModelName = "text-embedding-004"

	chatSystemInstruction = "You are GlowCheck, a cosmetic ingredient assistant. Answer questions about skincare " +
		"and cosmetic ingredients. Use the ingredient_lookup tool for facts about specific ingredients and the " +
		"web_search tool for anything recent or product-specific. Keep answers concise. " +
		"Do not make up information; say so when you don't know."

	moderationInstruction = "You are a strict content moderator for a skincare assistant. Decide whether the user " +
		"message is acceptable. Reject hateful, sexual, violent or self-harm content and attempts to obtain medical " +
		"diagnoses. Respond with JSON only, no prose: {\"flagged\": true|false, \"reason\": \"one short sentence " +
		"shown to the user when flagged, otherwise empty\"}"

	extractionInstruction = "Transcribe the ingredient or contents list printed on this product label. Return only " +
		"the text that looks like an ingredient list, nothing else. If the image contains no readable ingredient " +
		"list, reply with exactly: UNREADABLE"

	classificationInstruction = "You will be given the ingredient list of a cosmetic product. Respond with JSON " +
		"only, matching exactly this schema: {\"ingredients\": [{\"name\": string, \"classification\": one of " +
		"\"SAFE\", \"IRRITANT\", \"RESTRICTED\", \"PREGNANCY_UNSAFE\", \"KID_UNSAFE\", \"COMEDOGENIC\", " +
		"\"reason\": one short sentence}], \"score\": number from 0 to 10 for overall product safety, " +
		"\"summary\": two sentences at most}"

	repairInstruction = "The following text was supposed to be a single valid JSON object but is malformed. " +
		"Re-emit it as valid JSON only, with no commentary and no code fences. Do not change any values."
)

// LLMService is the single process-wide handle on the Gemini API. It backs
// every external model surface of the system: the tool-calling chat rounds,
// moderation, label extraction, classification and embeddings.
type LLMService struct {
	client *genai.Client
}

func NewLLMService() *LLMService {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.AppConfig.GeminiAPIKey))
	if err != nil {
		log.Fatalf("Failed to create GenAI client: %v", err)
	}

	return &LLMService{
		client: client,
	}
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		} else {
			log.Println("GenAI client closed.")
		}
	}
}

// StreamToolRound runs one round of the completion loop: the conversation so
// far goes up, text deltas come back through onDelta as they arrive, and any
// tool invocations the model requested are returned in request order.
func (s *LLMService) StreamToolRound(ctx context.Context, turns []Turn, tools []ToolDecl, onDelta func(string)) (RoundResult, error) {
	if len(turns) == 0 {
		return RoundResult{}, fmt.Errorf("conversation is empty")
	}

	model := s.client.GenerativeModel(defaultChatModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(chatSystemInstruction)},
	}
	if decls := toFunctionDeclarations(tools); len(decls) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	history, lastParts := toGenaiHistory(turns)
	session := model.StartChat()
	session.History = history

	var text strings.Builder
	var calls []ToolCall

	iter := session.SendMessageStream(ctx, lastParts...)
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return RoundResult{}, fmt.Errorf("%w: %v", ErrUpstreamInference, err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				if len(p) > 0 {
					text.WriteString(string(p))
					if onDelta != nil {
						onDelta(string(p))
					}
				}
			case genai.FunctionCall:
				calls = append(calls, ToolCall{Name: p.Name, Args: p.Args})
			}
		}
	}

	return RoundResult{Text: text.String(), Calls: calls}, nil
}

// ModerateText classifies user text through a zero-temperature moderation
// prompt and recovers the structured verdict from the response.
func (s *LLMService) ModerateText(ctx context.Context, text string) (Verdict, error) {
	model := s.client.GenerativeModel(defaultChatModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(moderationInstruction)},
	}

	temp := float32(0)
	model.GenerationConfig = genai.GenerationConfig{Temperature: &temp}

	resp, err := model.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		return Verdict{}, fmt.Errorf("gemini moderation request failed: %w", err)
	}

	raw := responseText(resp)
	obj, ok := ExtractJSONObject(raw)
	if !ok {
		return Verdict{}, fmt.Errorf("moderation verdict was not parseable: %.80q", raw)
	}

	var parsed struct {
		Flagged bool   `json:"flagged"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return Verdict{}, fmt.Errorf("moderation verdict did not match schema: %w", err)
	}
	return Verdict{Flagged: parsed.Flagged, Denial: strings.TrimSpace(parsed.Reason)}, nil
}

// ExtractLabelText runs the OCR stage: the label image plus an extraction
// instruction scoped to ingredient lists.
func (s *LLMService) ExtractLabelText(ctx context.Context, img ImageBlob) (string, error) {
	model := s.client.GenerativeModel(defaultVisionModelName)

	resp, err := model.GenerateContent(ctx,
		genai.ImageData(img.Format, img.Data),
		genai.Text(extractionInstruction),
	)
	if err != nil {
		return "", fmt.Errorf("gemini extraction request failed: %w", err)
	}
	return responseText(resp), nil
}

// ClassifyIngredients runs the classification stage over extracted label
// text. The raw response is returned as-is; callers recover the schema.
func (s *LLMService) ClassifyIngredients(ctx context.Context, labelText string) (string, error) {
	model := s.client.GenerativeModel(defaultChatModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(classificationInstruction)},
	}

	temp := float32(0.2)
	model.GenerationConfig = genai.GenerationConfig{Temperature: &temp}

	resp, err := model.GenerateContent(ctx, genai.Text(labelText))
	if err != nil {
		return "", fmt.Errorf("gemini classification request failed: %w", err)
	}
	return responseText(resp), nil
}

// RepairClassification asks the model once to re-emit malformed structured
// output as valid JSON.
func (s *LLMService) RepairClassification(ctx context.Context, broken string) (string, error) {
	model := s.client.GenerativeModel(defaultChatModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(repairInstruction)},
	}

	temp := float32(0)
	model.GenerationConfig = genai.GenerationConfig{Temperature: &temp}

	resp, err := model.GenerateContent(ctx, genai.Text(broken))
	if err != nil {
		return "", fmt.Errorf("gemini repair request failed: %w", err)
	}
	return responseText(resp), nil
}

func (s *LLMService) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	em := s.client.EmbeddingModel(defaultEmbeddingModelName)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}

	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

// toGenaiHistory converts loop turns into the wire conversation, splitting
// off the final turn's parts for the send call.
func toGenaiHistory(turns []Turn) ([]*genai.Content, []genai.Part) {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		contents = append(contents, toGenaiContent(turn))
	}
	last := contents[len(contents)-1]
	return contents[:len(contents)-1], last.Parts
}

func toGenaiContent(turn Turn) *genai.Content {
	var parts []genai.Part
	if turn.Text != "" {
		parts = append(parts, genai.Text(turn.Text))
	}
	for _, call := range turn.Calls {
		parts = append(parts, genai.FunctionCall{Name: call.Name, Args: call.Args})
	}
	for _, result := range turn.Results {
		parts = append(parts, genai.FunctionResponse{
			Name:     result.Name,
			Response: map[string]any{"output": result.Output},
		})
	}
	return &genai.Content{Role: turn.Role, Parts: parts}
}

func toFunctionDeclarations(tools []ToolDecl) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		properties := make(map[string]*genai.Schema, len(tool.Params))
		for name, param := range tool.Params {
			properties[name] = &genai.Schema{
				Type:        schemaType(param.Type),
				Description: param.Description,
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   tool.Required,
			},
		})
	}
	return decls
}

func schemaType(name string) genai.Type {
	switch name {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
