package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"glowcheck.app/ingredient-assistant/internal/imageprep"
)

const (
	// UnreadableSentinel is what the extraction prompt asks the model to
	// return when the image holds no usable ingredient list.
	UnreadableSentinel = "UNREADABLE"
	notFoundSentinel   = "NOT_FOUND"

	couldNotReadMessage = "I couldn't read an ingredient list from that image. " +
		"Try a sharper, well-lit photo of the label."
	couldNotEvaluateMessage = "I read the label but couldn't evaluate the ingredients this time. " +
		"Please try again in a moment."
)

// IngredientRecord is one classified entry of the label.
type IngredientRecord struct {
	Name           string `json:"name"`
	Classification string `json:"classification"`
	Reason         string `json:"reason"`
}

// AnalysisResult is the schema the classification stage must produce.
type AnalysisResult struct {
	Ingredients []IngredientRecord `json:"ingredients"`
	Score       float64            `json:"score"`
	Summary     string             `json:"summary"`
}

// LabelModel is the vision/classification surface of the inference service.
type LabelModel interface {
	ExtractLabelText(ctx context.Context, img ImageBlob) (string, error)
	ClassifyIngredients(ctx context.Context, labelText string) (string, error)
	RepairClassification(ctx context.Context, broken string) (string, error)
}

// AnalysisService runs the two-stage label pipeline: extract the ingredient
// list from the image, classify it, render a report. Stage failures that
// have a reasonable degraded answer (unreadable label, unparseable
// classification) become user-facing text, never errors.
type AnalysisService struct {
	model           LabelModel
	extractTimeout  time.Duration
	classifyTimeout time.Duration
}

func NewAnalysisService(model LabelModel, extractTimeout, classifyTimeout time.Duration) *AnalysisService {
	return &AnalysisService{
		model:           model,
		extractTimeout:  extractTimeout,
		classifyTimeout: classifyTimeout,
	}
}

// AnalyzeLabel returns the rendered report for an uploaded label image.
// The returned error is ErrUpstreamInference-wrapped and means no response
// could be produced at all.
func (s *AnalysisService) AnalyzeLabel(ctx context.Context, data []byte, format string) (string, error) {
	// Auto-rotation is best effort; a failed decode falls back to the
	// original bytes and lets the vision model cope.
	data, format = imageprep.AutoOrient(data, format)

	ectx, cancel := context.WithTimeout(ctx, s.extractTimeout)
	defer cancel()
	labelText, err := s.model.ExtractLabelText(ectx, ImageBlob{Format: format, Data: data})
	if err != nil {
		return "", fmt.Errorf("%w: extraction: %v", ErrUpstreamInference, err)
	}

	labelText = strings.TrimSpace(labelText)
	if isUnreadable(labelText) {
		log.Printf("label extraction returned no usable text, skipping classification")
		return couldNotReadMessage, nil
	}

	cctx, cancel := context.WithTimeout(ctx, s.classifyTimeout)
	defer cancel()
	raw, err := s.model.ClassifyIngredients(cctx, labelText)
	if err != nil {
		return "", fmt.Errorf("%w: classification: %v", ErrUpstreamInference, err)
	}

	result, ok := decodeAnalysis(raw)
	if !ok {
		// One repair round-trip before degrading, on its own budget: the
		// classification stage may have spent most of cctx already.
		log.Printf("classification output was not parseable, requesting repair")
		rctx, cancel := context.WithTimeout(ctx, s.classifyTimeout)
		defer cancel()
		repaired, err := s.model.RepairClassification(rctx, raw)
		if err != nil {
			log.Printf("classification repair failed: %v", err)
		} else {
			result, ok = decodeAnalysis(repaired)
		}
	}
	if !ok {
		return couldNotEvaluateMessage, nil
	}

	return renderReport(result), nil
}

func isUnreadable(labelText string) bool {
	trimmed := strings.Trim(labelText, "\"'`. \t\r\n")
	return trimmed == "" ||
		strings.EqualFold(trimmed, UnreadableSentinel) ||
		strings.EqualFold(trimmed, notFoundSentinel)
}

// decodeAnalysis recovers the classification schema from raw model output.
// An empty ingredient list counts as a failure so rendering never works on
// an absent array.
func decodeAnalysis(raw string) (*AnalysisResult, bool) {
	obj, ok := ExtractJSONObject(raw)
	if !ok {
		return nil, false
	}

	var result AnalysisResult
	if err := json.Unmarshal([]byte(obj), &result); err != nil {
		return nil, false
	}
	if len(result.Ingredients) == 0 {
		return nil, false
	}

	for i := range result.Ingredients {
		c := strings.ToUpper(strings.TrimSpace(result.Ingredients[i].Classification))
		result.Ingredients[i].Classification = strings.ReplaceAll(c, " ", "_")
	}
	return &result, true
}

var classificationOrder = []string{"SAFE", "COMEDOGENIC", "IRRITANT", "RESTRICTED", "PREGNANCY_UNSAFE", "KID_UNSAFE"}

var classificationHeadings = map[string]string{
	"SAFE":             "✅ Safe",
	"COMEDOGENIC":      "🧴 Comedogenic (may clog pores)",
	"IRRITANT":         "⚠️ Potential irritants",
	"RESTRICTED":       "🚫 Restricted",
	"PREGNANCY_UNSAFE": "🤰 Not recommended during pregnancy",
	"KID_UNSAFE":       "🧒 Not recommended for children",
}

// renderReport groups ingredients by classification, each status under its
// fixed marker, and closes with the overall score and summary.
func renderReport(result *AnalysisResult) string {
	groups := make(map[string][]IngredientRecord)
	for _, ing := range result.Ingredients {
		groups[ing.Classification] = append(groups[ing.Classification], ing)
	}

	var b strings.Builder
	b.WriteString("## Label analysis\n\n")

	for _, class := range classificationOrder {
		writeGroup(&b, classificationHeadings[class], groups[class])
		delete(groups, class)
	}

	// Anything outside the known enumeration still gets shown.
	leftovers := make([]string, 0, len(groups))
	for class := range groups {
		leftovers = append(leftovers, class)
	}
	sort.Strings(leftovers)
	for _, class := range leftovers {
		writeGroup(&b, "❔ "+class, groups[class])
	}

	fmt.Fprintf(&b, "**Overall score:** %s/10\n\n", formatScore(result.Score))
	if summary := strings.TrimSpace(result.Summary); summary != "" {
		b.WriteString(summary)
		b.WriteString("\n")
	}
	return b.String()
}

func writeGroup(b *strings.Builder, heading string, records []IngredientRecord) {
	if len(records) == 0 {
		return
	}
	fmt.Fprintf(b, "### %s\n", heading)
	for _, rec := range records {
		reason := strings.TrimSpace(rec.Reason)
		if reason == "" {
			fmt.Fprintf(b, "- **%s**\n", rec.Name)
			continue
		}
		fmt.Fprintf(b, "- **%s**: %s\n", rec.Name, reason)
	}
	b.WriteString("\n")
}

func formatScore(score float64) string {
	if score == float64(int64(score)) {
		return fmt.Sprintf("%d", int64(score))
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.1f", score), "0"), ".")
}
