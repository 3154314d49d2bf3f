package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObjectPlain(t *testing.T) {
	obj, ok := ExtractJSONObject(`{"a": 1, "b": "two"}`)
	require.True(t, ok)
	assert.JSONEq(t, `{"a": 1, "b": "two"}`, obj)
}

func TestExtractJSONObjectWrappedInProse(t *testing.T) {
	raw := `Sure! Here is the result you asked for: {"score": 7, "summary": "ok"} Hope that helps!`
	obj, ok := ExtractJSONObject(raw)
	require.True(t, ok)
	assert.JSONEq(t, `{"score": 7, "summary": "ok"}`, obj)
}

func TestExtractJSONObjectFencedBlock(t *testing.T) {
	raw := "Here you go:\n```json\n{\"a\": [1, 2]}\n```\nanything after"
	obj, ok := ExtractJSONObject(raw)
	require.True(t, ok)
	assert.JSONEq(t, `{"a": [1, 2]}`, obj)
}

func TestExtractJSONObjectFencedWithTrailingCommas(t *testing.T) {
	raw := "```json\n{\"items\": [\"a\", \"b\",], \"n\": 2,}\n```"
	obj, ok := ExtractJSONObject(raw)
	require.True(t, ok)
	assert.JSONEq(t, `{"items": ["a", "b"], "n": 2}`, obj)
}

func TestExtractJSONObjectCurlyQuotes(t *testing.T) {
	raw := `{“name”: “Aqua”, “safe”: true}`
	obj, ok := ExtractJSONObject(raw)
	require.True(t, ok)
	assert.JSONEq(t, `{"name": "Aqua", "safe": true}`, obj)
}

func TestExtractJSONObjectBracesInsideStrings(t *testing.T) {
	raw := `{"note": "nested {curly} braces", "x": 1}`
	obj, ok := ExtractJSONObject(raw)
	require.True(t, ok)
	assert.JSONEq(t, raw, obj)
}

func TestExtractJSONObjectTruncated(t *testing.T) {
	// The classic failure: commentary plus an object cut off mid-stream.
	raw := `Sure! Here you go: {"ingredients":[{"name":"Aqua"}],"score":7,"summary":"ok"`
	_, ok := ExtractJSONObject(raw)
	assert.False(t, ok)
}

func TestExtractJSONObjectIsTotal(t *testing.T) {
	inputs := []string{
		"",
		"no json here at all",
		"{",
		"}",
		"{{{",
		"```",
		"```json\n```",
		`"just a string"`,
		"{\"unterminated: \"",
		"\x00\xff garbage {\"a\":}",
	}
	for _, input := range inputs {
		assert.NotPanics(t, func() {
			ExtractJSONObject(input)
		}, "input %q", input)
	}
}

func TestExtractJSONObjectRoundTrip(t *testing.T) {
	original := AnalysisResult{
		Ingredients: []IngredientRecord{
			{Name: "Aqua", Classification: "SAFE", Reason: "Just water."},
			{Name: "Fragrance", Classification: "IRRITANT", Reason: "Common sensitizer."},
		},
		Score:   6.5,
		Summary: "Mostly fine.",
	}
	serialized, err := json.Marshal(original)
	require.NoError(t, err)

	obj, ok := ExtractJSONObject("Model says:\n```json\n" + string(serialized) + "\n```")
	require.True(t, ok)

	var recovered AnalysisResult
	require.NoError(t, json.Unmarshal([]byte(obj), &recovered))
	assert.Equal(t, original, recovered)
}
