package tools

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"glowcheck.app/ingredient-assistant/internal/core"
	"glowcheck.app/ingredient-assistant/internal/store"
	"glowcheck.app/ingredient-assistant/internal/utils"
)

const (
	numRelevantChunks   = 3   // Number of index entries to return per lookup
	similarityThreshold = 0.7 // Minimum similarity score to consider an entry relevant
)

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

// IngredientLookupTool serves ingredient_lookup invocations from the
// curated ingredient index: embed the query, rank the indexed chunks by
// cosine similarity, return the best entries over the threshold.
type IngredientLookupTool struct {
	embedder Embedder
	chunks   []store.KnowledgeChunk // In-memory cache of index entries and their embeddings
}

func NewIngredientLookupTool(chunks []store.KnowledgeChunk, embedder Embedder) *IngredientLookupTool {
	if len(chunks) == 0 {
		log.Println("Warning: ingredient_lookup initialized with no index entries. Run the server with -ingest first.")
	} else {
		log.Printf("ingredient_lookup initialized with %d index entries.", len(chunks))
	}

	return &IngredientLookupTool{
		embedder: embedder,
		chunks:   chunks,
	}
}

func (t *IngredientLookupTool) Name() string {
	return "ingredient_lookup"
}

func (t *IngredientLookupTool) Description() string {
	return "Look up a cosmetic ingredient in the curated safety index. Use this before answering questions about a specific ingredient."
}

func (t *IngredientLookupTool) Params() (map[string]core.ParamDecl, []string) {
	return map[string]core.ParamDecl{
		"query": {
			Type:        "string",
			Description: "Ingredient name or question about an ingredient",
		},
	}, []string{"query"}
}

type scoredChunk struct {
	chunk      store.KnowledgeChunk
	similarity float32
}

func (t *IngredientLookupTool) Call(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("ingredient_lookup requires a non-empty query")
	}
	if len(t.chunks) == 0 {
		return "The ingredient index is empty.", nil
	}
	queryEmbedding, err := t.embedder.GetEmbedding(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to embed lookup query: %w", err)
	}

	scored := make([]scoredChunk, 0, len(t.chunks))
	for _, chunk := range t.chunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		similarity, err := utils.CosineSimilarity(queryEmbedding, chunk.Embedding)
		if err != nil {
			log.Printf("Error scoring index entry %d: %v. Skipping.", chunk.ID, err)
			continue
		}
		if similarity >= similarityThreshold {
			scored = append(scored, scoredChunk{chunk: chunk, similarity: similarity})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].similarity > scored[j].similarity
	})

	if len(scored) == 0 {
		return "No matching entries in the ingredient index.", nil
	}
	if len(scored) > numRelevantChunks {
		scored = scored[:numRelevantChunks]
	}

	var b strings.Builder
	for _, sc := range scored {
		b.WriteString(sc.chunk.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String()), nil
}
