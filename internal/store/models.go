package store

// KnowledgeChunk is one entry of the curated ingredient index together with
// its embedding.
type KnowledgeChunk struct {
	ID            int64     `json:"id"`
	Content       string    `json:"content"`
	Embedding     []float32 `json:"-"` // Not exposed in JSON responses, internal
	EmbeddingJSON string    `json:"-"` // Store as JSON string for DB
}
