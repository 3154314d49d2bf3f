package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS knowledge_chunks (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        content TEXT NOT NULL,
        embedding_json TEXT -- Storing as JSON string of []float32
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) createChunk(chunk *KnowledgeChunk) error {
	embeddingBytes, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	chunk.EmbeddingJSON = string(embeddingBytes)

	stmt, err := s.db.Prepare("INSERT INTO knowledge_chunks (content, embedding_json) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare knowledge_chunk insert: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(chunk.Content, chunk.EmbeddingJSON)
	if err != nil {
		return fmt.Errorf("failed to execute knowledge_chunk insert: %w", err)
	}
	chunk.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetAllChunks() ([]KnowledgeChunk, error) {
	rows, err := s.db.Query("SELECT id, content, embedding_json FROM knowledge_chunks")
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge_chunks: %w", err)
	}
	defer rows.Close()

	var chunks []KnowledgeChunk
	for rows.Next() {
		var chunk KnowledgeChunk
		var embeddingJSON string
		if err := rows.Scan(&chunk.ID, &chunk.Content, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge_chunk row: %w", err)
		}
		if embeddingJSON != "" {
			if err := json.Unmarshal([]byte(embeddingJSON), &chunk.Embedding); err != nil {
				log.Printf("Warning: failed to unmarshal embedding for chunk %d (content: %.50s...): %v. Embedding will be empty.", chunk.ID, chunk.Content, err)
				chunk.Embedding = nil
			}
		} else {
			log.Printf("Warning: empty embedding_json for chunk ID %d. Embedding will be empty.", chunk.ID)
			chunk.Embedding = nil
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func (s *SQLiteStore) ClearChunks() error {
	_, err := s.db.Exec("DELETE FROM knowledge_chunks")
	if err != nil {
		return fmt.Errorf("failed to delete knowledge_chunks: %w", err)
	}
	_, err = s.db.Exec("DELETE FROM sqlite_sequence WHERE name='knowledge_chunks'")
	if err != nil && !strings.Contains(err.Error(), "no such table") {
		log.Printf("Warning: could not reset sequence for knowledge_chunks: %v", err)
	}
	return nil
}

// IngestFromFile reads the ingredient reference markdown, turns it into
// chunks, embeds each and stores them. Table rows become "name: notes"
// chunks; plain paragraphs become one chunk each; headings are skipped.
func (s *SQLiteStore) IngestFromFile(filePath string, embedder func(string) ([]float32, error)) (int, error) {
	contentBytes, err := os.ReadFile(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read reference file %s: %w", filePath, err)
	}

	rawChunks := chunkMarkdown(string(contentBytes))
	if len(rawChunks) == 0 {
		log.Println("No chunks generated from the reference file. Expecting a Markdown table or paragraphs of ingredient notes.")
		return 0, nil
	}

	log.Printf("Generated %d raw chunks. Now embedding (this may take a while)...", len(rawChunks))

	if err := s.ClearChunks(); err != nil {
		return 0, fmt.Errorf("failed to clear existing chunks: %w", err)
	}

	count := 0

	ticker := time.NewTicker(40 * time.Millisecond) // delay to not hit rate limit (1500/min)
	defer ticker.Stop()

	for i, rawChunk := range rawChunks {
		<-ticker.C

		embedding, err := embedder(rawChunk)
		if err != nil {
			log.Printf("Failed to generate embedding for chunk %d (\"%.50s...\"): %v. Skipping.", i+1, rawChunk, err)
			continue
		}

		chunk := KnowledgeChunk{
			Content:   rawChunk,
			Embedding: embedding,
		}
		if err := s.createChunk(&chunk); err != nil {
			log.Printf("Failed to store chunk %d: %v. Skipping.", i+1, err)
			continue
		}
		count++
		if count%10 == 0 || count == len(rawChunks) {
			log.Printf("Ingested %d/%d chunks...", count, len(rawChunks))
		}
	}
	log.Printf("Successfully ingested %d chunks.", count)
	return count, nil
}

func chunkMarkdown(content string) []string {
	var chunks []string
	var paragraph []string

	flush := func() {
		if len(paragraph) > 0 {
			chunks = append(chunks, strings.Join(paragraph, " "))
			paragraph = nil
		}
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
			flush()
		case strings.HasPrefix(trimmed, "|"):
			flush()
			if row := tableRowChunk(trimmed); row != "" {
				chunks = append(chunks, row)
			}
		default:
			paragraph = append(paragraph, trimmed)
		}
	}
	flush()

	return chunks
}

// tableRowChunk flattens "| name | notes |" into "name: notes". Separator
// rows come back empty.
func tableRowChunk(line string) string {
	var cells []string
	for _, cell := range strings.Split(strings.Trim(line, "|"), "|") {
		cell = strings.TrimSpace(cell)
		if cell != "" {
			cells = append(cells, cell)
		}
	}
	if len(cells) == 0 {
		return ""
	}
	// A separator row is all dashes/colons.
	if strings.Trim(cells[0], "-: ") == "" {
		return ""
	}
	return strings.Join(cells, ": ")
}
