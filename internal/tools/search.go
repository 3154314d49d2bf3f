package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"glowcheck.app/ingredient-assistant/internal/core"
)

const searchEndpoint = "https://www.googleapis.com/customsearch/v1"

// SearchTool answers web_search invocations through the Google Custom
// Search JSON API.
type SearchTool struct {
	apiKey string
	cx     string
	client *http.Client
}

func NewSearchTool(apiKey, cx string) *SearchTool {
	return &SearchTool{
		apiKey: apiKey,
		cx:     cx,
		client: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

func (t *SearchTool) Name() string {
	return "web_search"
}

func (t *SearchTool) Description() string {
	return "Search the web for recent information about cosmetic products, brands and ingredient research."
}

func (t *SearchTool) Params() (map[string]core.ParamDecl, []string) {
	return map[string]core.ParamDecl{
		"query": {
			Type:        "string",
			Description: "Search query",
		},
	}, []string{"query"}
}

type searchItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

func (t *SearchTool) Call(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("web_search requires a non-empty query")
	}

	params := url.Values{}
	params.Set("key", t.apiKey)
	params.Set("cx", t.cx)
	params.Set("q", query)
	params.Set("num", "5")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build search request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	var body struct {
		Items []searchItem `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode search response: %w", err)
	}

	if len(body.Items) == 0 {
		return "No results found.", nil
	}

	var b strings.Builder
	for i, item := range body.Items {
		fmt.Fprintf(&b, "%d. %s\n%s\n%s\n\n", i+1, item.Title, item.Snippet, item.Link)
	}
	return strings.TrimSpace(b.String()), nil
}
