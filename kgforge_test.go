package kgforge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kgforge/kgforge/kgconfig"
)

// fakeOpenAICompatServer serves just enough of the OpenAI-compatible
// chat and embeddings API for Pipeline's "custom" provider path to
// round-trip through extraction and storage end to end.
func fakeOpenAICompatServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"model": "test-model",
			"choices": []map[string]interface{}{
				{
					"message": map[string]string{
						"content": `{"entities": [{"name": "sepsis", "type": "concept", "description": "a systemic infection response"}, {"name": "septic shock", "type": "concept", "description": "severe sepsis with hypotension"}], "relationships": [{"source_name": "sepsis", "target_name": "septic shock", "relationship_type": "hypernym", "confidence": 0.9, "description": "can progress to"}]}`,
					},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Input []string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		data := make([]map[string]interface{}, len(body.Input))
		for i, text := range body.Input {
			// One-hot vector keyed on the input's length, so distinct
			// entities get distinct embeddings and are not merged by
			// similarity.
			vec := make([]float32, 8)
			vec[len(text)%8] = 1
			data[i] = map[string]interface{}{"embedding": vec, "index": i}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	})
	return httptest.NewServer(mux)
}

func TestPipelineAddTextEndToEnd(t *testing.T) {
	server := fakeOpenAICompatServer(t)
	defer server.Close()

	cfg := kgconfig.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "pipeline.db")
	cfg.EmbeddingDim = 8
	cfg.Chat = kgconfig.LLMConfig{Provider: "custom", Model: "test-model", BaseURL: server.URL}
	cfg.Embedding = kgconfig.LLMConfig{Provider: "custom", Model: "test-embed", BaseURL: server.URL}

	p, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	summary, err := p.AddText(context.Background(), "doc1", "Sepsis can progress to septic shock if untreated.")
	if err != nil {
		t.Fatalf("AddText: %v", err)
	}
	if summary.Succeeded != 1 || len(summary.Failed) != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	var entityCount int
	if err := p.Store().DB().QueryRow("SELECT COUNT(*) FROM entities").Scan(&entityCount); err != nil {
		t.Fatalf("counting entities: %v", err)
	}
	if entityCount != 2 {
		t.Errorf("entityCount = %d, want 2", entityCount)
	}

	var relType string
	if err := p.Store().DB().QueryRow("SELECT relationship_type FROM relationships LIMIT 1").Scan(&relType); err != nil {
		t.Fatalf("querying relationship type: %v", err)
	}
	if relType != "hypernym" {
		t.Errorf("relationship_type = %q, want hypernym", relType)
	}
}

func TestNewFailsOnUnknownProvider(t *testing.T) {
	cfg := kgconfig.Default()
	cfg.Chat.Provider = "not-a-real-provider"
	_, err := New(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected an error for an unknown chat provider")
	}
	if !strings.Contains(err.Error(), "chat provider") {
		t.Errorf("error = %q, want it to mention the chat provider", err.Error())
	}
}
