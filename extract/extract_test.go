package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/kgforge/kgforge/kgerrors"
	"github.com/kgforge/kgforge/llm"
)

// fakeChat replays a scripted sequence of responses, one per call, so
// tests can exercise the legacy two-call path and retry behavior
// without a real model.
type fakeChat struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeChat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.responses) {
		return nil, errors.New("fakeChat: no more scripted responses")
	}
	return &llm.ChatResponse{Content: f.responses[i]}, nil
}

func (f *fakeChat) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("fakeChat: Embed not implemented")
}

func TestExtractUnifiedHappyPath(t *testing.T) {
	chat := &fakeChat{responses: []string{`
Here is the extraction:
` + "```json\n" + `{
  "entities": [
    {"name": "sepsis", "type": "concept", "description": "a systemic infection response"},
    {"name": "septic shock", "type": "concept", "description": "severe sepsis with hypotension"}
  ],
  "relationships": [
    {"source_name": "sepsis", "target_name": "septic shock", "relationship_type": "hypernym", "confidence": 0.9, "description": "can progress to"}
  ]
}` + "\n```\n"}}

	e := New(chat, "test-model", true, 0.3)
	ex, err := e.Extract(context.Background(), "chunk-1", "Sepsis can progress to septic shock.")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(ex.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(ex.Entities))
	}
	if len(ex.Relationships) != 1 {
		t.Fatalf("expected 1 relationship, got %d", len(ex.Relationships))
	}
	if ex.Relationships[0].Type != "hypernym" {
		t.Errorf("relationship type = %q, want hypernym", ex.Relationships[0].Type)
	}
}

func TestExtractLegacyTwoCalls(t *testing.T) {
	chat := &fakeChat{responses: []string{
		`{"entities": [{"name": "MAP", "type": "concept", "description": "mean arterial pressure"}, {"name": "blood pressure", "type": "concept", "description": ""}]}`,
		`{"relationships": [{"source_name": "MAP", "target_name": "blood pressure", "confidence": 0.7, "description": "a component of"}]}`,
	}}

	e := New(chat, "test-model", false, 0.3)
	ex, err := e.Extract(context.Background(), "chunk-2", "MAP is a component of blood pressure.")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if chat.calls != 2 {
		t.Fatalf("expected exactly 2 LM calls in legacy mode, got %d", chat.calls)
	}
	if len(ex.Relationships) != 1 {
		t.Fatalf("expected 1 relationship, got %d", len(ex.Relationships))
	}
	// legacy responses never carry a relationship_type; validate()
	// should leave the zero value, which is not in ValidTypes, and
	// fall back to generic.
	if ex.Relationships[0].Type != "generic" {
		t.Errorf("relationship type = %q, want generic fallback", ex.Relationships[0].Type)
	}
}

func TestValidateDropsLowConfidenceAndDanglingEndpoints(t *testing.T) {
	chat := &fakeChat{responses: []string{`{
		"entities": [{"name": "A", "type": "concept"}, {"name": "B", "type": "concept"}],
		"relationships": [
			{"source_name": "A", "target_name": "B", "relationship_type": "causal", "confidence": 0.1, "description": "too weak"},
			{"source_name": "A", "target_name": "ghost", "relationship_type": "causal", "confidence": 0.9, "description": "dangling"},
			{"source_name": "A", "target_name": "B", "relationship_type": "causal", "confidence": 0.9, "description": "kept"}
		]
	}`}}

	e := New(chat, "test-model", true, 0.3)
	ex, err := e.Extract(context.Background(), "chunk-3", "text")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(ex.Relationships) != 1 {
		t.Fatalf("expected only the single valid relationship to survive, got %d: %+v", len(ex.Relationships), ex.Relationships)
	}
	if ex.Relationships[0].Description != "kept" {
		t.Errorf("unexpected relationship survived validation: %+v", ex.Relationships[0])
	}
}

func TestValidateClampsConfidenceAndDefaultsUnknownType(t *testing.T) {
	chat := &fakeChat{responses: []string{`{
		"entities": [{"name": "A", "type": "concept"}, {"name": "B", "type": "concept"}],
		"relationships": [
			{"source_name": "A", "target_name": "B", "relationship_type": "not_a_real_type", "confidence": 1.5, "description": "over one"}
		]
	}`}}

	e := New(chat, "test-model", true, 0.3)
	ex, err := e.Extract(context.Background(), "chunk-4", "text")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(ex.Relationships) != 1 {
		t.Fatalf("expected 1 relationship, got %d", len(ex.Relationships))
	}
	rel := ex.Relationships[0]
	if rel.Confidence != 1.0 {
		t.Errorf("confidence = %v, want clamped to 1.0", rel.Confidence)
	}
	if rel.Type != "generic" {
		t.Errorf("type = %q, want generic fallback for unrecognized type", rel.Type)
	}
}

func TestExtractRetriesOnMalformedJSONThenSucceeds(t *testing.T) {
	chat := &fakeChat{responses: []string{
		"not json at all",
		"still not json",
		`{"entities": [], "relationships": []}`,
	}}

	e := New(chat, "test-model", true, 0.3)
	ex, err := e.Extract(context.Background(), "chunk-5", "text")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if chat.calls != 3 {
		t.Errorf("expected 3 attempts before success, got %d", chat.calls)
	}
	if len(ex.Entities) != 0 || len(ex.Relationships) != 0 {
		t.Errorf("expected an empty extraction, got %+v", ex)
	}
}

func TestExtractExhaustsRetryBudgetAndRaisesExtractionError(t *testing.T) {
	chat := &fakeChat{responses: []string{"garbage", "garbage", "garbage"}}

	e := New(chat, "test-model", true, 0.3)
	_, err := e.Extract(context.Background(), "chunk-6", "text")
	if err == nil {
		t.Fatal("expected an error after exhausting the retry budget")
	}
	var extractionErr *kgerrors.ExtractionError
	if !errors.As(err, &extractionErr) {
		t.Fatalf("expected *kgerrors.ExtractionError, got %T: %v", err, err)
	}
	if extractionErr.ChunkID != "chunk-6" {
		t.Errorf("ChunkID = %q, want chunk-6", extractionErr.ChunkID)
	}
	if !errors.Is(err, kgerrors.ErrExtractionFailed) {
		t.Errorf("expected errors.Is to match ErrExtractionFailed")
	}
	if chat.calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", chat.calls)
	}
}

func TestExtractJSONStripsCodeFence(t *testing.T) {
	raw := "Sure, here you go:\n```json\n{\"entities\": []}\n```\nLet me know if you need more."
	got, err := extractJSON(raw)
	if err != nil {
		t.Fatalf("extractJSON: %v", err)
	}
	if got != `{"entities": []}` {
		t.Errorf("extractJSON = %q", got)
	}
}

func TestExtractJSONNoObjectFound(t *testing.T) {
	if _, err := extractJSON("no object here"); err == nil {
		t.Error("expected an error when no JSON object is present")
	}
}
