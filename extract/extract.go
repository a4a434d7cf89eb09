// Package extract implements the Extractor component: it wraps the LM
// oracle and turns one chunk of text into a validated Extraction.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kgforge/kgforge/graphstore"
	"github.com/kgforge/kgforge/kgerrors"
	"github.com/kgforge/kgforge/llm"
)

const (
	retryBudget    = 3
	retryBaseDelay = 50 * time.Millisecond
)

// Extractor issues LM calls and parses their output into a
// graphstore.Extraction, applying the validation rules of the type
// taxonomy and confidence threshold.
type Extractor struct {
	chat                      llm.Provider
	model                     string
	typedRelationshipsEnabled bool
	minRelationshipConfidence float64
}

// New returns an Extractor. typedRelationshipsEnabled selects the
// unified single-call prompt (true) or the legacy two-call sequence
// (false).
func New(chat llm.Provider, model string, typedRelationshipsEnabled bool, minRelationshipConfidence float64) *Extractor {
	return &Extractor{
		chat:                      chat,
		model:                     model,
		typedRelationshipsEnabled: typedRelationshipsEnabled,
		minRelationshipConfidence: minRelationshipConfidence,
	}
}

// Extract issues the LM call(s) for one chunk and returns a validated
// Extraction. It makes up to retryBudget attempts in total on failed
// calls or malformed output before raising an ExtractionError scoped
// to chunkID.
func (e *Extractor) Extract(ctx context.Context, chunkID string, text string) (graphstore.Extraction, error) {
	var lastErr error
	for attempt := 0; attempt < retryBudget; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBaseDelay * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return graphstore.Extraction{}, &kgerrors.ExtractionError{ChunkID: chunkID, Cause: ctx.Err()}
			}
			slog.Warn("extraction retry", "chunk_id", chunkID, "attempt", attempt)
		}

		var ex graphstore.Extraction
		var err error
		if e.typedRelationshipsEnabled {
			ex, err = e.extractUnified(ctx, text)
		} else {
			ex, err = e.extractLegacy(ctx, text)
		}
		if err == nil {
			return e.validate(ex), nil
		}
		lastErr = err
	}
	return graphstore.Extraction{}, &kgerrors.ExtractionError{ChunkID: chunkID, Cause: lastErr}
}

type rawEntity struct {
	Name        string                 `json:"name"`
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Covariates  map[string]interface{} `json:"covariates"`
}

type rawRelationship struct {
	SourceName       string  `json:"source_name"`
	TargetName       string  `json:"target_name"`
	RelationshipType string  `json:"relationship_type"`
	Confidence       float64 `json:"confidence"`
	Description      string  `json:"description"`
}

type unifiedResponse struct {
	Entities      []rawEntity       `json:"entities"`
	Relationships []rawRelationship `json:"relationships"`
}

type entityOnlyResponse struct {
	Entities []rawEntity `json:"entities"`
}

type relationshipOnlyResponse struct {
	Relationships []rawRelationship `json:"relationships"`
}

func (e *Extractor) extractUnified(ctx context.Context, text string) (graphstore.Extraction, error) {
	raw, err := e.chatJSON(ctx, fmt.Sprintf(unifiedPrompt, text))
	if err != nil {
		return graphstore.Extraction{}, err
	}
	var resp unifiedResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return graphstore.Extraction{}, fmt.Errorf("parsing unified extraction response: %w", err)
	}
	return toExtraction(resp.Entities, resp.Relationships), nil
}

func (e *Extractor) extractLegacy(ctx context.Context, text string) (graphstore.Extraction, error) {
	entRaw, err := e.chatJSON(ctx, fmt.Sprintf(legacyEntityPrompt, text))
	if err != nil {
		return graphstore.Extraction{}, err
	}
	var entResp entityOnlyResponse
	if err := json.Unmarshal([]byte(entRaw), &entResp); err != nil {
		return graphstore.Extraction{}, fmt.Errorf("parsing legacy entity response: %w", err)
	}

	names := make([]string, len(entResp.Entities))
	for i, e := range entResp.Entities {
		names[i] = e.Name
	}

	relRaw, err := e.chatJSON(ctx, fmt.Sprintf(legacyRelationshipPrompt, strings.Join(names, ", "), text))
	if err != nil {
		return graphstore.Extraction{}, err
	}
	var relResp relationshipOnlyResponse
	if err := json.Unmarshal([]byte(relRaw), &relResp); err != nil {
		return graphstore.Extraction{}, fmt.Errorf("parsing legacy relationship response: %w", err)
	}

	return toExtraction(entResp.Entities, relResp.Relationships), nil
}

func toExtraction(entities []rawEntity, relationships []rawRelationship) graphstore.Extraction {
	ex := graphstore.Extraction{
		Entities:      make([]graphstore.EntityCandidate, len(entities)),
		Relationships: make([]graphstore.RelationshipCandidate, len(relationships)),
	}
	for i, re := range entities {
		ex.Entities[i] = graphstore.EntityCandidate{
			Name:        re.Name,
			EntityType:  re.Type,
			Description: re.Description,
			Covariates:  stringifyCovariates(re.Covariates),
		}
	}
	for i, rr := range relationships {
		ex.Relationships[i] = graphstore.RelationshipCandidate{
			SourceName:  rr.SourceName,
			TargetName:  rr.TargetName,
			Type:        rr.RelationshipType,
			Confidence:  rr.Confidence,
			Description: rr.Description,
		}
	}
	return ex
}

func stringifyCovariates(m map[string]interface{}) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

// validate applies the drop/clamp/default rules of the type taxonomy:
// confidence below threshold is dropped, relationships referencing
// unknown entity names are dropped, confidence is clamped to [0,1],
// and an unrecognized type defaults to generic.
func (e *Extractor) validate(ex graphstore.Extraction) graphstore.Extraction {
	known := make(map[string]bool, len(ex.Entities))
	for _, ent := range ex.Entities {
		known[ent.Name] = true
	}

	kept := make([]graphstore.RelationshipCandidate, 0, len(ex.Relationships))
	for _, rel := range ex.Relationships {
		if rel.Confidence < e.minRelationshipConfidence {
			slog.Debug("relationship dropped: low confidence", "source", rel.SourceName, "target", rel.TargetName, "confidence", rel.Confidence)
			continue
		}
		if !known[rel.SourceName] || !known[rel.TargetName] {
			slog.Debug("relationship dropped: unknown entity reference", "source", rel.SourceName, "target", rel.TargetName)
			continue
		}
		rel.Confidence = clamp01(rel.Confidence)
		if !graphstore.ValidTypes[rel.Type] {
			rel.Type = "generic"
		}
		kept = append(kept, rel)
	}
	ex.Relationships = kept
	return ex
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// codeBlockRe strips markdown code fences LMs sometimes wrap JSON in.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON finds the JSON object in a raw LM response, handling
// markdown code fences and stray text before/after the object.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") && strings.HasSuffix(raw, "}") {
		return raw, nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}
	return "", fmt.Errorf("no JSON object found in response")
}

func (e *Extractor) chatJSON(ctx context.Context, prompt string) (string, error) {
	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Model:          e.model,
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    0.1,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return "", fmt.Errorf("LM call failed: %w", err)
	}
	return extractJSON(resp.Content)
}
