package graphstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kgforge/kgforge/kgconfig"
)

// fakeEmbedder returns a fixed vector per input so tests can control
// similarity deterministically without a real embedding model.
type fakeEmbedder struct {
	vectors map[string][]float32
	dim     int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
			continue
		}
		v := make([]float32, f.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func newTestStore(t *testing.T, cfg kgconfig.Config, embedder Embedder) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	cfg.EmbeddingDim = 4
	s, err := Open(context.Background(), dbPath, cfg, embedder)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFindOrCreateEntityFreshInsertThenIDHit(t *testing.T) {
	cfg := kgconfig.Default()
	s := newTestStore(t, cfg, nil)
	ctx := context.Background()

	cand := EntityCandidate{Name: "Acme Corp", EntityType: "organization", Description: "a company"}

	id1, kind1, err := s.FindOrCreateEntity(ctx, cand)
	if err != nil {
		t.Fatalf("FindOrCreateEntity: %v", err)
	}
	if kind1 != FreshlyInserted {
		t.Errorf("expected FreshlyInserted, got %v", kind1)
	}

	id2, kind2, err := s.FindOrCreateEntity(ctx, cand)
	if err != nil {
		t.Fatalf("FindOrCreateEntity (repeat): %v", err)
	}
	if kind2 != ByIDHit {
		t.Errorf("expected ByIDHit on repeat, got %v", kind2)
	}
	if id1 != id2 {
		t.Errorf("expected same entity id, got %d and %d", id1, id2)
	}
}

func TestFindOrCreateEntityAliasTracking(t *testing.T) {
	cfg := kgconfig.Default()
	s := newTestStore(t, cfg, nil)
	ctx := context.Background()

	first := EntityCandidate{Name: "ICU", EntityType: "concept", Description: "intensive care unit"}
	if _, _, err := s.FindOrCreateEntity(ctx, first); err != nil {
		t.Fatalf("FindOrCreateEntity: %v", err)
	}

	variant := EntityCandidate{Name: "I.C.U.", EntityType: "concept", Description: "intensive care unit"}
	id, kind, err := s.FindOrCreateEntity(ctx, variant)
	if err != nil {
		t.Fatalf("FindOrCreateEntity (variant): %v", err)
	}
	if kind != ByIDHit {
		t.Fatalf("expected the punctuation variant to collide on canonical_id, got %v", kind)
	}

	row := s.db.QueryRow("SELECT aliases FROM entities WHERE id = ?", id)
	var aliases string
	if err := row.Scan(&aliases); err != nil {
		t.Fatalf("scanning aliases: %v", err)
	}
	if aliases == "[]" || aliases == "" {
		t.Errorf("expected the differing surface form to be recorded as an alias, got %q", aliases)
	}
}

func TestWeightForEnhancedAndLegacy(t *testing.T) {
	storedType, weight := weightFor("hypernym", 0.9, true)
	if storedType != "hypernym" || weight != 9.0 {
		t.Errorf("weightFor(hypernym, 0.9, enhanced) = (%q, %v), want (hypernym, 9.0)", storedType, weight)
	}

	storedType, weight = weightFor("hypernym", 0.9, false)
	if storedType != "generic" || weight != 0 {
		t.Errorf("weightFor(hypernym, 0.9, legacy) = (%q, %v), want (generic, 0)", storedType, weight)
	}

	storedType, weight = weightFor("made_up_type", 0.8, true)
	if storedType != "generic" {
		t.Errorf("unknown type should fall back to generic, got %q", storedType)
	}
	if weight != 0.8*0.5*10 {
		t.Errorf("unexpected weight for unknown type fallback: %v", weight)
	}
}

func TestCreateRelationshipSymmetricSynthesis(t *testing.T) {
	cfg := kgconfig.Default()
	s := newTestStore(t, cfg, nil)
	ctx := context.Background()

	mapID, _, err := s.FindOrCreateEntity(ctx, EntityCandidate{Name: "MAP", EntityType: "concept"})
	if err != nil {
		t.Fatalf("FindOrCreateEntity: %v", err)
	}
	meanArterialID, _, err := s.FindOrCreateEntity(ctx, EntityCandidate{Name: "mean arterial pressure", EntityType: "concept"})
	if err != nil {
		t.Fatalf("FindOrCreateEntity: %v", err)
	}

	if _, err := s.CreateRelationship(ctx, mapID, meanArterialID, "synonym", 0.8, "abbreviation", Provenance{}, true); err != nil {
		t.Fatalf("CreateRelationship: %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM relationships").Scan(&count); err != nil {
		t.Fatalf("counting relationships: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected synonym synthesis to produce 2 rows, got %d", count)
	}

	rows, err := s.db.Query("SELECT weight FROM relationships")
	if err != nil {
		t.Fatalf("querying weights: %v", err)
	}
	defer rows.Close()
	want := 0.8 * 0.95 * 10
	for rows.Next() {
		var w float64
		if err := rows.Scan(&w); err != nil {
			t.Fatalf("scanning weight: %v", err)
		}
		if w != want {
			t.Errorf("weight = %v, want %v", w, want)
		}
	}
}

func TestCreateRelationshipDegreeCap(t *testing.T) {
	cfg := kgconfig.Default()
	cfg.MaxEdgesPerEntity = 2
	cfg.CreateSymmetricRelationships = false
	s := newTestStore(t, cfg, nil)
	ctx := context.Background()

	source, _, _ := s.FindOrCreateEntity(ctx, EntityCandidate{Name: "Source", EntityType: "concept"})
	targets := make([]int64, 3)
	for i := range targets {
		id, _, err := s.FindOrCreateEntity(ctx, EntityCandidate{Name: "Target" + string(rune('A'+i)), EntityType: "concept"})
		if err != nil {
			t.Fatalf("FindOrCreateEntity: %v", err)
		}
		targets[i] = id
	}

	var lastErr error
	persisted := 0
	for _, target := range targets {
		_, err := s.CreateRelationship(ctx, source, target, "generic", 0.9, "", Provenance{}, true)
		if err == nil {
			persisted++
		} else {
			lastErr = err
		}
	}
	if persisted != 2 {
		t.Errorf("expected exactly 2 relationships to persist under cap=2, got %d", persisted)
	}
	if lastErr == nil {
		t.Errorf("expected the third relationship to be rejected with DegreeCapped")
	}
}

func TestCreateRelationshipIdempotentOnTriple(t *testing.T) {
	cfg := kgconfig.Default()
	s := newTestStore(t, cfg, nil)
	ctx := context.Background()

	a, _, _ := s.FindOrCreateEntity(ctx, EntityCandidate{Name: "A", EntityType: "concept"})
	b, _, _ := s.FindOrCreateEntity(ctx, EntityCandidate{Name: "B", EntityType: "concept"})

	id1, err := s.CreateRelationship(ctx, a, b, "causal", 0.7, "first", Provenance{}, true)
	if err != nil {
		t.Fatalf("CreateRelationship: %v", err)
	}
	id2, err := s.CreateRelationship(ctx, a, b, "causal", 0.7, "second", Provenance{}, true)
	if err != nil {
		t.Fatalf("CreateRelationship (repeat): %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected idempotent insert to return the existing row, got %d and %d", id1, id2)
	}
}

func TestAddOrdersEntitiesBeforeRelationships(t *testing.T) {
	cfg := kgconfig.Default()
	s := newTestStore(t, cfg, nil)
	ctx := context.Background()

	ex := Extraction{
		Entities: []EntityCandidate{
			{Name: "sepsis", EntityType: "concept"},
			{Name: "septic shock", EntityType: "concept"},
		},
		Relationships: []RelationshipCandidate{
			{SourceName: "sepsis", TargetName: "septic shock", Type: "hypernym", Confidence: 0.9, Description: "leads to"},
		},
	}

	result, err := s.Add(ctx, ex, Provenance{DocumentID: "doc1", ChunkID: 0}, true)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if result.EntitiesResolved != 2 || result.RelationshipsCreated != 1 {
		t.Errorf("unexpected Add result: %+v", result)
	}

	var weight float64
	if err := s.db.QueryRow("SELECT weight FROM relationships").Scan(&weight); err != nil {
		t.Fatalf("querying weight: %v", err)
	}
	if weight != 9.0 {
		t.Errorf("weight = %v, want 9.0", weight)
	}
}

func TestAddDropsRelationshipsWithDanglingEndpoint(t *testing.T) {
	cfg := kgconfig.Default()
	s := newTestStore(t, cfg, nil)
	ctx := context.Background()

	ex := Extraction{
		Entities: nil,
		Relationships: []RelationshipCandidate{
			{SourceName: "ghost", TargetName: "phantom", Type: "generic", Confidence: 0.9},
		},
	}
	result, err := s.Add(ctx, ex, Provenance{}, true)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if result.RelationshipsCreated != 0 || result.RelationshipsDropped != 1 {
		t.Errorf("expected the dangling relationship to be dropped, got %+v", result)
	}
}
