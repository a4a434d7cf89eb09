// Package bench computes the knowledge-graph pipeline's own health
// KPIs, structurally modeled on the teacher's evaluation harness: a
// Report built up over a run loop, FormatReport for human-readable
// output. The metrics themselves are this pipeline's own — duplicate
// rate, merge precision, typed-relationship coverage, throughput — not
// the teacher's RAG-answer-quality metrics.
package bench

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kgforge/kgforge/extract"
	"github.com/kgforge/kgforge/graphstore"
	"github.com/kgforge/kgforge/kgconfig"
	"github.com/kgforge/kgforge/llm"
)

// GoldMerge is a labeled pair for merge_precision: whether the pipeline
// should (or should not) resolve NameA and NameB to the same entity.
type GoldMerge struct {
	NameA       string
	NameB       string
	ShouldMerge bool
}

// Report holds the KPI vector from one run of the pipeline over a
// fixed corpus in one mode (legacy or enhanced).
type Report struct {
	Mode        string
	TotalChunks int
	Succeeded   int
	Failed      int
	RunTime     time.Duration

	EntityCount       int
	RelationshipCount int

	DuplicateEntityRate       float64
	MergePrecision            float64
	EdgeToNodeRatio           float64
	TypedRelationshipCoverage float64
	MeanLLMCallsPerChunk      float64
	ThroughputChunksPerSecond float64
	ErrorRate                 float64
}

// extractor is the minimal surface Run needs from an Extractor —
// matches indexer.Extractor structurally without importing it, the
// same oracle-indirection idiom graphstore uses for Embedder.
type extractor interface {
	Extract(ctx context.Context, chunkID string, text string) (graphstore.Extraction, error)
}

// Run drives corpus (one chunk of text per element) through extractor
// and store sequentially, computing the KPI vector against goldMerges
// and whatever the counting provider observed.
func Run(ctx context.Context, mode string, store *graphstore.Store, ex extractor, counting *CountingProvider, corpus []string, documentID string, typedRelationshipsEnabled bool, goldMerges []GoldMerge) (*Report, error) {
	start := time.Now()
	report := &Report{Mode: mode, TotalChunks: len(corpus)}

	counting.Reset()
	resolutionKinds := make(map[graphstore.ResolutionKind]int)
	totalEntitiesResolved := 0
	totalRelationshipsCreated := 0
	totalTypedRelationships := 0

	for i, text := range corpus {
		chunkID := fmt.Sprintf("%s#%d", documentID, i)
		chunkRowID, err := store.UpsertChunk(ctx, graphstore.Chunk{
			DocumentID: documentID,
			ExternalID: chunkID,
			Content:    text,
		})
		if err != nil {
			report.Failed++
			continue
		}

		ext, err := ex.Extract(ctx, chunkID, text)
		if err != nil {
			report.Failed++
			continue
		}

		result, err := store.Add(ctx, ext, graphstore.Provenance{DocumentID: documentID, ChunkID: chunkRowID}, typedRelationshipsEnabled)
		if err != nil {
			report.Failed++
			continue
		}

		report.Succeeded++
		totalEntitiesResolved += result.EntitiesResolved
		totalRelationshipsCreated += result.RelationshipsCreated
		for kind, n := range result.ResolutionKinds {
			resolutionKinds[kind] += n
		}
		for _, rel := range ext.Relationships {
			if rel.Type != "generic" {
				totalTypedRelationships++
			}
		}
	}

	report.RunTime = time.Since(start)

	if totalEntitiesResolved > 0 {
		report.DuplicateEntityRate = float64(resolutionKinds[graphstore.BySimilarityHit]) / float64(totalEntitiesResolved)
	}
	if totalRelationshipsCreated > 0 {
		report.TypedRelationshipCoverage = float64(totalTypedRelationships) / float64(totalRelationshipsCreated)
	}
	if report.TotalChunks > 0 {
		report.ErrorRate = float64(report.Failed) / float64(report.TotalChunks)
	}
	if seconds := report.RunTime.Seconds(); seconds > 0 {
		report.ThroughputChunksPerSecond = float64(report.Succeeded) / seconds
	}
	if report.Succeeded > 0 {
		report.MeanLLMCallsPerChunk = float64(counting.ChatCalls()) / float64(report.Succeeded)
	}

	entityCount, relationshipCount, err := countEntitiesAndRelationships(ctx, store)
	if err != nil {
		return report, err
	}
	report.EntityCount = entityCount
	report.RelationshipCount = relationshipCount
	if entityCount > 0 {
		report.EdgeToNodeRatio = float64(relationshipCount) / float64(entityCount)
	}

	report.MergePrecision = mergePrecision(ctx, store, goldMerges)

	return report, nil
}

func countEntitiesAndRelationships(ctx context.Context, store *graphstore.Store) (int, int, error) {
	var entityCount, relationshipCount int
	if err := store.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM entities").Scan(&entityCount); err != nil {
		return 0, 0, fmt.Errorf("counting entities: %w", err)
	}
	if err := store.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM relationships").Scan(&relationshipCount); err != nil {
		return 0, 0, fmt.Errorf("counting relationships: %w", err)
	}
	return entityCount, relationshipCount, nil
}

// mergePrecision resolves each gold pair against the live store and
// compares the pipeline's merge decision (same entity id) to the
// label. Pairs that error resolving are skipped rather than counted as
// a miss, since that reflects a store fault, not a merge decision.
func mergePrecision(ctx context.Context, store *graphstore.Store, goldMerges []GoldMerge) float64 {
	if len(goldMerges) == 0 {
		return 0
	}
	correct, scored := 0, 0
	for _, gm := range goldMerges {
		idA, _, errA := store.FindOrCreateEntity(ctx, graphstore.EntityCandidate{Name: gm.NameA})
		idB, _, errB := store.FindOrCreateEntity(ctx, graphstore.EntityCandidate{Name: gm.NameB})
		if errA != nil || errB != nil {
			continue
		}
		scored++
		merged := idA == idB
		if merged == gm.ShouldMerge {
			correct++
		}
	}
	if scored == 0 {
		return 0
	}
	return float64(correct) / float64(scored)
}

// ComparisonReport pairs a legacy run and an enhanced run over the same
// corpus, plus the delta of each KPI (enhanced minus legacy).
type ComparisonReport struct {
	Legacy   *Report
	Enhanced *Report
	Delta    map[string]float64
}

// RunComparison runs corpus through the pipeline twice — once in legacy
// mode, once in enhanced mode — against two fresh in-memory databases,
// and returns both reports plus the KPI delta.
func RunComparison(ctx context.Context, chat llm.Provider, model string, corpus []string, documentID string, goldMerges []GoldMerge) (*ComparisonReport, error) {
	legacy, err := runMode(ctx, "legacy", false, chat, model, corpus, documentID, goldMerges)
	if err != nil {
		return nil, fmt.Errorf("legacy run: %w", err)
	}
	enhanced, err := runMode(ctx, "enhanced", true, chat, model, corpus, documentID, goldMerges)
	if err != nil {
		return nil, fmt.Errorf("enhanced run: %w", err)
	}

	delta := map[string]float64{
		"duplicate_entity_rate":       enhanced.DuplicateEntityRate - legacy.DuplicateEntityRate,
		"merge_precision":             enhanced.MergePrecision - legacy.MergePrecision,
		"edge_to_node_ratio":          enhanced.EdgeToNodeRatio - legacy.EdgeToNodeRatio,
		"typed_relationship_coverage": enhanced.TypedRelationshipCoverage - legacy.TypedRelationshipCoverage,
		"mean_llm_calls_per_chunk":    enhanced.MeanLLMCallsPerChunk - legacy.MeanLLMCallsPerChunk,
		"throughput_chunks_per_second": enhanced.ThroughputChunksPerSecond - legacy.ThroughputChunksPerSecond,
		"error_rate":                  enhanced.ErrorRate - legacy.ErrorRate,
	}

	return &ComparisonReport{Legacy: legacy, Enhanced: enhanced, Delta: delta}, nil
}

func runMode(ctx context.Context, mode string, enhanced bool, chat llm.Provider, model string, corpus []string, documentID string, goldMerges []GoldMerge) (*Report, error) {
	cfg := kgconfig.Default()
	cfg.EnableEnhancedKG = enhanced
	cfg.DBPath = ":memory:"
	if !enhanced {
		cfg.EntityDistanceThreshold = 0.1
		cfg.TypedRelationshipsEnabled = false
		cfg.CreateSymmetricRelationships = false
		cfg.ParallelProcessingEnabled = false
		cfg.EntityCacheSize = 0
	}

	store, err := graphstore.Open(ctx, ":memory:", cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", mode, err)
	}
	defer store.Close()

	counting := NewCountingProvider(chat)
	ex := extract.New(counting, model, cfg.TypedRelationshipsEnabled, cfg.MinRelationshipConfidence)

	return Run(ctx, mode, store, ex, counting, corpus, documentID, cfg.TypedRelationshipsEnabled, goldMerges)
}

// FormatReport renders a Report as human-readable text, in the same
// shape as the teacher's eval.FormatReport: a header line, the run
// totals, then the metric block.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Benchmark Report: %s ===\n", r.Mode)
	fmt.Fprintf(&b, "Total: %d | Succeeded: %d | Failed: %d\n", r.TotalChunks, r.Succeeded, r.Failed)
	fmt.Fprintf(&b, "Run time: %s\n\n", r.RunTime.Round(time.Millisecond))

	fmt.Fprintf(&b, "KPIs:\n")
	fmt.Fprintf(&b, "  Entities:                      %d\n", r.EntityCount)
	fmt.Fprintf(&b, "  Relationships:                 %d\n", r.RelationshipCount)
	fmt.Fprintf(&b, "  duplicate_entity_rate:         %.3f\n", r.DuplicateEntityRate)
	fmt.Fprintf(&b, "  merge_precision:               %.3f\n", r.MergePrecision)
	fmt.Fprintf(&b, "  edge_to_node_ratio:            %.3f\n", r.EdgeToNodeRatio)
	fmt.Fprintf(&b, "  typed_relationship_coverage:   %.3f\n", r.TypedRelationshipCoverage)
	fmt.Fprintf(&b, "  mean_llm_calls_per_chunk:      %.3f\n", r.MeanLLMCallsPerChunk)
	fmt.Fprintf(&b, "  throughput_chunks_per_second:  %.3f\n", r.ThroughputChunksPerSecond)
	fmt.Fprintf(&b, "  error_rate:                    %.3f\n", r.ErrorRate)
	return b.String()
}
