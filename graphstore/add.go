package graphstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kgforge/kgforge/kgerrors"
)

// Extraction is the transient record the Extractor produces for one
// chunk: entity candidates and relationship candidates referencing
// those entities by surface name. It is discarded after Add persists
// it.
type Extraction struct {
	Entities      []EntityCandidate
	Relationships []RelationshipCandidate
}

// AddResult summarizes what Add actually persisted, for the Indexer's
// per-chunk bookkeeping and the benchmark reporter's KPIs.
type AddResult struct {
	EntitiesResolved     int
	RelationshipsCreated int
	RelationshipsDropped int

	// ResolutionKinds counts how each resolved entity was obtained, for
	// the benchmark reporter's duplicate_entity_rate KPI.
	ResolutionKinds map[ResolutionKind]int
}

// Add resolves every entity candidate in the extraction, then inserts
// every relationship candidate — entities always precede relationships
// within one chunk, per the ordering invariant. Relationships
// referencing an entity name absent from Entities are dropped.
//
// Entity resolution is atomic per entity, not per chunk: each
// FindOrCreateEntity call commits (or idempotently no-ops) on its own,
// serialized per canonical_id by the singleflight group rather than by
// a chunk-wide lock, because resolution can call out to the embedder
// and must stay coherent across concurrently-processed chunks that
// happen to name the same entity — a single transaction spanning the
// whole chunk would either hold that lock across a network call or
// have to be abandoned for the per-entity critical section entirely.
// The relationship-creation and entity_chunks-linking phase that
// follows has no such cross-chunk coordination requirement, so it runs
// as one transaction: a chunk never ends up with some of its
// relationships committed and the rest lost to a later failure.
func (s *Store) Add(ctx context.Context, ex Extraction, provenance Provenance, typedRelationshipsEnabled bool) (AddResult, error) {
	result := AddResult{ResolutionKinds: make(map[ResolutionKind]int)}

	byName := make(map[string]int64, len(ex.Entities))
	for _, cand := range ex.Entities {
		id, kind, err := s.FindOrCreateEntity(ctx, cand)
		if err != nil {
			return result, err
		}
		byName[cand.Name] = id
		result.EntitiesResolved++
		result.ResolutionKinds[kind]++
		slog.Debug("entity resolved", "name", cand.Name, "kind", kind.String(), "entity_id", id)
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, rel := range ex.Relationships {
			sourceID, sourceOK := byName[rel.SourceName]
			targetID, targetOK := byName[rel.TargetName]
			if !sourceOK || !targetOK {
				result.RelationshipsDropped++
				slog.Debug("relationship dropped: dangling endpoint", "source", rel.SourceName, "target", rel.TargetName)
				continue
			}

			_, err := s.createRelationshipInTx(ctx, tx, sourceID, targetID, rel.Type, rel.Confidence, rel.Description, provenance, typedRelationshipsEnabled)
			switch {
			case err == nil:
				result.RelationshipsCreated++
			case isExpectedRelationshipRejection(err):
				result.RelationshipsDropped++
			default:
				return err
			}
		}

		if provenance.ChunkID != 0 {
			for _, id := range byName {
				if err := linkEntityChunkInTx(ctx, tx, id, provenance.ChunkID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	return result, nil
}

func linkEntityChunkInTx(ctx context.Context, tx *sql.Tx, entityID, chunkID int64) error {
	_, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO entity_chunks (entity_id, chunk_id) VALUES (?, ?)",
		entityID, chunkID)
	if err != nil {
		return fmt.Errorf("%w: %v", kgerrors.ErrStorage, err)
	}
	return nil
}
