package graphstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kgforge/kgforge/kgerrors"
)

// RelationshipCandidate is one relationship extracted from a chunk,
// referencing its endpoints by the surface names the Extractor saw.
type RelationshipCandidate struct {
	SourceName  string
	TargetName  string
	Type        string
	Confidence  float64
	Description string
}

// ValidTypes is the fixed relationship type taxonomy.
var ValidTypes = map[string]bool{
	"hypernym": true, "hyponym": true, "meronym": true, "holonym": true,
	"synonym": true, "antonym": true, "causal": true, "temporal": true,
	"dependency": true, "reference": true, "generic": true,
}

// baseWeight is the fixed per-type weight table.
var baseWeight = map[string]float64{
	"hypernym":   1.0,
	"hyponym":    1.0,
	"meronym":    0.9,
	"holonym":    0.9,
	"synonym":    0.95,
	"antonym":    0.9,
	"causal":     0.8,
	"temporal":   0.7,
	"dependency": 0.85,
	"reference":  0.6,
	"generic":    0.5,
}

// symmetricTypes synthesizes an inverse edge — the dependency relation
// stays directed per the PRD even though it reads both ways.
var symmetricTypes = map[string]bool{"synonym": true, "antonym": true}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// weightFor computes the stored weight for a relationship: in legacy
// mode (typed relationships disabled) every relationship is recorded as
// generic with weight 0, per spec.
func weightFor(relType string, confidence float64, typedEnabled bool) (string, float64) {
	if !typedEnabled {
		return "generic", 0
	}
	if !ValidTypes[relType] {
		relType = "generic"
	}
	return relType, clamp01(confidence) * baseWeight[relType] * 10
}

// CreateRelationship inserts a directed edge, idempotent on
// (source,target,type). It computes the weight, enforces the
// out-degree cap, and — when enabled — synthesizes the symmetric
// inverse for synonym/antonym types. It runs in its own transaction;
// callers that need the relationship phase of a larger unit of work to
// commit atomically (Add) should use createRelationshipInTx instead.
func (s *Store) CreateRelationship(ctx context.Context, sourceID, targetID int64, relType string, confidence float64, description string, provenance Provenance, typedEnabled bool) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.createRelationshipInTx(ctx, tx, sourceID, targetID, relType, confidence, description, provenance, typedEnabled)
		return err
	})
	if err != nil {
		// isExpectedRelationshipRejection callers match on the sentinel
		// directly; inTx passes fn's error through unwrapped, so the
		// sentinel survives the round trip.
		return 0, err
	}
	return id, nil
}

// createRelationshipInTx is the transaction-scoped core of
// CreateRelationship, factored out so Add can run relationship
// creation and entity_chunks linking for a whole chunk as one
// transaction instead of one per call.
func (s *Store) createRelationshipInTx(ctx context.Context, tx *sql.Tx, sourceID, targetID int64, relType string, confidence float64, description string, provenance Provenance, typedEnabled bool) (int64, error) {
	storedType, weight := weightFor(relType, confidence, typedEnabled)

	id, err := s.insertRelationshipChecked(ctx, tx, sourceID, targetID, storedType, clamp01(confidence), weight, description, provenance, false)
	if err != nil {
		return 0, err
	}

	if typedEnabled && s.symmetricEnabled && symmetricTypes[storedType] {
		_, serr := s.insertRelationshipChecked(ctx, tx, targetID, sourceID, storedType, clamp01(confidence), weight, "[inverse] "+description, provenance, true)
		if serr != nil && serr != kgerrors.ErrDegreeCapped {
			slog.Warn("symmetric edge synthesis failed", "source", targetID, "target", sourceID, "type", storedType, "error", serr)
		}
	}

	return id, nil
}

func (s *Store) insertRelationshipChecked(ctx context.Context, tx *sql.Tx, sourceID, targetID int64, relType string, confidence, weight float64, description string, provenance Provenance, synthesized bool) (int64, error) {
	count, err := s.outgoingEdgeCount(ctx, tx, sourceID)
	if err != nil {
		return 0, err
	}
	if count >= s.maxEdgesPerEntity {
		slog.Info("relationship rejected: degree cap reached", "source_entity_id", sourceID, "cap", s.maxEdgesPerEntity)
		return 0, kgerrors.ErrDegreeCapped
	}

	var sourceChunkID *int64
	if provenance.ChunkID != 0 {
		id := provenance.ChunkID
		sourceChunkID = &id
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO relationships (source_entity_id, target_entity_id, relationship_type, confidence, weight, description, source_chunk_id, synthesized)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_entity_id, target_entity_id, relationship_type) DO NOTHING
	`, sourceID, targetID, relType, confidence, weight, description, sourceChunkID, synthesized)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", kgerrors.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", kgerrors.ErrStorage, err)
	}
	var id int64
	if n == 0 {
		// already exists; idempotent no-op, re-read its id.
		row := tx.QueryRowContext(ctx, `
			SELECT id FROM relationships
			WHERE source_entity_id = ? AND target_entity_id = ? AND relationship_type = ?
		`, sourceID, targetID, relType)
		if err := row.Scan(&id); err != nil {
			return 0, fmt.Errorf("%w: %v", kgerrors.ErrStorage, err)
		}
		return id, nil
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", kgerrors.ErrStorage, err)
	}
	return id, nil
}

// isExpectedRelationshipRejection reports whether err is one of the
// non-fatal, expected-in-normal-operation relationship rejections that
// the Indexer should count rather than treat as a chunk failure.
func isExpectedRelationshipRejection(err error) bool {
	return err == kgerrors.ErrDegreeCapped
}

func (s *Store) outgoingEdgeCount(ctx context.Context, tx *sql.Tx, sourceID int64) (int, error) {
	var n int
	row := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM relationships WHERE source_entity_id = ?", sourceID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", kgerrors.ErrStorage, err)
	}
	return n, nil
}
