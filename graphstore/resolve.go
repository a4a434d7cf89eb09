package graphstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kgforge/kgforge/kgerrors"
	"github.com/kgforge/kgforge/normalize"
)

// EntityCandidate is one entity extracted from a chunk, pending
// resolution against the knowledge base.
type EntityCandidate struct {
	Name        string
	EntityType  string
	Description string
	Covariates  map[string]string
}

// FindOrCreateEntity implements the six-step entity resolution
// algorithm: cache hit, canonical_id hit, embedding-similarity hit, or
// fresh insert. It is idempotent by canonical_id and safe for
// concurrent callers resolving the same candidate.
func (s *Store) FindOrCreateEntity(ctx context.Context, cand EntityCandidate) (int64, ResolutionKind, error) {
	cid := normalize.CanonicalID(cand.Name, cand.Description, s.canonicalizationEnabled)
	normalizedName := normalize.NormalizeName(cand.Name, s.canonicalizationEnabled)

	if s.cache != nil {
		if hit, ok := s.cache.Get(cid); ok {
			if err := s.mergeAliasAndCovariates(ctx, cid, cand, hit); err != nil {
				return 0, 0, err
			}
			return hit.ID, ByIDHit, nil
		}
	}

	result, err, _ := s.sf.Do(cid, func() (interface{}, error) {
		return s.resolveUnderLock(ctx, cid, normalizedName, cand)
	})
	if err != nil {
		return 0, 0, err
	}
	res := result.(resolution)
	if s.cache != nil {
		s.cache.Add(cid, res.cached)
	}
	return res.id, res.kind, nil
}

type resolution struct {
	id     int64
	kind   ResolutionKind
	cached cachedEntity
}

// resolveUnderLock runs steps 3-6 of the resolution algorithm. The
// caller has already missed the cache and serializes concurrent callers
// for the same canonical_id via singleflight.
func (s *Store) resolveUnderLock(ctx context.Context, cid, normalizedName string, cand EntityCandidate) (resolution, error) {
	if existing, ok, err := s.lookupByCanonicalID(ctx, cid); err != nil {
		return resolution{}, err
	} else if ok {
		merged, err := s.mergeAndCache(ctx, existing, cand)
		if err != nil {
			return resolution{}, err
		}
		return resolution{id: existing.ID, kind: ByIDHit, cached: merged}, nil
	}

	if s.embedder != nil {
		input := normalize.EmbeddingInput(cand.Name, cand.Description, s.canonicalizationEnabled)
		vecs, err := s.embedder.Embed(ctx, []string{input})
		if err == nil && len(vecs) == 1 {
			if existing, similarity, ok, err := s.topSimilarEntity(ctx, vecs[0]); err != nil {
				return resolution{}, err
			} else if ok && similarity >= s.distanceThreshold {
				merged, err := s.mergeAndCache(ctx, existing, cand)
				if err != nil {
					return resolution{}, err
				}
				return resolution{id: existing.ID, kind: BySimilarityHit, cached: merged}, nil
			}
			id, cached, err := s.insertEntity(ctx, cid, normalizedName, cand, vecs[0])
			if err != nil {
				if isUniqueViolation(err) {
					slog.Warn("resolution race on canonical_id, re-reading winner", "canonical_id", cid)
					existing, ok, rerr := s.lookupByCanonicalID(ctx, cid)
					if rerr != nil {
						return resolution{}, rerr
					}
					if ok {
						return resolution{id: existing.ID, kind: ByIDHit, cached: toCached(existing)}, nil
					}
				}
				return resolution{}, err
			}
			return resolution{id: id, kind: FreshlyInserted, cached: cached}, nil
		}
	}

	id, cached, err := s.insertEntity(ctx, cid, normalizedName, cand, nil)
	if err != nil {
		if isUniqueViolation(err) {
			existing, ok, rerr := s.lookupByCanonicalID(ctx, cid)
			if rerr != nil {
				return resolution{}, rerr
			}
			if ok {
				return resolution{id: existing.ID, kind: ByIDHit, cached: toCached(existing)}, nil
			}
		}
		return resolution{}, err
	}
	return resolution{id: id, kind: FreshlyInserted, cached: cached}, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toCached(e Entity) cachedEntity {
	return cachedEntity{
		ID:             e.ID,
		Name:           e.Name,
		NormalizedName: e.NormalizedName,
		Description:    e.Description,
		Aliases:        e.Aliases,
		Covariates:     e.Covariates,
	}
}

func (s *Store) lookupByCanonicalID(ctx context.Context, cid string) (Entity, bool, error) {
	var e Entity
	var desc, aliases, covariates sql.NullString
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, entity_type, canonical_id, normalized_name, description, aliases, metadata
		FROM entities WHERE canonical_id = ?
	`, cid)
	err := row.Scan(&e.ID, &e.Name, &e.EntityType, &e.CanonicalID, &e.NormalizedName, &desc, &aliases, &covariates)
	if err == sql.ErrNoRows {
		return Entity{}, false, nil
	}
	if err != nil {
		return Entity{}, false, fmt.Errorf("%w: %v", kgerrors.ErrStorage, err)
	}
	e.Description = desc.String
	e.Aliases = unmarshalStrings(aliases.String)
	e.Covariates = unmarshalCovariates(covariates.String)
	return e, true, nil
}

// topSimilarEntity runs a top-1 vector KNN search over vec_entities
// (declared with the cosine distance metric) and converts cosine
// distance to a similarity score.
func (s *Store) topSimilarEntity(ctx context.Context, embedding []float32) (Entity, float64, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT v.entity_id, v.distance
		FROM vec_entities v
		WHERE v.embedding MATCH ? AND k = 1
		ORDER BY v.distance
	`, serializeFloat32(embedding))

	var entityID int64
	var distance float64
	if err := row.Scan(&entityID, &distance); err != nil {
		if err == sql.ErrNoRows {
			return Entity{}, 0, false, nil
		}
		return Entity{}, 0, false, fmt.Errorf("%w: %v", kgerrors.ErrStorage, err)
	}

	var e Entity
	var desc, aliases, covariates sql.NullString
	erow := s.db.QueryRowContext(ctx, `
		SELECT id, name, entity_type, canonical_id, normalized_name, description, aliases, metadata
		FROM entities WHERE id = ?
	`, entityID)
	if err := erow.Scan(&e.ID, &e.Name, &e.EntityType, &e.CanonicalID, &e.NormalizedName, &desc, &aliases, &covariates); err != nil {
		return Entity{}, 0, false, fmt.Errorf("%w: %v", kgerrors.ErrStorage, err)
	}
	e.Description = desc.String
	e.Aliases = unmarshalStrings(aliases.String)
	e.Covariates = unmarshalCovariates(covariates.String)

	return e, 1.0 - distance, true, nil
}

func (s *Store) insertEntity(ctx context.Context, cid, normalizedName string, cand EntityCandidate, embedding []float32) (int64, cachedEntity, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO entities (name, entity_type, canonical_id, normalized_name, description, aliases, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, cand.Name, cand.EntityType, cid, normalizedName, cand.Description, "[]", marshalCovariates(cand.Covariates))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		if embedding != nil {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO vec_entities (entity_id, embedding) VALUES (?, ?)",
				id, serializeFloat32(embedding)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, cachedEntity{}, fmt.Errorf("%w: %v", kgerrors.ErrStorage, err)
	}
	return id, cachedEntity{
		ID:             id,
		Name:           cand.Name,
		NormalizedName: normalizedName,
		Description:    cand.Description,
		Aliases:        nil,
		Covariates:     cand.Covariates,
	}, nil
}

// mergeAndCache applies the alias-append / covariate-merge rule to an
// existing entity hit, persists it, and returns the cache-ready value.
func (s *Store) mergeAndCache(ctx context.Context, existing Entity, cand EntityCandidate) (cachedEntity, error) {
	aliases := existing.Aliases
	if s.aliasTrackingEnabled && cand.Name != existing.Name &&
		normalize.NormalizeName(cand.Name, s.canonicalizationEnabled) != existing.NormalizedName {
		aliases = appendDeduped(aliases, cand.Name)
	}

	covariates := unionCovariates(existing.Covariates, cand.Covariates)

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE entities SET aliases = ?, metadata = ? WHERE id = ?
		`, marshalStrings(aliases), marshalCovariates(covariates), existing.ID)
		return err
	}); err != nil {
		return cachedEntity{}, fmt.Errorf("%w: %v", kgerrors.ErrStorage, err)
	}

	return cachedEntity{
		ID:             existing.ID,
		Name:           existing.Name,
		NormalizedName: existing.NormalizedName,
		Description:    existing.Description,
		Aliases:        aliases,
		Covariates:     covariates,
	}, nil
}

// mergeAliasAndCovariates is the cache-hit fast path: same merge rule
// as mergeAndCache, operating on the cached value instead of a fresh
// read, and writing the result back to both cache and database.
func (s *Store) mergeAliasAndCovariates(ctx context.Context, cid string, cand EntityCandidate, hit cachedEntity) error {
	id := hit.ID
	aliases := hit.Aliases
	changed := false
	if s.aliasTrackingEnabled && cand.Name != hit.Name &&
		normalize.NormalizeName(cand.Name, s.canonicalizationEnabled) != hit.NormalizedName {
		before := len(aliases)
		aliases = appendDeduped(aliases, cand.Name)
		changed = len(aliases) != before
	}
	covariates, covariatesChanged := unionCovariatesChanged(hit.Covariates, cand.Covariates)
	if !changed && !covariatesChanged {
		return nil
	}

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE entities SET aliases = ?, metadata = ? WHERE id = ?
		`, marshalStrings(aliases), marshalCovariates(covariates), id)
		return err
	}); err != nil {
		return fmt.Errorf("%w: %v", kgerrors.ErrStorage, err)
	}

	s.cache.Add(cid, cachedEntity{ID: id, Name: hit.Name, NormalizedName: hit.NormalizedName, Description: hit.Description, Aliases: aliases, Covariates: covariates})
	return nil
}

func appendDeduped(aliases []string, surface string) []string {
	normSurface := normalize.NormalizeName(surface, true)
	for _, a := range aliases {
		if normalize.NormalizeName(a, true) == normSurface {
			return aliases
		}
	}
	return append(aliases, surface)
}

func unionCovariates(a, b map[string]string) map[string]string {
	out, _ := unionCovariatesChanged(a, b)
	return out
}

// unionCovariatesChanged merges b into a: keys absent from a are added;
// conflicting keys keep a's existing value.
func unionCovariatesChanged(a, b map[string]string) (map[string]string, bool) {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	changed := false
	for k, v := range b {
		if _, exists := out[k]; !exists {
			out[k] = v
			changed = true
		}
	}
	return out, changed
}
