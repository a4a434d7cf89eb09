package graphstore

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension used for entity similarity search.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Chunks are produced externally (document loading/chunking is out of
-- scope); this table exists only to give entities a provenance anchor.
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    document_id TEXT NOT NULL,
    external_id TEXT NOT NULL UNIQUE,
    content TEXT NOT NULL,
    token_count INTEGER,
    content_hash TEXT NOT NULL
);

-- Knowledge graph: entities, deduplicated by canonical_id.
CREATE TABLE IF NOT EXISTS entities (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    canonical_id TEXT NOT NULL,
    normalized_name TEXT NOT NULL,
    description TEXT,
    aliases JSON,
    metadata JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(canonical_id)
);

-- Vector embeddings of entities via sqlite-vec, used for similarity-based
-- resolution when an exact canonical_id match is absent.
CREATE VIRTUAL TABLE IF NOT EXISTS vec_entities USING vec0(
    entity_id INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

-- Knowledge graph: relationships, typed and weighted.
CREATE TABLE IF NOT EXISTS relationships (
    id INTEGER PRIMARY KEY,
    source_entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    target_entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    relationship_type TEXT NOT NULL DEFAULT 'generic',
    confidence REAL NOT NULL DEFAULT 0.8,
    weight REAL NOT NULL DEFAULT 0.0,
    description TEXT,
    source_chunk_id INTEGER REFERENCES chunks(id),
    synthesized INTEGER NOT NULL DEFAULT 0,
    metadata JSON,
    UNIQUE(source_entity_id, target_entity_id, relationship_type)
);

-- Entity-to-chunk mapping (provenance).
CREATE TABLE IF NOT EXISTS entity_chunks (
    entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    chunk_id INTEGER NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
    PRIMARY KEY (entity_id, chunk_id)
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_entities_canonical ON entities(canonical_id);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_normalized_name ON entities(normalized_name);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_entity_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_entity_id);
CREATE INDEX IF NOT EXISTS idx_relationships_type ON relationships(relationship_type);
CREATE INDEX IF NOT EXISTS idx_relationships_weight ON relationships(weight DESC);
CREATE INDEX IF NOT EXISTS idx_entity_chunks_chunk ON entity_chunks(chunk_id);
`, embeddingDim)
}
