// Package graphstore implements the GraphStore component: transactional
// persistence with vector-similarity-based entity resolution, an LRU
// entity cache, relationship weighting, symmetric-edge synthesis, and
// degree-explosion guardrails.
package graphstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"

	"github.com/kgforge/kgforge/kgconfig"
	"github.com/kgforge/kgforge/kgerrors"
)

func init() {
	sqlite_vec.Auto()
}

// Embedder is the embedding oracle boundary: given texts, return
// fixed-dimension vectors. It is satisfied structurally by
// llm.Provider's Embed method — graphstore never imports llm, keeping
// the dependency direction the oracle-indirection design note requires.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Entity is the node type.
type Entity struct {
	ID             int64
	Name           string // original surface form first seen
	EntityType     string
	CanonicalID    string
	NormalizedName string
	Description    string
	Aliases        []string
	Covariates     map[string]string
}

// Relationship is a directed, typed, weighted edge between two entities.
type Relationship struct {
	ID             int64
	SourceEntityID int64
	TargetEntityID int64
	Type           string
	Confidence     float64
	Weight         float64
	Description    string
	SourceChunkID  *int64
	Synthesized    bool
}

// Chunk is the provenance anchor entities and relationships are linked
// back to. Chunking itself happens outside this package.
type Chunk struct {
	ID          int64
	DocumentID  string
	ExternalID  string
	Content     string
	TokenCount  int
	ContentHash string
}

// Provenance identifies the chunk a candidate was extracted from.
type Provenance struct {
	DocumentID string
	ChunkID    int64
}

// ResolutionKind reports how find_or_create_entity resolved a candidate.
type ResolutionKind int

const (
	FreshlyInserted ResolutionKind = iota
	ByIDHit
	BySimilarityHit
)

func (k ResolutionKind) String() string {
	switch k {
	case ByIDHit:
		return "by_id_hit"
	case BySimilarityHit:
		return "by_similarity_hit"
	default:
		return "freshly_inserted"
	}
}

// cachedEntity is the EntityCache value type: entity id plus the
// metadata needed to merge aliases/covariates without a DB round trip.
type cachedEntity struct {
	ID             int64
	Name           string
	NormalizedName string
	Description    string
	Aliases        []string
	Covariates     map[string]string
}

// Store wraps the SQLite database backing one knowledge base.
type Store struct {
	db           *sql.DB
	embeddingDim int
	embedder     Embedder

	canonicalizationEnabled bool
	aliasTrackingEnabled    bool
	symmetricEnabled        bool
	distanceThreshold       float64
	maxEdgesPerEntity       int

	cache *lru.Cache[string, cachedEntity]
	sf    singleflight.Group
}

// Open creates (or opens) a SQLite database at dbPath and initializes
// the schema, connection pool, migrations, and entity cache from cfg.
func Open(ctx context.Context, dbPath string, cfg kgconfig.Config, embedder Embedder) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: creating db directory: %v", kgerrors.ErrStorage, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", kgerrors.ErrStorage, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pinging database: %v", kgerrors.ErrStorage, err)
	}

	if _, err := db.ExecContext(ctx, schemaSQL(cfg.EmbeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating schema: %v", kgerrors.ErrStorage, err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{
		db:                      db,
		embeddingDim:            cfg.EmbeddingDim,
		embedder:                embedder,
		canonicalizationEnabled: cfg.CanonicalizationEnabled,
		aliasTrackingEnabled:    cfg.AliasTrackingEnabled,
		symmetricEnabled:        cfg.CreateSymmetricRelationships,
		distanceThreshold:       cfg.EntityDistanceThreshold,
		maxEdgesPerEntity:       cfg.MaxEdgesPerEntity,
	}

	if cfg.EntityCacheSize > 0 {
		cache, err := lru.New[string, cachedEntity](cfg.EntityCacheSize)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: creating entity cache: %v", kgerrors.ErrConfig, err)
		}
		s.cache = cache
	}

	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: running migrations: %v", kgerrors.ErrStorage, err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for diagnostics and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpsertChunk records a chunk's provenance row, keyed by its caller-
// supplied external ID, and returns its internal entity-linking ID.
func (s *Store) UpsertChunk(ctx context.Context, c Chunk) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks (document_id, external_id, content, token_count, content_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET content = excluded.content
	`, c.DocumentID, c.ExternalID, c.Content, c.TokenCount, c.ContentHash)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", kgerrors.ErrStorage, err)
	}
	// LastInsertId is not updated when the upsert takes the UPDATE path,
	// so the row's id is always read back by its external ID.
	var id int64
	row := s.db.QueryRowContext(ctx, "SELECT id FROM chunks WHERE external_id = ?", c.ExternalID)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("%w: %v", kgerrors.ErrStorage, err)
	}
	return id, nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", kgerrors.ErrStorage, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", kgerrors.ErrStorage, err)
	}
	return nil
}

func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func marshalStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func marshalCovariates(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalCovariates(s string) map[string]string {
	if s == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
