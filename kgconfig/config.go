// Package kgconfig holds the pipeline's configuration: a single
// immutable Config loaded once at construction, following the same
// typed-struct-plus-defaults shape the rest of the stack uses.
package kgconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/kgforge/kgforge/kgerrors"
)

// LLMConfig configures a single LM provider endpoint.
type LLMConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// Config holds every tunable of the extraction-to-storage pipeline.
type Config struct {
	// DBPath is the full path to the SQLite database file. If empty,
	// defaults to ~/.kgforge/<DBName>.db.
	DBPath     string
	DBName     string
	StorageDir string // "home" (default) or "local"/"cwd"

	Chat      LLMConfig
	Embedding LLMConfig

	EmbeddingDim int

	// EnableEnhancedKG toggles unified single-call extraction, typed
	// relationships, the entity cache, symmetric-edge synthesis, and
	// parallel chunk processing as a group. When false, Load switches
	// the pipeline to legacy mode: similarity threshold 0.1, two-call
	// extraction, generic relationships only, no cache, no symmetric
	// edges, sequential processing. Only Load applies this; nothing else
	// reads the field, so setting it on a Config built another way does
	// not change the other fields.
	EnableEnhancedKG bool

	CanonicalizationEnabled   bool
	TypedRelationshipsEnabled bool
	AliasTrackingEnabled      bool
	ParallelProcessingEnabled bool
	CreateSymmetricRelationships bool

	EntityDistanceThreshold   float64
	EntityCacheSize           int
	MaxWorkers                int
	ChunkTimeoutSeconds        int
	MinRelationshipConfidence  float64
	MaxEdgesPerEntity           int
}

// Default returns a Config with the defaults from the component table,
// enhanced mode on.
func Default() Config {
	return Config{
		DBName:     "kgforge",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		EmbeddingDim: 768,

		EnableEnhancedKG:              true,
		CanonicalizationEnabled:       true,
		TypedRelationshipsEnabled:     true,
		AliasTrackingEnabled:          true,
		ParallelProcessingEnabled:     true,
		CreateSymmetricRelationships:  true,

		EntityDistanceThreshold:   0.85,
		EntityCacheSize:           1000,
		MaxWorkers:                runtime.NumCPU() + 4,
		ChunkTimeoutSeconds:       30,
		MinRelationshipConfidence: 0.3,
		MaxEdgesPerEntity:         50,
	}
}

// Load returns Default() overridden by the seven public environment
// variables, then normalized so legacy mode (EnableEnhancedKG=false)
// disables the features that depend on it.
func Load() (Config, error) {
	cfg := Default()

	if v, ok := os.LookupEnv("ENABLE_ENHANCED_KG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: ENABLE_ENHANCED_KG: %v", kgerrors.ErrConfig, err)
		}
		cfg.EnableEnhancedKG = b
	}
	if v, ok := os.LookupEnv("KG_ENTITY_DISTANCE_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%w: KG_ENTITY_DISTANCE_THRESHOLD: %v", kgerrors.ErrConfig, err)
		}
		cfg.EntityDistanceThreshold = f
	}
	if v, ok := os.LookupEnv("ENTITY_CACHE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: ENTITY_CACHE_SIZE: %v", kgerrors.ErrConfig, err)
		}
		cfg.EntityCacheSize = n
	}
	if v, ok := os.LookupEnv("KG_MAX_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: KG_MAX_WORKERS: %v", kgerrors.ErrConfig, err)
		}
		cfg.MaxWorkers = n
	}
	if v, ok := os.LookupEnv("KG_CHUNK_TIMEOUT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: KG_CHUNK_TIMEOUT: %v", kgerrors.ErrConfig, err)
		}
		cfg.ChunkTimeoutSeconds = n
	}
	if v, ok := os.LookupEnv("KG_MIN_RELATIONSHIP_CONFIDENCE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%w: KG_MIN_RELATIONSHIP_CONFIDENCE: %v", kgerrors.ErrConfig, err)
		}
		cfg.MinRelationshipConfidence = f
	}
	if v, ok := os.LookupEnv("KG_MAX_EDGES_PER_ENTITY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: KG_MAX_EDGES_PER_ENTITY: %v", kgerrors.ErrConfig, err)
		}
		cfg.MaxEdgesPerEntity = n
	}

	cfg.normalize()
	return cfg, nil
}

// normalize applies legacy-mode downgrades when enhanced mode is off.
func (c *Config) normalize() {
	if !c.EnableEnhancedKG {
		c.EntityDistanceThreshold = 0.1
		c.TypedRelationshipsEnabled = false
		c.CreateSymmetricRelationships = false
		c.ParallelProcessingEnabled = false
		c.EntityCacheSize = 0
	}
}

// ResolveDBPath computes the final database path from the config
// fields, mirroring the storage-dir switch used throughout the stack.
func (c *Config) ResolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	name := c.DBName
	if name == "" {
		name = "kgforge"
	}
	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".kgforge", name+".db")
	}
}
