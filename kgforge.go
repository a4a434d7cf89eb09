// Package kgforge wires the extraction-to-storage pipeline's
// components together: configuration, the LM-backed Extractor, the
// GraphStore, and the Indexer that drives chunks through both.
package kgforge

import (
	"context"
	"fmt"

	"github.com/kgforge/kgforge/extract"
	"github.com/kgforge/kgforge/graphstore"
	"github.com/kgforge/kgforge/indexer"
	"github.com/kgforge/kgforge/kgconfig"
	"github.com/kgforge/kgforge/llm"
)

// Pipeline is the assembled extraction-to-storage pipeline: add text or
// pre-chunked text, get back entities and relationships persisted in
// the graph store.
type Pipeline struct {
	cfg     kgconfig.Config
	store   *graphstore.Store
	indexer *indexer.Indexer
}

// New assembles a Pipeline from cfg: it opens (or creates) the
// database, constructs the chat and embedding LM providers, and wires
// the Extractor and Indexer around them.
func New(ctx context.Context, cfg kgconfig.Config) (*Pipeline, error) {
	chatLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider,
		Model:    cfg.Chat.Model,
		BaseURL:  cfg.Chat.BaseURL,
		APIKey:   cfg.Chat.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat provider: %w", err)
	}

	embedLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	store, err := graphstore.Open(ctx, cfg.ResolveDBPath(), cfg, embedLLM)
	if err != nil {
		return nil, fmt.Errorf("opening graph store: %w", err)
	}

	ex := extract.New(chatLLM, cfg.Chat.Model, cfg.TypedRelationshipsEnabled, cfg.MinRelationshipConfidence)
	ix := indexer.New(store, ex, cfg)

	return &Pipeline{cfg: cfg, store: store, indexer: ix}, nil
}

// AddText chunks text with chunktext.Split and indexes the result. It
// is a thin pass-through to the Indexer, kept on Pipeline so callers
// don't need to reach into the assembled components directly.
func (p *Pipeline) AddText(ctx context.Context, documentID, text string) (indexer.Summary, error) {
	return p.indexer.AddText(ctx, documentID, text)
}

// AddChunks indexes pre-chunked text, bypassing chunktext.Split.
func (p *Pipeline) AddChunks(ctx context.Context, chunks []indexer.TextChunk) (indexer.Summary, error) {
	return p.indexer.AddChunks(ctx, chunks)
}

// Store returns the underlying graph store for diagnostic access, e.g.
// benchmark ground-truth checks or direct queries.
func (p *Pipeline) Store() *graphstore.Store {
	return p.store
}

// Close releases the underlying database connection.
func (p *Pipeline) Close() error {
	return p.store.Close()
}
