// Package indexer drives chunks through extraction and storage: the
// Indexer component. It owns the per-chunk timeout, the worker pool for
// parallel processing, and the error-isolation policy that lets one bad
// chunk fail without aborting the rest.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kgforge/kgforge/chunktext"
	"github.com/kgforge/kgforge/graphstore"
	"github.com/kgforge/kgforge/kgconfig"
	"github.com/kgforge/kgforge/kgerrors"
)

// Extractor is the oracle boundary for turning chunk text into a
// candidate extraction. extract.Extractor satisfies this structurally.
type Extractor interface {
	Extract(ctx context.Context, chunkID string, text string) (graphstore.Extraction, error)
}

// FailureRecord describes one chunk that did not make it into the
// graph, for the caller's own reporting and retry decisions.
type FailureRecord struct {
	ChunkID    string
	DocumentID string
	Err        error
}

// Summary is the result of AddChunks: how many chunks succeeded and,
// for every one that didn't, what went wrong.
type Summary struct {
	Succeeded int
	Failed    []FailureRecord
}

// Indexer wires the Extractor and GraphStore components together and
// applies the concurrency and timeout policy spec'd for add_chunks.
type Indexer struct {
	store     *graphstore.Store
	extractor Extractor
	cfg       kgconfig.Config
}

// New returns an Indexer over an already-open store and extractor.
func New(store *graphstore.Store, extractor Extractor, cfg kgconfig.Config) *Indexer {
	return &Indexer{store: store, extractor: extractor, cfg: cfg}
}

// TextChunk is one unit of work: caller-supplied text plus the
// document and chunk identifiers used for provenance and idempotency.
type TextChunk struct {
	DocumentID string
	ExternalID string
	Content    string
}

// AddText splits text into chunks with chunktext.Split and runs them
// through AddChunks. Chunking itself is not part of the concurrency or
// error-isolation policy — it happens synchronously before any worker
// is started.
func (ix *Indexer) AddText(ctx context.Context, documentID string, text string) (Summary, error) {
	fragments := chunktext.Split(text, chunktext.DefaultOptions())
	chunks := make([]TextChunk, len(fragments))
	for i, f := range fragments {
		chunks[i] = TextChunk{
			DocumentID: documentID,
			ExternalID: fmt.Sprintf("%s#%d", documentID, i),
			Content:    f,
		}
	}
	return ix.AddChunks(ctx, chunks)
}

// AddChunks persists each chunk's provenance row, then resolves its
// entities and relationships via the Extractor and GraphStore. When
// ParallelProcessingEnabled is set, chunks are processed concurrently
// with at most MaxWorkers in flight; otherwise they run sequentially.
// Every chunk gets its own ChunkTimeoutSeconds deadline, and one
// chunk's failure never prevents the others from being attempted.
func (ix *Indexer) AddChunks(ctx context.Context, chunks []TextChunk) (Summary, error) {
	if !ix.cfg.ParallelProcessingEnabled {
		return ix.addSequential(ctx, chunks)
	}
	return ix.addParallel(ctx, chunks)
}

func (ix *Indexer) addSequential(ctx context.Context, chunks []TextChunk) (Summary, error) {
	var summary Summary
	for _, c := range chunks {
		if err := ix.processOne(ctx, c); err != nil {
			summary.Failed = append(summary.Failed, FailureRecord{ChunkID: c.ExternalID, DocumentID: c.DocumentID, Err: err})
			continue
		}
		summary.Succeeded++
	}
	return summary, nil
}

func (ix *Indexer) addParallel(ctx context.Context, chunks []TextChunk) (Summary, error) {
	var (
		mu      sync.Mutex
		summary Summary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.MaxWorkers)

	for _, c := range chunks {
		c := c
		g.Go(func() error {
			err := ix.processOne(gctx, c)
			mu.Lock()
			if err != nil {
				summary.Failed = append(summary.Failed, FailureRecord{ChunkID: c.ExternalID, DocumentID: c.DocumentID, Err: err})
			} else {
				summary.Succeeded++
			}
			mu.Unlock()
			// Errors are recorded in the summary, not propagated: one
			// chunk's failure must not cancel the group's context and
			// abort the others.
			return nil
		})
	}

	// g.Wait() only returns an error here if a worker func itself
	// returned one, which the closure above never does by design.
	_ = g.Wait()

	return summary, nil
}

// processOne runs the full per-chunk pipeline under its own deadline:
// persist provenance, extract, then store. Entities are always
// resolved before relationships within the chunk, per the ordering
// invariant enforced inside graphstore.Store.Add.
func (ix *Indexer) processOne(ctx context.Context, c TextChunk) error {
	timeout := time.Duration(ix.cfg.ChunkTimeoutSeconds) * time.Second
	chunkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	chunkRowID, err := ix.store.UpsertChunk(chunkCtx, graphstore.Chunk{
		DocumentID:  c.DocumentID,
		ExternalID:  c.ExternalID,
		Content:     c.Content,
		TokenCount:  chunktext.EstimateTokens(c.Content),
		ContentHash: contentHash(c.Content),
	})
	if err != nil {
		return err
	}

	extraction, err := ix.extractor.Extract(chunkCtx, c.ExternalID, c.Content)
	if err != nil {
		return classifyTimeout(chunkCtx, c.ExternalID, err)
	}

	provenance := graphstore.Provenance{DocumentID: c.DocumentID, ChunkID: chunkRowID}
	result, err := ix.store.Add(chunkCtx, extraction, provenance, ix.cfg.TypedRelationshipsEnabled)
	if err != nil {
		return classifyTimeout(chunkCtx, c.ExternalID, err)
	}

	slog.Debug("chunk indexed", "chunk_id", c.ExternalID,
		"entities_resolved", result.EntitiesResolved,
		"relationships_created", result.RelationshipsCreated,
		"relationships_dropped", result.RelationshipsDropped)
	return nil
}

// classifyTimeout wraps err as a ChunkTimeoutError when the chunk's own
// deadline is what actually fired, as opposed to the caller's context
// being cancelled for some other reason.
func classifyTimeout(ctx context.Context, chunkID string, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &kgerrors.ChunkTimeoutError{ChunkID: chunkID, Timeout: err}
	}
	if ctx.Err() == context.Canceled {
		return &kgerrors.ChunkCancelledError{ChunkID: chunkID, Cause: err}
	}
	return err
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
