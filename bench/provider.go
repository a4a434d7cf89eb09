package bench

import (
	"context"
	"sync/atomic"

	"github.com/kgforge/kgforge/llm"
)

// CountingProvider wraps an llm.Provider and counts Chat calls, so
// mean_llm_calls_per_chunk can be measured without instrumenting the
// extractor itself.
type CountingProvider struct {
	inner     llm.Provider
	chatCalls int64
}

// NewCountingProvider returns a CountingProvider delegating to inner.
func NewCountingProvider(inner llm.Provider) *CountingProvider {
	return &CountingProvider{inner: inner}
}

func (p *CountingProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	atomic.AddInt64(&p.chatCalls, 1)
	return p.inner.Chat(ctx, req)
}

func (p *CountingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.inner.Embed(ctx, texts)
}

// ChatCalls returns the number of Chat calls observed so far.
func (p *CountingProvider) ChatCalls() int {
	return int(atomic.LoadInt64(&p.chatCalls))
}

// Reset zeroes the call counter, for reuse across benchmark runs.
func (p *CountingProvider) Reset() {
	atomic.StoreInt64(&p.chatCalls, 0)
}
