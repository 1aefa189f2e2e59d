// Package embed defines the embedding-provider capability set the store's
// vector lane depends on, and a deterministic in-memory implementation
// for tests standing in for a real embedding backend.
package embed

import (
	"context"
	"math"

	"github.com/waxrag/waxrag/mv2s"
)

// Identity tags the provider/model/dimension/normalization of an embedder,
// mirrored onto every embedding a Provider produces so a frame's embedding
// always carries enough context to know how it was produced.
type Identity = mv2s.EmbeddingIdentity

// Provider is the minimal embedding capability a vector-enabled
// orchestrator requires.
type Provider interface {
	Dimensions() uint32
	Normalize() bool
	Identity() (Identity, bool)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchProvider is the optional batching extension: an Orchestrator uses
// it when present to embed chunks in ingest_batch_size groups instead of
// one Embed call per chunk.
type BatchProvider interface {
	Provider
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

var _ BatchProvider = (*FakeEmbedder)(nil)

// FakeEmbedder is a deterministic, dependency-free embedder for tests: the
// vector for a string is derived from a simple rolling hash of its bytes,
// not from any real model, but is stable across calls and normalizes to
// unit length when configured to.
type FakeEmbedder struct {
	dims       uint32
	normalized bool
	identity   Identity
}

// NewFakeEmbedder builds a FakeEmbedder producing dims-wide vectors.
func NewFakeEmbedder(dims uint32, normalized bool) *FakeEmbedder {
	return &FakeEmbedder{
		dims:       dims,
		normalized: normalized,
		identity: Identity{
			Provider:   "waxrag-fake",
			Model:      "rolling-hash-v1",
			Dimensions: dims,
			Normalized: normalized,
		},
	}
}

func (f *FakeEmbedder) Dimensions() uint32 { return f.dims }
func (f *FakeEmbedder) Normalize() bool    { return f.normalized }
func (f *FakeEmbedder) Identity() (Identity, bool) { return f.identity, true }

func (f *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return f.embed(text), nil
}

func (f *FakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.embed(t)
	}
	return out, nil
}

func (f *FakeEmbedder) embed(text string) []float32 {
	vec := make([]float32, f.dims)
	var state uint32 = 2166136261 // FNV offset basis
	for i := 0; i < len(text); i++ {
		state ^= uint32(text[i])
		state *= 16777619
		vec[i%int(f.dims)] += float32(state%1000) / 1000.0
	}
	if !f.normalized {
		return vec
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1.0 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
