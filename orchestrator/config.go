// Package orchestrator ties the store and its three search engines into
// a single cooperative-task API for the RAG front door: chunking,
// embedding cache/batching, fact journaling, and flush-gated commit, all
// behind one owning caller driving one store.
package orchestrator

import (
	"github.com/waxrag/waxrag/search"
	"github.com/waxrag/waxrag/waxerr"
)

// ChunkingConfig controls Remember's overlapping-window splitter.
type ChunkingConfig struct {
	TargetTokens  int
	OverlapTokens int
}

// RAGConfig controls Recall's lane dispatch and context assembly.
type RAGConfig struct {
	SearchMode        search.Mode
	SearchTopK        int
	MaxSnippets       int
	PreviewMaxBytes   int
	MaxContextTokens  int
	SnippetMaxTokens  int
	ExpansionMaxTokens int
}

// Config is the orchestrator's full policy surface.
type Config struct {
	EnableTextSearch       bool
	EnableVectorSearch     bool
	Chunking               ChunkingConfig
	IngestBatchSize        int
	EmbeddingCacheCapacity int
	RAG                    RAGConfig
}

// validate rejects inconsistent policy combinations: a search mode
// without its lane enabled, hybrid without both lanes, and any
// vector-consuming mode without an embedder.
func (c Config) validate(hasEmbedder bool) error {
	const op = "orchestrator: config"
	switch c.RAG.SearchMode {
	case search.ModeTextOnly:
		if !c.EnableTextSearch {
			return waxerr.New(op, waxerr.KindPolicy, "text_only mode requires text search enabled")
		}
	case search.ModeVectorOnly:
		if !c.EnableVectorSearch {
			return waxerr.New(op, waxerr.KindPolicy, "vector_only mode requires vector search enabled")
		}
		if !hasEmbedder {
			return waxerr.New(op, waxerr.KindPolicy, "vector_only mode requires an embedding provider")
		}
	case search.ModeHybrid:
		if !c.EnableTextSearch || !c.EnableVectorSearch {
			return waxerr.New(op, waxerr.KindPolicy, "hybrid mode requires both text and vector search enabled")
		}
		if !hasEmbedder {
			return waxerr.New(op, waxerr.KindPolicy, "hybrid mode requires an embedding provider")
		}
	default:
		return waxerr.New(op, waxerr.KindPolicy, "unknown search mode")
	}
	return nil
}
