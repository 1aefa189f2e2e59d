// Package search implements the unified search core (spec §4.7): lane
// dispatch over the lex and vector engines, Reciprocal Rank Fusion for
// hybrid mode, and token-budgeted context assembly. It follows the
// teacher's index package's notion of a ranked candidate list, generalized
// from a single B-tree scan to multi-lane fan-in.
package search

import (
	"math"
	"sort"
	"strings"

	"github.com/waxrag/waxrag/lex"
	"github.com/waxrag/waxrag/vector"
)

// Mode selects which lanes a request consults.
type Mode int

const (
	ModeTextOnly Mode = iota
	ModeVectorOnly
	ModeHybrid
)

// defaultWindow bounds per-lane candidate generation when top_k is small.
const defaultWindow = 50

// rrfK is Reciprocal Rank Fusion's rank-smoothing constant.
const rrfK = 60

// Source identifies which lane produced a candidate.
type Source int

const (
	SourceText Source = iota
	SourceVector
	SourceStructuredMemory
)

// Request is a unified search request (spec §4.7).
type Request struct {
	Query             string
	Embedding         []float32
	TopK              int
	Mode              Mode
	Alpha             float64 // hybrid fusion weight; not read by Fuse, which uses plain RRF
	PreviewMaxBytes   int
	MaxContextTokens  int
	SnippetMaxTokens  int
	ExpansionMaxTokens int
}

// Candidate is one ranked hit before fusion, carrying its originating lane.
type Candidate struct {
	FrameID uint64
	Score   float64
	Source  Source
	Preview string
}

// Result is one fused, ranked hit.
type Result struct {
	FrameID uint64
	Score   float64
	Sources []Source
	Preview string
}

// RunLanes executes the lex and/or vector lane per mode and returns their
// raw (unfused) candidate lists. window caps how many candidates each lane
// is asked for.
func RunLanes(req Request, lexIndex *lex.Index, vecIndex *vector.Index) (textHits []lex.Hit, vecHits []vector.Hit, err error) {
	window := req.TopK
	if window < defaultWindow {
		window = defaultWindow
	}
	if req.Mode == ModeTextOnly || req.Mode == ModeHybrid {
		if lexIndex != nil {
			textHits = lexIndex.Search(req.Query, window, req.PreviewMaxBytes)
		}
	}
	if req.Mode == ModeVectorOnly || req.Mode == ModeHybrid {
		if vecIndex != nil && len(req.Embedding) > 0 {
			vecHits, err = vecIndex.Search(req.Embedding, window)
			if err != nil {
				return nil, nil, err
			}
		}
	}
	return textHits, vecHits, nil
}

// Fuse combines per-lane candidates per mode. For text_only/vector_only it
// is a straight rank-preserving pass-through; for hybrid it applies
// Reciprocal Rank Fusion: score(f) = Σ_lane 1/(k + rank_lane(f)), ties
// broken by lower frame_id.
func Fuse(mode Mode, textHits []lex.Hit, vecHits []vector.Hit) []Result {
	switch mode {
	case ModeTextOnly:
		out := make([]Result, 0, len(textHits))
		for _, h := range textHits {
			out = append(out, Result{FrameID: h.FrameID, Score: h.Score, Sources: []Source{SourceText}, Preview: h.Preview})
		}
		return out
	case ModeVectorOnly:
		out := make([]Result, 0, len(vecHits))
		for _, h := range vecHits {
			out = append(out, Result{FrameID: h.FrameID, Score: h.Score, Sources: []Source{SourceVector}})
		}
		return out
	default: // ModeHybrid
		scores := make(map[uint64]float64)
		sources := make(map[uint64]map[Source]bool)
		previews := make(map[uint64]string)
		add := func(id uint64, rank int, src Source, preview string) {
			scores[id] += 1.0 / float64(rrfK+rank+1)
			if sources[id] == nil {
				sources[id] = make(map[Source]bool)
			}
			sources[id][src] = true
			if preview != "" {
				previews[id] = preview
			}
		}
		for i, h := range textHits {
			add(h.FrameID, i, SourceText, h.Preview)
		}
		for i, h := range vecHits {
			add(h.FrameID, i, SourceVector, "")
		}
		out := make([]Result, 0, len(scores))
		for id, score := range scores {
			var srcs []Source
			for s := range sources[id] {
				srcs = append(srcs, s)
			}
			sort.Slice(srcs, func(i, j int) bool { return srcs[i] < srcs[j] })
			out = append(out, Result{FrameID: id, Score: score, Sources: srcs, Preview: previews[id]})
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Score != out[j].Score {
				return out[i].Score > out[j].Score
			}
			return out[i].FrameID < out[j].FrameID
		})
		return out
	}
}

// ContextItemKind classifies how an item was included in assembled context.
type ContextItemKind int

const (
	KindExpanded ContextItemKind = iota
	KindSnippet
	KindSurrogate
	KindPartial
)

// ContextItem is one piece of assembled RAG context.
type ContextItem struct {
	FrameID uint64
	Score   float64
	Sources []Source
	Kind    ContextItemKind
	Text    string
	Tokens  int
}

// Context is the assembled, token-budgeted RAG context.
type Context struct {
	Items       []ContextItem
	TotalTokens int
}

func countTokens(s string) int {
	return len(strings.Fields(s))
}

func clampPreview(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	n := maxBytes
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}

func truncateToTokens(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	fields := strings.Fields(s)
	if len(fields) <= maxTokens {
		return s
	}
	return strings.Join(fields[:maxTokens], " ")
}

// BuildFastRAGContext sorts results by (score desc, frame_id asc) with NaN
// normalized to 0, clamps to top_k, classifies items (first: expanded,
// rest: snippet, empty-preview: surrogate), and enforces a total token
// budget, truncating the item that would overflow it and stopping there.
func BuildFastRAGContext(results []Result, topK int, previewMaxBytes, maxContextTokens, snippetMaxTokens, expansionMaxTokens int) Context {
	norm := make([]Result, len(results))
	copy(norm, results)
	for i := range norm {
		if math.IsNaN(norm[i].Score) {
			norm[i].Score = 0
		}
	}
	sort.Slice(norm, func(i, j int) bool {
		if norm[i].Score != norm[j].Score {
			return norm[i].Score > norm[j].Score
		}
		return norm[i].FrameID < norm[j].FrameID
	})
	if topK >= 0 && len(norm) > topK {
		norm = norm[:topK]
	}

	var ctx Context
	for i, r := range norm {
		preview := clampPreview(r.Preview, previewMaxBytes)
		if preview == "" {
			item := ContextItem{FrameID: r.FrameID, Score: r.Score, Sources: r.Sources, Kind: KindSurrogate}
			if ctx.TotalTokens+item.Tokens > maxContextTokens {
				break
			}
			ctx.Items = append(ctx.Items, item)
			continue
		}
		budget := snippetMaxTokens
		kind := KindSnippet
		if i == 0 {
			budget = expansionMaxTokens
			kind = KindExpanded
		}
		text := truncateToTokens(preview, budget)
		tokens := countTokens(text)
		if ctx.TotalTokens+tokens > maxContextTokens {
			remaining := maxContextTokens - ctx.TotalTokens
			if remaining <= 0 {
				break
			}
			partial := truncateToTokens(text, remaining)
			ctx.Items = append(ctx.Items, ContextItem{
				FrameID: r.FrameID, Score: r.Score, Sources: r.Sources,
				Kind: KindPartial, Text: partial, Tokens: countTokens(partial),
			})
			ctx.TotalTokens += countTokens(partial)
			break
		}
		ctx.Items = append(ctx.Items, ContextItem{
			FrameID: r.FrameID, Score: r.Score, Sources: r.Sources,
			Kind: kind, Text: text, Tokens: tokens,
		})
		ctx.TotalTokens += tokens
	}
	return ctx
}
