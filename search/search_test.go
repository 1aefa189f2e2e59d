package search

import (
	"math"
	"testing"

	"github.com/waxrag/waxrag/lex"
	"github.com/waxrag/waxrag/vector"
)

func TestFuseTextOnlyPassesThroughRank(t *testing.T) {
	textHits := []lex.Hit{{FrameID: 3, Score: 2.0, Preview: "c"}, {FrameID: 1, Score: 1.0, Preview: "a"}}
	out := Fuse(ModeTextOnly, textHits, nil)
	if len(out) != 2 || out[0].FrameID != 3 || out[1].FrameID != 1 {
		t.Fatalf("expected pass-through order, got %+v", out)
	}
}

func TestFuseHybridRRFOrdersByCombinedRank(t *testing.T) {
	textHits := []lex.Hit{{FrameID: 1, Score: 5, Preview: "x"}, {FrameID: 2, Score: 4}}
	vecHits := []vector.Hit{{FrameID: 2, Score: 0.9}, {FrameID: 1, Score: 0.1}}
	out := Fuse(ModeHybrid, textHits, vecHits)
	if len(out) != 2 {
		t.Fatalf("expected 2 fused results, got %d", len(out))
	}
	// frame 1: rank0 text + rank1 vec = 1/61 + 1/62
	// frame 2: rank1 text + rank0 vec = 1/62 + 1/61
	// these are equal, so tie-break by lower frame id -> frame 1 first.
	if out[0].FrameID != 1 {
		t.Fatalf("expected tie broken by lower frame id, got %+v", out)
	}
}

func TestFuseHybridUnionsSourcesForSameFrame(t *testing.T) {
	textHits := []lex.Hit{{FrameID: 1, Score: 1, Preview: "a"}}
	vecHits := []vector.Hit{{FrameID: 1, Score: 1}}
	out := Fuse(ModeHybrid, textHits, vecHits)
	if len(out) != 1 || len(out[0].Sources) != 2 {
		t.Fatalf("expected single result carrying both sources, got %+v", out)
	}
}

func TestBuildFastRAGContextClassifiesFirstAsExpanded(t *testing.T) {
	results := []Result{
		{FrameID: 1, Score: 3, Preview: "first document text here"},
		{FrameID: 2, Score: 2, Preview: "second document text here"},
	}
	ctx := BuildFastRAGContext(results, 10, 1000, 1000, 1000, 1000)
	if len(ctx.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(ctx.Items))
	}
	if ctx.Items[0].Kind != KindExpanded {
		t.Fatalf("expected first item expanded, got %v", ctx.Items[0].Kind)
	}
	if ctx.Items[1].Kind != KindSnippet {
		t.Fatalf("expected second item snippet, got %v", ctx.Items[1].Kind)
	}
}

func TestBuildFastRAGContextSurrogateForEmptyPreview(t *testing.T) {
	results := []Result{{FrameID: 1, Score: 1, Preview: ""}}
	ctx := BuildFastRAGContext(results, 10, 100, 100, 100, 100)
	if len(ctx.Items) != 1 || ctx.Items[0].Kind != KindSurrogate {
		t.Fatalf("expected surrogate item, got %+v", ctx.Items)
	}
}

func TestBuildFastRAGContextEnforcesTokenBudgetWithPartialTruncation(t *testing.T) {
	results := []Result{
		{FrameID: 1, Score: 2, Preview: "one two three four five"},
		{FrameID: 2, Score: 1, Preview: "six seven eight nine ten"},
	}
	ctx := BuildFastRAGContext(results, 10, 1000, 7, 1000, 1000)
	if ctx.TotalTokens > 7 {
		t.Fatalf("expected total tokens clamped to budget, got %d", ctx.TotalTokens)
	}
	last := ctx.Items[len(ctx.Items)-1]
	if last.Kind != KindPartial {
		t.Fatalf("expected last item to be a partial truncation, got %+v", last)
	}
}

func TestBuildFastRAGContextNormalizesNaNScore(t *testing.T) {
	results := []Result{{FrameID: 1, Score: math.NaN(), Preview: "x"}, {FrameID: 2, Score: 0.5, Preview: "y"}}
	ctx := BuildFastRAGContext(results, 10, 100, 100, 100, 100)
	if len(ctx.Items) != 2 || ctx.Items[0].FrameID != 2 {
		t.Fatalf("expected NaN normalized to 0 and ranked last, got %+v", ctx.Items)
	}
}

func TestBuildFastRAGContextClampsToTopK(t *testing.T) {
	results := []Result{{FrameID: 1, Score: 3, Preview: "a"}, {FrameID: 2, Score: 2, Preview: "b"}, {FrameID: 3, Score: 1, Preview: "c"}}
	ctx := BuildFastRAGContext(results, 1, 100, 1000, 100, 100)
	if len(ctx.Items) != 1 {
		t.Fatalf("expected clamp to top_k=1, got %d", len(ctx.Items))
	}
}
