package vector

import (
	"math"
	"testing"
)

func normalize(v []float32) []float32 {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	n = math.Sqrt(n)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

func TestCosineSearchRanksAndBreaksTies(t *testing.T) {
	x := New(MetricCosine, 2)
	if err := x.Add(1, normalize([]float32{1, 0})); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := x.Add(2, normalize([]float32{1, 0})); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := x.Add(3, normalize([]float32{0, 1})); err != nil {
		t.Fatalf("add: %v", err)
	}

	hits, err := x.Search(normalize([]float32{1, 0}), 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	if hits[0].FrameID != 1 || hits[1].FrameID != 2 {
		t.Fatalf("expected tie between 1 and 2 broken by lower id, got %+v", hits[:2])
	}
	if hits[2].FrameID != 3 {
		t.Fatalf("expected orthogonal vector ranked last, got %+v", hits[2])
	}
}

func TestCosineSearchRejectsUnnormalizedQuery(t *testing.T) {
	x := New(MetricCosine, 2)
	x.Add(1, normalize([]float32{1, 0}))
	if _, err := x.Search([]float32{3, 4}, 10); err == nil {
		t.Fatalf("expected error for unnormalized cosine query")
	}
}

func TestDimensionMismatchRejected(t *testing.T) {
	x := New(MetricDot, 3)
	if err := x.Add(1, []float32{1, 2}); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
	if err := x.AddBatch([]uint64{1, 2}, [][]float32{{1, 2, 3}}); err == nil {
		t.Fatalf("expected count mismatch error")
	}
}

func TestStagingVisibilityAndRollback(t *testing.T) {
	x := New(MetricDot, 2)
	if err := x.StageAdd(1, []float32{1, 1}); err != nil {
		t.Fatalf("stage add: %v", err)
	}
	hits, err := x.Search([]float32{1, 1}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected staged add invisible before commit, got %v", hits)
	}
	x.CommitStaged()
	hits, err = x.Search([]float32{1, 1}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected staged add visible after commit, got %v", hits)
	}

	x.StageRemove(1)
	x.RollbackStaged()
	hits, _ = x.Search([]float32{1, 1}, 10)
	if len(hits) != 1 {
		t.Fatalf("expected rollback to discard staged remove, got %v", hits)
	}
}

func TestMetalSegmentRoundTrip(t *testing.T) {
	x := New(MetricL2, 3)
	x.Add(5, []float32{1, 2, 3})
	x.Add(1, []float32{4, 5, 6})

	blob := x.SerializeMetalSegment()
	loaded, err := LoadMetalSegment(blob)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.metric != MetricL2 || loaded.dim != 3 {
		t.Fatalf("unexpected header fields: metric=%d dim=%d", loaded.metric, loaded.dim)
	}
	if len(loaded.vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(loaded.vectors))
	}
	if loaded.vectors[5][0] != 1 || loaded.vectors[1][2] != 6 {
		t.Fatalf("unexpected decoded vectors: %+v", loaded.vectors)
	}
}

func TestMetalSegmentRejectsCorruption(t *testing.T) {
	x := New(MetricCosine, 2)
	x.Add(1, []float32{1, 0})
	blob := x.SerializeMetalSegment()
	blob[len(blob)-1] ^= 0xFF
	if _, err := LoadMetalSegment(blob); err == nil {
		t.Fatalf("expected checksum mismatch to be rejected")
	}
}
