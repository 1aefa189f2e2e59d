package mv2s

import "testing"

func TestHeaderPageRoundTrip(t *testing.T) {
	h := HeaderPage{
		FileGeneration:       3,
		WalOffset:            8192,
		WalSize:              1 << 20,
		WalWritePos:          512,
		WalCheckpointPos:     256,
		WalCommittedSeq:      42,
		FooterOffset:         9999,
		ReplaySnapshot:       ReplaySnapshot{Present: true, FooterOffset: 1234, Generation: 2},
		HeaderPageGeneration: 7,
	}
	raw := h.Encode()
	if len(raw) != HeaderPageSize {
		t.Fatalf("encoded header page wrong size: %d", len(raw))
	}
	got, err := DecodeHeaderPage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestHeaderPageChecksumMismatch(t *testing.T) {
	h := HeaderPage{HeaderPageGeneration: 1}
	raw := h.Encode()
	raw[0] ^= 0xFF
	if _, err := DecodeHeaderPage(raw); err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
}

func TestFooterRoundTrip(t *testing.T) {
	f := Footer{TocLen: 1024, Generation: 5, WalCommittedSeq: 99}
	f.TocHash[0] = 0xAB
	raw := f.Encode()
	if len(raw) != FooterSize {
		t.Fatalf("wrong footer size: %d", len(raw))
	}
	got, err := DecodeFooter(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != f {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, f)
	}
}

func TestTOCRoundTripEmpty(t *testing.T) {
	toc := TOC{Version: TocVersion1}
	raw := toc.Encode()
	got, err := DecodeTOC(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Version != TocVersion1 || len(got.Frames) != 0 {
		t.Fatalf("unexpected decode: %+v", got)
	}
}

func TestTOCRoundTripFrames(t *testing.T) {
	toc := TOC{
		Version: TocVersion1,
		Frames: []FrameRecord{
			{ID: 0, TimestampMs: 1, PayloadOffset: 100, PayloadLength: 4, CanonicalLength: 4},
			{
				ID: 1, TimestampMs: 2, HasKind: true, Kind: "chunk",
				HasEntries: true, Entries: map[string]string{"lat": "1.0", "lon": "2.0"},
				PayloadOffset: 104, PayloadLength: 8, CanonicalLength: 8,
				CanonicalEncoding: EncodingCompressed, HasStoredChecksum: true,
				HasEmbedding: true,
				Embedding: Embedding{
					Dimension: 3, Vector: []float32{0.1, 0.2, 0.3},
					HasIdentity: true,
					Identity:    EmbeddingIdentity{Provider: "fake", Model: "m1", Dimensions: 3, Normalized: true},
				},
			},
		},
	}
	raw := toc.Encode()
	got, err := DecodeTOC(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got.Frames))
	}
	if got.Frames[1].Kind != "chunk" || got.Frames[1].Entries["lat"] != "1.0" {
		t.Fatalf("metadata mismatch: %+v", got.Frames[1])
	}
	if got.Frames[1].Embedding.Dimension != 3 || got.Frames[1].Embedding.Vector[2] != 0.3 {
		t.Fatalf("embedding mismatch: %+v", got.Frames[1].Embedding)
	}
}

func TestTOCRejectsNonDenseIDs(t *testing.T) {
	toc := TOC{Version: TocVersion1, Frames: []FrameRecord{{ID: 0}, {ID: 2}}}
	raw := toc.Encode()
	if _, err := DecodeTOC(raw); err == nil {
		t.Fatalf("expected non-dense id error")
	}
}

func TestTOCRejectsManifestWithoutSegment(t *testing.T) {
	toc := TOC{
		Version:     TocVersion1,
		LexManifest: IndexManifest{Present: true, DocCount: 1, Version: 1},
	}
	raw := toc.Encode()
	if _, err := DecodeTOC(raw); err == nil {
		t.Fatalf("expected manifest/segment mismatch error")
	}
}

func TestTOCManifestWithSegmentOK(t *testing.T) {
	toc := TOC{
		Version:     TocVersion1,
		LexManifest: IndexManifest{Present: true, DocCount: 1, Version: 1},
		Segments:    []SegmentCatalogEntry{{SegID: 1, Kind: IndexKindLex}},
	}
	raw := toc.Encode()
	if _, err := DecodeTOC(raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
