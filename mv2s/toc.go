package mv2s

import (
	"fmt"

	"github.com/waxrag/waxrag/codec"
)

// TocVersion1 is the only TOC format version understood by this codec.
const TocVersion1 = 1

// Encoding is how a frame's payload bytes are stored on disk.
type Encoding uint8

const (
	EncodingPlain      Encoding = 0
	EncodingCompressed Encoding = 1
)

// Status is a frame's lifecycle state. Delete is logical: a deleted frame
// keeps its TOC entry with Status = StatusDeleted.
type Status uint8

const (
	StatusLive    Status = 0
	StatusDeleted Status = 1
)

// IndexKind identifies which manifest/segment-catalog lane an entry belongs
// to.
type IndexKind uint8

const (
	IndexKindLex  IndexKind = 0
	IndexKindVec  IndexKind = 1
	IndexKindTime IndexKind = 2
)

// EmbeddingIdentity tags the provider/model that produced an embedding.
type EmbeddingIdentity struct {
	Provider   string
	Model      string
	Dimensions uint32
	Normalized bool
}

// Embedding is a frame's optional dense vector.
type Embedding struct {
	Dimension uint32
	Vector    []float32
	Identity  EmbeddingIdentity
	HasIdentity bool
}

// FrameRecord is the on-disk TOC entry for one frame (spec §3/§4.1).
type FrameRecord struct {
	ID          uint64
	TimestampMs uint64

	HasKind bool
	Kind    string

	HasRole bool
	Role    string

	HasParentID bool
	ParentID    uint64

	Status Status

	HasSupersedes bool
	Supersedes    uint64

	HasSupersededBy bool
	SupersededBy    uint64

	HasEntries bool
	Entries    map[string]string

	PayloadOffset uint64
	PayloadLength uint64

	CanonicalEncoding  Encoding
	CanonicalLength    uint64
	CanonicalChecksum  [32]byte
	HasStoredChecksum  bool // required iff CanonicalEncoding != EncodingPlain
	StoredChecksum     [32]byte

	HasEmbedding bool
	Embedding    Embedding
}

// IndexManifest describes a committed index's serialized bytes region.
type IndexManifest struct {
	Present     bool
	DocCount    uint32
	BytesOffset uint64
	BytesLength uint64
	Checksum    [32]byte
	Version     uint32
}

// SegmentCatalogEntry describes one physical on-disk segment blob.
type SegmentCatalogEntry struct {
	SegID       uint64
	Offset      uint64
	Length      uint64
	Checksum    [32]byte
	Compression uint8
	Kind        IndexKind
}

// TOC is the sealed, committed frame catalog.
type TOC struct {
	Version uint64
	Frames  []FrameRecord

	LexManifest  IndexManifest
	VecManifest  IndexManifest
	TimeManifest IndexManifest

	Segments []SegmentCatalogEntry

	HasMerkleRoot bool
	MerkleRoot    [32]byte

	HasSigningEnvelope bool
	SigningEnvelope    []byte
}

func writeFrame(b *codec.Buffer, f FrameRecord) {
	b.WriteU64(f.ID)
	b.WriteU64(f.TimestampMs)

	b.WriteOptTag(f.HasKind)
	if f.HasKind {
		b.WriteString(f.Kind)
	}
	b.WriteOptTag(f.HasRole)
	if f.HasRole {
		b.WriteString(f.Role)
	}
	b.WriteOptTag(f.HasParentID)
	if f.HasParentID {
		b.WriteU64(f.ParentID)
	}
	b.WriteU8(uint8(f.Status))
	b.WriteOptTag(f.HasSupersedes)
	if f.HasSupersedes {
		b.WriteU64(f.Supersedes)
	}
	b.WriteOptTag(f.HasSupersededBy)
	if f.HasSupersededBy {
		b.WriteU64(f.SupersededBy)
	}
	b.WriteOptTag(f.HasEntries)
	if f.HasEntries {
		b.WriteU32(uint32(len(f.Entries)))
		// deterministic order: entries are written in the order supplied
		// by entrySortedKeys, so the same logical map always serializes
		// to the same bytes (important for the TOC checksum).
		for _, k := range entrySortedKeys(f.Entries) {
			b.WriteString(k)
			b.WriteString(f.Entries[k])
		}
	}

	b.WriteU64(f.PayloadOffset)
	b.WriteU64(f.PayloadLength)
	b.WriteU8(uint8(f.CanonicalEncoding))
	b.WriteU64(f.CanonicalLength)
	b.WriteBytes(f.CanonicalChecksum[:])
	if f.CanonicalEncoding != EncodingPlain {
		b.WriteBytes(f.StoredChecksum[:])
	}

	b.WriteOptTag(f.HasEmbedding)
	if f.HasEmbedding {
		b.WriteU32(f.Embedding.Dimension)
		for _, v := range f.Embedding.Vector {
			b.WriteF32(v)
		}
		b.WriteOptTag(f.Embedding.HasIdentity)
		if f.Embedding.HasIdentity {
			b.WriteString(f.Embedding.Identity.Provider)
			b.WriteString(f.Embedding.Identity.Model)
			b.WriteU32(f.Embedding.Identity.Dimensions)
			b.WriteOptTag(f.Embedding.Identity.Normalized)
		}
	}
}

func entrySortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// simple insertion sort; entry maps are small (a handful of metadata
	// fields per frame), so this avoids importing sort for one call site.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func readFrame(r *codec.Reader) (FrameRecord, error) {
	var f FrameRecord
	var err error
	if f.ID, err = r.ReadU64(); err != nil {
		return f, err
	}
	if f.TimestampMs, err = r.ReadU64(); err != nil {
		return f, err
	}
	if f.HasKind, err = r.ReadOptTag(); err != nil {
		return f, err
	}
	if f.HasKind {
		if f.Kind, err = r.ReadString(); err != nil {
			return f, err
		}
	}
	if f.HasRole, err = r.ReadOptTag(); err != nil {
		return f, err
	}
	if f.HasRole {
		if f.Role, err = r.ReadString(); err != nil {
			return f, err
		}
	}
	if f.HasParentID, err = r.ReadOptTag(); err != nil {
		return f, err
	}
	if f.HasParentID {
		if f.ParentID, err = r.ReadU64(); err != nil {
			return f, err
		}
	}
	st, err := r.ReadU8()
	if err != nil {
		return f, err
	}
	f.Status = Status(st)
	if f.HasSupersedes, err = r.ReadOptTag(); err != nil {
		return f, err
	}
	if f.HasSupersedes {
		if f.Supersedes, err = r.ReadU64(); err != nil {
			return f, err
		}
	}
	if f.HasSupersededBy, err = r.ReadOptTag(); err != nil {
		return f, err
	}
	if f.HasSupersededBy {
		if f.SupersededBy, err = r.ReadU64(); err != nil {
			return f, err
		}
	}
	if f.HasEntries, err = r.ReadOptTag(); err != nil {
		return f, err
	}
	if f.HasEntries {
		n, err := r.ReadU32()
		if err != nil {
			return f, err
		}
		f.Entries = make(map[string]string, n)
		for i := uint32(0); i < n; i++ {
			k, err := r.ReadString()
			if err != nil {
				return f, err
			}
			v, err := r.ReadString()
			if err != nil {
				return f, err
			}
			f.Entries[k] = v
		}
	}

	if f.PayloadOffset, err = r.ReadU64(); err != nil {
		return f, err
	}
	if f.PayloadLength, err = r.ReadU64(); err != nil {
		return f, err
	}
	enc, err := r.ReadU8()
	if err != nil {
		return f, err
	}
	f.CanonicalEncoding = Encoding(enc)
	if f.CanonicalLength, err = r.ReadU64(); err != nil {
		return f, err
	}
	cc, err := r.ReadBytes(32)
	if err != nil {
		return f, err
	}
	copy(f.CanonicalChecksum[:], cc)
	if f.CanonicalEncoding != EncodingPlain {
		sc, err := r.ReadBytes(32)
		if err != nil {
			return f, err
		}
		copy(f.StoredChecksum[:], sc)
		f.HasStoredChecksum = true
	}

	if f.HasEmbedding, err = r.ReadOptTag(); err != nil {
		return f, err
	}
	if f.HasEmbedding {
		if f.Embedding.Dimension, err = r.ReadU32(); err != nil {
			return f, err
		}
		f.Embedding.Vector = make([]float32, f.Embedding.Dimension)
		for i := range f.Embedding.Vector {
			if f.Embedding.Vector[i], err = r.ReadF32(); err != nil {
				return f, err
			}
		}
		if f.Embedding.HasIdentity, err = r.ReadOptTag(); err != nil {
			return f, err
		}
		if f.Embedding.HasIdentity {
			if f.Embedding.Identity.Provider, err = r.ReadString(); err != nil {
				return f, err
			}
			if f.Embedding.Identity.Model, err = r.ReadString(); err != nil {
				return f, err
			}
			if f.Embedding.Identity.Dimensions, err = r.ReadU32(); err != nil {
				return f, err
			}
			norm, err := r.ReadOptTag()
			if err != nil {
				return f, err
			}
			f.Embedding.Identity.Normalized = norm
		}
	}
	return f, nil
}

func writeManifest(b *codec.Buffer, m IndexManifest) {
	b.WriteOptTag(m.Present)
	if !m.Present {
		return
	}
	b.WriteU32(m.DocCount)
	b.WriteU64(m.BytesOffset)
	b.WriteU64(m.BytesLength)
	b.WriteBytes(m.Checksum[:])
	b.WriteU32(m.Version)
}

func readManifest(r *codec.Reader) (IndexManifest, error) {
	var m IndexManifest
	present, err := r.ReadOptTag()
	if err != nil {
		return m, err
	}
	m.Present = present
	if !present {
		return m, nil
	}
	if m.DocCount, err = r.ReadU32(); err != nil {
		return m, err
	}
	if m.BytesOffset, err = r.ReadU64(); err != nil {
		return m, err
	}
	if m.BytesLength, err = r.ReadU64(); err != nil {
		return m, err
	}
	cs, err := r.ReadBytes(32)
	if err != nil {
		return m, err
	}
	copy(m.Checksum[:], cs)
	if m.Version, err = r.ReadU32(); err != nil {
		return m, err
	}
	return m, nil
}

// Encode serializes the TOC, including the trailing 32-byte SHA-256 over
// all preceding bytes.
func (t TOC) Encode() []byte {
	b := codec.NewBuffer(4096)
	b.WriteU64(t.Version)
	b.WriteU32(uint32(len(t.Frames)))
	for _, f := range t.Frames {
		writeFrame(b, f)
	}

	writeManifest(b, t.LexManifest)
	writeManifest(b, t.VecManifest)
	writeManifest(b, t.TimeManifest)

	b.WriteU32(uint32(len(t.Segments)))
	for _, s := range t.Segments {
		b.WriteU64(s.SegID)
		b.WriteU64(s.Offset)
		b.WriteU64(s.Length)
		b.WriteBytes(s.Checksum[:])
		b.WriteU8(s.Compression)
		b.WriteU8(uint8(s.Kind))
	}

	b.WriteOptTag(t.HasMerkleRoot)
	if t.HasMerkleRoot {
		b.WriteBytes(t.MerkleRoot[:])
	}
	b.WriteOptTag(t.HasSigningEnvelope)
	if t.HasSigningEnvelope {
		b.WriteU32(uint32(len(t.SigningEnvelope)))
		b.WriteBytes(t.SigningEnvelope)
	}

	payload := b.Bytes()
	sum := codec.Sum32(payload)
	out := make([]byte, 0, len(payload)+32)
	out = append(out, payload...)
	out = append(out, sum[:]...)
	return out
}

// DecodeTOC validates the trailing checksum, version, frame-id density,
// and manifest/segment-catalog consistency, then returns the decoded TOC.
func DecodeTOC(raw []byte) (TOC, error) {
	if len(raw) < 32 {
		return TOC{}, fmt.Errorf("mv2s: toc too short")
	}
	payload := raw[:len(raw)-32]
	wantSum := raw[len(raw)-32:]
	gotSum := codec.Sum32(payload)
	if string(gotSum[:]) != string(wantSum) {
		return TOC{}, fmt.Errorf("mv2s: toc checksum mismatch")
	}

	r := codec.NewReader(payload)
	var t TOC
	var err error
	if t.Version, err = r.ReadU64(); err != nil {
		return TOC{}, err
	}
	if t.Version != TocVersion1 {
		return TOC{}, fmt.Errorf("mv2s: unsupported toc version %d", t.Version)
	}
	frameCount, err := r.ReadU32()
	if err != nil {
		return TOC{}, err
	}
	t.Frames = make([]FrameRecord, 0, frameCount)
	for i := uint32(0); i < frameCount; i++ {
		f, err := readFrame(r)
		if err != nil {
			return TOC{}, err
		}
		if f.ID != uint64(i) {
			return TOC{}, fmt.Errorf("mv2s: non-dense frame ids: expected %d, got %d", i, f.ID)
		}
		t.Frames = append(t.Frames, f)
	}

	if t.LexManifest, err = readManifest(r); err != nil {
		return TOC{}, err
	}
	if t.VecManifest, err = readManifest(r); err != nil {
		return TOC{}, err
	}
	if t.TimeManifest, err = readManifest(r); err != nil {
		return TOC{}, err
	}

	segCount, err := r.ReadU32()
	if err != nil {
		return TOC{}, err
	}
	t.Segments = make([]SegmentCatalogEntry, 0, segCount)
	for i := uint32(0); i < segCount; i++ {
		var s SegmentCatalogEntry
		if s.SegID, err = r.ReadU64(); err != nil {
			return TOC{}, err
		}
		if s.Offset, err = r.ReadU64(); err != nil {
			return TOC{}, err
		}
		if s.Length, err = r.ReadU64(); err != nil {
			return TOC{}, err
		}
		cs, err := r.ReadBytes(32)
		if err != nil {
			return TOC{}, err
		}
		copy(s.Checksum[:], cs)
		if s.Compression, err = r.ReadU8(); err != nil {
			return TOC{}, err
		}
		kind, err := r.ReadU8()
		if err != nil {
			return TOC{}, err
		}
		s.Kind = IndexKind(kind)
		t.Segments = append(t.Segments, s)
	}

	if t.HasMerkleRoot, err = r.ReadOptTag(); err != nil {
		return TOC{}, err
	}
	if t.HasMerkleRoot {
		mr, err := r.ReadBytes(32)
		if err != nil {
			return TOC{}, err
		}
		copy(t.MerkleRoot[:], mr)
	}
	if t.HasSigningEnvelope, err = r.ReadOptTag(); err != nil {
		return TOC{}, err
	}
	if t.HasSigningEnvelope {
		n, err := r.ReadU32()
		if err != nil {
			return TOC{}, err
		}
		if t.SigningEnvelope, err = r.ReadBytes(int(n)); err != nil {
			return TOC{}, err
		}
	}

	if err := validateManifestHasSegment(t, t.LexManifest, IndexKindLex); err != nil {
		return TOC{}, err
	}
	if err := validateManifestHasSegment(t, t.VecManifest, IndexKindVec); err != nil {
		return TOC{}, err
	}
	if err := validateManifestHasSegment(t, t.TimeManifest, IndexKindTime); err != nil {
		return TOC{}, err
	}

	return t, nil
}

func validateManifestHasSegment(t TOC, m IndexManifest, kind IndexKind) error {
	if !m.Present {
		return nil
	}
	for _, s := range t.Segments {
		if s.Kind == kind {
			return nil
		}
	}
	return fmt.Errorf("mv2s: index manifest for kind %d has no matching segment catalog entry", kind)
}
