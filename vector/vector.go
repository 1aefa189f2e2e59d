// Package vector implements the brute-force dense-vector index:
// cosine/dot/L2 scoring over an in-memory set of (frame_id, vector)
// pairs, two-phase staging, and a Metal/USearch-style segment codec. Its
// segment format follows the same hand-rolled
// checksum-trailer-over-everything-before-it shape as the mv2s package,
// reused here for a header-plus-blob container instead of a fixed page.
package vector

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/waxrag/waxrag/codec"
	"github.com/waxrag/waxrag/waxerr"
)

// Metric identifies the scoring function used for ranking.
type Metric uint8

const (
	MetricCosine Metric = iota
	MetricDot
	MetricL2
)

// Hit is one ranked search result.
type Hit struct {
	FrameID uint64
	Score   float64
}

type stagedAdd struct {
	frameID uint64
	vector  []float32
	remove  bool
}

// Index is a committed-view brute-force vector index with staged
// mutations.
type Index struct {
	mu sync.Mutex

	metric Metric
	dim    uint32

	vectors map[uint64][]float32

	staged []stagedAdd // staged add and remove ops, in insertion order
}

// New constructs an empty index for the given metric and dimension.
func New(metric Metric, dim uint32) *Index {
	return &Index{metric: metric, dim: dim, vectors: make(map[uint64][]float32)}
}

func (x *Index) checkDim(vec []float32) error {
	if uint32(len(vec)) != x.dim {
		return waxerr.New("vector: dimension", waxerr.KindInvalidArgument, fmt.Sprintf("expected dimension %d, got %d", x.dim, len(vec)))
	}
	return nil
}

// Add immediately inserts or replaces frameID's vector.
func (x *Index) Add(frameID uint64, vec []float32) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.checkDim(vec); err != nil {
		return err
	}
	x.vectors[frameID] = append([]float32(nil), vec...)
	return nil
}

// AddBatch immediately inserts several vectors, rejecting a frame/vector
// count mismatch before touching the index.
func (x *Index) AddBatch(frameIDs []uint64, vecs [][]float32) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(frameIDs) != len(vecs) {
		return waxerr.New("vector: add_batch", waxerr.KindInvalidArgument, "frame id count does not match vector count")
	}
	for _, v := range vecs {
		if err := x.checkDim(v); err != nil {
			return err
		}
	}
	for i, id := range frameIDs {
		x.vectors[id] = append([]float32(nil), vecs[i]...)
	}
	return nil
}

// Remove immediately drops frameID from the index, if present.
func (x *Index) Remove(frameID uint64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.vectors, frameID)
}

// StageAdd queues an add, invisible to Search until CommitStaged.
func (x *Index) StageAdd(frameID uint64, vec []float32) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.checkDim(vec); err != nil {
		return err
	}
	x.staged = append(x.staged, stagedAdd{frameID: frameID, vector: append([]float32(nil), vec...)})
	return nil
}

// StageRemove queues a removal.
func (x *Index) StageRemove(frameID uint64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.staged = append(x.staged, stagedAdd{frameID: frameID, remove: true})
}

// PendingMutationCount reports how many staged operations are queued.
func (x *Index) PendingMutationCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.staged)
}

// CommitStaged applies staged adds and removes in insertion order.
func (x *Index) CommitStaged() {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, o := range x.staged {
		if o.remove {
			delete(x.vectors, o.frameID)
		} else {
			x.vectors[o.frameID] = o.vector
		}
	}
	x.staged = nil
}

// RollbackStaged discards queued mutations.
func (x *Index) RollbackStaged() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.staged = nil
}

// Search scores query against every stored vector, sorts descending,
// breaks ties by lower frame id, and clamps to topK. For a cosine-metric
// index, query must already be L2-normalized (norm ≈ 1); this is a strict
// precondition, not silently corrected.
func (x *Index) Search(query []float32, topK int) ([]Hit, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.checkDim(query); err != nil {
		return nil, err
	}
	if x.metric == MetricCosine {
		norm := l2norm(query)
		if math.Abs(norm-1) > 1e-3 {
			return nil, waxerr.New("vector: search", waxerr.KindPolicy, fmt.Sprintf("cosine metric requires an L2-normalized query, got norm %f", norm))
		}
	}
	if topK <= 0 {
		return nil, nil
	}

	hits := make([]Hit, 0, len(x.vectors))
	for id, v := range x.vectors {
		hits = append(hits, Hit{FrameID: id, Score: x.score(query, v)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].FrameID < hits[j].FrameID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (x *Index) score(a, b []float32) float64 {
	switch x.metric {
	case MetricDot:
		return dot(a, b)
	case MetricL2:
		return -l2dist(a, b) // higher score = closer, so negate distance
	default: // MetricCosine
		na, nb := l2norm(a), l2norm(b)
		if na == 0 || nb == 0 {
			return 0
		}
		return dot(a, b) / (na * nb)
	}
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func l2norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func l2dist(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return math.Sqrt(s)
}

// --- Metal/USearch-style segment codec ---

var metalMagic = [4]byte{'W', 'X', 'V', 'C'}

const metalVersion = 1

// MetalEncoding identifies how each vector's components are stored.
const MetalEncodingF32 uint8 = 0

// MetalHeader describes a serialized segment's shape, validated on load.
type MetalHeader struct {
	Magic         [4]byte
	Version       uint32
	Encoding      uint8
	Similarity    Metric
	Dimension     uint32
	VectorCount   uint32
	PayloadLength uint64
}

// SerializeMetalSegment encodes the committed vectors (staged mutations
// are not included) into a single self-contained, checksum-trailed blob:
// header, then {frame_id:u64, dim*f32} per vector in ascending frame-id
// order, then a trailing 32-byte SHA-256 over everything before it.
func (x *Index) SerializeMetalSegment() []byte {
	x.mu.Lock()
	defer x.mu.Unlock()

	ids := make([]uint64, 0, len(x.vectors))
	for id := range x.vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	payload := codec.NewBuffer(len(ids) * (8 + int(x.dim)*4))
	for _, id := range ids {
		payload.WriteU64(id)
		for _, v := range x.vectors[id] {
			payload.WriteF32(v)
		}
	}
	payloadBytes := payload.Bytes()

	header := codec.NewBuffer(32)
	header.WriteBytes(metalMagic[:])
	header.WriteU32(metalVersion)
	header.WriteU8(MetalEncodingF32)
	header.WriteU8(uint8(x.metric))
	header.WriteU32(x.dim)
	header.WriteU32(uint32(len(ids)))
	header.WriteU64(uint64(len(payloadBytes)))

	full := append(header.Bytes(), payloadBytes...)
	sum := codec.Sum32(full)
	return append(full, sum[:]...)
}

// LoadMetalSegment decodes a blob produced by SerializeMetalSegment,
// validating the header fields and trailing checksum.
func LoadMetalSegment(raw []byte) (*Index, error) {
	const op = "vector: load_metal_segment"
	if len(raw) < 32 {
		return nil, waxerr.New(op, waxerr.KindCorruption, "segment too short")
	}
	body, wantSum := raw[:len(raw)-32], raw[len(raw)-32:]
	gotSum := codec.Sum32(body)
	if string(gotSum[:]) != string(wantSum) {
		return nil, waxerr.New(op, waxerr.KindCorruption, "segment checksum mismatch")
	}

	r := codec.NewReader(body)
	magic, err := r.ReadBytes(4)
	if err != nil {
		return nil, err
	}
	if string(magic) != string(metalMagic[:]) {
		return nil, waxerr.New(op, waxerr.KindCorruption, "bad segment magic")
	}
	version, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if version != metalVersion {
		return nil, waxerr.New(op, waxerr.KindCorruption, fmt.Sprintf("unsupported segment version %d", version))
	}
	encoding, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if encoding != MetalEncodingF32 {
		return nil, waxerr.New(op, waxerr.KindCorruption, fmt.Sprintf("unsupported segment encoding %d", encoding))
	}
	sim, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	dim, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	payloadLen, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	if uint64(r.Remaining()) != payloadLen {
		return nil, waxerr.New(op, waxerr.KindCorruption, "payload length does not match remaining bytes")
	}

	idx := New(Metric(sim), dim)
	for i := uint32(0); i < count; i++ {
		id, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		vec := make([]float32, dim)
		for j := range vec {
			if vec[j], err = r.ReadF32(); err != nil {
				return nil, err
			}
		}
		idx.vectors[id] = vec
	}
	return idx, nil
}
