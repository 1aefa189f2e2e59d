package walring

import (
	"fmt"

	"github.com/waxrag/waxrag/codec"
	"github.com/waxrag/waxrag/mv2s"
)

// Op identifies a mutation's kind.
type Op uint8

const (
	OpPutFrame Op = iota + 1
	OpDeleteFrame
	OpSupersede
	OpPutEmbedding
)

// PutFrame stages a new frame's identity, metadata, and payload location.
// Lifecycle fields (status, supersede links) are not part of this
// mutation — a frame is always born live with no supersede edges; those
// are established by later DeleteFrame/Supersede mutations.
type PutFrame struct {
	FrameID     uint64
	TimestampMs uint64

	HasKind bool
	Kind    string
	HasRole bool
	Role    string
	HasParentID bool
	ParentID    uint64
	HasEntries  bool
	Entries     map[string]string

	PayloadOffset uint64
	PayloadLength uint64

	CanonicalEncoding mv2s.Encoding
	CanonicalLength   uint64
	CanonicalChecksum [32]byte
	HasStoredChecksum bool
	StoredChecksum    [32]byte
}

// DeleteFrame logically deletes an existing frame.
type DeleteFrame struct {
	FrameID uint64
}

// Supersede records a new->old replacement edge.
type Supersede struct {
	NewID uint64
	OldID uint64
}

// PutEmbedding attaches a dense vector to an existing (or earlier-pending)
// frame. The wire format carries frame id, dimension, and the vector per
// spec §4.2, followed by an optional identity tag so crash recovery doesn't
// lose provider/model tagging for an embedding staged but not yet
// committed.
type PutEmbedding struct {
	FrameID     uint64
	Dimension   uint32
	Vector      []float32
	HasIdentity bool
	Identity    mv2s.EmbeddingIdentity
}

// Mutation is one decoded WAL payload, tagged with the WAL sequence that
// carried it.
type Mutation struct {
	Sequence uint64
	Op       Op

	PutFrame     *PutFrame
	DeleteFrame  *DeleteFrame
	Supersede    *Supersede
	PutEmbedding *PutEmbedding
}

func encodeEntries(b *codec.Buffer, has bool, m map[string]string) {
	b.WriteOptTag(has)
	if !has {
		return
	}
	b.WriteU32(uint32(len(m)))
	for _, k := range entrySortedKeys(m) {
		b.WriteString(k)
		b.WriteString(m[k])
	}
}

func entrySortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func decodeEntries(r *codec.Reader) (bool, map[string]string, error) {
	has, err := r.ReadOptTag()
	if err != nil || !has {
		return has, nil, err
	}
	n, err := r.ReadU32()
	if err != nil {
		return true, nil, err
	}
	out := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := r.ReadString()
		if err != nil {
			return true, nil, err
		}
		v, err := r.ReadString()
		if err != nil {
			return true, nil, err
		}
		out[k] = v
	}
	return true, out, nil
}

// EncodePutFrame serializes a putFrame mutation payload (op tag included).
func EncodePutFrame(m PutFrame) []byte {
	b := codec.NewBuffer(128)
	b.WriteU8(uint8(OpPutFrame))
	b.WriteU64(m.FrameID)
	b.WriteU64(m.TimestampMs)
	b.WriteOptTag(m.HasKind)
	if m.HasKind {
		b.WriteString(m.Kind)
	}
	b.WriteOptTag(m.HasRole)
	if m.HasRole {
		b.WriteString(m.Role)
	}
	b.WriteOptTag(m.HasParentID)
	if m.HasParentID {
		b.WriteU64(m.ParentID)
	}
	encodeEntries(b, m.HasEntries, m.Entries)
	b.WriteU64(m.PayloadOffset)
	b.WriteU64(m.PayloadLength)
	b.WriteU8(uint8(m.CanonicalEncoding))
	b.WriteU64(m.CanonicalLength)
	b.WriteBytes(m.CanonicalChecksum[:])
	if m.CanonicalEncoding != mv2s.EncodingPlain {
		b.WriteBytes(m.StoredChecksum[:])
	}
	return b.Bytes()
}

// EncodeDeleteFrame serializes a deleteFrame mutation payload.
func EncodeDeleteFrame(m DeleteFrame) []byte {
	b := codec.NewBuffer(16)
	b.WriteU8(uint8(OpDeleteFrame))
	b.WriteU64(m.FrameID)
	return b.Bytes()
}

// EncodeSupersede serializes a supersede mutation payload.
func EncodeSupersede(m Supersede) []byte {
	b := codec.NewBuffer(24)
	b.WriteU8(uint8(OpSupersede))
	b.WriteU64(m.NewID)
	b.WriteU64(m.OldID)
	return b.Bytes()
}

// EncodePutEmbedding serializes a putEmbedding mutation payload.
func EncodePutEmbedding(m PutEmbedding) []byte {
	b := codec.NewBuffer(64 + len(m.Vector)*4)
	b.WriteU8(uint8(OpPutEmbedding))
	b.WriteU64(m.FrameID)
	b.WriteU32(m.Dimension)
	for _, v := range m.Vector {
		b.WriteF32(v)
	}
	b.WriteOptTag(m.HasIdentity)
	if m.HasIdentity {
		b.WriteString(m.Identity.Provider)
		b.WriteString(m.Identity.Model)
		b.WriteU32(m.Identity.Dimensions)
		b.WriteOptTag(m.Identity.Normalized)
	}
	return b.Bytes()
}

// DecodeMutation parses a mutation payload (as produced by one of the
// Encode* functions above) tagging it with the WAL sequence it was read
// at.
func DecodeMutation(seq uint64, payload []byte) (Mutation, error) {
	if len(payload) < 1 {
		return Mutation{}, fmt.Errorf("walring: empty mutation payload")
	}
	r := codec.NewReader(payload)
	opByte, err := r.ReadU8()
	if err != nil {
		return Mutation{}, err
	}
	op := Op(opByte)
	switch op {
	case OpPutFrame:
		var m PutFrame
		if m.FrameID, err = r.ReadU64(); err != nil {
			return Mutation{}, err
		}
		if m.TimestampMs, err = r.ReadU64(); err != nil {
			return Mutation{}, err
		}
		if m.HasKind, err = r.ReadOptTag(); err != nil {
			return Mutation{}, err
		}
		if m.HasKind {
			if m.Kind, err = r.ReadString(); err != nil {
				return Mutation{}, err
			}
		}
		if m.HasRole, err = r.ReadOptTag(); err != nil {
			return Mutation{}, err
		}
		if m.HasRole {
			if m.Role, err = r.ReadString(); err != nil {
				return Mutation{}, err
			}
		}
		if m.HasParentID, err = r.ReadOptTag(); err != nil {
			return Mutation{}, err
		}
		if m.HasParentID {
			if m.ParentID, err = r.ReadU64(); err != nil {
				return Mutation{}, err
			}
		}
		if m.HasEntries, m.Entries, err = decodeEntries(r); err != nil {
			return Mutation{}, err
		}
		if m.PayloadOffset, err = r.ReadU64(); err != nil {
			return Mutation{}, err
		}
		if m.PayloadLength, err = r.ReadU64(); err != nil {
			return Mutation{}, err
		}
		enc, err := r.ReadU8()
		if err != nil {
			return Mutation{}, err
		}
		m.CanonicalEncoding = mv2s.Encoding(enc)
		if m.CanonicalLength, err = r.ReadU64(); err != nil {
			return Mutation{}, err
		}
		cc, err := r.ReadBytes(32)
		if err != nil {
			return Mutation{}, err
		}
		copy(m.CanonicalChecksum[:], cc)
		if m.CanonicalEncoding != mv2s.EncodingPlain {
			sc, err := r.ReadBytes(32)
			if err != nil {
				return Mutation{}, err
			}
			copy(m.StoredChecksum[:], sc)
			m.HasStoredChecksum = true
		}
		return Mutation{Sequence: seq, Op: op, PutFrame: &m}, nil

	case OpDeleteFrame:
		var m DeleteFrame
		if m.FrameID, err = r.ReadU64(); err != nil {
			return Mutation{}, err
		}
		return Mutation{Sequence: seq, Op: op, DeleteFrame: &m}, nil

	case OpSupersede:
		var m Supersede
		if m.NewID, err = r.ReadU64(); err != nil {
			return Mutation{}, err
		}
		if m.OldID, err = r.ReadU64(); err != nil {
			return Mutation{}, err
		}
		return Mutation{Sequence: seq, Op: op, Supersede: &m}, nil

	case OpPutEmbedding:
		var m PutEmbedding
		if m.FrameID, err = r.ReadU64(); err != nil {
			return Mutation{}, err
		}
		if m.Dimension, err = r.ReadU32(); err != nil {
			return Mutation{}, err
		}
		m.Vector = make([]float32, m.Dimension)
		for i := range m.Vector {
			if m.Vector[i], err = r.ReadF32(); err != nil {
				return Mutation{}, err
			}
		}
		if m.HasIdentity, err = r.ReadOptTag(); err != nil {
			return Mutation{}, err
		}
		if m.HasIdentity {
			if m.Identity.Provider, err = r.ReadString(); err != nil {
				return Mutation{}, err
			}
			if m.Identity.Model, err = r.ReadString(); err != nil {
				return Mutation{}, err
			}
			if m.Identity.Dimensions, err = r.ReadU32(); err != nil {
				return Mutation{}, err
			}
			norm, err := r.ReadOptTag()
			if err != nil {
				return Mutation{}, err
			}
			m.Identity.Normalized = norm
		}
		return Mutation{Sequence: seq, Op: op, PutEmbedding: &m}, nil

	default:
		return Mutation{}, fmt.Errorf("walring: unknown mutation op %d", opByte)
	}
}
