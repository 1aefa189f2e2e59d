package mv2s

import (
	"fmt"

	"github.com/waxrag/waxrag/codec"
)

// ReplaySnapshot is the header page's optional fast-path pointer to the
// footer that was live when the header was last published, paired with the
// generation it was observed at. Open-time arbitration (§4.3) picks the
// candidate footer — active header's footer_offset, this snapshot, or a
// backward scan — with the largest valid generation.
type ReplaySnapshot struct {
	Present      bool
	FooterOffset uint64
	Generation   uint64
}

// HeaderPage is the decoded view of one of the two 4096-byte header pages.
type HeaderPage struct {
	FileGeneration       uint64
	WalOffset            uint64
	WalSize              uint64
	WalWritePos          uint64
	WalCheckpointPos     uint64
	WalCommittedSeq      uint64
	FooterOffset         uint64
	ReplaySnapshot       ReplaySnapshot
	HeaderPageGeneration uint64
}

// Encode serializes h into a fixed HeaderPageSize-byte page, with a trailing
// 32-byte SHA-256 checksum over every preceding byte of the page (the
// encoded fields plus their zero padding).
func (h HeaderPage) Encode() []byte {
	b := codec.NewBuffer(HeaderPageSize)
	b.WriteU64(h.FileGeneration)
	b.WriteU64(h.WalOffset)
	b.WriteU64(h.WalSize)
	b.WriteU64(h.WalWritePos)
	b.WriteU64(h.WalCheckpointPos)
	b.WriteU64(h.WalCommittedSeq)
	b.WriteU64(h.FooterOffset)
	b.WriteOptTag(h.ReplaySnapshot.Present)
	if h.ReplaySnapshot.Present {
		b.WriteU64(h.ReplaySnapshot.FooterOffset)
		b.WriteU64(h.ReplaySnapshot.Generation)
	}
	b.WriteU64(h.HeaderPageGeneration)

	out := make([]byte, HeaderPageSize)
	payload := b.Bytes()
	if len(payload)+32 > HeaderPageSize {
		panic("mv2s: header page payload overflows page size")
	}
	copy(out, payload)
	sum := codec.Sum32(out[:HeaderPageSize-32])
	copy(out[HeaderPageSize-32:], sum[:])
	return out
}

// DecodeHeaderPage validates the checksum and decodes a raw 4096-byte page.
// It returns an error (never panics) on checksum mismatch or truncated
// input so Open can try the sibling page.
func DecodeHeaderPage(raw []byte) (HeaderPage, error) {
	if len(raw) != HeaderPageSize {
		return HeaderPage{}, fmt.Errorf("mv2s: header page wrong size %d", len(raw))
	}
	payload := raw[:HeaderPageSize-32]
	wantSum := raw[HeaderPageSize-32:]
	gotSum := codec.Sum32(payload)
	if string(gotSum[:]) != string(wantSum) {
		return HeaderPage{}, fmt.Errorf("mv2s: header page checksum mismatch")
	}

	r := codec.NewReader(payload)
	var h HeaderPage
	var err error
	if h.FileGeneration, err = r.ReadU64(); err != nil {
		return HeaderPage{}, err
	}
	if h.WalOffset, err = r.ReadU64(); err != nil {
		return HeaderPage{}, err
	}
	if h.WalSize, err = r.ReadU64(); err != nil {
		return HeaderPage{}, err
	}
	if h.WalWritePos, err = r.ReadU64(); err != nil {
		return HeaderPage{}, err
	}
	if h.WalCheckpointPos, err = r.ReadU64(); err != nil {
		return HeaderPage{}, err
	}
	if h.WalCommittedSeq, err = r.ReadU64(); err != nil {
		return HeaderPage{}, err
	}
	if h.FooterOffset, err = r.ReadU64(); err != nil {
		return HeaderPage{}, err
	}
	present, err := r.ReadOptTag()
	if err != nil {
		return HeaderPage{}, err
	}
	h.ReplaySnapshot.Present = present
	if present {
		if h.ReplaySnapshot.FooterOffset, err = r.ReadU64(); err != nil {
			return HeaderPage{}, err
		}
		if h.ReplaySnapshot.Generation, err = r.ReadU64(); err != nil {
			return HeaderPage{}, err
		}
	}
	if h.HeaderPageGeneration, err = r.ReadU64(); err != nil {
		return HeaderPage{}, err
	}
	return h, nil
}
