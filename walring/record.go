// Package walring implements the WAL ring: a fixed-size window of
// sequenced, checksummed records that wrap with padding instead of ever
// spanning the ring boundary, with terminal-marker recovery on replay.
// Uses SHA-256 for record checksums to match the checksum primitive used
// everywhere else in the container format.
package walring

import (
	"fmt"

	"github.com/waxrag/waxrag/codec"
)

// RecordHeaderSize is the fixed 48-byte on-disk record header:
// sequence(8) + payload_len(4) + flags(4) + payload_sha256(32).
const RecordHeaderSize = 8 + 4 + 4 + 32

// Flag bits.
const (
	FlagPadding uint32 = 1 << 0
)

// RecordHeader is the decoded fixed-width header preceding every WAL
// record's payload.
type RecordHeader struct {
	Sequence     uint64
	PayloadLen   uint32
	Flags        uint32
	PayloadSHA256 [32]byte
}

// IsPadding reports whether this header marks a padding (wrap-filler)
// record rather than real mutation data.
func (h RecordHeader) IsPadding() bool { return h.Flags&FlagPadding != 0 }

// Encode serializes the header to a fixed 48-byte buffer.
func (h RecordHeader) Encode() []byte {
	b := codec.NewBuffer(RecordHeaderSize)
	b.WriteU64(h.Sequence)
	b.WriteU32(h.PayloadLen)
	b.WriteU32(h.Flags)
	b.WriteBytes(h.PayloadSHA256[:])
	return b.Bytes()
}

// DecodeRecordHeader decodes a fixed 48-byte buffer into a RecordHeader.
func DecodeRecordHeader(raw []byte) (RecordHeader, error) {
	if len(raw) != RecordHeaderSize {
		return RecordHeader{}, fmt.Errorf("walring: record header wrong size %d", len(raw))
	}
	r := codec.NewReader(raw)
	var h RecordHeader
	var err error
	if h.Sequence, err = r.ReadU64(); err != nil {
		return RecordHeader{}, err
	}
	if h.PayloadLen, err = r.ReadU32(); err != nil {
		return RecordHeader{}, err
	}
	if h.Flags, err = r.ReadU32(); err != nil {
		return RecordHeader{}, err
	}
	sum, err := r.ReadBytes(32)
	if err != nil {
		return RecordHeader{}, err
	}
	copy(h.PayloadSHA256[:], sum)
	return h, nil
}

// IsTerminalMarker reports whether raw is a 48-byte all-zero header: the
// zero-filled sentinel a reader uses to detect the end of written WAL
// data in O(1), without needing to decode further.
func IsTerminalMarker(raw []byte) bool {
	if len(raw) != RecordHeaderSize {
		return false
	}
	for _, b := range raw {
		if b != 0 {
			return false
		}
	}
	return true
}

// terminalMarker is the canonical zeroed header block.
func terminalMarker() []byte {
	return make([]byte, RecordHeaderSize)
}
