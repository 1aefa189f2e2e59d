package mv2s

import (
	"fmt"

	"github.com/waxrag/waxrag/codec"
)

var footerMagic = [4]byte{'W', 'X', 'F', 'T'}

const footerVersion = 1

// FooterSize is the fixed on-disk size of a footer record: magic(4) +
// version(4) + toc_len(8) + toc_hash(32) + generation(8) +
// wal_committed_seq(8) + checksum(32).
const FooterSize = 4 + 4 + 8 + 32 + 8 + 8 + 32

// Footer links a commit to its TOC, generation, and durable WAL sequence.
type Footer struct {
	TocLen          uint64
	TocHash         [32]byte
	Generation      uint64
	WalCommittedSeq uint64
}

// Encode serializes f to a fixed FooterSize-byte record with a trailing
// checksum over the preceding bytes.
func (f Footer) Encode() []byte {
	b := codec.NewBuffer(FooterSize)
	b.WriteBytes(footerMagic[:])
	b.WriteU32(footerVersion)
	b.WriteU64(f.TocLen)
	b.WriteBytes(f.TocHash[:])
	b.WriteU64(f.Generation)
	b.WriteU64(f.WalCommittedSeq)

	out := make([]byte, FooterSize)
	payload := b.Bytes()
	copy(out, payload)
	sum := codec.Sum32(payload)
	copy(out[FooterSize-32:], sum[:])
	return out
}

// DecodeFooter validates magic, version, and checksum and decodes a
// fixed-size footer record.
func DecodeFooter(raw []byte) (Footer, error) {
	if len(raw) != FooterSize {
		return Footer{}, fmt.Errorf("mv2s: footer wrong size %d", len(raw))
	}
	payload := raw[:FooterSize-32]
	wantSum := raw[FooterSize-32:]
	gotSum := codec.Sum32(payload)
	if string(gotSum[:]) != string(wantSum) {
		return Footer{}, fmt.Errorf("mv2s: footer checksum mismatch")
	}

	r := codec.NewReader(payload)
	magic, err := r.ReadBytes(4)
	if err != nil {
		return Footer{}, err
	}
	if string(magic) != string(footerMagic[:]) {
		return Footer{}, fmt.Errorf("mv2s: bad footer magic")
	}
	version, err := r.ReadU32()
	if err != nil {
		return Footer{}, err
	}
	if version != footerVersion {
		return Footer{}, fmt.Errorf("mv2s: unsupported footer version %d", version)
	}

	var f Footer
	if f.TocLen, err = r.ReadU64(); err != nil {
		return Footer{}, err
	}
	hash, err := r.ReadBytes(32)
	if err != nil {
		return Footer{}, err
	}
	copy(f.TocHash[:], hash)
	if f.Generation, err = r.ReadU64(); err != nil {
		return Footer{}, err
	}
	if f.WalCommittedSeq, err = r.ReadU64(); err != nil {
		return Footer{}, err
	}
	return f, nil
}
