// Package codec provides the little-endian integer/field serialization
// primitives and the SHA-256 checksum helper shared by mv2s and walring.
//
// These are factored into one place since three downstream packages
// (mv2s, walring, waxstore) all need the same fixed-width encode/decode
// building blocks.
package codec

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// Sum32 computes the SHA-256 checksum of b.
func Sum32(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// PutU16 writes v little-endian into buf[off:off+2].
func PutU16(buf []byte, off int, v uint16) { binary.LittleEndian.PutUint16(buf[off:], v) }

// PutU32 writes v little-endian into buf[off:off+4].
func PutU32(buf []byte, off int, v uint32) { binary.LittleEndian.PutUint32(buf[off:], v) }

// PutU64 writes v little-endian into buf[off:off+8].
func PutU64(buf []byte, off int, v uint64) { binary.LittleEndian.PutUint64(buf[off:], v) }

// PutF32 writes v little-endian into buf[off:off+4] as its IEEE754 bits.
func PutF32(buf []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
}

// GetU16 reads a little-endian uint16 from buf[off:off+2].
func GetU16(buf []byte, off int) uint16 { return binary.LittleEndian.Uint16(buf[off:]) }

// GetU32 reads a little-endian uint32 from buf[off:off+4].
func GetU32(buf []byte, off int) uint32 { return binary.LittleEndian.Uint32(buf[off:]) }

// GetU64 reads a little-endian uint64 from buf[off:off+8].
func GetU64(buf []byte, off int) uint64 { return binary.LittleEndian.Uint64(buf[off:]) }

// GetF32 reads a little-endian float32 from buf[off:off+4].
func GetF32(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
}

// Buffer is a small append-only byte builder used by the mv2s and walring
// encoders; it keeps encode sites free of manual offset bookkeeping.
type Buffer struct {
	b []byte
}

// NewBuffer creates a Buffer with the given starting capacity hint.
func NewBuffer(capHint int) *Buffer {
	return &Buffer{b: make([]byte, 0, capHint)}
}

func (b *Buffer) Bytes() []byte { return b.b }
func (b *Buffer) Len() int      { return len(b.b) }

func (b *Buffer) WriteBytes(p []byte) { b.b = append(b.b, p...) }

func (b *Buffer) WriteU8(v uint8) { b.b = append(b.b, v) }

func (b *Buffer) WriteU16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.b = append(b.b, tmp[:]...)
}

func (b *Buffer) WriteU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.b = append(b.b, tmp[:]...)
}

func (b *Buffer) WriteU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.b = append(b.b, tmp[:]...)
}

func (b *Buffer) WriteF32(v float32) { b.WriteU32(math.Float32bits(v)) }

// WriteString writes a u32 length prefix followed by the raw bytes.
func (b *Buffer) WriteString(s string) {
	b.WriteU32(uint32(len(s)))
	b.b = append(b.b, s...)
}

// WriteOptTag writes 1 if present, 0 otherwise — the "optional-tag bytes"
// the TOC and mutation formats use to mark absent metadata fields.
func (b *Buffer) WriteOptTag(present bool) {
	if present {
		b.WriteU8(1)
	} else {
		b.WriteU8(0)
	}
}

// Reader walks a byte slice sequentially, erroring instead of panicking on
// short reads so format decoders can surface a clean corruption error.
type Reader struct {
	b   []byte
	off int
}

func NewReader(b []byte) *Reader { return &Reader{b: b} }

func (r *Reader) Offset() int { return r.off }
func (r *Reader) Remaining() int { return len(r.b) - r.off }

func (r *Reader) need(n int) error {
	if r.off+n > len(r.b) {
		return fmt.Errorf("codec: short read: need %d bytes at offset %d, have %d", n, r.off, len(r.b)-r.off)
	}
	return nil
}

func (r *Reader) ReadU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.off]
	r.off++
	return v, nil
}

func (r *Reader) ReadU16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) ReadU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v, nil
}

func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.b[r.off:r.off+n])
	r.off += n
	return out, nil
}

func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadOptTag() (bool, error) {
	v, err := r.ReadU8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("codec: invalid optional tag byte %d", v)
	}
}
