package codec

import (
	"bytes"
	"testing"
)

func TestBufferReaderRoundTrip(t *testing.T) {
	b := NewBuffer(64)
	b.WriteU8(7)
	b.WriteU16(1234)
	b.WriteU32(999999)
	b.WriteU64(1 << 40)
	b.WriteF32(3.5)
	b.WriteString("hello")
	b.WriteOptTag(true)
	b.WriteOptTag(false)

	r := NewReader(b.Bytes())
	if v, err := r.ReadU8(); err != nil || v != 7 {
		t.Fatalf("ReadU8 = %v, %v", v, err)
	}
	if v, err := r.ReadU16(); err != nil || v != 1234 {
		t.Fatalf("ReadU16 = %v, %v", v, err)
	}
	if v, err := r.ReadU32(); err != nil || v != 999999 {
		t.Fatalf("ReadU32 = %v, %v", v, err)
	}
	if v, err := r.ReadU64(); err != nil || v != 1<<40 {
		t.Fatalf("ReadU64 = %v, %v", v, err)
	}
	if v, err := r.ReadF32(); err != nil || v != 3.5 {
		t.Fatalf("ReadF32 = %v, %v", v, err)
	}
	if v, err := r.ReadString(); err != nil || v != "hello" {
		t.Fatalf("ReadString = %q, %v", v, err)
	}
	if v, err := r.ReadOptTag(); err != nil || v != true {
		t.Fatalf("ReadOptTag#1 = %v, %v", v, err)
	}
	if v, err := r.ReadOptTag(); err != nil || v != false {
		t.Fatalf("ReadOptTag#2 = %v, %v", v, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected 0 remaining, got %d", r.Remaining())
	}
}

func TestReaderShortRead(t *testing.T) {
	r := NewReader([]byte{1, 2})
	if _, err := r.ReadU32(); err == nil {
		t.Fatalf("expected short-read error")
	}
}

func TestSum32Deterministic(t *testing.T) {
	a := Sum32([]byte("hello world"))
	b := Sum32([]byte("hello world"))
	if !bytes.Equal(a[:], b[:]) {
		t.Fatalf("checksum not deterministic")
	}
	c := Sum32([]byte("hello worlD"))
	if bytes.Equal(a[:], c[:]) {
		t.Fatalf("checksum collided unexpectedly")
	}
}
