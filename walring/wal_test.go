package walring

import (
	"io"
	"sync"
	"testing"
)

// memFile is a minimal in-memory ReaderAt/WriterAt used only by these
// tests; waxstore uses the real *os.File in production.
type memFile struct {
	mu   sync.Mutex
	data []byte
}

func newMemFile(size int) *memFile { return &memFile{data: make([]byte, size)} }

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := int(off) + len(p)
	if end > len(m.data) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[off:], p)
	return len(p), nil
}

func (m *memFile) ReadAtFull(off int64, n int) ([]byte, bool) {
	buf := make([]byte, n)
	read, err := m.ReadAt(buf, off)
	if err != nil || read < n {
		return nil, false
	}
	return buf, true
}

func TestAppendMonotonicSequence(t *testing.T) {
	f := newMemFile(4096)
	w := NewWriter(f, 0, 4096, State{})
	var seqs []uint64
	for i := 0; i < 5; i++ {
		seq, err := w.Append([]byte("payload"))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		seqs = append(seqs, seq)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("sequences not strictly increasing: %v", seqs)
		}
	}
}

func TestPaddingWrap(t *testing.T) {
	ringSize := uint64(300)
	f := newMemFile(int(ringSize))
	w := NewWriter(f, 0, ringSize, State{})

	// Fill until close to the end, leaving less room than the next
	// record needs, forcing a pad + wrap.
	payload := make([]byte, 64)
	for w.size-w.state.WritePos > uint64(RecordHeaderSize+len(payload)) {
		if _, err := w.Append(payload); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// Checkpoint to free up ring capacity (as a real writer would after a
	// successful commit) before the record that forces the wrap.
	w.RecordCheckpoint()

	beforeWrap := w.WalStats().WrapCount
	posBefore := w.State().WritePos

	seq, err := w.Append(payload)
	if err != nil {
		t.Fatalf("wrap append: %v", err)
	}
	if w.WalStats().WrapCount != beforeWrap+1 {
		t.Fatalf("expected wrap_count to advance by 1, got %d -> %d", beforeWrap, w.WalStats().WrapCount)
	}
	if w.State().WritePos == posBefore {
		t.Fatalf("write pos did not move after wrap")
	}
	if seq == 0 {
		t.Fatalf("expected nonzero sequence")
	}

	r := NewReader(f, 0, ringSize)
	hdrBuf, ok := r.readAt(0, RecordHeaderSize)
	if !ok {
		t.Fatalf("could not read header at offset 0 after wrap")
	}
	hdr, err := DecodeRecordHeader(hdrBuf)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if hdr.Sequence != seq {
		t.Fatalf("expected wrapped record at offset 0 with sequence %d, got %d", seq, hdr.Sequence)
	}
}

func TestTerminalMarkerDetected(t *testing.T) {
	f := newMemFile(4096)
	w := NewWriter(f, 0, 4096, State{})
	if _, err := w.Append([]byte("hello")); err != nil {
		t.Fatalf("append: %v", err)
	}
	pos := w.State().WritePos
	buf, ok := f.ReadAtFull(int64(pos), RecordHeaderSize)
	if !ok {
		t.Fatalf("expected to read terminal marker region")
	}
	if !IsTerminalMarker(buf) {
		t.Fatalf("expected terminal marker at write_pos %d", pos)
	}
}

func TestScanWalStateRecoversCursor(t *testing.T) {
	f := newMemFile(4096)
	w := NewWriter(f, 0, 4096, State{})
	var lastSeq uint64
	for i := 0; i < 3; i++ {
		seq, err := w.Append([]byte("abc"))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		lastSeq = seq
	}

	r := NewReader(f, 0, 4096)
	state := r.ScanWalState(0, 0)
	if state.LastSequence != lastSeq {
		t.Fatalf("expected last sequence %d, got %d", lastSeq, state.LastSequence)
	}
	if state.WritePos != w.State().WritePos {
		t.Fatalf("expected write pos %d, got %d", w.State().WritePos, state.WritePos)
	}
}

func TestScanPendingMutationsDecodesPutFrame(t *testing.T) {
	f := newMemFile(4096)
	w := NewWriter(f, 0, 4096, State{})

	pf := PutFrame{FrameID: 0, TimestampMs: 10, PayloadOffset: 100, PayloadLength: 4, CanonicalLength: 4}
	if _, err := w.Append(EncodePutFrame(pf)); err != nil {
		t.Fatalf("append: %v", err)
	}
	de := DeleteFrame{FrameID: 0}
	if _, err := w.Append(EncodeDeleteFrame(de)); err != nil {
		t.Fatalf("append: %v", err)
	}

	r := NewReader(f, 0, 4096)
	res := r.ScanPendingMutationsWithState(0, 0)
	if len(res.Mutations) != 2 {
		t.Fatalf("expected 2 mutations, got %d", len(res.Mutations))
	}
	if res.Mutations[0].Op != OpPutFrame || res.Mutations[0].PutFrame.FrameID != 0 {
		t.Fatalf("unexpected first mutation: %+v", res.Mutations[0])
	}
	if res.Mutations[1].Op != OpDeleteFrame || res.Mutations[1].DeleteFrame.FrameID != 0 {
		t.Fatalf("unexpected second mutation: %+v", res.Mutations[1])
	}
}

func TestScanToleratesSingleCorruptRecord(t *testing.T) {
	f := newMemFile(4096)
	w := NewWriter(f, 0, 4096, State{})
	if _, err := w.Append(EncodeDeleteFrame(DeleteFrame{FrameID: 1})); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Corrupt the payload bytes of the first record in place (after the
	// 48-byte header) so its checksum no longer matches.
	f.mu.Lock()
	f.data[RecordHeaderSize] ^= 0xFF
	f.mu.Unlock()

	if _, err := w.Append(EncodeDeleteFrame(DeleteFrame{FrameID: 2})); err != nil {
		t.Fatalf("append: %v", err)
	}

	r := NewReader(f, 0, 4096)
	state := r.ScanWalState(0, 0)
	// state scan tolerates the corrupt record and keeps going, so it
	// should still observe the second append's sequence.
	if state.LastSequence != 2 {
		t.Fatalf("expected state scan to reach sequence 2, got %d", state.LastSequence)
	}

	res := r.ScanPendingMutationsWithState(0, 0)
	// mutation decoding stops at the first undecodable record (the
	// corrupted one), so only records before it are returned.
	if len(res.Mutations) != 0 {
		t.Fatalf("expected 0 decoded mutations past the corruption, got %d", len(res.Mutations))
	}
}

func TestCanAppendRejectsOversizedRecord(t *testing.T) {
	f := newMemFile(64)
	w := NewWriter(f, 0, 64, State{})
	if w.CanAppend(1000) {
		t.Fatalf("expected CanAppend to reject a record bigger than the ring")
	}
}

func TestAppendBatchAtomic(t *testing.T) {
	f := newMemFile(128)
	w := NewWriter(f, 0, 128, State{})
	before := w.State()

	_, err := w.AppendBatch([][]byte{
		make([]byte, 40),
		make([]byte, 1000), // too big, whole batch must fail
	})
	if err == nil {
		t.Fatalf("expected AppendBatch to fail")
	}
	if w.State() != before {
		t.Fatalf("state mutated despite failed batch: before=%+v after=%+v", before, w.State())
	}
}
