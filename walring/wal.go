package walring

import (
	"fmt"
	"io"
	"sync"

	"github.com/waxrag/waxrag/codec"
)

// File is the minimal random-access surface the ring needs; *os.File and
// storage.MemFile-style in-memory stand-ins both satisfy it.
type File interface {
	io.ReaderAt
	io.WriterAt
}

// Stats are the counters WalStats() exposes (spec §4.2).
type Stats struct {
	WrapCount          uint64
	CheckpointCount    uint64
	SentinelWriteCount uint64
	WriteCallCount     uint64
	AutoCommitCount    uint64
}

// State is the mutable writer position recovered at open time and
// advanced as records are appended and checkpoints taken.
type State struct {
	WritePos      uint64
	CheckpointPos uint64
	PendingBytes  uint64
	LastSequence  uint64
}

// Writer owns the mutable ring cursor for a single WAL region. Its
// internal state is mutable only from the owning writer — there is no
// interior synchronization beyond what's needed to make methods safe to
// call from the single owning task, one mutex guarding one os.File.
type Writer struct {
	mu    sync.Mutex
	file  File
	base  uint64 // absolute file offset the ring starts at
	size  uint64 // ring capacity in bytes

	state State
	stats Stats
}

// NewWriter constructs a ring writer over file[base:base+size], resuming
// from the given recovered state (zero value for a freshly created ring).
func NewWriter(file File, base, size uint64, initial State) *Writer {
	return &Writer{file: file, base: base, size: size, state: initial}
}

// State returns a snapshot of the writer's current cursor.
func (w *Writer) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// WalStats returns a snapshot of the writer's counters.
func (w *Writer) WalStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// NoteAutoCommit lets the owning store record that a checkpoint was
// triggered by a successful Commit, distinct from a manual checkpoint.
func (w *Writer) NoteAutoCommit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.AutoCommitCount++
}

// CanAppend reports whether a record carrying payloadSize bytes can be
// appended without exceeding the ring's uncheckpointed capacity.
func (w *Writer) CanAppend(payloadSize int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _, err := w.plan(payloadSize)
	return err == nil
}

// plan computes the padding (if any) and final write offset for a record
// of the given payload size, without mutating state. It returns the
// padding length (0 if no wrap needed) and an error if the ring has no
// room.
func (w *Writer) plan(payloadSize int) (paddingLen uint64, writeAt uint64, err error) {
	recSize := uint64(RecordHeaderSize + payloadSize)
	if recSize > w.size {
		return 0, 0, fmt.Errorf("walring: record of %d bytes exceeds ring capacity %d", recSize, w.size)
	}
	remainingToEnd := w.size - w.state.WritePos
	needed := recSize
	writeAt = w.state.WritePos
	if remainingToEnd < recSize {
		if remainingToEnd < RecordHeaderSize {
			return 0, 0, fmt.Errorf("walring: ring tail too small to pad (%d bytes left)", remainingToEnd)
		}
		paddingLen = remainingToEnd
		needed += paddingLen
		writeAt = 0
	}
	capacity := w.size - w.state.PendingBytes
	if needed > capacity {
		return 0, 0, fmt.Errorf("walring: capacity overflow: need %d, have %d of %d", needed, capacity, w.size)
	}
	return paddingLen, writeAt, nil
}

// Append writes a single data record and returns its sequence.
func (w *Writer) Append(payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	seq, err := w.appendLocked(payload)
	return seq, err
}

// AppendBatch appends all payloads atomically: either every record lands
// or none do. Capacity is validated for the whole batch up front.
func (w *Writer) AppendBatch(payloads [][]byte) ([]uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	saved := w.state
	savedStats := w.stats
	for _, p := range payloads {
		paddingLen, writeAt, err := w.plan(len(p))
		if err != nil {
			w.state = saved
			return nil, err
		}
		recSize := uint64(RecordHeaderSize + len(p))
		w.state.WritePos = writeAt + recSize
		w.state.PendingBytes += paddingLen + recSize
	}
	w.state = saved
	seqs := make([]uint64, 0, len(payloads))
	for _, p := range payloads {
		seq, err := w.appendLocked(p)
		if err != nil {
			w.state = saved
			w.stats = savedStats
			return nil, err
		}
		seqs = append(seqs, seq)
	}
	return seqs, nil
}

func (w *Writer) appendLocked(payload []byte) (uint64, error) {
	if w.state.LastSequence == ^uint64(0) {
		return 0, fmt.Errorf("walring: sequence counter overflow")
	}
	paddingLen, writeAt, err := w.plan(len(payload))
	if err != nil {
		return 0, err
	}

	if paddingLen > 0 {
		if err := w.writePadding(paddingLen); err != nil {
			return 0, err
		}
		w.stats.WrapCount++
	}

	seq := w.state.LastSequence + 1
	sum := codec.Sum32(payload)
	hdr := RecordHeader{Sequence: seq, PayloadLen: uint32(len(payload)), PayloadSHA256: sum}
	buf := append(hdr.Encode(), payload...)
	if _, err := w.file.WriteAt(buf, int64(w.base+writeAt)); err != nil {
		return 0, fmt.Errorf("walring: write record: %w", err)
	}
	w.stats.WriteCallCount++

	recSize := uint64(RecordHeaderSize + len(payload))
	newPos := writeAt + recSize
	w.state.WritePos = newPos
	w.state.PendingBytes += paddingLen + recSize
	w.state.LastSequence = seq

	w.writeTerminalMarkerIfRoom(newPos)
	return seq, nil
}

func (w *Writer) writePadding(length uint64) error {
	hdr := RecordHeader{Sequence: 0, PayloadLen: uint32(length - RecordHeaderSize), Flags: FlagPadding}
	buf := make([]byte, length)
	copy(buf, hdr.Encode())
	if _, err := w.file.WriteAt(buf, int64(w.base+w.state.WritePos)); err != nil {
		return fmt.Errorf("walring: write padding: %w", err)
	}
	w.stats.WriteCallCount++
	return nil
}

func (w *Writer) writeTerminalMarkerIfRoom(pos uint64) {
	if w.size-pos < RecordHeaderSize {
		return
	}
	if _, err := w.file.WriteAt(terminalMarker(), int64(w.base+pos)); err == nil {
		w.stats.SentinelWriteCount++
		w.stats.WriteCallCount++
	}
}

// RecordCheckpoint advances checkpoint_pos to write_pos and zeroes
// pending_bytes.
func (w *Writer) RecordCheckpoint() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.CheckpointPos = w.state.WritePos
	w.state.PendingBytes = 0
	w.stats.CheckpointCount++
}
