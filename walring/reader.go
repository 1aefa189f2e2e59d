package walring

import (
	"github.com/waxrag/waxrag/codec"
)

// ScanState is what ScanWalState recovers: where the writer left off, how
// many bytes are uncheckpointed, and the highest sequence observed.
type ScanState struct {
	WritePos     uint64
	PendingBytes uint64
	LastSequence uint64
}

// Reader scans a WAL ring region for recovery purposes. It never mutates
// the file.
type Reader struct {
	file File
	base uint64
	size uint64
}

// NewReader constructs a reader over file[base:base+size].
func NewReader(file File, base, size uint64) *Reader {
	return &Reader{file: file, base: base, size: size}
}

// readAt reads exactly n bytes at ring-relative offset pos, returning
// (nil, false) if fewer than n bytes are available (treated the same as
// reaching the terminal marker: end of written data).
func (r *Reader) readAt(pos uint64, n int) ([]byte, bool) {
	if pos+uint64(n) > r.size {
		return nil, false
	}
	buf := make([]byte, n)
	read, err := r.file.ReadAt(buf, int64(r.base+pos))
	if err != nil || read < n {
		return nil, false
	}
	return buf, true
}

// walkResult is the shared outcome of scanning forward from checkpointPos,
// used by both ScanWalState and ScanPendingMutationsWithState so the two
// never disagree about where the writer's cursor actually is.
type walkResult struct {
	state           ScanState
	mutations       []Mutation
	decodeMutations bool
}

func (r *Reader) walk(checkpointPos, committedSeq uint64, decodeMutations bool) walkResult {
	pos := checkpointPos
	lastSeq := committedSeq
	pendingBytes := uint64(0)
	corruptionTolerated := false
	mutationsStillGrowing := true
	var mutations []Mutation

	for {
		hdrBuf, ok := r.readAt(pos, RecordHeaderSize)
		if !ok {
			break
		}
		if IsTerminalMarker(hdrBuf) {
			break
		}
		hdr, err := DecodeRecordHeader(hdrBuf)
		if err != nil {
			break
		}

		if hdr.IsPadding() {
			recSize := uint64(RecordHeaderSize) + uint64(hdr.PayloadLen)
			pendingBytes += recSize
			pos = 0
			continue
		}

		payload, ok := r.readAt(pos+RecordHeaderSize, int(hdr.PayloadLen))
		recSize := uint64(RecordHeaderSize) + uint64(hdr.PayloadLen)
		valid := ok && checksumMatches(hdr, payload)

		if !valid {
			if corruptionTolerated {
				// a second undecodable record means the stream can no
				// longer be trusted past this point.
				break
			}
			corruptionTolerated = true
			mutationsStillGrowing = false
			if !ok {
				// payload itself is missing/truncated: nothing more to
				// scan past this point.
				break
			}
			pos += recSize
			pendingBytes += recSize
			continue
		}

		pos += recSize
		pendingBytes += recSize
		if hdr.Sequence > lastSeq {
			lastSeq = hdr.Sequence
		}

		if decodeMutations && mutationsStillGrowing && hdr.Sequence > committedSeq {
			mut, err := DecodeMutation(hdr.Sequence, payload)
			if err != nil {
				mutationsStillGrowing = false
				continue
			}
			mutations = append(mutations, mut)
		}
	}

	return walkResult{
		state: ScanState{WritePos: pos, PendingBytes: pendingBytes, LastSequence: lastSeq},
		mutations: mutations,
	}
}

func checksumMatches(hdr RecordHeader, payload []byte) bool {
	sum := codec.Sum32(payload)
	return sum == hdr.PayloadSHA256
}

// ScanWalState recovers {write_pos, pending_bytes, last_sequence} by
// scanning forward from checkpointPos, tolerating at most one
// undecodable record.
func (r *Reader) ScanWalState(checkpointPos, committedSeq uint64) ScanState {
	return r.walk(checkpointPos, committedSeq, false).state
}

// PendingScanResult bundles the decoded pending mutations with the
// recovered cursor state.
type PendingScanResult struct {
	Mutations []Mutation
	State     ScanState
}

// ScanPendingMutationsWithState decodes mutation payloads with sequence >
// committedSeq starting at checkpointPos. Decoding stops at the first
// undecodable payload so mutations are never reordered past a hole, but
// the underlying state scan continues past it.
func (r *Reader) ScanPendingMutationsWithState(checkpointPos, committedSeq uint64) PendingScanResult {
	res := r.walk(checkpointPos, committedSeq, true)
	return PendingScanResult{Mutations: res.mutations, State: res.state}
}
