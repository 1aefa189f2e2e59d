// Package waxstore implements the .mv2s container lifecycle: Create, Open
// with crash recovery, Commit with its five durability boundaries, and the
// frame read/write surface the lex/vector/structmem engines and the
// orchestrator build on.
//
// It follows the dual-header-page, WAL-ring, TOC-plus-footer scheme for
// the on-disk container, with one mutex-guarded struct owning one
// *os.File — the same ownership pattern as a single append-only page
// file with an in-process LRU.
package waxstore

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/waxrag/waxrag/codec"
	"github.com/waxrag/waxrag/mv2s"
	"github.com/waxrag/waxrag/walring"
	"github.com/waxrag/waxrag/waxerr"
)

// DefaultWalSize is the WAL ring capacity used by Create when the caller
// does not specify one.
const DefaultWalSize = 4 << 20

// compressThreshold is the canonical-content length above which a frame's
// stored bytes are s2-compressed. Below it the framing overhead of a
// compressed block isn't worth paying.
const compressThreshold = 256

// CreateOptions configures a brand-new store file.
type CreateOptions struct {
	WalSize      uint64
	CacheEntries int
}

// Store is a single open .mv2s file. All exported methods are safe for
// concurrent use by the single process holding the writer lease; there is
// no multi-writer fan-in — one lease holder at a time.
type Store struct {
	mu sync.Mutex

	path string
	file *os.File
	ls   *lease

	layout mv2s.Layout
	wal    *walring.Writer

	generation   uint64
	footerOffset uint64
	toc          mv2s.TOC

	dataCursor uint64

	headerPageGenA uint64
	headerPageGenB uint64

	cache *frameCache

	stagedPuts       []stagedPut
	stagedDeletes    []stagedDelete
	stagedSupersedes []stagedSupersede
	stagedEmbeddings []stagedEmbedding

	closed bool

	failAfter int // test hook; see failpoint.go
}

// Create initializes a new .mv2s file at path. It fails if a file already
// exists there (spec: Create never silently adopts another store's bytes).
func Create(path string, opts CreateOptions) (*Store, error) {
	const op = "waxstore: create"

	ls, err := acquireLease(path)
	if err != nil {
		return nil, waxerr.Wrap(op, waxerr.KindBusy, "cannot acquire writer lease", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		ls.release()
		if os.IsExist(err) {
			return nil, waxerr.Wrap(op, waxerr.KindState, "store file already exists", err)
		}
		return nil, waxerr.Wrap(op, waxerr.KindIO, "cannot create store file", err)
	}

	walSize := opts.WalSize
	if walSize == 0 {
		walSize = DefaultWalSize
	}
	layout := mv2s.Layout{WalOffset: mv2s.DefaultWalOffset(), WalSize: walSize}

	if err := f.Truncate(int64(layout.WalEnd())); err != nil {
		f.Close()
		ls.release()
		return nil, waxerr.Wrap(op, waxerr.KindIO, "cannot preallocate store file", err)
	}

	s := &Store{
		path:       path,
		file:       f,
		ls:         ls,
		layout:     layout,
		wal:        walring.NewWriter(f, layout.WalOffset, layout.WalSize, walring.State{}),
		generation: 0,
		toc:        mv2s.TOC{Version: mv2s.TocVersion1},
		dataCursor: layout.WalEnd(),
		cache:      newFrameCache(opts.CacheEntries),
	}

	hp := mv2s.HeaderPage{
		WalOffset:            layout.WalOffset,
		WalSize:              layout.WalSize,
		HeaderPageGeneration: 1,
	}
	if err := s.writeHeaderPage(mv2s.HeaderPageAOffset, hp); err != nil {
		f.Close()
		ls.release()
		return nil, err
	}
	if err := s.writeHeaderPage(mv2s.HeaderPageBOffset, hp); err != nil {
		f.Close()
		ls.release()
		return nil, err
	}
	s.headerPageGenA, s.headerPageGenB = 1, 1

	if err := f.Sync(); err != nil {
		f.Close()
		ls.release()
		return nil, waxerr.Wrap(op, waxerr.KindIO, "cannot sync new store file", err)
	}

	return s, nil
}

// Open opens an existing .mv2s file, recovering the last durable generation
// and replaying any WAL mutations written since. When repair is true, any
// trailing bytes past the recovered data-area end are truncated away.
func Open(path string, repair bool) (*Store, error) {
	const op = "waxstore: open"

	ls, err := acquireLease(path)
	if err != nil {
		return nil, waxerr.Wrap(op, waxerr.KindBusy, "cannot acquire writer lease", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		ls.release()
		return nil, waxerr.Wrap(op, waxerr.KindIO, "cannot open store file", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		ls.release()
		return nil, waxerr.Wrap(op, waxerr.KindIO, "cannot stat store file", err)
	}
	fileSize := uint64(info.Size())

	pageA, errA := readHeaderPage(f, mv2s.HeaderPageAOffset)
	pageB, errB := readHeaderPage(f, mv2s.HeaderPageBOffset)
	if errA != nil && errB != nil {
		f.Close()
		ls.release()
		return nil, waxerr.New(op, waxerr.KindCorruption, "both header pages are unreadable")
	}

	var active mv2s.HeaderPage
	switch {
	case errA != nil:
		active = pageB
	case errB != nil:
		active = pageA
	case pageB.HeaderPageGeneration > pageA.HeaderPageGeneration:
		active = pageB
	default:
		active = pageA
	}

	layout := mv2s.Layout{WalOffset: active.WalOffset, WalSize: active.WalSize}

	footer, footerOffset, found := chooseFooter(f, fileSize, layout, active, pageA, errA == nil, pageB, errB == nil)

	var toc mv2s.TOC
	if found {
		tocBytes, err := readRange(f, footerOffset-footer.TocLen, footer.TocLen)
		if err != nil {
			f.Close()
			ls.release()
			return nil, waxerr.Wrap(op, waxerr.KindCorruption, "cannot read toc bytes", err)
		}
		sum := sha256.Sum256(tocBytes)
		if sum != footer.TocHash {
			f.Close()
			ls.release()
			return nil, waxerr.New(op, waxerr.KindCorruption, "toc hash mismatch against footer")
		}
		decoded, err := mv2s.DecodeTOC(tocBytes)
		if err != nil {
			f.Close()
			ls.release()
			return nil, waxerr.Wrap(op, waxerr.KindCorruption, "cannot decode toc", err)
		}
		toc = decoded
	} else {
		toc = mv2s.TOC{Version: mv2s.TocVersion1}
	}

	checkpointPos := minCheckpointPos(pageA, errA == nil, pageB, errB == nil)
	committedSeq := footer.WalCommittedSeq

	reader := walring.NewReader(f, layout.WalOffset, layout.WalSize)
	pending := reader.ScanPendingMutationsWithState(checkpointPos, committedSeq)

	if err := applyMutations(&toc, pending.Mutations); err != nil {
		f.Close()
		ls.release()
		return nil, waxerr.Wrap(op, waxerr.KindCorruption, "cannot replay pending wal mutations", err)
	}

	committedEnd := footerOffset + mv2s.FooterSize
	if !found {
		committedEnd = layout.WalEnd()
	}
	requiredEnd := committedEnd
	for _, m := range pending.Mutations {
		if m.Op == walring.OpPutFrame && m.PutFrame != nil {
			end := m.PutFrame.PayloadOffset + m.PutFrame.PayloadLength
			if end > requiredEnd {
				requiredEnd = end
			}
		}
	}
	if requiredEnd > fileSize {
		f.Close()
		ls.release()
		return nil, waxerr.New(op, waxerr.KindCorruption, "pending frame payload extends past end of file")
	}
	if repair && fileSize > requiredEnd {
		if err := f.Truncate(int64(requiredEnd)); err != nil {
			f.Close()
			ls.release()
			return nil, waxerr.Wrap(op, waxerr.KindIO, "cannot truncate trailing garbage", err)
		}
	}

	walState := walring.State{
		WritePos:      pending.State.WritePos,
		CheckpointPos: checkpointPos,
		PendingBytes:  pending.State.PendingBytes,
		LastSequence:  pending.State.LastSequence,
	}

	s := &Store{
		path:         path,
		file:         f,
		ls:           ls,
		layout:       layout,
		wal:          walring.NewWriter(f, layout.WalOffset, layout.WalSize, walState),
		generation:   footer.Generation,
		footerOffset: footerOffset,
		toc:          toc,
		dataCursor:   requiredEnd,
		cache:        newFrameCache(0),
	}
	if errA == nil {
		s.headerPageGenA = pageA.HeaderPageGeneration
	}
	if errB == nil {
		s.headerPageGenB = pageB.HeaderPageGeneration
	}
	return s, nil
}

// chooseFooter arbitrates among the active header's footer pointer, its
// replay snapshot, and a backward byte scan of the data area, picking
// whichever valid candidate carries the largest generation (spec §4.3: a
// footer becomes discoverable the moment it's durably written, regardless
// of whether any header references it yet).
func chooseFooter(f *os.File, fileSize uint64, layout mv2s.Layout, active mv2s.HeaderPage, pageA mv2s.HeaderPage, okA bool, pageB mv2s.HeaderPage, okB bool) (mv2s.Footer, uint64, bool) {
	type cand struct {
		footer mv2s.Footer
		offset uint64
	}
	var best *cand

	consider := func(offset uint64) {
		if offset == 0 || offset+mv2s.FooterSize > fileSize {
			return
		}
		raw, err := readRange(f, offset, mv2s.FooterSize)
		if err != nil {
			return
		}
		ft, err := mv2s.DecodeFooter(raw)
		if err != nil {
			return
		}
		if best == nil || ft.Generation > best.footer.Generation {
			best = &cand{footer: ft, offset: offset}
		}
	}

	consider(active.FooterOffset)
	if active.ReplaySnapshot.Present {
		consider(active.ReplaySnapshot.FooterOffset)
	}

	// Backward scan: a footer's offset depends on the variable-length TOC
	// that precedes it, so footers aren't evenly spaced — every byte
	// offset down to the data area start must be checked for the magic
	// and checksum. This is O(file size) but only runs at Open.
	dataStart := layout.WalEnd()
	if fileSize > mv2s.FooterSize {
		for off := fileSize - mv2s.FooterSize; off >= dataStart && off+mv2s.FooterSize <= fileSize; off-- {
			raw, err := readRange(f, off, mv2s.FooterSize)
			if err != nil {
				continue
			}
			if ft, err := mv2s.DecodeFooter(raw); err == nil {
				if best == nil || ft.Generation > best.footer.Generation {
					best = &cand{footer: ft, offset: off}
				}
			}
			if off == dataStart {
				break
			}
		}
	}

	_ = pageA
	_ = pageB
	_ = okA
	_ = okB
	if best == nil {
		return mv2s.Footer{}, 0, false
	}
	return best.footer, best.offset, true
}

func minCheckpointPos(pageA mv2s.HeaderPage, okA bool, pageB mv2s.HeaderPage, okB bool) uint64 {
	switch {
	case okA && okB:
		if pageA.WalCheckpointPos < pageB.WalCheckpointPos {
			return pageA.WalCheckpointPos
		}
		return pageB.WalCheckpointPos
	case okA:
		return pageA.WalCheckpointPos
	case okB:
		return pageB.WalCheckpointPos
	default:
		return 0
	}
}

func readRange(f *os.File, offset, length uint64) ([]byte, error) {
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, int64(offset))
	if err != nil && uint64(n) < length {
		return nil, err
	}
	return buf, nil
}

func readHeaderPage(f *os.File, offset uint64) (mv2s.HeaderPage, error) {
	raw, err := readRange(f, offset, mv2s.HeaderPageSize)
	if err != nil {
		return mv2s.HeaderPage{}, err
	}
	return mv2s.DecodeHeaderPage(raw)
}

func (s *Store) writeHeaderPage(offset uint64, hp mv2s.HeaderPage) error {
	raw := hp.Encode()
	if _, err := s.file.WriteAt(raw, int64(offset)); err != nil {
		return waxerr.Wrap("waxstore: write header page", waxerr.KindIO, "write failed", err)
	}
	return nil
}

// Close flushes nothing further (Commit already fsyncs), releases the
// writer lease, and closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.file.Close()
	if lerr := s.ls.release(); lerr != nil && err == nil {
		err = lerr
	}
	return err
}

// VerifyReport summarizes a Verify pass.
type VerifyReport struct {
	FramesChecked int
	Errors        []error
}

// Verify walks the committed TOC and, when deep is true, re-reads and
// re-hashes every live frame's payload against its stored checksum.
func (s *Store) Verify(deep bool) (VerifyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var report VerifyReport
	for i := range s.toc.Frames {
		f := s.toc.Frames[i]
		if f.Status == mv2s.StatusDeleted {
			continue
		}
		report.FramesChecked++
		if !deep {
			continue
		}
		raw, err := readRange(s.file, f.PayloadOffset, f.PayloadLength)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("frame %d: %w", f.ID, err))
			continue
		}
		if f.CanonicalEncoding != mv2s.EncodingPlain {
			if !f.HasStoredChecksum {
				report.Errors = append(report.Errors, fmt.Errorf("frame %d: missing stored checksum for compressed frame", f.ID))
				continue
			}
			if sum := codec.Sum32(raw); sum != f.StoredChecksum {
				report.Errors = append(report.Errors, fmt.Errorf("frame %d: stored checksum mismatch", f.ID))
				continue
			}
		}
		content, err := decompressPayload(f.CanonicalEncoding, raw, f.CanonicalLength)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("frame %d: %w", f.ID, err))
			continue
		}
		sum := codec.Sum32(content)
		if sum != f.CanonicalChecksum {
			report.Errors = append(report.Errors, fmt.Errorf("frame %d: canonical checksum mismatch", f.ID))
		}
	}
	if len(report.Errors) > 0 {
		return report, waxerr.New("waxstore: verify", waxerr.KindCorruption, "one or more frames failed verification")
	}
	return report, nil
}

// Stats reports the current generation and frame counts.
type Stats struct {
	Generation   uint64
	LiveFrames   int
	DeletedFrames int
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Generation: s.generation}
	for _, f := range s.toc.Frames {
		if f.Status == mv2s.StatusDeleted {
			st.DeletedFrames++
		} else {
			st.LiveFrames++
		}
	}
	return st
}

// WalStats exposes the underlying ring writer's counters.
func (s *Store) WalStats() walring.Stats {
	return s.wal.WalStats()
}

func compressPayload(content []byte) (mv2s.Encoding, []byte) {
	if len(content) < compressThreshold {
		return mv2s.EncodingPlain, content
	}
	return mv2s.EncodingCompressed, s2.Encode(nil, content)
}

func decompressPayload(encoding mv2s.Encoding, stored []byte, canonicalLength uint64) ([]byte, error) {
	if encoding == mv2s.EncodingPlain {
		return stored, nil
	}
	dst := make([]byte, canonicalLength)
	out, err := s2.Decode(dst, stored)
	if err != nil {
		return nil, waxerr.Wrap("waxstore: decompress", waxerr.KindCorruption, "s2 decode failed", err)
	}
	return out, nil
}

// sortedUint64s returns an ascending-sorted copy of ids; nothing in the
// package calls it at present.
func sortedUint64s(ids []uint64) []uint64 {
	out := append([]uint64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
