package waxstore

import (
	"crypto/sha256"

	"github.com/waxrag/waxrag/codec"
	"github.com/waxrag/waxrag/mv2s"
	"github.com/waxrag/waxrag/walring"
	"github.com/waxrag/waxrag/waxerr"
)

// Commit durably applies every staged mutation: it appends the WAL records,
// then passes five ordered steps, each a documented crash boundary (spec
// §4.3): TOC write, footer write, WAL checkpoint, and the two header page
// publishes. A crash at any
// point leaves Open able to recover a consistent generation — either the
// prior one (if the crash landed before the footer was written, in which
// case the now-durable WAL records are replayed on top of it) or this one
// (if the footer made it to disk, found via the backward scan even before
// either header is updated).
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return waxerr.New("waxstore: commit", waxerr.KindState, "store is closed")
	}
	if len(s.stagedPuts) == 0 && len(s.stagedDeletes) == 0 && len(s.stagedSupersedes) == 0 && len(s.stagedEmbeddings) == 0 {
		return nil
	}

	newGeneration := s.generation + 1

	payloadMutations, err := s.writeStagedPayloadsLocked()
	if err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return waxerr.Wrap("waxstore: commit", waxerr.KindIO, "sync after payload write failed", err)
	}

	var walPayloads [][]byte
	var muts []walring.Mutation
	for _, pf := range payloadMutations {
		walPayloads = append(walPayloads, walring.EncodePutFrame(pf))
		muts = append(muts, walring.Mutation{Op: walring.OpPutFrame, PutFrame: &pf})
	}
	for _, d := range s.stagedDeletes {
		df := walring.DeleteFrame{FrameID: d.id}
		walPayloads = append(walPayloads, walring.EncodeDeleteFrame(df))
		muts = append(muts, walring.Mutation{Op: walring.OpDeleteFrame, DeleteFrame: &df})
	}
	for _, ss := range s.stagedSupersedes {
		se := walring.Supersede{NewID: ss.newID, OldID: ss.oldID}
		walPayloads = append(walPayloads, walring.EncodeSupersede(se))
		muts = append(muts, walring.Mutation{Op: walring.OpSupersede, Supersede: &se})
	}
	for _, pe := range s.stagedEmbeddings {
		wpe := walring.PutEmbedding{
			FrameID:     pe.id,
			Dimension:   uint32(len(pe.vector)),
			Vector:      pe.vector,
			HasIdentity: pe.hasIdentity,
			Identity:    pe.identity,
		}
		walPayloads = append(walPayloads, walring.EncodePutEmbedding(wpe))
		muts = append(muts, walring.Mutation{Op: walring.OpPutEmbedding, PutEmbedding: &wpe})
	}

	seqs, err := s.wal.AppendBatch(walPayloads)
	if err != nil {
		return waxerr.Wrap("waxstore: commit", waxerr.KindIO, "wal append failed", err)
	}
	if err := s.file.Sync(); err != nil {
		return waxerr.Wrap("waxstore: commit", waxerr.KindIO, "sync after wal append failed", err)
	}
	lastSeq := seqs[len(seqs)-1]

	newToc := cloneTOC(s.toc)
	if err := applyMutations(&newToc, muts); err != nil {
		return waxerr.Wrap("waxstore: commit", waxerr.KindCorruption, "failed to fold staged mutations", err)
	}
	newToc.Version = mv2s.TocVersion1

	tocBytes := newToc.Encode()
	tocOffset := s.dataCursor
	if _, err := s.file.WriteAt(tocBytes, int64(tocOffset)); err != nil {
		return waxerr.Wrap("waxstore: commit", waxerr.KindIO, "toc write failed", err)
	}
	if err := s.file.Sync(); err != nil {
		return waxerr.Wrap("waxstore: commit", waxerr.KindIO, "toc sync failed", err)
	}
	s.dataCursor = tocOffset + uint64(len(tocBytes))
	if err := s.checkFailpoint(1); err != nil {
		return err
	}

	footer := mv2s.Footer{
		TocLen:          uint64(len(tocBytes)),
		TocHash:         sha256.Sum256(tocBytes),
		Generation:      newGeneration,
		WalCommittedSeq: lastSeq,
	}
	footerBytes := footer.Encode()
	footerOffset := s.dataCursor
	if _, err := s.file.WriteAt(footerBytes, int64(footerOffset)); err != nil {
		return waxerr.Wrap("waxstore: commit", waxerr.KindIO, "footer write failed", err)
	}
	if err := s.file.Sync(); err != nil {
		return waxerr.Wrap("waxstore: commit", waxerr.KindIO, "footer sync failed", err)
	}
	s.dataCursor = footerOffset + uint64(len(footerBytes))
	if err := s.checkFailpoint(2); err != nil {
		return err
	}

	s.wal.RecordCheckpoint()
	s.wal.NoteAutoCommit()
	if err := s.checkFailpoint(3); err != nil {
		return err
	}

	hp := mv2s.HeaderPage{
		FileGeneration:       newGeneration,
		WalOffset:            s.layout.WalOffset,
		WalSize:              s.layout.WalSize,
		WalWritePos:          s.wal.State().WritePos,
		WalCheckpointPos:     s.wal.State().CheckpointPos,
		WalCommittedSeq:      lastSeq,
		FooterOffset:         footerOffset,
		ReplaySnapshot:       mv2s.ReplaySnapshot{Present: true, FooterOffset: footerOffset, Generation: newGeneration},
		HeaderPageGeneration: s.headerPageGenA + 1,
	}
	if err := s.writeHeaderPage(mv2s.HeaderPageAOffset, hp); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return waxerr.Wrap("waxstore: commit", waxerr.KindIO, "header a sync failed", err)
	}
	s.headerPageGenA = hp.HeaderPageGeneration
	if err := s.checkFailpoint(4); err != nil {
		return err
	}

	hp.HeaderPageGeneration = s.headerPageGenB + 1
	if err := s.writeHeaderPage(mv2s.HeaderPageBOffset, hp); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return waxerr.Wrap("waxstore: commit", waxerr.KindIO, "header b sync failed", err)
	}
	s.headerPageGenB = hp.HeaderPageGeneration
	if err := s.checkFailpoint(5); err != nil {
		return err
	}

	s.toc = newToc
	s.generation = newGeneration
	s.footerOffset = footerOffset
	s.invalidateCacheLocked()
	s.stagedPuts = nil
	s.stagedDeletes = nil
	s.stagedSupersedes = nil
	s.stagedEmbeddings = nil
	return nil
}

// writeStagedPayloadsLocked writes every staged frame's (possibly
// compressed) payload bytes to the data area and returns the PutFrame
// mutations describing them, in staging order. Payload bytes must be
// durable before the WAL record that points at them is appended, so this
// always runs before the WAL append step.
func (s *Store) writeStagedPayloadsLocked() ([]walring.PutFrame, error) {
	out := make([]walring.PutFrame, 0, len(s.stagedPuts))
	for _, p := range s.stagedPuts {
		encoding, stored := compressPayload(p.content)
		offset := s.dataCursor
		if _, err := s.file.WriteAt(stored, int64(offset)); err != nil {
			return nil, waxerr.Wrap("waxstore: commit", waxerr.KindIO, "frame payload write failed", err)
		}
		s.dataCursor = offset + uint64(len(stored))

		pf := walring.PutFrame{
			FrameID:           p.id,
			HasKind:           p.hasKind,
			Kind:              p.kind,
			HasRole:           p.hasRole,
			Role:              p.role,
			HasParentID:       p.hasParentID,
			ParentID:          p.parentID,
			HasEntries:        p.hasEntries,
			Entries:           p.entries,
			PayloadOffset:     offset,
			PayloadLength:     uint64(len(stored)),
			CanonicalEncoding: encoding,
			CanonicalLength:   uint64(len(p.content)),
			CanonicalChecksum: codec.Sum32(p.content),
		}
		if encoding != mv2s.EncodingPlain {
			pf.HasStoredChecksum = true
			pf.StoredChecksum = codec.Sum32(stored)
		}
		out = append(out, pf)
	}
	return out, nil
}

func (s *Store) invalidateCacheLocked() {
	for _, d := range s.stagedDeletes {
		s.cache.invalidate(d.id)
	}
	for _, ss := range s.stagedSupersedes {
		s.cache.invalidate(ss.oldID)
	}
}

func cloneTOC(t mv2s.TOC) mv2s.TOC {
	out := t
	out.Frames = append([]mv2s.FrameRecord(nil), t.Frames...)
	for i := range out.Frames {
		if out.Frames[i].HasEntries {
			entries := make(map[string]string, len(out.Frames[i].Entries))
			for k, v := range out.Frames[i].Entries {
				entries[k] = v
			}
			out.Frames[i].Entries = entries
		}
	}
	out.Segments = append([]mv2s.SegmentCatalogEntry(nil), t.Segments...)
	return out
}
