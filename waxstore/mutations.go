package waxstore

import (
	"github.com/waxrag/waxrag/mv2s"
	"github.com/waxrag/waxrag/walring"
	"github.com/waxrag/waxrag/waxerr"
)

// stagedPut is an uncommitted new frame. Its dense id is assigned at stage
// time (len(committed frames) + already-staged puts) so callers can
// reference a just-staged frame (e.g. ParentID, Supersede) before Commit.
type stagedPut struct {
	id      uint64
	content []byte

	hasKind bool
	kind    string
	hasRole bool
	role    string

	hasParentID bool
	parentID    uint64

	hasEntries bool
	entries    map[string]string
}

type stagedDelete struct {
	id uint64
}

type stagedSupersede struct {
	newID uint64
	oldID uint64
}

type stagedEmbedding struct {
	id          uint64
	vector      []float32
	hasIdentity bool
	identity    mv2s.EmbeddingIdentity
}

// PutInput describes a new frame to stage.
type PutInput struct {
	Content []byte

	HasKind bool
	Kind    string
	HasRole bool
	Role    string

	HasParentID bool
	ParentID    uint64

	Entries map[string]string
}

// nextStagedID returns the dense id the next staged Put would receive.
func (s *Store) nextStagedID() uint64 {
	return uint64(len(s.toc.Frames) + len(s.stagedPuts))
}

// Put stages a new frame and returns the id it will receive once Commit
// succeeds. The frame is not durable and not visible to readers until
// Commit (and, for the engines built on top, Flush) completes.
func (s *Store) Put(in PutInput) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, waxerr.New("waxstore: put", waxerr.KindState, "store is closed")
	}
	if in.HasParentID {
		if _, err := s.resolveFrameLocked(in.ParentID); err != nil {
			return 0, err
		}
	}
	id := s.nextStagedID()
	s.stagedPuts = append(s.stagedPuts, stagedPut{
		id:          id,
		content:     append([]byte(nil), in.Content...),
		hasKind:     in.HasKind,
		kind:        in.Kind,
		hasRole:     in.HasRole,
		role:        in.Role,
		hasParentID: in.HasParentID,
		parentID:    in.ParentID,
		hasEntries:  len(in.Entries) > 0,
		entries:     in.Entries,
	})
	return id, nil
}

// PutBatch stages several new frames atomically: either every one is
// staged or (on the first invalid entry) none are.
func (s *Store) PutBatch(ins []PutInput) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, waxerr.New("waxstore: put_batch", waxerr.KindState, "store is closed")
	}
	savedPuts := append([]stagedPut(nil), s.stagedPuts...)
	ids := make([]uint64, 0, len(ins))
	for _, in := range ins {
		if in.HasParentID {
			if _, err := s.resolveFrameLocked(in.ParentID); err != nil {
				s.stagedPuts = savedPuts
				return nil, err
			}
		}
		id := s.nextStagedID()
		s.stagedPuts = append(s.stagedPuts, stagedPut{
			id:          id,
			content:     append([]byte(nil), in.Content...),
			hasKind:     in.HasKind,
			kind:        in.Kind,
			hasRole:     in.HasRole,
			role:        in.Role,
			hasParentID: in.HasParentID,
			parentID:    in.ParentID,
			hasEntries:  len(in.Entries) > 0,
			entries:     in.Entries,
		})
		ids = append(ids, id)
	}
	return ids, nil
}

// Delete stages a logical delete of an existing, live frame.
func (s *Store) Delete(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return waxerr.New("waxstore: delete", waxerr.KindState, "store is closed")
	}
	if _, err := s.resolveFrameLocked(id); err != nil {
		return err
	}
	s.stagedDeletes = append(s.stagedDeletes, stagedDelete{id: id})
	return nil
}

// Supersede stages a newID replaces oldID edge, rejecting it if it would
// close a supersede cycle (oldID transitively superseding newID already)
// or conflict with an existing edge: at most one in-edge and one out-edge
// per frame, staged or committed.
func (s *Store) Supersede(newID, oldID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return waxerr.New("waxstore: supersede", waxerr.KindState, "store is closed")
	}
	if newID == oldID {
		return waxerr.New("waxstore: supersede", waxerr.KindInvalidArgument, "newID and oldID must differ")
	}
	if _, err := s.resolveFrameLocked(newID); err != nil {
		return err
	}
	if _, err := s.resolveFrameLocked(oldID); err != nil {
		return err
	}
	if s.wouldCycleLocked(newID, oldID) {
		return waxerr.New("waxstore: supersede", waxerr.KindState, "supersede would create a cycle").WithID(oldID)
	}
	if s.hasInEdgeLocked(oldID) {
		return waxerr.New("waxstore: supersede", waxerr.KindState, "oldID already has a superseding frame").WithID(oldID)
	}
	if s.hasOutEdgeLocked(newID) {
		return waxerr.New("waxstore: supersede", waxerr.KindState, "newID already supersedes another frame").WithID(newID)
	}
	s.stagedSupersedes = append(s.stagedSupersedes, stagedSupersede{newID: newID, oldID: oldID})
	return nil
}

// hasInEdgeLocked reports whether id is already superseded by some frame,
// staged or committed — i.e. it already has an inbound supersede edge.
func (s *Store) hasInEdgeLocked(id uint64) bool {
	for _, ss := range s.stagedSupersedes {
		if ss.oldID == id {
			return true
		}
	}
	if id < uint64(len(s.toc.Frames)) {
		return s.toc.Frames[id].HasSupersededBy
	}
	return false
}

// hasOutEdgeLocked reports whether id already supersedes some frame, staged
// or committed — i.e. it already has an outbound supersede edge.
func (s *Store) hasOutEdgeLocked(id uint64) bool {
	for _, ss := range s.stagedSupersedes {
		if ss.newID == id {
			return true
		}
	}
	if id < uint64(len(s.toc.Frames)) {
		return s.toc.Frames[id].HasSupersedes
	}
	return false
}

// wouldCycleLocked reports whether staging newID-supersedes-oldID would
// close a cycle: true if oldID already (directly or transitively, via
// committed state plus anything already staged this round) supersedes
// newID.
func (s *Store) wouldCycleLocked(newID, oldID uint64) bool {
	supersedes := func(id uint64) (uint64, bool) {
		for _, ss := range s.stagedSupersedes {
			if ss.newID == id {
				return ss.oldID, true
			}
		}
		if id < uint64(len(s.toc.Frames)) {
			f := s.toc.Frames[id]
			if f.HasSupersedes {
				return f.Supersedes, true
			}
		}
		return 0, false
	}

	cur := oldID
	seen := map[uint64]bool{}
	for {
		if cur == newID {
			return true
		}
		if seen[cur] {
			return false
		}
		seen[cur] = true
		next, ok := supersedes(cur)
		if !ok {
			return false
		}
		cur = next
	}
}

// PutEmbedding stages a dense vector for an existing or just-staged frame.
func (s *Store) PutEmbedding(id uint64, vector []float32, identity *mv2s.EmbeddingIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return waxerr.New("waxstore: put_embedding", waxerr.KindState, "store is closed")
	}
	if len(vector) == 0 {
		return waxerr.New("waxstore: put_embedding", waxerr.KindInvalidArgument, "vector must be non-empty")
	}
	if id >= s.nextStagedID() {
		return waxerr.New("waxstore: put_embedding", waxerr.KindState, "unknown frame id").WithID(id)
	}
	se := stagedEmbedding{id: id, vector: append([]float32(nil), vector...)}
	if identity != nil {
		se.hasIdentity = true
		se.identity = *identity
	}
	s.stagedEmbeddings = append(s.stagedEmbeddings, se)
	return nil
}

// PutEmbeddingBatch stages several embeddings atomically: either every
// (id, vector) pair is staged or (on the first invalid entry) none are.
func (s *Store) PutEmbeddingBatch(ids []uint64, vectors [][]float32, identity *mv2s.EmbeddingIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return waxerr.New("waxstore: put_embedding_batch", waxerr.KindState, "store is closed")
	}
	if len(ids) != len(vectors) {
		return waxerr.New("waxstore: put_embedding_batch", waxerr.KindInvalidArgument, "ids and vectors length mismatch")
	}
	saved := append([]stagedEmbedding(nil), s.stagedEmbeddings...)
	for i, id := range ids {
		if len(vectors[i]) == 0 {
			s.stagedEmbeddings = saved
			return waxerr.New("waxstore: put_embedding_batch", waxerr.KindInvalidArgument, "vector must be non-empty")
		}
		if id >= s.nextStagedID() {
			s.stagedEmbeddings = saved
			return waxerr.New("waxstore: put_embedding_batch", waxerr.KindState, "unknown frame id").WithID(id)
		}
		se := stagedEmbedding{id: id, vector: append([]float32(nil), vectors[i]...)}
		if identity != nil {
			se.hasIdentity = true
			se.identity = *identity
		}
		s.stagedEmbeddings = append(s.stagedEmbeddings, se)
	}
	return nil
}

// PendingEmbeddingMutations returns the embeddings staged but not yet
// committed, letting the vector engine pick up work-in-flight before a
// Commit/Flush boundary without re-deriving it from the WAL itself. When
// since is non-nil, only embeddings for frame ids >= *since are returned.
func (s *Store) PendingEmbeddingMutations(since *uint64) []walring.PutEmbedding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]walring.PutEmbedding, 0, len(s.stagedEmbeddings))
	for _, se := range s.stagedEmbeddings {
		if since != nil && se.id < *since {
			continue
		}
		out = append(out, walring.PutEmbedding{
			FrameID:     se.id,
			Dimension:   uint32(len(se.vector)),
			Vector:      se.vector,
			HasIdentity: se.hasIdentity,
			Identity:    se.identity,
		})
	}
	return out
}

// resolveFrameLocked checks that id refers to a live frame, whether already
// committed or staged-but-not-yet-committed this round.
func (s *Store) resolveFrameLocked(id uint64) (mv2s.FrameRecord, error) {
	if id < uint64(len(s.toc.Frames)) {
		f := s.toc.Frames[id]
		if f.Status == mv2s.StatusDeleted {
			return mv2s.FrameRecord{}, waxerr.New("waxstore: resolve", waxerr.KindState, "frame is deleted").WithID(id)
		}
		for _, d := range s.stagedDeletes {
			if d.id == id {
				return mv2s.FrameRecord{}, waxerr.New("waxstore: resolve", waxerr.KindState, "frame is staged for deletion").WithID(id)
			}
		}
		return f, nil
	}
	for _, p := range s.stagedPuts {
		if p.id == id {
			return mv2s.FrameRecord{ID: id, HasKind: p.hasKind, Kind: p.kind}, nil
		}
	}
	return mv2s.FrameRecord{}, waxerr.New("waxstore: resolve", waxerr.KindState, "unknown frame id").WithID(id)
}

// applyMutations folds a sequence of decoded WAL mutations into toc,
// shared by Open's WAL-replay path and Commit's own TOC rebuild so the two
// never disagree about mutation semantics.
func applyMutations(toc *mv2s.TOC, muts []walring.Mutation) error {
	for _, m := range muts {
		switch m.Op {
		case walring.OpPutFrame:
			pf := m.PutFrame
			if pf.FrameID != uint64(len(toc.Frames)) {
				return waxerr.New("waxstore: apply", waxerr.KindCorruption, "non-dense frame id in wal replay").WithID(pf.FrameID)
			}
			toc.Frames = append(toc.Frames, mv2s.FrameRecord{
				ID:                pf.FrameID,
				TimestampMs:       pf.TimestampMs,
				HasKind:           pf.HasKind,
				Kind:              pf.Kind,
				HasRole:           pf.HasRole,
				Role:              pf.Role,
				HasParentID:       pf.HasParentID,
				ParentID:          pf.ParentID,
				Status:            mv2s.StatusLive,
				HasEntries:        pf.HasEntries,
				Entries:           pf.Entries,
				PayloadOffset:     pf.PayloadOffset,
				PayloadLength:     pf.PayloadLength,
				CanonicalEncoding: pf.CanonicalEncoding,
				CanonicalLength:   pf.CanonicalLength,
				CanonicalChecksum: pf.CanonicalChecksum,
				HasStoredChecksum: pf.HasStoredChecksum,
				StoredChecksum:    pf.StoredChecksum,
			})

		case walring.OpDeleteFrame:
			id := m.DeleteFrame.FrameID
			if id >= uint64(len(toc.Frames)) {
				return waxerr.New("waxstore: apply", waxerr.KindCorruption, "delete of unknown frame").WithID(id)
			}
			toc.Frames[id].Status = mv2s.StatusDeleted

		case walring.OpSupersede:
			newID, oldID := m.Supersede.NewID, m.Supersede.OldID
			if newID >= uint64(len(toc.Frames)) || oldID >= uint64(len(toc.Frames)) {
				return waxerr.New("waxstore: apply", waxerr.KindCorruption, "supersede of unknown frame")
			}
			toc.Frames[newID].HasSupersedes = true
			toc.Frames[newID].Supersedes = oldID
			toc.Frames[oldID].HasSupersededBy = true
			toc.Frames[oldID].SupersededBy = newID
			toc.Frames[oldID].Status = mv2s.StatusDeleted

		case walring.OpPutEmbedding:
			pe := m.PutEmbedding
			if pe.FrameID >= uint64(len(toc.Frames)) {
				return waxerr.New("waxstore: apply", waxerr.KindCorruption, "embedding for unknown frame").WithID(pe.FrameID)
			}
			toc.Frames[pe.FrameID].HasEmbedding = true
			toc.Frames[pe.FrameID].Embedding = mv2s.Embedding{
				Dimension:   pe.Dimension,
				Vector:      pe.Vector,
				HasIdentity: pe.HasIdentity,
				Identity:    pe.Identity,
			}

		default:
			return waxerr.New("waxstore: apply", waxerr.KindCorruption, "unknown mutation op")
		}
	}
	return nil
}
