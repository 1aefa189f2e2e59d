package waxstore

import (
	"github.com/waxrag/waxrag/mv2s"
	"github.com/waxrag/waxrag/waxerr"
)

// FrameMeta returns the committed metadata for a frame id. Staged-but-not-
// yet-committed frames are not visible here; Commit must run first.
func (s *Store) FrameMeta(id uint64) (mv2s.FrameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id >= uint64(len(s.toc.Frames)) {
		return mv2s.FrameRecord{}, waxerr.New("waxstore: frame_meta", waxerr.KindState, "unknown frame id").WithID(id)
	}
	return s.toc.Frames[id], nil
}

// FrameMetas returns committed metadata for every live frame, in id order.
func (s *Store) FrameMetas() []mv2s.FrameRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mv2s.FrameRecord, 0, len(s.toc.Frames))
	for _, f := range s.toc.Frames {
		if f.Status == mv2s.StatusLive {
			out = append(out, f)
		}
	}
	return out
}

// FrameContent reads and decompresses a frame's payload, serving from the
// content cache when possible.
func (s *Store) FrameContent(id uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id >= uint64(len(s.toc.Frames)) {
		return nil, waxerr.New("waxstore: frame_content", waxerr.KindState, "unknown frame id").WithID(id)
	}
	return s.frameContentLocked(s.toc.Frames[id])
}

func (s *Store) frameContentLocked(f mv2s.FrameRecord) ([]byte, error) {
	if cached, ok := s.cache.get(f.ID); ok {
		return cached, nil
	}
	raw, err := readRange(s.file, f.PayloadOffset, f.PayloadLength)
	if err != nil {
		return nil, waxerr.Wrap("waxstore: frame_content", waxerr.KindIO, "payload read failed", err).WithOffset(int64(f.PayloadOffset)).WithID(f.ID)
	}
	content, err := decompressPayload(f.CanonicalEncoding, raw, f.CanonicalLength)
	if err != nil {
		return nil, err
	}
	s.cache.put(f.ID, content)
	return content, nil
}

// FrameContents reads multiple frames' content, returned keyed by frame id.
func (s *Store) FrameContents(ids []uint64) (map[uint64][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint64][]byte, len(ids))
	for _, id := range ids {
		if id >= uint64(len(s.toc.Frames)) {
			return nil, waxerr.New("waxstore: frame_contents", waxerr.KindState, "unknown frame id").WithID(id)
		}
		content, err := s.frameContentLocked(s.toc.Frames[id])
		if err != nil {
			return nil, err
		}
		out[id] = content
	}
	return out, nil
}
