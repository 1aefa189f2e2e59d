package waxstore

// LayoutReport summarizes a store file's region boundaries and generation
// for operator-facing introspection (teacher precedent: cmd/novusdb's
// `.tables`/`.schema` inspector commands reading storage.Pager state).
type LayoutReport struct {
	WalOffset    uint64
	WalSize      uint64
	DataOffset   uint64
	Generation   uint64
	FooterOffset uint64
	FrameCount   int
	TocVersion   uint64
}

// Inspect reports the store's on-disk layout without mutating anything.
func (s *Store) Inspect() LayoutReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LayoutReport{
		WalOffset:    s.layout.WalOffset,
		WalSize:      s.layout.WalSize,
		DataOffset:   s.layout.WalEnd(),
		Generation:   s.generation,
		FooterOffset: s.footerOffset,
		FrameCount:   len(s.toc.Frames),
		TocVersion:   s.toc.Version,
	}
}
