// Package mv2s implements the on-disk .mv2s container format: dual header
// pages, footer, and table-of-contents (TOC-v1) codec describing the
// store's binary layout — a dual-header-page, WAL-ring,
// TOC-plus-footer scheme hand-rolled with encoding/binary.
package mv2s

const (
	// HeaderPageSize is the fixed size of each of the two header pages.
	HeaderPageSize = 4096
	// HeaderPageAOffset and HeaderPageBOffset are the two fixed header
	// page locations; whichever validates with the higher generation wins.
	HeaderPageAOffset = 0
	HeaderPageBOffset = HeaderPageSize

	// minWalOffset is the first byte past both header pages. The data-area
	// start depends on the caller-chosen WAL size; Layout computes it from
	// wal_offset+wal_size.
	minWalOffset = HeaderPageBOffset + HeaderPageSize
)

// Layout describes the fixed regions of an .mv2s file.
type Layout struct {
	WalOffset uint64
	WalSize   uint64
}

// WalEnd returns the first byte past the WAL ring, i.e. where the data
// area (payloads, TOCs, footers) begins.
func (l Layout) WalEnd() uint64 { return l.WalOffset + l.WalSize }

// DefaultWalOffset is where the WAL ring starts in a freshly created file:
// immediately after both header pages.
func DefaultWalOffset() uint64 { return minWalOffset }
