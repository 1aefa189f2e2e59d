package waxstore

import (
	"fmt"

	"github.com/waxrag/waxrag/waxerr"
)

// checkFailpoint lets tests simulate a crash immediately after one of
// Commit's five durability boundaries (1: toc write, 2: footer write, 3:
// wal checkpoint, 4: header A publish, 5: header B publish). Production
// code never sets failAfter, so this is a no-op outside tests.
func (s *Store) checkFailpoint(n int) error {
	if s.failAfter != n {
		return nil
	}
	return waxerr.New("waxstore: commit", waxerr.KindState, fmt.Sprintf("simulated crash after failpoint %d", n))
}

// SetFailpoint arms Commit to stop (without completing the remaining
// steps or rolling back the ones already durable) immediately after
// failpoint n. Test-only; production callers never need this.
func (s *Store) SetFailpoint(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
}
