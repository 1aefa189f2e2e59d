//go:build js || wasip1

package waxstore

// lease is a no-op on js/wasm: no cross-process filesystem to coordinate
// over.
type lease struct{}

func acquireLease(_ string) (*lease, error) { return &lease{}, nil }

func (l *lease) release() error { return nil }
