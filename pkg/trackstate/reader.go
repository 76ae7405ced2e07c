package trackstate

import (
	"context"
	"sync/atomic"
)

// Reader is a read-only handle on a Store held by one consumer.
type Reader struct {
	store    *Store
	released atomic.Bool
}

// NewReader returns a read handle on store.
func NewReader(store *Store) *Reader {
	return &Reader{store: store}
}

// Snapshot returns the latest complete version. It returns nil before the
// first publish or after Release.
func (r *Reader) Snapshot() *Snapshot {
	if r.released.Load() {
		return nil
	}
	return r.store.Load()
}

// WaitForFaces blocks until the store holds at least one face.
func (r *Reader) WaitForFaces(ctx context.Context) (*Snapshot, error) {
	if r.released.Load() {
		return nil, ErrClosed
	}
	return r.store.WaitForFaces(ctx)
}

// Release drops the handle. The store itself stays open for other readers.
func (r *Reader) Release() {
	r.released.Store(true)
}

// Released reports whether Release was called.
func (r *Reader) Released() bool {
	return r.released.Load()
}
