// Package trackstate holds the face-detection state that the perception side
// publishes and the control loop reads.
//
// The store has a single writer and any number of readers. Every Publish
// builds a new immutable Snapshot and swaps it in atomically, so a reader
// always sees one complete version and never a half-written one.
package trackstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCapacity is the number of face slots in a store.
const DefaultCapacity = 10

var (
	// ErrCapacity is returned when a publish carries more faces than the store holds.
	ErrCapacity = errors.New("trackstate: face count exceeds capacity")
	// ErrMismatch is returned when names and boxes are not index-parallel.
	ErrMismatch = errors.New("trackstate: names and boxes differ in length")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("trackstate: store closed")
)

// BBox is a face bounding box in frame pixel coordinates.
type BBox struct {
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// Array returns the box as [top, right, bottom, left].
func (b BBox) Array() [4]float64 {
	return [4]float64{b.Top, b.Right, b.Bottom, b.Left}
}

// BBoxFromArray builds a box from [top, right, bottom, left].
func BBoxFromArray(a [4]float64) BBox {
	return BBox{Top: a[0], Right: a[1], Bottom: a[2], Left: a[3]}
}

// Snapshot is one complete, immutable version of the tracking state.
// Names and Boxes are index-parallel.
type Snapshot struct {
	Version     uint64
	Names       []string
	Boxes       []BBox
	Primary     string
	PublishedAt time.Time
}

// NFaces returns the number of faces in the snapshot.
func (s *Snapshot) NFaces() int {
	if s == nil {
		return 0
	}
	return len(s.Names)
}

// Box returns the box at index i.
func (s *Snapshot) Box(i int) (BBox, bool) {
	if s == nil || i < 0 || i >= len(s.Boxes) {
		return BBox{}, false
	}
	return s.Boxes[i], true
}

// Name returns the name at index i.
func (s *Snapshot) Name(i int) string {
	if s == nil || i < 0 || i >= len(s.Names) {
		return ""
	}
	return s.Names[i]
}

// Store is the shared tracking state.
type Store struct {
	capacity int

	writeMu sync.Mutex // serializes writers building the next version
	current atomic.Pointer[Snapshot]
	version uint64

	ready     chan struct{}
	readyOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

// NewStore creates a store with the given face capacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Capacity returns the fixed number of face slots.
func (s *Store) Capacity() int {
	return s.capacity
}

// Publish replaces the detections and primary label with a new version.
// The slices are copied; the caller may reuse them.
func (s *Store) Publish(names []string, boxes []BBox, primary string) (uint64, error) {
	if len(names) != len(boxes) {
		return 0, fmt.Errorf("%w: %d names, %d boxes", ErrMismatch, len(names), len(boxes))
	}
	if len(names) > s.capacity {
		return 0, fmt.Errorf("%w: %d > %d", ErrCapacity, len(names), s.capacity)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.isClosed() {
		return 0, ErrClosed
	}

	snap := &Snapshot{
		Names:   append([]string(nil), names...),
		Boxes:   append([]BBox(nil), boxes...),
		Primary: primary,
	}
	return s.swap(snap), nil
}

// SetPrimary changes the preferred target while keeping the current detections.
func (s *Store) SetPrimary(name string) (uint64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.isClosed() {
		return 0, ErrClosed
	}

	snap := &Snapshot{Primary: name}
	if cur := s.current.Load(); cur != nil {
		// the previous snapshot is immutable, sharing its slices is safe
		snap.Names = cur.Names
		snap.Boxes = cur.Boxes
	}
	return s.swap(snap), nil
}

// swap stamps and installs snap. Caller holds writeMu.
func (s *Store) swap(snap *Snapshot) uint64 {
	s.version++
	snap.Version = s.version
	snap.PublishedAt = time.Now()
	s.current.Store(snap)

	if snap.NFaces() > 0 {
		s.readyOnce.Do(func() { close(s.ready) })
	}
	return snap.Version
}

// Load returns the latest snapshot, or nil if nothing was published yet.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Ready is closed once a snapshot with at least one face has been published.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// WaitForFaces blocks until the first snapshot with a face lands, the
// context ends, or the store is closed.
func (s *Store) WaitForFaces(ctx context.Context) (*Snapshot, error) {
	select {
	case <-s.ready:
		return s.current.Load(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	}
}

// Close stops accepting publishes and wakes any waiters.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Store) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
