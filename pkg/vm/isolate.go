// Package vm implements hidden-class shapes with their transition graph and
// the fast and dictionary stores for named properties and elements.
package vm

import (
	"hash/maphash"

	"go.uber.org/zap"

	"github.com/nooga/hiddenclass/pkg/config"
	"github.com/nooga/hiddenclass/pkg/errors"
)

// Isolate owns every shape, the normalized shape cache and the symbol
// registry of one heap. It is not safe for concurrent use.
type Isolate struct {
	cfg     *config.Config
	alloc   Allocator
	barrier Barrier
	heap    *Heap
	logger  *zap.Logger

	shapes     shapeTable
	roots      []ShapeID
	objectRoot ShapeID
	arrayRoot  ShapeID
	normalized *normalizedShapeCache
	pinned     map[ShapeID]int
	empty      *DescriptorArray
	seed       maphash.Seed

	nextSymbol          uint64
	nextObject          uint64
	nextDescriptorArray uint64
}

// Option configures an Isolate.
type Option func(*Isolate)

// WithAllocator replaces the default heap as the allocator.
func WithAllocator(a Allocator) Option {
	return func(iso *Isolate) { iso.alloc = a }
}

// WithBarrier replaces the default heap as the write barrier.
func WithBarrier(b Barrier) Option {
	return func(iso *Isolate) { iso.barrier = b }
}

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(iso *Isolate) { iso.logger = l }
}

// NewIsolate creates an isolate. A nil cfg means config.Default().
func NewIsolate(cfg *config.Config, opts ...Option) *Isolate {
	if cfg == nil {
		cfg = config.Default()
	}
	iso := &Isolate{
		cfg:    cfg,
		logger: zap.NewNop(),
		pinned: make(map[ShapeID]int),
		seed:   maphash.MakeSeed(),
	}
	for _, opt := range opts {
		opt(iso)
	}
	if iso.alloc == nil || iso.barrier == nil {
		iso.heap = NewHeap(cfg.Heap, iso.logger.Named("heap"))
		if iso.alloc == nil {
			iso.alloc = iso.heap
		}
		if iso.barrier == nil {
			iso.barrier = iso.heap
		}
	}
	iso.empty = &DescriptorArray{}
	iso.normalized = newNormalizedShapeCache()
	iso.objectRoot = iso.NewRootShape(cfg.Properties.InObjectSlots)
	iso.arrayRoot = iso.NewRootShape(0)
	return iso
}

// Config returns the isolate's thresholds.
func (iso *Isolate) Config() *config.Config { return iso.cfg }

// Heap returns the default heap, or nil when both the allocator and the
// barrier were replaced.
func (iso *Isolate) Heap() *Heap { return iso.heap }

// Logger returns the isolate logger.
func (iso *Isolate) Logger() *zap.Logger { return iso.logger }

// ObjectRoot is the root shape of plain objects.
func (iso *Isolate) ObjectRoot() ShapeID { return iso.objectRoot }

// ArrayRoot is the root shape of arrays.
func (iso *Isolate) ArrayRoot() ShapeID { return iso.arrayRoot }

// NewRootShape creates the root of a new transition tree whose objects get
// inObjectSlots in-object fields. Roots are never pruned and do not count
// against the heap.
func (iso *Isolate) NewRootShape(inObjectSlots int) ShapeID {
	if inObjectSlots < 0 {
		errors.Invariant("negative in-object slot count %d", inObjectSlots)
	}
	s := &Shape{
		elementsKind: PackedSmiElements,
		inObject:     inObjectSlots,
		extensible:   true,
		isRoot:       true,
		descriptors:  iso.empty,
	}
	id := iso.shapes.add(s)
	s.root = id
	iso.roots = append(iso.roots, id)
	return id
}

// NewSymbol creates a symbol unique to this isolate.
func (iso *Isolate) NewSymbol(description string) *Symbol {
	iso.nextSymbol++
	return &Symbol{id: iso.nextSymbol, description: description}
}

// Pin keeps id alive across allocations until release is called.
func (iso *Isolate) Pin(id ShapeID) (release func()) {
	iso.pinned[id]++
	return func() {
		if iso.pinned[id]--; iso.pinned[id] <= 0 {
			delete(iso.pinned, id)
		}
	}
}

// Info returns the read-only view of a live shape.
func (iso *Isolate) Info(id ShapeID) (ShapeInfo, bool) {
	s := iso.shapes.get(id)
	if s == nil {
		return ShapeInfo{}, false
	}
	return s.info(), true
}

// Alive reports whether id names a live shape.
func (iso *Isolate) Alive(id ShapeID) bool { return iso.shapes.get(id) != nil }

// LiveShapes returns the number of shapes in the arena.
func (iso *Isolate) LiveShapes() int { return iso.shapes.live }

// SlotOf returns the slot of the field named key in shape id. Only fast
// field descriptors have a slot.
func (iso *Isolate) SlotOf(id ShapeID, key PropertyKey) (Slot, bool) {
	s := iso.shapes.get(id)
	if s == nil || s.dictionary {
		return Slot{}, false
	}
	pos := s.lookup(key)
	if pos < 0 {
		return Slot{}, false
	}
	d := s.descriptor(pos)
	if d.Type != DescriptorField {
		return Slot{}, false
	}
	return slotForField(d.Field, s.inObject), true
}

// Descriptors returns the descriptor table of shape id and the length of the
// prefix it owns.
func (iso *Isolate) Descriptors(id ShapeID) (*DescriptorArray, int) {
	s := iso.shape(id)
	return s.descriptors, s.ownDescriptors
}

// shape resolves a ShapeID that must be alive.
func (iso *Isolate) shape(id ShapeID) *Shape {
	s := iso.shapes.get(id)
	if s == nil {
		errors.Invariant("dead or unknown shape %s", id)
	}
	return s
}

func (iso *Isolate) allocShape(s *Shape) (ShapeID, error) {
	if err := iso.alloc.Allocate(SpaceShape, shapeCells); err != nil {
		return NoShape, err
	}
	return iso.shapes.add(s), nil
}

func (iso *Isolate) recordWrite(owner HeapRef, field int, v Value) {
	if v.IsPointer() {
		iso.barrier.RecordWrite(owner, field, HeapRef{Space: SpaceObject, ID: v.AsObject().id})
	}
}
