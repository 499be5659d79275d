package vm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nooga/hiddenclass/pkg/config"
	"github.com/nooga/hiddenclass/pkg/errors"
)

// Space names the kind of storage an allocation is for.
type Space uint8

const (
	SpaceObject Space = iota
	SpaceProperties
	SpaceElements
	SpaceDescriptors
	SpaceDictionary
	SpaceShape
	numSpaces
)

func (s Space) String() string {
	switch s {
	case SpaceObject:
		return "object"
	case SpaceProperties:
		return "properties"
	case SpaceElements:
		return "elements"
	case SpaceDescriptors:
		return "descriptors"
	case SpaceDictionary:
		return "dictionary"
	case SpaceShape:
		return "shape"
	default:
		return "unknown"
	}
}

// HeapRef identifies a heap entity for the write barrier.
type HeapRef struct {
	Space Space
	ID    uint64
}

// Barrier fields recorded against objects.
const (
	FieldShape    = -1
	FieldOverflow = -2
	FieldElements = -3

	// FieldDescriptors is recorded against shapes whose table was swapped.
	FieldDescriptors = -4
)

//go:generate mockgen -source=heap.go -destination=heap_mock.go -package=vm

// Allocator hands out storage cells. Every call may run a collection and
// every call may fail; failures are *errors.AllocationError.
type Allocator interface {
	Allocate(space Space, cells int) error
	Free(space Space, cells int)
}

// Barrier is told about every overwritten pointer field.
// For value slots field is the slot number; structural pointers use the
// negative Field* constants.
type Barrier interface {
	RecordWrite(owner HeapRef, field int, target HeapRef)
}

// Collector is run by the Heap when the budget is exhausted.
type Collector interface {
	Collect()
}

// CollectorFunc adapts a function to Collector.
type CollectorFunc func()

func (f CollectorFunc) Collect() { f() }

// HeapStats is a snapshot of allocator counters.
type HeapStats struct {
	Used        int
	Limit       int
	Allocations uint64
	Failures    uint64
	Collections uint64
	Barriers    uint64
	BySpace     [numSpaces]int
}

// Heap is the default Allocator and Barrier: a cell budget with a
// remembered set of owners that had pointer fields overwritten.
type Heap struct {
	limit     int // 0 = unlimited
	used      int
	bySpace   [numSpaces]int
	collector Collector
	logger    *zap.Logger

	remembered map[HeapRef]struct{}

	allocations uint64
	failures    uint64
	collections uint64
	barriers    uint64
}

// NewHeap creates a heap sized by cfg.Heap.
func NewHeap(cfg config.HeapConfig, logger *zap.Logger) *Heap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Heap{
		limit:      cfg.MaxCells,
		logger:     logger,
		remembered: make(map[HeapRef]struct{}),
	}
}

// SetCollector installs the collection hook run on budget exhaustion.
func (h *Heap) SetCollector(c Collector) {
	h.collector = c
}

// Allocate reserves cells, running the collector once if the budget is exhausted.
func (h *Heap) Allocate(space Space, cells int) error {
	if cells < 0 {
		errors.Invariant("negative allocation of %d cells", cells)
	}
	if h.limit > 0 && h.used+cells > h.limit && h.collector != nil {
		h.collections++
		h.collector.Collect()
	}
	if h.limit > 0 && h.used+cells > h.limit {
		h.failures++
		h.logger.Warn("allocation failed",
			zap.Stringer("space", space),
			zap.Int("cells", cells),
			zap.Int("used", h.used),
			zap.Int("limit", h.limit))
		return &errors.AllocationError{Space: space.String(), Cells: cells, Used: h.used, Limit: h.limit}
	}
	h.used += cells
	h.bySpace[space] += cells
	h.allocations++
	return nil
}

// Free returns cells to the budget.
func (h *Heap) Free(space Space, cells int) {
	if cells <= 0 {
		return
	}
	if cells > h.bySpace[space] {
		errors.Invariant("freeing %d %s cells, only %d allocated", cells, space, h.bySpace[space])
	}
	h.used -= cells
	h.bySpace[space] -= cells
}

// RecordWrite adds owner to the remembered set.
func (h *Heap) RecordWrite(owner HeapRef, field int, target HeapRef) {
	h.barriers++
	h.remembered[owner] = struct{}{}
}

// Remembered reports whether owner had a pointer field written since the last drain.
func (h *Heap) Remembered(owner HeapRef) bool {
	_, ok := h.remembered[owner]
	return ok
}

// DrainRemembered returns and clears the remembered set.
func (h *Heap) DrainRemembered() []HeapRef {
	out := make([]HeapRef, 0, len(h.remembered))
	for ref := range h.remembered {
		out = append(out, ref)
	}
	clear(h.remembered)
	return out
}

// Used returns the number of cells currently allocated.
func (h *Heap) Used() int {
	return h.used
}

// Stats returns the current counters.
func (h *Heap) Stats() HeapStats {
	return HeapStats{
		Used:        h.used,
		Limit:       h.limit,
		Allocations: h.allocations,
		Failures:    h.failures,
		Collections: h.collections,
		Barriers:    h.barriers,
		BySpace:     h.bySpace,
	}
}

func (s HeapStats) String() string {
	limit := "unlimited"
	if s.Limit > 0 {
		limit = fmt.Sprint(s.Limit)
	}
	return fmt.Sprintf("heap: %d/%s cells, %d allocations, %d failures, %d collections, %d barriers",
		s.Used, limit, s.Allocations, s.Failures, s.Collections, s.Barriers)
}
