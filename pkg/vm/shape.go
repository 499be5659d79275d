package vm

import (
	"fmt"
	"sort"

	"github.com/nooga/hiddenclass/pkg/errors"
)

// ShapeID names a shape. The high half is a generation so an ID kept past
// the death of its shape never resolves to a later one in the same slot.
type ShapeID uint64

// NoShape is the zero ShapeID.
const NoShape ShapeID = 0

// shapeCells is the heap cost of one shape.
const shapeCells = 4

func (id ShapeID) index() uint32      { return uint32(id) }
func (id ShapeID) generation() uint32 { return uint32(id >> 32) }

func (id ShapeID) String() string {
	if id == NoShape {
		return "#none"
	}
	return fmt.Sprintf("#%d.%d", id.index(), id.generation())
}

// Shape is a hidden class: the layout shared by objects that received the
// same properties in the same order.
type Shape struct {
	id           ShapeID
	root         ShapeID
	elementsKind ElementsKind
	inObject     int
	usedFields   int
	dictionary   bool
	shared       bool
	extensible   bool
	isRoot       bool

	descriptors     *DescriptorArray
	ownDescriptors  int
	ownsDescriptors bool

	backPointer        ShapeID
	transitions        []transition
	elementsTransition ShapeID
}

// transition is a keyed edge of the transition tree.
type transition struct {
	key    PropertyKey
	typ    DescriptorType
	attrs  Attributes
	target ShapeID
}

func compareTransition(t *transition, key PropertyKey, typ DescriptorType, attrs Attributes) int {
	if c := compareKeys(t.key, key); c != 0 {
		return c
	}
	if t.typ != typ {
		if t.typ < typ {
			return -1
		}
		return 1
	}
	switch {
	case t.attrs < attrs:
		return -1
	case t.attrs > attrs:
		return 1
	}
	return 0
}

func (s *Shape) searchTransition(key PropertyKey, typ DescriptorType, attrs Attributes) (int, bool) {
	i := sort.Search(len(s.transitions), func(i int) bool {
		return compareTransition(&s.transitions[i], key, typ, attrs) >= 0
	})
	return i, i < len(s.transitions) && compareTransition(&s.transitions[i], key, typ, attrs) == 0
}

func (s *Shape) findTransition(key PropertyKey, typ DescriptorType, attrs Attributes) ShapeID {
	if i, ok := s.searchTransition(key, typ, attrs); ok {
		return s.transitions[i].target
	}
	return NoShape
}

func (s *Shape) insertTransition(t transition) {
	i, ok := s.searchTransition(t.key, t.typ, t.attrs)
	if ok {
		s.transitions[i] = t
		return
	}
	s.transitions = append(s.transitions, transition{})
	copy(s.transitions[i+1:], s.transitions[i:])
	s.transitions[i] = t
}

// lookup returns the position of key among the shape's own descriptors.
func (s *Shape) lookup(key PropertyKey) int {
	if s.ownDescriptors == 0 {
		return -1
	}
	return s.descriptors.Search(key, s.ownDescriptors)
}

func (s *Shape) descriptor(pos int) *Descriptor {
	if pos >= s.ownDescriptors {
		errors.Invariant("descriptor %d outside the %d owned by %s", pos, s.ownDescriptors, s.id)
	}
	return s.descriptors.at(pos)
}

// ShapeInfo is the read-only view of a shape handed to compilers and tools.
type ShapeInfo struct {
	ID                 ShapeID
	Root               ShapeID
	BackPointer        ShapeID
	ElementsKind       ElementsKind
	InObjectSlots      int
	UsedFields         int
	OwnDescriptors     int
	OwnsDescriptors    bool
	Dictionary         bool
	Shared             bool
	Extensible         bool
	Transitions        int
	ElementsTransition ShapeID
}

func (s *Shape) info() ShapeInfo {
	return ShapeInfo{
		ID:                 s.id,
		Root:               s.root,
		BackPointer:        s.backPointer,
		ElementsKind:       s.elementsKind,
		InObjectSlots:      s.inObject,
		UsedFields:         s.usedFields,
		OwnDescriptors:     s.ownDescriptors,
		OwnsDescriptors:    s.ownsDescriptors,
		Dictionary:         s.dictionary,
		Shared:             s.shared,
		Extensible:         s.extensible,
		Transitions:        len(s.transitions),
		ElementsTransition: s.elementsTransition,
	}
}

// shapeTable is the arena shapes live in.
type shapeTable struct {
	slots []shapeSlot
	free  []uint32
	live  int
}

type shapeSlot struct {
	generation uint32
	shape      *Shape
}

func (t *shapeTable) add(s *Shape) ShapeID {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, shapeSlot{})
	}
	slot := &t.slots[idx]
	slot.generation++
	slot.shape = s
	s.id = ShapeID(uint64(slot.generation)<<32 | uint64(idx))
	t.live++
	return s.id
}

func (t *shapeTable) get(id ShapeID) *Shape {
	idx := id.index()
	if id == NoShape || int(idx) >= len(t.slots) {
		return nil
	}
	slot := &t.slots[idx]
	if slot.generation != id.generation() {
		return nil
	}
	return slot.shape
}

func (t *shapeTable) remove(id ShapeID) {
	slot := &t.slots[id.index()]
	slot.shape = nil
	t.free = append(t.free, id.index())
	t.live--
}

// each calls fn for every live shape in index order.
func (t *shapeTable) each(fn func(*Shape)) {
	for i := range t.slots {
		if s := t.slots[i].shape; s != nil {
			fn(s)
		}
	}
}
