package vm

import (
	"slices"
	"sort"

	"github.com/nooga/hiddenclass/pkg/errors"
)

// descriptorEntryCells is the heap cost of one descriptor: key, details, payload.
const descriptorEntryCells = 3

// Descriptor is one entry of a DescriptorArray.
type Descriptor struct {
	Key   PropertyKey
	Type  DescriptorType
	Attrs Attributes
	// Field is the field number of a DescriptorField.
	Field int
	// Constant is the value of a DescriptorConstant.
	Constant Value
	// Accessors is the pair of a DescriptorAccessor.
	Accessors *AccessorPair
	// EnumIndex is the 1-based enumeration index.
	EnumIndex int
}

// DescriptorArray is the property table shared along a chain of shapes.
//
// Entries are stored in insertion order, so a position is also the
// enumeration order. A shape only sees the prefix of its own descriptor
// count; longer shapes of the same chain see more. Existing entries are
// never changed once another shape can see them.
type DescriptorArray struct {
	id       uint64
	entries  []Descriptor
	capacity int
	// sorted holds positions ordered by key.
	sorted    []int
	enumCache *enumCache
}

// enumCache lists the enumerable positions of the first n descriptors.
type enumCache struct {
	n         int
	positions []int
}

// Len returns the number of physical entries.
func (a *DescriptorArray) Len() int { return len(a.entries) }

// Capacity returns the number of entries the array can hold without growing.
func (a *DescriptorArray) Capacity() int { return a.capacity }

func (a *DescriptorArray) hasSlack() bool { return len(a.entries) < a.capacity }

// Get returns the descriptor at position i.
func (a *DescriptorArray) Get(i int) Descriptor { return a.entries[i] }

func (a *DescriptorArray) at(i int) *Descriptor { return &a.entries[i] }

// Search returns the position of key among the first valid entries, or -1.
func (a *DescriptorArray) Search(key PropertyKey, valid int) int {
	if valid > len(a.entries) {
		errors.Invariant("descriptor search of %d entries in a table of %d", valid, len(a.entries))
	}
	i := sort.Search(len(a.sorted), func(i int) bool {
		return compareKeys(a.entries[a.sorted[i]].Key, key) >= 0
	})
	if i < len(a.sorted) {
		if pos := a.sorted[i]; pos < valid && a.entries[pos].Key == key {
			return pos
		}
	}
	return -1
}

// Append adds d in place. The caller must have checked for slack.
func (a *DescriptorArray) Append(d Descriptor) {
	if !a.hasSlack() {
		errors.Invariant("append to a full descriptor table (%d entries)", a.capacity)
	}
	pos := len(a.entries)
	a.entries = append(a.entries, d)
	i := sort.Search(len(a.sorted), func(i int) bool {
		return compareKeys(a.entries[a.sorted[i]].Key, d.Key) >= 0
	})
	a.sorted = slices.Insert(a.sorted, i, pos)
}

// EnumerationOrder returns the enumerable positions among the first valid
// entries, in enumeration order. The result must not be modified.
func (a *DescriptorArray) EnumerationOrder(valid int) []int {
	c := a.enumCache
	if c == nil || c.n < valid {
		c = &enumCache{n: valid}
		for i := 0; i < valid; i++ {
			if a.entries[i].Attrs.Enumerable() {
				c.positions = append(c.positions, i)
			}
		}
		a.enumCache = c
	}
	if c.n == valid {
		return c.positions
	}
	// Clamp to the prefix.
	n := sort.SearchInts(c.positions, valid)
	return c.positions[:n:n]
}

// copyPrefix returns a new table holding the first valid entries with room for
// slack more. The enumeration cache survives, clamped to the prefix.
func (a *DescriptorArray) copyPrefix(id uint64, valid, slack int) *DescriptorArray {
	b := &DescriptorArray{
		id:       id,
		entries:  make([]Descriptor, valid, valid+slack),
		capacity: valid + slack,
		sorted:   make([]int, 0, valid+slack),
	}
	copy(b.entries, a.entries[:valid])
	for _, pos := range a.sorted {
		if pos < valid {
			b.sorted = append(b.sorted, pos)
		}
	}
	if a.enumCache != nil {
		n := min(a.enumCache.n, valid)
		b.enumCache = &enumCache{n: n, positions: slices.Clone(a.EnumerationOrder(n))}
	}
	return b
}

// trim drops the physical entries at and after n.
func (a *DescriptorArray) trim(n int) {
	if n >= len(a.entries) {
		return
	}
	clear(a.entries[n:])
	a.entries = a.entries[:n]
	a.sorted = slices.DeleteFunc(a.sorted, func(pos int) bool { return pos >= n })
	if a.enumCache != nil && a.enumCache.n > n {
		a.enumCache = nil
	}
}

// growCapacity is the size of the table replacing a full one of n entries.
func growCapacity(n, minSlack, limit int) int {
	return min(n+max(n/2, minSlack), limit)
}

// newDescriptorArray allocates an empty table of the given capacity.
func (iso *Isolate) newDescriptorArray(capacity int) (*DescriptorArray, error) {
	if err := iso.alloc.Allocate(SpaceDescriptors, capacity*descriptorEntryCells); err != nil {
		return nil, err
	}
	iso.nextDescriptorArray++
	return &DescriptorArray{
		id:       iso.nextDescriptorArray,
		entries:  make([]Descriptor, 0, capacity),
		capacity: capacity,
		sorted:   make([]int, 0, capacity),
	}, nil
}

// copyDescriptors allocates a copy of the first valid entries of a with slack spare entries.
func (iso *Isolate) copyDescriptors(a *DescriptorArray, valid, slack int) (*DescriptorArray, error) {
	if err := iso.alloc.Allocate(SpaceDescriptors, (valid+slack)*descriptorEntryCells); err != nil {
		return nil, err
	}
	iso.nextDescriptorArray++
	return a.copyPrefix(iso.nextDescriptorArray, valid, slack), nil
}
