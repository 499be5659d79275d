package vm

import (
	"hash/maphash"
	"slices"
)

// dictEntryCells is the heap cost of one dictionary bucket: key, value, details.
const dictEntryCells = 3

// dictEntry is the value stored for a named property in dictionary mode.
type dictEntry struct {
	value     Value
	accessors *AccessorPair // non-nil for accessor properties
	attrs     Attributes
	enumIndex int
}

func (e *dictEntry) isAccessor() bool { return e.accessors != nil }

// nameDictionary is the property store of a dictionary-mode object.
type nameDictionary struct {
	iso   *Isolate
	table *hashTable[PropertyKey, dictEntry]
	// nextEnum is the enumeration index the next added property gets.
	nextEnum int
	// holes counts enumeration indices freed by deletion since the last renumbering.
	holes int
	// mutations counts adds and deletes since the object was normalized.
	mutations int
}

type dictRecord struct {
	key   PropertyKey
	entry dictEntry
}

func (iso *Isolate) hashKey(k PropertyKey) uint64 {
	return maphash.Comparable(iso.seed, k)
}

func (iso *Isolate) hashIndex(i uint32) uint64 {
	return maphash.Comparable(iso.seed, i)
}

// newNameDictionary allocates a dictionary for n properties plus slack.
func (iso *Isolate) newNameDictionary(n int) (*nameDictionary, error) {
	capacity := hashCapacity(n + iso.cfg.Properties.DictionarySlack)
	if err := iso.alloc.Allocate(SpaceDictionary, capacity*dictEntryCells); err != nil {
		return nil, err
	}
	return &nameDictionary{
		iso:      iso,
		table:    newHashTable[PropertyKey, dictEntry](capacity, iso.hashKey),
		nextEnum: 1,
	}, nil
}

func (d *nameDictionary) len() int { return d.table.live }

func (d *nameDictionary) cells() int { return d.table.capacity() * dictEntryCells }

func (d *nameDictionary) find(key PropertyKey) (*dictEntry, bool) {
	b := d.table.find(key)
	if b < 0 {
		return nil, false
	}
	return &d.table.entries[b].value, true
}

// ensureRoom grows or compacts the table so one more entry fits.
func (d *nameDictionary) ensureRoom() error {
	if !d.table.needsGrow(1) {
		return nil
	}
	need := d.table.live + 1
	capacity := hashCapacity(need + need/2)
	if capacity != d.table.capacity() {
		if err := d.iso.alloc.Allocate(SpaceDictionary, capacity*dictEntryCells); err != nil {
			return err
		}
		d.iso.alloc.Free(SpaceDictionary, d.cells())
	}
	d.table.rehash(capacity)
	return nil
}

// add inserts a new property at the end of the enumeration order.
func (d *nameDictionary) add(key PropertyKey, e dictEntry) error {
	if err := d.ensureRoom(); err != nil {
		return err
	}
	if d.nextEnum > d.iso.cfg.Properties.MaxEnumIndex {
		d.renumber()
	}
	e.enumIndex = d.nextEnum
	d.nextEnum++
	d.table.put(key, e)
	d.mutations++
	return nil
}

// restore inserts an entry keeping its enumeration index.
func (d *nameDictionary) restore(key PropertyKey, e dictEntry) error {
	if err := d.ensureRoom(); err != nil {
		return err
	}
	d.table.put(key, e)
	d.nextEnum = max(d.nextEnum, e.enumIndex+1)
	return nil
}

func (d *nameDictionary) remove(key PropertyKey) bool {
	b := d.table.find(key)
	if b < 0 {
		return false
	}
	d.table.remove(b)
	d.holes++
	d.mutations++
	if float64(d.holes) > d.iso.cfg.Properties.EnumRenumberRatio*float64(d.table.live) {
		d.renumber()
	}
	return true
}

// enumeration returns the live entries in enumeration order.
func (d *nameDictionary) enumeration() []dictRecord {
	out := make([]dictRecord, 0, d.table.live)
	d.table.each(func(k PropertyKey, e *dictEntry) {
		out = append(out, dictRecord{key: k, entry: *e})
	})
	slices.SortFunc(out, func(a, b dictRecord) int { return a.entry.enumIndex - b.entry.enumIndex })
	return out
}

// renumber compacts enumeration indices to 1..n keeping their order.
func (d *nameDictionary) renumber() {
	for i, r := range d.enumeration() {
		e, _ := d.find(r.key)
		e.enumIndex = i + 1
	}
	d.nextEnum = d.table.live + 1
	d.holes = 0
}

// elementEntry is the value stored for an index in dictionary elements.
type elementEntry struct {
	value Value
	attrs Attributes
}

// numberDictionary is the sparse element store.
type numberDictionary struct {
	iso   *Isolate
	table *hashTable[uint32, elementEntry]
	// nonDefault counts entries whose attributes are not DefaultAttributes.
	nonDefault int
}

func (iso *Isolate) newNumberDictionary(n int) (*numberDictionary, error) {
	capacity := hashCapacity(n)
	if err := iso.alloc.Allocate(SpaceDictionary, capacity*dictEntryCells); err != nil {
		return nil, err
	}
	return &numberDictionary{
		iso:   iso,
		table: newHashTable[uint32, elementEntry](capacity, iso.hashIndex),
	}, nil
}

func (d *numberDictionary) len() int { return d.table.live }

func (d *numberDictionary) cells() int { return d.table.capacity() * dictEntryCells }

func (d *numberDictionary) find(index uint32) (*elementEntry, bool) {
	b := d.table.find(index)
	if b < 0 {
		return nil, false
	}
	return &d.table.entries[b].value, true
}

// put stores an element, growing the table if needed.
func (d *numberDictionary) put(index uint32, e elementEntry) error {
	if old, ok := d.find(index); ok {
		d.countAttrs(old.attrs, -1)
		*old = e
		d.countAttrs(e.attrs, 1)
		return nil
	}
	if d.table.needsGrow(1) {
		need := d.table.live + 1
		capacity := hashCapacity(need + need/2)
		if capacity != d.table.capacity() {
			if err := d.iso.alloc.Allocate(SpaceDictionary, capacity*dictEntryCells); err != nil {
				return err
			}
			d.iso.alloc.Free(SpaceDictionary, d.cells())
		}
		d.table.rehash(capacity)
	}
	d.table.put(index, e)
	d.countAttrs(e.attrs, 1)
	return nil
}

func (d *numberDictionary) countAttrs(a Attributes, delta int) {
	if a != DefaultAttributes {
		d.nonDefault += delta
	}
}

func (d *numberDictionary) remove(index uint32) bool {
	b := d.table.find(index)
	if b < 0 {
		return false
	}
	d.countAttrs(d.table.entries[b].value.attrs, -1)
	d.table.remove(b)
	return true
}

// indices returns the stored indices in ascending order.
func (d *numberDictionary) indices() []uint32 {
	out := make([]uint32, 0, d.table.live)
	d.table.each(func(k uint32, _ *elementEntry) { out = append(out, k) })
	slices.Sort(out)
	return out
}

// maxIndex returns the largest stored index.
func (d *numberDictionary) maxIndex() (uint32, bool) {
	var m uint32
	found := false
	d.table.each(func(k uint32, _ *elementEntry) {
		if !found || k > m {
			m, found = k, true
		}
	})
	return m, found
}
