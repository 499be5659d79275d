package vm

import (
	"math"

	"go.uber.org/zap"

	"github.com/nooga/hiddenclass/pkg/errors"
)

// holeNaNBits marks a hole in a double backing store. Stored NaNs are
// canonicalized so they never carry this pattern.
const holeNaNBits uint64 = 0xFFF7FFFFFFF7FFFF

var holeNaN = math.Float64frombits(holeNaNBits)

func isHoleNaN(f float64) bool { return math.Float64bits(f) == holeNaNBits }

// elementStore is the indexed storage of an object. Which of values,
// doubles or dict is in use follows the shape's elements kind.
type elementStore struct {
	values  []Value   // smi and generic kinds; Hole marks a hole
	doubles []float64 // double kinds; holeNaN marks a hole
	dict    *numberDictionary
	length  uint32
	// requiresSlow keeps the elements in a dictionary for good.
	requiresSlow bool
}

func (e *elementStore) capacity(kind ElementsKind) int {
	switch {
	case kind == DictionaryElements:
		return 0
	case kind.IsDouble():
		return len(e.doubles)
	default:
		return len(e.values)
	}
}

func (e *elementStore) read(kind ElementsKind, i uint32) (Value, bool) {
	switch {
	case kind == DictionaryElements:
		if entry, ok := e.dict.find(i); ok {
			return entry.value, true
		}
		return Undefined, false
	case kind.IsDouble():
		if int(i) >= len(e.doubles) || isHoleNaN(e.doubles[i]) {
			return Undefined, false
		}
		return NumberValue(e.doubles[i]), true
	default:
		if int(i) >= len(e.values) || e.values[i].IsHole() {
			return Undefined, false
		}
		return e.values[i], true
	}
}

func (e *elementStore) clear(kind ElementsKind, i int) {
	if kind.IsDouble() {
		e.doubles[i] = holeNaN
	} else {
		e.values[i] = Hole
	}
}

// used counts the present elements.
func (e *elementStore) used(kind ElementsKind) int {
	if kind == DictionaryElements {
		return e.dict.len()
	}
	n := min(int(e.length), e.capacity(kind))
	if !kind.IsHoley() {
		return n
	}
	count := 0
	for i := 0; i < n; i++ {
		if _, ok := e.read(kind, uint32(i)); ok {
			count++
		}
	}
	return count
}

// ElementsKind returns the kind of the object's indexed storage.
func (o *Object) ElementsKind() ElementsKind {
	return o.iso.shape(o.shape).elementsKind
}

// RequiresSlowElements reports whether the elements stay in a dictionary
// for the rest of the object's life.
func (o *Object) RequiresSlowElements() bool { return o.elements.requiresSlow }

// Length is one past the highest index ever stored, or the length set by SetLength.
func (o *Object) Length() uint32 { return o.elements.length }

// ElementsCapacity returns the size of the fast backing store.
func (o *Object) ElementsCapacity() int {
	return o.elements.capacity(o.ElementsKind())
}

// GetElement returns the element at index.
func (o *Object) GetElement(index uint32) (Value, bool) {
	return o.elements.read(o.ElementsKind(), index)
}

func newElementsCapacity(index uint32, initial int) int {
	n := int(index) + 1
	return max(n+n>>1+16, initial)
}

// SetElement stores v at index the way an assignment does.
func (o *Object) SetElement(index uint32, v Value) error {
	if index > maxArrayIndex {
		return o.SetKey(indexKey(index), v)
	}
	kind := o.ElementsKind()
	if kind == DictionaryElements {
		return o.setDictionaryElement(index, v, DefaultAttributes, false, true)
	}
	if _, exists := o.elements.read(kind, index); !exists && !o.IsExtensible() {
		return &errors.PropertyError{Reason: errors.NotExtensible, Key: indexKey(index).String()}
	}
	if int(index) >= o.elements.capacity(kind) {
		newCapacity := newElementsCapacity(index, o.iso.cfg.Elements.InitialCapacity)
		if o.shouldConvertToDictionary(index, newCapacity) {
			slow := int(index) >= o.iso.cfg.Elements.SlowElementsIndexLimit
			if err := o.normalizeElements(slow, "sparse write"); err != nil {
				return err
			}
			return o.setDictionaryElement(index, v, DefaultAttributes, false, false)
		}
		if err := o.growElements(kind, newCapacity); err != nil {
			return err
		}
	}
	target := generalizeFor(kind, v, index > o.elements.length)
	if target != kind {
		if err := o.transitionElements(target); err != nil {
			return err
		}
		kind = target
	}
	o.storeElement(kind, index, v)
	if index >= o.elements.length {
		o.elements.length = index + 1
	}
	return nil
}

func (o *Object) storeElement(kind ElementsKind, index uint32, v Value) {
	if kind.IsDouble() {
		f := v.ToFloat()
		if math.IsNaN(f) {
			f = math.NaN()
		}
		o.elements.doubles[index] = f
		return
	}
	o.elements.values[index] = v
	o.iso.recordWrite(HeapRef{Space: SpaceElements, ID: o.id}, int(index), v)
}

// shouldConvertToDictionary decides whether growing the fast store to
// newCapacity for a write at index would waste too much space.
func (o *Object) shouldConvertToDictionary(index uint32, newCapacity int) bool {
	cfg := o.iso.cfg.Elements
	kind := o.ElementsKind()
	if int(index)-o.elements.capacity(kind) >= cfg.MaxGap {
		return true
	}
	if newCapacity <= cfg.MinSparseCheckCapacity {
		return false
	}
	return cfg.DictionarySizeFactor*dictionaryCost(o.elements.used(kind)) <= newCapacity
}

// shouldConvertToFast reports whether dictionary elements are dense enough
// to go back to a fast store.
func (o *Object) shouldConvertToFast() bool {
	e := &o.elements
	if e.requiresSlow || e.dict.nonDefault > 0 {
		return false
	}
	cost := e.dict.table.capacity() * dictEntryCells
	return uint64(o.iso.cfg.Elements.FastDensityFactor)*uint64(cost) >= uint64(e.length)
}

// dictionaryCost is the cell cost of a dictionary holding n elements.
func dictionaryCost(n int) int {
	return hashCapacity(n) * dictEntryCells
}

func (o *Object) growElements(kind ElementsKind, capacity int) error {
	iso := o.iso
	old := o.elements.capacity(kind)
	if err := iso.alloc.Allocate(SpaceElements, capacity); err != nil {
		return err
	}
	if kind.IsDouble() {
		grown := make([]float64, capacity)
		copy(grown, o.elements.doubles)
		for i := old; i < capacity; i++ {
			grown[i] = holeNaN
		}
		o.elements.doubles = grown
	} else {
		grown := make([]Value, capacity)
		copy(grown, o.elements.values)
		for i := old; i < capacity; i++ {
			grown[i] = Hole
		}
		o.elements.values = grown
	}
	iso.alloc.Free(SpaceElements, old)
	iso.barrier.RecordWrite(o.ref(), FieldElements, HeapRef{Space: SpaceElements, ID: o.id})
	return nil
}

// transitionElements generalizes the elements kind, converting the backing
// store when the value class changes.
func (o *Object) transitionElements(target ElementsKind) error {
	iso := o.iso
	kind := o.ElementsKind()
	next, err := iso.TransitionElementsKind(o.shape, target)
	if err != nil {
		if errors.Is(err, ErrElementsKindRetreat) {
			errors.Invariant("elements kind %s -> %s on object %d", kind, target, o.id)
		}
		return err
	}
	release := iso.Pin(next)
	defer release()
	if target.IsFast() && kind.class() != target.class() {
		capacity := o.elements.capacity(kind)
		switch {
		case target.IsDouble():
			if err := iso.alloc.Allocate(SpaceElements, capacity); err != nil {
				return err
			}
			doubles := make([]float64, capacity)
			for i, v := range o.elements.values {
				if v.IsHole() {
					doubles[i] = holeNaN
				} else {
					doubles[i] = v.ToFloat()
				}
			}
			o.elements.doubles, o.elements.values = doubles, nil
			iso.alloc.Free(SpaceElements, capacity)
		case kind.IsDouble():
			if err := iso.alloc.Allocate(SpaceElements, capacity); err != nil {
				return err
			}
			values := make([]Value, capacity)
			for i, f := range o.elements.doubles {
				if isHoleNaN(f) {
					values[i] = Hole
				} else {
					values[i] = NumberValue(f)
				}
			}
			o.elements.values, o.elements.doubles = values, nil
			iso.alloc.Free(SpaceElements, capacity)
		}
		iso.barrier.RecordWrite(o.ref(), FieldElements, HeapRef{Space: SpaceElements, ID: o.id})
	}
	o.setShape(next)
	return nil
}

// NormalizeElements moves the elements to a dictionary.
func (o *Object) NormalizeElements() error {
	return o.normalizeElements(false, "requested")
}

func (o *Object) normalizeElements(requiresSlow bool, reason string) error {
	iso := o.iso
	kind := o.ElementsKind()
	if kind == DictionaryElements {
		o.elements.requiresSlow = o.elements.requiresSlow || requiresSlow
		return nil
	}
	next, err := iso.TransitionElementsKind(o.shape, DictionaryElements)
	if err != nil {
		return err
	}
	release := iso.Pin(next)
	defer release()
	dict, err := iso.newNumberDictionary(o.elements.used(kind) + 1)
	if err != nil {
		return err
	}
	n := min(int(o.elements.length), o.elements.capacity(kind))
	for i := 0; i < n; i++ {
		if v, ok := o.elements.read(kind, uint32(i)); ok {
			if err := dict.put(uint32(i), elementEntry{value: v, attrs: DefaultAttributes}); err != nil {
				iso.alloc.Free(SpaceDictionary, dict.cells())
				return err
			}
		}
	}
	iso.alloc.Free(SpaceElements, o.elements.capacity(kind))
	o.elements.values, o.elements.doubles, o.elements.dict = nil, nil, dict
	o.elements.requiresSlow = o.elements.requiresSlow || requiresSlow
	iso.barrier.RecordWrite(o.ref(), FieldElements, HeapRef{Space: SpaceDictionary, ID: o.id})
	o.setShape(next)
	iso.logger.Debug("normalized elements",
		zap.Uint64("object", o.id),
		zap.String("reason", reason),
		zap.Stringer("from", kind),
		zap.Int("elements", dict.len()),
		zap.Bool("requiresSlow", o.elements.requiresSlow))
	return nil
}

// setDictionaryElement writes or defines an element in dictionary mode.
func (o *Object) setDictionaryElement(index uint32, v Value, attrs Attributes, define, allowFastify bool) error {
	d := o.elements.dict
	key := indexKey(index)
	if e, ok := d.find(index); ok {
		if define {
			if err := validateRedefine(key, e.attrs, false, e.value, nil, Descriptor{Type: DescriptorField, Attrs: attrs}, v); err != nil {
				return err
			}
			if err := d.put(index, elementEntry{value: v, attrs: attrs}); err != nil {
				return err
			}
		} else {
			if !e.attrs.Writable() {
				return &errors.PropertyError{Reason: errors.ReadOnly, Key: key.String()}
			}
			e.value = v
		}
		o.iso.recordWrite(HeapRef{Space: SpaceDictionary, ID: o.id}, int(index), v)
		return nil
	}
	if !o.IsExtensible() {
		return &errors.PropertyError{Reason: errors.NotExtensible, Key: key.String()}
	}
	if err := d.put(index, elementEntry{value: v, attrs: attrs}); err != nil {
		return err
	}
	o.iso.recordWrite(HeapRef{Space: SpaceDictionary, ID: o.id}, int(index), v)
	if int(index) >= o.iso.cfg.Elements.SlowElementsIndexLimit {
		o.elements.requiresSlow = true
	}
	if index >= o.elements.length {
		o.elements.length = index + 1
	}
	if allowFastify && o.shouldConvertToFast() {
		return o.fastifyElements()
	}
	return nil
}

// fastifyElements moves dictionary elements back to the least general fast
// kind that holds every stored value.
func (o *Object) fastifyElements() error {
	iso := o.iso
	d := o.elements.dict
	length := int(o.elements.length)
	class := classSmi
	d.table.each(func(_ uint32, e *elementEntry) {
		if c := classOf(e.value); c > class {
			class = c
		}
	})
	kind := kindFor(class, d.len() < length)

	if err := iso.alloc.Allocate(SpaceElements, length); err != nil {
		return err
	}
	next, err := iso.reviveElementsKind(o.shape, kind)
	if err != nil {
		iso.alloc.Free(SpaceElements, length)
		return err
	}
	if kind.IsDouble() {
		o.elements.doubles = make([]float64, length)
		for i := range o.elements.doubles {
			o.elements.doubles[i] = holeNaN
		}
	} else {
		o.elements.values = make([]Value, length)
		for i := range o.elements.values {
			o.elements.values[i] = Hole
		}
	}
	d.table.each(func(i uint32, e *elementEntry) {
		o.storeElement(kind, i, e.value)
	})
	o.elements.dict = nil
	iso.alloc.Free(SpaceDictionary, d.cells())
	iso.barrier.RecordWrite(o.ref(), FieldElements, HeapRef{Space: SpaceElements, ID: o.id})
	o.setShape(next)
	iso.logger.Debug("elements back to fast mode",
		zap.Uint64("object", o.id),
		zap.Stringer("kind", kind),
		zap.Int("length", length))
	return nil
}

// DefineElement creates or reconfigures an element. Elements with
// non-default attributes live in a dictionary.
func (o *Object) DefineElement(index uint32, v Value, attrs Attributes) error {
	if index > maxArrayIndex {
		return o.define(Descriptor{Key: indexKey(index), Type: DescriptorField, Attrs: attrs}, v)
	}
	kind := o.ElementsKind()
	if kind != DictionaryElements {
		if attrs == DefaultAttributes {
			return o.SetElement(index, v)
		}
		if _, exists := o.elements.read(kind, index); !exists && !o.IsExtensible() {
			return &errors.PropertyError{Reason: errors.NotExtensible, Key: indexKey(index).String()}
		}
		if err := o.normalizeElements(false, "element attributes"); err != nil {
			return err
		}
	}
	return o.setDictionaryElement(index, v, attrs, true, true)
}

// DeleteElement removes the element at index. A packed kind becomes holey.
func (o *Object) DeleteElement(index uint32) error {
	if index > maxArrayIndex {
		return o.DeleteKey(indexKey(index))
	}
	kind := o.ElementsKind()
	if kind == DictionaryElements {
		e, ok := o.elements.dict.find(index)
		if !ok {
			return nil
		}
		if !e.attrs.Configurable() {
			return &errors.PropertyError{Reason: errors.NotConfigurable, Key: indexKey(index).String()}
		}
		o.elements.dict.remove(index)
		return nil
	}
	if _, ok := o.elements.read(kind, index); !ok {
		return nil
	}
	if !kind.IsHoley() {
		if err := o.transitionElements(kind.Holey()); err != nil {
			return err
		}
		kind = kind.Holey()
	}
	o.elements.clear(kind, int(index))
	return nil
}

// SetLength sets the array length. Shrinking drops the elements past the
// new length; growing leaves holes.
func (o *Object) SetLength(n uint32) error {
	if o.lengthReadOnly {
		return &errors.PropertyError{Reason: errors.ReadOnly, Key: "length"}
	}
	e := &o.elements
	old := e.length
	kind := o.ElementsKind()
	switch {
	case n == old:
		return nil
	case n < old && kind == DictionaryElements:
		indices := e.dict.indices()
		for i := len(indices) - 1; i >= 0 && indices[i] >= n; i-- {
			entry, _ := e.dict.find(indices[i])
			if !entry.attrs.Configurable() {
				e.length = indices[i] + 1
				return &errors.PropertyError{Reason: errors.NotConfigurable, Key: indexKey(indices[i]).String()}
			}
			e.dict.remove(indices[i])
		}
	case n < old:
		for i := int(n); i < min(int(old), e.capacity(kind)); i++ {
			e.clear(kind, i)
		}
	case kind.IsFast() && !kind.IsHoley():
		if err := o.transitionElements(kind.Holey()); err != nil {
			return err
		}
	}
	e.length = n
	return nil
}
