package vm

import (
	"fmt"
	"strings"

	"github.com/nooga/hiddenclass/pkg/errors"
)

// objectHeaderCells is the heap cost of an object before its in-object slots:
// shape, properties and elements pointers.
const objectHeaderCells = 3

// Object is a heap object whose named properties are described by a shape.
type Object struct {
	id       uint64
	iso      *Isolate
	shape    ShapeID
	isArray  bool
	props    propertyStore
	elements elementStore
	// lengthReadOnly is set when a frozen array's length can no longer change.
	lengthReadOnly bool
}

// NewObject creates an empty plain object.
func (iso *Isolate) NewObject() (*Object, error) {
	return iso.NewObjectFromRoot(iso.objectRoot)
}

// NewArray creates an empty array.
func (iso *Isolate) NewArray() (*Object, error) {
	o, err := iso.NewObjectFromRoot(iso.arrayRoot)
	if err != nil {
		return nil, err
	}
	o.isArray = true
	return o, nil
}

// NewObjectFromRoot creates an empty object at a root shape made by NewRootShape.
func (iso *Isolate) NewObjectFromRoot(root ShapeID) (*Object, error) {
	s := iso.shape(root)
	if !s.isRoot {
		errors.Invariant("%s is not a root shape", root)
	}
	if err := iso.alloc.Allocate(SpaceObject, objectHeaderCells+s.inObject); err != nil {
		return nil, err
	}
	iso.nextObject++
	o := &Object{
		id:    iso.nextObject,
		iso:   iso,
		shape: root,
		props: propertyStore{mode: FastProperties, inObject: make([]Value, s.inObject)},
	}
	for i := range o.props.inObject {
		o.props.inObject[i] = Undefined
	}
	return o, nil
}

// ID returns the object's identity within its isolate.
func (o *Object) ID() uint64 { return o.id }

// Shape returns the object's current shape.
func (o *Object) Shape() ShapeID { return o.shape }

// IsArray reports whether the object was created by NewArray.
func (o *Object) IsArray() bool { return o.isArray }

// IsExtensible reports whether new properties may be added.
func (o *Object) IsExtensible() bool { return o.iso.shape(o.shape).extensible }

func (o *Object) ref() HeapRef { return HeapRef{Space: SpaceObject, ID: o.id} }

func (o *Object) setShape(id ShapeID) {
	if s := o.iso.shape(id); s.dictionary != (o.props.mode == DictionaryProperties) {
		errors.Invariant("object %d in %s mode moved to %s", o.id, o.props.mode, id)
	}
	o.shape = id
	o.iso.barrier.RecordWrite(o.ref(), FieldShape, HeapRef{Space: SpaceShape, ID: uint64(id)})
}

// LookupResult describes an own property found by LocalLookup.
type LookupResult struct {
	Key        PropertyKey
	Type       DescriptorType
	Attributes Attributes
	// Value is the value of a data property.
	Value Value
	// Accessors is the pair of an accessor property.
	Accessors *AccessorPair
	// Slot is where a fast-mode field lives. It is valid while the object's
	// shape is Shape.
	Slot       Slot
	Shape      ShapeID
	Dictionary bool
	Element    bool
}

// LocalLookup finds an own property without consulting any prototype.
func (o *Object) LocalLookup(key PropertyKey) (LookupResult, bool) {
	if index, ok := elementIndex(key); ok {
		return o.lookupElement(key, index)
	}
	r := LookupResult{Key: key, Shape: o.shape}
	if o.props.mode == DictionaryProperties {
		e, ok := o.props.dict.find(key)
		if !ok {
			return LookupResult{}, false
		}
		r.Dictionary = true
		r.Attributes = e.attrs
		r.Value = e.value
		if e.isAccessor() {
			r.Type = DescriptorAccessor
			r.Accessors = e.accessors
		}
		return r, true
	}
	s := o.iso.shape(o.shape)
	pos := s.lookup(key)
	if pos < 0 {
		return LookupResult{}, false
	}
	d := s.descriptor(pos)
	r.Type = d.Type
	r.Attributes = d.Attrs
	switch d.Type {
	case DescriptorField:
		r.Slot = slotForField(d.Field, s.inObject)
		r.Value = o.props.read(r.Slot)
	case DescriptorConstant:
		r.Value = d.Constant
	case DescriptorAccessor:
		r.Value = Undefined
		r.Accessors = d.Accessors
	}
	return r, true
}

func (o *Object) lookupElement(key PropertyKey, index uint32) (LookupResult, bool) {
	kind := o.ElementsKind()
	r := LookupResult{Key: key, Shape: o.shape, Element: true, Attributes: DefaultAttributes}
	if kind == DictionaryElements {
		e, ok := o.elements.dict.find(index)
		if !ok {
			return LookupResult{}, false
		}
		r.Dictionary = true
		r.Attributes = e.attrs
		r.Value = e.value
		return r, true
	}
	v, ok := o.elements.read(kind, index)
	if !ok {
		return LookupResult{}, false
	}
	r.Value = v
	return r, true
}

// PropertyEntry is one own property as reported by OwnEntries.
type PropertyEntry struct {
	Key        PropertyKey
	Value      Value
	Accessors  *AccessorPair
	Attributes Attributes
}

// OwnKeys returns every own key: array indices ascending, then string keys
// in insertion order, then symbols in insertion order.
func (o *Object) OwnKeys() []PropertyKey {
	entries := o.OwnEntries()
	keys := make([]PropertyKey, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

// OwnEntries returns every own property in OwnKeys order.
func (o *Object) OwnEntries() []PropertyEntry {
	out := o.elementEntries()
	var symbols []PropertyEntry
	add := func(e PropertyEntry) {
		if e.Key.IsSymbol() {
			symbols = append(symbols, e)
		} else {
			out = append(out, e)
		}
	}
	if o.props.mode == DictionaryProperties {
		for _, r := range o.props.dict.enumeration() {
			add(PropertyEntry{Key: r.key, Value: r.entry.value, Accessors: r.entry.accessors, Attributes: r.entry.attrs})
		}
	} else {
		s := o.iso.shape(o.shape)
		for pos := 0; pos < s.ownDescriptors; pos++ {
			d := s.descriptor(pos)
			e := PropertyEntry{Key: d.Key, Attributes: d.Attrs}
			switch d.Type {
			case DescriptorField:
				e.Value = o.props.read(slotForField(d.Field, s.inObject))
			case DescriptorConstant:
				e.Value = d.Constant
			case DescriptorAccessor:
				e.Value = Undefined
				e.Accessors = d.Accessors
			}
			add(e)
		}
	}
	return append(out, symbols...)
}

func (o *Object) elementEntries() []PropertyEntry {
	var out []PropertyEntry
	kind := o.ElementsKind()
	if kind == DictionaryElements {
		for _, i := range o.elements.dict.indices() {
			e, _ := o.elements.dict.find(i)
			out = append(out, PropertyEntry{Key: indexKey(i), Value: e.value, Attributes: e.attrs})
		}
		return out
	}
	n := min(int(o.elements.length), o.elements.capacity(kind))
	for i := 0; i < n; i++ {
		if v, ok := o.elements.read(kind, uint32(i)); ok {
			out = append(out, PropertyEntry{Key: indexKey(uint32(i)), Value: v, Attributes: DefaultAttributes})
		}
	}
	return out
}

// EnumerableKeys returns the enumerable string keys in enumeration order.
// In fast mode the named part comes from the descriptor table's enumeration cache.
func (o *Object) EnumerableKeys() []string {
	var out []string
	for _, e := range o.elementEntries() {
		if e.Attributes.Enumerable() {
			out = append(out, e.Key.Name())
		}
	}
	if o.props.mode == DictionaryProperties {
		for _, r := range o.props.dict.enumeration() {
			if r.key.IsString() && r.entry.attrs.Enumerable() {
				out = append(out, r.key.Name())
			}
		}
		return out
	}
	s := o.iso.shape(o.shape)
	if s.ownDescriptors == 0 {
		return out
	}
	for _, pos := range s.descriptors.EnumerationOrder(s.ownDescriptors) {
		if k := s.descriptors.at(pos).Key; k.IsString() {
			out = append(out, k.Name())
		}
	}
	return out
}

// PreventExtensions stops new properties from being added.
func (o *Object) PreventExtensions() error {
	next, err := o.iso.withoutExtensions(o.shape)
	if err != nil {
		return err
	}
	if next != o.shape {
		o.setShape(next)
	}
	return nil
}

// Seal makes every own property non-configurable and the object non-extensible.
func (o *Object) Seal() error { return o.applyIntegrityLevel(false) }

// Freeze seals the object and makes every data property read-only.
func (o *Object) Freeze() error { return o.applyIntegrityLevel(true) }

func (o *Object) applyIntegrityLevel(freeze bool) error {
	reason := "seal"
	if freeze {
		reason = "freeze"
	}
	if err := o.normalize(reason); err != nil {
		return err
	}
	if err := o.normalizeElements(true, reason); err != nil {
		return err
	}
	o.props.dict.table.each(func(_ PropertyKey, e *dictEntry) {
		e.attrs &^= Configurable
		if freeze && !e.isAccessor() {
			e.attrs &^= Writable
		}
	})
	d := o.elements.dict
	d.table.each(func(_ uint32, e *elementEntry) {
		d.countAttrs(e.attrs, -1)
		e.attrs &^= Configurable
		if freeze {
			e.attrs &^= Writable
		}
		d.countAttrs(e.attrs, 1)
	})
	if freeze && o.isArray {
		o.lengthReadOnly = true
	}
	return o.PreventExtensions()
}

// TestIntegrityLevel reports whether the object is non-extensible and every
// own property is non-configurable, and with frozen also non-writable.
func (o *Object) TestIntegrityLevel(frozen bool) bool {
	if o.IsExtensible() {
		return false
	}
	for _, e := range o.OwnEntries() {
		if e.Attributes.Configurable() {
			return false
		}
		if frozen && e.Accessors == nil && e.Attributes.Writable() {
			return false
		}
	}
	return true
}

// Inspect renders the object with its own properties in OwnKeys order.
func (o *Object) Inspect() string {
	var sb strings.Builder
	if o.isArray {
		fmt.Fprintf(&sb, "Array#%d(%d) {", o.id, o.elements.length)
	} else {
		fmt.Fprintf(&sb, "Object#%d {", o.id)
	}
	entries := o.OwnEntries()
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(" ")
		sb.WriteString(e.Key.String())
		sb.WriteString(": ")
		if e.Accessors != nil {
			sb.WriteString("[accessor]")
		} else {
			sb.WriteString(e.Value.Inspect())
		}
		if e.Attributes != DefaultAttributes {
			fmt.Fprintf(&sb, " (%s)", e.Attributes)
		}
	}
	if len(entries) > 0 {
		sb.WriteString(" ")
	}
	sb.WriteString("}")
	return sb.String()
}
