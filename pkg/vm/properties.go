package vm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nooga/hiddenclass/pkg/errors"
)

// PropertyMode says how an object stores its named properties.
type PropertyMode uint8

const (
	// FastProperties: values in slots described by the shape's descriptors.
	FastProperties PropertyMode = iota
	// DictionaryProperties: values in a per-object hash table.
	DictionaryProperties
)

func (m PropertyMode) String() string {
	if m == FastProperties {
		return "fast"
	}
	return "dictionary"
}

// ErrNotFastifiable is returned when dictionary properties cannot be
// described by a descriptor table.
var ErrNotFastifiable = errors.New("properties cannot be stored in fast mode")

// ErrElementAccessor is returned for accessors defined on array indices.
var ErrElementAccessor = errors.New("accessor elements are not supported")

// propertyStore is the named property storage of an object.
type propertyStore struct {
	mode     PropertyMode
	inObject []Value
	overflow []Value
	dict     *nameDictionary
}

func (p *propertyStore) read(slot Slot) Value {
	switch slot.Class {
	case InObject:
		if slot.Index >= len(p.inObject) {
			errors.Invariant("in-object slot %d of %d", slot.Index, len(p.inObject))
		}
		return p.inObject[slot.Index]
	case Overflow:
		if slot.Index >= len(p.overflow) {
			errors.Invariant("overflow slot %d of %d", slot.Index, len(p.overflow))
		}
		return p.overflow[slot.Index]
	default:
		errors.Invariant("unknown storage class %d", slot.Class)
		return Undefined
	}
}

func (o *Object) writeSlot(slot Slot, v Value) {
	switch slot.Class {
	case InObject:
		if slot.Index >= len(o.props.inObject) {
			errors.Invariant("in-object slot %d of %d", slot.Index, len(o.props.inObject))
		}
		o.props.inObject[slot.Index] = v
		o.iso.recordWrite(o.ref(), slot.Index, v)
	case Overflow:
		if slot.Index >= len(o.props.overflow) {
			errors.Invariant("overflow slot %d of %d", slot.Index, len(o.props.overflow))
		}
		o.props.overflow[slot.Index] = v
		o.iso.recordWrite(HeapRef{Space: SpaceProperties, ID: o.id}, slot.Index, v)
	default:
		errors.Invariant("unknown storage class %d", slot.Class)
	}
}

// ensureOverflow grows the overflow array in OverflowGrowth steps until slot fits.
func (o *Object) ensureOverflow(slot Slot) error {
	if slot.Class != Overflow || slot.Index < len(o.props.overflow) {
		return nil
	}
	n := len(o.props.overflow)
	size := n
	for size <= slot.Index {
		size += o.iso.cfg.Properties.OverflowGrowth
	}
	if err := o.iso.alloc.Allocate(SpaceProperties, size); err != nil {
		return err
	}
	grown := make([]Value, size)
	copy(grown, o.props.overflow)
	for i := n; i < size; i++ {
		grown[i] = Undefined
	}
	o.iso.alloc.Free(SpaceProperties, n)
	o.props.overflow = grown
	o.iso.barrier.RecordWrite(o.ref(), FieldOverflow, HeapRef{Space: SpaceProperties, ID: o.id})
	return nil
}

// IsDictionaryMode reports whether named properties are in a dictionary.
func (o *Object) IsDictionaryMode() bool { return o.props.mode == DictionaryProperties }

// PropertyMode returns the named property storage mode.
func (o *Object) PropertyMode() PropertyMode { return o.props.mode }

// Get returns the value of a named data property.
func (o *Object) Get(name string) (Value, bool) {
	return o.GetKey(NewStringKey(name))
}

// GetKey returns the value of an own property. Accessor properties report
// Undefined; LocalLookup exposes their pair.
func (o *Object) GetKey(key PropertyKey) (Value, bool) {
	r, ok := o.LocalLookup(key)
	if !ok {
		return Undefined, false
	}
	if r.Type == DescriptorAccessor {
		return Undefined, true
	}
	return r.Value, true
}

// HasOwn reports whether the object has an own property named key.
func (o *Object) HasOwn(key PropertyKey) bool {
	_, ok := o.LocalLookup(key)
	return ok
}

// Set assigns a named property, adding it if missing.
func (o *Object) Set(name string, v Value) error {
	return o.SetKey(NewStringKey(name), v)
}

// SetKey assigns an own property the way a plain assignment does. Array
// index keys go to the element store.
func (o *Object) SetKey(key PropertyKey, v Value) error {
	if index, ok := elementIndex(key); ok {
		return o.SetElement(index, v)
	}
	if o.props.mode == DictionaryProperties {
		if e, ok := o.props.dict.find(key); ok {
			switch {
			case e.isAccessor():
				return &errors.PropertyError{Reason: errors.Accessor, Key: key.String()}
			case !e.attrs.Writable():
				return &errors.PropertyError{Reason: errors.ReadOnly, Key: key.String()}
			}
			e.value = v
			o.iso.recordWrite(HeapRef{Space: SpaceDictionary, ID: o.id}, e.enumIndex, v)
			return nil
		}
		return o.addProperty(Descriptor{Key: key, Type: DescriptorField, Attrs: DefaultAttributes}, v)
	}

	s := o.iso.shape(o.shape)
	pos := s.lookup(key)
	if pos < 0 {
		return o.addProperty(Descriptor{Key: key, Type: DescriptorField, Attrs: DefaultAttributes}, v)
	}
	d := s.descriptor(pos)
	if d.Type == DescriptorAccessor {
		return &errors.PropertyError{Reason: errors.Accessor, Key: key.String()}
	}
	if !d.Attrs.Writable() {
		return &errors.PropertyError{Reason: errors.ReadOnly, Key: key.String()}
	}
	if d.Type == DescriptorConstant {
		if d.Constant.Is(v) {
			return nil
		}
		return o.replaceDescriptor(pos, Descriptor{Type: DescriptorField, Attrs: d.Attrs}, v)
	}
	o.writeSlot(slotForField(d.Field, s.inObject), v)
	return nil
}

// DefineOwnProperty creates or reconfigures a data property.
func (o *Object) DefineOwnProperty(key PropertyKey, v Value, attrs Attributes) error {
	if index, ok := elementIndex(key); ok {
		return o.DefineElement(index, v, attrs)
	}
	return o.define(Descriptor{Key: key, Type: DescriptorField, Attrs: attrs}, v)
}

// DefineConstant creates a data property whose value is kept in the shape.
// Objects sharing the shape share the value; a later assignment of another
// value turns the property into an ordinary field.
func (o *Object) DefineConstant(key PropertyKey, v Value, attrs Attributes) error {
	if index, ok := elementIndex(key); ok {
		return o.DefineElement(index, v, attrs)
	}
	return o.define(Descriptor{Key: key, Type: DescriptorConstant, Attrs: attrs, Constant: v}, v)
}

// DefineAccessor creates or reconfigures an accessor property.
func (o *Object) DefineAccessor(key PropertyKey, getter, setter Value, attrs Attributes) error {
	if _, ok := elementIndex(key); ok {
		return fmt.Errorf("index %s: %w", key, ErrElementAccessor)
	}
	return o.define(Descriptor{
		Key:       key,
		Type:      DescriptorAccessor,
		Attrs:     attrs &^ Writable,
		Accessors: &AccessorPair{Getter: getter, Setter: setter},
	}, Undefined)
}

func (o *Object) define(d Descriptor, v Value) error {
	if o.props.mode == DictionaryProperties {
		return o.defineInDictionary(d, v)
	}
	s := o.iso.shape(o.shape)
	pos := s.lookup(d.Key)
	if pos < 0 {
		return o.addProperty(d, v)
	}
	cur := *s.descriptor(pos)
	curValue := cur.Constant
	if cur.Type == DescriptorField {
		curValue = o.props.read(slotForField(cur.Field, s.inObject))
	}
	if err := validateRedefine(d.Key, cur.Attrs, cur.Type == DescriptorAccessor, curValue, cur.Accessors, d, v); err != nil {
		return err
	}
	if d.Type == DescriptorConstant {
		if cur.Type == DescriptorConstant && cur.Attrs == d.Attrs && cur.Constant.Is(v) {
			return nil
		}
		d.Type = DescriptorField
		d.Constant = Value{}
	}
	if cur.Type == d.Type && cur.Attrs == d.Attrs {
		switch d.Type {
		case DescriptorField:
			o.writeSlot(slotForField(cur.Field, s.inObject), v)
			return nil
		case DescriptorAccessor:
			if cur.Accessors.same(d.Accessors) {
				return nil
			}
		}
	}
	return o.replaceDescriptor(pos, d, v)
}

// validateRedefine applies the rules for changing a non-configurable property.
func validateRedefine(key PropertyKey, cur Attributes, curAccessor bool, curValue Value, curPair *AccessorPair, d Descriptor, v Value) error {
	if cur.Configurable() {
		return nil
	}
	fail := &errors.PropertyError{Reason: errors.NotConfigurable, Key: key.String()}
	newAccessor := d.Type == DescriptorAccessor
	switch {
	case d.Attrs.Configurable(), d.Attrs.Enumerable() != cur.Enumerable(), newAccessor != curAccessor:
		return fail
	case newAccessor:
		if !curPair.same(d.Accessors) {
			return fail
		}
	case !cur.Writable():
		if d.Attrs.Writable() || !curValue.Is(v) {
			return fail
		}
	}
	return nil
}

// replaceDescriptor moves the object to an unlinked shape in which the
// descriptor at pos is d, then stores v if d is a field.
func (o *Object) replaceDescriptor(pos int, d Descriptor, v Value) error {
	iso := o.iso
	next, err := iso.copyReplaceDescriptor(o.shape, pos, d)
	if err != nil {
		return err
	}
	release := iso.Pin(next)
	defer release()
	ns := iso.shape(next)
	nd := ns.descriptor(pos)
	if nd.Type != DescriptorField {
		o.setShape(next)
		return nil
	}
	slot := slotForField(nd.Field, ns.inObject)
	if err := o.ensureOverflow(slot); err != nil {
		return err
	}
	o.setShape(next)
	o.writeSlot(slot, v)
	return nil
}

// addProperty adds a property that does not exist yet.
func (o *Object) addProperty(d Descriptor, v Value) error {
	iso := o.iso
	s := iso.shape(o.shape)
	if !s.extensible {
		return &errors.PropertyError{Reason: errors.NotExtensible, Key: d.Key.String()}
	}
	if o.props.mode == DictionaryProperties {
		return o.addToDictionary(d, v)
	}
	var reason string
	switch {
	case !d.Key.isCacheable():
		reason = "key is not an identifier"
	case s.ownDescriptors >= iso.cfg.Properties.MaxFastProperties:
		reason = "too many properties"
	}
	if reason == "" {
		next, err := iso.addDescriptor(o.shape, d)
		if ce, ok := isCeiling(err); ok {
			reason = ce.reason
		} else if err != nil {
			return err
		} else {
			return o.installAdded(next, v)
		}
	}
	if err := o.normalize(reason); err != nil {
		return err
	}
	return o.addToDictionary(d, v)
}

// installAdded moves the object to next, the result of a property add, and
// stores v in the new field.
func (o *Object) installAdded(next ShapeID, v Value) error {
	iso := o.iso
	release := iso.Pin(next)
	defer release()
	ns := iso.shape(next)
	last := ns.descriptor(ns.ownDescriptors - 1)
	if last.Type != DescriptorField {
		o.setShape(next)
		return nil
	}
	slot := slotForField(last.Field, ns.inObject)
	if err := o.ensureOverflow(slot); err != nil {
		return err
	}
	o.setShape(next)
	o.writeSlot(slot, v)
	return nil
}

func (o *Object) addToDictionary(d Descriptor, v Value) error {
	e := dictEntry{value: v, attrs: d.Attrs}
	switch d.Type {
	case DescriptorConstant:
		e.value = d.Constant
	case DescriptorAccessor:
		e.value = Undefined
		e.accessors = d.Accessors
	}
	if err := o.props.dict.add(d.Key, e); err != nil {
		return err
	}
	o.recordDictEntry(&e)
	return nil
}

func (o *Object) recordDictEntry(e *dictEntry) {
	owner := HeapRef{Space: SpaceDictionary, ID: o.id}
	if e.accessors != nil {
		o.iso.recordWrite(owner, e.enumIndex, e.accessors.Getter)
		o.iso.recordWrite(owner, e.enumIndex, e.accessors.Setter)
		return
	}
	o.iso.recordWrite(owner, e.enumIndex, e.value)
}

func (o *Object) defineInDictionary(d Descriptor, v Value) error {
	e, ok := o.props.dict.find(d.Key)
	if !ok {
		return o.addProperty(d, v)
	}
	if err := validateRedefine(d.Key, e.attrs, e.isAccessor(), e.value, e.accessors, d, v); err != nil {
		return err
	}
	e.attrs = d.Attrs
	if d.Type == DescriptorAccessor {
		e.value = Undefined
		e.accessors = d.Accessors
	} else {
		e.value = v
		e.accessors = nil
	}
	o.recordDictEntry(e)
	return nil
}

// Delete removes a named property.
func (o *Object) Delete(name string) error {
	return o.DeleteKey(NewStringKey(name))
}

// DeleteKey removes an own property. Deleting a missing property succeeds.
// Fast-mode objects are normalized first.
func (o *Object) DeleteKey(key PropertyKey) error {
	if index, ok := elementIndex(key); ok {
		return o.DeleteElement(index)
	}
	if o.props.mode == FastProperties {
		s := o.iso.shape(o.shape)
		pos := s.lookup(key)
		if pos < 0 {
			return nil
		}
		if !s.descriptor(pos).Attrs.Configurable() {
			return &errors.PropertyError{Reason: errors.NotConfigurable, Key: key.String()}
		}
		if err := o.normalize("delete"); err != nil {
			return err
		}
	}
	e, ok := o.props.dict.find(key)
	if !ok {
		return nil
	}
	if !e.attrs.Configurable() {
		return &errors.PropertyError{Reason: errors.NotConfigurable, Key: key.String()}
	}
	o.props.dict.remove(key)
	return nil
}

// NormalizeProperties switches the object to dictionary properties.
func (o *Object) NormalizeProperties() error {
	return o.normalize("requested")
}

func (o *Object) normalize(reason string) error {
	if o.props.mode == DictionaryProperties {
		return nil
	}
	iso := o.iso
	s := iso.shape(o.shape)
	target, err := iso.normalizedShape(s.root, s.elementsKind, s.extensible)
	if err != nil {
		return err
	}
	release := iso.Pin(target)
	defer release()
	dict, err := iso.newNameDictionary(iso.shape(o.shape).ownDescriptors)
	if err != nil {
		return err
	}
	s = iso.shape(o.shape)
	for pos := 0; pos < s.ownDescriptors; pos++ {
		d := s.descriptor(pos)
		e := dictEntry{attrs: d.Attrs, enumIndex: d.EnumIndex}
		switch d.Type {
		case DescriptorField:
			e.value = o.props.read(slotForField(d.Field, s.inObject))
		case DescriptorConstant:
			e.value = d.Constant
		case DescriptorAccessor:
			e.value = Undefined
			e.accessors = d.Accessors
		}
		if err := dict.restore(d.Key, e); err != nil {
			iso.alloc.Free(SpaceDictionary, dict.cells())
			return err
		}
	}
	iso.alloc.Free(SpaceProperties, len(o.props.overflow))
	for i := range o.props.inObject {
		o.props.inObject[i] = Undefined
	}
	o.props = propertyStore{mode: DictionaryProperties, inObject: o.props.inObject, dict: dict}
	o.iso.barrier.RecordWrite(o.ref(), FieldOverflow, HeapRef{Space: SpaceDictionary, ID: o.id})
	o.setShape(target)
	iso.logger.Debug("normalized properties",
		zap.Uint64("object", o.id),
		zap.String("reason", reason),
		zap.Int("properties", dict.len()))
	return nil
}

// TransformToFastProperties moves a dictionary-mode object back to fast
// properties on a fresh shape whose descriptors follow the enumeration order.
func (o *Object) TransformToFastProperties() error {
	if o.props.mode == FastProperties {
		return nil
	}
	iso := o.iso
	records := o.props.dict.enumeration()
	if len(records) > iso.cfg.Descriptors.MaxDescriptors {
		return fmt.Errorf("%d properties: %w", len(records), ErrNotFastifiable)
	}
	for _, r := range records {
		if !r.key.isCacheable() {
			return fmt.Errorf("key %q: %w", r.key, ErrNotFastifiable)
		}
	}

	arr, err := iso.newDescriptorArray(len(records))
	if err != nil {
		return err
	}
	fields := 0
	for i, r := range records {
		d := Descriptor{Key: r.key, Attrs: r.entry.attrs, EnumIndex: i + 1}
		if r.entry.isAccessor() {
			d.Type = DescriptorAccessor
			d.Accessors = r.entry.accessors
		} else {
			d.Type = DescriptorField
			d.Field = fields
			fields++
		}
		arr.Append(d)
		iso.recordDescriptor(arr, i)
	}
	s := iso.shape(o.shape)
	overflowLen := max(0, fields-s.inObject)
	if err := iso.alloc.Allocate(SpaceProperties, overflowLen); err != nil {
		iso.alloc.Free(SpaceDescriptors, arr.capacity*descriptorEntryCells)
		return err
	}
	s = iso.shape(o.shape)
	id, err := iso.allocShape(&Shape{
		root:            s.root,
		elementsKind:    s.elementsKind,
		inObject:        s.inObject,
		usedFields:      fields,
		extensible:      s.extensible,
		descriptors:     arr,
		ownDescriptors:  len(records),
		ownsDescriptors: true,
	})
	if err != nil {
		iso.alloc.Free(SpaceProperties, overflowLen)
		iso.alloc.Free(SpaceDescriptors, arr.capacity*descriptorEntryCells)
		return err
	}

	old := o.props.dict
	o.props = propertyStore{mode: FastProperties, inObject: o.props.inObject, overflow: make([]Value, overflowLen)}
	for i := range o.props.overflow {
		o.props.overflow[i] = Undefined
	}
	o.setShape(id)
	for i, r := range records {
		d := arr.at(i)
		if d.Type == DescriptorField {
			o.writeSlot(slotForField(d.Field, s.inObject), r.entry.value)
		}
	}
	iso.alloc.Free(SpaceDictionary, old.cells())
	iso.logger.Debug("transformed to fast properties",
		zap.Uint64("object", o.id),
		zap.Int("properties", len(records)),
		zap.Int("fields", fields))
	return nil
}

// MaybeTransformToFast transforms a dictionary-mode object back to fast
// properties when that looks worthwhile: the dictionary has seen enough
// mutations since normalization, is small enough, and every key is
// identifier-shaped.
func (o *Object) MaybeTransformToFast() (bool, error) {
	if o.props.mode == FastProperties {
		return false, nil
	}
	d := o.props.dict
	cfg := o.iso.cfg.Properties
	if d.len() >= cfg.MaxFastProperties || d.mutations < cfg.FastifyAmortization*d.len() {
		return false, nil
	}
	for _, r := range d.enumeration() {
		if !r.key.isCacheable() {
			return false, nil
		}
	}
	if err := o.TransformToFastProperties(); err != nil {
		return false, err
	}
	return true, nil
}

func elementIndex(key PropertyKey) (uint32, bool) {
	if !key.IsString() {
		return 0, false
	}
	return tryParseArrayIndex(key.Name())
}
