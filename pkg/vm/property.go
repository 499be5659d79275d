package vm

import "strings"

// Attributes are the ECMAScript property attribute bits.
type Attributes uint8

const (
	Writable Attributes = 1 << iota
	Enumerable
	Configurable

	// DefaultAttributes is what a plain assignment creates.
	DefaultAttributes = Writable | Enumerable | Configurable
	// NoAttributes is what a bare descriptor definition defaults to.
	NoAttributes Attributes = 0
)

func (a Attributes) Writable() bool     { return a&Writable != 0 }
func (a Attributes) Enumerable() bool   { return a&Enumerable != 0 }
func (a Attributes) Configurable() bool { return a&Configurable != 0 }

// String renders the attributes as "wec" with '-' for missing bits.
func (a Attributes) String() string {
	var sb strings.Builder
	for _, f := range []struct {
		bit Attributes
		ch  byte
	}{{Writable, 'w'}, {Enumerable, 'e'}, {Configurable, 'c'}} {
		if a&f.bit != 0 {
			sb.WriteByte(f.ch)
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// ParseAttributes is the inverse of Attributes.String. Letters may appear in
// any order; '-' is ignored.
func ParseAttributes(s string) (Attributes, bool) {
	var a Attributes
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 'w':
			a |= Writable
		case 'e':
			a |= Enumerable
		case 'c':
			a |= Configurable
		case '-':
		default:
			return 0, false
		}
	}
	return a, true
}

// DescriptorType says where a property's value lives.
type DescriptorType uint8

const (
	// DescriptorField: the value is in an object slot.
	DescriptorField DescriptorType = iota
	// DescriptorConstant: the value is stored in the descriptor itself and
	// shared by every object with the shape.
	DescriptorConstant
	// DescriptorAccessor: the descriptor holds a getter/setter pair.
	DescriptorAccessor
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorField:
		return "field"
	case DescriptorConstant:
		return "constant"
	case DescriptorAccessor:
		return "accessor"
	default:
		return "unknown"
	}
}

// StorageClass is the region a field slot lives in.
type StorageClass uint8

const (
	InObject StorageClass = iota
	Overflow
)

func (c StorageClass) String() string {
	if c == InObject {
		return "in-object"
	}
	return "overflow"
}

// Slot addresses a fast-mode field. Index is relative to its region.
type Slot struct {
	Index int
	Class StorageClass
}

// slotForField splits a field number into the in-object region or the overflow array.
func slotForField(field, inObject int) Slot {
	if field < inObject {
		return Slot{Index: field, Class: InObject}
	}
	return Slot{Index: field - inObject, Class: Overflow}
}

// AccessorPair is the payload of an accessor descriptor.
type AccessorPair struct {
	Getter Value
	Setter Value
}

func (p *AccessorPair) same(o *AccessorPair) bool {
	if p == o {
		return true
	}
	if p == nil || o == nil {
		return false
	}
	return p.Getter.Is(o.Getter) && p.Setter.Is(o.Setter)
}
