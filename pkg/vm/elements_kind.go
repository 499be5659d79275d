package vm

import "fmt"

// ElementsKind tags the representation of an object's indexed storage.
type ElementsKind uint8

const (
	PackedSmiElements ElementsKind = iota
	HoleySmiElements
	PackedDoubleElements
	HoleyDoubleElements
	PackedElements
	HoleyElements
	DictionaryElements
)

// elementsKindSequence is the order shapes are chained in by elements
// transitions. Each shape has at most one elements edge, to the next kind
// in this sequence.
var elementsKindSequence = [...]ElementsKind{
	PackedSmiElements,
	HoleySmiElements,
	PackedDoubleElements,
	HoleyDoubleElements,
	PackedElements,
	HoleyElements,
	DictionaryElements,
}

func (k ElementsKind) String() string {
	switch k {
	case PackedSmiElements:
		return "PACKED_SMI"
	case HoleySmiElements:
		return "HOLEY_SMI"
	case PackedDoubleElements:
		return "PACKED_DOUBLE"
	case HoleyDoubleElements:
		return "HOLEY_DOUBLE"
	case PackedElements:
		return "PACKED"
	case HoleyElements:
		return "HOLEY"
	case DictionaryElements:
		return "DICTIONARY"
	default:
		return fmt.Sprintf("ElementsKind(%d)", uint8(k))
	}
}

// elementClass is the value lattice behind a fast kind.
type elementClass uint8

const (
	classSmi elementClass = iota
	classDouble
	classGeneric
)

func (k ElementsKind) IsFast() bool { return k < DictionaryElements }

func (k ElementsKind) IsHoley() bool {
	switch k {
	case HoleySmiElements, HoleyDoubleElements, HoleyElements:
		return true
	}
	return false
}

func (k ElementsKind) IsDouble() bool {
	return k == PackedDoubleElements || k == HoleyDoubleElements
}

func (k ElementsKind) class() elementClass {
	switch k {
	case PackedSmiElements, HoleySmiElements:
		return classSmi
	case PackedDoubleElements, HoleyDoubleElements:
		return classDouble
	case PackedElements, HoleyElements:
		return classGeneric
	default:
		panic(fmt.Sprintf("no element class for %s", k))
	}
}

// Holey returns the holey variant of a fast kind.
func (k ElementsKind) Holey() ElementsKind {
	switch k {
	case PackedSmiElements:
		return HoleySmiElements
	case PackedDoubleElements:
		return HoleyDoubleElements
	case PackedElements:
		return HoleyElements
	}
	return k
}

func kindFor(c elementClass, holey bool) ElementsKind {
	var k ElementsKind
	switch c {
	case classSmi:
		k = PackedSmiElements
	case classDouble:
		k = PackedDoubleElements
	default:
		k = PackedElements
	}
	if holey {
		return k.Holey()
	}
	return k
}

func classOf(v Value) elementClass {
	switch v.Type() {
	case TypeIntegerNumber:
		return classSmi
	case TypeFloatNumber:
		return classDouble
	default:
		return classGeneric
	}
}

// IsMoreGeneralElementsKindTransition reports whether from -> to only ever
// widens: the value class may not shrink and holey may not become packed.
// Every fast kind may move to DictionaryElements.
func IsMoreGeneralElementsKindTransition(from, to ElementsKind) bool {
	if from == to || from == DictionaryElements {
		return false
	}
	if to == DictionaryElements {
		return true
	}
	if from.IsHoley() && !to.IsHoley() {
		return false
	}
	return to.class() >= from.class()
}

// generalizeFor returns the least general kind at least as general as cur
// that can store v, holey if a hole is being created.
func generalizeFor(cur ElementsKind, v Value, createsHole bool) ElementsKind {
	c := cur.class()
	if vc := classOf(v); vc > c {
		c = vc
	}
	return kindFor(c, cur.IsHoley() || createsHole)
}

func nextInSequence(k ElementsKind) ElementsKind {
	for i, s := range elementsKindSequence {
		if s == k && i+1 < len(elementsKindSequence) {
			return elementsKindSequence[i+1]
		}
	}
	panic(fmt.Sprintf("%s has no successor", k))
}

func sequenceIndex(k ElementsKind) int {
	for i, s := range elementsKindSequence {
		if s == k {
			return i
		}
	}
	return -1
}
