package vm

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MarshalJSON implements json.Marshaler interface for vm.Value
func (v Value) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	if err := writeJSON(&b, v, nil); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// MarshalJSON renders the enumerable string-keyed own properties of o in
// enumeration order. Arrays render their elements up to Length, holes as null.
// Accessor properties are skipped.
func (o *Object) MarshalJSON() ([]byte, error) {
	return NewValueFromObject(o).MarshalJSON()
}

func writeJSON(b *strings.Builder, v Value, seen map[*Object]bool) error {
	switch v.Type() {
	case TypeNull, TypeUndefined, TypeHole, TypeSymbol:
		b.WriteString("null") // JSON doesn't have undefined
	case TypeBoolean:
		b.WriteString(strconv.FormatBool(v.AsBoolean()))
	case TypeIntegerNumber:
		b.WriteString(strconv.FormatInt(int64(v.AsInteger()), 10))
	case TypeFloatNumber:
		num := v.AsFloat()
		if math.IsNaN(num) || math.IsInf(num, 0) {
			b.WriteString("null")
		} else if num == math.Trunc(num) && math.Abs(num) < 1e21 {
			b.WriteString(strconv.FormatFloat(num, 'f', -1, 64))
		} else {
			b.WriteString(strconv.FormatFloat(num, 'g', -1, 64))
		}
	case TypeString:
		// Use Go's json.Marshal for proper string escaping
		s, err := json.Marshal(v.AsString())
		if err != nil {
			return err
		}
		b.Write(s)
	case TypeObject:
		o := v.AsObject()
		if seen[o] {
			return fmt.Errorf("cyclic value at object #%d", o.id)
		}
		if seen == nil {
			seen = make(map[*Object]bool)
		}
		seen[o] = true
		defer delete(seen, o)
		if o.isArray {
			return writeArrayJSON(b, o, seen)
		}
		return writeObjectJSON(b, o, seen)
	default:
		return fmt.Errorf("cannot marshal %s", v.Type())
	}
	return nil
}

func writeArrayJSON(b *strings.Builder, o *Object, seen map[*Object]bool) error {
	b.WriteByte('[')
	for i := uint32(0); i < o.elements.length; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		elem, ok := o.GetElement(i)
		if !ok {
			elem = Null
		}
		if err := writeJSON(b, elem, seen); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

func writeObjectJSON(b *strings.Builder, o *Object, seen map[*Object]bool) error {
	b.WriteByte('{')
	first := true
	for _, e := range o.OwnEntries() {
		if !e.Key.IsString() || !e.Attributes.Enumerable() || e.Accessors != nil {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		// Marshal the key (always a string in JSON)
		key, err := json.Marshal(e.Key.Name())
		if err != nil {
			return err
		}
		b.Write(key)
		b.WriteByte(':')
		if err := writeJSON(b, e.Value, seen); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}
