package vm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type KeyKind uint8

const (
	KeyKindString KeyKind = iota
	KeyKindSymbol
)

// Symbol is a unique property key. Identity comes from the isolate that
// created it, so symbols of different isolates never collide.
type Symbol struct {
	id          uint64
	description string
}

func (s *Symbol) ID() uint64 { return s.id }

func (s *Symbol) Description() string { return s.description }

func (s *Symbol) String() string { return fmt.Sprintf("Symbol(%s)", s.description) }

// PropertyKey represents a property key which can be a string or a symbol.
// It is comparable and can be used directly as a map or hash-table key.
type PropertyKey struct {
	kind KeyKind
	name string  // for string keys
	sym  *Symbol // for symbol keys
}

// NewStringKey constructs a PropertyKey for string-named properties.
func NewStringKey(name string) PropertyKey { return PropertyKey{kind: KeyKindString, name: name} }

// NewSymbolKey constructs a PropertyKey for symbol-named properties.
func NewSymbolKey(sym *Symbol) PropertyKey { return PropertyKey{kind: KeyKindSymbol, sym: sym} }

func (k PropertyKey) Kind() KeyKind   { return k.kind }
func (k PropertyKey) IsString() bool  { return k.kind == KeyKindString }
func (k PropertyKey) IsSymbol() bool  { return k.kind == KeyKindSymbol }
func (k PropertyKey) Name() string    { return k.name }
func (k PropertyKey) Symbol() *Symbol { return k.sym }

func (k PropertyKey) String() string {
	switch k.kind {
	case KeyKindString:
		return k.name
	case KeyKindSymbol:
		return k.sym.String()
	default:
		return "<unknown-key>"
	}
}

// Value returns the key as an engine value.
func (k PropertyKey) Value() Value {
	if k.kind == KeyKindSymbol {
		return NewValueFromSymbol(k.sym)
	}
	return NewString(k.name)
}

// compareKeys orders string keys before symbol keys; strings compare
// lexicographically and symbols by creation order.
func compareKeys(a, b PropertyKey) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	if a.kind == KeyKindString {
		return strings.Compare(a.name, b.name)
	}
	switch {
	case a.sym.id < b.sym.id:
		return -1
	case a.sym.id > b.sym.id:
		return 1
	}
	return 0
}

// isCacheable reports whether a key may live in a fast-mode descriptor
// table. Symbols always can; strings must be identifier-shaped.
func (k PropertyKey) isCacheable() bool {
	if k.kind == KeyKindSymbol {
		return true
	}
	return isIdentifierName(k.name)
}

func isIdentifierName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '$' || r == '_':
		case unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r) || unicode.Is(unicode.Pc, r)):
		default:
			return false
		}
	}
	return true
}

// maxArrayIndex is the largest valid array index, 2^32 - 2.
const maxArrayIndex = 4294967294

// tryParseArrayIndex checks if a string represents a valid array index.
// Returns (index, true) if valid, (0, false) otherwise.
// Valid array indices are non-negative integers in range [0, 2^32-1) without leading zeros.
func tryParseArrayIndex(key string) (uint32, bool) {
	if key == "" || len(key) > 10 {
		return 0, false
	}
	// Leading zeros not allowed (except "0" itself)
	if len(key) > 1 && key[0] == '0' {
		return 0, false
	}
	var idx uint64
	for i := 0; i < len(key); i++ {
		ch := key[i]
		if ch < '0' || ch > '9' {
			return 0, false
		}
		idx = idx*10 + uint64(ch-'0')
	}
	if idx > maxArrayIndex {
		return 0, false
	}
	return uint32(idx), true
}

func indexKey(index uint32) PropertyKey {
	return NewStringKey(strconv.FormatUint(uint64(index), 10))
}
