package vm

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nooga/hiddenclass/pkg/errors"
)

func TestElements_SmiToDouble(t *testing.T) {
	iso := newTestIsolate(t)
	a := mustArray(t, iso)
	require.Equal(t, PackedSmiElements, a.ElementsKind())

	require.NoError(t, a.SetElement(0, IntegerValue(5)))
	require.Equal(t, PackedSmiElements, a.ElementsKind())
	require.NoError(t, a.SetElement(1, NumberValue(5.5)))
	require.Equal(t, PackedDoubleElements, a.ElementsKind())

	v, ok := a.GetElement(0)
	require.True(t, ok)
	require.True(t, v.IsFloatNumber())
	require.Equal(t, 5.0, v.AsFloat())
	v, _ = a.GetElement(1)
	require.Equal(t, 5.5, v.AsFloat())
	require.Equal(t, uint32(2), a.Length())

	b := mustArray(t, iso)
	require.NoError(t, b.SetElement(0, IntegerValue(5)))
	require.NoError(t, b.SetElement(2, NumberValue(5.5)))
	require.Equal(t, HoleyDoubleElements, b.ElementsKind())
	_, ok = b.GetElement(1)
	require.False(t, ok)
}

func TestElements_DoubleToGeneric(t *testing.T) {
	iso := newTestIsolate(t)
	a := mustArray(t, iso)
	require.NoError(t, a.SetElement(0, NumberValue(1.5)))
	require.NoError(t, a.SetElement(1, NumberValue(math.NaN())))
	require.NoError(t, a.SetElement(2, NumberValue(2.5)))
	v, ok := a.GetElement(1)
	require.True(t, ok, "a stored NaN is not a hole")
	require.True(t, math.IsNaN(v.AsFloat()))

	require.NoError(t, a.SetElement(0, NewString("x")))
	require.Equal(t, PackedElements, a.ElementsKind())
	v, _ = a.GetElement(0)
	require.Equal(t, "x", v.AsString())
	v, _ = a.GetElement(2)
	require.Equal(t, 2.5, v.AsFloat())
}

func TestElements_HugeIndexRequiresSlow(t *testing.T) {
	iso := newTestIsolate(t)
	a := mustArray(t, iso)
	require.NoError(t, a.SetElement(1_000_000, True))
	require.Equal(t, DictionaryElements, a.ElementsKind())
	require.True(t, a.RequiresSlowElements())
	require.Equal(t, uint32(1_000_001), a.Length())

	for i := uint32(0); i < 2000; i++ {
		require.NoError(t, a.SetElement(i, IntegerValue(int32(i))))
	}
	require.Equal(t, DictionaryElements, a.ElementsKind())
	v, ok := a.GetElement(1999)
	requireInt(t, 1999, v, ok)
	v, ok = a.GetElement(1_000_000)
	require.True(t, ok)
	require.True(t, v.AsBoolean())
}

func TestElements_HugeIndexInDictionaryRequiresSlow(t *testing.T) {
	iso := newTestIsolate(t)
	a := mustArray(t, iso)
	require.NoError(t, a.SetElement(5000, IntegerValue(1)))
	require.Equal(t, DictionaryElements, a.ElementsKind())
	require.False(t, a.RequiresSlowElements())

	require.NoError(t, a.SetElement(1_000_000, IntegerValue(2)))
	require.True(t, a.RequiresSlowElements())
	for i := uint32(0); i < 120_000; i++ {
		require.NoError(t, a.SetElement(i, IntegerValue(int32(i))))
	}
	require.Equal(t, DictionaryElements, a.ElementsKind())
	require.Equal(t, uint32(1_000_001), a.Length())

	b := mustArray(t, iso)
	require.NoError(t, b.SetElement(0, IntegerValue(0)))
	require.NoError(t, b.NormalizeElements())
	require.False(t, b.RequiresSlowElements())
	require.NoError(t, b.DefineElement(1<<18, IntegerValue(1), Writable|Enumerable))
	require.True(t, b.RequiresSlowElements())
}

func TestElements_SparseThenDenseReturnsToFast(t *testing.T) {
	iso := newTestIsolate(t)
	a := mustArray(t, iso)
	for i := uint32(0); i < 10; i++ {
		require.NoError(t, a.SetElement(i, IntegerValue(int32(i))))
	}
	require.Equal(t, PackedSmiElements, a.ElementsKind())

	require.NoError(t, a.SetElement(2000, IntegerValue(2000)))
	require.Equal(t, DictionaryElements, a.ElementsKind())
	require.False(t, a.RequiresSlowElements())

	for i := uint32(10); i < 2000; i++ {
		require.NoError(t, a.SetElement(i, IntegerValue(int32(i))))
	}
	require.True(t, a.ElementsKind().IsFast())
	require.Equal(t, HoleySmiElements, a.ElementsKind())
	require.Equal(t, uint32(2001), a.Length())
	for i := uint32(0); i <= 2000; i++ {
		v, ok := a.GetElement(i)
		requireInt(t, int32(i), v, ok)
	}
}

func TestElements_KindOnlyGeneralizes(t *testing.T) {
	iso := newTestIsolate(t)
	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 20; round++ {
		a := mustArray(t, iso)
		prev := a.ElementsKind()
		want := map[uint32]Value{}
		for step := 0; step < 60; step++ {
			index := uint32(rng.IntN(64))
			var v Value
			switch rng.IntN(10) {
			case 0:
				v = NewString("s")
			case 1, 2:
				v = NumberValue(float64(rng.IntN(100)) + 0.5)
			default:
				v = IntegerValue(int32(rng.IntN(100)))
			}
			require.NoError(t, a.SetElement(index, v))
			want[index] = v

			cur := a.ElementsKind()
			require.True(t, cur == prev || IsMoreGeneralElementsKindTransition(prev, cur),
				"round %d step %d: %s -> %s", round, step, prev, cur)
			prev = cur
		}
		for index, v := range want {
			got, ok := a.GetElement(index)
			require.True(t, ok)
			require.True(t, got.Is(v) || (v.IsNumber() && got.IsNumber() && got.ToFloat() == v.ToFloat()),
				"index %d: want %s got %s", index, v.Inspect(), got.Inspect())
		}
	}
}

func TestElements_DeleteMakesHoley(t *testing.T) {
	iso := newTestIsolate(t)
	a := mustArray(t, iso)
	for i := uint32(0); i < 3; i++ {
		require.NoError(t, a.SetElement(i, IntegerValue(int32(i))))
	}
	require.NoError(t, a.DeleteElement(1))
	require.Equal(t, HoleySmiElements, a.ElementsKind())
	_, ok := a.GetElement(1)
	require.False(t, ok)
	require.Equal(t, uint32(3), a.Length())
	require.Equal(t, []string{"0", "2"}, keyNames(a.OwnKeys()))

	require.NoError(t, a.SetElement(1, IntegerValue(1)))
	require.Equal(t, HoleySmiElements, a.ElementsKind(), "holey never goes back to packed")
}

func TestElements_SetLength(t *testing.T) {
	iso := newTestIsolate(t)
	a := mustArray(t, iso)
	for i := uint32(0); i < 5; i++ {
		require.NoError(t, a.SetElement(i, IntegerValue(int32(i))))
	}
	require.NoError(t, a.SetLength(2))
	require.Equal(t, uint32(2), a.Length())
	_, ok := a.GetElement(3)
	require.False(t, ok)
	require.Equal(t, PackedSmiElements, a.ElementsKind())

	require.NoError(t, a.SetLength(10))
	require.Equal(t, HoleySmiElements, a.ElementsKind())
	require.Equal(t, []string{"0", "1"}, keyNames(a.OwnKeys()))
}

func TestElements_NonDefaultAttributesStayInDictionary(t *testing.T) {
	iso := newTestIsolate(t)
	a := mustArray(t, iso)
	require.NoError(t, a.SetElement(0, IntegerValue(1)))
	require.NoError(t, a.DefineElement(1, IntegerValue(2), Enumerable|Configurable))
	require.Equal(t, DictionaryElements, a.ElementsKind())
	require.True(t, errors.IsProperty(a.SetElement(1, IntegerValue(3)), errors.ReadOnly))

	for i := uint32(2); i < 8; i++ {
		require.NoError(t, a.SetElement(i, IntegerValue(int32(i))))
	}
	require.Equal(t, DictionaryElements, a.ElementsKind())

	r, ok := a.LocalLookup(NewStringKey("1"))
	require.True(t, ok)
	require.True(t, r.Dictionary)
	require.Equal(t, Enumerable|Configurable, r.Attributes)
}

func TestElements_DefineOnNonExtensibleKeepsFastElements(t *testing.T) {
	iso := newTestIsolate(t)
	a := mustArray(t, iso)
	require.NoError(t, a.SetElement(0, IntegerValue(1)))
	require.NoError(t, a.PreventExtensions())

	err := a.DefineElement(3, IntegerValue(2), Enumerable)
	require.True(t, errors.IsProperty(err, errors.NotExtensible))
	require.Equal(t, PackedSmiElements, a.ElementsKind())
	require.Equal(t, uint32(1), a.Length())

	require.NoError(t, a.DefineElement(0, IntegerValue(5), Enumerable|Configurable))
	require.Equal(t, DictionaryElements, a.ElementsKind())
}

func TestElements_NormalizeAndFastify(t *testing.T) {
	iso := newTestIsolate(t)
	a := mustArray(t, iso)
	require.NoError(t, a.SetElement(0, NumberValue(0.5)))
	require.NoError(t, a.SetElement(1, NumberValue(1.5)))
	require.NoError(t, a.NormalizeElements())
	require.Equal(t, DictionaryElements, a.ElementsKind())

	require.NoError(t, a.SetElement(2, NumberValue(2.5)))
	require.Equal(t, PackedDoubleElements, a.ElementsKind())
	v, ok := a.GetElement(2)
	require.True(t, ok)
	require.Equal(t, 2.5, v.AsFloat())

	info, _ := iso.Info(a.Shape())
	require.Equal(t, NoShape, info.BackPointer)
}

func TestFreeze(t *testing.T) {
	iso := newTestIsolate(t)
	a := mustArray(t, iso)
	require.NoError(t, a.SetElement(0, IntegerValue(1)))
	require.NoError(t, a.SetElement(1, IntegerValue(2)))
	require.NoError(t, a.Set("name", NewString("arr")))
	require.NoError(t, a.Freeze())

	require.True(t, a.TestIntegrityLevel(true))
	require.True(t, a.TestIntegrityLevel(false))
	require.True(t, a.RequiresSlowElements())
	require.True(t, a.IsDictionaryMode())
	require.False(t, a.IsExtensible())

	require.True(t, errors.IsProperty(a.SetElement(0, IntegerValue(9)), errors.ReadOnly))
	require.True(t, errors.IsProperty(a.SetElement(5, IntegerValue(9)), errors.NotExtensible))
	require.True(t, errors.IsProperty(a.Set("name", Null), errors.ReadOnly))
	require.True(t, errors.IsProperty(a.Set("other", Null), errors.NotExtensible))
	require.True(t, errors.IsProperty(a.SetLength(0), errors.ReadOnly))
	require.True(t, errors.IsProperty(a.DeleteElement(0), errors.NotConfigurable))

	v, ok := a.GetElement(1)
	requireInt(t, 2, v, ok)
}

func TestSeal(t *testing.T) {
	iso := newTestIsolate(t)
	o := withProps(t, iso, "x", "y")
	require.NoError(t, o.Seal())

	require.True(t, o.TestIntegrityLevel(false))
	require.False(t, o.TestIntegrityLevel(true))
	require.NoError(t, o.Set("x", IntegerValue(7)))
	v, ok := o.Get("x")
	requireInt(t, 7, v, ok)
	require.True(t, errors.IsProperty(o.Delete("y"), errors.NotConfigurable))
	require.True(t, errors.IsProperty(o.Set("z", Null), errors.NotExtensible))

	p := withProps(t, iso, "x")
	require.False(t, p.TestIntegrityLevel(false))
	require.NoError(t, p.PreventExtensions())
	require.False(t, p.TestIntegrityLevel(false), "x is still configurable")
}
