package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nooga/hiddenclass/pkg/config"
	"github.com/nooga/hiddenclass/pkg/errors"
)

func TestManyProperties_NormalizeAfterCeiling(t *testing.T) {
	iso := newTestIsolate(t)
	o := mustObject(t, iso)
	var want []string
	for i := 0; i < 128; i++ {
		require.NoError(t, o.Set(propName(i), IntegerValue(int32(i))))
		require.False(t, o.IsDictionaryMode(), "property %d", i)
		want = append(want, propName(i))
	}
	require.NoError(t, o.Set(propName(128), IntegerValue(128)))
	want = append(want, propName(128))
	require.True(t, o.IsDictionaryMode())
	for i := 129; i < 200; i++ {
		require.NoError(t, o.Set(propName(i), IntegerValue(int32(i))))
		want = append(want, propName(i))
	}

	require.Equal(t, want, keyNames(o.OwnKeys()))
	require.Equal(t, want, o.EnumerableKeys())
	for i := 0; i < 200; i++ {
		v, ok := o.Get(propName(i))
		requireInt(t, int32(i), v, ok)
	}
}

func TestOverflowGrowth(t *testing.T) {
	iso := newTestIsolate(t)
	o := withProps(t, iso, "p0", "p1", "p2", "p3")
	require.Empty(t, o.props.overflow)

	require.NoError(t, o.Set("p4", IntegerValue(4)))
	require.Len(t, o.props.overflow, 3)
	for i := 5; i < 8; i++ {
		require.NoError(t, o.Set(propName(i), IntegerValue(int32(i))))
	}
	require.Len(t, o.props.overflow, 6)

	slot, ok := iso.SlotOf(o.Shape(), NewStringKey("p0"))
	require.True(t, ok)
	require.Equal(t, Slot{Index: 0, Class: InObject}, slot)
	slot, ok = iso.SlotOf(o.Shape(), NewStringKey("p6"))
	require.True(t, ok)
	require.Equal(t, Slot{Index: 2, Class: Overflow}, slot)

	r, ok := o.LocalLookup(NewStringKey("p7"))
	require.True(t, ok)
	require.Equal(t, Slot{Index: 3, Class: Overflow}, r.Slot)
	requireInt(t, 7, r.Value, ok)
}

func TestCustomRootShape(t *testing.T) {
	iso := newTestIsolate(t)
	root := iso.NewRootShape(1)
	o, err := iso.NewObjectFromRoot(root)
	require.NoError(t, err)
	require.NoError(t, o.Set("a", IntegerValue(1)))
	require.NoError(t, o.Set("b", IntegerValue(2)))

	slot, ok := iso.SlotOf(o.Shape(), NewStringKey("b"))
	require.True(t, ok)
	require.Equal(t, Overflow, slot.Class)

	p := withProps(t, iso, "a", "b")
	require.NotEqual(t, p.Shape(), o.Shape(), "different trees never share shapes")
	require.Panics(t, func() { _, _ = iso.NewObjectFromRoot(o.Shape()) })
}

func TestNormalization_RoundTrip(t *testing.T) {
	iso := newTestIsolate(t)
	sym := iso.NewSymbol("s")
	getter := NewString("getter")

	o := mustObject(t, iso)
	require.NoError(t, o.Set("a", IntegerValue(1)))
	require.NoError(t, o.Set("b", NewString("two")))
	require.NoError(t, o.DefineOwnProperty(NewStringKey("hidden"), IntegerValue(3), Writable))
	require.NoError(t, o.DefineAccessor(NewStringKey("acc"), getter, Undefined, Enumerable|Configurable))
	require.NoError(t, o.DefineConstant(NewStringKey("k"), IntegerValue(42), DefaultAttributes))
	require.NoError(t, o.SetKey(NewSymbolKey(sym), True))
	require.NoError(t, o.Set("c", NumberValue(1.5)))
	require.NoError(t, o.SetElement(0, IntegerValue(9)))
	before := o.OwnEntries()
	require.Equal(t, []string{"0", "a", "b", "hidden", "acc", "k", "c", "Symbol(s)"}, keyNames(o.OwnKeys()))

	require.NoError(t, o.NormalizeProperties())
	require.True(t, o.IsDictionaryMode())
	requireSameEntries(t, before, o.OwnEntries())

	require.NoError(t, o.TransformToFastProperties())
	require.False(t, o.IsDictionaryMode())
	requireSameEntries(t, before, o.OwnEntries())

	info, _ := iso.Info(o.Shape())
	require.Equal(t, NoShape, info.BackPointer, "fast-ified shapes are not in the tree")
	require.Equal(t, 6, info.UsedFields)

	require.NoError(t, o.Set("d", IntegerValue(4)))
	v, ok := o.Get("d")
	requireInt(t, 4, v, ok)
}

func TestNormalizedShapesAreShared(t *testing.T) {
	iso := newTestIsolate(t)
	a := withProps(t, iso, "x")
	b := withProps(t, iso, "y", "z")
	require.NoError(t, a.NormalizeProperties())
	require.NoError(t, b.NormalizeProperties())
	require.Equal(t, a.Shape(), b.Shape())

	info, _ := iso.Info(a.Shape())
	require.True(t, info.Dictionary)
	require.True(t, info.Shared)
	require.Equal(t, 0, info.OwnDescriptors)

	hits, misses := iso.NormalizedCacheStats()
	require.Equal(t, uint64(1), hits)
	require.Equal(t, uint64(1), misses)

	c, err := iso.NewObjectFromRoot(iso.NewRootShape(0))
	require.NoError(t, err)
	require.NoError(t, c.NormalizeProperties())
	require.NotEqual(t, a.Shape(), c.Shape())
}

func TestNonIdentifierKeyNormalizes(t *testing.T) {
	iso := newTestIsolate(t)
	o := withProps(t, iso, "x")
	require.NoError(t, o.Set("not an identifier", IntegerValue(1)))
	require.True(t, o.IsDictionaryMode())

	ok, err := o.MaybeTransformToFast()
	require.NoError(t, err)
	require.False(t, ok)
	require.ErrorIs(t, o.TransformToFastProperties(), ErrNotFastifiable)
	require.True(t, o.IsDictionaryMode())
}

func TestIndexKeysGoToElements(t *testing.T) {
	iso := newTestIsolate(t)
	o := mustObject(t, iso)
	require.NoError(t, o.Set("3", IntegerValue(1)))
	require.NoError(t, o.Set("03", IntegerValue(2)))
	require.NoError(t, o.Set("4294967295", IntegerValue(3)))

	v, ok := o.GetElement(3)
	requireInt(t, 1, v, ok)
	require.True(t, o.IsDictionaryMode(), "non-index numeric strings are named properties")
	require.Equal(t, []string{"3", "03", "4294967295"}, keyNames(o.OwnKeys()))

	r, ok := o.LocalLookup(NewStringKey("3"))
	require.True(t, ok)
	require.True(t, r.Element)
	require.NoError(t, o.Delete("3"))
	require.False(t, o.HasOwn(NewStringKey("3")))
}

func TestDelete_NormalizesFirst(t *testing.T) {
	iso := newTestIsolate(t)
	o := withProps(t, iso, "x", "y", "z")
	require.NoError(t, o.Delete("missing"))
	require.False(t, o.IsDictionaryMode())

	require.NoError(t, o.Delete("y"))
	require.True(t, o.IsDictionaryMode())
	require.Equal(t, []string{"x", "z"}, keyNames(o.OwnKeys()))
	_, ok := o.Get("y")
	require.False(t, ok)

	p := mustObject(t, iso)
	require.NoError(t, p.DefineOwnProperty(NewStringKey("k"), IntegerValue(1), Writable|Enumerable))
	err := p.Delete("k")
	require.True(t, errors.IsProperty(err, errors.NotConfigurable))
	require.False(t, p.IsDictionaryMode())
}

func TestDictionary_RenumbersEnumerationIndices(t *testing.T) {
	iso := newTestIsolate(t)
	o := withProps(t, iso, "p0", "p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8", "p9")
	require.NoError(t, o.NormalizeProperties())
	for i := 0; i < 5; i++ {
		require.NoError(t, o.Delete(propName(i)))
	}
	require.Equal(t, 5, o.props.dict.holes)

	require.NoError(t, o.Delete("p5"))
	require.Equal(t, 0, o.props.dict.holes)
	for i, name := range []string{"p6", "p7", "p8", "p9"} {
		e, ok := o.props.dict.find(NewStringKey(name))
		require.True(t, ok)
		require.Equal(t, i+1, e.enumIndex)
	}

	require.NoError(t, o.Set("late", IntegerValue(1)))
	e, _ := o.props.dict.find(NewStringKey("late"))
	require.Equal(t, 5, e.enumIndex)
	require.Equal(t, []string{"p6", "p7", "p8", "p9", "late"}, keyNames(o.OwnKeys()))
}

func TestDictionary_MaxEnumIndexForcesRenumbering(t *testing.T) {
	iso := newTestIsolate(t, func(c *config.Config) { c.Properties.MaxEnumIndex = 4 })
	o := withProps(t, iso, "a", "b", "c")
	require.NoError(t, o.NormalizeProperties())
	require.NoError(t, o.Set("d", IntegerValue(3)))
	require.NoError(t, o.Delete("a"))
	require.NoError(t, o.Set("e", IntegerValue(4)))

	e, _ := o.props.dict.find(NewStringKey("e"))
	require.Equal(t, 4, e.enumIndex)
	require.Equal(t, []string{"b", "c", "d", "e"}, keyNames(o.OwnKeys()))
}

func TestMaybeTransformToFast_Amortized(t *testing.T) {
	iso := newTestIsolate(t)
	o := withProps(t, iso, "x", "y")
	require.NoError(t, o.NormalizeProperties())

	ok, err := o.MaybeTransformToFast()
	require.NoError(t, err)
	require.False(t, ok, "no mutations since normalization")

	require.NoError(t, o.Set("tmp", IntegerValue(0)))
	require.NoError(t, o.Delete("tmp"))
	ok, err = o.MaybeTransformToFast()
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, o.IsDictionaryMode())
	require.Equal(t, []string{"x", "y"}, keyNames(o.OwnKeys()))

	ok, err = o.MaybeTransformToFast()
	require.NoError(t, err)
	require.False(t, ok, "already fast")
}

func TestConstantProperties(t *testing.T) {
	iso := newTestIsolate(t)
	f := NewStringKey("f")
	a, b, c := mustObject(t, iso), mustObject(t, iso), mustObject(t, iso)
	require.NoError(t, a.DefineConstant(f, IntegerValue(1), DefaultAttributes))
	require.NoError(t, b.DefineConstant(f, IntegerValue(1), DefaultAttributes))
	require.Equal(t, a.Shape(), b.Shape())

	require.NoError(t, c.DefineConstant(f, IntegerValue(2), DefaultAttributes))
	require.NotEqual(t, a.Shape(), c.Shape())
	r, _ := c.LocalLookup(f)
	require.Equal(t, DescriptorField, r.Type, "a conflicting constant is stored as a field")
	requireInt(t, 2, r.Value, true)

	shared := a.Shape()
	require.NoError(t, a.SetKey(f, IntegerValue(1)))
	require.Equal(t, shared, a.Shape(), "writing the same value keeps the constant")

	require.NoError(t, a.SetKey(f, IntegerValue(5)))
	require.NotEqual(t, shared, a.Shape())
	r, _ = a.LocalLookup(f)
	require.Equal(t, DescriptorField, r.Type)
	requireInt(t, 5, r.Value, true)

	r, _ = b.LocalLookup(f)
	require.Equal(t, DescriptorConstant, r.Type)
	requireInt(t, 1, r.Value, true)
}

func TestAccessorProperties(t *testing.T) {
	iso := newTestIsolate(t)
	k := NewStringKey("acc")
	getter, other := NewString("get"), NewString("other")
	attrs := Enumerable | Configurable

	o := mustObject(t, iso)
	require.NoError(t, o.DefineAccessor(k, getter, Undefined, attrs))
	r, ok := o.LocalLookup(k)
	require.True(t, ok)
	require.Equal(t, DescriptorAccessor, r.Type)
	require.True(t, r.Accessors.Getter.Is(getter))
	require.Equal(t, attrs, r.Attributes)

	err := o.SetKey(k, IntegerValue(1))
	require.True(t, errors.IsProperty(err, errors.Accessor))
	v, ok := o.GetKey(k)
	require.True(t, ok)
	require.True(t, v.IsUndefined())

	p := mustObject(t, iso)
	require.NoError(t, p.DefineAccessor(k, getter, Undefined, attrs))
	require.Equal(t, o.Shape(), p.Shape(), "equal pairs share the edge")

	q := mustObject(t, iso)
	require.NoError(t, q.DefineAccessor(k, other, Undefined, attrs))
	require.True(t, q.IsDictionaryMode(), "a different pair on an existing edge normalizes")
	r, _ = q.LocalLookup(k)
	require.True(t, r.Accessors.Getter.Is(other))

	require.NoError(t, o.DefineOwnProperty(k, IntegerValue(3), DefaultAttributes))
	v, ok = o.GetKey(k)
	requireInt(t, 3, v, ok)
	require.ErrorIs(t, o.DefineAccessor(NewStringKey("7"), getter, Undefined, attrs), ErrElementAccessor)
}

func TestDefineOwnProperty_NonConfigurableRules(t *testing.T) {
	for _, mode := range []string{"fast", "dictionary"} {
		t.Run(mode, func(t *testing.T) {
			iso := newTestIsolate(t)
			o := mustObject(t, iso)
			if mode == "dictionary" {
				require.NoError(t, o.NormalizeProperties())
			}
			k := NewStringKey("k")
			require.NoError(t, o.DefineOwnProperty(k, IntegerValue(1), NoAttributes))

			require.True(t, errors.IsProperty(o.SetKey(k, IntegerValue(2)), errors.ReadOnly))
			require.NoError(t, o.DefineOwnProperty(k, IntegerValue(1), NoAttributes))
			require.True(t, errors.IsProperty(o.DefineOwnProperty(k, IntegerValue(2), NoAttributes), errors.NotConfigurable))
			require.True(t, errors.IsProperty(o.DefineOwnProperty(k, IntegerValue(1), Writable), errors.NotConfigurable))
			require.True(t, errors.IsProperty(o.DefineOwnProperty(k, IntegerValue(1), Enumerable), errors.NotConfigurable))
			require.True(t, errors.IsProperty(o.DefineAccessor(k, Undefined, Undefined, NoAttributes), errors.NotConfigurable))
			require.True(t, errors.IsProperty(o.DeleteKey(k), errors.NotConfigurable))

			w := NewStringKey("w")
			require.NoError(t, o.DefineOwnProperty(w, IntegerValue(1), Writable))
			require.NoError(t, o.DefineOwnProperty(w, IntegerValue(2), Writable))
			require.NoError(t, o.DefineOwnProperty(w, IntegerValue(2), NoAttributes))
			require.True(t, errors.IsProperty(o.SetKey(w, IntegerValue(3)), errors.ReadOnly))
			v, ok := o.GetKey(w)
			requireInt(t, 2, v, ok)
		})
	}
}

func TestDefineOwnProperty_ReconfigureKeepsValue(t *testing.T) {
	iso := newTestIsolate(t)
	o := withProps(t, iso, "a", "b")
	shape := o.Shape()
	require.NoError(t, o.DefineOwnProperty(NewStringKey("a"), IntegerValue(0), Writable|Configurable))
	require.NotEqual(t, shape, o.Shape())
	require.False(t, o.IsDictionaryMode())
	require.Equal(t, []string{"b"}, o.EnumerableKeys())

	slotBefore, _ := iso.SlotOf(shape, NewStringKey("a"))
	slotAfter, _ := iso.SlotOf(o.Shape(), NewStringKey("a"))
	require.Equal(t, slotBefore, slotAfter, "a field keeps its slot")

	v, ok := o.Get("b")
	requireInt(t, 1, v, ok)
}

func TestDictionaryMode_AttributeChecks(t *testing.T) {
	iso := newTestIsolate(t)
	o := withProps(t, iso, "x")
	require.NoError(t, o.NormalizeProperties())
	require.NoError(t, o.DefineOwnProperty(NewStringKey("ro"), IntegerValue(1), Configurable))
	require.True(t, errors.IsProperty(o.Set("ro", IntegerValue(2)), errors.ReadOnly))

	require.NoError(t, o.PreventExtensions())
	require.False(t, o.IsExtensible())
	require.NoError(t, o.Set("x", IntegerValue(5)))
	require.True(t, errors.IsProperty(o.Set("new", IntegerValue(1)), errors.NotExtensible))
}

func TestEnumerableKeys(t *testing.T) {
	iso := newTestIsolate(t)
	o := mustObject(t, iso)
	require.NoError(t, o.Set("a", IntegerValue(1)))
	require.NoError(t, o.DefineOwnProperty(NewStringKey("hidden"), IntegerValue(2), Writable|Configurable))
	require.NoError(t, o.SetKey(NewSymbolKey(iso.NewSymbol("s")), IntegerValue(3)))
	require.NoError(t, o.Set("b", IntegerValue(4)))
	require.NoError(t, o.SetElement(0, IntegerValue(5)))

	require.Equal(t, []string{"0", "a", "b"}, o.EnumerableKeys())
	require.NoError(t, o.NormalizeProperties())
	require.Equal(t, []string{"0", "a", "b"}, o.EnumerableKeys())
}
