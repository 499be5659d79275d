package vm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nooga/hiddenclass/pkg/config"
)

func newTestIsolate(t *testing.T, tune ...func(*config.Config)) *Isolate {
	t.Helper()
	cfg := config.Default()
	for _, f := range tune {
		f(cfg)
	}
	require.NoError(t, cfg.Validate())
	return NewIsolate(cfg)
}

func mustObject(t *testing.T, iso *Isolate) *Object {
	t.Helper()
	o, err := iso.NewObject()
	require.NoError(t, err)
	return o
}

func mustArray(t *testing.T, iso *Isolate) *Object {
	t.Helper()
	a, err := iso.NewArray()
	require.NoError(t, err)
	return a
}

// withProps creates an object and assigns names in order, each to its position.
func withProps(t *testing.T, iso *Isolate, names ...string) *Object {
	t.Helper()
	o := mustObject(t, iso)
	for i, name := range names {
		require.NoError(t, o.Set(name, IntegerValue(int32(i))))
	}
	return o
}

func requireInt(t *testing.T, want int32, v Value, ok bool) {
	t.Helper()
	require.True(t, ok, "value missing")
	require.True(t, v.IsIntegerNumber(), "expected integer, got %s", v.Inspect())
	require.Equal(t, want, v.AsInteger())
}

// requireSameEntries compares the observable own properties of two snapshots.
func requireSameEntries(t *testing.T, want, got []PropertyEntry) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		w, g := want[i], got[i]
		require.Equal(t, w.Key, g.Key, "key %d", i)
		require.Equal(t, w.Attributes, g.Attributes, "attributes of %s", w.Key)
		require.Same(t, w.Accessors, g.Accessors, "accessors of %s", w.Key)
		require.True(t, w.Value.Is(g.Value), "value of %s: want %s, got %s", w.Key, w.Value.Inspect(), g.Value.Inspect())
	}
}

func keyNames(keys []PropertyKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func propName(i int) string { return fmt.Sprintf("p%d", i) }
