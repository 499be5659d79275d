package driver

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nooga/hiddenclass/pkg/config"
	"github.com/nooga/hiddenclass/pkg/errors"
	"github.com/nooga/hiddenclass/pkg/vm"
)

func newTestSession(t *testing.T) (*Session, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return NewSession(config.Default(), nil, &out), &out
}

func run(t *testing.T, s *Session, source string) {
	t.Helper()
	errs := s.RunString(source)
	require.Empty(t, errs, "script failed: %v", errs)
}

func TestLexLine(t *testing.T) {
	stmts, err := lexLine(`set o "a b" "x\"y" 1; show o # trailing`, 4, "")
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	require.Equal(t, 4, stmts[0].line)

	toks := stmts[0].tokens
	require.Len(t, toks, 5)
	require.Equal(t, "a b", toks[2].text)
	require.True(t, toks[2].quoted)
	require.Equal(t, 7, toks[2].column)
	require.Equal(t, `x"y`, toks[3].text)
	require.Equal(t, []string{"show", "o"}, []string{stmts[1].tokens[0].text, stmts[1].tokens[1].text})

	stmts, err = lexLine("   # only a comment", 1, "")
	require.NoError(t, err)
	require.Empty(t, stmts)

	_, err = lexLine(`set o x "open`, 2, "f.shapes")
	var se *errors.ScriptError
	require.ErrorAs(t, err, &se)
	require.Equal(t, errors.Position{Line: 2, Column: 9, File: "f.shapes"}, se.Position)
}

func TestSession_ShapeSharing(t *testing.T) {
	s, out := newTestSession(t)
	run(t, s, `
new a; new b
set a x 1; set b x 2
same a b
set b y 3
same a b
keys b
get b y
get b nope
`)
	require.Equal(t, "true\nfalse\nx y\n3\n<absent>\n", out.String())
}

func TestSession_Elements(t *testing.T) {
	s, out := newTestSession(t)
	run(t, s, `
new arr array
elem arr 0 5
elem arr 1 5.5
show arr
elem arr 1000000 true
show arr
`)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, "Array#1(2) { 0: 5.0, 1: 5.5 } [fast properties, PACKED_DOUBLE]", lines[0])
	require.True(t, strings.HasSuffix(lines[1], "[fast properties, DICTIONARY slow]"), lines[1])
}

func TestSession_ValuesAndKeys(t *testing.T) {
	s, out := newTestSession(t)
	run(t, s, `
new o
new p
set o "not ident" null
set o @tag &p
set o n -7
const o k 2.5
accessor o acc "g" undefined
define o ro 1 e
expect o n -7
expect o k 2.5
keys o
get o acc
json o
`)
	require.Equal(t, `not ident n k acc ro Symbol(tag)
[accessor get="g" set=undefined]
{"not ident":null,"n":-7,"k":2.5,"ro":1}
`, out.String())
	o, ok := s.Object("o")
	require.True(t, ok)
	require.True(t, o.IsDictionaryMode())
}

func TestSession_ErrorsCarryPosition(t *testing.T) {
	s, _ := newTestSession(t)
	source := "new o\nfreeze o\nset o x 1\nset o y 2\n"
	errs := s.RunString(source)
	require.Len(t, errs, 1)

	var se *errors.ScriptError
	require.ErrorAs(t, errs[0], &se)
	require.Equal(t, 3, se.Line)
	require.Equal(t, 1, se.Column)
	require.True(t, errors.IsProperty(errs[0], errors.NotExtensible))

	var display bytes.Buffer
	s.SetErrorOutput(&display)
	require.False(t, s.DisplayResult(source, errs))
	require.Contains(t, display.String(), "Script Error at 3:1")
	require.Contains(t, display.String(), "  set o x 1\n  ^\n")
}

func TestSession_BadInput(t *testing.T) {
	for source, msg := range map[string]string{
		"frobnicate":              `unknown command "frobnicate"`,
		"set nope x 1":            `unknown object "nope"`,
		"new o; new o":            `object "o" already exists`,
		"new o; set o x ?":        `bad value "?"`,
		"new o; define o x 1 wxz": `bad attributes "wxz"`,
		"set o":                   "usage: set OBJ KEY VALUE",
		"new o; expect o x 1":     "expected 1, property is absent",
	} {
		t.Run(source, func(t *testing.T) {
			s, _ := newTestSession(t)
			errs := s.RunString(source)
			require.Len(t, errs, 1)
			require.Contains(t, errs[0].Message(), msg)
		})
	}
}

func TestSession_NormalizeAndPrune(t *testing.T) {
	s, out := newTestSession(t)
	run(t, s, `
new o
set o x 1; set o y 2
del o y
show o
prune
`)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, "Object#1 { x: 1 } [dictionary properties, PACKED_SMI]", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "pruned 2 shapes"), lines[1])

	// One delete since normalization pays for fast-ification of one property.
	out.Reset()
	run(t, s, "maybefast o; shape o")
	lines = strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, "true", lines[0])
	require.Contains(t, lines[1], "back=#none PACKED_SMI own=1 fields=1/4")
}

func TestSession_RootsAndGraph(t *testing.T) {
	s, out := newTestSession(t)
	run(t, s, `
root small 1
new o small
set o a 1; set o b 2
shape o
graph
`)
	require.Contains(t, out.String(), "own=2 fields=2/1 transitions=0")
	require.Contains(t, out.String(), "+a field wec -> ")
}

func TestSession_RunFile(t *testing.T) {
	s, out := newTestSession(t)
	path := filepath.Join(t.TempDir(), "demo.shapes")
	require.NoError(t, os.WriteFile(path, []byte("new o\nset o x 1\nseal o\ndel o x\n"), 0o644))
	source, errs := s.RunFile(path)
	require.Contains(t, source, "seal o")
	require.Len(t, errs, 1)
	var se *errors.ScriptError
	require.ErrorAs(t, errs[0], &se)
	require.Equal(t, path, se.File)
	require.Equal(t, 4, se.Line)
	require.True(t, errors.IsProperty(errs[0], errors.NotConfigurable))
	require.Empty(t, out.String())

	_, errs = s.RunFile(filepath.Join(t.TempDir(), "missing.shapes"))
	require.Len(t, errs, 1)
}

func TestSession_Help(t *testing.T) {
	s, out := newTestSession(t)
	run(t, s, "help; stats")
	require.Contains(t, out.String(), "  accessor OBJ KEY GETTER SETTER [ATTRS]")
	require.Contains(t, out.String(), "shapes: 2 live")
}

func TestSession_InlineCacheSites(t *testing.T) {
	s, out := newTestSession(t)
	run(t, s, `
new a; new b; new c
store init a x 1
store init b x 2
set c w 0; set c x 3
load read a x
load read b x
load read c x
load read a nope
ics
`)
	require.Equal(t, `1
2
3
<absent>
load read.nope UNINITIALIZED(0) hits=0 misses=1
load read.x POLYMORPHIC(2) hits=1 misses=2
store init.x MONOMORPHIC(1) hits=1 misses=1
`, out.String())
}

func TestSession_LongLines(t *testing.T) {
	s, _ := newTestSession(t)
	long := strings.Repeat("x", 70_000)
	errs := s.RunString("new o\nset o a \"" + long + "\"\nexpect o a 1\n")
	require.Len(t, errs, 1)
	var se *errors.ScriptError
	require.ErrorAs(t, errs[0], &se)
	require.Equal(t, 3, se.Line)
	o, _ := s.Object("o")
	v, ok := o.Get("a")
	require.True(t, ok)
	require.Equal(t, long, v.AsString())

	errs = s.RunString("set o b 1\nset o c \"" + strings.Repeat("y", maxLineLength) + "\"\nset o d 1\n")
	require.Len(t, errs, 1)
	require.ErrorAs(t, errs[0], &se)
	require.Equal(t, 2, se.Line)
	require.Equal(t, "cannot read script", se.Message())
	require.ErrorIs(t, errs[0], bufio.ErrTooLong)
	require.False(t, o.HasOwn(vm.NewStringKey("d")))
}
