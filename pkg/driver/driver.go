package driver

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nooga/hiddenclass/pkg/config"
	"github.com/nooga/hiddenclass/pkg/errors"
	"github.com/nooga/hiddenclass/pkg/vm"
)

// Session runs shapes scripts against one isolate. Named objects, roots and
// symbols persist across calls, so a REPL can feed it a line at a time.
type Session struct {
	iso     *vm.Isolate
	out     io.Writer
	errOut  io.Writer
	logger  *zap.Logger
	file    string
	objects map[string]*vm.Object
	roots   map[string]vm.ShapeID
	symbols map[string]*vm.Symbol
	sites   *vm.ICSiteCache
}

// NewSession creates a session with a fresh isolate. Output of printing
// commands goes to out; a nil logger is replaced with a no-op one.
func NewSession(cfg *config.Config, logger *zap.Logger, out io.Writer) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		iso:     vm.NewIsolate(cfg, vm.WithLogger(logger.Named("isolate"))),
		out:     out,
		errOut:  os.Stderr,
		logger:  logger,
		objects: make(map[string]*vm.Object),
		roots:   make(map[string]vm.ShapeID),
		symbols: make(map[string]*vm.Symbol),
		sites:   vm.NewICSiteCache(),
	}
}

// SetErrorOutput redirects DisplayResult.
func (s *Session) SetErrorOutput(w io.Writer) { s.errOut = w }

// Isolate returns the session's isolate.
func (s *Session) Isolate() *vm.Isolate { return s.iso }

// Object returns a named object.
func (s *Session) Object(name string) (*vm.Object, bool) {
	o, ok := s.objects[name]
	return o, ok
}

// maxLineLength bounds a single script line.
const maxLineLength = 1 << 20

// RunString executes source and stops at the first failing statement.
func (s *Session) RunString(source string) []errors.ShapeError {
	scanner := bufio.NewScanner(strings.NewReader(source))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	lineNo := 1
	for ; scanner.Scan(); lineNo++ {
		stmts, err := lexLine(scanner.Text(), lineNo, s.file)
		if err != nil {
			return []errors.ShapeError{err.(*errors.ScriptError)}
		}
		for _, st := range stmts {
			if err := s.exec(st); err != nil {
				return []errors.ShapeError{err}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		se := &errors.ScriptError{Position: errors.Position{Line: lineNo, Column: 1, File: s.file}, Msg: "cannot read script"}
		return []errors.ShapeError{se.CausedBy(err)}
	}
	return nil
}

// RunFile reads and executes a script file.
func (s *Session) RunFile(path string) (string, []errors.ShapeError) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", []errors.ShapeError{(&errors.ScriptError{Position: errors.Position{File: path}, Msg: "cannot read script"}).CausedBy(err)}
	}
	s.file = path
	defer func() { s.file = "" }()
	source := string(data)
	return source, s.RunString(source)
}

// DisplayResult prints errs with their source lines and reports success.
func (s *Session) DisplayResult(source string, errs []errors.ShapeError) bool {
	if len(errs) > 0 {
		errors.DisplayErrors(s.errOut, source, errs)
		return false
	}
	return true
}

type command struct {
	usage   string
	minArgs int
	maxArgs int
	run     func(s *Session, args []token) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"root":       {"root NAME SLOTS", 2, 2, (*Session).cmdRoot},
		"new":        {"new NAME [array|ROOT]", 1, 2, (*Session).cmdNew},
		"set":        {"set OBJ KEY VALUE", 3, 3, (*Session).cmdSet},
		"define":     {"define OBJ KEY VALUE ATTRS", 4, 4, (*Session).cmdDefine},
		"const":      {"const OBJ KEY VALUE [ATTRS]", 3, 4, (*Session).cmdConst},
		"accessor":   {"accessor OBJ KEY GETTER SETTER [ATTRS]", 4, 5, (*Session).cmdAccessor},
		"get":        {"get OBJ KEY", 2, 2, (*Session).cmdGet},
		"expect":     {"expect OBJ KEY VALUE", 3, 3, (*Session).cmdExpect},
		"del":        {"del OBJ KEY", 2, 2, (*Session).cmdDel},
		"elem":       {"elem OBJ INDEX VALUE", 3, 3, (*Session).cmdElem},
		"delem":      {"delem OBJ INDEX", 2, 2, (*Session).cmdDelem},
		"length":     {"length OBJ N", 2, 2, (*Session).cmdLength},
		"keys":       {"keys OBJ", 1, 1, (*Session).cmdKeys},
		"normalize":  {"normalize OBJ", 1, 1, objectOp((*vm.Object).NormalizeProperties)},
		"fast":       {"fast OBJ", 1, 1, objectOp((*vm.Object).TransformToFastProperties)},
		"maybefast":  {"maybefast OBJ", 1, 1, (*Session).cmdMaybeFast},
		"freeze":     {"freeze OBJ", 1, 1, objectOp((*vm.Object).Freeze)},
		"seal":       {"seal OBJ", 1, 1, objectOp((*vm.Object).Seal)},
		"preventext": {"preventext OBJ", 1, 1, objectOp((*vm.Object).PreventExtensions)},
		"show":       {"show OBJ", 1, 1, (*Session).cmdShow},
		"json":       {"json OBJ", 1, 1, (*Session).cmdJSON},
		"shape":      {"shape OBJ", 1, 1, (*Session).cmdShape},
		"same":       {"same OBJ OBJ", 2, 2, (*Session).cmdSame},
		"load":       {"load SITE OBJ KEY", 3, 3, (*Session).cmdLoad},
		"store":      {"store SITE OBJ KEY VALUE", 4, 4, (*Session).cmdStore},
		"ics":        {"ics", 0, 0, (*Session).cmdICs},
		"graph":      {"graph", 0, 0, (*Session).cmdGraph},
		"prune":      {"prune", 0, 0, (*Session).cmdPrune},
		"stats":      {"stats", 0, 0, (*Session).cmdStats},
		"help":       {"help", 0, 0, (*Session).cmdHelp},
	}
}

func (s *Session) exec(st statement) *errors.ScriptError {
	name := st.tokens[0]
	cmd, ok := commands[name.text]
	if !ok {
		return s.errorAt(st.line, name, fmt.Sprintf("unknown command %q", name.text))
	}
	args := st.tokens[1:]
	if len(args) < cmd.minArgs || len(args) > cmd.maxArgs {
		return s.errorAt(st.line, name, "usage: "+cmd.usage)
	}
	err := cmd.run(s, args)
	if err == nil {
		return nil
	}
	if se, ok := err.(*errors.ScriptError); ok {
		se.Line = st.line
		se.File = s.file
		return se
	}
	s.logger.Debug("command failed", zap.String("command", name.text), zap.Error(err))
	return s.errorAt(st.line, name, name.text+" failed").CausedBy(err)
}

func (s *Session) errorAt(line int, t token, msg string) *errors.ScriptError {
	return &errors.ScriptError{Position: errors.Position{Line: line, Column: t.column, File: s.file}, Msg: msg}
}

// argError is completed with the line by exec.
func argError(t token, format string, args ...any) *errors.ScriptError {
	return &errors.ScriptError{Position: errors.Position{Column: t.column}, Msg: fmt.Sprintf(format, args...)}
}

func objectOp(op func(*vm.Object) error) func(*Session, []token) error {
	return func(s *Session, args []token) error {
		o, err := s.object(args[0])
		if err != nil {
			return err
		}
		return op(o)
	}
}

func (s *Session) object(t token) (*vm.Object, error) {
	o, ok := s.objects[t.text]
	if !ok {
		return nil, argError(t, "unknown object %q", t.text)
	}
	return o, nil
}

func (s *Session) symbol(name string) *vm.Symbol {
	sym, ok := s.symbols[name]
	if !ok {
		sym = s.iso.NewSymbol(name)
		s.symbols[name] = sym
	}
	return sym
}

// key parses a property key: @name is a symbol, anything else a string.
func (s *Session) key(t token) vm.PropertyKey {
	if !t.quoted && strings.HasPrefix(t.text, "@") && len(t.text) > 1 {
		return vm.NewSymbolKey(s.symbol(t.text[1:]))
	}
	return vm.NewStringKey(t.text)
}

// value parses a literal: numbers, true, false, null, undefined, "strings",
// &object references and @symbols.
func (s *Session) value(t token) (vm.Value, error) {
	if t.quoted {
		return vm.NewString(t.text), nil
	}
	switch t.text {
	case "true":
		return vm.True, nil
	case "false":
		return vm.False, nil
	case "null":
		return vm.Null, nil
	case "undefined":
		return vm.Undefined, nil
	case "NaN":
		return vm.NaN, nil
	}
	switch {
	case strings.HasPrefix(t.text, "&"):
		o, ok := s.objects[t.text[1:]]
		if !ok {
			return vm.Undefined, argError(t, "unknown object %q", t.text[1:])
		}
		return vm.NewValueFromObject(o), nil
	case strings.HasPrefix(t.text, "@") && len(t.text) > 1:
		return vm.NewValueFromSymbol(s.symbol(t.text[1:])), nil
	}
	if i, err := strconv.ParseInt(t.text, 10, 32); err == nil {
		return vm.IntegerValue(int32(i)), nil
	}
	if f, err := strconv.ParseFloat(t.text, 64); err == nil && !math.IsInf(f, 0) {
		return vm.NumberValue(f), nil
	}
	return vm.Undefined, argError(t, "bad value %q", t.text)
}

func (s *Session) attrs(t token) (vm.Attributes, error) {
	a, ok := vm.ParseAttributes(t.text)
	if !ok {
		return 0, argError(t, "bad attributes %q, want letters from \"wec\"", t.text)
	}
	return a, nil
}

func index(t token) (uint32, error) {
	i, err := strconv.ParseUint(t.text, 10, 32)
	if err != nil {
		return 0, argError(t, "bad index %q", t.text)
	}
	return uint32(i), nil
}

func (s *Session) define(t token, o *vm.Object) error {
	if _, exists := s.objects[t.text]; exists {
		return argError(t, "object %q already exists", t.text)
	}
	s.objects[t.text] = o
	return nil
}

func (s *Session) cmdRoot(args []token) error {
	slots, err := strconv.Atoi(args[1].text)
	if err != nil || slots < 0 {
		return argError(args[1], "bad slot count %q", args[1].text)
	}
	if _, exists := s.roots[args[0].text]; exists {
		return argError(args[0], "root %q already exists", args[0].text)
	}
	s.roots[args[0].text] = s.iso.NewRootShape(slots)
	return nil
}

func (s *Session) cmdNew(args []token) error {
	var (
		o   *vm.Object
		err error
	)
	switch {
	case len(args) == 1 || args[1].text == "object":
		o, err = s.iso.NewObject()
	case args[1].text == "array":
		o, err = s.iso.NewArray()
	default:
		root, ok := s.roots[args[1].text]
		if !ok {
			return argError(args[1], "unknown root %q", args[1].text)
		}
		o, err = s.iso.NewObjectFromRoot(root)
	}
	if err != nil {
		return err
	}
	return s.define(args[0], o)
}

func (s *Session) cmdSet(args []token) error {
	o, err := s.object(args[0])
	if err != nil {
		return err
	}
	v, err := s.value(args[2])
	if err != nil {
		return err
	}
	return o.SetKey(s.key(args[1]), v)
}

func (s *Session) cmdDefine(args []token) error {
	o, err := s.object(args[0])
	if err != nil {
		return err
	}
	v, err := s.value(args[2])
	if err != nil {
		return err
	}
	a, err := s.attrs(args[3])
	if err != nil {
		return err
	}
	return o.DefineOwnProperty(s.key(args[1]), v, a)
}

func (s *Session) cmdConst(args []token) error {
	o, err := s.object(args[0])
	if err != nil {
		return err
	}
	v, err := s.value(args[2])
	if err != nil {
		return err
	}
	a := vm.DefaultAttributes
	if len(args) == 4 {
		if a, err = s.attrs(args[3]); err != nil {
			return err
		}
	}
	return o.DefineConstant(s.key(args[1]), v, a)
}

func (s *Session) cmdAccessor(args []token) error {
	o, err := s.object(args[0])
	if err != nil {
		return err
	}
	getter, err := s.value(args[2])
	if err != nil {
		return err
	}
	setter, err := s.value(args[3])
	if err != nil {
		return err
	}
	a := vm.Enumerable | vm.Configurable
	if len(args) == 5 {
		if a, err = s.attrs(args[4]); err != nil {
			return err
		}
	}
	return o.DefineAccessor(s.key(args[1]), getter, setter, a)
}

func (s *Session) cmdGet(args []token) error {
	o, err := s.object(args[0])
	if err != nil {
		return err
	}
	r, ok := o.LocalLookup(s.key(args[1]))
	switch {
	case !ok:
		fmt.Fprintln(s.out, "<absent>")
	case r.Type == vm.DescriptorAccessor:
		fmt.Fprintf(s.out, "[accessor get=%s set=%s]\n", r.Accessors.Getter.Inspect(), r.Accessors.Setter.Inspect())
	default:
		fmt.Fprintln(s.out, r.Value.Inspect())
	}
	return nil
}

func (s *Session) cmdExpect(args []token) error {
	o, err := s.object(args[0])
	if err != nil {
		return err
	}
	want, err := s.value(args[2])
	if err != nil {
		return err
	}
	got, ok := o.GetKey(s.key(args[1]))
	if !ok {
		return argError(args[1], "expected %s, property is absent", want.Inspect())
	}
	if !got.Is(want) {
		return argError(args[2], "expected %s, got %s", want.Inspect(), got.Inspect())
	}
	return nil
}

func (s *Session) cmdDel(args []token) error {
	o, err := s.object(args[0])
	if err != nil {
		return err
	}
	return o.DeleteKey(s.key(args[1]))
}

func (s *Session) cmdElem(args []token) error {
	o, err := s.object(args[0])
	if err != nil {
		return err
	}
	i, err := index(args[1])
	if err != nil {
		return err
	}
	v, err := s.value(args[2])
	if err != nil {
		return err
	}
	return o.SetElement(i, v)
}

func (s *Session) cmdDelem(args []token) error {
	o, err := s.object(args[0])
	if err != nil {
		return err
	}
	i, err := index(args[1])
	if err != nil {
		return err
	}
	return o.DeleteElement(i)
}

func (s *Session) cmdLength(args []token) error {
	o, err := s.object(args[0])
	if err != nil {
		return err
	}
	n, err := index(args[1])
	if err != nil {
		return err
	}
	return o.SetLength(n)
}

func (s *Session) cmdKeys(args []token) error {
	o, err := s.object(args[0])
	if err != nil {
		return err
	}
	keys := o.OwnKeys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	fmt.Fprintln(s.out, strings.Join(names, " "))
	return nil
}

func (s *Session) cmdMaybeFast(args []token) error {
	o, err := s.object(args[0])
	if err != nil {
		return err
	}
	done, err := o.MaybeTransformToFast()
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, done)
	return nil
}

func (s *Session) cmdShow(args []token) error {
	o, err := s.object(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s [%s properties, %s", o.Inspect(), o.PropertyMode(), o.ElementsKind())
	if o.RequiresSlowElements() {
		fmt.Fprint(s.out, " slow")
	}
	fmt.Fprintln(s.out, "]")
	return nil
}

func (s *Session) cmdJSON(args []token) error {
	o, err := s.object(args[0])
	if err != nil {
		return err
	}
	data, err := o.MarshalJSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, string(data))
	return nil
}

func (s *Session) cmdShape(args []token) error {
	o, err := s.object(args[0])
	if err != nil {
		return err
	}
	info, _ := s.iso.Info(o.Shape())
	fmt.Fprintf(s.out, "%s root=%s back=%s %s", info.ID, info.Root, info.BackPointer, info.ElementsKind)
	if info.Dictionary {
		fmt.Fprint(s.out, " dictionary")
		if info.Shared {
			fmt.Fprint(s.out, " shared")
		}
	} else {
		fmt.Fprintf(s.out, " own=%d fields=%d/%d transitions=%d", info.OwnDescriptors, info.UsedFields, info.InObjectSlots, info.Transitions)
	}
	if !info.Extensible {
		fmt.Fprint(s.out, " non-extensible")
	}
	fmt.Fprintln(s.out)
	return nil
}

func (s *Session) cmdSame(args []token) error {
	a, err := s.object(args[0])
	if err != nil {
		return err
	}
	b, err := s.object(args[1])
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, a.Shape() == b.Shape())
	return nil
}

func (s *Session) cmdLoad(args []token) error {
	o, err := s.object(args[1])
	if err != nil {
		return err
	}
	v, ok := s.sites.Load(args[0].text, s.key(args[2])).Load(o)
	if !ok {
		fmt.Fprintln(s.out, "<absent>")
		return nil
	}
	fmt.Fprintln(s.out, v.Inspect())
	return nil
}

func (s *Session) cmdStore(args []token) error {
	o, err := s.object(args[1])
	if err != nil {
		return err
	}
	v, err := s.value(args[3])
	if err != nil {
		return err
	}
	return s.sites.Store(args[0].text, s.key(args[2])).Store(o, v)
}

func (s *Session) cmdICs([]token) error {
	for _, st := range s.sites.Stats() {
		op := "load"
		if st.Store {
			op = "store"
		}
		fmt.Fprintf(s.out, "%s %s %s\n", op, st.ICSite, st.ICacheStats)
	}
	return nil
}

func (s *Session) cmdGraph([]token) error {
	s.iso.DumpTransitions(s.out)
	return nil
}

func (s *Session) cmdPrune([]token) error {
	objs := make([]*vm.Object, 0, len(s.objects))
	for _, o := range s.objects {
		objs = append(objs, o)
	}
	stats := s.iso.PruneTransitions(s.iso.ReachableShapes(objs...))
	s.sites.Reset()
	fmt.Fprintf(s.out, "pruned %d shapes, removed %d edges, returned %d tables, %d live\n",
		stats.Pruned, stats.EdgesRemoved, stats.OwnershipReturned, stats.Live)
	return nil
}

func (s *Session) cmdStats([]token) error {
	if h := s.iso.Heap(); h != nil {
		fmt.Fprintln(s.out, h.Stats())
	}
	hits, misses := s.iso.NormalizedCacheStats()
	fmt.Fprintf(s.out, "shapes: %d live, normalized cache %d hits %d misses\n", s.iso.LiveShapes(), hits, misses)
	return nil
}

func (s *Session) cmdHelp([]token) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(s.out, "  "+commands[name].usage)
	}
	return nil
}
