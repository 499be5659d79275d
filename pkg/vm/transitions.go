package vm

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/nooga/hiddenclass/pkg/errors"
)

// ErrElementsKindRetreat is returned for elements-kind requests that would
// make the representation less general.
var ErrElementsKindRetreat = errors.New("elements kind transition is not more general")

// ceilingError reports that a shape cannot take another property in fast
// mode. Callers fall back to dictionary mode.
type ceilingError struct {
	reason string
}

func (e *ceilingError) Error() string { return "fast-mode ceiling: " + e.reason }

func isCeiling(err error) (*ceilingError, bool) {
	var ce *ceilingError
	ok := errors.As(err, &ce)
	return ce, ok
}

// AddProperty returns the shape reached from `from` by adding a field named key.
// An existing edge is reused. Exceeding MaxDescriptors or MaxTransitions is
// reported as an error the object layer answers by normalizing.
func (iso *Isolate) AddProperty(from ShapeID, key PropertyKey, attrs Attributes) (ShapeID, error) {
	return iso.addDescriptor(from, Descriptor{Key: key, Type: DescriptorField, Attrs: attrs})
}

func (iso *Isolate) addDescriptor(from ShapeID, d Descriptor) (ShapeID, error) {
	s := iso.shape(from)
	if s.dictionary {
		errors.Invariant("adding %q to dictionary shape %s", d.Key, from)
	}
	if s.lookup(d.Key) >= 0 {
		errors.Invariant("adding %q to %s which already has it", d.Key, from)
	}
	if target := iso.reuseTransition(s, &d); target != NoShape {
		return target, nil
	}
	if s.findTransition(d.Key, d.Type, d.Attrs) != NoShape {
		switch d.Type {
		case DescriptorConstant:
			// The edge carries another value: store it as a field instead.
			d.Type = DescriptorField
			d.Constant = Value{}
			if target := iso.reuseTransition(s, &d); target != NoShape {
				return target, nil
			}
			if s.findTransition(d.Key, d.Type, d.Attrs) != NoShape {
				errors.Invariant("unusable field transition for %q on %s", d.Key, from)
			}
		case DescriptorAccessor:
			return NoShape, &ceilingError{reason: "accessor pair differs from the existing transition"}
		}
	}
	if s.ownDescriptors >= iso.cfg.Descriptors.MaxDescriptors {
		return NoShape, &ceilingError{reason: "descriptor table full"}
	}
	if len(s.transitions) >= iso.cfg.Transitions.MaxTransitions {
		return NoShape, &ceilingError{reason: "too many transitions"}
	}

	release := iso.Pin(from)
	defer release()

	d.EnumIndex = s.ownDescriptors + 1
	if d.Type == DescriptorField {
		d.Field = s.usedFields
	}
	if err := iso.alloc.Allocate(SpaceShape, shapeCells); err != nil {
		return NoShape, err
	}
	arr, err := iso.descriptorsForAppend(iso.shape(from), d)
	if err != nil {
		iso.alloc.Free(SpaceShape, shapeCells)
		return NoShape, err
	}
	s = iso.shape(from)
	child := &Shape{
		root:            s.root,
		elementsKind:    s.elementsKind,
		inObject:        s.inObject,
		usedFields:      s.usedFields,
		extensible:      s.extensible,
		descriptors:     arr,
		ownDescriptors:  s.ownDescriptors + 1,
		ownsDescriptors: true,
		backPointer:     from,
	}
	if d.Type == DescriptorField {
		child.usedFields++
	}
	id := iso.shapes.add(child)
	s.insertTransition(transition{key: d.Key, typ: d.Type, attrs: d.Attrs, target: id})
	return id, nil
}

// reuseTransition returns the target of an existing edge for d when the
// target's descriptor matches d's payload.
func (iso *Isolate) reuseTransition(s *Shape, d *Descriptor) ShapeID {
	id := s.findTransition(d.Key, d.Type, d.Attrs)
	if id == NoShape {
		return NoShape
	}
	t := iso.shape(id)
	last := t.descriptor(t.ownDescriptors - 1)
	switch d.Type {
	case DescriptorConstant:
		if !last.Constant.Is(d.Constant) {
			return NoShape
		}
	case DescriptorAccessor:
		if !last.Accessors.same(d.Accessors) {
			return NoShape
		}
	}
	return id
}

// descriptorsForAppend returns the table a child of s sees with d appended.
// When s owns its whole table the table is extended, growing it if full, and
// ownership passes to the child. Otherwise the prefix is copied.
func (iso *Isolate) descriptorsForAppend(s *Shape, d Descriptor) (*DescriptorArray, error) {
	old := s.descriptors
	if s.ownsDescriptors && old.Len() == s.ownDescriptors {
		arr := old
		if !old.hasSlack() {
			n := old.Len()
			capacity := growCapacity(n, iso.cfg.Descriptors.MinSlack, iso.cfg.Descriptors.MaxDescriptors)
			grown, err := iso.copyDescriptors(old, n, capacity-n)
			if err != nil {
				return nil, err
			}
			iso.installDescriptors(s, old, grown)
			arr = grown
		}
		arr.Append(d)
		s.ownsDescriptors = false
		iso.recordDescriptor(arr, arr.Len()-1)
		return arr, nil
	}
	arr, err := iso.copyDescriptors(old, s.ownDescriptors, 1)
	if err != nil {
		return nil, err
	}
	arr.Append(d)
	iso.recordDescriptor(arr, arr.Len()-1)
	return arr, nil
}

// installDescriptors swaps old for grown on s and every ancestor sharing old.
func (iso *Isolate) installDescriptors(s *Shape, old, grown *DescriptorArray) {
	for cur := s; cur != nil && cur.descriptors == old; cur = iso.shapes.get(cur.backPointer) {
		cur.descriptors = grown
		iso.barrier.RecordWrite(HeapRef{Space: SpaceShape, ID: uint64(cur.id)}, FieldDescriptors,
			HeapRef{Space: SpaceDescriptors, ID: grown.id})
	}
}

func (iso *Isolate) recordDescriptor(arr *DescriptorArray, pos int) {
	d := arr.at(pos)
	owner := HeapRef{Space: SpaceDescriptors, ID: arr.id}
	switch d.Type {
	case DescriptorConstant:
		iso.recordWrite(owner, pos, d.Constant)
	case DescriptorAccessor:
		iso.recordWrite(owner, pos, d.Accessors.Getter)
		iso.recordWrite(owner, pos, d.Accessors.Setter)
	}
}

// TransitionElementsKind returns the shape like `from` but with elements
// kind `to`. Fast-mode shapes are linked through the elements edge chain.
func (iso *Isolate) TransitionElementsKind(from ShapeID, to ElementsKind) (ShapeID, error) {
	s := iso.shape(from)
	if s.elementsKind == to {
		return from, nil
	}
	if !IsMoreGeneralElementsKindTransition(s.elementsKind, to) {
		return from, ErrElementsKindRetreat
	}
	if s.dictionary {
		return iso.normalizedShape(s.root, to, s.extensible)
	}
	cur := from
	for iso.shape(cur).elementsKind != to {
		release := iso.Pin(cur)
		defer release()
		next, err := iso.elementsSuccessor(cur)
		if err != nil {
			return from, err
		}
		cur = next
	}
	return cur, nil
}

func (iso *Isolate) elementsSuccessor(from ShapeID) (ShapeID, error) {
	s := iso.shape(from)
	if s.elementsTransition != NoShape && iso.Alive(s.elementsTransition) {
		return s.elementsTransition, nil
	}
	next := nextInSequence(s.elementsKind)
	if err := iso.alloc.Allocate(SpaceShape, shapeCells); err != nil {
		return NoShape, err
	}
	s = iso.shape(from)
	child := &Shape{
		root:           s.root,
		elementsKind:   next,
		inObject:       s.inObject,
		usedFields:     s.usedFields,
		extensible:     s.extensible,
		descriptors:    s.descriptors,
		ownDescriptors: s.ownDescriptors,
		backPointer:    from,
	}
	id := iso.shapes.add(child)
	s.elementsTransition = id
	return id, nil
}

// CopyDropDescriptors returns a new unshared shape with the layout of id and
// no descriptors. It is not linked into the transition tree.
func (iso *Isolate) CopyDropDescriptors(id ShapeID) (ShapeID, error) {
	return iso.copyUnlinked(id, func(ns *Shape) {
		ns.descriptors = iso.empty
		ns.ownDescriptors = 0
		ns.usedFields = 0
	})
}

// copyUnlinked creates a shape outside the transition tree with the layout
// of `from`, sharing its descriptors, then lets edit adjust it.
func (iso *Isolate) copyUnlinked(from ShapeID, edit func(*Shape)) (ShapeID, error) {
	release := iso.Pin(from)
	defer release()
	if err := iso.alloc.Allocate(SpaceShape, shapeCells); err != nil {
		return NoShape, err
	}
	s := iso.shape(from)
	if s.dictionary {
		errors.Invariant("unlinked copy of dictionary shape %s", from)
	}
	ns := &Shape{
		root:           s.root,
		elementsKind:   s.elementsKind,
		inObject:       s.inObject,
		usedFields:     s.usedFields,
		extensible:     s.extensible,
		descriptors:    s.descriptors,
		ownDescriptors: s.ownDescriptors,
	}
	edit(ns)
	return iso.shapes.add(ns), nil
}

// copyReplaceDescriptor returns an unlinked shape whose descriptor at pos is
// replaced by d. A descriptor becoming a field gets a fresh field number.
func (iso *Isolate) copyReplaceDescriptor(from ShapeID, pos int, d Descriptor) (ShapeID, error) {
	release := iso.Pin(from)
	defer release()
	s := iso.shape(from)
	arr, err := iso.copyDescriptors(s.descriptors, s.ownDescriptors, 0)
	if err != nil {
		return NoShape, err
	}
	s = iso.shape(from)
	old := s.descriptor(pos)
	usedFields := s.usedFields
	if d.Type == DescriptorField {
		if old.Type == DescriptorField {
			d.Field = old.Field
		} else {
			d.Field = usedFields
			usedFields++
		}
	}
	d.Key = old.Key
	d.EnumIndex = old.EnumIndex
	arr.entries[pos] = d
	arr.enumCache = nil
	iso.recordDescriptor(arr, pos)

	id, err := iso.copyUnlinked(from, func(ns *Shape) {
		ns.descriptors = arr
		ns.ownsDescriptors = true
		ns.usedFields = usedFields
	})
	if err != nil {
		iso.alloc.Free(SpaceDescriptors, arr.capacity*descriptorEntryCells)
		return NoShape, err
	}
	return id, nil
}

// reviveElementsKind gives a shape with dictionary elements a fast kind again.
// The graph has no backward edges, so the result is an unlinked copy.
func (iso *Isolate) reviveElementsKind(from ShapeID, kind ElementsKind) (ShapeID, error) {
	s := iso.shape(from)
	if s.elementsKind != DictionaryElements || !kind.IsFast() {
		errors.Invariant("reviving %s from %s", kind, s.elementsKind)
	}
	if s.dictionary {
		return iso.normalizedShape(s.root, kind, s.extensible)
	}
	return iso.copyUnlinked(from, func(ns *Shape) { ns.elementsKind = kind })
}

// withoutExtensions returns a shape like `from` that refuses new properties.
func (iso *Isolate) withoutExtensions(from ShapeID) (ShapeID, error) {
	s := iso.shape(from)
	if !s.extensible {
		return from, nil
	}
	if s.dictionary {
		return iso.normalizedShape(s.root, s.elementsKind, false)
	}
	return iso.copyUnlinked(from, func(ns *Shape) { ns.extensible = false })
}

// PruneStats summarizes one PruneTransitions call.
type PruneStats struct {
	Live              int
	Pruned            int
	EdgesRemoved      int
	OwnershipReturned int
}

// PruneTransitions frees every shape isLive rejects. Roots and pinned shapes
// always survive. Edges into dead shapes are removed, back pointers into
// dead shapes are cleared, and a live parent takes back a descriptor table
// its dead child owned.
func (iso *Isolate) PruneTransitions(isLive func(ShapeID) bool) PruneStats {
	var stats PruneStats
	dead := make(map[ShapeID]*Shape)
	iso.shapes.each(func(s *Shape) {
		if s.isRoot || iso.pinned[s.id] > 0 || isLive(s.id) {
			return
		}
		dead[s.id] = s
	})
	if len(dead) == 0 {
		stats.Live = iso.shapes.live
		return stats
	}

	// Longest prefix of each table still in use.
	inUse := make(map[*DescriptorArray]int)
	iso.shapes.each(func(s *Shape) {
		if _, ok := dead[s.id]; !ok && s.ownDescriptors > inUse[s.descriptors] {
			inUse[s.descriptors] = s.ownDescriptors
		}
	})
	for _, s := range dead {
		if !s.ownsDescriptors || s.descriptors == iso.empty {
			continue
		}
		arr := s.descriptors
		keep := inUse[arr]
		arr.trim(keep)
		for cur := iso.shapes.get(s.backPointer); cur != nil && cur.descriptors == arr; cur = iso.shapes.get(cur.backPointer) {
			if _, isDead := dead[cur.id]; !isDead && cur.ownDescriptors == keep {
				cur.ownsDescriptors = true
				stats.OwnershipReturned++
				break
			}
		}
	}

	for id := range dead {
		iso.shapes.remove(id)
		iso.alloc.Free(SpaceShape, shapeCells)
	}
	iso.shapes.each(func(s *Shape) {
		n := len(s.transitions)
		kept := s.transitions[:0]
		for _, t := range s.transitions {
			if iso.Alive(t.target) {
				kept = append(kept, t)
			}
		}
		clear(s.transitions[len(kept):])
		s.transitions = kept
		stats.EdgesRemoved += n - len(kept)
		if s.elementsTransition != NoShape && !iso.Alive(s.elementsTransition) {
			s.elementsTransition = NoShape
			stats.EdgesRemoved++
		}
		if s.backPointer != NoShape && !iso.Alive(s.backPointer) {
			s.backPointer = NoShape
		}
	})
	iso.normalized.prune(iso)

	stats.Pruned = len(dead)
	stats.Live = iso.shapes.live
	iso.logger.Debug("pruned transitions",
		zap.Int("pruned", stats.Pruned),
		zap.Int("live", stats.Live),
		zap.Int("edges", stats.EdgesRemoved),
		zap.Int("ownership", stats.OwnershipReturned))
	return stats
}

// ReachableShapes returns a liveness predicate for PruneTransitions that
// keeps the shapes of objs, their back-pointer chains and the roots.
func (iso *Isolate) ReachableShapes(objs ...*Object) func(ShapeID) bool {
	live := make(map[ShapeID]struct{})
	mark := func(id ShapeID) {
		for id != NoShape {
			if _, seen := live[id]; seen {
				return
			}
			s := iso.shapes.get(id)
			if s == nil {
				return
			}
			live[id] = struct{}{}
			id = s.backPointer
		}
	}
	for _, r := range iso.roots {
		mark(r)
	}
	for _, o := range objs {
		if o != nil {
			mark(o.shape)
		}
	}
	return func(id ShapeID) bool {
		_, ok := live[id]
		return ok
	}
}

// DumpTransitions writes the transition forest rooted at every root shape,
// followed by the shapes that are not reachable through edges.
func (iso *Isolate) DumpTransitions(w io.Writer) {
	seen := make(map[ShapeID]bool)
	var walk func(id ShapeID, label string, depth int)
	walk = func(id ShapeID, label string, depth int) {
		s := iso.shapes.get(id)
		if s == nil {
			return
		}
		seen[id] = true
		fmt.Fprintf(w, "%s%s%s\n", strings.Repeat("  ", depth), label, describeShape(s))
		for _, t := range s.transitions {
			walk(t.target, fmt.Sprintf("+%s %s %s -> ", t.key, t.typ, t.attrs), depth+1)
		}
		if s.elementsTransition != NoShape {
			walk(s.elementsTransition, "elements -> ", depth+1)
		}
	}
	for _, r := range iso.roots {
		walk(r, "root ", 0)
	}
	iso.shapes.each(func(s *Shape) {
		if !seen[s.id] {
			fmt.Fprintf(w, "unlinked %s\n", describeShape(s))
		}
	})
}

func describeShape(s *Shape) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s", s.id, s.elementsKind)
	if s.dictionary {
		sb.WriteString(" dictionary")
		if s.shared {
			sb.WriteString(" shared")
		}
	} else {
		fmt.Fprintf(&sb, " own=%d fields=%d/%d", s.ownDescriptors, s.usedFields, s.inObject)
		if s.ownsDescriptors {
			sb.WriteString(" owns")
		}
	}
	if !s.extensible {
		sb.WriteString(" non-extensible")
	}
	return sb.String()
}
