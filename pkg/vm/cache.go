package vm

import "fmt"

// PropCacheState represents the different states of inline cache
type PropCacheState uint8

const (
	CacheStateUninitialized PropCacheState = iota
	CacheStateMonomorphic                  // Single shape cached
	CacheStatePolymorphic                  // Multiple shapes cached (up to maxPolymorphicEntries)
	CacheStateMegamorphic                  // Too many shapes, always take the slow path
)

const maxPolymorphicEntries = 4

func (s PropCacheState) String() string {
	switch s {
	case CacheStateMonomorphic:
		return "MONOMORPHIC"
	case CacheStatePolymorphic:
		return "POLYMORPHIC"
	case CacheStateMegamorphic:
		return "MEGAMORPHIC"
	default:
		return "UNINITIALIZED"
	}
}

// PropCacheEntry is one guarded fast path: objects whose shape is shape
// keep the property at slot. A store entry with a transition moves the
// object to transition before writing.
type PropCacheEntry struct {
	shape      ShapeID
	slot       Slot
	transition ShapeID
}

// PropInlineCache is the shape-guarded cache of one property access site.
// Shape IDs carry a generation, so entries for pruned shapes simply stop matching.
type PropInlineCache struct {
	state      PropCacheState
	entries    [maxPolymorphicEntries]PropCacheEntry
	entryCount int
	hitCount   uint32
	missCount  uint32
}

// ICacheStats reports the activity of one inline cache.
type ICacheStats struct {
	State   PropCacheState
	Entries int
	Hits    uint32
	Misses  uint32
}

func (s ICacheStats) String() string {
	return fmt.Sprintf("%s(%d) hits=%d misses=%d", s.State, s.Entries, s.Hits, s.Misses)
}

// lookupInCache returns the entry guarded by shape.
func (ic *PropInlineCache) lookupInCache(shape ShapeID) (PropCacheEntry, bool) {
	switch ic.state {
	case CacheStateMonomorphic:
		if ic.entries[0].shape == shape {
			ic.hitCount++
			return ic.entries[0], true
		}
	case CacheStatePolymorphic:
		for i := 0; i < ic.entryCount; i++ {
			if ic.entries[i].shape == shape {
				ic.hitCount++
				// Move hit entry to front
				if i > 0 {
					entry := ic.entries[i]
					copy(ic.entries[1:i+1], ic.entries[0:i])
					ic.entries[0] = entry
				}
				return ic.entries[0], true
			}
		}
	}
	ic.missCount++
	return PropCacheEntry{}, false
}

// updateCache records entry, moving towards megamorphic as shapes accumulate.
func (ic *PropInlineCache) updateCache(entry PropCacheEntry) {
	switch ic.state {
	case CacheStateUninitialized:
		ic.state = CacheStateMonomorphic
		ic.entries[0] = entry
		ic.entryCount = 1
	case CacheStateMonomorphic:
		if ic.entries[0].shape == entry.shape {
			ic.entries[0] = entry
			return
		}
		ic.state = CacheStatePolymorphic
		ic.entries[1] = entry
		ic.entryCount = 2
	case CacheStatePolymorphic:
		for i := 0; i < ic.entryCount; i++ {
			if ic.entries[i].shape == entry.shape {
				ic.entries[i] = entry
				return
			}
		}
		if ic.entryCount < maxPolymorphicEntries {
			ic.entries[ic.entryCount] = entry
			ic.entryCount++
		} else {
			ic.state = CacheStateMegamorphic
			ic.entryCount = 0
		}
	case CacheStateMegamorphic:
		return
	}
}

// resetCache clears the cache but keeps the counters.
func (ic *PropInlineCache) resetCache() {
	ic.state = CacheStateUninitialized
	ic.entryCount = 0
}

func (ic *PropInlineCache) stats() ICacheStats {
	return ICacheStats{State: ic.state, Entries: ic.entryCount, Hits: ic.hitCount, Misses: ic.missCount}
}

// LoadIC caches reads of one named property.
type LoadIC struct {
	key   PropertyKey
	cache PropInlineCache
}

// NewLoadIC creates a load cache for key.
func NewLoadIC(key PropertyKey) *LoadIC {
	return &LoadIC{key: key}
}

// Load reads the property from o, using the cached slot when o's shape matches.
func (ic *LoadIC) Load(o *Object) (Value, bool) {
	if e, ok := ic.cache.lookupInCache(o.shape); ok {
		return o.props.read(e.slot), true
	}
	r, ok := o.LocalLookup(ic.key)
	if !ok {
		return Undefined, false
	}
	if !r.Dictionary && !r.Element && r.Type == DescriptorField {
		ic.cache.updateCache(PropCacheEntry{shape: o.shape, slot: r.Slot})
	}
	if r.Type == DescriptorAccessor {
		return Undefined, true
	}
	return r.Value, true
}

// Stats returns the cache counters.
func (ic *LoadIC) Stats() ICacheStats { return ic.cache.stats() }

// Reset drops every cached entry.
func (ic *LoadIC) Reset() { ic.cache.resetCache() }

// StoreIC caches writes of one named property, including the transition
// taken when the write adds it.
type StoreIC struct {
	key   PropertyKey
	cache PropInlineCache
}

// NewStoreIC creates a store cache for key.
func NewStoreIC(key PropertyKey) *StoreIC {
	return &StoreIC{key: key}
}

// Store assigns v to the property on o.
func (ic *StoreIC) Store(o *Object, v Value) error {
	if e, ok := ic.cache.lookupInCache(o.shape); ok {
		if e.transition == NoShape {
			o.writeSlot(e.slot, v)
			return nil
		}
		if o.iso.Alive(e.transition) {
			if err := o.ensureOverflow(e.slot); err != nil {
				return err
			}
			o.setShape(e.transition)
			o.writeSlot(e.slot, v)
			return nil
		}
	}
	before := o.shape
	if err := o.SetKey(ic.key, v); err != nil {
		return err
	}
	if o.props.mode != FastProperties {
		return nil
	}
	r, ok := o.LocalLookup(ic.key)
	if !ok || r.Element || r.Type != DescriptorField || !r.Attributes.Writable() {
		return nil
	}
	switch {
	case o.shape == before:
		ic.cache.updateCache(PropCacheEntry{shape: before, slot: r.Slot})
	case o.iso.shape(o.shape).backPointer == before:
		ic.cache.updateCache(PropCacheEntry{shape: before, slot: r.Slot, transition: o.shape})
	}
	return nil
}

// Stats returns the cache counters.
func (ic *StoreIC) Stats() ICacheStats { return ic.cache.stats() }

// Reset drops every cached entry.
func (ic *StoreIC) Reset() { ic.cache.resetCache() }
