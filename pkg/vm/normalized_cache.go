package vm

// normalizedKey identifies a dictionary-mode shape. Objects normalized from
// the same tree with the same elements kind and extensibility share one.
type normalizedKey struct {
	root       ShapeID
	kind       ElementsKind
	extensible bool
}

type normalizedShapeCache struct {
	entries map[normalizedKey]ShapeID
	hits    uint64
	misses  uint64
}

func newNormalizedShapeCache() *normalizedShapeCache {
	return &normalizedShapeCache{entries: make(map[normalizedKey]ShapeID)}
}

// normalizedShape returns the shared dictionary-mode shape for the key,
// creating it on a miss.
func (iso *Isolate) normalizedShape(root ShapeID, kind ElementsKind, extensible bool) (ShapeID, error) {
	c := iso.normalized
	key := normalizedKey{root: root, kind: kind, extensible: extensible}
	if id, ok := c.entries[key]; ok && iso.Alive(id) {
		c.hits++
		return id, nil
	}
	c.misses++
	id, err := iso.allocShape(&Shape{
		root:         root,
		elementsKind: kind,
		inObject:     iso.shape(root).inObject,
		dictionary:   true,
		shared:       true,
		extensible:   extensible,
		descriptors:  iso.empty,
	})
	if err != nil {
		return NoShape, err
	}
	c.entries[key] = id
	return id, nil
}

func (c *normalizedShapeCache) prune(iso *Isolate) {
	for key, id := range c.entries {
		if !iso.Alive(id) {
			delete(c.entries, key)
		}
	}
}

// NormalizedCacheStats returns the hit and miss counts of the normalized shape cache.
func (iso *Isolate) NormalizedCacheStats() (hits, misses uint64) {
	return iso.normalized.hits, iso.normalized.misses
}
