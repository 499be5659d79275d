package vm

// hashTable is an open-addressing table with quadratic probing and
// tombstones. Its capacity is always a power of two so the triangular probe
// sequence visits every bucket.
type hashTable[K comparable, V any] struct {
	entries []hashEntry[K, V]
	live    int
	deleted int
	hash    func(K) uint64
}

type bucketState uint8

const (
	bucketEmpty bucketState = iota
	bucketLive
	bucketDeleted
)

type hashEntry[K comparable, V any] struct {
	state bucketState
	key   K
	value V
}

// hashCapacity is the smallest power of two holding n entries under a 3/4 load.
func hashCapacity(n int) int {
	c := 4
	for c*3 < n*4 {
		c <<= 1
	}
	return c
}

func newHashTable[K comparable, V any](capacity int, hash func(K) uint64) *hashTable[K, V] {
	return &hashTable[K, V]{
		entries: make([]hashEntry[K, V], capacity),
		hash:    hash,
	}
}

func (t *hashTable[K, V]) capacity() int { return len(t.entries) }

// find returns the bucket holding k, or -1.
func (t *hashTable[K, V]) find(k K) int {
	mask := uint64(len(t.entries) - 1)
	i := t.hash(k) & mask
	for step := uint64(1); step <= uint64(len(t.entries)); step++ {
		e := &t.entries[i]
		switch e.state {
		case bucketEmpty:
			return -1
		case bucketLive:
			if e.key == k {
				return int(i)
			}
		}
		i = (i + step) & mask
	}
	return -1
}

// put stores v under k and returns its bucket. The caller must have made
// room with needsGrow/rehash first.
func (t *hashTable[K, V]) put(k K, v V) (int, bool) {
	if b := t.find(k); b >= 0 {
		t.entries[b].value = v
		return b, false
	}
	mask := uint64(len(t.entries) - 1)
	i := t.hash(k) & mask
	for step := uint64(1); ; step++ {
		e := &t.entries[i]
		if e.state != bucketLive {
			if e.state == bucketDeleted {
				t.deleted--
			}
			*e = hashEntry[K, V]{state: bucketLive, key: k, value: v}
			t.live++
			return int(i), true
		}
		i = (i + step) & mask
	}
}

// remove tombstones bucket b.
func (t *hashTable[K, V]) remove(b int) {
	var zero hashEntry[K, V]
	t.entries[b] = zero
	t.entries[b].state = bucketDeleted
	t.live--
	t.deleted++
}

// needsGrow reports whether adding extra entries would break the 3/4 load
// bound, counting tombstones as used.
func (t *hashTable[K, V]) needsGrow(extra int) bool {
	return (t.live+t.deleted+extra)*4 > len(t.entries)*3
}

// rehash moves every live entry into a table of the given capacity,
// dropping tombstones.
func (t *hashTable[K, V]) rehash(capacity int) {
	old := t.entries
	t.entries = make([]hashEntry[K, V], capacity)
	t.live, t.deleted = 0, 0
	for i := range old {
		if old[i].state == bucketLive {
			t.put(old[i].key, old[i].value)
		}
	}
}

// each calls fn for every live entry in bucket order.
func (t *hashTable[K, V]) each(fn func(k K, v *V)) {
	for i := range t.entries {
		if t.entries[i].state == bucketLive {
			fn(t.entries[i].key, &t.entries[i].value)
		}
	}
}
