package vm

import (
	"sort"
	"strings"
)

// ICSite names one property access site: where the access happens and the
// property it reads or writes.
type ICSite struct {
	Site string
	Key  PropertyKey
}

func (s ICSite) String() string { return s.Site + "." + s.Key.String() }

// ICSiteCache holds the inline caches of a program, one per access site.
// Caches are allocated on first use and live until Reset.
type ICSiteCache struct {
	loads  map[ICSite]*LoadIC
	stores map[ICSite]*StoreIC
}

// NewICSiteCache creates an empty site table.
func NewICSiteCache() *ICSiteCache {
	return &ICSiteCache{
		loads:  make(map[ICSite]*LoadIC),
		stores: make(map[ICSite]*StoreIC),
	}
}

// Load returns the load cache of site for key.
func (c *ICSiteCache) Load(site string, key PropertyKey) *LoadIC {
	k := ICSite{Site: site, Key: key}
	ic := c.loads[k]
	if ic == nil {
		ic = NewLoadIC(key)
		c.loads[k] = ic
	}
	return ic
}

// Store returns the store cache of site for key.
func (c *ICSiteCache) Store(site string, key PropertyKey) *StoreIC {
	k := ICSite{Site: site, Key: key}
	ic := c.stores[k]
	if ic == nil {
		ic = NewStoreIC(key)
		c.stores[k] = ic
	}
	return ic
}

// ICSiteStats is the state of one cached site.
type ICSiteStats struct {
	ICSite
	Store bool
	ICacheStats
}

// Stats lists every site, loads before stores, each group ordered by site.
func (c *ICSiteCache) Stats() []ICSiteStats {
	out := make([]ICSiteStats, 0, len(c.loads)+len(c.stores))
	for k, ic := range c.loads {
		out = append(out, ICSiteStats{ICSite: k, ICacheStats: ic.Stats()})
	}
	for k, ic := range c.stores {
		out = append(out, ICSiteStats{ICSite: k, Store: true, ICacheStats: ic.Stats()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Store != out[j].Store {
			return !out[i].Store
		}
		return strings.Compare(out[i].ICSite.String(), out[j].ICSite.String()) < 0
	})
	return out
}

// Reset drops the cached entries of every site. Counters are kept.
func (c *ICSiteCache) Reset() {
	for _, ic := range c.loads {
		ic.Reset()
	}
	for _, ic := range c.stores {
		ic.Reset()
	}
}
