package frame

import (
	lru "github.com/hashicorp/golang-lru"
)

// TableCache memoizes built unwind tables keyed by FDE begin address.
// Building a table re-runs the CIE and FDE programs every time, which
// adds up when the same frames are queried repeatedly.
type TableCache struct {
	cache *lru.Cache
}

type tableCacheKey struct {
	begin            uint64
	addrSize         int
	useHostByteOrder bool
}

// NewTableCache returns a cache holding at most capacity tables.
func NewTableCache(capacity int) (*TableCache, error) {
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	return &TableCache{cache: cache}, nil
}

// Table returns the unwind table for fde, building it on a miss.
// Errors are not cached; a failing FDE is rebuilt on every call.
func (tc *TableCache) Table(fde *FrameDescriptionEntry, addrSize int, useHostByteOrder bool) (*UnwindTable, error) {
	key := tableCacheKey{begin: fde.Begin(), addrSize: addrSize, useHostByteOrder: useHostByteOrder}
	if table, ok := tc.cache.Get(key); ok {
		return table.(*UnwindTable), nil
	}
	table, err := fde.BuildUnwindTable(addrSize, useHostByteOrder)
	if err != nil {
		return nil, err
	}
	tc.cache.Add(key, table)
	return table, nil
}

// Purge drops every cached table. Call it after translating FDE
// addresses, since the cache keys on the begin address.
func (tc *TableCache) Purge() {
	tc.cache.Purge()
}
