package slab

import (
	"github.com/disnoca/sufsos/internal/pagemem"
	"github.com/disnoca/sufsos/internal/sufslog"
)

// generalSizes is the general-purpose size-class ladder named in spec.md
// §4.3: 16 B through 128 KB, each a power of two. Sizes at or below
// PAGE_SIZE/8 (512 B) land on-slab; the rest are off-slab.
var generalSizes = [14]int{
	16, 32, 64, 128, 256, 512,
	1 << 10, 2 << 10, 4 << 10, 8 << 10,
	16 << 10, 32 << 10, 64 << 10, 128 << 10,
}

// Allocator is the slab layer's explicit module state: the global cache
// list and general-purpose ladder spec.md describes as module-level state
// in the source, turned into fields of a per-boot context per spec.md §9's
// "Global mutable state → explicit module state" redesign flag. A fresh
// Allocator is created per Manager, so tests instantiate independent
// instances instead of sharing package globals.
type Allocator struct {
	mgr     *pagemem.Manager
	caches  []*Cache
	general [14]*Cache
}

// NewAllocator creates the general-purpose cache ladder over mgr, in
// strictly increasing size order, per spec.md §4.3.1's off-slab descriptor
// cycle invariant: by the time the first off-slab class (1 KB, since
// PAGE_SIZE/8 == 512) grows, every on-slab class up to 512 B already
// exists, so its descriptor can be kmalloc'd from one of them.
func NewAllocator(mgr *pagemem.Manager) *Allocator {
	a := &Allocator{mgr: mgr}
	for i, sz := range generalSizes {
		name := generalCacheName(sz)
		a.general[i] = newCache(a, name, sz, nil, nil)
	}
	sufslog.Infof("slab: initialized %d general caches (16B..128K)", len(generalSizes))
	return a
}

func generalCacheName(sz int) string {
	switch {
	case sz < 1024:
		return "size-" + itoa(sz)
	default:
		return "size-" + itoa(sz/1024) + "k"
	}
}

// itoa avoids pulling in strconv for a handful of small constant-ish
// values; every caller passes a size from the fixed generalSizes ladder.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// CacheCreate initializes a new named cache per spec.md §4.3's
// cache_create contract and appends it to the allocator's global cache
// list. objSize must be positive.
func (a *Allocator) CacheCreate(name string, objSize int, ctor Ctor, dtor Dtor) *Cache {
	if objSize <= 0 {
		sufslog.Fatal("slab: cache_create with non-positive obj_size")
	}
	return newCache(a, name, objSize, ctor, dtor)
}

// CacheDestroy destroys every slab on every list of c and drops it from the
// global cache list.
func (a *Allocator) CacheDestroy(c *Cache) {
	c.Destroy()
	for i, cc := range a.caches {
		if cc == c {
			a.caches = append(a.caches[:i], a.caches[i+1:]...)
			break
		}
	}
}

// Kmalloc routes to the smallest general cache whose obj_size >= size, per
// spec.md §4.3. Requests larger than the ladder's top class (128 KB) fail,
// since spec.md defines no class above it.
func (a *Allocator) Kmalloc(size int) (pagemem.Addr, []byte, bool) {
	for _, c := range a.general {
		if c.objSize >= size {
			return c.Alloc()
		}
	}
	return 0, nil, false
}

// Kfree reverse-looks up ptr's owning cache and slab via the frame table
// and delegates to cache_free, per spec.md §4.3.
func (a *Allocator) Kfree(addr pagemem.Addr) {
	owner, ok := a.mgr.Table.Lookup(addr)
	if !ok {
		sufslog.Fatal("slab: kfree of an address with no frame table stamp")
	}
	c := owner.Cache.(*Cache)
	s := owner.Slab.(*Slab)
	c.Free(s, addr)
}

// GeneralCache returns the general-purpose cache for size class sz (must
// be one of generalSizes), or nil if sz isn't a ladder rung. Exposed for
// tests and diagnostics that need to inspect a specific class directly.
func (a *Allocator) GeneralCache(sz int) *Cache {
	for i, s := range generalSizes {
		if s == sz {
			return a.general[i]
		}
	}
	return nil
}
