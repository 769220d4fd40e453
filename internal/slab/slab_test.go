package slab

import (
	"testing"

	"github.com/disnoca/sufsos/internal/bootio"
	"github.com/disnoca/sufsos/internal/pagemem"
)

func newTestManager(t *testing.T) *pagemem.Manager {
	t.Helper()
	return pagemem.Init(bootio.MemoryMap{Regions: []bootio.MemoryRegion{
		{Addr: 0, Len: 16 * 1024 * 1024, Type: bootio.MemAvailable},
	}}, 1<<16)
}

func TestCacheCreateOnSlabVsOffSlabPlacement(t *testing.T) {
	mgr := newTestManager(t)
	a := NewAllocator(mgr)

	small := a.CacheCreate("size-64-dup", 64, nil, nil)
	if small.offSlab {
		t.Fatalf("64-byte objects should be on-slab")
	}
	if small.pagesPerSlab != 1 {
		t.Fatalf("on-slab cache must use a single page per slab, got %d", small.pagesPerSlab)
	}

	big := a.CacheCreate("size-4k-dup", 4096, nil, nil)
	if !big.offSlab {
		t.Fatalf("4096-byte objects should be off-slab")
	}
	if big.objsPerSlab <= 0 {
		t.Fatalf("expected at least one object per slab")
	}
}

func TestCacheAllocFreeRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	a := NewAllocator(mgr)
	c := a.CacheCreate("widget", 64, nil, nil)

	addr, buf, ok := c.Alloc()
	if !ok {
		t.Fatalf("Alloc failed")
	}
	if len(buf) != 64 {
		t.Fatalf("buf len = %d, want 64", len(buf))
	}
	buf[0] = 0xAB

	owner, ok := mgr.Table.Lookup(addr)
	if !ok {
		t.Fatalf("expected frame table stamp for allocated object")
	}
	if owner.Cache.(*Cache) != c {
		t.Fatalf("frame table stamp points at the wrong cache")
	}
	s := owner.Slab.(*Slab)

	c.Free(s, addr)
	// Re-allocating must hand back the same slot since a solitary slab was
	// just reaped back to free and then regrown for the single request.
	addr2, _, ok := c.Alloc()
	if !ok {
		t.Fatalf("re-Alloc after Free failed")
	}
	if addr2 != addr {
		t.Fatalf("expected reuse of freed slot 0x%x, got 0x%x", addr, addr2)
	}
}

func TestCacheAllocFillsSlabThenGrows(t *testing.T) {
	mgr := newTestManager(t)
	a := NewAllocator(mgr)
	c := a.CacheCreate("widget", 64, nil, nil)

	n := c.objsPerSlab
	seen := make(map[pagemem.Addr]bool, n+1)
	for i := 0; i < n; i++ {
		addr, _, ok := c.Alloc()
		if !ok {
			t.Fatalf("Alloc %d failed within first slab's capacity", i)
		}
		if seen[addr] {
			t.Fatalf("Alloc returned a duplicate address 0x%x", addr)
		}
		seen[addr] = true
	}
	if c.free.Len() != 0 || c.partial.Len() != 0 {
		t.Fatalf("first slab should be full: free=%d partial=%d", c.free.Len(), c.partial.Len())
	}
	if c.full.Len() != 1 {
		t.Fatalf("expected exactly one full slab, got %d", c.full.Len())
	}

	// One more allocation must grow a second slab.
	addr, _, ok := c.Alloc()
	if !ok {
		t.Fatalf("Alloc beyond first slab's capacity should grow a new one")
	}
	if seen[addr] {
		t.Fatalf("grown slab handed back an address already in use")
	}
}

func TestCacheFreeReapsWhenSlabGoesFullyFree(t *testing.T) {
	mgr := newTestManager(t)
	a := NewAllocator(mgr)
	c := a.CacheCreate("widget", 64, nil, nil)

	type alloc struct {
		addr pagemem.Addr
	}
	var allocs []alloc
	for i := 0; i < c.objsPerSlab; i++ {
		addr, _, ok := c.Alloc()
		if !ok {
			t.Fatalf("Alloc %d failed", i)
		}
		allocs = append(allocs, alloc{addr})
	}
	if c.full.Len() != 1 {
		t.Fatalf("expected one full slab after filling it")
	}

	for _, al := range allocs {
		owner, ok := mgr.Table.Lookup(al.addr)
		if !ok {
			t.Fatalf("missing frame table stamp for 0x%x", al.addr)
		}
		c.Free(owner.Slab.(*Slab), al.addr)
	}

	if c.full.Len() != 0 || c.partial.Len() != 0 || c.free.Len() != 0 {
		t.Fatalf("reap should have destroyed the fully-freed slab entirely: full=%d partial=%d free=%d",
			c.full.Len(), c.partial.Len(), c.free.Len())
	}
	for _, al := range allocs {
		if _, ok := mgr.Table.Lookup(al.addr); ok {
			t.Fatalf("reap must clear frame table stamps, found one at 0x%x", al.addr)
		}
	}
}

func TestCacheCtorDtorRunOverEverySlot(t *testing.T) {
	mgr := newTestManager(t)
	a := NewAllocator(mgr)

	var constructed, destructed int
	c := a.CacheCreate("ctord", 64, func(b []byte) { constructed++ }, func(b []byte) { destructed++ })

	addr, _, ok := c.Alloc()
	if !ok {
		t.Fatalf("Alloc failed")
	}
	if constructed != c.objsPerSlab {
		t.Fatalf("ctor should run over every slot at grow time, ran %d of %d", constructed, c.objsPerSlab)
	}

	owner, _ := mgr.Table.Lookup(addr)
	s := owner.Slab.(*Slab)
	c.Free(s, addr)
	if destructed != c.objsPerSlab {
		t.Fatalf("dtor should run over every slot on reap, ran %d of %d", destructed, c.objsPerSlab)
	}
}

func TestKmallocRoutesToSmallestFittingClass(t *testing.T) {
	mgr := newTestManager(t)
	a := NewAllocator(mgr)

	addr, buf, ok := a.Kmalloc(40)
	if !ok {
		t.Fatalf("Kmalloc(40) failed")
	}
	if len(buf) != 64 {
		t.Fatalf("Kmalloc(40) should route to the 64-byte class, got buf len %d", len(buf))
	}

	owner, ok := mgr.Table.Lookup(addr)
	if !ok || owner.Cache.(*Cache).objSize != 64 {
		t.Fatalf("expected allocation to be stamped with the 64-byte general cache")
	}
}

func TestKmallocOffSlabClassDrawsDescriptorFromSmallerCache(t *testing.T) {
	mgr := newTestManager(t)
	a := NewAllocator(mgr)

	sizeCache := a.GeneralCache(32)
	if sizeCache == nil {
		t.Fatalf("expected a 32-byte general cache")
	}
	before := sizeCache.full.Len() + sizeCache.partial.Len() + sizeCache.free.Len()

	addr, _, ok := a.Kmalloc(1024)
	if !ok {
		t.Fatalf("Kmalloc(1024) failed")
	}
	owner, ok := mgr.Table.Lookup(addr)
	if !ok || owner.Cache.(*Cache).objSize != 1024 {
		t.Fatalf("expected allocation to be stamped with the 1K general cache")
	}
	if !owner.Cache.(*Cache).offSlab {
		t.Fatalf("the 1K general cache should be off-slab")
	}

	after := sizeCache.full.Len() + sizeCache.partial.Len() + sizeCache.free.Len()
	if after <= before {
		t.Fatalf("off-slab growth should draw its descriptor from a smaller on-slab cache")
	}
}

func TestKfreeDelegatesToOwningCache(t *testing.T) {
	mgr := newTestManager(t)
	a := NewAllocator(mgr)

	addr, _, ok := a.Kmalloc(100)
	if !ok {
		t.Fatalf("Kmalloc failed")
	}
	a.Kfree(addr)
	if _, ok := mgr.Table.Lookup(addr); ok {
		t.Fatalf("Kfree of a slab's only live object should have reaped the slab")
	}
}

func TestCacheDestroyClearsEveryList(t *testing.T) {
	mgr := newTestManager(t)
	a := NewAllocator(mgr)
	c := a.CacheCreate("widget", 64, nil, nil)

	addr, _, _ := c.Alloc()
	a.CacheDestroy(c)
	if _, ok := mgr.Table.Lookup(addr); ok {
		t.Fatalf("CacheDestroy must clear frame table stamps for every slab")
	}
}
