package slab

import (
	"container/list"

	"github.com/disnoca/sufsos/internal/pagemem"
)

// OffSlabObjsPerSlab is OFF_SLAB_OBJS_PER_SLAB from spec.md §4.3: the number
// of object-sized pages an off-slab cache's run spans. spec.md names the
// constant but leaves its value to the implementation; 8 makes an off-slab
// run (objects above PAGE_SIZE/8 = 512 B) 8 times the object size, from
// 8 KB for the 1K class up to 1 MB for the largest (128K) class of the
// general cache ladder. Recorded as a resolved Open Question in DESIGN.md.
const OffSlabObjsPerSlab = 8

// Ctor and Dtor are the constructor/destructor hooks spec.md §4.3 allows
// cache_create to take, run over a slot's raw bytes at grow/destroy time.
type Ctor func([]byte)
type Dtor func([]byte)

// Cache is a named allocation class, per spec.md §3's "Cache" entry:
// object size, objects-per-slab, pages-per-slab, constructor/destructor
// hooks, and three lists of slabs in which a slab is on exactly one.
type Cache struct {
	alloc   *Allocator
	name    string
	objSize int
	ctor    Ctor
	dtor    Dtor

	pagesPerSlab int
	objsPerSlab  int
	offSlab      bool

	full    *list.List
	partial *list.List
	free    *list.List
}

// newCache derives pages_per_slab and objs_per_slab and appends the result
// to a's global cache list, per spec.md §4.3's cache_create contract.
// objSize must be positive; the caller (Allocator.CacheCreate) is
// responsible for validating it.
func newCache(a *Allocator, name string, objSize int, ctor Ctor, dtor Dtor) *Cache {
	c := &Cache{
		alloc:   a,
		name:    name,
		objSize: objSize,
		ctor:    ctor,
		dtor:    dtor,
		full:    list.New(),
		partial: list.New(),
		free:    list.New(),
	}

	onSlab := objSize <= int(pagemem.PGSIZE)/8
	c.offSlab = !onSlab
	if onSlab {
		c.pagesPerSlab = 1
	} else {
		runBytes := objSize * OffSlabObjsPerSlab
		c.pagesPerSlab = (runBytes + int(pagemem.PGSIZE) - 1) / int(pagemem.PGSIZE)
	}

	runBytes := c.pagesPerSlab * int(pagemem.PGSIZE)
	n := runBytes / objSize
	if onSlab {
		// Pack objects and the slab descriptor's free-index array (one
		// byte per slot) plus a fixed header into the same run,
		// decrementing until the fit is valid, per spec.md §4.3.
		for n > 0 {
			overhead := n + slabHeaderOverhead
			if n*objSize+overhead <= runBytes {
				break
			}
			n--
		}
	}
	c.objsPerSlab = n

	a.caches = append(a.caches, c)
	return c
}

// listFor reports which of c's three lists s belongs on given its current
// numFree, per the free/partial/full invariant in spec.md's glossary.
func (c *Cache) listFor(s *Slab) *list.List {
	switch {
	case s.numFree == 0:
		return c.full
	case s.numFree == c.objsPerSlab:
		return c.free
	default:
		return c.partial
	}
}

// Alloc selects a slab per §4.3.1 (partial → free → grow), pops a
// free-index, and returns the allocated object's address and byte view. It
// returns ok=false only when growth itself fails (the underlying page
// allocator is out of memory).
func (c *Cache) Alloc() (pagemem.Addr, []byte, bool) {
	s := c.pickSlab()
	if s == nil {
		return 0, nil, false
	}
	addr, buf := s.allocOne()
	return addr, buf, true
}

// pickSlab returns a slab ready to allocate from: the front of partial,
// else the front of free, else a freshly grown slab.
func (c *Cache) pickSlab() *Slab {
	if e := c.partial.Front(); e != nil {
		return e.Value.(*Slab)
	}
	if e := c.free.Front(); e != nil {
		return e.Value.(*Slab)
	}
	return c.grow()
}

// grow allocates pages_per_slab page frames, installs a slab descriptor
// (off-slab ones drawn from the allocator's general caches via kmalloc),
// stamps every frame in the run with (cache, slab) in the frame table, and
// runs the constructor over every slot, per spec.md §4.3.1 and §4.3.2's
// construction/destruction symmetry note. Returns nil if the page
// allocator or, for an off-slab cache, kmalloc, is out of memory.
func (c *Cache) grow() *Slab {
	addr, ok := c.alloc.mgr.AllocPages(c.pagesPerSlab, 0)
	if !ok {
		return nil
	}

	s := &Slab{
		cache:   c,
		base:    addr,
		mem:     c.alloc.mgr.DmapN(addr, c.pagesPerSlab),
		numFree: c.objsPerSlab,
		freeIdx: make([]int, c.objsPerSlab),
	}
	for i := range s.freeIdx {
		s.freeIdx[i] = i
	}

	if c.offSlab {
		descBytes := c.objsPerSlab + slabHeaderOverhead
		descAddr, _, ok := c.alloc.Kmalloc(descBytes)
		if !ok {
			c.alloc.mgr.FreePages(addr, c.pagesPerSlab)
			return nil
		}
		s.descAddr = descAddr
		s.hasDesc = true
	}

	if c.ctor != nil {
		for i := 0; i < c.objsPerSlab; i++ {
			c.ctor(s.objAt(i))
		}
	}

	c.alloc.mgr.Table.Stamp(addr, c.pagesPerSlab, pagemem.Owner{Cache: c, Slab: s})
	s.elem = c.free.PushBack(s)
	s.on = c.free
	return s
}

// Free reverse-looks up a slot's owning slab (already known, since the
// frame table lookup happens once at the Allocator layer) and pushes the
// slot back onto the free stack, reversing list transitions; if the slab
// becomes fully free, the whole cache is reaped (spec.md §4.3).
func (c *Cache) Free(s *Slab, addr pagemem.Addr) {
	idx := s.indexOf(addr)
	s.freeOne(idx)
	if s.numFree == c.objsPerSlab {
		c.reap()
	}
}

// reap destroys every slab currently on the free list and returns its
// pages, per spec.md §4.3's cache_free contract.
func (c *Cache) reap() {
	var next *list.Element
	for e := c.free.Front(); e != nil; e = next {
		next = e.Next()
		s := e.Value.(*Slab)
		c.destroySlab(s)
	}
}

// destroySlab runs destructors over every slot (even free ones, symmetric
// to construction at grow time), clears the frame table stamps, releases
// the page run, and kfrees the off-slab descriptor if any (spec.md §4.3.2).
func (c *Cache) destroySlab(s *Slab) {
	if c.dtor != nil {
		for i := 0; i < c.objsPerSlab; i++ {
			c.dtor(s.objAt(i))
		}
	}
	c.alloc.mgr.Table.Clear(s.base, c.pagesPerSlab)
	c.alloc.mgr.FreePages(s.base, c.pagesPerSlab)
	if s.hasDesc {
		c.alloc.Kfree(s.descAddr)
	}
	if s.on != nil && s.elem != nil {
		s.on.Remove(s.elem)
	}
}

// Destroy destroys every slab on every list, per spec.md §4.3's
// cache_destroy contract.
func (c *Cache) Destroy() {
	for _, l := range []*list.List{c.full, c.partial, c.free} {
		var next *list.Element
		for e := l.Front(); e != nil; e = next {
			next = e.Next()
			c.destroySlab(e.Value.(*Slab))
		}
	}
}

// Name returns the cache's name.
func (c *Cache) Name() string { return c.name }

// ObjSize returns the cache's fixed object size.
func (c *Cache) ObjSize() int { return c.objSize }
