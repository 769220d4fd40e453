// Package slab implements the slab allocator of spec.md §4.3: per-object
// caches with constructor/destructor hooks, backing a general-purpose
// kmalloc/kfree through a fixed ladder of size classes.
//
// It is grounded on two sources. The cache/slab/list shape and the
// Alloc-returns-(addr, bytes, ok) signature come straight from the teacher's
// fs.Blockmem_i (biscuit/src/fs/blk.go): "Alloc() (mem.Pa_t, *mem.Bytepg_t,
// bool)" is exactly cache_alloc's contract, and BlkList_t's wrapping of
// container/list is the model for the cache's full/partial/free lists. The
// packing/placement algorithm itself (pages_per_slab, objs_per_slab,
// on-slab vs off-slab descriptors) comes from
// other_examples/a75ea96a_nmxmxh-inos_v1__kernel-threads-arena-slab.go.go,
// the one arena/slab allocator in the pack that derives object counts from a
// run size the same way spec.md §4.3 describes.
package slab

import (
	"container/list"

	"github.com/disnoca/sufsos/internal/pagemem"
)

// slabHeaderOverhead approximates the bytes an on-slab descriptor's fixed
// fields (numFree, base, bookkeeping) cost against the run, beyond the
// free-index array itself. It only affects the packing computation in
// cache.go, never object contents.
const slabHeaderOverhead = 16

// Slab is back-of-page metadata for one contiguous page run belonging to a
// cache, per spec.md §3's "Slab" entry. In this hosted rewrite s_mem is a
// []byte view over the cache's Manager arena (pagemem.Manager.DmapN) rather
// than a raw pointer, and the free-index array is a plain LIFO stack.
type Slab struct {
	cache   *Cache
	base    pagemem.Addr // first page of the run
	mem     []byte       // s_mem: pagesPerSlab*PGSIZE bytes backing every object
	numFree int
	freeIdx []int // LIFO stack of free slot indices; top is freeIdx[numFree-1]

	descAddr pagemem.Addr // off-slab descriptor's kmalloc'd address, if offSlab
	hasDesc  bool

	elem *list.Element // this slab's node in whichever of cache's three lists it's on
	on   *list.List     // the list elem currently lives on
}

// objAt returns the byte range for slot idx within the run.
func (s *Slab) objAt(idx int) []byte {
	sz := s.cache.objSize
	return s.mem[idx*sz : (idx+1)*sz]
}

// indexOf returns the slot index owning addr, which must lie within the
// slab's run.
func (s *Slab) indexOf(addr pagemem.Addr) int {
	return int(addr-s.base) / s.cache.objSize
}

// relist moves s to the list matching its current numFree, per the
// free/partial/full invariant in spec.md's Cache glossary entry. A no-op if
// s is already on the right list.
func (s *Slab) relist() {
	target := s.cache.listFor(s)
	if s.on == target {
		return
	}
	if s.on != nil && s.elem != nil {
		s.on.Remove(s.elem)
	}
	s.elem = target.PushBack(s)
	s.on = target
}

// allocOne pops a free slot from s and returns its address and byte view,
// transitioning s across lists when the pop crosses a threshold (spec.md
// §4.3: "transitions the slab across lists ... when thresholds are
// crossed").
func (s *Slab) allocOne() (pagemem.Addr, []byte) {
	s.numFree--
	idx := s.freeIdx[s.numFree]
	s.relist()
	addr := s.base + pagemem.Addr(idx*s.cache.objSize)
	return addr, s.objAt(idx)
}

// freeOne pushes idx back onto the free stack and transitions s across
// lists, reversing allocOne's transitions (spec.md §4.3: cache_free
// "reverses list transitions").
func (s *Slab) freeOne(idx int) {
	s.freeIdx[s.numFree] = idx
	s.numFree++
	s.relist()
}
