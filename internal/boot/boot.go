// Package boot ties the memory manager and slab allocator together at
// start-of-day, the way spec.md §4.2's init contract describes: lay out the
// page bitmap and frame table, then "initialize the slab allocator; create
// a cache for page-frame descriptors". internal/pagemem and internal/slab
// can't do this themselves — pagemem.Manager.Init can't import slab (slab
// already imports pagemem for Addr/Manager/Owner), so the orchestration
// step spec.md puts inside the memory manager's own init lives one layer up
// here instead, the same way the teacher's kernel main (not part of this
// module's scope) is what actually calls mem.Physmem.Init and then sets up
// the kernel's own caches, rather than mem doing it internally.
package boot

import (
	"github.com/disnoca/sufsos/internal/bootio"
	"github.com/disnoca/sufsos/internal/pagemem"
	"github.com/disnoca/sufsos/internal/slab"
)

// pgframeDescSize is the nominal size of a page-frame descriptor object,
// sized to comfortably hold a pagemem.Owner pair plus bookkeeping in the
// hosted runtime.
const pgframeDescSize = 32

// Storage bundles the fully initialized memory manager and slab allocator
// for one boot session.
type Storage struct {
	Mem  *pagemem.Manager
	Slab *slab.Allocator

	// PgframeCache is the cache for page-frame descriptors spec.md §4.2
	// says init creates. Nothing in this hosted rewrite allocates pgframe
	// descriptors out of it directly (the frame table is a flat array, per
	// the index-based encoding spec.md §9 allows), but it is created here,
	// alongside the general ladder, to preserve the init-time invariant
	// and give a would-be future allocator a place to draw from.
	PgframeCache *slab.Cache
}

// Init lays out the page bitmap and frame table over bootMap (pagemem.Init),
// then brings up the slab allocator over the result and creates the
// page-frame descriptor cache, per spec.md §4.2.
func Init(bootMap bootio.MemoryMap, kernelEnd pagemem.Addr) *Storage {
	mem := pagemem.Init(bootMap, kernelEnd)
	alloc := slab.NewAllocator(mem)
	pgframe := alloc.CacheCreate("pgframe_desc", pgframeDescSize, nil, nil)
	return &Storage{Mem: mem, Slab: alloc, PgframeCache: pgframe}
}
