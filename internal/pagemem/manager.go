package pagemem

import (
	"github.com/disnoca/sufsos/internal/bootio"
	"github.com/disnoca/sufsos/internal/sufslog"
)

// HighMemStart is the kernel/highmem split address (spec.md §4.2): below it,
// frames are assumed directly accessible through an identity-mapped kernel
// window; above it, only reachable via transient mappings. 896 MiB mirrors
// the classic x86 3:1 split the spec calls out.
const HighMemStart Addr = 896 * 1024 * 1024

// Flags controls AllocPages placement and failure policy, matching the
// PA_HIGHMEM/PA_KERNEL flags named in spec.md §4.2.
type Flags uint32

const (
	// FlagHighmem requests a run above HighMemStart if possible, falling
	// back to below it.
	FlagHighmem Flags = 1 << iota
	// FlagKernel means the caller cannot tolerate failure: AllocPages
	// invokes the panic sink instead of returning false.
	FlagKernel
)

// Manager owns the page bitmap and frame table for one boot session, per
// spec.md §4.2.
//
// The teacher reaches a physical frame through Dmap/Dmap8: a fixed
// direct-mapped virtual window computed with pointer arithmetic over the
// identity map, since it runs with real physical memory and page tables.
// This module runs hosted, with no physical address space to map, so arena
// stands in for that window: a single backing slice sized to the managed
// region, with Dmap/DmapN doing by slicing what the teacher does by
// pointer arithmetic.
type Manager struct {
	bmp   *PageBitmap
	Table *FrameTable

	memStart Addr
	memEnd   Addr
	arena    []byte
}

// maxPhys32 caps mem_end at 2^32, per spec.md §4.2 ("capping at 2^32").
const maxPhys32 Addr = 1 << 32

// Init consumes the boot memory map: it finds the last available region's
// end address as mem_end (capped at 2^32), lays out the frame table and
// page bitmap just past kernelEnd (the end of the static kernel image — a
// plain address here since this module runs hosted rather than bare-metal),
// and excludes every hole between successive available regions. It calls
// the panic sink if no usable region exists.
func Init(bootMap bootio.MemoryMap, kernelEnd Addr) *Manager {
	var memEnd Addr
	found := false
	bootMap.Available(func(r bootio.MemoryRegion) bool {
		end := Addr(r.End())
		if end > memEnd {
			memEnd = end
		}
		found = true
		return true
	})
	if !found {
		sufslog.Fatal("pagemem: no usable memory region in boot map")
	}
	if memEnd > maxPhys32 {
		memEnd = maxPhys32
	}

	// Reserve room for the frame table just after the kernel image. The
	// table's size depends on the frame count, which depends on where the
	// bitmap starts, which depends on the table's size — so, like the
	// teacher, we size the table against the full candidate region and
	// let the bitmap's own Init trim the final usable range.
	candidateFrames := int((memEnd - kernelEnd) / PGSIZE)
	tableBytes := Addr(candidateFrames) * frameOwnerSize
	afterTable := alignUp(kernelEnd+tableBytes, 8)

	bmp, usableStart := InitPageBitmap(afterTable, memEnd)
	table := NewFrameTable(usableStart, bmp.NumFrames())

	m := &Manager{
		bmp:      bmp,
		Table:    table,
		memStart: usableStart,
		memEnd:   memEnd,
		arena:    make([]byte, memEnd-usableStart),
	}

	// Exclude every hole between successive available regions, and
	// anything below usableStart that the boot map reports as available
	// but which the table/bitmap layout has already claimed.
	m.excludeHoles(bootMap)
	sufslog.Infof("pagemem: managing %d frames in [0x%x, 0x%x)", bmp.NumFrames(), usableStart, memEnd)
	return m
}

// frameOwnerSize approximates sizeof(Owner) in the hosted Go runtime; two
// interface words each carrying a (type, data) pair.
const frameOwnerSize Addr = 32

func (m *Manager) excludeHoles(bootMap bootio.MemoryMap) {
	m.bmp.Exclude(0, m.memStart)

	var regions []bootio.MemoryRegion
	bootMap.Available(func(r bootio.MemoryRegion) bool {
		regions = append(regions, r)
		return true
	})
	for i := 0; i+1 < len(regions); i++ {
		gapLo := Addr(regions[i].End())
		gapHi := Addr(regions[i+1].Addr)
		if gapHi > gapLo {
			m.bmp.Exclude(gapLo, gapHi)
		}
	}
}

// AllocPages allocates n contiguous pages honoring flags and returns their
// base address. If PA_HIGHMEM is set it tries above HighMemStart first,
// falling back below it on failure (or trying below it directly otherwise).
// It invokes the panic sink on out-of-memory when PA_KERNEL is set.
func (m *Manager) AllocPages(n int, flags Flags) (Addr, bool) {
	var addr Addr
	var ok bool
	if flags&FlagHighmem != 0 {
		addr, ok = m.bmp.AllocAbove(n, HighMemStart)
	}
	if !ok {
		addr, ok = m.bmp.AllocBelow(n, HighMemStart)
	}
	if !ok && flags&FlagKernel != 0 {
		sufslog.Fatal("pagemem: out of memory")
	}
	return addr, ok
}

// FreePages releases n pages starting at addr.
func (m *Manager) FreePages(addr Addr, n int) {
	m.bmp.Free(addr, n)
}

// DmapN returns the n*PGSIZE-byte window of arena backing the run starting
// at addr, the hosted stand-in for the teacher's Dmap/Dmap8. addr must lie
// within [memStart, memEnd) and name a run this Manager allocated.
func (m *Manager) DmapN(addr Addr, n int) []byte {
	off := int(addr - m.memStart)
	length := n * int(PGSIZE)
	return m.arena[off : off+length]
}

// Dmap returns the single-page window backing addr.
func (m *Manager) Dmap(addr Addr) []byte {
	return m.DmapN(addr, 1)
}

// MemStart returns the first usable managed address.
func (m *Manager) MemStart() Addr { return m.memStart }

// MemEnd returns the exclusive end of managed memory.
func (m *Manager) MemEnd() Addr { return m.memEnd }
