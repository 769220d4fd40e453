// Package pagemem implements the bottom two layers of the storage stack:
// the physical-page bitmap allocator (spec.md §4.1), the page frame table
// used by the slab layer for reverse lookup (spec.md §3), and the memory
// manager that ties them to a boot-time memory map (spec.md §4.2).
//
// The teacher (biscuit/src/mem/mem.go) tracks physical pages with a
// reference-counted free list threaded through a Physpg_t array, since it
// runs under the Go runtime's own page allocator. This module instead
// implements the bitmap scheme spec.md actually calls for, grounded on the
// bitmap-per-frame allocators in the example pack that do the same thing
// bare-metal (other_examples' gopher-os bitmap_allocator.go and
// physical-allocator.go track pools of frames with a []uint64 free bitmap
// and a startFrame/endFrame pair per pool, exactly the shape PageBitmap
// uses for a single pool covering [start, end)).
package pagemem

import (
	"github.com/disnoca/sufsos/internal/bitmap"
	"github.com/disnoca/sufsos/internal/kutil"
	"github.com/disnoca/sufsos/internal/sufslog"
)

// PGSHIFT is the base-2 exponent of the page size, matching mem.PGSHIFT.
const PGSHIFT = 12

// PGSIZE is the size of a single page in bytes, matching mem.PGSIZE.
const PGSIZE Addr = 1 << PGSHIFT

// wordBits is the bitmap word width used when reserving space for the
// bitmap's own backing storage during Init, matching spec.md §4.1's
// "aligns mem_start up to machine-word size".
const wordBits = 64

// Addr is a physical address, matching mem.Pa_t's role in the teacher.
type Addr uint64

func alignUp(v, b Addr) Addr   { return kutil.RoundUp(v, b) }
func alignDown(v, b Addr) Addr { return kutil.RoundDown(v, b) }

// PageBitmap tracks free/used page frames in the region [start, end) with
// one bit per page, per spec.md §4.1.
type PageBitmap struct {
	start  Addr
	end    Addr
	nFrame int // number of real (non-padding) frames
	bm     *bitmap.Bitmap
}

func (p *PageBitmap) frameOf(addr Addr) int {
	return int((addr - p.start) / PGSIZE)
}

func (p *PageBitmap) addrOf(frame int) Addr {
	return p.start + Addr(frame)*PGSIZE
}

// InitPageBitmap aligns memStart up to machine-word size and memEnd down to
// a page boundary, then lays out a bitmap able to track every page in
// between. It returns the bitmap and the usable_start address: the first
// page after the bitmap's own storage, aligned up to a page. The bitmap's
// word array is sized to a whole number of words; any trailing bits beyond
// the real frame count are pre-marked used so a word-wise scan never hands
// out a frame that doesn't exist.
//
// InitPageBitmap calls sufslog.Fatal (the panic sink of spec.md §7) if
// memStart >= memEnd after alignment, since continuing would let the
// allocator hand out bogus addresses.
func InitPageBitmap(memStart, memEnd Addr) (*PageBitmap, Addr) {
	alignedStart := alignUp(memStart, 8)
	alignedEnd := alignDown(memEnd, PGSIZE)
	if alignedStart >= alignedEnd {
		sufslog.Fatal("pagebitmap: mem_start >= mem_end")
	}

	totalFrames := int((alignedEnd - alignedStart) / PGSIZE)
	bitmapBytes := Addr(bitmap.WordsFor(totalFrames) * 8)
	usableStart := alignUp(alignedStart+bitmapBytes, PGSIZE)
	if usableStart >= alignedEnd {
		sufslog.Fatal("pagebitmap: no usable memory after bitmap storage")
	}

	nFrame := int((alignedEnd - usableStart) / PGSIZE)
	padded := bitmap.WordsFor(nFrame) * wordBits

	bm := bitmap.New(padded)
	if padded > nFrame {
		bm.Exclude(nFrame, padded)
	}

	pb := &PageBitmap{start: usableStart, end: alignedEnd, nFrame: nFrame, bm: bm}
	return pb, usableStart
}

// Exclude marks [floor(lo), ceil(hi)) used. It must only be called before
// any allocation, per spec.md §4.1.
func (p *PageBitmap) Exclude(lo, hi Addr) {
	if hi <= p.start || lo >= p.end {
		return
	}
	if lo < p.start {
		lo = p.start
	}
	if hi > p.end {
		hi = p.end
	}
	loFrame := p.frameOf(alignDown(lo, PGSIZE))
	hiFrame := p.frameOf(alignUp(hi, PGSIZE))
	p.bm.Exclude(loFrame, hiFrame)
}

// AllocRange returns the address of the first frame of a run of n
// contiguous free frames within [lo, hi), marking them used, or 0,false if
// no such run exists, n == 0, or the window does not intersect managed
// memory.
func (p *PageBitmap) AllocRange(n int, lo, hi Addr) (Addr, bool) {
	if n <= 0 || hi <= p.start || lo >= p.end {
		return 0, false
	}
	if lo < p.start {
		lo = p.start
	}
	if hi > p.end {
		hi = p.end
	}
	loFrame := p.frameOf(alignUp(lo, PGSIZE))
	hiFrame := p.frameOf(alignDown(hi, PGSIZE))
	if hiFrame <= loFrame {
		return 0, false
	}
	entry, _, ok := p.bm.AllocWindow(n, loFrame, hiFrame)
	if !ok {
		return 0, false
	}
	return p.addrOf(entry), true
}

// Alloc returns a run of n contiguous free frames anywhere in managed
// memory.
func (p *PageBitmap) Alloc(n int) (Addr, bool) {
	return p.AllocRange(n, p.start, p.end)
}

// AllocAbove returns a run of n contiguous free frames at or above lo.
func (p *PageBitmap) AllocAbove(n int, lo Addr) (Addr, bool) {
	return p.AllocRange(n, lo, p.end)
}

// AllocBelow returns a run of n contiguous free frames below hi.
func (p *PageBitmap) AllocBelow(n int, hi Addr) (Addr, bool) {
	return p.AllocRange(n, p.start, hi)
}

// Free clears n bits starting at addr. It is idempotent on an
// already-free run.
func (p *PageBitmap) Free(addr Addr, n int) {
	if n <= 0 || addr < p.start || addr >= p.end {
		return
	}
	p.bm.Free(p.frameOf(addr), n)
}

// Start returns the first managed address.
func (p *PageBitmap) Start() Addr { return p.start }

// End returns the exclusive end of managed memory.
func (p *PageBitmap) End() Addr { return p.end }

// NumFrames returns the count of real frames tracked.
func (p *PageBitmap) NumFrames() int { return p.nFrame }
