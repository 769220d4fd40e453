// Package bitmap implements the reusable contiguous-entry bitmap allocator
// described in spec.md §4.6: a bit-per-entry array over a caller-owned (or
// caller-sized) array of machine words, used both by the physical page
// allocator (internal/pagemem) and by the on-disk inode/data-block maps
// (internal/sufs).
//
// The word-wise scan-and-commit algorithm follows the bitmap allocators in
// the example pack that track free/used frames one bit per unit
// (other_examples' gopher-os bitmap_allocator.go marks frames with a
// shift-and-mask against a []uint64; nmxmxh-inos_v1's slab.go does the same
// at object granularity with a single uint64). This package generalizes that
// to an arbitrary number of words and an arbitrary allocation window.
package bitmap

const wordBits = 64

// Bitmap is a bit-per-entry allocator over a flat []uint64. Entry i is
// allocated iff bit i of Words is set. There is no concurrent-modification
// guard, matching spec.md §4.6 ("no concurrent-modification guard") and the
// single-threaded resource model of spec.md §5.
type Bitmap struct {
	Words []uint64
	// NBits is the number of entries actually represented; entries at
	// indices >= NBits (the tail of the last word) are not valid
	// allocation targets.
	NBits int
}

// WordsFor returns the number of uint64 words needed to represent nbits
// entries.
func WordsFor(nbits int) int {
	return (nbits + wordBits - 1) / wordBits
}

// New allocates a fresh zeroed bitmap with room for nbits entries, all free.
func New(nbits int) *Bitmap {
	return &Bitmap{Words: make([]uint64, WordsFor(nbits)), NBits: nbits}
}

// Wrap adapts an externally-owned word array (e.g. a disk block buffer read
// into memory) as a Bitmap without copying.
func Wrap(words []uint64, nbits int) *Bitmap {
	return &Bitmap{Words: words, NBits: nbits}
}

// Test reports whether entry is currently allocated.
func (b *Bitmap) Test(entry int) bool {
	if entry < 0 || entry >= b.NBits {
		return true
	}
	w, bit := entry/wordBits, uint(entry%wordBits)
	return b.Words[w]&(1<<bit) != 0
}

// setRun marks the n entries starting at start as allocated (bit = 1). It
// assumes the caller has already verified the run is in range and free.
func (b *Bitmap) setRun(start, n int) {
	b.mutateRun(start, n, true)
}

// clearRun marks the n entries starting at start as free (bit = 0).
func (b *Bitmap) clearRun(start, n int) {
	b.mutateRun(start, n, false)
}

// mutateRun sets or clears n contiguous bits starting at start, one word at
// a time. Setting k bits at offset b within a word uses the mask
// ((~(MAX<<k))<<b) | word, special-cased when k == wordBits since a shift by
// the full word width is undefined in Go just as it is in C.
func (b *Bitmap) mutateRun(start, n int, set bool) {
	for n > 0 {
		w := start / wordBits
		bit := uint(start % wordBits)
		k := wordBits - int(bit)
		if k > n {
			k = n
		}
		var mask uint64
		if k == wordBits {
			mask = ^uint64(0)
		} else {
			mask = (^(^uint64(0) << uint(k))) << bit
		}
		if set {
			b.Words[w] |= mask
		} else {
			b.Words[w] &^= mask
		}
		start += k
		n -= k
	}
}

// AllocWindow scans [lo, hi) (clamped to [0, NBits)) for the first run of n
// contiguous free entries, marks it allocated, and returns its starting
// entry index. maxRun reports the length of the longest free run observed
// during the scan (even on failure), which callers can surface as a
// fragmentation metric per spec.md §4.6. ok is false if n == 0, the window
// is empty, or no run of that length exists.
func (b *Bitmap) AllocWindow(n, lo, hi int) (entry, maxRun int, ok bool) {
	if n <= 0 {
		return 0, 0, false
	}
	if lo < 0 {
		lo = 0
	}
	if hi > b.NBits {
		hi = b.NBits
	}
	if lo >= hi {
		return 0, 0, false
	}

	contiguous := 0
	candidate := -1
	lastWord := (hi - 1) / wordBits

	for w := lo / wordBits; w <= lastWord; w++ {
		startBit := 0
		if w == lo/wordBits {
			startBit = lo % wordBits
		}
		endBit := wordBits - 1
		if w == lastWord {
			endBit = (hi - 1) % wordBits
		}

		word := b.Words[w]
		if contiguous == 0 && startBit == 0 && endBit == wordBits-1 && word == ^uint64(0) {
			// Fully allocated word; skip it in O(1).
			continue
		}

		for bit := startBit; bit <= endBit; bit++ {
			free := word&(1<<uint(bit)) == 0
			if free {
				if contiguous == 0 {
					candidate = w*wordBits + bit
				}
				contiguous++
				if contiguous >= maxRun {
					maxRun = contiguous
				}
				if contiguous == n {
					b.setRun(candidate, n)
					return candidate, maxRun, true
				}
			} else {
				contiguous = 0
			}
		}
	}
	return 0, maxRun, false
}

// Alloc scans the whole bitmap for n contiguous free entries. It is the
// entry point used by the on-disk inode/data-block maps (spec.md §4.5.8),
// where entry 0 is reserved by the formatter to signal failure and must
// never be returned as a valid allocation.
func (b *Bitmap) Alloc(n int) (entry, maxRun int, ok bool) {
	return b.AllocWindow(n, 0, b.NBits)
}

// Exclude marks [lo, hi) allocated unconditionally, used to carve out holes
// (spec.md §4.1 exclude) before any allocation takes place.
func (b *Bitmap) Exclude(lo, hi int) {
	if lo < 0 {
		lo = 0
	}
	if hi > b.NBits {
		hi = b.NBits
	}
	if lo >= hi {
		return
	}
	b.setRun(lo, hi-lo)
}

// Free clears n entries starting at entry. Idempotent on an already-free
// run: clearing a zero bit is a no-op, so it cannot corrupt unrelated bits.
func (b *Bitmap) Free(entry, n int) {
	if n <= 0 || entry < 0 || entry+n > b.NBits {
		return
	}
	b.clearRun(entry, n)
}
