package sufs

import (
	"github.com/disnoca/sufsos/internal/bitmap"
	"github.com/disnoca/sufsos/internal/errno"
)

// ialloc and dballoc both implement spec.md §4.5.8: scan the on-disk map one
// block at a time via the generic bitmap allocator (§4.6), write the block
// back on success, decrement the superblock's free count, and rewrite the
// superblock. Bit 0 of each map is pre-allocated by the formatter (mkfs), so
// entry 0 is never returned.

// allocFromMap scans the nblocks-block, blockSize-byte bitmap starting at
// mapBoff for one free entry among the first total valid entries, using
// fs.mapBuf as the scratch block. total bounds the last (possibly partial)
// block's valid bit range — a map always has ceil(total/mapentpb) blocks,
// so every block but the last is exactly full. It returns the absolute
// entry index (0 reserved/invalid) or ok=false if the whole map is
// exhausted.
func (fs *Fs) allocFromMap(mapBoff, nblocks, total uint32) (entry uint32, ok bool) {
	entriesPerBlock := fs.sb.Mapentpb
	for b := uint32(0); b < nblocks; b++ {
		avail := entriesPerBlock
		if rem := total - b*entriesPerBlock; rem < avail {
			avail = rem
		}
		if !fs.readBlock(mapBoff+b, fs.mapBuf) {
			return 0, false
		}
		words := bytesToWords(fs.mapBuf)
		bm := bitmap.Wrap(words, int(avail))
		i, _, found := bm.Alloc(1)
		if !found {
			continue
		}
		if uint32(i) == 0 && b == 0 {
			// Entry 0 is permanently reserved by the formatter; a fresh
			// scan should never land on it since mkfs pre-marks it used,
			// but guard against a malformed image instead of handing out
			// inumber/block 0.
			bm.Free(0, 1)
			continue
		}
		wordsToBytes(words, fs.mapBuf)
		if !fs.writeBlock(mapBoff+b, fs.mapBuf) {
			return 0, false
		}
		return b*entriesPerBlock + uint32(i), true
	}
	return 0, false
}

// freeInMap clears entry's bit within the nblocks-block bitmap at mapBoff.
func (fs *Fs) freeInMap(mapBoff, entry uint32) bool {
	entriesPerBlock := fs.sb.Mapentpb
	b := entry / entriesPerBlock
	i := entry % entriesPerBlock
	if !fs.readBlock(mapBoff+b, fs.mapBuf) {
		return false
	}
	words := bytesToWords(fs.mapBuf)
	bm := bitmap.Wrap(words, int(entriesPerBlock))
	bm.Free(int(i), 1)
	wordsToBytes(words, fs.mapBuf)
	return fs.writeBlock(mapBoff+b, fs.mapBuf)
}

// ialloc allocates a free inumber, decrements the free-inode count, and
// rewrites the superblock, per spec.md §4.5.8. It fails ENOSPC if every
// inode is in use.
func (fs *Fs) ialloc() (uint32, error) {
	inum, ok := fs.allocFromMap(fs.sb.InodeMapBoff, fs.sb.InodeMapBsize, fs.sb.InodeCount)
	if !ok {
		return 0, errno.ENOSPC
	}
	fs.sb.InodeFreeCount--
	if !fs.writeSuperblock() {
		return 0, errno.EIO
	}
	return inum, nil
}

// ifree releases inum back to the inode map.
func (fs *Fs) ifree(inum uint32) error {
	if !fs.freeInMap(fs.sb.InodeMapBoff, inum) {
		return errno.EIO
	}
	fs.sb.InodeFreeCount++
	if !fs.writeSuperblock() {
		return errno.EIO
	}
	return nil
}

// dballoc allocates a free data-block number, per spec.md §4.5.8. The
// returned number is the absolute logical block (DblocksBoff plus the
// entry's index in the data-block map).
func (fs *Fs) dballoc() (uint32, error) {
	rel, ok := fs.allocFromMap(fs.sb.DblockMapBoff, fs.sb.DblockMapBsize, fs.sb.DataBlockCount)
	if !ok {
		return 0, errno.ENOSPC
	}
	fs.sb.DataBlockFreeCount--
	if !fs.writeSuperblock() {
		return 0, errno.EIO
	}
	return fs.sb.DblocksBoff + rel, nil
}

// dbfree releases absolute logical block blk back to the data-block map.
func (fs *Fs) dbfree(blk uint32) error {
	rel := blk - fs.sb.DblocksBoff
	if !fs.freeInMap(fs.sb.DblockMapBoff, rel) {
		return errno.EIO
	}
	fs.sb.DataBlockFreeCount++
	if !fs.writeSuperblock() {
		return errno.EIO
	}
	return nil
}

// bytesToWords reinterprets a little-endian byte block buffer as a []uint64
// word slice for the generic bitmap allocator, matching internal/bitmap's
// Words-over-[]uint64 contract without an unsafe cast (this module is
// hosted). buf's length must be a multiple of 8.
func bytesToWords(buf []byte) []uint64 {
	words := make([]uint64, len(buf)/8)
	for i := range words {
		var w uint64
		for j := 0; j < 8; j++ {
			w |= uint64(buf[i*8+j]) << (8 * j)
		}
		words[i] = w
	}
	return words
}

// wordsToBytes is the inverse of bytesToWords, writing words back into buf.
func wordsToBytes(words []uint64, buf []byte) {
	for i, w := range words {
		for j := 0; j < 8; j++ {
			buf[i*8+j] = byte(w >> (8 * j))
		}
	}
}
