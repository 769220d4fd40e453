package sufs

import "github.com/disnoca/sufsos/internal/errno"

// searchDir implements spec.md §4.5.6: a linear scan of every allocated
// block of dir's data for a dentry named name. It returns the inumber, or
// 0 if not found (or on a read failure, treated the same as "not found" by
// callers that already validated dir is a directory).
func (fs *Fs) searchDir(dir *Dinode, name string) uint32 {
	nblocks := numDataBlocks(dir, fs.sb.BlockSize)
	for i := uint32(0); i < nblocks; i++ {
		blk, ok := fs.getDataBlock(dir, i)
		if !ok {
			continue
		}
		if !fs.readBlock(blk, fs.blockBuf) {
			return 0
		}
		if inum := findInBlock(fs.blockBuf, fs.sb.Dentpb, name); inum != 0 {
			return inum
		}
	}
	return 0
}

// findInBlock scans one directory data block of dentpb entries for name.
func findInBlock(buf []byte, dentpb uint32, name string) uint32 {
	var d Dentry
	for i := uint32(0); i < dentpb; i++ {
		d.Decode(buf[i*DentrySize : (i+1)*DentrySize])
		if d.Inum != 0 && d.NameString() == name {
			return d.Inum
		}
	}
	return 0
}

// writeToDir implements spec.md §4.5.6: the first free slot (inumber == 0)
// across dir's existing blocks wins; if none exists, a new data block is
// allocated (failing EFBIG if that would exceed max_file_size).
func (fs *Fs) writeToDir(dir *Dinode, inum uint32, name string) error {
	dentpb := fs.sb.Dentpb
	nblocks := numDataBlocks(dir, fs.sb.BlockSize)

	for i := uint32(0); i < nblocks; i++ {
		blk, ok := fs.getDataBlock(dir, i)
		if !ok {
			continue
		}
		if !fs.readBlock(blk, fs.blockBuf) {
			return errno.EIO
		}
		if slot, found := findFreeSlot(fs.blockBuf, dentpb); found {
			writeSlot(fs.blockBuf, slot, inum, name)
			if !fs.writeBlock(blk, fs.blockBuf) {
				return errno.EIO
			}
			return nil
		}
	}

	end := uint64(nblocks+1) * uint64(fs.sb.BlockSize)
	if end > fs.sb.MaxFileSize {
		return errno.EFBIG
	}
	blk, err := fs.allocDataBlock(dir, nblocks)
	if err != nil {
		return err
	}
	zero(fs.blockBuf)
	writeSlot(fs.blockBuf, 0, inum, name)
	if !fs.writeBlock(blk, fs.blockBuf) {
		return errno.EIO
	}
	dir.Size = uint64(nblocks+1) * uint64(fs.sb.BlockSize)
	dir.Mtime = now()
	return nil
}

func findFreeSlot(buf []byte, dentpb uint32) (uint32, bool) {
	var d Dentry
	for i := uint32(0); i < dentpb; i++ {
		d.Decode(buf[i*DentrySize : (i+1)*DentrySize])
		if d.Inum == 0 {
			return i, true
		}
	}
	return 0, false
}

func writeSlot(buf []byte, slot uint32, inum uint32, name string) {
	var d Dentry
	d.Inum = inum
	d.SetName(name)
	d.Encode(buf[slot*DentrySize : (slot+1)*DentrySize])
}

// removeFromDir implements spec.md §4.5.6: zeroes the dentry naming inum.
// If the containing block becomes empty and is not the directory's first
// block, the block is released and the directory compacted.
func (fs *Fs) removeFromDir(dir *Dinode, inum uint32) error {
	dentpb := fs.sb.Dentpb
	nblocks := numDataBlocks(dir, fs.sb.BlockSize)

	for i := uint32(0); i < nblocks; i++ {
		blk, ok := fs.getDataBlock(dir, i)
		if !ok {
			continue
		}
		if !fs.readBlock(blk, fs.blockBuf) {
			return errno.EIO
		}
		slot, found := findEntry(fs.blockBuf, dentpb, inum)
		if !found {
			continue
		}
		clearSlot(fs.blockBuf, slot)
		if !fs.writeBlock(blk, fs.blockBuf) {
			return errno.EIO
		}

		if i == 0 || !blockEmpty(fs.blockBuf, dentpb) {
			return nil
		}
		return fs.compactDir(dir, i, nblocks)
	}
	return errno.ENOENT
}

func findEntry(buf []byte, dentpb uint32, inum uint32) (uint32, bool) {
	var d Dentry
	for i := uint32(0); i < dentpb; i++ {
		d.Decode(buf[i*DentrySize : (i+1)*DentrySize])
		if d.Inum == inum {
			return i, true
		}
	}
	return 0, false
}

func clearSlot(buf []byte, slot uint32) {
	var d Dentry
	d.Encode(buf[slot*DentrySize : (slot+1)*DentrySize])
}

func blockEmpty(buf []byte, dentpb uint32) bool {
	var d Dentry
	for i := uint32(0); i < dentpb; i++ {
		d.Decode(buf[i*DentrySize : (i+1)*DentrySize])
		if d.Inum != 0 {
			return false
		}
	}
	return true
}

// compactDir releases the now-empty block at index removedIdx of a
// directory with nblocks total blocks, per spec.md §4.5.6: if the
// directory is entirely direct-addressed, shift di_db down over the hole
// and zero the freed tail slot; otherwise, copy the last block's contents
// over the removed slot and release the last block. Three-level indirect
// compaction is declared but not implemented, per spec.md §4.5.6/§9 — this
// module follows that explicit carve-out rather than extending it.
func (fs *Fs) compactDir(dir *Dinode, removedIdx, nblocks uint32) error {
	last := nblocks - 1

	if nblocks <= NDADDR {
		for i := removedIdx; i < last; i++ {
			dir.Direct[i] = dir.Direct[i+1]
		}
		freedBlk := dir.Direct[last]
		dir.Direct[last] = 0
		if err := fs.dbfree(freedBlk); err != nil {
			return err
		}
		// last < NDADDR here, so this block was counted by allocDataBlock;
		// undo that count now that it's freed.
		dir.Nblocks--
	} else {
		lastBlk, ok := fs.getDataBlock(dir, last)
		if !ok {
			return errno.EIO
		}
		removedBlk, ok := fs.getDataBlock(dir, removedIdx)
		if !ok {
			return errno.EIO
		}
		if !fs.readBlock(lastBlk, fs.blockBuf) {
			return errno.EIO
		}
		if !fs.writeBlock(removedBlk, fs.blockBuf) {
			return errno.EIO
		}
		if err := fs.dbfree(lastBlk); err != nil {
			return err
		}
		// last >= NDADDR whenever nblocks > NDADDR, so the freed block was
		// indirect-addressed and allocDataBlock never counted it in
		// ino.Nblocks (it only counts idx < NDADDR); don't decrement here
		// either, or Nblocks would underflow below its true value.
	}

	dir.Size = uint64(last) * uint64(fs.sb.BlockSize)
	dir.Mtime = now()
	return nil
}

// numDataBlocks returns the number of blockSize-sized data blocks currently
// addressed by ino's recorded size (the directory/file's logical block
// count, independent of holes).
func numDataBlocks(ino *Dinode, blockSize uint32) uint32 {
	if ino.Size == 0 {
		return 0
	}
	return uint32((ino.Size + uint64(blockSize) - 1) / uint64(blockSize))
}

// dirIsEmpty reports whether dir contains no entry beyond "." and ".." in
// its first block and has no block beyond the first, per spec.md §4.5.7's
// rmdir "reject if not empty" check.
func (fs *Fs) dirIsEmpty(dir *Dinode) (bool, error) {
	if numDataBlocks(dir, fs.sb.BlockSize) > 1 {
		return false, nil
	}
	blk, ok := fs.getDataBlock(dir, 0)
	if !ok {
		return true, nil
	}
	if !fs.readBlock(blk, fs.blockBuf) {
		return false, errno.EIO
	}
	var d Dentry
	for i := uint32(0); i < fs.sb.Dentpb; i++ {
		d.Decode(fs.blockBuf[i*DentrySize : (i+1)*DentrySize])
		if d.Inum == 0 {
			continue
		}
		if n := d.NameString(); n != "." && n != ".." {
			return false, nil
		}
	}
	return true, nil
}
