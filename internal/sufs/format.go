package sufs

import "github.com/disnoca/sufsos/internal/errno"

// FormatParams describes a new volume's layout, the parameters mkfs-style
// tooling supplies, grounded on the teacher's mkfs.go constants
// (nlogblks/ninodeblks/ndatablks) generalized to this format's own region
// names.
type FormatParams struct {
	BlockSize      uint32
	InodeCount     uint32
	DataBlockCount uint32
	VolumeName     string
}

// Format writes a fresh SUFS volume to dev per spec.md §6's on-disk layout
// and §4.5.8's "bit 0 in each map is pre-allocated by the formatter"
// invariant, then creates the root directory (inumber 1, containing "."
// and ".." entries pointing to itself). It is the formatter side of the
// Mount/self-heal contract in §4.5.1, grounded on the teacher's
// ufs.MkDisk/mkfs.go entry point.
func Format(dev BlockDevice, p FormatParams) error {
	if p.BlockSize < MinBlockSize || p.BlockSize > MaxBlockSize || !isPowerOfTwo(p.BlockSize) || p.BlockSize%SectorSize != 0 {
		return errno.EINVAL
	}

	var sb Superblock
	sb.Magic = Magic
	sb.BlockSize = p.BlockSize
	sb.DeriveConstants()

	sbBlockPlus1 := uint32(SuperblockOffset/int(p.BlockSize)) + 1
	sb.InodeMapBoff = sbBlockPlus1
	sb.InodeMapBsize = ceilDivU32(p.InodeCount, sb.Mapentpb)
	sb.DblockMapBoff = sb.InodeMapBoff + sb.InodeMapBsize
	sb.DblockMapBsize = ceilDivU32(p.DataBlockCount, sb.Mapentpb)
	sb.InodesBoff = sb.DblockMapBoff + sb.DblockMapBsize
	sb.IblockCount = ceilDivU32(p.InodeCount, sb.Inopb)
	sb.DblocksBoff = sb.InodesBoff + sb.IblockCount
	sb.DblockCount = p.DataBlockCount
	sb.TotalBlocks = sb.DblocksBoff + sb.DblockCount

	sb.InodeCount = p.InodeCount
	sb.DataBlockCount = p.DataBlockCount
	sb.RootIno = 1
	sb.LastWrite = uint32(now())
	copy(sb.VolumeName[:], p.VolumeName)

	fs := &Fs{
		dev:       dev,
		sb:        sb,
		blockBuf:  make([]byte, p.BlockSize),
		mapBuf:    make([]byte, p.BlockSize),
		indirBuf:  make([]byte, p.BlockSize),
		forbidden: DefaultForbidden,
	}

	if uint64(sb.TotalBlocks)*uint64(sb.Secpb) > dev.TotalSectors() {
		return errno.ENOSPC
	}

	zero(fs.blockBuf)
	for b := uint32(0); b < sb.InodeMapBsize; b++ {
		if !fs.writeBlock(sb.InodeMapBoff+b, fs.blockBuf) {
			return errno.EIO
		}
	}
	for b := uint32(0); b < sb.DblockMapBsize; b++ {
		if !fs.writeBlock(sb.DblockMapBoff+b, fs.blockBuf) {
			return errno.EIO
		}
	}
	for b := uint32(0); b < sb.IblockCount; b++ {
		if !fs.writeBlock(sb.InodesBoff+b, fs.blockBuf) {
			return errno.EIO
		}
	}

	// Reserve entry 0 of each map (never a valid inumber/data block), then
	// allocate entry 1 for the root inode/root directory block.
	if !fs.markMapEntry(sb.InodeMapBoff, 0) || !fs.markMapEntry(sb.InodeMapBoff, 1) {
		return errno.EIO
	}
	if !fs.markMapEntry(sb.DblockMapBoff, 0) || !fs.markMapEntry(sb.DblockMapBoff, 1) {
		return errno.EIO
	}
	sb.InodeFreeCount = sb.InodeCount - 2
	sb.DataBlockFreeCount = sb.DataBlockCount - 2
	fs.sb = sb

	sb.MaxFileSize = sb.MaxFileSizeFor()
	fs.sb = sb

	rootBlk := sb.DblocksBoff + 1
	zero(fs.blockBuf)
	writeSlot(fs.blockBuf, 0, sb.RootIno, ".")
	writeSlot(fs.blockBuf, 1, sb.RootIno, "..")
	if !fs.writeBlock(rootBlk, fs.blockBuf) {
		return errno.EIO
	}

	root := &Dinode{
		Inum:  sb.RootIno,
		Mode:  IFDIR | 0755,
		Nlink: 2,
		Size:  uint64(p.BlockSize),
		Ctime: now(),
		Mtime: now(),
		Atime: now(),
	}
	root.Direct[0] = rootBlk
	root.Nblocks = 1
	if !fs.writeInodeFrom(root) {
		return errno.EIO
	}

	return fs.writeSuperblock()
}

// markMapEntry sets bit entry of the bitmap block at mapBoff (bit 0 within
// the first map block), used only during formatting to reserve entries 0
// and 1 without going through the free-count bookkeeping of ialloc/dballoc.
func (fs *Fs) markMapEntry(mapBoff, entry uint32) bool {
	if !fs.readBlock(mapBoff, fs.mapBuf) {
		return false
	}
	fs.mapBuf[entry/8] |= 1 << (entry % 8)
	return fs.writeBlock(mapBoff, fs.mapBuf)
}

func ceilDivU32(a, b uint32) uint32 {
	if a == 0 {
		return 0
	}
	return (a + b - 1) / b
}
