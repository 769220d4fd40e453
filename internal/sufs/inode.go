package sufs

import "github.com/disnoca/sufsos/internal/errno"

// inodeBlockAndOffset locates inum's dinode: the block within the inode
// region and the byte offset of that dinode within the block, per
// spec.md §4.5.8's "inopb = blockSize/128" packing.
func (fs *Fs) inodeBlockAndOffset(inum uint32) (block uint32, off int) {
	idx := inum
	block = fs.sb.InodesBoff + idx/fs.sb.Inopb
	off = int(idx%fs.sb.Inopb) * DinodeSize
	return block, off
}

// readInodeInto loads inum's dinode into ino using fs.blockBuf, per
// spec.md's iget. It returns false on a storage I/O failure.
func (fs *Fs) readInodeInto(ino *Dinode, inum uint32) bool {
	block, off := fs.inodeBlockAndOffset(inum)
	if !fs.readBlock(block, fs.blockBuf) {
		return false
	}
	ino.Decode(fs.blockBuf[off : off+DinodeSize])
	return true
}

// writeInodeFrom writes ino back to its on-disk slot (read-modify-write,
// since several dinodes share one block), per spec.md's iput.
func (fs *Fs) writeInodeFrom(ino *Dinode) bool {
	block, off := fs.inodeBlockAndOffset(ino.Inum)
	if !fs.readBlock(block, fs.blockBuf) {
		return false
	}
	ino.Encode(fs.blockBuf[off : off+DinodeSize])
	return fs.writeBlock(block, fs.blockBuf)
}

// iget loads inum's inode, per spec.md §4.5.2. SUFS keeps no inode cache
// (§5), so this is simply a disk read into a fresh copy.
func (fs *Fs) iget(inum uint32) (*Dinode, error) {
	if inum == 0 || inum >= fs.sb.InodeCount {
		return nil, errno.EINVAL
	}
	ino := &Dinode{}
	if !fs.readInodeInto(ino, inum) {
		return nil, errno.EIO
	}
	return ino, nil
}

// iput writes ino back to disk and releases it, per spec.md §4.5.2. There
// is no in-memory copy to free beyond letting the caller drop its pointer.
func (fs *Fs) iput(ino *Dinode) error {
	if !fs.writeInodeFrom(ino) {
		return errno.EIO
	}
	return nil
}
