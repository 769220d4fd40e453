package sufs

import (
	"github.com/disnoca/sufsos/internal/bpath"
	"github.com/disnoca/sufsos/internal/errno"
)

// File is an open SUFS file descriptor, per spec.md §4.5.2: "an open file
// descriptor is just the inode; it carries no cursor." Callers supply an
// explicit offset to every Read/Write.
type File struct {
	fs  *Fs
	ino *Dinode
}

// Open implements spec.md §4.5.2: normalize path (§4.7), resolve it to an
// inumber via namei, and iget an in-memory copy.
func (fs *Fs) Open(path, cwd string) (*File, error) {
	inum, _, err := fs.resolvePath(path, cwd)
	if err != nil {
		return nil, err
	}
	ino, err := fs.iget(inum)
	if err != nil {
		return nil, err
	}
	return &File{fs: fs, ino: ino}, nil
}

// Close writes the inode back to disk and releases the in-memory copy, per
// spec.md §4.5.2.
func (f *File) Close() error {
	return f.fs.iput(f.ino)
}

// Inum returns the file's inumber.
func (f *File) Inum() uint32 { return f.ino.Inum }

// Size returns the file's recorded size.
func (f *File) Size() uint64 { return f.ino.Size }

// IsDir reports whether the open file is a directory.
func (f *File) IsDir() bool { return f.ino.IsDir() }

// Read implements spec.md §4.5.3: reads up to n bytes at offset into buf
// (which must be at least n bytes), walking the head partial block, middle
// full blocks, and tail partial block — in this implementation, one
// uniform per-block loop that naturally covers all three, since each
// iteration already clips to whichever of the three phases pos falls in.
// It fails EINVAL if offset >= size, and otherwise clamps n to
// size - offset.
func (f *File) Read(buf []byte, offset uint64, n int) (int, error) {
	fs := f.fs
	ino := f.ino
	if offset >= ino.Size {
		return -1, errno.EINVAL
	}
	if uint64(n) > ino.Size-offset {
		n = int(ino.Size - offset)
	}

	bs := uint64(fs.sb.BlockSize)
	pos := offset
	remaining := n
	read := 0
	for remaining > 0 {
		blockIdx := uint32(pos / bs)
		blockOff := pos % bs
		chunk := int(bs - blockOff)
		if chunk > remaining {
			chunk = remaining
		}

		blk, ok := fs.getDataBlock(ino, blockIdx)
		if !ok {
			zero(fs.blockBuf)
		} else if !fs.readBlock(blk, fs.blockBuf) {
			return read, errno.EIO
		}
		copy(buf[read:read+chunk], fs.blockBuf[blockOff:int(blockOff)+chunk])

		pos += uint64(chunk)
		remaining -= chunk
		read += chunk
	}
	return read, nil
}

// Write implements spec.md §4.5.4: writes n bytes of data at offset,
// allocating new data blocks as needed (alloc_data_block) past the file's
// current extent. Fails EISDIR on a directory, EFBIG if
// offset + n > max_file_size. An allocation failure mid-write returns the
// partial byte count already written if >= 1, else -1 with ENOSPC — per
// spec.md §9's resolution of the source's ambiguous "wrote zero bytes"
// case. On any bytes written, di_size and di_mtime are updated and the
// inode rewritten by the caller via File.Close (or Fs.writeInodeFrom here,
// so a crash between Write and Close still observes the new size).
func (f *File) Write(data []byte, offset uint64, n int) (int, error) {
	fs := f.fs
	ino := f.ino
	if ino.IsDir() {
		return -1, errno.EISDIR
	}
	if offset+uint64(n) > fs.sb.MaxFileSize {
		return -1, errno.EFBIG
	}

	bs := uint64(fs.sb.BlockSize)
	pos := offset
	remaining := n
	written := 0

	for remaining > 0 {
		blockIdx := uint32(pos / bs)
		blockOff := pos % bs
		chunk := int(bs - blockOff)
		if chunk > remaining {
			chunk = remaining
		}

		blk, ok := fs.getDataBlock(ino, blockIdx)
		if !ok {
			var err error
			blk, err = fs.allocDataBlock(ino, blockIdx)
			if err != nil {
				if written >= 1 {
					break
				}
				return -1, err
			}
			zero(fs.blockBuf)
		} else if !fs.readBlock(blk, fs.blockBuf) {
			if written >= 1 {
				break
			}
			return -1, errno.EIO
		}

		copy(fs.blockBuf[blockOff:int(blockOff)+chunk], data[written:written+chunk])
		if !fs.writeBlock(blk, fs.blockBuf) {
			if written >= 1 {
				break
			}
			return -1, errno.EIO
		}

		pos += uint64(chunk)
		remaining -= chunk
		written += chunk
	}

	if written > 0 {
		end := offset + uint64(written)
		if end > ino.Size {
			ino.Size = end
		}
		ino.Mtime = now()
		if !fs.writeInodeFrom(ino) {
			return written, errno.EIO
		}
	}
	return written, nil
}

// createPrologue implements the shared prologue of spec.md §4.5.7: resolve
// path's parent, validate it is a directory, and check the final
// component's length.
func (fs *Fs) createPrologue(path, cwd string) (parentIno *Dinode, name string, err error) {
	canon, n := bpath.FormatPath(bpath.Path(path), bpath.Path(cwd), maxPathLen)
	if n == 0 {
		return nil, "", errno.ENAMETOOLONG
	}
	full := string(canon)
	if full == "/" {
		return nil, "", errno.EEXIST
	}
	parentPath, name := splitParent(full)
	if !bpath.IsValidFilename(name, fs.forbidden, MaxFilenameLen) {
		return nil, "", errno.ENAMETOOLONG
	}

	parentInum, err := fs.namei(parentPath)
	if err != nil {
		return nil, "", err
	}
	parent, err := fs.iget(parentInum)
	if err != nil {
		return nil, "", err
	}
	if !parent.IsDir() {
		return nil, "", errno.ENOTDIR
	}
	return parent, name, nil
}

// Create implements spec.md §4.5.7: ensures no existing entry named name,
// allocates an inode via ialloc, appends the entry to the parent
// directory, and rewrites both inodes.
func (fs *Fs) Create(path, cwd string, mode uint32) error {
	parent, name, err := fs.createPrologue(path, cwd)
	if err != nil {
		return err
	}
	if fs.searchDir(parent, name) != 0 {
		return errno.EEXIST
	}

	inum, err := fs.ialloc()
	if err != nil {
		return err
	}
	child := &Dinode{
		Inum:  inum,
		Mode:  IFREG | (mode &^ uint32(IFDIR|IFREG)),
		Nlink: 1,
		Ctime: now(),
		Mtime: now(),
		Atime: now(),
	}
	if !fs.writeInodeFrom(child) {
		return errno.EIO
	}
	if err := fs.writeToDir(parent, inum, name); err != nil {
		return err
	}
	return fs.iput(parent)
}

// Mkdir implements spec.md §4.5.7: like Create, but also allocates one data
// block and writes "." and ".." entries, with nlink = 2.
func (fs *Fs) Mkdir(path, cwd string) error {
	parent, name, err := fs.createPrologue(path, cwd)
	if err != nil {
		return err
	}
	if fs.searchDir(parent, name) != 0 {
		return errno.EEXIST
	}

	inum, err := fs.ialloc()
	if err != nil {
		return err
	}
	child := &Dinode{
		Inum:  inum,
		Mode:  IFDIR | 0755,
		Nlink: 2,
		Ctime: now(),
		Mtime: now(),
		Atime: now(),
	}
	blk, err := fs.allocDataBlock(child, 0)
	if err != nil {
		_ = fs.ifree(inum)
		return err
	}
	child.Size = uint64(fs.sb.BlockSize)

	zero(fs.blockBuf)
	writeSlot(fs.blockBuf, 0, inum, ".")
	writeSlot(fs.blockBuf, 1, parent.Inum, "..")
	if !fs.writeBlock(blk, fs.blockBuf) {
		return errno.EIO
	}
	if !fs.writeInodeFrom(child) {
		return errno.EIO
	}

	if err := fs.writeToDir(parent, inum, name); err != nil {
		return err
	}
	parent.Nlink++
	return fs.iput(parent)
}

// Unlink implements spec.md §4.5.7: resolves path, rejects a directory
// target, frees every data block (direct and indirect), removes the entry
// from the parent, and ifrees the inode.
func (fs *Fs) Unlink(path, cwd string) error {
	parent, name, err := fs.createPrologue(path, cwd)
	if err != nil {
		return err
	}
	inum := fs.searchDir(parent, name)
	if inum == 0 {
		return errno.ENOENT
	}
	target, err := fs.iget(inum)
	if err != nil {
		return err
	}
	if target.IsDir() {
		return errno.EISDIR
	}

	if err := fs.freeAllBlocks(target); err != nil {
		return err
	}
	if err := fs.removeFromDir(parent, inum); err != nil {
		return err
	}
	if err := fs.ifree(inum); err != nil {
		return err
	}
	return fs.iput(parent)
}

// Rmdir implements spec.md §4.5.7: refuses root, resolves path, rejects a
// non-directory target, rejects a non-empty directory, then proceeds as
// Unlink.
func (fs *Fs) Rmdir(path, cwd string) error {
	canon, n := bpath.FormatPath(bpath.Path(path), bpath.Path(cwd), maxPathLen)
	if n == 0 {
		return errno.ENAMETOOLONG
	}
	if string(canon) == "/" {
		return errno.EBUSY
	}

	parent, name, err := fs.createPrologue(path, cwd)
	if err != nil {
		return err
	}
	inum := fs.searchDir(parent, name)
	if inum == 0 {
		return errno.ENOENT
	}
	target, err := fs.iget(inum)
	if err != nil {
		return err
	}
	if !target.IsDir() {
		return errno.ENOTDIR
	}
	empty, err := fs.dirIsEmpty(target)
	if err != nil {
		return err
	}
	if !empty {
		return errno.ENOTEMPTY
	}

	if err := fs.freeAllBlocks(target); err != nil {
		return err
	}
	if err := fs.removeFromDir(parent, inum); err != nil {
		return err
	}
	if err := fs.ifree(inum); err != nil {
		return err
	}
	parent.Nlink--
	return fs.iput(parent)
}

// freeAllBlocks releases every data block reachable from ino (direct and
// indirect), for Unlink/Rmdir.
func (fs *Fs) freeAllBlocks(ino *Dinode) error {
	nblocks := numDataBlocks(ino, fs.sb.BlockSize)
	for i := uint32(0); i < nblocks; i++ {
		blk, ok := fs.getDataBlock(ino, i)
		if !ok {
			continue
		}
		if err := fs.dbfree(blk); err != nil {
			return err
		}
	}
	for lvl := range ino.Indirect {
		if err := fs.freeIndirectTree(ino.Indirect[lvl], lvl); err != nil {
			return err
		}
		ino.Indirect[lvl] = 0
	}
	return nil
}

// freeIndirectTree releases an indirect block at nesting level (0 =
// single, 1 = double, 2 = triple) and everything it points to, then
// releases the block itself. The data blocks it ultimately points to were
// already released by the direct walk in freeAllBlocks via getDataBlock,
// so this only tears down the indirect index blocks themselves.
func (fs *Fs) freeIndirectTree(root uint32, level int) error {
	if root == 0 {
		return nil
	}
	if level > 0 {
		buf := make([]byte, fs.sb.BlockSize)
		if !fs.readBlock(root, buf) {
			return errno.EIO
		}
		for slot := uint32(0); slot < fs.sb.Nindir; slot++ {
			child := decodeIndirEntry(buf, slot)
			if child != 0 {
				if err := fs.freeIndirectTree(child, level-1); err != nil {
					return err
				}
			}
		}
	}
	return fs.dbfree(root)
}
