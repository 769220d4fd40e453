package sufs

import (
	"fmt"

	"github.com/disnoca/sufsos/internal/errno"
)

// Stat mirrors the teacher's Stat_t (biscuit/src/stat/stat.go), per
// SPEC_FULL.md's supplemented-features section. It reports a subset of the
// dinode: the dinode's uid, gid, flags and itime fields are not included.
type Stat struct {
	Ino     uint32
	Mode    uint32
	Size    uint64
	Nlink   uint32
	Ctime   uint64
	Mtime   uint64
	Atime   uint64
	Nblocks uint32
}

func statFromInode(ino *Dinode) *Stat {
	return &Stat{
		Ino:     ino.Inum,
		Mode:    ino.Mode,
		Size:    ino.Size,
		Nlink:   ino.Nlink,
		Ctime:   ino.Ctime,
		Mtime:   ino.Mtime,
		Atime:   ino.Atime,
		Nblocks: ino.Nblocks,
	}
}

// Stat resolves path and returns its metadata, grounded on Ufs_t.Stat/
// Fs_stat.
func (fs *Fs) Stat(path, cwd string) (*Stat, error) {
	inum, _, err := fs.resolvePath(path, cwd)
	if err != nil {
		return nil, err
	}
	ino, err := fs.iget(inum)
	if err != nil {
		return nil, err
	}
	return statFromInode(ino), nil
}

// Ls lists a directory's entries and their metadata, grounded on
// Ufs_t.Ls: walk every allocated data block of the directory, every
// non-free dentry names a child.
func (fs *Fs) Ls(path, cwd string) (map[string]*Stat, error) {
	inum, _, err := fs.resolvePath(path, cwd)
	if err != nil {
		return nil, err
	}
	dir, err := fs.iget(inum)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, errno.ENOTDIR
	}

	res := make(map[string]*Stat)
	nblocks := numDataBlocks(dir, fs.sb.BlockSize)
	var d Dentry
	for i := uint32(0); i < nblocks; i++ {
		blk, ok := fs.getDataBlock(dir, i)
		if !ok {
			continue
		}
		if !fs.readBlock(blk, fs.blockBuf) {
			return nil, errno.EIO
		}
		for j := uint32(0); j < fs.sb.Dentpb; j++ {
			d.Decode(fs.blockBuf[j*DentrySize : (j+1)*DentrySize])
			if d.Inum == 0 {
				continue
			}
			name := d.NameString()
			if name == "." || name == ".." {
				continue
			}
			child, err := fs.iget(d.Inum)
			if err != nil {
				return nil, err
			}
			res[name] = statFromInode(child)
		}
	}
	return res, nil
}

// Rename moves the entry at oldPath to newPath within the same mount, per
// SPEC_FULL.md's supplemented features — grounded on Ufs_t.Rename/
// Fs_rename, implemented here as link-then-unlink over the existing
// directory primitives (§4.5.6) rather than the teacher's in-place rename,
// since SUFS keeps no rename-specific on-disk record. Per SPEC_FULL.md,
// renaming a directory into its own subtree is rejected with EINVAL.
func (fs *Fs) Rename(oldPath, newPath, cwd string) error {
	oldParent, oldName, err := fs.createPrologue(oldPath, cwd)
	if err != nil {
		return err
	}
	inum := fs.searchDir(oldParent, oldName)
	if inum == 0 {
		return errno.ENOENT
	}

	newParent, newName, err := fs.createPrologue(newPath, cwd)
	if err != nil {
		return err
	}
	if fs.searchDir(newParent, newName) != 0 {
		return errno.EEXIST
	}

	moved, err := fs.iget(inum)
	if err != nil {
		return err
	}
	if moved.IsDir() {
		descendant, err := fs.isDescendant(newParent.Inum, inum)
		if err != nil {
			return err
		}
		if descendant {
			return errno.EINVAL
		}
	}

	if err := fs.writeToDir(newParent, inum, newName); err != nil {
		return err
	}
	if err := fs.removeFromDir(oldParent, inum); err != nil {
		return err
	}
	if oldParent.Inum != newParent.Inum {
		if err := fs.iput(oldParent); err != nil {
			return err
		}
	}
	return fs.iput(newParent)
}

// isDescendant reports whether dirInum names anc itself or a directory
// reachable from anc by descending through child directories, walked here
// the other way around via each directory's ".." entry up to the root.
// Rename calls this on the new parent before linking a moved directory in,
// per SPEC_FULL.md's requirement that renaming a directory into its own
// subtree fail with EINVAL instead of corrupting the tree into a cycle.
func (fs *Fs) isDescendant(dirInum, anc uint32) (bool, error) {
	cur := dirInum
	for {
		if cur == anc {
			return true, nil
		}
		if cur == fs.sb.RootIno {
			return false, nil
		}
		dir, err := fs.iget(cur)
		if err != nil {
			return false, err
		}
		parent := fs.searchDir(dir, "..")
		if parent == 0 || parent == cur {
			return false, nil
		}
		cur = parent
	}
}

// Statistics returns a human-readable summary of volume occupancy, per
// SPEC_FULL.md's supplemented features (grounded on Ufs_t.Statistics/
// Fs_statistics).
func (fs *Fs) Statistics() string {
	sb := fs.sb
	return fmt.Sprintf(
		"inodes %d/%d free, data blocks %d/%d free, block size %d, volume %q",
		sb.InodeFreeCount, sb.InodeCount,
		sb.DataBlockFreeCount, sb.DataBlockCount,
		sb.BlockSize, volumeName(sb.VolumeName),
	)
}
