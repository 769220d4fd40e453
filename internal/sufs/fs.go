package sufs

import (
	"time"

	"github.com/disnoca/sufsos/internal/errno"
	"github.com/disnoca/sufsos/internal/sufslog"
)

// DefaultForbidden is the forbidden-character set that bpath.IsValidFilename
// rejects in the final name component of a path passed to createPrologue
// (create, mkdir, unlink), per spec.md
// §9's open question ("one hard-coded forbidden-char set ... extend with
// platform-specific exclusions as needed"). NUL cannot terminate a name on
// disk (names are NUL-padded); '/' is the separator, so a single name never
// contains it.
const DefaultForbidden = "\x00/"

// Fs is the mounted state of one SUFS volume: the in-memory superblock and
// the three scratch buffers spec.md §4.5.1 step 4 and §9 require, per the
// teacher's Ufs_t/Fs_t pattern of holding filesystem state in one owned
// struct rather than file-scope globals (spec.md §9's "explicit module
// state").
type Fs struct {
	dev BlockDevice
	sb  Superblock

	// blockBuf, mapBuf and indirBuf are distinct allocations: indirect
	// walks use blockBuf for the file's payload block and indirBuf for the
	// indirect block simultaneously (spec.md §9 "scratch buffers vs.
	// re-entrancy"), and mapBuf is reserved for the inode/data-block
	// bitmap I/O of §4.5.8.
	blockBuf []byte
	mapBuf   []byte
	indirBuf []byte

	forbidden string
}

// readBlock reads logical block n (0-based within the volume, blockSize =
// sb.Secpb sectors) into buf[:sb.BlockSize].
func (fs *Fs) readBlock(n uint32, buf []byte) bool {
	lba := uint64(n) * uint64(fs.sb.Secpb)
	return fs.dev.ReadSectors(buf, lba, int(fs.sb.Secpb))
}

// writeBlock writes buf[:sb.BlockSize] to logical block n.
func (fs *Fs) writeBlock(n uint32, buf []byte) bool {
	lba := uint64(n) * uint64(fs.sb.Secpb)
	return fs.dev.WriteSectors(buf, lba, int(fs.sb.Secpb))
}

// writeSuperblock rewrites the superblock sector, per spec.md §4.5.1/§5
// ("every mutator writes through to disk in the same call").
func (fs *Fs) writeSuperblock() bool {
	buf := make([]byte, SectorSize)
	fs.sb.Encode(buf)
	lba := uint64(SuperblockOffset / SectorSize)
	return fs.dev.WriteSectors(buf, lba, 1)
}

// Mount performs spec.md §4.5.1: reads and validates the superblock,
// recomputes and self-heals max_file_size, allocates the three scratch
// buffers, and loads the root inode (validated but not cached — SUFS keeps
// no in-memory inode cache, per spec.md §5 "no in-memory caching").
//
// Mount aborts (logs and returns a non-nil error) on any check violation,
// mirroring the teacher's mount-time panics/log.Fatal calls but returning
// an error instead of halting, since this module runs hosted.
func Mount(dev BlockDevice) (*Fs, error) {
	raw := make([]byte, SectorSize)
	lba := uint64(SuperblockOffset / SectorSize)
	if !dev.ReadSectors(raw, lba, 1) {
		sufslog.Errorf(nil, "sufs: mount: failed to read superblock sector")
		return nil, errno.EIO
	}

	var sb Superblock
	sb.Decode(raw)

	if err := validateSuperblock(&sb, dev.TotalSectors()); err != nil {
		sufslog.Errorf(err, "sufs: mount: superblock validation failed")
		return nil, err
	}

	fs := &Fs{
		dev:       dev,
		sb:        sb,
		blockBuf:  make([]byte, sb.BlockSize),
		mapBuf:    make([]byte, sb.BlockSize),
		indirBuf:  make([]byte, sb.BlockSize),
		forbidden: DefaultForbidden,
	}

	want := sb.MaxFileSizeFor()
	if sb.MaxFileSize != want {
		fs.sb.MaxFileSize = want
		if !fs.writeSuperblock() {
			sufslog.Errorf(nil, "sufs: mount: failed to rewrite self-healed superblock")
			return nil, errno.EIO
		}
	}

	var root Dinode
	if !fs.readInodeInto(&root, fs.sb.RootIno) {
		sufslog.Errorf(nil, "sufs: mount: failed to load root inode")
		return nil, errno.EIO
	}
	if !root.IsDir() {
		sufslog.Errorf(nil, "sufs: mount: root inode is not a directory")
		return nil, errno.EINVAL
	}

	sufslog.Infof("sufs: mounted volume %q, %d blocks of %d bytes", volumeName(sb.VolumeName), sb.TotalBlocks, sb.BlockSize)
	return fs, nil
}

func volumeName(b [16]byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b[:])
}

// validateSuperblock implements the checks of spec.md §4.5.1 step 2.
func validateSuperblock(sb *Superblock, totalSectors uint64) error {
	if sb.Magic != Magic {
		return errno.EINVAL
	}
	if sb.BlockSize < MinBlockSize || sb.BlockSize > MaxBlockSize || !isPowerOfTwo(sb.BlockSize) {
		return errno.EINVAL
	}
	if sb.BlockSize%SectorSize != 0 {
		return errno.EINVAL
	}
	secpb := sb.BlockSize / SectorSize
	if uint64(sb.TotalBlocks)*uint64(secpb) > totalSectors {
		return errno.EINVAL
	}

	sbBlockPlus1 := uint32(SuperblockOffset/int(sb.BlockSize)) + 1
	switch {
	case sbBlockPlus1 > sb.InodeMapBoff,
		sb.InodeMapBoff+sb.InodeMapBsize > sb.DblockMapBoff,
		sb.DblockMapBoff+sb.DblockMapBsize > sb.InodesBoff,
		sb.InodesBoff+sb.IblockCount > sb.DblocksBoff,
		sb.DblocksBoff+sb.DblockCount > sb.TotalBlocks:
		return errno.EINVAL
	}

	want := *sb
	want.DeriveConstants()
	if sb.Secpb != want.Secpb || sb.Nindir != want.Nindir || sb.Inopb != want.Inopb ||
		sb.Mapentpb != want.Mapentpb || sb.Dentpb != want.Dentpb {
		return errno.EINVAL
	}

	if sb.InodeFreeCount >= sb.InodeCount || sb.DataBlockFreeCount >= sb.DataBlockCount {
		return errno.EINVAL
	}

	return nil
}

func isPowerOfTwo(v uint32) bool { return v > 0 && v&(v-1) == 0 }

// Sync is a no-op beyond what every mutator already guarantees: SUFS has no
// in-memory caching or write buffering (spec.md §5, "no in-memory caching"),
// so every successful call has already written through. Sync exists for
// parity with the teacher's Ufs_t.Sync/Fs_sync call shape (SPEC_FULL.md
// supplemented features).
func (fs *Fs) Sync() error { return nil }

func now() uint64 { return uint64(time.Now().Unix()) }
