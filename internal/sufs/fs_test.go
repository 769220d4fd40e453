package sufs

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/disnoca/sufsos/internal/errno"
)

func newTestVolume(t *testing.T, blockSize, inodeCount, dataBlockCount uint32) *Fs {
	t.Helper()
	sectors := 16 * 1024 * 1024 / SectorSize
	dev := newMemDevice(sectors)
	if err := Format(dev, FormatParams{BlockSize: blockSize, InodeCount: inodeCount, DataBlockCount: dataBlockCount, VolumeName: "test"}); err != nil {
		t.Fatalf("Format: %v", err)
	}
	fs, err := Mount(dev)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return fs
}

func TestFormatThenMountRootDirectory(t *testing.T) {
	fs := newTestVolume(t, 1024, 64, 8192)
	st, err := fs.Stat("/", "/")
	if err != nil {
		t.Fatalf("Stat(/): %v", err)
	}
	if st.Mode&IFDIR == 0 {
		t.Fatalf("root is not a directory: mode=%x", st.Mode)
	}
	if st.Ino != fs.sb.RootIno {
		t.Fatalf("root inum = %d, want %d", st.Ino, fs.sb.RootIno)
	}
}

func TestCreateWriteCloseOpenReadRoundTrip(t *testing.T) {
	fs := newTestVolume(t, 1024, 64, 8192)

	if err := fs.Create("/hello", "/", 0644); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f, err := fs.Open("/hello", "/")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	n, err := f.Write([]byte("hi"), 0, 2)
	if err != nil || n != 2 {
		t.Fatalf("Write = (%d, %v), want (2, nil)", n, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f2, err := fs.Open("/hello", "/")
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	buf := make([]byte, 2)
	n, err = f2.Read(buf, 0, 2)
	if err != nil || n != 2 {
		t.Fatalf("Read = (%d, %v), want (2, nil)", n, err)
	}
	if !bytes.Equal(buf, []byte("hi")) {
		t.Fatalf("Read buf = %q, want \"hi\"", buf)
	}
	f2.Close()
}

func TestMkdirCreateUnlinkRmdirReturnsToFreeCounts(t *testing.T) {
	fs := newTestVolume(t, 1024, 64, 8192)
	freeInodes, freeBlocks := fs.sb.InodeFreeCount, fs.sb.DataBlockFreeCount

	if err := fs.Mkdir("/a", "/"); err != nil {
		t.Fatalf("Mkdir /a: %v", err)
	}
	if err := fs.Mkdir("/a/b", "/"); err != nil {
		t.Fatalf("Mkdir /a/b: %v", err)
	}
	if err := fs.Create("/a/b/c", "/", 0644); err != nil {
		t.Fatalf("Create /a/b/c: %v", err)
	}
	if err := fs.Unlink("/a/b/c", "/"); err != nil {
		t.Fatalf("Unlink /a/b/c: %v", err)
	}
	if err := fs.Rmdir("/a/b", "/"); err != nil {
		t.Fatalf("Rmdir /a/b: %v", err)
	}
	if err := fs.Rmdir("/a", "/"); err != nil {
		t.Fatalf("Rmdir /a: %v", err)
	}

	if fs.sb.InodeFreeCount != freeInodes {
		t.Fatalf("InodeFreeCount = %d, want %d (back to pre-mkdir)", fs.sb.InodeFreeCount, freeInodes)
	}
	if fs.sb.DataBlockFreeCount != freeBlocks {
		t.Fatalf("DataBlockFreeCount = %d, want %d (back to pre-mkdir)", fs.sb.DataBlockFreeCount, freeBlocks)
	}
}

func TestCreateUntilIallocExhausted(t *testing.T) {
	fs := newTestVolume(t, 1024, 8, 8192)
	initialFree := fs.sb.InodeFreeCount

	failures := 0
	for i := 0; i < 100; i++ {
		name := string(rune('a' + i))
		if err := fs.Create("/"+name, "/", 0644); err != nil {
			failures++
		}
	}
	if uint32(failures) != 100-initialFree {
		t.Fatalf("failures = %d, want %d (100 attempts - %d initial free inodes)", failures, 100-initialFree, initialFree)
	}
}

func TestWriteCrossesIntoSingleIndirectBlock(t *testing.T) {
	fs := newTestVolume(t, 512, 64, 8192)

	if err := fs.Create("/big", "/", 0644); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f, err := fs.Open("/big", "/")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	// NDADDR direct blocks of 512 bytes each = 6144 bytes; write well past
	// that boundary so the walk must cross into the single-indirect tree.
	size := (NDADDR+5)*512 + 17
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}

	n, err := f.Write(data, 0, size)
	if err != nil || n != size {
		t.Fatalf("Write = (%d, %v), want (%d, nil)", n, err, size)
	}

	got := make([]byte, size)
	n, err = f.Read(got, 0, size)
	if err != nil || n != size {
		t.Fatalf("Read = (%d, %v), want (%d, nil)", n, err, size)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read back data crossing into indirect block does not match")
	}
}

func TestRenameMovesEntryBetweenDirectories(t *testing.T) {
	fs := newTestVolume(t, 1024, 64, 8192)
	if err := fs.Mkdir("/a", "/"); err != nil {
		t.Fatalf("Mkdir /a: %v", err)
	}
	if err := fs.Mkdir("/b", "/"); err != nil {
		t.Fatalf("Mkdir /b: %v", err)
	}
	if err := fs.Create("/a/f", "/", 0644); err != nil {
		t.Fatalf("Create /a/f: %v", err)
	}

	if err := fs.Rename("/a/f", "/b/g", "/"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	if _, err := fs.Stat("/a/f", "/"); err == nil {
		t.Fatalf("Stat /a/f should fail after rename")
	}
	if _, err := fs.Stat("/b/g", "/"); err != nil {
		t.Fatalf("Stat /b/g after rename: %v", err)
	}
}

func TestDirectoryCompactionOnRemovingNonFirstBlock(t *testing.T) {
	fs := newTestVolume(t, 512, 64, 8192)
	if err := fs.Mkdir("/d", "/"); err != nil {
		t.Fatalf("Mkdir /d: %v", err)
	}

	dentpb := int(fs.sb.Dentpb)
	// Fill the first block (2 slots already used by "." and ".."), then
	// force a second block holding exactly one entry to be allocated.
	names := make([]string, 0, dentpb-2+1)
	for i := 0; i < dentpb-2+1; i++ {
		name := "f" + string(rune('A'+i%26)) + string(rune('a'+(i/26)%26))
		if err := fs.Create("/d/"+name, "/", 0644); err != nil {
			t.Fatalf("Create /d/%s: %v", name, err)
		}
		names = append(names, name)
	}

	dir, err := fs.iget(fs.namelookupForTest(t, "/d"))
	if err != nil {
		t.Fatalf("iget /d: %v", err)
	}
	if numDataBlocks(dir, fs.sb.BlockSize) < 2 {
		t.Fatalf("expected directory to span at least 2 blocks, got %d", numDataBlocks(dir, fs.sb.BlockSize))
	}

	// Remove the only name in the (non-first) second block, which empties
	// it, and confirm the block is released, the directory still resolves
	// everything else, and the removed name is really gone.
	removed := names[len(names)-1]
	if err := fs.Unlink("/d/"+removed, "/"); err != nil {
		t.Fatalf("Unlink /d/%s: %v", removed, err)
	}
	dir, err = fs.iget(fs.namelookupForTest(t, "/d"))
	if err != nil {
		t.Fatalf("iget /d after unlink: %v", err)
	}
	if got := numDataBlocks(dir, fs.sb.BlockSize); got != 1 {
		t.Fatalf("expected directory compacted to 1 block, got %d", got)
	}
	if _, err := fs.Stat("/d/"+removed, "/"); err == nil {
		t.Fatalf("Stat /d/%s should fail after unlink", removed)
	}
	for _, n := range names[:len(names)-1] {
		if _, err := fs.Stat("/d/"+n, "/"); err != nil {
			t.Fatalf("Stat /d/%s after compaction: %v", n, err)
		}
	}
}

// namelookupForTest is a small helper so TestDirectoryCompactionOnRemovingNonFirstBlock
// can get at /d's inumber without exporting namei.
func (fs *Fs) namelookupForTest(t *testing.T, path string) uint32 {
	t.Helper()
	inum, err := fs.namei(path)
	if err != nil {
		t.Fatalf("namei(%s): %v", path, err)
	}
	return inum
}

// TestDirectoryNblocksDoesNotUnderflowAcrossIndirectCompaction covers the
// interaction between allocDataBlock's direct-only Nblocks counting
// convention and compactDir's block release: freeing an indirect-addressed
// block must not decrement Nblocks a second time for a block that was
// never counted going in.
func TestDirectoryNblocksDoesNotUnderflowAcrossIndirectCompaction(t *testing.T) {
	fs := newTestVolume(t, 512, 512, 8192)
	if err := fs.Mkdir("/d", "/"); err != nil {
		t.Fatalf("Mkdir /d: %v", err)
	}

	dentpb := int(fs.sb.Dentpb)
	direct := NDADDR
	// Two slots of block 0 are already "." and "..", so direct*dentpb-2
	// more entries exactly fill every direct block; one more forces the
	// first single-indirect block and data block into existence.
	total := direct*dentpb - 2 + 1
	names := make([]string, 0, total)
	for i := 0; i < total; i++ {
		name := fmt.Sprintf("n%03d", i)
		if err := fs.Create("/d/"+name, "/", 0644); err != nil {
			t.Fatalf("Create /d/%s: %v", name, err)
		}
		names = append(names, name)
	}

	dir, err := fs.iget(fs.namelookupForTest(t, "/d"))
	if err != nil {
		t.Fatalf("iget /d: %v", err)
	}
	if numDataBlocks(dir, fs.sb.BlockSize) != uint32(direct+1) {
		t.Fatalf("expected directory to span exactly %d blocks after crossing into indirect, got %d",
			direct+1, numDataBlocks(dir, fs.sb.BlockSize))
	}
	if dir.Nblocks != uint32(direct) {
		t.Fatalf("Nblocks = %d before compaction, want %d (direct blocks only)", dir.Nblocks, direct)
	}

	// The last created entry is the sole occupant of the lone indirect
	// block; removing it empties and releases that block.
	last := names[len(names)-1]
	if err := fs.Unlink("/d/"+last, "/"); err != nil {
		t.Fatalf("Unlink /d/%s: %v", last, err)
	}

	dir, err = fs.iget(fs.namelookupForTest(t, "/d"))
	if err != nil {
		t.Fatalf("iget /d after compaction: %v", err)
	}
	if dir.Nblocks != uint32(direct) {
		t.Fatalf("Nblocks = %d after releasing the indirect block, want %d (unchanged, not double-decremented)",
			dir.Nblocks, direct)
	}
}

// TestRenameDirectoryIntoOwnDescendantFailsEINVAL covers SPEC_FULL.md's
// requirement that a cross-directory rename whose destination is a
// descendant of the moved directory is rejected rather than left to
// corrupt the tree into a cycle.
func TestRenameDirectoryIntoOwnDescendantFailsEINVAL(t *testing.T) {
	fs := newTestVolume(t, 1024, 64, 8192)
	if err := fs.Mkdir("/a", "/"); err != nil {
		t.Fatalf("Mkdir /a: %v", err)
	}
	if err := fs.Mkdir("/a/b", "/"); err != nil {
		t.Fatalf("Mkdir /a/b: %v", err)
	}

	if err := fs.Rename("/a", "/a/b/a", "/"); err != errno.EINVAL {
		t.Fatalf("Rename /a into its own descendant: err = %v, want EINVAL", err)
	}
	if err := fs.Rename("/a", "/a/x", "/"); err != errno.EINVAL {
		t.Fatalf("Rename /a into itself (new parent == /a): err = %v, want EINVAL", err)
	}

	// Unaffected rename still succeeds afterwards.
	if err := fs.Mkdir("/c", "/"); err != nil {
		t.Fatalf("Mkdir /c: %v", err)
	}
	if err := fs.Rename("/c", "/a/c", "/"); err != nil {
		t.Fatalf("Rename /c into unrelated directory /a: %v", err)
	}
}

func TestWriteOnePastMaxFileSizeFailsEFBIG(t *testing.T) {
	fs := newTestVolume(t, 512, 64, 8192)
	if err := fs.Create("/cap", "/", 0644); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f, err := fs.Open("/cap", "/")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	_, err = f.Write([]byte{1}, fs.sb.MaxFileSize, 1)
	if err != errno.EFBIG {
		t.Fatalf("Write 1 byte past max_file_size: err = %v, want EFBIG", err)
	}

	_, err = f.Write([]byte{1}, fs.sb.MaxFileSize-1, 1)
	if err != nil {
		t.Fatalf("Write at the last valid byte of max_file_size: %v", err)
	}
}
