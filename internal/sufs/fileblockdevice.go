package sufs

import (
	"os"

	"golang.org/x/sys/unix"
)

// FileBlockDevice is a BlockDevice backed directly by a disk-image file,
// for tooling (cmd/mkfs, cmd/sufsctl) that formats or inspects an image
// without bringing up the full ATA/memory-manager stack. It uses the same
// unix.Pread/Pwrite/Fdatasync primitives internal/ata's FileIOPort uses
// against its own disk images, addressed in the same 512-byte sectors.
type FileBlockDevice struct {
	fd      int
	sectors uint64
}

// OpenFileBlockDevice opens (and if create, creates/truncates to size
// sizeBytes) a disk-image file at path as a sector-addressed BlockDevice.
func OpenFileBlockDevice(path string, create bool, sizeBytes int64) (*FileBlockDevice, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, err
	}
	if create {
		if err := f.Truncate(sizeBytes); err != nil {
			f.Close()
			return nil, err
		}
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	fd, err := unix.Dup(int(f.Fd()))
	f.Close()
	if err != nil {
		return nil, err
	}
	return &FileBlockDevice{fd: fd, sectors: uint64(fi.Size()) / SectorSize}, nil
}

func (d *FileBlockDevice) ReadSectors(buf []byte, lba uint64, count int) bool {
	_, err := unix.Pread(d.fd, buf[:count*SectorSize], int64(lba)*SectorSize)
	return err == nil
}

func (d *FileBlockDevice) WriteSectors(buf []byte, lba uint64, count int) bool {
	if _, err := unix.Pwrite(d.fd, buf[:count*SectorSize], int64(lba)*SectorSize); err != nil {
		return false
	}
	return unix.Fdatasync(d.fd) == nil
}

func (d *FileBlockDevice) TotalSectors() uint64 { return d.sectors }

// Close releases the underlying file descriptor.
func (d *FileBlockDevice) Close() error { return unix.Close(d.fd) }
