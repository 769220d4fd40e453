package sufs

// memDevice is an in-memory BlockDevice test double, standing in for a real
// disk so internal/sufs's tests exercise Mount/Format and the FS operations
// without any ATA or file-descriptor plumbing.
type memDevice struct {
	sectors [][SectorSize]byte
}

func newMemDevice(sectors int) *memDevice {
	return &memDevice{sectors: make([][SectorSize]byte, sectors)}
}

func (d *memDevice) ReadSectors(buf []byte, lba uint64, count int) bool {
	if lba+uint64(count) > uint64(len(d.sectors)) {
		return false
	}
	for i := 0; i < count; i++ {
		copy(buf[i*SectorSize:(i+1)*SectorSize], d.sectors[lba+uint64(i)][:])
	}
	return true
}

func (d *memDevice) WriteSectors(buf []byte, lba uint64, count int) bool {
	if lba+uint64(count) > uint64(len(d.sectors)) {
		return false
	}
	for i := 0; i < count; i++ {
		copy(d.sectors[lba+uint64(i)][:], buf[i*SectorSize:(i+1)*SectorSize])
	}
	return true
}

func (d *memDevice) TotalSectors() uint64 { return uint64(len(d.sectors)) }
