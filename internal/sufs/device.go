package sufs

import "github.com/disnoca/sufsos/internal/ata"

// BlockDevice is the synchronous sector-level storage interface SUFS drives,
// grounded on the teacher's Disk_i (biscuit/src/fs/blk.go: "Start(*Bdev_req_t)
// bool; Stats() string") — generalized to a plain read/write-sectors shape,
// since spec.md's own data-flow description ("SUFS write → ... → ATA
// read/write block → ATA PIO → disk") names exactly that operation rather
// than the teacher's request/callback machinery.
//
// It is addressed in fixed 512-byte sectors, not filesystem blocks: mount
// (§4.5.1) must read the superblock sector before it knows the volume's
// block_size, so the device below the FS layer cannot be block-size aware.
// Fs.readBlock/writeBlock compose sb.Secpb sectors into one logical block.
type BlockDevice interface {
	ReadSectors(buf []byte, lba uint64, count int) bool
	WriteSectors(buf []byte, lba uint64, count int) bool
	TotalSectors() uint64
}

// AtaBlockDevice adapts one ata.Controller device into a BlockDevice.
type AtaBlockDevice struct {
	ctl *ata.Controller
	dev int
}

// NewAtaBlockDevice wraps ctl's device devIdx as a BlockDevice.
func NewAtaBlockDevice(ctl *ata.Controller, devIdx int) *AtaBlockDevice {
	return &AtaBlockDevice{ctl: ctl, dev: devIdx}
}

func (d *AtaBlockDevice) ReadSectors(buf []byte, lba uint64, count int) bool {
	return d.ctl.Read(d.dev, buf, lba, count)
}

func (d *AtaBlockDevice) WriteSectors(buf []byte, lba uint64, count int) bool {
	return d.ctl.Write(d.dev, buf, lba, count)
}

func (d *AtaBlockDevice) TotalSectors() uint64 {
	dev := d.ctl.Device(d.dev)
	if dev.LBA48Supported {
		return dev.LBA48Max
	}
	return dev.LBA28Max
}
