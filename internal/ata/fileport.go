package ata

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/disnoca/sufsos/internal/sufslog"
)

// diskImage is a single attached drive, a disk-image file standing in for
// real platter storage, in the same spirit as ufs.ahci_disk_t's *os.File —
// except reads and writes go through golang.org/x/sys/unix's Pread/Pwrite/
// Fdatasync directly against the descriptor rather than through
// os.File.Seek+Read/Write, since an ATA command carries its own LBA offset
// per transfer rather than relying on stream position.
type diskImage struct {
	fd      int
	sectors uint64
}

// AttachDisk opens (and if create is true, creates) a disk-image file at
// path and reports its capacity in 512-byte sectors.
func AttachDisk(path string, create bool) (*diskImage, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return nil, err
	}
	return &diskImage{fd: fd, sectors: uint64(fi.Size()) / 512}, nil
}

func (d *diskImage) readAt(buf []byte, sector uint64) error {
	_, err := unix.Pread(d.fd, buf, int64(sector)*512)
	return err
}

func (d *diskImage) writeAt(buf []byte, sector uint64) error {
	if _, err := unix.Pwrite(d.fd, buf, int64(sector)*512); err != nil {
		return err
	}
	return unix.Fdatasync(d.fd)
}

// channelRegs is the per-channel register file a FileIOPort exposes to a
// Controller: selection, address registers (with the LBA48 high-order
// shadow byte each carries, per the real double-write trick), command/
// status, and a pending-transfer byte buffer for the current command.
type channelRegs struct {
	drives [2]*diskImage // 0 = master, 1 = slave

	selected   int
	lbaTop4    uint8
	sectorCnt  uint8
	sectorCntH uint8
	lbaLo      uint8
	lbaLoH     uint8
	lbaMid     uint8
	lbaMidH    uint8
	lbaHi      uint8
	lbaHiH     uint8

	status   uint8
	cmdLBA   uint64
	data     []byte
	dataPos  int
	writeCmd bool
}

// FileIOPort is the disk-image-backed IOPort implementation: two channels
// (primary, secondary), each with up to two attached drives.
type FileIOPort struct {
	ch [2]channelRegs
}

// NewFileIOPort creates a FileIOPort with no drives attached.
func NewFileIOPort() *FileIOPort {
	return &FileIOPort{}
}

// Attach installs disk as the master (drive=0) or slave (drive=1) on
// channel (0 primary, 1 secondary).
func (p *FileIOPort) Attach(channel, drive int, disk *diskImage) {
	p.ch[channel].drives[drive] = disk
}

func (c *channelRegs) lba28() uint32 {
	return uint32(c.lbaLo) | uint32(c.lbaMid)<<8 | uint32(c.lbaHi)<<16 | uint32(c.lbaTop4)<<24
}

func (c *channelRegs) lba48() uint64 {
	return uint64(c.lbaLo) | uint64(c.lbaMid)<<8 | uint64(c.lbaHi)<<16 |
		uint64(c.lbaLoH)<<24 | uint64(c.lbaMidH)<<32 | uint64(c.lbaHiH)<<40
}

func (c *channelRegs) sectorCount28() int {
	n := int(c.sectorCnt)
	if n == 0 {
		n = 256
	}
	return n
}

func (c *channelRegs) sectorCount48() int {
	n := int(c.sectorCnt) | int(c.sectorCntH)<<8
	if n == 0 {
		n = 65536
	}
	return n
}

// Out8 writes a command-block register. Per spec.md §4.4.1/§4.4.3, writing
// RegStatus dispatches the command named by v.
func (p *FileIOPort) Out8(channel int, port uint16, v uint8) {
	c := &p.ch[channel]
	switch port {
	case RegSectorCount:
		c.sectorCntH, c.sectorCnt = c.sectorCnt, v
	case RegLBALo:
		c.lbaLoH, c.lbaLo = c.lbaLo, v
	case RegLBAMid:
		c.lbaMidH, c.lbaMid = c.lbaMid, v
	case RegLBAHi:
		c.lbaHiH, c.lbaHi = c.lbaHi, v
	case RegDriveSelect:
		if v&0x10 != 0 {
			c.selected = 1
		} else {
			c.selected = 0
		}
		c.lbaTop4 = v & 0x0F
	case RegStatus:
		c.dispatch(v)
	default:
		sufslog.Fatal("ata: write to unknown command-block register")
	}
}

func (c *channelRegs) dispatch(cmd uint8) {
	disk := c.drives[c.selected]
	switch cmd {
	case CmdIdentify:
		if disk == nil {
			c.status = 0
			return
		}
		c.data = make([]byte, 512)
		putWord(c.data, 60, uint16(disk.sectors))
		putWord(c.data, 61, uint16(disk.sectors>>16))
		putWord(c.data, 100, uint16(disk.sectors))
		putWord(c.data, 101, uint16(disk.sectors>>16))
		putWord(c.data, 102, uint16(disk.sectors>>32))
		putWord(c.data, 103, uint16(disk.sectors>>48))
		c.dataPos = 0
		c.writeCmd = false
		c.status = StatusDRQ

	case CmdReadSectors, CmdReadSectorsExt:
		lba, n := c.addrFor(cmd)
		if disk == nil || lba+uint64(n) > disk.sectors {
			c.status = StatusERR
			return
		}
		buf := make([]byte, n*512)
		if err := disk.readAt(buf, lba); err != nil {
			c.status = StatusERR
			return
		}
		c.data = buf
		c.dataPos = 0
		c.writeCmd = false
		c.status = StatusDRQ

	case CmdWriteSectors, CmdWriteSectorsExt:
		lba, n := c.addrFor(cmd)
		if disk == nil || lba+uint64(n) > disk.sectors {
			c.status = StatusERR
			return
		}
		c.data = make([]byte, n*512)
		c.dataPos = 0
		c.cmdLBA = lba
		c.writeCmd = true
		c.status = StatusDRQ

	case CmdCacheFlush:
		if c.writeCmd && disk != nil {
			s := (c.dataPos - 1) / 512
			if err := disk.writeAt(c.data[s*512:(s+1)*512], c.cmdLBA+uint64(s)); err != nil {
				c.status = StatusERR
				return
			}
			if c.dataPos < len(c.data) {
				c.status = StatusDRQ
				return
			}
		}
		c.status = 0

	default:
		c.status = StatusERR
	}
}

func (c *channelRegs) addrFor(cmd uint8) (uint64, int) {
	if cmd == CmdReadSectorsExt || cmd == CmdWriteSectorsExt {
		return c.lba48(), c.sectorCount48()
	}
	return uint64(c.lba28()), c.sectorCount28()
}

func putWord(buf []byte, wordIdx int, v uint16) {
	buf[wordIdx*2] = byte(v)
	buf[wordIdx*2+1] = byte(v >> 8)
}

// In8 reads a command-block register (status, or alt-status on the control
// block, used for both real status polling and the read-path's dummy-read
// settling delay in spec.md §4.4.2).
func (p *FileIOPort) In8(channel int, port uint16) uint8 {
	c := &p.ch[channel]
	switch port {
	case RegStatus, RegAltStatus:
		return c.status
	case RegLBAMid:
		return c.lbaMid
	case RegLBAHi:
		return c.lbaHi
	default:
		sufslog.Fatal("ata: read from unknown command-block register")
		return 0
	}
}

// Out16 writes one 16-bit word to the data port during a write transfer.
func (p *FileIOPort) Out16(channel int, port uint16, v uint16) {
	c := &p.ch[channel]
	if port != RegData || c.dataPos+2 > len(c.data) {
		sufslog.Fatal("ata: data port write out of bounds or not in write state")
		return
	}
	c.data[c.dataPos] = byte(v)
	c.data[c.dataPos+1] = byte(v >> 8)
	c.dataPos += 2
}

// In16 reads one 16-bit word from the data port during a read/IDENTIFY
// transfer.
func (p *FileIOPort) In16(channel int, port uint16) uint16 {
	c := &p.ch[channel]
	if port != RegData || c.dataPos+2 > len(c.data) {
		sufslog.Fatal("ata: data port read out of bounds or not in read state")
		return 0
	}
	v := uint16(c.data[c.dataPos]) | uint16(c.data[c.dataPos+1])<<8
	c.dataPos += 2
	return v
}
