package ata

// SpinBudget is the fixed iteration budget every bounded poll uses, per
// spec.md §4.4.4 ("~16 M"). Timeout or an error bit ends the operation with
// no retry.
const SpinBudget = 16_000_000

// Device is a probed drive's record, populated from its IDENTIFY response
// per spec.md §4.4.1.
type Device struct {
	Channel int
	Drive   int
	Exists  bool

	LBA28Max       uint64
	LBA48Supported bool
	LBA48Max       uint64
	SectorSize     int // bytes; 512 unless IDENTIFY reports otherwise
}

// Controller drives up to four devices (primary/secondary × master/slave)
// over an IOPort, per spec.md §4.4.
type Controller struct {
	ports   IOPort
	devices [4]Device

	selected   int // index into devices of the current selection, -1 if none
	curChannel int
	curDrive   int
	haveCur    bool
}

// NewController wraps ports with no devices probed yet.
func NewController(ports IOPort) *Controller {
	return &Controller{ports: ports, selected: -1}
}

func devIndex(channel, drive int) int { return channel*2 + drive }

// Init probes primary master/slave then secondary master/slave, running
// IDENTIFY on each and populating a device record; it selects device 0 if
// any device exists, and returns the count of live devices (0–4), per
// spec.md §4.4.
func (ctl *Controller) Init() int {
	count := 0
	for channel := 0; channel < 2; channel++ {
		for drive := 0; drive < 2; drive++ {
			dev := ctl.identify(channel, drive)
			ctl.devices[devIndex(channel, drive)] = dev
			if dev.Exists {
				count++
			}
		}
	}
	if count > 0 {
		for i := range ctl.devices {
			if ctl.devices[i].Exists {
				ctl.selected = i
				break
			}
		}
	}
	return count
}

// Device returns the probed record for device index i (0–3).
func (ctl *Controller) Device(i int) Device { return ctl.devices[i] }

// identify runs the IDENTIFY sequence of spec.md §4.4.1 against (channel,
// drive) and returns the resulting Device record. A zero status after
// issuing IDENTIFY means the drive does not exist.
func (ctl *Controller) identify(channel, drive int) Device {
	ctl.selectRaw(channel, drive, 0)

	ctl.ports.Out8(channel, RegSectorCount, 0)
	ctl.ports.Out8(channel, RegLBALo, 0)
	ctl.ports.Out8(channel, RegLBAMid, 0)
	ctl.ports.Out8(channel, RegLBAHi, 0)
	ctl.ports.Out8(channel, RegStatus, CmdIdentify)

	if ctl.ports.In8(channel, RegStatus) == 0 {
		return Device{Channel: channel, Drive: drive}
	}

	if !ctl.spinUntil(channel, func(s uint8) bool { return s&StatusBSY == 0 }) {
		return Device{Channel: channel, Drive: drive}
	}

	if ctl.ports.In8(channel, RegLBAMid) != 0 || ctl.ports.In8(channel, RegLBAHi) != 0 {
		// Non-ATA device (e.g. ATAPI); spec.md §4.4.1 treats this as abort.
		return Device{Channel: channel, Drive: drive}
	}

	if !ctl.spinUntil(channel, func(s uint8) bool { return s&StatusDRQ != 0 }) {
		return Device{Channel: channel, Drive: drive}
	}

	words := make([]uint16, 256)
	for i := range words {
		words[i] = ctl.ports.In16(channel, RegData)
	}

	lba28 := uint64(words[60]) | uint64(words[61])<<16
	lba48 := uint64(words[100]) | uint64(words[101])<<16 | uint64(words[102])<<32 | uint64(words[103])<<48

	return Device{
		Channel:        channel,
		Drive:          drive,
		Exists:         true,
		LBA28Max:       lba28,
		LBA48Supported: lba48 > 0,
		LBA48Max:       lba48,
		SectorSize:     512,
	}
}

// selectRaw writes the drive-select byte (0xA0 master / 0xB0 slave, ORed
// with any LBA28 top address bits) and performs the 400 ns settle only when
// the channel/drive actually changes, per spec.md §4.4.3 and the "selected"
// cursor discipline in §5's resource table.
func (ctl *Controller) selectRaw(channel, drive int, lbaTop4 uint8) {
	base := uint8(DriveSelectMaster)
	if drive == 1 {
		base = DriveSelectSlave
	}
	ctl.ports.Out8(channel, RegDriveSelect, base|lbaTop4)

	if !ctl.haveCur || ctl.curChannel != channel || ctl.curDrive != drive {
		ctl.settle(channel)
		ctl.curChannel, ctl.curDrive, ctl.haveCur = channel, drive, true
	}
}

// settle performs the four dummy alternate-status reads spec.md §4.4.2/
// §4.4.3 use as a ~400 ns settling delay.
func (ctl *Controller) settle(channel int) {
	for i := 0; i < 4; i++ {
		ctl.ports.In8(channel, RegAltStatus)
	}
}

// spinUntil polls the status register up to SpinBudget times, returning
// true as soon as cond holds, and false on an ERR bit or exhausted budget,
// per spec.md §4.4.4's bounded-spin, no-retry failure policy.
func (ctl *Controller) spinUntil(channel int, cond func(status uint8) bool) bool {
	for i := 0; i < SpinBudget; i++ {
		s := ctl.ports.In8(channel, RegStatus)
		if s&StatusERR != 0 || s&StatusDF != 0 {
			return false
		}
		if cond(s) {
			return true
		}
	}
	return false
}

// addressMode picks LBA28 when lba fits under the device's LBA28 limit and
// sectorCount fits in a byte; otherwise LBA48 if the device supports it;
// otherwise it reports no viable mode, per spec.md §4.4.
func addressMode(dev Device, lba uint64, sectorCount int) (useExt bool, ok bool) {
	if lba < dev.LBA28Max && sectorCount <= 255 {
		return false, true
	}
	if dev.LBA48Supported {
		return true, true
	}
	return false, false
}

// setupTransfer validates bounds, re-selects the device if needed, and
// writes the sector-count/LBA registers and command for an LBA28 or LBA48
// read/write, per spec.md §4.4. It returns false if the request exceeds the
// device's total sectors or no addressing mode fits.
func (ctl *Controller) setupTransfer(devIdx int, lba uint64, sectorCount int, cmd28, cmd48 uint8) (Device, bool) {
	if devIdx < 0 || devIdx >= len(ctl.devices) {
		return Device{}, false
	}
	dev := ctl.devices[devIdx]
	if !dev.Exists {
		return dev, false
	}
	total := dev.LBA28Max
	if dev.LBA48Supported {
		total = dev.LBA48Max
	}
	if lba+uint64(sectorCount) > total {
		return dev, false
	}

	useExt, ok := addressMode(dev, lba, sectorCount)
	if !ok {
		return dev, false
	}

	channel, drive := dev.Channel, dev.Drive
	if useExt {
		ctl.selectRaw(channel, drive, 0)
		hi := func(v uint64, shift uint) uint8 { return uint8(v >> shift) }
		ctl.ports.Out8(channel, RegSectorCount, hi(uint64(sectorCount), 8))
		ctl.ports.Out8(channel, RegSectorCount, uint8(sectorCount))
		ctl.ports.Out8(channel, RegLBALo, hi(lba, 24))
		ctl.ports.Out8(channel, RegLBALo, uint8(lba))
		ctl.ports.Out8(channel, RegLBAMid, hi(lba, 32))
		ctl.ports.Out8(channel, RegLBAMid, uint8(lba>>8))
		ctl.ports.Out8(channel, RegLBAHi, hi(lba, 40))
		ctl.ports.Out8(channel, RegLBAHi, uint8(lba>>16))
		ctl.ports.Out8(channel, RegStatus, cmd48)
	} else {
		ctl.selectRaw(channel, drive, uint8(lba>>24)&0x0F)
		ctl.ports.Out8(channel, RegSectorCount, uint8(sectorCount))
		ctl.ports.Out8(channel, RegLBALo, uint8(lba))
		ctl.ports.Out8(channel, RegLBAMid, uint8(lba>>8))
		ctl.ports.Out8(channel, RegLBAHi, uint8(lba>>16))
		ctl.ports.Out8(channel, RegStatus, cmd28)
	}
	ctl.selected = devIdx
	return dev, true
}

// Read transfers sectorCount sectors starting at lba from device devIdx
// into buf (which must be at least sectorCount*SectorSize bytes), per
// spec.md §4.4 and the per-sector state machine of §4.4.2.
func (ctl *Controller) Read(devIdx int, buf []byte, lba uint64, sectorCount int) bool {
	dev, ok := ctl.setupTransfer(devIdx, lba, sectorCount, CmdReadSectors, CmdReadSectorsExt)
	if !ok {
		return false
	}
	channel := dev.Channel
	wordsPerSector := dev.SectorSize / 2

	for s := 0; s < sectorCount; s++ {
		if !ctl.spinUntil(channel, func(st uint8) bool { return st&StatusBSY == 0 && st&StatusDRQ != 0 }) {
			return false
		}
		off := s * dev.SectorSize
		for w := 0; w < wordsPerSector; w++ {
			v := ctl.ports.In16(channel, RegData)
			buf[off+w*2] = byte(v)
			buf[off+w*2+1] = byte(v >> 8)
		}
		ctl.settle(channel)
	}
	return true
}

// Write transfers sectorCount sectors of data to device devIdx starting at
// lba, per spec.md §4.4 and §4.4.2 (each sector is followed by a CACHE
// FLUSH, spun until BSY clears).
func (ctl *Controller) Write(devIdx int, data []byte, lba uint64, sectorCount int) bool {
	dev, ok := ctl.setupTransfer(devIdx, lba, sectorCount, CmdWriteSectors, CmdWriteSectorsExt)
	if !ok {
		return false
	}
	channel := dev.Channel
	wordsPerSector := dev.SectorSize / 2

	for s := 0; s < sectorCount; s++ {
		if !ctl.spinUntil(channel, func(st uint8) bool { return st&StatusBSY == 0 && st&StatusDRQ != 0 }) {
			return false
		}
		off := s * dev.SectorSize
		for w := 0; w < wordsPerSector; w++ {
			v := uint16(data[off+w*2]) | uint16(data[off+w*2+1])<<8
			ctl.ports.Out16(channel, RegData, v)
		}
		ctl.ports.Out8(channel, RegStatus, CmdCacheFlush)
		if !ctl.spinUntil(channel, func(st uint8) bool { return st&StatusBSY == 0 }) {
			return false
		}
	}
	return true
}

// Selected returns the index of the currently selected device, or -1 if
// none is selected.
func (ctl *Controller) Selected() int { return ctl.selected }
