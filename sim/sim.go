// Package sim is a software model of a PIO ATA controller with one attached
// drive, backed by a disk image. It implements ata.Port faithfully enough to
// exercise the whole driver: IDENTIFY DEVICE with the optional integrity
// checksum, LBA28 and LBA48 sector reads with DRQ-per-word data streaming,
// standby and sleep, and the physical-sector alignment restriction some real
// drives have.
//
// It exists so the driver and everything above it can run and be tested
// without hardware, and it keeps a log of the commands it received so tests
// can assert on cache behavior.
package sim

import (
	"io"

	"github.com/robrohan/ipodpatcher/ata"
)

// Command is one entry of the controller command log.
type Command struct {
	Code  uint8
	LBA   uint32
	Count uint32
}

// Options configure the simulated drive.
type Options struct {
	// Model, Serial and Firmware are the identify strings. They are space
	// padded to their fixed field lengths.
	Model    string
	Serial   string
	Firmware string

	// Sectors is the reported drive capacity in 512 byte blocks. Blocks
	// beyond the backing image read as zeroes.
	Sectors uint64

	// LBA48 reports support for the 48-bit address feature set.
	LBA48 bool

	// AlignmentLog2 gives the drive 1<<AlignmentLog2 blocks per physical
	// sector. Non-zero values make the drive reject reads that are not
	// aligned to and sized in whole physical sectors, like the drive
	// families the driver carries quirks for.
	AlignmentLog2 uint8

	// NoChecksum omits the integrity signature from the identify response.
	// CorruptChecksum includes the signature but a wrong checksum.
	NoChecksum      bool
	CorruptChecksum bool

	// Absent simulates a missing controller: register writes are dropped
	// and reads return all ones.
	Absent bool

	// CHS is the reported legacy geometry. Zero means a default.
	CHS [3]uint16
}

// Controller simulates the controller and drive. It implements ata.Port.
type Controller struct {
	image io.ReaderAt
	opts  Options

	regs [16]uint8

	// Pending PIO data and the read position within it.
	data []byte
	pos  int

	errFlag  bool
	sleeping bool

	// Commands records every command written to the command register.
	Commands []Command
}

// New creates a simulated controller over a disk image.
func New(image io.ReaderAt, opts Options) *Controller {
	if opts.CHS == [3]uint16{} {
		opts.CHS = [3]uint16{16383, 16, 63}
	}
	return &Controller{image: image, opts: opts}
}

// ResetLog clears the command log.
func (c *Controller) ResetLog() {
	c.Commands = nil
}

func (c *Controller) status() uint8 {
	// The simulated drive is never busy: every command completes
	// instantly and data is available as soon as DRQ shows.
	s := uint8(ata.StatusDRDY)
	if c.pos < len(c.data) {
		s |= ata.StatusDRQ
	}
	if c.errFlag {
		s |= ata.StatusERR
	}
	return s
}

// In8 implements ata.Port.
func (c *Controller) In8(reg ata.Reg) uint8 {
	if c.opts.Absent {
		return 0xFF
	}

	switch reg {
	case ata.RegStatus, ata.RegAltStatus:
		return c.status()
	case ata.RegError:
		if c.errFlag {
			return 0x04 // ABRT
		}
		return 0
	default:
		return c.regs[reg]
	}
}

// Out8 implements ata.Port.
func (c *Controller) Out8(reg ata.Reg, v uint8) {
	if c.opts.Absent {
		return
	}

	if reg == ata.RegCommand {
		c.execute(v)
		return
	}
	c.regs[reg] = v
}

// In16 implements ata.Port, streaming one data word per read while DRQ is
// set.
func (c *Controller) In16(reg ata.Reg) uint16 {
	if c.opts.Absent {
		return 0xFFFF
	}
	if reg != ata.RegData || c.pos+1 >= len(c.data) {
		return 0
	}

	w := uint16(c.data[c.pos]) | uint16(c.data[c.pos+1])<<8
	c.pos += 2
	return w
}

func (c *Controller) execute(cmd uint8) {
	c.errFlag = false
	c.data = nil
	c.pos = 0

	if c.sleeping {
		// Asleep drives ignore everything but a device reset.
		return
	}

	switch cmd {
	case ata.CommandIdentifyDevice:
		c.Commands = append(c.Commands, Command{Code: cmd})
		c.data = c.identifyData()

	case ata.CommandReadSectors:
		lba := uint32(c.regs[ata.RegLBA0]) |
			uint32(c.regs[ata.RegLBA1])<<8 |
			uint32(c.regs[ata.RegLBA2])<<16 |
			uint32(c.regs[ata.RegDeviceHead]&0x0F)<<24
		count := uint32(c.regs[ata.RegSecCountLow])
		if count == 0 {
			count = 256
		}
		c.read(cmd, lba, count)

	case ata.CommandReadSectorsExt:
		lba := uint32(c.regs[ata.RegLBA0]) |
			uint32(c.regs[ata.RegLBA1])<<8 |
			uint32(c.regs[ata.RegLBA2])<<16 |
			uint32(c.regs[ata.RegLBA3])<<24
		count := uint32(c.regs[ata.RegSecCountLow]) |
			uint32(c.regs[ata.RegSecCountHigh])<<8
		if count == 0 {
			count = 65536
		}
		c.read(cmd, lba, count)

	case ata.CommandStandby, 0x94, 0x96, 0xE2:
		c.Commands = append(c.Commands, Command{Code: cmd})

	case ata.CommandSleep:
		c.Commands = append(c.Commands, Command{Code: cmd})
		c.sleeping = true

	default:
		c.errFlag = true
	}
}

func (c *Controller) read(cmd uint8, lba, count uint32) {
	c.Commands = append(c.Commands, Command{Code: cmd, LBA: lba, Count: count})

	if align := uint32(1) << c.opts.AlignmentLog2; align > 1 {
		if lba%align != 0 || count%align != 0 {
			c.errFlag = true
			return
		}
	}

	if uint64(lba)+uint64(count) > c.opts.Sectors {
		c.errFlag = true
		return
	}

	buf := make([]byte, count*ata.BlockSize)
	n, err := c.image.ReadAt(buf, int64(lba)*ata.BlockSize)
	if err != nil && err != io.EOF {
		c.errFlag = true
		return
	}
	// Blocks past the end of the backing image stay zero.
	_ = n

	c.data = buf
}
