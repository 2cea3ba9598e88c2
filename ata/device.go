// Package ata is a polled PIO driver for an ATA disk controller.
//
// It supports multiple block reads, LBA48 addressing and a small LRU block
// cache. In this package a "block" is a fixed 512 byte unit of data; drives
// present 512 byte logical sectors regardless of their physical sector size,
// so block size and logical sector size coincide.
//
// Some drives with larger physical sectors refuse reads that are not aligned
// to a physical sector boundary. To cope, every device read is expanded to a
// whole aligned physical sector, and the extra blocks are kept in the cache
// to limit read amplification.
package ata

import (
	"errors"

	"github.com/robrohan/ipodpatcher/checkpoint"
	"github.com/robrohan/ipodpatcher/console"
)

// Port gives the driver register-level access to the controller. Hardware
// addresses, chipset bring-up and bus timing live behind this interface;
// implementations must map each Reg to its command or control block address.
type Port interface {
	In8(reg Reg) uint8
	Out8(reg Reg, v uint8)
	In16(reg Reg) uint16
}

// Config is the drive configuration determined during Identify. It is
// immutable once the device has been identified.
type Config struct {
	// CHS holds the legacy cylinders/heads/sectors geometry, informational
	// only.
	CHS [3]uint16

	// LBA48 is true if the drive supports the 48-bit address feature set.
	LBA48 bool

	// AlignmentLog2 is the log2 of the number of 512 byte blocks per
	// physical on-disk sector. Reads are aligned to 1<<AlignmentLog2.
	AlignmentLog2 uint8

	// Sectors is the total number of addressable blocks.
	Sectors uint64
}

// ErrNoController is returned by Init when the register probe fails.
var ErrNoController = errors.New("no ATA controller found")

// Device is a single PIO-mode ATA device. All access is synchronous and
// single-threaded; nothing here suspends or locks.
type Device struct {
	port Port
	log  *console.Console

	cache  *sectorCache
	quirks []Quirk

	cfg Config

	// Last issued command, kept for diagnostics when an error bit shows up.
	lastCommand uint8
	lastBlock   uint32
	lastCount   uint16
}

// Option configures a Device.
type Option func(*Device)

// WithQuirks replaces the built-in drive quirk table used during Identify.
func WithQuirks(quirks []Quirk) Option {
	return func(d *Device) {
		d.quirks = quirks
	}
}

// New creates a Device speaking through port. Call Init before anything else.
func New(port Port, log *console.Console, opts ...Option) *Device {
	d := &Device{
		port:   port,
		log:    log,
		quirks: DefaultQuirks(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Config returns the drive configuration determined by Identify.
func (d *Device) Config() Config {
	return d.cfg
}

// ClearCache drops every cached block.
func (d *Device) ClearCache() {
	d.cache.clear()
}

func (d *Device) command(cmd uint8) {
	d.lastCommand = cmd
	d.port.Out8(RegCommand, cmd)
}

// delay400ns gives the device time to assert BSY after a register write,
// by reading the alternate status register often enough to pass 400ns.
func (d *Device) delay400ns() {
	for i := 0; i < 16; i++ {
		d.port.In8(RegAltStatus)
	}
}

// spinwaitNotBusy polls until the device deasserts BSY. There is no timeout:
// a device that never clears BSY hangs the boot, which is exactly what the
// surrounding firmware expects.
func (d *Device) spinwaitNotBusy() {
	for d.port.In8(RegAltStatus)&StatusBSY != 0 {
	}
}

// checkError escalates if the device flagged an error on the last transfer.
func (d *Device) checkError() {
	status := d.port.In8(RegStatus)
	if status&StatusERR == 0 {
		return
	}

	devErr := d.port.In8(RegError)
	d.log.Errorf("ATA IO error: status %02X, error %02X, last command %02X", status, devErr, d.lastCommand)
	if d.lastCommand == CommandReadSectors || d.lastCommand == CommandReadSectorsExt {
		d.log.Errorf("block %d, count %d", d.lastBlock, d.lastCount)
	}
	d.log.Fatalf("unrecoverable ATA error")
}

// Init probes for the controller and sets up the sector cache.
//
// The probe writes a signature pattern through two general purpose registers
// and expects to read it back. A missing controller is reported to the
// caller, not escalated: the boot sequence may have other devices to try.
func (d *Device) Init() error {
	d.port.Out8(RegDeviceHead, 0xA0|Device0)
	d.delay400ns()

	d.port.Out8(RegSectCount, 0x55)
	d.port.Out8(RegSect, 0xAA)
	d.port.Out8(RegSectCount, 0xAA)
	d.port.Out8(RegSect, 0x55)
	d.port.Out8(RegSectCount, 0x55)
	d.port.Out8(RegSect, 0xAA)

	if d.port.In8(RegSectCount) != 0x55 || d.port.In8(RegSect) != 0xAA {
		return checkpoint.From(ErrNoController)
	}

	d.cache = newSectorCache(d.log)

	return nil
}

// Standby spins the drive down. Non-zero variations issue vendor-specific
// standby command codes seen in the wild.
func (d *Device) Standby(variation int) {
	cmd := uint8(CommandStandby)
	switch variation {
	case 1:
		cmd = 0x94
	case 2:
		cmd = 0x96
	case 3:
		cmd = 0xE0
	case 4:
		cmd = 0xE2
	}
	d.command(cmd)
	d.delay400ns()

	d.spinwaitNotBusy()

	// Some drives raise an interrupt when entering standby. Reading the
	// status register acknowledges it.
	d.port.In8(RegStatus)
}

// Sleep puts the drive into sleep mode. The device asserts an interrupt once
// it is ready and waits for the host to acknowledge by reading the status
// register. After that it accepts no commands until a device reset.
func (d *Device) Sleep() {
	d.command(CommandSleep)
	d.delay400ns()
	d.delay400ns()
	d.spinwaitNotBusy()
	d.delay400ns()
	d.delay400ns()
	d.port.In8(RegStatus)
}

// sendReadCommand issues a read of count blocks starting at lba.
func (d *Device) sendReadCommand(lba uint32, count uint16) {
	d.lastBlock = lba
	d.lastCount = count

	// For LBA28 the head nibble carries address bits 24-27. LBA48 keeps the
	// head bits clear and uses the high register set instead.
	var head uint8
	if !d.cfg.LBA48 {
		head = uint8((lba & 0x0F000000) >> 24)
	}
	d.port.Out8(RegDeviceHead, 0xA0|LBAAddressing|Device0|head)
	d.delay400ns()
	d.port.Out8(RegFeatures, 0)
	d.port.Out8(RegControl, ControlNIEN|0x08)

	if d.cfg.LBA48 {
		// The controller latches the previous write of each address
		// register as the high order byte, so the high bytes must be
		// written before the low ones.
		d.port.Out8(RegSecCountHigh, uint8((count&0xFF00)>>8))
		d.port.Out8(RegLBA3, uint8((lba&0xFF000000)>>24))
		d.port.Out8(RegLBA4, 0)
		d.port.Out8(RegLBA5, 0)
	}

	d.port.Out8(RegSecCountLow, uint8(count&0x00FF))
	d.port.Out8(RegLBA0, uint8(lba&0x000000FF))
	d.port.Out8(RegLBA1, uint8((lba&0x0000FF00)>>8))
	d.port.Out8(RegLBA2, uint8((lba&0x00FF0000)>>16))

	if d.cfg.LBA48 {
		d.command(CommandReadSectorsExt)
	} else {
		d.command(CommandReadSectors)
	}

	d.delay400ns()
	d.delay400ns()
}

// transfer copies count blocks of data from the device data register into
// dst. A nil dst consumes and discards the data, which keeps the transfer
// protocol synchronized for blocks nobody asked for. It returns the number
// of bytes actually received.
func (d *Device) transfer(dst []byte, count uint32) uint32 {
	words := (BlockSize / 2) * count
	received := uint32(0)

	for i := uint32(0); i < words; i++ {
		d.spinwaitNotBusy()

		// DRQ must be up and ERR down for another word to be available.
		if d.port.In8(RegStatus)&(StatusERR|StatusDRQ) != StatusDRQ {
			break
		}

		w := d.port.In16(RegData)
		if dst != nil {
			dst[received] = uint8(w)
			dst[received+1] = uint8(w >> 8)
		}
		received += 2
	}

	return received
}

// receiveReadData collects count blocks after a read command has been
// issued. Transfer errors and short transfers are integrity violations and
// halt the boot.
func (d *Device) receiveReadData(dst []byte, count uint32) uint32 {
	received := d.transfer(dst, count)

	d.spinwaitNotBusy()
	d.checkError()

	if expected := count * BlockSize; received != expected {
		d.log.Errorf("ATA IO error: unexpected number of bytes received")
		d.log.Fatalf("expected: %d, actual: %d", expected, received)
	}

	return received
}

// readBlock reads one 512 byte block.
//
// The read is widened to the physical sector alignment of the drive: with an
// alignment of 1<<AlignmentLog2 blocks, the device command covers the whole
// aligned run containing the requested block. With useCache every block of
// the run is streamed into its own cache slot and the requested one is also
// copied to dst; without it the unrequested blocks are consumed and thrown
// away.
func (d *Device) readBlock(dst []byte, block uint32, useCache bool) {
	if useCache {
		if idx := d.cache.find(block); idx >= 0 {
			copy(dst, d.cache.buffer(idx))
			return
		}
	}

	if !d.cfg.LBA48 && block > 0x0FFFFFFF {
		d.log.Errorf("out of bounds read: block %d is too large for LBA28 addressing", block)
		d.log.Fatalf("unrecoverable ATA error")
		return
	}

	readSize := uint32(1) << d.cfg.AlignmentLog2
	start := block &^ (readSize - 1)

	d.sendReadCommand(start, uint16(readSize))

	if useCache {
		for i := start; i < start+readSize; i++ {
			idx := d.cache.create(i)
			buf := d.cache.buffer(idx)

			d.receiveReadData(buf, 1)

			if i == block {
				copy(dst, buf)
			}
		}
		d.cache.ticks++
	} else {
		for i := start; i < start+readSize; i++ {
			if i == block {
				d.receiveReadData(dst, 1)
			} else {
				d.receiveReadData(nil, 1)
			}
		}
	}
}

// ReadBlocks reads count blocks starting at block into dst through the
// sector cache. dst must hold count*512 bytes.
func (d *Device) ReadBlocks(dst []byte, block uint32, count uint32) error {
	for i := uint32(0); i < count; i++ {
		d.readBlock(dst[i*BlockSize:(i+1)*BlockSize], block+i, true)
	}
	return nil
}

// ReadBlocksUncached reads count blocks starting at block into dst without
// consulting or populating the cache. The data always comes from the device.
func (d *Device) ReadBlocksUncached(dst []byte, block uint32, count uint32) error {
	for i := uint32(0); i < count; i++ {
		d.readBlock(dst[i*BlockSize:(i+1)*BlockSize], block+i, false)
	}
	return nil
}
