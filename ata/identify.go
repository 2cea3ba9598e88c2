package ata

import (
	"strings"
)

// Info describes the device as reported by IDENTIFY DEVICE.
type Info struct {
	// Model, Serial and Firmware are the identification strings, with the
	// space padding trimmed.
	Model    string
	Serial   string
	Firmware string

	// Version is the highest ATA/ATAPI major version the device reports
	// support for, or 0 if the device does not report one.
	Version int

	Config
}

// identifyString renders a fixed-length identify field. The device stores
// strings as space-padded big-endian character pairs inside 16-bit words.
func identifyString(words []uint16) string {
	raw := identifyBytes(words)
	return strings.TrimRight(string(raw), " ")
}

// identifyBytes expands identify words into their byte-wise character order.
func identifyBytes(words []uint16) []byte {
	raw := make([]byte, 0, len(words)*2)
	for _, w := range words {
		raw = append(raw, byte(w>>8), byte(w))
	}
	return raw
}

// Identify interrogates the device, validates the response and derives the
// drive configuration: addressing mode, capacity and physical sector
// alignment. Any integrity failure halts the boot.
func (d *Device) Identify() Info {
	d.port.Out8(RegDeviceHead, 0xA0|Device0)
	d.port.Out8(RegFeatures, 0)
	d.port.Out8(RegControl, ControlNIEN)
	d.port.Out8(RegSectCount, 0)
	d.port.Out8(RegSect, 0)
	d.port.Out8(RegCylLow, 0)
	d.port.Out8(RegCylHigh, 0)

	d.command(CommandIdentifyDevice)
	d.delay400ns()

	var raw [BlockSize]byte
	d.receiveReadData(raw[:], 1)

	var words [256]uint16
	for i := range words {
		words[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}

	// Word 255 is the integrity word. If its low byte carries the A5h
	// signature, the high byte is a checksum chosen so that all 512 bytes
	// of the response sum to zero.
	if words[255]&0x00FF == 0xA5 {
		var sum uint8
		for _, w := range words {
			sum += uint8(w & 0x00FF)
			sum += uint8(w >> 8)
		}

		if sum != 0 {
			d.log.Errorf("identify failed (checksum mismatch)")
			d.log.Errorf("integrity word: %04X, sum: %d", words[255], sum)
			d.log.Fatalf("unrecoverable ATA error")
			return Info{}
		}
		d.log.Infof("identify OK (checksum pass)")
	} else {
		d.log.Infof("identify OK (no checksum)")
	}

	info := Info{}

	// Word 80 holds one bit per supported major version.
	if words[80] != 0x0000 && words[80] != 0xFFFF {
		for i := 14; i >= 2; i-- {
			if words[80]&(1<<uint(i)) != 0 {
				info.Version = i
				d.log.Infof("ATA/ATAPI-%d", i)
				break
			}
		}
	}

	model := words[27:47]
	info.Model = identifyString(model)
	info.Serial = identifyString(words[10:20])
	info.Firmware = identifyString(words[23:27])
	d.log.Infof("model: %s", info.Model)
	d.log.Infof("serial: %s", info.Serial)
	d.log.Infof("firmware: %s", info.Firmware)

	d.cfg.CHS = [3]uint16{words[1], words[3], words[6]}
	d.log.Infof("CHS: %d/%d/%d", d.cfg.CHS[0], d.cfg.CHS[1], d.cfg.CHS[2])

	// Words 60-61 and 100-103 must not be used to decide whether 48-bit
	// addressing is supported; word 83 bit 10 is authoritative.
	d.cfg.LBA48 = words[83]&(1<<10) != 0

	if d.cfg.LBA48 {
		d.cfg.Sectors = uint64(words[103])<<48 |
			uint64(words[102])<<32 |
			uint64(words[101])<<16 |
			uint64(words[100])
	} else {
		d.cfg.Sectors = uint64(words[61])<<16 | uint64(words[60])
	}

	sizeMB := d.cfg.Sectors / BlocksPerMB
	if d.cfg.LBA48 {
		d.log.Infof("LBA48, size: %d.%dGB", sizeMB/1024, (sizeMB%1024)/10)
	} else {
		d.log.Infof("LBA28, size: %d.%dGB", sizeMB/1024, (sizeMB%1024)/10)
	}

	d.cfg.AlignmentLog2 = d.alignmentFor(identifyBytes(model), sizeMB)

	info.Config = d.cfg
	return info
}

// alignmentFor picks the physical sector alignment for the drive: a quirk
// table match on the raw model string wins, then drives above 127GiB are
// assumed to use 4K sectors, everything else reads single blocks.
func (d *Device) alignmentFor(rawModel []byte, sizeMB uint64) uint8 {
	for _, q := range d.quirks {
		if q.matches(rawModel) {
			d.log.Infof("enabling %s quirks", q.Name)
			return q.AlignmentLog2
		}
	}

	if sizeMB > 127*1024 {
		d.log.Infof("large drive, enabling 4K reads")
		return 3
	}

	return 0
}
