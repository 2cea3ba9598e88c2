package vfs

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/robrohan/ipodpatcher/console"
	"github.com/robrohan/ipodpatcher/fat"
)

const (
	blockSize      = 512
	partTableStart = 0x1BE
	partEntrySize  = 16

	partTypeEmpty = 0x00
	partTypeFAT   = 0x0B
	partTypeExt2  = 0x83
)

// ErrNoMBR is returned when block zero carries no recognizable partition
// scheme.
var ErrNoMBR = errors.New("no master boot record")

var firmwareMagic = []byte("]ih[")

// partEntry is one slot of the MBR partition table.
type partEntry struct {
	typ    uint8
	offset uint32
}

func parseMBR(raw []byte) []partEntry {
	entries := make([]partEntry, MaxFilesystems)
	for i := range entries {
		e := raw[partTableStart+i*partEntrySize:]
		entries[i].typ = e[4]
		entries[i].offset = binary.LittleEndian.Uint32(e[8:])
	}
	return entries
}

// Probe reads the partition table from block zero, validates each entry
// against the data it points at and mounts every supported filesystem into
// its partition slot.
//
// Drives that were repartitioned over USB may carry an MBR written with a
// sector size larger than 512 bytes, which scales every partition offset.
// The MBR boot code hints at the multiplier; when an entry's data is not at
// the plain offset the scaled offset is tried before the entry is rejected.
func Probe(dev fat.BlockReader, log *console.Console) (*VFS, error) {
	raw := make([]byte, blockSize)
	if err := dev.ReadBlocks(raw, 0, 1); err != nil {
		return nil, err
	}

	if binary.LittleEndian.Uint16(raw[510:]) != 0xAA55 {
		if raw[0] == 'E' && raw[1] == 'R' {
			return nil, errors.Wrap(ErrNoMBR, "apple partition map is not supported")
		}
		return nil, errors.Wrapf(ErrNoMBR, "bad signature %02x%02x", raw[510], raw[511])
	}
	log.Info("detected MBR partition scheme")

	multiplier := uint32(raw[12]|raw[11]) / 2
	if multiplier < 1 || multiplier > 4 {
		multiplier = 1
	}

	v := New()
	found := 0

	for i, e := range parseMBR(raw) {
		switch e.typ {
		case partTypeEmpty:
			// Slot zero holds the proprietary firmware partition, which is
			// marked as an empty entry.
			if i != 0 {
				log.Debugf("partition %d: empty", i)
				continue
			}

			offset, ok := locate(dev, e.offset, multiplier, isFirmware)
			if !ok {
				log.Warnf("partition %d: bad firmware entry", i)
				continue
			}

			log.Infof("partition %d: firmware at block %d", i, offset)
			v.Register(i, TypeFirmware, nil)
			found++

		case partTypeFAT:
			offset, ok := locate(dev, e.offset, multiplier, isFAT)
			if !ok {
				log.Warnf("partition %d: bad FAT entry", i)
				continue
			}

			fs, err := fat.Mount(dev, log, uint8(i), offset)
			if err != nil {
				log.Warnf("partition %d: %v", i, err)
				continue
			}

			log.Infof("partition %d: FAT%d at block %d", i, fs.Type(), offset)
			v.Register(i, TypeFAT, fs)
			found++

		case partTypeExt2:
			offset, ok := locateExt2(dev, e.offset, multiplier)
			if !ok {
				log.Warnf("partition %d: bad ext2 entry", i)
				continue
			}

			log.Infof("partition %d: ext2 at block %d (read not supported)", i, offset)
			v.Register(i, TypeExt2, nil)
			found++

		default:
			log.Infof("partition %d: unknown type %#02x", i, e.typ)
		}
	}

	if found == 0 {
		return nil, errors.Wrap(ErrNoMBR, "no valid partitions")
	}
	log.Infof("found %d valid partitions", found)

	return v, nil
}

// locate peeks at the block an entry points to and, failing that, at the
// multiplier-scaled block. It returns the offset that held valid data.
func locate(dev fat.BlockReader, offset, multiplier uint32, valid func([]byte) bool) (uint32, bool) {
	buf := make([]byte, blockSize)

	if err := dev.ReadBlocks(buf, offset, 1); err == nil && valid(buf) {
		return offset, true
	}

	if multiplier > 1 {
		scaled := offset * multiplier
		if err := dev.ReadBlocks(buf, scaled, 1); err == nil && valid(buf) {
			return scaled, true
		}
	}

	return 0, false
}

// locateExt2 is locate with the superblock probe two blocks into the
// partition.
func locateExt2(dev fat.BlockReader, offset, multiplier uint32) (uint32, bool) {
	buf := make([]byte, blockSize)

	if err := dev.ReadBlocks(buf, offset+2, 1); err == nil && isExt2(buf) {
		return offset, true
	}

	if multiplier > 1 {
		scaled := offset * multiplier
		if err := dev.ReadBlocks(buf, scaled+2, 1); err == nil && isExt2(buf) {
			return scaled, true
		}
	}

	return 0, false
}

func isFAT(buf []byte) bool {
	return binary.LittleEndian.Uint16(buf[510:]) == 0xAA55
}

func isFirmware(buf []byte) bool {
	return bytes.Equal(buf[:4], firmwareMagic)
}

func isExt2(buf []byte) bool {
	return binary.LittleEndian.Uint16(buf[56:]) == 0xEF53
}
