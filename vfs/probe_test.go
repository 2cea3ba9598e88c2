package vfs

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robrohan/ipodpatcher/console"
	"github.com/robrohan/ipodpatcher/fat"
)

// mapDevice serves 512-byte blocks from a sparse map. Blocks inside the
// device that were never written read back as zeros.
type mapDevice struct {
	blocks map[uint32][]byte
	size   uint32
}

func newMapDevice(size uint32) *mapDevice {
	return &mapDevice{blocks: map[uint32][]byte{}, size: size}
}

func (d *mapDevice) ReadBlocks(dst []byte, block, count uint32) error {
	if block+count > d.size {
		return errors.New("read past end of device")
	}
	for i := uint32(0); i < count; i++ {
		out := dst[i*blockSize : (i+1)*blockSize]
		if b, ok := d.blocks[block+i]; ok {
			copy(out, b)
		} else {
			for j := range out {
				out[j] = 0
			}
		}
	}
	return nil
}

func (d *mapDevice) put(block uint32, b []byte) {
	stored := make([]byte, blockSize)
	copy(stored, b)
	d.blocks[block] = stored
}

func probeConsole() *console.Console {
	return console.New(
		console.WithOutput(io.Discard),
		console.WithExitFunc(func(int) { panic("boot halted") }),
	)
}

// fat16BootSector builds a boot sector describing a valid FAT16 volume:
// 512 bytes per sector, 1 sector per cluster, 8000 data clusters.
func fat16BootSector() []byte {
	b := make([]byte, blockSize)
	b[11], b[12] = 0x00, 0x02 // 512 bytes per sector
	b[13] = 1                 // sectors per cluster
	b[14], b[15] = 1, 0       // reserved sectors
	b[16] = 2                 // number of FATs
	b[17], b[18] = 0x00, 0x02 // 512 root entries
	b[19], b[20] = 0xA1, 0x1F // 8097 total sectors
	b[22], b[23] = 32, 0      // sectors per FAT
	b[510], b[511] = 0x55, 0xAA
	return b
}

func firmwareBlock() []byte {
	b := make([]byte, blockSize)
	copy(b, firmwareMagic)
	return b
}

func ext2SuperBlock() []byte {
	b := make([]byte, blockSize)
	b[56], b[57] = 0x53, 0xEF
	return b
}

// mbrBlock builds block zero: the boot signature, a sector size hint at
// offsets 11/12 and the given partition table entries.
func mbrBlock(sectorSize uint16, entries [MaxFilesystems]partEntry) []byte {
	b := make([]byte, blockSize)
	b[11] = byte(sectorSize)
	b[12] = byte(sectorSize >> 8)
	for i, e := range entries {
		slot := partTableStart + i*partEntrySize
		b[slot+4] = e.typ
		b[slot+8] = byte(e.offset)
		b[slot+9] = byte(e.offset >> 8)
		b[slot+10] = byte(e.offset >> 16)
		b[slot+11] = byte(e.offset >> 24)
	}
	b[510], b[511] = 0x55, 0xAA
	return b
}

func TestProbe(t *testing.T) {
	dev := newMapDevice(1024)
	dev.put(0, mbrBlock(512, [MaxFilesystems]partEntry{
		{typ: partTypeEmpty, offset: 1},
		{typ: partTypeFAT, offset: 100},
		{typ: partTypeExt2, offset: 200},
		{typ: partTypeEmpty},
	}))
	dev.put(1, firmwareBlock())
	dev.put(100, fat16BootSector())
	dev.put(202, ext2SuperBlock())

	v, err := Probe(dev, probeConsole())
	require.NoError(t, err)

	assert.Equal(t, 0, v.FindPartition(TypeFirmware))
	assert.Equal(t, 1, v.FindPartition(TypeFAT))
	assert.Equal(t, 2, v.FindPartition(TypeExt2))

	// Only the FAT partition is readable.
	fs, ok := v.Mounted(1).(*fat.FS)
	require.True(t, ok)
	assert.Equal(t, 16, fs.Type())
	assert.Equal(t, uint8(1), fs.Partition())

	assert.Nil(t, v.Mounted(0))
	assert.Nil(t, v.Mounted(2))
	assert.Nil(t, v.Mounted(3))
}

func TestProbeScaledOffsets(t *testing.T) {
	// An MBR written through USB with 1024-byte sectors doubles every
	// partition offset relative to the native 512-byte blocks.
	dev := newMapDevice(1024)
	dev.put(0, mbrBlock(1024, [MaxFilesystems]partEntry{
		{typ: partTypeEmpty, offset: 3},
		{typ: partTypeFAT, offset: 100},
		{typ: partTypeExt2, offset: 50},
		{typ: partTypeEmpty},
	}))
	dev.put(6, firmwareBlock())
	dev.put(200, fat16BootSector())
	dev.put(102, ext2SuperBlock())

	v, err := Probe(dev, probeConsole())
	require.NoError(t, err)

	assert.Equal(t, 0, v.FindPartition(TypeFirmware))
	assert.Equal(t, 2, v.FindPartition(TypeExt2))

	fs, ok := v.Mounted(1).(*fat.FS)
	require.True(t, ok)
	assert.Equal(t, 16, fs.Type())
}

func TestProbePrefersPlainOffset(t *testing.T) {
	// Valid data at the plain offset wins even when the hint suggests a
	// multiplier.
	dev := newMapDevice(1024)
	dev.put(0, mbrBlock(1024, [MaxFilesystems]partEntry{
		{typ: partTypeEmpty},
		{typ: partTypeFAT, offset: 100},
		{typ: partTypeEmpty},
		{typ: partTypeEmpty},
	}))
	dev.put(100, fat16BootSector())
	dev.put(200, fat16BootSector())

	v, err := Probe(dev, probeConsole())
	require.NoError(t, err)

	fs, ok := v.Mounted(1).(*fat.FS)
	require.True(t, ok)
	assert.Equal(t, 16, fs.Type())
}

func TestProbeSkipsBadEntries(t *testing.T) {
	dev := newMapDevice(1024)
	dev.put(0, mbrBlock(512, [MaxFilesystems]partEntry{
		{typ: partTypeEmpty}, // offset 0 points back at the MBR, no firmware magic
		{typ: partTypeFAT, offset: 100},
		{typ: partTypeFAT, offset: 300}, // no boot signature there
		{typ: 0xAF, offset: 400},        // unknown type
	}))
	dev.put(100, fat16BootSector())

	v, err := Probe(dev, probeConsole())
	require.NoError(t, err)

	assert.Equal(t, 1, v.FindPartition(TypeFAT))
	assert.Nil(t, v.Mounted(2))
	assert.Nil(t, v.Mounted(3))
}

func TestProbeBadEntryPastEndOfDevice(t *testing.T) {
	dev := newMapDevice(512)
	dev.put(0, mbrBlock(512, [MaxFilesystems]partEntry{
		{typ: partTypeEmpty},
		{typ: partTypeFAT, offset: 100},
		{typ: partTypeFAT, offset: 5000},
		{typ: partTypeEmpty},
	}))
	dev.put(100, fat16BootSector())

	v, err := Probe(dev, probeConsole())
	require.NoError(t, err)
	assert.Equal(t, 1, v.FindPartition(TypeFAT))
	assert.Nil(t, v.Mounted(2))
}

func TestProbeNoSignature(t *testing.T) {
	dev := newMapDevice(16)

	_, err := Probe(dev, probeConsole())
	assert.ErrorIs(t, err, ErrNoMBR)
}

func TestProbeApplePartitionMap(t *testing.T) {
	raw := make([]byte, blockSize)
	raw[0], raw[1] = 'E', 'R'
	dev := newMapDevice(16)
	dev.put(0, raw)

	_, err := Probe(dev, probeConsole())
	require.ErrorIs(t, err, ErrNoMBR)
	assert.Contains(t, err.Error(), "apple partition map")
}

func TestProbeNoValidPartitions(t *testing.T) {
	dev := newMapDevice(1024)
	dev.put(0, mbrBlock(512, [MaxFilesystems]partEntry{}))

	_, err := Probe(dev, probeConsole())
	require.ErrorIs(t, err, ErrNoMBR)
	assert.Contains(t, err.Error(), "no valid partitions")
}
