package ata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robrohan/ipodpatcher/ata"
	"github.com/robrohan/ipodpatcher/sim"
)

func TestIdentify(t *testing.T) {
	ctrl := sim.New(sim.NewSparseImage(0), sim.Options{
		Model:    "TOSHIBA MK3008GAL",
		Serial:   "Y38147BX",
		Firmware: "1.0",
		Sectors:  58605120,
		CHS:      [3]uint16{16383, 16, 63},
	})

	dev := ata.New(ctrl, testConsole())
	require.NoError(t, dev.Init())
	info := dev.Identify()

	// The padding the identify fields carry on the wire must be gone.
	assert.Equal(t, "TOSHIBA MK3008GAL", info.Model)
	assert.Equal(t, "Y38147BX", info.Serial)
	assert.Equal(t, "1.0", info.Firmware)
	assert.Equal(t, 6, info.Version)

	assert.False(t, info.LBA48)
	assert.Equal(t, uint64(58605120), info.Sectors)
	assert.Equal(t, [3]uint16{16383, 16, 63}, info.CHS)
	assert.Equal(t, uint8(0), info.AlignmentLog2)

	assert.Equal(t, info.Config, dev.Config())
}

func TestIdentifyLBA48(t *testing.T) {
	const sectors = 0x12345678

	ctrl := sim.New(sim.NewSparseImage(0), sim.Options{
		Model:   "SIMULATED",
		Sectors: sectors,
		LBA48:   true,
	})

	dev := ata.New(ctrl, testConsole())
	require.NoError(t, dev.Init())
	info := dev.Identify()

	assert.True(t, info.LBA48)
	assert.Equal(t, uint64(sectors), info.Sectors)
}

func TestIdentifyQuirkAlignment(t *testing.T) {
	// The Toshiba ..10GAH family matches the built-in quirk table and gets
	// 1024 byte physical sectors.
	ctrl := sim.New(sim.NewSparseImage(0), sim.Options{
		Model:   "TOSHIBA MK1010GAH",
		Sectors: 19640880,
	})

	dev := ata.New(ctrl, testConsole())
	require.NoError(t, dev.Init())
	info := dev.Identify()

	assert.Equal(t, uint8(1), info.AlignmentLog2)
}

func TestIdentifyLargeDriveAlignment(t *testing.T) {
	// Above 127GiB the driver assumes 4K physical sectors even without a
	// quirk entry.
	ctrl := sim.New(sim.NewSparseImage(0), sim.Options{
		Model:   "SIMULATED",
		Sectors: 1 << 29,
		LBA48:   true,
	})

	dev := ata.New(ctrl, testConsole())
	require.NoError(t, dev.Init())
	info := dev.Identify()

	assert.Equal(t, uint8(3), info.AlignmentLog2)
}

func TestIdentifyChecksumMismatchHalts(t *testing.T) {
	ctrl := sim.New(sim.NewSparseImage(0), sim.Options{
		Model:           "SIMULATED",
		CorruptChecksum: true,
	})

	dev := ata.New(ctrl, testConsole())
	require.NoError(t, dev.Init())

	assert.PanicsWithValue(t, "boot halted", func() {
		dev.Identify()
	})
}

func TestIdentifyWithoutChecksum(t *testing.T) {
	// Pre-ATA-5 devices carry no integrity word; their response is taken
	// as is.
	ctrl := sim.New(sim.NewSparseImage(0), sim.Options{
		Model:      "SIMULATED",
		Sectors:    1024,
		NoChecksum: true,
	})

	dev := ata.New(ctrl, testConsole())
	require.NoError(t, dev.Init())
	info := dev.Identify()

	assert.Equal(t, "SIMULATED", info.Model)
	assert.Equal(t, uint64(1024), info.Sectors)
}
