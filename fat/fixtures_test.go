package fat

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robrohan/ipodpatcher/console"
	"github.com/robrohan/ipodpatcher/sim"
)

// testConsole returns a quiet console whose fatal tier panics instead of
// exiting, so tests can observe boot halts.
func testConsole() *console.Console {
	return console.New(
		console.WithOutput(io.Discard),
		console.WithExitFunc(func(int) { panic("boot halted") }),
	)
}

// imageDevice serves a sparse image as a block device.
type imageDevice struct {
	img *sim.SparseImage
}

func (d *imageDevice) ReadBlocks(dst []byte, block uint32, count uint32) error {
	_, err := d.img.ReadAt(dst[:count*blockSize], int64(block)*blockSize)
	return err
}

// volumeParams is the geometry of a built test volume.
type volumeParams struct {
	fat32        bool
	offset       uint32
	reserved     uint16
	numFATs      uint8
	spc          uint8
	fatSectors   uint32
	rootEntries  uint16
	totalSectors uint32
	rootCluster  uint32
}

// fat16Params gives 8000 data clusters, safely in the FAT16 range.
func fat16Params() volumeParams {
	return volumeParams{
		reserved:     1,
		numFATs:      2,
		spc:          1,
		fatSectors:   32,
		rootEntries:  512,
		totalSectors: 8097,
	}
}

// fat32Params gives 65600 data clusters, just past the FAT32 threshold.
// Almost all of them stay zero filler in the sparse image.
func fat32Params() volumeParams {
	return volumeParams{
		fat32:        true,
		reserved:     32,
		numFATs:      2,
		spc:          1,
		fatSectors:   513,
		totalSectors: 66658,
		rootCluster:  2,
	}
}

// testDir addresses a directory being filled: the legacy fixed root run or
// a single directory cluster.
type testDir struct {
	root    bool
	cluster uint32
	slot    int
}

// testVolume builds FAT volume images for tests, entry by entry.
type testVolume struct {
	t   *testing.T
	img *sim.SparseImage
	p   volumeParams

	root     *testDir
	nextFree uint32
}

func buildVolume(t *testing.T, p volumeParams) *testVolume {
	t.Helper()

	v := &testVolume{
		t:        t,
		img:      sim.NewSparseImage(int64(p.offset+p.totalSectors) * blockSize),
		p:        p,
		root:     &testDir{root: true},
		nextFree: 2,
	}
	v.writeBootSector()

	if p.fat32 {
		root := v.allocChain(1)
		require.Equal(t, p.rootCluster, root[0])
		v.root.cluster = root[0]
	}

	return v
}

func buildFAT16Volume(t *testing.T) *testVolume {
	return buildVolume(t, fat16Params())
}

func buildFAT32Volume(t *testing.T) *testVolume {
	return buildVolume(t, fat32Params())
}

func (v *testVolume) writeBootSector() {
	bpb := BPB{
		BSJumpBoot:          [3]byte{0xEB, 0x3C, 0x90},
		BytesPerSector:      512,
		SectorsPerCluster:   v.p.spc,
		ReservedSectorCount: v.p.reserved,
		NumFATs:             v.p.numFATs,
		RootEntryCount:      v.p.rootEntries,
		Media:               0xF8,
		SectorsPerTrack:     63,
		NumberOfHeads:       16,
	}
	copy(bpb.BSOEMName[:], "MSDOS5.0")

	if v.p.fat32 {
		bpb.TotalSectors32 = v.p.totalSectors

		specific := FAT32SpecificData{
			FATSize:         v.p.fatSectors,
			RootCluster:     v.p.rootCluster,
			FSInfo:          1,
			BkBootSector:    6,
			BSBootSignature: 0x29,
		}
		copy(specific.BSFileSystemType[:], "FAT32   ")

		var buf bytes.Buffer
		require.NoError(v.t, binary.Write(&buf, binary.LittleEndian, specific))
		copy(bpb.FATSpecificData[:], buf.Bytes())
	} else {
		bpb.FATSize16 = uint16(v.p.fatSectors)
		if v.p.totalSectors < 0x10000 {
			bpb.TotalSectors16 = uint16(v.p.totalSectors)
		} else {
			bpb.TotalSectors32 = v.p.totalSectors
		}
	}

	var buf bytes.Buffer
	require.NoError(v.t, binary.Write(&buf, binary.LittleEndian, bpb))

	raw := make([]byte, blockSize)
	copy(raw, buf.Bytes())
	raw[510] = 0x55
	raw[511] = 0xAA

	v.writeBlock(uint32(v.p.offset), raw)
}

func (v *testVolume) writeBlock(block uint32, data []byte) {
	v.t.Helper()
	_, err := v.img.WriteAt(data, int64(block)*blockSize)
	require.NoError(v.t, err)
}

// setFATEntry writes one allocation table entry into the first FAT copy.
func (v *testVolume) setFATEntry(cluster, value uint32) {
	v.t.Helper()

	var entry []byte
	var entryOffset uint32
	if v.p.fat32 {
		entry = make([]byte, 4)
		binary.LittleEndian.PutUint32(entry, value)
		entryOffset = cluster * 4
	} else {
		entry = make([]byte, 2)
		binary.LittleEndian.PutUint16(entry, uint16(value))
		entryOffset = cluster * 2
	}

	off := int64(v.p.offset+uint32(v.p.reserved))*blockSize + int64(entryOffset)
	_, err := v.img.WriteAt(entry, off)
	require.NoError(v.t, err)
}

func (v *testVolume) endMarker() uint32 {
	if v.p.fat32 {
		return 0x0FFFFFFF
	}
	return 0xFFFF
}

// allocChain allocates n clusters and links them into a chain.
func (v *testVolume) allocChain(n int) []uint32 {
	clusters := make([]uint32, n)
	for i := range clusters {
		clusters[i] = v.nextFree
		v.nextFree++
	}

	for i, c := range clusters {
		if i == len(clusters)-1 {
			v.setFATEntry(c, v.endMarker())
		} else {
			v.setFATEntry(c, clusters[i+1])
		}
	}

	return clusters
}

// dataLBA returns the first block of a data cluster.
func (v *testVolume) dataLBA(cluster uint32) uint32 {
	rootDirSectors := (uint32(v.p.rootEntries)*32 + 511) / 512
	first := uint32(v.p.reserved) + uint32(v.p.numFATs)*v.p.fatSectors + rootDirSectors
	return v.p.offset + first + (cluster-2)*uint32(v.p.spc)
}

// writeChainData spreads data over the clusters of a chain.
func (v *testVolume) writeChainData(chain []uint32, data []byte) {
	clusterBytes := int(v.p.spc) * blockSize
	for i, c := range chain {
		start := i * clusterBytes
		if start >= len(data) {
			break
		}
		end := start + clusterBytes
		if end > len(data) {
			end = len(data)
		}
		v.writeBlock(v.dataLBA(c), data[start:end])
	}
}

// writeSlot stores one raw 32 byte directory slot.
func (v *testVolume) writeSlot(d *testDir, raw []byte) {
	v.t.Helper()
	require.Len(v.t, raw, 32)

	var base int64
	if d.root && !v.p.fat32 {
		require.Less(v.t, d.slot, int(v.p.rootEntries))
		rootLBA := v.p.offset + uint32(v.p.reserved) + uint32(v.p.numFATs)*v.p.fatSectors
		base = int64(rootLBA) * blockSize
	} else {
		// Directories built here fit in their first cluster.
		require.Less(v.t, d.slot, int(v.p.spc)*blockSize/32)
		base = int64(v.dataLBA(d.cluster)) * blockSize
	}

	_, err := v.img.WriteAt(raw, base+int64(d.slot)*32)
	require.NoError(v.t, err)
	d.slot++
}

func (v *testVolume) writeEntry(d *testDir, entry EntryHeader) {
	var buf bytes.Buffer
	require.NoError(v.t, binary.Write(&buf, binary.LittleEndian, entry))
	v.writeSlot(d, buf.Bytes())
}

// shortEntry builds a raw short entry. name must be the 11 character
// space-padded on-disk form, e.g. "README  TXT".
func shortEntry(name string, attr byte, cluster uint32, size uint32) EntryHeader {
	entry := EntryHeader{
		Attribute:      attr,
		FirstClusterLO: uint16(cluster),
		FirstClusterHI: uint16(cluster >> 16),
		FileSize:       size,
		WriteDate:      0x5299, // 2021-04-25
		WriteTime:      0x5DBA, // 11:45:52
	}
	copy(entry.Name[:], name)
	for i := len(name); i < 11; i++ {
		entry.Name[i] = ' '
	}
	return entry
}

// writeLongName emits the long-name fragment slots for the given short
// entry, highest fragment first as they appear on disk.
func (v *testVolume) writeLongName(d *testDir, long string, shortName [11]byte, badChecksum bool) {
	checksum := lfnChecksum(shortName[:])
	if badChecksum {
		checksum++
	}

	numFrags := (len(long) + 12) / 13
	for frag := numFrags; frag >= 1; frag-- {
		slot := LongFilenameEntry{
			Sequence:  byte(frag),
			Attribute: attrLongName,
			Checksum:  checksum,
		}
		if frag == numFrags {
			slot.Sequence |= 0x40
		}

		var chars [13]uint16
		for i := range chars {
			pos := (frag-1)*13 + i
			switch {
			case pos < len(long):
				chars[i] = uint16(long[pos])
			case pos == len(long):
				chars[i] = 0x0000
			default:
				chars[i] = 0xFFFF
			}
		}
		copy(slot.First[:], chars[0:5])
		copy(slot.Second[:], chars[5:11])
		copy(slot.Third[:], chars[11:13])

		var buf bytes.Buffer
		require.NoError(v.t, binary.Write(&buf, binary.LittleEndian, slot))
		v.writeSlot(d, buf.Bytes())
	}
}

// addFile creates a file with the given content and returns its chain.
func (v *testVolume) addFile(d *testDir, name string, long string, data []byte) []uint32 {
	clusterBytes := int(v.p.spc) * blockSize
	n := (len(data) + clusterBytes - 1) / clusterBytes
	if n == 0 {
		n = 1
	}

	chain := v.allocChain(n)
	v.writeChainData(chain, data)

	entry := shortEntry(name, 0, chain[0], uint32(len(data)))
	if long != "" {
		v.writeLongName(d, long, entry.Name, false)
	}
	v.writeEntry(d, entry)

	return chain
}

// addDir creates a subdirectory and returns it for filling.
func (v *testVolume) addDir(d *testDir, name string, long string) *testDir {
	chain := v.allocChain(1)

	entry := shortEntry(name, attrDirectory, chain[0], 0)
	if long != "" {
		v.writeLongName(d, long, entry.Name, false)
	}
	v.writeEntry(d, entry)

	return &testDir{cluster: chain[0]}
}

// addLabel writes the volume label entry.
func (v *testVolume) addLabel(label string) {
	v.writeEntry(v.root, shortEntry(label, attrVolumeLabel, 0, 0))
}

// mount mounts the built image.
func (v *testVolume) mount() *FS {
	v.t.Helper()
	fs, err := Mount(&imageDevice{img: v.img}, testConsole(), 0, v.p.offset)
	require.NoError(v.t, err)
	return fs
}
