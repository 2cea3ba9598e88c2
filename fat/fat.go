// Package fat is a read-only FAT16/FAT32 filesystem reader with automatic
// type detection and long filename support, sitting on top of a block
// device. It exposes the handle-based surface the dispatch layer consumes
// (Open/Read/Seek/Tell/Close) plus an afero.Fs adapter.
package fat

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/robrohan/ipodpatcher/checkpoint"
	"github.com/robrohan/ipodpatcher/console"
)

// Filesystem variants detected at mount time.
const (
	FAT16 = 16
	FAT32 = 32
)

// MaxHandles is the capacity of the open file table of a mount.
const MaxHandles = 10

// blockSize is the logical block size of the underlying device.
const blockSize = 512

// These errors may occur while mounting or using a volume.
var (
	ErrNotFAT           = errors.New("no valid FAT boot sector")
	ErrNotFound         = errors.New("file not found")
	ErrTooManyOpenFiles = errors.New("open file table is full")
	ErrBadHandle        = errors.New("invalid file handle")
	ErrSeekOutOfRange   = errors.New("seek offset out of range")
)

// BlockReader is the downward interface to the block device: read count
// contiguous 512 byte blocks starting at block into dst, through the
// device's sector cache.
// It mainly exists to be able to mock the device in tests.
// Generated mock using mockgen:
//  mockgen -source=fat.go -destination=blockdev_mock.go -package fat
type BlockReader interface {
	ReadBlocks(dst []byte, block uint32, count uint32) error
}

type geometry struct {
	bytesPerSector    uint32
	sectorsPerCluster uint32
	reservedSectors   uint32
	numFATs           uint32
	sectorsPerFAT     uint32

	// rootEntries is the fixed root directory entry count of the legacy
	// variant; zero on FAT32.
	rootEntries uint32
	// rootDirSectors is the size of the legacy fixed root directory run.
	rootDirSectors uint32
	// rootFirstCluster is the first cluster of the FAT32 root directory.
	// On FAT16 it is unused; the root occupies a fixed sector run.
	rootFirstCluster uint32

	totalClusters uint32
	bitsPerEntry  uint8

	bytesPerCluster  uint32
	blksPerSector    uint32
	blksPerCluster   uint32
	entriesPerSector uint32
}

// fatSectorBuf caches the most recently fetched FAT sector. At most one
// sector is resident; it is refetched only when the required sector number
// changes.
type fatSectorBuf struct {
	buffer []byte
	sector uint32
	valid  bool
}

// FS is one mounted FAT volume.
type FS struct {
	dev BlockReader
	log *console.Console

	// offset is the partition start in 512 byte blocks from the start of
	// the drive.
	offset uint32
	part   uint8

	geo geometry

	fatBuf     fatSectorBuf
	clusterBuf []byte

	handles    [MaxHandles]*handle
	numHandles int
}

// Type returns FAT16 or FAT32.
func (fs *FS) Type() int {
	return int(fs.geo.bitsPerEntry)
}

// Partition returns the partition index this volume was mounted from.
func (fs *FS) Partition() uint8 {
	return fs.part
}

// Label returns the volume label stored in the root directory, or the empty
// string when the volume has none.
func (fs *FS) Label() string {
	entries, err := fs.readDir(fs.geo.rootFirstCluster, true)
	if err != nil {
		return ""
	}

	for i := range entries {
		if entries[i].IsVolumeLabel() {
			return shortNameString(&entries[i].EntryHeader)
		}
	}
	return ""
}

// Mount reads and validates the boot parameter block of the volume starting
// at the given block offset and returns a ready filesystem instance.
//
// A missing boot signature is reported to the caller, the partition may
// simply hold something else. Malformed values inside a signed BPB mean the
// volume is corrupt or unsupported and halt the boot, with one exception:
// a cluster count in the FAT12 range is rejected as unsupported.
func Mount(dev BlockReader, log *console.Console, part uint8, offset uint32) (*FS, error) {
	fs := &FS{
		dev:    dev,
		log:    log,
		offset: offset,
		part:   part,
	}

	raw := make([]byte, blockSize)
	if err := dev.ReadBlocks(raw, offset, 1); err != nil {
		return nil, checkpoint.Wrap(err, ErrNotFAT)
	}

	if binary.LittleEndian.Uint16(raw[510:]) != 0xAA55 {
		return nil, checkpoint.From(ErrNotFAT)
	}

	bpb := BPB{}
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &bpb); err != nil {
		return nil, checkpoint.Wrap(err, ErrNotFAT)
	}

	switch bpb.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		log.Fatalf("invalid FAT bytes per sector: %d", bpb.BytesPerSector)
		return nil, checkpoint.From(ErrNotFAT)
	}

	switch bpb.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		log.Fatalf("invalid FAT sectors per cluster: %d", bpb.SectorsPerCluster)
		return nil, checkpoint.From(ErrNotFAT)
	}

	geo := &fs.geo
	geo.bytesPerSector = uint32(bpb.BytesPerSector)
	geo.sectorsPerCluster = uint32(bpb.SectorsPerCluster)
	geo.reservedSectors = uint32(bpb.ReservedSectorCount)
	geo.numFATs = uint32(bpb.NumFATs)
	geo.rootEntries = uint32(bpb.RootEntryCount)

	// The legacy root directory is a fixed run of sectors; on FAT32 the
	// entry count is zero and so is the run.
	geo.rootDirSectors = (geo.rootEntries*32 + geo.bytesPerSector - 1) / geo.bytesPerSector

	geo.sectorsPerFAT = uint32(bpb.FATSize16)
	var fat32Data FAT32SpecificData
	if err := binary.Read(bytes.NewReader(bpb.FATSpecificData[:]), binary.LittleEndian, &fat32Data); err != nil {
		return nil, checkpoint.Wrap(err, ErrNotFAT)
	}
	if geo.sectorsPerFAT == 0 {
		geo.sectorsPerFAT = fat32Data.FATSize
	}

	totalSectors := uint32(bpb.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = bpb.TotalSectors32
	}

	firstDataSector := geo.reservedSectors + geo.numFATs*geo.sectorsPerFAT + geo.rootDirSectors
	geo.totalClusters = (totalSectors - firstDataSector) / geo.sectorsPerCluster

	geo.bytesPerCluster = geo.bytesPerSector * geo.sectorsPerCluster
	geo.entriesPerSector = geo.bytesPerSector / 32
	geo.blksPerSector = geo.bytesPerSector / blockSize
	geo.blksPerCluster = geo.bytesPerCluster / blockSize

	// The variant is defined by the cluster count alone, not by anything
	// the BPB claims.
	switch {
	case geo.totalClusters < 4085:
		log.Errorf("FAT12 detected, clusters = %d", geo.totalClusters)
		log.Fatalf("FAT12 is not supported by this driver")
		return nil, checkpoint.From(ErrNotFAT)
	case geo.totalClusters < 65525:
		geo.bitsPerEntry = 16
		log.Infof("FAT16 detected, clusters = %d", geo.totalClusters)
	default:
		geo.bitsPerEntry = 32
		geo.rootFirstCluster = fat32Data.RootCluster
		log.Infof("FAT32 detected, clusters = %d", geo.totalClusters)
	}

	fs.fatBuf.buffer = make([]byte, geo.bytesPerSector)
	fs.clusterBuf = make([]byte, geo.bytesPerCluster)

	return fs, nil
}

// fetchFATSector makes the given partition-relative sector resident in the
// FAT sector buffer. Only a sector-number change causes device I/O.
func (fs *FS) fetchFATSector(sector uint32) {
	if fs.fatBuf.valid && fs.fatBuf.sector == sector {
		return
	}

	fs.dev.ReadBlocks(fs.fatBuf.buffer, fs.offset+sector*fs.geo.blksPerSector, fs.geo.blksPerSector)
	fs.fatBuf.sector = sector
	fs.fatBuf.valid = true
}

// nextCluster walks one link of the allocation table chain. It returns 0
// when the chain ends: entries below 2 or at or above the reserved high
// range of the variant do not point at another cluster.
func (fs *FS) nextCluster(cluster uint32) uint32 {
	var entryOffset uint32
	switch fs.geo.bitsPerEntry {
	case 16:
		entryOffset = cluster * 2
	case 32:
		entryOffset = cluster * 4
	default:
		fs.log.Fatalf("invalid FAT entry width: %d", fs.geo.bitsPerEntry)
		return 0
	}

	sector := fs.geo.reservedSectors + entryOffset/fs.geo.bytesPerSector
	fs.fetchFATSector(sector)

	o := entryOffset % fs.geo.bytesPerSector

	if fs.geo.bitsPerEntry == 16 {
		v := uint32(binary.LittleEndian.Uint16(fs.fatBuf.buffer[o:]))
		if v < 2 || v >= 0xFFF0 {
			return 0
		}
		return v
	}

	// A FAT32 entry is really a 28 bit entry, the top 4 bits are reserved.
	v := binary.LittleEndian.Uint32(fs.fatBuf.buffer[o:]) & 0x0FFFFFFF
	if v < 2 || v >= 0x0FFFFFF0 {
		return 0
	}
	return v
}

// clusterLBA returns the absolute block number of the first block of a data
// cluster.
func (fs *FS) clusterLBA(cluster uint32) uint32 {
	sector := fs.geo.reservedSectors + fs.geo.numFATs*fs.geo.sectorsPerFAT +
		fs.geo.rootDirSectors + (cluster-2)*fs.geo.sectorsPerCluster
	return fs.offset + sector*fs.geo.blksPerSector
}

// rootDirLBA returns the absolute block number of the first block of the
// legacy fixed root directory run, which sits directly after the allocation
// tables.
func (fs *FS) rootDirLBA() uint32 {
	sector := fs.geo.reservedSectors + fs.geo.numFATs*fs.geo.sectorsPerFAT
	return fs.offset + sector*fs.geo.blksPerSector
}
