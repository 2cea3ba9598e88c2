// File model.go contains the structs which match the on-disk structures of
// the FAT filesystem. They are read with encoding/binary in little-endian
// order, so field order and widths must match the layout exactly.

package fat

// BPB is the BIOS parameter block at the start of a FAT volume.
type BPB struct {
	BSJumpBoot          [3]byte
	BSOEMName           [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   byte
	ReservedSectorCount uint16
	NumFATs             byte
	RootEntryCount      uint16
	TotalSectors16      uint16
	Media               byte
	FATSize16           uint16
	SectorsPerTrack     uint16
	NumberOfHeads       uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
	FATSpecificData     [54]byte
}

// FAT32SpecificData is the FAT32 interpretation of BPB.FATSpecificData.
type FAT32SpecificData struct {
	FATSize          uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfo           uint16
	BkBootSector     uint16
	Reserved         [12]byte
	BSDriveNumber    byte
	BSReserved1      byte
	BSBootSignature  byte
	BSVolumeID       uint32
	BSVolumeLabel    [11]byte
	BSFileSystemType [8]byte
}

// EntryHeader is a raw 32 byte short-name directory entry.
type EntryHeader struct {
	Name            [11]byte
	Attribute       byte
	NTReserved      byte
	CreateTimeTenth byte
	CreateTime      uint16
	CreateDate      uint16
	LastAccessDate  uint16
	FirstClusterHI  uint16
	WriteTime       uint16
	WriteDate       uint16
	FirstClusterLO  uint16
	FileSize        uint32
}

// LongFilenameEntry is a raw 32 byte long-name fragment slot. Its sequence
// byte carries the 1-based fragment index in the low 5 bits and the
// last-logical-entry marker in bit 6; the fragment owning that marker also
// carries the checksum of the short-name entry the name belongs to.
type LongFilenameEntry struct {
	Sequence  byte
	First     [5]uint16
	Attribute byte
	EntryType byte
	Checksum  byte
	Second    [6]uint16
	Zero      [2]byte
	Third     [2]uint16
}

// Attribute bits of a directory entry.
const (
	attrReadOnly    = 0x01
	attrHidden      = 0x02
	attrSystem      = 0x04
	attrVolumeLabel = 0x08
	attrDirectory   = 0x10
	attrLongName    = 0x0F
)

// ExtendedEntryHeader is a reconstructed directory entry: the raw short
// entry plus the long name assembled from its preceding fragments, if the
// fragments were complete and their checksum matched.
type ExtendedEntryHeader struct {
	EntryHeader
	ExtendedName string
}

// firstCluster returns the starting cluster of the entry. The high half is
// only meaningful on FAT32.
func (h *EntryHeader) firstCluster(fat32 bool) uint32 {
	cluster := uint32(h.FirstClusterLO)
	if fat32 {
		cluster |= uint32(h.FirstClusterHI) << 16
	}
	return cluster
}

// IsDir reports whether the entry describes a directory.
func (h *EntryHeader) IsDir() bool {
	return h.Attribute&attrDirectory != 0
}

// IsVolumeLabel reports whether the entry is the volume label.
func (h *EntryHeader) IsVolumeLabel() bool {
	return h.Attribute&attrVolumeLabel != 0
}

// isPlainFile reports whether the entry is a regular, visible file: none of
// the read-only, hidden, system, label or directory bits are set.
func (h *EntryHeader) isPlainFile() bool {
	return h.Attribute&0x1F == 0
}
