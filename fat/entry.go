package fat

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// lfnChecksum computes the checksum that ties long-name fragments to their
// short-name entry. name must be the raw 11 byte space-padded short name
// without the dot, e.g. "FAT32   C  ".
func lfnChecksum(name []byte) uint8 {
	var sum uint8
	for i := 0; i < 11; i++ {
		sum = ((sum&1)<<7 | sum>>1) + name[i]
	}
	return sum
}

// trimRight drops the trailing space padding of a raw name field.
func trimRight(s string) string {
	return strings.TrimRight(s, " ")
}

// shortNameString renders the raw 11 byte name field as NAME.EXT with the
// space padding of both fields trimmed. A volume label keeps its raw 11
// characters with no dot inserted.
func shortNameString(h *EntryHeader) string {
	if h.IsVolumeLabel() {
		return trimRight(string(h.Name[:]))
	}

	name := trimRight(string(h.Name[:8]))
	ext := trimRight(string(h.Name[8:11]))
	if ext != "" {
		return name + "." + ext
	}
	return name
}

// ucs2Copy decodes UCS-2 little-endian character pairs into dst as ASCII.
// 0x0000 terminates the name, 0xFFFF is unused filler after the terminator.
// It returns the number of characters that had no ASCII mapping; any such
// character makes the whole long name unusable.
func ucs2Copy(dst []byte, src []uint16) int {
	unknown := 0
	for i, c := range src {
		switch {
		case c == 0x0000 || c == 0xFFFF:
			dst[i] = 0
		case c >= 0x0020 && c <= 0x007E:
			dst[i] = byte(c)
		default:
			dst[i] = '_'
			unknown++
		}
	}
	return unknown
}

// maxLongName is the capacity of the long name accumulation buffer.
const maxLongName = 256

// lfnState accumulates long-name fragments until the owning short-name
// entry shows up.
type lfnState struct {
	buf      [maxLongName]byte
	checksum uint8
	good     bool
}

// add merges one fragment into the accumulating name. Fragments arrive in
// descending sequence order on disk but are placed by their 13-character
// offset, so out-of-order sequences assemble correctly too.
func (l *lfnState) add(slot *LongFilenameEntry) {
	offset := 13 * (int(slot.Sequence&0x1F) - 1)
	if offset < 0 || offset >= maxLongName-1-13 || slot.Sequence&0x80 != 0 {
		l.good = false
		return
	}

	if slot.Sequence&0x40 != 0 {
		// The last logical (first physical) fragment carries the checksum
		// of the short entry this name belongs to and starts a fresh name.
		l.buf = [maxLongName]byte{}
		l.checksum = slot.Checksum
		l.good = true
	}

	if !l.good {
		return
	}

	name := l.buf[offset:]
	unknown := ucs2Copy(name[0:], slot.First[:])
	unknown += ucs2Copy(name[5:], slot.Second[:])
	unknown += ucs2Copy(name[11:], slot.Third[:])

	if unknown > 0 {
		// Valid UCS-2, but not representable here. Fall back to the short
		// name for this entry.
		l.good = false
	}
}

// take validates the accumulated name against the short entry and resets
// the state. An incomplete sequence or a checksum mismatch yields "".
func (l *lfnState) take(h *EntryHeader) string {
	good := l.good && l.checksum == lfnChecksum(h.Name[:])
	l.good = false
	if !good {
		return ""
	}

	name := l.buf[:]
	if end := bytes.IndexByte(name, 0); end >= 0 {
		name = name[:end]
	}
	return string(name)
}

// dirStream walks the raw 32 byte slots of one directory: either the fixed
// sector run of a legacy root directory or a cluster chain.
type dirStream struct {
	fs      *FS
	root    bool
	index   uint32
	cluster uint32
	loaded  bool
}

func (fs *FS) dirStreamFor(cluster uint32, root bool) *dirStream {
	return &dirStream{fs: fs, cluster: cluster, root: root}
}

// rootStream opens the root directory: the fixed run on FAT16, the root
// cluster chain on FAT32.
func (fs *FS) rootStream() *dirStream {
	return fs.dirStreamFor(fs.geo.rootFirstCluster, true)
}

// nextRaw returns the next raw 32 byte slot, or nil at the end of the
// directory. Slots are served out of the shared cluster buffer, one sector
// at a time.
func (s *dirStream) nextRaw() []byte {
	fs := s.fs
	geo := &fs.geo

	idx := s.index
	s.index++

	slot := func(i uint32) []byte {
		o := (i % geo.entriesPerSector) * 32
		return fs.clusterBuf[o : o+32]
	}

	if idx%geo.entriesPerSector != 0 && s.loaded {
		return slot(idx)
	}

	// Starting a new sector.
	sectorIdx := idx / geo.entriesPerSector

	if s.root && geo.rootEntries > 0 {
		// Legacy root: a fixed contiguous sector run, bounded by the entry
		// count rather than a chain end marker.
		if idx >= geo.rootEntries {
			return nil
		}
		fs.dev.ReadBlocks(fs.clusterBuf[:geo.bytesPerSector],
			fs.rootDirLBA()+sectorIdx*geo.blksPerSector, geo.blksPerSector)
		s.loaded = true
		return slot(idx)
	}

	sectorIdx = sectorIdx % geo.sectorsPerCluster
	if sectorIdx == 0 && idx > 0 {
		s.cluster = s.fs.nextCluster(s.cluster)
		if s.cluster == 0 {
			return nil
		}
	}

	fs.dev.ReadBlocks(fs.clusterBuf[:geo.bytesPerSector],
		fs.clusterLBA(s.cluster)+sectorIdx*geo.blksPerSector, geo.blksPerSector)
	s.loaded = true
	return slot(idx)
}

// next reconstructs directory entries from the raw slot stream: deleted
// slots are skipped, long-name fragments are accumulated and attached to
// the short entry that owns them. It returns false at end of directory.
func (s *dirStream) next(out *ExtendedEntryHeader) bool {
	var lfn lfnState

	for {
		raw := s.nextRaw()
		if raw == nil {
			return false
		}

		switch {
		case raw[0] == 0x00:
			// End of directory.
			return false

		case raw[0] == 0xE5:
			// Deleted entry.

		case raw[0x0B] == attrLongName:
			var slot LongFilenameEntry
			if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &slot); err != nil {
				lfn.good = false
				continue
			}
			lfn.add(&slot)

		default:
			var entry EntryHeader
			if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &entry); err != nil {
				return false
			}

			out.EntryHeader = entry
			out.ExtendedName = lfn.take(&entry)
			return true
		}
	}
}

// readDir collects every entry of a directory.
func (fs *FS) readDir(cluster uint32, root bool) ([]ExtendedEntryHeader, error) {
	s := fs.dirStreamFor(cluster, root)

	var entries []ExtendedEntryHeader
	var entry ExtendedEntryHeader
	for s.next(&entry) {
		entries = append(entries, entry)
	}

	return entries, nil
}
