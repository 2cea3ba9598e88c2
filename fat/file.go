package fat

import (
	"io"
	"os"
	"strings"

	"github.com/robrohan/ipodpatcher/checkpoint"
)

// handle is one slot of the open file table.
type handle struct {
	cluster  uint32
	position int64
	length   int64
	open     bool
}

// entryMode selects what kind of entry a lookup may resolve to.
type entryMode int

const (
	entryFile entryMode = iota
	entryDir
	entryAny
)

// findEntry descends the directory tree along the slash-separated path and
// returns the matching entry. Matching is case-insensitive and applies to
// both the short and the long name. mode selects whether the final segment
// must be a plain file, a directory, or either.
func (fs *FS) findEntry(path string, mode entryMode) (*ExtendedEntryHeader, error) {
	fat32 := fs.geo.bitsPerEntry == 32

	segments := []string{}
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) == 0 {
		return nil, checkpoint.From(ErrNotFound)
	}

	stream := fs.rootStream()

	for level, seg := range segments {
		last := level == len(segments)-1

		found := false
		var entry ExtendedEntryHeader
		for stream.next(&entry) {
			short := shortNameString(&entry.EntryHeader)
			if short == "" {
				continue
			}
			long := entry.ExtendedName

			matches := strings.EqualFold(short, seg) ||
				(long != "" && strings.EqualFold(long, seg))
			if !matches {
				continue
			}

			if entry.IsDir() {
				if last && mode != entryFile {
					return &entry, nil
				}
				if !last {
					stream = fs.dirStreamFor(entry.firstCluster(fat32), false)
					found = true
				}
				break
			}

			if last && mode != entryDir && entry.isPlainFile() {
				return &entry, nil
			}
		}

		if !found {
			return nil, checkpoint.From(ErrNotFound)
		}
	}

	return nil, checkpoint.From(ErrNotFound)
}

// Open opens the file at the slash-separated path and returns its handle.
//
// Handles live in a bounded table; see Close for the reclamation rules.
func (fs *FS) Open(path string) (int, error) {
	entry, err := fs.findEntry(path, entryFile)
	if err != nil {
		return -1, err
	}

	if fs.numHandles >= MaxHandles {
		return -1, checkpoint.From(ErrTooManyOpenFiles)
	}

	fd := fs.numHandles
	fs.handles[fd] = &handle{
		cluster: entry.firstCluster(fs.geo.bitsPerEntry == 32),
		length:  int64(entry.FileSize),
		open:    true,
	}
	fs.numHandles++

	return fd, nil
}

func (fs *FS) handleFor(fd int) (*handle, error) {
	if fd < 0 || fd >= fs.numHandles || fs.handles[fd] == nil || !fs.handles[fd].open {
		return nil, checkpoint.From(ErrBadHandle)
	}
	return fs.handles[fd], nil
}

// Close releases a handle. Only the most recently opened handle is actually
// reclaimed; closing any other one leaks its slot for the life of the
// mount. This stack discipline is a known limitation carried over from the
// original bootloader table and is relied on nowhere.
func (fs *FS) Close(fd int) error {
	if _, err := fs.handleFor(fd); err != nil {
		return err
	}

	if fd == fs.numHandles-1 {
		fs.handles[fd] = nil
		fs.numHandles--
	}

	return nil
}

// Read reads up to len(p) bytes at the current position of the handle. At
// end of file it returns 0, io.EOF.
//
// The containing cluster is found by walking the allocation chain from the
// start cluster on every call; nothing is cached across calls, so the cost
// grows with the file position.
func (fs *FS) Read(fd int, p []byte) (int, error) {
	h, err := fs.handleFor(fd)
	if err != nil {
		return 0, err
	}

	remaining := h.length - h.position
	if remaining <= 0 || len(p) == 0 {
		return 0, io.EOF
	}

	toRead := int64(len(p))
	if toRead > remaining {
		toRead = remaining
	}

	data, err := fs.readFileAt(h.cluster, h.length, h.position, toRead)
	if err != nil {
		return 0, err
	}

	copy(p, data)
	h.position += int64(len(data))

	return len(data), nil
}

// Seek repositions the handle. A resulting offset below zero or beyond the
// file length fails without moving the position.
func (fs *FS) Seek(fd int, offset int64, whence int) error {
	h, err := fs.handleFor(fd)
	if err != nil {
		return err
	}

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += h.position
	case io.SeekEnd:
		offset += h.length
	default:
		return checkpoint.From(ErrSeekOutOfRange)
	}

	if offset < 0 || offset > h.length {
		return checkpoint.From(ErrSeekOutOfRange)
	}

	h.position = offset
	return nil
}

// Tell returns the current position of the handle.
func (fs *FS) Tell(fd int) (int64, error) {
	h, err := fs.handleFor(fd)
	if err != nil {
		return -1, err
	}
	return h.position, nil
}

// readFileAt reads size bytes at offset of a file starting at cluster,
// clamped to the file length. It walks the chain to the cluster containing
// offset, then consumes whole clusters through the shared cluster buffer,
// slicing off the partial head and tail.
func (fs *FS) readFileAt(cluster uint32, fileSize, offset, size int64) ([]byte, error) {
	if offset >= fileSize {
		return nil, io.EOF
	}
	if size > fileSize-offset {
		size = fileSize - offset
	}

	bytesPerCluster := int64(fs.geo.bytesPerCluster)

	for skip := offset / bytesPerCluster; skip > 0; skip-- {
		cluster = fs.nextCluster(cluster)
		if cluster == 0 {
			return nil, checkpoint.From(io.ErrUnexpectedEOF)
		}
	}
	clusterOffset := offset % bytesPerCluster

	data := make([]byte, 0, size)
	for int64(len(data)) < size {
		if cluster == 0 {
			return data, checkpoint.From(io.ErrUnexpectedEOF)
		}

		if err := fs.dev.ReadBlocks(fs.clusterBuf, fs.clusterLBA(cluster), fs.geo.blksPerCluster); err != nil {
			return data, checkpoint.From(err)
		}

		end := bytesPerCluster
		if max := size - int64(len(data)) + clusterOffset; end > max {
			end = max
		}
		data = append(data, fs.clusterBuf[clusterOffset:end]...)
		clusterOffset = 0

		if int64(len(data)) < size {
			cluster = fs.nextCluster(cluster)
		}
	}

	return data, nil
}

// ReadDir lists the directory at the slash-separated path; "" and "/" name
// the root directory.
func (fs *FS) ReadDir(path string) ([]os.FileInfo, error) {
	entries, err := fs.readDirAt(path)
	if err != nil {
		return nil, err
	}

	infos := make([]os.FileInfo, 0, len(entries))
	for i := range entries {
		infos = append(infos, entries[i].FileInfo())
	}
	return infos, nil
}

func (fs *FS) readDirAt(path string) ([]ExtendedEntryHeader, error) {
	if path == "" || path == "/" {
		return fs.readDir(fs.geo.rootFirstCluster, true)
	}

	entry, err := fs.findEntry(path, entryDir)
	if err != nil {
		return nil, err
	}
	return fs.readDir(entry.firstCluster(fs.geo.bitsPerEntry == 32), false)
}
