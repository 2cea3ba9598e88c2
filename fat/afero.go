package fat

import (
	"errors"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/robrohan/ipodpatcher/checkpoint"
)

// These errors may occur while processing a file.
var (
	ErrReadFile = errors.New("could not read file completely")
	ErrSeekFile = errors.New("could not seek inside of the file")
	ErrReadDir  = errors.New("could not read the directory")
	ErrReadOnly = errors.New("filesystem is read-only")
)

// fileVolume provides everything a File needs from a mounted volume.
// It mainly exists to be able to mock the volume in tests.
// Generated mock using mockgen:
//  mockgen -source=afero.go -destination=afero_mock.go -package fat
type fileVolume interface {
	readFileAt(cluster uint32, fileSize, offset, size int64) ([]byte, error)
	readDirAt(path string) ([]ExtendedEntryHeader, error)
}

// Afero adapts a mounted volume to the afero.Fs interface. All mutating
// operations fail with a read-only error.
type Afero struct {
	vol *FS
}

// NewAfero wraps a mounted volume into an afero.Fs.
func NewAfero(vol *FS) afero.Fs {
	return &Afero{vol: vol}
}

// Open opens a file or directory for reading.
func (a *Afero) Open(name string) (afero.File, error) {
	if name == "" || name == "/" {
		return &File{
			vol:   a.vol,
			path:  "",
			isDir: true,
			stat:  rootFileInfo{},
		}, nil
	}

	entry, err := a.vol.findEntry(name, entryAny)
	if err != nil {
		return nil, err
	}

	return &File{
		vol:          a.vol,
		path:         name,
		isDir:        entry.IsDir(),
		firstCluster: entry.firstCluster(a.vol.geo.bitsPerEntry == 32),
		stat:         entry.FileInfo(),
	}, nil
}

// OpenFile supports only read-only flags.
func (a *Afero) OpenFile(name string, flag int, _ os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
	}
	return a.Open(name)
}

// Stat returns the FileInfo of the named file.
func (a *Afero) Stat(name string) (os.FileInfo, error) {
	if name == "" || name == "/" {
		return rootFileInfo{}, nil
	}
	entry, err := a.vol.findEntry(name, entryAny)
	if err != nil {
		return nil, err
	}
	return entry.FileInfo(), nil
}

// Name returns the name of this filesystem.
func (a *Afero) Name() string {
	if a.vol.Type() == FAT32 {
		return "FAT32"
	}
	return "FAT16"
}

func (a *Afero) Create(string) (afero.File, error) {
	return nil, checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (a *Afero) Mkdir(string, os.FileMode) error {
	return checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (a *Afero) MkdirAll(string, os.FileMode) error {
	return checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (a *Afero) Remove(string) error {
	return checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (a *Afero) RemoveAll(string) error {
	return checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (a *Afero) Rename(string, string) error {
	return checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (a *Afero) Chmod(string, os.FileMode) error {
	return checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (a *Afero) Chown(string, int, int) error {
	return checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (a *Afero) Chtimes(string, time.Time, time.Time) error {
	return checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

// rootFileInfo describes the root directory, which has no entry of its own.
type rootFileInfo struct{}

func (rootFileInfo) Name() string       { return "/" }
func (rootFileInfo) Size() int64        { return 0 }
func (rootFileInfo) Mode() os.FileMode  { return os.ModeDir }
func (rootFileInfo) ModTime() time.Time { return time.Time{} }
func (rootFileInfo) IsDir() bool        { return true }
func (rootFileInfo) Sys() interface{}   { return nil }

// File is an open file or directory of a mounted volume, implementing
// afero.File.
type File struct {
	vol  fileVolume
	path string

	isDir        bool
	firstCluster uint32
	stat         os.FileInfo

	offset int64
	dirPos int
}

func (f *File) Close() error {
	f.vol = nil
	f.path = ""
	f.isDir = false
	f.firstCluster = 0
	f.stat = nil
	f.offset = 0
	f.dirPos = 0
	return nil
}

func (f *File) Read(p []byte) (int, error) {
	if p == nil {
		return 0, nil
	}
	if f.offset >= f.stat.Size() {
		return 0, io.EOF
	}

	data, err := f.vol.readFileAt(f.firstCluster, f.stat.Size(), f.offset, int64(len(p)))
	if data != nil {
		copy(p, data)
		f.offset += int64(len(data))
	}

	if err != nil {
		return len(data), checkpoint.Wrap(err, ErrReadFile)
	}
	return len(data), nil
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if p == nil {
		return 0, nil
	}
	if off >= f.stat.Size() {
		return 0, io.EOF
	}

	data, err := f.vol.readFileAt(f.firstCluster, f.stat.Size(), off, int64(len(p)))
	if data != nil {
		copy(p, data)
	}

	if err != nil {
		return len(data), checkpoint.Wrap(err, ErrReadFile)
	}
	if len(data) < len(p) {
		return len(data), io.EOF
	}
	return len(data), nil
}

// Seek repositions the read offset. It may return afero.ErrOutOfRange when
// the resulting offset leaves the file.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.offset
	case io.SeekEnd:
		offset += f.stat.Size()
	default:
		return 0, checkpoint.Wrap(syscall.EINVAL, ErrSeekFile)
	}

	if offset < 0 || offset > f.stat.Size() {
		return 0, checkpoint.Wrap(afero.ErrOutOfRange, ErrSeekFile)
	}

	f.offset = offset
	return offset, nil
}

// Readdir reads the contents of the directory in entry order. A count above
// zero returns at most count entries and io.EOF once the directory is
// exhausted; otherwise all remaining entries are returned.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	if !f.isDir {
		return nil, checkpoint.Wrap(syscall.ENOTDIR, ErrReadDir)
	}

	entries, err := f.vol.readDirAt(f.path)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrReadDir)
	}

	if f.dirPos >= len(entries) {
		if count > 0 {
			return nil, io.EOF
		}
		return nil, nil
	}
	entries = entries[f.dirPos:]

	if count > 0 && len(entries) > count {
		entries = entries[:count]
	}
	f.dirPos += len(entries)

	infos := make([]os.FileInfo, len(entries))
	for i := range entries {
		infos[i] = entries[i].FileInfo()
	}
	return infos, nil
}

func (f *File) Readdirnames(count int) ([]string, error) {
	infos, err := f.Readdir(count)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, nil
}

func (f *File) Name() string {
	return f.stat.Name()
}

func (f *File) Stat() (os.FileInfo, error) {
	return f.stat, nil
}

func (f *File) Write([]byte) (int, error) {
	return 0, checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (f *File) WriteAt([]byte, int64) (int, error) {
	return 0, checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (f *File) WriteString(string) (int, error) {
	return 0, checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (f *File) Truncate(int64) error {
	return checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (f *File) Sync() error {
	return nil
}
