// Package vfs routes path-prefixed open requests to the right mounted
// filesystem instance and multiplexes the global file handle table over the
// per-mount handle tables.
package vfs

import (
	"strings"

	"github.com/pkg/errors"
)

// MaxFilesystems is the number of partition slots.
const MaxFilesystems = 4

// MaxFiles is the capacity of the global open file table.
const MaxFiles = 10

// Type classifies a mounted filesystem for class-prefixed paths.
type Type int

const (
	TypeUnknown Type = iota
	TypeFAT
	TypeExt2
	TypeHFSPlus
	TypeFirmware
)

// Filesystem is the upward interface a filesystem implementation exposes to
// the dispatch layer.
type Filesystem interface {
	Open(name string) (int, error)
	Close(fd int) error
	Read(fd int, p []byte) (int, error)
	Seek(fd int, offset int64, whence int) error
	Tell(fd int) (int64, error)
}

// InfoReader is optionally implemented by filesystems that can provide a
// content checksum for an open file.
type InfoReader interface {
	GetInfo(fd int) (int64, error)
}

// Errors returned by the dispatch layer.
var (
	ErrNoFilesystem = errors.New("no filesystem for path")
	ErrBadHandle    = errors.New("invalid file handle")
	ErrTableFull    = errors.New("file table is full")
	ErrNoInfo       = errors.New("filesystem provides no file info")
)

type mounted struct {
	fs  Filesystem
	typ Type
}

type handle struct {
	fsIdx int
	fd    int
	used  bool
}

// VFS is the dispatch instance.
type VFS struct {
	fs      [MaxFilesystems]*mounted
	handles [MaxFiles]handle
}

// New creates an empty dispatch table.
func New() *VFS {
	return &VFS{}
}

// Register mounts a filesystem into a partition slot.
func (v *VFS) Register(part int, typ Type, fs Filesystem) error {
	if part < 0 || part >= MaxFilesystems {
		return errors.Wrapf(ErrNoFilesystem, "partition %d out of range", part)
	}
	v.fs[part] = &mounted{fs: fs, typ: typ}
	return nil
}

// Mounted returns the filesystem instance in a partition slot, or nil.
func (v *VFS) Mounted(part int) Filesystem {
	if part < 0 || part >= MaxFilesystems || v.fs[part] == nil {
		return nil
	}
	return v.fs[part].fs
}

// FindPartition returns the first partition slot holding a filesystem of
// the given type, or -1.
func (v *VFS) FindPartition(typ Type) int {
	for i, m := range v.fs {
		if m != nil && m.typ == typ {
			return i
		}
	}
	return -1
}

// classPrefixes maps the accepted class prefixes to filesystem types, e.g.
// "[fat]/NOTES.TXT" opens on the first FAT partition.
var classPrefixes = map[string]Type{
	"[dos]":   TypeFAT,
	"[fat]":   TypeFAT,
	"[win]":   TypeFAT,
	"[vfat]":  TypeFAT,
	"[fat32]": TypeFAT,
	"[ext]":   TypeExt2,
	"[ext2]":  TypeExt2,
	"[linux]": TypeExt2,
	"[hfs]":   TypeHFSPlus,
	"[hfs+]":  TypeHFSPlus,
}

// resolve splits a path into the partition slot and the filesystem-local
// remainder. Accepted forms are "[class]/path" and "(hd0,N)/path".
func (v *VFS) resolve(name string) (int, string, error) {
	if strings.HasPrefix(name, "[") {
		end := strings.Index(name, "]")
		if end < 0 {
			return -1, "", errors.Wrapf(ErrNoFilesystem, "malformed prefix in %q", name)
		}

		prefix := strings.ToLower(name[:end+1])
		typ, ok := classPrefixes[prefix]
		if !ok {
			return -1, "", errors.Wrapf(ErrNoFilesystem, "unknown class prefix in %q", name)
		}

		part := v.FindPartition(typ)
		// A [linux] path may also mean an HFS+ volume on players formatted
		// that way. [ext] and [ext2] name the filesystem outright and get
		// no such fallback.
		if part < 0 && prefix == "[linux]" {
			part = v.FindPartition(TypeHFSPlus)
		}
		if part < 0 {
			return -1, "", errors.Wrapf(ErrNoFilesystem, "no partition for %q", name)
		}

		rest := strings.TrimPrefix(name[end+1:], "/")
		return part, rest, nil
	}

	if strings.HasPrefix(name, "(hd0,") && len(name) > 7 {
		part := int(name[5] - '0')
		if part < 0 || part >= MaxFilesystems {
			return -1, "", errors.Wrapf(ErrNoFilesystem, "bad partition in %q", name)
		}
		rest := strings.TrimPrefix(name[7:], "/")
		return part, rest, nil
	}

	return -1, "", errors.Wrapf(ErrNoFilesystem, "unrecognized path %q", name)
}

// Open routes the prefixed path to its filesystem and returns a global file
// handle.
func (v *VFS) Open(name string) (int, error) {
	part, rest, err := v.resolve(name)
	if err != nil {
		return -1, err
	}

	m := v.fs[part]
	if m == nil || m.fs == nil {
		return -1, errors.Wrapf(ErrNoFilesystem, "partition %d is not readable", part)
	}

	slot := -1
	for i := range v.handles {
		if !v.handles[i].used {
			slot = i
			break
		}
	}
	if slot < 0 {
		return -1, errors.WithStack(ErrTableFull)
	}

	fd, err := m.fs.Open(rest)
	if err != nil {
		return -1, err
	}

	v.handles[slot] = handle{fsIdx: part, fd: fd, used: true}
	return slot, nil
}

func (v *VFS) handleFor(fd int) (*handle, Filesystem, error) {
	if fd < 0 || fd >= MaxFiles || !v.handles[fd].used {
		return nil, nil, errors.WithStack(ErrBadHandle)
	}
	h := &v.handles[fd]
	return h, v.fs[h.fsIdx].fs, nil
}

// Close releases the global handle and forwards to the filesystem.
func (v *VFS) Close(fd int) error {
	h, fs, err := v.handleFor(fd)
	if err != nil {
		return err
	}

	err = fs.Close(h.fd)
	h.used = false
	return err
}

// Read reads from the file behind the handle.
func (v *VFS) Read(fd int, p []byte) (int, error) {
	h, fs, err := v.handleFor(fd)
	if err != nil {
		return 0, err
	}
	return fs.Read(h.fd, p)
}

// Seek repositions the file behind the handle.
func (v *VFS) Seek(fd int, offset int64, whence int) error {
	h, fs, err := v.handleFor(fd)
	if err != nil {
		return err
	}
	return fs.Seek(h.fd, offset, whence)
}

// Tell returns the position of the file behind the handle.
func (v *VFS) Tell(fd int) (int64, error) {
	h, fs, err := v.handleFor(fd)
	if err != nil {
		return -1, err
	}
	return fs.Tell(h.fd)
}

// GetInfo returns the checksum of the file behind the handle, if the
// filesystem implements the optional info interface.
func (v *VFS) GetInfo(fd int) (int64, error) {
	h, fs, err := v.handleFor(fd)
	if err != nil {
		return -1, err
	}

	ir, ok := fs.(InfoReader)
	if !ok {
		return -1, errors.WithStack(ErrNoInfo)
	}
	return ir.GetInfo(h.fd)
}
