package fat

import (
	"os"
	"time"
)

// FileInfo returns an os.FileInfo view of the entry.
func (h *ExtendedEntryHeader) FileInfo() os.FileInfo {
	return entryHeaderFileInfo{*h}
}

type entryHeaderFileInfo struct {
	entry ExtendedEntryHeader
}

// Name prefers the reconstructed long name and falls back to the rendered
// short name.
func (e entryHeaderFileInfo) Name() string {
	if e.entry.ExtendedName != "" {
		return e.entry.ExtendedName
	}
	return shortNameString(&e.entry.EntryHeader)
}

func (e entryHeaderFileInfo) Size() int64 {
	return int64(e.entry.FileSize)
}

func (e entryHeaderFileInfo) Mode() os.FileMode {
	if e.IsDir() {
		return os.ModeDir
	}
	return 0
}

// ModTime combines the write date and time stamps. An invalid date yields
// the zero time; the time stamp alone cannot be judged because midnight is
// a perfectly valid value.
func (e entryHeaderFileInfo) ModTime() time.Time {
	writeDate := ParseDate(e.entry.WriteDate)
	writeTime := ParseTime(e.entry.WriteTime)

	if writeDate.IsZero() {
		return time.Time{}
	}

	return time.Date(writeDate.Year(), writeDate.Month(), writeDate.Day(),
		writeTime.Hour(), writeTime.Minute(), writeTime.Second(), 0, time.UTC)
}

func (e entryHeaderFileInfo) IsDir() bool {
	return e.entry.EntryHeader.IsDir()
}

func (e entryHeaderFileInfo) Sys() interface{} {
	return e.entry
}
