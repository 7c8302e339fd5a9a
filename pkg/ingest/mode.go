package ingest

import (
	"io/fs"

	"github.com/odvcencio/arbor/pkg/object"
)

// unixMode converts a Go file mode into st_mode form.
func unixMode(m fs.FileMode) uint32 {
	mode := uint32(m.Perm())
	if m&fs.ModeSetuid != 0 {
		mode |= 0o4000
	}
	if m&fs.ModeSetgid != 0 {
		mode |= 0o2000
	}
	if m&fs.ModeSticky != 0 {
		mode |= 0o1000
	}
	switch {
	case m.IsDir():
		mode |= object.ModeDir
	case m&fs.ModeSymlink != 0:
		mode |= object.ModeSymlink
	case m&fs.ModeNamedPipe != 0:
		mode |= object.ModeFIFO
	case m&fs.ModeSocket != 0:
		mode |= object.ModeSocket
	case m&fs.ModeCharDevice != 0:
		mode |= object.ModeChar
	case m&fs.ModeDevice != 0:
		mode |= object.ModeBlock
	default:
		mode |= object.ModeRegular
	}
	return mode
}

// mkdev packs a device number the way glibc does on Linux.
func mkdev(major, minor uint32) uint64 {
	dev := uint64(major&0x00000fff) << 8
	dev |= uint64(major&0xfffff000) << 32
	dev |= uint64(minor & 0x000000ff)
	dev |= uint64(minor&0xffffff00) << 12
	return dev
}

// sysInfo is the subset of stat(2) that staging uses.
type sysInfo struct {
	UID     uint32
	GID     uint32
	Mode    uint32 // st_mode
	Dev     uint64
	Ino     uint64
	Rdev    uint64
	MtimeNs int64
	CtimeNs int64
	HasIno  bool
}
