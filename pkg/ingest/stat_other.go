//go:build !linux

package ingest

import "io/fs"

// sysStat falls back to the portable file mode. Ownership reads as 0:0 and
// the device/inode cache is not used.
func sysStat(fi fs.FileInfo) sysInfo {
	return sysInfo{Mode: unixMode(fi.Mode()), MtimeNs: fi.ModTime().UnixNano()}
}
