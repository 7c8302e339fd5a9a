//go:build linux

package ingest

import (
	"io/fs"
	"syscall"
)

// sysStat returns the raw stat fields behind fi.
func sysStat(fi fs.FileInfo) sysInfo {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return sysInfo{Mode: unixMode(fi.Mode()), MtimeNs: fi.ModTime().UnixNano()}
	}
	return sysInfo{
		UID:     st.Uid,
		GID:     st.Gid,
		Mode:    st.Mode,
		Dev:     uint64(st.Dev),
		Ino:     uint64(st.Ino),
		Rdev:    uint64(st.Rdev),
		MtimeNs: st.Mtim.Nano(),
		CtimeNs: st.Ctim.Nano(),
		HasIno:  true,
	}
}
