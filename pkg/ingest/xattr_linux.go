//go:build linux

package ingest

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/odvcencio/arbor/pkg/object"
	"golang.org/x/sys/unix"
)

// readXattrs lists the extended attributes of path without following a
// final symlink. Filesystems without xattr support yield none.
func readXattrs(path string) ([]object.Xattr, error) {
	size, err := unix.Llistxattr(path, nil)
	if err != nil {
		if ignorableXattrErr(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list xattrs %s: %w", path, err)
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	size, err = unix.Llistxattr(path, buf)
	if err != nil {
		return nil, fmt.Errorf("list xattrs %s: %w", path, err)
	}

	var out []object.Xattr
	for _, name := range bytes.Split(buf[:size], []byte{0}) {
		if len(name) == 0 {
			continue
		}
		value, err := getXattr(path, string(name))
		if err != nil {
			if errors.Is(err, unix.ENODATA) {
				continue
			}
			return nil, fmt.Errorf("read xattr %s %s: %w", path, name, err)
		}
		out = append(out, object.Xattr{Name: string(name), Value: value})
	}
	return out, nil
}

func getXattr(path, name string) ([]byte, error) {
	size, err := unix.Lgetxattr(path, name, nil)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, size)
	size, err = unix.Lgetxattr(path, name, buf)
	if err != nil {
		return nil, err
	}
	return buf[:size], nil
}

func ignorableXattrErr(err error) bool {
	return errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENODATA)
}
