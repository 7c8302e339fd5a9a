//go:build !linux

package ingest

import "github.com/odvcencio/arbor/pkg/object"

func readXattrs(string) ([]object.Xattr, error) {
	return nil, nil
}
