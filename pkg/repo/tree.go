package repo

import (
	"fmt"
	"path"
	"strings"

	"github.com/odvcencio/arbor/pkg/object"
)

// TreeEntry is one path in a flattened committed tree.
type TreeEntry struct {
	Path     string // slash-separated, relative to the root
	IsDir    bool
	Checksum object.Hash // file object, or dirtree for directories
	Meta     object.Hash // dirmeta; directories only
}

// FlattenTree walks a dirtree recursively in name order, returning every
// file and directory below it with its full path.
func (r *Repo) FlattenTree(h object.Hash) ([]TreeEntry, error) {
	return r.flattenTreeRec(h, "")
}

func (r *Repo) flattenTreeRec(h object.Hash, prefix string) ([]TreeEntry, error) {
	treeObj, err := r.Store.ReadDirTree(h)
	if err != nil {
		return nil, fmt.Errorf("flatten tree: read %s: %w", h, err)
	}

	var result []TreeEntry
	for _, f := range treeObj.Files {
		result = append(result, TreeEntry{Path: path.Join(prefix, f.Name), Checksum: f.Checksum})
	}
	for _, d := range treeObj.Dirs {
		fullPath := path.Join(prefix, d.Name)
		result = append(result, TreeEntry{Path: fullPath, IsDir: true, Checksum: d.TreeChecksum, Meta: d.MetaChecksum})
		sub, err := r.flattenTreeRec(d.TreeChecksum, fullPath)
		if err != nil {
			return nil, err
		}
		result = append(result, sub...)
	}
	return result, nil
}

// LookupPath finds relPath below the dirtree treeHash. found is false when
// any component is missing or a non-final component is a file.
func (r *Repo) LookupPath(treeHash object.Hash, relPath string) (TreeEntry, bool, error) {
	relPath = strings.Trim(relPath, "/")
	if relPath == "" {
		return TreeEntry{Path: "", IsDir: true, Checksum: treeHash}, true, nil
	}
	parts := strings.Split(relPath, "/")
	current := treeHash

	for i, part := range parts {
		treeObj, err := r.Store.ReadDirTree(current)
		if err != nil {
			return TreeEntry{}, false, fmt.Errorf("read tree %s: %w", current, err)
		}
		last := i == len(parts)-1

		for _, f := range treeObj.Files {
			if f.Name == part {
				if !last {
					return TreeEntry{}, false, nil
				}
				return TreeEntry{Path: relPath, Checksum: f.Checksum}, true, nil
			}
		}

		var next *object.TreeDir
		for j := range treeObj.Dirs {
			if treeObj.Dirs[j].Name == part {
				next = &treeObj.Dirs[j]
				break
			}
		}
		if next == nil {
			return TreeEntry{}, false, nil
		}
		if last {
			return TreeEntry{Path: relPath, IsDir: true, Checksum: next.TreeChecksum, Meta: next.MetaChecksum}, true, nil
		}
		current = next.TreeChecksum
	}

	return TreeEntry{}, false, nil
}
