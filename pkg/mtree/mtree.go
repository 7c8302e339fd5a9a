package mtree

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/odvcencio/arbor/pkg/object"
)

var (
	ErrNameConflict     = errors.New("name conflict")
	ErrMetadataConflict = errors.New("metadata conflict")
	ErrInvalidPath      = errors.New("invalid path")
	ErrFrozen           = errors.New("mutable tree is finalized")
	ErrMissingMetadata  = errors.New("directory has no metadata")
)

// TreeWriter stores finalized directories.
type TreeWriter interface {
	WriteDirTree(ctx context.Context, t *object.DirTree) (object.Hash, error)
}

// MutableTree is one directory being staged. A name is either a file or a
// subdirectory, never both. Finalize freezes the node and everything below
// it.
type MutableTree struct {
	meta     object.Hash
	files    map[string]object.Hash
	subdirs  map[string]*MutableTree
	contents object.Hash
}

// New returns an empty root.
func New() *MutableTree {
	return &MutableTree{
		files:   make(map[string]object.Hash),
		subdirs: make(map[string]*MutableTree),
	}
}

// Metadata returns the dirmeta checksum, or "" if none was set.
func (t *MutableTree) Metadata() object.Hash { return t.meta }

// Contents returns the dirtree checksum once finalized, "" before.
func (t *MutableTree) Contents() object.Hash { return t.contents }

// IsEmpty reports whether the node has neither files nor subdirectories.
func (t *MutableTree) IsEmpty() bool {
	return len(t.files) == 0 && len(t.subdirs) == 0
}

func (t *MutableTree) mutable() error {
	if t.contents != "" {
		return ErrFrozen
	}
	return nil
}

// SetMetadata records the directory's dirmeta checksum. Setting the same
// value again is a no-op; a different value is ErrMetadataConflict.
func (t *MutableTree) SetMetadata(h object.Hash) error {
	if err := t.mutable(); err != nil {
		return err
	}
	if t.meta != "" && t.meta != h {
		return fmt.Errorf("%w: have %s, got %s", ErrMetadataConflict, t.meta, h)
	}
	t.meta = h
	return nil
}

// OverrideMetadata replaces the dirmeta checksum unconditionally. Overlay
// sources that declare a directory explicitly win over earlier sources.
func (t *MutableTree) OverrideMetadata(h object.Hash) error {
	if err := t.mutable(); err != nil {
		return err
	}
	t.meta = h
	return nil
}

// SetImplicitMetadata sets the dirmeta checksum only when none is set yet,
// reporting whether it did. Synthesized parents never replace declared
// metadata.
func (t *MutableTree) SetImplicitMetadata(h object.Hash) (bool, error) {
	if err := t.mutable(); err != nil {
		return false, err
	}
	if t.meta != "" {
		return false, nil
	}
	t.meta = h
	return true, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return fmt.Errorf("%w: entry name %q", ErrInvalidPath, name)
	}
	return nil
}

func splitPath(p string) ([]string, error) {
	if p == "" {
		return nil, nil
	}
	parts := strings.Split(p, "/")
	for _, part := range parts {
		if err := validName(part); err != nil {
			return nil, fmt.Errorf("%w: path %q", ErrInvalidPath, p)
		}
	}
	return parts, nil
}

// Lookup returns the entry called name: a file checksum or a subdirectory.
func (t *MutableTree) Lookup(name string) (object.Hash, *MutableTree, bool) {
	if h, ok := t.files[name]; ok {
		return h, nil, true
	}
	if sub, ok := t.subdirs[name]; ok {
		return "", sub, true
	}
	return "", nil, false
}

// LookupDir walks the slash-separated relative path p without creating
// anything. An empty p is t itself.
func (t *MutableTree) LookupDir(p string) (*MutableTree, bool) {
	parts, err := splitPath(p)
	if err != nil {
		return nil, false
	}
	cur := t
	for _, part := range parts {
		sub, ok := cur.subdirs[part]
		if !ok {
			return nil, false
		}
		cur = sub
	}
	return cur, true
}

// EnsureSubdir returns the child directory name, creating it if absent.
func (t *MutableTree) EnsureSubdir(name string) (*MutableTree, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if sub, ok := t.subdirs[name]; ok {
		return sub, nil
	}
	if err := t.mutable(); err != nil {
		return nil, err
	}
	if _, ok := t.files[name]; ok {
		return nil, fmt.Errorf("%w: %q is a file", ErrNameConflict, name)
	}
	sub := New()
	t.subdirs[name] = sub
	return sub, nil
}

// EnsureDir walks the slash-separated relative path p, creating empty
// directories where absent, and returns the last one. Empty components
// are invalid; an empty p is t itself.
func (t *MutableTree) EnsureDir(p string) (*MutableTree, error) {
	parts, err := splitPath(p)
	if err != nil {
		return nil, err
	}
	cur := t
	for i, part := range parts {
		next, err := cur.EnsureSubdir(part)
		if err != nil {
			return nil, fmt.Errorf("ensure dir %q: %w", path.Join(parts[:i+1]...), err)
		}
		cur = next
	}
	return cur, nil
}

// AddFile adds a new file. Any existing entry called name is
// ErrNameConflict.
func (t *MutableTree) AddFile(name string, h object.Hash) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := t.mutable(); err != nil {
		return err
	}
	if _, ok := t.subdirs[name]; ok {
		return fmt.Errorf("%w: %q is a directory", ErrNameConflict, name)
	}
	if _, ok := t.files[name]; ok {
		return fmt.Errorf("%w: %q already exists", ErrNameConflict, name)
	}
	t.files[name] = h
	return nil
}

// ReplaceFile adds name or overwrites an existing file of that name. It is
// the overlay write: only an existing subdirectory conflicts.
func (t *MutableTree) ReplaceFile(name string, h object.Hash) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := t.mutable(); err != nil {
		return err
	}
	if _, ok := t.subdirs[name]; ok {
		return fmt.Errorf("%w: %q is a directory", ErrNameConflict, name)
	}
	t.files[name] = h
	return nil
}

// Subdirs returns the subdirectory names, sorted.
func (t *MutableTree) Subdirs() []string {
	out := make([]string, 0, len(t.subdirs))
	for name := range t.subdirs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Finalize writes the dirtree objects for t and everything below it,
// children first, and returns t's dirtree checksum. Later calls return the
// same checksum without writing. Every directory except t itself must
// have metadata by now.
func (t *MutableTree) Finalize(ctx context.Context, w TreeWriter) (object.Hash, error) {
	return t.finalize(ctx, w, "/")
}

func (t *MutableTree) finalize(ctx context.Context, w TreeWriter, where string) (object.Hash, error) {
	if t.contents != "" {
		return t.contents, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dt := &object.DirTree{
		Files: make([]object.TreeFile, 0, len(t.files)),
		Dirs:  make([]object.TreeDir, 0, len(t.subdirs)),
	}
	for _, name := range t.Subdirs() {
		sub := t.subdirs[name]
		subPath := path.Join(where, name)
		if sub.meta == "" {
			return "", fmt.Errorf("finalize %s: %w", subPath, ErrMissingMetadata)
		}
		h, err := sub.finalize(ctx, w, subPath)
		if err != nil {
			return "", err
		}
		dt.Dirs = append(dt.Dirs, object.TreeDir{Name: name, TreeChecksum: h, MetaChecksum: sub.meta})
	}
	for name, h := range t.files {
		dt.Files = append(dt.Files, object.TreeFile{Name: name, Checksum: h})
	}

	h, err := w.WriteDirTree(ctx, dt)
	if err != nil {
		return "", fmt.Errorf("finalize %s: %w", where, err)
	}
	t.contents = h
	return h, nil
}
