package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/odvcencio/arbor/pkg/modifier"
	"github.com/odvcencio/arbor/pkg/mtree"
	"github.com/odvcencio/arbor/pkg/object"
	"github.com/odvcencio/arbor/pkg/repo"
)

// ErrMissingParent is returned by archive staging when an entry's parent
// directory was never declared and parent synthesis is off.
var ErrMissingParent = errors.New("missing parent directory")

// Stats counts what a Stager has staged so far.
type Stats struct {
	Files      int
	Dirs       int
	DevinoHits int
}

// Stager stages source trees into one mutable tree. Sources staged later
// overlay earlier ones. Objects are written to Repo's store, so callers
// normally open a transaction first.
type Stager struct {
	Repo     *repo.Repo
	Root     *mtree.MutableTree
	Modifier *modifier.Modifier

	// AutocreateParents synthesizes undeclared parent directories of
	// archive entries with mode 0755 owned by 0:0.
	AutocreateParents bool

	Logger *slog.Logger

	stats Stats
}

// Stats returns the running totals.
func (s *Stager) Stats() Stats { return s.stats }

func (s *Stager) log() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

// visit runs the modifier for one entry and reports whether to keep it.
func (s *Stager) visit(treePath string, st *modifier.Stat) bool {
	v := s.Modifier.Apply(treePath, st)
	if v != modifier.Allow {
		s.log().Debug("entry filtered", "path", treePath, "verdict", v)
		return false
	}
	return true
}

func (s *Stager) xattrs(read func() ([]object.Xattr, error)) ([]object.Xattr, error) {
	if s.Modifier.SkipXattrs() {
		return nil, nil
	}
	return read()
}

func (s *Stager) writeDirMeta(ctx context.Context, st modifier.Stat, xattrs []object.Xattr) (object.Hash, error) {
	s.stats.Dirs++
	return s.Repo.Store.WriteDirMeta(ctx, &object.DirMeta{
		UID:    st.UID,
		GID:    st.GID,
		Mode:   st.Mode,
		Xattrs: xattrs,
	})
}

func (s *Stager) writeFile(ctx context.Context, hdr *object.FileHeader, size int64, content io.Reader) (object.Hash, error) {
	s.stats.Files++
	if !hdr.IsRegular() {
		size, content = 0, nil
	}
	return s.Repo.Store.WriteFile(ctx, hdr, size, content)
}

func fileHeader(st modifier.Stat, rdev uint64, target string, xattrs []object.Xattr) *object.FileHeader {
	return &object.FileHeader{
		UID:           st.UID,
		GID:           st.GID,
		Mode:          st.Mode,
		Rdev:          rdev,
		SymlinkTarget: target,
		Xattrs:        xattrs,
	}
}

// metaKey digests the header a file would be committed with, so cached
// device/inode hits are only reused under identical metadata.
func metaKey(hdr *object.FileHeader) (string, error) {
	data, err := object.MarshalFileHeader(hdr)
	if err != nil {
		return "", err
	}
	return string(object.HashBytes(data)), nil
}
