package ingest

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/odvcencio/arbor/pkg/modifier"
	"github.com/odvcencio/arbor/pkg/mtree"
	"github.com/odvcencio/arbor/pkg/object"
)

const paxXattrPrefix = "SCHILY.xattr."

// StageArchive stages the tar archive at path, optionally compressed with
// gzip, zstd or lz4.
func (s *Stager) StageArchive(ctx context.Context, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("stage archive: %w", err)
	}
	defer f.Close()
	if err := s.StageArchiveReader(ctx, f); err != nil {
		return fmt.Errorf("stage archive %s: %w", archivePath, err)
	}
	return nil
}

// StageArchiveReader stages a tar stream in entry order. Entry paths are
// relative to the tree root; "./" prefixes are ignored and ".." components
// are rejected. Hardlinks must point at an earlier regular entry of the
// same archive.
func (s *Stager) StageArchiveReader(ctx context.Context, r io.Reader) error {
	stream, compression, release, err := openArchiveStream(r)
	if err != nil {
		return err
	}
	defer release()
	s.log().Debug("staging archive", "compression", compression, "autocreate_parents", s.AutocreateParents)

	a := &archiveStager{
		Stager:        s,
		declared:      make(map[string]object.Hash),
		files:         make(map[string]archivedFile),
		implicitMasks: make(map[string]uint32),
	}
	tr := tar.NewReader(stream)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		if err := a.stageEntry(ctx, hdr, tr); err != nil {
			return err
		}
	}

	// The archive root is implicit unless the archive declared "./".
	if s.Root.Metadata() == "" {
		h, err := a.implicitDirMeta(ctx, "/")
		if err != nil {
			return err
		}
		if _, err := s.Root.SetImplicitMetadata(h); err != nil {
			return err
		}
	}
	return nil
}

type archivedFile struct {
	raw  object.FileHeader // before modifier rewrites
	size int64
	sum  object.Hash
}

type archiveStager struct {
	*Stager
	// declared maps directories declared by this archive to the digest of
	// their unmodified metadata.
	declared map[string]object.Hash
	files    map[string]archivedFile
	// implicitMasks holds stat-override masks consumed by synthesized
	// directories, keyed by tree path, until an explicit entry replaces them.
	implicitMasks map[string]uint32
}

// cleanArchivePath turns an entry name into a root-relative path; the
// root itself is "".
func cleanArchivePath(name string) (string, error) {
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: archive entry %q escapes the root", mtree.ErrInvalidPath, name)
		}
	}
	return strings.TrimPrefix(path.Clean("/"+name), "/"), nil
}

func treePathOf(rel string) string {
	return "/" + rel
}

func (a *archiveStager) stageEntry(ctx context.Context, hdr *tar.Header, content io.Reader) error {
	rel, err := cleanArchivePath(hdr.Name)
	if err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		return a.stageDirEntry(ctx, rel, hdr)
	case tar.TypeReg, tar.TypeSymlink, tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
		if rel == "" {
			return fmt.Errorf("%w: archive root %q is not a directory", mtree.ErrNameConflict, hdr.Name)
		}
		return a.stageFileEntry(ctx, rel, hdr, content)
	case tar.TypeLink:
		if rel == "" {
			return fmt.Errorf("%w: archive root %q is not a directory", mtree.ErrNameConflict, hdr.Name)
		}
		return a.stageHardlink(ctx, rel, hdr)
	default:
		a.log().Debug("skipping unsupported archive entry", "name", hdr.Name, "type", string(hdr.Typeflag))
		return nil
	}
}

func entryStat(hdr *tar.Header, typeBits uint32) modifier.Stat {
	return modifier.Stat{
		UID:  uint32(hdr.Uid),
		GID:  uint32(hdr.Gid),
		Mode: typeBits | uint32(hdr.Mode)&0o7777,
	}
}

func paxXattrs(hdr *tar.Header) []object.Xattr {
	var out []object.Xattr
	for k, v := range hdr.PAXRecords {
		if name, ok := strings.CutPrefix(k, paxXattrPrefix); ok && name != "" {
			out = append(out, object.Xattr{Name: name, Value: []byte(v)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// parent returns the directory that will hold rel, synthesizing missing
// ancestors when AutocreateParents is set.
func (a *archiveStager) parent(ctx context.Context, rel string) (*mtree.MutableTree, error) {
	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}
	if node, ok := a.Root.LookupDir(dir); ok {
		return node, nil
	}
	if !a.AutocreateParents {
		return nil, fmt.Errorf("%w: %s (needed by %s)", ErrMissingParent, treePathOf(dir), treePathOf(rel))
	}

	cur := a.Root
	parts := strings.Split(dir, "/")
	for i, part := range parts {
		sub, err := cur.EnsureSubdir(part)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", treePathOf(rel), err)
		}
		if sub.Metadata() == "" {
			h, err := a.implicitDirMeta(ctx, treePathOf(strings.Join(parts[:i+1], "/")))
			if err != nil {
				return nil, err
			}
			if _, err := sub.SetImplicitMetadata(h); err != nil {
				return nil, err
			}
		}
		cur = sub
	}
	return cur, nil
}

// implicitDirMeta writes the metadata of a directory the archive never
// declared: mode 0755 owned by 0:0, before modifier rewrites.
func (a *archiveStager) implicitDirMeta(ctx context.Context, treePath string) (object.Hash, error) {
	st := modifier.Stat{Mode: object.ModeDir | 0o755}
	if mask, _ := a.Modifier.ApplyMask(treePath, &st); mask != 0 {
		a.implicitMasks[treePath] = mask
	}
	h, err := a.writeDirMeta(ctx, st, nil)
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", treePath, err)
	}
	return h, nil
}

func (a *archiveStager) stageDirEntry(ctx context.Context, rel string, hdr *tar.Header) error {
	treePath := treePathOf(rel)
	node := a.Root
	if rel != "" {
		parent, err := a.parent(ctx, rel)
		if err != nil {
			return err
		}
		node, err = parent.EnsureSubdir(path.Base(rel))
		if err != nil {
			return fmt.Errorf("stage %s: %w", treePath, err)
		}
	}

	st := entryStat(hdr, object.ModeDir)
	var xattrs []object.Xattr
	if !a.Modifier.SkipXattrs() {
		xattrs = paxXattrs(hdr)
	}
	rawData, err := object.MarshalDirMeta(&object.DirMeta{UID: st.UID, GID: st.GID, Mode: st.Mode, Xattrs: xattrs})
	if err != nil {
		return err
	}
	rawKey := object.HashBytes(rawData)

	if prev, ok := a.declared[rel]; ok {
		if prev != rawKey {
			return fmt.Errorf("stage %s: %w: directory redeclared with different metadata", treePath, mtree.ErrMetadataConflict)
		}
		return nil
	}

	if !a.visit(treePath, &st) {
		return nil
	}
	if mask, ok := a.implicitMasks[treePath]; ok {
		st.Mode |= mask
		delete(a.implicitMasks, treePath)
	}
	h, err := a.writeDirMeta(ctx, st, xattrs)
	if err != nil {
		return fmt.Errorf("stage %s: %w", treePath, err)
	}
	if err := node.OverrideMetadata(h); err != nil {
		return fmt.Errorf("stage %s: %w", treePath, err)
	}
	a.declared[rel] = rawKey
	return nil
}

func (a *archiveStager) stageFileEntry(ctx context.Context, rel string, hdr *tar.Header, content io.Reader) error {
	treePath := treePathOf(rel)
	parent, err := a.parent(ctx, rel)
	if err != nil {
		return err
	}

	var (
		typeBits uint32
		rdev     uint64
		target   string
		size     int64
	)
	switch hdr.Typeflag {
	case tar.TypeReg:
		typeBits, size = object.ModeRegular, hdr.Size
	case tar.TypeSymlink:
		typeBits, target = object.ModeSymlink, hdr.Linkname
	case tar.TypeChar:
		typeBits, rdev = object.ModeChar, mkdev(uint32(hdr.Devmajor), uint32(hdr.Devminor))
	case tar.TypeBlock:
		typeBits, rdev = object.ModeBlock, mkdev(uint32(hdr.Devmajor), uint32(hdr.Devminor))
	case tar.TypeFifo:
		typeBits = object.ModeFIFO
	}

	st := entryStat(hdr, typeBits)
	var xattrs []object.Xattr
	if !a.Modifier.SkipXattrs() {
		xattrs = paxXattrs(hdr)
	}
	raw := *fileHeader(st, rdev, target, xattrs)
	if !a.visit(treePath, &st) {
		return nil
	}

	h, err := a.writeFile(ctx, fileHeader(st, rdev, target, xattrs), size, content)
	if err != nil {
		return fmt.Errorf("stage %s: %w", treePath, err)
	}
	if err := parent.ReplaceFile(path.Base(rel), h); err != nil {
		return fmt.Errorf("stage %s: %w", treePath, err)
	}
	a.files[rel] = archivedFile{raw: raw, size: size, sum: h}
	return nil
}

// stageHardlink adds rel as another name for an earlier entry. Without a
// modifier the earlier checksum is reused; otherwise the link's own path
// runs through the modifier and the object is rewritten from the store.
func (a *archiveStager) stageHardlink(ctx context.Context, rel string, hdr *tar.Header) error {
	treePath := treePathOf(rel)
	targetRel, err := cleanArchivePath(hdr.Linkname)
	if err != nil {
		return err
	}
	target, ok := a.files[targetRel]
	if !ok {
		return fmt.Errorf("stage %s: hardlink target %s not found in archive", treePath, treePathOf(targetRel))
	}
	parent, err := a.parent(ctx, rel)
	if err != nil {
		return err
	}

	h := target.sum
	if a.Modifier.Rewrites() {
		hdrCopy := target.raw
		st := modifier.Stat{UID: hdrCopy.UID, GID: hdrCopy.GID, Mode: hdrCopy.Mode}
		if !a.visit(treePath, &st) {
			return nil
		}
		hdrCopy.UID, hdrCopy.GID, hdrCopy.Mode = st.UID, st.GID, st.Mode
		h, err = a.restage(ctx, target.sum, &hdrCopy)
		if err != nil {
			return fmt.Errorf("stage %s: %w", treePath, err)
		}
	} else {
		a.stats.Files++
	}
	if err := parent.ReplaceFile(path.Base(rel), h); err != nil {
		return fmt.Errorf("stage %s: %w", treePath, err)
	}
	a.files[rel] = archivedFile{raw: target.raw, size: target.size, sum: h}
	return nil
}

// restage writes the content of the stored file object src under hdr.
func (s *Stager) restage(ctx context.Context, src object.Hash, hdr *object.FileHeader) (object.Hash, error) {
	_, size, rc, err := s.Repo.Store.OpenFile(src)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return s.writeFile(ctx, hdr, size, rc)
}
