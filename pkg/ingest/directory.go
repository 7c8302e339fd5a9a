package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/odvcencio/arbor/pkg/modifier"
	"github.com/odvcencio/arbor/pkg/mtree"
	"github.com/odvcencio/arbor/pkg/object"
	"github.com/odvcencio/arbor/pkg/repo"
)

// StageDirectory stages the live directory dir at the root of the tree.
// Entries are visited in name order; the repository's own directory is
// skipped when dir contains it. Directory metadata replaces whatever an
// earlier source set, and files replace earlier files of the same name.
func (s *Stager) StageDirectory(ctx context.Context, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("stage directory: %w", err)
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return fmt.Errorf("stage directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("stage directory %s: not a directory", abs)
	}

	w := &dirWalker{Stager: s}
	if repoInfo, err := os.Stat(s.Repo.Path); err == nil {
		w.repoInfo = repoInfo
	}
	if s.Repo.DevinoEnabled() {
		w.devino = true
	}
	s.log().Debug("staging directory", "path", abs)
	return w.stageDir(ctx, abs, "/", info, s.Root)
}

type dirWalker struct {
	*Stager
	repoInfo fs.FileInfo
	devino   bool
}

func (w *dirWalker) stageDir(ctx context.Context, fsPath, treePath string, info fs.FileInfo, node *mtree.MutableTree) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sys := sysStat(info)
	st := modifier.Stat{UID: sys.UID, GID: sys.GID, Mode: sys.Mode}
	if !w.visit(treePath, &st) {
		return nil
	}
	xattrs, err := w.xattrs(func() ([]object.Xattr, error) { return readXattrs(fsPath) })
	if err != nil {
		return err
	}
	meta, err := w.writeDirMeta(ctx, st, xattrs)
	if err != nil {
		return fmt.Errorf("stage %s: %w", treePath, err)
	}
	if err := node.OverrideMetadata(meta); err != nil {
		return fmt.Errorf("stage %s: %w", treePath, err)
	}

	entries, err := os.ReadDir(fsPath)
	if err != nil {
		return fmt.Errorf("stage %s: %w", treePath, err)
	}
	for _, e := range entries {
		name := e.Name()
		childFS := filepath.Join(fsPath, name)
		childTree := path.Join(treePath, name)

		fi, err := e.Info()
		if err != nil {
			return fmt.Errorf("stage %s: %w", childTree, err)
		}
		if fi.IsDir() {
			if w.repoInfo != nil && os.SameFile(fi, w.repoInfo) {
				w.log().Debug("skipping repository directory", "path", childFS)
				continue
			}
			sub, err := node.EnsureSubdir(name)
			if err != nil {
				return fmt.Errorf("stage %s: %w", childTree, err)
			}
			if err := w.stageDir(ctx, childFS, childTree, fi, sub); err != nil {
				return err
			}
			continue
		}

		h, ok, err := w.stageFile(ctx, childFS, childTree, fi)
		if err != nil {
			return fmt.Errorf("stage %s: %w", childTree, err)
		}
		if !ok {
			continue
		}
		if err := node.ReplaceFile(name, h); err != nil {
			return fmt.Errorf("stage %s: %w", childTree, err)
		}
	}
	return nil
}

func (w *dirWalker) stageFile(ctx context.Context, fsPath, treePath string, fi fs.FileInfo) (object.Hash, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	sys := sysStat(fi)
	st := modifier.Stat{UID: sys.UID, GID: sys.GID, Mode: sys.Mode}
	if !w.visit(treePath, &st) {
		return "", false, nil
	}
	xattrs, err := w.xattrs(func() ([]object.Xattr, error) { return readXattrs(fsPath) })
	if err != nil {
		return "", false, err
	}

	switch st.Mode & object.ModeTypeMask {
	case object.ModeSymlink:
		target, err := os.Readlink(fsPath)
		if err != nil {
			return "", false, err
		}
		h, err := w.writeFile(ctx, fileHeader(st, 0, target, xattrs), 0, nil)
		return h, err == nil, err
	case object.ModeRegular:
		h, err := w.stageRegular(ctx, fsPath, fi, sys, fileHeader(st, 0, "", xattrs))
		return h, err == nil, err
	default:
		h, err := w.writeFile(ctx, fileHeader(st, sys.Rdev, "", xattrs), 0, nil)
		return h, err == nil, err
	}
}

func (w *dirWalker) stageRegular(ctx context.Context, fsPath string, fi fs.FileInfo, sys sysInfo, hdr *object.FileHeader) (object.Hash, error) {
	var key repo.DevinoKey
	useDevino := w.devino && sys.HasIno
	if useDevino {
		mk, err := metaKey(hdr)
		if err != nil {
			return "", err
		}
		key = repo.DevinoKey{
			Dev:     sys.Dev,
			Ino:     sys.Ino,
			Size:    fi.Size(),
			MtimeNs: sys.MtimeNs,
			CtimeNs: sys.CtimeNs,
			MetaKey: mk,
		}
		if h, ok := w.Repo.LookupDevino(ctx, key); ok {
			w.stats.Files++
			w.stats.DevinoHits++
			return h, nil
		}
	}

	f, err := os.Open(fsPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, err := w.writeFile(ctx, hdr, fi.Size(), f)
	if err != nil {
		return "", err
	}
	if useDevino {
		w.Repo.RecordDevino(key, h)
	}
	return h, nil
}
