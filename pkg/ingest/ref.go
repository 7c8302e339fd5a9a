package ingest

import (
	"context"
	"fmt"
	"path"

	"github.com/odvcencio/arbor/pkg/modifier"
	"github.com/odvcencio/arbor/pkg/mtree"
	"github.com/odvcencio/arbor/pkg/object"
)

// StageRef stages the root tree of a committed revision (branch name or
// commit checksum). Without a modifier, stored file and dirmeta objects are
// reused as is; with one, every entry is rewritten.
func (s *Stager) StageRef(ctx context.Context, rev string) error {
	h, c, err := s.Repo.ReadCommit(rev)
	if err != nil {
		return fmt.Errorf("stage ref %q: %w", rev, err)
	}
	s.log().Debug("staging ref", "rev", rev, "commit", h)
	if err := s.stageTree(ctx, c.RootTree, c.RootMetadata, "/", s.Root); err != nil {
		return fmt.Errorf("stage ref %q: %w", rev, err)
	}
	return nil
}

func (s *Stager) stageTree(ctx context.Context, treeSum, metaSum object.Hash, treePath string, node *mtree.MutableTree) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	meta, keep, err := s.rewriteDirMeta(ctx, metaSum, treePath)
	if err != nil {
		return err
	}
	if !keep {
		return nil
	}
	if err := node.OverrideMetadata(meta); err != nil {
		return fmt.Errorf("stage %s: %w", treePath, err)
	}

	dt, err := s.Repo.Store.ReadDirTree(treeSum)
	if err != nil {
		return fmt.Errorf("stage %s: %w", treePath, err)
	}
	for _, f := range dt.Files {
		childPath := path.Join(treePath, f.Name)
		h, keep, err := s.rewriteFile(ctx, f.Checksum, childPath)
		if err != nil {
			return err
		}
		if !keep {
			continue
		}
		if err := node.ReplaceFile(f.Name, h); err != nil {
			return fmt.Errorf("stage %s: %w", childPath, err)
		}
	}
	for _, d := range dt.Dirs {
		childPath := path.Join(treePath, d.Name)
		sub, err := node.EnsureSubdir(d.Name)
		if err != nil {
			return fmt.Errorf("stage %s: %w", childPath, err)
		}
		if err := s.stageTree(ctx, d.TreeChecksum, d.MetaChecksum, childPath, sub); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stager) rewriteDirMeta(ctx context.Context, h object.Hash, treePath string) (object.Hash, bool, error) {
	if !s.Modifier.Rewrites() {
		s.stats.Dirs++
		return h, true, nil
	}
	m, err := s.Repo.Store.ReadDirMeta(h)
	if err != nil {
		return "", false, fmt.Errorf("stage %s: %w", treePath, err)
	}
	st := modifier.Stat{UID: m.UID, GID: m.GID, Mode: m.Mode}
	if !s.visit(treePath, &st) {
		return "", false, nil
	}
	xattrs := m.Xattrs
	if s.Modifier.SkipXattrs() {
		xattrs = nil
	}
	out, err := s.writeDirMeta(ctx, st, xattrs)
	if err != nil {
		return "", false, fmt.Errorf("stage %s: %w", treePath, err)
	}
	return out, true, nil
}

func (s *Stager) rewriteFile(ctx context.Context, h object.Hash, treePath string) (object.Hash, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if !s.Modifier.Rewrites() {
		s.stats.Files++
		return h, true, nil
	}
	hdr, size, rc, err := s.Repo.Store.OpenFile(h)
	if err != nil {
		return "", false, fmt.Errorf("stage %s: %w", treePath, err)
	}
	defer rc.Close()

	st := modifier.Stat{UID: hdr.UID, GID: hdr.GID, Mode: hdr.Mode}
	if !s.visit(treePath, &st) {
		return "", false, nil
	}
	hdr.UID, hdr.GID, hdr.Mode = st.UID, st.GID, st.Mode
	if s.Modifier.SkipXattrs() {
		hdr.Xattrs = nil
	}
	out, err := s.writeFile(ctx, hdr, size, rc)
	if err != nil {
		return "", false, fmt.Errorf("stage %s: %w", treePath, err)
	}
	return out, true, nil
}
