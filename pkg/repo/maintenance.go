package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/odvcencio/arbor/pkg/object"
)

// Verify rehashes every loose object and checks that all branches reach
// only objects present in the store.
func (r *Repo) Verify() (*object.VerifySummary, error) {
	refs, err := r.ListRefs("")
	if err != nil {
		return nil, err
	}

	rootSet := make(map[object.Hash]struct{}, len(refs))
	for _, h := range refs {
		h = object.Hash(strings.TrimSpace(string(h)))
		if h == "" {
			continue
		}
		rootSet[h] = struct{}{}
	}

	roots := make([]object.Hash, 0, len(rootSet))
	for h := range rootSet {
		roots = append(roots, h)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	return r.Store.Verify(roots)
}

// CleanupTmp removes staging areas and partial object files in tmp/ that are
// older than minAge. They are left behind only by processes that died
// mid-transaction.
func (r *Repo) CleanupTmp(minAge time.Duration) (int, error) {
	tmpDir := filepath.Join(r.Path, "tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("cleanup tmp: %w", err)
	}

	cutoff := time.Now().Add(-minAge)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "txn-") && !strings.HasPrefix(name, ".obj-") {
			continue
		}
		if r.InTransaction() && name == "txn-"+r.txn.id {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(tmpDir, name)); err != nil {
			return removed, fmt.Errorf("cleanup tmp: %w", err)
		}
		removed++
		r.log().Debug("removed stale tmp entry", "name", name)
	}
	return removed, nil
}
