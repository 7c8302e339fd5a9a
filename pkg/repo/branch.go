package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ListBranches returns every branch under refs/heads, sorted. Nested
// branch names keep their slashes, e.g. "os/x86_64/stable".
func (r *Repo) ListBranches() ([]string, error) {
	refs, err := r.ListRefs("heads")
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, strings.TrimPrefix(name, "heads/"))
	}
	sort.Strings(names)
	return names, nil
}

// DeleteBranch removes refs/heads/<name>. Its reflog is kept.
func (r *Repo) DeleteBranch(name string) error {
	if err := ValidateBranchName(name); err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	refPath := filepath.Join(r.Path, filepath.FromSlash(branchRef(name)))
	if err := os.Remove(refPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("delete branch: branch %q does not exist", name)
		}
		return fmt.Errorf("delete branch %q: %w", name, err)
	}
	return nil
}
