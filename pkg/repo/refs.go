package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/arbor/pkg/object"
)

func branchRef(branch string) string {
	return "refs/heads/" + branch
}

// ValidateBranchName rejects names that cannot be stored under refs/heads:
// empty names, a leading '-', empty or dot path components, lock-file
// suffixes and characters outside [A-Za-z0-9._-/].
func ValidateBranchName(name string) error {
	if name == "" {
		return fmt.Errorf("invalid branch name: empty")
	}
	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("invalid branch name %q: must not start with '-'", name)
	}
	if strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("invalid branch name %q: must not end in .lock", name)
	}
	for _, part := range strings.Split(name, "/") {
		switch part {
		case "":
			return fmt.Errorf("invalid branch name %q: empty path component", name)
		case ".", "..":
			return fmt.Errorf("invalid branch name %q: %q component", name, part)
		}
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-', c == '/':
		default:
			return fmt.Errorf("invalid branch name %q: character %q not allowed", name, c)
		}
	}
	return nil
}

// ResolveRev resolves rev to a commit checksum. rev is either a full
// checksum, returned as is, or a branch name. A branch that does not exist
// resolves to "" when allowMissing is set and to an error wrapping
// os.ErrNotExist otherwise.
func (r *Repo) ResolveRev(rev string, allowMissing bool) (object.Hash, error) {
	rev = strings.TrimSpace(rev)
	if object.IsValidHash(rev) {
		return object.Hash(rev), nil
	}
	name := strings.TrimPrefix(rev, "refs/heads/")
	if err := ValidateBranchName(name); err != nil {
		return "", fmt.Errorf("resolve rev %q: %w", rev, err)
	}

	refPath := filepath.Join(r.Path, filepath.FromSlash(branchRef(name)))
	data, err := os.ReadFile(refPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return "", nil
		}
		return "", fmt.Errorf("resolve rev %q: %w", rev, err)
	}
	h := object.Hash(strings.TrimSpace(string(data)))
	if !object.IsValidHash(string(h)) {
		return "", fmt.Errorf("resolve rev %q: corrupt ref contents %q", rev, h)
	}
	return h, nil
}

// ListRefs lists references under refs/.
// Names are returned relative to refs root, e.g. "heads/main".
func (r *Repo) ListRefs(prefix string) (map[string]object.Hash, error) {
	root := filepath.Join(r.Path, "refs")
	dir := root
	if strings.TrimSpace(prefix) != "" {
		dir = filepath.Join(root, filepath.FromSlash(prefix))
	}

	refs := make(map[string]object.Hash)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".lock") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		refs[name] = object.Hash(strings.TrimSpace(string(data)))
		return nil
	})
	if os.IsNotExist(err) {
		return refs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return refs, nil
}
