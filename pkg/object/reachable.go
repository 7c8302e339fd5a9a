package object

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// VerifySummary reports the outcome of Verify.
type VerifySummary struct {
	LooseObjects int
	Reachable    int
}

// ReachableSet returns all object hashes reachable from roots by following
// object references. A referenced object that is missing from the store is
// an error; missing roots are ignored.
func (s *Store) ReachableSet(roots []Hash) (map[Hash]struct{}, error) {
	roots = uniqueNormalizedHashes(roots)
	out := make(map[Hash]struct{}, len(roots))
	if len(roots) == 0 {
		return out, nil
	}

	rootSet := make(map[Hash]struct{}, len(roots))
	for _, h := range roots {
		rootSet[h] = struct{}{}
	}

	stack := make([]Hash, 0, len(roots))
	stack = append(stack, roots...)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if h == "" {
			continue
		}
		if _, ok := out[h]; ok {
			continue
		}
		if !s.Has(h) {
			if _, isRoot := rootSet[h]; isRoot {
				continue
			}
			return nil, fmt.Errorf("reachable set: missing object %s", h)
		}
		out[h] = struct{}{}

		objType, _, rc, err := s.Open(h)
		if err != nil {
			return nil, fmt.Errorf("reachable set read %s: %w", h, err)
		}
		if objType == TypeFile || objType == TypeDirMeta {
			rc.Close()
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reachable set read %s: %w", h, err)
		}
		refs, err := referencedHashes(objType, data)
		if err != nil {
			return nil, fmt.Errorf("reachable set parse %s (%s): %w", h, objType, err)
		}
		stack = append(stack, refs...)
	}

	return out, nil
}

func referencedHashes(objType ObjectType, data []byte) ([]Hash, error) {
	switch objType {
	case TypeCommit:
		commit, err := UnmarshalCommit(data)
		if err != nil {
			return nil, err
		}
		refs := []Hash{commit.RootTree, commit.RootMetadata}
		if commit.Parent != "" {
			refs = append(refs, commit.Parent)
		}
		return refs, nil
	case TypeDirTree:
		tree, err := UnmarshalDirTree(data)
		if err != nil {
			return nil, err
		}
		refs := make([]Hash, 0, len(tree.Files)+2*len(tree.Dirs))
		for _, f := range tree.Files {
			refs = append(refs, f.Checksum)
		}
		for _, d := range tree.Dirs {
			refs = append(refs, d.TreeChecksum, d.MetaChecksum)
		}
		return refs, nil
	default:
		return nil, fmt.Errorf("unsupported object type %q", objType)
	}
}

// Verify rehashes every committed loose object and checks that everything
// reachable from roots is present.
func (s *Store) Verify(roots []Hash) (*VerifySummary, error) {
	report := &VerifySummary{}

	hashes, err := s.listLooseObjectHashes()
	if err != nil {
		return nil, err
	}
	for _, h := range hashes {
		objType, content, err := s.Read(h)
		if err != nil {
			return nil, fmt.Errorf("verify loose %s: %w", h, err)
		}
		if actual := HashObject(objType, content); actual != h {
			return nil, fmt.Errorf("verify loose %s: hash mismatch (computed %s)", h, actual)
		}
		report.LooseObjects++
	}

	reachable, err := s.ReachableSet(roots)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	report.Reachable = len(reachable)
	return report, nil
}

func (s *Store) listLooseObjectHashes() ([]Hash, error) {
	objectsDir := filepath.Join(s.root, "objects")
	fanouts, err := os.ReadDir(objectsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list loose objects: %w", err)
	}

	var out []Hash
	for _, fan := range fanouts {
		if !fan.IsDir() || len(fan.Name()) != 2 {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(objectsDir, fan.Name()))
		if err != nil {
			return nil, fmt.Errorf("list loose objects: %w", err)
		}
		for _, e := range entries {
			h := fan.Name() + e.Name()
			if IsValidHash(h) {
				out = append(out, Hash(h))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func uniqueNormalizedHashes(in []Hash) []Hash {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[Hash]struct{}, len(in))
	out := make([]Hash, 0, len(in))
	for _, h := range in {
		h = Hash(strings.TrimSpace(string(h)))
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
