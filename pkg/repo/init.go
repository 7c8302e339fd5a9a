package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/arbor/pkg/object"
)

var ErrRefCASMismatch = errors.New("ref compare-and-swap mismatch")
var ErrRefUpdatedButReflogAppendFailed = errors.New("ref updated but reflog append failed")

// ErrNotRepository is returned by Open when no repository can be found.
var ErrNotRepository = errors.New("not an arbor repository")

// RefUpdateReflogError indicates the ref file update succeeded, but appending
// the corresponding reflog entry failed.
type RefUpdateReflogError struct {
	Ref     string
	OldHash object.Hash
	NewHash object.Hash
	Err     error
}

func (e *RefUpdateReflogError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf(
		"update ref %q: %s (old=%s new=%s): %v",
		e.Ref,
		ErrRefUpdatedButReflogAppendFailed,
		e.OldHash,
		e.NewHash,
		e.Err,
	)
}

func (e *RefUpdateReflogError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *RefUpdateReflogError) Is(target error) bool {
	return target == ErrRefUpdatedButReflogAppendFailed
}

const (
	refLockRetryDelay = 5 * time.Millisecond
	refLockWaitLimit  = 2 * time.Second
)

// Init creates a new repository directly in path: config, objects/,
// refs/heads/, logs/refs/heads/, tmp/ and cache/. mode is ModeBare or
// ModeArchive; empty means ModeBare. Init fails if path already holds a
// repository config.
func Init(path, mode string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("init: abs path: %w", err)
	}
	cfg := DefaultConfig(mode)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}

	cfgPath := filepath.Join(abs, "config")
	if _, err := os.Stat(cfgPath); err == nil {
		return nil, fmt.Errorf("init: repository already exists at %s", abs)
	}

	dirs := []string{
		filepath.Join(abs, "objects"),
		filepath.Join(abs, "refs", "heads"),
		filepath.Join(abs, "logs", "refs", "heads"),
		filepath.Join(abs, "tmp"),
		filepath.Join(abs, "cache"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("init: mkdir %s: %w", d, err)
		}
	}
	if err := writeConfigFile(cfgPath, cfg); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}

	r := &Repo{Path: abs, Store: object.NewStore(abs), Config: cfg}
	r.applyConfig()
	return r, nil
}

// Open opens the repository at path. If path is not itself a repository,
// Open searches path and its parents for a DefaultDirName directory.
func Open(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open: abs path: %w", err)
	}

	if isRepoDir(abs) {
		return openAt(abs)
	}

	cur := abs
	for {
		candidate := filepath.Join(cur, DefaultDirName)
		if isRepoDir(candidate) {
			return openAt(candidate)
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return nil, fmt.Errorf("open %s: %w (or any parent up to /)", abs, ErrNotRepository)
		}
		cur = parent
	}
}

func isRepoDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "config"))
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	info, err = os.Stat(filepath.Join(dir, "objects"))
	return err == nil && info.IsDir()
}

func openAt(dir string) (*Repo, error) {
	cfg, err := readConfigFile(filepath.Join(dir, "config"))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	r := &Repo{Path: dir, Store: object.NewStore(dir), Config: cfg}
	r.applyConfig()
	return r, nil
}

// SetBranch points refs/heads/<branch> at h using lockfile + rename,
// provided the branch currently holds expectedOld; an empty expectedOld
// means the branch must not exist yet. reason is recorded in the branch
// reflog.
//
// Reflog append happens after the ref rename; if reflog append fails, the ref
// update remains committed and a RefUpdateReflogError is returned.
func (r *Repo) SetBranch(branch string, h, expectedOld object.Hash, reason string) error {
	if err := ValidateBranchName(branch); err != nil {
		return err
	}
	return r.updateRef(branchRef(branch), h, expectedOld, reason)
}

func (r *Repo) updateRef(name string, h, wantOldHash object.Hash, reason string) error {
	if r.InTransaction() {
		return fmt.Errorf("update ref %q: transaction %s still open", name, r.txn.id)
	}
	if !object.IsValidHash(string(h)) {
		return fmt.Errorf("update ref %q: invalid hash %q", name, h)
	}

	refPath := filepath.Join(r.Path, filepath.FromSlash(name))

	dir := filepath.Dir(refPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("update ref %q: mkdir: %w", name, err)
	}

	lockPath := refPath + ".lock"
	lockFile, err := acquireRefLock(lockPath)
	if err != nil {
		return fmt.Errorf("update ref %q: lock: %w", name, err)
	}
	cleanupLock := true
	defer func() {
		if lockFile != nil {
			_ = lockFile.Close()
		}
		if cleanupLock {
			_ = os.Remove(lockPath)
		}
	}()

	oldHash, err := readRefHash(refPath)
	if err != nil {
		return fmt.Errorf("update ref %q: read old hash: %w", name, err)
	}
	if oldHash != wantOldHash {
		return fmt.Errorf(
			"update ref %q: %w (expected %s, found %s)",
			name,
			ErrRefCASMismatch,
			displayHash(wantOldHash),
			displayHash(oldHash),
		)
	}

	if _, err := lockFile.WriteString(string(h) + "\n"); err != nil {
		return fmt.Errorf("update ref %q: write: %w", name, err)
	}
	if err := lockFile.Sync(); err != nil {
		return fmt.Errorf("update ref %q: sync: %w", name, err)
	}
	if err := lockFile.Close(); err != nil {
		lockFile = nil
		return fmt.Errorf("update ref %q: close: %w", name, err)
	}
	lockFile = nil

	if err := os.Rename(lockPath, refPath); err != nil {
		return fmt.Errorf("update ref %q: rename: %w", name, err)
	}
	cleanupLock = false
	r.log().Debug("ref updated", "ref", name, "old", displayHash(oldHash), "new", h)

	if err := r.appendReflog(name, oldHash, h, reason); err != nil {
		return &RefUpdateReflogError{
			Ref:     name,
			OldHash: oldHash,
			NewHash: h,
			Err:     err,
		}
	}

	return nil
}

func displayHash(h object.Hash) string {
	if h == "" {
		return "(none)"
	}
	return string(h)
}

func acquireRefLock(lockPath string) (*os.File, error) {
	deadline := time.Now().Add(refLockWaitLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if os.IsExist(err) {
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("timeout waiting for lock %q", lockPath)
			}
			time.Sleep(refLockRetryDelay)
			continue
		}
		return nil, err
	}
}

func readRefHash(refPath string) (object.Hash, error) {
	data, err := os.ReadFile(refPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return object.Hash(strings.TrimSpace(string(data))), nil
}
