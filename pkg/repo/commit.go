package repo

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/odvcencio/arbor/pkg/object"
)

// LogEntry is one commit visited by Log.
type LogEntry struct {
	Hash   object.Hash
	Commit *object.CommitObj
}

// WriteCommit stores c. Inside a transaction the commit is staged with the
// rest of the transaction's objects.
func (r *Repo) WriteCommit(ctx context.Context, c *object.CommitObj) (object.Hash, error) {
	if c.RootTree == "" || c.RootMetadata == "" {
		return "", fmt.Errorf("write commit: root tree and metadata are required")
	}
	h, err := r.Store.WriteCommit(ctx, c)
	if err != nil {
		return "", fmt.Errorf("write commit: %w", err)
	}
	return h, nil
}

// ReadCommit resolves rev and loads the commit it names.
func (r *Repo) ReadCommit(rev string) (object.Hash, *object.CommitObj, error) {
	h, err := r.ResolveRev(rev, false)
	if err != nil {
		return "", nil, err
	}
	c, err := r.Store.ReadCommit(h)
	if err != nil {
		return "", nil, fmt.Errorf("read commit %s: %w", h, err)
	}
	return h, c, nil
}

// Log walks the commit history starting from the given hash, following
// parent links, returning up to limit commits newest first. A missing
// parent ends the walk.
func (r *Repo) Log(start object.Hash, limit int) ([]LogEntry, error) {
	var entries []LogEntry
	current := start

	for current != "" && (limit <= 0 || len(entries) < limit) {
		c, err := r.Store.ReadCommit(current)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && len(entries) > 0 {
				break
			}
			return nil, fmt.Errorf("log: read commit %s: %w", current, err)
		}
		entries = append(entries, LogEntry{Hash: current, Commit: c})
		current = c.Parent
	}

	return entries, nil
}
