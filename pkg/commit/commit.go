package commit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odvcencio/arbor/pkg/ingest"
	"github.com/odvcencio/arbor/pkg/modifier"
	"github.com/odvcencio/arbor/pkg/mtree"
	"github.com/odvcencio/arbor/pkg/object"
	"github.com/odvcencio/arbor/pkg/repo"
)

// Result is the outcome of a successful Run.
type Result struct {
	// Checksum is the new commit, or the parent when Skipped.
	Checksum object.Hash
	Parent   object.Hash
	Skipped  bool

	RootTree     object.Hash
	RootMetadata object.Hash
	Staged       ingest.Stats
	Transaction  *repo.TransactionStats // nil when Skipped
}

// Run stages every input tree into a fresh mutable tree inside a
// transaction and records it as a commit on opts.Branch. The transaction
// is aborted on any failure, and when SkipIfUnchanged finds the staged root
// equal to the parent's. The branch moves only after the transaction
// committed.
func Run(ctx context.Context, r *repo.Repo, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	log := opts.logger().With("branch", opts.Branch)

	var overrides *modifier.StatOverride
	if opts.StatOverrideFile != "" {
		so, err := modifier.LoadStatOverride(opts.StatOverrideFile)
		if err != nil {
			return nil, err
		}
		overrides = so
	}
	mod := modifier.New(modifier.Options{
		OwnerUID:    opts.OwnerUID,
		OwnerGID:    opts.OwnerGID,
		StripXattrs: opts.NoXattrs,
	}, overrides)

	parent, err := r.ResolveRev(opts.Branch, true)
	if err != nil {
		return nil, fmt.Errorf("resolve parent: %w", err)
	}
	var parentCommit *object.CommitObj
	if parent != "" && opts.SkipIfUnchanged {
		parentCommit, err = r.Store.ReadCommit(parent)
		if err != nil {
			return nil, fmt.Errorf("read parent commit: %w", err)
		}
	}

	if err := r.PrepareTransaction(ctx, opts.LinkCheckoutSpeedup); err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := r.AbortTransaction(); err != nil {
			log.Warn("abort transaction failed", "err", err)
		}
	}()

	stager := &ingest.Stager{
		Repo:              r,
		Root:              mtree.New(),
		Modifier:          mod,
		AutocreateParents: opts.TarAutocreateParents,
		Logger:            log,
	}
	for _, spec := range opts.trees() {
		if err := stageTree(ctx, stager, spec); err != nil {
			return nil, fmt.Errorf("stage %s: %w", spec, err)
		}
	}
	staged := stager.Stats()
	log.Debug("staged inputs", "files", staged.Files, "dirs", staged.Dirs, "devino_hits", staged.DevinoHits)

	if left := overrides.Leftover(); len(left) > 0 {
		for _, p := range left {
			fmt.Fprintf(opts.stderr(), "Unmatched statoverride path: %s\n", p)
		}
		return nil, &UnmatchedStatOverrideError{Paths: left}
	}

	root := stager.Root
	contents, err := root.Finalize(ctx, r.Store)
	if err != nil {
		return nil, err
	}
	rootMeta := root.Metadata()
	if rootMeta == "" || root.IsEmpty() {
		return nil, ErrEmptyTree
	}

	if parentCommit != nil && parentCommit.RootTree == contents && parentCommit.RootMetadata == rootMeta {
		log.Info("tree unchanged, skipping commit", "parent", parent)
		return &Result{
			Checksum:     parent,
			Parent:       parent,
			Skipped:      true,
			RootTree:     contents,
			RootMetadata: rootMeta,
			Staged:       staged,
		}, nil
	}

	ts := opts.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	h, err := r.WriteCommit(ctx, &object.CommitObj{
		Parent:       parent,
		Subject:      opts.Subject,
		Body:         opts.Body,
		Timestamp:    ts.Unix(),
		RootTree:     contents,
		RootMetadata: rootMeta,
	})
	if err != nil {
		return nil, err
	}

	txStats, err := r.CommitTransaction(ctx)
	if err != nil {
		return nil, err
	}
	committed = true

	if err := r.SetBranch(opts.Branch, h, parent, "commit: "+opts.Subject); err != nil {
		if !errors.Is(err, repo.ErrRefUpdatedButReflogAppendFailed) {
			return nil, fmt.Errorf("update branch %q: %w", opts.Branch, err)
		}
		log.Warn("branch updated without reflog entry", "err", err)
	}
	log.Info("committed", "commit", h, "parent", parent, "objects", txStats.ObjectsWritten)

	return &Result{
		Checksum:     h,
		Parent:       parent,
		RootTree:     contents,
		RootMetadata: rootMeta,
		Staged:       staged,
		Transaction:  txStats,
	}, nil
}

func stageTree(ctx context.Context, s *ingest.Stager, spec TreeSpec) error {
	switch spec.Kind {
	case TreeDir:
		return s.StageDirectory(ctx, spec.Value)
	case TreeTar:
		return s.StageArchive(ctx, spec.Value)
	case TreeRef:
		return s.StageRef(ctx, spec.Value)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTreeSpec, spec.Kind)
	}
}
