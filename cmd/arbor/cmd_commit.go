package main

import (
	"fmt"
	"math"

	"github.com/odvcencio/arbor/pkg/commit"
	"github.com/spf13/cobra"
)

func newCommitCmd(opts *rootOptions) *cobra.Command {
	var (
		subject, body, branch string
		trees                 []string
		ownerUID, ownerGID    int64
		statOverride          string
		flags                 commit.Options
	)

	cmd := &cobra.Command{
		Use:   "commit [path]",
		Short: "Commit one or more trees to a branch",
		Long: `Stage the given trees in order, later trees overlaying earlier ones, and
record the result as a new commit on the branch. Without --tree the
positional path (default: the current directory) is committed.

Prints the new commit checksum on success.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := opts.openRepo(cmd)
			if err != nil {
				return err
			}
			log := opts.logger(cmd)

			o := flags
			o.Subject = subject
			o.Body = body
			o.Branch = branch
			o.StatOverrideFile = statOverride
			o.Stderr = cmd.ErrOrStderr()
			o.Logger = log
			for _, raw := range trees {
				spec, err := commit.ParseTreeSpec(raw)
				if err != nil {
					return err
				}
				o.Trees = append(o.Trees, spec)
			}
			if len(args) == 1 {
				if len(o.Trees) > 0 {
					log.Warn("ignoring positional path because --tree was given", "path", args[0])
				} else {
					o.Path = args[0]
				}
			}
			if o.OwnerUID, err = idFlag(cmd, "owner-uid", ownerUID); err != nil {
				return err
			}
			if o.OwnerGID, err = idFlag(cmd, "owner-gid", ownerGID); err != nil {
				return err
			}

			res, err := commit.Run(cmd.Context(), r, o)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Checksum)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&subject, "subject", "s", "", "one-line commit subject (required)")
	f.StringVarP(&body, "body", "m", "", "full commit description")
	f.StringVarP(&branch, "branch", "b", "", "branch to commit to (required)")
	f.StringArrayVar(&trees, "tree", nil, "input tree as dir=PATH, tar=ARCHIVE or ref=BRANCH|CHECKSUM (repeatable)")
	f.Int64Var(&ownerUID, "owner-uid", -1, "set the uid of every entry")
	f.Int64Var(&ownerGID, "owner-gid", -1, "set the gid of every entry")
	f.BoolVar(&flags.NoXattrs, "no-xattrs", false, "do not import extended attributes")
	f.BoolVar(&flags.LinkCheckoutSpeedup, "link-checkout-speedup", false, "reuse checksums of unchanged files via the device/inode cache")
	f.BoolVar(&flags.TarAutocreateParents, "tar-autocreate-parents", false, "create missing parent directories in tar input")
	f.BoolVar(&flags.SkipIfUnchanged, "skip-if-unchanged", false, "do not commit if the tree equals the parent's")
	f.StringVar(&statOverride, "statoverride", "", "file of \"+MODE PATH\" lines OR-ed into entry modes")
	return cmd
}

func idFlag(cmd *cobra.Command, name string, v int64) (*uint32, error) {
	if !cmd.Flags().Changed(name) {
		return nil, nil
	}
	if v < 0 || v > math.MaxUint32 {
		return nil, fmt.Errorf("invalid --%s %d: must be between 0 and %d", name, v, uint32(math.MaxUint32))
	}
	id := uint32(v)
	return &id, nil
}
