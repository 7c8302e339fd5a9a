package main

import (
	"fmt"

	"github.com/odvcencio/arbor/pkg/repo"
	"github.com/spf13/cobra"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create an empty repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.repoPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				path = repo.DefaultDirName
			}

			r, err := repo.Init(path, mode)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized empty %s repository in %s\n", r.Config.Core.Mode, r.Path)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", repo.ModeBare, "object storage mode: bare or archive (zstd-compressed)")
	return cmd
}
