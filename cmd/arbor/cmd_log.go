package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newLogCmd(opts *rootOptions) *cobra.Command {
	var oneline bool
	var limit int

	cmd := &cobra.Command{
		Use:   "log <branch|checksum>",
		Short: "Show commit history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := opts.openRepo(cmd)
			if err != nil {
				return err
			}
			start, err := r.ResolveRev(args[0], false)
			if err != nil {
				return err
			}
			entries, err := r.Log(start, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				c := e.Commit
				if oneline {
					fmt.Fprintf(out, "%s %s\n", shortHash(string(e.Hash)), c.Subject)
					continue
				}
				fmt.Fprintf(out, "commit %s\n", e.Hash)
				if c.Parent != "" {
					fmt.Fprintf(out, "Parent: %s\n", c.Parent)
				}
				fmt.Fprintf(out, "Date:   %s\n", time.Unix(c.Timestamp, 0).UTC().Format("2006-01-02 15:04:05 +0000"))
				fmt.Fprintln(out)
				fmt.Fprintf(out, "    %s\n", c.Subject)
				if c.Body != "" {
					fmt.Fprintln(out)
					for _, line := range strings.Split(strings.TrimRight(c.Body, "\n"), "\n") {
						fmt.Fprintf(out, "    %s\n", line)
					}
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&oneline, "oneline", false, "compact one-line format")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of commits to show (0 = all)")
	return cmd
}

func shortHash(h string) string {
	if len(h) > 10 {
		return h[:10]
	}
	return h
}
