package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odvcencio/arbor/pkg/repo"
	"github.com/spf13/cobra"
)

const version = "0.1.0-dev"

type rootOptions struct {
	repoPath string
	verbose  bool
}

func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func (o *rootOptions) openRepo(cmd *cobra.Command) (*repo.Repo, error) {
	path := o.repoPath
	if path == "" {
		path = "."
	}
	r, err := repo.Open(path)
	if err != nil {
		return nil, err
	}
	r.SetLogger(o.logger(cmd))
	return r, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "arbor",
		Short:         "Commit filesystem trees into a content-addressed store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.repoPath, "repo", os.Getenv("ARBOR_REPO"), "repository path (default $ARBOR_REPO, else the nearest "+repo.DefaultDirName+")")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(opts))
	root.AddCommand(newCommitCmd(opts))
	root.AddCommand(newLogCmd(opts))
	root.AddCommand(newLsCmd(opts))
	root.AddCommand(newBranchCmd(opts))
	root.AddCommand(newReflogCmd(opts))
	root.AddCommand(newVerifyCmd(opts))
	root.AddCommand(newCleanupCmd(opts))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "arbor %s\n", version)
		},
	}
}
