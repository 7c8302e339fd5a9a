package main

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/odvcencio/arbor/pkg/object"
	"github.com/odvcencio/arbor/pkg/repo"
	"github.com/spf13/cobra"
)

func newLsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <branch|checksum> [path]",
		Short: "List the tree of a commit with its metadata",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := opts.openRepo(cmd)
			if err != nil {
				return err
			}
			_, c, err := r.ReadCommit(args[0])
			if err != nil {
				return err
			}

			prefix := ""
			if len(args) == 2 {
				prefix = strings.Trim(path.Clean("/"+args[1]), "/")
			}

			out := cmd.OutOrStdout()
			if prefix == "" {
				m, err := r.Store.ReadDirMeta(c.RootMetadata)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %5d %5d /\n", formatMode(m.Mode), m.UID, m.GID)
			}

			entries, err := r.FlattenTree(c.RootTree)
			if err != nil {
				return err
			}
			matched := prefix == ""
			for _, e := range entries {
				if prefix != "" && e.Path != prefix && !strings.HasPrefix(e.Path, prefix+"/") {
					continue
				}
				matched = true
				if err := printEntry(out, r, e); err != nil {
					return err
				}
			}
			if !matched {
				return fmt.Errorf("ls: %s: no such path in %s", prefix, args[0])
			}
			return nil
		},
	}
}

func printEntry(out io.Writer, r *repo.Repo, e repo.TreeEntry) error {
	if e.IsDir {
		m, err := r.Store.ReadDirMeta(e.Meta)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %5d %5d /%s\n", formatMode(m.Mode), m.UID, m.GID, e.Path)
		return nil
	}
	hdr, size, rc, err := r.Store.OpenFile(e.Checksum)
	if err != nil {
		return err
	}
	rc.Close()
	line := fmt.Sprintf("%s %5d %5d %8d /%s", formatMode(hdr.Mode), hdr.UID, hdr.GID, size, e.Path)
	if hdr.IsSymlink() {
		line += " -> " + hdr.SymlinkTarget
	}
	fmt.Fprintln(out, line)
	return nil
}

// formatMode renders st_mode as a type letter followed by five octal digits,
// e.g. "d00755".
func formatMode(mode uint32) string {
	var t byte
	switch mode & object.ModeTypeMask {
	case object.ModeDir:
		t = 'd'
	case object.ModeSymlink:
		t = 'l'
	case object.ModeChar:
		t = 'c'
	case object.ModeBlock:
		t = 'b'
	case object.ModeFIFO:
		t = 'p'
	case object.ModeSocket:
		t = 's'
	default:
		t = '-'
	}
	return fmt.Sprintf("%c%05o", t, mode&0o7777)
}
