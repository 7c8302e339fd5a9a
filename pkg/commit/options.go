package commit

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/odvcencio/arbor/pkg/repo"
)

// TreeKind selects how a TreeSpec is staged.
type TreeKind string

const (
	TreeDir TreeKind = "dir"
	TreeTar TreeKind = "tar"
	TreeRef TreeKind = "ref"
)

// TreeSpec is one input tree: a directory path, an archive path, or a
// branch name / commit checksum.
type TreeSpec struct {
	Kind  TreeKind
	Value string
}

func (t TreeSpec) String() string {
	return string(t.Kind) + "=" + t.Value
}

// ParseTreeSpec parses "KIND=VALUE".
func ParseTreeSpec(s string) (TreeSpec, error) {
	kind, value, ok := strings.Cut(s, "=")
	if !ok {
		return TreeSpec{}, fmt.Errorf("%w: %q: expected KIND=VALUE", ErrInvalidTreeSpec, s)
	}
	switch TreeKind(kind) {
	case TreeDir, TreeTar, TreeRef:
	default:
		return TreeSpec{}, fmt.Errorf("%w: %q: unknown kind %q (want dir, tar or ref)", ErrInvalidTreeSpec, s, kind)
	}
	if value == "" {
		return TreeSpec{}, fmt.Errorf("%w: %q: empty value", ErrInvalidTreeSpec, s)
	}
	return TreeSpec{Kind: TreeKind(kind), Value: value}, nil
}

// Options describes one commit.
type Options struct {
	Branch  string // required
	Subject string // required
	Body    string

	// Trees are staged in order, later trees overlaying earlier ones.
	// When empty, Path is staged as a directory; an empty Path means the
	// current directory.
	Trees []TreeSpec
	Path  string

	OwnerUID *uint32
	OwnerGID *uint32
	NoXattrs bool

	LinkCheckoutSpeedup  bool
	TarAutocreateParents bool
	SkipIfUnchanged      bool

	// StatOverrideFile names a file of "+<octal-mode> <path>" lines.
	StatOverrideFile string

	// Timestamp of the commit; zero means now.
	Timestamp time.Time

	// Stderr receives one line per unmatched stat-override path. Nil
	// discards them.
	Stderr io.Writer
	Logger *slog.Logger
}

func (o *Options) validate() error {
	if strings.TrimSpace(o.Subject) == "" {
		return fmt.Errorf("%w: subject", ErrMissingRequiredOption)
	}
	if o.Branch == "" {
		return fmt.Errorf("%w: branch", ErrMissingRequiredOption)
	}
	if err := repo.ValidateBranchName(o.Branch); err != nil {
		return err
	}
	for _, t := range o.Trees {
		switch t.Kind {
		case TreeDir, TreeTar, TreeRef:
		default:
			return fmt.Errorf("%w: unknown kind %q", ErrInvalidTreeSpec, t.Kind)
		}
	}
	return nil
}

func (o *Options) trees() []TreeSpec {
	if len(o.Trees) > 0 {
		return o.Trees
	}
	p := o.Path
	if p == "" {
		p = "."
	}
	return []TreeSpec{{Kind: TreeDir, Value: p}}
}

func (o *Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

func (o *Options) stderr() io.Writer {
	if o.Stderr == nil {
		return io.Discard
	}
	return o.Stderr
}
