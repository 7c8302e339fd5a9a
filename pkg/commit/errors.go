package commit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odvcencio/arbor/pkg/ingest"
	"github.com/odvcencio/arbor/pkg/modifier"
	"github.com/odvcencio/arbor/pkg/mtree"
)

// Errors returned by Run, matched with errors.Is. Staging and store errors
// from collaborators are wrapped and passed through.
var (
	ErrMalformedStatOverride = modifier.ErrMalformedStatOverride
	ErrMissingRequiredOption = errors.New("missing required option")
	ErrInvalidTreeSpec       = errors.New("invalid tree spec")
	ErrMissingParent         = ingest.ErrMissingParent
	ErrMetadataConflict      = mtree.ErrMetadataConflict
	ErrNameConflict          = mtree.ErrNameConflict
	ErrUnmatchedStatOverride = errors.New("unmatched statoverride paths")
	ErrEmptyTree             = errors.New("empty tree: no directory was staged")
	ErrCancelled             = context.Canceled
)

// UnmatchedStatOverrideError lists stat-override paths that no staged entry
// matched.
type UnmatchedStatOverrideError struct {
	Paths []string
}

func (e *UnmatchedStatOverrideError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", ErrUnmatchedStatOverride, strings.Join(e.Paths, ", "))
}

func (e *UnmatchedStatOverrideError) Is(target error) bool {
	return target == ErrUnmatchedStatOverride
}
