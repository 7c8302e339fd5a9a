package repo

import (
	"log/slog"

	"github.com/odvcencio/arbor/pkg/object"
)

// DefaultDirName is the repository directory Open looks for when it is not
// handed a repository path directly.
const DefaultDirName = ".arbor"

// Repo represents an opened arbor repository.
type Repo struct {
	Path   string        // repository directory holding config, objects/ and refs/
	Store  *object.Store // content-addressed object store
	Config *Config

	logger *slog.Logger
	txn    *transaction
}

// SetLogger routes repository diagnostics to l. A nil logger discards them.
func (r *Repo) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	r.logger = l
}

func (r *Repo) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

func (r *Repo) applyConfig() {
	if r.Config == nil {
		return
	}
	r.Store.SetCompression(r.Config.Core.Mode == ModeArchive, r.Config.Core.CompressionLevel)
}
