package modifier

// Verdict is the modifier's decision for one entry.
type Verdict int

const (
	Allow Verdict = iota
	// Skip drops the entry from the commit. Apply never returns it today.
	Skip
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// Stat is the rewritable part of an entry's metadata. Mode is a unix
// st_mode: file type bits plus permissions.
type Stat struct {
	UID  uint32
	GID  uint32
	Mode uint32
}

// Options configures a Modifier. Nil OwnerUID/OwnerGID leave ownership as
// observed.
type Options struct {
	OwnerUID    *uint32
	OwnerGID    *uint32
	StripXattrs bool
}

// Modifier rewrites entry metadata while a tree is staged. It borrows the
// stat-override table and consumes entries from it as paths match.
type Modifier struct {
	opts      Options
	overrides *StatOverride
}

// New returns a Modifier, or nil when neither opts nor overrides would
// change anything. Ingesters treat a nil Modifier as the identity.
func New(opts Options, overrides *StatOverride) *Modifier {
	if opts.OwnerUID == nil && opts.OwnerGID == nil && !opts.StripXattrs && overrides == nil {
		return nil
	}
	return &Modifier{opts: opts, overrides: overrides}
}

// Apply rewrites st for the entry at path (absolute within the tree, root
// is "/"). Ownership overrides come first, then the matching stat-override
// mask is ORed into the mode and its entry removed from the table.
func (m *Modifier) Apply(path string, st *Stat) Verdict {
	_, v := m.ApplyMask(path, st)
	return v
}

// ApplyMask is Apply that also returns the stat-override mask it consumed,
// or zero when none matched.
func (m *Modifier) ApplyMask(path string, st *Stat) (uint32, Verdict) {
	if m == nil {
		return 0, Allow
	}
	if m.opts.OwnerUID != nil {
		st.UID = *m.opts.OwnerUID
	}
	if m.opts.OwnerGID != nil {
		st.GID = *m.opts.OwnerGID
	}
	mask, ok := m.overrides.take(path)
	if ok {
		st.Mode |= mask
	}
	return mask, Allow
}

// SkipXattrs reports whether ingesters should drop extended attributes.
func (m *Modifier) SkipXattrs() bool {
	return m != nil && m.opts.StripXattrs
}

// Rewrites reports whether Apply can change anything, so callers that reuse
// stored objects know they must restage them.
func (m *Modifier) Rewrites() bool {
	return m != nil
}
