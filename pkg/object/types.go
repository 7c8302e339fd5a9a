package object

// Hash is a 64-character hex-encoded SHA-256 digest.
type Hash string

// ObjectType identifies the kind of object stored.
type ObjectType string

const (
	TypeFile    ObjectType = "file"
	TypeDirTree ObjectType = "dirtree"
	TypeDirMeta ObjectType = "dirmeta"
	TypeCommit  ObjectType = "commit"
)

// Unix st_mode file type bits. Modes recorded in objects always carry the
// type bits alongside the permission bits.
const (
	ModeTypeMask uint32 = 0o170000
	ModeSocket   uint32 = 0o140000
	ModeSymlink  uint32 = 0o120000
	ModeRegular  uint32 = 0o100000
	ModeBlock    uint32 = 0o060000
	ModeDir      uint32 = 0o040000
	ModeChar     uint32 = 0o020000
	ModeFIFO     uint32 = 0o010000
)

// Xattr is a single extended attribute.
type Xattr struct {
	Name  string `cbor:"1,keyasint"`
	Value []byte `cbor:"2,keyasint"`
}

// FileHeader is the canonical metadata of a file object. The content that
// follows it in the object payload is the raw file bytes for regular files
// and empty for everything else.
type FileHeader struct {
	UID           uint32  `cbor:"1,keyasint"`
	GID           uint32  `cbor:"2,keyasint"`
	Mode          uint32  `cbor:"3,keyasint"`
	Rdev          uint64  `cbor:"4,keyasint,omitempty"`
	SymlinkTarget string  `cbor:"5,keyasint,omitempty"`
	Xattrs        []Xattr `cbor:"6,keyasint,omitempty"`
}

// IsSymlink reports whether the header describes a symbolic link.
func (h *FileHeader) IsSymlink() bool {
	return h.Mode&ModeTypeMask == ModeSymlink
}

// IsRegular reports whether the header describes a regular file.
func (h *FileHeader) IsRegular() bool {
	return h.Mode&ModeTypeMask == ModeRegular
}

// DirMeta is the metadata of a directory, independent of its contents.
type DirMeta struct {
	UID    uint32  `cbor:"1,keyasint"`
	GID    uint32  `cbor:"2,keyasint"`
	Mode   uint32  `cbor:"3,keyasint"`
	Xattrs []Xattr `cbor:"4,keyasint,omitempty"`
}

// TreeFile names a file object inside a dirtree.
type TreeFile struct {
	Name     string `cbor:"1,keyasint"`
	Checksum Hash   `cbor:"2,keyasint"`
}

// TreeDir names a subdirectory inside a dirtree by its contents and
// metadata checksums.
type TreeDir struct {
	Name         string `cbor:"1,keyasint"`
	TreeChecksum Hash   `cbor:"2,keyasint"`
	MetaChecksum Hash   `cbor:"3,keyasint"`
}

// DirTree holds the contents of a directory. Both sections are sorted by
// Name when serialized.
type DirTree struct {
	Files []TreeFile `cbor:"1,keyasint"`
	Dirs  []TreeDir  `cbor:"2,keyasint"`
}

// CommitObj records a root tree together with its parent and message.
type CommitObj struct {
	Parent       Hash   `cbor:"1,keyasint,omitempty"`
	Subject      string `cbor:"2,keyasint"`
	Body         string `cbor:"3,keyasint,omitempty"`
	Timestamp    int64  `cbor:"4,keyasint"`
	RootTree     Hash   `cbor:"5,keyasint"`
	RootMetadata Hash   `cbor:"6,keyasint"`
}
